package cache

import (
	calldomain "github.com/smallbiznis/answerline/internal/call/domain"
	"go.uber.org/fx"
)

var Module = fx.Module("cache",
	fx.Provide(NewBusinessResolver),
	fx.Provide(func(r *BusinessResolver) calldomain.BusinessResolver { return r }),
)
