package call

import (
	"github.com/smallbiznis/answerline/internal/call/repository"
	"github.com/smallbiznis/answerline/internal/call/service"
	"go.uber.org/fx"
)

var Module = fx.Module("call.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewRecorder),
)
