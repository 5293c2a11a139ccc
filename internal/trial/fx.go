package trial

import (
	"github.com/smallbiznis/answerline/internal/trial/service"
	"go.uber.org/fx"
)

var Module = fx.Module("trial.service",
	fx.Provide(service.NewService),
)
