package usage

import (
	"github.com/smallbiznis/answerline/internal/usage/domain"
	"github.com/smallbiznis/answerline/internal/usage/repository"
	"github.com/smallbiznis/answerline/internal/usage/service"
	"go.uber.org/fx"
)

var Module = fx.Module("usage.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
	fx.Provide(func(svc domain.Service) domain.Accumulator { return svc }),
)
