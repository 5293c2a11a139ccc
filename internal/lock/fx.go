package lock

import (
	"context"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/answerline/internal/clock"
	"github.com/smallbiznis/answerline/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("lock",
	fx.Provide(NewLocker),
)

type Params struct {
	fx.In

	Lc    fx.Lifecycle
	Cfg   config.Config
	DB    *gorm.DB
	Clock clock.Clock
	Log   *zap.Logger
}

// NewLocker prefers redis when configured and falls back to datastore leases.
func NewLocker(p Params) Locker {
	log := p.Log.Named("lock")
	if !p.Cfg.Redis.Enabled() {
		log.Info("using datastore leases")
		return NewDBLocker(p.DB, p.Clock)
	}

	client := redis.NewClient(&redis.Options{
		Addr:     p.Cfg.Redis.Addr,
		Password: p.Cfg.Redis.Password,
		DB:       p.Cfg.Redis.DB,
	})
	p.Lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		},
		OnStop: func(ctx context.Context) error {
			return client.Close()
		},
	})
	log.Info("using redis leases", zap.String("addr", p.Cfg.Redis.Addr))
	return NewRedisLocker(client)
}
