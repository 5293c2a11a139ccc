package cache

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	businessdomain "github.com/smallbiznis/answerline/internal/business/domain"
	calldomain "github.com/smallbiznis/answerline/internal/call/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
)

const defaultBusinessTTL = 5 * time.Minute

// BusinessResolver caches agent and number lookups on the webhook hot path.
// Misses are not cached so a newly onboarded business resolves immediately.
type BusinessResolver struct {
	db    *gorm.DB
	log   *zap.Logger
	repo  businessdomain.Repository
	ids   Cache[string, snowflake.ID]
	group singleflight.Group
	ttl   time.Duration
}

type BusinessResolverParam struct {
	fx.In

	DB   *gorm.DB
	Log  *zap.Logger
	Repo businessdomain.Repository
}

func NewBusinessResolver(p BusinessResolverParam) *BusinessResolver {
	return &BusinessResolver{
		db:   p.DB,
		log:  p.Log.Named("cache.business_resolver"),
		repo: p.Repo,
		ids:  NewTTLCache[string, snowflake.ID](),
		ttl:  defaultBusinessTTL,
	}
}

func (r *BusinessResolver) Resolve(ctx context.Context, agentID, toNumber string) (snowflake.ID, error) {
	agentID = strings.TrimSpace(agentID)
	if agentID != "" {
		id, err := r.lookup(ctx, cacheKey("agent", agentID), func() (*businessdomain.Business, error) {
			return r.repo.FindByVoiceAgentID(ctx, r.db, agentID)
		})
		if err != nil || id != 0 {
			return id, err
		}
	}

	if strings.TrimSpace(toNumber) != "" {
		number, err := businessdomain.NormalizePhoneNumber(toNumber)
		if err == nil {
			id, err := r.lookup(ctx, cacheKey("number", number), func() (*businessdomain.Business, error) {
				return r.repo.FindByPhoneNumber(ctx, r.db, number)
			})
			if err != nil || id != 0 {
				return id, err
			}
		}
	}

	r.log.Debug("business not resolved",
		zap.String("agent_id", agentID),
	)
	return 0, calldomain.ErrBusinessUnknown
}

func (r *BusinessResolver) lookup(ctx context.Context, key string, find func() (*businessdomain.Business, error)) (snowflake.ID, error) {
	if id, ok := r.ids.Get(key); ok {
		return id, nil
	}

	value, err, _ := r.group.Do(key, func() (any, error) {
		business, err := find()
		if err != nil {
			return snowflake.ID(0), err
		}
		if business == nil {
			return snowflake.ID(0), nil
		}
		r.ids.Set(key, business.ID, r.ttl)
		return business.ID, nil
	})
	if err != nil {
		return 0, err
	}
	return value.(snowflake.ID), nil
}

func cacheKey(parts ...string) string {
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		values = append(values, trimmed)
	}
	return strings.Join(values, "|")
}
