package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/answerline/internal/business"
	"github.com/smallbiznis/answerline/internal/cache"
	"github.com/smallbiznis/answerline/internal/call"
	calldomain "github.com/smallbiznis/answerline/internal/call/domain"
	"github.com/smallbiznis/answerline/internal/config"
	"github.com/smallbiznis/answerline/internal/lock"
	"github.com/smallbiznis/answerline/internal/metering"
	"github.com/smallbiznis/answerline/internal/observability"
	obsmiddleware "github.com/smallbiznis/answerline/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/answerline/internal/observability/metrics"
	obstracing "github.com/smallbiznis/answerline/internal/observability/tracing"
	"github.com/smallbiznis/answerline/internal/plan"
	"github.com/smallbiznis/answerline/internal/providers"
	"github.com/smallbiznis/answerline/internal/providers/billing"
	"github.com/smallbiznis/answerline/internal/providers/telephony"
	"github.com/smallbiznis/answerline/internal/subscription"
	subscriptiondomain "github.com/smallbiznis/answerline/internal/subscription/domain"
	"github.com/smallbiznis/answerline/internal/trial"
	trialdomain "github.com/smallbiznis/answerline/internal/trial/domain"
	"github.com/smallbiznis/answerline/internal/usage"
	usagedomain "github.com/smallbiznis/answerline/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// maxWebhookBody caps webhook payloads read into memory.
const maxWebhookBody = 1 << 20

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	DomainModules,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

// DomainModules wires every service behind the HTTP surface. The scheduler
// binary reuses it without the server.
var DomainModules = fx.Options(
	plan.Module,
	lock.Module,
	business.Module,
	cache.Module,
	usage.Module,
	subscription.Module,
	metering.Module,
	call.Module,
	trial.Module,
	providers.Module,
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(httpMetrics.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Info("http server listening", zap.String("addr", srv.Addr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine *gin.Engine
	cfg    config.Config
	log    *zap.Logger

	recorder          calldomain.Recorder
	telephonyVerifier *telephony.Verifier
	billingWebhooks   *billing.WebhookParser
	subscriptionSvc   subscriptiondomain.Service
	trialSvc          trialdomain.Service
	usagesvc          usagedomain.Service
	obsMetrics        *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin               *gin.Engine
	Cfg               config.Config
	Log               *zap.Logger
	Recorder          calldomain.Recorder
	TelephonyVerifier *telephony.Verifier
	BillingWebhooks   *billing.WebhookParser
	SubscriptionSvc   subscriptiondomain.Service
	TrialSvc          trialdomain.Service
	Usagesvc          usagedomain.Service
	ObsMetrics        *obsmetrics.Metrics `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	metrics := p.ObsMetrics
	if metrics == nil {
		metrics = obsmetrics.NewNop()
	}
	svc := &Server{
		engine:            p.Gin,
		cfg:               p.Cfg,
		log:               p.Log.Named("http"),
		recorder:          p.Recorder,
		telephonyVerifier: p.TelephonyVerifier,
		billingWebhooks:   p.BillingWebhooks,
		subscriptionSvc:   p.SubscriptionSvc,
		trialSvc:          p.TrialSvc,
		usagesvc:          p.Usagesvc,
		obsMetrics:        metrics,
	}

	svc.registerWebhookRoutes()
	svc.registerAPIRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerWebhookRoutes() {
	webhooks := s.engine.Group("/webhooks")

	webhooks.POST("/telephony", s.HandleTelephonyWebhook)
	webhooks.POST("/billing", s.HandleBillingWebhook)
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api")

	// -------- Trials --------
	api.POST("/trials", s.StartTrial)

	// -------- Businesses --------
	api.GET("/businesses/:id/trial", s.GetTrialStatus)
	api.GET("/businesses/:id/usage", s.GetUsageSummary)
}
