package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/fatflowers/billing/internal/app/api/handlers"
	mw "github.com/fatflowers/billing/internal/app/api/middleware"
	"github.com/fatflowers/billing/internal/app/service/webhook"
	cfgpkg "github.com/fatflowers/billing/pkg/config"
	"github.com/fatflowers/billing/pkg/metrics"
)

func newEngine() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	// Add request tracing middleware only; request logger & access log are attached per group in registerRoutes
	r.Use(mw.TraceMiddleware())
	return r
}

func registerRoutes(lc fx.Lifecycle, r *gin.Engine, log *zap.SugaredLogger, cfg *cfgpkg.Config, gate *webhook.Gate, subs *handlers.SubscriptionHandler) {
	p := metrics.NewPrometheus(metrics.NewPrometheusOptions{
		ListenAddress: cfg.MetricsAddr,
		Logger:        log,
	})
	p.Use(r)
	lc.Append(fx.Hook{OnStop: func(context.Context) error { return p.Close() }})
	log.Infow("metrics started", "addr", cfg.MetricsAddr)

	pub := r.Group("/")
	pub.Use(mw.RequestLoggerMiddleware(log), mw.AccessLogMiddleware())
	handlers.RegisterHealthRoutes(pub)

	apiV1 := r.Group("/api/v1")
	apiV1.Use(mw.RequestLoggerMiddleware(log), mw.AccessLogMiddleware())
	handlers.RegisterWebhookRoutes(apiV1, gate, log)
	handlers.RegisterSubscriptionRoutes(apiV1, subs)
}

func runServer(lc fx.Lifecycle, log *zap.SugaredLogger, cfg *cfgpkg.Config, r *gin.Engine) {
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 5 * time.Second}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Infow("starting HTTP server", "addr", addr)
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Errorf("server error: %v", err)
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Infow("stopping HTTP server")
			shutdownCtx, cancel := context.WithTimeout(ctx, 120*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

var Module = fx.Options(
	fx.Provide(newEngine),
	fx.Provide(handlers.NewSubscriptionHandler),
	fx.Invoke(registerRoutes),
	fx.Invoke(runServer),
)
