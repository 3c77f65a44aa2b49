package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/tableside/internal/audit"
	auditdomain "github.com/smallbiznis/tableside/internal/audit/domain"
	"github.com/smallbiznis/tableside/internal/auth"
	"github.com/smallbiznis/tableside/internal/auth/token"
	"github.com/smallbiznis/tableside/internal/authorization"
	"github.com/smallbiznis/tableside/internal/config"
	"github.com/smallbiznis/tableside/internal/notification"
	"github.com/smallbiznis/tableside/internal/observability"
	obslogger "github.com/smallbiznis/tableside/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/tableside/internal/observability/metrics"
	obstracing "github.com/smallbiznis/tableside/internal/observability/tracing"
	"github.com/smallbiznis/tableside/internal/order"
	orderdomain "github.com/smallbiznis/tableside/internal/order/domain"
	"github.com/smallbiznis/tableside/internal/push"
	pushdomain "github.com/smallbiznis/tableside/internal/push/domain"
	"github.com/smallbiznis/tableside/internal/ratelimit"
	"github.com/smallbiznis/tableside/internal/realtime"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	authorization.Module,
	audit.Module,
	auth.Module,
	ratelimit.Module,
	order.Module,
	realtime.Module,
	push.Module,
	notification.Module,
	fx.Provide(NewEngine),
	fx.Provide(NewServer),
	fx.Invoke(func(s *Server) { s.RegisterRoutes() }),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, cfg config.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(cors.New(cors.Config{
		AllowOriginFunc:  cfg.OriginAllowed,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Request-Id"},
		ExposeHeaders:    []string{"X-Request-Id", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
	r.Use(obslogger.GinMiddleware(obslogger.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(httpMetrics.Middleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
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
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type ServerParams struct {
	fx.In

	Engine     *gin.Engine
	Config     config.Config
	Log        *zap.Logger
	Verifier   *token.Verifier
	Authz      authorization.Service
	AuditSvc   auditdomain.Service
	OrderSvc   orderdomain.Service
	DeviceSvc  pushdomain.Service
	Gateway    *realtime.Gateway
	Guard      *ratelimit.OrderGuard `optional:"true"`
	ObsMetrics *obsmetrics.Metrics   `optional:"true"`
}

type Server struct {
	engine     *gin.Engine
	cfg        config.Config
	log        *zap.Logger
	verifier   *token.Verifier
	authzSvc   authorization.Service
	auditSvc   auditdomain.Service
	orderSvc   orderdomain.Service
	deviceSvc  pushdomain.Service
	gateway    *realtime.Gateway
	guard      *ratelimit.OrderGuard
	obsMetrics *obsmetrics.Metrics
}

func NewServer(p ServerParams) *Server {
	return &Server{
		engine:     p.Engine,
		cfg:        p.Config,
		log:        p.Log.Named("http.server"),
		verifier:   p.Verifier,
		authzSvc:   p.Authz,
		auditSvc:   p.AuditSvc,
		orderSvc:   p.OrderSvc,
		deviceSvc:  p.DeviceSvc,
		gateway:    p.Gateway,
		guard:      p.Guard,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Server) RegisterRoutes() {
	api := s.engine.Group("/api/v1")
	api.Use(s.AuthRequired())

	orders := api.Group("/orders")
	orders.POST("", s.PlacementRateLimit(), s.CreateOrder)
	orders.GET("", s.ListActiveOrders)
	orders.GET("/:id", s.GetOrder)
	orders.POST("/:id/approve", s.ApproveOrder)
	orders.POST("/:id/reject", s.RejectOrder)
	orders.POST("/:id/advance", s.AdvanceOrder)
	orders.POST("/:id/cancel", s.CancelOrder)
	orders.POST("/:id/pay", s.PayOrder)

	api.GET("/devices", s.ListDevices)
	api.POST("/devices", s.RegisterDevice)
	api.DELETE("/devices/:token", s.UnregisterDevice)

	api.GET("/audit-logs", s.ListAuditLogs)

	api.GET("/ws", s.ServeWebSocket)
}

// Handler exposes the engine for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}
