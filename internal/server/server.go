package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/glacestorm/crmalerts/internal/config"
	"github.com/glacestorm/crmalerts/internal/directory"
	"github.com/glacestorm/crmalerts/internal/escalation"
	escalationdomain "github.com/glacestorm/crmalerts/internal/escalation/domain"
	"github.com/glacestorm/crmalerts/internal/goalrisk"
	goalriskdomain "github.com/glacestorm/crmalerts/internal/goalrisk/domain"
	"github.com/glacestorm/crmalerts/internal/notification"
	"github.com/glacestorm/crmalerts/internal/observability"
	obslogger "github.com/glacestorm/crmalerts/internal/observability/logger"
	obsmetrics "github.com/glacestorm/crmalerts/internal/observability/metrics"
	obstracing "github.com/glacestorm/crmalerts/internal/observability/tracing"
	"github.com/glacestorm/crmalerts/internal/webhook"
	webhookdomain "github.com/glacestorm/crmalerts/internal/webhook/domain"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	directory.Module,
	notification.Module,
	goalrisk.Module,
	escalation.Module,
	webhook.Module,
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, log *zap.Logger) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(log, obslogger.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(CORS())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, log *zap.Logger) *gin.Engine {
	return NewEngine(obsCfg, log)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", srv.Addr)
			if err != nil {
				return err
			}
			log.Info("http server listening", zap.String("addr", ln.Addr().String()))
			go func() {
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("http server stopped", zap.Error(err))
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
	engine        *gin.Engine
	cfg           config.Config
	log           *zap.Logger
	goalRiskSvc   goalriskdomain.Service
	escalationSvc escalationdomain.Service
	dispatchSvc   webhookdomain.Service
	obsMetrics    *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin           *gin.Engine
	Cfg           config.Config
	Log           *zap.Logger
	GoalRiskSvc   goalriskdomain.Service
	EscalationSvc escalationdomain.Service
	DispatchSvc   webhookdomain.Service
	ObsMetrics    *obsmetrics.Metrics `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:        p.Gin,
		cfg:           p.Cfg,
		log:           p.Log.Named("http"),
		goalRiskSvc:   p.GoalRiskSvc,
		escalationSvc: p.EscalationSvc,
		dispatchSvc:   p.DispatchSvc,
		obsMetrics:    p.ObsMetrics,
	}

	svc.registerFunctionRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerFunctionRoutes() {
	functions := s.engine.Group("/functions")

	functions.POST("/goal-risk-monitor", s.Function("goal-risk-monitor"), s.FunctionAuthRequired(), s.RunGoalRiskMonitor)
	functions.POST("/escalate-alerts", s.Function("escalate-alerts"), s.FunctionAuthRequired(), s.RunAlertEscalation)
	functions.POST("/dispatch-webhook", s.Function("dispatch-webhook"), s.FunctionAuthRequired(), s.DispatchWebhook)
}
