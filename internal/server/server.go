package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	compdomain "github.com/fieldline/fieldline/internal/compensation/domain"
	"github.com/fieldline/fieldline/internal/config"
	dispatchdomain "github.com/fieldline/fieldline/internal/dispatch/domain"
	healthdomain "github.com/fieldline/fieldline/internal/health/domain"
	ledgerdomain "github.com/fieldline/fieldline/internal/ledger/domain"
	packdomain "github.com/fieldline/fieldline/internal/pack/domain"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Provide(NewServer),
	fx.Invoke(RegisterRoutes),
	fx.Invoke(run),
)

func NewEngine(cfg config.Config, log *zap.Logger) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLogMiddleware(log))
	r.Use(TenantContextMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(cfg config.Config, log *zap.Logger) *gin.Engine {
	return NewEngine(cfg, log)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
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
	engine      *gin.Engine
	cfg         config.Config
	log         *zap.Logger
	genID       *snowflake.Node
	ledgerSvc   ledgerdomain.Service
	packSvc     packdomain.Service
	compSvc     compdomain.Service
	healthSvc   healthdomain.Service
	dispatchSvc dispatchdomain.Service
}

type Params struct {
	fx.In

	Gin         *gin.Engine
	Cfg         config.Config
	Log         *zap.Logger
	GenID       *snowflake.Node
	LedgerSvc   ledgerdomain.Service
	PackSvc     packdomain.Service
	CompSvc     compdomain.Service
	HealthSvc   healthdomain.Service
	DispatchSvc dispatchdomain.Service
}

func NewServer(p Params) *Server {
	return &Server{
		engine:      p.Gin,
		cfg:         p.Cfg,
		log:         p.Log.Named("server"),
		genID:       p.GenID,
		ledgerSvc:   p.LedgerSvc,
		packSvc:     p.PackSvc,
		compSvc:     p.CompSvc,
		healthSvc:   p.HealthSvc,
		dispatchSvc: p.DispatchSvc,
	}
}

func RegisterRoutes(s *Server) {
	v1 := s.engine.Group("/v1/billing")
	{
		v1.GET("/health", s.GetBillingHealth)
		v1.GET("/quota", s.GetQuota)
		v1.GET("/reservations/:reservation_id", s.GetReservation)
		v1.GET("/compensations", s.ListCompensations)
		v1.POST("/compensations/:reservation_id/resolve", s.ResolveCompensation)
		v1.POST("/actions", s.DispatchAction)
	}
}
