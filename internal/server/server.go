// Package server exposes the HTTP API: usage ingestion, wallet reads,
// pet interaction and the paid recovery actions.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pawselabs/pawse/internal/config"
	"github.com/pawselabs/pawse/internal/economy"
	economydomain "github.com/pawselabs/pawse/internal/economy/domain"
	"github.com/pawselabs/pawse/internal/lock"
	"github.com/pawselabs/pawse/internal/pet"
	petdomain "github.com/pawselabs/pawse/internal/pet/domain"
	"github.com/pawselabs/pawse/internal/recovery"
	recoverydomain "github.com/pawselabs/pawse/internal/recovery/domain"
	"github.com/pawselabs/pawse/internal/usage"
	usagedomain "github.com/pawselabs/pawse/internal/usage/domain"
	"github.com/pawselabs/pawse/internal/wallet"
	walletdomain "github.com/pawselabs/pawse/internal/wallet/domain"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	lock.Module,
	wallet.Module,
	usage.Module,
	economy.Module,
	pet.Module,
	recovery.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(log *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogMiddleware(log))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(log *zap.Logger) *gin.Engine {
	return NewEngine(log)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
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
	usageSvc    usagedomain.Service
	walletSvc   walletdomain.Service
	economySvc  economydomain.Service
	petSvc      petdomain.Service
	recoverySvc recoverydomain.Service
}

type ServerParams struct {
	fx.In

	Engine      *gin.Engine
	UsageSvc    usagedomain.Service
	WalletSvc   walletdomain.Service
	EconomySvc  economydomain.Service
	PetSvc      petdomain.Service
	RecoverySvc recoverydomain.Service
}

func NewServer(p ServerParams) *Server {
	s := &Server{
		engine:      p.Engine,
		usageSvc:    p.UsageSvc,
		walletSvc:   p.WalletSvc,
		economySvc:  p.EconomySvc,
		petSvc:      p.PetSvc,
		recoverySvc: p.RecoverySvc,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	v1 := s.engine.Group("/v1")
	users := v1.Group("/users/:user_id")

	users.POST("/usage", s.submitUsage)
	users.GET("/usage", s.getUsage)
	users.DELETE("/usage", s.resetUsage)
	users.PUT("/goal", s.setGoal)
	users.GET("/goal", s.getGoal)

	users.GET("/wallet", s.getWallet)
	users.GET("/ledger", s.listLedgerEntries)

	users.GET("/energy/preview", s.previewEnergy)
	users.GET("/stats", s.listDailyStats)

	users.GET("/pet", s.getPet)
	users.POST("/pet/feed", s.feedPet)
	users.GET("/memorials", s.listMemorials)

	users.POST("/recovery/cure", s.cure)
	users.POST("/recovery/revive", s.revive)
	users.POST("/recovery/restart", s.restart)
}
