package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/betbot/pairbot/internal/journal"
	"github.com/betbot/pairbot/internal/ledger"
	"github.com/betbot/pairbot/internal/strategies/pairhedge"
)

var log = logrus.WithField("component", "controlplane")

// PositionSource 当前活跃市场的仓位快照
type PositionSource func() []pairhedge.PositionSnapshot

type Config struct {
	Ledger        *ledger.Ledger
	Journal       *journal.Journal
	Positions     PositionSource
	DrawdownLimit float64
}

// Server 只读 HTTP API：账本统计、回撤、仓位、下单流水
type Server struct {
	cfg Config
}

func New(cfg Config) (*Server, error) {
	if cfg.Ledger == nil {
		return nil, errors.New("ledger is required")
	}
	if cfg.Positions == nil {
		cfg.Positions = func() []pairhedge.PositionSnapshot { return nil }
	}
	return &Server{cfg: cfg}, nil
}

func (s *Server) Router() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	api := r.Group("/api")
	api.GET("/stats", s.handleStats)
	api.GET("/stats/:coin", s.handleCoinStats)
	api.GET("/drawdown", s.handleDrawdown)
	api.GET("/positions", s.handlePositions)
	api.GET("/orders", s.handleOrders)
	api.GET("/transitions/:market", s.handleTransitions)

	return r
}

// StartAsync 非阻塞启动，ctx.Done() 时优雅关闭
func (s *Server) StartAsync(ctx context.Context, listenAddr string) (*http.Server, error) {
	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return nil, err
	}
	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("control plane 退出: %v", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	log.WithField("addr", listenAddr).Info("control plane 已启动")
	return srv, nil
}
