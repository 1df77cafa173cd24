// Package ops exposes the read-only operational HTTP surface: health,
// position and P&L snapshots, kill switch state, metrics, and a shutdown
// trigger. It presents state the core owns; it never drives trading.
package ops

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"ordercore/internal/gate"
	"ordercore/internal/logger"
	"ordercore/internal/pnl"
	"ordercore/internal/risk"
	"ordercore/internal/types"
)

type Server struct {
	addr   string
	router *gin.Engine
}

type ServerConfig struct {
	Addr string
	PnL  *pnl.Engine
	Gate *gate.ShutdownGate
	Kill *risk.KillSwitch
}

func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.PnL == nil || cfg.Gate == nil {
		return nil, errors.New("ops server requires pnl engine and shutdown gate")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8710"
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "shutting_down": cfg.Gate.ShuttingDown()})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")
	api.GET("/positions", func(c *gin.Context) {
		out := make([]gin.H, 0)
		for _, scope := range cfg.PnL.Scopes() {
			net := cfg.PnL.NetQty(scope)
			if net.IsZero() {
				continue
			}
			out = append(out, gin.H{"scope": scope, "net_qty": net, "lots": cfg.PnL.Lots(scope)})
		}
		c.JSON(http.StatusOK, out)
	})
	api.GET("/pnl", func(c *gin.Context) {
		scope := types.ScopeKey{
			TenantID:   c.Query("tenant_id"),
			UID:        c.Query("uid"),
			StrategyID: c.Query("strategy_id"),
			Symbol:     c.Query("symbol"),
		}
		mark, err := decimal.NewFromString(c.Query("mark"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "mark must be a decimal price"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"scope":      scope,
			"net_qty":    cfg.PnL.NetQty(scope),
			"unrealized": cfg.PnL.Unrealized(scope, mark),
		})
	})
	api.GET("/killswitch", func(c *gin.Context) {
		if cfg.Kill == nil {
			c.JSON(http.StatusOK, gin.H{"enabled": false})
			return
		}
		enabled, reason, err := cfg.Kill.Enabled()
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"enabled": enabled, "reason": reason})
	})
	api.POST("/shutdown", func(c *gin.Context) {
		cfg.Gate.RequestShutdown("ops api")
		c.JSON(http.StatusAccepted, gin.H{"status": "shutting_down"})
	})

	return &Server{addr: cfg.Addr, router: router}, nil
}

func (s *Server) Addr() string {
	if s == nil {
		return ""
	}
	return s.addr
}

// Start serves until ctx is cancelled, then shuts the listener down with a
// short grace period.
func (s *Server) Start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	srv := &http.Server{Addr: s.addr, Handler: s.router}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	logger.Infof("ops http server listening on %s", s.addr)

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
