// Package http exposes the bot's state over a small read-mostly API: budget
// and position snapshots, cooldown telemetry and blacklist management.
package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"krypto/internal/budget"
	"krypto/internal/cooldown"
	"krypto/internal/gate"
	"krypto/internal/ledger"
	"krypto/internal/logger"
	"krypto/internal/store"
)

// Config describes the server dependencies.
type Config struct {
	Addr      string
	Ledger    *ledger.Ledger
	Budget    *budget.Engine
	Cooldowns *cooldown.Manager
	Blacklist *gate.Blacklist
	Journal   *store.Journal
}

// Server wraps the gin router around the bot components.
type Server struct {
	addr   string
	cfg    Config
	router *gin.Engine
}

// NewServer builds the API server. Ledger and budget are required; the rest
// degrade to 404s when absent.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Ledger == nil || cfg.Budget == nil {
		return nil, errors.New("http server requires ledger and budget")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{addr: cfg.Addr, cfg: cfg, router: router}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := s.router.Group("/api")
	api.GET("/status", s.handleStatus)
	api.GET("/positions", s.handlePositions)
	api.GET("/cooldowns", s.handleCooldowns)
	api.GET("/trades", s.handleTrades)
	api.GET("/blacklist", s.handleBlacklistList)
	api.POST("/blacklist/:entry", s.handleBlacklistAdd)
	api.DELETE("/blacklist/:entry", s.handleBlacklistRemove)
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"budget":         s.cfg.Budget.Snapshot(),
		"open_positions": s.cfg.Ledger.Count(),
		"green_margin":   s.cfg.Ledger.GreenRatio(),
		"emergency":      s.cfg.Budget.ShouldActivateEmergencyMode(),
	})
}

// positionView flattens a ledger position for the API.
type positionView struct {
	Symbol           string  `json:"symbol"`
	Volume           float64 `json:"volume"`
	PurchasePrice    float64 `json:"purchase_price"`
	High             float64 `json:"target"`
	NextTrigger      float64 `json:"next_average_down_trigger"`
	AverageDownCount int     `json:"average_down_count"`
	LastMarketPrice  float64 `json:"last_market_price"`
	UnrealizedPL     float64 `json:"unrealized_pl"`
	UnrealizedPLPct  float64 `json:"unrealized_pl_pct"`
	OpenedAt         string  `json:"opened_at"`
}

func (s *Server) handlePositions(c *gin.Context) {
	positions := s.cfg.Ledger.Positions()
	out := make([]positionView, 0, len(positions))
	for _, p := range positions {
		abs, pct := p.UnrealizedPL(p.LastMarketPrice)
		out = append(out, positionView{
			Symbol:           p.Symbol,
			Volume:           p.Volume,
			PurchasePrice:    p.PurchasePrice,
			High:             p.High,
			NextTrigger:      p.NextAverageDownTrigger,
			AverageDownCount: p.AverageDownCount,
			LastMarketPrice:  p.LastMarketPrice,
			UnrealizedPL:     abs,
			UnrealizedPLPct:  pct,
			OpenedAt:         p.OpenedAt.Format(time.RFC3339),
		})
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleCooldowns(c *gin.Context) {
	if s.cfg.Cooldowns == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "cooldowns not configured"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"active":   s.cfg.Cooldowns.Active(),
		"lockouts": s.cfg.Cooldowns.ActiveLockouts(),
	})
}

func (s *Server) handleTrades(c *gin.Context) {
	if s.cfg.Journal == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "journal not configured"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	trades, err := s.cfg.Journal.RecentTrades(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, trades)
}

func (s *Server) blacklistView() gin.H {
	return gin.H{
		"assets":  s.cfg.Blacklist.Manual(),
		"symbols": s.cfg.Blacklist.ManualSymbols(),
	}
}

func (s *Server) handleBlacklistList(c *gin.Context) {
	if s.cfg.Blacklist == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "blacklist not configured"})
		return
	}
	c.JSON(http.StatusOK, s.blacklistView())
}

// handleBlacklistAdd blocks an entry: a dashed one ("DOGE-BTC") as a full
// symbol, anything else as a base asset.
func (s *Server) handleBlacklistAdd(c *gin.Context) {
	if s.cfg.Blacklist == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "blacklist not configured"})
		return
	}
	if err := s.cfg.Blacklist.Add(c.Param("entry")); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, s.blacklistView())
}

func (s *Server) handleBlacklistRemove(c *gin.Context) {
	if s.cfg.Blacklist == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "blacklist not configured"})
		return
	}
	if err := s.cfg.Blacklist.Remove(c.Param("entry")); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, s.blacklistView())
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Start serves until the context is canceled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.router}
	errCh := make(chan error, 1)
	go func() {
		logger.Infof("http server listening on %s", s.addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

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
