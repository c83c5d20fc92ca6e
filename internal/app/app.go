// Package app assembles the components from configuration and runs them.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"krypto/internal/budget"
	"krypto/internal/config"
	"krypto/internal/cooldown"
	"krypto/internal/engine"
	"krypto/internal/gate"
	binancegw "krypto/internal/gateway/binance"
	"krypto/internal/ledger"
	"krypto/internal/logger"
	"krypto/internal/report"
	"krypto/internal/scheduler"
	"krypto/internal/store"
	apihttp "krypto/internal/transport/http"
)

// App owns the wired component graph. Construction does no I/O beyond opening
// the journal; the exchange is first touched in Run.
type App struct {
	cfg *config.Config

	gateway   *binancegw.Gateway
	ledger    *ledger.Ledger
	budget    *budget.Engine
	cooldowns *cooldown.Manager
	blacklist *gate.Blacklist
	journal   *store.Journal
	reporter  *report.Writer
	orch      *engine.Orchestrator
	server    *apihttp.Server
}

// NewApp builds the application from a validated config.
func NewApp(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)

	gateway, err := binancegw.New(binancegw.Config{
		APIKey:    cfg.Exchange.APIKey,
		APISecret: cfg.Exchange.APISecret,
		Testnet:   cfg.Exchange.Testnet,
		Quote:     cfg.Exchange.Quote,
	})
	if err != nil {
		return nil, err
	}
	blacklist, err := gate.NewBlacklist(cfg.Blacklist.Path)
	if err != nil {
		return nil, err
	}
	protection, err := protectionFromConfig(cfg.Trading)
	if err != nil {
		return nil, err
	}

	a := &App{
		cfg:       cfg,
		gateway:   gateway,
		ledger:    ledger.New(greenRatioPolicy(cfg.Trading.GreenRatio)),
		budget:    budget.NewEngine(protection),
		cooldowns: cooldown.NewManager(cooldownConfig(cfg.Cooldown)),
		blacklist: blacklist,
	}

	if cfg.Store.Path != "" {
		a.journal, err = store.NewJournal(cfg.Store.Path)
		if err != nil {
			return nil, err
		}
	}
	if cfg.Report.Enabled {
		a.reporter = report.NewWriter(cfg.Report.Path)
	}

	var journal engine.TradeJournal
	if a.journal != nil {
		journal = a.journal
	}
	a.orch = engine.New(engine.Config{
		OrderSize:          cfg.Trading.OrderSize,
		MinOrderNotional:   cfg.Trading.MinOrderSize,
		MaxPositions:       cfg.Trading.MaxPositions,
		StepPct:            cfg.Trading.AverageDownStepPct,
		AverageDownEnabled: cfg.Trading.AverageDownEnabled,
		MinVolatilityPct:   cfg.Filters.MinVolatilityPct,
		VolatilityWindow:   cfg.Filters.VolatilityWindow,
		RSIPeriod:          cfg.Filters.RSIPeriod,
		RSIThreshold:       cfg.Filters.RSIThreshold,
		RecentHighRatio:    cfg.Filters.RecentHighRatio,
		RecentHighDays:     cfg.Filters.RecentHighDays,
	}, engine.Deps{
		Source:    gateway,
		Trader:    gateway,
		Universe:  gateway,
		Ledger:    a.ledger,
		Budget:    a.budget,
		Cooldowns: a.cooldowns,
		Blacklist: blacklist,
		Journal:   journal,
	})

	if cfg.HTTP.Enabled {
		a.server, err = apihttp.NewServer(apihttp.Config{
			Addr:      cfg.HTTP.Listen,
			Ledger:    a.ledger,
			Budget:    a.budget,
			Cooldowns: a.cooldowns,
			Blacklist: blacklist,
			Journal:   a.journal,
		})
		if err != nil {
			return nil, err
		}
	}
	return a, nil
}

// Run seeds the budget from the exchange balance and drives the trading loop
// and the API server until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	balance, err := a.gateway.AvailableBalance(ctx, a.cfg.Exchange.Quote)
	if err != nil {
		return fmt.Errorf("query %s balance: %w", a.cfg.Exchange.Quote, err)
	}
	if balance <= 0 {
		return fmt.Errorf("no %s balance available to trade", a.cfg.Exchange.Quote)
	}
	a.budget.SetInitialBalance(balance)

	var sessionID int64
	if a.journal != nil {
		sessionID, err = a.journal.StartSession(balance, a.cfg.Trading.ProtectionMode)
		if err != nil {
			logger.Warnf("app: session start not recorded: %v", err)
		}
	}

	group, ctx := errgroup.WithContext(ctx)
	if a.server != nil {
		group.Go(func() error {
			if err := a.server.Start(ctx); err != nil {
				return fmt.Errorf("http server error: %w", err)
			}
			return nil
		})
	}
	group.Go(func() error {
		sched := scheduler.NewIntervalScheduler(ctx, a.cfg.App.CycleInterval)
		sched.RunImmediately = true
		sched.Start(func() { a.cycle(ctx) })
		return nil
	})

	err = group.Wait()

	if a.journal != nil {
		if sessionID != 0 {
			if endErr := a.journal.EndSession(sessionID, a.budget.Snapshot().RealizedProfit); endErr != nil {
				logger.Warnf("app: session end not recorded: %v", endErr)
			}
		}
		_ = a.journal.Close()
	}
	return err
}

func (a *App) cycle(ctx context.Context) {
	a.orch.RunCycle(ctx)

	maxAge := a.cfg.Cooldown.CleanupMaxAge
	if maxAge <= 0 {
		maxAge = 24 * time.Hour
	}
	a.cooldowns.Cleanup(maxAge)

	if a.reporter != nil {
		if err := a.reporter.Write(a.ledger.Positions(), a.budget.Snapshot()); err != nil {
			logger.Warnf("app: report not written: %v", err)
		}
	}
}

func protectionFromConfig(cfg config.TradingConfig) (budget.Protection, error) {
	switch strings.ToLower(cfg.ProtectionMode) {
	case "full":
		return budget.FullProtection(), nil
	case "percentage":
		return budget.PercentageProtection(cfg.ProtectionPercentage), nil
	case "threshold":
		return budget.ThresholdProtection(cfg.ProtectionThreshold), nil
	default:
		return budget.Protection{}, fmt.Errorf("unknown protection mode %q", cfg.ProtectionMode)
	}
}

func greenRatioPolicy(cfg config.GreenRatioConfig) ledger.GreenRatioPolicy {
	steps := make([]ledger.GreenRatioStep, 0, len(cfg.Steps))
	for _, s := range cfg.Steps {
		steps = append(steps, ledger.GreenRatioStep{Below: s.Below, Margin: s.Margin})
	}
	return ledger.GreenRatioPolicy{
		StaleAfter:      cfg.StaleAfter,
		StaleMargin:     cfg.StaleMargin,
		SmallBookSize:   cfg.SmallBookSize,
		SmallBookMargin: cfg.SmallBookMargin,
		Steps:           steps,
		DefaultMargin:   cfg.DefaultMargin,
	}
}

func cooldownConfig(cfg config.CooldownConfig) cooldown.Config {
	return cooldown.Config{
		BuyDelay:       cfg.BuyDelay,
		SellDelay:      cfg.SellDelay,
		GlobalCooldown: cfg.GlobalCooldown,
		SellLockout:    cfg.SellLockout,
	}
}
