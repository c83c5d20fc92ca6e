// Package engine runs the trading cycle: it manages open positions (profit
// taking and averaging down) and scans the market for new entries, delegating
// every risk decision to the ledger, budget, cooldown and gate components.
package engine

import (
	"context"
	"time"

	"krypto/internal/budget"
	"krypto/internal/cooldown"
	"krypto/internal/gate"
	"krypto/internal/ledger"
	"krypto/internal/logger"
	"krypto/internal/market"
	symbolpkg "krypto/internal/pkg/symbol"
	"krypto/internal/store"
)

// Config holds the per-cycle trading knobs.
type Config struct {
	OrderSize          float64
	MinOrderNotional   float64
	MaxPositions       int
	StepPct            float64
	AverageDownEnabled bool

	MinVolatilityPct float64
	VolatilityWindow int // hourly candles
	RSIPeriod        int
	RSIThreshold     float64
	RecentHighRatio  float64
	RecentHighDays   int
}

func (c *Config) applyDefaults() {
	if c.OrderSize <= 0 {
		c.OrderSize = 50
	}
	if c.MinOrderNotional <= 0 {
		c.MinOrderNotional = 10
	}
	if c.MaxPositions <= 0 {
		c.MaxPositions = 10
	}
	if c.StepPct <= 0 {
		c.StepPct = 0.02
	}
	if c.VolatilityWindow <= 0 {
		c.VolatilityWindow = 24
	}
	if c.MinVolatilityPct <= 0 {
		c.MinVolatilityPct = 5
	}
	if c.RecentHighDays <= 0 {
		c.RecentHighDays = 30
	}
}

// TradeJournal records executed orders; nil disables journaling.
type TradeJournal interface {
	RecordTrade(*store.TradeRecord) error
}

// Orchestrator coordinates one trading cycle at a time. It owns no state of
// its own beyond configuration; all bookkeeping lives in the components.
type Orchestrator struct {
	cfg Config

	source    market.Source
	trader    market.Trader
	universe  market.Universe
	ledger    *ledger.Ledger
	budget    *budget.Engine
	cooldowns *cooldown.Manager
	blacklist *gate.Blacklist
	journal   TradeJournal

	nowFn func() time.Time
}

// Deps bundles the orchestrator's collaborators.
type Deps struct {
	Source    market.Source
	Trader    market.Trader
	Universe  market.Universe
	Ledger    *ledger.Ledger
	Budget    *budget.Engine
	Cooldowns *cooldown.Manager
	Blacklist *gate.Blacklist
	Journal   TradeJournal
}

func New(cfg Config, deps Deps) *Orchestrator {
	cfg.applyDefaults()
	return &Orchestrator{
		cfg:       cfg,
		source:    deps.Source,
		trader:    deps.Trader,
		universe:  deps.Universe,
		ledger:    deps.Ledger,
		budget:    deps.Budget,
		cooldowns: deps.Cooldowns,
		blacklist: deps.Blacklist,
		journal:   deps.Journal,
		nowFn:     time.Now,
	}
}

// RunCycle executes one full pass: position management first so exits free
// budget before new entries compete for it.
func (o *Orchestrator) RunCycle(ctx context.Context) {
	if o.budget.ShouldActivateEmergencyMode() {
		logger.Warnf("engine: emergency drawdown level reached, skipping new entries this cycle")
		o.managePositions(ctx)
		return
	}
	o.managePositions(ctx)
	o.scanForEntries(ctx)
}

// managePositions walks the open book: refresh prices, take profit where the
// target clears, average down where the trigger is hit.
func (o *Orchestrator) managePositions(ctx context.Context) {
	positions := o.ledger.Positions()
	if len(positions) == 0 {
		return
	}
	minSizes, err := o.trader.MinOrderSizes(ctx)
	if err != nil {
		logger.Warnf("engine: min order sizes unavailable: %v", err)
		minSizes = map[string]float64{}
	}

	for _, pos := range positions {
		if ctx.Err() != nil {
			return
		}
		ticker, err := o.source.GetTicker(ctx, pos.Symbol)
		if err != nil {
			logger.Warnf("engine: ticker %s failed: %v", pos.Symbol, err)
			continue
		}
		price := ticker.Last
		o.ledger.Update(pos.Symbol, func(p *ledger.Position) {
			p.LastMarketPrice = price
		})

		margin := o.ledger.GreenRatio()
		switch {
		case pos.CanSell(price, margin) && o.cooldowns.CanSell(pos.Symbol):
			o.sellPosition(ctx, pos, price, minSizes[pos.Symbol])
		case o.cfg.AverageDownEnabled && pos.ShouldAverageDown(price) && o.cooldowns.CanBuy(pos.Symbol):
			o.averageDown(ctx, pos, price)
		}
	}
}

func (o *Orchestrator) sellPosition(ctx context.Context, pos ledger.Position, price, minSize float64) {
	if minSize > 0 && pos.Volume < minSize*1.001 {
		logger.Warnf("engine: %s volume %.8f below sellable minimum %.8f, holding",
			pos.Symbol, pos.Volume, minSize*1.001)
		return
	}
	orderID, err := o.trader.PlaceMarketSell(ctx, pos.Symbol, pos.Volume)
	if err != nil {
		logger.Errorf("engine: sell %s failed: %v", pos.Symbol, err)
		return
	}
	fill := o.fillPriceOrEstimate(ctx, pos.Symbol, orderID, price)
	proceeds := fill * pos.Volume

	o.budget.Release(pos.TotalInvested, proceeds, pos.Symbol)
	o.ledger.Remove(pos.Symbol)
	o.cooldowns.RecordSell(pos.Symbol)
	o.record(&store.TradeRecord{
		Symbol:      pos.Symbol,
		Side:        store.SideSell,
		OrderID:     orderID,
		Price:       fill,
		Volume:      pos.Volume,
		QuoteAmount: proceeds,
		Profit:      proceeds - pos.TotalInvested,
		Reason:      "profit target",
	})
	logger.Infof("engine: sold %s at %.6f, proceeds %.2f, profit %.2f",
		pos.Symbol, fill, proceeds, proceeds-pos.TotalInvested)
}

func (o *Orchestrator) averageDown(ctx context.Context, pos ledger.Position, price float64) {
	amount := pos.TotalInvested / float64(pos.AverageDownCount+1)
	if amount < o.cfg.MinOrderNotional {
		amount = o.cfg.MinOrderNotional
	}
	if !o.budget.Reserve(amount, pos.Symbol) {
		o.ledger.Update(pos.Symbol, func(p *ledger.Position) {
			p.DisableAverageDown("budget exhausted")
		})
		return
	}
	orderID, err := o.trader.PlaceMarketBuy(ctx, pos.Symbol, amount)
	if err != nil {
		logger.Errorf("engine: average-down buy %s failed: %v", pos.Symbol, err)
		o.budget.Rollback(amount, pos.Symbol)
		return
	}
	fill := o.fillPriceOrEstimate(ctx, pos.Symbol, orderID, price)

	var newAverage float64
	o.ledger.Update(pos.Symbol, func(p *ledger.Position) {
		newAverage = p.ExecuteAverageDown(fill, amount)
	})
	o.cooldowns.RecordBuy(pos.Symbol)
	o.record(&store.TradeRecord{
		Symbol:      pos.Symbol,
		Side:        store.SideAverageDown,
		OrderID:     orderID,
		Price:       fill,
		Volume:      amount / fill,
		QuoteAmount: amount,
		Reason:      "trigger reached",
	})
	logger.Infof("engine: averaged down %s at %.6f, new average %.6f", pos.Symbol, fill, newAverage)
}

// scanForEntries looks for new positions among the tradable universe, in
// order: blacklist, existing position, cooldown, market filters, budget.
func (o *Orchestrator) scanForEntries(ctx context.Context) {
	if o.ledger.Count() >= o.cfg.MaxPositions {
		logger.Debugf("engine: book full (%d positions), no new entries", o.ledger.Count())
		return
	}
	raw, err := o.universe.TradableSymbols(ctx)
	if err != nil {
		logger.Errorf("engine: symbol universe unavailable: %v", err)
		return
	}
	symbols := make([]symbolpkg.Symbol, 0, len(raw))
	for _, r := range raw {
		if s, err := symbolpkg.Parse(r); err == nil {
			symbols = append(symbols, s)
		}
	}
	allowed := o.blacklist.FilterAllowed(symbols)

	minSizes, err := o.trader.MinOrderSizes(ctx)
	if err != nil {
		logger.Warnf("engine: min order sizes unavailable: %v", err)
		minSizes = map[string]float64{}
	}

	for _, sym := range allowed {
		if ctx.Err() != nil {
			return
		}
		if o.ledger.Count() >= o.cfg.MaxPositions {
			return
		}
		name := sym.Internal()
		if o.ledger.Has(name) || !o.cooldowns.CanBuy(name) {
			continue
		}
		ticker, err := o.source.GetTicker(ctx, name)
		if err != nil {
			logger.Debugf("engine: ticker %s failed: %v", name, err)
			continue
		}
		if !o.passesFilters(ctx, name, ticker.Last) {
			continue
		}
		o.openPosition(ctx, name, ticker.Last, minSizes[name])
	}
}

// passesFilters applies the market-quality screens: enough two-sided
// volatility, not overbought, not near the recent high.
func (o *Orchestrator) passesFilters(ctx context.Context, symbol string, price float64) bool {
	now := o.nowFn()
	hourly, err := o.source.GetKlines(ctx, symbol, "1h",
		now.Add(-time.Duration(o.cfg.VolatilityWindow)*time.Hour), now)
	if err != nil {
		logger.Debugf("engine: hourly klines %s failed: %v", symbol, err)
		return false
	}
	ok, verdict := gate.HasSufficientVolatility(hourly, o.cfg.MinVolatilityPct)
	if !ok {
		logger.Debugf("engine: %s volatility %.2f%% insufficient (up=%d down=%d)",
			symbol, verdict.RangePct, verdict.UpCloses, verdict.DownCloses)
		return false
	}
	if over, rsi := gate.RSIOverbought(market.Closes(hourly), o.cfg.RSIPeriod, o.cfg.RSIThreshold); over {
		logger.Debugf("engine: %s overbought, RSI %.1f", symbol, rsi)
		return false
	}

	daily, err := o.source.GetKlines(ctx, symbol, "1d",
		now.AddDate(0, 0, -o.cfg.RecentHighDays), now)
	if err != nil {
		logger.Debugf("engine: daily klines %s failed: %v", symbol, err)
		return false
	}
	if near, high := gate.NearRecentHigh(price, daily, o.cfg.RecentHighRatio); near {
		logger.Debugf("engine: %s price %.6f too close to %d-day high %.6f",
			symbol, price, o.cfg.RecentHighDays, high)
		return false
	}
	return true
}

func (o *Orchestrator) openPosition(ctx context.Context, symbol string, price, minSize float64) {
	amount := o.entryAmount(price, minSize)
	if !o.budget.Reserve(amount, symbol) {
		return
	}
	orderID, err := o.trader.PlaceMarketBuy(ctx, symbol, amount)
	if err != nil {
		logger.Errorf("engine: buy %s failed: %v", symbol, err)
		o.budget.Rollback(amount, symbol)
		return
	}
	fill := o.fillPriceOrEstimate(ctx, symbol, orderID, price)

	pos := ledger.NewPosition(symbol, fill, amount/fill, amount, o.cfg.StepPct)
	pos.OrderID = orderID
	if !o.cfg.AverageDownEnabled {
		pos.DisableAverageDown("disabled by configuration")
	}
	if err := o.ledger.Add(pos); err != nil {
		// lost a race against a concurrent entry; undo the fill itself
		logger.Errorf("engine: ledger rejected %s: %v", symbol, err)
		o.unwindEntry(ctx, symbol, pos.Volume, amount, fill)
		return
	}
	o.cooldowns.RecordBuy(symbol)
	o.record(&store.TradeRecord{
		Symbol:      symbol,
		Side:        store.SideBuy,
		OrderID:     orderID,
		Price:       fill,
		Volume:      pos.Volume,
		QuoteAmount: amount,
		Reason:      "entry filters passed",
	})
}

// unwindEntry compensates an entry whose ledger registration failed: the
// coins are sold straight back and the reservation settles against the real
// proceeds. If even the sell fails the reservation is returned and the coins
// are left on the account, flagged for the operator.
func (o *Orchestrator) unwindEntry(ctx context.Context, symbol string, volume, amount, fill float64) {
	orderID, err := o.trader.PlaceMarketSell(ctx, symbol, volume)
	if err != nil {
		logger.Errorf("engine: unwind sell %s failed, %.8f left unmanaged on the account: %v",
			symbol, volume, err)
		o.budget.Rollback(amount, symbol)
		return
	}
	proceeds := o.fillPriceOrEstimate(ctx, symbol, orderID, fill) * volume
	o.budget.Release(amount, proceeds, symbol)
}

// entryAmount sizes a new entry: the configured order size, bumped to the
// exchange minimum notional with a 2% buffer so the lot-size check cannot
// reject the fill.
func (o *Orchestrator) entryAmount(price, minSize float64) float64 {
	amount := o.cfg.OrderSize
	if minSize > 0 && price > 0 {
		if required := minSize * price * 1.02; amount < required {
			amount = required
		}
	}
	if amount < o.cfg.MinOrderNotional {
		amount = o.cfg.MinOrderNotional
	}
	return amount
}

// fillPriceOrEstimate asks the exchange for the real fill and falls back to
// the pre-order estimate when the fill is not yet reported.
func (o *Orchestrator) fillPriceOrEstimate(ctx context.Context, symbol, orderID string, estimate float64) float64 {
	fill, err := o.trader.OrderFillPrice(ctx, symbol, orderID)
	if err != nil {
		logger.Warnf("engine: fill price %s/%s failed: %v, using estimate %.6f",
			symbol, orderID, err, estimate)
		return estimate
	}
	if fill <= 0 {
		logger.Warnf("engine: fill price %s/%s not yet known, using estimate %.6f",
			symbol, orderID, estimate)
		return estimate
	}
	return fill
}

func (o *Orchestrator) record(rec *store.TradeRecord) {
	if o.journal == nil {
		return
	}
	if err := o.journal.RecordTrade(rec); err != nil {
		logger.Errorf("engine: journal write failed: %v", err)
	}
}
