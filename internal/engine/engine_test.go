package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"krypto/internal/budget"
	"krypto/internal/cooldown"
	"krypto/internal/gate"
	"krypto/internal/ledger"
	"krypto/internal/market"
	"krypto/internal/store"
)

type MockSource struct {
	mock.Mock
}

func (m *MockSource) GetTicker(ctx context.Context, symbol string) (market.Ticker, error) {
	args := m.Called(ctx, symbol)
	return args.Get(0).(market.Ticker), args.Error(1)
}

func (m *MockSource) GetKlines(ctx context.Context, symbol, interval string, start, end time.Time) ([]market.Candle, error) {
	args := m.Called(ctx, symbol, interval, start, end)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]market.Candle), args.Error(1)
}

type MockTrader struct {
	mock.Mock
}

func (m *MockTrader) PlaceMarketBuy(ctx context.Context, symbol string, quoteAmount float64) (string, error) {
	args := m.Called(ctx, symbol, quoteAmount)
	return args.String(0), args.Error(1)
}

func (m *MockTrader) PlaceMarketSell(ctx context.Context, symbol string, baseQuantity float64) (string, error) {
	args := m.Called(ctx, symbol, baseQuantity)
	return args.String(0), args.Error(1)
}

func (m *MockTrader) OrderFillPrice(ctx context.Context, symbol, orderID string) (float64, error) {
	args := m.Called(ctx, symbol, orderID)
	return args.Get(0).(float64), args.Error(1)
}

func (m *MockTrader) AvailableBalance(ctx context.Context, asset string) (float64, error) {
	args := m.Called(ctx, asset)
	return args.Get(0).(float64), args.Error(1)
}

func (m *MockTrader) MinOrderSizes(ctx context.Context) (map[string]float64, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]float64), args.Error(1)
}

type MockUniverse struct {
	mock.Mock
}

func (m *MockUniverse) TradableSymbols(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

type recordingJournal struct {
	trades []store.TradeRecord
}

func (r *recordingJournal) RecordTrade(rec *store.TradeRecord) error {
	r.trades = append(r.trades, *rec)
	return nil
}

type fixture struct {
	source   *MockSource
	trader   *MockTrader
	universe *MockUniverse
	ledger   *ledger.Ledger
	budget   *budget.Engine
	cooldown *cooldown.Manager
	journal  *recordingJournal
	orch     *Orchestrator
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	bl, err := gate.NewBlacklist("")
	require.NoError(t, err)

	f := &fixture{
		source:   new(MockSource),
		trader:   new(MockTrader),
		universe: new(MockUniverse),
		ledger:   ledger.New(ledger.GreenRatioPolicy{}),
		budget:   budget.NewEngine(budget.FullProtection()),
		cooldown: cooldown.NewManager(cooldown.Config{}),
		journal:  &recordingJournal{},
	}
	f.budget.SetInitialBalance(1000)
	f.orch = New(cfg, Deps{
		Source:    f.source,
		Trader:    f.trader,
		Universe:  f.universe,
		Ledger:    f.ledger,
		Budget:    f.budget,
		Cooldowns: f.cooldown,
		Blacklist: bl,
		Journal:   f.journal,
	})
	return f
}

// choppyHourly is a volatile two-sided window that clears the entry filters.
func choppyHourly() []market.Candle {
	return []market.Candle{
		{Open: 100, High: 110, Low: 92, Close: 108},
		{Open: 108, High: 109, Low: 95, Close: 96},
		{Open: 96, High: 106, Low: 94, Close: 104},
		{Open: 104, High: 105, Low: 93, Close: 95},
	}
}

func quietDaily() []market.Candle {
	return []market.Candle{{Open: 100, High: 200, Low: 80, Close: 100}}
}

func TestEntryFlow(t *testing.T) {
	f := newFixture(t, Config{OrderSize: 50, AverageDownEnabled: true})

	f.universe.On("TradableSymbols", mock.Anything).Return([]string{"BTC-EUR", "USDT-EUR"}, nil)
	f.trader.On("MinOrderSizes", mock.Anything).Return(map[string]float64{"BTC-EUR": 0.0001}, nil)
	f.source.On("GetTicker", mock.Anything, "BTC-EUR").Return(market.Ticker{Symbol: "BTC-EUR", Last: 100}, nil)
	f.source.On("GetKlines", mock.Anything, "BTC-EUR", "1h", mock.Anything, mock.Anything).Return(choppyHourly(), nil)
	f.source.On("GetKlines", mock.Anything, "BTC-EUR", "1d", mock.Anything, mock.Anything).Return(quietDaily(), nil)
	f.trader.On("PlaceMarketBuy", mock.Anything, "BTC-EUR", 50.0).Return("42", nil)
	f.trader.On("OrderFillPrice", mock.Anything, "BTC-EUR", "42").Return(100.0, nil)

	f.orch.RunCycle(context.Background())

	pos, ok := f.ledger.Get("BTC-EUR")
	require.True(t, ok)
	assert.InDelta(t, 0.4995, pos.Volume, 1e-9, "fee haircut applied")
	assert.InDelta(t, 100.5, pos.High, 1e-9)

	s := f.budget.Snapshot()
	assert.InDelta(t, 950, s.Available, 1e-9)
	assert.InDelta(t, 50, s.Invested, 1e-9)

	assert.False(t, f.cooldown.CanBuy("BTC-EUR"), "entry stamps the buy cooldown")

	require.Len(t, f.journal.trades, 1)
	assert.Equal(t, store.SideBuy, f.journal.trades[0].Side)

	// the stablecoin never made it past the blacklist
	f.trader.AssertNumberOfCalls(t, "PlaceMarketBuy", 1)
}

func TestEntryRollbackOnOrderFailure(t *testing.T) {
	f := newFixture(t, Config{OrderSize: 50})

	f.universe.On("TradableSymbols", mock.Anything).Return([]string{"BTC-EUR"}, nil)
	f.trader.On("MinOrderSizes", mock.Anything).Return(map[string]float64{}, nil)
	f.source.On("GetTicker", mock.Anything, "BTC-EUR").Return(market.Ticker{Symbol: "BTC-EUR", Last: 100}, nil)
	f.source.On("GetKlines", mock.Anything, "BTC-EUR", "1h", mock.Anything, mock.Anything).Return(choppyHourly(), nil)
	f.source.On("GetKlines", mock.Anything, "BTC-EUR", "1d", mock.Anything, mock.Anything).Return(quietDaily(), nil)
	f.trader.On("PlaceMarketBuy", mock.Anything, "BTC-EUR", 50.0).Return("", errors.New("exchange down"))

	f.orch.RunCycle(context.Background())

	assert.False(t, f.ledger.Has("BTC-EUR"))
	s := f.budget.Snapshot()
	assert.InDelta(t, 0, s.Invested, 1e-9, "failed order never leaves budget reserved")
	assert.InDelta(t, 1000, s.Available, 1e-9, "failed order costs nothing")
	assert.InDelta(t, 0, s.RealizedProfit, 1e-9)
	assert.False(t, f.budget.ShouldActivateEmergencyMode())
	assert.Empty(t, f.journal.trades)
}

func TestSellFlow(t *testing.T) {
	f := newFixture(t, Config{OrderSize: 50})

	require.True(t, f.budget.Reserve(50, "BTC-EUR"))
	pos := ledger.NewPosition("BTC-EUR", 100, 0.5, 50, 0.02)
	require.NoError(t, f.ledger.Add(pos))
	vol := pos.Volume

	f.trader.On("MinOrderSizes", mock.Anything).Return(map[string]float64{"BTC-EUR": 0.0001}, nil)
	f.source.On("GetTicker", mock.Anything, "BTC-EUR").Return(market.Ticker{Symbol: "BTC-EUR", Last: 102}, nil)
	f.trader.On("PlaceMarketSell", mock.Anything, "BTC-EUR", vol).Return("77", nil)
	f.trader.On("OrderFillPrice", mock.Anything, "BTC-EUR", "77").Return(102.0, nil)
	f.universe.On("TradableSymbols", mock.Anything).Return([]string{}, nil)

	f.orch.RunCycle(context.Background())

	assert.False(t, f.ledger.Has("BTC-EUR"))
	assert.False(t, f.cooldown.CanBuy("BTC-EUR"), "sell starts the lockout")

	proceeds := 102.0 * vol
	s := f.budget.Snapshot()
	assert.InDelta(t, 0, s.Invested, 1e-9)
	assert.InDelta(t, proceeds-50, s.RealizedProfit, 1e-9)
	assert.InDelta(t, proceeds-50, s.ProtectedProfit, 1e-9, "full protection shields the whole gain")

	require.Len(t, f.journal.trades, 1)
	assert.Equal(t, store.SideSell, f.journal.trades[0].Side)
	assert.InDelta(t, proceeds-50, f.journal.trades[0].Profit, 1e-9)
}

func TestAverageDownFlow(t *testing.T) {
	f := newFixture(t, Config{OrderSize: 50, AverageDownEnabled: true})

	require.True(t, f.budget.Reserve(50, "BTC-EUR"))
	pos := ledger.NewPosition("BTC-EUR", 100, 0.5, 50, 0.02)
	require.NoError(t, f.ledger.Add(pos))

	f.trader.On("MinOrderSizes", mock.Anything).Return(map[string]float64{}, nil)
	f.source.On("GetTicker", mock.Anything, "BTC-EUR").Return(market.Ticker{Symbol: "BTC-EUR", Last: 97}, nil)
	f.trader.On("PlaceMarketBuy", mock.Anything, "BTC-EUR", 50.0).Return("43", nil)
	f.trader.On("OrderFillPrice", mock.Anything, "BTC-EUR", "43").Return(97.0, nil)
	f.universe.On("TradableSymbols", mock.Anything).Return([]string{}, nil)

	f.orch.RunCycle(context.Background())

	got, ok := f.ledger.Get("BTC-EUR")
	require.True(t, ok)
	assert.Equal(t, 1, got.AverageDownCount)
	assert.InDelta(t, 100, got.TotalInvested, 1e-9)
	assert.InDelta(t, 100.0/got.Volume, got.PurchasePrice, 1e-9, "average equals invested over volume")
	assert.Less(t, got.PurchasePrice, 100.0, "average moved toward the lower fill")
	assert.InDelta(t, 100.5, got.High, 1e-9, "sell target never moves")

	s := f.budget.Snapshot()
	assert.InDelta(t, 100, s.Invested, 1e-9)

	require.Len(t, f.journal.trades, 1)
	assert.Equal(t, store.SideAverageDown, f.journal.trades[0].Side)
}

func TestAverageDownWaitsForCooldown(t *testing.T) {
	f := newFixture(t, Config{OrderSize: 50, AverageDownEnabled: true})

	require.True(t, f.budget.Reserve(50, "BTC-EUR"))
	pos := ledger.NewPosition("BTC-EUR", 100, 0.5, 50, 0.02)
	require.NoError(t, f.ledger.Add(pos))
	// a buy on another symbol arms the global cooldown
	f.cooldown.RecordBuy("ETH-EUR")

	f.trader.On("MinOrderSizes", mock.Anything).Return(map[string]float64{}, nil)
	f.source.On("GetTicker", mock.Anything, "BTC-EUR").Return(market.Ticker{Symbol: "BTC-EUR", Last: 97}, nil)
	f.universe.On("TradableSymbols", mock.Anything).Return([]string{}, nil)

	f.orch.RunCycle(context.Background())

	f.trader.AssertNotCalled(t, "PlaceMarketBuy", mock.Anything, mock.Anything, mock.Anything)
	got, _ := f.ledger.Get("BTC-EUR")
	assert.Equal(t, 0, got.AverageDownCount)
	assert.True(t, got.AverageDownEnabled, "a cooldown wait is not a budget rejection")
}

func TestAverageDownDisabledWhenBudgetExhausted(t *testing.T) {
	f := newFixture(t, Config{OrderSize: 50, AverageDownEnabled: true})

	require.True(t, f.budget.Reserve(990, "BTC-EUR"))
	pos := ledger.NewPosition("BTC-EUR", 100, 9.9, 990, 0.02)
	require.NoError(t, f.ledger.Add(pos))

	f.trader.On("MinOrderSizes", mock.Anything).Return(map[string]float64{}, nil)
	f.source.On("GetTicker", mock.Anything, "BTC-EUR").Return(market.Ticker{Symbol: "BTC-EUR", Last: 97}, nil)
	f.universe.On("TradableSymbols", mock.Anything).Return([]string{}, nil)

	f.orch.RunCycle(context.Background())

	got, _ := f.ledger.Get("BTC-EUR")
	assert.False(t, got.AverageDownEnabled, "a reserve rejection turns averaging off for good")
	f.trader.AssertNotCalled(t, "PlaceMarketBuy", mock.Anything, mock.Anything, mock.Anything)
}

func TestEmergencyModeSkipsEntries(t *testing.T) {
	f := newFixture(t, Config{OrderSize: 50})

	require.True(t, f.budget.Reserve(950, "DOOM-EUR"))
	f.budget.Release(950, 40, "DOOM-EUR")
	require.True(t, f.budget.ShouldActivateEmergencyMode())

	f.orch.RunCycle(context.Background())

	f.universe.AssertNotCalled(t, "TradableSymbols", mock.Anything)
}

func TestCooldownBlocksReentry(t *testing.T) {
	f := newFixture(t, Config{OrderSize: 50})
	f.cooldown.RecordSell("BTC-EUR")

	f.universe.On("TradableSymbols", mock.Anything).Return([]string{"BTC-EUR"}, nil)
	f.trader.On("MinOrderSizes", mock.Anything).Return(map[string]float64{}, nil)

	f.orch.RunCycle(context.Background())

	f.source.AssertNotCalled(t, "GetTicker", mock.Anything, mock.Anything)
	f.trader.AssertNotCalled(t, "PlaceMarketBuy", mock.Anything, mock.Anything, mock.Anything)
}

func TestUnknownFillFallsBackToEstimate(t *testing.T) {
	f := newFixture(t, Config{OrderSize: 50})

	f.universe.On("TradableSymbols", mock.Anything).Return([]string{"BTC-EUR"}, nil)
	f.trader.On("MinOrderSizes", mock.Anything).Return(map[string]float64{}, nil)
	f.source.On("GetTicker", mock.Anything, "BTC-EUR").Return(market.Ticker{Symbol: "BTC-EUR", Last: 100}, nil)
	f.source.On("GetKlines", mock.Anything, "BTC-EUR", "1h", mock.Anything, mock.Anything).Return(choppyHourly(), nil)
	f.source.On("GetKlines", mock.Anything, "BTC-EUR", "1d", mock.Anything, mock.Anything).Return(quietDaily(), nil)
	f.trader.On("PlaceMarketBuy", mock.Anything, "BTC-EUR", 50.0).Return("42", nil)
	f.trader.On("OrderFillPrice", mock.Anything, "BTC-EUR", "42").Return(0.0, nil)

	f.orch.RunCycle(context.Background())

	pos, ok := f.ledger.Get("BTC-EUR")
	require.True(t, ok)
	assert.InDelta(t, 100.5, pos.High, 1e-9, "books against the ticker price when the fill is unknown")
}

func TestRejectedLedgerEntryIsSoldBack(t *testing.T) {
	f := newFixture(t, Config{OrderSize: 50})

	require.True(t, f.budget.Reserve(50, "BTC-EUR"))
	existing := ledger.NewPosition("BTC-EUR", 100, 0.5, 50, 0.02)
	require.NoError(t, f.ledger.Add(existing))

	f.trader.On("PlaceMarketBuy", mock.Anything, "BTC-EUR", 50.0).Return("42", nil)
	f.trader.On("OrderFillPrice", mock.Anything, "BTC-EUR", "42").Return(100.0, nil)
	f.trader.On("PlaceMarketSell", mock.Anything, "BTC-EUR", mock.Anything).Return("43", nil)
	f.trader.On("OrderFillPrice", mock.Anything, "BTC-EUR", "43").Return(100.0, nil)

	f.orch.openPosition(context.Background(), "BTC-EUR", 100, 0)

	f.trader.AssertCalled(t, "PlaceMarketSell", mock.Anything, "BTC-EUR", mock.Anything)

	got, ok := f.ledger.Get("BTC-EUR")
	require.True(t, ok)
	assert.InDelta(t, 50, got.TotalInvested, 1e-9, "the existing position is untouched")

	// the reservation settled against the sell-back proceeds: the fee
	// haircut on the bought volume is the only cost
	s := f.budget.Snapshot()
	assert.InDelta(t, 50, s.Invested, 1e-9)
	assert.InDelta(t, 949.95, s.Available, 1e-6)
	assert.InDelta(t, -0.05, s.RealizedProfit, 1e-6)
	assert.Empty(t, f.journal.trades, "an unwound entry is not a trade")
}

func TestBookFullStopsScanning(t *testing.T) {
	f := newFixture(t, Config{OrderSize: 50, MaxPositions: 1})

	require.True(t, f.budget.Reserve(50, "ETH-EUR"))
	pos := ledger.NewPosition("ETH-EUR", 20, 2.5, 50, 0.02)
	require.NoError(t, f.ledger.Add(pos))

	f.trader.On("MinOrderSizes", mock.Anything).Return(map[string]float64{}, nil)
	f.source.On("GetTicker", mock.Anything, "ETH-EUR").Return(market.Ticker{Symbol: "ETH-EUR", Last: 20}, nil)

	f.orch.RunCycle(context.Background())

	f.universe.AssertNotCalled(t, "TradableSymbols", mock.Anything)
}
