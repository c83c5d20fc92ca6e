package market

import (
	"context"
	"time"
)

// Ticker is the latest quote for a symbol.
type Ticker struct {
	Symbol    string
	Last      float64
	Bid       float64
	Ask       float64
	UpdatedAt time.Time
}

// Source provides read-only market data. Implementations live under
// internal/gateway; the core never performs I/O itself.
type Source interface {
	GetTicker(ctx context.Context, symbol string) (Ticker, error)
	GetKlines(ctx context.Context, symbol, interval string, start, end time.Time) ([]Candle, error)
}

// Universe lists the symbols currently tradable against the configured quote
// currency, in internal "BASE-QUOTE" form.
type Universe interface {
	TradableSymbols(ctx context.Context) ([]string, error)
}

// Trader places spot orders and answers account queries. Market buys are sized
// in quote currency, sells in base quantity, matching the exchange API.
type Trader interface {
	PlaceMarketBuy(ctx context.Context, symbol string, quoteAmount float64) (orderID string, err error)
	PlaceMarketSell(ctx context.Context, symbol string, baseQuantity float64) (orderID string, err error)
	// OrderFillPrice returns the actual average fill price for an order.
	// A zero price with nil error means the fill is not yet known.
	OrderFillPrice(ctx context.Context, symbol, orderID string) (float64, error)
	AvailableBalance(ctx context.Context, asset string) (float64, error)
	// MinOrderSizes maps symbol to the minimum base-quantity order size.
	MinOrderSizes(ctx context.Context) (map[string]float64, error)
}
