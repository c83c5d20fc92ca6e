// Package binance implements the market interfaces on top of the Binance
// spot API via the go-binance SDK.
package binance

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/google/uuid"

	"krypto/internal/logger"
	"krypto/internal/market"
	symbolpkg "krypto/internal/pkg/symbol"
)

const maxKlineLimit = 1000

// Config carries the exchange credentials and options.
type Config struct {
	APIKey    string
	APISecret string
	Testnet   bool
	Quote     string
}

// Gateway is the spot client. It implements market.Source, market.Trader and
// market.Universe.
type Gateway struct {
	cfg    Config
	client *binance.Client
}

var (
	_ market.Source   = (*Gateway)(nil)
	_ market.Trader   = (*Gateway)(nil)
	_ market.Universe = (*Gateway)(nil)
)

// New builds a gateway. Credentials are required; the quote currency defaults
// to EUR.
func New(cfg Config) (*Gateway, error) {
	if strings.TrimSpace(cfg.APIKey) == "" || strings.TrimSpace(cfg.APISecret) == "" {
		return nil, fmt.Errorf("binance: api key and secret are required")
	}
	if strings.TrimSpace(cfg.Quote) == "" {
		cfg.Quote = "EUR"
	}
	binance.UseTestnet = cfg.Testnet
	return &Gateway{
		cfg:    cfg,
		client: binance.NewClient(cfg.APIKey, cfg.APISecret),
	}, nil
}

// GetTicker returns the latest book quote for symbol.
func (g *Gateway) GetTicker(ctx context.Context, symbol string) (market.Ticker, error) {
	sym, err := symbolpkg.Parse(symbol)
	if err != nil {
		return market.Ticker{}, err
	}
	books, err := g.client.NewListBookTickersService().Symbol(sym.Exchange()).Do(ctx)
	if err != nil {
		return market.Ticker{}, fmt.Errorf("binance: book ticker %s: %w", symbol, err)
	}
	if len(books) == 0 {
		return market.Ticker{}, fmt.Errorf("binance: no ticker for %s", symbol)
	}
	bid := parseFloat(books[0].BidPrice)
	ask := parseFloat(books[0].AskPrice)
	return market.Ticker{
		Symbol:    sym.Internal(),
		Last:      (bid + ask) / 2,
		Bid:       bid,
		Ask:       ask,
		UpdatedAt: time.Now(),
	}, nil
}

// GetKlines fetches closed candles for the window, oldest first.
func (g *Gateway) GetKlines(ctx context.Context, symbol, interval string, start, end time.Time) ([]market.Candle, error) {
	sym, err := symbolpkg.Parse(symbol)
	if err != nil {
		return nil, err
	}
	interval = strings.ToLower(strings.TrimSpace(interval))
	if interval == "" {
		return nil, fmt.Errorf("binance: interval is required")
	}
	svc := g.client.NewKlinesService().
		Symbol(sym.Exchange()).
		Interval(interval).
		Limit(maxKlineLimit)
	if !start.IsZero() {
		svc = svc.StartTime(start.UnixMilli())
	}
	if !end.IsZero() {
		svc = svc.EndTime(end.UnixMilli())
	}
	kls, err := svc.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("binance: klines %s %s: %w", symbol, interval, err)
	}
	out := make([]market.Candle, 0, len(kls))
	for _, kl := range kls {
		if kl == nil {
			continue
		}
		out = append(out, market.Candle{
			OpenTime:  kl.OpenTime,
			CloseTime: kl.CloseTime,
			Open:      parseFloat(kl.Open),
			High:      parseFloat(kl.High),
			Low:       parseFloat(kl.Low),
			Close:     parseFloat(kl.Close),
			Volume:    parseFloat(kl.Volume),
		})
	}
	return out, nil
}

// TradableSymbols lists the spot symbols trading against the configured quote.
func (g *Gateway) TradableSymbols(ctx context.Context) ([]string, error) {
	info, err := g.client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("binance: exchange info: %w", err)
	}
	var out []string
	for _, s := range info.Symbols {
		if s.Status != "TRADING" || !strings.EqualFold(s.QuoteAsset, g.cfg.Quote) {
			continue
		}
		out = append(out, symbolpkg.Symbol{Base: s.BaseAsset, Quote: strings.ToUpper(s.QuoteAsset)}.Internal())
	}
	return out, nil
}

// PlaceMarketBuy submits a market buy sized in quote currency and returns the
// exchange order ID.
func (g *Gateway) PlaceMarketBuy(ctx context.Context, symbol string, quoteAmount float64) (string, error) {
	sym, err := symbolpkg.Parse(symbol)
	if err != nil {
		return "", err
	}
	if quoteAmount <= 0 {
		return "", fmt.Errorf("binance: buy amount must be positive, got %f", quoteAmount)
	}
	resp, err := g.client.NewCreateOrderService().
		Symbol(sym.Exchange()).
		Side(binance.SideTypeBuy).
		Type(binance.OrderTypeMarket).
		QuoteOrderQty(formatAmount(quoteAmount)).
		NewClientOrderID(clientOrderID()).
		Do(ctx)
	if err != nil {
		return "", fmt.Errorf("binance: market buy %s: %w", symbol, err)
	}
	logger.Infof("binance: market buy %s for %.2f %s, order %d", sym.Internal(), quoteAmount, g.cfg.Quote, resp.OrderID)
	return strconv.FormatInt(resp.OrderID, 10), nil
}

// PlaceMarketSell submits a market sell sized in base quantity.
func (g *Gateway) PlaceMarketSell(ctx context.Context, symbol string, baseQuantity float64) (string, error) {
	sym, err := symbolpkg.Parse(symbol)
	if err != nil {
		return "", err
	}
	if baseQuantity <= 0 {
		return "", fmt.Errorf("binance: sell quantity must be positive, got %f", baseQuantity)
	}
	resp, err := g.client.NewCreateOrderService().
		Symbol(sym.Exchange()).
		Side(binance.SideTypeSell).
		Type(binance.OrderTypeMarket).
		Quantity(formatAmount(baseQuantity)).
		NewClientOrderID(clientOrderID()).
		Do(ctx)
	if err != nil {
		return "", fmt.Errorf("binance: market sell %s: %w", symbol, err)
	}
	logger.Infof("binance: market sell %s qty %s, order %d", sym.Internal(), formatAmount(baseQuantity), resp.OrderID)
	return strconv.FormatInt(resp.OrderID, 10), nil
}

// OrderFillPrice returns the volume-weighted average fill price of an order,
// or zero with nil error while the fill is still unknown.
func (g *Gateway) OrderFillPrice(ctx context.Context, symbol, orderID string) (float64, error) {
	sym, err := symbolpkg.Parse(symbol)
	if err != nil {
		return 0, err
	}
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("binance: bad order id %q: %w", orderID, err)
	}
	order, err := g.client.NewGetOrderService().Symbol(sym.Exchange()).OrderID(id).Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("binance: get order %s/%s: %w", symbol, orderID, err)
	}
	executed := parseFloat(order.ExecutedQuantity)
	quote := parseFloat(order.CummulativeQuoteQuantity)
	if executed <= 0 || quote <= 0 {
		return 0, nil
	}
	return quote / executed, nil
}

// AvailableBalance returns the free balance of asset.
func (g *Gateway) AvailableBalance(ctx context.Context, asset string) (float64, error) {
	account, err := g.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("binance: account: %w", err)
	}
	asset = strings.ToUpper(strings.TrimSpace(asset))
	for _, b := range account.Balances {
		if strings.EqualFold(b.Asset, asset) {
			return parseFloat(b.Free), nil
		}
	}
	return 0, nil
}

// MinOrderSizes maps each tradable symbol to its minimum base order quantity
// from the exchange lot-size filter.
func (g *Gateway) MinOrderSizes(ctx context.Context) (map[string]float64, error) {
	info, err := g.client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("binance: exchange info: %w", err)
	}
	out := make(map[string]float64)
	for _, s := range info.Symbols {
		if s.Status != "TRADING" || !strings.EqualFold(s.QuoteAsset, g.cfg.Quote) {
			continue
		}
		lot := s.LotSizeFilter()
		if lot == nil {
			continue
		}
		sym := symbolpkg.Symbol{Base: s.BaseAsset, Quote: strings.ToUpper(s.QuoteAsset)}
		out[sym.Internal()] = parseFloat(lot.MinQuantity)
	}
	return out, nil
}

// clientOrderID fits the exchange's 36-character limit exactly.
func clientOrderID() string {
	return uuid.NewString()
}

func parseFloat(v string) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(v), 64)
	return f
}

// formatAmount trims the float to 8 decimals, the finest granularity Binance
// accepts.
func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', 8, 64)
}
