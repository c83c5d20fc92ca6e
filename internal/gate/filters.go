package gate

import (
	talib "github.com/markcheno/go-talib"

	"krypto/internal/logger"
	"krypto/internal/market"
)

const (
	// DefaultRSIPeriod and DefaultRSIThreshold are the classic overbought
	// settings.
	DefaultRSIPeriod    = 14
	DefaultRSIThreshold = 70.0

	// DefaultRecentHighRatio rejects entries within 5% of the lookback high.
	DefaultRecentHighRatio = 0.95
)

// RSIOverbought reports whether the latest RSI value sits at or above
// threshold. Too little data for the period counts as not overbought; the
// other filters still apply.
func RSIOverbought(closes []float64, period int, threshold float64) (bool, float64) {
	if period <= 0 {
		period = DefaultRSIPeriod
	}
	if threshold <= 0 {
		threshold = DefaultRSIThreshold
	}
	if len(closes) <= period {
		logger.Debugf("rsi filter: only %d closes for period %d, skipping", len(closes), period)
		return false, 0
	}
	series := talib.Rsi(closes, period)
	last := series[len(series)-1]
	return last >= threshold, last
}

// NearRecentHigh reports whether price is at or above ratio times the highest
// high of the candle window. Buying near the top of the recent range is what
// this filter exists to prevent.
func NearRecentHigh(price float64, candles []market.Candle, ratio float64) (bool, float64) {
	if ratio <= 0 {
		ratio = DefaultRecentHighRatio
	}
	if len(candles) == 0 || price <= 0 {
		return false, 0
	}
	maxHigh := candles[0].High
	for _, c := range candles[1:] {
		if c.High > maxHigh {
			maxHigh = c.High
		}
	}
	if maxHigh <= 0 {
		return false, 0
	}
	return price >= maxHigh*ratio, maxHigh
}
