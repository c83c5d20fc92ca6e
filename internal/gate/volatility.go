package gate

import (
	"krypto/internal/market"
)

// VolatilityVerdict summarizes how much a symbol moved over a candle window.
// UpCloses and DownCloses count the distribution window, not the full range
// window.
type VolatilityVerdict struct {
	RangePct   float64 `json:"range_pct"`
	UpCloses   int     `json:"up_closes"`
	DownCloses int     `json:"down_closes"`
	Candles    int     `json:"candles"`
}

// DistributionPolicy is the close-direction screen layered on the raw range
// check. A window where down-closes dominate is a falling knife, not the chop
// this strategy trades; a one-way rise is fine.
type DistributionPolicy struct {
	// RecentWindow is how many of the newest candles are examined.
	RecentWindow int
	// MaxDownPerUp caps the down-closes tolerated per up-close before the
	// window counts as down-dominated.
	MaxDownPerUp float64
	// ConfirmWindow, when larger than RecentWindow, cross-checks the same
	// rule over that many candles. Zero disables the cross-check.
	ConfirmWindow int
}

func (p DistributionPolicy) withDefaults() DistributionPolicy {
	if p.RecentWindow <= 0 {
		p.RecentWindow = 10
	}
	if p.MaxDownPerUp <= 0 {
		p.MaxDownPerUp = 1
	}
	return p
}

// Balanced reports whether up-closes are not dominated by down-closes in the
// recent window, and in the confirmation window when one is configured.
func (p DistributionPolicy) Balanced(candles []market.Candle) bool {
	p = p.withDefaults()
	up, down := closeCounts(tail(candles, p.RecentWindow))
	if float64(down) > float64(up)*p.MaxDownPerUp {
		return false
	}
	if p.ConfirmWindow > p.RecentWindow {
		up, down = closeCounts(tail(candles, p.ConfirmWindow))
		if float64(down) > float64(up)*p.MaxDownPerUp {
			return false
		}
	}
	return true
}

// MeasureVolatility computes the high-low range of the window as a percentage
// of the mean typical price.
func MeasureVolatility(candles []market.Candle) VolatilityVerdict {
	if len(candles) == 0 {
		return VolatilityVerdict{}
	}
	maxHigh := candles[0].High
	minLow := candles[0].Low
	sumTypical := 0.0
	for _, c := range candles {
		if c.High > maxHigh {
			maxHigh = c.High
		}
		if c.Low < minLow {
			minLow = c.Low
		}
		sumTypical += c.TypicalPrice()
	}
	v := VolatilityVerdict{Candles: len(candles)}
	v.UpCloses, v.DownCloses = closeCounts(candles)
	mean := sumTypical / float64(len(candles))
	if mean > 0 {
		v.RangePct = (maxHigh - minLow) / mean * 100
	}
	return v
}

// CheckVolatility applies the range requirement and the distribution policy.
func CheckVolatility(candles []market.Candle, minPct float64, policy DistributionPolicy) (bool, VolatilityVerdict) {
	v := MeasureVolatility(candles)
	policy = policy.withDefaults()
	v.UpCloses, v.DownCloses = closeCounts(tail(candles, policy.RecentWindow))
	if v.RangePct < minPct {
		return false, v
	}
	return policy.Balanced(candles), v
}

// HasSufficientVolatility is CheckVolatility with the default policy.
func HasSufficientVolatility(candles []market.Candle, minPct float64) (bool, VolatilityVerdict) {
	return CheckVolatility(candles, minPct, DistributionPolicy{})
}

func closeCounts(candles []market.Candle) (up, down int) {
	for _, c := range candles {
		switch {
		case c.Close > c.Open:
			up++
		case c.Close < c.Open:
			down++
		}
	}
	return up, down
}

func tail(candles []market.Candle, n int) []market.Candle {
	if n <= 0 || n >= len(candles) {
		return candles
	}
	return candles[len(candles)-n:]
}
