package ledger

import "time"

// GreenRatioPolicy maps the fraction of profitable positions to the adaptive
// sell margin. The breakpoints are tunable; the defaults keep the original
// shape (margin widens as the profitable fraction shrinks).
type GreenRatioPolicy struct {
	// StaleAfter marks the portfolio stale when no transaction happened for
	// this long; the fallback margin then applies.
	StaleAfter  time.Duration
	StaleMargin float64

	// SmallBookSize is the position count below which the ratio is not
	// considered meaningful and SmallBookMargin applies.
	SmallBookSize   int
	SmallBookMargin float64

	// Steps are evaluated in order: the first step whose Below exceeds the
	// green ratio wins. DefaultMargin applies when none match.
	Steps         []GreenRatioStep
	DefaultMargin float64
}

// GreenRatioStep is one breakpoint of the margin table.
type GreenRatioStep struct {
	Below  float64
	Margin float64
}

func (p GreenRatioPolicy) withDefaults() GreenRatioPolicy {
	if p.StaleAfter <= 0 {
		p.StaleAfter = 30 * time.Minute
	}
	if p.StaleMargin == 0 {
		p.StaleMargin = 0.0065
	}
	if p.SmallBookSize == 0 {
		p.SmallBookSize = 10
	}
	if p.SmallBookMargin == 0 {
		p.SmallBookMargin = 0.01
	}
	if len(p.Steps) == 0 {
		p.Steps = []GreenRatioStep{
			{Below: 0.25, Margin: 0.0075},
			{Below: 0.5, Margin: 0.01},
			{Below: 0.75, Margin: 0.0125},
		}
	}
	if p.DefaultMargin == 0 {
		p.DefaultMargin = 0.015
	}
	return p
}

// GreenRatio returns the adaptive sell margin for the current book: zero when
// the book is empty, the stale fallback when no transaction happened recently,
// and otherwise the policy-table margin for the fraction of positions trading
// at or above their original purchase price.
func (l *Ledger) GreenRatio() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if len(l.positions) == 0 {
		return 0
	}
	if l.nowFn().Sub(l.lastTransaction) >= l.policy.StaleAfter {
		return l.policy.StaleMargin
	}
	if len(l.positions) < l.policy.SmallBookSize {
		return l.policy.SmallBookMargin
	}

	green := 0
	for _, p := range l.positions {
		if p.LastMarketPrice >= p.OriginalPurchasePrice {
			green++
		}
	}
	ratio := float64(green) / float64(len(l.positions))
	for _, step := range l.policy.Steps {
		if ratio < step.Below {
			return step.Margin
		}
	}
	return l.policy.DefaultMargin
}
