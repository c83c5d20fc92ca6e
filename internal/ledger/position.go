package ledger

import (
	"time"

	"github.com/shopspring/decimal"

	"krypto/internal/logger"
)

const (
	// feeHaircut trims the stored volume by the 0.1% taker fee.
	feeHaircut = 0.001
	// maxAverageDowns bounds the open->open self-loop.
	maxAverageDowns = 3
	// averageDownCooloff is the minimum spacing between average-downs.
	averageDownCooloff = 5 * time.Minute
	// sellMarginDivisor backs out the 0.5% baseline margin embedded in High
	// when an adaptive margin is applied instead.
	sellMarginDivisor = 1.005
)

// AverageDownEntry records one executed average-down.
type AverageDownEntry struct {
	Timestamp            time.Time
	Price                float64
	Volume               float64
	InvestedAmount       float64
	PreviousAveragePrice float64
}

// Position holds the full state of one open spot position. At most one exists
// per base asset; the Ledger enforces that. Mutations happen through the
// Ledger's write path only.
type Position struct {
	Symbol                 string
	Volume                 float64
	PurchasePrice          float64 // volume-weighted average
	OriginalPurchasePrice  float64 // first fill, never changes
	OriginalVolume         float64
	TotalInvested          float64
	High                   float64 // sell target, fixed at first fill
	AverageDownCount       int
	AverageDownHistory     []AverageDownEntry
	NextAverageDownTrigger float64
	AverageDownEnabled     bool
	LastAverageDownAt      time.Time
	LastMarketPrice        float64
	OpenedAt               time.Time
	OrderID                string

	stepPct float64
	nowFn   func() time.Time
}

// NewPosition creates an open position from the first fill. The fee haircut is
// applied to the stored volume; the implied purchase price is invested/volume.
// The first average-down trigger sits one step below the purchase price, and
// High is fixed at fillPrice plus the 0.5% baseline margin.
func NewPosition(sym string, fillPrice, fillVolume, investedAmount, stepPct float64) *Position {
	if stepPct <= 0 {
		stepPct = 0.02
	}
	purchase := investedAmount / fillVolume
	p := &Position{
		Symbol:                sym,
		Volume:                fillVolume * (1 - feeHaircut),
		PurchasePrice:         purchase,
		OriginalPurchasePrice: purchase,
		OriginalVolume:        fillVolume * (1 - feeHaircut),
		TotalInvested:         investedAmount,
		High:                  mulFactor(fillPrice, 1+0.005),
		AverageDownEnabled:    true,
		LastMarketPrice:       fillPrice,
		OpenedAt:              time.Now().UTC(),
		stepPct:               stepPct,
		nowFn:                 time.Now,
	}
	p.NextAverageDownTrigger = mulFactor(purchase, 1-stepPct)
	logger.Infof("position opened %s: price=%.6f volume=%.4f invested=%.2f trigger=%.6f target=%.6f",
		sym, fillPrice, p.Volume, investedAmount, p.NextAverageDownTrigger, p.High)
	return p
}

// ShouldAverageDown reports whether the next averaging buy is due at the given
// market price.
func (p *Position) ShouldAverageDown(currentPrice float64) bool {
	if !p.AverageDownEnabled || p.AverageDownCount >= maxAverageDowns {
		return false
	}
	if p.now().Sub(p.LastAverageDownAt) < averageDownCooloff && !p.LastAverageDownAt.IsZero() {
		return false
	}
	return currentPrice <= p.NextAverageDownTrigger
}

// ExecuteAverageDown books an additional fill at currentPrice, recomputes the
// volume-weighted average and advances the trigger one step below it. The sell
// target High is deliberately left untouched: averaging down lowers the
// break-even without moving the profit target.
func (p *Position) ExecuteAverageDown(currentPrice, additionalInvestment float64) float64 {
	additionalVolume := additionalInvestment / currentPrice

	p.AverageDownHistory = append(p.AverageDownHistory, AverageDownEntry{
		Timestamp:            p.now(),
		Price:                currentPrice,
		Volume:               additionalVolume,
		InvestedAmount:       additionalInvestment,
		PreviousAveragePrice: p.PurchasePrice,
	})

	newVolume := p.Volume + additionalVolume
	newInvested := p.TotalInvested + additionalInvestment
	newAverage := newInvested / newVolume

	p.Volume = newVolume
	p.TotalInvested = newInvested
	p.PurchasePrice = newAverage
	p.AverageDownCount++
	p.LastAverageDownAt = p.now()
	p.NextAverageDownTrigger = mulFactor(newAverage, 1-p.stepPct)

	logger.Infof("average-down #%d/%d %s: +%.2f at %.6f, avg %.6f -> next trigger %.6f, target stays %.6f",
		p.AverageDownCount, maxAverageDowns, p.Symbol, additionalInvestment, currentPrice,
		newAverage, p.NextAverageDownTrigger, p.High)
	return newAverage
}

// CanSell reports whether the position clears its profit target. With a zero
// margin the nominal High applies; otherwise the 0.5% baseline is backed out
// and replaced with the adaptive margin from the portfolio green ratio.
func (p *Position) CanSell(currentPrice, adaptiveMargin float64) bool {
	if adaptiveMargin == 0 {
		return currentPrice > p.High
	}
	required := mulFactor(p.High/sellMarginDivisor, 1+adaptiveMargin)
	return currentPrice > required
}

// UnrealizedPL returns the absolute and percentage P/L at the given price.
func (p *Position) UnrealizedPL(currentPrice float64) (abs, pct float64) {
	abs = currentPrice*p.Volume - p.TotalInvested
	if p.TotalInvested != 0 {
		pct = abs / p.TotalInvested * 100
	}
	return abs, pct
}

// DisableAverageDown turns further averaging off. One-way: there is no enable
// path within a run.
func (p *Position) DisableAverageDown(reason string) {
	if !p.AverageDownEnabled {
		return
	}
	p.AverageDownEnabled = false
	logger.Infof("average-down disabled for %s: %s", p.Symbol, reason)
}

func (p *Position) now() time.Time {
	if p.nowFn != nil {
		return p.nowFn()
	}
	return time.Now()
}

// mulFactor multiplies through decimal to keep trigger and target arithmetic
// stable across repeated derivations.
func mulFactor(value, factor float64) float64 {
	out, _ := decimal.NewFromFloat(value).Mul(decimal.NewFromFloat(factor)).Float64()
	return out
}
