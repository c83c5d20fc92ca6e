// Package budget tracks trading capital and shields realized profit from
// reinvestment. All mutations run inside a single critical section so reserve
// and release can never interleave.
package budget

import (
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"krypto/internal/logger"
)

// emergencyLossPct is the drawdown fraction that arms the advisory
// emergency-mode signal.
var emergencyLossPct = decimal.NewFromFloat(0.9)

// Status is one consistent snapshot of the engine.
type Status struct {
	Available       float64 `json:"available"`
	Invested        float64 `json:"invested"`
	RealizedProfit  float64 `json:"realized_profit"`
	ProtectedProfit float64 `json:"protected_profit"`
	Initial         float64 `json:"initial"`
	Ceiling         float64 `json:"ceiling"`
	OverallPL       float64 `json:"overall_pl"`
}

// Engine is the budget and profit-protection engine. The ceiling equals the
// initial balance and is never exceeded; protected profit only grows.
type Engine struct {
	mu         sync.Mutex
	initial    decimal.Decimal
	ceiling    decimal.Decimal
	available  decimal.Decimal
	invested   decimal.Decimal
	realized   decimal.Decimal
	protected  decimal.Decimal
	overallPL  decimal.Decimal
	protection Protection
}

// NewEngine creates an engine with the given protection policy. Capital is
// zero until SetInitialBalance.
func NewEngine(p Protection) *Engine {
	return &Engine{protection: p}
}

// SetInitialBalance seeds capital once per run. A second call with non-zero
// capital already set is a silent no-op so the ceiling stays stable.
func (e *Engine) SetInitialBalance(balance float64) {
	mustNonNegative("balance", balance)
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.initial.IsZero() {
		return
	}
	e.initial = decimal.NewFromFloat(balance)
	e.ceiling = e.initial
	e.available = e.initial
	e.invested = decimal.Zero
	e.realized = decimal.Zero
	e.protected = decimal.Zero
	logger.Infof("budget initialized: %.2f EUR, ceiling %.2f EUR, protection=%s",
		balance, balance, e.protection)
}

// Reserve atomically moves amount from available to invested. It reports false
// and leaves state untouched when funds are insufficient; there are no partial
// reservations.
func (e *Engine) Reserve(amount float64, sym string) bool {
	mustNonNegative("amount", amount)
	amt := decimal.NewFromFloat(amount)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.available.LessThan(amt) {
		logger.Warnf("budget: reserve rejected for %s: need %.2f, available %s (protected %s)",
			sym, amount, e.available, e.protected)
		return false
	}
	e.available = e.available.Sub(amt)
	e.invested = e.invested.Add(amt)
	logger.Infof("budget: reserved %.2f EUR for %s, available %s", amount, sym, e.available)
	return true
}

// Release books a sale: the original investment returns to available, the
// profit (which may be negative) is realized, and the protection policy
// decides how much of a gain is shielded. Reinvestable profit that would push
// available+invested past the ceiling is shielded as well. Release is for
// completed trades only; a failed order is undone with Rollback.
func (e *Engine) Release(originalInvestment, saleProceeds float64, sym string) {
	mustNonNegative("originalInvestment", originalInvestment)
	mustNonNegative("saleProceeds", saleProceeds)
	investment := decimal.NewFromFloat(originalInvestment)
	proceeds := decimal.NewFromFloat(saleProceeds)

	e.mu.Lock()
	defer e.mu.Unlock()

	e.available = e.available.Add(investment)
	e.invested = e.invested.Sub(investment)

	profit := proceeds.Sub(investment)
	e.realized = e.realized.Add(profit)
	e.overallPL = e.overallPL.Add(profit)

	shield := e.protection.shielded(profit)
	reinvestable := profit.Sub(shield)
	e.protected = e.protected.Add(shield)

	switch {
	case reinvestable.Sign() > 0:
		// the ceiling is a hard cap: profit only flows back into capital
		// that earlier losses carved out
		headroom := e.ceiling.Sub(e.available.Add(e.invested))
		if reinvestable.GreaterThan(headroom) {
			excess := reinvestable.Sub(headroom)
			e.protected = e.protected.Add(excess)
			reinvestable = headroom
			logger.Warnf("budget: ceiling reached, %s EUR additionally shielded", excess)
		}
		e.available = e.available.Add(reinvestable)
	case reinvestable.Sign() < 0:
		// losses come straight out of available capital
		e.available = e.available.Add(reinvestable)
	}

	logger.Infof("budget: released %s: investment %.2f, proceeds %.2f, profit %s (shielded %s), available %s",
		sym, originalInvestment, saleProceeds, profit, shield, e.available)
}

// Rollback returns a reservation after a failed order. No money moved on the
// exchange, so available is restored in full and nothing is booked as profit
// or loss.
func (e *Engine) Rollback(amount float64, sym string) {
	mustNonNegative("amount", amount)
	amt := decimal.NewFromFloat(amount)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.invested = e.invested.Sub(amt)
	e.available = e.available.Add(amt)
	logger.Infof("budget: rolled back %.2f EUR for %s, available %s", amount, sym, e.available)
}

// CanAffordStrict is the read-only affordability check against available
// capital only; protected profit never counts.
func (e *Engine) CanAffordStrict(amount float64, sym string) bool {
	mustNonNegative("amount", amount)
	e.mu.Lock()
	defer e.mu.Unlock()
	ok := e.available.GreaterThanOrEqual(decimal.NewFromFloat(amount))
	if !ok {
		logger.Debugf("budget: %s not affordable: need %.2f, available %s", sym, amount, e.available)
	}
	return ok
}

// ShouldActivateEmergencyMode reports whether 90% of the initial budget is
// lost. Advisory only: the caller decides whether to liquidate.
func (e *Engine) ShouldActivateEmergencyMode() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.initial.IsZero() {
		return false
	}
	total := e.available.Add(e.invested)
	loss := e.initial.Sub(total)
	return loss.GreaterThanOrEqual(e.initial.Mul(emergencyLossPct))
}

// Snapshot returns the engine state as a single consistent view.
func (e *Engine) Snapshot() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Status{
		Available:       toFloat(e.available),
		Invested:        toFloat(e.invested),
		RealizedProfit:  toFloat(e.realized),
		ProtectedProfit: toFloat(e.protected),
		Initial:         toFloat(e.initial),
		Ceiling:         toFloat(e.ceiling),
		OverallPL:       toFloat(e.overallPL),
	}
}

func toFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

// mustNonNegative treats negative money amounts as programmer misuse, not a
// business rejection.
func mustNonNegative(name string, v float64) {
	if v < 0 {
		panic(fmt.Sprintf("budget: %s must not be negative, got %f", name, v))
	}
}
