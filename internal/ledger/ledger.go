package ledger

import (
	"fmt"
	"sync"
	"time"

	"krypto/internal/logger"
	symbolpkg "krypto/internal/pkg/symbol"
)

// Ledger owns all open positions, one per base asset. Reads may run
// concurrently; any mutation excludes readers and other writers for the whole
// operation.
type Ledger struct {
	mu              sync.RWMutex
	positions       map[string]*Position
	lastTransaction time.Time

	policy GreenRatioPolicy
	nowFn  func() time.Time
}

// New creates an empty ledger with the given adaptive-margin policy.
func New(policy GreenRatioPolicy) *Ledger {
	return &Ledger{
		positions: make(map[string]*Position),
		policy:    policy.withDefaults(),
		nowFn:     time.Now,
	}
}

// Has reports whether a position exists for the symbol's base asset.
func (l *Ledger) Has(symbol string) bool {
	asset := symbolpkg.BaseAsset(symbol)
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.positions[asset]
	return ok
}

// Add registers a freshly opened position. It fails if one already exists for
// the same base asset; callers are expected to check Has first.
func (l *Ledger) Add(p *Position) error {
	asset := symbolpkg.BaseAsset(p.Symbol)
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.positions[asset]; ok {
		return fmt.Errorf("ledger: position for %s already exists", asset)
	}
	l.positions[asset] = p
	l.lastTransaction = l.nowFn()
	logger.Infof("ledger: position added %s target=%.6f", p.Symbol, p.High)
	return nil
}

// Remove closes out the position for the symbol's base asset. Removal is the
// only transition out of the open state; a later buy starts a fresh position.
func (l *Ledger) Remove(symbol string) {
	asset := symbolpkg.BaseAsset(symbol)
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.positions[asset]; ok {
		delete(l.positions, asset)
		l.lastTransaction = l.nowFn()
		logger.Infof("ledger: position removed %s", symbol)
	}
}

// Update runs fn against the live position under the write lock. It reports
// false when no position exists for the symbol.
func (l *Ledger) Update(symbol string, fn func(*Position)) bool {
	asset := symbolpkg.BaseAsset(symbol)
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.positions[asset]
	if !ok {
		return false
	}
	fn(p)
	return true
}

// Get returns a copy of the position for the symbol, if any. The copy carries
// its own history slice so callers cannot alias ledger state.
func (l *Ledger) Get(symbol string) (Position, bool) {
	asset := symbolpkg.BaseAsset(symbol)
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.positions[asset]
	if !ok {
		return Position{}, false
	}
	return snapshot(p), true
}

// Positions returns copies of all open positions.
func (l *Ledger) Positions() []Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Position, 0, len(l.positions))
	for _, p := range l.positions {
		out = append(out, snapshot(p))
	}
	return out
}

// Assets lists the base assets currently held.
func (l *Ledger) Assets() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]string, 0, len(l.positions))
	for asset := range l.positions {
		out = append(out, asset)
	}
	return out
}

// Count returns the number of open positions.
func (l *Ledger) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.positions)
}

func snapshot(p *Position) Position {
	cp := *p
	cp.AverageDownHistory = append([]AverageDownEntry(nil), p.AverageDownHistory...)
	return cp
}
