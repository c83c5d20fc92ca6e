// Package cooldown rate-limits trading activity per symbol and globally. It
// keeps buys and sells from stacking up on one market and enforces a lockout
// window after every sale.
package cooldown

import (
	"sync"
	"time"

	"krypto/internal/logger"
)

// Config holds the cooldown windows. Zero values fall back to the defaults in
// applyDefaults.
type Config struct {
	BuyDelay       time.Duration `mapstructure:"buy_delay"`
	SellDelay      time.Duration `mapstructure:"sell_delay"`
	GlobalCooldown time.Duration `mapstructure:"global_cooldown"`
	SellLockout    time.Duration `mapstructure:"sell_lockout"`
}

func (c *Config) applyDefaults() {
	if c.BuyDelay <= 0 {
		c.BuyDelay = 10 * time.Minute
	}
	if c.SellDelay <= 0 {
		c.SellDelay = time.Minute
	}
	if c.GlobalCooldown <= 0 {
		c.GlobalCooldown = 30 * time.Second
	}
	if c.SellLockout <= 0 {
		c.SellLockout = 5 * time.Minute
	}
}

// record is the per-symbol cooldown state. A zero time means the event never
// happened.
type record struct {
	lastBuy      time.Time
	lastSell     time.Time
	lockoutStart time.Time
}

// Manager tracks per-symbol and global cooldown clocks. Per-symbol records
// live in a sync.Map; the global clock has its own mutex so symbol checks do
// not serialize on each other.
type Manager struct {
	cfg Config

	records sync.Map // symbol -> *entry

	globalMu   sync.Mutex
	lastAction time.Time

	nowFn func() time.Time
}

// entry wraps record with its own lock so two symbols never contend.
type entry struct {
	mu sync.Mutex
	record
}

// NewManager builds a manager with the configured windows.
func NewManager(cfg Config) *Manager {
	cfg.applyDefaults()
	return &Manager{cfg: cfg, nowFn: time.Now}
}

func (m *Manager) entryFor(symbol string) *entry {
	if v, ok := m.records.Load(symbol); ok {
		return v.(*entry)
	}
	v, _ := m.records.LoadOrStore(symbol, &entry{})
	return v.(*entry)
}

// CanBuy reports whether a buy on symbol is currently allowed. Checks run in
// lockout, global, per-symbol order so the caller's log shows the dominant
// reason.
func (m *Manager) CanBuy(symbol string) bool {
	now := m.nowFn()
	e := m.entryFor(symbol)

	e.mu.Lock()
	lockedOut := !e.lockoutStart.IsZero() && now.Sub(e.lockoutStart) < m.cfg.SellLockout
	buyRecent := !e.lastBuy.IsZero() && now.Sub(e.lastBuy) < m.cfg.BuyDelay
	e.mu.Unlock()

	if lockedOut {
		logger.Debugf("cooldown: %s in post-sell lockout, %s remaining",
			symbol, m.remaining(e, now, lockout))
		return false
	}
	if m.globalBlocked(now) {
		logger.Debugf("cooldown: global window blocks buy of %s", symbol)
		return false
	}
	if buyRecent {
		logger.Debugf("cooldown: %s bought too recently, %s remaining",
			symbol, m.remaining(e, now, buy))
		return false
	}
	return true
}

// CanSell reports whether a sell on symbol is currently allowed. The post-sell
// lockout never applies to sells.
func (m *Manager) CanSell(symbol string) bool {
	now := m.nowFn()
	if m.globalBlocked(now) {
		logger.Debugf("cooldown: global window blocks sell of %s", symbol)
		return false
	}
	e := m.entryFor(symbol)
	e.mu.Lock()
	sellRecent := !e.lastSell.IsZero() && now.Sub(e.lastSell) < m.cfg.SellDelay
	e.mu.Unlock()
	if sellRecent {
		logger.Debugf("cooldown: %s sold too recently, %s remaining",
			symbol, m.remaining(e, now, sell))
		return false
	}
	return true
}

// RecordBuy stamps the buy, sell and global clocks. The sell clock is stamped
// too so a position cannot be flipped immediately after entry.
func (m *Manager) RecordBuy(symbol string) {
	now := m.nowFn()
	e := m.entryFor(symbol)
	e.mu.Lock()
	e.lastBuy = now
	e.lastSell = now
	e.mu.Unlock()
	m.stampGlobal(now)
	logger.Infof("cooldown: buy recorded for %s", symbol)
}

// RecordSell stamps the sell clock, starts the post-sell lockout and stamps
// the global clock.
func (m *Manager) RecordSell(symbol string) {
	now := m.nowFn()
	e := m.entryFor(symbol)
	e.mu.Lock()
	e.lastSell = now
	e.lockoutStart = now
	e.mu.Unlock()
	m.stampGlobal(now)
	logger.Infof("cooldown: sell recorded for %s, lockout until %s",
		symbol, now.Add(m.cfg.SellLockout).Format(time.RFC3339))
}

func (m *Manager) globalBlocked(now time.Time) bool {
	m.globalMu.Lock()
	defer m.globalMu.Unlock()
	return !m.lastAction.IsZero() && now.Sub(m.lastAction) < m.cfg.GlobalCooldown
}

func (m *Manager) stampGlobal(now time.Time) {
	m.globalMu.Lock()
	m.lastAction = now
	m.globalMu.Unlock()
}

// clock selects which per-symbol timestamp a remaining-time query refers to.
type clock int

const (
	buy clock = iota
	sell
	lockout
)

func (m *Manager) remaining(e *entry, now time.Time, c clock) time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	var since time.Time
	var window time.Duration
	switch c {
	case buy:
		since, window = e.lastBuy, m.cfg.BuyDelay
	case sell:
		since, window = e.lastSell, m.cfg.SellDelay
	case lockout:
		since, window = e.lockoutStart, m.cfg.SellLockout
	}
	if since.IsZero() {
		return 0
	}
	rem := window - now.Sub(since)
	if rem < 0 {
		return 0
	}
	return rem
}

// SymbolStatus is the externally visible cooldown state of one symbol.
type SymbolStatus struct {
	Symbol           string        `json:"symbol"`
	BuyRemaining     time.Duration `json:"buy_remaining"`
	SellRemaining    time.Duration `json:"sell_remaining"`
	LockoutRemaining time.Duration `json:"lockout_remaining"`
}

// Active returns the status of every symbol with at least one running clock,
// for the status endpoint.
func (m *Manager) Active() []SymbolStatus {
	now := m.nowFn()
	var out []SymbolStatus
	m.records.Range(func(k, v any) bool {
		e := v.(*entry)
		s := SymbolStatus{
			Symbol:           k.(string),
			BuyRemaining:     m.remaining(e, now, buy),
			SellRemaining:    m.remaining(e, now, sell),
			LockoutRemaining: m.remaining(e, now, lockout),
		}
		if s.BuyRemaining > 0 || s.SellRemaining > 0 || s.LockoutRemaining > 0 {
			out = append(out, s)
		}
		return true
	})
	return out
}

// ActiveLockouts lists the symbols currently in post-sell lockout.
func (m *Manager) ActiveLockouts() []string {
	now := m.nowFn()
	var out []string
	m.records.Range(func(k, v any) bool {
		e := v.(*entry)
		e.mu.Lock()
		locked := !e.lockoutStart.IsZero() && now.Sub(e.lockoutStart) < m.cfg.SellLockout
		e.mu.Unlock()
		if locked {
			out = append(out, k.(string))
		}
		return true
	})
	return out
}

// Cleanup drops records whose every clock is older than maxAge and returns
// how many were removed. Run it periodically so a long session does not
// accumulate one record per symbol ever touched.
func (m *Manager) Cleanup(maxAge time.Duration) int {
	now := m.nowFn()
	removed := 0
	m.records.Range(func(k, v any) bool {
		e := v.(*entry)
		e.mu.Lock()
		stale := olderThan(e.lastBuy, now, maxAge) &&
			olderThan(e.lastSell, now, maxAge) &&
			olderThan(e.lockoutStart, now, maxAge)
		e.mu.Unlock()
		if stale {
			m.records.Delete(k)
			removed++
		}
		return true
	})
	if removed > 0 {
		logger.Debugf("cooldown: cleaned up %d stale records", removed)
	}
	return removed
}

func olderThan(t, now time.Time, maxAge time.Duration) bool {
	return t.IsZero() || now.Sub(t) >= maxAge
}
