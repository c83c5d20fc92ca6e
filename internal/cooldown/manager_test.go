package cooldown

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func testManager() (*Manager, *time.Time) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	m := NewManager(Config{})
	m.nowFn = func() time.Time { return now }
	return m, &now
}

func TestDefaults(t *testing.T) {
	m := NewManager(Config{})
	assert.Equal(t, 10*time.Minute, m.cfg.BuyDelay)
	assert.Equal(t, time.Minute, m.cfg.SellDelay)
	assert.Equal(t, 30*time.Second, m.cfg.GlobalCooldown)
	assert.Equal(t, 5*time.Minute, m.cfg.SellLockout)
}

func TestFreshSymbolAllowsEverything(t *testing.T) {
	m, _ := testManager()
	assert.True(t, m.CanBuy("BTC-EUR"))
	assert.True(t, m.CanSell("BTC-EUR"))
}

func TestBuyDelay(t *testing.T) {
	m, now := testManager()
	m.RecordBuy("BTC-EUR")

	*now = now.Add(31 * time.Second) // past the global window
	assert.False(t, m.CanBuy("BTC-EUR"), "per-symbol buy delay still running")
	assert.True(t, m.CanBuy("ETH-EUR"), "other symbols only wait for the global window")

	*now = now.Add(10 * time.Minute)
	assert.True(t, m.CanBuy("BTC-EUR"))
}

func TestBuyAlsoStampsSellClock(t *testing.T) {
	m, now := testManager()
	m.RecordBuy("BTC-EUR")

	*now = now.Add(31 * time.Second)
	assert.False(t, m.CanSell("BTC-EUR"), "a fresh position cannot be flipped immediately")

	*now = now.Add(time.Minute)
	assert.True(t, m.CanSell("BTC-EUR"))
}

func TestSellLockoutBlocksBuysOnly(t *testing.T) {
	m, now := testManager()
	m.RecordSell("BTC-EUR")

	*now = now.Add(2 * time.Minute) // past global and sell delay, inside lockout
	assert.False(t, m.CanBuy("BTC-EUR"))
	assert.True(t, m.CanSell("BTC-EUR"), "lockout never applies to sells")
	assert.Equal(t, []string{"BTC-EUR"}, m.ActiveLockouts())

	*now = now.Add(3*time.Minute + time.Second)
	assert.True(t, m.CanBuy("BTC-EUR"))
	assert.Empty(t, m.ActiveLockouts())
}

func TestGlobalCooldownSpansSymbols(t *testing.T) {
	m, now := testManager()
	m.RecordBuy("BTC-EUR")

	assert.False(t, m.CanBuy("ETH-EUR"))
	assert.False(t, m.CanSell("ETH-EUR"))

	*now = now.Add(30 * time.Second)
	assert.True(t, m.CanBuy("ETH-EUR"))
	assert.True(t, m.CanSell("ETH-EUR"))
}

func TestActiveStatus(t *testing.T) {
	m, now := testManager()
	m.RecordSell("BTC-EUR")

	*now = now.Add(time.Minute)
	active := m.Active()
	assert.Len(t, active, 1)
	assert.Equal(t, "BTC-EUR", active[0].Symbol)
	assert.Equal(t, 4*time.Minute, active[0].LockoutRemaining)
	assert.Equal(t, time.Duration(0), active[0].SellRemaining)
}

func TestCleanup(t *testing.T) {
	m, now := testManager()
	m.RecordBuy("BTC-EUR")
	m.RecordBuy("ETH-EUR")

	*now = now.Add(30 * time.Minute)
	m.RecordBuy("ETH-EUR") // refresh one of them

	assert.Equal(t, 1, m.Cleanup(20*time.Minute))

	*now = now.Add(time.Minute) // clear the global window
	assert.True(t, m.CanBuy("BTC-EUR"), "cleaned record behaves like a fresh symbol")
	assert.False(t, m.CanBuy("ETH-EUR"))
}
