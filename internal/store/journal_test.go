package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := NewJournal(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func TestRecordAndQueryTrades(t *testing.T) {
	j := openJournal(t)

	trades := []TradeRecord{
		{Symbol: "BTC-EUR", Side: SideBuy, Price: 100, Volume: 0.5, QuoteAmount: 50, ExecutedAt: 10},
		{Symbol: "ETH-EUR", Side: SideBuy, Price: 20, Volume: 2, QuoteAmount: 40, ExecutedAt: 20},
		{Symbol: "BTC-EUR", Side: SideSell, Price: 110, Volume: 0.5, QuoteAmount: 55, Profit: 5, ExecutedAt: 30},
	}
	for i := range trades {
		require.NoError(t, j.RecordTrade(&trades[i]))
	}

	recent, err := j.RecentTrades(2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, SideSell, recent[0].Side, "newest first")
	assert.Equal(t, "ETH-EUR", recent[1].Symbol)

	btc, err := j.TradesForSymbol("BTC-EUR", 0)
	require.NoError(t, err)
	require.Len(t, btc, 2)
	assert.Equal(t, SideBuy, btc[0].Side, "oldest first")
	assert.InDelta(t, 5, btc[1].Profit, 1e-9)
}

func TestExecutedAtDefaultsToNow(t *testing.T) {
	j := openJournal(t)
	rec := TradeRecord{Symbol: "BTC-EUR", Side: SideBuy}
	require.NoError(t, j.RecordTrade(&rec))
	assert.NotZero(t, rec.ExecutedAt)
}

func TestSessionLifecycle(t *testing.T) {
	j := openJournal(t)

	id, err := j.StartSession(1000, "percentage(80)")
	require.NoError(t, err)
	require.NotZero(t, id)

	require.NoError(t, j.EndSession(id, 42.5))

	var rec SessionRecord
	require.NoError(t, j.db.First(&rec, id).Error)
	assert.InDelta(t, 1000, rec.InitialBudget, 1e-9)
	assert.InDelta(t, 42.5, rec.FinalProfit, 1e-9)
	assert.NotZero(t, rec.EndedAt)
}
