// Package store persists the trade journal in SQLite so a session's activity
// survives restarts and can be inspected afterwards.
package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// TradeSide distinguishes journal entries.
type TradeSide string

const (
	SideBuy         TradeSide = "buy"
	SideSell        TradeSide = "sell"
	SideAverageDown TradeSide = "average_down"
)

// TradeRecord is one executed order.
type TradeRecord struct {
	ID          int64     `gorm:"column:id;primaryKey"`
	Symbol      string    `gorm:"column:symbol;index"`
	Side        TradeSide `gorm:"column:side"`
	OrderID     string    `gorm:"column:order_id"`
	Price       float64   `gorm:"column:price"`
	Volume      float64   `gorm:"column:volume"`
	QuoteAmount float64   `gorm:"column:quote_amount"`
	Profit      float64   `gorm:"column:profit"`
	Reason      string    `gorm:"column:reason"`
	ExecutedAt  int64     `gorm:"column:executed_at;index"`
}

func (TradeRecord) TableName() string { return "trades" }

// SessionRecord marks one bot run with its configuration fingerprint.
type SessionRecord struct {
	ID            int64   `gorm:"column:id;primaryKey"`
	StartedAt     int64   `gorm:"column:started_at"`
	EndedAt       int64   `gorm:"column:ended_at"`
	InitialBudget float64 `gorm:"column:initial_budget"`
	FinalProfit   float64 `gorm:"column:final_profit"`
	Protection    string  `gorm:"column:protection"`
}

func (SessionRecord) TableName() string { return "sessions" }

// Journal is the SQLite-backed trade journal.
type Journal struct {
	db *gorm.DB
}

// NewJournal opens (or creates) the journal database at path.
func NewJournal(path string) (*Journal, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("journal path cannot be empty")
	}
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open journal failed: %w", err)
	}
	if err := db.AutoMigrate(&TradeRecord{}, &SessionRecord{}); err != nil {
		return nil, fmt.Errorf("migrate journal failed: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite + WAL: the writer is the trading loop, readers are the HTTP
	// handlers, a few connections suffice.
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &Journal{db: db}, nil
}

// Close releases the underlying connection.
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	sqlDB, err := j.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// RecordTrade appends one executed order to the journal.
func (j *Journal) RecordTrade(rec *TradeRecord) error {
	if rec.ExecutedAt == 0 {
		rec.ExecutedAt = time.Now().Unix()
	}
	return j.db.Create(rec).Error
}

// RecentTrades returns the newest trades, most recent first.
func (j *Journal) RecentTrades(limit int) ([]TradeRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []TradeRecord
	err := j.db.Order("executed_at DESC, id DESC").Limit(limit).Find(&out).Error
	return out, err
}

// TradesForSymbol returns the trade history of one symbol, oldest first.
func (j *Journal) TradesForSymbol(symbol string, limit int) ([]TradeRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []TradeRecord
	err := j.db.Where("symbol = ?", symbol).
		Order("executed_at ASC, id ASC").Limit(limit).Find(&out).Error
	return out, err
}

// StartSession records the beginning of a run and returns its ID.
func (j *Journal) StartSession(initialBudget float64, protection string) (int64, error) {
	rec := SessionRecord{
		StartedAt:     time.Now().Unix(),
		InitialBudget: initialBudget,
		Protection:    protection,
	}
	if err := j.db.Create(&rec).Error; err != nil {
		return 0, err
	}
	return rec.ID, nil
}

// EndSession closes a session with its final realized profit.
func (j *Journal) EndSession(id int64, finalProfit float64) error {
	return j.db.Model(&SessionRecord{}).Where("id = ?", id).Updates(map[string]any{
		"ended_at":     time.Now().Unix(),
		"final_profit": finalProfit,
	}).Error
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
