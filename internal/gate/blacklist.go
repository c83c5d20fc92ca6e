// Package gate decides which symbols the trading engine may touch at all:
// a hot-reloadable blacklist plus market-quality filters (volatility, RSI,
// distance from the recent high).
package gate

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"krypto/internal/logger"
	"krypto/internal/pkg/symbol"
)

// stablecoins never make sense as the base asset of a momentum trade.
var stablecoins = map[string]bool{
	"USDT": true, "USDC": true, "BUSD": true, "DAI": true,
	"TUSD": true, "FDUSD": true, "USDP": true, "FRAX": true,
	"EURC": true, "EUROC": true, "EURT": true,
}

// shortNameAllowed are the short tickers that are real majors rather than
// obscure or delisted tokens.
var shortNameAllowed = map[string]bool{
	"BTC": true, "ETH": true, "BNB": true, "ADA": true,
	"DOT": true, "SOL": true, "XRP": true,
}

// numericNameAllowed whitelists well-known assets whose name contains a digit.
var numericNameAllowed = map[string]bool{
	"1INCH": true, "0X": true,
}

// leveragedToken matches Binance-style leveraged tokens like BTC3L or ETHUP
// variants ending in a digit plus L or S.
var leveragedToken = regexp.MustCompile(`\d+[LS]$`)

// blacklistFile is the on-disk shape of the user-maintained lists.
type blacklistFile struct {
	Assets  []string `yaml:"assets" mapstructure:"assets"`
	Symbols []string `yaml:"symbols" mapstructure:"symbols"`
}

// Blacklist combines built-in asset rules with user-maintained lists of
// blocked base assets and blocked full symbols, reloaded when the backing
// file changes. The built-in rules are static; only the manual lists are
// guarded.
type Blacklist struct {
	mu      sync.RWMutex
	assets  map[string]bool
	symbols map[string]bool

	path string
	v    *viper.Viper
}

// NewBlacklist builds a blacklist. With an empty path only the built-in rules
// apply; otherwise the file is loaded and watched for changes.
func NewBlacklist(path string) (*Blacklist, error) {
	b := &Blacklist{
		assets:  map[string]bool{},
		symbols: map[string]bool{},
		path:    strings.TrimSpace(path),
	}
	if b.path == "" {
		return b, nil
	}
	v := viper.New()
	v.SetConfigFile(b.path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read blacklist file failed: %w", err)
	}
	b.v = v
	if err := b.reload(); err != nil {
		return nil, err
	}
	v.OnConfigChange(func(evt fsnotify.Event) {
		if err := b.reload(); err != nil {
			logger.Errorf("blacklist reload failed: %v", err)
		}
	})
	v.WatchConfig()
	return b, nil
}

func (b *Blacklist) reload() error {
	var file blacklistFile
	if err := b.v.Unmarshal(&file); err != nil {
		return fmt.Errorf("parse blacklist file failed: %w", err)
	}
	assets := normalizeSet(file.Assets)
	symbols := normalizeSet(file.Symbols)
	b.mu.Lock()
	b.assets = assets
	b.symbols = symbols
	b.mu.Unlock()
	logger.Infof("blacklist loaded %d assets, %d symbols from %s", len(assets), len(symbols), b.path)
	return nil
}

// IsBlacklisted reports whether the base asset may not be traded, with a
// human-readable reason for the decision log.
func (b *Blacklist) IsBlacklisted(asset string) (bool, string) {
	asset = strings.ToUpper(strings.TrimSpace(asset))
	if asset == "" {
		return true, "empty asset name"
	}

	b.mu.RLock()
	manual := b.assets[asset]
	b.mu.RUnlock()
	if manual {
		return true, "manually blacklisted"
	}

	if stablecoins[asset] {
		return true, "stablecoin"
	}
	if leveragedToken.MatchString(asset) {
		return true, "leveraged token"
	}
	// explicit allow-lists win over the name heuristics below
	if shortNameAllowed[asset] || numericNameAllowed[asset] {
		return false, ""
	}
	if len(asset) <= 2 {
		return true, "suspicious short name"
	}
	if strings.ContainsAny(asset, "0123456789") {
		return true, "numeric name"
	}
	return false, ""
}

// IsSymbolBlacklisted reports whether the full symbol ("DOGE-BTC") is blocked,
// independent of its base asset.
func (b *Blacklist) IsSymbolBlacklisted(sym string) (bool, string) {
	sym = strings.ToUpper(strings.TrimSpace(sym))
	b.mu.RLock()
	blocked := b.symbols[sym]
	b.mu.RUnlock()
	if blocked {
		return true, "manually blacklisted symbol"
	}
	return false, ""
}

// FilterAllowed returns the symbols that pass both the full-symbol list and
// the base-asset rules, preserving order.
func (b *Blacklist) FilterAllowed(symbols []symbol.Symbol) []symbol.Symbol {
	out := make([]symbol.Symbol, 0, len(symbols))
	for _, s := range symbols {
		if blocked, reason := b.IsSymbolBlacklisted(s.Internal()); blocked {
			logger.Debugf("blacklist: skipping %s: %s", s.Internal(), reason)
			continue
		}
		if banned, reason := b.IsBlacklisted(s.Base); banned {
			logger.Debugf("blacklist: skipping %s: %s", s.Internal(), reason)
			continue
		}
		out = append(out, s)
	}
	return out
}

// Add blocks an entry and, when file-backed, persists it so the entry
// survives a restart. A dashed entry ("DOGE-BTC") blocks that full symbol;
// anything else blocks the base asset everywhere.
func (b *Blacklist) Add(entry string) error {
	entry = strings.ToUpper(strings.TrimSpace(entry))
	if entry == "" {
		return fmt.Errorf("blacklist: empty entry")
	}
	b.mu.Lock()
	if strings.Contains(entry, "-") {
		b.symbols[entry] = true
	} else {
		b.assets[entry] = true
	}
	b.mu.Unlock()
	logger.Infof("blacklist: added %s", entry)
	return b.persist()
}

// Remove unblocks a manual entry. Built-in rules still apply.
func (b *Blacklist) Remove(entry string) error {
	entry = strings.ToUpper(strings.TrimSpace(entry))
	b.mu.Lock()
	if strings.Contains(entry, "-") {
		delete(b.symbols, entry)
	} else {
		delete(b.assets, entry)
	}
	b.mu.Unlock()
	logger.Infof("blacklist: removed %s", entry)
	return b.persist()
}

// Manual returns the manual asset entries sorted for stable API output.
func (b *Blacklist) Manual() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return sortedKeys(b.assets)
}

// ManualSymbols returns the manual full-symbol entries sorted.
func (b *Blacklist) ManualSymbols() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return sortedKeys(b.symbols)
}

func (b *Blacklist) persist() error {
	if b.path == "" {
		return nil
	}
	data, err := yaml.Marshal(blacklistFile{Assets: b.Manual(), Symbols: b.ManualSymbols()})
	if err != nil {
		return fmt.Errorf("marshal blacklist failed: %w", err)
	}
	if err := writeFileAtomic(b.path, data); err != nil {
		return fmt.Errorf("write blacklist failed: %w", err)
	}
	return nil
}

func normalizeSet(entries []string) map[string]bool {
	out := make(map[string]bool, len(entries))
	for _, e := range entries {
		e = strings.ToUpper(strings.TrimSpace(e))
		if e != "" {
			out[e] = true
		}
	}
	return out
}

func sortedKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// writeFileAtomic writes via a sibling temp file and rename so a concurrent
// reload never sees a half-written list.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
