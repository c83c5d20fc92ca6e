package budget

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// ProtectionMode selects how realized profit is shielded from reinvestment.
type ProtectionMode int

const (
	// ProtectFull shields the whole profit.
	ProtectFull ProtectionMode = iota
	// ProtectPercentage shields a fixed share of the profit.
	ProtectPercentage
	// ProtectThreshold keeps profit up to a threshold reinvestable and
	// shields the rest.
	ProtectThreshold
)

func (m ProtectionMode) String() string {
	switch m {
	case ProtectFull:
		return "full"
	case ProtectPercentage:
		return "percentage"
	case ProtectThreshold:
		return "threshold"
	default:
		return "unknown"
	}
}

// Protection is the tagged protection variant; construct it through one of the
// three constructors so the parameter always matches the mode.
type Protection struct {
	mode       ProtectionMode
	percentage decimal.Decimal
	threshold  decimal.Decimal
}

// FullProtection shields 100% of realized profit.
func FullProtection() Protection {
	return Protection{mode: ProtectFull}
}

// PercentageProtection shields pct percent of realized profit. pct is clamped
// to [0, 100].
func PercentageProtection(pct float64) Protection {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	return Protection{mode: ProtectPercentage, percentage: decimal.NewFromFloat(pct)}
}

// ThresholdProtection shields the profit portion above the threshold.
func ThresholdProtection(threshold float64) Protection {
	if threshold < 0 {
		threshold = 0
	}
	return Protection{mode: ProtectThreshold, threshold: decimal.NewFromFloat(threshold)}
}

// Mode returns the variant tag.
func (p Protection) Mode() ProtectionMode { return p.mode }

func (p Protection) String() string {
	switch p.mode {
	case ProtectPercentage:
		return fmt.Sprintf("percentage(%s%%)", p.percentage)
	case ProtectThreshold:
		return fmt.Sprintf("threshold(%s)", p.threshold)
	default:
		return p.mode.String()
	}
}

// shielded computes the protected share of a profit. Non-positive profit is
// never shielded.
func (p Protection) shielded(profit decimal.Decimal) decimal.Decimal {
	if profit.Sign() <= 0 {
		return decimal.Zero
	}
	switch p.mode {
	case ProtectPercentage:
		return profit.Mul(p.percentage).Div(decimal.NewFromInt(100))
	case ProtectThreshold:
		if profit.GreaterThan(p.threshold) {
			return profit.Sub(p.threshold)
		}
		return decimal.Zero
	default:
		return profit
	}
}
