// Package report renders the open-positions overview as a standalone HTML
// page, regenerated after every cycle when enabled.
package report

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"krypto/internal/budget"
	"krypto/internal/ledger"
)

const (
	colorGain = "#34d399"
	colorLoss = "#f87171"

	chartWidth  = "1200px"
	chartHeight = "500px"
)

// Writer renders the report to a fixed path.
type Writer struct {
	path string
}

func NewWriter(path string) *Writer {
	return &Writer{path: path}
}

// Write renders the current book and budget state. An empty book still
// produces a page so the file never goes stale silently.
func (w *Writer) Write(positions []ledger.Position, status budget.Status) error {
	page := components.NewPage()
	page.PageTitle = "krypto positions"
	page.AddCharts(buildPLChart(positions), buildBudgetChart(status))

	if dir := filepath.Dir(w.path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("report dir: %w", err)
		}
	}
	f, err := os.Create(w.path)
	if err != nil {
		return fmt.Errorf("report file: %w", err)
	}
	defer f.Close()
	if err := page.Render(f); err != nil {
		return fmt.Errorf("render report: %w", err)
	}
	return nil
}

func buildPLChart(positions []ledger.Position) *charts.Bar {
	sorted := append([]ledger.Position(nil), positions...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Symbol < sorted[j].Symbol })

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Width:  chartWidth,
			Height: chartHeight,
		}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Unrealized P/L per position",
			Subtitle: fmt.Sprintf("generated %s", time.Now().Format(time.RFC3339)),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
	)

	symbols := make([]string, 0, len(sorted))
	values := make([]opts.BarData, 0, len(sorted))
	for _, p := range sorted {
		abs, pct := p.UnrealizedPL(p.LastMarketPrice)
		color := colorLoss
		if abs >= 0 {
			color = colorGain
		}
		symbols = append(symbols, p.Symbol)
		values = append(values, opts.BarData{
			Value:     abs,
			Name:      fmt.Sprintf("%s (%.2f%%)", p.Symbol, pct),
			ItemStyle: &opts.ItemStyle{Color: color},
		})
	}
	bar.SetXAxis(symbols)
	bar.AddSeries("unrealized P/L", values)
	return bar
}

func buildBudgetChart(status budget.Status) *charts.Pie {
	pie := charts.NewPie()
	pie.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Width:  chartWidth,
			Height: chartHeight,
		}),
		charts.WithTitleOpts(opts.Title{
			Title: fmt.Sprintf("Budget (realized %.2f, protected %.2f)",
				status.RealizedProfit, status.ProtectedProfit),
		}),
	)
	pie.AddSeries("budget", []opts.PieData{
		{Name: "available", Value: status.Available},
		{Name: "invested", Value: status.Invested},
		{Name: "protected profit", Value: status.ProtectedProfit},
	})
	return pie
}
