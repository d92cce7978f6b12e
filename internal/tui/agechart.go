package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/NimbleMarkets/ntcharts/barchart"
	"github.com/charmbracelet/lipgloss"
	"github.com/jumboxerox/opsconsole/internal/model"
)

// ageBucket groups orders by whole days since creation.
type ageBucket struct {
	label   string
	minDays int
	style   lipgloss.Style
}

var ageBuckets = []ageBucket{
	{label: "<2d", minDays: 0, style: lipgloss.NewStyle().Foreground(ColorGreen).Background(ColorGreen)},
	{label: "2-6d", minDays: 2, style: lipgloss.NewStyle().Foreground(ColorBlue).Background(ColorBlue)},
	{label: "7-29d", minDays: 7, style: lipgloss.NewStyle().Foreground(ColorYellow).Background(ColorYellow)},
	{label: "30d+", minDays: 30, style: lipgloss.NewStyle().Foreground(ColorRed).Background(ColorRed)},
}

// ageHistogram counts orders per age bucket. Orders whose files are gone
// are not counted.
func ageHistogram(orders []model.Order, now time.Time) []int {
	counts := make([]int, len(ageBuckets))
	for _, o := range orders {
		if o.FilesDeleted {
			continue
		}
		days := o.AgeDays(now)
		idx := 0
		for i, b := range ageBuckets {
			if days >= b.minDays {
				idx = i
			}
		}
		counts[idx]++
	}
	return counts
}

// renderAgeChart draws the age histogram of the visible page with a legend
// underneath.
func renderAgeChart(orders []model.Order, now time.Time, width, height int) string {
	if width < 12 || height < 2 {
		return ""
	}
	counts := ageHistogram(orders, now)

	barWidth := max(1, (width-len(ageBuckets)+1)/len(ageBuckets))
	bc := barchart.New(width, height,
		barchart.WithBarGap(1),
		barchart.WithBarWidth(barWidth),
		barchart.WithNoAxis(),
	)
	for i, b := range ageBuckets {
		bc.Push(barchart.BarData{
			Label: b.label,
			Values: []barchart.BarValue{
				{Name: b.label, Value: float64(counts[i]), Style: b.style},
			},
		})
	}
	bc.Draw()

	legend := make([]string, 0, len(ageBuckets))
	for i, b := range ageBuckets {
		swatch := lipgloss.NewStyle().Foreground(b.style.GetForeground()).Render("■")
		legend = append(legend, fmt.Sprintf("%s %s:%d", swatch, b.label, counts[i]))
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		chartTitleStyle.Render("Order age (this page)"),
		bc.View(),
		strings.Join(legend, "  "),
	)
}
