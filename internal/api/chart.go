package api

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/estensen/pyusd-dashboard/internal/models"
	"github.com/estensen/pyusd-dashboard/internal/utils"
)

const (
	chartWidth   = 900.0
	chartHeight  = 260.0
	chartPadding = 40.0
)

type bar struct {
	X, Y, Width, Height float64
	Date                string
	Amount              string
}

// chart is the SVG geometry of the daily volume line and bar charts.
type chart struct {
	Width, Height float64
	Baseline      float64
	Line          string
	Bars          []bar
	Max           string
}

// buildChart scales daily volume into the plot area. Amounts are converted
// to float64 only for pixel positions.
func buildChart(points []models.DailyVolume) chart {
	c := chart{Width: chartWidth, Height: chartHeight, Baseline: chartHeight - chartPadding}
	if len(points) == 0 {
		return c
	}

	peak := decimal.Zero
	for _, p := range points {
		if p.TotalAmount.GreaterThan(peak) {
			peak = p.TotalAmount
		}
	}
	c.Max = utils.FormatAmount(peak)

	plotW := chartWidth - 2*chartPadding
	plotH := chartHeight - 2*chartPadding
	slot := plotW / float64(len(points))
	step := 0.0
	if len(points) > 1 {
		step = plotW / float64(len(points)-1)
	}

	line := make([]string, 0, len(points))
	for i, p := range points {
		h := 0.0
		if peak.IsPositive() {
			h = p.TotalAmount.Div(peak).InexactFloat64() * plotH
		}
		y := c.Baseline - h

		x := chartPadding + step*float64(i)
		if len(points) == 1 {
			x = chartPadding + plotW/2
		}
		line = append(line, fmt.Sprintf("%.1f,%.1f", x, y))

		c.Bars = append(c.Bars, bar{
			X:      chartPadding + slot*float64(i) + slot*0.1,
			Y:      y,
			Width:  slot * 0.8,
			Height: h,
			Date:   p.BlockDate.Format(models.DateLayout),
			Amount: utils.FormatAmount(p.TotalAmount),
		})
	}
	c.Line = strings.Join(line, " ")
	return c
}
