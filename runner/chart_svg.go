package runner

import (
	"bytes"
	"fmt"
	"html"
	"math"
	"strconv"
	"strings"

	"abacktest/model"
)

// SVGChartOptions 净值曲线图尺寸
type SVGChartOptions struct {
	Width  int
	Height int
}

func (o SVGChartOptions) withDefaults() SVGChartOptions {
	if o.Width <= 0 {
		o.Width = 980
	}
	if o.Height <= 0 {
		o.Height = 520
	}
	return o
}

// RenderEquitySVG renders the equity curve with the running peak overlay and
// buy/sell markers. The output is a self-contained SVG document.
func RenderEquitySVG(title string, snapshots []model.Snapshot, trades []model.Trade, opt SVGChartOptions) ([]byte, error) {
	opt = opt.withDefaults()
	if len(snapshots) < 2 {
		return nil, fmt.Errorf("not enough snapshots: %d", len(snapshots))
	}

	minE := math.Inf(1)
	maxE := math.Inf(-1)
	for _, s := range snapshots {
		if s.Equity < minE {
			minE = s.Equity
		}
		if s.Equity > maxE {
			maxE = s.Equity
		}
	}
	if math.IsInf(minE, 0) || math.IsInf(maxE, 0) {
		return nil, fmt.Errorf("invalid equity range")
	}
	pad := (maxE - minE) * 0.05
	if pad <= 0 {
		pad = math.Abs(minE) * 0.02
	}
	if pad <= 0 {
		pad = 1
	}
	minE -= pad
	maxE += pad

	// Layout
	w := float64(opt.Width)
	h := float64(opt.Height)
	mLeft := 80.0
	mRight := 20.0
	mTop := 24.0
	mBottom := 40.0
	plotW := w - mLeft - mRight
	plotH := h - mTop - mBottom
	if plotW <= 10 || plotH <= 10 {
		return nil, fmt.Errorf("invalid chart size")
	}

	eqToY := func(e float64) float64 {
		r := (e - minE) / (maxE - minE)
		r = math.Max(0, math.Min(1, r))
		return mTop + (1.0-r)*plotH
	}
	xAt := func(i int) float64 {
		return mLeft + (float64(i)+0.5)*plotW/float64(len(snapshots))
	}

	bg := "#0b1220"
	grid := "rgba(255,255,255,0.08)"
	curve := "#38bdf8"
	peak := "rgba(255,255,255,0.35)"
	buyCol := "#22c55e"
	sellCol := "#ef4444"
	txt := "rgba(255,255,255,0.85)"

	var buf bytes.Buffer
	buf.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
	buf.WriteString(`<svg xmlns="http://www.w3.org/2000/svg" width="` + strconv.Itoa(opt.Width) + `" height="` + strconv.Itoa(opt.Height) + `" viewBox="0 0 ` + strconv.Itoa(opt.Width) + ` ` + strconv.Itoa(opt.Height) + `">` + "\n")
	buf.WriteString(`<rect x="0" y="0" width="100%" height="100%" fill="` + bg + `"/>` + "\n")

	// Header
	firstD := snapshots[0].Date.Format("2006-01-02")
	lastD := snapshots[len(snapshots)-1].Date.Format("2006-01-02")
	head := strings.TrimSpace(title)
	if head == "" {
		head = "EQUITY"
	}
	buf.WriteString(`<text x="` + fmtFloat(mLeft) + `" y="16" fill="` + txt + `" font-size="14" font-family="ui-monospace, Menlo, Monaco, Consolas, monospace">` +
		html.EscapeString(head) + `  ` + html.EscapeString(firstD) + ` ~ ` + html.EscapeString(lastD) + `</text>` + "\n")

	// Grid: equity lines (5)
	for k := 0; k <= 5; k++ {
		y := mTop + (float64(k)/5.0)*plotH
		buf.WriteString(`<line x1="` + fmtFloat(mLeft) + `" y1="` + fmtFloat(y) + `" x2="` + fmtFloat(mLeft+plotW) + `" y2="` + fmtFloat(y) + `" stroke="` + grid + `" stroke-width="1"/>` + "\n")
		e := maxE - (float64(k)/5.0)*(maxE-minE)
		buf.WriteString(`<text x="` + fmtFloat(6) + `" y="` + fmtFloat(y+4) + `" fill="` + txt + `" font-size="12" font-family="ui-monospace, Menlo, Monaco, Consolas, monospace">` +
			html.EscapeString(fmtEquity(e)) + `</text>` + "\n")
	}

	// Running peak (dashed) then the curve itself
	var peakPts, curvePts strings.Builder
	runPeak := math.Inf(-1)
	for i, s := range snapshots {
		if s.Equity > runPeak {
			runPeak = s.Equity
		}
		x := xAt(i)
		fmt.Fprintf(&peakPts, "%s,%s ", fmtFloat(x), fmtFloat(eqToY(runPeak)))
		fmt.Fprintf(&curvePts, "%s,%s ", fmtFloat(x), fmtFloat(eqToY(s.Equity)))
	}
	buf.WriteString(`<polyline fill="none" stroke="` + peak + `" stroke-width="1" stroke-dasharray="6 6" points="` + strings.TrimSpace(peakPts.String()) + `"/>` + "\n")
	buf.WriteString(`<polyline fill="none" stroke="` + curve + `" stroke-width="1.6" points="` + strings.TrimSpace(curvePts.String()) + `"/>` + "\n")

	// Trade markers located by date
	dateIdx := make(map[string]int, len(snapshots))
	for i, s := range snapshots {
		dateIdx[s.Date.Format("2006-01-02")] = i
	}
	for _, tr := range trades {
		i, ok := dateIdx[tr.Date.Format("2006-01-02")]
		if !ok {
			continue
		}
		col := buyCol
		label := "B"
		if tr.Direction == model.DirectionSell {
			col = sellCol
			label = "S"
		}
		x := xAt(i)
		y := eqToY(snapshots[i].Equity)
		buf.WriteString(`<circle cx="` + fmtFloat(x) + `" cy="` + fmtFloat(y) + `" r="3.5" fill="` + col + `" />` + "\n")
		buf.WriteString(`<text x="` + fmtFloat(x+5) + `" y="` + fmtFloat(y-5) + `" fill="` + col + `" font-size="11" font-family="ui-monospace, Menlo, Monaco, Consolas, monospace">` +
			label + `</text>` + "\n")
	}

	// Footer dates
	buf.WriteString(`<text x="` + fmtFloat(mLeft) + `" y="` + fmtFloat(mTop+plotH+mBottom-12) + `" fill="` + txt + `" font-size="12" font-family="ui-monospace, Menlo, Monaco, Consolas, monospace">` +
		html.EscapeString(firstD) + `</text>` + "\n")
	buf.WriteString(`<text x="` + fmtFloat(mLeft+plotW-70) + `" y="` + fmtFloat(mTop+plotH+mBottom-12) + `" fill="` + txt + `" font-size="12" font-family="ui-monospace, Menlo, Monaco, Consolas, monospace">` +
		html.EscapeString(lastD) + `</text>` + "\n")

	buf.WriteString(`</svg>` + "\n")
	return buf.Bytes(), nil
}

func fmtFloat(x float64) string {
	// stable compact formatting for SVG attributes
	return strconv.FormatFloat(x, 'f', 2, 64)
}

func fmtEquity(e float64) string {
	if math.Abs(e) >= 10000 {
		return strconv.FormatFloat(e/10000, 'f', 2, 64) + "万"
	}
	return strconv.FormatFloat(e, 'f', 0, 64)
}
