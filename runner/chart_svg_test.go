package runner

import (
	"strings"
	"testing"
	"time"

	"abacktest/model"
)

func TestRenderEquitySVG_IncludesCurveAndMarkers(t *testing.T) {
	day := func(i int) time.Time {
		return time.Date(2024, 1, 1, 0, 0, 0, 0, time.Local).AddDate(0, 0, i)
	}
	snaps := []model.Snapshot{
		{Date: day(0), Equity: 100000, Cash: 100000, IsTrading: true, ClosePrice: 10},
		{Date: day(1), Equity: 99930, Cash: 930, IsTrading: true, ClosePrice: 10},
		{Date: day(2), Equity: 104880, Cash: 930, IsTrading: true, ClosePrice: 10.5},
		{Date: day(3), Equity: 103500, Cash: 103500, IsTrading: true, ClosePrice: 10.4},
	}
	trades := []model.Trade{
		{Date: day(1), Direction: model.DirectionBuy, Price: 10, Shares: 9900},
		{Date: day(3), Direction: model.DirectionSell, Price: 10.4, Shares: 9900},
	}

	svg, err := RenderEquitySVG("sh600000", snaps, trades, SVGChartOptions{})
	if err != nil {
		t.Fatalf("RenderEquitySVG: %v", err)
	}
	s := string(svg)
	if !strings.Contains(s, "<polyline") {
		t.Fatalf("expected equity polyline in svg")
	}
	if !strings.Contains(s, ">B<") || !strings.Contains(s, ">S<") {
		t.Fatalf("expected buy/sell markers in svg")
	}
	if !strings.Contains(s, "sh600000") {
		t.Fatalf("expected title in svg")
	}
}

func TestRenderEquitySVG_TooFewSnapshots(t *testing.T) {
	_, err := RenderEquitySVG("x", []model.Snapshot{{}}, nil, SVGChartOptions{})
	if err == nil {
		t.Fatal("expected error for short snapshot series")
	}
}
