package runner

import (
	"math"
	"testing"
	"time"

	"abacktest/model"
)

func TestMaxDrawdownScenario(t *testing.T) {
	// [100000, 110000, 95000, 120000] → (95000-110000)/110000 ≈ -13.64%
	got := maxDrawdown([]float64{100000, 110000, 95000, 120000})
	want := (95000.0 - 110000.0) / 110000.0
	if !almost(got, want) {
		t.Errorf("max drawdown = %.6f, want %.6f", got, want)
	}
}

func TestMaxDrawdownMonotonicEquity(t *testing.T) {
	if got := maxDrawdown([]float64{100, 110, 120}); got != 0 {
		t.Errorf("monotonic equity drawdown = %.4f, want 0", got)
	}
}

func TestWinRateScenario(t *testing.T) {
	// buy@10, sell@12, buy@15, sell@14 → 1 胜 / 2 对 = 50%
	trades := []model.Trade{
		{Direction: model.DirectionBuy, Price: 10},
		{Direction: model.DirectionSell, Price: 12},
		{Direction: model.DirectionBuy, Price: 15},
		{Direction: model.DirectionSell, Price: 14},
	}
	pairs, rate := winRate(trades)
	if pairs != 2 || !almost(rate, 0.5) {
		t.Errorf("pairs=%d rate=%.2f, want 2 / 0.50", pairs, rate)
	}
}

func TestWinRateIgnoresTrailingBuy(t *testing.T) {
	trades := []model.Trade{
		{Direction: model.DirectionBuy, Price: 10},
		{Direction: model.DirectionSell, Price: 11},
		{Direction: model.DirectionBuy, Price: 12}, // 未平仓
	}
	pairs, rate := winRate(trades)
	if pairs != 1 || !almost(rate, 1.0) {
		t.Errorf("pairs=%d rate=%.2f, want 1 / 1.00", pairs, rate)
	}
}

func TestBenchmarkUsesGeometricCompounding(t *testing.T) {
	// 分红除权使裸价格端点比值失真，基准必须按日涨跌幅复利
	rows := mkRows([]float64{10, 10, 10, 10}, nil, nil)
	rows[1].PctChg = 10
	rows[2].PctChg = -10
	rows[3].PctChg = 5

	got := compoundPctChg(rows, 0, len(rows))
	want := 1.1*0.9*1.05 - 1
	if !almost(got, want) {
		t.Errorf("benchmark = %.6f, want %.6f", got, want)
	}

	// 非交易日不参与复利
	rows[3].IsTrading = false
	got = compoundPctChg(rows, 0, len(rows))
	want = 1.1*0.9 - 1
	if !almost(got, want) {
		t.Errorf("benchmark with halt = %.6f, want %.6f", got, want)
	}
}

func TestSharpeZeroVolatility(t *testing.T) {
	if got := sharpe([]float64{0.001, 0.001, 0.001}); got != 0 {
		t.Errorf("zero-volatility sharpe = %.4f, want 0", got)
	}
	if got := sharpe([]float64{0.01}); got != 0 {
		t.Errorf("single-sample sharpe = %.4f, want 0", got)
	}
}

func TestReportNoTrades(t *testing.T) {
	rows := mkRows([]float64{10, 10.5, 10.2}, nil, nil)
	cfg := defaultConfig()
	cfg.BuyRule = ""
	cfg.SellRule = ""
	res := mustRun(t, rows, cfg)

	rep := res.Report
	if rep.TotalReturn != 0 || rep.FinalEquity != rep.InitialCash {
		t.Errorf("no-trade report should be flat: %+v", rep)
	}
	// 即使未交易，基准收益仍按行情复利给出
	if rep.BenchmarkReturn == 0 {
		t.Error("benchmark should still be computed without trades")
	}
	if rep.SharpeRatio != 0 || rep.MaxDrawdown != 0 {
		t.Errorf("no-trade ratios should be zero: %+v", rep)
	}
}

func TestTearSheetsSliceByPeriod(t *testing.T) {
	// 跨两个月的行情（2023-01-30 起 5 个交易日）
	closes := []float64{10, 10, 10.5, 10.5, 10.8, 11, 10.9}
	buy := []int{0, 1, 0, 0, 0, 0, 0}
	rows := mkRows(closes, buy, nil)
	base := time.Date(2023, 1, 28, 0, 0, 0, 0, time.Local)
	for i := range rows {
		rows[i].Date = base.AddDate(0, 0, i)
	}
	cfg := defaultConfig()
	cfg.SellRule = ""
	res := mustRun(t, rows, cfg)

	rep := res.Report
	if len(rep.Yearly) != 1 || rep.Yearly[0].Period != "2023" {
		t.Fatalf("yearly tear sheet = %+v", rep.Yearly)
	}
	if len(rep.Monthly) != 2 {
		t.Fatalf("monthly tear sheet should cover 2023-01 and 2023-02: %+v", rep.Monthly)
	}
	if rep.Monthly[0].Period != "2023-01" || rep.Monthly[1].Period != "2023-02" {
		t.Fatalf("period labels wrong: %+v", rep.Monthly)
	}
	for _, p := range rep.Monthly {
		if !almost(p.Alpha, p.StrategyReturn-p.BenchmarkReturn) {
			t.Errorf("alpha mismatch in %s", p.Period)
		}
		if p.MaxDrawdown > 0 {
			t.Errorf("period drawdown must be ≤ 0, got %.4f", p.MaxDrawdown)
		}
	}
}

func TestAnnualReturnFormula(t *testing.T) {
	closes := make([]float64, 125)
	buySig := make([]int, 125)
	for i := range closes {
		closes[i] = 10 + float64(i)*0.01
	}
	buySig[1] = 1
	rows := mkRows(closes, buySig, nil)
	cfg := defaultConfig()
	cfg.SellRule = ""
	res := mustRun(t, rows, cfg)

	rep := res.Report
	want := math.Pow(1+rep.TotalReturn, 250.0/125.0) - 1
	if !almost(rep.AnnualReturn, want) {
		t.Errorf("annual return = %.6f, want %.6f", rep.AnnualReturn, want)
	}
	if rep.MaxDrawdown < 0 && rep.CalmarRatio != rep.AnnualReturn/math.Abs(rep.MaxDrawdown) {
		t.Errorf("calmar inconsistent with annual/drawdown")
	}
}
