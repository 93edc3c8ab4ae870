package features

import (
	"math"
	"testing"
	"time"

	"abacktest/model"
)

func mkRows(closes []float64) []model.Row {
	start := time.Date(2023, 1, 2, 0, 0, 0, 0, time.Local)
	rows := make([]model.Row, len(closes))
	for i, c := range closes {
		rows[i] = model.Row{
			Date:      start.AddDate(0, 0, i),
			Open:      c,
			High:      c * 1.01,
			Low:       c * 0.99,
			Close:     c,
			OpenAdj:   c,
			HighAdj:   c * 1.01,
			LowAdj:    c * 0.99,
			CloseAdj:  c,
			IsTrading: true,
			LimitUp:   math.NaN(),
			LimitDown: math.NaN(),
		}
	}
	return rows
}

func TestEnrichComputesMovingAverages(t *testing.T) {
	closes := make([]float64, 70)
	for i := range closes {
		closes[i] = 10 + float64(i)*0.1
	}
	rows := mkRows(closes)
	Enrich(rows, Options{Symbol: "sh600000"})

	// 第 5 天起 MA_5 = 最近 5 日均值
	want := (closes[0] + closes[1] + closes[2] + closes[3] + closes[4]) / 5
	got := rows[4].Features["MA_5"]
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("MA_5[4] = %v, want %v", got, want)
	}

	// 暖机期必须是 NaN，不能是 0（0 会被表达式误判）
	if !math.IsNaN(rows[3].Features["MA_5"]) {
		t.Errorf("MA_5 warmup = %v, want NaN", rows[3].Features["MA_5"])
	}
	if !math.IsNaN(rows[58].Features["MA_60"]) {
		t.Errorf("MA_60 warmup = %v, want NaN", rows[58].Features["MA_60"])
	}
	if math.IsNaN(rows[59].Features["MA_60"]) {
		t.Error("MA_60 should be ready on day 60")
	}
	if math.IsNaN(rows[69].Features["ATR_14"]) {
		t.Error("ATR_14 should be ready at the end")
	}
}

func TestEnrichFillsLimitPrices(t *testing.T) {
	rows := mkRows([]float64{10, 10.5, 10.2})
	Enrich(rows, Options{Symbol: "sh600000"})

	// 首日无前收，无从计算板价
	if !math.IsNaN(rows[0].LimitUp) {
		t.Errorf("day0 limit up = %v, want NaN", rows[0].LimitUp)
	}
	if rows[1].LimitUp != 11.0 || rows[1].LimitDown != 9.0 {
		t.Errorf("day1 limits = %v/%v, want 11/9", rows[1].LimitUp, rows[1].LimitDown)
	}
	// 前收 10.5 → 涨停 11.55
	if rows[2].LimitUp != 11.55 {
		t.Errorf("day2 limit up = %v, want 11.55", rows[2].LimitUp)
	}
}

func TestLimitBand(t *testing.T) {
	cases := []struct {
		symbol string
		st     bool
		want   float64
	}{
		{"sh600000", false, 0.10},
		{"sz000001", false, 0.10},
		{"sh688981", false, 0.20},
		{"sz300750", false, 0.20},
		{"sh600000", true, 0.05},
	}
	for _, c := range cases {
		if got := LimitBand(c.symbol, c.st); got != c.want {
			t.Errorf("LimitBand(%s, %v) = %v, want %v", c.symbol, c.st, got, c.want)
		}
	}
}

func TestSuspectedST(t *testing.T) {
	// 波动长期贴着 ±5%：疑似 ST
	var pct []float64
	for i := 0; i < 30; i++ {
		if i%7 == 0 {
			pct = append(pct, 4.98)
		} else {
			pct = append(pct, 1.2)
		}
	}
	rows := mkRows(make([]float64, len(pct)))
	for i := range rows {
		rows[i].Close = 10
		rows[i].PctChg = pct[i]
	}
	if !SuspectedST(rows) {
		t.Error("capped-at-5% pattern should be flagged as suspected ST")
	}

	// 出现过 +9.9% 的波动：排除
	rows[3].PctChg = 9.9
	if SuspectedST(rows) {
		t.Error("a 9.9%% day rules out the 5%% band")
	}
}
