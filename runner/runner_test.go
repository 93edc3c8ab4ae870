package runner

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"abacktest/broker"
	"abacktest/model"
)

// mkRows 用收盘价序列构造连续交易日行情。
// 涨跌停价按前收 ±10% 计，首日以自身收盘为基准。
// buySig / sellSig 以 0/1 指标列写入，供 "Sig_Buy > 0" 类规则引用。
func mkRows(closes []float64, buySig, sellSig []int) []model.Row {
	start := time.Date(2023, 1, 2, 0, 0, 0, 0, time.Local)
	rows := make([]model.Row, len(closes))
	prev := closes[0]
	for i, c := range closes {
		pct := 0.0
		if i > 0 && prev != 0 {
			pct = (c - prev) / prev * 100
		}
		feats := map[string]float64{}
		if buySig != nil {
			feats["Sig_Buy"] = float64(buySig[i])
		}
		if sellSig != nil {
			feats["Sig_Sell"] = float64(sellSig[i])
		}
		rows[i] = model.Row{
			Date:      start.AddDate(0, 0, i),
			Open:      c,
			High:      c,
			Low:       c,
			Close:     c,
			Volume:    1e6,
			OpenAdj:   c,
			HighAdj:   c,
			LowAdj:    c,
			CloseAdj:  c,
			PctChg:    pct,
			IsTrading: true,
			LimitUp:   prev * 1.1,
			LimitDown: prev * 0.9,
			Features:  feats,
		}
		if i == 0 {
			rows[i].LimitUp = c * 1.1
			rows[i].LimitDown = c * 0.9
		}
		prev = c
	}
	return rows
}

func defaultConfig() Config {
	return Config{
		Broker: broker.Config{
			InitialCash:    100000,
			CommissionRate: 0.00025,
			StampDutyRate:  0.0005,
			Slippage:       0,
		},
		BuyRule:  "Sig_Buy > 0",
		SellRule: "Sig_Sell > 0",
	}
}

func mustRun(t *testing.T, rows []model.Row, cfg Config) *RunResult {
	t.Helper()
	r, err := New(rows, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res, err := r.Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	return res
}

func TestBuyThenSellCycle(t *testing.T) {
	closes := []float64{10, 10, 10.5, 11, 10.8}
	buy := []int{0, 1, 0, 0, 0}
	sell := []int{0, 0, 0, 1, 0}
	res := mustRun(t, mkRows(closes, buy, sell), defaultConfig())

	if len(res.Trades) != 2 {
		t.Fatalf("trades = %d, want 2", len(res.Trades))
	}
	if res.Trades[0].Direction != model.DirectionBuy || res.Trades[1].Direction != model.DirectionSell {
		t.Fatalf("trade order wrong: %+v", res.Trades)
	}
	if res.Trades[0].Shares%100 != 0 {
		t.Errorf("buy shares %d not lot-sized", res.Trades[0].Shares)
	}

	// 卖出当日快照必须已体现卖出回款
	sellDay := res.Snapshots[3]
	if sellDay.PositionValue != 0 {
		t.Errorf("day-3 position value = %.2f, want 0 (same-day equity recompute)", sellDay.PositionValue)
	}
	if len(res.Snapshots) != len(closes) {
		t.Fatalf("snapshots = %d, want %d", len(res.Snapshots), len(closes))
	}
}

func TestSameDaySellSignalIgnored(t *testing.T) {
	// 买入发生于空仓分支，当日不会再评估卖出信号；
	// 次日起无卖出信号，持仓保留到结束。
	closes := []float64{10, 10, 10.2}
	buy := []int{0, 1, 0}
	sell := []int{0, 1, 0} // 与买入同日
	res := mustRun(t, mkRows(closes, buy, sell), defaultConfig())

	if len(res.Trades) != 1 {
		t.Fatalf("trades = %d, want 1 (buy only)", len(res.Trades))
	}
	if res.Report.OpenShares == 0 {
		t.Error("expected an open position at end of range")
	}
}

func TestStopLossTriggersSell(t *testing.T) {
	// -8.5% 的浮亏触碰 8% 止损线，且未触及 -10% 跌停区，卖单可撮合
	closes := []float64{10, 10, 9.15, 9.15}
	buy := []int{0, 1, 0, 0}
	cfg := defaultConfig()
	cfg.SellRule = ""
	cfg.Risk.StopLossPct = 0.08
	res := mustRun(t, mkRows(closes, buy, nil), cfg)

	if len(res.Trades) != 2 {
		t.Fatalf("trades = %d, want buy+stop-loss sell", len(res.Trades))
	}
	if res.Trades[1].Date != res.Snapshots[2].Date {
		t.Errorf("stop loss should fire on the -8.5%% day")
	}
}

func TestTakeProfitTriggersSell(t *testing.T) {
	closes := []float64{10, 10, 10.9, 11.9, 11.9}
	buy := []int{0, 1, 0, 0, 0}
	cfg := defaultConfig()
	cfg.SellRule = ""
	cfg.Risk.TakeProfitPct = 0.15
	res := mustRun(t, mkRows(closes, buy, nil), cfg)

	if len(res.Trades) != 2 {
		t.Fatalf("trades = %d, want buy+take-profit sell", len(res.Trades))
	}
	if got := res.Trades[1].Date; got != res.Snapshots[3].Date {
		t.Errorf("take profit fired on %s, want day 3", got.Format("2006-01-02"))
	}
}

func TestMaxHoldDaysForcesSell(t *testing.T) {
	closes := []float64{10, 10, 10.1, 10.2, 10.1, 10.2, 10.1}
	buy := []int{0, 1, 0, 0, 0, 0, 0}
	cfg := defaultConfig()
	cfg.SellRule = ""
	cfg.Risk.MaxHoldDays = 3
	res := mustRun(t, mkRows(closes, buy, nil), cfg)

	if len(res.Trades) != 2 {
		t.Fatalf("trades = %d, want forced rotation sell", len(res.Trades))
	}
	// 买入日 holding=1，第 3 个持仓交易日触发
	if got := res.Trades[1].Date; got != res.Snapshots[3].Date {
		t.Errorf("forced sell on %s, want day 3", got.Format("2006-01-02"))
	}
}

func TestSuspendedDayKeepsEquityContinuous(t *testing.T) {
	rows := mkRows([]float64{10, 10, 10.4, 10.4, 10.4}, []int{0, 1, 0, 0, 0}, nil)
	// 第 3 天停牌：无价格占位行
	rows[3].IsTrading = false
	rows[3].Open = math.NaN()
	rows[3].High = math.NaN()
	rows[3].Low = math.NaN()
	rows[3].Close = math.NaN()
	cfg := defaultConfig()
	cfg.SellRule = ""
	res := mustRun(t, rows, cfg)

	if len(res.Snapshots) != 5 {
		t.Fatalf("snapshots = %d, want 5 (placeholder rows included)", len(res.Snapshots))
	}
	suspended := res.Snapshots[3]
	prevDay := res.Snapshots[2]
	if !almost(suspended.Equity, prevDay.Equity) {
		t.Errorf("suspended-day equity %.2f should carry last valid price (prev %.2f)", suspended.Equity, prevDay.Equity)
	}
	if suspended.IsTrading {
		t.Error("snapshot should keep the non-trading flag")
	}
}

func TestEquityChangesOnlyByFees(t *testing.T) {
	// 价格不变的买入日：净值变化应恰好等于佣金+印花税
	closes := []float64{10, 10, 10}
	buy := []int{0, 1, 0}
	cfg := defaultConfig()
	cfg.SellRule = ""
	res := mustRun(t, mkRows(closes, buy, nil), cfg)

	tr := res.Trades[0]
	before := res.Snapshots[0].Equity
	after := res.Snapshots[1].Equity
	if !almost(before-after, tr.Commission+tr.StampDuty) {
		t.Errorf("equity delta %.4f != fees %.4f", before-after, tr.Commission+tr.StampDuty)
	}
	// 持仓市值 = 净值 - 现金
	if !almost(res.Snapshots[1].PositionValue, float64(tr.Shares)*10) {
		t.Errorf("position value %.2f != %d*10", res.Snapshots[1].PositionValue, tr.Shares)
	}
}

func TestDeterminism(t *testing.T) {
	closes := []float64{10, 10, 10.5, 9.8, 10.2, 11, 10.4, 10.9, 10.1, 10.6}
	buy := []int{0, 1, 0, 0, 1, 0, 0, 1, 0, 0}
	sell := []int{0, 0, 0, 1, 0, 0, 1, 0, 0, 1}
	cfg := defaultConfig()
	cfg.Risk.StopLossPct = 0.05

	a := mustRun(t, mkRows(closes, buy, sell), cfg)
	b := mustRun(t, mkRows(closes, buy, sell), cfg)

	ja, err := json.Marshal(a)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	jb, err := json.Marshal(b)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(ja) != string(jb) {
		t.Fatal("two identical runs diverged")
	}
}

func TestDateWindow(t *testing.T) {
	rows := mkRows([]float64{10, 10, 10, 10, 10, 10}, nil, nil)
	cfg := defaultConfig()
	cfg.BuyRule = ""
	cfg.SellRule = ""
	cfg.Start = rows[2].Date
	cfg.End = rows[4].Date
	res := mustRun(t, rows, cfg)
	if len(res.Snapshots) != 3 {
		t.Fatalf("windowed snapshots = %d, want 3", len(res.Snapshots))
	}
	if !res.Snapshots[0].Date.Equal(rows[2].Date) {
		t.Errorf("window start wrong: %s", res.Snapshots[0].Date)
	}
}

func TestConfigErrorsAreFatal(t *testing.T) {
	rows := mkRows([]float64{10, 10, 10}, []int{0, 0, 0}, []int{0, 0, 0})

	bad := []Config{}

	c := defaultConfig()
	c.Broker.CommissionRate = -0.001
	bad = append(bad, c)

	c = defaultConfig()
	c.BuyRule = "Close_Qfq >"
	bad = append(bad, c)

	c = defaultConfig()
	c.BuyRule = "No_Such_Column > 0"
	bad = append(bad, c)

	c = defaultConfig()
	c.Broker.InitialCash = 0
	bad = append(bad, c)

	for i, cfg := range bad {
		if _, err := New(rows, cfg); err == nil {
			t.Errorf("config %d should be rejected before the run", i)
		}
	}

	// 日期乱序同样致命
	disordered := mkRows([]float64{10, 10, 10}, nil, nil)
	disordered[2].Date = disordered[0].Date
	cfg := defaultConfig()
	cfg.BuyRule = ""
	cfg.SellRule = ""
	if _, err := New(disordered, cfg); err == nil {
		t.Error("non-monotonic dates should be rejected")
	}
}

func TestRejectedOrderDoesNotHaltRun(t *testing.T) {
	// 买入信号日收于涨停（10→11 即 +10% 一字板）：拒单后继续推进，次日不再重试
	closes := []float64{10, 11, 11, 11}
	rows := mkRows(closes, []int{0, 1, 0, 0}, nil)
	cfg := defaultConfig()
	cfg.SellRule = ""
	res := mustRun(t, rows, cfg)

	if len(res.Trades) != 0 {
		t.Fatalf("limit-locked buy should not fill, got %d trades", len(res.Trades))
	}
	if len(res.Snapshots) != len(closes) {
		t.Fatalf("run should continue after rejection")
	}
}

func almost(a, b float64) bool {
	return math.Abs(a-b) < 1e-6
}
