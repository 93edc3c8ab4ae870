package runner

import (
	"fmt"
	"strings"
	"time"

	"abacktest/broker"
	"abacktest/expr"
	"abacktest/model"
)

// RiskConfig 风控刹车参数，零值表示对应开关关闭
type RiskConfig struct {
	StopLossPct   float64 // 止损线（0.08 = 浮亏 8% 强制平仓）
	TakeProfitPct float64 // 止盈线
	MaxHoldDays   int     // 最长持股交易日数，超过则强制调仓
}

// Config 单次回测的全部参数
type Config struct {
	Broker   broker.Config
	BuyRule  string // 买入条件表达式，空串表示永不买入
	SellRule string // 卖出条件表达式，空串表示仅依赖风控卖出
	Risk     RiskConfig

	// 可选时间窗口，零值表示不限制
	Start time.Time
	End   time.Time
}

// RunResult 一次完整回测的产出
type RunResult struct {
	Snapshots []model.Snapshot `json:"snapshots"`
	Trades    []model.Trade    `json:"trades"`
	Report    *Report          `json:"report"`
}

// Runner drives one backtest over one instrument's feature table.
// It owns a private Broker plus the position risk state machine, so
// independent runs never share mutable state.
type Runner struct {
	rows []model.Row
	cfg  Config

	buyProg  *expr.Program
	sellProg *expr.Program

	buySignals  []bool
	sellSignals []bool

	broker *broker.Broker

	// position risk state
	holdingDays int
	costPrice   float64
}

// New validates configuration and the input table. Any error here is fatal:
// the simulation must not start on a malformed setup (referenced columns
// missing, unparseable rules, negative friction rates, unordered dates).
func New(rows []model.Row, cfg Config) (*Runner, error) {
	if cfg.Broker.InitialCash <= 0 {
		return nil, fmt.Errorf("initial cash must be positive, got %.2f", cfg.Broker.InitialCash)
	}
	if cfg.Broker.CommissionRate < 0 || cfg.Broker.StampDutyRate < 0 || cfg.Broker.Slippage < 0 {
		return nil, fmt.Errorf("friction rates must be non-negative")
	}
	if cfg.Risk.StopLossPct < 0 || cfg.Risk.TakeProfitPct < 0 || cfg.Risk.MaxHoldDays < 0 {
		return nil, fmt.Errorf("risk parameters must be non-negative")
	}

	windowed := applyWindow(rows, cfg.Start, cfg.End)
	if len(windowed) == 0 {
		return nil, fmt.Errorf("no rows in backtest window")
	}
	for i := 1; i < len(windowed); i++ {
		if !windowed[i].Date.After(windowed[i-1].Date) {
			return nil, fmt.Errorf("dates not strictly increasing at %s",
				windowed[i].Date.Format("2006-01-02"))
		}
	}

	r := &Runner{
		rows:   windowed,
		cfg:    cfg,
		broker: broker.New(cfg.Broker),
	}

	var err error
	if r.buyProg, err = compileRule(cfg.BuyRule); err != nil {
		return nil, fmt.Errorf("buy rule: %w", err)
	}
	if r.sellProg, err = compileRule(cfg.SellRule); err != nil {
		return nil, fmt.Errorf("sell rule: %w", err)
	}
	if err := r.checkColumns(r.buyProg); err != nil {
		return nil, fmt.Errorf("buy rule: %w", err)
	}
	if err := r.checkColumns(r.sellProg); err != nil {
		return nil, fmt.Errorf("sell rule: %w", err)
	}
	return r, nil
}

func compileRule(src string) (*expr.Program, error) {
	if strings.TrimSpace(src) == "" {
		return nil, nil
	}
	return expr.Compile(src)
}

// checkColumns rejects rules referencing columns absent from the table.
// Silently evaluating them to false would produce a misleading report.
func (r *Runner) checkColumns(p *expr.Program) error {
	if p == nil {
		return nil
	}
	for _, name := range p.Columns() {
		// a column may be absent on early warm-up rows; accept if any row has it
		found := false
		for i := range r.rows {
			if _, ok := r.rows[i].Feature(name); ok {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("unknown column %q", name)
		}
	}
	return nil
}

func applyWindow(rows []model.Row, start, end time.Time) []model.Row {
	out := rows
	if !start.IsZero() {
		i := 0
		for i < len(out) && out[i].Date.Before(start) {
			i++
		}
		out = out[i:]
	}
	if !end.IsZero() {
		j := len(out)
		for j > 0 && out[j-1].Date.After(end) {
			j--
		}
		out = out[:j]
	}
	return out
}

// precomputeSignals evaluates both rules over the whole table before the
// day-by-day loop, so the hot loop only reads two booleans per day.
func (r *Runner) precomputeSignals() {
	n := len(r.rows)
	r.buySignals = make([]bool, n)
	r.sellSignals = make([]bool, n)
	for i := range r.rows {
		row := &r.rows[i]
		if r.buyProg != nil {
			r.buySignals[i] = r.buyProg.Eval(row.Feature)
		}
		if r.sellProg != nil {
			r.sellSignals[i] = r.sellProg.Eval(row.Feature)
		}
	}
}

// Run executes the full chronological loop and builds the report.
// The loop is a pure synchronous fold: no I/O, no clock, no randomness,
// so identical inputs always produce identical results.
func (r *Runner) Run() (*RunResult, error) {
	r.precomputeSignals()

	snapshots := make([]model.Snapshot, 0, len(r.rows))

	for i := range r.rows {
		row := &r.rows[i]

		// 1. 同步最近有效价格，供停牌日净值继承
		if row.IsTrading {
			r.broker.RecordLastPrice(row.Close)
		}

		// 2. 解除昨日买入的 T+1 锁定
		r.broker.UnlockT1()

		// 3. 净值清点：停牌日也要记录（依赖最近有效价）
		equity := r.broker.EvaluatePortfolio(row.Close)

		// 4/5. 交易决策：仅在正常交易日且存在有效价格时进行
		if row.IsTrading && row.HasPrice() {
			if r.broker.TotalShares() > 0 {
				r.holdingDays++
				if reason := r.sellTrigger(i, row); reason != "" {
					res := r.broker.SubmitSell(row.Date, row.Close, row.LimitDown, row.Low, false)
					if res.OK {
						r.holdingDays = 0
						r.costPrice = 0
						// 今日卖出后现金变化，需重算当日净值
						equity = r.broker.EvaluatePortfolio(row.Close)
					}
					// 卖出失败（如跌停封板）不重试，次日再说
				}
			} else if r.buySignals[i] {
				res := r.broker.SubmitBuy(row.Date, row.Close, row.LimitUp, row.High, false)
				if res.OK {
					r.costPrice = row.Close * (1 + r.broker.Slippage())
					r.holdingDays = 1
					equity = r.broker.EvaluatePortfolio(row.Close)
				}
			}
		}

		// 6. 无论当天发生什么，都追加快照
		snapshots = append(snapshots, model.Snapshot{
			Date:          row.Date,
			Equity:        equity,
			Cash:          r.broker.Cash(),
			PositionValue: equity - r.broker.Cash(),
			IsTrading:     row.IsTrading,
			ClosePrice:    row.Close,
		})
	}

	trades := r.broker.Trades()
	report := r.buildReport(snapshots, trades)
	return &RunResult{Snapshots: snapshots, Trades: trades, Report: report}, nil
}

// sellTrigger 按优先级评估风控与策略卖点，返回非空字符串表示触发
func (r *Runner) sellTrigger(i int, row *model.Row) string {
	ret := (row.Close - r.costPrice) / r.costPrice

	if r.cfg.Risk.StopLossPct > 0 && ret <= -r.cfg.Risk.StopLossPct {
		return "触碰固定止损线"
	}
	if r.cfg.Risk.TakeProfitPct > 0 && ret >= r.cfg.Risk.TakeProfitPct {
		return "触碰浮动止盈线"
	}
	if r.cfg.Risk.MaxHoldDays > 0 && r.holdingDays >= r.cfg.Risk.MaxHoldDays {
		return "持仓达到最长期限强制调仓"
	}
	if r.sellSignals[i] {
		return "策略逻辑触发卖点"
	}
	return ""
}
