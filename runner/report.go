package runner

import (
	"math"

	"abacktest/model"
)

// 年化与夏普计算采用的常数：一年按 250 个交易日，无风险利率 3%
const (
	tradingDaysPerYear = 250.0
	annualRiskFree     = 0.03
)

// PeriodStats 分年/分月截面：策略收益 vs 基准收益
type PeriodStats struct {
	Period          string  `json:"period"`
	StrategyReturn  float64 `json:"strategy_return"`
	BenchmarkReturn float64 `json:"benchmark_return"`
	Alpha           float64 `json:"alpha"`
	MaxDrawdown     float64 `json:"max_drawdown"`
}

// Report 回测战报
type Report struct {
	InitialCash     float64 `json:"initial_cash"`
	FinalEquity     float64 `json:"final_equity"`
	TotalReturn     float64 `json:"total_return"`
	BenchmarkReturn float64 `json:"benchmark_return"`
	AnnualReturn    float64 `json:"annual_return"`
	MaxDrawdown     float64 `json:"max_drawdown"`
	SharpeRatio     float64 `json:"sharpe_ratio"`
	CalmarRatio     float64 `json:"calmar_ratio"`
	TotalTradePairs int     `json:"total_trade_pairs"`
	WinRate         float64 `json:"win_rate"`

	// 区间结束时未平仓的持仓（末尾未配对的买单不计入胜率）
	OpenShares int64 `json:"open_shares"`

	Yearly  []PeriodStats `json:"tear_sheet_yearly"`
	Monthly []PeriodStats `json:"tear_sheet_monthly"`
}

func (r *Runner) buildReport(snapshots []model.Snapshot, trades []model.Trade) *Report {
	initCash := r.broker.InitialCash()

	// 基准收益：前复权价在常年分红的股票上可能为负，端点比值会失真。
	// 精确做法是将每日真实涨跌幅按几何方式复利。
	benchmark := compoundPctChg(r.rows, 0, len(r.rows))

	rep := &Report{
		InitialCash:     initCash,
		FinalEquity:     initCash,
		BenchmarkReturn: benchmark,
		OpenShares:      r.broker.TotalShares(),
	}

	// 全程没有任何成交：直接返回空战果
	if len(trades) == 0 {
		return rep
	}

	equities := make([]float64, len(snapshots))
	for i, s := range snapshots {
		equities[i] = s.Equity
	}

	finalEq := equities[len(equities)-1]
	rep.FinalEquity = finalEq
	rep.TotalReturn = (finalEq - initCash) / initCash
	rep.MaxDrawdown = maxDrawdown(equities)

	tradingDays := 0
	for _, s := range snapshots {
		if s.IsTrading {
			tradingDays++
		}
	}
	if tradingDays > 0 {
		rep.AnnualReturn = math.Pow(1+rep.TotalReturn, tradingDaysPerYear/float64(tradingDays)) - 1
	}

	rep.SharpeRatio = sharpe(dailyReturns(equities))

	if rep.MaxDrawdown < 0 {
		rep.CalmarRatio = rep.AnnualReturn / math.Abs(rep.MaxDrawdown)
	}

	rep.TotalTradePairs, rep.WinRate = winRate(trades)

	rep.Yearly = r.tearSheet(snapshots, func(s model.Snapshot) string {
		return s.Date.Format("2006")
	})
	rep.Monthly = r.tearSheet(snapshots, func(s model.Snapshot) string {
		return s.Date.Format("2006-01")
	})
	return rep
}

// dailyReturns 日度收益率序列，首日为 0
func dailyReturns(equities []float64) []float64 {
	out := make([]float64, len(equities))
	for i := 1; i < len(equities); i++ {
		if equities[i-1] != 0 {
			out[i] = (equities[i] - equities[i-1]) / equities[i-1]
		}
	}
	return out
}

// maxDrawdown 净值序列相对历史峰值的最大回撤（恒 ≤ 0）
func maxDrawdown(equities []float64) float64 {
	mdd := 0.0
	peak := math.Inf(-1)
	for _, eq := range equities {
		if eq > peak {
			peak = eq
		}
		if peak > 0 {
			dd := (eq - peak) / peak
			if dd < mdd {
				mdd = dd
			}
		}
	}
	return mdd
}

// sharpe 年化夏普比率；收益率无波动时为 0
func sharpe(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	dailyRf := annualRiskFree / tradingDaysPerYear

	mean := 0.0
	for _, ret := range returns {
		mean += ret - dailyRf
	}
	mean /= float64(len(returns))

	// 样本标准差（分母 n-1）
	variance := 0.0
	for _, ret := range returns {
		d := (ret - dailyRf) - mean
		variance += d * d
	}
	variance /= float64(len(returns) - 1)
	std := math.Sqrt(variance)
	if std == 0 {
		return 0
	}
	return mean / std * math.Sqrt(tradingDaysPerYear)
}

// winRate 按流水顺序把第 i 笔买入与第 i 笔卖出配对；
// 末尾未配对的买单忽略；卖出成交价高于买入成交价记一胜。
func winRate(trades []model.Trade) (pairs int, rate float64) {
	var buys, sells []float64
	for _, t := range trades {
		switch t.Direction {
		case model.DirectionBuy:
			buys = append(buys, t.Price)
		case model.DirectionSell:
			sells = append(sells, t.Price)
		}
	}
	pairs = len(buys)
	if len(sells) < pairs {
		pairs = len(sells)
	}
	if pairs == 0 {
		return 0, 0
	}
	wins := 0
	for i := 0; i < pairs; i++ {
		if sells[i] > buys[i] {
			wins++
		}
	}
	return pairs, float64(wins) / float64(pairs)
}

// compoundPctChg 将 [from, to) 内真实交易日的涨跌幅几何复利
func compoundPctChg(rows []model.Row, from, to int) float64 {
	prod := 1.0
	for i := from; i < to && i < len(rows); i++ {
		if rows[i].IsTrading && !math.IsNaN(rows[i].PctChg) {
			prod *= 1 + rows[i].PctChg/100.0
		}
	}
	return prod - 1
}

// tearSheet 按给定周期键切片统计；周期内快照不足 2 条时跳过该周期。
// 快照序列与 r.rows 一一对应，周期内基准收益与全程基准同口径复利。
func (r *Runner) tearSheet(snapshots []model.Snapshot, key func(model.Snapshot) string) []PeriodStats {
	var out []PeriodStats

	start := 0
	for start < len(snapshots) {
		label := key(snapshots[start])
		end := start + 1
		for end < len(snapshots) && key(snapshots[end]) == label {
			end++
		}
		if end-start >= 2 {
			slice := snapshots[start:end]
			startEq := slice[0].Equity
			endEq := slice[len(slice)-1].Equity
			stratRet := 0.0
			if startEq > 0 {
				stratRet = (endEq - startEq) / startEq
			}
			benchRet := compoundPctChg(r.rows, start, end)

			eqs := make([]float64, len(slice))
			for i, s := range slice {
				eqs[i] = s.Equity
			}
			out = append(out, PeriodStats{
				Period:          label,
				StrategyReturn:  stratRet,
				BenchmarkReturn: benchRet,
				Alpha:           stratRet - benchRet,
				MaxDrawdown:     maxDrawdown(eqs),
			})
		}
		start = end
	}
	return out
}
