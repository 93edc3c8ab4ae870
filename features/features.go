// Package features 在原始日线行情上补齐策略表达式常用的指标列与涨跌停价。
// 它实现的是回测核心之外的数据准备边界：核心引擎只消费算好的特征表。
package features

import (
	"math"
	"strings"

	talib "github.com/markcheno/go-talib"

	"abacktest/model"
)

// Options 特征计算参数
type Options struct {
	Symbol string // 证券代码（sh600000 / sz300001 / 688xxx 等），用于确定涨跌停板幅
	IsST   bool   // 上游已确认的 ST 标记；未知时可用 SuspectedST 推断
}

// Enrich 就地补齐指标列（MA_5/10/20/60、ATR_14、MACD_Hist）与缺失的涨跌停价。
// 指标一律基于前复权价计算，涨跌停价基于前收盘的不复权价。
func Enrich(rows []model.Row, opt Options) {
	if len(rows) == 0 {
		return
	}

	closes := forwardFill(adjCloses(rows))
	highs := forwardFill(collect(rows, func(r *model.Row) float64 { return r.HighAdj }))
	lows := forwardFill(collect(rows, func(r *model.Row) float64 { return r.LowAdj }))

	ma5 := maskWarmup(talib.Ma(closes, 5, talib.SMA), 4)
	ma10 := maskWarmup(talib.Ma(closes, 10, talib.SMA), 9)
	ma20 := maskWarmup(talib.Ma(closes, 20, talib.SMA), 19)
	ma60 := maskWarmup(talib.Ma(closes, 60, talib.SMA), 59)
	atr := maskWarmup(talib.Atr(highs, lows, closes, 14), 14)
	_, _, hist := talib.Macd(closes, 12, 26, 9)
	hist = maskWarmup(hist, 33)

	band := LimitBand(opt.Symbol, opt.IsST)
	prevClose := math.NaN()

	for i := range rows {
		r := &rows[i]
		if r.Features == nil {
			r.Features = map[string]float64{}
		}
		r.Features["MA_5"] = ma5[i]
		r.Features["MA_10"] = ma10[i]
		r.Features["MA_20"] = ma20[i]
		r.Features["MA_60"] = ma60[i]
		r.Features["ATR_14"] = atr[i]
		r.Features["MACD_Hist"] = hist[i]

		if !math.IsNaN(prevClose) {
			if math.IsNaN(r.LimitUp) {
				r.LimitUp = round2(prevClose * (1 + band))
			}
			if math.IsNaN(r.LimitDown) {
				r.LimitDown = round2(prevClose * (1 - band))
			}
		}
		if r.IsTrading && !math.IsNaN(r.Close) {
			prevClose = r.Close
		}
	}
}

// LimitBand 按代码与 ST 状态给出涨跌停板幅：
// 科创板(688)/创业板(30) 20%，ST 5%，主板 10%。
func LimitBand(symbol string, st bool) float64 {
	if st {
		return 0.05
	}
	code := strings.TrimPrefix(strings.TrimPrefix(strings.ToLower(symbol), "sh"), "sz")
	if strings.HasPrefix(code, "688") || strings.HasPrefix(code, "30") {
		return 0.20
	}
	return 0.10
}

// SuspectedST 从价格形态推断个股是否受 5% 板幅约束。
// 这是一个近似启发式（真实 ST 状态应来自权威数据源）：统计涨跌幅
// 贴着 ±5% 且从未超出 ±5.1% 的样本占比，调用方应将结果视为疑似标记。
func SuspectedST(rows []model.Row) bool {
	nearFive := 0
	trading := 0
	for i := range rows {
		r := &rows[i]
		if !r.IsTrading || math.IsNaN(r.PctChg) {
			continue
		}
		trading++
		abs := math.Abs(r.PctChg)
		if abs > 5.1 {
			return false // 出现过超出 5% 板的真实波动
		}
		if abs >= 4.9 {
			nearFive++
		}
	}
	return trading >= 20 && nearFive >= 2
}

func adjCloses(rows []model.Row) []float64 {
	return collect(rows, func(r *model.Row) float64 { return r.CloseAdj })
}

func collect(rows []model.Row, get func(*model.Row) float64) []float64 {
	out := make([]float64, len(rows))
	for i := range rows {
		out[i] = get(&rows[i])
	}
	return out
}

// forwardFill 停牌日的 NaN 用前值填充，避免 NaN 污染整条滑动窗口
func forwardFill(xs []float64) []float64 {
	out := make([]float64, len(xs))
	prev := math.NaN()
	for i, x := range xs {
		if math.IsNaN(x) {
			out[i] = prev
		} else {
			out[i] = x
			prev = x
		}
	}
	return out
}

// maskWarmup talib 在暖机期输出 0 而非 NaN，会被表达式误判为有效值
func maskWarmup(xs []float64, n int) []float64 {
	for i := 0; i < n && i < len(xs); i++ {
		xs[i] = math.NaN()
	}
	return xs
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}
