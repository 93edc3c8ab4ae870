package broker

import (
	"fmt"
	"math"
	"time"

	"abacktest/model"
)

// 触板判定容差（约 0.1 分的浮点误差）：
// 涨停价 * 0.999 以上视为触及涨停，跌停价 * 1.001 以下视为触及跌停
const (
	limitUpTolerance   = 0.999
	limitDownTolerance = 1.001
)

// LotSize A股一手股数
const LotSize int64 = 100

// MinCommission 单笔佣金下限（元）
const MinCommission = 5.0

// RejectCode 委托被拒绝的原因分类
type RejectCode string

const (
	RejectNone            RejectCode = ""
	RejectNoCash          RejectCode = "no_cash"
	RejectLimitLocked     RejectCode = "limit_locked"
	RejectLotTooSmall     RejectCode = "lot_too_small"
	RejectFeeInsufficient RejectCode = "fee_insufficient"
	RejectT1Locked        RejectCode = "t1_locked"
	RejectNoPosition      RejectCode = "no_position"
)

// OrderResult 委托结果。被拒绝属于回测中的常规事件，不作为 error 返回。
type OrderResult struct {
	OK     bool
	Code   RejectCode
	Reason string
}

func reject(code RejectCode, format string, args ...any) OrderResult {
	return OrderResult{OK: false, Code: code, Reason: fmt.Sprintf(format, args...)}
}

// Config 交易摩擦参数
type Config struct {
	InitialCash    float64
	CommissionRate float64 // 佣金费率（如 0.00025）
	StampDutyRate  float64 // 印花税率（如 0.0005）
	Slippage       float64 // 滑点（如 0.001 表示千分之一）
}

// Broker 符合 A 股实战规则的账本引擎。
// 特点：
//  1. 强制 100 股整手向下取整
//  2. 绝对 T+1 限制，今日买入的持仓明日才可卖出
//  3. 佣金（含 5 元下限）与印花税双重扣除
//  4. 涨跌停封板时宣告指令失败，状态不变
type Broker struct {
	cfg Config

	cash float64

	// T+1 机制要求分离 "总持股数" 与 "可用持股数"：
	// 今天的可用持股 = 昨天收盘后的总持股，卖出只能扣减可用部分。
	totalShares     int64
	availableShares int64

	lastClose float64 // 最近一次有效收盘价，停牌日净值估算用

	trades []model.Trade
}

// New 创建账本。参数合法性由上层配置校验保证。
func New(cfg Config) *Broker {
	return &Broker{cfg: cfg, cash: cfg.InitialCash, lastClose: math.NaN()}
}

// Cash 当前现金
func (b *Broker) Cash() float64 { return b.cash }

// TotalShares 总持股数
func (b *Broker) TotalShares() int64 { return b.totalShares }

// AvailableShares 当前可卖出股数
func (b *Broker) AvailableShares() int64 { return b.availableShares }

// InitialCash 初始资金
func (b *Broker) InitialCash() float64 { return b.cfg.InitialCash }

// Slippage 滑点参数
func (b *Broker) Slippage() float64 { return b.cfg.Slippage }

// Trades 成交流水（只读视图）
func (b *Broker) Trades() []model.Trade { return b.trades }

// UnlockT1 跨日解锁。进入新的一天时把昨日买入被锁定的股份释放为可用份额。
// 必须在每日循环最开始、任何卖出判断之前调用，且每天恰好一次。
func (b *Broker) UnlockT1() {
	b.availableShares = b.totalShares
}

// RecordLastPrice 记录最近一次有效价格，供停牌日净值计算
func (b *Broker) RecordLastPrice(price float64) {
	if !math.IsNaN(price) && price > 0 {
		b.lastClose = price
	}
}

// EvaluatePortfolio 评估当前总净值（现金 + 持仓市值）。
// price 为 NaN（停牌）时回退到最近有效收盘价。
func (b *Broker) EvaluatePortfolio(price float64) float64 {
	if math.IsNaN(price) {
		if math.IsNaN(b.lastClose) {
			price = 0
		} else {
			price = b.lastClose
		}
	}
	return b.cash + float64(b.totalShares)*price
}

func (b *Broker) commission(amount float64) float64 {
	fee := amount * b.cfg.CommissionRate
	return math.Max(fee, MinCommission)
}

// 全部资金能买的整手股数
func affordableShares(cash, price float64) int64 {
	if price <= 0 {
		return 0
	}
	lots := int64(math.Floor(cash / price / float64(LotSize)))
	return lots * LotSize
}

// SubmitBuy 提交全仓买入指令（All-in 模型）。
// trigger 为触发价（尾盘买入用当日收盘价，次日开盘买用次日开盘价），
// limitUp 为当日涨停价，dayHigh 为当日最高价，
// openAuction 表示集合竞价开盘买入。
func (b *Broker) SubmitBuy(date time.Time, trigger, limitUp, dayHigh float64, openAuction bool) OrderResult {
	if b.cash <= 0 {
		return reject(RejectNoCash, "现金不足")
	}

	// 涨停熔断：封板时买单排不进去
	if openAuction {
		if trigger >= limitUp*limitUpTolerance {
			return reject(RejectLimitLocked, "开盘一字涨停，无法买入 (%.2f 触及涨停 %.2f)", trigger, limitUp)
		}
	} else {
		// 尾盘买入：全天封死涨停，或尾盘刚好卡在涨停价，普通单无法成交
		if trigger >= limitUp*limitUpTolerance || dayHigh >= limitUp*limitUpTolerance {
			return reject(RejectLimitLocked, "遇涨停板筹码封锁，指令作废 (%.2f 触及涨停 %.2f)", dayHigh, limitUp)
		}
	}

	// 滑点：抢筹成本增加
	execPrice := trigger * (1 + b.cfg.Slippage)

	shares := affordableShares(b.cash, execPrice)
	if shares < LotSize {
		return reject(RejectLotTooSmall, "全部资金(%.2f)买不起1手股票(需%.2f)", b.cash, execPrice*float64(LotSize))
	}

	amount := float64(shares) * execPrice
	comm := b.commission(amount)
	stamp := amount * b.cfg.StampDutyRate
	totalCost := amount + comm + stamp

	if b.cash < totalCost {
		// 极边缘情况：加上费用后超出现金，减一手重试一次（仅此一次）
		shares -= LotSize
		if shares < LotSize {
			return reject(RejectFeeInsufficient, "加上手续费与印花税后不足以买1手")
		}
		amount = float64(shares) * execPrice
		comm = b.commission(amount)
		stamp = amount * b.cfg.StampDutyRate
		totalCost = amount + comm + stamp
		if b.cash < totalCost {
			return reject(RejectFeeInsufficient, "加上手续费与印花税后不足以买1手")
		}
	}

	b.cash -= totalCost
	b.totalShares += shares
	// availableShares 此时不增加，等次日 UnlockT1 时解锁

	b.trades = append(b.trades, model.Trade{
		Date:         date,
		Direction:    model.DirectionBuy,
		TriggerPrice: trigger,
		Price:        execPrice,
		Shares:       shares,
		Amount:       amount,
		Commission:   comm,
		StampDuty:    stamp,
		CashLeft:     b.cash,
	})
	return OrderResult{OK: true, Reason: fmt.Sprintf("成功买入 %d 股，成交价 %.2f", shares, execPrice)}
}

// SubmitSell 提交全仓卖出指令，抛售全部可用持仓。
func (b *Broker) SubmitSell(date time.Time, trigger, limitDown, dayLow float64, openAuction bool) OrderResult {
	if b.availableShares <= 0 {
		if b.totalShares > 0 {
			return reject(RejectT1Locked, "持仓处于 T+1 锁定期，今日不可卖出")
		}
		return reject(RejectNoPosition, "没有可用持仓")
	}

	// 跌停熔断：封板时卖单无法撮合
	if openAuction {
		if trigger <= limitDown*limitDownTolerance {
			return reject(RejectLimitLocked, "开盘一字跌停，无法逃离 (%.2f 触及跌停 %.2f)", trigger, limitDown)
		}
	} else {
		if trigger <= limitDown*limitDownTolerance || dayLow <= limitDown*limitDownTolerance {
			return reject(RejectLimitLocked, "遇跌停板封锁，卖单无法撮合 (%.2f 触及跌停 %.2f)", dayLow, limitDown)
		}
	}

	// 滑点：砸盘滑价，卖得更贱
	execPrice := trigger * (1 - b.cfg.Slippage)

	shares := b.availableShares
	amount := float64(shares) * execPrice
	comm := b.commission(amount)
	stamp := amount * b.cfg.StampDutyRate
	netProceeds := amount - comm - stamp

	b.cash += netProceeds
	b.totalShares -= shares
	b.availableShares -= shares

	b.trades = append(b.trades, model.Trade{
		Date:         date,
		Direction:    model.DirectionSell,
		TriggerPrice: trigger,
		Price:        execPrice,
		Shares:       shares,
		Amount:       amount,
		Commission:   comm,
		StampDuty:    stamp,
		CashLeft:     b.cash,
	})
	return OrderResult{OK: true, Reason: fmt.Sprintf("成功卖出 %d 股，成交价 %.2f", shares, execPrice)}
}
