package model

import (
	"encoding/json"
	"math"
	"time"
)

// Row 回测输入表的一行（一个日历日）
// 原始价格（不复权）用于资金核算与涨跌停判断；
// 复权价格仅用于指标计算。停牌日原始价格字段为 NaN，但该行必须存在，
// 以便净值曲线连续。
type Row struct {
	Date time.Time `json:"date"`

	// 原始行情（不复权）
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`

	// 前复权行情（仅供指标列计算）
	OpenAdj  float64 `json:"open_qfq"`
	HighAdj  float64 `json:"high_qfq"`
	LowAdj   float64 `json:"low_qfq"`
	CloseAdj float64 `json:"close_qfq"`

	// 当日真实涨跌幅（百分数，如 2.35 表示 +2.35%）
	PctChg float64 `json:"pct_chg"`

	// 是否为真实交易日（false = 停牌/休市占位行）
	IsTrading bool `json:"is_trading"`

	// 当日涨停价 / 跌停价
	LimitUp   float64 `json:"limit_up"`
	LimitDown float64 `json:"limit_down"`

	// 策略表达式引用的开放指标列（布尔列以 0/1 存储）
	Features map[string]float64 `json:"features,omitempty"`
}

// Feature 按列名查找指标值；内置 OHLC 列名同样可查
func (r *Row) Feature(name string) (float64, bool) {
	switch name {
	case "Open_Raw":
		return r.Open, true
	case "High_Raw":
		return r.High, true
	case "Low_Raw":
		return r.Low, true
	case "Close_Raw":
		return r.Close, true
	case "Volume":
		return r.Volume, true
	case "Open_Qfq":
		return r.OpenAdj, true
	case "High_Qfq":
		return r.HighAdj, true
	case "Low_Qfq":
		return r.LowAdj, true
	case "Close_Qfq":
		return r.CloseAdj, true
	case "Pct_Chg_Raw":
		return r.PctChg, true
	}
	v, ok := r.Features[name]
	return v, ok
}

// HasPrice 当日是否存在有效收盘价
func (r *Row) HasPrice() bool {
	return !math.IsNaN(r.Close) && r.Close > 0
}

// Direction 交易方向
type Direction string

const (
	DirectionBuy  Direction = "BUY"
	DirectionSell Direction = "SELL"
)

// Trade 成交流水（仅成功成交时生成，只追加不修改）
type Trade struct {
	Date         time.Time `json:"date"`
	Direction    Direction `json:"direction"`
	TriggerPrice float64   `json:"trigger_price"`
	Price        float64   `json:"price"` // 已含滑点的实际成交价
	Shares       int64     `json:"shares"`
	Amount       float64   `json:"amount"` // 成交金额（不含费用）
	Commission   float64   `json:"commission"`
	StampDuty    float64   `json:"stamp_duty"`
	CashLeft     float64   `json:"cash_left"`
}

// Snapshot 每日账户快照（无论当天是否交易、是否停牌都会生成一条）
type Snapshot struct {
	Date          time.Time `json:"date"`
	Equity        float64   `json:"equity"`
	Cash          float64   `json:"cash"`
	PositionValue float64   `json:"position_value"`
	IsTrading     bool      `json:"is_trading"`
	ClosePrice    float64   `json:"close_price"` // 停牌日为 NaN
}

// MarshalJSON 停牌日的 NaN 收盘价序列化为 null
func (s Snapshot) MarshalJSON() ([]byte, error) {
	type alias struct {
		Date          string   `json:"date"`
		Equity        float64  `json:"equity"`
		Cash          float64  `json:"cash"`
		PositionValue float64  `json:"position_value"`
		IsTrading     bool     `json:"is_trading"`
		ClosePrice    *float64 `json:"close_price"`
	}
	a := alias{
		Date:          s.Date.Format("2006-01-02"),
		Equity:        s.Equity,
		Cash:          s.Cash,
		PositionValue: s.PositionValue,
		IsTrading:     s.IsTrading,
	}
	if !math.IsNaN(s.ClosePrice) {
		c := s.ClosePrice
		a.ClosePrice = &c
	}
	return json.Marshal(a)
}
