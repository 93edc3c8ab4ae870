package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"

	"abacktest/broker"
	"abacktest/runner"
)

// YAMLConfig 回测配置文件的原始结构
type YAMLConfig struct {
	Data struct {
		Path            string `yaml:"path"`
		Symbol          string `yaml:"symbol"`
		ST              bool   `yaml:"st"`
		ComputeFeatures bool   `yaml:"compute_features"`
	} `yaml:"data"`

	Backtest struct {
		InitialCash    float64 `yaml:"initial_cash"`
		CommissionRate float64 `yaml:"commission_rate"`
		StampDutyRate  float64 `yaml:"stamp_duty_rate"`
		SlippageRate   float64 `yaml:"slippage_rate"`
		Start          string  `yaml:"start"`
		End            string  `yaml:"end"`

		StopLossPct   float64 `yaml:"stop_loss_pct"`
		TakeProfitPct float64 `yaml:"take_profit_pct"`
		MaxHoldDays   int     `yaml:"max_hold_days"`
	} `yaml:"backtest"`

	Strategy struct {
		Type   string         `yaml:"type"`
		Buy    string         `yaml:"buy"`
		Sell   string         `yaml:"sell"`
		Params map[string]any `yaml:"params"`
	} `yaml:"strategy"`
}

// RunSpec 校验后的一次回测描述
type RunSpec struct {
	DataPath        string
	Symbol          string
	ST              bool
	ComputeFeatures bool

	Runner runner.Config
}

// Default 缺省摩擦参数（沿用 A 股常见实盘水平）
func Default() RunSpec {
	return RunSpec{
		Runner: runner.Config{
			Broker: broker.Config{
				InitialCash:    200000,
				CommissionRate: 0.00025,
				StampDutyRate:  0.0005,
				Slippage:       0.001,
			},
		},
	}
}

// Load 读取并校验 YAML 配置。任何问题都在回测开始前报错。
func Load(path string) (RunSpec, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return RunSpec{}, fmt.Errorf("read config: %w", err)
	}
	return Parse(raw)
}

// Parse 解析配置字节串
func Parse(raw []byte) (RunSpec, error) {
	var yc YAMLConfig
	if err := yaml.Unmarshal(raw, &yc); err != nil {
		return RunSpec{}, fmt.Errorf("parse yaml: %w", err)
	}

	spec := Default()
	spec.DataPath = yc.Data.Path
	spec.Symbol = yc.Data.Symbol
	spec.ST = yc.Data.ST
	spec.ComputeFeatures = yc.Data.ComputeFeatures

	bt := &yc.Backtest
	if bt.CommissionRate < 0 || bt.StampDutyRate < 0 || bt.SlippageRate < 0 {
		return RunSpec{}, fmt.Errorf("friction rates must be non-negative")
	}
	if bt.InitialCash > 0 {
		spec.Runner.Broker.InitialCash = bt.InitialCash
	}
	if bt.CommissionRate > 0 {
		spec.Runner.Broker.CommissionRate = bt.CommissionRate
	}
	if bt.StampDutyRate > 0 {
		spec.Runner.Broker.StampDutyRate = bt.StampDutyRate
	}
	if bt.SlippageRate > 0 {
		spec.Runner.Broker.Slippage = bt.SlippageRate
	}

	spec.Runner.Risk = runner.RiskConfig{
		StopLossPct:   bt.StopLossPct,
		TakeProfitPct: bt.TakeProfitPct,
		MaxHoldDays:   bt.MaxHoldDays,
	}

	if bt.Start != "" {
		t, err := time.ParseInLocation("2006-01-02", bt.Start, time.Local)
		if err != nil {
			return RunSpec{}, fmt.Errorf("invalid backtest.start: %w", err)
		}
		spec.Runner.Start = t
	}
	if bt.End != "" {
		t, err := time.ParseInLocation("2006-01-02", bt.End, time.Local)
		if err != nil {
			return RunSpec{}, fmt.Errorf("invalid backtest.end: %w", err)
		}
		spec.Runner.End = t
	}

	buy, sell, err := expandStrategy(yc.Strategy.Type, yc.Strategy.Buy, yc.Strategy.Sell, yc.Strategy.Params)
	if err != nil {
		return RunSpec{}, err
	}
	spec.Runner.BuyRule = buy
	spec.Runner.SellRule = sell
	return spec, nil
}

// expandStrategy 将命名策略展开为买卖表达式；custom 直接使用配置的表达式
func expandStrategy(typ, buy, sell string, params map[string]any) (string, string, error) {
	get := func(key string, def int) int {
		if v, ok := params[key]; ok {
			return cast.ToInt(v)
		}
		return def
	}

	switch typ {
	case "", "custom":
		return buy, sell, nil

	case "trend_follow":
		// 长期均线过滤 + 短均线站上确认，跌破生命线离场
		filter := get("filter_ma", 60)
		fast := get("fast_ma", 5)
		slow := get("slow_ma", 10)
		b := fmt.Sprintf("Close_Qfq > MA_%d and Close_Qfq > MA_%d and MA_%d > MA_%d",
			filter, fast, fast, slow)
		s := fmt.Sprintf("Close_Qfq < MA_%d", slow)
		return b, s, nil

	case "ma_cross":
		fast := get("fast_ma", 5)
		slow := get("slow_ma", 20)
		b := fmt.Sprintf("MA_%d > MA_%d", fast, slow)
		s := fmt.Sprintf("MA_%d < MA_%d", fast, slow)
		return b, s, nil

	default:
		return "", "", fmt.Errorf("unknown strategy.type: %s", typ)
	}
}
