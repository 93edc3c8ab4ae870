package api

import (
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"abacktest/broker"
	"abacktest/dataset"
	"abacktest/features"
	"abacktest/model"
	"abacktest/runner"
)

// Handler API处理器
type Handler struct {
	dataDir string
}

// NewHandler 创建处理器
func NewHandler(dataDir string) *Handler {
	return &Handler{dataDir: dataDir}
}

// BacktestRequest 单次回测请求
type BacktestRequest struct {
	Symbol          string `json:"symbol"`
	ST              bool   `json:"st"`
	ComputeFeatures bool   `json:"compute_features"`

	InitialCash    float64 `json:"initial_cash"`
	CommissionRate float64 `json:"commission_rate"`
	StampDutyRate  float64 `json:"stamp_duty_rate"`
	SlippageRate   float64 `json:"slippage_rate"`

	Start string `json:"start"`
	End   string `json:"end"`

	Buy  string `json:"buy"`
	Sell string `json:"sell"`

	StopLossPct   float64 `json:"stop_loss_pct"`
	TakeProfitPct float64 `json:"take_profit_pct"`
	MaxHoldDays   int     `json:"max_hold_days"`
}

// BatchRequest 批量回测请求，items 共享同一份行情
type BatchRequest struct {
	Workers int               `json:"workers"`
	Items   []BacktestRequest `json:"items"`
}

// toConfig 将请求转换为回测参数，缺省摩擦取 A 股常见水平
func (req *BacktestRequest) toConfig() (runner.Config, error) {
	cfg := runner.Config{
		Broker: broker.Config{
			InitialCash:    200000,
			CommissionRate: 0.00025,
			StampDutyRate:  0.0005,
			Slippage:       0.001,
		},
		BuyRule:  req.Buy,
		SellRule: req.Sell,
		Risk: runner.RiskConfig{
			StopLossPct:   req.StopLossPct,
			TakeProfitPct: req.TakeProfitPct,
			MaxHoldDays:   req.MaxHoldDays,
		},
	}
	if req.InitialCash > 0 {
		cfg.Broker.InitialCash = req.InitialCash
	}
	if req.CommissionRate > 0 {
		cfg.Broker.CommissionRate = req.CommissionRate
	}
	if req.StampDutyRate > 0 {
		cfg.Broker.StampDutyRate = req.StampDutyRate
	}
	if req.SlippageRate > 0 {
		cfg.Broker.Slippage = req.SlippageRate
	}

	if req.Start != "" {
		t, err := time.ParseInLocation("2006-01-02", req.Start, time.Local)
		if err != nil {
			return cfg, fmt.Errorf("invalid start: %w", err)
		}
		cfg.Start = t
	}
	if req.End != "" {
		t, err := time.ParseInLocation("2006-01-02", req.End, time.Local)
		if err != nil {
			return cfg, fmt.Errorf("invalid end: %w", err)
		}
		cfg.End = t
	}
	return cfg, nil
}

// loadRows 按代码加载行情并按需计算衍生指标
func (h *Handler) loadRows(symbol string, st, compute bool) ([]model.Row, error) {
	if symbol == "" {
		return nil, fmt.Errorf("股票代码不能为空")
	}
	// 防止路径穿越，代码只允许作为文件名
	if symbol != filepath.Base(symbol) || strings.Contains(symbol, "..") {
		return nil, fmt.Errorf("非法的股票代码: %s", symbol)
	}

	rows, err := dataset.Load(filepath.Join(h.dataDir, symbol+".csv"))
	if err != nil {
		return nil, err
	}
	if compute {
		features.Enrich(rows, features.Options{Symbol: symbol, IsST: st})
	}
	return rows, nil
}

// RunBacktest 运行单次回测
func (h *Handler) RunBacktest(c *gin.Context) {
	var req BacktestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rows, err := h.loadRows(req.Symbol, req.ST, req.ComputeFeatures)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error(), "symbol": req.Symbol})
		return
	}

	cfg, err := req.toConfig()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	r, err := runner.New(rows, cfg)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	result, err := r.Run()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code": 0,
		"data": result,
	})
}

// RunBatch 批量回测。各 item 独立加载行情并并行执行。
func (h *Handler) RunBatch(c *gin.Context) {
	var req BatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(req.Items) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "items 不能为空"})
		return
	}

	items := make([]runner.BatchItem, 0, len(req.Items))
	for i, it := range req.Items {
		rows, err := h.loadRows(it.Symbol, it.ST, it.ComputeFeatures)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error(), "symbol": it.Symbol})
			return
		}
		cfg, err := it.toConfig()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "item": i})
			return
		}
		items = append(items, runner.BatchItem{
			Name:   fmt.Sprintf("%s#%d", it.Symbol, i),
			Rows:   rows,
			Config: cfg,
		})
	}

	results := runner.RunBatch(items, req.Workers)

	out := make([]gin.H, 0, len(results))
	for _, res := range results {
		item := gin.H{"name": res.Name}
		if res.Err != nil {
			item["error"] = res.Err.Error()
		} else {
			item["report"] = res.Result.Report
		}
		out = append(out, item)
	}

	c.JSON(http.StatusOK, gin.H{
		"code":  0,
		"count": len(out),
		"data":  out,
	})
}

// RenderChart 运行回测并返回资金曲线SVG
func (h *Handler) RenderChart(c *gin.Context) {
	var req BacktestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rows, err := h.loadRows(req.Symbol, req.ST, req.ComputeFeatures)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error(), "symbol": req.Symbol})
		return
	}
	cfg, err := req.toConfig()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	r, err := runner.New(rows, cfg)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	result, err := r.Run()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	svg, err := runner.RenderEquitySVG(req.Symbol+" 回测资金曲线", result.Snapshots, result.Trades, runner.SVGChartOptions{})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "image/svg+xml; charset=utf-8", svg)
}

// GetStatus 获取服务状态
func (h *Handler) GetStatus(c *gin.Context) {
	names, _ := filepath.Glob(filepath.Join(h.dataDir, "*.csv"))

	c.JSON(http.StatusOK, gin.H{
		"code": 0,
		"data": gin.H{
			"data_dir":     h.dataDir,
			"symbol_count": len(names),
			"server_time":  time.Now().Format("2006-01-02 15:04:05"),
		},
	})
}
