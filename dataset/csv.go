// Package dataset 负责装载回测输入表：
// 每个日历日一行，含不复权行情、前复权行情、交易日标记、涨跌停价，
// 以及策略表达式引用的任意指标列。
package dataset

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/transform"

	"abacktest/model"
)

// 必需列；缺失任何一列视为致命的配置错误
var requiredColumns = []string{
	"Date", "Open_Raw", "High_Raw", "Low_Raw", "Close_Raw", "Volume",
	"is_trading", "limit_up", "limit_down",
}

// 内建列不进入 Features 映射
var builtinColumns = map[string]bool{
	"Date": true, "Open_Raw": true, "High_Raw": true, "Low_Raw": true,
	"Close_Raw": true, "Volume": true, "is_trading": true,
	"limit_up": true, "limit_down": true, "Pct_Chg_Raw": true,
	"Open_Qfq": true, "High_Qfq": true, "Low_Qfq": true, "Close_Qfq": true,
}

// Load 读取 CSV 特征表。本地量化工具（通达信等）导出的文件常为 GBK 编码，
// 无法按 UTF-8 解析时自动转码。
func Load(path string) ([]model.Row, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read dataset: %w", err)
	}
	if !utf8.Valid(raw) {
		reader := transform.NewReader(bytes.NewReader(raw), simplifiedchinese.GBK.NewDecoder())
		raw, err = io.ReadAll(reader)
		if err != nil {
			return nil, fmt.Errorf("decode gbk: %w", err)
		}
	}
	raw = bytes.TrimPrefix(raw, []byte("\xef\xbb\xbf"))
	return Parse(bytes.NewReader(raw))
}

// Parse 解析特征表并校验数据契约。
func Parse(r io.Reader) ([]model.Row, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.TrimSpace(name)] = i
	}
	for _, name := range requiredColumns {
		if _, ok := col[name]; !ok {
			return nil, fmt.Errorf("missing required column %q", name)
		}
	}

	var rows []model.Row
	line := 1
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		row, err := parseRow(rec, header, col)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("dataset is empty")
	}

	for i := 1; i < len(rows); i++ {
		if !rows[i].Date.After(rows[i-1].Date) {
			return nil, fmt.Errorf("dates not strictly increasing at %s",
				rows[i].Date.Format("2006-01-02"))
		}
	}
	fillDerived(rows)
	return rows, nil
}

func parseRow(rec, header []string, col map[string]int) (model.Row, error) {
	field := func(name string) string {
		i, ok := col[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	date, err := parseDate(field("Date"))
	if err != nil {
		return model.Row{}, err
	}

	row := model.Row{
		Date:      date,
		Open:      parseFloat(field("Open_Raw")),
		High:      parseFloat(field("High_Raw")),
		Low:       parseFloat(field("Low_Raw")),
		Close:     parseFloat(field("Close_Raw")),
		Volume:    parseFloat(field("Volume")),
		OpenAdj:   parseFloat(field("Open_Qfq")),
		HighAdj:   parseFloat(field("High_Qfq")),
		LowAdj:    parseFloat(field("Low_Qfq")),
		CloseAdj:  parseFloat(field("Close_Qfq")),
		PctChg:    parseFloat(field("Pct_Chg_Raw")),
		IsTrading: parseBool(field("is_trading")),
		LimitUp:   parseFloat(field("limit_up")),
		LimitDown: parseFloat(field("limit_down")),
		Features:  map[string]float64{},
	}

	for i, name := range header {
		name = strings.TrimSpace(name)
		if builtinColumns[name] || i >= len(rec) {
			continue
		}
		v := strings.TrimSpace(rec[i])
		if v == "" {
			row.Features[name] = math.NaN()
			continue
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			// 非数值附加列（如股票名称）不参与表达式，跳过
			continue
		}
		row.Features[name] = f
	}
	return row, nil
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}
	for _, layout := range []string{"2006-01-02", "2006/01/02", "20060102"} {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("bad date %q", s)
}

// 空串与 nan 解析为 NaN（停牌占位行的原始行情字段可为空）
func parseFloat(s string) float64 {
	if s == "" || strings.EqualFold(s, "nan") {
		return math.NaN()
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return math.NaN()
	}
	return f
}

func parseBool(s string) bool {
	switch strings.ToLower(s) {
	case "1", "true", "t", "yes":
		return true
	}
	return false
}

// fillDerived 补齐可选列：复权价缺省取原始价，
// 涨跌幅缺省由相邻有效收盘价推算（首个有效日为 0）。
func fillDerived(rows []model.Row) {
	prevClose := math.NaN()
	for i := range rows {
		r := &rows[i]
		if math.IsNaN(r.OpenAdj) {
			r.OpenAdj = r.Open
		}
		if math.IsNaN(r.HighAdj) {
			r.HighAdj = r.High
		}
		if math.IsNaN(r.LowAdj) {
			r.LowAdj = r.Low
		}
		if math.IsNaN(r.CloseAdj) {
			r.CloseAdj = r.Close
		}
		if math.IsNaN(r.PctChg) && r.IsTrading && !math.IsNaN(r.Close) {
			if !math.IsNaN(prevClose) && prevClose > 0 {
				r.PctChg = (r.Close - prevClose) / prevClose * 100
			} else {
				r.PctChg = 0
			}
		}
		if r.IsTrading && !math.IsNaN(r.Close) {
			prevClose = r.Close
		}
	}
}
