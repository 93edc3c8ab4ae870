package runner

import (
	"encoding/json"
	"fmt"
	"testing"
)

func TestRunBatchMatchesSequential(t *testing.T) {
	closes := []float64{10, 10, 10.5, 9.9, 10.2, 10.8, 10.4}
	buy := []int{0, 1, 0, 1, 0, 0, 0}
	sell := []int{0, 0, 1, 0, 0, 1, 0}
	rows := mkRows(closes, buy, sell)

	var items []BatchItem
	for i := 0; i < 8; i++ {
		cfg := defaultConfig()
		cfg.Broker.InitialCash = 100000 + float64(i)*10000
		items = append(items, BatchItem{
			Name:   fmt.Sprintf("case-%d", i),
			Rows:   rows, // 只读行情表可被多个任务共享
			Config: cfg,
		})
	}

	parallel := RunBatch(items, 4)

	for i, item := range items {
		seq := mustRun(t, item.Rows, item.Config)
		if parallel[i].Err != nil {
			t.Fatalf("%s: %v", parallel[i].Name, parallel[i].Err)
		}
		jp, _ := json.Marshal(parallel[i].Result)
		js, _ := json.Marshal(seq)
		if string(jp) != string(js) {
			t.Errorf("%s: parallel result diverged from sequential", item.Name)
		}
	}
}

func TestRunBatchReportsBadConfig(t *testing.T) {
	rows := mkRows([]float64{10, 10, 10}, []int{0, 0, 0}, []int{0, 0, 0})
	good := defaultConfig()
	bad := defaultConfig()
	bad.Broker.CommissionRate = -1

	results := RunBatch([]BatchItem{
		{Name: "good", Rows: rows, Config: good},
		{Name: "bad", Rows: rows, Config: bad},
	}, 2)

	if results[0].Err != nil {
		t.Errorf("good config failed: %v", results[0].Err)
	}
	if results[1].Err == nil {
		t.Error("bad config should surface its error")
	}
}
