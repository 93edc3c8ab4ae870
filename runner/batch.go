package runner

import (
	"sync"

	"abacktest/model"
)

// BatchItem 批量回测中的一个独立任务：一份行情表 + 一套策略参数
type BatchItem struct {
	Name   string
	Rows   []model.Row
	Config Config
}

// BatchResult 与提交顺序一一对应的批量结果
type BatchResult struct {
	Name   string
	Result *RunResult
	Err    error
}

// RunBatch 并行执行一批互不相关的回测。
// 每个任务拥有独立的 Runner 与 Broker，彼此之间零共享可变状态，
// 行情表只读，允许多个任务安全复用同一份。
func RunBatch(items []BatchItem, workers int) []BatchResult {
	if workers <= 0 {
		workers = 4
	}
	if workers > len(items) {
		workers = len(items)
	}

	results := make([]BatchResult, len(items))
	jobs := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				item := items[idx]
				results[idx] = BatchResult{Name: item.Name}
				r, err := New(item.Rows, item.Config)
				if err != nil {
					results[idx].Err = err
					continue
				}
				res, err := r.Run()
				if err != nil {
					results[idx].Err = err
					continue
				}
				results[idx].Result = res
			}
		}()
	}

	for i := range items {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	return results
}
