package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"abacktest/api"
	"abacktest/config"
	"abacktest/dataset"
	"abacktest/features"
	"abacktest/runner"
)

var (
	configPath string
	dataPath   string
	outPath    string
	chartPath  string
	serveMode  bool
	servePort  int
	serveData  string
)

func main() {
	flag.StringVar(&configPath, "config", "backtest.yaml", "回测配置文件路径(YAML格式)")
	flag.StringVar(&dataPath, "data", "", "行情CSV文件路径（覆盖配置文件中的 data.path）")
	flag.StringVar(&outPath, "out", "", "回测结果JSON输出路径(默认stdout)")
	flag.StringVar(&chartPath, "chart", "", "资金曲线SVG输出路径（可选）")
	flag.BoolVar(&serveMode, "serve", false, "启动HTTP回测服务")
	flag.IntVar(&servePort, "port", 8080, "HTTP服务端口（配合 -serve）")
	flag.StringVar(&serveData, "serve-data", "data", "HTTP服务行情CSV目录（配合 -serve）")
	flag.Parse()

	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)

	if serveMode {
		runServer(serveData, servePort)
		return
	}

	if err := runBacktest(configPath, dataPath, outPath, chartPath); err != nil {
		log.Printf("[ERROR] 回测失败: %v\n", err)
		os.Exit(1)
	}
}

// runBacktest 执行一次完整回测并输出结果
func runBacktest(configPath, dataPath, outPath, chartPath string) error {
	spec, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if dataPath != "" {
		spec.DataPath = dataPath
	}
	if spec.DataPath == "" {
		return fmt.Errorf("未指定行情数据路径（配置 data.path 或 -data 参数）")
	}

	rows, err := dataset.Load(spec.DataPath)
	if err != nil {
		return fmt.Errorf("加载行情失败: %w", err)
	}
	log.Printf("[回测] 已加载 %s: %d 个交易日\n", spec.DataPath, len(rows))

	st := spec.ST
	if !st && features.SuspectedST(rows) {
		// 涨跌幅特征像ST但配置没标，提醒用户核对涨跌停档位
		log.Printf("[WARN] %s 的涨跌幅特征疑似ST（±5%%档），如属实请在配置中设置 data.st: true\n", spec.Symbol)
	}
	if spec.ComputeFeatures {
		features.Enrich(rows, features.Options{Symbol: spec.Symbol, IsST: st})
	}

	r, err := runner.New(rows, spec.Runner)
	if err != nil {
		return err
	}
	result, err := r.Run()
	if err != nil {
		return err
	}

	rep := result.Report
	log.Printf("[回测] 完成: %d 个快照, %d 笔成交\n", len(result.Snapshots), len(result.Trades))
	log.Printf("[回测] 总收益 %.2f%%, 基准 %.2f%%, 最大回撤 %.2f%%, 夏普 %.2f\n",
		rep.TotalReturn*100, rep.BenchmarkReturn*100, rep.MaxDrawdown*100, rep.SharpeRatio)

	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化结果失败: %w", err)
	}
	if outPath == "" {
		fmt.Println(string(data))
	} else {
		if err := os.WriteFile(outPath, data, 0644); err != nil {
			return fmt.Errorf("写入 %s 失败: %w", outPath, err)
		}
		log.Printf("[回测] 结果已写入 %s\n", outPath)
	}

	if chartPath != "" {
		title := spec.Symbol + " 回测资金曲线"
		svg, err := runner.RenderEquitySVG(title, result.Snapshots, result.Trades, runner.SVGChartOptions{})
		if err != nil {
			return fmt.Errorf("生成资金曲线失败: %w", err)
		}
		if err := os.WriteFile(chartPath, svg, 0644); err != nil {
			return fmt.Errorf("写入 %s 失败: %w", chartPath, err)
		}
		log.Printf("[回测] 资金曲线已写入 %s\n", chartPath)
	}
	return nil
}

// runServer 启动HTTP回测服务，阻塞至收到退出信号
func runServer(dataDir string, port int) {
	server := api.NewServer(dataDir, port)
	go func() {
		if err := server.Start(); err != nil {
			log.Printf("[ERROR] HTTP服务启动失败: %v\n", err)
			os.Exit(1)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Println("正在关闭服务...")
	if err := server.Shutdown(); err != nil {
		log.Printf("[ERROR] 关闭服务失败: %v\n", err)
	}
	log.Println("服务已关闭")
}
