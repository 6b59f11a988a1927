package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/betbot/pairbot/internal/ledger"
	"github.com/betbot/pairbot/pkg/config"
	"github.com/betbot/pairbot/pkg/marketspec"
)

// stats 只读查看账本：多个 bot 进程共享同一个 universe 时也能安全运行
func main() {
	configPath := flag.String("config", "yml/config.yaml", "配置文件路径")
	coin := flag.String("coin", "", "只看某个标的（btc/eth/sol/xrp）")
	drawdown := flag.Bool("drawdown", false, "只检查回撤；超限时退出码为 2")
	limit := flag.Float64("limit", 0, "回撤上限（0 表示使用配置里的 drawdown_limit）")
	flag.Parse()

	path := *configPath
	if _, err := os.Stat(path); err != nil {
		path = ""
	}
	cfg, err := config.LoadFromFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	filter := ""
	if strings.TrimSpace(*coin) != "" {
		inst, err := marketspec.ParseInstrument(*coin)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(1)
		}
		filter = inst.String()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	store, err := ledger.OpenStore(ctx, cfg.Ledger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "打开账本失败: %v\n", err)
		os.Exit(1)
	}
	led := ledger.New(store)
	defer led.Close()

	st, err := led.GetAllStats(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "读取账本失败: %v\n", err)
		os.Exit(1)
	}

	if *drawdown {
		l := *limit
		if l <= 0 {
			l = cfg.DrawdownLimit
		}
		if renderDrawdown(os.Stdout, st, l) {
			_ = led.Close()
			os.Exit(2)
		}
		return
	}
	renderStats(os.Stdout, st, filter)
}
