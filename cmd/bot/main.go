package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/betbot/pairbot/internal/controlplane/server"
	"github.com/betbot/pairbot/internal/infrastructure/clob"
	"github.com/betbot/pairbot/internal/infrastructure/gamma"
	"github.com/betbot/pairbot/internal/infrastructure/websocket"
	"github.com/betbot/pairbot/internal/journal"
	"github.com/betbot/pairbot/internal/ledger"
	"github.com/betbot/pairbot/internal/metrics"
	"github.com/betbot/pairbot/internal/ports"
	"github.com/betbot/pairbot/internal/risk"
	"github.com/betbot/pairbot/internal/rotation"
	"github.com/betbot/pairbot/internal/strategies/pairhedge"
	"github.com/betbot/pairbot/pkg/config"
	"github.com/betbot/pairbot/pkg/logger"
	"github.com/betbot/pairbot/pkg/shutdown"
)

func firstExistingFile(paths ...string) (string, bool) {
	for _, p := range paths {
		if strings.TrimSpace(p) == "" {
			continue
		}
		if _, err := os.Stat(p); err == nil {
			return p, true
		}
	}
	return "", false
}

// resolveStrategyFile -strategy 可以是路径，也可以是 yml/strategies 下的名字
func resolveStrategyFile(name string) (string, error) {
	name = strings.TrimSpace(name)
	if p, ok := firstExistingFile(name); ok {
		return p, nil
	}
	var candidates []string
	for _, ext := range []string{".yaml", ".yml"} {
		candidates = append(candidates, filepath.Join("yml/strategies", name+ext))
	}
	if p, ok := firstExistingFile(candidates...); ok {
		return p, nil
	}
	return "", fmt.Errorf("未找到策略配置文件：%s（已尝试 yml/strategies/%s.(yaml|yml)）", name, name)
}

func openGateway(ctx context.Context, cfg *config.Config) (ports.ExchangeGateway, error) {
	if cfg.DryRun {
		logrus.Warnf("📝 dry_run 模式：订单在本地按盘口模拟成交，初始余额 %.2f", cfg.PaperBalance)
		return clob.NewPaperGateway(clob.NewPublic(cfg.Exchange), cfg.PaperBalance), nil
	}
	c, err := clob.New(cfg.Exchange, cfg.Wallet)
	if err != nil {
		return nil, err
	}
	if err := c.EnsureCreds(ctx); err != nil {
		return nil, fmt.Errorf("获取 API 凭证失败: %w", err)
	}
	logrus.Infof("交易地址: %s", c.Address())
	return c, nil
}

func main() {
	configPath := flag.String("config", "", "配置文件路径（支持 .yaml, .yml, .json）")
	strategyName := flag.String("strategy", "", "策略配置（路径或 yml/strategies 下的名字），覆盖主配置里的 pairhedge 段")
	flag.Parse()

	path := *configPath
	if path == "" {
		if p, ok := firstExistingFile("yml/config.yaml", "yml/config.yml"); ok {
			path = p
		} else {
			logrus.Warnf("未指定配置文件，且默认 yml/config.yaml 不存在，将使用环境变量和默认值")
		}
	}

	cfg, err := config.LoadFromFile(path)
	if err != nil {
		logrus.Errorf("加载配置失败: %v", err)
		os.Exit(1)
	}
	if *strategyName != "" {
		p, err := resolveStrategyFile(*strategyName)
		if err != nil {
			logrus.Errorf("解析策略配置失败: %v", err)
			os.Exit(1)
		}
		if err := cfg.LoadStrategyFile(p); err != nil {
			logrus.Errorf("加载策略文件失败: %v", err)
			os.Exit(1)
		}
		logrus.Infof("已加载策略配置: %s", p)
	}

	if err := logger.Init(cfg.Log); err != nil {
		panic(fmt.Sprintf("初始化日志失败: %v", err))
	}
	if path != "" {
		logrus.Infof("使用配置文件: %s", path)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := ledger.OpenStore(ctx, cfg.Ledger)
	if err != nil {
		logrus.Errorf("打开账本失败: %v", err)
		os.Exit(1)
	}
	// 不指定 session_id 时每次启动都是新会话，回撤基线从本次启动的余额算起
	var ledgerOpts []ledger.Option
	if cfg.Ledger.SessionID != "" {
		ledgerOpts = append(ledgerOpts, ledger.WithSessionID(cfg.Ledger.SessionID))
	}
	led := ledger.New(store, ledgerOpts...)
	logrus.Infof("账本: backend=%s universe=%s session=%s", cfg.Ledger.Backend, cfg.Ledger.Universe, led.SessionID())

	jr, err := journal.Open(cfg.JournalPath)
	if err != nil {
		logrus.Errorf("打开下单流水失败: %v", err)
		os.Exit(1)
	}

	gw, err := openGateway(ctx, cfg)
	if err != nil {
		logrus.Errorf("初始化交易网关失败: %v", err)
		os.Exit(1)
	}

	feed := websocket.NewMarketFeed(cfg.Exchange.WSHost)
	go func() {
		if err := feed.Run(ctx); err != nil && ctx.Err() == nil {
			logrus.Errorf("行情 WS 退出: %v", err)
		}
	}()

	if cfg.MetricsAddr != "" {
		if _, err := metrics.StartAsync(ctx, cfg.MetricsAddr); err != nil {
			logrus.Errorf("启动 metrics 服务失败: %v", err)
		} else {
			logrus.Infof("metrics: http://%s/metrics", cfg.MetricsAddr)
		}
	}

	ctrl := rotation.New(rotation.Deps{
		Config:    cfg,
		Gateway:   gw,
		Discovery: gamma.New(cfg.Exchange),
		Feed:      feed,
		Ledger:    led,
		Guard:     risk.NewCapitalGuard(),
		Breaker: risk.NewCircuitBreaker(risk.CircuitBreakerConfig{
			MaxConsecutiveErrors: int64(cfg.MaxConsecutiveErrors),
			Cooldown:             time.Duration(cfg.BreakerCooldown) * time.Second,
		}),
		Journal: jr,
	})

	if cfg.ControlAddr != "" {
		srv, err := server.New(server.Config{
			Ledger:        led,
			Journal:       jr,
			DrawdownLimit: cfg.DrawdownLimit,
			Positions: func() []pairhedge.PositionSnapshot {
				workers := ctrl.Workers()
				out := make([]pairhedge.PositionSnapshot, 0, len(workers))
				for _, w := range workers {
					out = append(out, w.Snapshot())
				}
				return out
			},
		})
		if err == nil {
			_, err = srv.StartAsync(ctx, cfg.ControlAddr)
		}
		if err != nil {
			logrus.Errorf("启动 control plane 失败: %v", err)
		}
	}

	ctrlDone := make(chan struct{})
	go func() {
		defer close(ctrlDone)
		if err := ctrl.Run(ctx); err != nil && ctx.Err() == nil {
			logrus.Errorf("轮动控制器退出: %v", err)
		}
	}()

	mgr := shutdown.NewManager()
	mgr.OnShutdown("rotation", func(ctx context.Context) error {
		select {
		case <-ctrlDone:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	mgr.Then()
	mgr.OnShutdown("ledger", func(context.Context) error { return led.Close() })
	mgr.OnShutdown("journal", func(context.Context) error { return jr.Close() })
	mgr.Then()
	mgr.OnShutdown("logger", func(context.Context) error { return logger.Close() })

	select {
	case <-ctx.Done():
		logrus.Infof("收到退出信号，开始优雅关闭...")
	case <-ctrlDone:
		logrus.Warnf("轮动控制器提前退出，开始关闭...")
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.ShutdownTimeout)*time.Second)
	defer cancel()
	if err := mgr.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "关闭过程出错: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("已退出")
}
