package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bithumb-dip-bot-go/internal/bot"
	"bithumb-dip-bot-go/internal/config"
	"bithumb-dip-bot-go/internal/configstore"
	"bithumb-dip-bot-go/internal/control"
	"bithumb-dip-bot-go/internal/eventstream"
	"bithumb-dip-bot-go/internal/exchange"
	"bithumb-dip-bot-go/internal/execution"
	"bithumb-dip-bot-go/internal/ledger"
	"bithumb-dip-bot-go/internal/logger"
	"bithumb-dip-bot-go/internal/metrics"
	"bithumb-dip-bot-go/internal/models"
	"bithumb-dip-bot-go/internal/persistence"
	"bithumb-dip-bot-go/internal/reconcile"
	"bithumb-dip-bot-go/internal/reporter"

	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const hubReplay = 50

func main() {
	// --- 命令行参数定义 ---
	configPath := flag.String("config", "config.json", "path to the config file")
	mode := flag.String("mode", "", "running mode: live or paper (overrides the config file)")
	flag.Parse()

	// --- 初始化日志 (提前) ---
	logger.InitLogger(models.LogConfig{Level: "info", Output: "console"})

	// --- 加载 .env 文件 ---
	if err := godotenv.Load(); err != nil {
		logger.S().Info("未找到 .env 文件，将从系统环境变量中读取。")
	} else {
		logger.S().Info("成功从 .env 文件加载配置。")
	}

	// --- 加载 JSON 配置 ---
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.S().Fatalf("无法加载配置文件: %v", err)
	}
	if *mode != "" {
		cfg.Mode = *mode
		if err := config.Validate(cfg); err != nil {
			logger.S().Fatalf("配置无效: %v", err)
		}
	}

	// --- 使用文件中的配置重新初始化日志 ---
	log := logger.InitLogger(cfg.LogConfig)
	defer logger.S().Sync()

	if err := run(cfg, log); err != nil {
		logger.S().Fatal(err)
	}
}

func run(cfg *models.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ex, paper, err := newExchange(cfg, log)
	if err != nil {
		return err
	}

	presets := config.BuiltinPresets()
	if cfg.PresetsPath != "" {
		if presets, err = config.LoadPresets(cfg.PresetsPath); err != nil {
			return fmt.Errorf("加载预设失败: %w", err)
		}
	}
	store, err := configstore.New(cfg.Trading, presets)
	if err != nil {
		return fmt.Errorf("初始交易参数无效: %w", err)
	}
	store.OnChange(func(tc models.TradingConfig) {
		log.Info("trading config changed", zap.Any("config", tc))
	})

	// --- 账本检查点 ---
	if err := os.MkdirAll(cfg.DBPath, 0o755); err != nil {
		return fmt.Errorf("创建检查点目录失败: %w", err)
	}
	repo, err := persistence.NewBadgerRepository(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("无法打开检查点数据库: %w", err)
	}
	defer repo.Close()

	checkpoint := ledger.NewCheckpointer(repo, log)
	reconciler := reconcile.New(reconcile.Config{
		QuoteCurrency:   cfg.QuoteCurrency,
		ExcludedSymbols: cfg.ExcludedSymbols,
		DustThreshold:   cfg.DustThreshold,
	}, log)
	if state, err := checkpoint.Restore(); err != nil {
		log.Warn("无法读取账本检查点，将仅按交易所余额对账", zap.Error(err))
	} else if state != nil {
		log.Info("loaded ledger checkpoint",
			zap.String("run_id", state.RunID),
			zap.Int("positions", len(state.Positions)),
			zap.Time("updated", state.LastUpdateTime),
		)
		reconciler.SetCheckpoint(state)
	}
	checkpoint.Start()
	defer checkpoint.Stop()

	// --- 事件输出 ---
	session := reporter.NewSession(time.Now())
	hub := eventstream.NewHub(hubReplay, log)
	defer hub.Close()
	sinks := eventstream.Multi{
		eventstream.NewTradeLog(logger.NewTradeLogger(cfg.TradeLog)),
		hub,
		session,
		metrics.TradeRecorder{},
	}
	if cfg.NATSURL != "" {
		natsSink, conn, err := eventstream.ConnectNATS(cfg.NATSURL, cfg.NATSSubject, log)
		if err != nil {
			log.Warn("NATS 不可用，交易事件将不会发布", zap.Error(err))
		} else {
			defer drain(conn, log)
			sinks = append(sinks, natsSink)
		}
	}

	gateway := execution.NewGateway(ex, execution.Config{
		QuoteCurrency:  cfg.QuoteCurrency,
		RetryAttempts:  cfg.RetryAttempts,
		RetryDelay:     time.Duration(cfg.RetryDelayMs) * time.Millisecond,
		RequestTimeout: time.Duration(cfg.RequestTimeoutSec) * time.Second,
	}, log)

	engine := bot.NewEngine(bot.ConfigFromModel(cfg), bot.Deps{
		Exchange:     ex,
		Store:        store,
		Gateway:      gateway,
		Reconciler:   reconciler,
		Checkpointer: checkpoint,
		Sink:         sinks,
		Logger:       log,
	})

	// --- 运维接口 ---
	if cfg.ControlAddr != "" {
		srv := control.NewServer(cfg.ControlAddr, store, engine, hub, log)
		srv.Start()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Warn("control server shutdown failed", zap.Error(err))
			}
		}()
	}

	logger.S().Infof("--- 启动%s模式 --- run_id=%s", cfg.Mode, engine.RunID())
	if err := engine.Run(ctx); err != nil {
		return err
	}

	// --- 生成并打印运行报告 ---
	reporter.GenerateReport(os.Stdout, session.Metrics(time.Now()))
	fmt.Println(reporter.RenderPositions(engine.Positions(), nil))
	if paper != nil {
		logger.S().Infof("模拟账户: 现金 %s원, 累计手续费 %s원", models.FormatKRW(paper.Cash), models.FormatKRW(paper.TotalFees))
	}
	return nil
}

// newExchange 根据模式创建交易所。模拟模式使用真实的公开行情和模拟账户。
func newExchange(cfg *models.Config, log *zap.Logger) (exchange.Exchange, *exchange.PaperExchange, error) {
	timeout := time.Duration(cfg.RequestTimeoutSec) * time.Second
	switch cfg.Mode {
	case "live":
		if cfg.APIKey == "" || cfg.SecretKey == "" {
			return nil, nil, fmt.Errorf("错误：BITHUMB_API_KEY 和 BITHUMB_SECRET_KEY 环境变量必须被设置")
		}
		return exchange.NewLiveExchange(cfg.APIKey, cfg.SecretKey, cfg.APIURL, cfg.QuoteCurrency, timeout, cfg.RateLimitPerSec, log), nil, nil
	case "paper":
		market := exchange.NewLiveExchange("", "", cfg.APIURL, cfg.QuoteCurrency, timeout, cfg.RateLimitPerSec, log)
		paper := exchange.NewPaperExchange(market, cfg.QuoteCurrency, cfg.PaperQuoteBalance, cfg.PaperFeeRate, 0)
		return paper, paper, nil
	default:
		return nil, nil, fmt.Errorf("未知的运行模式: %s。请选择 'live' 或 'paper'。", cfg.Mode)
	}
}

func drain(conn *nats.Conn, log *zap.Logger) {
	if err := conn.Drain(); err != nil {
		log.Warn("NATS drain failed", zap.Error(err))
		conn.Close()
	}
}
