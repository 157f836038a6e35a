package config

import (
	"bithumb-dip-bot-go/internal/models"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"strings"
)

// ErrInvalidConfig 是所有配置校验失败的根错误
var ErrInvalidConfig = errors.New("invalid config")

// DefaultTradingConfig 返回默认的交易阈值
func DefaultTradingConfig() models.TradingConfig {
	return models.TradingConfig{
		DropThreshold:    0.05,
		RiseTarget:       0.04,
		StopLoss:         0.03,
		TrailingStop:     0.02,
		RSIThreshold:     40,
		VolumeMultiplier: 2.0,
		PositionSize:     20000,
		MaxPositions:     5,
		VolumeGate:       true,
		TrendGate:        false,
	}
}

// DefaultConfig 返回所有字段都已填充默认值的配置
func DefaultConfig() *models.Config {
	return &models.Config{
		Mode:              "live",
		APIURL:            "https://api.bithumb.com",
		QuoteCurrency:     "KRW",
		Coins:             []string{"ETH", "XRP", "DOGE", "ADA", "SOL", "LINK", "DOT", "AVAX", "MATIC", "LTC"},
		ExcludedSymbols:   []string{"P", "BTC", "SOLO"},
		DustThreshold:     0.0001,
		PollIntervalSec:   60,
		RequestTimeoutSec: 10,
		RateLimitPerSec:   10,
		RetryAttempts:     3,
		RetryDelayMs:      1000,
		RSIPeriod:         14,
		RSIInterval:       "1m",
		RSILookback:       100,
		DailyInterval:     "24h",
		Trading:           DefaultTradingConfig(),
		DBPath:            "data/ledger",
		NATSSubject:       "trader.events",
		PaperQuoteBalance: 1000000,
		PaperFeeRate:      0.0025,
		LogConfig: models.LogConfig{
			Level:      "info",
			Output:     "console",
			File:       "logs/bot.log",
			MaxSize:    10,
			MaxBackups: 5,
			MaxAge:     30,
		},
		TradeLog: models.TradeLogConfig{
			File:       "trader.log",
			MaxSize:    10,
			MaxBackups: 5,
			MaxAge:     30,
		},
	}
}

// LoadConfig 从指定路径加载JSON配置文件，覆盖在默认值之上，API密钥从环境变量读取
func LoadConfig(path string) (*models.Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	config := DefaultConfig()
	if err := json.NewDecoder(file).Decode(config); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}

	config.APIKey = os.Getenv("BITHUMB_API_KEY")
	config.SecretKey = os.Getenv("BITHUMB_SECRET_KEY")
	config.QuoteCurrency = strings.ToUpper(config.QuoteCurrency)
	for i, c := range config.Coins {
		config.Coins[i] = strings.ToUpper(strings.TrimSpace(c))
	}

	if err := Validate(config); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate 检查启动配置，不检查 API 密钥 (只有 live 模式需要，由调用方决定)
func Validate(cfg *models.Config) error {
	switch cfg.Mode {
	case "live", "paper":
	default:
		return fmt.Errorf("%w: mode must be live or paper, got %q", ErrInvalidConfig, cfg.Mode)
	}
	if len(cfg.Coins) == 0 {
		return fmt.Errorf("%w: coins must not be empty", ErrInvalidConfig)
	}
	if cfg.QuoteCurrency == "" {
		return fmt.Errorf("%w: quote_currency is required", ErrInvalidConfig)
	}
	if cfg.PollIntervalSec <= 0 || cfg.RequestTimeoutSec <= 0 {
		return fmt.Errorf("%w: poll_interval_sec and request_timeout_sec must be positive", ErrInvalidConfig)
	}
	if cfg.RetryAttempts < 1 || cfg.RetryDelayMs < 0 {
		return fmt.Errorf("%w: retry_attempts must be >= 1 and retry_delay_ms >= 0", ErrInvalidConfig)
	}
	if cfg.RSIPeriod < 1 || cfg.RSILookback <= cfg.RSIPeriod {
		return fmt.Errorf("%w: rsi_lookback must exceed rsi_period", ErrInvalidConfig)
	}
	if cfg.DustThreshold < 0 {
		return fmt.Errorf("%w: dust_threshold must not be negative", ErrInvalidConfig)
	}
	return ValidateTrading(cfg.Trading)
}

// ValidateTrading checks the invariants of a complete threshold set.
func ValidateTrading(c models.TradingConfig) error {
	unit := map[string]float64{
		"dropThreshold": c.DropThreshold,
		"riseTarget":    c.RiseTarget,
		"stopLoss":      c.StopLoss,
		"trailingStop":  c.TrailingStop,
	}
	for _, key := range []string{"dropThreshold", "riseTarget", "stopLoss", "trailingStop"} {
		v := unit[key]
		if math.IsNaN(v) || v <= 0 || v >= 1 {
			return fmt.Errorf("%w: %s must be in (0,1), got %v", ErrInvalidConfig, key, v)
		}
	}
	if math.IsNaN(c.RSIThreshold) || c.RSIThreshold <= 0 || c.RSIThreshold > 100 {
		return fmt.Errorf("%w: rsiThreshold must be in (0,100], got %v", ErrInvalidConfig, c.RSIThreshold)
	}
	if math.IsNaN(c.VolumeMultiplier) || c.VolumeMultiplier <= 0 {
		return fmt.Errorf("%w: volumeMultiplier must be positive, got %v", ErrInvalidConfig, c.VolumeMultiplier)
	}
	if math.IsNaN(c.PositionSize) || math.IsInf(c.PositionSize, 0) || c.PositionSize <= 0 {
		return fmt.Errorf("%w: positionSize must be positive, got %v", ErrInvalidConfig, c.PositionSize)
	}
	if c.MaxPositions < 1 {
		return fmt.Errorf("%w: maxPositions must be a positive integer, got %d", ErrInvalidConfig, c.MaxPositions)
	}
	return nil
}
