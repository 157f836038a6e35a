package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/shopspring/decimal"
)

// Config 结构体定义了机器人的所有启动配置参数
type Config struct {
	Mode              string         `json:"mode"`                // 运行模式: "live" 或 "paper"
	APIURL            string         `json:"api_url"`             // Bithumb REST API 基础地址
	QuoteCurrency     string         `json:"quote_currency"`      // 计价货币, e.g., "KRW"
	Coins             []string       `json:"coins"`               // 监控的币种列表
	ExcludedSymbols   []string       `json:"excluded_symbols"`    // 对账时忽略的币种
	DustThreshold     float64        `json:"dust_threshold"`      // 低于该数量的余额视为粉尘
	PollIntervalSec   int            `json:"poll_interval_sec"`   // 两个周期之间的休眠秒数
	RequestTimeoutSec int            `json:"request_timeout_sec"` // 单次交易所调用的超时时间
	RateLimitPerSec   float64        `json:"rate_limit_per_sec"`  // 交易所调用的速率限制
	RetryAttempts     int            `json:"retry_attempts"`      // 下单失败时的尝试次数
	RetryDelayMs      int            `json:"retry_delay_ms"`      // 两次尝试之间的固定延迟
	RSIPeriod         int            `json:"rsi_period"`          // RSI 周期
	RSIInterval       string         `json:"rsi_interval"`        // 计算 RSI 的K线周期
	RSILookback       int            `json:"rsi_lookback"`        // 参与 RSI 计算的K线数量
	DailyInterval     string         `json:"daily_interval"`      // 日线周期, 用于涨跌幅、成交量和趋势
	Trading           TradingConfig  `json:"trading"`             // 初始交易阈值
	PresetsPath       string         `json:"presets_path"`        // 行情预设 YAML 文件路径 (可选)
	DBPath            string         `json:"db_path"`             // 账本检查点数据库路径
	ControlAddr       string         `json:"control_addr"`        // 运维 HTTP 接口监听地址, 为空则关闭
	NATSURL           string         `json:"nats_url"`            // 交易事件发布地址 (可选)
	NATSSubject       string         `json:"nats_subject"`        // 交易事件发布主题
	PaperQuoteBalance float64        `json:"paper_quote_balance"` // 模拟模式的初始资金
	PaperFeeRate      float64        `json:"paper_fee_rate"`      // 模拟模式的手续费率
	LogConfig         LogConfig      `json:"log"`                 // 日志配置
	TradeLog          TradeLogConfig `json:"trade_log"`           // 交易事件流配置

	APIKey    string `json:"-"` // 从环境变量读取
	SecretKey string `json:"-"` // 从环境变量读取
}

// LogConfig 定义了日志相关的配置
type LogConfig struct {
	Level      string `json:"level"`       // 日志级别, e.g., "debug", "info", "warn", "error"
	Output     string `json:"output"`      // 输出模式: "console", "file", "both"
	File       string `json:"file"`        // 日志文件路径
	MaxSize    int    `json:"max_size"`    // 单个日志文件的最大大小 (MB)
	MaxBackups int    `json:"max_backups"` // 保留的旧日志文件最大数量
	MaxAge     int    `json:"max_age"`     // 旧日志文件的最大保留天数
	Compress   bool   `json:"compress"`    // 是否压缩旧日志文件
}

// TradeLogConfig 定义了交易事件流的输出位置
type TradeLogConfig struct {
	File       string `json:"file"`
	Console    bool   `json:"console"`
	MaxSize    int    `json:"max_size"`
	MaxBackups int    `json:"max_backups"`
	MaxAge     int    `json:"max_age"`
}

// TradingConfig holds the operator-tunable thresholds. Values are copied,
// never shared, so a snapshot can be read without holding any lock.
type TradingConfig struct {
	DropThreshold    float64 `json:"dropThreshold" yaml:"dropThreshold"`
	RiseTarget       float64 `json:"riseTarget" yaml:"riseTarget"`
	StopLoss         float64 `json:"stopLoss" yaml:"stopLoss"`
	TrailingStop     float64 `json:"trailingStop" yaml:"trailingStop"`
	RSIThreshold     float64 `json:"rsiThreshold" yaml:"rsiThreshold"`
	VolumeMultiplier float64 `json:"volumeMultiplier" yaml:"volumeMultiplier"`
	PositionSize     float64 `json:"positionSize" yaml:"positionSize"`
	MaxPositions     int     `json:"maxPositions" yaml:"maxPositions"`
	VolumeGate       bool    `json:"volumeGate" yaml:"volumeGate"`
	TrendGate        bool    `json:"trendGate" yaml:"trendGate"`
}

// Trend is the moving-average regime of a price series.
type Trend string

const (
	TrendBull     Trend = "bull"
	TrendBear     Trend = "bear"
	TrendSideways Trend = "sideways"
	TrendUnknown  Trend = "unknown"
)

// Candle 是一根K线，序列按时间升序排列 (最新的在最后)
type Candle struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// MarketSnapshot is the per-coin view computed once per cycle.
type MarketSnapshot struct {
	Coin           string  `json:"coin"`
	CurrentPrice   float64 `json:"current_price"`
	PriorClose     float64 `json:"prior_close"`
	DailyChangePct float64 `json:"daily_change_pct"`
	VolumeRatio    float64 `json:"volume_ratio"`
	RSI            float64 `json:"rsi"`
	RSIReady       bool    `json:"rsi_ready"`
	Trend          Trend   `json:"trend"`
}

// OrderConfirmation is the exchange acknowledgement of a market order.
type OrderConfirmation struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
}

// Action 定义了交易方向的类型
type Action string

const (
	Buy  Action = "BUY"
	Sell Action = "SELL"
)

// TradeEvent 记录一笔成功的订单，只追加不修改
type TradeEvent struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Action    Action         `json:"action"`
	Coin      string         `json:"coin"`
	Amount    float64        `json:"amount"`
	Price     float64        `json:"price"`
	Reason    string         `json:"reason"`
	PnLPct    float64        `json:"pnl_pct,omitempty"`    // SELL only, in percent
	ProfitAbs float64        `json:"profit_abs,omitempty"` // SELL only, in quote currency
	Origin    PositionOrigin `json:"origin,omitempty"`
	OrderID   string         `json:"order_id"`
}

// Level is the log level name the display collaborator expects for the event.
func (e TradeEvent) Level() string {
	if e.Action == Sell {
		return "WARNING"
	}
	return "INFO"
}

// Message renders the event body without timestamp and level:
// ACTION | coin | amount개 | price원 | reason[ | +pnl% | profit원]
func (e TradeEvent) Message() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s | %s | %.6f개 | %s원 | %s", e.Action, e.Coin, e.Amount, FormatKRW(e.Price), e.Reason)
	if e.Action == Sell {
		fmt.Fprintf(&b, " | %s%% | %s원", FormatSignedPct(e.PnLPct), FormatKRW(e.ProfitAbs))
	}
	return b.String()
}

// Line renders the full event line, timestamp in ISO-8601.
func (e TradeEvent) Line() string {
	return fmt.Sprintf("%s | %s | %s", e.Timestamp.Format("2006-01-02T15:04:05.000Z0700"), e.Level(), e.Message())
}

// FormatKRW rounds to whole won and adds thousands separators.
func FormatKRW(v float64) string {
	return humanize.Comma(decimal.NewFromFloat(v).Round(0).IntPart())
}

// FormatSignedPct formats a percentage with an explicit sign and two decimals.
func FormatSignedPct(v float64) string {
	d := decimal.NewFromFloat(v).Round(2)
	if d.IsNegative() {
		return d.StringFixed(2)
	}
	return "+" + d.StringFixed(2)
}
