// Package signal turns a market snapshot into an entry recommendation.
package signal

import "bithumb-dip-bot-go/internal/models"

// 入场判断原因。只有 ReasonDip 表示入场。
const (
	ReasonDip          = "dip"
	ReasonHeld         = "held"
	ReasonLedgerFull   = "ledger_full"
	ReasonNoDrop       = "no_drop"
	ReasonRSIUnknown   = "rsi_unknown"
	ReasonRSIHigh      = "rsi_high"
	ReasonLowVolume    = "low_volume"
	ReasonTrendNotBull = "trend_not_bull"
	ReasonBadSnapshot  = "bad_snapshot"
)

// Decision 是 EvaluateEntry 的结果
type Decision struct {
	Enter  bool
	Reason string
}

// EvaluateEntry 判断是否开仓，所有条件必须同时满足:
// 未持有该币种、持仓未满、日内跌幅不小于 dropThreshold、RSI 有效且低于 rsiThreshold，
// 以及启用时的成交量和趋势条件。Reason 为第一个不满足的条件。
func EvaluateEntry(s models.MarketSnapshot, cfg models.TradingConfig, isHeld bool, openCount int) Decision {
	switch {
	case isHeld:
		return Decision{Reason: ReasonHeld}
	case openCount >= cfg.MaxPositions:
		return Decision{Reason: ReasonLedgerFull}
	case s.CurrentPrice <= 0 || s.PriorClose <= 0:
		return Decision{Reason: ReasonBadSnapshot}
	case s.DailyChangePct > -cfg.DropThreshold:
		return Decision{Reason: ReasonNoDrop}
	case !s.RSIReady:
		return Decision{Reason: ReasonRSIUnknown}
	case s.RSI >= cfg.RSIThreshold:
		return Decision{Reason: ReasonRSIHigh}
	case cfg.VolumeGate && s.VolumeRatio < cfg.VolumeMultiplier:
		return Decision{Reason: ReasonLowVolume}
	case cfg.TrendGate && s.Trend != models.TrendBull:
		return Decision{Reason: ReasonTrendNotBull}
	}
	return Decision{Enter: true, Reason: ReasonDip}
}
