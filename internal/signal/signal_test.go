package signal

import (
	"testing"

	"bithumb-dip-bot-go/internal/models"

	"github.com/stretchr/testify/assert"
)

func defaultCfg() models.TradingConfig {
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
	}
}

func dipSnapshot() models.MarketSnapshot {
	return models.MarketSnapshot{
		Coin:           "XRP",
		CurrentPrice:   94,
		PriorClose:     100,
		DailyChangePct: -0.06,
		VolumeRatio:    2.5,
		RSI:            32,
		RSIReady:       true,
		Trend:          models.TrendBull,
	}
}

func TestEvaluateEntry_Dip(t *testing.T) {
	d := EvaluateEntry(dipSnapshot(), defaultCfg(), false, 0)
	assert.True(t, d.Enter)
	assert.Equal(t, ReasonDip, d.Reason)
}

func TestEvaluateEntry_DropBoundaryIsInclusive(t *testing.T) {
	s := dipSnapshot()
	s.DailyChangePct = -0.05
	assert.True(t, EvaluateEntry(s, defaultCfg(), false, 0).Enter)
}

func TestEvaluateEntry_Rejections(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(s *models.MarketSnapshot, c *models.TradingConfig)
		held    bool
		open    int
		wantWhy string
	}{
		{name: "held", held: true, wantWhy: ReasonHeld},
		{name: "ledger full", open: 5, wantWhy: ReasonLedgerFull},
		{name: "small drop", mutate: func(s *models.MarketSnapshot, _ *models.TradingConfig) { s.DailyChangePct = -0.049 }, wantWhy: ReasonNoDrop},
		{name: "rsi not ready", mutate: func(s *models.MarketSnapshot, _ *models.TradingConfig) { s.RSIReady = false; s.RSI = 50 }, wantWhy: ReasonRSIUnknown},
		{name: "rsi equal threshold", mutate: func(s *models.MarketSnapshot, _ *models.TradingConfig) { s.RSI = 40 }, wantWhy: ReasonRSIHigh},
		{name: "volume low", mutate: func(s *models.MarketSnapshot, _ *models.TradingConfig) { s.VolumeRatio = 1.9 }, wantWhy: ReasonLowVolume},
		{name: "trend gated", mutate: func(s *models.MarketSnapshot, c *models.TradingConfig) { c.TrendGate = true; s.Trend = models.TrendSideways }, wantWhy: ReasonTrendNotBull},
		{name: "zero price", mutate: func(s *models.MarketSnapshot, _ *models.TradingConfig) { s.CurrentPrice = 0 }, wantWhy: ReasonBadSnapshot},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s, c := dipSnapshot(), defaultCfg()
			if tc.mutate != nil {
				tc.mutate(&s, &c)
			}
			d := EvaluateEntry(s, c, tc.held, tc.open)
			assert.False(t, d.Enter)
			assert.Equal(t, tc.wantWhy, d.Reason)
		})
	}
}

func TestEvaluateEntry_GatesDisabled(t *testing.T) {
	s := dipSnapshot()
	s.VolumeRatio = 0
	s.Trend = models.TrendBear
	c := defaultCfg()
	c.VolumeGate = false
	c.TrendGate = false
	assert.True(t, EvaluateEntry(s, c, false, 4).Enter)
}
