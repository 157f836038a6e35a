package metrics

import (
	"bithumb-dip-bot-go/internal/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "trader_cycle_duration_seconds",
		Help:    "Duration of one polling cycle",
		Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
	})

	CyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trader_cycles_total",
		Help: "Polling cycles by outcome",
	}, []string{"outcome"})

	CoinOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trader_coin_outcomes_total",
		Help: "Per-coin evaluation outcomes",
	}, []string{"outcome"})

	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trader_trades_total",
		Help: "Confirmed orders by action and reason",
	}, []string{"action", "reason"})

	OrderFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trader_order_failures_total",
		Help: "Orders that were not confirmed",
	}, []string{"action", "kind"})

	OpenPositions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "trader_open_positions",
		Help: "Positions currently held in the ledger",
	})

	RealizedProfit = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trader_realized_profit_krw_total",
		Help: "Sum of realized gains of SELL events in quote currency",
	})

	RealizedLoss = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trader_realized_loss_krw_total",
		Help: "Sum of realized losses of SELL events in quote currency, as a positive number",
	})

	AdoptedPositions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trader_adopted_positions_total",
		Help: "Holdings adopted into the ledger by reconciliation",
	})

	ConfigUpdates = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trader_config_updates_total",
		Help: "Operator config mutations by result",
	}, []string{"result"})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "trader_ws_connections",
		Help: "Active websocket event stream connections",
	})
)

// TradeRecorder updates trade counters from the event stream.
type TradeRecorder struct{}

func (TradeRecorder) Publish(ev models.TradeEvent) error {
	TradesTotal.WithLabelValues(string(ev.Action), ev.Reason).Inc()
	if ev.Action != models.Sell {
		return nil
	}
	if ev.ProfitAbs >= 0 {
		RealizedProfit.Add(ev.ProfitAbs)
	} else {
		RealizedLoss.Add(-ev.ProfitAbs)
	}
	return nil
}
