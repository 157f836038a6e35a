package metrics

import (
	"testing"

	"bithumb-dip-bot-go/internal/models"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTradeRecorder(t *testing.T) {
	buys := testutil.ToFloat64(TradesTotal.WithLabelValues("BUY", "dip"))
	gains := testutil.ToFloat64(RealizedProfit)
	losses := testutil.ToFloat64(RealizedLoss)

	var r TradeRecorder
	require.NoError(t, r.Publish(models.TradeEvent{Action: models.Buy, Reason: "dip"}))
	require.NoError(t, r.Publish(models.TradeEvent{Action: models.Sell, Reason: "target", ProfitAbs: 1200}))
	require.NoError(t, r.Publish(models.TradeEvent{Action: models.Sell, Reason: "stop_loss", ProfitAbs: -600}))

	assert.Equal(t, buys+1, testutil.ToFloat64(TradesTotal.WithLabelValues("BUY", "dip")))
	assert.Equal(t, gains+1200, testutil.ToFloat64(RealizedProfit))
	assert.Equal(t, losses+600, testutil.ToFloat64(RealizedLoss))
}
