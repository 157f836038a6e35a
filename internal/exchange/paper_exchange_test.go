package exchange

import (
	"context"
	"testing"

	"bithumb-dip-bot-go/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// staticMarket serves fixed prices for the paper account.
type staticMarket struct {
	prices map[string]float64
}

func (m *staticMarket) GetCurrentPrice(_ context.Context, coin string) (float64, error) {
	p, ok := m.prices[coin]
	if !ok {
		return 0, ErrPriceUnavailable
	}
	return p, nil
}

func (m *staticMarket) GetOHLCV(context.Context, string, string) ([]models.Candle, error) {
	return []models.Candle{{Close: 1}}, nil
}

func (m *staticMarket) GetTradableAssets(context.Context) (map[string]bool, error) {
	out := map[string]bool{}
	for k := range m.prices {
		out[k] = true
	}
	return out, nil
}

func (m *staticMarket) GetBalances(context.Context) (map[string]float64, error) {
	panic("paper exchange must not read the market account")
}

func (m *staticMarket) PlaceMarketBuy(context.Context, string, float64) (*models.OrderConfirmation, error) {
	panic("paper exchange must not trade on the market")
}

func (m *staticMarket) PlaceMarketSell(context.Context, string, float64) (*models.OrderConfirmation, error) {
	panic("paper exchange must not trade on the market")
}

func TestPaperExchange_RoundTrip(t *testing.T) {
	market := &staticMarket{prices: map[string]float64{"XRP": 100}}
	e := NewPaperExchange(market, "KRW", 100000, 0.001, 0)
	ctx := context.Background()

	conf, err := e.PlaceMarketBuy(ctx, "XRP", 200)
	require.NoError(t, err)
	assert.Equal(t, "P1", conf.OrderID)

	balances, err := e.GetBalances(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 100000-20000-20, balances["KRW"], 1e-6)
	assert.Equal(t, 200.0, balances["XRP"])

	market.prices["XRP"] = 106
	conf, err = e.PlaceMarketSell(ctx, "XRP", 200)
	require.NoError(t, err)
	assert.Equal(t, "P2", conf.OrderID)

	balances, _ = e.GetBalances(ctx)
	assert.NotContains(t, balances, "XRP")
	assert.InDelta(t, 79980+21200-21.2, balances["KRW"], 1e-6)
	assert.InDelta(t, 41.2, e.TotalFees, 1e-9)
}

func TestPaperExchange_InsufficientBalance(t *testing.T) {
	market := &staticMarket{prices: map[string]float64{"XRP": 100}}
	e := NewPaperExchange(market, "KRW", 1000, 0, 0)
	ctx := context.Background()

	_, err := e.PlaceMarketBuy(ctx, "XRP", 11)
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	_, err = e.PlaceMarketSell(ctx, "XRP", 1)
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	_, err = e.PlaceMarketBuy(ctx, "NOPE", 1)
	assert.ErrorIs(t, err, ErrPriceUnavailable)

	assets, err := e.GetTradableAssets(ctx)
	require.NoError(t, err)
	assert.True(t, assets["XRP"])
}
