package execution

import (
	"context"
	"errors"
	"testing"
	"time"

	"bithumb-dip-bot-go/internal/exchange"
	"bithumb-dip-bot-go/internal/exchange/exchangetest"
	"bithumb-dip-bot-go/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var fixedNow = time.Date(2026, 10, 16, 9, 30, 0, 0, time.UTC)

func newFake() *exchangetest.Fake {
	f := exchangetest.New()
	f.Tradable["XRP"] = true
	f.Prices["XRP"] = 100
	f.Balances["KRW"] = 100000
	return f
}

func newGateway(f *exchangetest.Fake) (*Gateway, *[]time.Duration) {
	g := NewGateway(f, Config{QuoteCurrency: "KRW", RetryAttempts: 3, RetryDelay: time.Second}, zap.NewNop()).
		WithClock(func() time.Time { return fixedNow })
	var waits []time.Duration
	g.waitFor = func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		return ctx.Err()
	}
	return g, &waits
}

func TestBuy_Success(t *testing.T) {
	f := newFake()
	g, waits := newGateway(f)

	ev, err := g.Buy(context.Background(), "XRP", 200, 100)
	require.NoError(t, err)
	assert.Equal(t, models.Buy, ev.Action)
	assert.Equal(t, "dip", ev.Reason)
	assert.Equal(t, "T1", ev.OrderID)
	assert.Equal(t, fixedNow, ev.Timestamp)
	assert.NotEmpty(t, ev.ID)
	assert.Equal(t, 1, f.OrderCount())
	assert.Empty(t, *waits)
}

func TestBuy_TwoFailuresThenSuccess(t *testing.T) {
	f := newFake()
	f.OrderErrs = []error{errors.New("timeout"), errors.New("502")}
	g, waits := newGateway(f)

	ev, err := g.Buy(context.Background(), "XRP", 200, 100)
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, 3, f.OrderCount())
	assert.Equal(t, []time.Duration{time.Second, time.Second}, *waits)
}

func TestBuy_ExhaustsRetries(t *testing.T) {
	f := newFake()
	f.OrderErrs = []error{errors.New("a"), errors.New("b"), errors.New("c")}
	g, waits := newGateway(f)

	ev, err := g.Buy(context.Background(), "XRP", 200, 100)
	assert.Nil(t, ev)
	assert.ErrorIs(t, err, ErrRetriesExhausted)
	assert.Equal(t, 3, f.OrderCount())
	assert.Len(t, *waits, 2)
}

func TestBuy_MalformedConfirmationIsRetried(t *testing.T) {
	f := newFake()
	f.EmptyConfirmations = 1
	g, _ := newGateway(f)

	ev, err := g.Buy(context.Background(), "XRP", 200, 100)
	require.NoError(t, err)
	assert.Equal(t, "T1", ev.OrderID)
	assert.Equal(t, 2, f.OrderCount())
}

func TestBuy_PreconditionFailsFast(t *testing.T) {
	f := newFake()
	g, waits := newGateway(f)

	_, err := g.Buy(context.Background(), "XRP", 2000, 100)
	assert.ErrorIs(t, err, ErrPrecondition, "insufficient KRW")

	_, err = g.Buy(context.Background(), "DOGE", 1, 100)
	assert.ErrorIs(t, err, ErrPrecondition, "not tradable")

	assert.Equal(t, 0, f.OrderCount())
	assert.Empty(t, *waits)
}

func TestBuy_FeeShortfallFailsFast(t *testing.T) {
	market := newFake()
	paper := exchange.NewPaperExchange(market, "KRW", 10000, 0.0025, 0)
	g := NewGateway(paper, Config{QuoteCurrency: "KRW", RetryAttempts: 3}, zap.NewNop())
	var waits int
	g.waitFor = func(ctx context.Context, d time.Duration) error {
		waits++
		return ctx.Err()
	}

	// 10000 KRW 通过余额检查，但加上手续费后需要 10025 KRW
	_, err := g.Buy(context.Background(), "XRP", 100, 100)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPrecondition)
	assert.ErrorIs(t, err, exchange.ErrInsufficientBalance)
	assert.NotErrorIs(t, err, ErrRetriesExhausted)
	assert.Zero(t, waits)
	assert.Equal(t, 10000.0, paper.Cash)
}

func TestBuy_BalanceLookupFailureConsumesAttempt(t *testing.T) {
	f := newFake()
	f.BalanceErrs = []error{errors.New("balance down")}
	g, _ := newGateway(f)

	_, err := g.Buy(context.Background(), "XRP", 200, 100)
	require.NoError(t, err)
	assert.Equal(t, 2, f.BalanceHits)
	assert.Equal(t, 1, f.OrderCount())
}

func TestBuy_CancelledDuringDelay(t *testing.T) {
	f := newFake()
	f.OrderErrs = []error{errors.New("a"), errors.New("b")}
	g := NewGateway(f, Config{RetryAttempts: 3, RetryDelay: time.Hour}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := g.Buy(ctx, "XRP", 200, 100)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, f.OrderCount())
}

func TestSell_CarriesProfit(t *testing.T) {
	f := newFake()
	f.Balances["XRP"] = 200
	f.Prices["XRP"] = 106
	g, _ := newGateway(f)

	pos := models.Position{Coin: "XRP", BuyPrice: 100, Amount: 200, Origin: models.OriginReconciled}
	ev, err := g.Sell(context.Background(), pos, 106, "target")
	require.NoError(t, err)
	assert.Equal(t, models.Sell, ev.Action)
	assert.Equal(t, "target", ev.Reason)
	assert.InDelta(t, 6.0, ev.PnLPct, 1e-9)
	assert.InDelta(t, 1200.0, ev.ProfitAbs, 1e-9)
	assert.Equal(t, models.OriginReconciled, ev.Origin)
	assert.Equal(t, "+6.00", models.FormatSignedPct(ev.PnLPct))
}

func TestSell_InsufficientCoinBalance(t *testing.T) {
	f := newFake()
	f.Balances["XRP"] = 100
	g, _ := newGateway(f)

	_, err := g.Sell(context.Background(), models.Position{Coin: "XRP", BuyPrice: 100, Amount: 200}, 100, "stop_loss")
	assert.ErrorIs(t, err, ErrPrecondition)
	assert.Equal(t, 0, f.OrderCount())
}

func TestProfit(t *testing.T) {
	pct, abs := Profit(100, 97, 10)
	assert.InDelta(t, -3.0, pct, 1e-9)
	assert.InDelta(t, -30.0, abs, 1e-9)

	pct, abs = Profit(0, 97, 10)
	assert.Zero(t, pct)
	assert.Zero(t, abs)
}

func TestWaitForContext(t *testing.T) {
	assert.NoError(t, WaitForContext(context.Background(), time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, WaitForContext(ctx, time.Hour), context.Canceled)
	assert.ErrorIs(t, WaitForContext(ctx, 0), context.Canceled)
}
