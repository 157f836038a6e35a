// Package exchangetest provides a scriptable in-memory Exchange for tests.
package exchangetest

import (
	"context"
	"fmt"
	"sync"

	"bithumb-dip-bot-go/internal/exchange"
	"bithumb-dip-bot-go/internal/models"
)

// Order records one PlaceMarket* call.
type Order struct {
	Side   models.Action
	Coin   string
	Amount float64
}

// Fake is a hand-written Exchange. Zero values mean "no data"; the
// *Errs slices are consumed one element per call before falling back to
// success.
type Fake struct {
	mu sync.Mutex

	Prices   map[string]float64
	Candles  map[string][]models.Candle // key: coin + "/" + interval
	Tradable map[string]bool
	Balances map[string]float64

	PriceErr    map[string]error
	CandleErr   map[string]error
	TradableErr error
	BalanceErrs []error
	OrderErrs   []error
	// EmptyConfirmations makes the next N orders return a confirmation without an id.
	EmptyConfirmations int

	Orders      []Order
	orderSeq    int
	BalanceHits int
}

var _ exchange.Exchange = (*Fake)(nil)

// New returns an empty Fake.
func New() *Fake {
	return &Fake{
		Prices:    map[string]float64{},
		Candles:   map[string][]models.Candle{},
		Tradable:  map[string]bool{},
		Balances:  map[string]float64{},
		PriceErr:  map[string]error{},
		CandleErr: map[string]error{},
	}
}

func (f *Fake) GetCurrentPrice(ctx context.Context, coin string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := f.PriceErr[coin]; err != nil {
		return 0, err
	}
	p, ok := f.Prices[coin]
	if !ok {
		return 0, fmt.Errorf("%s: %w", coin, exchange.ErrPriceUnavailable)
	}
	return p, nil
}

func (f *Fake) GetOHLCV(ctx context.Context, coin, interval string) ([]models.Candle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key := coin + "/" + interval
	if err := f.CandleErr[key]; err != nil {
		return nil, err
	}
	return append([]models.Candle(nil), f.Candles[key]...), nil
}

func (f *Fake) GetTradableAssets(ctx context.Context) (map[string]bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.TradableErr != nil {
		return nil, f.TradableErr
	}
	out := make(map[string]bool, len(f.Tradable))
	for k, v := range f.Tradable {
		out[k] = v
	}
	return out, ctx.Err()
}

func (f *Fake) GetBalances(ctx context.Context) (map[string]float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.BalanceHits++
	if len(f.BalanceErrs) > 0 {
		err := f.BalanceErrs[0]
		f.BalanceErrs = f.BalanceErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	out := make(map[string]float64, len(f.Balances))
	for k, v := range f.Balances {
		out[k] = v
	}
	return out, ctx.Err()
}

func (f *Fake) PlaceMarketBuy(ctx context.Context, coin string, amount float64) (*models.OrderConfirmation, error) {
	return f.place(ctx, models.Buy, coin, amount)
}

func (f *Fake) PlaceMarketSell(ctx context.Context, coin string, amount float64) (*models.OrderConfirmation, error) {
	return f.place(ctx, models.Sell, coin, amount)
}

func (f *Fake) place(ctx context.Context, side models.Action, coin string, amount float64) (*models.OrderConfirmation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.Orders = append(f.Orders, Order{Side: side, Coin: coin, Amount: amount})
	if len(f.OrderErrs) > 0 {
		err := f.OrderErrs[0]
		f.OrderErrs = f.OrderErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	if f.EmptyConfirmations > 0 {
		f.EmptyConfirmations--
		return &models.OrderConfirmation{}, nil
	}

	f.orderSeq++
	price := f.Prices[coin]
	if side == models.Buy {
		f.Balances["KRW"] -= amount * price
		f.Balances[coin] += amount
	} else {
		f.Balances["KRW"] += amount * price
		f.Balances[coin] -= amount
		if f.Balances[coin] <= 1e-12 {
			delete(f.Balances, coin)
		}
	}
	return &models.OrderConfirmation{OrderID: fmt.Sprintf("T%d", f.orderSeq), Status: "0000"}, nil
}

// OrderCount returns the number of order calls made so far.
func (f *Fake) OrderCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Orders)
}
