package exchange

import (
	"bithumb-dip-bot-go/internal/models"
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
)

// ErrInsufficientBalance 表示模拟账户余额不足
var ErrInsufficientBalance = errors.New("insufficient balance")

// PaperExchange 实现了 Exchange 接口，在真实的公开行情之上模拟一个账户。
// 市价单按最新成交价加减滑点成交，并收取吃单手续费。
type PaperExchange struct {
	market        Exchange // 只使用其行情接口
	QuoteCurrency string
	Cash          float64
	Positions     map[string]float64
	TakerFeeRate  float64 // 吃单手续费率
	SlippageRate  float64 // 滑点率
	TotalFees     float64 // 累积总手续费
	NextOrderID   int64
	mu            sync.Mutex
}

// NewPaperExchange 创建一个新的 PaperExchange 实例。
func NewPaperExchange(market Exchange, quoteCurrency string, initialBalance, takerFeeRate, slippageRate float64) *PaperExchange {
	return &PaperExchange{
		market:        market,
		QuoteCurrency: quoteCurrency,
		Cash:          initialBalance,
		Positions:     make(map[string]float64),
		TakerFeeRate:  takerFeeRate,
		SlippageRate:  slippageRate,
		NextOrderID:   1,
	}
}

func (e *PaperExchange) GetCurrentPrice(ctx context.Context, coin string) (float64, error) {
	return e.market.GetCurrentPrice(ctx, coin)
}

func (e *PaperExchange) GetOHLCV(ctx context.Context, coin, interval string) ([]models.Candle, error) {
	return e.market.GetOHLCV(ctx, coin, interval)
}

func (e *PaperExchange) GetTradableAssets(ctx context.Context) (map[string]bool, error) {
	return e.market.GetTradableAssets(ctx)
}

// GetBalances 返回模拟账户的余额快照。
func (e *PaperExchange) GetBalances(_ context.Context) (map[string]float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	balances := make(map[string]float64, len(e.Positions)+1)
	balances[e.QuoteCurrency] = e.Cash
	for coin, qty := range e.Positions {
		if qty > 0 {
			balances[coin] = qty
		}
	}
	return balances, nil
}

// PlaceMarketBuy 以最新价格模拟市价买入。
func (e *PaperExchange) PlaceMarketBuy(ctx context.Context, coin string, amount float64) (*models.OrderConfirmation, error) {
	price, err := e.market.GetCurrentPrice(ctx, coin)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	executionPrice := price * (1 + e.SlippageRate)
	notional := executionPrice * amount
	fee := notional * e.TakerFeeRate
	if notional+fee > e.Cash {
		return nil, fmt.Errorf("%w: need %.0f %s, have %.0f", ErrInsufficientBalance, notional+fee, e.QuoteCurrency, e.Cash)
	}
	e.Cash -= notional + fee
	e.TotalFees += fee
	e.Positions[coin] += amount
	return e.confirm(), nil
}

// PlaceMarketSell 以最新价格模拟市价卖出。
func (e *PaperExchange) PlaceMarketSell(ctx context.Context, coin string, amount float64) (*models.OrderConfirmation, error) {
	price, err := e.market.GetCurrentPrice(ctx, coin)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	held := e.Positions[coin]
	if amount > held+1e-9 {
		return nil, fmt.Errorf("%w: sell %v %s, have %v", ErrInsufficientBalance, amount, coin, held)
	}
	executionPrice := price * (1 - e.SlippageRate)
	notional := executionPrice * amount
	fee := notional * e.TakerFeeRate
	e.Cash += notional - fee
	e.TotalFees += fee

	e.Positions[coin] = held - amount
	if e.Positions[coin] <= 1e-9 {
		delete(e.Positions, coin)
	}
	return e.confirm(), nil
}

// confirm 必须在持有锁的情况下调用。
func (e *PaperExchange) confirm() *models.OrderConfirmation {
	id := "P" + strconv.FormatInt(e.NextOrderID, 10)
	e.NextOrderID++
	return &models.OrderConfirmation{OrderID: id, Status: successStatus}
}
