// Package execution 负责下市价单：每次尝试前检查前置条件，失败时有限次重试。
// 它不修改账本，由调用方在成功返回后更新。
package execution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bithumb-dip-bot-go/internal/exchange"
	"bithumb-dip-bot-go/internal/models"
	"bithumb-dip-bot-go/internal/signal"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	ErrPrecondition          = errors.New("order precondition failed")
	ErrRetriesExhausted      = errors.New("order retries exhausted")
	ErrMalformedConfirmation = errors.New("malformed order confirmation")
)

const (
	DefaultRetryAttempts = 3
	DefaultRetryDelay    = time.Second
)

// Config 配置重试策略
type Config struct {
	QuoteCurrency  string
	RetryAttempts  int
	RetryDelay     time.Duration
	RequestTimeout time.Duration
}

// Gateway 是唯一提交订单的组件
type Gateway struct {
	ex      exchange.Exchange
	cfg     Config
	logger  *zap.Logger
	now     func() time.Time
	newID   func() string
	waitFor func(ctx context.Context, d time.Duration) error
}

// NewGateway 创建 Gateway，未设置的重试参数使用默认值
func NewGateway(ex exchange.Exchange, cfg Config, logger *zap.Logger) *Gateway {
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = DefaultRetryAttempts
	}
	if cfg.RetryDelay < 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if cfg.QuoteCurrency == "" {
		cfg.QuoteCurrency = "KRW"
	}
	return &Gateway{
		ex:      ex,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
		newID:   uuid.NewString,
		waitFor: WaitForContext,
	}
}

// WithClock replaces the event timestamp source.
func (g *Gateway) WithClock(now func() time.Time) *Gateway {
	g.now = now
	return g
}

// WaitForContext sleeps for delay unless ctx is done first.
func WaitForContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Buy 市价买入 amount 个单位。price 是决策时的参考价格，
// 用于余额检查和交易事件。
func (g *Gateway) Buy(ctx context.Context, coin string, amount, price float64) (*models.TradeEvent, error) {
	check := func(tradable map[string]bool, balances map[string]float64) error {
		if !tradable[coin] {
			return fmt.Errorf("%w: %s is not tradable", ErrPrecondition, coin)
		}
		need := amount * price
		if have := balances[g.cfg.QuoteCurrency]; have < need {
			return fmt.Errorf("%w: %s balance %.0f < %.0f", ErrPrecondition, g.cfg.QuoteCurrency, have, need)
		}
		return nil
	}
	conf, err := g.execute(ctx, models.Buy, coin, amount, check, g.ex.PlaceMarketBuy)
	if err != nil {
		return nil, err
	}

	return &models.TradeEvent{
		ID:        g.newID(),
		Timestamp: g.now(),
		Action:    models.Buy,
		Coin:      coin,
		Amount:    amount,
		Price:     price,
		Reason:    signal.ReasonDip,
		Origin:    models.OriginEntry,
		OrderID:   conf.OrderID,
	}, nil
}

// Sell 市价卖出整个持仓，事件中的盈亏按持仓买入价计算
func (g *Gateway) Sell(ctx context.Context, pos models.Position, price float64, reason string) (*models.TradeEvent, error) {
	check := func(tradable map[string]bool, balances map[string]float64) error {
		if !tradable[pos.Coin] {
			return fmt.Errorf("%w: %s is not tradable", ErrPrecondition, pos.Coin)
		}
		if have := balances[pos.Coin]; have+1e-12 < pos.Amount {
			return fmt.Errorf("%w: %s balance %v < %v", ErrPrecondition, pos.Coin, have, pos.Amount)
		}
		return nil
	}
	conf, err := g.execute(ctx, models.Sell, pos.Coin, pos.Amount, check, g.ex.PlaceMarketSell)
	if err != nil {
		return nil, err
	}

	pnlPct, profit := Profit(pos.BuyPrice, price, pos.Amount)
	return &models.TradeEvent{
		ID:        g.newID(),
		Timestamp: g.now(),
		Action:    models.Sell,
		Coin:      pos.Coin,
		Amount:    pos.Amount,
		Price:     price,
		Reason:    reason,
		PnLPct:    pnlPct,
		ProfitAbs: profit,
		Origin:    pos.Origin,
		OrderID:   conf.OrderID,
	}, nil
}

// Profit returns the percentage change and absolute profit of selling
// amount units bought at buyPrice for price.
func Profit(buyPrice, price, amount float64) (pnlPct, profitAbs float64) {
	if buyPrice <= 0 {
		return 0, 0
	}
	b := decimal.NewFromFloat(buyPrice)
	p := decimal.NewFromFloat(price)
	pnlPct = p.Div(b).Sub(decimal.NewFromInt(1)).Mul(decimal.NewFromInt(100)).InexactFloat64()
	profitAbs = p.Sub(b).Mul(decimal.NewFromFloat(amount)).InexactFloat64()
	return pnlPct, profitAbs
}

type placeFunc func(ctx context.Context, coin string, amount float64) (*models.OrderConfirmation, error)

type checkFunc func(tradable map[string]bool, balances map[string]float64) error

func (g *Gateway) execute(ctx context.Context, side models.Action, coin string, amount float64, check checkFunc, place placeFunc) (*models.OrderConfirmation, error) {
	log := g.logger.With(zap.String("side", string(side)), zap.String("coin", coin), zap.Float64("amount", amount))
	if amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive, got %v", ErrPrecondition, amount)
	}

	var lastErr error
	for attempt := 1; attempt <= g.cfg.RetryAttempts; attempt++ {
		if attempt > 1 {
			if err := g.waitFor(ctx, g.cfg.RetryDelay); err != nil {
				return nil, fmt.Errorf("%s %s aborted: %w", side, coin, err)
			}
		}

		conf, err := g.attempt(ctx, coin, amount, check, place)
		if errors.Is(err, exchange.ErrInsufficientBalance) {
			// 手续费等导致下单时余额不足，重试无意义
			err = fmt.Errorf("%w: %w", ErrPrecondition, err)
		}
		if err == nil {
			log.Info("order confirmed", zap.Int("attempt", attempt), zap.String("order_id", conf.OrderID))
			return conf, nil
		}
		if errors.Is(err, ErrPrecondition) {
			log.Warn("order precondition failed", zap.Error(err))
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%s %s aborted: %w", side, coin, ctx.Err())
		}
		lastErr = err
		log.Warn("order attempt failed", zap.Int("attempt", attempt), zap.Int("max_attempts", g.cfg.RetryAttempts), zap.Error(err))
	}
	return nil, fmt.Errorf("%w: %s %s after %d attempts: %v", ErrRetriesExhausted, side, coin, g.cfg.RetryAttempts, lastErr)
}

func (g *Gateway) attempt(ctx context.Context, coin string, amount float64, check checkFunc, place placeFunc) (*models.OrderConfirmation, error) {
	cctx, cancel := g.callContext(ctx)
	tradable, err := g.ex.GetTradableAssets(cctx)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("tradable lookup: %w", err)
	}

	cctx, cancel = g.callContext(ctx)
	balances, err := g.ex.GetBalances(cctx)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("balance lookup: %w", err)
	}

	if err := check(tradable, balances); err != nil {
		return nil, err
	}

	cctx, cancel = g.callContext(ctx)
	defer cancel()
	conf, err := place(cctx, coin, amount)
	if err != nil {
		return nil, err
	}
	if conf == nil || conf.OrderID == "" {
		return nil, ErrMalformedConfirmation
	}
	return conf, nil
}

func (g *Gateway) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.cfg.RequestTimeout > 0 {
		return context.WithTimeout(ctx, g.cfg.RequestTimeout)
	}
	return context.WithCancel(ctx)
}
