// Package ledger 维护持仓表及其生命周期转换。
// Ledger 只由轮询 goroutine 使用，不是并发安全的；其他 goroutine 通过副本读取。
package ledger

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"bithumb-dip-bot-go/internal/models"
)

var (
	ErrAlreadyOpen  = errors.New("position already open")
	ErrLedgerFull   = errors.New("ledger is at max positions")
	ErrNotOpen      = errors.New("position not open")
	ErrInvalidPrice = errors.New("price must be positive")
)

// 平仓原因，按优先级排列
const (
	ReasonTarget   = "target"
	ReasonStopLoss = "stop_loss"
	ReasonTrailing = "trailing"
)

// ExitDecision 是 EvaluateExit 的结果，PnL 为小数形式
type ExitDecision struct {
	Exit   bool
	Reason string
	PnL    float64
}

// Ledger 记录每个币种唯一的持仓
type Ledger struct {
	positions map[string]*models.Position
	now       func() time.Time
}

// New 创建一个空账本
func New() *Ledger {
	return &Ledger{
		positions: make(map[string]*models.Position),
		now:       time.Now,
	}
}

// WithClock replaces the clock used for OpenedAt.
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	l.now = now
	return l
}

// Open 在买单确认后记录持仓
func (l *Ledger) Open(coin string, buyPrice, amount float64, maxPositions int) error {
	return l.insert(coin, buyPrice, amount, maxPositions, models.OriginEntry)
}

// Adopt 接管交易所中存在但账本未记录的持仓
func (l *Ledger) Adopt(coin string, price, amount float64, maxPositions int) error {
	return l.insert(coin, price, amount, maxPositions, models.OriginReconciled)
}

// Restore 原样恢复检查点中的持仓 (买入价、最高价、追踪止损状态和来源)
func (l *Ledger) Restore(p models.Position, maxPositions int) error {
	if err := l.insert(p.Coin, p.BuyPrice, p.Amount, maxPositions, p.Origin); err != nil {
		return err
	}
	restored := l.positions[p.Coin]
	if p.HighestPriceSeen > restored.HighestPriceSeen {
		restored.HighestPriceSeen = p.HighestPriceSeen
	}
	restored.TrailingActive = p.TrailingActive
	if !p.OpenedAt.IsZero() {
		restored.OpenedAt = p.OpenedAt
	}
	if restored.Origin == "" {
		restored.Origin = models.OriginReconciled
	}
	return nil
}

func (l *Ledger) insert(coin string, price, amount float64, maxPositions int, origin models.PositionOrigin) error {
	if _, ok := l.positions[coin]; ok {
		return fmt.Errorf("%s: %w", coin, ErrAlreadyOpen)
	}
	if len(l.positions) >= maxPositions {
		return fmt.Errorf("%s: %w (%d)", coin, ErrLedgerFull, maxPositions)
	}
	if price <= 0 {
		return fmt.Errorf("%s: %w", coin, ErrInvalidPrice)
	}
	if amount <= 0 {
		return fmt.Errorf("%s: amount must be positive, got %v", coin, amount)
	}
	l.positions[coin] = &models.Position{
		Coin:             coin,
		BuyPrice:         price,
		Amount:           amount,
		HighestPriceSeen: price,
		OpenedAt:         l.now(),
		Origin:           origin,
	}
	return nil
}

// EvaluateExit 更新最高价，盈利达到 trailingStop 后启用追踪止损，
// 然后依次检查: 止盈、止损、追踪止损。
func (l *Ledger) EvaluateExit(coin string, currentPrice float64, cfg models.TradingConfig) (ExitDecision, error) {
	p, ok := l.positions[coin]
	if !ok {
		return ExitDecision{}, fmt.Errorf("%s: %w", coin, ErrNotOpen)
	}
	if currentPrice <= 0 {
		return ExitDecision{}, fmt.Errorf("%s: %w", coin, ErrInvalidPrice)
	}

	if currentPrice > p.HighestPriceSeen {
		p.HighestPriceSeen = currentPrice
	}
	pnl := p.PnL(currentPrice)
	if !p.TrailingActive && pnl >= cfg.TrailingStop {
		p.TrailingActive = true
	}

	switch {
	case pnl >= cfg.RiseTarget:
		return ExitDecision{Exit: true, Reason: ReasonTarget, PnL: pnl}, nil
	case pnl <= -cfg.StopLoss:
		return ExitDecision{Exit: true, Reason: ReasonStopLoss, PnL: pnl}, nil
	case p.TrailingActive && currentPrice <= p.HighestPriceSeen*(1-cfg.TrailingStop):
		return ExitDecision{Exit: true, Reason: ReasonTrailing, PnL: pnl}, nil
	}
	return ExitDecision{PnL: pnl}, nil
}

// Close 移除持仓，只能在卖单确认后调用
func (l *Ledger) Close(coin string) (models.Position, error) {
	p, ok := l.positions[coin]
	if !ok {
		return models.Position{}, fmt.Errorf("%s: %w", coin, ErrNotOpen)
	}
	delete(l.positions, coin)
	return *p, nil
}

// Get returns a copy of the position for coin.
func (l *Ledger) Get(coin string) (models.Position, bool) {
	p, ok := l.positions[coin]
	if !ok {
		return models.Position{}, false
	}
	return *p, true
}

func (l *Ledger) Has(coin string) bool {
	_, ok := l.positions[coin]
	return ok
}

func (l *Ledger) Len() int {
	return len(l.positions)
}

// Positions 返回按币种排序的持仓副本
func (l *Ledger) Positions() []models.Position {
	out := make([]models.Position, 0, len(l.positions))
	for _, p := range l.positions {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Coin < out[j].Coin })
	return out
}

// Snapshot 返回用于检查点的账本深拷贝
func (l *Ledger) Snapshot(runID string) *models.LedgerState {
	state := &models.LedgerState{
		RunID:          runID,
		Version:        models.LedgerStateVersion,
		Positions:      make(map[string]models.Position, len(l.positions)),
		LastUpdateTime: l.now(),
	}
	for k, p := range l.positions {
		state.Positions[k] = *p
	}
	return state
}
