package bot

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"bithumb-dip-bot-go/internal/configstore"
	"bithumb-dip-bot-go/internal/eventstream"
	"bithumb-dip-bot-go/internal/exchange"
	"bithumb-dip-bot-go/internal/execution"
	"bithumb-dip-bot-go/internal/indicator"
	"bithumb-dip-bot-go/internal/ledger"
	"bithumb-dip-bot-go/internal/metrics"
	"bithumb-dip-bot-go/internal/models"
	"bithumb-dip-bot-go/internal/reconcile"
	"bithumb-dip-bot-go/internal/reporter"
	"bithumb-dip-bot-go/internal/signal"

	"github.com/jxskiss/base62"
	"go.uber.org/zap"
)

// ErrInsufficientData 表示行情数据不足以计算信号，该币种本轮跳过
var ErrInsufficientData = errors.New("insufficient market data")

// ErrCoinPanicked 表示处理某个币种时发生 panic，已被隔离
var ErrCoinPanicked = errors.New("coin processing panicked")

const (
	DefaultPollInterval   = 60 * time.Second
	DefaultRequestTimeout = 10 * time.Second
	DefaultRSILookback    = 100
)

// 单个币种在一个周期内的结果
const (
	OutcomeBought      = "bought"
	OutcomeSold        = "sold"
	OutcomeHeld        = "held"
	OutcomeNoEntry     = "no_entry"
	OutcomeSkipped     = "skipped"
	OutcomeOrderFailed = "order_failed"
)

// Config 是轮询引擎的静态配置，运行期间不变
type Config struct {
	Coins          []string
	RSIPeriod      int
	RSIInterval    string
	RSILookback    int
	DailyInterval  string
	PollInterval   time.Duration
	RequestTimeout time.Duration
}

// ConfigFromModel 从文件配置构造引擎配置
func ConfigFromModel(cfg *models.Config) Config {
	return Config{
		Coins:          cfg.Coins,
		RSIPeriod:      cfg.RSIPeriod,
		RSIInterval:    cfg.RSIInterval,
		RSILookback:    cfg.RSILookback,
		DailyInterval:  cfg.DailyInterval,
		PollInterval:   time.Duration(cfg.PollIntervalSec) * time.Second,
		RequestTimeout: time.Duration(cfg.RequestTimeoutSec) * time.Second,
	}
}

// Deps 是引擎依赖的组件。Checkpointer 和 Sink 可以为 nil。
type Deps struct {
	Exchange     exchange.Exchange
	Store        *configstore.Store
	Ledger       *ledger.Ledger
	Gateway      *execution.Gateway
	Reconciler   *reconcile.Reconciler
	Checkpointer *ledger.Checkpointer
	Sink         eventstream.Sink
	Logger       *zap.Logger
}

// CoinOutcome 记录单个币种的处理结果
type CoinOutcome struct {
	Coin    string
	Outcome string
	Reason  string
	Err     error
}

// CycleReport 汇总一个轮询周期
type CycleReport struct {
	Started   time.Time
	Finished  time.Time
	Coins     []CoinOutcome
	Events    []models.TradeEvent
	Reconcile reconcile.Report
	Err       error
}

// Outcome returns the outcome recorded for coin, if any.
func (r CycleReport) Outcome(coin string) (CoinOutcome, bool) {
	for _, o := range r.Coins {
		if o.Coin == coin {
			return o, true
		}
	}
	return CoinOutcome{}, false
}

// Engine 是交易机器人的核心结构。账本只由轮询 goroutine 修改；
// 其他 goroutine 通过 Positions 读取每次变更后发布的副本。
type Engine struct {
	cfg        Config
	ex         exchange.Exchange
	store      *configstore.Store
	ledger     *ledger.Ledger
	gateway    *execution.Gateway
	reconciler *reconcile.Reconciler
	checkpoint *ledger.Checkpointer
	sink       eventstream.Sink
	logger     *zap.Logger

	runID     string
	published atomic.Pointer[[]models.Position]
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error
}

// NewEngine 创建一个新的引擎实例
func NewEngine(cfg Config, d Deps) *Engine {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.RSIPeriod <= 0 {
		cfg.RSIPeriod = indicator.DefaultRSIPeriod
	}
	if cfg.RSILookback <= 0 {
		cfg.RSILookback = DefaultRSILookback
	}
	if cfg.RSIInterval == "" {
		cfg.RSIInterval = "1m"
	}
	if cfg.DailyInterval == "" {
		cfg.DailyInterval = "24h"
	}
	if d.Ledger == nil {
		d.Ledger = ledger.New()
	}

	e := &Engine{
		cfg:        cfg,
		ex:         d.Exchange,
		store:      d.Store,
		ledger:     d.Ledger,
		gateway:    d.Gateway,
		reconciler: d.Reconciler,
		checkpoint: d.Checkpointer,
		sink:       d.Sink,
		logger:     d.Logger,
		runID:      string(base62.FormatInt(time.Now().UnixNano())),
		now:        time.Now,
		sleep:      execution.WaitForContext,
	}
	e.logger = e.logger.With(zap.String("run_id", e.runID))
	e.publish()
	return e
}

// RunID identifies this process in logs and checkpoints.
func (e *Engine) RunID() string {
	return e.runID
}

// Positions returns the ledger as of the last published change.
func (e *Engine) Positions() []models.Position {
	p := e.published.Load()
	if p == nil {
		return nil
	}
	return append([]models.Position(nil), (*p)...)
}

// Run 循环执行轮询周期直到 ctx 被取消。周期之间不会重叠。
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("engine started",
		zap.Strings("coins", e.cfg.Coins),
		zap.Duration("interval", e.cfg.PollInterval),
	)
	defer e.logger.Info("engine stopped")

	for {
		if ctx.Err() != nil {
			return nil
		}
		e.safeCycle(ctx)
		if err := e.sleep(ctx, e.cfg.PollInterval); err != nil {
			return nil
		}
	}
}

// safeCycle 运行一个周期，并把 panic 转换为周期错误
func (e *Engine) safeCycle(ctx context.Context) (report CycleReport) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("cycle panicked", zap.Any("panic", r), zap.Stack("stack"))
			metrics.CyclesTotal.WithLabelValues("panic").Inc()
			report.Err = fmt.Errorf("cycle panicked: %v", r)
			report.Finished = e.now()
		}
	}()
	return e.RunCycle(ctx)
}

// RunCycle 执行一个完整的轮询周期:
// 对账 -> 逐币种评估买卖 -> 清扫观察列表之外的持仓 -> 检查点。
func (e *Engine) RunCycle(ctx context.Context) (report CycleReport) {
	report.Started = e.now()
	completed := false
	defer func() {
		report.Finished = e.now()
		metrics.CycleDuration.Observe(report.Finished.Sub(report.Started).Seconds())
		metrics.OpenPositions.Set(float64(e.ledger.Len()))
		if !completed {
			return // panic 由 safeCycle 计数
		}
		outcome := "ok"
		if report.Err != nil {
			outcome = "error"
		}
		metrics.CyclesTotal.WithLabelValues(outcome).Inc()
	}()

	e.cycle(ctx, &report)
	completed = true
	return report
}

func (e *Engine) cycle(ctx context.Context, report *CycleReport) {
	if err := ctx.Err(); err != nil {
		report.Err = err
		return
	}

	// 每个周期只读取一次配置快照
	cfg := e.store.Get()
	prices := map[string]float64{}

	report.Reconcile = e.reconcile(ctx, cfg, prices)

	tradable, err := e.fetchTradable(ctx)
	if err != nil {
		report.Err = fmt.Errorf("fetch tradable assets: %w", err)
		e.logger.Warn("skipping cycle", zap.Error(report.Err))
		e.commit()
		return
	}

	inWatch := map[string]bool{}
	for _, coin := range e.cfg.Coins {
		if !tradable[coin] {
			continue
		}
		inWatch[coin] = true
		if ctx.Err() != nil {
			break
		}
		out := e.guard(coin, func() CoinOutcome {
			return e.processCoin(ctx, coin, cfg, prices, report)
		})
		e.recordOutcome(report, out)
	}

	// 清扫不在观察列表中的持仓 (例如对账接管的币种)
	for _, p := range e.ledger.Positions() {
		if inWatch[p.Coin] || ctx.Err() != nil {
			continue
		}
		coin := p.Coin
		out := e.guard(coin, func() CoinOutcome {
			return e.sweep(ctx, coin, cfg, prices, report)
		})
		e.recordOutcome(report, out)
	}

	e.commit()
	e.logStatus(prices, *report)
	if ctx.Err() != nil {
		report.Err = ctx.Err()
	}
}

// guard 把单个币种的 panic 限制在该币种内，其余币种和检查点照常进行
func (e *Engine) guard(coin string, fn func() CoinOutcome) (out CoinOutcome) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("coin panicked", zap.String("coin", coin), zap.Any("panic", r), zap.Stack("stack"))
			out = CoinOutcome{Coin: coin, Outcome: OutcomeSkipped, Err: fmt.Errorf("%w: %v", ErrCoinPanicked, r)}
		}
	}()
	return fn()
}

func (e *Engine) recordOutcome(report *CycleReport, out CoinOutcome) {
	report.Coins = append(report.Coins, out)
	metrics.CoinOutcomes.WithLabelValues(out.Outcome).Inc()
}

func (e *Engine) reconcile(ctx context.Context, cfg models.TradingConfig, prices map[string]float64) reconcile.Report {
	if e.reconciler == nil {
		return reconcile.Report{}
	}
	cctx, cancel := context.WithTimeout(ctx, e.cfg.RequestTimeout)
	balances, err := e.ex.GetBalances(cctx)
	cancel()
	if err != nil {
		e.logger.Warn("balance fetch failed, reconciliation skipped", zap.Error(err))
		return reconcile.Report{}
	}

	rep := e.reconciler.Reconcile(ctx, e.ledger, balances, func(ctx context.Context, coin string) (float64, error) {
		return e.price(ctx, coin, prices)
	}, cfg.MaxPositions)
	metrics.AdoptedPositions.Add(float64(len(rep.Adopted)))
	if len(rep.Missing) > 0 {
		e.logger.Warn("ledger positions without exchange balance", zap.Strings("coins", rep.Missing))
	}
	if rep.Changed() {
		e.commit()
	}
	return rep
}

func (e *Engine) processCoin(ctx context.Context, coin string, cfg models.TradingConfig, prices map[string]float64, report *CycleReport) CoinOutcome {
	price, err := e.price(ctx, coin, prices)
	if err != nil {
		e.logger.Warn("price unavailable, skipping coin", zap.String("coin", coin), zap.Error(err))
		return CoinOutcome{Coin: coin, Outcome: OutcomeSkipped, Err: err}
	}

	if e.ledger.Has(coin) {
		return e.manageExit(ctx, coin, price, cfg, report)
	}

	snap, err := e.snapshot(ctx, coin, price)
	if err != nil {
		e.logger.Debug("snapshot unavailable, skipping coin", zap.String("coin", coin), zap.Error(err))
		return CoinOutcome{Coin: coin, Outcome: OutcomeSkipped, Err: err}
	}

	d := signal.EvaluateEntry(snap, cfg, false, e.ledger.Len())
	e.logger.Debug("entry evaluated",
		zap.String("coin", coin),
		zap.Float64("price", price),
		zap.Float64("change", snap.DailyChangePct),
		zap.Float64("volume_ratio", snap.VolumeRatio),
		zap.Float64("rsi", snap.RSI),
		zap.String("trend", string(snap.Trend)),
		zap.String("reason", d.Reason),
	)
	if !d.Enter {
		return CoinOutcome{Coin: coin, Outcome: OutcomeNoEntry, Reason: d.Reason}
	}

	amount := exchange.RoundUnits(cfg.PositionSize / price)
	if amount <= 0 {
		err := fmt.Errorf("%w: position size %.0f buys no units at %v", ErrInsufficientData, cfg.PositionSize, price)
		return CoinOutcome{Coin: coin, Outcome: OutcomeSkipped, Err: err}
	}

	ev, err := e.gateway.Buy(ctx, coin, amount, price)
	if err != nil {
		e.orderFailed(models.Buy, coin, err)
		return CoinOutcome{Coin: coin, Outcome: OutcomeOrderFailed, Reason: d.Reason, Err: err}
	}
	if err := e.ledger.Open(coin, price, amount, cfg.MaxPositions); err != nil {
		// 订单已成交但账本拒绝：下一轮对账会接管该持仓
		e.logger.Error("bought but could not record position", zap.String("coin", coin), zap.Error(err))
	}
	e.emit(*ev, report)
	return CoinOutcome{Coin: coin, Outcome: OutcomeBought, Reason: d.Reason}
}

func (e *Engine) sweep(ctx context.Context, coin string, cfg models.TradingConfig, prices map[string]float64, report *CycleReport) CoinOutcome {
	price, err := e.price(ctx, coin, prices)
	if err != nil {
		e.logger.Warn("price unavailable for held coin", zap.String("coin", coin), zap.Error(err))
		return CoinOutcome{Coin: coin, Outcome: OutcomeSkipped, Err: err}
	}
	return e.manageExit(ctx, coin, price, cfg, report)
}

func (e *Engine) manageExit(ctx context.Context, coin string, price float64, cfg models.TradingConfig, report *CycleReport) CoinOutcome {
	d, err := e.ledger.EvaluateExit(coin, price, cfg)
	if err != nil {
		return CoinOutcome{Coin: coin, Outcome: OutcomeSkipped, Err: err}
	}
	if !d.Exit {
		return CoinOutcome{Coin: coin, Outcome: OutcomeHeld}
	}

	pos, _ := e.ledger.Get(coin)
	ev, err := e.gateway.Sell(ctx, pos, price, d.Reason)
	if err != nil {
		e.orderFailed(models.Sell, coin, err)
		return CoinOutcome{Coin: coin, Outcome: OutcomeOrderFailed, Reason: d.Reason, Err: err}
	}
	if _, err := e.ledger.Close(coin); err != nil {
		e.logger.Error("sold but could not close position", zap.String("coin", coin), zap.Error(err))
	}
	e.emit(*ev, report)
	return CoinOutcome{Coin: coin, Outcome: OutcomeSold, Reason: d.Reason}
}

// snapshot 计算入场判断所需的行情快照。
// 日线最后一根为当日，倒数第二根为前一日；RSI 使用分钟线。
func (e *Engine) snapshot(ctx context.Context, coin string, price float64) (models.MarketSnapshot, error) {
	daily, err := e.candles(ctx, coin, e.cfg.DailyInterval)
	if err != nil {
		return models.MarketSnapshot{}, fmt.Errorf("daily candles: %w", err)
	}
	if len(daily) < 2 {
		return models.MarketSnapshot{}, fmt.Errorf("%w: %d daily candles", ErrInsufficientData, len(daily))
	}
	today, prev := daily[len(daily)-1], daily[len(daily)-2]
	if prev.Close <= 0 {
		return models.MarketSnapshot{}, fmt.Errorf("%w: prior close %v", ErrInsufficientData, prev.Close)
	}

	minute, err := e.candles(ctx, coin, e.cfg.RSIInterval)
	if err != nil {
		return models.MarketSnapshot{}, fmt.Errorf("%s candles: %w", e.cfg.RSIInterval, err)
	}
	closes := indicator.Closes(minute)
	if len(closes) > e.cfg.RSILookback {
		closes = closes[len(closes)-e.cfg.RSILookback:]
	}

	snap := models.MarketSnapshot{
		Coin:           coin,
		CurrentPrice:   price,
		PriorClose:     prev.Close,
		DailyChangePct: (price - prev.Close) / prev.Close,
		RSI:            indicator.RSI(closes, e.cfg.RSIPeriod),
		RSIReady:       indicator.RSIReady(closes, e.cfg.RSIPeriod),
		Trend:          indicator.ClassifyTrend(indicator.Closes(daily)),
	}
	if prev.Volume > 0 {
		snap.VolumeRatio = today.Volume / prev.Volume
	}
	return snap, nil
}

// price 获取当前价格，同一周期内按币种缓存
func (e *Engine) price(ctx context.Context, coin string, cache map[string]float64) (float64, error) {
	if p, ok := cache[coin]; ok {
		return p, nil
	}
	cctx, cancel := context.WithTimeout(ctx, e.cfg.RequestTimeout)
	defer cancel()
	p, err := e.ex.GetCurrentPrice(cctx, coin)
	if err != nil {
		return 0, err
	}
	if p <= 0 {
		return 0, fmt.Errorf("%s: %w", coin, exchange.ErrPriceUnavailable)
	}
	cache[coin] = p
	return p, nil
}

func (e *Engine) candles(ctx context.Context, coin, interval string) ([]models.Candle, error) {
	cctx, cancel := context.WithTimeout(ctx, e.cfg.RequestTimeout)
	defer cancel()
	return e.ex.GetOHLCV(cctx, coin, interval)
}

func (e *Engine) fetchTradable(ctx context.Context) (map[string]bool, error) {
	cctx, cancel := context.WithTimeout(ctx, e.cfg.RequestTimeout)
	defer cancel()
	return e.ex.GetTradableAssets(cctx)
}

func (e *Engine) emit(ev models.TradeEvent, report *CycleReport) {
	report.Events = append(report.Events, ev)
	e.publish()
	if e.sink == nil {
		return
	}
	if err := e.sink.Publish(ev); err != nil {
		e.logger.Warn("event sink failed", zap.String("event_id", ev.ID), zap.Error(err))
	}
}

func (e *Engine) orderFailed(side models.Action, coin string, err error) {
	kind := "transient"
	switch {
	case errors.Is(err, execution.ErrPrecondition):
		kind = "precondition"
	case errors.Is(err, execution.ErrRetriesExhausted):
		kind = "exhausted"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		kind = "canceled"
	}
	metrics.OrderFailures.WithLabelValues(string(side), kind).Inc()
	e.logger.Warn("order not placed, ledger unchanged",
		zap.String("side", string(side)),
		zap.String("coin", coin),
		zap.String("kind", kind),
		zap.Error(err),
	)
}

// publish 发布账本副本供其他 goroutine 读取
func (e *Engine) publish() {
	p := e.ledger.Positions()
	e.published.Store(&p)
}

// commit 发布账本并提交检查点
func (e *Engine) commit() {
	e.publish()
	if e.checkpoint != nil {
		e.checkpoint.Submit(e.ledger.Snapshot(e.runID))
	}
}

func (e *Engine) logStatus(prices map[string]float64, report CycleReport) {
	e.logger.Info("cycle finished",
		zap.Int("coins", len(report.Coins)),
		zap.Int("events", len(report.Events)),
		zap.Int("positions", e.ledger.Len()),
		zap.Duration("took", e.now().Sub(report.Started)),
	)
	if e.ledger.Len() > 0 {
		e.logger.Info("open positions\n" + reporter.RenderPositions(e.ledger.Positions(), prices))
	}
}
