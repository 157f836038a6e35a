// Package reconcile adopts coins held on the exchange that the ledger does
// not track, so every holding is managed by the exit rules.
package reconcile

import (
	"context"
	"errors"
	"math"
	"sort"

	"bithumb-dip-bot-go/internal/ledger"
	"bithumb-dip-bot-go/internal/models"

	"go.uber.org/zap"
)

// DefaultDustThreshold is the quantity at or below which a holding is ignored.
const DefaultDustThreshold = 0.0001

// Skip reasons. Quote currency and dust holdings are ignored without a report entry.
const (
	SkipExcluded = "excluded"
	SkipNoPrice  = "no_price"
	SkipFull     = "skipped_full"
	SkipInvalid  = "invalid"
)

// PriceLookup fetches the current market price of a coin.
type PriceLookup func(ctx context.Context, coin string) (float64, error)

// Config controls which holdings are eligible for adoption.
type Config struct {
	QuoteCurrency   string
	ExcludedSymbols []string
	DustThreshold   float64
}

// Skipped is a holding that was not adopted.
type Skipped struct {
	Coin   string
	Amount float64
	Reason string
}

// Report summarises one reconciliation pass.
type Report struct {
	Adopted  []models.Position
	Restored []models.Position
	Skipped  []Skipped
	// Missing lists ledger positions with no matching exchange balance.
	// They are left in place; only a confirmed SELL removes a position.
	Missing []string
}

// Changed reports whether the pass modified the ledger.
func (r Report) Changed() bool {
	return len(r.Adopted) > 0 || len(r.Restored) > 0
}

// Reconciler merges exchange holdings into the ledger.
type Reconciler struct {
	cfg      Config
	excluded map[string]bool
	hints    map[string]models.Position
	logger   *zap.Logger
}

// New creates a Reconciler.
func New(cfg Config, logger *zap.Logger) *Reconciler {
	if cfg.DustThreshold <= 0 {
		cfg.DustThreshold = DefaultDustThreshold
	}
	excluded := make(map[string]bool, len(cfg.ExcludedSymbols))
	for _, s := range cfg.ExcludedSymbols {
		excluded[s] = true
	}
	return &Reconciler{cfg: cfg, excluded: excluded, hints: map[string]models.Position{}, logger: logger}
}

// SetCheckpoint registers positions from a previous run. A holding whose
// amount matches a checkpointed position is restored with its original buy
// price instead of being adopted at the market price. Each hint is used once.
func (r *Reconciler) SetCheckpoint(state *models.LedgerState) {
	r.hints = map[string]models.Position{}
	if state == nil {
		return
	}
	for coin, p := range state.Positions {
		r.hints[coin] = p
	}
}

// Reconcile adopts every eligible holding not already in the ledger. It is
// idempotent: a second pass over the same holdings changes nothing.
func (r *Reconciler) Reconcile(ctx context.Context, l *ledger.Ledger, holdings map[string]float64, prices PriceLookup, maxPositions int) Report {
	var report Report

	coins := make([]string, 0, len(holdings))
	for c := range holdings {
		coins = append(coins, c)
	}
	sort.Strings(coins)

	for _, coin := range coins {
		qty := holdings[coin]
		if l.Has(coin) {
			continue
		}
		switch {
		case coin == r.cfg.QuoteCurrency:
			continue
		case r.excluded[coin]:
			report.Skipped = append(report.Skipped, Skipped{Coin: coin, Amount: qty, Reason: SkipExcluded})
			continue
		case qty <= r.cfg.DustThreshold:
			continue
		}
		if ctx.Err() != nil {
			break
		}

		if hint, ok := r.hints[coin]; ok && amountsMatch(hint.Amount, qty) {
			err := l.Restore(hint, maxPositions)
			if err == nil {
				delete(r.hints, coin)
				p, _ := l.Get(coin)
				report.Restored = append(report.Restored, p)
				r.logger.Info("restored position from checkpoint", zap.String("coin", coin), zap.Float64("amount", qty), zap.Float64("buy_price", p.BuyPrice))
				continue
			}
			if errors.Is(err, ledger.ErrLedgerFull) {
				report.Skipped = append(report.Skipped, Skipped{Coin: coin, Amount: qty, Reason: SkipFull})
				continue
			}
		}

		price, err := prices(ctx, coin)
		if err != nil || price <= 0 {
			r.logger.Warn("no price for held coin, skipping adoption", zap.String("coin", coin), zap.Error(err))
			report.Skipped = append(report.Skipped, Skipped{Coin: coin, Amount: qty, Reason: SkipNoPrice})
			continue
		}

		if err := l.Adopt(coin, price, qty, maxPositions); err != nil {
			reason := SkipInvalid
			if errors.Is(err, ledger.ErrLedgerFull) {
				reason = SkipFull
			}
			r.logger.Warn("could not adopt holding", zap.String("coin", coin), zap.String("reason", reason), zap.Error(err))
			report.Skipped = append(report.Skipped, Skipped{Coin: coin, Amount: qty, Reason: reason})
			continue
		}
		p, _ := l.Get(coin)
		report.Adopted = append(report.Adopted, p)
		r.logger.Info("adopted external holding", zap.String("coin", coin), zap.Float64("amount", qty), zap.Float64("price", price))
	}

	for _, p := range l.Positions() {
		if holdings[p.Coin] <= r.cfg.DustThreshold {
			report.Missing = append(report.Missing, p.Coin)
		}
	}
	return report
}

func amountsMatch(a, b float64) bool {
	return math.Abs(a-b) <= 1e-6*math.Max(1, math.Max(math.Abs(a), math.Abs(b)))
}
