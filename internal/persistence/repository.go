package persistence

import "bithumb-dip-bot-go/internal/models"

// LedgerRepository persists ledger checkpoints. Checkpoints are advisory:
// the exchange balance remains the source of truth for what is held.
type LedgerRepository interface {
	// SaveLedger atomically replaces the stored checkpoint.
	SaveLedger(state *models.LedgerState) error

	// LoadLedger returns the stored checkpoint, or (nil, nil) when none exists.
	LoadLedger() (*models.LedgerState, error)

	Close() error
}
