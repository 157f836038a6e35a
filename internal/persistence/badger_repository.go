package persistence

import (
	"bithumb-dip-bot-go/internal/models"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v3"
)

var ledgerKey = []byte("ledger_state")

// BadgerRepository is the BadgerDB implementation of LedgerRepository.
type BadgerRepository struct {
	db *badger.DB
}

// NewBadgerRepository opens (or creates) a BadgerDB database at dbPath.
func NewBadgerRepository(dbPath string) (*BadgerRepository, error) {
	opts := badger.DefaultOptions(dbPath)
	// Badger's own logging is noisy; errors are still returned from DB operations.
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint store %s: %w", dbPath, err)
	}
	return &BadgerRepository{db: db}, nil
}

// SaveLedger marshals the checkpoint into JSON and stores it under a single key.
func (r *BadgerRepository) SaveLedger(state *models.LedgerState) error {
	if state == nil {
		return errors.New("nil ledger state")
	}
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}

	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Set(ledgerKey, data)
	})
}

// LoadLedger loads the checkpoint. A missing key returns (nil, nil).
func (r *BadgerRepository) LoadLedger() (*models.LedgerState, error) {
	var state models.LedgerState

	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(ledgerKey)
		if err != nil {
			return err
		}

		return item.Value(func(val []byte) error {
			if len(val) == 0 {
				return errors.New("ledger state value is empty in database")
			}
			return json.Unmarshal(val, &state)
		})
	})

	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if state.Version > models.LedgerStateVersion {
		return nil, fmt.Errorf("ledger checkpoint version %d is newer than supported %d", state.Version, models.LedgerStateVersion)
	}
	if state.Positions == nil {
		state.Positions = make(map[string]models.Position)
	}
	return &state, nil
}

// Close gracefully closes the connection to the database.
func (r *BadgerRepository) Close() error {
	return r.db.Close()
}
