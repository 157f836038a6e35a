package persistence

import (
	"testing"
	"time"

	"bithumb-dip-bot-go/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBadgerRepository_SaveAndLoad(t *testing.T) {
	repo, err := NewBadgerRepository(t.TempDir())
	require.NoError(t, err)
	defer repo.Close()

	state, err := repo.LoadLedger()
	require.NoError(t, err)
	assert.Nil(t, state, "empty store has no checkpoint")

	opened := time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)
	in := &models.LedgerState{
		RunID:   "run1",
		Version: models.LedgerStateVersion,
		Positions: map[string]models.Position{
			"XRP": {Coin: "XRP", BuyPrice: 100, Amount: 200, HighestPriceSeen: 104, TrailingActive: true, OpenedAt: opened, Origin: models.OriginEntry},
		},
		LastUpdateTime: opened,
	}
	require.NoError(t, repo.SaveLedger(in))

	out, err := repo.LoadLedger()
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, "run1", out.RunID)
	assert.Equal(t, in.Positions["XRP"].BuyPrice, out.Positions["XRP"].BuyPrice)
	assert.True(t, out.Positions["XRP"].TrailingActive)
	assert.True(t, opened.Equal(out.Positions["XRP"].OpenedAt))

	// overwrite with an empty ledger
	require.NoError(t, repo.SaveLedger(&models.LedgerState{Version: models.LedgerStateVersion}))
	out, err = repo.LoadLedger()
	require.NoError(t, err)
	assert.Empty(t, out.Positions)
	assert.NotNil(t, out.Positions)
}

func TestBadgerRepository_RejectsNewerVersion(t *testing.T) {
	repo, err := NewBadgerRepository(t.TempDir())
	require.NoError(t, err)
	defer repo.Close()

	require.NoError(t, repo.SaveLedger(&models.LedgerState{Version: models.LedgerStateVersion + 1}))
	_, err = repo.LoadLedger()
	assert.Error(t, err)
	assert.Error(t, repo.SaveLedger(nil))
}
