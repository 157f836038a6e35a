package models

import "time"

// LedgerState 定义了需要持久化的账本检查点
type LedgerState struct {
	RunID          string              `json:"run_id"`           // 写入该检查点的运行ID
	Version        int                 `json:"version"`          // 状态模型的版本号，用于未来迁移
	Positions      map[string]Position `json:"positions"`        // 当前持仓，按币种索引
	LastUpdateTime time.Time           `json:"last_update_time"` // 状态最后更新的时间戳
}

// LedgerStateVersion is the current checkpoint schema version.
const LedgerStateVersion = 1

// PositionOrigin records how a position entered the ledger.
type PositionOrigin string

const (
	OriginEntry      PositionOrigin = "entry"      // opened by a BUY placed by this bot
	OriginReconciled PositionOrigin = "reconciled" // adopted from exchange holdings
)

// Position 定义了一个持仓。仅由 ledger 包修改。
type Position struct {
	Coin             string         `json:"coin"`
	BuyPrice         float64        `json:"buy_price"`
	Amount           float64        `json:"amount"`
	HighestPriceSeen float64        `json:"highest_price_seen"`
	TrailingActive   bool           `json:"trailing_active"`
	OpenedAt         time.Time      `json:"opened_at"`
	Origin           PositionOrigin `json:"origin"`
}

// PnL returns the fractional profit of the position at the given price.
func (p Position) PnL(price float64) float64 {
	if p.BuyPrice == 0 {
		return 0
	}
	return price/p.BuyPrice - 1
}
