package exchange

import (
	"bithumb-dip-bot-go/internal/models"
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrPriceUnavailable 表示交易所没有返回可用的价格
var ErrPriceUnavailable = errors.New("price unavailable")

// APIError 是交易所返回的非成功状态
type APIError struct {
	Status  string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("bithumb api error %s: %s", e.Status, e.Message)
}

// Exchange 定义了所有交易所实现必须提供的通用方法。
// 这使得交易机器人可以在真实交易和模拟交易之间轻松切换。
// K线序列按时间升序返回 (最新的在最后)。
type Exchange interface {
	GetCurrentPrice(ctx context.Context, coin string) (float64, error)
	GetOHLCV(ctx context.Context, coin, interval string) ([]models.Candle, error)
	GetTradableAssets(ctx context.Context) (map[string]bool, error)
	GetBalances(ctx context.Context) (map[string]float64, error)
	PlaceMarketBuy(ctx context.Context, coin string, amount float64) (*models.OrderConfirmation, error)
	PlaceMarketSell(ctx context.Context, coin string, amount float64) (*models.OrderConfirmation, error)
}

// UnitPrecision 是下单数量允许的小数位数
const UnitPrecision = 4

// RoundUnits 将下单数量向下截断到交易所允许的精度
func RoundUnits(amount float64) float64 {
	return decimal.NewFromFloat(amount).Truncate(UnitPrecision).InexactFloat64()
}
