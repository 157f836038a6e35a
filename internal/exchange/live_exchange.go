package exchange

import (
	"bithumb-dip-bot-go/internal/models"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const successStatus = "0000"

// LiveExchange 实现了 Exchange 接口，用于与真实的 Bithumb 交易所进行交互。
type LiveExchange struct {
	apiKey        string
	secretKey     string
	baseURL       string
	quoteCurrency string
	httpClient    *http.Client
	limiter       *rate.Limiter
	logger        *zap.Logger
	now           func() time.Time
}

// NewLiveExchange 创建一个新的 LiveExchange 实例。
// ratePerSec <= 0 表示不限速。
func NewLiveExchange(apiKey, secretKey, baseURL, quoteCurrency string, timeout time.Duration, ratePerSec float64, logger *zap.Logger) *LiveExchange {
	limit := rate.Inf
	if ratePerSec > 0 {
		limit = rate.Limit(ratePerSec)
	}
	return &LiveExchange{
		apiKey:        apiKey,
		secretKey:     secretKey,
		baseURL:       strings.TrimRight(baseURL, "/"),
		quoteCurrency: quoteCurrency,
		httpClient:    &http.Client{Timeout: timeout},
		limiter:       rate.NewLimiter(limit, 1),
		logger:        logger,
		now:           time.Now,
	}
}

// envelope 是所有 Bithumb 响应共有的外层结构
type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	OrderID string          `json:"order_id"`
	Data    json.RawMessage `json:"data"`
}

// doRequest 是一个通用的请求处理函数，用于向 Bithumb API 发送请求。
func (e *LiveExchange) doRequest(ctx context.Context, method, endpoint string, params url.Values, signed bool) (*envelope, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	fullURL := e.baseURL + endpoint
	var req *http.Request
	var err error

	if method == http.MethodGet {
		if len(params) > 0 {
			fullURL += "?" + params.Encode()
		}
		req, err = http.NewRequestWithContext(ctx, method, fullURL, nil)
	} else {
		if params == nil {
			params = url.Values{}
		}
		if signed {
			params.Set("endpoint", endpoint)
		}
		body := params.Encode()
		req, err = http.NewRequestWithContext(ctx, method, fullURL, strings.NewReader(body))
		if err == nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			if signed {
				nonce := strconv.FormatInt(e.now().UnixMilli(), 10)
				req.Header.Set("Api-Key", e.apiKey)
				req.Header.Set("Api-Sign", e.sign(endpoint, body, nonce))
				req.Header.Set("Api-Nonce", nonce)
			}
		}
	}
	if err != nil {
		return nil, fmt.Errorf("创建请求失败: %w", err)
	}

	e.logger.Debug("发送请求", zap.String("method", method), zap.String("endpoint", endpoint))
	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("执行请求失败: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("读取响应体失败: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("API请求失败, 状态码: %d, 响应: %s", resp.StatusCode, string(raw))
		}
		return nil, fmt.Errorf("解析响应失败: %w", err)
	}
	if env.Status != successStatus {
		return nil, &APIError{Status: env.Status, Message: env.Message}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API请求失败, 状态码: %d, 响应: %s", resp.StatusCode, string(raw))
	}
	return &env, nil
}

// sign 按 Bithumb API 1.0 规则签名: base64(hex(hmac-sha512(endpoint\0body\0nonce)))
func (e *LiveExchange) sign(endpoint, body, nonce string) string {
	h := hmac.New(sha512.New, []byte(e.secretKey))
	h.Write([]byte(endpoint + "\x00" + body + "\x00" + nonce))
	return base64.StdEncoding.EncodeToString([]byte(hex.EncodeToString(h.Sum(nil))))
}

// --- Exchange 接口实现 ---

// GetCurrentPrice 获取指定币种的最新成交价。
func (e *LiveExchange) GetCurrentPrice(ctx context.Context, coin string) (float64, error) {
	env, err := e.doRequest(ctx, http.MethodGet, fmt.Sprintf("/public/ticker/%s_%s", coin, e.quoteCurrency), nil, false)
	if err != nil {
		return 0, err
	}

	var ticker struct {
		ClosingPrice string `json:"closing_price"`
	}
	if err := json.Unmarshal(env.Data, &ticker); err != nil {
		return 0, fmt.Errorf("解析行情失败: %w", err)
	}
	price, err := strconv.ParseFloat(ticker.ClosingPrice, 64)
	if err != nil || price <= 0 {
		return 0, fmt.Errorf("%s: %w", coin, ErrPriceUnavailable)
	}
	return price, nil
}

// GetOHLCV 获取K线，Bithumb 的每一行为 [ts, open, close, high, low, volume]。
func (e *LiveExchange) GetOHLCV(ctx context.Context, coin, interval string) ([]models.Candle, error) {
	env, err := e.doRequest(ctx, http.MethodGet, fmt.Sprintf("/public/candlestick/%s_%s/%s", coin, e.quoteCurrency, interval), nil, false)
	if err != nil {
		return nil, err
	}

	var rows [][]json.RawMessage
	if err := json.Unmarshal(env.Data, &rows); err != nil {
		return nil, fmt.Errorf("解析K线失败: %w", err)
	}

	candles := make([]models.Candle, 0, len(rows))
	for _, row := range rows {
		if len(row) < 6 {
			continue
		}
		var vals [6]float64
		ok := true
		for i := 0; i < 6; i++ {
			v, err := parseNumber(row[i])
			if err != nil {
				ok = false
				break
			}
			vals[i] = v
		}
		if !ok {
			continue
		}
		candles = append(candles, models.Candle{
			Time:   time.UnixMilli(int64(vals[0])).UTC(),
			Open:   vals[1],
			Close:  vals[2],
			High:   vals[3],
			Low:    vals[4],
			Volume: vals[5],
		})
	}
	sort.Slice(candles, func(i, j int) bool { return candles[i].Time.Before(candles[j].Time) })
	return candles, nil
}

// GetTradableAssets 返回当前计价货币市场中所有可交易的币种。
func (e *LiveExchange) GetTradableAssets(ctx context.Context) (map[string]bool, error) {
	env, err := e.doRequest(ctx, http.MethodGet, fmt.Sprintf("/public/ticker/ALL_%s", e.quoteCurrency), nil, false)
	if err != nil {
		return nil, err
	}

	var data map[string]json.RawMessage
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, fmt.Errorf("解析市场列表失败: %w", err)
	}
	assets := make(map[string]bool, len(data))
	for k := range data {
		if k == "date" {
			continue
		}
		assets[k] = true
	}
	return assets, nil
}

// GetBalances 返回每个币种 (含计价货币) 的可用余额。
func (e *LiveExchange) GetBalances(ctx context.Context) (map[string]float64, error) {
	params := url.Values{}
	params.Set("currency", "ALL")
	env, err := e.doRequest(ctx, http.MethodPost, "/info/balance", params, true)
	if err != nil {
		return nil, err
	}

	var data map[string]json.RawMessage
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, fmt.Errorf("解析余额数据失败: %w", err)
	}
	balances := make(map[string]float64)
	for k, raw := range data {
		if !strings.HasPrefix(k, "available_") {
			continue
		}
		v, err := parseNumber(raw)
		if err != nil {
			e.logger.Debug("跳过无法解析的余额", zap.String("key", k))
			continue
		}
		balances[strings.ToUpper(strings.TrimPrefix(k, "available_"))] = v
	}
	return balances, nil
}

// PlaceMarketBuy 市价买入。
func (e *LiveExchange) PlaceMarketBuy(ctx context.Context, coin string, amount float64) (*models.OrderConfirmation, error) {
	return e.placeMarketOrder(ctx, "/trade/market_buy", coin, amount)
}

// PlaceMarketSell 市价卖出。
func (e *LiveExchange) PlaceMarketSell(ctx context.Context, coin string, amount float64) (*models.OrderConfirmation, error) {
	return e.placeMarketOrder(ctx, "/trade/market_sell", coin, amount)
}

func (e *LiveExchange) placeMarketOrder(ctx context.Context, endpoint, coin string, amount float64) (*models.OrderConfirmation, error) {
	units := RoundUnits(amount)
	if units <= 0 {
		return nil, fmt.Errorf("%s: order units %v round to zero", coin, amount)
	}
	params := url.Values{}
	params.Set("units", strconv.FormatFloat(units, 'f', -1, 64))
	params.Set("order_currency", coin)
	params.Set("payment_currency", e.quoteCurrency)

	env, err := e.doRequest(ctx, http.MethodPost, endpoint, params, true)
	if err != nil {
		e.logger.Warn("下单请求失败", zap.String("endpoint", endpoint), zap.String("coin", coin), zap.Error(err))
		return nil, err
	}
	return &models.OrderConfirmation{OrderID: env.OrderID, Status: env.Status}, nil
}

// parseNumber 接受 JSON 数字或数字字符串。
func parseNumber(raw json.RawMessage) (float64, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strconv.ParseFloat(s, 64)
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0, err
	}
	return f, nil
}
