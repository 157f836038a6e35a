package control

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"bithumb-dip-bot-go/internal/config"
	"bithumb-dip-bot-go/internal/configstore"
	"bithumb-dip-bot-go/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type staticPositions []models.Position

func (s staticPositions) Positions() []models.Position { return s }

func newTestServer(t *testing.T, positions PositionSource) (*Server, *configstore.Store) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	store, err := configstore.New(config.DefaultTradingConfig(), nil)
	require.NoError(t, err)
	return NewServer(":0", store, positions, nil, zap.NewNop()), store
}

func do(s *Server, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestHealthAndMetrics(t *testing.T) {
	s, _ := newTestServer(t, nil)

	w := do(s, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	w = do(s, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "trader_open_positions")
}

func TestGetConfig(t *testing.T) {
	s, _ := newTestServer(t, nil)
	w := do(s, http.MethodGet, "/config", "")
	require.Equal(t, http.StatusOK, w.Code)

	var cfg models.TradingConfig
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &cfg))
	assert.Equal(t, config.DefaultTradingConfig(), cfg)
}

func TestSetConfigKey(t *testing.T) {
	s, store := newTestServer(t, nil)

	w := do(s, http.MethodPut, "/config/rsiThreshold", `{"value": 35}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 35.0, store.Get().RSIThreshold)

	w = do(s, http.MethodPut, "/config/trendGate", `{"value": true}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, store.Get().TrendGate)

	w = do(s, http.MethodPut, "/config/stopLoss", `{"value": 1.5}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, config.DefaultTradingConfig().StopLoss, store.Get().StopLoss)

	w = do(s, http.MethodPut, "/config/nope", `{"value": 1}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "unknown config key")
}

func TestReplaceConfig(t *testing.T) {
	s, store := newTestServer(t, nil)

	next := config.DefaultTradingConfig()
	next.MaxPositions = 2
	body, err := json.Marshal(next)
	require.NoError(t, err)

	w := do(s, http.MethodPut, "/config", string(body))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, next, store.Get())

	w = do(s, http.MethodPut, "/config", `{"dropThreshold": 0.05}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, next, store.Get(), "partial object is rejected as a whole")
}

func TestPresets(t *testing.T) {
	s, store := newTestServer(t, nil)

	w := do(s, http.MethodGet, "/presets", "")
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Presets map[string]map[string]interface{} `json:"presets"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Contains(t, resp.Presets, "bull")
	assert.Contains(t, resp.Presets, "range")

	w = do(s, http.MethodPost, "/presets/bear", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0.07, store.Get().DropThreshold)
	assert.Equal(t, 30.0, store.Get().RSIThreshold)

	w = do(s, http.MethodPost, "/presets/moon", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPositions(t *testing.T) {
	s, _ := newTestServer(t, staticPositions{{Coin: "XRP", BuyPrice: 100, Amount: 200, Origin: models.OriginEntry}})
	w := do(s, http.MethodGet, "/positions", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"XRP"`)

	empty, _ := newTestServer(t, nil)
	w = do(empty, http.MethodGet, "/positions", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"positions": []}`, w.Body.String())
}
