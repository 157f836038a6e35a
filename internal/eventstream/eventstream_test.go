package eventstream

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"bithumb-dip-bot-go/internal/logger"
	"bithumb-dip-bot-go/internal/models"

	"github.com/gorilla/websocket"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var ts = time.Date(2026, 10, 16, 9, 30, 0, 0, time.UTC)

func buyEvent() models.TradeEvent {
	return models.TradeEvent{ID: "b1", Timestamp: ts, Action: models.Buy, Coin: "XRP", Amount: 200, Price: 100, Reason: "dip", OrderID: "T1"}
}

func sellEvent() models.TradeEvent {
	return models.TradeEvent{ID: "s1", Timestamp: ts, Action: models.Sell, Coin: "XRP", Amount: 200, Price: 106, Reason: "target", PnLPct: 6, ProfitAbs: 1200, OrderID: "T2"}
}

func TestTradeLog_LineFormat(t *testing.T) {
	var buf bytes.Buffer
	sink := NewTradeLog(logger.NewTradeLoggerWithWriter(&buf))

	require.NoError(t, sink.Publish(buyEvent()))
	require.NoError(t, sink.Publish(sellEvent()))

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "2026-10-16T09:30:00.000Z | INFO | BUY | XRP | 200.000000개 | 100원 | dip", lines[0])
	assert.Equal(t, "2026-10-16T09:30:00.000Z | WARNING | SELL | XRP | 200.000000개 | 106원 | target | +6.00% | 1,200원", lines[1])
	assert.Equal(t, sellEvent().Line(), lines[1])
}

type failingSink struct{ calls int }

func (f *failingSink) Publish(models.TradeEvent) error {
	f.calls++
	return errors.New("down")
}

type recordingSink struct {
	mu     sync.Mutex
	events []models.TradeEvent
}

func (r *recordingSink) Publish(ev models.TradeEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func TestMulti_ContinuesPastFailure(t *testing.T) {
	bad := &failingSink{}
	good := &recordingSink{}
	err := Multi{bad, nil, good}.Publish(buyEvent())
	assert.Error(t, err)
	assert.Equal(t, 1, bad.calls)
	assert.Len(t, good.events, 1)
}

type fakePublisher struct {
	msgs []*nats.Msg
	err  error
}

func (f *fakePublisher) PublishMsg(m *nats.Msg) error {
	f.msgs = append(f.msgs, m)
	return f.err
}

func TestNATSSink(t *testing.T) {
	pub := &fakePublisher{}
	sink := NewNATSSink(pub, "trader.events", zap.NewNop())

	require.NoError(t, sink.Publish(sellEvent()))
	require.Len(t, pub.msgs, 1)
	msg := pub.msgs[0]
	assert.Equal(t, "trader.events.sell", msg.Subject)
	assert.Equal(t, "s1", msg.Header.Get(nats.MsgIdHdr))

	var got models.TradeEvent
	require.NoError(t, json.Unmarshal(msg.Data, &got))
	assert.Equal(t, 1200.0, got.ProfitAbs)

	assert.Equal(t, "trader.events.buy", sink.Subject(buyEvent()))
	pub.err = errors.New("no responders")
	assert.Error(t, sink.Publish(buyEvent()))
}

func TestHub_ReplaysAndBroadcasts(t *testing.T) {
	hub := NewHub(10, zap.NewNop())
	defer hub.Close()
	require.NoError(t, hub.Publish(buyEvent()))

	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var ev models.TradeEvent
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, "b1", ev.ID)

	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 10*time.Millisecond)
	require.NoError(t, hub.Publish(sellEvent()))
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, "s1", ev.ID)
}
