package eventstream

import (
	"encoding/json"
	"fmt"

	"bithumb-dip-bot-go/internal/models"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Publisher is the subset of *nats.Conn used by NATSSink.
type Publisher interface {
	PublishMsg(m *nats.Msg) error
}

// NATSSink publishes each event as JSON to "<subject>.<buy|sell>". The event
// id is set as Nats-Msg-Id so JetStream consumers can deduplicate.
type NATSSink struct {
	pub     Publisher
	subject string
	logger  *zap.Logger
}

// ConnectNATS dials url and returns a sink publishing under subject.
func ConnectNATS(url, subject string, logger *zap.Logger) (*NATSSink, *nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name("bithumb-dip-bot"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	return NewNATSSink(nc, subject, logger), nc, nil
}

func NewNATSSink(pub Publisher, subject string, logger *zap.Logger) *NATSSink {
	return &NATSSink{pub: pub, subject: subject, logger: logger}
}

func (s *NATSSink) Publish(ev models.TradeEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	msg := nats.NewMsg(s.Subject(ev))
	msg.Data = data
	msg.Header.Set(nats.MsgIdHdr, ev.ID)
	if err := s.pub.PublishMsg(msg); err != nil {
		s.logger.Warn("publish trade event to nats failed", zap.String("id", ev.ID), zap.Error(err))
		return err
	}
	return nil
}

// Subject returns the subject an event is published on.
func (s *NATSSink) Subject(ev models.TradeEvent) string {
	if ev.Action == models.Sell {
		return s.subject + ".sell"
	}
	return s.subject + ".buy"
}
