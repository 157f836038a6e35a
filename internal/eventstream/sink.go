// Package eventstream fans trade events out to the display collaborators:
// the trade log file, websocket clients and an optional NATS subject.
package eventstream

import (
	"errors"

	"bithumb-dip-bot-go/internal/models"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Sink consumes trade events. Implementations must be safe for concurrent use.
type Sink interface {
	Publish(ev models.TradeEvent) error
}

// Multi publishes to every sink; one failing sink does not stop the others.
type Multi []Sink

func (m Multi) Publish(ev models.TradeEvent) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Publish(ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// TradeLog writes events as "<ts> | <LEVEL> | <message>" lines through a
// logger built by logger.NewTradeLogger. The line timestamp is the event
// timestamp, not the write time.
type TradeLog struct {
	logger *zap.Logger
}

func NewTradeLog(logger *zap.Logger) *TradeLog {
	return &TradeLog{logger: logger}
}

func (t *TradeLog) Publish(ev models.TradeEvent) error {
	level := zapcore.InfoLevel
	if ev.Action == models.Sell {
		level = zapcore.WarnLevel
	}
	ce := t.logger.Check(level, ev.Message())
	if ce == nil {
		return nil
	}
	ce.Time = ev.Timestamp
	ce.Write()
	return nil
}
