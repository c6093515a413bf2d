package events

import (
	"context"

	"go.uber.org/zap"

	"github.com/solarshop/api/internal/services"
)

// LogPublisher records events in the application log instead of a broker.
type LogPublisher struct {
	logger *zap.Logger
}

// NewLogPublisher constructs a publisher writing to logger.
func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogPublisher{logger: logger}
}

// PublishOrderEvent logs the event at debug level.
func (p *LogPublisher) PublishOrderEvent(_ context.Context, event services.OrderEvent) error {
	p.logger.Debug("order event",
		zap.String("type", event.Type),
		zap.String("orderId", event.OrderID),
		zap.String("status", event.Status),
		zap.Time("occurredAt", event.OccurredAt),
	)
	return nil
}

// Close is a no-op.
func (p *LogPublisher) Close() error { return nil }
