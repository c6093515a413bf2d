package services

import (
	"context"
	"time"
)

const (
	// OrderEventCreated is emitted once the order and its stock decrement commit.
	OrderEventCreated = "order.created"
	// OrderEventPaid is emitted when a verified notification moves the order to Paid.
	OrderEventPaid = "order.paid"
	// OrderEventCancelled is emitted after stock was restored and the order cancelled.
	OrderEventCancelled = "order.cancelled"
	// OrderEventPaymentStranded is emitted when no checkout payload could be issued.
	OrderEventPaymentStranded = "order.payment.stranded"
)

// OrderEventPublisher publishes order domain events for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// OrderEvent captures metadata for emitted order domain events.
type OrderEvent struct {
	Type         string    `json:"type"`
	OrderID      string    `json:"orderId"`
	ClientID     string    `json:"clientId,omitempty"`
	BranchID     string    `json:"branchId,omitempty"`
	Status       string    `json:"status"`
	PaymentState string    `json:"paymentState,omitempty"`
	TotalPrice   string    `json:"totalPrice,omitempty"`
	Currency     string    `json:"currency,omitempty"`
	OccurredAt   time.Time `json:"occurredAt"`
}

func newOrderEvent(eventType string, order Order, at time.Time) OrderEvent {
	return OrderEvent{
		Type:         eventType,
		OrderID:      order.ID,
		ClientID:     order.ClientID,
		BranchID:     order.BranchID,
		Status:       string(order.Status),
		PaymentState: string(order.PaymentState),
		TotalPrice:   order.TotalPrice.StringFixed(2),
		Currency:     order.Currency,
		OccurredAt:   at,
	}
}

type eventEmitter struct {
	events OrderEventPublisher
	logger func(context.Context, string, map[string]any)
}

func (e eventEmitter) publish(ctx context.Context, event OrderEvent) {
	if e.events == nil {
		return
	}
	if err := e.events.PublishOrderEvent(ctx, event); err != nil {
		e.logger(ctx, "order.event.publish.failed", map[string]any{
			"type":   event.Type,
			"order":  event.OrderID,
			"error":  err.Error(),
			"status": event.Status,
		})
	}
}
