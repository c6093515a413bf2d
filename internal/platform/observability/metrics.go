package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/solarshop/api"

// NotificationOutcome labels the result of processing one gateway notification.
type NotificationOutcome string

const (
	OutcomePaid              NotificationOutcome = "paid"
	OutcomeAlreadyPaid       NotificationOutcome = "already_paid"
	OutcomeSignatureMismatch NotificationOutcome = "signature_mismatch"
	OutcomeGatewayFailure    NotificationOutcome = "gateway_failure"
	OutcomeAmountMismatch    NotificationOutcome = "amount_mismatch"
	OutcomeMerchantMismatch  NotificationOutcome = "merchant_mismatch"
	OutcomeUnknownOrder      NotificationOutcome = "unknown_order"
	OutcomeInvalidState      NotificationOutcome = "invalid_state"
	OutcomeError             NotificationOutcome = "error"
)

// PaymentMetrics records order and payment counters.
type PaymentMetrics struct {
	notifications metric.Int64Counter
	orders        metric.Int64Counter
}

// NewPaymentMetrics registers the instruments on meter, or on the global provider when nil.
func NewPaymentMetrics(meter metric.Meter) (*PaymentMetrics, error) {
	if meter == nil {
		meter = otel.Meter(meterName)
	}
	notifications, err := meter.Int64Counter("payhere.notifications",
		metric.WithDescription("PayHere notifications processed, by outcome"),
		metric.WithUnit("{notification}"),
	)
	if err != nil {
		return nil, err
	}
	orders, err := meter.Int64Counter("orders.placed",
		metric.WithDescription("Orders committed, by payment state"),
		metric.WithUnit("{order}"),
	)
	if err != nil {
		return nil, err
	}
	return &PaymentMetrics{notifications: notifications, orders: orders}, nil
}

// Notification counts one processed notification.
func (m *PaymentMetrics) Notification(ctx context.Context, outcome NotificationOutcome) {
	if m == nil {
		return
	}
	m.notifications.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", string(outcome))))
}

// OrderPlaced counts one committed order.
func (m *PaymentMetrics) OrderPlaced(ctx context.Context, paymentState string) {
	if m == nil {
		return
	}
	m.orders.Add(ctx, 1, metric.WithAttributes(attribute.String("payment_state", paymentState)))
}
