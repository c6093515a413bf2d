package services

import (
	"context"
	"time"

	domain "github.com/solarshop/api/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Order               = domain.Order
	OrderLine           = domain.OrderLine
	Product             = domain.Product
	Branch              = domain.Branch
	User                = domain.User
	GeoPoint            = domain.GeoPoint
	PaymentInitiation   = domain.PaymentInitiation
	PaymentNotification = domain.PaymentNotification
	SystemHealthReport  = domain.SystemHealthReport
)

// OrderService coordinates order intake, payment re-initiation and the stranded order sweep.
type OrderService interface {
	PlaceOrder(ctx context.Context, cmd PlaceOrderCommand) (PlacedOrder, error)
	ReissuePayment(ctx context.Context, cmd ReissuePaymentCommand) (PlacedOrder, error)
	ReleaseStranded(ctx context.Context, cmd ReleaseStrandedCommand) (ReleaseStrandedResult, error)
}

// PaymentService reconciles gateway notifications and gateway-driven cancellations.
type PaymentService interface {
	HandleNotification(ctx context.Context, notification PaymentNotification) (NotificationResult, error)
	CancelOrder(ctx context.Context, cmd CancelOrderCommand) (CancelOrderResult, error)
}

// SystemService exposes operational metadata such as health.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// PlaceOrderCommand is the authenticated caller's order request. Line prices are never accepted
// from callers; they are captured from the catalog.
type PlaceOrderCommand struct {
	ClientID      string
	Lines         []OrderLineInput
	Notes         string
	DeliveryDate  *time.Time
	PaymentMethod string
}

// OrderLineInput requests a quantity of one product.
type OrderLineInput struct {
	ProductID string
	Quantity  int
}

// PlacedOrder pairs the persisted order with the hosted-checkout payload.
type PlacedOrder struct {
	Order   Order
	Payment PaymentInitiation
}

// ReissuePaymentCommand rebuilds the checkout payload for an unpaid order owned by ClientID.
type ReissuePaymentCommand struct {
	OrderID  string
	ClientID string
}

// ReleaseStrandedCommand bounds one sweep over stranded orders.
type ReleaseStrandedCommand struct {
	OlderThan time.Duration
	Limit     int
}

// ReleaseStrandedResult lists the orders the sweep cancelled and those it could not.
type ReleaseStrandedResult struct {
	Released []string          `json:"released"`
	Failed   map[string]string `json:"failed,omitempty"`
}

// NotificationResult reports how a gateway notification was handled. Message is the body
// returned to the gateway.
type NotificationResult struct {
	Outcome string
	Message string
	Changed bool
	Order   *Order
}

// CancelOrderCommand identifies the order to cancel.
type CancelOrderCommand struct {
	OrderID string
	Reason  string
}

// CancelOrderResult carries the cancelled order.
type CancelOrderResult struct {
	Message string
	Order   Order
}
