package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/solarshop/api/internal/domain"
	"github.com/solarshop/api/internal/payments"
	"github.com/solarshop/api/internal/platform/observability"
	"github.com/solarshop/api/internal/repositories"
)

const (
	// MessagePaymentSuccessful is returned to the gateway once the order is Paid.
	MessagePaymentSuccessful = "Payment successful"
	// MessagePaymentVerificationFailed is returned for every rejected notification.
	MessagePaymentVerificationFailed = "Payment verification failed"
	// MessageOrderCancelled is returned after a successful cancellation.
	MessageOrderCancelled = "Order cancelled successfully"

	checkoutCancelReason = "cancelled_at_checkout"
)

var (
	// ErrOrderAlreadyCancelled indicates the order was cancelled before.
	ErrOrderAlreadyCancelled = errors.New("order: already cancelled")
	// ErrOrderPaidNotCancellable indicates a paid order cannot be cancelled.
	ErrOrderPaidNotCancellable = errors.New("order: paid order cannot be cancelled")
)

// notificationVerifier abstracts payments.PayHere for easier testing.
type notificationVerifier interface {
	Verify(notification PaymentNotification) payments.Verification
}

// PaymentServiceDeps bundles collaborators required to construct the payment service.
type PaymentServiceDeps struct {
	Users       repositories.UserRepository
	Products    repositories.ProductRepository
	Branches    repositories.BranchRepository
	Orders      repositories.OrderRepository
	Verifier    notificationVerifier
	Mailer      OrderMailer
	Events      OrderEventPublisher
	Metrics     *observability.PaymentMetrics
	FrontendURL string
	Clock       func() time.Time
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type paymentService struct {
	orders   repositories.OrderRepository
	verifier notificationVerifier
	notifier orderNotifier
	emitter  eventEmitter
	metrics  *observability.PaymentMetrics
	clock    func() time.Time
	logger   func(context.Context, string, map[string]any)
}

var _ PaymentService = (*paymentService)(nil)

// NewPaymentService wires dependencies into a concrete PaymentService implementation.
func NewPaymentService(deps PaymentServiceDeps) (PaymentService, error) {
	if deps.Orders == nil {
		return nil, errors.New("payment service: order repository is required")
	}
	if deps.Verifier == nil {
		return nil, errors.New("payment service: notification verifier is required")
	}
	if deps.Users == nil || deps.Products == nil || deps.Branches == nil {
		return nil, errors.New("payment service: user, product and branch repositories are required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &paymentService{
		orders:   deps.Orders,
		verifier: deps.Verifier,
		notifier: orderNotifier{
			users:       deps.Users,
			branches:    deps.Branches,
			products:    deps.Products,
			mailer:      deps.Mailer,
			frontendURL: deps.FrontendURL,
		},
		emitter: eventEmitter{events: deps.Events, logger: logger},
		metrics: deps.Metrics,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

func (s *paymentService) HandleNotification(ctx context.Context, notification PaymentNotification) (NotificationResult, error) {
	verification := s.verifier.Verify(notification)
	fields := map[string]any{
		"order":      notification.OrderID,
		"payment":    notification.PaymentID,
		"statusCode": notification.StatusCode,
		"amount":     notification.Amount,
		"currency":   notification.Currency,
	}

	switch verification.Outcome {
	case payments.OutcomeVerified:
	case payments.OutcomeGatewayFailure:
		fields["statusMessage"] = notification.StatusMessage
		return s.reject(ctx, observability.OutcomeGatewayFailure, "payhere.notification.payment.failed", fields, nil)
	case payments.OutcomeMerchantMismatch:
		fields["merchant"] = notification.MerchantID
		fields["severity"] = "error"
		return s.reject(ctx, observability.OutcomeMerchantMismatch, "payhere.notification.merchant_mismatch", fields, nil)
	default:
		fields["severity"] = "error"
		return s.reject(ctx, observability.OutcomeSignatureMismatch, "payhere.notification.signature_mismatch", fields, nil)
	}

	order, err := s.orders.FindByID(ctx, notification.OrderID)
	if err != nil {
		mapped := mapOrderRepositoryError(err)
		fields["error"] = err.Error()
		fields["severity"] = "error"
		if errors.Is(mapped, ErrOrderNotFound) {
			return s.reject(ctx, observability.OutcomeUnknownOrder, "payhere.notification.unknown_order", fields, mapped)
		}
		s.metrics.Notification(ctx, observability.OutcomeError)
		s.logger(ctx, "payhere.notification.lookup.failed", fields)
		return NotificationResult{}, mapped
	}

	if !verification.Amount.Equal(order.TotalPrice) || !strings.EqualFold(verification.Currency, order.Currency) {
		fields["expectedAmount"] = order.TotalPrice.StringFixed(2)
		fields["expectedCurrency"] = order.Currency
		fields["severity"] = "error"
		return s.reject(ctx, observability.OutcomeAmountMismatch, "payhere.notification.amount_mismatch", fields, nil)
	}

	now := s.clock()
	paid, err := s.orders.MarkPaid(ctx, repositories.MarkPaidRequest{OrderID: order.ID, PaidAt: now})
	if err != nil {
		mapped := mapOrderRepositoryError(err)
		fields["error"] = err.Error()
		fields["severity"] = "error"
		if errors.Is(mapped, ErrOrderInvalidState) {
			return s.reject(ctx, observability.OutcomeInvalidState, "payhere.notification.invalid_state", fields, mapped)
		}
		s.metrics.Notification(ctx, observability.OutcomeError)
		s.logger(ctx, "payhere.notification.mark_paid.failed", fields)
		return NotificationResult{}, mapped
	}

	result := NotificationResult{
		Outcome: string(observability.OutcomePaid),
		Message: MessagePaymentSuccessful,
		Changed: paid.Changed,
		Order:   &paid.Order,
	}
	if !paid.Changed {
		result.Outcome = string(observability.OutcomeAlreadyPaid)
		s.metrics.Notification(ctx, observability.OutcomeAlreadyPaid)
		s.logger(ctx, "payhere.notification.duplicate", fields)
		return result, nil
	}

	s.metrics.Notification(ctx, observability.OutcomePaid)
	s.logger(ctx, "order.paid", fields)
	s.emitter.publish(ctx, newOrderEvent(OrderEventPaid, paid.Order, now))

	if err := s.notifier.orderConfirmed(ctx, paid.Order); err != nil {
		s.logger(ctx, "order.notification.failed", map[string]any{
			"order":    paid.Order.ID,
			"template": TemplateOrderConfirmation,
			"error":    err.Error(),
			"severity": "error",
		})
		return result, err
	}
	return result, nil
}

func (s *paymentService) CancelOrder(ctx context.Context, cmd CancelOrderCommand) (CancelOrderResult, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return CancelOrderResult{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	reason := strings.TrimSpace(cmd.Reason)
	if reason == "" {
		reason = checkoutCancelReason
	}

	now := s.clock()
	order, err := s.orders.Cancel(ctx, repositories.CancelOrderRequest{
		OrderID:     orderID,
		Reason:      reason,
		CancelledAt: now,
		Guard:       cancellationGuard,
	})
	if err != nil {
		if errors.Is(err, ErrOrderAlreadyCancelled) || errors.Is(err, ErrOrderPaidNotCancellable) {
			return CancelOrderResult{}, err
		}
		return CancelOrderResult{}, mapOrderRepositoryError(err)
	}

	s.logger(ctx, "order.cancelled", map[string]any{
		"order":  order.ID,
		"reason": reason,
	})
	s.emitter.publish(ctx, newOrderEvent(OrderEventCancelled, order, now))

	result := CancelOrderResult{Message: MessageOrderCancelled, Order: order}
	if err := s.notifier.orderCancelled(ctx, order); err != nil {
		s.logger(ctx, "order.notification.failed", map[string]any{
			"order":    order.ID,
			"template": TemplateOrderCancellation,
			"error":    err.Error(),
			"severity": "error",
		})
		return result, err
	}
	return result, nil
}

func (s *paymentService) reject(ctx context.Context, outcome observability.NotificationOutcome, event string, fields map[string]any, err error) (NotificationResult, error) {
	fields["outcome"] = string(outcome)
	s.metrics.Notification(ctx, outcome)
	s.logger(ctx, event, fields)
	return NotificationResult{
		Outcome: string(outcome),
		Message: MessagePaymentVerificationFailed,
	}, err
}

func cancellationGuard(order domain.Order) error {
	switch {
	case order.Status == domain.OrderStatusCancelled:
		return fmt.Errorf("%w: %s", ErrOrderAlreadyCancelled, order.ID)
	case order.Settled():
		return fmt.Errorf("%w: %s", ErrOrderPaidNotCancellable, order.ID)
	}
	return nil
}
