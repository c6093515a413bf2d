package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/solarshop/api/internal/domain"
	"github.com/solarshop/api/internal/payments"
	"github.com/solarshop/api/internal/repositories"
)

type stubVerifier struct {
	outcome payments.Outcome
}

func (s stubVerifier) Verify(n domain.PaymentNotification) payments.Verification {
	amount, _ := decimal.NewFromString(n.Amount)
	return payments.Verification{
		Outcome:    s.outcome,
		OrderID:    n.OrderID,
		Amount:     amount,
		AmountText: n.Amount,
		Currency:   n.Currency,
		StatusCode: n.StatusCode,
	}
}

type loggedEvent struct {
	name   string
	fields map[string]any
}

type paymentFixture struct {
	orders  *stubOrderRepo
	mailer  *recordingMailer
	events  *recordingEvents
	logs    []loggedEvent
	pending domain.Order
}

func newPaymentFixture() *paymentFixture {
	f := &paymentFixture{
		mailer: &recordingMailer{},
		events: &recordingEvents{},
		pending: domain.Order{
			ID:         "ord_1",
			ClientID:   "user-1",
			BranchID:   "colombo",
			Lines:      []domain.OrderLine{{ProductID: "panel", Quantity: 2, Price: decimal.RequireFromString("100.25")}},
			TotalPrice: decimal.RequireFromString("200.50"),
			Currency:   "LKR",
			Status:     domain.OrderStatusPending,
		},
	}
	f.orders = &stubOrderRepo{
		findFn: func(_ context.Context, id string) (domain.Order, error) {
			if id != f.pending.ID {
				return domain.Order{}, stubRepoError{notFound: true}
			}
			return f.pending, nil
		},
		markPaidFn: func(_ context.Context, req repositories.MarkPaidRequest) (repositories.MarkPaidResult, error) {
			paid := f.pending
			paid.Status = domain.OrderStatusPaid
			paid.IsPaid = true
			paid.PaidAt = &req.PaidAt
			return repositories.MarkPaidResult{Order: paid, Changed: true}, nil
		},
	}
	return f
}

func (f *paymentFixture) service(t *testing.T, outcome payments.Outcome) PaymentService {
	t.Helper()
	users := &stubUserRepo{findFn: func(_ context.Context, id string) (domain.User, error) {
		return domain.User{ID: id, FirstName: "Nimal", LastName: "Perera", Email: "nimal@example.lk"}, nil
	}}
	products := &stubProductRepo{findFn: func(context.Context, []string) ([]domain.Product, error) {
		return []domain.Product{{ID: "panel", Name: "Mono Panel"}}, nil
	}}
	branches := &stubBranchRepo{branches: []domain.Branch{{ID: "colombo", Name: "Colombo"}}}

	svc, err := NewPaymentService(PaymentServiceDeps{
		Users:       users,
		Products:    products,
		Branches:    branches,
		Orders:      f.orders,
		Verifier:    stubVerifier{outcome: outcome},
		Mailer:      f.mailer,
		Events:      f.events,
		FrontendURL: "https://shop.example.lk",
		Clock:       func() time.Time { return time.Date(2025, time.May, 5, 9, 0, 0, 0, time.UTC) },
		Logger: func(_ context.Context, event string, fields map[string]any) {
			f.logs = append(f.logs, loggedEvent{name: event, fields: fields})
		},
	})
	if err != nil {
		t.Fatalf("NewPaymentService: %v", err)
	}
	return svc
}

func (f *paymentFixture) logged(name string) (map[string]any, bool) {
	for _, entry := range f.logs {
		if entry.name == name {
			return entry.fields, true
		}
	}
	return nil, false
}

func notification(amount, currency string) domain.PaymentNotification {
	return domain.PaymentNotification{
		MerchantID: "1211149",
		OrderID:    "ord_1",
		Amount:     amount,
		Currency:   currency,
		StatusCode: "2",
		Signature:  "SIG",
	}
}

func TestNewPaymentServiceRequiresDependencies(t *testing.T) {
	if _, err := NewPaymentService(PaymentServiceDeps{}); err == nil {
		t.Fatalf("expected error for missing deps")
	}
	if _, err := NewPaymentService(PaymentServiceDeps{Orders: &stubOrderRepo{}}); err == nil {
		t.Fatalf("expected error for missing verifier")
	}
}

func TestPaymentServiceRejectsUnverifiedNotifications(t *testing.T) {
	cases := []struct {
		outcome  payments.Outcome
		event    string
		severity bool
	}{
		{outcome: payments.OutcomeSignatureMismatch, event: "payhere.notification.signature_mismatch", severity: true},
		{outcome: payments.OutcomeMerchantMismatch, event: "payhere.notification.merchant_mismatch", severity: true},
		{outcome: payments.OutcomeGatewayFailure, event: "payhere.notification.payment.failed"},
	}
	for _, tc := range cases {
		t.Run(string(tc.outcome), func(t *testing.T) {
			f := newPaymentFixture()
			f.orders.markPaidFn = func(context.Context, repositories.MarkPaidRequest) (repositories.MarkPaidResult, error) {
				t.Fatalf("order must not be marked paid")
				return repositories.MarkPaidResult{}, nil
			}
			svc := f.service(t, tc.outcome)

			result, err := svc.HandleNotification(context.Background(), notification("200.50", "LKR"))
			if err != nil {
				t.Fatalf("HandleNotification: %v", err)
			}
			if result.Message != MessagePaymentVerificationFailed || result.Outcome != string(tc.outcome) {
				t.Fatalf("unexpected result %+v", result)
			}
			fields, ok := f.logged(tc.event)
			if !ok {
				t.Fatalf("expected %s to be logged, got %+v", tc.event, f.logs)
			}
			if fields["order"] != "ord_1" {
				t.Fatalf("expected order id in log fields, got %v", fields)
			}
			if got := fields["severity"] == "error"; got != tc.severity {
				t.Fatalf("expected severity error=%v, got %v", tc.severity, fields["severity"])
			}
			if len(f.mailer.sent()) != 0 {
				t.Fatalf("no email expected")
			}
		})
	}
}

func TestPaymentServiceRejectsAmountOrCurrencyMismatch(t *testing.T) {
	for _, n := range []domain.PaymentNotification{notification("200.00", "LKR"), notification("200.50", "USD")} {
		f := newPaymentFixture()
		svc := f.service(t, payments.OutcomeVerified)

		result, err := svc.HandleNotification(context.Background(), n)
		if err != nil {
			t.Fatalf("HandleNotification: %v", err)
		}
		if result.Outcome != "amount_mismatch" || result.Message != MessagePaymentVerificationFailed {
			t.Fatalf("unexpected result %+v", result)
		}
		if _, ok := f.logged("payhere.notification.amount_mismatch"); !ok {
			t.Fatalf("expected amount mismatch to be logged")
		}
	}
}

func TestPaymentServiceAcceptsEquivalentAmountFormats(t *testing.T) {
	f := newPaymentFixture()
	svc := f.service(t, payments.OutcomeVerified)

	result, err := svc.HandleNotification(context.Background(), notification("200.5", "lkr"))
	if err != nil {
		t.Fatalf("HandleNotification: %v", err)
	}
	if result.Message != MessagePaymentSuccessful || !result.Changed {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestPaymentServiceUnknownOrder(t *testing.T) {
	f := newPaymentFixture()
	svc := f.service(t, payments.OutcomeVerified)

	n := notification("200.50", "LKR")
	n.OrderID = "ord_ghost"
	result, err := svc.HandleNotification(context.Background(), n)
	if !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if result.Message != MessagePaymentVerificationFailed || result.Outcome != "unknown_order" {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestPaymentServiceLookupFailureIsInternal(t *testing.T) {
	f := newPaymentFixture()
	f.orders.findFn = func(context.Context, string) (domain.Order, error) {
		return domain.Order{}, stubRepoError{unavailable: true}
	}
	svc := f.service(t, payments.OutcomeVerified)

	result, err := svc.HandleNotification(context.Background(), notification("200.50", "LKR"))
	if !errors.Is(err, ErrOrderUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
	if result.Message != "" {
		t.Fatalf("expected empty result, got %+v", result)
	}
}

func TestPaymentServiceDuplicateNotificationIsNoop(t *testing.T) {
	f := newPaymentFixture()
	f.orders.markPaidFn = func(context.Context, repositories.MarkPaidRequest) (repositories.MarkPaidResult, error) {
		paid := f.pending
		paid.Status = domain.OrderStatusPaid
		paid.IsPaid = true
		return repositories.MarkPaidResult{Order: paid}, nil
	}
	svc := f.service(t, payments.OutcomeVerified)

	result, err := svc.HandleNotification(context.Background(), notification("200.50", "LKR"))
	if err != nil {
		t.Fatalf("HandleNotification: %v", err)
	}
	if result.Changed || result.Outcome != "already_paid" || result.Message != MessagePaymentSuccessful {
		t.Fatalf("unexpected result %+v", result)
	}
	if len(f.mailer.sent()) != 0 || len(f.events.types()) != 0 {
		t.Fatalf("duplicate notification must not email or publish")
	}
}

func TestPaymentServiceEmailFailureDoesNotUndoPayment(t *testing.T) {
	f := newPaymentFixture()
	f.mailer.err = errors.New("smtp: 421 try again later")
	svc := f.service(t, payments.OutcomeVerified)

	result, err := svc.HandleNotification(context.Background(), notification("200.50", "LKR"))
	if !errors.Is(err, ErrNotificationDelivery) {
		t.Fatalf("expected notification delivery error, got %v", err)
	}
	if result.Message != MessagePaymentSuccessful || !result.Changed || result.Order == nil || !result.Order.IsPaid {
		t.Fatalf("expected paid result despite email failure, got %+v", result)
	}
	if got := f.events.types(); len(got) != 1 || got[0] != OrderEventPaid {
		t.Fatalf("expected paid event, got %v", got)
	}
}

func TestPaymentServiceCancelOrderGuardsStatus(t *testing.T) {
	cases := []struct {
		name   string
		status domain.OrderStatus
		isPaid bool
		want   error
	}{
		{name: "cancelled", status: domain.OrderStatusCancelled, want: ErrOrderAlreadyCancelled},
		{name: "paid", status: domain.OrderStatusPaid, isPaid: true, want: ErrOrderPaidNotCancellable},
		{name: "paid flag only", status: domain.OrderStatusProcessing, isPaid: true, want: ErrOrderPaidNotCancellable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newPaymentFixture()
			f.orders.cancelFn = func(_ context.Context, req repositories.CancelOrderRequest) (domain.Order, error) {
				current := f.pending
				current.Status = tc.status
				current.IsPaid = tc.isPaid
				if err := req.Guard(current); err != nil {
					return domain.Order{}, err
				}
				t.Fatalf("guard should have rejected %s", tc.status)
				return domain.Order{}, nil
			}
			svc := f.service(t, payments.OutcomeVerified)

			if _, err := svc.CancelOrder(context.Background(), CancelOrderCommand{OrderID: "ord_1"}); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestPaymentServiceCancelOrderMapsRepositoryErrors(t *testing.T) {
	f := newPaymentFixture()
	f.orders.cancelFn = func(context.Context, repositories.CancelOrderRequest) (domain.Order, error) {
		return domain.Order{}, repositories.NewStockError(repositories.StockErrorOrderNotFound, "order ord_x not found", nil)
	}
	svc := f.service(t, payments.OutcomeVerified)

	if _, err := svc.CancelOrder(context.Background(), CancelOrderCommand{OrderID: "ord_x"}); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := svc.CancelOrder(context.Background(), CancelOrderCommand{OrderID: " "}); !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestPaymentServiceCancelOrderSendsNotice(t *testing.T) {
	f := newPaymentFixture()
	cancelledAt := time.Date(2025, time.May, 5, 9, 0, 0, 0, time.UTC)
	var gotReason string
	f.orders.cancelFn = func(_ context.Context, req repositories.CancelOrderRequest) (domain.Order, error) {
		gotReason = req.Reason
		cancelled := f.pending
		cancelled.Status = domain.OrderStatusCancelled
		cancelled.CancelledAt = &cancelledAt
		cancelled.CancelReason = req.Reason
		return cancelled, nil
	}
	svc := f.service(t, payments.OutcomeVerified)

	result, err := svc.CancelOrder(context.Background(), CancelOrderCommand{OrderID: "ord_1"})
	if err != nil {
		t.Fatalf("CancelOrder: %v", err)
	}
	if gotReason != "cancelled_at_checkout" {
		t.Fatalf("unexpected default reason %q", gotReason)
	}
	if result.Message != MessageOrderCancelled || result.Order.Status != domain.OrderStatusCancelled {
		t.Fatalf("unexpected result %+v", result)
	}
	emails := f.mailer.sent()
	if len(emails) != 1 {
		t.Fatalf("expected one email, got %d", len(emails))
	}
	data := emails[0].Data
	if data.CancellationDate != "May 5, 2025" || data.BranchName != "Colombo" || data.Products[0].Name != "Mono Panel" {
		t.Fatalf("unexpected email data %+v", data)
	}
	if !data.Products[0].Total.Equal(decimal.RequireFromString("200.50")) {
		t.Fatalf("unexpected line total %s", data.Products[0].Total)
	}
}
