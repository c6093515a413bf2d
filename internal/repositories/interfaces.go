package repositories

import (
	"context"
	"time"

	domain "github.com/solarshop/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Products() ProductRepository
	Branches() BranchRepository
	Users() UserRepository
	Orders() OrderRepository
	Health() HealthRepository
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// ProductRepository reads catalog products for order intake.
type ProductRepository interface {
	// FindByIDs returns the products that exist; missing ids are silently skipped.
	FindByIDs(ctx context.Context, ids []string) ([]domain.Product, error)
}

// BranchRepository exposes branch locations for the nearest-branch search.
type BranchRepository interface {
	FindByID(ctx context.Context, branchID string) (domain.Branch, error)
	ListLocated(ctx context.Context) ([]domain.Branch, error)
}

// UserRepository resolves client records.
type UserRepository interface {
	FindByID(ctx context.Context, userID string) (domain.User, error)
}

// OrderRepository persists orders and owns every stock mutation so that order
// writes and stock writes share one transaction.
type OrderRepository interface {
	// PlaceOrder re-reads the referenced products, lets compose build the order from the
	// authoritative snapshot, decrements stock and inserts the order atomically.
	PlaceOrder(ctx context.Context, req PlaceOrderRequest) (domain.Order, error)
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	// MarkPaid transitions an order to Paid. Changed is false when it was already Paid.
	MarkPaid(ctx context.Context, req MarkPaidRequest) (MarkPaidResult, error)
	// Cancel restores stock for every line and transitions the order to Cancelled.
	Cancel(ctx context.Context, req CancelOrderRequest) (domain.Order, error)
	SetPaymentState(ctx context.Context, orderID string, state domain.PaymentState, updatedAt time.Time) error
	ListByPaymentState(ctx context.Context, state domain.PaymentState, before time.Time, limit int) ([]domain.Order, error)
}

// PlaceOrderRequest carries the product quantities to reserve and the order factory.
type PlaceOrderRequest struct {
	Quantities map[string]int
	// Compose receives products keyed by id, read inside the transaction after the
	// stock check passed, and returns the order document to insert.
	Compose func(products map[string]domain.Product) (domain.Order, error)
}

// MarkPaidRequest captures the paid transition timestamp.
type MarkPaidRequest struct {
	OrderID string
	PaidAt  time.Time
}

// MarkPaidResult reports the persisted order and whether the transition happened.
type MarkPaidResult struct {
	Order   domain.Order
	Changed bool
}

// CancelOrderRequest identifies the order to cancel.
type CancelOrderRequest struct {
	OrderID     string
	Reason      string
	CancelledAt time.Time
	// Guard, when set, must return nil for the current order before any write happens.
	Guard func(order domain.Order) error
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
