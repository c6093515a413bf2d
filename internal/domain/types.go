package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// UserType distinguishes storefront clients from administrators.
type UserType string

const (
	// UserTypeClient marks storefront customers.
	UserTypeClient UserType = "Client"
	// UserTypeAdmin marks back-office operators.
	UserTypeAdmin UserType = "Admin"
)

// User is the read-only client record consumed by the order workflow.
type User struct {
	ID          string
	FirstName   string
	LastName    string
	Email       string
	PhoneNumber string
	Address     string
	City        string
	Country     string
	Type        UserType
	Location    *GeoPoint
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// FullName joins first and last names for greetings.
func (u User) FullName() string {
	switch {
	case u.FirstName == "":
		return u.LastName
	case u.LastName == "":
		return u.FirstName
	default:
		return u.FirstName + " " + u.LastName
	}
}

// Product is a sellable catalog item with a mutable stock counter.
type Product struct {
	ID           string
	Name         string
	Description  string
	Price        decimal.Decimal
	Stock        int
	IsAvailable  bool
	Category     string
	Wattage      float64
	Voltage      float64
	Dimensions   string
	Weight       float64
	Manufacturer string
	Warranty     string
	Images       []string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Branch is a physical fulfilment location.
type Branch struct {
	ID           string
	Name         string
	LocationName string
	Location     GeoPoint
	PhoneNumber  string
	Email        string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// OrderStatus enumerates lifecycle states for orders.
type OrderStatus string

const (
	// OrderStatusPending indicates the order was placed and awaits payment.
	OrderStatusPending OrderStatus = "Pending"
	// OrderStatusPaid indicates the gateway confirmed payment.
	OrderStatusPaid OrderStatus = "Paid"
	// OrderStatusProcessing indicates the branch is preparing the order.
	OrderStatusProcessing OrderStatus = "Processing"
	// OrderStatusCompleted indicates the order was handed over.
	OrderStatusCompleted OrderStatus = "Completed"
	// OrderStatusCancelled indicates the order was cancelled and stock restored.
	OrderStatusCancelled OrderStatus = "Cancelled"
)

// Valid reports whether the status is one of the known values.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusPaid, OrderStatusProcessing, OrderStatusCompleted, OrderStatusCancelled:
		return true
	}
	return false
}

// PaymentState tracks the hosted-checkout handshake independently from the order status.
type PaymentState string

const (
	// PaymentStateAwaiting indicates a checkout payload was issued and the gateway has not reported back.
	PaymentStateAwaiting PaymentState = "awaiting_payment"
	// PaymentStateStranded indicates the order committed but no checkout payload could be issued.
	PaymentStateStranded PaymentState = "stranded"
	// PaymentStateSettled indicates the gateway confirmed payment.
	PaymentStateSettled PaymentState = "settled"
)

// Order is the persisted result of order intake.
type Order struct {
	ID            string
	ClientID      string
	Lines         []OrderLine
	TotalPrice    decimal.Decimal
	Currency      string
	BranchID      string
	Status        OrderStatus
	PaymentState  PaymentState
	PaymentMethod string
	IsPaid        bool
	PaidAt        *time.Time
	DeliveryDate  *time.Time
	Notes         string
	CancelledAt   *time.Time
	CancelReason  string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// OrderLine freezes the unit price captured when the order was placed.
type OrderLine struct {
	ProductID string
	Quantity  int
	Price     decimal.Decimal
}

// Total returns price multiplied by quantity.
func (l OrderLine) Total() decimal.Decimal {
	return l.Price.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// LinesTotal sums line totals.
func LinesTotal(lines []OrderLine) decimal.Decimal {
	total := decimal.Zero
	for _, line := range lines {
		total = total.Add(line.Total())
	}
	return total
}

// ProductIDs lists referenced product ids in line order.
func (o Order) ProductIDs() []string {
	ids := make([]string, 0, len(o.Lines))
	for _, line := range o.Lines {
		ids = append(ids, line.ProductID)
	}
	return ids
}

// Settled reports whether payment was captured, which holds for Paid and every later status.
func (o Order) Settled() bool {
	switch o.Status {
	case OrderStatusPaid, OrderStatusProcessing, OrderStatusCompleted:
		return true
	}
	return o.IsPaid
}

// Cancellable reports whether the order may still move to Cancelled.
func (o Order) Cancellable() bool {
	return o.Status != OrderStatusCancelled && !o.Settled()
}

// PaymentInitiation is the hosted-checkout payload handed to the browser.
type PaymentInitiation struct {
	Sandbox     bool     `json:"sandbox"`
	Preapprove  bool     `json:"preapprove"`
	MerchantID  string   `json:"merchant_id"`
	ReturnURL   string   `json:"return_url"`
	CancelURL   string   `json:"cancel_url"`
	NotifyURL   string   `json:"notify_url"`
	FirstName   string   `json:"first_name"`
	LastName    string   `json:"last_name"`
	Email       string   `json:"email"`
	Phone       string   `json:"phone"`
	Address     string   `json:"address"`
	City        string   `json:"city"`
	Country     string   `json:"country"`
	OrderID     string   `json:"order_id"`
	Items       []string `json:"items"`
	Currency    string   `json:"currency"`
	Amount      string   `json:"amount"`
	Hash        string   `json:"hash"`
	CheckoutURL string   `json:"checkout_url,omitempty"`
}

// PaymentNotification carries the gateway webhook fields verbatim.
type PaymentNotification struct {
	MerchantID    string `json:"merchant_id"`
	OrderID       string `json:"order_id"`
	PaymentID     string `json:"payment_id,omitempty"`
	Amount        string `json:"payhere_amount"`
	Currency      string `json:"payhere_currency"`
	StatusCode    string `json:"status_code"`
	Signature     string `json:"md5sig"`
	Method        string `json:"method,omitempty"`
	StatusMessage string `json:"status_message,omitempty"`
}

const (
	// HealthStatusOK indicates all dependencies are healthy.
	HealthStatusOK = "ok"
	// HealthStatusDegraded indicates at least one dependency is degraded but service remains running.
	HealthStatusDegraded = "degraded"
	// HealthStatusError indicates the service or a critical dependency is unavailable.
	HealthStatusError = "error"
)

// WorstHealthStatus returns the most severe of statuses, "ok" when none is given.
func WorstHealthStatus(statuses ...string) string {
	worst := HealthStatusOK
	for _, status := range statuses {
		switch {
		case status == HealthStatusError:
			return HealthStatusError
		case status == HealthStatusDegraded:
			worst = HealthStatusDegraded
		}
	}
	return worst
}

// SystemHealthCheck describes the outcome of an individual dependency probe.
type SystemHealthCheck struct {
	Status    string
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency status for health endpoints.
type SystemHealthReport struct {
	Status      string
	Checks      map[string]SystemHealthCheck
	Version     string
	CommitSHA   string
	Environment string
	Uptime      time.Duration
	GeneratedAt time.Time
}
