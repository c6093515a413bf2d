package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/solarshop/api/internal/repositories"
)

const (
	// TemplateOrderConfirmation renders the paid order receipt.
	TemplateOrderConfirmation = "order-confirmation"
	// TemplateOrderCancellation renders the cancellation notice.
	TemplateOrderCancellation = "order-cancellation"

	subjectOrderConfirmation = "Your Order Confirmation"
	subjectOrderCancellation = "Your Order Has Been Cancelled"

	deliveryPending     = "To be determined"
	deliveryUnspecified = "Not specified"
	emailDateLayout     = "January 2, 2006"
)

// ErrNotificationDelivery indicates the state change succeeded but the customer email could
// not be rendered or sent.
var ErrNotificationDelivery = errors.New("notification: delivery failed")

// OrderMailer renders a named template and delivers it.
type OrderMailer interface {
	SendOrderEmail(ctx context.Context, email OrderEmail) error
}

// OrderEmail is one transactional email about an order.
type OrderEmail struct {
	Template string
	Subject  string
	To       []string
	Data     OrderEmailData
}

// OrderEmailData is the template context shared by order emails.
type OrderEmailData struct {
	CustomerName       string
	OrderID            string
	OrderDate          string
	DeliveryDate       string
	CancellationDate   string
	CancelReason       string
	BranchName         string
	Status             string
	Products           []OrderEmailLine
	TotalPrice         decimal.Decimal
	Currency           string
	Notes              string
	OrderTrackingURL   string
	CustomerSupportURL string
}

// OrderEmailLine is one product row in an order email.
type OrderEmailLine struct {
	Name     string
	Quantity int
	Price    decimal.Decimal
	Total    decimal.Decimal
}

type orderNotifier struct {
	users       repositories.UserRepository
	branches    repositories.BranchRepository
	products    repositories.ProductRepository
	mailer      OrderMailer
	frontendURL string
}

func (n orderNotifier) orderConfirmed(ctx context.Context, order Order) error {
	if n.mailer == nil {
		return nil
	}
	email, err := n.compose(ctx, order, TemplateOrderConfirmation)
	if err != nil {
		return err
	}
	return n.send(ctx, email)
}

func (n orderNotifier) orderCancelled(ctx context.Context, order Order) error {
	if n.mailer == nil {
		return nil
	}
	email, err := n.compose(ctx, order, TemplateOrderCancellation)
	if err != nil {
		return err
	}
	return n.send(ctx, email)
}

func (n orderNotifier) send(ctx context.Context, email OrderEmail) error {
	if err := n.mailer.SendOrderEmail(ctx, email); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrNotificationDelivery, email.Template, err)
	}
	return nil
}

func (n orderNotifier) compose(ctx context.Context, order Order, template string) (OrderEmail, error) {
	client, err := n.users.FindByID(ctx, order.ClientID)
	if err != nil {
		return OrderEmail{}, fmt.Errorf("%w: load client %s: %v", ErrNotificationDelivery, order.ClientID, err)
	}
	if strings.TrimSpace(client.Email) == "" {
		return OrderEmail{}, fmt.Errorf("%w: client %s has no email", ErrNotificationDelivery, client.ID)
	}

	var branchName string
	if order.BranchID != "" {
		branch, err := n.branches.FindByID(ctx, order.BranchID)
		if err != nil {
			return OrderEmail{}, fmt.Errorf("%w: load branch %s: %v", ErrNotificationDelivery, order.BranchID, err)
		}
		branchName = branch.Name
	}

	names := make(map[string]string, len(order.Lines))
	products, err := n.products.FindByIDs(ctx, order.ProductIDs())
	if err != nil {
		return OrderEmail{}, fmt.Errorf("%w: load products: %v", ErrNotificationDelivery, err)
	}
	for _, product := range products {
		names[product.ID] = product.Name
	}

	lines := make([]OrderEmailLine, 0, len(order.Lines))
	for _, line := range order.Lines {
		name := names[line.ProductID]
		if name == "" {
			name = line.ProductID
		}
		lines = append(lines, OrderEmailLine{
			Name:     name,
			Quantity: line.Quantity,
			Price:    line.Price,
			Total:    line.Total(),
		})
	}

	data := OrderEmailData{
		CustomerName:     client.FullName(),
		OrderID:          order.ID,
		OrderDate:        formatEmailDate(order.CreatedAt),
		BranchName:       branchName,
		Status:           string(order.Status),
		Products:         lines,
		TotalPrice:       order.TotalPrice,
		Currency:         order.Currency,
		Notes:            order.Notes,
		OrderTrackingURL: n.link("/orders/" + order.ID),
	}
	subject := subjectOrderConfirmation
	switch template {
	case TemplateOrderConfirmation:
		data.DeliveryDate = deliveryDate(order.DeliveryDate, deliveryPending)
	case TemplateOrderCancellation:
		subject = subjectOrderCancellation
		data.DeliveryDate = deliveryDate(order.DeliveryDate, deliveryUnspecified)
		if order.CancelledAt != nil {
			data.CancellationDate = formatEmailDate(*order.CancelledAt)
		}
		data.CancelReason = order.CancelReason
		data.CustomerSupportURL = n.link("/contact")
	}

	return OrderEmail{
		Template: template,
		Subject:  subject,
		To:       []string{client.Email},
		Data:     data,
	}, nil
}

func (n orderNotifier) link(path string) string {
	return strings.TrimRight(n.frontendURL, "/") + path
}

func deliveryDate(value *time.Time, fallback string) string {
	if value == nil || value.IsZero() {
		return fallback
	}
	return formatEmailDate(*value)
}

func formatEmailDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(emailDateLayout)
}
