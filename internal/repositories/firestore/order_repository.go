package firestore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/solarshop/api/internal/domain"
	pfirestore "github.com/solarshop/api/internal/platform/firestore"
	"github.com/solarshop/api/internal/repositories"
)

const orderCollection = "orders"

// OrderRepository persists orders and applies the matching stock mutations in the same
// Firestore transaction.
type OrderRepository struct {
	provider *pfirestore.Provider
	orders   *pfirestore.Collection[orderDocument]
	products *pfirestore.Collection[productDocument]
	now      func() time.Time
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{
		provider: provider,
		orders:   pfirestore.NewCollection[orderDocument](provider, orderCollection),
		products: pfirestore.NewCollection[productDocument](provider, productCollection),
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// PlaceOrder reads every referenced product, verifies stock, decrements it and creates the
// order document. Either all writes commit or none do.
func (r *OrderRepository) PlaceOrder(ctx context.Context, req repositories.PlaceOrderRequest) (domain.Order, error) {
	if r == nil || r.provider == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	if len(req.Quantities) == 0 {
		return domain.Order{}, errors.New("order place: at least one line is required")
	}
	if req.Compose == nil {
		return domain.Order{}, errors.New("order place: compose function is required")
	}
	ids := sortedKeys(req.Quantities)

	var placed domain.Order
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		docs, err := r.products.TxGetAll(ctx, tx, ids)
		if err != nil {
			return err
		}
		products := make(map[string]domain.Product, len(docs))
		for _, doc := range docs {
			products[doc.ID] = doc.Data.toDomain(doc.ID)
		}
		for _, id := range ids {
			product, ok := products[id]
			if !ok {
				return repositories.NewStockError(repositories.StockErrorProductNotFound, fmt.Sprintf("product %s not found", id), nil).ForProduct(id)
			}
			if product.Stock < req.Quantities[id] {
				return repositories.NewStockError(repositories.StockErrorInsufficient, fmt.Sprintf("Product %s out of stock", product.Name), nil).ForProduct(id)
			}
		}

		order, err := req.Compose(products)
		if err != nil {
			return err
		}
		orderRef, err := r.orders.Ref(ctx, order.ID)
		if err != nil {
			return err
		}

		now := r.now()
		for _, id := range ids {
			ref, err := r.products.Ref(ctx, id)
			if err != nil {
				return err
			}
			if err := tx.Update(ref, []firestore.Update{
				{Path: "stock", Value: products[id].Stock - req.Quantities[id]},
				{Path: "updatedAt", Value: now},
			}); err != nil {
				return err
			}
		}
		if err := tx.Create(orderRef, newOrderDocument(order)); err != nil {
			return err
		}
		placed = order
		return nil
	})
	if err != nil {
		return domain.Order{}, wrapStockError("orders.place", err)
	}
	return placed, nil
}

// FindByID loads a single order.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.orders == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	if strings.TrimSpace(orderID) == "" {
		return domain.Order{}, errors.New("order id is required")
	}
	doc, err := r.orders.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// MarkPaid moves a Pending order to Paid. An order already Paid or further along is returned
// unchanged.
func (r *OrderRepository) MarkPaid(ctx context.Context, req repositories.MarkPaidRequest) (repositories.MarkPaidResult, error) {
	if r == nil || r.provider == nil {
		return repositories.MarkPaidResult{}, errors.New("order repository not initialised")
	}
	paidAt := req.PaidAt.UTC()

	var result repositories.MarkPaidResult
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, doc, err := r.txGetOrder(ctx, tx, req.OrderID)
		if err != nil {
			return err
		}
		order := doc.toDomain(req.OrderID)
		switch {
		case order.Settled():
			result = repositories.MarkPaidResult{Order: order}
			return nil
		case order.Status != domain.OrderStatusPending:
			return repositories.NewStockError(repositories.StockErrorInvalidOrderState, fmt.Sprintf("order %s is %s", req.OrderID, order.Status), nil)
		}

		if err := tx.Update(ref, []firestore.Update{
			{Path: "status", Value: string(domain.OrderStatusPaid)},
			{Path: "isPaid", Value: true},
			{Path: "paidAt", Value: paidAt},
			{Path: "paymentState", Value: string(domain.PaymentStateSettled)},
			{Path: "updatedAt", Value: paidAt},
		}); err != nil {
			return err
		}
		order.Status = domain.OrderStatusPaid
		order.IsPaid = true
		order.PaidAt = &paidAt
		order.PaymentState = domain.PaymentStateSettled
		order.UpdatedAt = paidAt
		result = repositories.MarkPaidResult{Order: order, Changed: true}
		return nil
	})
	if err != nil {
		return repositories.MarkPaidResult{}, wrapStockError("orders.mark_paid", err)
	}
	return result, nil
}

// Cancel restores stock for every line and marks the order Cancelled. Products deleted
// since the order was placed are skipped.
func (r *OrderRepository) Cancel(ctx context.Context, req repositories.CancelOrderRequest) (domain.Order, error) {
	if r == nil || r.provider == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	cancelledAt := req.CancelledAt.UTC()

	var cancelled domain.Order
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, doc, err := r.txGetOrder(ctx, tx, req.OrderID)
		if err != nil {
			return err
		}
		order := doc.toDomain(req.OrderID)
		if req.Guard != nil {
			if err := req.Guard(order); err != nil {
				return err
			}
		}
		if !order.Cancellable() {
			return repositories.NewStockError(repositories.StockErrorInvalidOrderState, fmt.Sprintf("order %s is %s", order.ID, order.Status), nil)
		}

		restock := quantitiesByProduct(order.Lines)
		products, err := r.products.TxGetAll(ctx, tx, sortedKeys(restock))
		if err != nil {
			return err
		}
		for _, product := range products {
			productRef, err := r.products.Ref(ctx, product.ID)
			if err != nil {
				return err
			}
			if err := tx.Update(productRef, []firestore.Update{
				{Path: "stock", Value: product.Data.Stock + restock[product.ID]},
				{Path: "updatedAt", Value: cancelledAt},
			}); err != nil {
				return err
			}
		}

		if err := tx.Update(ref, []firestore.Update{
			{Path: "status", Value: string(domain.OrderStatusCancelled)},
			{Path: "cancelledAt", Value: cancelledAt},
			{Path: "cancelReason", Value: req.Reason},
			{Path: "updatedAt", Value: cancelledAt},
		}); err != nil {
			return err
		}
		order.Status = domain.OrderStatusCancelled
		order.CancelledAt = &cancelledAt
		order.CancelReason = req.Reason
		order.UpdatedAt = cancelledAt
		cancelled = order
		return nil
	})
	if err != nil {
		return domain.Order{}, wrapStockError("orders.cancel", err)
	}
	return cancelled, nil
}

// SetPaymentState records the checkout handshake state.
func (r *OrderRepository) SetPaymentState(ctx context.Context, orderID string, state domain.PaymentState, updatedAt time.Time) error {
	if r == nil || r.orders == nil {
		return errors.New("order repository not initialised")
	}
	return r.orders.Update(ctx, orderID, []firestore.Update{
		{Path: "paymentState", Value: string(state)},
		{Path: "updatedAt", Value: updatedAt.UTC()},
	})
}

// ListByPaymentState returns orders in the given payment state last touched before the cutoff.
func (r *OrderRepository) ListByPaymentState(ctx context.Context, state domain.PaymentState, before time.Time, limit int) ([]domain.Order, error) {
	if r == nil || r.orders == nil {
		return nil, errors.New("order repository not initialised")
	}
	docs, err := r.orders.Find(ctx, func(q firestore.Query) firestore.Query {
		q = q.Where("paymentState", "==", string(state)).
			Where("updatedAt", "<", before.UTC()).
			OrderBy("updatedAt", firestore.Asc)
		if limit > 0 {
			q = q.Limit(limit)
		}
		return q
	})
	if err != nil {
		return nil, err
	}
	orders := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		orders = append(orders, doc.Data.toDomain(doc.ID))
	}
	return orders, nil
}

func (r *OrderRepository) txGetOrder(ctx context.Context, tx *firestore.Transaction, orderID string) (*firestore.DocumentRef, orderDocument, error) {
	ref, err := r.orders.Ref(ctx, orderID)
	if err != nil {
		return nil, orderDocument{}, err
	}
	snap, err := tx.Get(ref)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, orderDocument{}, repositories.NewStockError(repositories.StockErrorOrderNotFound, fmt.Sprintf("order %s not found", orderID), err)
		}
		return nil, orderDocument{}, err
	}
	var doc orderDocument
	if err := snap.DataTo(&doc); err != nil {
		return nil, orderDocument{}, fmt.Errorf("decode order %s: %w", orderID, err)
	}
	return ref, doc, nil
}

type orderDocument struct {
	ClientID      string              `firestore:"client"`
	Lines         []orderLineDocument `firestore:"products"`
	TotalMinor    int64               `firestore:"totalPriceMinor"`
	Currency      string              `firestore:"currency"`
	BranchID      string              `firestore:"branch"`
	Status        string              `firestore:"status"`
	PaymentState  string              `firestore:"paymentState"`
	PaymentMethod string              `firestore:"paymentMethod,omitempty"`
	IsPaid        bool                `firestore:"isPaid"`
	PaidAt        *time.Time          `firestore:"paidAt,omitempty"`
	DeliveryDate  *time.Time          `firestore:"deliveryDate,omitempty"`
	Notes         string              `firestore:"notes,omitempty"`
	CancelledAt   *time.Time          `firestore:"cancelledAt,omitempty"`
	CancelReason  string              `firestore:"cancelReason,omitempty"`
	CreatedAt     time.Time           `firestore:"createdAt"`
	UpdatedAt     time.Time           `firestore:"updatedAt"`
}

type orderLineDocument struct {
	ProductID  string `firestore:"product"`
	Quantity   int    `firestore:"quantity"`
	PriceMinor int64  `firestore:"priceMinor"`
}

func newOrderDocument(o domain.Order) orderDocument {
	lines := make([]orderLineDocument, 0, len(o.Lines))
	for _, line := range o.Lines {
		lines = append(lines, orderLineDocument{
			ProductID:  line.ProductID,
			Quantity:   line.Quantity,
			PriceMinor: toMinorUnits(line.Price),
		})
	}
	return orderDocument{
		ClientID:      o.ClientID,
		Lines:         lines,
		TotalMinor:    toMinorUnits(o.TotalPrice),
		Currency:      o.Currency,
		BranchID:      o.BranchID,
		Status:        string(o.Status),
		PaymentState:  string(o.PaymentState),
		PaymentMethod: o.PaymentMethod,
		IsPaid:        o.IsPaid,
		PaidAt:        utcPtr(o.PaidAt),
		DeliveryDate:  utcPtr(o.DeliveryDate),
		Notes:         o.Notes,
		CancelledAt:   utcPtr(o.CancelledAt),
		CancelReason:  o.CancelReason,
		CreatedAt:     o.CreatedAt.UTC(),
		UpdatedAt:     o.UpdatedAt.UTC(),
	}
}

func (d orderDocument) toDomain(id string) domain.Order {
	lines := make([]domain.OrderLine, 0, len(d.Lines))
	for _, line := range d.Lines {
		lines = append(lines, domain.OrderLine{
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			Price:     fromMinorUnits(line.PriceMinor),
		})
	}
	return domain.Order{
		ID:            id,
		ClientID:      d.ClientID,
		Lines:         lines,
		TotalPrice:    fromMinorUnits(d.TotalMinor),
		Currency:      d.Currency,
		BranchID:      d.BranchID,
		Status:        domain.OrderStatus(d.Status),
		PaymentState:  domain.PaymentState(d.PaymentState),
		PaymentMethod: d.PaymentMethod,
		IsPaid:        d.IsPaid,
		PaidAt:        utcPtr(d.PaidAt),
		DeliveryDate:  utcPtr(d.DeliveryDate),
		Notes:         d.Notes,
		CancelledAt:   utcPtr(d.CancelledAt),
		CancelReason:  d.CancelReason,
		CreatedAt:     d.CreatedAt.UTC(),
		UpdatedAt:     d.UpdatedAt.UTC(),
	}
}

func quantitiesByProduct(lines []domain.OrderLine) map[string]int {
	out := make(map[string]int, len(lines))
	for _, line := range lines {
		out[line.ProductID] += line.Quantity
	}
	return out
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}

func wrapStockError(op string, err error) error {
	if err == nil {
		return nil
	}
	var stockErr *repositories.StockError
	if errors.As(err, &stockErr) {
		if stockErr.Op == "" {
			stockErr.Op = op
		}
		return stockErr
	}
	return pfirestore.WrapError(op, err)
}
