// Package memory provides in-process repositories used for local development and tests.
// All repositories share one Store so order placement and stock updates stay atomic.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	domain "github.com/solarshop/api/internal/domain"
	"github.com/solarshop/api/internal/repositories"
)

// Store holds every collection behind a single lock.
type Store struct {
	mu       sync.RWMutex
	products map[string]domain.Product
	branches map[string]domain.Branch
	users    map[string]domain.User
	orders   map[string]domain.Order
	now      func() time.Time
}

// Option customises the Store.
type Option func(*Store)

// WithClock overrides the clock used for stock update timestamps.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) {
		if clock != nil {
			s.now = clock
		}
	}
}

// NewStore constructs an empty store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		products: make(map[string]domain.Product),
		branches: make(map[string]domain.Branch),
		users:    make(map[string]domain.User),
		orders:   make(map[string]domain.Order),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// PutProduct inserts or replaces a product.
func (s *Store) PutProduct(p domain.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[p.ID] = p
}

// PutBranch inserts or replaces a branch.
func (s *Store) PutBranch(b domain.Branch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.branches[b.ID] = b
}

// PutUser inserts or replaces a user.
func (s *Store) PutUser(u domain.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
}

// PutOrder inserts or replaces an order without touching stock.
func (s *Store) PutOrder(o domain.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[o.ID] = cloneOrder(o)
}

// Product returns the stored product, if present.
func (s *Store) Product(id string) (domain.Product, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.products[id]
	return p, ok
}

// OrderCount reports how many orders are stored.
func (s *Store) OrderCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.orders)
}

// Registry exposes the store through the repository contracts.
func (s *Store) Registry(health repositories.HealthRepository) repositories.Registry {
	return &registry{store: s, health: health}
}

type registry struct {
	store  *Store
	health repositories.HealthRepository
}

func (r *registry) Close(context.Context) error              { return nil }
func (r *registry) Products() repositories.ProductRepository { return productRepo{r.store} }
func (r *registry) Branches() repositories.BranchRepository  { return branchRepo{r.store} }
func (r *registry) Users() repositories.UserRepository       { return userRepo{r.store} }
func (r *registry) Orders() repositories.OrderRepository     { return orderRepo{r.store} }
func (r *registry) Health() repositories.HealthRepository    { return r.health }

type productRepo struct{ s *Store }

func (r productRepo) FindByIDs(ctx context.Context, ids []string) ([]domain.Product, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	seen := make(map[string]struct{}, len(ids))
	out := make([]domain.Product, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if p, ok := r.s.products[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

type branchRepo struct{ s *Store }

func (r branchRepo) FindByID(ctx context.Context, id string) (domain.Branch, error) {
	if err := ctx.Err(); err != nil {
		return domain.Branch{}, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	b, ok := r.s.branches[id]
	if !ok {
		return domain.Branch{}, notFound("branches.get", id)
	}
	return b, nil
}

func (r branchRepo) ListLocated(ctx context.Context) ([]domain.Branch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]domain.Branch, 0, len(r.s.branches))
	for _, b := range r.s.branches {
		if b.Location.Valid() {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type userRepo struct{ s *Store }

func (r userRepo) FindByID(ctx context.Context, id string) (domain.User, error) {
	if err := ctx.Err(); err != nil {
		return domain.User{}, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	u, ok := r.s.users[id]
	if !ok {
		return domain.User{}, notFound("users.get", id)
	}
	return u, nil
}

type orderRepo struct{ s *Store }

func (r orderRepo) PlaceOrder(ctx context.Context, req repositories.PlaceOrderRequest) (domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return domain.Order{}, err
	}
	if len(req.Quantities) == 0 {
		return domain.Order{}, errors.New("order place: at least one line is required")
	}
	if req.Compose == nil {
		return domain.Order{}, errors.New("order place: compose function is required")
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	ids := make([]string, 0, len(req.Quantities))
	for id := range req.Quantities {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	found := make(map[string]domain.Product, len(ids))
	for _, id := range ids {
		p, ok := r.s.products[id]
		if !ok {
			return domain.Order{}, stockError("orders.place", repositories.StockErrorProductNotFound, fmt.Sprintf("product %s not found", id), id)
		}
		if p.Stock < req.Quantities[id] {
			return domain.Order{}, stockError("orders.place", repositories.StockErrorInsufficient, fmt.Sprintf("Product %s out of stock", p.Name), id)
		}
		found[id] = p
	}

	order, err := req.Compose(found)
	if err != nil {
		return domain.Order{}, err
	}
	if strings.TrimSpace(order.ID) == "" {
		return domain.Order{}, errors.New("order place: composed order has no id")
	}
	if _, exists := r.s.orders[order.ID]; exists {
		return domain.Order{}, conflict("orders.place", order.ID)
	}

	now := r.s.now()
	for _, id := range ids {
		p := found[id]
		p.Stock -= req.Quantities[id]
		p.UpdatedAt = now
		r.s.products[id] = p
	}
	r.s.orders[order.ID] = cloneOrder(order)
	return cloneOrder(order), nil
}

func (r orderRepo) FindByID(ctx context.Context, id string) (domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return domain.Order{}, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	o, ok := r.s.orders[id]
	if !ok {
		return domain.Order{}, notFound("orders.get", id)
	}
	return cloneOrder(o), nil
}

func (r orderRepo) MarkPaid(ctx context.Context, req repositories.MarkPaidRequest) (repositories.MarkPaidResult, error) {
	if err := ctx.Err(); err != nil {
		return repositories.MarkPaidResult{}, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	o, ok := r.s.orders[req.OrderID]
	if !ok {
		return repositories.MarkPaidResult{}, stockError("orders.mark_paid", repositories.StockErrorOrderNotFound, fmt.Sprintf("order %s not found", req.OrderID), "")
	}
	switch {
	case o.Settled():
		return repositories.MarkPaidResult{Order: cloneOrder(o)}, nil
	case o.Status != domain.OrderStatusPending:
		return repositories.MarkPaidResult{}, stockError("orders.mark_paid", repositories.StockErrorInvalidOrderState, fmt.Sprintf("order %s is %s", o.ID, o.Status), "")
	}

	paidAt := req.PaidAt.UTC()
	o.Status = domain.OrderStatusPaid
	o.IsPaid = true
	o.PaidAt = &paidAt
	o.PaymentState = domain.PaymentStateSettled
	o.UpdatedAt = paidAt
	r.s.orders[o.ID] = o
	return repositories.MarkPaidResult{Order: cloneOrder(o), Changed: true}, nil
}

func (r orderRepo) Cancel(ctx context.Context, req repositories.CancelOrderRequest) (domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return domain.Order{}, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	o, ok := r.s.orders[req.OrderID]
	if !ok {
		return domain.Order{}, stockError("orders.cancel", repositories.StockErrorOrderNotFound, fmt.Sprintf("order %s not found", req.OrderID), "")
	}
	if req.Guard != nil {
		if err := req.Guard(cloneOrder(o)); err != nil {
			return domain.Order{}, err
		}
	}
	if !o.Cancellable() {
		return domain.Order{}, stockError("orders.cancel", repositories.StockErrorInvalidOrderState, fmt.Sprintf("order %s is %s", o.ID, o.Status), "")
	}

	cancelledAt := req.CancelledAt.UTC()
	for _, line := range o.Lines {
		p, ok := r.s.products[line.ProductID]
		if !ok {
			continue
		}
		p.Stock += line.Quantity
		p.UpdatedAt = cancelledAt
		r.s.products[p.ID] = p
	}
	o.Status = domain.OrderStatusCancelled
	o.CancelledAt = &cancelledAt
	o.CancelReason = req.Reason
	o.UpdatedAt = cancelledAt
	r.s.orders[o.ID] = o
	return cloneOrder(o), nil
}

func (r orderRepo) SetPaymentState(ctx context.Context, id string, state domain.PaymentState, updatedAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	o, ok := r.s.orders[id]
	if !ok {
		return notFound("orders.update", id)
	}
	o.PaymentState = state
	o.UpdatedAt = updatedAt.UTC()
	r.s.orders[id] = o
	return nil
}

func (r orderRepo) ListByPaymentState(ctx context.Context, state domain.PaymentState, before time.Time, limit int) ([]domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []domain.Order
	for _, o := range r.s.orders {
		if o.PaymentState == state && o.UpdatedAt.Before(before) {
			out = append(out, cloneOrder(o))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].UpdatedAt.Before(out[j].UpdatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func stockError(op string, code repositories.StockErrorCode, msg, productID string) error {
	err := repositories.NewStockError(code, msg, nil)
	err.Op = op
	if productID != "" {
		err.ForProduct(productID)
	}
	return err
}

func cloneOrder(o domain.Order) domain.Order {
	o.Lines = append([]domain.OrderLine(nil), o.Lines...)
	return o
}
