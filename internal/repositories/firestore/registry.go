package firestore

import (
	"context"
	"errors"
	"fmt"

	pfirestore "github.com/solarshop/api/internal/platform/firestore"
	"github.com/solarshop/api/internal/repositories"
)

// Registry groups the Firestore-backed repositories over one shared provider.
type Registry struct {
	provider *pfirestore.Provider
	products *ProductRepository
	branches *BranchRepository
	users    *UserRepository
	orders   *OrderRepository
	health   repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry constructs every Firestore repository. health may be nil when readiness
// probes are not configured.
func NewRegistry(provider *pfirestore.Provider, health repositories.HealthRepository) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("firestore registry requires provider")
	}
	products, err := NewProductRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("products: %w", err)
	}
	branches, err := NewBranchRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("branches: %w", err)
	}
	users, err := NewUserRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("users: %w", err)
	}
	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("orders: %w", err)
	}
	return &Registry{
		provider: provider,
		products: products,
		branches: branches,
		users:    users,
		orders:   orders,
		health:   health,
	}, nil
}

// Close releases the Firestore client.
func (r *Registry) Close(ctx context.Context) error {
	if r == nil || r.provider == nil {
		return nil
	}
	return r.provider.Close(ctx)
}

func (r *Registry) Products() repositories.ProductRepository { return r.products }
func (r *Registry) Branches() repositories.BranchRepository  { return r.branches }
func (r *Registry) Users() repositories.UserRepository       { return r.users }
func (r *Registry) Orders() repositories.OrderRepository     { return r.orders }

// Health returns nil when no readiness probes were supplied.
func (r *Registry) Health() repositories.HealthRepository {
	if r == nil {
		return nil
	}
	return r.health
}
