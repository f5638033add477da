package firestore

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/yusufarbc/nalburdeposu-pern-ecommerce-sub000/internal/platform/firestore"
	"github.com/yusufarbc/nalburdeposu-pern-ecommerce-sub000/internal/repositories"
)

// Registry bundles the Firestore-backed repositories behind the repositories.Registry
// interface and owns the shared provider lifecycle.
type Registry struct {
	provider *pfirestore.Provider

	orders   *OrderRepository
	history  *OrderHistoryRepository
	returns  *ReturnRepository
	products *ProductRepository
	settings *SettingsRepository
	counters *CounterRepository
	health   repositories.HealthRepository
}

// NewRegistry constructs the full repository set against the shared provider.
func NewRegistry(provider *pfirestore.Provider, health repositories.HealthRepository) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("registry requires firestore provider")
	}

	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("build order repository: %w", err)
	}
	history, err := NewOrderHistoryRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("build order history repository: %w", err)
	}
	returns, err := NewReturnRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("build return repository: %w", err)
	}
	products, err := NewProductRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("build product repository: %w", err)
	}
	settings, err := NewSettingsRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("build settings repository: %w", err)
	}
	counters, err := NewCounterRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("build counter repository: %w", err)
	}

	return &Registry{
		provider: provider,
		orders:   orders,
		history:  history,
		returns:  returns,
		products: products,
		settings: settings,
		counters: counters,
		health:   health,
	}, nil
}

// Close releases the underlying Firestore client.
func (r *Registry) Close(ctx context.Context) error {
	if r == nil || r.provider == nil {
		return nil
	}
	return r.provider.Close(ctx)
}

func (r *Registry) Orders() repositories.OrderRepository              { return r.orders }
func (r *Registry) OrderHistory() repositories.OrderHistoryRepository { return r.history }
func (r *Registry) Returns() repositories.ReturnRepository            { return r.returns }
func (r *Registry) Products() repositories.ProductRepository          { return r.products }
func (r *Registry) Settings() repositories.SettingsRepository         { return r.settings }
func (r *Registry) Counters() repositories.CounterRepository          { return r.counters }
func (r *Registry) Health() repositories.HealthRepository             { return r.health }

// RunInTx executes fn inside a Firestore transaction. The transaction handle is
// stashed on the context so repository reads and writes made within fn join it,
// giving callers re-read-then-write semantics with automatic retry on contention.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if fn == nil {
		return errors.New("registry: transaction function is required")
	}
	return r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		return fn(pfirestore.ContextWithTx(ctx, tx))
	})
}

var _ repositories.Registry = (*Registry)(nil)
