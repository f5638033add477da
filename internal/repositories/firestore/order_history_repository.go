package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	domain "github.com/yusufarbc/nalburdeposu-pern-ecommerce-sub000/internal/domain"
	pfirestore "github.com/yusufarbc/nalburdeposu-pern-ecommerce-sub000/internal/platform/firestore"
	"github.com/yusufarbc/nalburdeposu-pern-ecommerce-sub000/internal/repositories"
)

const orderHistorySubcollection = "history"

type orderHistoryDocument struct {
	FromStatus string    `firestore:"fromStatus"`
	ToStatus   string    `firestore:"toStatus"`
	Actor      string    `firestore:"actor"`
	Note       string    `firestore:"note,omitempty"`
	CreatedAt  time.Time `firestore:"createdAt"`
}

func (d orderHistoryDocument) toDomain(orderID, id string) domain.OrderHistoryEntry {
	return domain.OrderHistoryEntry{
		ID:         id,
		OrderID:    orderID,
		FromStatus: domain.OrderStatus(d.FromStatus),
		ToStatus:   domain.OrderStatus(d.ToStatus),
		Actor:      domain.Actor(d.Actor),
		Note:       d.Note,
		CreatedAt:  d.CreatedAt,
	}
}

// OrderHistoryRepository stores the append-only transition trail under each order.
type OrderHistoryRepository struct {
	provider *pfirestore.Provider
}

// NewOrderHistoryRepository constructs a Firestore-backed history repository.
func NewOrderHistoryRepository(provider *pfirestore.Provider) (*OrderHistoryRepository, error) {
	if provider == nil {
		return nil, errors.New("order history repository requires firestore provider")
	}
	return &OrderHistoryRepository{provider: provider}, nil
}

// Append writes a new history entry. Entries are create-only; inside a unit of work
// the write joins the surrounding transaction with the order mutation.
func (r *OrderHistoryRepository) Append(ctx context.Context, entry domain.OrderHistoryEntry) error {
	orderID := strings.TrimSpace(entry.OrderID)
	if orderID == "" {
		return errors.New("order history repository: order id is required")
	}
	if strings.TrimSpace(entry.ID) == "" {
		return errors.New("order history repository: entry id is required")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return err
	}
	ref := client.Collection(ordersCollection).Doc(orderID).Collection(orderHistorySubcollection).Doc(entry.ID)
	doc := orderHistoryDocument{
		FromStatus: string(entry.FromStatus),
		ToStatus:   string(entry.ToStatus),
		Actor:      string(entry.Actor),
		Note:       entry.Note,
		CreatedAt:  entry.CreatedAt.UTC(),
	}

	if tx, ok := pfirestore.TxFromContext(ctx); ok {
		return pfirestore.WrapError("order_history.append", tx.Create(ref, doc))
	}
	if _, err := ref.Create(ctx, doc); err != nil {
		return pfirestore.WrapError("order_history.append", err)
	}
	return nil
}

// List returns the full trail for an order ordered oldest first.
func (r *OrderHistoryRepository) List(ctx context.Context, orderID string) ([]domain.OrderHistoryEntry, error) {
	id := strings.TrimSpace(orderID)
	if id == "" {
		return nil, errors.New("order history repository: order id is required")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	query := client.Collection(ordersCollection).Doc(id).Collection(orderHistorySubcollection).
		OrderBy("createdAt", firestore.Asc).
		OrderBy(firestore.DocumentID, firestore.Asc)

	iter := query.Documents(ctx)
	defer iter.Stop()

	var entries []domain.OrderHistoryEntry
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, pfirestore.WrapError("order_history.list", err)
		}
		var doc orderHistoryDocument
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("decode history entry %s: %w", snap.Ref.ID, err)
		}
		entries = append(entries, doc.toDomain(id, snap.Ref.ID))
	}
	return entries, nil
}

var _ repositories.OrderHistoryRepository = (*OrderHistoryRepository)(nil)
