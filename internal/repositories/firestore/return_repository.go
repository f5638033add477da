package firestore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/yusufarbc/nalburdeposu-pern-ecommerce-sub000/internal/domain"
	pfirestore "github.com/yusufarbc/nalburdeposu-pern-ecommerce-sub000/internal/platform/firestore"
	"github.com/yusufarbc/nalburdeposu-pern-ecommerce-sub000/internal/repositories"
)

const returnsSubcollection = "returns"

type returnDocument struct {
	Type          string     `firestore:"type"`
	Status        string     `firestore:"status"`
	Reason        string     `firestore:"reason"`
	PhotoRefs     []string   `firestore:"photoRefs,omitempty"`
	ReturnCode    *string    `firestore:"returnCode,omitempty"`
	Carrier       *string    `firestore:"carrier,omitempty"`
	DecisionNote  *string    `firestore:"decisionNote,omitempty"`
	RefundTxnID   *string    `firestore:"refundTxnId,omitempty"`
	RefundFailure *string    `firestore:"refundFailure,omitempty"`
	CreatedAt     time.Time  `firestore:"createdAt"`
	UpdatedAt     time.Time  `firestore:"updatedAt"`
	DecidedAt     *time.Time `firestore:"decidedAt,omitempty"`
	CompletedAt   *time.Time `firestore:"completedAt,omitempty"`
}

func encodeReturnDocument(ret domain.ReturnRequest) returnDocument {
	return returnDocument{
		Type:          string(ret.Type),
		Status:        string(ret.Status),
		Reason:        ret.Reason,
		PhotoRefs:     append([]string(nil), ret.PhotoRefs...),
		ReturnCode:    ret.ReturnCode,
		Carrier:       ret.Carrier,
		DecisionNote:  ret.DecisionNote,
		RefundTxnID:   ret.RefundTxnID,
		RefundFailure: ret.RefundFailure,
		CreatedAt:     ret.CreatedAt.UTC(),
		UpdatedAt:     ret.UpdatedAt.UTC(),
		DecidedAt:     ret.DecidedAt,
		CompletedAt:   ret.CompletedAt,
	}
}

func (d returnDocument) toDomain(orderID, id string) domain.ReturnRequest {
	return domain.ReturnRequest{
		ID:            id,
		OrderID:       orderID,
		Type:          domain.ReturnType(d.Type),
		Status:        domain.ReturnStatus(d.Status),
		Reason:        d.Reason,
		PhotoRefs:     append([]string(nil), d.PhotoRefs...),
		ReturnCode:    d.ReturnCode,
		Carrier:       d.Carrier,
		DecisionNote:  d.DecisionNote,
		RefundTxnID:   d.RefundTxnID,
		RefundFailure: d.RefundFailure,
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
		DecidedAt:     d.DecidedAt,
		CompletedAt:   d.CompletedAt,
	}
}

// ReturnRepository persists return requests underneath their parent order.
type ReturnRepository struct {
	provider *pfirestore.Provider
}

// NewReturnRepository constructs a Firestore-backed return repository.
func NewReturnRepository(provider *pfirestore.Provider) (*ReturnRepository, error) {
	if provider == nil {
		return nil, errors.New("return repository requires firestore provider")
	}
	return &ReturnRepository{provider: provider}, nil
}

func (r *ReturnRepository) docRef(ctx context.Context, orderID, returnID string) (*firestore.DocumentRef, error) {
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(ordersCollection).Doc(orderID).Collection(returnsSubcollection).Doc(returnID), nil
}

// Insert stores a new return request, failing when the ID already exists.
func (r *ReturnRepository) Insert(ctx context.Context, ret domain.ReturnRequest) error {
	orderID := strings.TrimSpace(ret.OrderID)
	returnID := strings.TrimSpace(ret.ID)
	if orderID == "" || returnID == "" {
		return errors.New("return repository: order id and return id are required")
	}
	ref, err := r.docRef(ctx, orderID, returnID)
	if err != nil {
		return err
	}
	doc := encodeReturnDocument(ret)
	if tx, ok := pfirestore.TxFromContext(ctx); ok {
		return pfirestore.WrapError("returns.insert", tx.Create(ref, doc))
	}
	if _, err := ref.Create(ctx, doc); err != nil {
		return pfirestore.WrapError("returns.insert", err)
	}
	return nil
}

// Update overwrites the return request document.
func (r *ReturnRepository) Update(ctx context.Context, ret domain.ReturnRequest) error {
	orderID := strings.TrimSpace(ret.OrderID)
	returnID := strings.TrimSpace(ret.ID)
	if orderID == "" || returnID == "" {
		return errors.New("return repository: order id and return id are required")
	}
	ref, err := r.docRef(ctx, orderID, returnID)
	if err != nil {
		return err
	}
	doc := encodeReturnDocument(ret)
	if tx, ok := pfirestore.TxFromContext(ctx); ok {
		return pfirestore.WrapError("returns.update", tx.Set(ref, doc))
	}
	if _, err := ref.Set(ctx, doc); err != nil {
		return pfirestore.WrapError("returns.update", err)
	}
	return nil
}

// FindByID loads a single return request for the order.
func (r *ReturnRepository) FindByID(ctx context.Context, orderID, returnID string) (domain.ReturnRequest, error) {
	orderID = strings.TrimSpace(orderID)
	returnID = strings.TrimSpace(returnID)
	if orderID == "" || returnID == "" {
		return domain.ReturnRequest{}, errors.New("return repository: order id and return id are required")
	}
	ref, err := r.docRef(ctx, orderID, returnID)
	if err != nil {
		return domain.ReturnRequest{}, err
	}

	var snap *firestore.DocumentSnapshot
	if tx, ok := pfirestore.TxFromContext(ctx); ok {
		snap, err = tx.Get(ref)
	} else {
		snap, err = ref.Get(ctx)
	}
	if err != nil {
		return domain.ReturnRequest{}, pfirestore.WrapError("returns.get", err)
	}
	var doc returnDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.ReturnRequest{}, fmt.Errorf("decode return %s: %w", snap.Ref.ID, err)
	}
	return doc.toDomain(orderID, snap.Ref.ID), nil
}

// ListByOrder returns every return request filed against the order, newest first.
func (r *ReturnRepository) ListByOrder(ctx context.Context, orderID string) ([]domain.ReturnRequest, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, errors.New("return repository: order id is required")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}

	query := client.Collection(ordersCollection).Doc(orderID).Collection(returnsSubcollection).
		OrderBy("createdAt", firestore.Desc)
	iter := query.Documents(ctx)
	defer iter.Stop()

	var returns []domain.ReturnRequest
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, pfirestore.WrapError("returns.list", err)
		}
		var doc returnDocument
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("decode return %s: %w", snap.Ref.ID, err)
		}
		returns = append(returns, doc.toDomain(orderID, snap.Ref.ID))
	}
	return returns, nil
}

// FindActiveByOrder reports the open return request for the order, if any. At most
// one return can be active at a time; if stale data ever yields several, the most
// recent one wins.
func (r *ReturnRepository) FindActiveByOrder(ctx context.Context, orderID string) (domain.ReturnRequest, bool, error) {
	returns, err := r.ListByOrder(ctx, orderID)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return domain.ReturnRequest{}, false, nil
		}
		if status.Code(err) == codes.NotFound {
			return domain.ReturnRequest{}, false, nil
		}
		return domain.ReturnRequest{}, false, err
	}

	var active []domain.ReturnRequest
	for _, ret := range returns {
		if ret.Status.IsActive() {
			active = append(active, ret)
		}
	}
	if len(active) == 0 {
		return domain.ReturnRequest{}, false, nil
	}
	sort.Slice(active, func(i, j int) bool {
		return active[i].CreatedAt.After(active[j].CreatedAt)
	})
	return active[0], true, nil
}

var _ repositories.ReturnRepository = (*ReturnRepository)(nil)
