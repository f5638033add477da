package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/yusufarbc/nalburdeposu-pern-ecommerce-sub000/internal/domain"
	pfirestore "github.com/yusufarbc/nalburdeposu-pern-ecommerce-sub000/internal/platform/firestore"
	"github.com/yusufarbc/nalburdeposu-pern-ecommerce-sub000/internal/platform/pagination"
	"github.com/yusufarbc/nalburdeposu-pern-ecommerce-sub000/internal/repositories"
)

const (
	ordersCollection     = "orders"
	defaultOrderPageSize = 20
	maxOrderPageSize     = 100
)

// OrderRepository persists order headers in the orders collection.
type OrderRepository struct {
	provider *pfirestore.Provider
	orders   *pfirestore.BaseRepository[orderDocument]
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection)
	return &OrderRepository{provider: provider, orders: base}, nil
}

// Insert stores a new order document, failing when the ID already exists.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	ref, err := r.orders.DocumentRef(ctx, strings.TrimSpace(order.ID))
	if err != nil {
		return err
	}
	doc := encodeOrderDocument(order)
	if tx, ok := pfirestore.TxFromContext(ctx); ok {
		return pfirestore.WrapError("orders.insert", tx.Create(ref, doc))
	}
	if _, err := ref.Create(ctx, doc); err != nil {
		return pfirestore.WrapError("orders.insert", err)
	}
	return nil
}

// Update overwrites the order document. Inside a unit of work the write joins the
// surrounding transaction so the caller's re-read guard holds.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order) error {
	ref, err := r.orders.DocumentRef(ctx, strings.TrimSpace(order.ID))
	if err != nil {
		return err
	}
	doc := encodeOrderDocument(order)
	if tx, ok := pfirestore.TxFromContext(ctx); ok {
		return pfirestore.WrapError("orders.update", tx.Set(ref, doc))
	}
	if _, err := ref.Set(ctx, doc); err != nil {
		return pfirestore.WrapError("orders.update", err)
	}
	return nil
}

// FindByID loads the order identified by orderID.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	id := strings.TrimSpace(orderID)
	if id == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}
	ref, err := r.orders.DocumentRef(ctx, id)
	if err != nil {
		return domain.Order{}, err
	}

	var snap *firestore.DocumentSnapshot
	if tx, ok := pfirestore.TxFromContext(ctx); ok {
		snap, err = tx.Get(ref)
	} else {
		snap, err = ref.Get(ctx)
	}
	if err != nil {
		return domain.Order{}, pfirestore.WrapError("orders.get", err)
	}
	return decodeOrderSnapshot(snap)
}

// FindByTrackingToken resolves the guest capability token to its order.
func (r *OrderRepository) FindByTrackingToken(ctx context.Context, token string) (domain.Order, error) {
	return r.findByField(ctx, "trackingToken", strings.TrimSpace(token), "orders.get_by_token")
}

// FindByOrderNumber resolves the human-facing order number to its order.
func (r *OrderRepository) FindByOrderNumber(ctx context.Context, orderNumber string) (domain.Order, error) {
	return r.findByField(ctx, "orderNumber", strings.TrimSpace(orderNumber), "orders.get_by_number")
}

func (r *OrderRepository) findByField(ctx context.Context, field, value, op string) (domain.Order, error) {
	if value == "" {
		return domain.Order{}, pfirestore.WrapError(op, status.Error(codes.NotFound, field+" is required"))
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.Order{}, err
	}

	query := client.Collection(ordersCollection).Where(field, "==", value).Limit(1)
	iter := query.Documents(ctx)
	defer iter.Stop()

	snap, err := iter.Next()
	if errors.Is(err, iterator.Done) {
		return domain.Order{}, pfirestore.WrapError(op, status.Error(codes.NotFound, "order not found"))
	}
	if err != nil {
		return domain.Order{}, pfirestore.WrapError(op, err)
	}
	return decodeOrderSnapshot(snap)
}

// List returns orders ordered by creation time descending with cursor pagination.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	pageSize := filter.Pagination.PageSize
	switch {
	case pageSize <= 0:
		pageSize = defaultOrderPageSize
	case pageSize > maxOrderPageSize:
		pageSize = maxOrderPageSize
	}

	query := client.Collection(ordersCollection).Query
	if len(filter.Status) == 1 {
		query = query.Where("status", "==", strings.TrimSpace(filter.Status[0]))
	} else if len(filter.Status) > 1 {
		statuses := make([]string, 0, len(filter.Status))
		for _, s := range filter.Status {
			if trimmed := strings.TrimSpace(s); trimmed != "" {
				statuses = append(statuses, trimmed)
			}
		}
		query = query.Where("status", "in", statuses)
	}
	if filter.DateRange.From != nil {
		query = query.Where("createdAt", ">=", filter.DateRange.From.UTC())
	}
	if filter.DateRange.To != nil {
		query = query.Where("createdAt", "<=", filter.DateRange.To.UTC())
	}
	query = query.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Asc)

	cursor, err := pagination.DecodeToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}
	if len(cursor.StartAfter) > 0 {
		query = query.StartAfter(cursor.StartAfter...)
	}
	query = query.Limit(pageSize + 1)

	iter := query.Documents(ctx)
	defer iter.Stop()

	var (
		orders   []domain.Order
		lastSnap *firestore.DocumentSnapshot
	)
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.list", err)
		}
		if len(orders) == pageSize {
			// Extra document only signals another page exists.
			break
		}
		order, err := decodeOrderSnapshot(snap)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
		orders = append(orders, order)
		lastSnap = snap
	}

	page := domain.CursorPage[domain.Order]{Items: orders}
	if len(orders) == pageSize && lastSnap != nil {
		token, err := pagination.EncodeToken(pagination.Cursor{
			StartAfter: []any{lastSnap.Data()["createdAt"], lastSnap.Ref.ID},
		})
		if err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
		page.NextPageToken = token
	}
	return page, nil
}

func decodeOrderSnapshot(snap *firestore.DocumentSnapshot) (domain.Order, error) {
	var doc orderDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.Order{}, fmt.Errorf("decode order %s: %w", snap.Ref.ID, err)
	}
	return doc.toDomain(snap.Ref.ID), nil
}

type orderDocument struct {
	OrderNumber   string              `firestore:"orderNumber"`
	TrackingToken string              `firestore:"trackingToken"`
	Status        string              `firestore:"status"`
	Customer      customerDocument    `firestore:"customer"`
	Invoice       *invoiceDocument    `firestore:"invoice,omitempty"`
	ShippingAddr  addressDocument     `firestore:"shippingAddress"`
	Items         []orderItemDocument `firestore:"items"`
	Subtotal      int64               `firestore:"subtotal"`
	ShippingFee   int64               `firestore:"shippingFee"`
	Total         int64               `firestore:"total"`
	WeightGrams   int                 `firestore:"weightGrams"`
	Payment       paymentDocument     `firestore:"payment"`
	Carrier       *string             `firestore:"carrier,omitempty"`
	TrackingCode  *string             `firestore:"trackingCode,omitempty"`
	CancelReason  *string             `firestore:"cancelReason,omitempty"`
	CreatedAt     time.Time           `firestore:"createdAt"`
	UpdatedAt     time.Time           `firestore:"updatedAt"`
	ShippedAt     *time.Time          `firestore:"shippedAt,omitempty"`
	DeliveredAt   *time.Time          `firestore:"deliveredAt,omitempty"`
	CompletedAt   *time.Time          `firestore:"completedAt,omitempty"`
	CanceledAt    *time.Time          `firestore:"canceledAt,omitempty"`
}

type customerDocument struct {
	FullName string `firestore:"fullName"`
	Email    string `firestore:"email"`
	Phone    string `firestore:"phone"`
}

type invoiceDocument struct {
	Type        string `firestore:"type"`
	CompanyName string `firestore:"companyName,omitempty"`
	TaxOffice   string `firestore:"taxOffice,omitempty"`
	TaxNumber   string `firestore:"taxNumber,omitempty"`
}

type addressDocument struct {
	Recipient  string  `firestore:"recipient"`
	Line1      string  `firestore:"line1"`
	Line2      *string `firestore:"line2,omitempty"`
	District   string  `firestore:"district"`
	City       string  `firestore:"city"`
	PostalCode string  `firestore:"postalCode"`
	Country    string  `firestore:"country"`
	Phone      *string `firestore:"phone,omitempty"`
}

type orderItemDocument struct {
	ProductRef      string `firestore:"productRef"`
	SKU             string `firestore:"sku"`
	Name            string `firestore:"name"`
	Quantity        int    `firestore:"quantity"`
	UnitPrice       int64  `firestore:"unitPrice"`
	UnitWeightGrams int    `firestore:"unitWeightGrams"`
	LineTotal       int64  `firestore:"lineTotal"`
}

type paymentDocument struct {
	Status           string     `firestore:"status"`
	GatewayTxnID     *string    `firestore:"gatewayTxnId,omitempty"`
	InstallmentCount int        `firestore:"installmentCount"`
	CardBrand        string     `firestore:"cardBrand,omitempty"`
	FailureCode      *string    `firestore:"failureCode,omitempty"`
	PaidAt           *time.Time `firestore:"paidAt,omitempty"`
	RefundedAt       *time.Time `firestore:"refundedAt,omitempty"`
}

func encodeOrderDocument(order domain.Order) orderDocument {
	doc := orderDocument{
		OrderNumber:   strings.TrimSpace(order.OrderNumber),
		TrackingToken: strings.TrimSpace(order.TrackingToken),
		Status:        string(order.Status),
		Customer: customerDocument{
			FullName: order.Customer.FullName,
			Email:    order.Customer.Email,
			Phone:    order.Customer.Phone,
		},
		ShippingAddr: addressDocument{
			Recipient:  order.ShippingAddr.Recipient,
			Line1:      order.ShippingAddr.Line1,
			Line2:      order.ShippingAddr.Line2,
			District:   order.ShippingAddr.District,
			City:       order.ShippingAddr.City,
			PostalCode: order.ShippingAddr.PostalCode,
			Country:    order.ShippingAddr.Country,
			Phone:      order.ShippingAddr.Phone,
		},
		Subtotal:     order.Totals.Subtotal,
		ShippingFee:  order.Totals.Shipping,
		Total:        order.Totals.Total,
		WeightGrams:  order.WeightGrams,
		Carrier:      order.Carrier,
		TrackingCode: order.TrackingCode,
		CancelReason: order.CancelReason,
		Payment: paymentDocument{
			Status:           string(order.Payment.Status),
			GatewayTxnID:     order.Payment.GatewayTxnID,
			InstallmentCount: order.Payment.InstallmentCount,
			CardBrand:        order.Payment.CardBrand,
			FailureCode:      order.Payment.FailureCode,
			PaidAt:           order.Payment.PaidAt,
			RefundedAt:       order.Payment.RefundedAt,
		},
		CreatedAt:   order.CreatedAt.UTC(),
		UpdatedAt:   order.UpdatedAt.UTC(),
		ShippedAt:   order.ShippedAt,
		DeliveredAt: order.DeliveredAt,
		CompletedAt: order.CompletedAt,
		CanceledAt:  order.CanceledAt,
	}
	if order.Invoice != nil {
		doc.Invoice = &invoiceDocument{
			Type:        string(order.Invoice.Type),
			CompanyName: order.Invoice.CompanyName,
			TaxOffice:   order.Invoice.TaxOffice,
			TaxNumber:   order.Invoice.TaxNumber,
		}
	}
	doc.Items = make([]orderItemDocument, 0, len(order.Items))
	for _, item := range order.Items {
		doc.Items = append(doc.Items, orderItemDocument{
			ProductRef:      item.ProductRef,
			SKU:             item.SKU,
			Name:            item.Name,
			Quantity:        item.Quantity,
			UnitPrice:       item.UnitPrice,
			UnitWeightGrams: item.UnitWeightGrams,
			LineTotal:       item.LineTotal,
		})
	}
	return doc
}

func (d orderDocument) toDomain(id string) domain.Order {
	order := domain.Order{
		ID:            id,
		OrderNumber:   d.OrderNumber,
		TrackingToken: d.TrackingToken,
		Status:        domain.OrderStatus(d.Status),
		Customer: domain.CustomerSnapshot{
			FullName: d.Customer.FullName,
			Email:    d.Customer.Email,
			Phone:    d.Customer.Phone,
		},
		ShippingAddr: domain.Address{
			Recipient:  d.ShippingAddr.Recipient,
			Line1:      d.ShippingAddr.Line1,
			Line2:      d.ShippingAddr.Line2,
			District:   d.ShippingAddr.District,
			City:       d.ShippingAddr.City,
			PostalCode: d.ShippingAddr.PostalCode,
			Country:    d.ShippingAddr.Country,
			Phone:      d.ShippingAddr.Phone,
		},
		Totals: domain.OrderTotals{
			Subtotal: d.Subtotal,
			Shipping: d.ShippingFee,
			Total:    d.Total,
		},
		WeightGrams:  d.WeightGrams,
		Carrier:      d.Carrier,
		TrackingCode: d.TrackingCode,
		CancelReason: d.CancelReason,
		Payment: domain.PaymentInfo{
			Status:           domain.PaymentStatus(d.Payment.Status),
			GatewayTxnID:     d.Payment.GatewayTxnID,
			InstallmentCount: d.Payment.InstallmentCount,
			CardBrand:        d.Payment.CardBrand,
			FailureCode:      d.Payment.FailureCode,
			PaidAt:           d.Payment.PaidAt,
			RefundedAt:       d.Payment.RefundedAt,
		},
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
		ShippedAt:   d.ShippedAt,
		DeliveredAt: d.DeliveredAt,
		CompletedAt: d.CompletedAt,
		CanceledAt:  d.CanceledAt,
	}
	if d.Invoice != nil {
		order.Invoice = &domain.InvoiceSnapshot{
			Type:        domain.InvoiceType(d.Invoice.Type),
			CompanyName: d.Invoice.CompanyName,
			TaxOffice:   d.Invoice.TaxOffice,
			TaxNumber:   d.Invoice.TaxNumber,
		}
	}
	order.Items = make([]domain.OrderItem, 0, len(d.Items))
	for _, item := range d.Items {
		order.Items = append(order.Items, domain.OrderItem{
			ProductRef:      item.ProductRef,
			SKU:             item.SKU,
			Name:            item.Name,
			Quantity:        item.Quantity,
			UnitPrice:       item.UnitPrice,
			UnitWeightGrams: item.UnitWeightGrams,
			LineTotal:       item.LineTotal,
		})
	}
	return order
}

// Ensure interface compliance.
var _ repositories.OrderRepository = (*OrderRepository)(nil)
