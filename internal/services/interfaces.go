package services

import (
	"context"
	"time"

	domain "github.com/yusufarbc/nalburdeposu-pern-ecommerce-sub000/internal/domain"
	"github.com/yusufarbc/nalburdeposu-pern-ecommerce-sub000/internal/gateway"
	"github.com/yusufarbc/nalburdeposu-pern-ecommerce-sub000/internal/repositories"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination          = domain.Pagination
	SortOrder           = domain.SortOrder
	Order               = domain.Order
	OrderStatus         = domain.OrderStatus
	OrderTotals         = domain.OrderTotals
	OrderItem           = domain.OrderItem
	OrderHistoryEntry   = domain.OrderHistoryEntry
	PaymentInfo         = domain.PaymentInfo
	PaymentStatus       = domain.PaymentStatus
	Actor               = domain.Actor
	Address             = domain.Address
	CustomerSnapshot    = domain.CustomerSnapshot
	InvoiceSnapshot     = domain.InvoiceSnapshot
	InvoiceType         = domain.InvoiceType
	ReturnRequest       = domain.ReturnRequest
	ReturnStatus        = domain.ReturnStatus
	ReturnType          = domain.ReturnType
	Product             = domain.Product
	ShippingSettings    = domain.ShippingSettings
	ShippingTier        = domain.ShippingTier
	SystemHealthReport  = domain.SystemHealthReport
	SignedAssetResponse = domain.SignedAssetResponse
)

// OrderListFilter narrows staff-facing order listings.
type OrderListFilter = repositories.OrderListFilter

// CheckoutItem is the only thing the client may say about a line: which
// product and how many. Prices and weights are re-derived server side.
type CheckoutItem struct {
	ProductID string
	Quantity  int
}

// CreateOrderCommand captures a checkout submission.
type CreateOrderCommand struct {
	Customer CustomerSnapshot
	Shipping Address
	Invoice  *InvoiceSnapshot
	Items    []CheckoutItem
}

// CheckoutService turns a validated cart submission into a persisted order
// with authoritative totals and its opening history entry.
type CheckoutService interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error)
}

// ShippingCalculator quotes the shipping fee for a basket weight using the
// operator-managed tier table.
type ShippingCalculator interface {
	Quote(ctx context.Context, weightGrams int) (int64, error)
}

// InitiatePaymentCommand starts one 3D-Secure attempt for an order. Card data
// passes through to the gateway and is never retained.
type InitiatePaymentCommand struct {
	TrackingToken string
	Installments  int
	Card          gateway.Card
}

// PaymentService owns the payment leg of the order lifecycle.
type PaymentService interface {
	Initiate(ctx context.Context, cmd InitiatePaymentCommand) (gateway.RedirectForm, error)
	InstallmentOptions(ctx context.Context, trackingToken, bin string) ([]gateway.InstallmentOption, error)
	// HandleCallback ingests the bank's server callback; it is idempotent and
	// safe to invoke for both the success and the error leg.
	HandleCallback(ctx context.Context, result gateway.CallbackResult) (Order, error)
}

// TrackedOrder is the shopper-facing order view resolved from a tracking
// token. The shipping address is redacted to coarse locality fields, and the
// most recent return request rides along when one exists.
type TrackedOrder struct {
	Order   Order
	History []OrderHistoryEntry
	Return  *ReturnRequest
}

// OrderStatusTransitionCommand moves an order along its lifecycle.
type OrderStatusTransitionCommand struct {
	OrderID string
	Target  OrderStatus
	Actor   Actor
	Note    string
	// ExpectedStatus aborts with a conflict when the stored status moved on
	// since the caller last observed it.
	ExpectedStatus *OrderStatus
}

// ShipOrderCommand dispatches a prepared order with carrier details.
type ShipOrderCommand struct {
	OrderID        string
	Carrier        string
	TrackingCode   string
	Actor          Actor
	Note           string
	ExpectedStatus *OrderStatus
}

// CancelOrderCommand voids an order before fulfilment completes.
type CancelOrderCommand struct {
	OrderID        string
	Reason         string
	Actor          Actor
	ExpectedStatus *OrderStatus
}

// OrderService encapsulates lifecycle reads and transitions for orders.
type OrderService interface {
	Track(ctx context.Context, trackingToken string) (TrackedOrder, error)
	CancelByToken(ctx context.Context, trackingToken, reason string) (Order, error)

	Get(ctx context.Context, orderID string) (Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error)
	History(ctx context.Context, orderID string) ([]OrderHistoryEntry, error)
	Transition(ctx context.Context, cmd OrderStatusTransitionCommand) (Order, error)
	Ship(ctx context.Context, cmd ShipOrderCommand) (Order, error)
	Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error)
}

// CreateReturnCommand files a return request against a delivered order.
type CreateReturnCommand struct {
	TrackingToken string
	Type          ReturnType
	Reason        string
	PhotoRefs     []string
}

// ReturnDecisionCommand records a staff approve/reject decision.
type ReturnDecisionCommand struct {
	OrderID  string
	ReturnID string
	Actor    Actor
	Note     string
	Carrier  string
}

// CompleteReturnCommand closes an approved return once goods arrived back,
// triggering the refund.
type CompleteReturnCommand struct {
	OrderID  string
	ReturnID string
	Actor    Actor
}

// ReturnService manages the return-request workflow on top of delivered orders.
type ReturnService interface {
	Request(ctx context.Context, cmd CreateReturnCommand) (ReturnRequest, error)
	Approve(ctx context.Context, cmd ReturnDecisionCommand) (ReturnRequest, error)
	Reject(ctx context.Context, cmd ReturnDecisionCommand) (ReturnRequest, error)
	Complete(ctx context.Context, cmd CompleteReturnCommand) (ReturnRequest, error)
	ListByOrder(ctx context.Context, orderID string) ([]ReturnRequest, error)
	IssuePhotoUploadURL(ctx context.Context, trackingToken, fileName, contentType string) (SignedAssetResponse, error)
}

// SystemService surfaces operational health information.
type SystemService interface {
	Health(ctx context.Context) (SystemHealthReport, error)
	Readiness(ctx context.Context) error
}

// CounterService exposes administrative sequence management.
type CounterService interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
	Configure(ctx context.Context, counterID string, cfg repositories.CounterConfig) error
}

// OrderEvent describes a lifecycle notification published after commits.
type OrderEvent struct {
	Type           string
	OrderID        string
	OrderNumber    string
	PreviousStatus string
	CurrentStatus  string
	Actor          string
	OccurredAt     time.Time
	Metadata       map[string]any
}

// OrderEventPublisher accepts order lifecycle notifications for downstream
// processing (customer email, staff alerts). Publish failures are logged,
// never surfaced to shoppers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}
