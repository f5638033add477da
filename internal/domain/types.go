package domain

import (
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// SortOrder indicates ascending or descending ordering for list queries.
type SortOrder string

const (
	// SortAsc sorts results in ascending order.
	SortAsc SortOrder = "asc"
	// SortDesc sorts results in descending order.
	SortDesc SortOrder = "desc"
)

// RangeQuery represents inclusive range filters for numeric or timestamp fields.
type RangeQuery[T comparable] struct {
	From *T
	To   *T
}

// OrderStatus enumerates valid lifecycle states for orders.
type OrderStatus string

const (
	// OrderStatusPendingPayment indicates the order awaits payment completion.
	OrderStatusPendingPayment OrderStatus = "pending_payment"
	// OrderStatusPreparing indicates payment succeeded and the warehouse is picking items.
	OrderStatusPreparing OrderStatus = "preparing"
	// OrderStatusShipped indicates the order has been handed to the carrier.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered indicates the carrier confirmed delivery.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCompleted indicates the return window elapsed and the order is closed.
	OrderStatusCompleted OrderStatus = "completed"
	// OrderStatusCanceled indicates the order was canceled before fulfilment finished.
	OrderStatusCanceled OrderStatus = "canceled"
	// OrderStatusRefunded indicates a completed return refunded the payment.
	OrderStatusRefunded OrderStatus = "refunded"
)

// IsTerminal reports whether no further lifecycle transition may leave the status.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusCanceled, OrderStatusCompleted, OrderStatusRefunded:
		return true
	}
	return false
}

// PaymentStatus tracks the collection state of the order's single payment.
type PaymentStatus string

const (
	// PaymentStatusPending indicates no gateway confirmation has arrived yet.
	PaymentStatusPending PaymentStatus = "pending"
	// PaymentStatusSucceeded indicates the gateway approved the charge.
	PaymentStatusSucceeded PaymentStatus = "succeeded"
	// PaymentStatusFailed indicates the last gateway attempt was declined.
	PaymentStatusFailed PaymentStatus = "failed"
	// PaymentStatusRefunded indicates the charge was returned to the customer.
	PaymentStatusRefunded PaymentStatus = "refunded"
)

// Actor identifies who performed a state-changing operation.
type Actor string

const (
	// ActorCustomer marks actions triggered through the shopper surface.
	ActorCustomer Actor = "customer"
	// ActorAdmin marks actions triggered by back-office staff.
	ActorAdmin Actor = "admin"
	// ActorSystem marks actions triggered by gateway callbacks or schedulers.
	ActorSystem Actor = "system"
)

// Order captures the order header shared across handlers, services, and repositories.
// Monetary amounts are kuruş (smallest TRY unit); weights are grams.
type Order struct {
	ID            string
	OrderNumber   string
	TrackingToken string
	Status        OrderStatus
	Customer      CustomerSnapshot
	Invoice       *InvoiceSnapshot
	ShippingAddr  Address
	Items         []OrderItem
	Totals        OrderTotals
	WeightGrams   int
	Payment       PaymentInfo
	Carrier       *string
	TrackingCode  *string
	CancelReason  *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	ShippedAt     *time.Time
	DeliveredAt   *time.Time
	CompletedAt   *time.Time
	CanceledAt    *time.Time
}

// OrderTotals holds the rolled-up monetary fields fixed at creation time.
// Total always equals Subtotal + Shipping.
type OrderTotals struct {
	Subtotal int64
	Shipping int64
	Total    int64
}

// OrderItem freezes the catalog snapshot of a purchased line.
type OrderItem struct {
	ProductRef      string
	SKU             string
	Name            string
	Quantity        int
	UnitPrice       int64
	UnitWeightGrams int
	LineTotal       int64
}

// CustomerSnapshot stores buyer contact details copied onto the order at checkout.
type CustomerSnapshot struct {
	FullName string
	Email    string
	Phone    string
}

// InvoiceType distinguishes individual and corporate billing.
type InvoiceType string

const (
	// InvoiceTypeIndividual bills a private person.
	InvoiceTypeIndividual InvoiceType = "individual"
	// InvoiceTypeCorporate bills a company and requires tax fields.
	InvoiceTypeCorporate InvoiceType = "corporate"
)

// InvoiceSnapshot stores billing details copied onto the order at checkout.
type InvoiceSnapshot struct {
	Type        InvoiceType
	CompanyName string
	TaxOffice   string
	TaxNumber   string
}

// Address represents the postal shipping address captured at checkout.
type Address struct {
	Recipient  string
	Line1      string
	Line2      *string
	District   string
	City       string
	PostalCode string
	Country    string
	Phone      *string
}

// PaymentInfo tracks the gateway payment attached to an order.
type PaymentInfo struct {
	Status           PaymentStatus
	GatewayTxnID     *string
	InstallmentCount int
	CardBrand        string
	FailureCode      *string
	PaidAt           *time.Time
	RefundedAt       *time.Time
}

// OrderHistoryEntry is an append-only record of a single status transition.
type OrderHistoryEntry struct {
	ID         string
	OrderID    string
	FromStatus OrderStatus
	ToStatus   OrderStatus
	Actor      Actor
	Note       string
	CreatedAt  time.Time
}

// ReturnStatus enumerates return-request workflow states.
type ReturnStatus string

const (
	// ReturnStatusPendingApproval indicates the request awaits a staff decision.
	ReturnStatusPendingApproval ReturnStatus = "pending_approval"
	// ReturnStatusAwaitingShipment indicates the customer must ship items back.
	ReturnStatusAwaitingShipment ReturnStatus = "awaiting_customer_shipment"
	// ReturnStatusCompleted indicates goods were received and the refund settled.
	ReturnStatusCompleted ReturnStatus = "completed"
	// ReturnStatusRejected indicates staff declined the request; it may be re-approved.
	ReturnStatusRejected ReturnStatus = "rejected"
)

// IsActive reports whether the return still occupies the order's single active slot.
func (s ReturnStatus) IsActive() bool {
	switch s {
	case ReturnStatusPendingApproval, ReturnStatusAwaitingShipment:
		return true
	}
	return false
}

// ReturnType distinguishes defect claims from voluntary returns.
type ReturnType string

const (
	// ReturnTypeDefective covers damaged or faulty goods.
	ReturnTypeDefective ReturnType = "defective"
	// ReturnTypeVoluntary covers change-of-mind returns inside the legal window.
	ReturnTypeVoluntary ReturnType = "voluntary"
)

// ReturnRequest tracks a customer's request to send an order back.
type ReturnRequest struct {
	ID            string
	OrderID       string
	Type          ReturnType
	Status        ReturnStatus
	Reason        string
	PhotoRefs     []string
	ReturnCode    *string
	Carrier       *string
	DecisionNote  *string
	RefundTxnID   *string
	RefundFailure *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	DecidedAt     *time.Time
	CompletedAt   *time.Time
}

// ShippingTier maps an inclusive weight ceiling to a flat fee.
type ShippingTier struct {
	MaxWeightGrams int
	Price          int64
}

// ShippingSettings is the operator-editable fee table loaded per quote.
type ShippingSettings struct {
	Tiers []ShippingTier
	// OverflowRatePerKg extends the last tier for heavier parcels; weights are
	// rounded up to whole kilograms beyond the last ceiling.
	OverflowRatePerKg int64
	// FreeShippingThreshold is parsed for forward compatibility but not applied.
	FreeShippingThreshold *int64
	UpdatedAt             time.Time
}

// Product is the catalog read model used to re-derive authoritative prices at checkout.
type Product struct {
	ID          string
	SKU         string
	Name        string
	Price       int64
	WeightGrams int
	Active      bool
	Stock       int
}

const (
	// HealthStatusOK indicates all dependencies are healthy.
	HealthStatusOK = "ok"
	// HealthStatusDegraded indicates at least one dependency is degraded but service remains running.
	HealthStatusDegraded = "degraded"
	// HealthStatusError indicates the service or a critical dependency is unavailable.
	HealthStatusError = "error"
)

// SystemHealthCheck describes the outcome of an individual dependency check.
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

// SignedAssetResponse returns signed URL payloads for upload/download flows.
type SignedAssetResponse struct {
	AssetID   string
	URL       string
	ExpiresAt time.Time
	Method    string
	Headers   map[string]string
}

// CursorPage packages list results with an encoded next token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}
