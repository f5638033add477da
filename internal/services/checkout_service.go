package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/yusufarbc/nalburdeposu-pern-ecommerce-sub000/internal/domain"
	"github.com/yusufarbc/nalburdeposu-pern-ecommerce-sub000/internal/repositories"
)

const (
	orderIDPrefix        = "ord_"
	historyEntryIDPrefix = "hist_"

	maxCheckoutLineQuantity = 999
	trackingTokenBytes      = 24
)

var (
	// ErrCheckoutInvalidInput signals the submission failed validation.
	ErrCheckoutInvalidInput = errors.New("checkout: invalid input")
	// ErrCheckoutProductUnavailable indicates a referenced product is missing or inactive.
	ErrCheckoutProductUnavailable = errors.New("checkout: product unavailable")
)

// CheckoutServiceDeps bundles collaborators required to construct the checkout service.
type CheckoutServiceDeps struct {
	Orders      repositories.OrderRepository
	History     repositories.OrderHistoryRepository
	Products    repositories.ProductRepository
	Counters    repositories.CounterRepository
	Shipping    ShippingCalculator
	UnitOfWork  repositories.UnitOfWork
	Clock       func() time.Time
	IDGenerator func() string
	// TokenGenerator mints the guest tracking token; defaults to crypto/rand.
	TokenGenerator func() string
	Events         OrderEventPublisher
	Logger         func(ctx context.Context, event string, fields map[string]any)
}

type checkoutService struct {
	orders     repositories.OrderRepository
	history    repositories.OrderHistoryRepository
	products   repositories.ProductRepository
	counters   repositories.CounterRepository
	shipping   ShippingCalculator
	unitOfWork repositories.UnitOfWork
	clock      func() time.Time
	newID      func() string
	newToken   func() string
	events     OrderEventPublisher
	logger     func(context.Context, string, map[string]any)
}

// NewCheckoutService wires dependencies into a concrete CheckoutService implementation.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	if deps.Orders == nil {
		return nil, errors.New("checkout service: order repository is required")
	}
	if deps.History == nil {
		return nil, errors.New("checkout service: history repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("checkout service: product repository is required")
	}
	if deps.Counters == nil {
		return nil, errors.New("checkout service: counter repository is required")
	}
	if deps.Shipping == nil {
		return nil, errors.New("checkout service: shipping calculator is required")
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	tokenGen := deps.TokenGenerator
	if tokenGen == nil {
		tokenGen = randomTrackingToken
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &checkoutService{
		orders:     deps.Orders,
		history:    deps.History,
		products:   deps.Products,
		counters:   deps.Counters,
		shipping:   deps.Shipping,
		unitOfWork: unit,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:    idGen,
		newToken: tokenGen,
		events:   deps.Events,
		logger:   logger,
	}, nil
}

// CreateOrder validates the submission, re-derives every amount from the
// catalog, and persists the order together with its opening history entry.
func (s *checkoutService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error) {
	if err := validateCheckoutCommand(cmd); err != nil {
		return Order{}, err
	}

	quantities, orderedIDs := consolidateCheckoutItems(cmd.Items)

	catalog, err := s.products.FindByIDs(ctx, orderedIDs)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	items := make([]domain.OrderItem, 0, len(orderedIDs))
	var subtotal int64
	var weightGrams int
	for _, productID := range orderedIDs {
		product, ok := catalog[productID]
		if !ok || !product.Active {
			return Order{}, fmt.Errorf("%w: product %q", ErrCheckoutProductUnavailable, productID)
		}
		qty := quantities[productID]
		lineTotal := product.Price * int64(qty)
		items = append(items, domain.OrderItem{
			ProductRef:      product.ID,
			SKU:             product.SKU,
			Name:            product.Name,
			Quantity:        qty,
			UnitPrice:       product.Price,
			UnitWeightGrams: product.WeightGrams,
			LineTotal:       lineTotal,
		})
		subtotal += lineTotal
		weightGrams += product.WeightGrams * qty
	}

	shippingFee, err := s.shipping.Quote(ctx, weightGrams)
	if err != nil {
		if errors.Is(err, ErrShippingInvalidInput) {
			return Order{}, fmt.Errorf("%w: %v", ErrCheckoutInvalidInput, err)
		}
		return Order{}, err
	}

	now := s.now()
	orderNumber, err := s.generateOrderNumber(ctx, now)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	order := domain.Order{
		ID:            orderIDPrefix + s.newID(),
		OrderNumber:   orderNumber,
		TrackingToken: s.newToken(),
		Status:        domain.OrderStatusPendingPayment,
		Customer:      normalizeCustomer(cmd.Customer),
		Invoice:       cloneInvoice(cmd.Invoice),
		ShippingAddr:  normalizeAddress(cmd.Shipping),
		Items:         items,
		Totals: domain.OrderTotals{
			Subtotal: subtotal,
			Shipping: shippingFee,
			Total:    subtotal + shippingFee,
		},
		WeightGrams: weightGrams,
		Payment:     domain.PaymentInfo{Status: domain.PaymentStatusPending},
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	entry := domain.OrderHistoryEntry{
		ID:         historyEntryIDPrefix + s.newID(),
		OrderID:    order.ID,
		FromStatus: "",
		ToStatus:   domain.OrderStatusPendingPayment,
		Actor:      domain.ActorCustomer,
		Note:       "order placed",
		CreatedAt:  now,
	}

	err = s.runInTx(ctx, func(txCtx context.Context) error {
		if err := s.orders.Insert(txCtx, order); err != nil {
			return err
		}
		return s.history.Append(txCtx, entry)
	})
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	s.logger(ctx, "checkout.order.created", map[string]any{
		"orderId":     order.ID,
		"orderNumber": order.OrderNumber,
		"total":       order.Totals.Total,
		"weightGrams": order.WeightGrams,
	})
	s.publishEvent(ctx, OrderEvent{
		Type:          "order.created",
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		CurrentStatus: string(order.Status),
		Actor:         string(domain.ActorCustomer),
		OccurredAt:    now,
	})

	return order, nil
}

func validateCheckoutCommand(cmd CreateOrderCommand) error {
	if len(cmd.Items) == 0 {
		return fmt.Errorf("%w: cart must contain at least one item", ErrCheckoutInvalidInput)
	}
	for _, item := range cmd.Items {
		if strings.TrimSpace(item.ProductID) == "" {
			return fmt.Errorf("%w: product id is required", ErrCheckoutInvalidInput)
		}
		if item.Quantity < 1 || item.Quantity > maxCheckoutLineQuantity {
			return fmt.Errorf("%w: quantity for %q must be between 1 and %d", ErrCheckoutInvalidInput, item.ProductID, maxCheckoutLineQuantity)
		}
	}

	if strings.TrimSpace(cmd.Customer.FullName) == "" {
		return fmt.Errorf("%w: customer name is required", ErrCheckoutInvalidInput)
	}
	email := strings.TrimSpace(cmd.Customer.Email)
	if email == "" {
		return fmt.Errorf("%w: customer email is required", ErrCheckoutInvalidInput)
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return fmt.Errorf("%w: customer email is malformed", ErrCheckoutInvalidInput)
	}
	if strings.TrimSpace(cmd.Customer.Phone) == "" {
		return fmt.Errorf("%w: customer phone is required", ErrCheckoutInvalidInput)
	}

	addr := cmd.Shipping
	switch {
	case strings.TrimSpace(addr.Recipient) == "":
		return fmt.Errorf("%w: shipping recipient is required", ErrCheckoutInvalidInput)
	case strings.TrimSpace(addr.Line1) == "":
		return fmt.Errorf("%w: shipping address line is required", ErrCheckoutInvalidInput)
	case strings.TrimSpace(addr.District) == "":
		return fmt.Errorf("%w: shipping district is required", ErrCheckoutInvalidInput)
	case strings.TrimSpace(addr.City) == "":
		return fmt.Errorf("%w: shipping city is required", ErrCheckoutInvalidInput)
	}

	if cmd.Invoice != nil && cmd.Invoice.Type == domain.InvoiceTypeCorporate {
		switch {
		case strings.TrimSpace(cmd.Invoice.CompanyName) == "":
			return fmt.Errorf("%w: corporate invoice requires company name", ErrCheckoutInvalidInput)
		case strings.TrimSpace(cmd.Invoice.TaxOffice) == "":
			return fmt.Errorf("%w: corporate invoice requires tax office", ErrCheckoutInvalidInput)
		case strings.TrimSpace(cmd.Invoice.TaxNumber) == "":
			return fmt.Errorf("%w: corporate invoice requires tax number", ErrCheckoutInvalidInput)
		}
	}

	return nil
}

// consolidateCheckoutItems merges duplicate product lines while preserving the
// order in which products first appeared.
func consolidateCheckoutItems(items []CheckoutItem) (map[string]int, []string) {
	quantities := make(map[string]int, len(items))
	ordered := make([]string, 0, len(items))
	for _, item := range items {
		id := strings.TrimSpace(item.ProductID)
		if _, seen := quantities[id]; !seen {
			ordered = append(ordered, id)
		}
		quantities[id] += item.Quantity
	}
	return quantities, ordered
}

func normalizeCustomer(c CustomerSnapshot) domain.CustomerSnapshot {
	return domain.CustomerSnapshot{
		FullName: strings.TrimSpace(c.FullName),
		Email:    strings.ToLower(strings.TrimSpace(c.Email)),
		Phone:    strings.TrimSpace(c.Phone),
	}
}

func normalizeAddress(a Address) domain.Address {
	country := strings.ToUpper(strings.TrimSpace(a.Country))
	if country == "" {
		country = "TR"
	}
	return domain.Address{
		Recipient:  strings.TrimSpace(a.Recipient),
		Line1:      strings.TrimSpace(a.Line1),
		Line2:      cloneStringPtr(a.Line2),
		District:   strings.TrimSpace(a.District),
		City:       strings.TrimSpace(a.City),
		PostalCode: strings.TrimSpace(a.PostalCode),
		Country:    country,
		Phone:      cloneStringPtr(a.Phone),
	}
}

func cloneInvoice(invoice *InvoiceSnapshot) *domain.InvoiceSnapshot {
	if invoice == nil {
		return nil
	}
	cloned := *invoice
	return &cloned
}

func (s *checkoutService) generateOrderNumber(ctx context.Context, now time.Time) (string, error) {
	seq, err := s.counters.Next(ctx, "orders", 1)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("ND-%04d-%06d", now.Year(), seq), nil
}

func (s *checkoutService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrCheckoutProductUnavailable, err)
		case repoErr.IsConflict():
			return fmt.Errorf("checkout: conflict: %w", err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("checkout: repository unavailable: %w", err)
		}
	}
	return err
}

func (s *checkoutService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	if s.unitOfWork == nil {
		return fn(ctx)
	}
	return s.unitOfWork.RunInTx(ctx, fn)
}

func (s *checkoutService) now() time.Time {
	return s.clock()
}

func (s *checkoutService) publishEvent(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "checkout.event.publish.failed", map[string]any{
			"type":  event.Type,
			"order": event.OrderID,
			"error": err.Error(),
		})
	}
}

func randomTrackingToken() string {
	buf := make([]byte, trackingTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failing means the process is in no state to take orders.
		panic(fmt.Sprintf("checkout: tracking token entropy unavailable: %v", err))
	}
	return hex.EncodeToString(buf)
}
