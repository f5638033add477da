package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/yusufarbc/nalburdeposu-pern-ecommerce-sub000/internal/domain"
	"github.com/yusufarbc/nalburdeposu-pern-ecommerce-sub000/internal/gateway"
	"github.com/yusufarbc/nalburdeposu-pern-ecommerce-sub000/internal/repositories"
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderInvalidState indicates an invalid status transition was attempted.
	ErrOrderInvalidState = errors.New("order: invalid status transition")
	// ErrOrderConflict indicates the stored status moved on since the caller read it.
	ErrOrderConflict = errors.New("order: conflict")
)

// orderStateTransitions is the authoritative lifecycle graph. Missing keys are
// terminal states.
var orderStateTransitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusPendingPayment: {domain.OrderStatusPreparing, domain.OrderStatusCanceled},
	domain.OrderStatusPreparing:      {domain.OrderStatusShipped, domain.OrderStatusCanceled},
	domain.OrderStatusShipped:        {domain.OrderStatusDelivered},
	domain.OrderStatusDelivered:      {domain.OrderStatusCompleted, domain.OrderStatusRefunded},
}

var cancellableStatuses = []domain.OrderStatus{
	domain.OrderStatusPendingPayment,
	domain.OrderStatusPreparing,
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders      repositories.OrderRepository
	History     repositories.OrderHistoryRepository
	Returns     repositories.ReturnRepository
	Gateway     gateway.Provider
	UnitOfWork  repositories.UnitOfWork
	Clock       func() time.Time
	IDGenerator func() string
	Events      OrderEventPublisher
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders     repositories.OrderRepository
	history    repositories.OrderHistoryRepository
	returns    repositories.ReturnRepository
	gateway    gateway.Provider
	unitOfWork repositories.UnitOfWork
	clock      func() time.Time
	newID      func() string
	events     OrderEventPublisher
	logger     func(context.Context, string, map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.History == nil {
		return nil, errors.New("order service: history repository is required")
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
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderService{
		orders:     deps.Orders,
		history:    deps.History,
		returns:    deps.Returns,
		gateway:    deps.Gateway,
		unitOfWork: unit,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		events: deps.Events,
		logger: logger,
	}, nil
}

// Track resolves a guest tracking token to the order and its transition trail.
// The shipping address is redacted to coarse locality before leaving the service.
func (s *orderService) Track(ctx context.Context, trackingToken string) (TrackedOrder, error) {
	token := strings.TrimSpace(trackingToken)
	if token == "" {
		return TrackedOrder{}, fmt.Errorf("%w: tracking token is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByTrackingToken(ctx, token)
	if err != nil {
		return TrackedOrder{}, s.mapRepositoryError(err)
	}
	history, err := s.history.List(ctx, order.ID)
	if err != nil {
		return TrackedOrder{}, s.mapRepositoryError(err)
	}

	var latestReturn *domain.ReturnRequest
	if s.returns != nil {
		requests, err := s.returns.ListByOrder(ctx, order.ID)
		if err != nil {
			return TrackedOrder{}, s.mapRepositoryError(err)
		}
		if len(requests) > 0 {
			// ListByOrder is newest first.
			latestReturn = &requests[0]
		}
	}

	order.ShippingAddr = redactAddress(order.ShippingAddr)
	return TrackedOrder{Order: order, History: history, Return: latestReturn}, nil
}

// CancelByToken lets the shopper cancel their own order through the tracking
// token, with the same semantics as a staff cancel.
func (s *orderService) CancelByToken(ctx context.Context, trackingToken, reason string) (Order, error) {
	token := strings.TrimSpace(trackingToken)
	if token == "" {
		return Order{}, fmt.Errorf("%w: tracking token is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByTrackingToken(ctx, token)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	return s.Cancel(ctx, CancelOrderCommand{
		OrderID: order.ID,
		Reason:  reason,
		Actor:   domain.ActorCustomer,
	})
}

func (s *orderService) Get(ctx context.Context, orderID string) (Order, error) {
	id := strings.TrimSpace(orderID)
	if id == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, id)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	return order, nil
}

func (s *orderService) List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error) {
	page, err := s.orders.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[Order]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

func (s *orderService) History(ctx context.Context, orderID string) ([]OrderHistoryEntry, error) {
	id := strings.TrimSpace(orderID)
	if id == "" {
		return nil, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	entries, err := s.history.List(ctx, id)
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}
	return entries, nil
}

// Transition moves an order to the target status. Shipping and cancellation go
// through their dedicated commands because they carry extra required fields;
// refunds only happen through the return workflow.
func (s *orderService) Transition(ctx context.Context, cmd OrderStatusTransitionCommand) (Order, error) {
	id := strings.TrimSpace(cmd.OrderID)
	if id == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	switch cmd.Target {
	case "":
		return Order{}, fmt.Errorf("%w: target status is required", ErrOrderInvalidInput)
	case domain.OrderStatusShipped:
		return Order{}, fmt.Errorf("%w: shipping requires carrier details, use the ship command", ErrOrderInvalidInput)
	case domain.OrderStatusCanceled:
		return Order{}, fmt.Errorf("%w: cancellation requires a reason, use the cancel command", ErrOrderInvalidInput)
	case domain.OrderStatusRefunded:
		return Order{}, fmt.Errorf("%w: refunds are issued by completing a return request", ErrOrderInvalidInput)
	}
	if !validOrderStatus(cmd.Target) {
		return Order{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, cmd.Target)
	}

	return s.transitionInTx(ctx, id, cmd.Target, cmd.Actor, cmd.Note, cmd.ExpectedStatus, nil)
}

// Ship dispatches a prepared order with its carrier reference.
func (s *orderService) Ship(ctx context.Context, cmd ShipOrderCommand) (Order, error) {
	id := strings.TrimSpace(cmd.OrderID)
	if id == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	carrier := strings.TrimSpace(cmd.Carrier)
	trackingCode := strings.TrimSpace(cmd.TrackingCode)
	if carrier == "" || trackingCode == "" {
		return Order{}, fmt.Errorf("%w: carrier and tracking code are required", ErrOrderInvalidInput)
	}

	note := strings.TrimSpace(cmd.Note)
	if note == "" {
		note = fmt.Sprintf("shipped via %s (%s)", carrier, trackingCode)
	}

	return s.transitionInTx(ctx, id, domain.OrderStatusShipped, cmd.Actor, note, cmd.ExpectedStatus, func(order *domain.Order) {
		order.Carrier = &carrier
		order.TrackingCode = &trackingCode
	})
}

// Cancel voids the order. For paid orders the gateway void runs before the
// local write; a gateway failure never blocks the cancel but is recorded for
// manual reconciliation.
func (s *orderService) Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error) {
	id := strings.TrimSpace(cmd.OrderID)
	if id == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	reason := strings.TrimSpace(cmd.Reason)
	if reason == "" {
		return Order{}, fmt.Errorf("%w: cancel reason is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, id)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	if !slices.Contains(cancellableStatuses, order.Status) {
		return Order{}, fmt.Errorf("%w: order status %q cannot be canceled", ErrOrderInvalidState, order.Status)
	}
	if cmd.ExpectedStatus != nil && order.Status != *cmd.ExpectedStatus {
		return Order{}, fmt.Errorf("%w: expected status %q but was %q", ErrOrderConflict, *cmd.ExpectedStatus, order.Status)
	}

	// Void the charge first so money never stays captured on a canceled order.
	gatewayVoided := false
	var reconciliationNote string
	if order.Payment.Status == domain.PaymentStatusSucceeded && order.Payment.GatewayTxnID != nil {
		txnID := *order.Payment.GatewayTxnID
		if s.gateway == nil {
			reconciliationNote = "reconciliation: gateway not configured, void txn manually"
		} else if err := s.gateway.Cancel(ctx, txnID); err != nil {
			reconciliationNote = fmt.Sprintf("reconciliation: gateway cancel failed for txn %s: %v", txnID, err)
			s.logger(ctx, "order.cancel.gateway_failed", map[string]any{
				"orderId": order.ID,
				"txnId":   txnID,
				"error":   err.Error(),
			})
		} else {
			gatewayVoided = true
		}
	}

	note := "canceled: " + reason
	if reconciliationNote != "" {
		note = note + "; " + reconciliationNote
	}

	now := s.now()
	return s.transitionInTx(ctx, id, domain.OrderStatusCanceled, cmd.Actor, note, cmd.ExpectedStatus, func(o *domain.Order) {
		o.CancelReason = &reason
		if gatewayVoided {
			o.Payment.Status = domain.PaymentStatusRefunded
			o.Payment.RefundedAt = &now
		}
	})
}

// transitionInTx re-reads the order inside the unit of work, re-validates the
// transition against the freshly read status, applies mutate, and appends the
// history entry in the same transaction. An illegal transition leaves zero
// mutations and zero history behind.
func (s *orderService) transitionInTx(ctx context.Context, orderID string, target domain.OrderStatus, actor domain.Actor, note string, expected *domain.OrderStatus, mutate func(*domain.Order)) (Order, error) {
	now := s.now()
	var updated domain.Order
	var previous domain.OrderStatus

	err := s.runInTx(ctx, func(txCtx context.Context) error {
		order, err := s.orders.FindByID(txCtx, orderID)
		if err != nil {
			return err
		}
		if expected != nil && order.Status != *expected {
			return fmt.Errorf("%w: expected status %q but was %q", ErrOrderConflict, *expected, order.Status)
		}
		if !canTransition(order.Status, target) {
			return fmt.Errorf("%w: %s -> %s", ErrOrderInvalidState, order.Status, target)
		}
		// Preparation is gated on captured money, not just the status graph:
		// an unpaid order must never advance past pending payment.
		if target == domain.OrderStatusPreparing && order.Payment.Status != domain.PaymentStatusSucceeded {
			return fmt.Errorf("%w: payment status %q, order cannot be prepared before payment succeeds", ErrOrderInvalidState, order.Payment.Status)
		}

		previous = order.Status
		order.Status = target
		order.UpdatedAt = now
		updateStatusTimestamps(&order, target, now)
		if mutate != nil {
			mutate(&order)
		}

		if err := s.orders.Update(txCtx, order); err != nil {
			return err
		}
		if err := s.history.Append(txCtx, domain.OrderHistoryEntry{
			ID:         historyEntryIDPrefix + s.newID(),
			OrderID:    order.ID,
			FromStatus: previous,
			ToStatus:   target,
			Actor:      actor,
			Note:       note,
			CreatedAt:  now,
		}); err != nil {
			return err
		}
		updated = order
		return nil
	})
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	s.publishEvent(ctx, OrderEvent{
		Type:           "order." + string(updated.Status),
		OrderID:        updated.ID,
		OrderNumber:    updated.OrderNumber,
		PreviousStatus: string(previous),
		CurrentStatus:  string(updated.Status),
		Actor:          string(actor),
		OccurredAt:     now,
	})
	return updated, nil
}

func updateStatusTimestamps(order *domain.Order, status domain.OrderStatus, now time.Time) {
	switch status {
	case domain.OrderStatusShipped:
		order.ShippedAt = &now
	case domain.OrderStatusDelivered:
		order.DeliveredAt = &now
	case domain.OrderStatusCompleted:
		order.CompletedAt = &now
	case domain.OrderStatusCanceled:
		if order.CanceledAt == nil {
			order.CanceledAt = &now
		}
	}
}

func redactAddress(addr domain.Address) domain.Address {
	return domain.Address{
		District: addr.District,
		City:     addr.City,
		Country:  addr.Country,
	}
}

func validOrderStatus(status domain.OrderStatus) bool {
	switch status {
	case domain.OrderStatusPendingPayment, domain.OrderStatusPreparing, domain.OrderStatusShipped,
		domain.OrderStatusDelivered, domain.OrderStatusCompleted, domain.OrderStatusCanceled,
		domain.OrderStatusRefunded:
		return true
	}
	return false
}

func canTransition(current, target domain.OrderStatus) bool {
	next, ok := orderStateTransitions[current]
	if !ok {
		return false
	}
	return slices.Contains(next, target)
}

func (s *orderService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("order: repository unavailable: %w", err)
		}
	}
	return err
}

func (s *orderService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	if s.unitOfWork == nil {
		return fn(ctx)
	}
	return s.unitOfWork.RunInTx(ctx, fn)
}

func (s *orderService) now() time.Time {
	return s.clock()
}

func (s *orderService) publishEvent(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish.failed", map[string]any{
			"type":   event.Type,
			"order":  event.OrderID,
			"error":  err.Error(),
			"status": event.CurrentStatus,
		})
	}
}

type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

func cloneStringPtr(value *string) *string {
	if value == nil {
		return nil
	}
	ref := *value
	return &ref
}

func valuePtr[T any](v T) *T {
	return &v
}

func optionalString(v string) *string {
	if v == "" {
		return nil
	}
	ref := v
	return &ref
}
