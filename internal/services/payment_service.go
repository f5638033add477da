package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/yusufarbc/nalburdeposu-pern-ecommerce-sub000/internal/domain"
	"github.com/yusufarbc/nalburdeposu-pern-ecommerce-sub000/internal/gateway"
	"github.com/yusufarbc/nalburdeposu-pern-ecommerce-sub000/internal/repositories"
)

var (
	// ErrPaymentInvalidInput signals the caller provided invalid data.
	ErrPaymentInvalidInput = errors.New("payment: invalid input")
	// ErrPaymentNotFound indicates the referenced order could not be located.
	ErrPaymentNotFound = errors.New("payment: order not found")
	// ErrPaymentInvalidState indicates the order is not payable in its current state.
	ErrPaymentInvalidState = errors.New("payment: order not payable")
)

const failureCodeAmountMismatch = "amount_mismatch"

// PaymentServiceDeps bundles collaborators required to construct the payment service.
type PaymentServiceDeps struct {
	Orders  repositories.OrderRepository
	History repositories.OrderHistoryRepository
	Gateway gateway.Provider
	// CallbackBaseURL is the public origin the bank redirects shoppers back to.
	CallbackBaseURL string
	UnitOfWork      repositories.UnitOfWork
	Clock           func() time.Time
	IDGenerator     func() string
	Events          OrderEventPublisher
	Logger          func(ctx context.Context, event string, fields map[string]any)
}

type paymentService struct {
	orders      repositories.OrderRepository
	history     repositories.OrderHistoryRepository
	gateway     gateway.Provider
	callbackURL string
	unitOfWork  repositories.UnitOfWork
	clock       func() time.Time
	newID       func() string
	events      OrderEventPublisher
	logger      func(context.Context, string, map[string]any)
}

// NewPaymentService wires dependencies into a concrete PaymentService implementation.
func NewPaymentService(deps PaymentServiceDeps) (PaymentService, error) {
	if deps.Orders == nil {
		return nil, errors.New("payment service: order repository is required")
	}
	if deps.History == nil {
		return nil, errors.New("payment service: history repository is required")
	}
	if deps.Gateway == nil {
		return nil, errors.New("payment service: gateway provider is required")
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

	return &paymentService{
		orders:      deps.Orders,
		history:     deps.History,
		gateway:     deps.Gateway,
		callbackURL: strings.TrimRight(strings.TrimSpace(deps.CallbackBaseURL), "/"),
		unitOfWork:  unit,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		events: deps.Events,
		logger: logger,
	}, nil
}

// Initiate opens a 3DS attempt for the order behind the tracking token. The
// charged amount always comes from the stored order, never from the client.
func (s *paymentService) Initiate(ctx context.Context, cmd InitiatePaymentCommand) (gateway.RedirectForm, error) {
	token := strings.TrimSpace(cmd.TrackingToken)
	if token == "" {
		return gateway.RedirectForm{}, fmt.Errorf("%w: tracking token is required", ErrPaymentInvalidInput)
	}
	if strings.TrimSpace(cmd.Card.Number) == "" || strings.TrimSpace(cmd.Card.CVV) == "" {
		return gateway.RedirectForm{}, fmt.Errorf("%w: card details are required", ErrPaymentInvalidInput)
	}
	installments := cmd.Installments
	if installments < 1 {
		installments = 1
	}

	order, err := s.orders.FindByTrackingToken(ctx, token)
	if err != nil {
		return gateway.RedirectForm{}, s.mapRepositoryError(err)
	}
	if order.Status != domain.OrderStatusPendingPayment {
		return gateway.RedirectForm{}, fmt.Errorf("%w: order status is %q", ErrPaymentInvalidState, order.Status)
	}
	switch order.Payment.Status {
	case domain.PaymentStatusPending, domain.PaymentStatusFailed:
		// payable, including retry after a decline
	default:
		return gateway.RedirectForm{}, fmt.Errorf("%w: payment status is %q", ErrPaymentInvalidState, order.Payment.Status)
	}

	req := gateway.PaymentRequest{
		OrderNumber:  order.OrderNumber,
		TxnAmount:    order.Totals.Total,
		TotalAmount:  order.Totals.Total,
		Installments: installments,
		Card:         cmd.Card,
		Buyer: gateway.Buyer{
			FullName: order.Customer.FullName,
			Email:    order.Customer.Email,
			Phone:    order.Customer.Phone,
			Address:  order.ShippingAddr.Line1,
			City:     order.ShippingAddr.City,
		},
		SuccessURL: s.callbackURL + "/api/v1/payment/success",
		FailURL:    s.callbackURL + "/api/v1/payment/error",
	}

	form, err := s.gateway.Initiate(ctx, req)
	if err != nil {
		s.logger(ctx, "payment.initiate.failed", map[string]any{
			"orderNumber": order.OrderNumber,
			"error":       err.Error(),
		})
		return gateway.RedirectForm{}, err
	}

	s.logger(ctx, "payment.initiate.redirected", map[string]any{
		"orderNumber":  order.OrderNumber,
		"installments": installments,
	})
	return form, nil
}

// InstallmentOptions lists the bank's installment table for the order amount.
func (s *paymentService) InstallmentOptions(ctx context.Context, trackingToken, bin string) ([]gateway.InstallmentOption, error) {
	token := strings.TrimSpace(trackingToken)
	if token == "" {
		return nil, fmt.Errorf("%w: tracking token is required", ErrPaymentInvalidInput)
	}
	order, err := s.orders.FindByTrackingToken(ctx, token)
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}
	return s.gateway.InstallmentOptions(ctx, bin, order.Totals.Total)
}

// HandleCallback ingests one bank callback. Replays and late duplicates are
// no-ops: once the payment has settled or the order has left pending payment,
// further callbacks return the stored order unchanged.
func (s *paymentService) HandleCallback(ctx context.Context, result gateway.CallbackResult) (Order, error) {
	if strings.TrimSpace(result.OrderNumber) == "" {
		return Order{}, fmt.Errorf("%w: order number is required", ErrPaymentInvalidInput)
	}
	if err := s.gateway.VerifyCallback(ctx, result); err != nil {
		return Order{}, err
	}

	now := s.now()
	var updated domain.Order
	var event *OrderEvent

	err := s.runInTx(ctx, func(txCtx context.Context) error {
		order, err := s.orders.FindByOrderNumber(txCtx, result.OrderNumber)
		if err != nil {
			return err
		}

		// Idempotency guard: a settled payment or an order past pending
		// payment means a callback already landed. A failed attempt stays
		// open so the approval of a retried payment can still apply.
		if order.Payment.Status == domain.PaymentStatusSucceeded || order.Status != domain.OrderStatusPendingPayment {
			updated = order
			return nil
		}

		approved := result.Approved
		failureCode := strings.TrimSpace(result.FailureCode)
		if approved && result.AmountMinor != order.Totals.Total {
			s.logger(txCtx, "payment.callback.amount_mismatch", map[string]any{
				"orderNumber": order.OrderNumber,
				"expected":    order.Totals.Total,
				"received":    result.AmountMinor,
			})
			approved = false
			failureCode = failureCodeAmountMismatch
		}

		if approved {
			previous := order.Status
			order.Status = domain.OrderStatusPreparing
			order.Payment.Status = domain.PaymentStatusSucceeded
			order.Payment.GatewayTxnID = optionalString(strings.TrimSpace(result.TxnID))
			order.Payment.InstallmentCount = result.Installments
			order.Payment.CardBrand = strings.TrimSpace(result.CardBrand)
			order.Payment.FailureCode = nil
			order.Payment.PaidAt = &now
			order.UpdatedAt = now

			if err := s.orders.Update(txCtx, order); err != nil {
				return err
			}
			if err := s.history.Append(txCtx, domain.OrderHistoryEntry{
				ID:         historyEntryIDPrefix + s.newID(),
				OrderID:    order.ID,
				FromStatus: previous,
				ToStatus:   order.Status,
				Actor:      domain.ActorSystem,
				Note:       fmt.Sprintf("payment confirmed, bank ref %s", strings.TrimSpace(result.TxnID)),
				CreatedAt:  now,
			}); err != nil {
				return err
			}
			updated = order
			event = &OrderEvent{
				Type:           "order.paid",
				OrderID:        order.ID,
				OrderNumber:    order.OrderNumber,
				PreviousStatus: string(previous),
				CurrentStatus:  string(order.Status),
				Actor:          string(domain.ActorSystem),
				OccurredAt:     now,
			}
			return nil
		}

		if failureCode == "" {
			failureCode = "declined"
		}
		order.Payment.Status = domain.PaymentStatusFailed
		order.Payment.FailureCode = &failureCode
		order.UpdatedAt = now

		if err := s.orders.Update(txCtx, order); err != nil {
			return err
		}
		if err := s.history.Append(txCtx, domain.OrderHistoryEntry{
			ID:         historyEntryIDPrefix + s.newID(),
			OrderID:    order.ID,
			FromStatus: order.Status,
			ToStatus:   order.Status,
			Actor:      domain.ActorSystem,
			Note:       fmt.Sprintf("payment failed, code %s", failureCode),
			CreatedAt:  now,
		}); err != nil {
			return err
		}
		updated = order
		event = &OrderEvent{
			Type:          "order.payment_failed",
			OrderID:       order.ID,
			OrderNumber:   order.OrderNumber,
			CurrentStatus: string(order.Status),
			Actor:         string(domain.ActorSystem),
			OccurredAt:    now,
			Metadata:      map[string]any{"failureCode": failureCode},
		}
		return nil
	})
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	if event != nil {
		s.publishEvent(ctx, *event)
	}
	return updated, nil
}

func (s *paymentService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrPaymentNotFound, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("payment: repository unavailable: %w", err)
		}
	}
	return err
}

func (s *paymentService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	if s.unitOfWork == nil {
		return fn(ctx)
	}
	return s.unitOfWork.RunInTx(ctx, fn)
}

func (s *paymentService) now() time.Time {
	return s.clock()
}

func (s *paymentService) publishEvent(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "payment.event.publish.failed", map[string]any{
			"type":  event.Type,
			"order": event.OrderID,
			"error": err.Error(),
		})
	}
}
