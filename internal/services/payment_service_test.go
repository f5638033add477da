package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/yusufarbc/nalburdeposu-pern-ecommerce-sub000/internal/domain"
	"github.com/yusufarbc/nalburdeposu-pern-ecommerce-sub000/internal/gateway"
)

func pendingOrder() domain.Order {
	return domain.Order{
		ID:            "ord_pay_1",
		OrderNumber:   "ND-2026-000007",
		TrackingToken: "tok_pay_1",
		Status:        domain.OrderStatusPendingPayment,
		Customer:      domain.CustomerSnapshot{FullName: "Ayse Yilmaz", Email: "ayse@example.com", Phone: "+905321112233"},
		ShippingAddr:  domain.Address{Line1: "Sanayi Cad. 5", District: "Kadikoy", City: "Istanbul"},
		Totals:        domain.OrderTotals{Subtotal: 50000, Shipping: 10500, Total: 60500},
		Payment:       domain.PaymentInfo{Status: domain.PaymentStatusPending},
	}
}

func newTestPaymentService(t *testing.T, deps PaymentServiceDeps) PaymentService {
	t.Helper()
	if deps.Orders == nil {
		deps.Orders = &stubOrderRepo{}
	}
	if deps.History == nil {
		deps.History = &stubHistoryRepo{}
	}
	if deps.Gateway == nil {
		deps.Gateway = &stubGatewayProvider{}
	}
	if deps.Clock == nil {
		deps.Clock = func() time.Time { return time.Date(2026, 4, 2, 11, 0, 0, 0, time.UTC) }
	}
	if deps.IDGenerator == nil {
		deps.IDGenerator = func() string { return "000TEST" }
	}
	if deps.CallbackBaseURL == "" {
		deps.CallbackBaseURL = "https://shop.example"
	}
	svc, err := NewPaymentService(deps)
	if err != nil {
		t.Fatalf("new payment service: %v", err)
	}
	return svc
}

func TestInitiateUsesStoredAmount(t *testing.T) {
	var captured gateway.PaymentRequest
	gw := &stubGatewayProvider{
		initiateFn: func(_ context.Context, req gateway.PaymentRequest) (gateway.RedirectForm, error) {
			captured = req
			return gateway.RedirectForm{Action: "https://3ds.bank.example"}, nil
		},
	}
	orders := &stubOrderRepo{
		findByTokenFn: func(_ context.Context, token string) (domain.Order, error) {
			if token != "tok_pay_1" {
				t.Fatalf("unexpected token %q", token)
			}
			return pendingOrder(), nil
		},
	}
	svc := newTestPaymentService(t, PaymentServiceDeps{Orders: orders, Gateway: gw})

	form, err := svc.Initiate(context.Background(), InitiatePaymentCommand{
		TrackingToken: "tok_pay_1",
		Installments:  3,
		Card:          gateway.Card{HolderName: "Ayse Yilmaz", Number: "4111111111111111", ExpiryMonth: "09", ExpiryYear: "2028", CVV: "123"},
	})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if form.Action == "" {
		t.Fatal("expected redirect form")
	}
	if captured.TxnAmount != 60500 || captured.TotalAmount != 60500 {
		t.Fatalf("gateway amounts must come from the order, got %+v", captured)
	}
	if captured.OrderNumber != "ND-2026-000007" {
		t.Fatalf("order number = %q", captured.OrderNumber)
	}
	if captured.SuccessURL != "https://shop.example/api/v1/payment/success" {
		t.Fatalf("success url = %q", captured.SuccessURL)
	}
	if captured.Installments != 3 {
		t.Fatalf("installments = %d", captured.Installments)
	}
}

func TestInitiateGuardsOrderState(t *testing.T) {
	cases := map[string]domain.Order{}

	paid := pendingOrder()
	paid.Status = domain.OrderStatusPreparing
	paid.Payment.Status = domain.PaymentStatusSucceeded
	cases["already paid"] = paid

	canceled := pendingOrder()
	canceled.Status = domain.OrderStatusCanceled
	cases["canceled"] = canceled

	for name, order := range cases {
		order := order
		orders := &stubOrderRepo{
			findByTokenFn: func(context.Context, string) (domain.Order, error) { return order, nil },
		}
		svc := newTestPaymentService(t, PaymentServiceDeps{Orders: orders})
		_, err := svc.Initiate(context.Background(), InitiatePaymentCommand{
			TrackingToken: "tok_pay_1",
			Card:          gateway.Card{Number: "4111111111111111", CVV: "123"},
		})
		if !errors.Is(err, ErrPaymentInvalidState) {
			t.Errorf("%s: expected invalid state, got %v", name, err)
		}
	}
}

func TestInitiateAllowsRetryAfterFailure(t *testing.T) {
	failed := pendingOrder()
	code := "51"
	failed.Payment.Status = domain.PaymentStatusFailed
	failed.Payment.FailureCode = &code

	orders := &stubOrderRepo{
		findByTokenFn: func(context.Context, string) (domain.Order, error) { return failed, nil },
	}
	gw := &stubGatewayProvider{
		initiateFn: func(context.Context, gateway.PaymentRequest) (gateway.RedirectForm, error) {
			return gateway.RedirectForm{Action: "https://3ds.bank.example"}, nil
		},
	}
	svc := newTestPaymentService(t, PaymentServiceDeps{Orders: orders, Gateway: gw})

	if _, err := svc.Initiate(context.Background(), InitiatePaymentCommand{
		TrackingToken: "tok_pay_1",
		Card:          gateway.Card{Number: "4111111111111111", CVV: "123"},
	}); err != nil {
		t.Fatalf("retry after failure should be allowed: %v", err)
	}
}

func approvedCallback() gateway.CallbackResult {
	return gateway.CallbackResult{
		OrderNumber:  "ND-2026-000007",
		TxnID:        "txn-777",
		Approved:     true,
		AmountMinor:  60500,
		Installments: 1,
		CardBrand:    "bonus",
	}
}

func TestHandleCallbackSuccess(t *testing.T) {
	stored := pendingOrder()
	var updates []domain.Order
	orders := &stubOrderRepo{
		findByNumberFn: func(context.Context, string) (domain.Order, error) { return stored, nil },
		updateFn: func(_ context.Context, order domain.Order) error {
			updates = append(updates, order)
			return nil
		},
	}
	history := &stubHistoryRepo{}
	events := &captureOrderEvents{}
	svc := newTestPaymentService(t, PaymentServiceDeps{Orders: orders, History: history, Events: events})

	order, err := svc.HandleCallback(context.Background(), approvedCallback())
	if err != nil {
		t.Fatalf("handle callback: %v", err)
	}

	if order.Status != domain.OrderStatusPreparing {
		t.Fatalf("status = %s, want preparing", order.Status)
	}
	if order.Payment.Status != domain.PaymentStatusSucceeded {
		t.Fatalf("payment status = %s", order.Payment.Status)
	}
	if order.Payment.GatewayTxnID == nil || *order.Payment.GatewayTxnID != "txn-777" {
		t.Fatalf("gateway txn id not stored: %+v", order.Payment)
	}
	if order.Payment.PaidAt == nil {
		t.Fatal("paid at not set")
	}
	if len(updates) != 1 {
		t.Fatalf("expected one update, got %d", len(updates))
	}
	if len(history.appended) != 1 {
		t.Fatalf("expected one history entry, got %d", len(history.appended))
	}
	entry := history.appended[0]
	if entry.FromStatus != domain.OrderStatusPendingPayment || entry.ToStatus != domain.OrderStatusPreparing {
		t.Fatalf("unexpected history entry: %+v", entry)
	}
	if entry.Actor != domain.ActorSystem {
		t.Fatalf("entry actor = %s", entry.Actor)
	}
	if len(events.events) != 1 || events.events[0].Type != "order.paid" {
		t.Fatalf("unexpected events: %+v", events.events)
	}
}

func TestHandleCallbackIsIdempotent(t *testing.T) {
	settled := pendingOrder()
	settled.Status = domain.OrderStatusPreparing
	settled.Payment.Status = domain.PaymentStatusSucceeded

	var updates int
	orders := &stubOrderRepo{
		findByNumberFn: func(context.Context, string) (domain.Order, error) { return settled, nil },
		updateFn: func(context.Context, domain.Order) error {
			updates++
			return nil
		},
	}
	history := &stubHistoryRepo{}
	events := &captureOrderEvents{}
	svc := newTestPaymentService(t, PaymentServiceDeps{Orders: orders, History: history, Events: events})

	order, err := svc.HandleCallback(context.Background(), approvedCallback())
	if err != nil {
		t.Fatalf("replayed callback must not error: %v", err)
	}
	if order.Status != domain.OrderStatusPreparing {
		t.Fatalf("status = %s", order.Status)
	}
	if updates != 0 {
		t.Fatalf("replay must not write, got %d updates", updates)
	}
	if len(history.appended) != 0 {
		t.Fatalf("replay must not append history, got %d", len(history.appended))
	}
	if len(events.events) != 0 {
		t.Fatalf("replay must not publish events, got %d", len(events.events))
	}
}

func TestHandleCallbackAppliesRetryAfterFailure(t *testing.T) {
	stored := pendingOrder()
	stored.Payment.Status = domain.PaymentStatusFailed
	code := "51"
	stored.Payment.FailureCode = &code

	var updates []domain.Order
	orders := &stubOrderRepo{
		findByNumberFn: func(context.Context, string) (domain.Order, error) { return stored, nil },
		updateFn: func(_ context.Context, order domain.Order) error {
			updates = append(updates, order)
			return nil
		},
	}
	history := &stubHistoryRepo{}
	events := &captureOrderEvents{}
	svc := newTestPaymentService(t, PaymentServiceDeps{Orders: orders, History: history, Events: events})

	order, err := svc.HandleCallback(context.Background(), approvedCallback())
	if err != nil {
		t.Fatalf("handle callback: %v", err)
	}

	if order.Status != domain.OrderStatusPreparing {
		t.Fatalf("status = %s, want preparing after retried payment", order.Status)
	}
	if order.Payment.Status != domain.PaymentStatusSucceeded {
		t.Fatalf("payment status = %s", order.Payment.Status)
	}
	if order.Payment.FailureCode != nil {
		t.Fatalf("failure code must clear, got %q", *order.Payment.FailureCode)
	}
	if len(updates) != 1 {
		t.Fatalf("expected one update, got %d", len(updates))
	}
	if len(history.appended) != 1 {
		t.Fatalf("expected one history entry, got %d", len(history.appended))
	}
	if len(events.events) != 1 || events.events[0].Type != "order.paid" {
		t.Fatalf("unexpected events: %+v", events.events)
	}
}

func TestHandleCallbackDeclined(t *testing.T) {
	stored := pendingOrder()
	var updated domain.Order
	orders := &stubOrderRepo{
		findByNumberFn: func(context.Context, string) (domain.Order, error) { return stored, nil },
		updateFn: func(_ context.Context, order domain.Order) error {
			updated = order
			return nil
		},
	}
	history := &stubHistoryRepo{}
	svc := newTestPaymentService(t, PaymentServiceDeps{Orders: orders, History: history})

	result := approvedCallback()
	result.Approved = false
	result.FailureCode = "51"

	order, err := svc.HandleCallback(context.Background(), result)
	if err != nil {
		t.Fatalf("handle callback: %v", err)
	}
	if order.Status != domain.OrderStatusPendingPayment {
		t.Fatalf("declined payment must keep order pending, got %s", order.Status)
	}
	if order.Payment.Status != domain.PaymentStatusFailed {
		t.Fatalf("payment status = %s", order.Payment.Status)
	}
	if order.Payment.FailureCode == nil || *order.Payment.FailureCode != "51" {
		t.Fatalf("failure code not recorded: %+v", order.Payment)
	}
	if updated.Status != domain.OrderStatusPendingPayment {
		t.Fatalf("persisted status = %s", updated.Status)
	}
	if len(history.appended) != 1 || history.appended[0].ToStatus != domain.OrderStatusPendingPayment {
		t.Fatalf("unexpected history: %+v", history.appended)
	}
}

func TestHandleCallbackAmountMismatchIsFailure(t *testing.T) {
	stored := pendingOrder()
	var updated domain.Order
	orders := &stubOrderRepo{
		findByNumberFn: func(context.Context, string) (domain.Order, error) { return stored, nil },
		updateFn: func(_ context.Context, order domain.Order) error {
			updated = order
			return nil
		},
	}
	svc := newTestPaymentService(t, PaymentServiceDeps{Orders: orders})

	result := approvedCallback()
	result.AmountMinor = 100

	order, err := svc.HandleCallback(context.Background(), result)
	if err != nil {
		t.Fatalf("handle callback: %v", err)
	}
	if order.Payment.Status != domain.PaymentStatusFailed {
		t.Fatalf("mismatched amount must fail, got %s", order.Payment.Status)
	}
	if order.Payment.FailureCode == nil || *order.Payment.FailureCode != failureCodeAmountMismatch {
		t.Fatalf("failure code = %+v", order.Payment.FailureCode)
	}
	if updated.Status != domain.OrderStatusPendingPayment {
		t.Fatalf("order must stay pending, got %s", updated.Status)
	}
}

func TestHandleCallbackRejectsBadSignature(t *testing.T) {
	gw := &stubGatewayProvider{
		verifyFn: func(context.Context, gateway.CallbackResult) error {
			return gateway.ErrSignatureMismatch
		},
	}
	var reads int
	orders := &stubOrderRepo{
		findByNumberFn: func(context.Context, string) (domain.Order, error) {
			reads++
			return pendingOrder(), nil
		},
	}
	svc := newTestPaymentService(t, PaymentServiceDeps{Orders: orders, Gateway: gw})

	_, err := svc.HandleCallback(context.Background(), approvedCallback())
	if !errors.Is(err, gateway.ErrSignatureMismatch) {
		t.Fatalf("expected signature mismatch, got %v", err)
	}
	if reads != 0 {
		t.Fatalf("signature failure must short-circuit before any read, got %d", reads)
	}
}
