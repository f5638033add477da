package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	domain "github.com/yusufarbc/nalburdeposu-pern-ecommerce-sub000/internal/domain"
)

func preparingOrder() domain.Order {
	txnID := "txn-4242"
	paidAt := time.Date(2026, time.April, 2, 9, 30, 0, 0, time.UTC)
	return domain.Order{
		ID:            "ord_life_1",
		OrderNumber:   "ND-2026-000021",
		TrackingToken: "tok_life_1",
		Status:        domain.OrderStatusPreparing,
		Customer: domain.CustomerSnapshot{
			FullName: "Ayşe Demir",
			Email:    "ayse@example.com",
			Phone:    "+905551112233",
		},
		ShippingAddr: domain.Address{
			Recipient:  "Ayşe Demir",
			Line1:      "Çamlık Sokak 7/3",
			District:   "Kadıköy",
			City:       "İstanbul",
			PostalCode: "34710",
			Country:    "TR",
		},
		Totals:      domain.OrderTotals{Subtotal: 50000, Shipping: 10500, Total: 60500},
		WeightGrams: 3000,
		Payment: domain.PaymentInfo{
			Status:           domain.PaymentStatusSucceeded,
			GatewayTxnID:     &txnID,
			InstallmentCount: 1,
			CardBrand:        "bonus",
			PaidAt:           &paidAt,
		},
		CreatedAt: time.Date(2026, time.April, 2, 9, 0, 0, 0, time.UTC),
		UpdatedAt: paidAt,
	}
}

type orderServiceFixture struct {
	service OrderService
	orders  *stubOrderRepo
	history *stubHistoryRepo
	returns *stubReturnRepo
	gateway *stubGatewayProvider
	events  *captureOrderEvents
	updates []domain.Order
}

func newTestOrderService(t *testing.T, stored domain.Order) *orderServiceFixture {
	t.Helper()

	fixture := &orderServiceFixture{
		history: &stubHistoryRepo{},
		returns: &stubReturnRepo{},
		gateway: &stubGatewayProvider{},
		events:  &captureOrderEvents{},
	}
	current := stored
	fixture.orders = &stubOrderRepo{
		findFn: func(_ context.Context, orderID string) (domain.Order, error) {
			if orderID != current.ID {
				return domain.Order{}, notFoundRepoError{}
			}
			return current, nil
		},
		findByTokenFn: func(_ context.Context, token string) (domain.Order, error) {
			if token != current.TrackingToken {
				return domain.Order{}, notFoundRepoError{}
			}
			return current, nil
		},
		updateFn: func(_ context.Context, order domain.Order) error {
			current = order
			fixture.updates = append(fixture.updates, order)
			return nil
		},
	}

	service, err := NewOrderService(OrderServiceDeps{
		Orders:      fixture.orders,
		History:     fixture.history,
		Returns:     fixture.returns,
		Gateway:     fixture.gateway,
		Clock:       func() time.Time { return time.Date(2026, time.April, 3, 14, 0, 0, 0, time.UTC) },
		IDGenerator: func() string { return "000TEST" },
		Events:      fixture.events,
	})
	if err != nil {
		t.Fatalf("NewOrderService returned error: %v", err)
	}
	fixture.service = service
	return fixture
}

func TestTransitionDeliversAndStampsTimestamp(t *testing.T) {
	stored := preparingOrder()
	stored.Status = domain.OrderStatusShipped
	fixture := newTestOrderService(t, stored)

	updated, err := fixture.service.Transition(context.Background(), OrderStatusTransitionCommand{
		OrderID: stored.ID,
		Target:  domain.OrderStatusDelivered,
		Actor:   domain.ActorAdmin,
		Note:    "carrier confirmed delivery",
	})
	if err != nil {
		t.Fatalf("Transition returned error: %v", err)
	}
	if updated.Status != domain.OrderStatusDelivered {
		t.Fatalf("status = %q, want delivered", updated.Status)
	}
	if updated.DeliveredAt == nil || !updated.DeliveredAt.Equal(time.Date(2026, time.April, 3, 14, 0, 0, 0, time.UTC)) {
		t.Fatalf("DeliveredAt = %v, want fixed clock", updated.DeliveredAt)
	}
	if len(fixture.history.appended) != 1 {
		t.Fatalf("history entries = %d, want 1", len(fixture.history.appended))
	}
	entry := fixture.history.appended[0]
	if entry.FromStatus != domain.OrderStatusShipped || entry.ToStatus != domain.OrderStatusDelivered {
		t.Fatalf("history transition = %s -> %s", entry.FromStatus, entry.ToStatus)
	}
	if entry.Actor != domain.ActorAdmin {
		t.Fatalf("history actor = %q, want admin", entry.Actor)
	}
	if len(fixture.events.events) != 1 || fixture.events.events[0].Type != "order.delivered" {
		t.Fatalf("events = %+v, want one order.delivered", fixture.events.events)
	}
}

func TestTransitionCompletesDeliveredOrder(t *testing.T) {
	stored := preparingOrder()
	stored.Status = domain.OrderStatusDelivered
	fixture := newTestOrderService(t, stored)

	updated, err := fixture.service.Transition(context.Background(), OrderStatusTransitionCommand{
		OrderID: stored.ID,
		Target:  domain.OrderStatusCompleted,
		Actor:   domain.ActorSystem,
		Note:    "return window elapsed",
	})
	if err != nil {
		t.Fatalf("Transition returned error: %v", err)
	}
	if updated.Status != domain.OrderStatusCompleted {
		t.Fatalf("status = %q, want completed", updated.Status)
	}
	if updated.CompletedAt == nil {
		t.Fatal("CompletedAt not set")
	}
}

func TestTransitionRejectsGuardedTargets(t *testing.T) {
	fixture := newTestOrderService(t, preparingOrder())

	for _, target := range []domain.OrderStatus{domain.OrderStatusShipped, domain.OrderStatusCanceled, domain.OrderStatusRefunded} {
		_, err := fixture.service.Transition(context.Background(), OrderStatusTransitionCommand{
			OrderID: "ord_life_1",
			Target:  target,
			Actor:   domain.ActorAdmin,
		})
		if !errors.Is(err, ErrOrderInvalidInput) {
			t.Fatalf("Transition(%s) error = %v, want ErrOrderInvalidInput", target, err)
		}
	}
	if len(fixture.updates) != 0 || len(fixture.history.appended) != 0 {
		t.Fatal("rejected targets must not mutate the order or append history")
	}
}

func TestTransitionToPreparingRequiresCapturedPayment(t *testing.T) {
	unpaid := preparingOrder()
	unpaid.Status = domain.OrderStatusPendingPayment
	unpaid.Payment = domain.PaymentInfo{Status: domain.PaymentStatusPending}
	fixture := newTestOrderService(t, unpaid)

	_, err := fixture.service.Transition(context.Background(), OrderStatusTransitionCommand{
		OrderID: unpaid.ID,
		Target:  domain.OrderStatusPreparing,
		Actor:   domain.ActorAdmin,
		Note:    "rushing the warehouse",
	})
	if !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("Transition error = %v, want ErrOrderInvalidState", err)
	}
	if len(fixture.updates) != 0 || len(fixture.history.appended) != 0 {
		t.Fatal("unpaid order must not advance or gain history")
	}

	// Once the payment is captured the same edge opens.
	paid := preparingOrder()
	paid.Status = domain.OrderStatusPendingPayment
	fixture = newTestOrderService(t, paid)

	updated, err := fixture.service.Transition(context.Background(), OrderStatusTransitionCommand{
		OrderID: paid.ID,
		Target:  domain.OrderStatusPreparing,
		Actor:   domain.ActorAdmin,
		Note:    "bank confirmed out of band",
	})
	if err != nil {
		t.Fatalf("Transition returned error: %v", err)
	}
	if updated.Status != domain.OrderStatusPreparing {
		t.Fatalf("status = %q, want preparing", updated.Status)
	}
}

func TestShipOnCanceledOrderFailsWithoutMutation(t *testing.T) {
	stored := preparingOrder()
	stored.Status = domain.OrderStatusCanceled
	fixture := newTestOrderService(t, stored)

	_, err := fixture.service.Ship(context.Background(), ShipOrderCommand{
		OrderID:      stored.ID,
		Carrier:      "yurtici",
		TrackingCode: "YT123456789",
		Actor:        domain.ActorAdmin,
	})
	if !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("Ship error = %v, want ErrOrderInvalidState", err)
	}
	if len(fixture.updates) != 0 {
		t.Fatalf("order updates = %d, want 0", len(fixture.updates))
	}
	if len(fixture.history.appended) != 0 {
		t.Fatalf("history entries = %d, want 0", len(fixture.history.appended))
	}
	if len(fixture.events.events) != 0 {
		t.Fatalf("events = %d, want 0", len(fixture.events.events))
	}
}

func TestShipSetsCarrierAndTrackingCode(t *testing.T) {
	fixture := newTestOrderService(t, preparingOrder())

	updated, err := fixture.service.Ship(context.Background(), ShipOrderCommand{
		OrderID:      "ord_life_1",
		Carrier:      "aras",
		TrackingCode: "AR987654",
		Actor:        domain.ActorAdmin,
	})
	if err != nil {
		t.Fatalf("Ship returned error: %v", err)
	}
	if updated.Status != domain.OrderStatusShipped {
		t.Fatalf("status = %q, want shipped", updated.Status)
	}
	if updated.Carrier == nil || *updated.Carrier != "aras" {
		t.Fatalf("carrier = %v, want aras", updated.Carrier)
	}
	if updated.TrackingCode == nil || *updated.TrackingCode != "AR987654" {
		t.Fatalf("tracking code = %v, want AR987654", updated.TrackingCode)
	}
	if updated.ShippedAt == nil {
		t.Fatal("ShippedAt not set")
	}
	if len(fixture.history.appended) != 1 {
		t.Fatalf("history entries = %d, want 1", len(fixture.history.appended))
	}
	if note := fixture.history.appended[0].Note; !strings.Contains(note, "aras") || !strings.Contains(note, "AR987654") {
		t.Fatalf("history note = %q, want carrier details", note)
	}
}

func TestShipRequiresCarrierDetails(t *testing.T) {
	fixture := newTestOrderService(t, preparingOrder())

	_, err := fixture.service.Ship(context.Background(), ShipOrderCommand{
		OrderID: "ord_life_1",
		Actor:   domain.ActorAdmin,
	})
	if !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("Ship error = %v, want ErrOrderInvalidInput", err)
	}
}

func TestTransitionDetectsStaleExpectedStatus(t *testing.T) {
	stored := preparingOrder()
	stored.Status = domain.OrderStatusShipped
	fixture := newTestOrderService(t, stored)

	expected := domain.OrderStatusPreparing
	_, err := fixture.service.Transition(context.Background(), OrderStatusTransitionCommand{
		OrderID:        stored.ID,
		Target:         domain.OrderStatusDelivered,
		Actor:          domain.ActorAdmin,
		ExpectedStatus: &expected,
	})
	if !errors.Is(err, ErrOrderConflict) {
		t.Fatalf("Transition error = %v, want ErrOrderConflict", err)
	}
	if len(fixture.updates) != 0 || len(fixture.history.appended) != 0 {
		t.Fatal("stale expectation must not mutate the order")
	}
}

func TestCancelPaidOrderVoidsGatewayExactlyOnce(t *testing.T) {
	fixture := newTestOrderService(t, preparingOrder())

	updated, err := fixture.service.Cancel(context.Background(), CancelOrderCommand{
		OrderID: "ord_life_1",
		Reason:  "customer changed mind",
		Actor:   domain.ActorAdmin,
	})
	if err != nil {
		t.Fatalf("Cancel returned error: %v", err)
	}
	if got := len(fixture.gateway.cancelCalls); got != 1 {
		t.Fatalf("gateway cancel calls = %d, want 1", got)
	}
	if fixture.gateway.cancelCalls[0] != "txn-4242" {
		t.Fatalf("gateway cancel txn = %q, want txn-4242", fixture.gateway.cancelCalls[0])
	}
	if updated.Status != domain.OrderStatusCanceled {
		t.Fatalf("status = %q, want canceled", updated.Status)
	}
	if updated.Payment.Status != domain.PaymentStatusRefunded {
		t.Fatalf("payment status = %q, want refunded", updated.Payment.Status)
	}
	if updated.Payment.RefundedAt == nil {
		t.Fatal("RefundedAt not set after gateway void")
	}
	if updated.CancelReason == nil || *updated.CancelReason != "customer changed mind" {
		t.Fatalf("cancel reason = %v", updated.CancelReason)
	}
	if updated.CanceledAt == nil {
		t.Fatal("CanceledAt not set")
	}
	if len(fixture.history.appended) != 1 {
		t.Fatalf("history entries = %d, want 1", len(fixture.history.appended))
	}
	if note := fixture.history.appended[0].Note; strings.Contains(note, "reconciliation") {
		t.Fatalf("history note = %q, must not flag reconciliation on success", note)
	}
}

func TestCancelLandsCanceledWhenGatewayFails(t *testing.T) {
	fixture := newTestOrderService(t, preparingOrder())
	fixture.gateway.cancelFn = func(context.Context, string) error {
		return errors.New("gateway timeout")
	}

	updated, err := fixture.service.Cancel(context.Background(), CancelOrderCommand{
		OrderID: "ord_life_1",
		Reason:  "wrong item ordered",
		Actor:   domain.ActorAdmin,
	})
	if err != nil {
		t.Fatalf("Cancel must not fail on gateway error, got: %v", err)
	}
	if got := len(fixture.gateway.cancelCalls); got != 1 {
		t.Fatalf("gateway cancel calls = %d, want 1", got)
	}
	if updated.Status != domain.OrderStatusCanceled {
		t.Fatalf("status = %q, want canceled", updated.Status)
	}
	if updated.Payment.Status == domain.PaymentStatusRefunded {
		// Money is still captured at the gateway, the payment record must say so.
		t.Fatal("payment must not be marked refunded when the gateway void failed")
	}
	if len(fixture.history.appended) != 1 {
		t.Fatalf("history entries = %d, want 1", len(fixture.history.appended))
	}
	note := fixture.history.appended[0].Note
	if !strings.Contains(note, "reconciliation:") {
		t.Fatalf("history note = %q, want reconciliation marker", note)
	}
	if !strings.Contains(note, "txn-4242") {
		t.Fatalf("history note = %q, want gateway txn reference", note)
	}
}

func TestCancelUnpaidOrderSkipsGateway(t *testing.T) {
	stored := preparingOrder()
	stored.Status = domain.OrderStatusPendingPayment
	stored.Payment = domain.PaymentInfo{Status: domain.PaymentStatusPending}
	fixture := newTestOrderService(t, stored)

	updated, err := fixture.service.Cancel(context.Background(), CancelOrderCommand{
		OrderID: stored.ID,
		Reason:  "no longer needed",
		Actor:   domain.ActorCustomer,
	})
	if err != nil {
		t.Fatalf("Cancel returned error: %v", err)
	}
	if len(fixture.gateway.cancelCalls) != 0 {
		t.Fatalf("gateway cancel calls = %d, want 0 for unpaid order", len(fixture.gateway.cancelCalls))
	}
	if updated.Status != domain.OrderStatusCanceled {
		t.Fatalf("status = %q, want canceled", updated.Status)
	}
	if updated.Payment.Status != domain.PaymentStatusPending {
		t.Fatalf("payment status = %q, want pending", updated.Payment.Status)
	}
}

func TestCancelRejectsShippedOrder(t *testing.T) {
	stored := preparingOrder()
	stored.Status = domain.OrderStatusShipped
	fixture := newTestOrderService(t, stored)

	_, err := fixture.service.Cancel(context.Background(), CancelOrderCommand{
		OrderID: stored.ID,
		Reason:  "too late",
		Actor:   domain.ActorCustomer,
	})
	if !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("Cancel error = %v, want ErrOrderInvalidState", err)
	}
	if len(fixture.gateway.cancelCalls) != 0 {
		t.Fatal("gateway must not be called for non-cancellable orders")
	}
}

func TestCancelByTokenResolvesOrder(t *testing.T) {
	stored := preparingOrder()
	stored.Status = domain.OrderStatusPendingPayment
	stored.Payment = domain.PaymentInfo{Status: domain.PaymentStatusPending}
	fixture := newTestOrderService(t, stored)

	updated, err := fixture.service.CancelByToken(context.Background(), "tok_life_1", "ordered twice")
	if err != nil {
		t.Fatalf("CancelByToken returned error: %v", err)
	}
	if updated.Status != domain.OrderStatusCanceled {
		t.Fatalf("status = %q, want canceled", updated.Status)
	}
	if len(fixture.history.appended) != 1 || fixture.history.appended[0].Actor != domain.ActorCustomer {
		t.Fatalf("history = %+v, want one customer entry", fixture.history.appended)
	}
}

func TestTrackRedactsShippingAddress(t *testing.T) {
	fixture := newTestOrderService(t, preparingOrder())
	fixture.history.appended = []domain.OrderHistoryEntry{{
		ID:        "hist_1",
		OrderID:   "ord_life_1",
		ToStatus:  domain.OrderStatusPendingPayment,
		Actor:     domain.ActorCustomer,
		Note:      "order placed",
		CreatedAt: time.Date(2026, time.April, 2, 9, 0, 0, 0, time.UTC),
	}}

	tracked, err := fixture.service.Track(context.Background(), "tok_life_1")
	if err != nil {
		t.Fatalf("Track returned error: %v", err)
	}
	addr := tracked.Order.ShippingAddr
	if addr.City != "İstanbul" || addr.District != "Kadıköy" || addr.Country != "TR" {
		t.Fatalf("redacted address lost locality fields: %+v", addr)
	}
	if addr.Recipient != "" || addr.Line1 != "" || addr.PostalCode != "" {
		t.Fatalf("address not redacted: %+v", addr)
	}
	if len(tracked.History) != 1 {
		t.Fatalf("history length = %d, want 1", len(tracked.History))
	}
}

func TestTrackIncludesLatestReturnRequest(t *testing.T) {
	fixture := newTestOrderService(t, preparingOrder())
	fixture.returns.listFn = func(_ context.Context, orderID string) ([]domain.ReturnRequest, error) {
		if orderID != "ord_life_1" {
			t.Fatalf("unexpected order id %q", orderID)
		}
		// Newest first, matching the repository ordering.
		return []domain.ReturnRequest{
			{ID: "ret_2", OrderID: orderID, Status: domain.ReturnStatusAwaitingShipment},
			{ID: "ret_1", OrderID: orderID, Status: domain.ReturnStatusRejected},
		}, nil
	}

	tracked, err := fixture.service.Track(context.Background(), "tok_life_1")
	if err != nil {
		t.Fatalf("Track returned error: %v", err)
	}
	if tracked.Return == nil || tracked.Return.ID != "ret_2" {
		t.Fatalf("tracked return = %+v, want newest request ret_2", tracked.Return)
	}
	if tracked.Return.Status != domain.ReturnStatusAwaitingShipment {
		t.Fatalf("return status = %q", tracked.Return.Status)
	}
}

func TestTrackUnknownTokenReturnsNotFound(t *testing.T) {
	fixture := newTestOrderService(t, preparingOrder())

	_, err := fixture.service.Track(context.Background(), "tok_missing")
	if !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("Track error = %v, want ErrOrderNotFound", err)
	}
}
