package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/yusufarbc/nalburdeposu-pern-ecommerce-sub000/internal/domain"
	"github.com/yusufarbc/nalburdeposu-pern-ecommerce-sub000/internal/services"
)

type stubOrderService struct {
	trackFn         func(ctx context.Context, token string) (services.TrackedOrder, error)
	cancelByTokenFn func(ctx context.Context, token, reason string) (domain.Order, error)
	getFn           func(ctx context.Context, orderID string) (domain.Order, error)
	listFn          func(ctx context.Context, filter services.OrderListFilter) (domain.CursorPage[domain.Order], error)
	historyFn       func(ctx context.Context, orderID string) ([]domain.OrderHistoryEntry, error)
	transitionFn    func(ctx context.Context, cmd services.OrderStatusTransitionCommand) (domain.Order, error)
	shipFn          func(ctx context.Context, cmd services.ShipOrderCommand) (domain.Order, error)
	cancelFn        func(ctx context.Context, cmd services.CancelOrderCommand) (domain.Order, error)

	transitions []services.OrderStatusTransitionCommand
	shipments   []services.ShipOrderCommand
	cancels     []services.CancelOrderCommand
}

func (s *stubOrderService) Track(ctx context.Context, token string) (services.TrackedOrder, error) {
	if s.trackFn != nil {
		return s.trackFn(ctx, token)
	}
	return services.TrackedOrder{}, nil
}

func (s *stubOrderService) CancelByToken(ctx context.Context, token, reason string) (domain.Order, error) {
	if s.cancelByTokenFn != nil {
		return s.cancelByTokenFn(ctx, token, reason)
	}
	return domain.Order{}, nil
}

func (s *stubOrderService) Get(ctx context.Context, orderID string) (domain.Order, error) {
	if s.getFn != nil {
		return s.getFn(ctx, orderID)
	}
	return domain.Order{}, nil
}

func (s *stubOrderService) List(ctx context.Context, filter services.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return domain.CursorPage[domain.Order]{}, nil
}

func (s *stubOrderService) History(ctx context.Context, orderID string) ([]domain.OrderHistoryEntry, error) {
	if s.historyFn != nil {
		return s.historyFn(ctx, orderID)
	}
	return nil, nil
}

func (s *stubOrderService) Transition(ctx context.Context, cmd services.OrderStatusTransitionCommand) (domain.Order, error) {
	s.transitions = append(s.transitions, cmd)
	if s.transitionFn != nil {
		return s.transitionFn(ctx, cmd)
	}
	return domain.Order{}, nil
}

func (s *stubOrderService) Ship(ctx context.Context, cmd services.ShipOrderCommand) (domain.Order, error) {
	s.shipments = append(s.shipments, cmd)
	if s.shipFn != nil {
		return s.shipFn(ctx, cmd)
	}
	return domain.Order{}, nil
}

func (s *stubOrderService) Cancel(ctx context.Context, cmd services.CancelOrderCommand) (domain.Order, error) {
	s.cancels = append(s.cancels, cmd)
	if s.cancelFn != nil {
		return s.cancelFn(ctx, cmd)
	}
	return domain.Order{}, nil
}

func newOrderTestServer(t *testing.T, svc services.OrderService) *httptest.Server {
	t.Helper()
	router := chi.NewRouter()
	router.Route("/orders", NewOrderHandlers(svc).Routes)
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return server
}

func TestTrackReturnsOrderAndHistory(t *testing.T) {
	tracked := services.TrackedOrder{
		Order: checkoutTestOrder(),
		History: []domain.OrderHistoryEntry{
			{
				OrderID:   "ord_chk_1",
				ToStatus:  domain.OrderStatusPendingPayment,
				Actor:     domain.ActorCustomer,
				Note:      "order created",
				CreatedAt: time.Date(2026, time.April, 1, 9, 30, 0, 0, time.UTC),
			},
		},
	}
	tracked.Order.ShippingAddr = domain.Address{District: "Kadıköy", City: "İstanbul", Country: "TR"}

	stub := &stubOrderService{
		trackFn: func(_ context.Context, token string) (services.TrackedOrder, error) {
			if token != "tok_chk_1" {
				t.Fatalf("unexpected token %q", token)
			}
			return tracked, nil
		},
	}
	server := newOrderTestServer(t, stub)

	resp, err := http.Get(server.URL + "/orders/track?token=tok_chk_1")
	if err != nil {
		t.Fatalf("get track: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body trackOrderResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Order.OrderNumber != "ND-2026-000042" {
		t.Fatalf("unexpected order number %q", body.Order.OrderNumber)
	}
	if len(body.History) != 1 || body.History[0].ToStatus != "pending_payment" {
		t.Fatalf("unexpected history payload: %+v", body.History)
	}
	if body.Order.ShippingAddr == nil || body.Order.ShippingAddr.Recipient != "" || body.Order.ShippingAddr.City != "İstanbul" {
		t.Fatalf("expected redacted address passthrough, got %+v", body.Order.ShippingAddr)
	}
	if body.Return != nil {
		t.Fatalf("expected no return payload, got %+v", body.Return)
	}
}

func TestTrackIncludesReturnRequest(t *testing.T) {
	tracked := services.TrackedOrder{
		Order: checkoutTestOrder(),
		Return: &domain.ReturnRequest{
			ID:      "ret_1",
			OrderID: "ord_chk_1",
			Type:    domain.ReturnTypeDefective,
			Status:  domain.ReturnStatusAwaitingShipment,
			Reason:  "handle snapped on first use",
		},
	}

	stub := &stubOrderService{
		trackFn: func(context.Context, string) (services.TrackedOrder, error) { return tracked, nil },
	}
	server := newOrderTestServer(t, stub)

	resp, err := http.Get(server.URL + "/orders/track?token=tok_chk_1")
	if err != nil {
		t.Fatalf("get track: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body trackOrderResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Return == nil || body.Return.ID != "ret_1" {
		t.Fatalf("return payload = %+v, want ret_1", body.Return)
	}
	if body.Return.Status != "awaiting_customer_shipment" {
		t.Fatalf("return status = %q", body.Return.Status)
	}
}

func TestTrackRequiresToken(t *testing.T) {
	server := newOrderTestServer(t, &stubOrderService{})

	resp, err := http.Get(server.URL + "/orders/track")
	if err != nil {
		t.Fatalf("get track: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestTrackUnknownTokenIsNotFound(t *testing.T) {
	stub := &stubOrderService{
		trackFn: func(_ context.Context, _ string) (services.TrackedOrder, error) {
			return services.TrackedOrder{}, fmt.Errorf("%w: tracking token", services.ErrOrderNotFound)
		},
	}
	server := newOrderTestServer(t, stub)

	resp, err := http.Get(server.URL + "/orders/track?token=tok_missing")
	if err != nil {
		t.Fatalf("get track: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestCancelByTokenReturnsUpdatedOrder(t *testing.T) {
	canceled := checkoutTestOrder()
	canceled.Status = domain.OrderStatusCanceled
	canceled.CancelReason = valueRef("changed my mind")

	stub := &stubOrderService{
		cancelByTokenFn: func(_ context.Context, token, reason string) (domain.Order, error) {
			if token != "tok_chk_1" || reason != "changed my mind" {
				t.Fatalf("unexpected cancel args token=%q reason=%q", token, reason)
			}
			return canceled, nil
		},
	}
	server := newOrderTestServer(t, stub)

	payload := `{"tracking_token": "tok_chk_1", "reason": "changed my mind"}`
	resp, err := http.Post(server.URL+"/orders/cancel", "application/json", strings.NewReader(payload))
	if err != nil {
		t.Fatalf("post cancel: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body struct {
		Order orderPayload `json:"order"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Order.Status != "canceled" {
		t.Fatalf("expected canceled status, got %q", body.Order.Status)
	}
}

func TestCancelByTokenMapsInvalidState(t *testing.T) {
	stub := &stubOrderService{
		cancelByTokenFn: func(_ context.Context, _, _ string) (domain.Order, error) {
			return domain.Order{}, fmt.Errorf("%w: shipped", services.ErrOrderInvalidState)
		},
	}
	server := newOrderTestServer(t, stub)

	payload := `{"tracking_token": "tok_chk_1", "reason": "too late"}`
	resp, err := http.Post(server.URL+"/orders/cancel", "application/json", strings.NewReader(payload))
	if err != nil {
		t.Fatalf("post cancel: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}
}
