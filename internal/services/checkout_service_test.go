package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	domain "github.com/yusufarbc/nalburdeposu-pern-ecommerce-sub000/internal/domain"
)

func fixedCatalog() *stubProductRepo {
	return &stubProductRepo{
		findAllFn: func(_ context.Context, ids []string) (map[string]domain.Product, error) {
			all := map[string]domain.Product{
				"prod_hammer":  {ID: "prod_hammer", SKU: "HAM-01", Name: "Claw Hammer", Price: 25000, WeightGrams: 1200, Active: true, Stock: 50},
				"prod_nails":   {ID: "prod_nails", SKU: "NLS-5KG", Name: "Nails 5kg Box", Price: 12500, WeightGrams: 300, Active: true, Stock: 200},
				"prod_retired": {ID: "prod_retired", SKU: "OLD-1", Name: "Retired Item", Price: 1000, WeightGrams: 100, Active: false},
			}
			result := map[string]domain.Product{}
			for _, id := range ids {
				if p, ok := all[id]; ok {
					result[id] = p
				}
			}
			return result, nil
		},
	}
}

func validCheckoutCommand() CreateOrderCommand {
	return CreateOrderCommand{
		Customer: CustomerSnapshot{FullName: "Ayse Yilmaz", Email: "Ayse@Example.com", Phone: "+905321112233"},
		Shipping: Address{
			Recipient: "Ayse Yilmaz",
			Line1:     "Sanayi Cad. No:5",
			District:  "Kadikoy",
			City:      "Istanbul",
		},
		Items: []CheckoutItem{
			{ProductID: "prod_hammer", Quantity: 2},
			{ProductID: "prod_nails", Quantity: 2},
		},
	}
}

func newTestCheckoutService(t *testing.T, deps CheckoutServiceDeps) CheckoutService {
	t.Helper()
	if deps.Orders == nil {
		deps.Orders = &stubOrderRepo{}
	}
	if deps.History == nil {
		deps.History = &stubHistoryRepo{}
	}
	if deps.Products == nil {
		deps.Products = fixedCatalog()
	}
	if deps.Counters == nil {
		deps.Counters = &stubCounterRepo{}
	}
	if deps.Shipping == nil {
		calc, err := NewShippingCalculator(ShippingCalculatorDeps{})
		if err != nil {
			t.Fatalf("new calculator: %v", err)
		}
		deps.Shipping = calc
	}
	if deps.Clock == nil {
		deps.Clock = func() time.Time { return time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC) }
	}
	if deps.IDGenerator == nil {
		deps.IDGenerator = func() string { return "000TEST" }
	}
	if deps.TokenGenerator == nil {
		deps.TokenGenerator = func() string { return "token-test" }
	}
	svc, err := NewCheckoutService(deps)
	if err != nil {
		t.Fatalf("new checkout service: %v", err)
	}
	return svc
}

func TestCreateOrderDerivesTotalsFromCatalog(t *testing.T) {
	var inserted domain.Order
	history := &stubHistoryRepo{}
	counters := &stubCounterRepo{
		nextFn: func(_ context.Context, counterID string, step int64) (int64, error) {
			if counterID != "orders" || step != 1 {
				t.Fatalf("unexpected counter call %s/%d", counterID, step)
			}
			return 42, nil
		},
	}
	events := &captureOrderEvents{}

	svc := newTestCheckoutService(t, CheckoutServiceDeps{
		Orders: &stubOrderRepo{
			insertFn: func(_ context.Context, order domain.Order) error {
				inserted = order
				return nil
			},
		},
		History:  history,
		Counters: counters,
		Events:   events,
	})

	order, err := svc.CreateOrder(context.Background(), validCheckoutCommand())
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	// 2x250.00 + 2x125.00 = 750.00; 2x1200g + 2x300g = 3000g -> 105.00 tier.
	if order.Totals.Subtotal != 75000 {
		t.Fatalf("subtotal = %d, want 75000", order.Totals.Subtotal)
	}
	if order.Totals.Shipping != 10500 {
		t.Fatalf("shipping = %d, want 10500", order.Totals.Shipping)
	}
	if order.Totals.Total != order.Totals.Subtotal+order.Totals.Shipping {
		t.Fatalf("total invariant broken: %+v", order.Totals)
	}
	if order.WeightGrams != 3000 {
		t.Fatalf("weight = %d, want 3000", order.WeightGrams)
	}

	if order.OrderNumber != "ND-2026-000042" {
		t.Fatalf("order number = %q", order.OrderNumber)
	}
	if order.TrackingToken != "token-test" {
		t.Fatalf("tracking token = %q", order.TrackingToken)
	}
	if order.Status != domain.OrderStatusPendingPayment {
		t.Fatalf("status = %s", order.Status)
	}
	if order.Payment.Status != domain.PaymentStatusPending {
		t.Fatalf("payment status = %s", order.Payment.Status)
	}
	if order.Customer.Email != "ayse@example.com" {
		t.Fatalf("email not normalised: %q", order.Customer.Email)
	}
	if inserted.ID != order.ID {
		t.Fatalf("persisted order mismatch: %q vs %q", inserted.ID, order.ID)
	}

	if len(history.appended) != 1 {
		t.Fatalf("expected one history entry, got %d", len(history.appended))
	}
	entry := history.appended[0]
	if entry.OrderID != order.ID || entry.FromStatus != "" || entry.ToStatus != domain.OrderStatusPendingPayment {
		t.Fatalf("unexpected opening history entry: %+v", entry)
	}
	if entry.Actor != domain.ActorCustomer {
		t.Fatalf("entry actor = %s", entry.Actor)
	}

	if len(events.events) != 1 || events.events[0].Type != "order.created" {
		t.Fatalf("unexpected events: %+v", events.events)
	}
}

func TestCreateOrderEndToEndTotals(t *testing.T) {
	// A 500.00 TL basket weighing exactly 3kg ships for 105.00 TL: 605.00 total.
	products := &stubProductRepo{
		findAllFn: func(_ context.Context, ids []string) (map[string]domain.Product, error) {
			return map[string]domain.Product{
				"prod_drill": {ID: "prod_drill", SKU: "DRL-1", Name: "Drill", Price: 50000, WeightGrams: 3000, Active: true},
			}, nil
		},
	}
	svc := newTestCheckoutService(t, CheckoutServiceDeps{Products: products})

	cmd := validCheckoutCommand()
	cmd.Items = []CheckoutItem{{ProductID: "prod_drill", Quantity: 1}}
	order, err := svc.CreateOrder(context.Background(), cmd)
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if order.Totals.Total != 60500 {
		t.Fatalf("total = %d, want 60500", order.Totals.Total)
	}
}

func TestCreateOrderConsolidatesDuplicateLines(t *testing.T) {
	svc := newTestCheckoutService(t, CheckoutServiceDeps{})

	cmd := validCheckoutCommand()
	cmd.Items = []CheckoutItem{
		{ProductID: "prod_nails", Quantity: 1},
		{ProductID: "prod_nails", Quantity: 2},
	}
	order, err := svc.CreateOrder(context.Background(), cmd)
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if len(order.Items) != 1 {
		t.Fatalf("expected one consolidated line, got %d", len(order.Items))
	}
	if order.Items[0].Quantity != 3 || order.Items[0].LineTotal != 37500 {
		t.Fatalf("unexpected consolidated line: %+v", order.Items[0])
	}
}

func TestCreateOrderRejectsInactiveProduct(t *testing.T) {
	svc := newTestCheckoutService(t, CheckoutServiceDeps{})

	cmd := validCheckoutCommand()
	cmd.Items = []CheckoutItem{{ProductID: "prod_retired", Quantity: 1}}
	if _, err := svc.CreateOrder(context.Background(), cmd); !errors.Is(err, ErrCheckoutProductUnavailable) {
		t.Fatalf("expected product unavailable, got %v", err)
	}

	cmd.Items = []CheckoutItem{{ProductID: "prod_ghost", Quantity: 1}}
	if _, err := svc.CreateOrder(context.Background(), cmd); !errors.Is(err, ErrCheckoutProductUnavailable) {
		t.Fatalf("expected product unavailable for unknown id, got %v", err)
	}
}

func TestCreateOrderValidation(t *testing.T) {
	svc := newTestCheckoutService(t, CheckoutServiceDeps{})

	cases := map[string]func(*CreateOrderCommand){
		"empty cart":        func(c *CreateOrderCommand) { c.Items = nil },
		"zero quantity":     func(c *CreateOrderCommand) { c.Items[0].Quantity = 0 },
		"missing name":      func(c *CreateOrderCommand) { c.Customer.FullName = " " },
		"malformed email":   func(c *CreateOrderCommand) { c.Customer.Email = "not-an-email" },
		"missing phone":     func(c *CreateOrderCommand) { c.Customer.Phone = "" },
		"missing recipient": func(c *CreateOrderCommand) { c.Shipping.Recipient = "" },
		"missing city":      func(c *CreateOrderCommand) { c.Shipping.City = "" },
		"corporate invoice without tax number": func(c *CreateOrderCommand) {
			c.Invoice = &InvoiceSnapshot{Type: domain.InvoiceTypeCorporate, CompanyName: "Acme", TaxOffice: "Kadikoy"}
		},
	}

	for name, mutate := range cases {
		cmd := validCheckoutCommand()
		mutate(&cmd)
		if _, err := svc.CreateOrder(context.Background(), cmd); !errors.Is(err, ErrCheckoutInvalidInput) {
			t.Errorf("%s: expected invalid input, got %v", name, err)
		}
	}
}

func TestCreateOrderPersistsOrderAndHistoryInOneUnit(t *testing.T) {
	var txCalls int
	var insertedInTx, appendedInTx bool
	unit := &stubUnitOfWork{
		runFn: func(ctx context.Context, fn func(context.Context) error) error {
			txCalls++
			return fn(context.WithValue(ctx, txMarkerKey{}, true))
		},
	}
	orders := &stubOrderRepo{
		insertFn: func(ctx context.Context, _ domain.Order) error {
			insertedInTx, _ = ctx.Value(txMarkerKey{}).(bool)
			return nil
		},
	}
	history := &stubHistoryRepo{
		appendFn: func(ctx context.Context, _ domain.OrderHistoryEntry) error {
			appendedInTx, _ = ctx.Value(txMarkerKey{}).(bool)
			return nil
		},
	}

	svc := newTestCheckoutService(t, CheckoutServiceDeps{
		Orders:     orders,
		History:    history,
		UnitOfWork: unit,
	})

	if _, err := svc.CreateOrder(context.Background(), validCheckoutCommand()); err != nil {
		t.Fatalf("create order: %v", err)
	}
	if txCalls != 1 {
		t.Fatalf("expected one transaction, got %d", txCalls)
	}
	if !insertedInTx || !appendedInTx {
		t.Fatalf("expected both writes inside the transaction (insert=%v append=%v)", insertedInTx, appendedInTx)
	}
}

func TestRandomTrackingTokenIsHexAndUnique(t *testing.T) {
	a := randomTrackingToken()
	b := randomTrackingToken()
	if a == b {
		t.Fatal("tokens must differ")
	}
	if len(a) != trackingTokenBytes*2 {
		t.Fatalf("token length = %d, want %d", len(a), trackingTokenBytes*2)
	}
	if strings.ToLower(a) != a {
		t.Fatalf("token should be lowercase hex: %q", a)
	}
}

type txMarkerKey struct{}
