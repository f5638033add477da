package gateway

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func testProvider(t *testing.T, handler http.Handler) (*BankPOSProvider, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	provider, err := NewBankPOSProvider(BankPOSConfig{
		BaseURL:     server.URL,
		ClientCode:  "100001",
		GatewayGUID: "guid-test",
		StoreKey:    "store-key-test",
		HTTPClient:  server.Client(),
		Clock: func() time.Time {
			return time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
		},
	})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	return provider, server
}

func TestFormatAmount(t *testing.T) {
	cases := map[int64]string{
		0:     "0.00",
		5:     "0.05",
		60500: "605.00",
		10550: "105.50",
		-250:  "-2.50",
	}
	for minor, expected := range cases {
		if got := FormatAmount(minor); got != expected {
			t.Errorf("FormatAmount(%d) = %q, want %q", minor, got, expected)
		}
	}
}

func TestParseAmount(t *testing.T) {
	cases := map[string]int64{
		"605.00": 60500,
		"605,5":  60550,
		"0.05":   5,
		"12":     1200,
		"-2.50":  -250,
	}
	for raw, expected := range cases {
		got, err := ParseAmount(raw)
		if err != nil {
			t.Fatalf("ParseAmount(%q): %v", raw, err)
		}
		if got != expected {
			t.Errorf("ParseAmount(%q) = %d, want %d", raw, got, expected)
		}
	}
	if _, err := ParseAmount("abc"); err == nil {
		t.Fatal("expected error for non-numeric amount")
	}
}

func TestInitiateBuildsAutoSubmitForm(t *testing.T) {
	var seenHash, seenCard string
	provider, _ := testProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != pathInitiate {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		seenHash = r.PostForm.Get("hash")
		seenCard = r.PostForm.Get("cardNumber")
		if got := r.PostForm.Get("txnAmount"); got != "605.00" {
			t.Errorf("txnAmount = %q, want 605.00", got)
		}
		if got := r.PostForm.Get("buyerName"); got != "Gul Celik" {
			t.Errorf("buyerName = %q, want folded ascii", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok","redirectUrl":"https://3ds.bank.example/challenge","fields":{"md":"md-123","txnId":"txn-1"}}`))
	}))

	form, err := provider.Initiate(context.Background(), PaymentRequest{
		OrderNumber:  "ND-2026-000001",
		TxnAmount:    60500,
		TotalAmount:  60500,
		Installments: 1,
		Card: Card{
			HolderName:  "Gül Çelik",
			Number:      "4111 1111 1111 1111",
			ExpiryMonth: "09",
			ExpiryYear:  "2028",
			CVV:         "123",
		},
		Buyer:      Buyer{FullName: "Gül Çelik", Email: "gul@example.com", City: "İstanbul"},
		SuccessURL: "https://shop.example/payment/success",
		FailURL:    "https://shop.example/payment/error",
	})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}

	if seenCard != "4111111111111111" {
		t.Errorf("card number not normalised: %q", seenCard)
	}
	expectedHash := computeDigest(digestInput{
		ClientCode:   "100001",
		GatewayGUID:  "guid-test",
		Installments: 1,
		TxnAmount:    60500,
		TotalAmount:  60500,
		OrderNumber:  "ND-2026-000001",
	}, "store-key-test")
	if seenHash != expectedHash {
		t.Errorf("request hash mismatch:\n got %s\nwant %s", seenHash, expectedHash)
	}

	if form.Action != "https://3ds.bank.example/challenge" {
		t.Errorf("unexpected action %q", form.Action)
	}
	if !strings.Contains(form.HTML, `action="https://3ds.bank.example/challenge"`) {
		t.Errorf("html missing form action: %s", form.HTML)
	}
	if !strings.Contains(form.HTML, `name="md" value="md-123"`) {
		t.Errorf("html missing hidden field: %s", form.HTML)
	}
	if !strings.Contains(form.HTML, "document.forms[0].submit()") {
		t.Errorf("html is not auto-submitting: %s", form.HTML)
	}
}

func TestInitiateDeclined(t *testing.T) {
	provider, _ := testProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"declined","code":"51","message":"insufficient funds"}`))
	}))

	_, err := provider.Initiate(context.Background(), PaymentRequest{
		OrderNumber: "ND-2026-000002",
		TxnAmount:   1000,
		TotalAmount: 1000,
	})
	if !errors.Is(err, ErrDeclined) {
		t.Fatalf("expected declined error, got %v", err)
	}
	var coded *ResponseError
	if !errors.As(err, &coded) || coded.Code != "51" {
		t.Fatalf("expected coded response error with code 51, got %v", err)
	}
}

func TestInitiateUnavailable(t *testing.T) {
	provider, server := testProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	_ = server

	_, err := provider.Initiate(context.Background(), PaymentRequest{
		OrderNumber: "ND-2026-000003",
		TxnAmount:   1000,
		TotalAmount: 1000,
	})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected unavailable error, got %v", err)
	}
}

func TestVerifyCallback(t *testing.T) {
	provider, _ := testProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	in := digestInput{
		ClientCode:   "100001",
		GatewayGUID:  "guid-test",
		Installments: 1,
		TxnAmount:    60500,
		TotalAmount:  60500,
		OrderNumber:  "ND-2026-000001",
	}
	result := CallbackResult{
		OrderNumber: "ND-2026-000001",
		TxnID:       "txn-1",
		Approved:    true,
		AmountMinor: 60500,
		Hash:        computeDigest(in, "store-key-test"),
	}
	if err := provider.VerifyCallback(context.Background(), result); err != nil {
		t.Fatalf("verify callback: %v", err)
	}

	result.Hash = computeDigest(in, "wrong-key")
	if err := provider.VerifyCallback(context.Background(), result); !errors.Is(err, ErrSignatureMismatch) {
		t.Fatalf("expected signature mismatch, got %v", err)
	}

	// Tampered amount must also fail even with the original hash.
	result.Hash = computeDigest(in, "store-key-test")
	result.AmountMinor = 100
	if err := provider.VerifyCallback(context.Background(), result); !errors.Is(err, ErrSignatureMismatch) {
		t.Fatalf("expected signature mismatch for tampered amount, got %v", err)
	}
}

func TestCancelAndRefund(t *testing.T) {
	provider, _ := testProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case pathCancel:
			if r.PostForm.Get("txnId") != "txn-9" {
				t.Errorf("cancel txnId = %q", r.PostForm.Get("txnId"))
			}
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		case pathRefund:
			if r.PostForm.Get("amount") != "605.00" {
				t.Errorf("refund amount = %q", r.PostForm.Get("amount"))
			}
			_, _ = w.Write([]byte(`{"status":"ok","txnId":"refund-1"}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))

	if err := provider.Cancel(context.Background(), "txn-9"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	result, err := provider.Refund(context.Background(), "txn-9", 60500)
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if result.TxnID != "refund-1" {
		t.Errorf("refund txn id = %q, want refund-1", result.TxnID)
	}
}

func TestRefundDeclinedKeepsCode(t *testing.T) {
	provider, _ := testProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"error","code":"R08","message":"already refunded"}`))
	}))

	_, err := provider.Refund(context.Background(), "txn-9", 60500)
	if !errors.Is(err, ErrDeclined) {
		t.Fatalf("expected declined, got %v", err)
	}
	var coded *ResponseError
	if !errors.As(err, &coded) || coded.Code != "R08" {
		t.Fatalf("expected code R08, got %v", err)
	}
}

func TestInstallmentOptionsCachesByBIN(t *testing.T) {
	var calls atomic.Int32
	provider, _ := testProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok","options":[{"count":1,"total":"605.00"},{"count":3,"total":"623.15"}]}`))
	}))

	first, err := provider.InstallmentOptions(context.Background(), "411111", 60500)
	if err != nil {
		t.Fatalf("installment options: %v", err)
	}
	if len(first) != 2 || first[1].Count != 3 || first[1].TotalMinor != 62315 {
		t.Fatalf("unexpected options: %+v", first)
	}

	// Full PAN input is trimmed to the 6-digit BIN, so this hits the cache.
	if _, err := provider.InstallmentOptions(context.Background(), "4111111111111111", 60500); err != nil {
		t.Fatalf("cached lookup: %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected a single upstream call, got %d", calls.Load())
	}

	// A different amount is a different cache key.
	if _, err := provider.InstallmentOptions(context.Background(), "411111", 70000); err != nil {
		t.Fatalf("second amount lookup: %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected two upstream calls, got %d", calls.Load())
	}
}

func TestFoldASCII(t *testing.T) {
	cases := map[string]string{
		"Gül Çelik":      "Gul Celik",
		"İstanbul":       "Istanbul",
		"ışık Sokağı 12": "isik Sokagi 12",
		"Ömer Şükrü":     "Omer Sukru",
		"plain ascii 42": "plain ascii 42",
	}
	for input, expected := range cases {
		if got := foldASCII(input); got != expected {
			t.Errorf("foldASCII(%q) = %q, want %q", input, got, expected)
		}
	}
}
