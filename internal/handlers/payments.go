package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/yusufarbc/nalburdeposu-pern-ecommerce-sub000/internal/domain"
	"github.com/yusufarbc/nalburdeposu-pern-ecommerce-sub000/internal/gateway"
	"github.com/yusufarbc/nalburdeposu-pern-ecommerce-sub000/internal/platform/httpx"
	"github.com/yusufarbc/nalburdeposu-pern-ecommerce-sub000/internal/services"
)

const (
	maxPaymentBodySize   = 16 * 1024
	maxCallbackBodySize  = 32 * 1024
	paymentResultSuccess = "paid"
	paymentResultFailed  = "failed"
)

// PaymentHandlers exposes the payment initiation and bank callback endpoints.
type PaymentHandlers struct {
	payments services.PaymentService
	limiter  RateLimiter

	// redirectBaseURL is the storefront URL the shopper's browser is sent to
	// after the bank callback lands. Empty means a JSON response.
	redirectBaseURL string
	clock           func() time.Time
}

// PaymentOption customises PaymentHandlers construction.
type PaymentOption func(*PaymentHandlers)

// WithPaymentRedirectBaseURL sets the storefront result page base URL.
func WithPaymentRedirectBaseURL(base string) PaymentOption {
	return func(h *PaymentHandlers) {
		h.redirectBaseURL = strings.TrimRight(strings.TrimSpace(base), "/")
	}
}

// WithPaymentRateLimiter guards the initiate endpoint against brute force.
func WithPaymentRateLimiter(limiter RateLimiter) PaymentOption {
	return func(h *PaymentHandlers) {
		h.limiter = limiter
	}
}

// WithPaymentClock injects a custom clock (useful for tests).
func WithPaymentClock(clock func() time.Time) PaymentOption {
	return func(h *PaymentHandlers) {
		if clock != nil {
			h.clock = clock
		}
	}
}

// NewPaymentHandlers constructs a new PaymentHandlers instance.
func NewPaymentHandlers(payments services.PaymentService, opts ...PaymentOption) *PaymentHandlers {
	h := &PaymentHandlers{payments: payments, clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /payment endpoints.
func (h *PaymentHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/initiate", h.initiate)
	r.Get("/installments", h.installmentOptions)
	r.Post("/success", h.callback)
	r.Post("/error", h.callback)
}

type initiatePaymentRequest struct {
	TrackingToken string `json:"tracking_token"`
	Installments  int    `json:"installments"`
	Card          struct {
		HolderName  string `json:"holder_name"`
		Number      string `json:"number"`
		ExpiryMonth string `json:"expiry_month"`
		ExpiryYear  string `json:"expiry_year"`
		CVV         string `json:"cvv"`
	} `json:"card"`
}

type initiatePaymentResponse struct {
	Action string            `json:"action"`
	Fields map[string]string `json:"fields"`
	HTML   string            `json:"html"`
}

func (h *PaymentHandlers) initiate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_unavailable", "payment service unavailable", http.StatusServiceUnavailable))
		return
	}
	if h.limiter != nil && !h.limiter.Allow(r.RemoteAddr) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many payment attempts", http.StatusTooManyRequests))
		return
	}

	body, err := readLimitedBody(r, maxPaymentBodySize)
	if err != nil {
		switch {
		case errors.Is(err, errBodyTooLarge):
			httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		}
		return
	}

	var req initiatePaymentRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}

	form, err := h.payments.Initiate(ctx, services.InitiatePaymentCommand{
		TrackingToken: req.TrackingToken,
		Installments:  req.Installments,
		Card: gateway.Card{
			HolderName:  req.Card.HolderName,
			Number:      req.Card.Number,
			ExpiryMonth: req.Card.ExpiryMonth,
			ExpiryYear:  req.Card.ExpiryYear,
			CVV:         req.Card.CVV,
		},
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, initiatePaymentResponse{
		Action: form.Action,
		Fields: form.Fields,
		HTML:   form.HTML,
	})
}

type installmentOptionPayload struct {
	Count      int   `json:"count"`
	TotalMinor int64 `json:"total"`
}

func (h *PaymentHandlers) installmentOptions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_unavailable", "payment service unavailable", http.StatusServiceUnavailable))
		return
	}

	query := r.URL.Query()
	token := strings.TrimSpace(query.Get("token"))
	bin := strings.TrimSpace(query.Get("bin"))
	if token == "" || bin == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "token and bin query parameters are required", http.StatusBadRequest))
		return
	}

	options, err := h.payments.InstallmentOptions(ctx, token, bin)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	items := make([]installmentOptionPayload, 0, len(options))
	for _, option := range options {
		items = append(items, installmentOptionPayload{
			Count:      option.Count,
			TotalMinor: option.TotalMinor,
		})
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"options": items})
}

// callback ingests the bank's 3D-Secure result. The same handler serves the
// success and error legs since the payload signature decides the outcome.
func (h *PaymentHandlers) callback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_unavailable", "payment service unavailable", http.StatusServiceUnavailable))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxCallbackBodySize)
	if err := r.ParseForm(); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid form payload", http.StatusBadRequest))
		return
	}

	result, err := parseCallbackForm(r.PostForm, h.clock().UTC())
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	order, err := h.payments.HandleCallback(ctx, result)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	outcome := paymentResultFailed
	if order.Payment.Status == domain.PaymentStatusSucceeded {
		outcome = paymentResultSuccess
	}

	if h.redirectBaseURL != "" {
		target := h.redirectBaseURL + "/orders/result?" + url.Values{
			"order":  []string{order.OrderNumber},
			"status": []string{outcome},
		}.Encode()
		http.Redirect(w, r, target, http.StatusSeeOther)
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]any{
		"order_number": order.OrderNumber,
		"status":       outcome,
	})
}

func parseCallbackForm(form url.Values, receivedAt time.Time) (gateway.CallbackResult, error) {
	orderNumber := strings.TrimSpace(form.Get("orderNumber"))
	if orderNumber == "" {
		return gateway.CallbackResult{}, errors.New("orderNumber field is required")
	}

	result := gateway.CallbackResult{
		OrderNumber: orderNumber,
		TxnID:       strings.TrimSpace(form.Get("txnId")),
		CardBrand:   strings.TrimSpace(form.Get("cardBrand")),
		FailureCode: strings.TrimSpace(form.Get("errorCode")),
		FailureText: strings.TrimSpace(form.Get("errorMessage")),
		Hash:        strings.TrimSpace(form.Get("hash")),
		ReceivedAt:  receivedAt,
	}

	switch strings.ToLower(strings.TrimSpace(form.Get("status"))) {
	case "approved", "success", "1":
		result.Approved = true
	}

	if raw := strings.TrimSpace(form.Get("txnAmount")); raw != "" {
		amount, err := gateway.ParseAmount(raw)
		if err != nil {
			return gateway.CallbackResult{}, errors.New("txnAmount field is malformed")
		}
		result.AmountMinor = amount
	}
	if raw := strings.TrimSpace(form.Get("totalAmount")); raw != "" {
		total, err := gateway.ParseAmount(raw)
		if err != nil {
			return gateway.CallbackResult{}, errors.New("totalAmount field is malformed")
		}
		result.TotalMinor = total
	}
	if raw := strings.TrimSpace(form.Get("installments")); raw != "" {
		installments, err := strconv.Atoi(raw)
		if err != nil || installments < 0 {
			return gateway.CallbackResult{}, errors.New("installments field is malformed")
		}
		result.Installments = installments
	}

	return result, nil
}
