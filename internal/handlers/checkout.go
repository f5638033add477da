package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/yusufarbc/nalburdeposu-pern-ecommerce-sub000/internal/domain"
	"github.com/yusufarbc/nalburdeposu-pern-ecommerce-sub000/internal/platform/httpx"
	"github.com/yusufarbc/nalburdeposu-pern-ecommerce-sub000/internal/services"
)

const maxCheckoutBodySize = 64 * 1024

// CheckoutHandlers exposes the guest checkout endpoint.
type CheckoutHandlers struct {
	checkout services.CheckoutService
	limiter  RateLimiter
}

// NewCheckoutHandlers constructs a new CheckoutHandlers instance.
func NewCheckoutHandlers(checkout services.CheckoutService, limiter RateLimiter) *CheckoutHandlers {
	return &CheckoutHandlers{checkout: checkout, limiter: limiter}
}

// Routes registers the /checkout endpoints.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/", h.createOrder)
}

type checkoutRequest struct {
	Customer struct {
		FullName string `json:"full_name"`
		Email    string `json:"email"`
		Phone    string `json:"phone"`
	} `json:"customer"`
	ShippingAddress struct {
		Recipient  string  `json:"recipient"`
		Line1      string  `json:"line1"`
		Line2      *string `json:"line2"`
		District   string  `json:"district"`
		City       string  `json:"city"`
		PostalCode string  `json:"postal_code"`
		Country    string  `json:"country"`
		Phone      *string `json:"phone"`
	} `json:"shipping_address"`
	Invoice *struct {
		Type        string `json:"type"`
		CompanyName string `json:"company_name"`
		TaxOffice   string `json:"tax_office"`
		TaxNumber   string `json:"tax_number"`
	} `json:"invoice"`
	Items []struct {
		ProductID string `json:"product_id"`
		Quantity  int    `json:"quantity"`
	} `json:"items"`
}

type checkoutResponse struct {
	Order         orderPayload `json:"order"`
	TrackingToken string       `json:"tracking_token"`
}

func (h *CheckoutHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return
	}
	if h.limiter != nil && !h.limiter.Allow(r.RemoteAddr) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many checkout attempts", http.StatusTooManyRequests))
		return
	}

	body, err := readLimitedBody(r, maxCheckoutBodySize)
	if err != nil {
		switch {
		case errors.Is(err, errBodyTooLarge):
			httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		}
		return
	}

	var req checkoutRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}

	cmd := services.CreateOrderCommand{
		Customer: domain.CustomerSnapshot{
			FullName: req.Customer.FullName,
			Email:    req.Customer.Email,
			Phone:    req.Customer.Phone,
		},
		Shipping: domain.Address{
			Recipient:  req.ShippingAddress.Recipient,
			Line1:      req.ShippingAddress.Line1,
			Line2:      req.ShippingAddress.Line2,
			District:   req.ShippingAddress.District,
			City:       req.ShippingAddress.City,
			PostalCode: req.ShippingAddress.PostalCode,
			Country:    req.ShippingAddress.Country,
			Phone:      req.ShippingAddress.Phone,
		},
	}
	if req.Invoice != nil {
		cmd.Invoice = &domain.InvoiceSnapshot{
			Type:        domain.InvoiceType(strings.ToLower(strings.TrimSpace(req.Invoice.Type))),
			CompanyName: req.Invoice.CompanyName,
			TaxOffice:   req.Invoice.TaxOffice,
			TaxNumber:   req.Invoice.TaxNumber,
		}
	}
	for _, item := range req.Items {
		cmd.Items = append(cmd.Items, services.CheckoutItem{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
		})
	}

	order, err := h.checkout.CreateOrder(ctx, cmd)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, checkoutResponse{
		Order:         buildOrderPayload(order),
		TrackingToken: order.TrackingToken,
	})
}
