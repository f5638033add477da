package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/yusufarbc/nalburdeposu-pern-ecommerce-sub000/internal/platform/httpx"
	"github.com/yusufarbc/nalburdeposu-pern-ecommerce-sub000/internal/services"
)

const maxOrderActionBodySize = 8 * 1024

// OrderHandlers exposes the shopper-facing tracking and cancellation
// endpoints. Both resolve orders through the opaque tracking token; order IDs
// never leave the internal surface.
type OrderHandlers struct {
	orders services.OrderService
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(orders services.OrderService) *OrderHandlers {
	return &OrderHandlers{orders: orders}
}

// Routes registers the public /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/track", h.track)
	r.Post("/cancel", h.cancel)
}

type trackOrderResponse struct {
	Order   orderPayload          `json:"order"`
	History []historyEntryPayload `json:"history"`
	Return  *returnPayload        `json:"return,omitempty"`
}

func (h *OrderHandlers) track(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("orders_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	token := strings.TrimSpace(r.URL.Query().Get("token"))
	if token == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "token query parameter is required", http.StatusBadRequest))
		return
	}

	tracked, err := h.orders.Track(ctx, token)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	resp := trackOrderResponse{
		Order:   buildOrderPayload(tracked.Order),
		History: buildHistoryPayload(tracked.History),
	}
	if tracked.Return != nil {
		payload := buildReturnPayload(*tracked.Return)
		resp.Return = &payload
	}
	writeJSONResponse(w, http.StatusOK, resp)
}

type cancelOrderRequest struct {
	TrackingToken string `json:"tracking_token"`
	Reason        string `json:"reason"`
}

func (h *OrderHandlers) cancel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("orders_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, maxOrderActionBodySize)
	if err != nil {
		switch {
		case errors.Is(err, errBodyTooLarge):
			httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		}
		return
	}

	var req cancelOrderRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}

	order, err := h.orders.CancelByToken(ctx, req.TrackingToken, req.Reason)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"order": buildOrderPayload(order)})
}
