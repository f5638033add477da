package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/yusufarbc/nalburdeposu-pern-ecommerce-sub000/internal/domain"
	"github.com/yusufarbc/nalburdeposu-pern-ecommerce-sub000/internal/platform/httpx"
	"github.com/yusufarbc/nalburdeposu-pern-ecommerce-sub000/internal/platform/pagination"
	"github.com/yusufarbc/nalburdeposu-pern-ecommerce-sub000/internal/repositories"
	"github.com/yusufarbc/nalburdeposu-pern-ecommerce-sub000/internal/services"
)

const (
	maxAdminBodySize     = 32 * 1024
	defaultAdminPageSize = 50
	maxAdminPageSize     = 200
)

// AdminHandlers exposes the staff-facing order operations. The router mounts
// these behind the OIDC validator and role middleware; the handlers assume an
// authenticated staff identity.
type AdminHandlers struct {
	orders   services.OrderService
	returns  services.ReturnService
	counters services.CounterService
}

// AdminOption customises AdminHandlers construction.
type AdminOption func(*AdminHandlers)

// WithAdminOrderService injects the order lifecycle service.
func WithAdminOrderService(orders services.OrderService) AdminOption {
	return func(h *AdminHandlers) {
		h.orders = orders
	}
}

// WithAdminReturnService injects the return workflow service.
func WithAdminReturnService(returns services.ReturnService) AdminOption {
	return func(h *AdminHandlers) {
		h.returns = returns
	}
}

// WithAdminCounterService injects the sequence counter service.
func WithAdminCounterService(counters services.CounterService) AdminOption {
	return func(h *AdminHandlers) {
		h.counters = counters
	}
}

// NewAdminHandlers constructs a new AdminHandlers instance.
func NewAdminHandlers(opts ...AdminOption) *AdminHandlers {
	h := &AdminHandlers{}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the internal admin endpoints.
func (h *AdminHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Route("/orders", func(r chi.Router) {
		r.Get("/", h.listOrders)
		r.Route("/{orderID}", func(r chi.Router) {
			r.Get("/", h.getOrder)
			r.Get("/history", h.orderHistory)
			r.Post("/transition", h.transitionOrder)
			r.Post("/ship", h.shipOrder)
			r.Post("/cancel", h.cancelOrder)
			r.Route("/returns", func(r chi.Router) {
				r.Get("/", h.listReturns)
				r.Post("/{returnID}/approve", h.approveReturn)
				r.Post("/{returnID}/reject", h.rejectReturn)
				r.Post("/{returnID}/complete", h.completeReturn)
			})
		})
	})
	r.Post("/counters/{counterID}/configure", h.configureCounter)
}

func (h *AdminHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("orders_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	query := r.URL.Query()
	params, err := pagination.FromRequest(r, pagination.Options{
		DefaultPageSize: defaultAdminPageSize,
		MaxPageSize:     maxAdminPageSize,
	})
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid pagination parameters", http.StatusBadRequest))
		return
	}
	filter := services.OrderListFilter{
		Status: parseFilterValues(query["status"]),
		Pagination: domain.Pagination{
			PageSize:  params.PageSize,
			PageToken: params.PageToken,
		},
	}
	if raw := strings.TrimSpace(query.Get("createdFrom")); raw != "" {
		from, err := parseTimeParam(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "createdFrom must be an RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		filter.DateRange.From = &from
	}
	if raw := strings.TrimSpace(query.Get("createdTo")); raw != "" {
		to, err := parseTimeParam(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "createdTo must be an RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		filter.DateRange.To = &to
	}

	page, err := h.orders.List(ctx, filter)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	items := make([]orderPayload, 0, len(page.Items))
	for _, order := range page.Items {
		items = append(items, buildOrderPayload(order))
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{
		"orders":          items,
		"next_page_token": page.NextPageToken,
	})
}

func (h *AdminHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("orders_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	order, err := h.orders.Get(ctx, chi.URLParam(r, "orderID"))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"order": buildOrderPayload(order)})
}

func (h *AdminHandlers) orderHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("orders_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	entries, err := h.orders.History(ctx, chi.URLParam(r, "orderID"))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]any{"history": buildHistoryPayload(entries)})
}

type transitionOrderRequest struct {
	Target         string `json:"target"`
	Note           string `json:"note"`
	ExpectedStatus string `json:"expected_status"`
}

func (h *AdminHandlers) transitionOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("orders_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req transitionOrderRequest
	if !h.decodeBody(w, r, &req) {
		return
	}

	order, err := h.orders.Transition(ctx, services.OrderStatusTransitionCommand{
		OrderID:        chi.URLParam(r, "orderID"),
		Target:         domain.OrderStatus(strings.TrimSpace(req.Target)),
		Actor:          domain.ActorAdmin,
		Note:           req.Note,
		ExpectedStatus: parseExpectedStatus(req.ExpectedStatus),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"order": buildOrderPayload(order)})
}

type shipOrderRequest struct {
	Carrier        string `json:"carrier"`
	TrackingCode   string `json:"tracking_code"`
	Note           string `json:"note"`
	ExpectedStatus string `json:"expected_status"`
}

func (h *AdminHandlers) shipOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("orders_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req shipOrderRequest
	if !h.decodeBody(w, r, &req) {
		return
	}

	order, err := h.orders.Ship(ctx, services.ShipOrderCommand{
		OrderID:        chi.URLParam(r, "orderID"),
		Carrier:        req.Carrier,
		TrackingCode:   req.TrackingCode,
		Actor:          domain.ActorAdmin,
		Note:           req.Note,
		ExpectedStatus: parseExpectedStatus(req.ExpectedStatus),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"order": buildOrderPayload(order)})
}

type adminCancelOrderRequest struct {
	Reason         string `json:"reason"`
	ExpectedStatus string `json:"expected_status"`
}

func (h *AdminHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("orders_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req adminCancelOrderRequest
	if !h.decodeBody(w, r, &req) {
		return
	}

	order, err := h.orders.Cancel(ctx, services.CancelOrderCommand{
		OrderID:        chi.URLParam(r, "orderID"),
		Reason:         req.Reason,
		Actor:          domain.ActorAdmin,
		ExpectedStatus: parseExpectedStatus(req.ExpectedStatus),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"order": buildOrderPayload(order)})
}

func (h *AdminHandlers) listReturns(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.returns == nil {
		httpx.WriteError(ctx, w, httpx.NewError("returns_unavailable", "return service unavailable", http.StatusServiceUnavailable))
		return
	}

	requests, err := h.returns.ListByOrder(ctx, chi.URLParam(r, "orderID"))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	items := make([]returnPayload, 0, len(requests))
	for _, request := range requests {
		items = append(items, buildReturnPayload(request))
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"returns": items})
}

type returnDecisionRequest struct {
	Note    string `json:"note"`
	Carrier string `json:"carrier"`
}

func (h *AdminHandlers) approveReturn(w http.ResponseWriter, r *http.Request) {
	h.decideReturn(w, r, true)
}

func (h *AdminHandlers) rejectReturn(w http.ResponseWriter, r *http.Request) {
	h.decideReturn(w, r, false)
}

func (h *AdminHandlers) decideReturn(w http.ResponseWriter, r *http.Request, approve bool) {
	ctx := r.Context()
	if h.returns == nil {
		httpx.WriteError(ctx, w, httpx.NewError("returns_unavailable", "return service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req returnDecisionRequest
	if !h.decodeBody(w, r, &req) {
		return
	}

	cmd := services.ReturnDecisionCommand{
		OrderID:  chi.URLParam(r, "orderID"),
		ReturnID: chi.URLParam(r, "returnID"),
		Actor:    domain.ActorAdmin,
		Note:     req.Note,
		Carrier:  req.Carrier,
	}

	var (
		request domain.ReturnRequest
		err     error
	)
	if approve {
		request, err = h.returns.Approve(ctx, cmd)
	} else {
		request, err = h.returns.Reject(ctx, cmd)
	}
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"return": buildReturnPayload(request)})
}

func (h *AdminHandlers) completeReturn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.returns == nil {
		httpx.WriteError(ctx, w, httpx.NewError("returns_unavailable", "return service unavailable", http.StatusServiceUnavailable))
		return
	}

	request, err := h.returns.Complete(ctx, services.CompleteReturnCommand{
		OrderID:  chi.URLParam(r, "orderID"),
		ReturnID: chi.URLParam(r, "returnID"),
		Actor:    domain.ActorAdmin,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"return": buildReturnPayload(request)})
}

type configureCounterRequest struct {
	Step         int64  `json:"step"`
	MaxValue     *int64 `json:"max_value"`
	InitialValue *int64 `json:"initial_value"`
}

func (h *AdminHandlers) configureCounter(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.counters == nil {
		httpx.WriteError(ctx, w, httpx.NewError("counters_unavailable", "counter service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req configureCounterRequest
	if !h.decodeBody(w, r, &req) {
		return
	}

	counterID := chi.URLParam(r, "counterID")
	if err := h.counters.Configure(ctx, counterID, repositories.CounterConfig{
		Step:         req.Step,
		MaxValue:     req.MaxValue,
		InitialValue: req.InitialValue,
	}); err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"counter_id": counterID})
}

func (h *AdminHandlers) decodeBody(w http.ResponseWriter, r *http.Request, target any) bool {
	ctx := r.Context()
	body, err := readLimitedBody(r, maxAdminBodySize)
	if err != nil {
		switch {
		case errors.Is(err, errBodyTooLarge):
			httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		}
		return false
	}
	if err := json.Unmarshal(body, target); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return false
	}
	return true
}

func parseExpectedStatus(value string) *domain.OrderStatus {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	status := domain.OrderStatus(trimmed)
	return &status
}
