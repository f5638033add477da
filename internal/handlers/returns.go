package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	domain "github.com/yusufarbc/nalburdeposu-pern-ecommerce-sub000/internal/domain"
	"github.com/yusufarbc/nalburdeposu-pern-ecommerce-sub000/internal/platform/httpx"
	"github.com/yusufarbc/nalburdeposu-pern-ecommerce-sub000/internal/services"
)

const maxReturnBodySize = 16 * 1024

// ReturnHandlers exposes the shopper-facing return request endpoints.
type ReturnHandlers struct {
	returns services.ReturnService
}

// NewReturnHandlers constructs a new ReturnHandlers instance.
func NewReturnHandlers(returns services.ReturnService) *ReturnHandlers {
	return &ReturnHandlers{returns: returns}
}

// Routes registers the public /returns endpoints.
func (h *ReturnHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/request", h.request)
	r.Post("/upload-url", h.uploadURL)
}

type createReturnRequest struct {
	TrackingToken string   `json:"tracking_token"`
	Type          string   `json:"type"`
	Reason        string   `json:"reason"`
	PhotoRefs     []string `json:"photo_refs"`
}

func (h *ReturnHandlers) request(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.returns == nil {
		httpx.WriteError(ctx, w, httpx.NewError("returns_unavailable", "return service unavailable", http.StatusServiceUnavailable))
		return
	}

	body, err := h.readBody(w, r)
	if err != nil {
		return
	}

	var req createReturnRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}

	request, err := h.returns.Request(ctx, services.CreateReturnCommand{
		TrackingToken: req.TrackingToken,
		Type:          domain.ReturnType(req.Type),
		Reason:        req.Reason,
		PhotoRefs:     req.PhotoRefs,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, map[string]any{"return": buildReturnPayload(request)})
}

type returnUploadURLRequest struct {
	TrackingToken string `json:"tracking_token"`
	FileName      string `json:"file_name"`
	ContentType   string `json:"content_type"`
}

func (h *ReturnHandlers) uploadURL(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.returns == nil {
		httpx.WriteError(ctx, w, httpx.NewError("returns_unavailable", "return service unavailable", http.StatusServiceUnavailable))
		return
	}

	body, err := h.readBody(w, r)
	if err != nil {
		return
	}

	var req returnUploadURLRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}

	signed, err := h.returns.IssuePhotoUploadURL(ctx, req.TrackingToken, req.FileName, req.ContentType)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{
		"upload_url": signed.URL,
		"method":     signed.Method,
		"headers":    signed.Headers,
		"object_ref": signed.AssetID,
		"expires_at": formatTime(signed.ExpiresAt),
	})
}

func (h *ReturnHandlers) readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	ctx := r.Context()
	body, err := readLimitedBody(r, maxReturnBodySize)
	if err != nil {
		switch {
		case errors.Is(err, errBodyTooLarge):
			httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		}
		return nil, err
	}
	return body, nil
}
