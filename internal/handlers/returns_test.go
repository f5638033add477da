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

type stubReturnService struct {
	requestFn   func(ctx context.Context, cmd services.CreateReturnCommand) (domain.ReturnRequest, error)
	approveFn   func(ctx context.Context, cmd services.ReturnDecisionCommand) (domain.ReturnRequest, error)
	rejectFn    func(ctx context.Context, cmd services.ReturnDecisionCommand) (domain.ReturnRequest, error)
	completeFn  func(ctx context.Context, cmd services.CompleteReturnCommand) (domain.ReturnRequest, error)
	listFn      func(ctx context.Context, orderID string) ([]domain.ReturnRequest, error)
	uploadURLFn func(ctx context.Context, token, fileName, contentType string) (domain.SignedAssetResponse, error)

	requests  []services.CreateReturnCommand
	decisions []services.ReturnDecisionCommand
	completes []services.CompleteReturnCommand
}

func (s *stubReturnService) Request(ctx context.Context, cmd services.CreateReturnCommand) (domain.ReturnRequest, error) {
	s.requests = append(s.requests, cmd)
	if s.requestFn != nil {
		return s.requestFn(ctx, cmd)
	}
	return domain.ReturnRequest{}, nil
}

func (s *stubReturnService) Approve(ctx context.Context, cmd services.ReturnDecisionCommand) (domain.ReturnRequest, error) {
	s.decisions = append(s.decisions, cmd)
	if s.approveFn != nil {
		return s.approveFn(ctx, cmd)
	}
	return domain.ReturnRequest{}, nil
}

func (s *stubReturnService) Reject(ctx context.Context, cmd services.ReturnDecisionCommand) (domain.ReturnRequest, error) {
	s.decisions = append(s.decisions, cmd)
	if s.rejectFn != nil {
		return s.rejectFn(ctx, cmd)
	}
	return domain.ReturnRequest{}, nil
}

func (s *stubReturnService) Complete(ctx context.Context, cmd services.CompleteReturnCommand) (domain.ReturnRequest, error) {
	s.completes = append(s.completes, cmd)
	if s.completeFn != nil {
		return s.completeFn(ctx, cmd)
	}
	return domain.ReturnRequest{}, nil
}

func (s *stubReturnService) ListByOrder(ctx context.Context, orderID string) ([]domain.ReturnRequest, error) {
	if s.listFn != nil {
		return s.listFn(ctx, orderID)
	}
	return nil, nil
}

func (s *stubReturnService) IssuePhotoUploadURL(ctx context.Context, token, fileName, contentType string) (domain.SignedAssetResponse, error) {
	if s.uploadURLFn != nil {
		return s.uploadURLFn(ctx, token, fileName, contentType)
	}
	return domain.SignedAssetResponse{}, nil
}

func pendingReturnFixture() domain.ReturnRequest {
	return domain.ReturnRequest{
		ID:        "ret_1",
		OrderID:   "ord_chk_1",
		Type:      domain.ReturnTypeDefective,
		Status:    domain.ReturnStatusPendingApproval,
		Reason:    "handle snapped on first use",
		PhotoRefs: []string{"returns/ord_chk_1/photo1.jpg"},
		CreatedAt: time.Date(2026, time.April, 10, 8, 0, 0, 0, time.UTC),
	}
}

func newReturnTestServer(t *testing.T, svc services.ReturnService) *httptest.Server {
	t.Helper()
	router := chi.NewRouter()
	router.Route("/returns", NewReturnHandlers(svc).Routes)
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return server
}

func TestRequestReturnCreatesPendingRequest(t *testing.T) {
	stub := &stubReturnService{
		requestFn: func(_ context.Context, _ services.CreateReturnCommand) (domain.ReturnRequest, error) {
			return pendingReturnFixture(), nil
		},
	}
	server := newReturnTestServer(t, stub)

	payload := `{
		"tracking_token": "tok_chk_1",
		"type": "defective",
		"reason": "handle snapped on first use",
		"photo_refs": ["returns/ord_chk_1/photo1.jpg"]
	}`
	resp, err := http.Post(server.URL+"/returns/request", "application/json", strings.NewReader(payload))
	if err != nil {
		t.Fatalf("post return request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	var body struct {
		Return returnPayload `json:"return"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Return.Status != "pending_approval" || body.Return.Type != "defective" {
		t.Fatalf("unexpected return payload: %+v", body.Return)
	}

	if len(stub.requests) != 1 {
		t.Fatalf("expected one request command, got %d", len(stub.requests))
	}
	cmd := stub.requests[0]
	if cmd.TrackingToken != "tok_chk_1" || cmd.Type != domain.ReturnTypeDefective {
		t.Fatalf("unexpected command: %+v", cmd)
	}
	if len(cmd.PhotoRefs) != 1 || cmd.PhotoRefs[0] != "returns/ord_chk_1/photo1.jpg" {
		t.Fatalf("photo refs were not forwarded: %+v", cmd.PhotoRefs)
	}
}

func TestRequestReturnMapsActiveConflict(t *testing.T) {
	stub := &stubReturnService{
		requestFn: func(_ context.Context, _ services.CreateReturnCommand) (domain.ReturnRequest, error) {
			return domain.ReturnRequest{}, fmt.Errorf("%w: order ord_chk_1", services.ErrReturnActiveExists)
		},
	}
	server := newReturnTestServer(t, stub)

	payload := `{"tracking_token": "tok_chk_1", "type": "voluntary", "reason": "no longer needed"}`
	resp, err := http.Post(server.URL+"/returns/request", "application/json", strings.NewReader(payload))
	if err != nil {
		t.Fatalf("post return request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}
}

func TestUploadURLReturnsSignedTarget(t *testing.T) {
	expires := time.Date(2026, time.April, 10, 8, 15, 0, 0, time.UTC)
	stub := &stubReturnService{
		uploadURLFn: func(_ context.Context, token, fileName, contentType string) (domain.SignedAssetResponse, error) {
			if token != "tok_chk_1" || fileName != "broken-handle.jpg" || contentType != "image/jpeg" {
				t.Fatalf("unexpected upload args: %q %q %q", token, fileName, contentType)
			}
			return domain.SignedAssetResponse{
				AssetID:   "returns/ord_chk_1/000TEST.jpg",
				URL:       "https://storage.example.com/returns-photos/signed",
				Method:    http.MethodPut,
				Headers:   map[string]string{"Content-Type": "image/jpeg"},
				ExpiresAt: expires,
			}, nil
		},
	}
	server := newReturnTestServer(t, stub)

	payload := `{"tracking_token": "tok_chk_1", "file_name": "broken-handle.jpg", "content_type": "image/jpeg"}`
	resp, err := http.Post(server.URL+"/returns/upload-url", "application/json", strings.NewReader(payload))
	if err != nil {
		t.Fatalf("post upload-url: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body struct {
		UploadURL string            `json:"upload_url"`
		Method    string            `json:"method"`
		Headers   map[string]string `json:"headers"`
		ObjectRef string            `json:"object_ref"`
		ExpiresAt string            `json:"expires_at"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Method != http.MethodPut || body.ObjectRef != "returns/ord_chk_1/000TEST.jpg" {
		t.Fatalf("unexpected upload payload: %+v", body)
	}
	if body.Headers["Content-Type"] != "image/jpeg" {
		t.Fatalf("expected content type header passthrough, got %+v", body.Headers)
	}
}

func TestUploadURLRejectsUnsupportedContentType(t *testing.T) {
	stub := &stubReturnService{
		uploadURLFn: func(_ context.Context, _, _, _ string) (domain.SignedAssetResponse, error) {
			return domain.SignedAssetResponse{}, fmt.Errorf("%w: content type application/pdf", services.ErrReturnInvalidInput)
		},
	}
	server := newReturnTestServer(t, stub)

	payload := `{"tracking_token": "tok_chk_1", "file_name": "doc.pdf", "content_type": "application/pdf"}`
	resp, err := http.Post(server.URL+"/returns/upload-url", "application/json", strings.NewReader(payload))
	if err != nil {
		t.Fatalf("post upload-url: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}
