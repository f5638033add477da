package services

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/oklog/ulid/v2"

	domain "github.com/yusufarbc/nalburdeposu-pern-ecommerce-sub000/internal/domain"
	"github.com/yusufarbc/nalburdeposu-pern-ecommerce-sub000/internal/gateway"
	pstorage "github.com/yusufarbc/nalburdeposu-pern-ecommerce-sub000/internal/platform/storage"
	"github.com/yusufarbc/nalburdeposu-pern-ecommerce-sub000/internal/repositories"
)

var (
	// ErrReturnInvalidInput signals the caller provided invalid data.
	ErrReturnInvalidInput = errors.New("return: invalid input")
	// ErrReturnNotFound indicates the return request could not be located.
	ErrReturnNotFound = errors.New("return: not found")
	// ErrReturnInvalidState indicates the return or its order is in the wrong state.
	ErrReturnInvalidState = errors.New("return: invalid state")
	// ErrReturnActiveExists indicates the order already has an open return request.
	ErrReturnActiveExists = errors.New("return: active request already exists")
)

const (
	returnIDPrefix        = "ret_"
	maxReturnReasonLength = 2000
	maxReturnPhotoRefs    = 5

	photoUploadExpiry  = 15 * time.Minute
	photoUploadMaxSize = 10 << 20
)

// returnTextPolicy strips all markup from customer-provided text before it is
// stored or surfaced to staff.
var returnTextPolicy = bluemonday.StrictPolicy()

var returnPhotoContentTypes = []string{"image/jpeg", "image/png", "image/webp"}

// UploadURLSigner issues signed URLs for direct-to-bucket uploads.
type UploadURLSigner interface {
	SignedURL(ctx context.Context, bucket, object string, opts pstorage.SignedURLOptions) (pstorage.SignedURLResult, error)
}

// PhotoArchiver copies return evidence objects between buckets.
type PhotoArchiver interface {
	CopyObject(ctx context.Context, sourceBucket, sourceObject, destBucket, destObject string) error
}

// ReturnServiceDeps bundles collaborators required to construct the return service.
type ReturnServiceDeps struct {
	Orders      repositories.OrderRepository
	Returns     repositories.ReturnRepository
	History     repositories.OrderHistoryRepository
	Gateway     gateway.Provider
	Signer      UploadURLSigner
	PhotoBucket string
	// Archiver and ArchiveBucket are optional; when both are set, evidence
	// photos are copied out of the upload bucket once a return settles.
	Archiver      PhotoArchiver
	ArchiveBucket string
	UnitOfWork    repositories.UnitOfWork
	Clock         func() time.Time
	IDGenerator   func() string
	Events        OrderEventPublisher
	Logger        func(ctx context.Context, event string, fields map[string]any)
}

type returnService struct {
	orders        repositories.OrderRepository
	returns       repositories.ReturnRepository
	history       repositories.OrderHistoryRepository
	gateway       gateway.Provider
	signer        UploadURLSigner
	photoBucket   string
	archiver      PhotoArchiver
	archiveBucket string
	unitOfWork    repositories.UnitOfWork
	clock         func() time.Time
	newID         func() string
	events        OrderEventPublisher
	logger        func(context.Context, string, map[string]any)
}

// NewReturnService wires dependencies into a concrete ReturnService implementation.
func NewReturnService(deps ReturnServiceDeps) (ReturnService, error) {
	if deps.Orders == nil {
		return nil, errors.New("return service: order repository is required")
	}
	if deps.Returns == nil {
		return nil, errors.New("return service: return repository is required")
	}
	if deps.History == nil {
		return nil, errors.New("return service: history repository is required")
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &returnService{
		orders:        deps.Orders,
		returns:       deps.Returns,
		history:       deps.History,
		gateway:       deps.Gateway,
		signer:        deps.Signer,
		photoBucket:   strings.TrimSpace(deps.PhotoBucket),
		archiver:      deps.Archiver,
		archiveBucket: strings.TrimSpace(deps.ArchiveBucket),
		unitOfWork:    unit,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		events: deps.Events,
		logger: logger,
	}, nil
}

// Request files a return against a delivered order. Each order carries at most
// one active return at a time.
func (s *returnService) Request(ctx context.Context, cmd CreateReturnCommand) (ReturnRequest, error) {
	token := strings.TrimSpace(cmd.TrackingToken)
	if token == "" {
		return ReturnRequest{}, fmt.Errorf("%w: tracking token is required", ErrReturnInvalidInput)
	}
	if cmd.Type != domain.ReturnTypeDefective && cmd.Type != domain.ReturnTypeVoluntary {
		return ReturnRequest{}, fmt.Errorf("%w: unknown return type %q", ErrReturnInvalidInput, cmd.Type)
	}
	reason := sanitizeReturnText(cmd.Reason)
	if reason == "" {
		return ReturnRequest{}, fmt.Errorf("%w: reason is required", ErrReturnInvalidInput)
	}
	if len(reason) > maxReturnReasonLength {
		return ReturnRequest{}, fmt.Errorf("%w: reason exceeds %d characters", ErrReturnInvalidInput, maxReturnReasonLength)
	}
	photoRefs, err := normalizePhotoRefs(cmd.PhotoRefs)
	if err != nil {
		return ReturnRequest{}, err
	}
	if cmd.Type == domain.ReturnTypeDefective && len(photoRefs) == 0 {
		return ReturnRequest{}, fmt.Errorf("%w: defective returns require photo evidence", ErrReturnInvalidInput)
	}

	order, err := s.orders.FindByTrackingToken(ctx, token)
	if err != nil {
		return ReturnRequest{}, s.mapRepositoryError(err)
	}
	if order.Status != domain.OrderStatusDelivered {
		return ReturnRequest{}, fmt.Errorf("%w: order status %q does not allow returns", ErrReturnInvalidState, order.Status)
	}

	now := s.now()
	request := domain.ReturnRequest{
		ID:        returnIDPrefix + s.newID(),
		OrderID:   order.ID,
		Type:      cmd.Type,
		Status:    domain.ReturnStatusPendingApproval,
		Reason:    reason,
		PhotoRefs: photoRefs,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err = s.runInTx(ctx, func(txCtx context.Context) error {
		_, active, err := s.returns.FindActiveByOrder(txCtx, order.ID)
		if err != nil {
			return err
		}
		if active {
			return fmt.Errorf("%w: order %s", ErrReturnActiveExists, order.ID)
		}
		if err := s.returns.Insert(txCtx, request); err != nil {
			return err
		}
		return s.history.Append(txCtx, domain.OrderHistoryEntry{
			ID:         historyEntryIDPrefix + s.newID(),
			OrderID:    order.ID,
			FromStatus: order.Status,
			ToStatus:   order.Status,
			Actor:      domain.ActorCustomer,
			Note:       fmt.Sprintf("return requested (%s): %s", request.Type, reason),
			CreatedAt:  now,
		})
	})
	if err != nil {
		return ReturnRequest{}, s.mapRepositoryError(err)
	}

	s.logger(ctx, "return.requested", map[string]any{
		"orderId":  order.ID,
		"returnId": request.ID,
		"type":     string(request.Type),
	})
	s.publishEvent(ctx, OrderEvent{
		Type:           "return.requested",
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		PreviousStatus: string(order.Status),
		CurrentStatus:  string(order.Status),
		Actor:          string(domain.ActorCustomer),
		OccurredAt:     now,
		Metadata:       map[string]any{"returnId": request.ID},
	})
	return request, nil
}

// Approve moves a return to awaiting customer shipment and issues the return
// code the customer quotes at the carrier desk. Rejected requests may be
// approved again after review.
func (s *returnService) Approve(ctx context.Context, cmd ReturnDecisionCommand) (ReturnRequest, error) {
	if err := validateDecision(cmd); err != nil {
		return ReturnRequest{}, err
	}

	now := s.now()
	var updated domain.ReturnRequest
	err := s.runInTx(ctx, func(txCtx context.Context) error {
		request, err := s.returns.FindByID(txCtx, cmd.OrderID, cmd.ReturnID)
		if err != nil {
			return err
		}
		if request.Status != domain.ReturnStatusPendingApproval && request.Status != domain.ReturnStatusRejected {
			return fmt.Errorf("%w: return status %q cannot be approved", ErrReturnInvalidState, request.Status)
		}

		request.Status = domain.ReturnStatusAwaitingShipment
		request.ReturnCode = valuePtr("RMA-" + s.newID())
		if carrier := strings.TrimSpace(cmd.Carrier); carrier != "" {
			request.Carrier = &carrier
		}
		if note := sanitizeReturnText(cmd.Note); note != "" {
			request.DecisionNote = &note
		}
		request.DecidedAt = &now
		request.UpdatedAt = now

		if err := s.returns.Update(txCtx, request); err != nil {
			return err
		}
		updated = request
		return nil
	})
	if err != nil {
		return ReturnRequest{}, s.mapRepositoryError(err)
	}

	s.logger(ctx, "return.approved", map[string]any{
		"orderId":  cmd.OrderID,
		"returnId": cmd.ReturnID,
	})
	s.publishEvent(ctx, OrderEvent{
		Type:       "return.approved",
		OrderID:    cmd.OrderID,
		Actor:      string(cmd.Actor),
		OccurredAt: now,
		Metadata:   map[string]any{"returnId": cmd.ReturnID},
	})
	return updated, nil
}

// Reject declines a return with a mandatory decision note. An approved return
// whose goods never arrive can still be rejected while it awaits shipment.
func (s *returnService) Reject(ctx context.Context, cmd ReturnDecisionCommand) (ReturnRequest, error) {
	if err := validateDecision(cmd); err != nil {
		return ReturnRequest{}, err
	}
	note := sanitizeReturnText(cmd.Note)
	if note == "" {
		return ReturnRequest{}, fmt.Errorf("%w: a decision note is required to reject", ErrReturnInvalidInput)
	}

	now := s.now()
	var updated domain.ReturnRequest
	err := s.runInTx(ctx, func(txCtx context.Context) error {
		request, err := s.returns.FindByID(txCtx, cmd.OrderID, cmd.ReturnID)
		if err != nil {
			return err
		}
		if request.Status != domain.ReturnStatusPendingApproval && request.Status != domain.ReturnStatusAwaitingShipment {
			return fmt.Errorf("%w: return status %q cannot be rejected", ErrReturnInvalidState, request.Status)
		}

		request.Status = domain.ReturnStatusRejected
		request.DecisionNote = &note
		request.DecidedAt = &now
		request.UpdatedAt = now

		if err := s.returns.Update(txCtx, request); err != nil {
			return err
		}
		updated = request
		return nil
	})
	if err != nil {
		return ReturnRequest{}, s.mapRepositoryError(err)
	}

	s.logger(ctx, "return.rejected", map[string]any{
		"orderId":  cmd.OrderID,
		"returnId": cmd.ReturnID,
	})
	s.publishEvent(ctx, OrderEvent{
		Type:       "return.rejected",
		OrderID:    cmd.OrderID,
		Actor:      string(cmd.Actor),
		OccurredAt: now,
		Metadata:   map[string]any{"returnId": cmd.ReturnID},
	})
	return updated, nil
}

// Complete settles an approved return once the goods arrived back. The refund
// runs against the gateway first; a refund failure never blocks the local
// bookkeeping but is recorded for manual reconciliation.
func (s *returnService) Complete(ctx context.Context, cmd CompleteReturnCommand) (ReturnRequest, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	returnID := strings.TrimSpace(cmd.ReturnID)
	if orderID == "" || returnID == "" {
		return ReturnRequest{}, fmt.Errorf("%w: order id and return id are required", ErrReturnInvalidInput)
	}

	request, err := s.returns.FindByID(ctx, orderID, returnID)
	if err != nil {
		return ReturnRequest{}, s.mapRepositoryError(err)
	}
	if request.Status != domain.ReturnStatusAwaitingShipment {
		return ReturnRequest{}, fmt.Errorf("%w: return status %q cannot be completed", ErrReturnInvalidState, request.Status)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return ReturnRequest{}, s.mapRepositoryError(err)
	}
	if order.Payment.Status != domain.PaymentStatusSucceeded || order.Payment.GatewayTxnID == nil {
		return ReturnRequest{}, fmt.Errorf("%w: order %s carries no refundable payment", ErrReturnInvalidState, orderID)
	}

	// Refund first so the money movement is attempted before anything is
	// recorded as settled.
	txnID := *order.Payment.GatewayTxnID
	var refundTxnID string
	var refundFailure string
	if s.gateway == nil {
		refundFailure = "gateway not configured, refund txn manually"
	} else if result, err := s.gateway.Refund(ctx, txnID, order.Totals.Total); err != nil {
		refundFailure = err.Error()
		s.logger(ctx, "return.refund.gateway_failed", map[string]any{
			"orderId":  orderID,
			"returnId": returnID,
			"txnId":    txnID,
			"error":    err.Error(),
		})
	} else {
		refundTxnID = result.TxnID
	}

	now := s.now()
	var updated domain.ReturnRequest
	var previousStatus domain.OrderStatus
	err = s.runInTx(ctx, func(txCtx context.Context) error {
		request, err := s.returns.FindByID(txCtx, orderID, returnID)
		if err != nil {
			return err
		}
		if request.Status != domain.ReturnStatusAwaitingShipment {
			return fmt.Errorf("%w: return status %q cannot be completed", ErrReturnInvalidState, request.Status)
		}
		order, err := s.orders.FindByID(txCtx, orderID)
		if err != nil {
			return err
		}
		previousStatus = order.Status

		request.Status = domain.ReturnStatusCompleted
		request.CompletedAt = &now
		request.UpdatedAt = now
		note := fmt.Sprintf("return completed, refund issued, ref %s", refundTxnID)
		if refundFailure != "" {
			request.RefundFailure = &refundFailure
			note = fmt.Sprintf("return completed; reconciliation: refund failed for txn %s: %s", txnID, refundFailure)
		} else {
			request.RefundTxnID = &refundTxnID
		}

		order.Status = domain.OrderStatusRefunded
		order.Payment.Status = domain.PaymentStatusRefunded
		if refundFailure == "" {
			order.Payment.RefundedAt = &now
		}
		order.UpdatedAt = now

		if err := s.returns.Update(txCtx, request); err != nil {
			return err
		}
		if err := s.orders.Update(txCtx, order); err != nil {
			return err
		}
		if err := s.history.Append(txCtx, domain.OrderHistoryEntry{
			ID:         historyEntryIDPrefix + s.newID(),
			OrderID:    orderID,
			FromStatus: previousStatus,
			ToStatus:   domain.OrderStatusRefunded,
			Actor:      cmd.Actor,
			Note:       note,
			CreatedAt:  now,
		}); err != nil {
			return err
		}
		updated = request
		return nil
	})
	if err != nil {
		return ReturnRequest{}, s.mapRepositoryError(err)
	}

	s.publishEvent(ctx, OrderEvent{
		Type:           "order.refunded",
		OrderID:        orderID,
		OrderNumber:    order.OrderNumber,
		PreviousStatus: string(previousStatus),
		CurrentStatus:  string(domain.OrderStatusRefunded),
		Actor:          string(cmd.Actor),
		OccurredAt:     now,
		Metadata:       map[string]any{"returnId": returnID},
	})
	s.archivePhotos(ctx, updated)
	return updated, nil
}

// archivePhotos copies defect evidence into the long-term bucket once the
// return settles. Failures are logged; they never block the refund path.
func (s *returnService) archivePhotos(ctx context.Context, request domain.ReturnRequest) {
	if s.archiver == nil || s.archiveBucket == "" || s.photoBucket == "" {
		return
	}
	for _, ref := range request.PhotoRefs {
		if err := s.archiver.CopyObject(ctx, s.photoBucket, ref, s.archiveBucket, ref); err != nil {
			s.logger(ctx, "return.photo_archive_failed", map[string]any{
				"orderId":  request.OrderID,
				"returnId": request.ID,
				"object":   ref,
				"error":    err.Error(),
			})
		}
	}
}

func (s *returnService) ListByOrder(ctx context.Context, orderID string) ([]ReturnRequest, error) {
	id := strings.TrimSpace(orderID)
	if id == "" {
		return nil, fmt.Errorf("%w: order id is required", ErrReturnInvalidInput)
	}
	requests, err := s.returns.ListByOrder(ctx, id)
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}
	return requests, nil
}

// IssuePhotoUploadURL hands the customer a short-lived signed URL for uploading
// defect evidence straight to the bucket.
func (s *returnService) IssuePhotoUploadURL(ctx context.Context, trackingToken, fileName, contentType string) (SignedAssetResponse, error) {
	token := strings.TrimSpace(trackingToken)
	if token == "" {
		return SignedAssetResponse{}, fmt.Errorf("%w: tracking token is required", ErrReturnInvalidInput)
	}
	if s.signer == nil || s.photoBucket == "" {
		return SignedAssetResponse{}, errors.New("return: photo uploads are not configured")
	}
	contentType = strings.ToLower(strings.TrimSpace(contentType))
	ext, err := photoExtension(fileName, contentType)
	if err != nil {
		return SignedAssetResponse{}, err
	}

	order, err := s.orders.FindByTrackingToken(ctx, token)
	if err != nil {
		return SignedAssetResponse{}, s.mapRepositoryError(err)
	}
	if order.Status != domain.OrderStatusDelivered {
		return SignedAssetResponse{}, fmt.Errorf("%w: order status %q does not allow returns", ErrReturnInvalidState, order.Status)
	}

	object, err := pstorage.BuildObjectPath(pstorage.PurposeReturnPhoto, pstorage.PathParams{
		OrderID:  order.ID,
		FileName: s.newID() + ext,
	})
	if err != nil {
		return SignedAssetResponse{}, fmt.Errorf("return: build photo path: %w", err)
	}
	result, err := s.signer.SignedURL(ctx, s.photoBucket, object, pstorage.SignedURLOptions{
		Upload: &pstorage.UploadOptions{
			Method:              "PUT",
			ContentType:         contentType,
			AllowedContentTypes: returnPhotoContentTypes,
			MaxSize:             photoUploadMaxSize,
			ExpiresIn:           photoUploadExpiry,
		},
	})
	if err != nil {
		return SignedAssetResponse{}, fmt.Errorf("return: sign photo upload url: %w", err)
	}

	return SignedAssetResponse{
		AssetID:   object,
		URL:       result.URL,
		ExpiresAt: result.ExpiresAt,
		Method:    result.Method,
		Headers:   result.Headers,
	}, nil
}

func validateDecision(cmd ReturnDecisionCommand) error {
	if strings.TrimSpace(cmd.OrderID) == "" || strings.TrimSpace(cmd.ReturnID) == "" {
		return fmt.Errorf("%w: order id and return id are required", ErrReturnInvalidInput)
	}
	if cmd.Actor != domain.ActorAdmin && cmd.Actor != domain.ActorSystem {
		return fmt.Errorf("%w: decisions require a staff actor", ErrReturnInvalidInput)
	}
	return nil
}

func sanitizeReturnText(raw string) string {
	return strings.TrimSpace(returnTextPolicy.Sanitize(raw))
}

func normalizePhotoRefs(refs []string) ([]string, error) {
	if len(refs) == 0 {
		return nil, nil
	}
	out := make([]string, 0, len(refs))
	seen := make(map[string]struct{}, len(refs))
	for _, ref := range refs {
		ref = strings.TrimSpace(ref)
		if ref == "" {
			continue
		}
		if !strings.HasPrefix(ref, "returns/") || strings.Contains(ref, "..") {
			return nil, fmt.Errorf("%w: invalid photo reference %q", ErrReturnInvalidInput, ref)
		}
		if _, dup := seen[ref]; dup {
			continue
		}
		seen[ref] = struct{}{}
		out = append(out, ref)
	}
	if len(out) > maxReturnPhotoRefs {
		return nil, fmt.Errorf("%w: at most %d photos are allowed", ErrReturnInvalidInput, maxReturnPhotoRefs)
	}
	return out, nil
}

func photoExtension(fileName, contentType string) (string, error) {
	allowed := false
	for _, candidate := range returnPhotoContentTypes {
		if contentType == candidate {
			allowed = true
			break
		}
	}
	if !allowed {
		return "", fmt.Errorf("%w: content type %q is not allowed", ErrReturnInvalidInput, contentType)
	}
	ext := strings.ToLower(path.Ext(strings.TrimSpace(fileName)))
	switch ext {
	case ".jpg", ".jpeg", ".png", ".webp":
		return ext, nil
	case "":
		return "", fmt.Errorf("%w: file name must carry an image extension", ErrReturnInvalidInput)
	default:
		return "", fmt.Errorf("%w: file extension %q is not allowed", ErrReturnInvalidInput, ext)
	}
}

func (s *returnService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrReturnNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrReturnActiveExists, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("return: repository unavailable: %w", err)
		}
	}
	return err
}

func (s *returnService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	if s.unitOfWork == nil {
		return fn(ctx)
	}
	return s.unitOfWork.RunInTx(ctx, fn)
}

func (s *returnService) now() time.Time {
	return s.clock()
}

func (s *returnService) publishEvent(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "return.event.publish.failed", map[string]any{
			"type":  event.Type,
			"order": event.OrderID,
			"error": err.Error(),
		})
	}
}
