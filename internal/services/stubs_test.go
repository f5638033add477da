package services

import (
	"context"
	"errors"

	domain "github.com/yusufarbc/nalburdeposu-pern-ecommerce-sub000/internal/domain"
	"github.com/yusufarbc/nalburdeposu-pern-ecommerce-sub000/internal/gateway"
	"github.com/yusufarbc/nalburdeposu-pern-ecommerce-sub000/internal/repositories"
)

type stubOrderRepo struct {
	insertFn       func(context.Context, domain.Order) error
	updateFn       func(context.Context, domain.Order) error
	findFn         func(context.Context, string) (domain.Order, error)
	findByTokenFn  func(context.Context, string) (domain.Order, error)
	findByNumberFn func(context.Context, string) (domain.Order, error)
	listFn         func(context.Context, repositories.OrderListFilter) (domain.CursorPage[domain.Order], error)
}

func (s *stubOrderRepo) Insert(ctx context.Context, order domain.Order) error {
	if s.insertFn != nil {
		return s.insertFn(ctx, order)
	}
	return nil
}

func (s *stubOrderRepo) Update(ctx context.Context, order domain.Order) error {
	if s.updateFn != nil {
		return s.updateFn(ctx, order)
	}
	return nil
}

func (s *stubOrderRepo) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if s.findFn != nil {
		return s.findFn(ctx, orderID)
	}
	return domain.Order{}, errors.New("not implemented")
}

func (s *stubOrderRepo) FindByTrackingToken(ctx context.Context, token string) (domain.Order, error) {
	if s.findByTokenFn != nil {
		return s.findByTokenFn(ctx, token)
	}
	return domain.Order{}, errors.New("not implemented")
}

func (s *stubOrderRepo) FindByOrderNumber(ctx context.Context, number string) (domain.Order, error) {
	if s.findByNumberFn != nil {
		return s.findByNumberFn(ctx, number)
	}
	return domain.Order{}, errors.New("not implemented")
}

func (s *stubOrderRepo) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return domain.CursorPage[domain.Order]{}, nil
}

type stubHistoryRepo struct {
	appendFn func(context.Context, domain.OrderHistoryEntry) error
	listFn   func(context.Context, string) ([]domain.OrderHistoryEntry, error)
	appended []domain.OrderHistoryEntry
}

func (s *stubHistoryRepo) Append(ctx context.Context, entry domain.OrderHistoryEntry) error {
	if s.appendFn != nil {
		return s.appendFn(ctx, entry)
	}
	s.appended = append(s.appended, entry)
	return nil
}

func (s *stubHistoryRepo) List(ctx context.Context, orderID string) ([]domain.OrderHistoryEntry, error) {
	if s.listFn != nil {
		return s.listFn(ctx, orderID)
	}
	return append([]domain.OrderHistoryEntry(nil), s.appended...), nil
}

type stubReturnRepo struct {
	insertFn     func(context.Context, domain.ReturnRequest) error
	updateFn     func(context.Context, domain.ReturnRequest) error
	findFn       func(context.Context, string, string) (domain.ReturnRequest, error)
	listFn       func(context.Context, string) ([]domain.ReturnRequest, error)
	findActiveFn func(context.Context, string) (domain.ReturnRequest, bool, error)
}

func (s *stubReturnRepo) Insert(ctx context.Context, ret domain.ReturnRequest) error {
	if s.insertFn != nil {
		return s.insertFn(ctx, ret)
	}
	return nil
}

func (s *stubReturnRepo) Update(ctx context.Context, ret domain.ReturnRequest) error {
	if s.updateFn != nil {
		return s.updateFn(ctx, ret)
	}
	return nil
}

func (s *stubReturnRepo) FindByID(ctx context.Context, orderID, returnID string) (domain.ReturnRequest, error) {
	if s.findFn != nil {
		return s.findFn(ctx, orderID, returnID)
	}
	return domain.ReturnRequest{}, errors.New("not implemented")
}

func (s *stubReturnRepo) ListByOrder(ctx context.Context, orderID string) ([]domain.ReturnRequest, error) {
	if s.listFn != nil {
		return s.listFn(ctx, orderID)
	}
	return nil, nil
}

func (s *stubReturnRepo) FindActiveByOrder(ctx context.Context, orderID string) (domain.ReturnRequest, bool, error) {
	if s.findActiveFn != nil {
		return s.findActiveFn(ctx, orderID)
	}
	return domain.ReturnRequest{}, false, nil
}

type stubProductRepo struct {
	findFn    func(context.Context, string) (domain.Product, error)
	findAllFn func(context.Context, []string) (map[string]domain.Product, error)
}

func (s *stubProductRepo) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	if s.findFn != nil {
		return s.findFn(ctx, productID)
	}
	return domain.Product{}, errors.New("not implemented")
}

func (s *stubProductRepo) FindByIDs(ctx context.Context, productIDs []string) (map[string]domain.Product, error) {
	if s.findAllFn != nil {
		return s.findAllFn(ctx, productIDs)
	}
	return map[string]domain.Product{}, nil
}

type stubSettingsRepo struct {
	shippingFn func(context.Context) (domain.ShippingSettings, error)
}

func (s *stubSettingsRepo) ShippingSettings(ctx context.Context) (domain.ShippingSettings, error) {
	if s.shippingFn != nil {
		return s.shippingFn(ctx)
	}
	return domain.ShippingSettings{}, nil
}

type stubCounterRepo struct {
	nextFn func(context.Context, string, int64) (int64, error)
}

func (s *stubCounterRepo) Next(ctx context.Context, counterID string, step int64) (int64, error) {
	if s.nextFn != nil {
		return s.nextFn(ctx, counterID, step)
	}
	return 1, nil
}

func (s *stubCounterRepo) Configure(context.Context, string, repositories.CounterConfig) error {
	return nil
}

type stubGatewayProvider struct {
	initiateFn     func(context.Context, gateway.PaymentRequest) (gateway.RedirectForm, error)
	verifyFn       func(context.Context, gateway.CallbackResult) error
	cancelFn       func(context.Context, string) error
	refundFn       func(context.Context, string, int64) (gateway.RefundResult, error)
	installmentsFn func(context.Context, string, int64) ([]gateway.InstallmentOption, error)

	cancelCalls []string
	refundCalls []string
}

func (s *stubGatewayProvider) Initiate(ctx context.Context, req gateway.PaymentRequest) (gateway.RedirectForm, error) {
	if s.initiateFn != nil {
		return s.initiateFn(ctx, req)
	}
	return gateway.RedirectForm{}, errors.New("not implemented")
}

func (s *stubGatewayProvider) VerifyCallback(ctx context.Context, result gateway.CallbackResult) error {
	if s.verifyFn != nil {
		return s.verifyFn(ctx, result)
	}
	return nil
}

func (s *stubGatewayProvider) Cancel(ctx context.Context, txnID string) error {
	s.cancelCalls = append(s.cancelCalls, txnID)
	if s.cancelFn != nil {
		return s.cancelFn(ctx, txnID)
	}
	return nil
}

func (s *stubGatewayProvider) Refund(ctx context.Context, txnID string, amountMinor int64) (gateway.RefundResult, error) {
	s.refundCalls = append(s.refundCalls, txnID)
	if s.refundFn != nil {
		return s.refundFn(ctx, txnID, amountMinor)
	}
	return gateway.RefundResult{TxnID: "refund-" + txnID}, nil
}

func (s *stubGatewayProvider) InstallmentOptions(ctx context.Context, bin string, amountMinor int64) ([]gateway.InstallmentOption, error) {
	if s.installmentsFn != nil {
		return s.installmentsFn(ctx, bin, amountMinor)
	}
	return nil, nil
}

type captureOrderEvents struct {
	events []OrderEvent
}

func (c *captureOrderEvents) PublishOrderEvent(_ context.Context, event OrderEvent) error {
	c.events = append(c.events, event)
	return nil
}

type stubUnitOfWork struct {
	runFn func(context.Context, func(context.Context) error) error
}

func (s *stubUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	if s.runFn != nil {
		return s.runFn(ctx, fn)
	}
	return fn(ctx)
}

type notFoundRepoError struct{}

func (notFoundRepoError) Error() string       { return "not found" }
func (notFoundRepoError) IsNotFound() bool    { return true }
func (notFoundRepoError) IsConflict() bool    { return false }
func (notFoundRepoError) IsUnavailable() bool { return false }

type conflictRepoError struct{}

func (conflictRepoError) Error() string       { return "conflict" }
func (conflictRepoError) IsNotFound() bool    { return false }
func (conflictRepoError) IsConflict() bool    { return true }
func (conflictRepoError) IsUnavailable() bool { return false }
