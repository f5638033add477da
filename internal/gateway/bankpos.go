package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	pathInitiate     = "/v2/payment/3ds/init"
	pathCancel       = "/v2/payment/cancel"
	pathRefund       = "/v2/payment/refund"
	pathInstallments = "/v2/payment/installments"

	defaultHTTPTimeout = 30 * time.Second
	defaultBINCacheTTL = 5 * time.Minute

	maxResponseBytes = 1 << 20
)

// BankPOSConfig configures the BankPOSProvider.
type BankPOSConfig struct {
	BaseURL     string
	ClientCode  string
	GatewayGUID string
	StoreKey    string
	HTTPClient  *http.Client
	Logger      Logger
	Clock       func() time.Time
	BINCacheTTL time.Duration
}

// BankPOSProvider implements Provider over the bank's form-post API.
type BankPOSProvider struct {
	baseURL     string
	clientCode  string
	gatewayGUID string
	storeKey    string
	client      *http.Client
	logger      Logger
	clock       func() time.Time

	binTTL   time.Duration
	binMu    sync.Mutex
	binCache map[string]binCacheEntry
}

type binCacheEntry struct {
	options   []InstallmentOption
	expiresAt time.Time
}

// NewBankPOSProvider constructs the bank adapter.
func NewBankPOSProvider(cfg BankPOSConfig) (*BankPOSProvider, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("gateway: base url is required")
	}
	if strings.TrimSpace(cfg.ClientCode) == "" || strings.TrimSpace(cfg.GatewayGUID) == "" {
		return nil, errors.New("gateway: client code and gateway guid are required")
	}
	if strings.TrimSpace(cfg.StoreKey) == "" {
		return nil, errors.New("gateway: store key is required")
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	ttl := cfg.BINCacheTTL
	if ttl <= 0 {
		ttl = defaultBINCacheTTL
	}

	return &BankPOSProvider{
		baseURL:     baseURL,
		clientCode:  strings.TrimSpace(cfg.ClientCode),
		gatewayGUID: strings.TrimSpace(cfg.GatewayGUID),
		storeKey:    strings.TrimSpace(cfg.StoreKey),
		client:      client,
		logger:      logger,
		clock: func() time.Time {
			return clock().UTC()
		},
		binTTL:   ttl,
		binCache: make(map[string]binCacheEntry),
	}, nil
}

type initResponse struct {
	Status      string            `json:"status"`
	Code        string            `json:"code"`
	Message     string            `json:"message"`
	RedirectURL string            `json:"redirectUrl"`
	Fields      map[string]string `json:"fields"`
}

// Initiate posts the payment to the bank and returns the browser hand-off form.
// Card fields travel only in the outbound request body.
func (p *BankPOSProvider) Initiate(ctx context.Context, req PaymentRequest) (RedirectForm, error) {
	if p == nil {
		return RedirectForm{}, errors.New("gateway: provider is nil")
	}
	if strings.TrimSpace(req.OrderNumber) == "" {
		return RedirectForm{}, errors.New("gateway: order number is required")
	}
	if req.TxnAmount <= 0 || req.TotalAmount <= 0 {
		return RedirectForm{}, errors.New("gateway: amounts must be positive")
	}
	installments := req.Installments
	if installments < 1 {
		installments = 1
	}

	digest := computeDigest(digestInput{
		ClientCode:   p.clientCode,
		GatewayGUID:  p.gatewayGUID,
		Installments: installments,
		TxnAmount:    req.TxnAmount,
		TotalAmount:  req.TotalAmount,
		OrderNumber:  req.OrderNumber,
	}, p.storeKey)

	form := url.Values{}
	form.Set("clientCode", p.clientCode)
	form.Set("guid", p.gatewayGUID)
	form.Set("orderNumber", req.OrderNumber)
	form.Set("installments", strconv.Itoa(installments))
	form.Set("txnAmount", FormatAmount(req.TxnAmount))
	form.Set("totalAmount", FormatAmount(req.TotalAmount))
	form.Set("hash", digest)
	form.Set("cardHolder", foldASCII(req.Card.HolderName))
	form.Set("cardNumber", strings.ReplaceAll(req.Card.Number, " ", ""))
	form.Set("expiryMonth", req.Card.ExpiryMonth)
	form.Set("expiryYear", req.Card.ExpiryYear)
	form.Set("cvv", req.Card.CVV)
	form.Set("buyerName", foldASCII(req.Buyer.FullName))
	form.Set("buyerEmail", req.Buyer.Email)
	form.Set("buyerPhone", req.Buyer.Phone)
	form.Set("buyerAddress", foldASCII(req.Buyer.Address))
	form.Set("buyerCity", foldASCII(req.Buyer.City))
	form.Set("successUrl", req.SuccessURL)
	form.Set("failUrl", req.FailURL)

	var resp initResponse
	if err := p.postForm(ctx, pathInitiate, form, &resp); err != nil {
		return RedirectForm{}, err
	}
	if !strings.EqualFold(resp.Status, "ok") {
		p.logger(ctx, "gateway.initiate.declined", map[string]any{
			"orderNumber": req.OrderNumber,
			"code":        resp.Code,
		})
		return RedirectForm{}, Declined(resp.Code, resp.Message)
	}
	if strings.TrimSpace(resp.RedirectURL) == "" {
		return RedirectForm{}, Unavailable(resp.Code, "missing redirect url in bank response")
	}

	html, err := renderAutoSubmitForm(resp.RedirectURL, resp.Fields)
	if err != nil {
		return RedirectForm{}, fmt.Errorf("gateway: render redirect form: %w", err)
	}

	p.logger(ctx, "gateway.initiate.accepted", map[string]any{
		"orderNumber":  req.OrderNumber,
		"installments": installments,
	})

	return RedirectForm{
		Action: resp.RedirectURL,
		Fields: resp.Fields,
		HTML:   html,
	}, nil
}

// VerifyCallback recomputes the digest over the echoed fields and compares it
// with the hash the bank posted.
func (p *BankPOSProvider) VerifyCallback(ctx context.Context, result CallbackResult) error {
	if p == nil {
		return errors.New("gateway: provider is nil")
	}
	installments := result.Installments
	if installments < 1 {
		installments = 1
	}
	total := result.TotalMinor
	if total == 0 {
		total = result.AmountMinor
	}
	ok := verifyDigest(digestInput{
		ClientCode:   p.clientCode,
		GatewayGUID:  p.gatewayGUID,
		Installments: installments,
		TxnAmount:    result.AmountMinor,
		TotalAmount:  total,
		OrderNumber:  result.OrderNumber,
	}, p.storeKey, strings.TrimSpace(result.Hash))
	if !ok {
		p.logger(ctx, "gateway.callback.signature_mismatch", map[string]any{
			"orderNumber": result.OrderNumber,
		})
		return ErrSignatureMismatch
	}
	return nil
}

type opResponse struct {
	Status  string `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
	TxnID   string `json:"txnId"`
}

// Cancel voids a same-day authorisation.
func (p *BankPOSProvider) Cancel(ctx context.Context, txnID string) error {
	if p == nil {
		return errors.New("gateway: provider is nil")
	}
	txnID = strings.TrimSpace(txnID)
	if txnID == "" {
		return errors.New("gateway: transaction id is required")
	}

	form := url.Values{}
	form.Set("clientCode", p.clientCode)
	form.Set("guid", p.gatewayGUID)
	form.Set("txnId", txnID)
	form.Set("hash", computeTxnDigest(p.clientCode, p.gatewayGUID, txnID, p.storeKey))

	var resp opResponse
	if err := p.postForm(ctx, pathCancel, form, &resp); err != nil {
		return err
	}
	if !strings.EqualFold(resp.Status, "ok") {
		return Declined(resp.Code, resp.Message)
	}
	p.logger(ctx, "gateway.cancel.accepted", map[string]any{"txnId": txnID})
	return nil
}

// Refund returns settled funds for the given bank reference.
func (p *BankPOSProvider) Refund(ctx context.Context, txnID string, amountMinor int64) (RefundResult, error) {
	if p == nil {
		return RefundResult{}, errors.New("gateway: provider is nil")
	}
	txnID = strings.TrimSpace(txnID)
	if txnID == "" {
		return RefundResult{}, errors.New("gateway: transaction id is required")
	}
	if amountMinor <= 0 {
		return RefundResult{}, errors.New("gateway: refund amount must be positive")
	}

	form := url.Values{}
	form.Set("clientCode", p.clientCode)
	form.Set("guid", p.gatewayGUID)
	form.Set("txnId", txnID)
	form.Set("amount", FormatAmount(amountMinor))
	form.Set("hash", computeTxnDigest(p.clientCode, p.gatewayGUID, txnID, p.storeKey))

	var resp opResponse
	if err := p.postForm(ctx, pathRefund, form, &resp); err != nil {
		return RefundResult{}, err
	}
	if !strings.EqualFold(resp.Status, "ok") {
		return RefundResult{}, Declined(resp.Code, resp.Message)
	}
	refundTxn := strings.TrimSpace(resp.TxnID)
	if refundTxn == "" {
		refundTxn = txnID
	}
	p.logger(ctx, "gateway.refund.accepted", map[string]any{"txnId": txnID, "refundTxnId": refundTxn})
	return RefundResult{TxnID: refundTxn}, nil
}

type installmentsResponse struct {
	Status  string `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Options []struct {
		Count int    `json:"count"`
		Total string `json:"total"`
	} `json:"options"`
}

// InstallmentOptions queries the installment table for a BIN. Results are
// cached per BIN+amount for a short TTL since shoppers retype card numbers.
func (p *BankPOSProvider) InstallmentOptions(ctx context.Context, bin string, amountMinor int64) ([]InstallmentOption, error) {
	if p == nil {
		return nil, errors.New("gateway: provider is nil")
	}
	bin = strings.TrimSpace(bin)
	if len(bin) < 6 {
		return nil, errors.New("gateway: bin must have at least 6 digits")
	}
	bin = bin[:6]
	if amountMinor <= 0 {
		return nil, errors.New("gateway: amount must be positive")
	}

	cacheKey := bin + ":" + strconv.FormatInt(amountMinor, 10)
	now := p.clock()

	p.binMu.Lock()
	if entry, ok := p.binCache[cacheKey]; ok && now.Before(entry.expiresAt) {
		options := append([]InstallmentOption(nil), entry.options...)
		p.binMu.Unlock()
		return options, nil
	}
	p.binMu.Unlock()

	form := url.Values{}
	form.Set("clientCode", p.clientCode)
	form.Set("guid", p.gatewayGUID)
	form.Set("bin", bin)
	form.Set("amount", FormatAmount(amountMinor))
	form.Set("hash", computeTxnDigest(p.clientCode, p.gatewayGUID, bin, p.storeKey))

	var resp installmentsResponse
	if err := p.postForm(ctx, pathInstallments, form, &resp); err != nil {
		return nil, err
	}
	if !strings.EqualFold(resp.Status, "ok") {
		return nil, Declined(resp.Code, resp.Message)
	}

	options := make([]InstallmentOption, 0, len(resp.Options))
	for _, opt := range resp.Options {
		if opt.Count < 1 {
			continue
		}
		total, err := ParseAmount(opt.Total)
		if err != nil {
			return nil, fmt.Errorf("gateway: parse installment total: %w", err)
		}
		options = append(options, InstallmentOption{Count: opt.Count, TotalMinor: total})
	}

	p.binMu.Lock()
	p.binCache[cacheKey] = binCacheEntry{
		options:   append([]InstallmentOption(nil), options...),
		expiresAt: now.Add(p.binTTL),
	}
	p.binMu.Unlock()

	return options, nil
}

func (p *BankPOSProvider) postForm(ctx context.Context, path string, form url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("gateway: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("%w: read response: %v", ErrUnavailable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Unavailable(strconv.Itoa(resp.StatusCode), "unexpected bank response status")
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}
	return nil
}

var autoSubmitTemplate = template.Must(template.New("redirect").Parse(`<!DOCTYPE html>
<html lang="tr">
<head><meta charset="utf-8"><title>Yonlendiriliyor</title></head>
<body onload="document.forms[0].submit()">
<form action="{{.Action}}" method="post">
{{- range $name, $value := .Fields}}
<input type="hidden" name="{{$name}}" value="{{$value}}">
{{- end}}
<noscript><button type="submit">Devam</button></noscript>
</form>
</body>
</html>`))

func renderAutoSubmitForm(action string, fields map[string]string) (string, error) {
	var b strings.Builder
	err := autoSubmitTemplate.Execute(&b, struct {
		Action string
		Fields map[string]string
	}{Action: action, Fields: fields})
	if err != nil {
		return "", err
	}
	return b.String(), nil
}
