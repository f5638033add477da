package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Sentinel errors surfaced to services. Coded gateway responses wrap these so
// callers can branch with errors.Is while keeping the bank's code for the audit
// trail.
var (
	// ErrDeclined indicates the bank processed the request and refused it.
	ErrDeclined = errors.New("gateway: transaction declined")
	// ErrUnavailable indicates the bank endpoint could not be reached or
	// answered with a non-business failure.
	ErrUnavailable = errors.New("gateway: provider unavailable")
	// ErrSignatureMismatch indicates a callback hash did not verify.
	ErrSignatureMismatch = errors.New("gateway: callback signature mismatch")
)

// ResponseError carries the bank's machine-readable decline or failure code.
type ResponseError struct {
	Code    string
	Message string
	err     error
}

func (e *ResponseError) Error() string {
	if strings.TrimSpace(e.Message) == "" {
		return fmt.Sprintf("%v (code=%s)", e.err, e.Code)
	}
	return fmt.Sprintf("%v (code=%s): %s", e.err, e.Code, e.Message)
}

func (e *ResponseError) Unwrap() error { return e.err }

// Declined builds a decline error preserving the bank's response code.
func Declined(code, message string) error {
	return &ResponseError{Code: strings.TrimSpace(code), Message: strings.TrimSpace(message), err: ErrDeclined}
}

// Unavailable builds a transport-level failure preserving the bank's code when present.
func Unavailable(code, message string) error {
	return &ResponseError{Code: strings.TrimSpace(code), Message: strings.TrimSpace(message), err: ErrUnavailable}
}

// Card carries the cardholder input for a single payment attempt. Values are
// forwarded to the bank and must never be persisted or logged.
type Card struct {
	HolderName  string
	Number      string
	ExpiryMonth string
	ExpiryYear  string
	CVV         string
}

// Buyer describes the customer fields the bank expects alongside the charge.
type Buyer struct {
	FullName string
	Email    string
	Phone    string
	Address  string
	City     string
}

// PaymentRequest captures one 3D-Secure payment attempt.
type PaymentRequest struct {
	OrderNumber string
	// TxnAmount is the amount charged in this attempt, in kurus.
	TxnAmount int64
	// TotalAmount is the full order total in kurus; equal to TxnAmount for
	// single-shot payments.
	TotalAmount  int64
	Installments int
	Card         Card
	Buyer        Buyer
	SuccessURL   string
	FailURL      string
}

// RedirectForm is the bank-hosted 3DS hand-off: an HTML document that
// auto-submits a POST towards the bank's challenge page.
type RedirectForm struct {
	Action string
	Fields map[string]string
	HTML   string
}

// CallbackResult is the parsed server-to-server callback the bank posts after
// the 3DS challenge completes.
type CallbackResult struct {
	OrderNumber string
	TxnID       string
	Approved    bool
	// AmountMinor is the charged amount in kurus as echoed by the bank.
	AmountMinor  int64
	TotalMinor   int64
	Installments int
	CardBrand    string
	FailureCode  string
	FailureText  string
	Hash         string
	ReceivedAt   time.Time
}

// RefundResult reports the bank's reference for a successful refund.
type RefundResult struct {
	TxnID string
}

// InstallmentOption is one row of the bank's installment table for a BIN.
type InstallmentOption struct {
	Count int
	// TotalMinor is the total payable in kurus when this option is chosen.
	TotalMinor int64
}

// Provider is the contract payment orchestration depends on. Implementations
// talk to a single bank POS; there is no multi-acquirer routing.
type Provider interface {
	// Initiate opens a 3DS payment and returns the auto-submitting redirect form.
	Initiate(ctx context.Context, req PaymentRequest) (RedirectForm, error)
	// VerifyCallback validates the callback hash against the shared store key.
	VerifyCallback(ctx context.Context, result CallbackResult) error
	// Cancel voids a same-day authorisation before settlement.
	Cancel(ctx context.Context, txnID string) error
	// Refund returns settled funds to the cardholder.
	Refund(ctx context.Context, txnID string, amountMinor int64) (RefundResult, error)
	// InstallmentOptions lists the installment table for a card BIN and basket amount.
	InstallmentOptions(ctx context.Context, bin string, amountMinor int64) ([]InstallmentOption, error)
}

// Logger mirrors the structured logging hook used across service dependencies.
type Logger func(ctx context.Context, event string, fields map[string]any)

// FormatAmount renders a kurus amount in the decimal notation the bank expects.
func FormatAmount(minor int64) string {
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	return fmt.Sprintf("%s%d.%02d", sign, minor/100, minor%100)
}

// ParseAmount converts the bank's decimal notation back to kurus.
func ParseAmount(value string) (int64, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return 0, errors.New("gateway: empty amount")
	}
	negative := strings.HasPrefix(trimmed, "-")
	trimmed = strings.TrimPrefix(trimmed, "-")

	whole, frac := trimmed, "0"
	if idx := strings.IndexAny(trimmed, ".,"); idx >= 0 {
		whole, frac = trimmed[:idx], trimmed[idx+1:]
	}
	if whole == "" {
		whole = "0"
	}
	switch len(frac) {
	case 0:
		frac = "00"
	case 1:
		frac += "0"
	case 2:
	default:
		frac = frac[:2]
	}

	var minor int64
	for _, r := range whole {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("gateway: invalid amount %q", value)
		}
		minor = minor*10 + int64(r-'0')
	}
	minor *= 100
	for i, r := range frac {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("gateway: invalid amount %q", value)
		}
		if i == 0 {
			minor += int64(r-'0') * 10
		} else {
			minor += int64(r - '0')
		}
	}
	if negative {
		minor = -minor
	}
	return minor, nil
}
