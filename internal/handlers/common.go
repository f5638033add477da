package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	domain "github.com/yusufarbc/nalburdeposu-pern-ecommerce-sub000/internal/domain"
)

var (
	errEmptyBody    = errors.New("request body is empty")
	errBodyTooLarge = errors.New("request body too large")
)

const defaultBodyLimit = 16 * 1024

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, errEmptyBody
	}
	if limit <= 0 {
		limit = defaultBodyLimit
	}
	reader := io.LimitReader(r.Body, limit+1)
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errEmptyBody
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	return data, nil
}

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

func parseFilterValues(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{})
	filters := make([]string, 0, len(values))
	for _, raw := range values {
		for _, part := range strings.Split(raw, ",") {
			trimmed := strings.ToLower(strings.TrimSpace(part))
			if trimmed == "" {
				continue
			}
			if _, exists := seen[trimmed]; exists {
				continue
			}
			seen[trimmed] = struct{}{}
			filters = append(filters, trimmed)
		}
	}
	return filters
}

func parseTimeParam(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("timestamp is empty")
	}
	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts.UTC(), nil
	}
	if ts, err := time.Parse(time.RFC3339, value); err == nil {
		return ts.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("must be RFC3339 timestamp")
}

type orderTotalsPayload struct {
	Subtotal int64 `json:"subtotal"`
	Shipping int64 `json:"shipping"`
	Total    int64 `json:"total"`
}

type orderItemPayload struct {
	ProductRef string `json:"product_ref"`
	SKU        string `json:"sku"`
	Name       string `json:"name"`
	Quantity   int    `json:"quantity"`
	UnitPrice  int64  `json:"unit_price"`
	LineTotal  int64  `json:"line_total"`
}

type addressPayload struct {
	Recipient  string  `json:"recipient,omitempty"`
	Line1      string  `json:"line1,omitempty"`
	Line2      *string `json:"line2,omitempty"`
	District   string  `json:"district,omitempty"`
	City       string  `json:"city,omitempty"`
	PostalCode string  `json:"postal_code,omitempty"`
	Country    string  `json:"country,omitempty"`
}

type paymentPayload struct {
	Status           string `json:"status"`
	InstallmentCount int    `json:"installment_count,omitempty"`
	CardBrand        string `json:"card_brand,omitempty"`
	FailureCode      string `json:"failure_code,omitempty"`
	PaidAt           string `json:"paid_at,omitempty"`
	RefundedAt       string `json:"refunded_at,omitempty"`
}

type orderPayload struct {
	ID           string             `json:"id"`
	OrderNumber  string             `json:"order_number"`
	Status       string             `json:"status"`
	Totals       orderTotalsPayload `json:"totals"`
	Items        []orderItemPayload `json:"items"`
	ShippingAddr *addressPayload    `json:"shipping_address,omitempty"`
	Payment      paymentPayload     `json:"payment"`
	Carrier      *string            `json:"carrier,omitempty"`
	TrackingCode *string            `json:"tracking_code,omitempty"`
	CancelReason *string            `json:"cancel_reason,omitempty"`
	CreatedAt    string             `json:"created_at"`
	UpdatedAt    string             `json:"updated_at,omitempty"`
	ShippedAt    string             `json:"shipped_at,omitempty"`
	DeliveredAt  string             `json:"delivered_at,omitempty"`
	CompletedAt  string             `json:"completed_at,omitempty"`
	CanceledAt   string             `json:"canceled_at,omitempty"`
}

type historyEntryPayload struct {
	FromStatus string `json:"from_status,omitempty"`
	ToStatus   string `json:"to_status"`
	Actor      string `json:"actor"`
	Note       string `json:"note,omitempty"`
	CreatedAt  string `json:"created_at"`
}

type returnPayload struct {
	ID            string   `json:"id"`
	OrderID       string   `json:"order_id"`
	Type          string   `json:"type"`
	Status        string   `json:"status"`
	Reason        string   `json:"reason"`
	PhotoRefs     []string `json:"photo_refs,omitempty"`
	ReturnCode    *string  `json:"return_code,omitempty"`
	Carrier       *string  `json:"carrier,omitempty"`
	DecisionNote  *string  `json:"decision_note,omitempty"`
	RefundTxnID   *string  `json:"refund_txn_id,omitempty"`
	RefundFailure *string  `json:"refund_failure,omitempty"`
	CreatedAt     string   `json:"created_at"`
	DecidedAt     string   `json:"decided_at,omitempty"`
	CompletedAt   string   `json:"completed_at,omitempty"`
}

func buildOrderPayload(order domain.Order) orderPayload {
	items := make([]orderItemPayload, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemPayload{
			ProductRef: item.ProductRef,
			SKU:        item.SKU,
			Name:       item.Name,
			Quantity:   item.Quantity,
			UnitPrice:  item.UnitPrice,
			LineTotal:  item.LineTotal,
		})
	}

	payload := orderPayload{
		ID:          order.ID,
		OrderNumber: order.OrderNumber,
		Status:      string(order.Status),
		Totals: orderTotalsPayload{
			Subtotal: order.Totals.Subtotal,
			Shipping: order.Totals.Shipping,
			Total:    order.Totals.Total,
		},
		Items:        items,
		Payment:      buildPaymentPayload(order.Payment),
		Carrier:      order.Carrier,
		TrackingCode: order.TrackingCode,
		CancelReason: order.CancelReason,
		CreatedAt:    formatTime(order.CreatedAt),
		UpdatedAt:    formatTime(order.UpdatedAt),
		ShippedAt:    formatTimePtr(order.ShippedAt),
		DeliveredAt:  formatTimePtr(order.DeliveredAt),
		CompletedAt:  formatTimePtr(order.CompletedAt),
		CanceledAt:   formatTimePtr(order.CanceledAt),
	}
	if addr := buildAddressPayload(order.ShippingAddr); addr != (addressPayload{}) {
		clone := addr
		payload.ShippingAddr = &clone
	}
	return payload
}

func buildAddressPayload(addr domain.Address) addressPayload {
	return addressPayload{
		Recipient:  addr.Recipient,
		Line1:      addr.Line1,
		Line2:      addr.Line2,
		District:   addr.District,
		City:       addr.City,
		PostalCode: addr.PostalCode,
		Country:    addr.Country,
	}
}

func buildPaymentPayload(payment domain.PaymentInfo) paymentPayload {
	payload := paymentPayload{
		Status:           string(payment.Status),
		InstallmentCount: payment.InstallmentCount,
		CardBrand:        payment.CardBrand,
		PaidAt:           formatTimePtr(payment.PaidAt),
		RefundedAt:       formatTimePtr(payment.RefundedAt),
	}
	if payment.FailureCode != nil {
		payload.FailureCode = *payment.FailureCode
	}
	return payload
}

func buildHistoryPayload(entries []domain.OrderHistoryEntry) []historyEntryPayload {
	out := make([]historyEntryPayload, 0, len(entries))
	for _, entry := range entries {
		out = append(out, historyEntryPayload{
			FromStatus: string(entry.FromStatus),
			ToStatus:   string(entry.ToStatus),
			Actor:      string(entry.Actor),
			Note:       entry.Note,
			CreatedAt:  formatTime(entry.CreatedAt),
		})
	}
	return out
}

func buildReturnPayload(request domain.ReturnRequest) returnPayload {
	return returnPayload{
		ID:            request.ID,
		OrderID:       request.OrderID,
		Type:          string(request.Type),
		Status:        string(request.Status),
		Reason:        request.Reason,
		PhotoRefs:     request.PhotoRefs,
		ReturnCode:    request.ReturnCode,
		Carrier:       request.Carrier,
		DecisionNote:  request.DecisionNote,
		RefundTxnID:   request.RefundTxnID,
		RefundFailure: request.RefundFailure,
		CreatedAt:     formatTime(request.CreatedAt),
		DecidedAt:     formatTimePtr(request.DecidedAt),
		CompletedAt:   formatTimePtr(request.CompletedAt),
	}
}
