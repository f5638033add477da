package storage

import (
	"fmt"
	"strings"
)

// AssetPurpose selects the bucket layout an object key follows.
type AssetPurpose string

const (
	PurposeReturnPhoto AssetPurpose = "return-photo"
	PurposeInvoice     AssetPurpose = "invoice"
)

// PathParams carries the identifiers needed to compose an object key.
type PathParams struct {
	OrderID       string
	ReturnID      string
	InvoiceNumber string
	FileName      string
}

// BuildObjectPath resolves the object key for the given purpose. Segments are
// validated so caller-supplied identifiers cannot escape their prefix.
func BuildObjectPath(purpose AssetPurpose, params PathParams) (string, error) {
	switch purpose {
	case PurposeReturnPhoto:
		return joinObjectPath("returns", params.OrderID, params.FileName)
	case PurposeInvoice:
		name := strings.TrimSpace(params.FileName)
		if name == "" && params.InvoiceNumber != "" {
			name = strings.TrimSpace(params.InvoiceNumber) + ".pdf"
		}
		return joinObjectPath("invoices", params.OrderID, name)
	default:
		return "", fmt.Errorf("storage: unsupported asset purpose %q", purpose)
	}
}

func joinObjectPath(prefix, orderID, fileName string) (string, error) {
	orderID, err := cleanSegment("orderID", orderID)
	if err != nil {
		return "", err
	}
	fileName, err = cleanSegment("fileName", fileName)
	if err != nil {
		return "", err
	}
	return prefix + "/" + orderID + "/" + fileName, nil
}

func cleanSegment(field, value string) (string, error) {
	value = strings.TrimSpace(value)
	switch {
	case value == "":
		return "", fmt.Errorf("storage: %s is required", field)
	case strings.ContainsAny(value, "/\\"):
		return "", fmt.Errorf("storage: %s contains invalid path characters", field)
	case strings.Contains(value, ".."):
		return "", fmt.Errorf("storage: %s contains invalid traversal sequence", field)
	}
	return value, nil
}
