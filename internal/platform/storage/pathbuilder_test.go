package storage

import (
	"strings"
	"testing"
)

func TestBuildObjectPathReturnPhoto(t *testing.T) {
	path, err := BuildObjectPath(PurposeReturnPhoto, PathParams{
		OrderID:  "ord_2026_000123",
		FileName: "photo_01.png",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if path != "returns/ord_2026_000123/photo_01.png" {
		t.Fatalf("unexpected path %s", path)
	}
}

func TestBuildObjectPathInvoiceDefaultsToNumber(t *testing.T) {
	path, err := BuildObjectPath(PurposeInvoice, PathParams{
		OrderID:       "ord_2026_000123",
		InvoiceNumber: "ND-2026-000042",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if path != "invoices/ord_2026_000123/ND-2026-000042.pdf" {
		t.Fatalf("unexpected path %s", path)
	}
}

func TestBuildObjectPathRejectsTraversal(t *testing.T) {
	cases := []PathParams{
		{OrderID: "../escape", FileName: "photo_01.png"},
		{OrderID: "ord_2026_000123", FileName: "../../secret"},
		{OrderID: "ord_2026_000123", FileName: "a/b.png"},
		{OrderID: "", FileName: "photo_01.png"},
	}
	for _, params := range cases {
		if _, err := BuildObjectPath(PurposeReturnPhoto, params); err == nil {
			t.Fatalf("expected error for params %+v", params)
		}
	}
}

func TestBuildObjectPathUnknownPurpose(t *testing.T) {
	_, err := BuildObjectPath(AssetPurpose("avatar"), PathParams{
		OrderID:  "ord_2026_000123",
		FileName: "photo_01.png",
	})
	if err == nil || !strings.Contains(err.Error(), "unsupported asset purpose") {
		t.Fatalf("expected unsupported purpose error, got %v", err)
	}
}
