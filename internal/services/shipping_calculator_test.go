package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/yusufarbc/nalburdeposu-pern-ecommerce-sub000/internal/domain"
)

func newTestCalculator(t *testing.T, settings *stubSettingsRepo) ShippingCalculator {
	t.Helper()
	deps := ShippingCalculatorDeps{}
	if settings != nil {
		deps.Settings = settings
	}
	calc, err := NewShippingCalculator(deps)
	if err != nil {
		t.Fatalf("new shipping calculator: %v", err)
	}
	return calc
}

func TestShippingQuoteBoundaryInclusive(t *testing.T) {
	calc := newTestCalculator(t, nil)

	// Exactly 3.0kg lands in the 3kg tier, not the next one up.
	fee, err := calc.Quote(context.Background(), 3000)
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if fee != 10500 {
		t.Fatalf("expected 10500 kurus for 3000g, got %d", fee)
	}

	// One gram over the boundary moves to the next tier.
	fee, err = calc.Quote(context.Background(), 3001)
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if fee != 14000 {
		t.Fatalf("expected 14000 kurus for 3001g, got %d", fee)
	}
}

func TestShippingQuoteRejectsNonPositiveWeight(t *testing.T) {
	calc := newTestCalculator(t, nil)
	for _, weight := range []int{0, -50} {
		if _, err := calc.Quote(context.Background(), weight); !errors.Is(err, ErrShippingInvalidInput) {
			t.Fatalf("expected invalid input for %dg, got %v", weight, err)
		}
	}
}

func TestShippingQuoteOverflowWithoutRateFails(t *testing.T) {
	calc := newTestCalculator(t, nil)

	_, err := calc.Quote(context.Background(), 120000)
	if !errors.Is(err, ErrShippingExceedsLimit) {
		t.Fatalf("expected exceeds-limit error for 120kg on builtin table, got %v", err)
	}
}

func TestShippingQuoteOverflowExtrapolates(t *testing.T) {
	settings := &stubSettingsRepo{
		shippingFn: func(context.Context) (domain.ShippingSettings, error) {
			return domain.ShippingSettings{
				Tiers: []domain.ShippingTier{
					{MaxWeightGrams: 10000, Price: 20000},
				},
				OverflowRatePerKg: 1500,
				UpdatedAt:         time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC),
			}, nil
		},
	}
	calc := newTestCalculator(t, settings)

	// 12.4kg = 2.4kg over the table, billed as 3 started kilograms.
	fee, err := calc.Quote(context.Background(), 12400)
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if expected := int64(20000 + 3*1500); fee != expected {
		t.Fatalf("expected %d, got %d", expected, fee)
	}

	// Exactly on a whole excess kilogram boundary bills that kilogram only.
	fee, err = calc.Quote(context.Background(), 12000)
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if expected := int64(20000 + 2*1500); fee != expected {
		t.Fatalf("expected %d, got %d", expected, fee)
	}
}

func TestShippingQuoteUsesUnsortedSettingsTiers(t *testing.T) {
	settings := &stubSettingsRepo{
		shippingFn: func(context.Context) (domain.ShippingSettings, error) {
			return domain.ShippingSettings{
				Tiers: []domain.ShippingTier{
					{MaxWeightGrams: 5000, Price: 9000},
					{MaxWeightGrams: 1000, Price: 4000},
				},
			}, nil
		},
	}
	calc := newTestCalculator(t, settings)

	fee, err := calc.Quote(context.Background(), 800)
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if fee != 4000 {
		t.Fatalf("expected cheapest matching tier 4000, got %d", fee)
	}
}

func TestShippingQuoteFallsBackWhenSettingsMissing(t *testing.T) {
	settings := &stubSettingsRepo{
		shippingFn: func(context.Context) (domain.ShippingSettings, error) {
			return domain.ShippingSettings{}, notFoundRepoError{}
		},
	}
	calc := newTestCalculator(t, settings)

	fee, err := calc.Quote(context.Background(), 1500)
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if fee != 8500 {
		t.Fatalf("expected builtin tier price 8500, got %d", fee)
	}
}
