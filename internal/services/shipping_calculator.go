package services

import (
	"context"
	"errors"
	"fmt"
	"sort"

	domain "github.com/yusufarbc/nalburdeposu-pern-ecommerce-sub000/internal/domain"
	"github.com/yusufarbc/nalburdeposu-pern-ecommerce-sub000/internal/repositories"
)

var (
	// ErrShippingInvalidInput signals a non-positive basket weight.
	ErrShippingInvalidInput = errors.New("shipping: invalid input")
	// ErrShippingExceedsLimit indicates the basket is heavier than the tier
	// table covers and no overflow rate is configured.
	ErrShippingExceedsLimit = errors.New("shipping: weight exceeds carrier limit")
)

// defaultShippingTiers is the built-in table used when the settings document
// is absent or empty. Prices in kurus, bounds inclusive.
var defaultShippingTiers = []domain.ShippingTier{
	{MaxWeightGrams: 1000, Price: 6500},
	{MaxWeightGrams: 2000, Price: 8500},
	{MaxWeightGrams: 3000, Price: 10500},
	{MaxWeightGrams: 5000, Price: 14000},
	{MaxWeightGrams: 10000, Price: 19000},
	{MaxWeightGrams: 20000, Price: 26000},
	{MaxWeightGrams: 30000, Price: 33000},
}

// ShippingCalculatorDeps bundles collaborators for the tier calculator.
type ShippingCalculatorDeps struct {
	Settings repositories.SettingsRepository
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

type shippingCalculator struct {
	settings repositories.SettingsRepository
	logger   func(context.Context, string, map[string]any)
}

// NewShippingCalculator wires the settings-backed shipping fee calculator.
// Settings are read on every quote so staff edits apply immediately.
func NewShippingCalculator(deps ShippingCalculatorDeps) (ShippingCalculator, error) {
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &shippingCalculator{
		settings: deps.Settings,
		logger:   logger,
	}, nil
}

func (c *shippingCalculator) Quote(ctx context.Context, weightGrams int) (int64, error) {
	if weightGrams <= 0 {
		return 0, fmt.Errorf("%w: weight must be positive, got %d", ErrShippingInvalidInput, weightGrams)
	}

	tiers := defaultShippingTiers
	var overflowRate int64
	if c.settings != nil {
		loaded, err := c.settings.ShippingSettings(ctx)
		if err != nil {
			var repoErr repositories.RepositoryError
			if !errors.As(err, &repoErr) || !repoErr.IsNotFound() {
				return 0, err
			}
			c.logger(ctx, "shipping.settings.missing", map[string]any{"fallback": "builtin"})
		} else if len(loaded.Tiers) > 0 {
			tiers = loaded.Tiers
			overflowRate = loaded.OverflowRatePerKg
		}
	}

	return quoteFromTiers(tiers, overflowRate, weightGrams)
}

// quoteFromTiers resolves the fee against a sorted tier table. Tier bounds are
// inclusive: a basket exactly on a boundary pays that tier's price. Weights
// beyond the last tier extrapolate per started kilogram when an overflow rate
// is configured, otherwise the quote hard-fails.
func quoteFromTiers(tiers []domain.ShippingTier, overflowRatePerKg int64, weightGrams int) (int64, error) {
	if len(tiers) == 0 {
		return 0, fmt.Errorf("%w: no shipping tiers configured", ErrShippingExceedsLimit)
	}
	if !sort.SliceIsSorted(tiers, func(i, j int) bool { return tiers[i].MaxWeightGrams < tiers[j].MaxWeightGrams }) {
		sorted := append([]domain.ShippingTier(nil), tiers...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].MaxWeightGrams < sorted[j].MaxWeightGrams })
		tiers = sorted
	}

	for _, tier := range tiers {
		if weightGrams <= tier.MaxWeightGrams {
			return tier.Price, nil
		}
	}

	last := tiers[len(tiers)-1]
	if overflowRatePerKg <= 0 {
		return 0, fmt.Errorf("%w: %dg exceeds maximum tier %dg", ErrShippingExceedsLimit, weightGrams, last.MaxWeightGrams)
	}

	excessGrams := weightGrams - last.MaxWeightGrams
	startedKg := int64((excessGrams + 999) / 1000)
	return last.Price + startedKg*overflowRatePerKg, nil
}
