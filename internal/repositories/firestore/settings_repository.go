package firestore

import (
	"context"
	"errors"
	"sort"
	"time"

	domain "github.com/yusufarbc/nalburdeposu-pern-ecommerce-sub000/internal/domain"
	pfirestore "github.com/yusufarbc/nalburdeposu-pern-ecommerce-sub000/internal/platform/firestore"
	"github.com/yusufarbc/nalburdeposu-pern-ecommerce-sub000/internal/repositories"
)

const (
	settingsCollection  = "settings"
	shippingSettingsDoc = "shipping"
)

type shippingTierDocument struct {
	MaxWeightGrams int   `firestore:"maxWeightGrams"`
	Price          int64 `firestore:"price"`
}

type shippingSettingsDocument struct {
	Tiers                 []shippingTierDocument `firestore:"tiers"`
	OverflowRatePerKg     int64                  `firestore:"overflowRatePerKg"`
	FreeShippingThreshold *int64                 `firestore:"freeShippingThreshold,omitempty"`
	UpdatedAt             time.Time              `firestore:"updatedAt"`
}

// SettingsRepository reads operator-managed configuration documents. The shipping
// table is loaded fresh on every call so staff edits apply without redeploys.
type SettingsRepository struct {
	settings *pfirestore.BaseRepository[shippingSettingsDocument]
}

// NewSettingsRepository constructs a Firestore-backed settings repository.
func NewSettingsRepository(provider *pfirestore.Provider) (*SettingsRepository, error) {
	if provider == nil {
		return nil, errors.New("settings repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[shippingSettingsDocument](provider, settingsCollection)
	return &SettingsRepository{settings: base}, nil
}

// ShippingSettings loads the shipping fee table. Tiers are returned sorted by
// ascending weight bound regardless of how staff entered them.
func (r *SettingsRepository) ShippingSettings(ctx context.Context) (domain.ShippingSettings, error) {
	doc, err := r.settings.Get(ctx, shippingSettingsDoc)
	if err != nil {
		return domain.ShippingSettings{}, err
	}

	tiers := make([]domain.ShippingTier, 0, len(doc.Data.Tiers))
	for _, tier := range doc.Data.Tiers {
		if tier.MaxWeightGrams <= 0 {
			continue
		}
		tiers = append(tiers, domain.ShippingTier{
			MaxWeightGrams: tier.MaxWeightGrams,
			Price:          tier.Price,
		})
	}
	sort.Slice(tiers, func(i, j int) bool {
		return tiers[i].MaxWeightGrams < tiers[j].MaxWeightGrams
	})

	return domain.ShippingSettings{
		Tiers:                 tiers,
		OverflowRatePerKg:     doc.Data.OverflowRatePerKg,
		FreeShippingThreshold: doc.Data.FreeShippingThreshold,
		UpdatedAt:             doc.Data.UpdatedAt,
	}, nil
}

var _ repositories.SettingsRepository = (*SettingsRepository)(nil)
