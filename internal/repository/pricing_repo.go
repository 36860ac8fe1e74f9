package repository

import (
	"context"
	"errors"

	"github.com/timmy/alttext/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PricingRepository reads and maintains the model price list.
type PricingRepository struct {
	db *gorm.DB
}

// NewPricingRepository creates a new PricingRepository.
func NewPricingRepository(db *gorm.DB) *PricingRepository {
	return &PricingRepository{db: db}
}

// GetPricing looks up pricing by exact model name.
// Returns nil, nil when the model has no row.
func (r *PricingRepository) GetPricing(ctx context.Context, model string) (*domain.Pricing, error) {
	var p domain.Pricing
	err := r.db.WithContext(ctx).First(&p, "model_name = ?", model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Upsert creates or replaces the price row for p.ModelName.
func (r *PricingRepository) Upsert(ctx context.Context, p *domain.Pricing) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "model_name"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"provider", "input_price_per_million", "output_price_per_million",
			"cache_read_price_per_million", "cache_write_price_per_million", "updated_at",
		}),
	}).Create(p).Error
}

// Seed upserts every row inside one transaction.
func (r *PricingRepository) Seed(ctx context.Context, rows []domain.Pricing) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := &PricingRepository{db: tx}
		for i := range rows {
			if err := repo.Upsert(ctx, &rows[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

// List returns all price rows ordered by provider and model.
func (r *PricingRepository) List(ctx context.Context) ([]domain.Pricing, error) {
	var rows []domain.Pricing
	if err := r.db.WithContext(ctx).Order("provider, model_name").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
