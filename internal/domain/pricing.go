package domain

import "time"

// Pricing is the per-million-token price list for one model.
type Pricing struct {
	ID                        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	ModelName                 string    `gorm:"type:text;not null;uniqueIndex:idx_pricing_model" json:"model_name"`
	Provider                  string    `gorm:"type:text;not null" json:"provider"`
	InputPricePerMillion      float64   `gorm:"not null" json:"input_price_per_million"`
	OutputPricePerMillion     float64   `gorm:"not null" json:"output_price_per_million"`
	CacheReadPricePerMillion  *float64  `json:"cache_read_price_per_million,omitempty"`
	CacheWritePricePerMillion *float64  `json:"cache_write_price_per_million,omitempty"`
	CreatedAt                 time.Time `json:"created_at"`
	UpdatedAt                 time.Time `json:"updated_at"`
}

// TableName returns the database table name for Pricing.
func (Pricing) TableName() string {
	return "model_pricing"
}

// CostBreakdown is the monetary cost of one provider call, in the pricing table's currency.
type CostBreakdown struct {
	Model          string  `json:"model"`
	InputCost      float64 `json:"input_cost"`
	OutputCost     float64 `json:"output_cost"`
	CacheReadCost  float64 `json:"cache_read_cost"`
	CacheWriteCost float64 `json:"cache_write_cost"`
	TotalCost      float64 `json:"total_cost"`
}
