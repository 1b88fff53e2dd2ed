package pricing

import (
	"time"
)

// ContentPricing holds the current unit price for one content type. Updates
// here never rewrite the point_amount snapshots already taken by submissions.
type ContentPricing struct {
	ID          string    `gorm:"column:id;primaryKey"`
	ContentType string    `gorm:"column:content_type;uniqueIndex;not null"`
	UnitPrice   int64     `gorm:"column:unit_price;not null"`
	IsActive    bool      `gorm:"column:is_active;default:true"`
	UpdatedBy   string    `gorm:"column:updated_by"`
	CreatedAt   time.Time `gorm:"column:created_at"`
	UpdatedAt   time.Time `gorm:"column:updated_at"`
}
