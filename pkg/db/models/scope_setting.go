package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ScopeSetting carries per-scope overrides of the global settlement defaults.
type ScopeSetting struct {
	ScopeID       string           `gorm:"column:scope_id;primaryKey"`
	Markup        *decimal.Decimal `gorm:"column:markup;type:numeric(20,8)"`
	PaymentMethod *string          `gorm:"column:payment_method"`
	UpdatedBy     string           `gorm:"column:updated_by"`
	UpdatedAt     time.Time        `gorm:"column:updated_at"`
}

func (ScopeSetting) TableName() string { return "scope_settings" }
