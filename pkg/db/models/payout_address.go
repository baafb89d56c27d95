package models

import (
	"time"

	"github.com/angelmondragon/otcsettle/pkg/enums"
)

// PayoutAddress is a destination users pay into, owned by a scope.
type PayoutAddress struct {
	ID                string                         `gorm:"column:id;primaryKey"`
	ScopeID           string                         `gorm:"column:scope_id;not null"`
	Address           string                         `gorm:"column:address;not null"`
	Label             string                         `gorm:"column:label"`
	VisualEncodingRef *string                        `gorm:"column:visual_encoding_ref"`
	IsDefault         bool                           `gorm:"column:is_default;not null"`
	IsActive          bool                           `gorm:"column:is_active;not null"`
	ConfirmationState enums.AddressConfirmationState `gorm:"column:confirmation_state;not null"`
	ConfirmedBy       *string                        `gorm:"column:confirmed_by"`
	ConfirmedAt       *time.Time                     `gorm:"column:confirmed_at"`
	UsageCount        int                            `gorm:"column:usage_count;not null"`
	LastUsedAt        *time.Time                     `gorm:"column:last_used_at"`
	CreatedBy         string                         `gorm:"column:created_by;not null"`
	CreatedAt         time.Time                      `gorm:"column:created_at"`
	UpdatedAt         time.Time                      `gorm:"column:updated_at"`
}

func (PayoutAddress) TableName() string { return "payout_addresses" }

// Eligible reports whether the address may be selected for a new transaction.
func (a PayoutAddress) Eligible() bool {
	return a.IsActive && a.ConfirmationState == enums.AddressConfirmed
}
