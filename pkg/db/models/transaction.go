package models

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/otcsettle/pkg/enums"
)

// Transaction is a settlement created from a quote. Financial fields are immutable after insert.
type Transaction struct {
	ID               string                  `gorm:"column:id;primaryKey"`
	ScopeID          *string                 `gorm:"column:scope_id"`
	RequesterID      string                  `gorm:"column:requester_id;not null"`
	FiatAmount       decimal.Decimal         `gorm:"column:fiat_amount;type:numeric(20,2);not null"`
	PayoutAmount     decimal.Decimal         `gorm:"column:payout_amount;type:numeric(20,8);not null"`
	BaseRate         decimal.Decimal         `gorm:"column:base_rate;type:numeric(20,8);not null"`
	Markup           decimal.Decimal         `gorm:"column:markup;type:numeric(20,8);not null"`
	FinalRate        decimal.Decimal         `gorm:"column:final_rate;type:numeric(20,8);not null"`
	RateSource       string                  `gorm:"column:rate_source;not null"`
	PayoutAddress    string                  `gorm:"column:payout_address;not null"`
	PayoutAddressID  string                  `gorm:"column:payout_address_id;not null"`
	Status           enums.TransactionStatus `gorm:"column:status;not null"`
	PaymentReference *string                 `gorm:"column:payment_reference"`
	CreatedAt        time.Time               `gorm:"column:created_at"`
	UpdatedAt        time.Time               `gorm:"column:updated_at"`
	PaidAt           *time.Time              `gorm:"column:paid_at"`
	ConfirmedAt      *time.Time              `gorm:"column:confirmed_at"`
	ConfirmedBy      *string                 `gorm:"column:confirmed_by"`
	CancelledAt      *time.Time              `gorm:"column:cancelled_at"`
	CancelledBy      *string                 `gorm:"column:cancelled_by"`
}

func (Transaction) TableName() string { return "transactions" }

// TransactionAuditEntry is an append-only record of one status transition.
type TransactionAuditEntry struct {
	ID            string                   `gorm:"column:id;primaryKey"`
	TransactionID string                   `gorm:"column:transaction_id;not null"`
	ActorID       string                   `gorm:"column:actor_id;not null"`
	OperationKind enums.OperationKind      `gorm:"column:operation_kind;not null"`
	OldStatus     *enums.TransactionStatus `gorm:"column:old_status"`
	NewStatus     enums.TransactionStatus  `gorm:"column:new_status;not null"`
	Description   string                   `gorm:"column:description"`
	CreatedAt     time.Time                `gorm:"column:created_at"`
}

func (TransactionAuditEntry) TableName() string { return "transaction_audit_entries" }
