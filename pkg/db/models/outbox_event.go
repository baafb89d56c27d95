package models

import (
	"time"

	"github.com/angelmondragon/otcsettle/pkg/enums"
)

// OutboxEvent represents an append-only event emitted via the outbox pattern.
// Parked rows are kept for inspection and never fetched by the publisher.
type OutboxEvent struct {
	ID            string                  `gorm:"column:id;primaryKey"`
	EventType     enums.OutboxEventType   `gorm:"column:event_type;not null"`
	AggregateType enums.AuditTargetType   `gorm:"column:aggregate_type;not null"`
	AggregateID   string                  `gorm:"column:aggregate_id;not null"`
	Payload       string                  `gorm:"column:payload;type:jsonb;not null"`
	CreatedAt     time.Time               `gorm:"column:created_at"`
	PublishedAt   *time.Time              `gorm:"column:published_at"`
	AttemptCount  int                     `gorm:"column:attempt_count;not null;default:0"`
	LastError     *string                 `gorm:"column:last_error"`
	ParkedAt      *time.Time              `gorm:"column:parked_at"`
	ParkedReason  *enums.OutboxParkReason `gorm:"column:parked_reason"`
}

func (OutboxEvent) TableName() string { return "outbox_events" }
