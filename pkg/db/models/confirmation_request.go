package models

import (
	"time"

	"github.com/angelmondragon/otcsettle/pkg/enums"
)

// ConfirmationRequest is the single pending guarded operation of an actor.
type ConfirmationRequest struct {
	ActorID            string              `gorm:"column:actor_id;primaryKey"`
	OperationKind      enums.OperationKind `gorm:"column:operation_kind;not null"`
	PayloadFingerprint string              `gorm:"column:payload_fingerprint;not null"`
	CreatedAt          time.Time           `gorm:"column:created_at"`
	ExpiresAt          time.Time           `gorm:"column:expires_at"`
}

func (ConfirmationRequest) TableName() string { return "confirmation_requests" }
