package enums

import "fmt"

// OutboxEventType maps to the event_type column of outbox_events.
type OutboxEventType string

const (
	EventAuditRecorded OutboxEventType = "audit_recorded"
)

var validOutboxEventTypes = []OutboxEventType{
	EventAuditRecorded,
}

// IsValid reports whether the value matches a known outbox event type.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid outbox event type %q", value)
}

// OutboxParkReason records why the publisher stopped retrying an audit event.
type OutboxParkReason string

const (
	ParkUndecodable OutboxParkReason = "undecodable"
	ParkUnroutable  OutboxParkReason = "unroutable"
	ParkRejected    OutboxParkReason = "rejected"
	ParkMaxAttempts OutboxParkReason = "max_attempts"
)

// IsValid reports whether the value matches a known park reason.
func (r OutboxParkReason) IsValid() bool {
	switch r {
	case ParkUndecodable, ParkUnroutable, ParkRejected, ParkMaxAttempts:
		return true
	}
	return false
}
