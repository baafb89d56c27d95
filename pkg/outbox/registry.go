package outbox

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/angelmondragon/otcsettle/pkg/config"
	"github.com/angelmondragon/otcsettle/pkg/db/models"
	"github.com/angelmondragon/otcsettle/pkg/enums"
	"github.com/angelmondragon/otcsettle/pkg/outbox/payloads"
)

// EventDescriptor links an event type to its topic and payload schema.
type EventDescriptor struct {
	EventType      enums.OutboxEventType
	Topic          string
	PayloadFactory func() interface{}
}

// ResolvedEvent is the result of decoding an outbox row.
type ResolvedEvent struct {
	Descriptor EventDescriptor
	Envelope   PayloadEnvelope
	Payload    interface{}
}

// NonRetryableError signals the publisher should stop retrying a row.
type NonRetryableError struct {
	Err error
}

func (e NonRetryableError) Error() string {
	if e.Err == nil {
		return "non-retryable error"
	}
	return e.Err.Error()
}

func (e NonRetryableError) Unwrap() error {
	return e.Err
}

func NewNonRetryableError(err error) error {
	return NonRetryableError{Err: err}
}

// EventRegistry maps each supported event type to its descriptor.
type EventRegistry struct {
	entries map[enums.OutboxEventType]EventDescriptor
}

// NewEventRegistry builds the registry with the configured topic names.
func NewEventRegistry(cfg config.PubSubConfig) (*EventRegistry, error) {
	if cfg.AuditTopic == "" {
		return nil, fmt.Errorf("audit topic is required")
	}
	reg := &EventRegistry{entries: make(map[enums.OutboxEventType]EventDescriptor)}
	reg.entries[enums.EventAuditRecorded] = EventDescriptor{
		EventType:      enums.EventAuditRecorded,
		Topic:          cfg.AuditTopic,
		PayloadFactory: func() interface{} { return &payloads.AuditRecordedEvent{} },
	}
	return reg, nil
}

// Resolve decodes the envelope and payload of row. Unknown event types and
// malformed payloads are non-retryable.
func (r *EventRegistry) Resolve(row models.OutboxEvent) (*ResolvedEvent, error) {
	desc, ok := r.entries[row.EventType]
	if !ok {
		return nil, NewNonRetryableError(fmt.Errorf("event type %q not registered", row.EventType))
	}
	var envelope PayloadEnvelope
	if err := json.Unmarshal([]byte(row.Payload), &envelope); err != nil {
		return nil, NewNonRetryableError(fmt.Errorf("decode envelope %s: %w", row.ID, err))
	}
	payload := desc.PayloadFactory()
	dec := json.NewDecoder(bytes.NewReader(envelope.Data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(payload); err != nil {
		return nil, NewNonRetryableError(fmt.Errorf("decode %s payload %s: %w", row.EventType, row.ID, err))
	}
	return &ResolvedEvent{Descriptor: desc, Envelope: envelope, Payload: payload}, nil
}
