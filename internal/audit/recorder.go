// Package audit records who changed what. Entries ride the outbox so they are
// emitted only when the mutation they describe commits.
package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"gorm.io/gorm"

	"github.com/angelmondragon/otcsettle/pkg/enums"
	"github.com/angelmondragon/otcsettle/pkg/logger"
	"github.com/angelmondragon/otcsettle/pkg/outbox"
	"github.com/angelmondragon/otcsettle/pkg/outbox/payloads"
)

// Entry describes one audited mutation.
type Entry struct {
	ActorID       string
	ScopeID       *string
	OperationKind enums.OperationKind
	TargetType    enums.AuditTargetType
	TargetID      string
	OldValue      any
	NewValue      any
	Result        enums.AuditResult
}

// Recorder writes entries inside the caller's transaction.
type Recorder interface {
	Record(ctx context.Context, tx *gorm.DB, entry Entry) error
}

type recorder struct {
	emitter outbox.Emitter
	logg    *logger.Logger
}

// NewRecorder builds a Recorder on top of the outbox emitter.
func NewRecorder(emitter outbox.Emitter, logg *logger.Logger) (Recorder, error) {
	if emitter == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &recorder{emitter: emitter, logg: logg}, nil
}

func (r *recorder) Record(ctx context.Context, tx *gorm.DB, entry Entry) error {
	if entry.Result == "" {
		entry.Result = enums.AuditResultSuccess
	}
	oldValue, err := encodeValue(entry.OldValue)
	if err != nil {
		return fmt.Errorf("encode old value: %w", err)
	}
	newValue, err := encodeValue(entry.NewValue)
	if err != nil {
		return fmt.Errorf("encode new value: %w", err)
	}

	eventID, err := r.emitter.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventAuditRecorded,
		AggregateType: entry.TargetType,
		AggregateID:   entry.TargetID,
		Actor:         &outbox.ActorRef{ActorID: entry.ActorID, ScopeID: entry.ScopeID},
		Data: payloads.AuditRecordedEvent{
			ActorID:       entry.ActorID,
			OperationKind: entry.OperationKind,
			TargetType:    entry.TargetType,
			TargetID:      entry.TargetID,
			ScopeID:       entry.ScopeID,
			OldValue:      oldValue,
			NewValue:      newValue,
			Result:        entry.Result,
		},
	})
	if err != nil {
		return fmt.Errorf("emit audit event: %w", err)
	}

	logCtx := r.logg.WithActorID(ctx, entry.ActorID)
	logCtx = r.logg.WithFields(logCtx, map[string]any{
		"operation": entry.OperationKind,
		"target":    string(entry.TargetType) + ":" + entry.TargetID,
		"result":    entry.Result,
		"event_id":  eventID,
	})
	r.logg.Info(logCtx, "audit recorded")
	return nil
}

func encodeValue(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(v)
}

// Discard is a Recorder that drops entries; tests that do not assert on the
// audit sink use it.
var Discard Recorder = discard{}

type discard struct{}

func (discard) Record(context.Context, *gorm.DB, Entry) error { return nil }
