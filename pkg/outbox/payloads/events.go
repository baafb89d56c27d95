package payloads

import (
	"encoding/json"

	"github.com/angelmondragon/otcsettle/pkg/enums"
)

// AuditRecordedEvent is the payload of every audit sink event.
type AuditRecordedEvent struct {
	ActorID       string                `json:"actor_id"`
	OperationKind enums.OperationKind   `json:"operation_kind"`
	TargetType    enums.AuditTargetType `json:"target_type"`
	TargetID      string                `json:"target_id"`
	ScopeID       *string               `json:"scope_id,omitempty"`
	OldValue      json.RawMessage       `json:"old_value,omitempty"`
	NewValue      json.RawMessage       `json:"new_value,omitempty"`
	Result        enums.AuditResult     `json:"result"`
}
