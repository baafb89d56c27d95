// Package confirmation implements the two-step guard in front of destructive
// administrative operations: the first request arms a per-actor slot, an
// identical second request executes it.
package confirmation

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/otcsettle/pkg/enums"
	pkgerrors "github.com/angelmondragon/otcsettle/pkg/errors"
	"github.com/angelmondragon/otcsettle/pkg/logger"
	"github.com/angelmondragon/otcsettle/pkg/metrics"
)

// DefaultTTL bounds how long an armed request stays executable.
const DefaultTTL = 5 * time.Minute

type OutcomeKind string

const (
	OutcomePending  OutcomeKind = "pending"
	OutcomeExecuted OutcomeKind = "executed"
)

// Outcome describes what a Request call did. Replaced is set when a different
// pending request of the actor was discarded; Expired when a matching request
// had timed out and was re-armed instead of executed.
type Outcome struct {
	Kind     OutcomeKind
	Expired  bool
	Replaced bool
}

func (o Outcome) Executed() bool { return o.Kind == OutcomeExecuted }

// Request is the armed state of one actor.
type Request struct {
	ActorID     string              `json:"actor_id"`
	Kind        enums.OperationKind `json:"kind"`
	Fingerprint string              `json:"fingerprint"`
	CreatedAt   time.Time           `json:"created_at"`
	ExpiresAt   time.Time           `json:"expires_at"`
}

func (r Request) matches(kind enums.OperationKind, fingerprint string) bool {
	return r.Kind == kind && r.Fingerprint == fingerprint
}

func (r Request) expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// Store holds at most one request per actor.
type Store interface {
	// Put replaces the actor's slot.
	Put(ctx context.Context, req Request) error
	// Get returns the actor's request or nil.
	Get(ctx context.Context, actorID string) (*Request, error)
	// Take deletes the slot only while it still holds kind and fingerprint,
	// and reports whether this caller removed it.
	Take(ctx context.Context, actorID string, kind enums.OperationKind, fingerprint string) (bool, error)
	Delete(ctx context.Context, actorID string) error
}

// Action is the guarded operation.
type Action func(ctx context.Context) error

type Guard struct {
	store   Store
	ttl     time.Duration
	metrics *metrics.SettlementMetrics
	logg    *logger.Logger
	now     func() time.Time
}

type GuardParams struct {
	Store   Store
	TTL     time.Duration
	Metrics *metrics.SettlementMetrics
	Logger  *logger.Logger
	Clock   func() time.Time
}

func NewGuard(params GuardParams) (*Guard, error) {
	if params.Store == nil {
		return nil, fmt.Errorf("confirmation store required")
	}
	ttl := params.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	now := params.Clock
	if now == nil {
		now = time.Now
	}
	return &Guard{
		store:   params.Store,
		ttl:     ttl,
		metrics: params.Metrics,
		logg:    logg,
		now:     func() time.Time { return now().UTC() },
	}, nil
}

// Request arms or executes the actor's guarded operation. action runs at most
// once per armed request; its error is returned as is and the slot stays
// cleared.
func (g *Guard) Request(ctx context.Context, actorID string, kind enums.OperationKind, payload any, action Action) (Outcome, error) {
	if strings.TrimSpace(actorID) == "" {
		return Outcome{}, pkgerrors.New(pkgerrors.CodeValidation, "actor id required")
	}
	if kind == "" {
		return Outcome{}, pkgerrors.New(pkgerrors.CodeValidation, "operation kind required")
	}
	if action == nil {
		return Outcome{}, pkgerrors.New(pkgerrors.CodeValidation, "action required")
	}
	fingerprint, err := Fingerprint(kind, payload)
	if err != nil {
		return Outcome{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "fingerprint payload")
	}

	existing, err := g.store.Get(ctx, actorID)
	if err != nil {
		return Outcome{}, pkgerrors.Wrap(pkgerrors.CodeConfirmationFailed, err, "load pending confirmation")
	}
	now := g.now()

	if existing == nil || !existing.matches(kind, fingerprint) {
		if err := g.arm(ctx, actorID, kind, fingerprint, now); err != nil {
			return Outcome{}, err
		}
		outcome := Outcome{Kind: OutcomePending, Replaced: existing != nil && !existing.expired(now)}
		g.observe(ctx, actorID, kind, "armed")
		return outcome, nil
	}

	if existing.expired(now) {
		if err := g.arm(ctx, actorID, kind, fingerprint, now); err != nil {
			return Outcome{}, err
		}
		g.observe(ctx, actorID, kind, "expired")
		return Outcome{Kind: OutcomePending, Expired: true}, nil
	}

	taken, err := g.store.Take(ctx, actorID, kind, fingerprint)
	if err != nil {
		return Outcome{}, pkgerrors.Wrap(pkgerrors.CodeConfirmationFailed, err, "consume pending confirmation")
	}
	if !taken {
		g.observe(ctx, actorID, kind, "lost_race")
		return Outcome{}, pkgerrors.New(pkgerrors.CodeConflict, "confirmation already consumed or replaced")
	}

	if err := action(ctx); err != nil {
		g.observe(ctx, actorID, kind, "failed")
		return Outcome{Kind: OutcomeExecuted}, err
	}
	g.observe(ctx, actorID, kind, "executed")
	return Outcome{Kind: OutcomeExecuted}, nil
}

// Cancel clears the actor's slot.
func (g *Guard) Cancel(ctx context.Context, actorID string) error {
	if err := g.store.Delete(ctx, actorID); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeConfirmationFailed, err, "cancel pending confirmation")
	}
	g.observe(ctx, actorID, "", "cancelled")
	return nil
}

// Pending returns the actor's live request, or nil when none is armed or it
// has expired.
func (g *Guard) Pending(ctx context.Context, actorID string) (*Request, error) {
	req, err := g.store.Get(ctx, actorID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeConfirmationFailed, err, "load pending confirmation")
	}
	if req == nil || req.expired(g.now()) {
		return nil, nil
	}
	return req, nil
}

func (g *Guard) arm(ctx context.Context, actorID string, kind enums.OperationKind, fingerprint string, now time.Time) error {
	err := g.store.Put(ctx, Request{
		ActorID:     actorID,
		Kind:        kind,
		Fingerprint: fingerprint,
		CreatedAt:   now,
		ExpiresAt:   now.Add(g.ttl),
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeConfirmationFailed, err, "store pending confirmation")
	}
	return nil
}

func (g *Guard) observe(ctx context.Context, actorID string, kind enums.OperationKind, outcome string) {
	g.metrics.IncGuarded(string(kind), outcome)
	logCtx := g.logg.WithActorID(ctx, actorID)
	logCtx = g.logg.WithFields(logCtx, map[string]any{"operation": kind, "outcome": outcome})
	g.logg.Debug(logCtx, "confirmation guard")
}

// Fingerprint is the hex SHA-256 of kind and the canonical JSON of payload.
// Map keys are sorted, so equal payloads always hash equally.
func Fingerprint(kind enums.OperationKind, payload any) (string, error) {
	canonical, err := canonicalJSON(payload)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	h.Write([]byte(kind))
	h.Write([]byte{0})
	h.Write(canonical)
	return hex.EncodeToString(h.Sum(nil)), nil
}

func canonicalJSON(payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, err
	}
	return json.Marshal(generic)
}
