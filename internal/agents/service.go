// Package agents maintains the support agent pool and assigns agents to
// incoming user requests.
package agents

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/otcsettle/internal/audit"
	"github.com/angelmondragon/otcsettle/pkg/db"
	"github.com/angelmondragon/otcsettle/pkg/db/models"
	"github.com/angelmondragon/otcsettle/pkg/enums"
	pkgerrors "github.com/angelmondragon/otcsettle/pkg/errors"
	"github.com/angelmondragon/otcsettle/pkg/logger"
	"github.com/angelmondragon/otcsettle/pkg/metrics"
	"github.com/angelmondragon/otcsettle/pkg/validation"
)

const defaultHistoryLimit = 50

// CreateInput registers a new agent.
type CreateInput struct {
	Handle        string `json:"handle" validate:"required,max=64"`
	Weight        int    `json:"weight" validate:"min=1,max=10"`
	MaxConcurrent int    `json:"max_concurrent" validate:"min=1"`
	ActorID       string `json:"actor_id" validate:"required"`
}

// UpdateInput edits an agent. Nil fields are left unchanged.
type UpdateInput struct {
	ID            string `json:"id" validate:"required"`
	Weight        *int   `json:"weight" validate:"omitempty,min=1,max=10"`
	MaxConcurrent *int   `json:"max_concurrent" validate:"omitempty,min=1"`
	ActorID       string `json:"actor_id" validate:"required"`
}

// Assignment is the outcome of Assign.
type Assignment struct {
	Record models.AssignmentRecord
	Agent  models.SupportAgent
}

// Fallback reports whether the agent was picked despite being at capacity.
func (a Assignment) Fallback() bool {
	return a.Record.Fallback
}

// Service exposes the agent pool.
type Service interface {
	Create(ctx context.Context, input CreateInput) (*models.SupportAgent, error)
	Update(ctx context.Context, input UpdateInput) (*models.SupportAgent, error)
	SetStatus(ctx context.Context, agentID string, status enums.AgentStatus, actorID string) (*models.SupportAgent, error)
	SetActive(ctx context.Context, agentID string, active bool, actorID string) (*models.SupportAgent, error)
	Get(ctx context.Context, agentID string) (*models.SupportAgent, error)
	List(ctx context.Context, activeOnly bool) ([]models.SupportAgent, error)
	Assign(ctx context.Context, userID string, method enums.AssignmentMethod) (*Assignment, error)
	Release(ctx context.Context, assignmentID string) (*models.AssignmentRecord, error)
	ResetLoad(ctx context.Context, agentID, actorID string) (*models.SupportAgent, error)
	History(ctx context.Context, userID string, limit int) ([]models.AssignmentRecord, error)
	ReconcileLoad(ctx context.Context) (int, error)
	ReleaseStale(ctx context.Context, cutoff time.Time, limit int) (int, error)
}

type service struct {
	repo          *Repository
	tx            db.TxRunner
	audit         audit.Recorder
	metrics       *metrics.SettlementMetrics
	logg          *logger.Logger
	defaultMethod enums.AssignmentMethod
	now           func() time.Time
}

// Option customises the service.
type Option func(*service)

// WithDefaultMethod sets the method used when Assign receives none.
func WithDefaultMethod(method enums.AssignmentMethod) Option {
	return func(s *service) {
		if method.IsValid() {
			s.defaultMethod = method
		}
	}
}

// WithClock overrides the clock used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *service) { s.now = now }
}

func NewService(repo *Repository, tx db.TxRunner, recorder audit.Recorder, m *metrics.SettlementMetrics, logg *logger.Logger, opts ...Option) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("agent repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if recorder == nil {
		return nil, fmt.Errorf("audit recorder required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	s := &service{
		repo:          repo,
		tx:            tx,
		audit:         recorder,
		metrics:       m,
		logg:          logg,
		defaultMethod: enums.AssignmentMethodSmart,
		now:           func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

type agentState struct {
	Handle        string            `json:"handle"`
	Status        enums.AgentStatus `json:"status"`
	Weight        int               `json:"weight"`
	MaxConcurrent int               `json:"max_concurrent"`
	CurrentCount  int               `json:"current_count"`
	IsActive      bool              `json:"is_active"`
}

func stateOf(a *models.SupportAgent) agentState {
	return agentState{
		Handle:        a.Handle,
		Status:        a.Status,
		Weight:        a.Weight,
		MaxConcurrent: a.MaxConcurrent,
		CurrentCount:  a.CurrentCount,
		IsActive:      a.IsActive,
	}
}

func (s *service) Create(ctx context.Context, input CreateInput) (*models.SupportAgent, error) {
	input.Handle = strings.TrimSpace(input.Handle)
	if err := validation.Struct(input); err != nil {
		return nil, err
	}
	now := s.now()
	row := &models.SupportAgent{
		ID:            uuid.NewString(),
		Handle:        input.Handle,
		Status:        enums.AgentStatusAvailable,
		Weight:        input.Weight,
		MaxConcurrent: input.MaxConcurrent,
		IsActive:      true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.Create(tx, row); err != nil {
			if isDuplicateHandle(err) {
				return pkgerrors.New(pkgerrors.CodeConflict, "agent handle already registered")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create support agent")
		}
		return s.record(ctx, tx, input.ActorID, enums.OpAgentCreate, row.ID, nil, stateOf(row))
	})
	if err != nil {
		return nil, err
	}
	return row, nil
}

func (s *service) Update(ctx context.Context, input UpdateInput) (*models.SupportAgent, error) {
	if err := validation.Struct(input); err != nil {
		return nil, err
	}
	return s.mutate(ctx, input.ID, input.ActorID, enums.OpAgentUpdate, func(row *models.SupportAgent, fields map[string]any) {
		if input.Weight != nil && *input.Weight != row.Weight {
			row.Weight = *input.Weight
			fields["weight"] = row.Weight
		}
		if input.MaxConcurrent != nil && *input.MaxConcurrent != row.MaxConcurrent {
			row.MaxConcurrent = *input.MaxConcurrent
			fields["max_concurrent"] = row.MaxConcurrent
		}
	})
}

func (s *service) SetStatus(ctx context.Context, agentID string, status enums.AgentStatus, actorID string) (*models.SupportAgent, error) {
	if !status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid agent status %q", status))
	}
	return s.mutate(ctx, agentID, actorID, enums.OpAgentStatus, func(row *models.SupportAgent, fields map[string]any) {
		if row.Status != status {
			row.Status = status
			fields["status"] = status
		}
	})
}

// SetActive toggles the agent. Deactivation also marks it disabled and
// reactivation brings a disabled agent back as available.
func (s *service) SetActive(ctx context.Context, agentID string, active bool, actorID string) (*models.SupportAgent, error) {
	op := enums.OpAgentStatus
	if !active {
		op = enums.OpAgentDisable
	}
	return s.mutate(ctx, agentID, actorID, op, func(row *models.SupportAgent, fields map[string]any) {
		if row.IsActive != active {
			row.IsActive = active
			fields["is_active"] = active
		}
		switch {
		case !active && row.Status != enums.AgentStatusDisabled:
			row.Status = enums.AgentStatusDisabled
			fields["status"] = row.Status
		case active && row.Status == enums.AgentStatusDisabled:
			row.Status = enums.AgentStatusAvailable
			fields["status"] = row.Status
		}
	})
}

func (s *service) mutate(ctx context.Context, agentID, actorID string, op enums.OperationKind, apply func(*models.SupportAgent, map[string]any)) (*models.SupportAgent, error) {
	if strings.TrimSpace(actorID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "actor id required")
	}
	var out *models.SupportAgent
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		row, err := s.load(ctx, tx, agentID)
		if err != nil {
			return err
		}
		before := stateOf(row)
		fields := map[string]any{}
		apply(row, fields)
		out = row
		if len(fields) == 0 {
			return nil
		}
		if _, err := s.repo.Update(tx, row.ID, fields); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update support agent")
		}
		return s.record(ctx, tx, actorID, op, row.ID, before, stateOf(row))
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *service) Get(ctx context.Context, agentID string) (*models.SupportAgent, error) {
	return s.load(ctx, nil, agentID)
}

func (s *service) List(ctx context.Context, activeOnly bool) ([]models.SupportAgent, error) {
	rows, err := s.repo.List(ctx, nil, activeOnly)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list support agents")
	}
	return rows, nil
}

// Assign picks an agent for the user and claims one slot of its capacity.
func (s *service) Assign(ctx context.Context, userID string, method enums.AssignmentMethod) (*Assignment, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	if method == "" {
		method = s.defaultMethod
	}
	order, ok := orderings[method]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown assignment method %q", method))
	}

	var out *Assignment
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		agents, err := s.repo.List(ctx, tx, true)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list support agents")
		}
		in := pickInput{agents: agents}
		if method == enums.AssignmentMethodRoundRobin {
			if in.recent, err = s.repo.AgentsByLastAssignment(ctx, tx); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load assignment recency")
			}
		}

		now := s.now()
		var picked *models.SupportAgent
		for _, candidate := range order(in) {
			claimed, err := s.repo.IncrementLoad(tx, candidate.ID, false, now)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "claim agent capacity")
			}
			if claimed {
				picked = &candidate
				break
			}
		}

		fallback := false
		if picked == nil && method == enums.AssignmentMethodSmart {
			oldest, found := oldestActive(agents)
			if found {
				claimed, err := s.repo.IncrementLoad(tx, oldest.ID, true, now)
				if err != nil {
					return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "claim fallback agent")
				}
				if claimed {
					picked, fallback = &oldest, true
				}
			}
		}
		if picked == nil {
			return pkgerrors.New(pkgerrors.CodeNoAgentAvailable, "no support agent available")
		}
		picked.CurrentCount++
		picked.TotalServed++

		rec := models.AssignmentRecord{
			ID:          uuid.NewString(),
			UserID:      userID,
			AgentID:     picked.ID,
			AgentHandle: picked.Handle,
			Method:      method,
			Fallback:    fallback,
			Status:      enums.AssignmentStatusOpen,
			AssignedAt:  now,
		}
		if err := s.repo.CreateAssignment(tx, &rec); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create assignment record")
		}
		out = &Assignment{Record: rec, Agent: *picked}
		return s.record(ctx, tx, userID, enums.OpAgentAssign, picked.ID, nil, map[string]any{
			"assignment_id": rec.ID,
			"user_id":       userID,
			"method":        method,
			"fallback":      fallback,
			"current_count": picked.CurrentCount,
		})
	})
	if err != nil {
		return nil, err
	}

	s.metrics.IncAssignment(string(method), out.Fallback())
	ctx = s.logg.WithFields(ctx, map[string]any{
		"agent_id": out.Agent.ID,
		"method":   method,
		"fallback": out.Fallback(),
	})
	s.logg.Info(ctx, "support agent assigned")
	return out, nil
}

// Release closes an open assignment and frees the slot it held. Releasing an
// already released assignment is a no-op.
func (s *service) Release(ctx context.Context, assignmentID string) (*models.AssignmentRecord, error) {
	if strings.TrimSpace(assignmentID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "assignment id required")
	}
	var out *models.AssignmentRecord
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		rec, err := s.repo.FindAssignment(ctx, tx, assignmentID)
		if err != nil {
			if isNotFound(err) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "assignment not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load assignment")
		}
		out = rec
		now := s.now()
		closed, err := s.repo.CloseAssignment(tx, rec.ID, now)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "close assignment")
		}
		if !closed {
			return nil
		}
		if err := s.repo.DecrementLoad(tx, rec.AgentID, now); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "release agent capacity")
		}
		rec.Status = enums.AssignmentStatusReleased
		rec.ReleasedAt = &now
		return s.record(ctx, tx, rec.UserID, enums.OpAgentRelease, rec.AgentID,
			map[string]any{"assignment_id": rec.ID, "status": enums.AssignmentStatusOpen},
			map[string]any{"assignment_id": rec.ID, "status": enums.AssignmentStatusReleased})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ResetLoad zeroes the agent's counter and closes its open assignments.
func (s *service) ResetLoad(ctx context.Context, agentID, actorID string) (*models.SupportAgent, error) {
	if strings.TrimSpace(actorID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "actor id required")
	}
	var out *models.SupportAgent
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		row, err := s.load(ctx, tx, agentID)
		if err != nil {
			return err
		}
		before := stateOf(row)
		now := s.now()
		released, err := s.repo.ReleaseOpenByAgent(tx, row.ID, now)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "release open assignments")
		}
		if err := s.repo.SetLoad(tx, row.ID, 0, now); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reset agent load")
		}
		row.CurrentCount = 0
		row.UpdatedAt = now
		out = row
		ctx = s.logg.WithField(ctx, "released_assignments", released)
		return s.record(ctx, tx, actorID, enums.OpAgentResetLoad, row.ID, before, stateOf(row))
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *service) History(ctx context.Context, userID string, limit int) ([]models.AssignmentRecord, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	rows, err := s.repo.ListAssignmentsByUser(ctx, userID, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list assignment history")
	}
	return rows, nil
}

// ReconcileLoad rewrites current_count from the open assignments of each
// agent and returns how many agents were corrected.
func (s *service) ReconcileLoad(ctx context.Context) (int, error) {
	fixed := 0
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		agents, err := s.repo.List(ctx, tx, false)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list support agents")
		}
		open, err := s.repo.CountOpenByAgent(ctx, tx)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count open assignments")
		}
		now := s.now()
		for _, a := range agents {
			want := open[a.ID]
			if a.CurrentCount == want {
				continue
			}
			if err := s.repo.SetLoad(tx, a.ID, want, now); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reconcile agent load")
			}
			s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
				"agent_id": a.ID,
				"stored":   a.CurrentCount,
				"open":     want,
			}), "agent load drift corrected")
			fixed++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return fixed, nil
}

// ReleaseStale releases assignments that stayed open since before cutoff.
func (s *service) ReleaseStale(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	ids, err := s.repo.ListOpenAssignedBefore(ctx, cutoff, limit)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list stale assignments")
	}
	released := 0
	for _, id := range ids {
		if _, err := s.Release(ctx, id); err != nil {
			return released, err
		}
		released++
	}
	return released, nil
}

func (s *service) load(ctx context.Context, tx *gorm.DB, id string) (*models.SupportAgent, error) {
	if strings.TrimSpace(id) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "agent id required")
	}
	row, err := s.repo.FindByID(ctx, tx, id)
	if err != nil {
		if isNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "support agent not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load support agent")
	}
	return row, nil
}

func (s *service) record(ctx context.Context, tx *gorm.DB, actorID string, op enums.OperationKind, agentID string, before, after any) error {
	if err := s.audit.Record(ctx, tx, audit.Entry{
		ActorID:       actorID,
		OperationKind: op,
		TargetType:    enums.TargetSupportAgent,
		TargetID:      agentID,
		OldValue:      before,
		NewValue:      after,
	}); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record agent audit")
	}
	return nil
}

// isDuplicateHandle matches the constraint name on postgres and the column
// list sqlite reports.
func isDuplicateHandle(err error) bool {
	return db.IsUniqueViolation(err, "uq_support_agents_handle") ||
		db.IsUniqueViolation(err, "support_agents.handle")
}
