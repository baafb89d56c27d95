// Package transactions is the settlement ledger: it persists transactions
// created from quotes and drives them through their lifecycle.
package transactions

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/otcsettle/internal/audit"
	"github.com/angelmondragon/otcsettle/internal/settlement"
	"github.com/angelmondragon/otcsettle/pkg/db"
	"github.com/angelmondragon/otcsettle/pkg/db/models"
	"github.com/angelmondragon/otcsettle/pkg/enums"
	pkgerrors "github.com/angelmondragon/otcsettle/pkg/errors"
	"github.com/angelmondragon/otcsettle/pkg/logger"
	"github.com/angelmondragon/otcsettle/pkg/metrics"
	"github.com/angelmondragon/otcsettle/pkg/pagination"
	"github.com/angelmondragon/otcsettle/pkg/validation"
)

// GlobalAddressScope is the address pool used by transactions created
// outside any scope.
const GlobalAddressScope = "global"

type addressPool interface {
	SelectActiveTx(ctx context.Context, tx *gorm.DB, scopeID string, strategy enums.AddressStrategy) (*models.PayoutAddress, error)
	RecordUsage(ctx context.Context, tx *gorm.DB, addressID string, at time.Time) error
}

type CreateInput struct {
	Quote       *settlement.Quote     `json:"quote" validate:"required"`
	ScopeID     *string               `json:"scope_id"`
	RequesterID string                `json:"requester_id" validate:"required"`
	Strategy    enums.AddressStrategy `json:"strategy"`
}

type MarkPaidInput struct {
	TransactionID    string `json:"transaction_id" validate:"required"`
	ActorID          string `json:"actor_id" validate:"required"`
	PaymentReference string `json:"payment_reference" validate:"max=256"`
}

type ConfirmInput struct {
	TransactionID string `json:"transaction_id" validate:"required"`
	ActorID       string `json:"actor_id" validate:"required"`
	IsAdmin       bool   `json:"is_admin"`
}

type CancelInput struct {
	TransactionID string `json:"transaction_id" validate:"required"`
	ActorID       string `json:"actor_id" validate:"required"`
	IsAdmin       bool   `json:"is_admin"`
	Reason        string `json:"reason" validate:"max=512"`
}

// BatchConfirmInput selects the paid transactions to confirm: those of one
// scope, or every scope when All is set.
type BatchConfirmInput struct {
	ScopeID *string `json:"scope_id"`
	All     bool    `json:"all"`
	ActorID string  `json:"actor_id" validate:"required"`
}

type ListFilter struct {
	ScopeID     *string
	Status      *enums.TransactionStatus
	RequesterID string
}

// BatchOutcome is the per-item result of a batch confirmation.
type BatchOutcome string

const (
	BatchConfirmed BatchOutcome = "confirmed"
	BatchSkipped   BatchOutcome = "skipped"
	BatchFailed    BatchOutcome = "failed"
)

type BatchItemResult struct {
	TransactionID string
	Outcome       BatchOutcome
	Err           error
}

// BatchResult reports every item of a batch confirmation. There is no
// atomicity across items.
type BatchResult struct {
	Items     []BatchItemResult
	Confirmed int
	Skipped   int
	Failed    int
}

// Err combines the errors of failed items, or returns nil.
func (r *BatchResult) Err() error {
	var combined error
	for _, item := range r.Items {
		if item.Outcome == BatchFailed {
			combined = multierr.Append(combined, fmt.Errorf("%s: %w", item.TransactionID, item.Err))
		}
	}
	return combined
}

// Service is the transaction ledger.
type Service interface {
	Create(ctx context.Context, input CreateInput) (*models.Transaction, error)
	MarkPaid(ctx context.Context, input MarkPaidInput) (*models.Transaction, error)
	Confirm(ctx context.Context, input ConfirmInput) (*models.Transaction, error)
	ConfirmAllPaid(ctx context.Context, input BatchConfirmInput) (*BatchResult, error)
	Cancel(ctx context.Context, input CancelInput) (*models.Transaction, error)
	Get(ctx context.Context, id string) (*models.Transaction, error)
	List(ctx context.Context, filter ListFilter, params pagination.Params) (*pagination.Page[models.Transaction], error)
	AuditTrail(ctx context.Context, id string) ([]models.TransactionAuditEntry, error)
}

type service struct {
	repo      *Repository
	tx        db.TxRunner
	addresses addressPool
	audit     audit.Recorder
	metrics   *metrics.SettlementMetrics
	logg      *logger.Logger
	now       func() time.Time
}

type ServiceParams struct {
	Repo      *Repository
	Tx        db.TxRunner
	Addresses addressPool
	Audit     audit.Recorder
	Metrics   *metrics.SettlementMetrics
	Logger    *logger.Logger
	Clock     func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("transaction repository required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Addresses == nil {
		return nil, fmt.Errorf("address pool required")
	}
	if params.Audit == nil {
		return nil, fmt.Errorf("audit recorder required")
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	now := params.Clock
	if now == nil {
		now = time.Now
	}
	return &service{
		repo:      params.Repo,
		tx:        params.Tx,
		addresses: params.Addresses,
		audit:     params.Audit,
		metrics:   params.Metrics,
		logg:      logg,
		now:       func() time.Time { return now().UTC().Truncate(time.Microsecond) },
	}, nil
}

func (s *service) Create(ctx context.Context, input CreateInput) (*models.Transaction, error) {
	if err := validation.Struct(input); err != nil {
		return nil, err
	}
	q := input.Quote
	if !q.FinalRate.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quote final rate must be positive")
	}
	if !q.FiatAmount.IsPositive() || !q.PayoutAmount.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quote amounts must be positive")
	}
	strategy := input.Strategy
	if strategy == "" {
		strategy = enums.AddressStrategyDefault
	}
	poolScope := GlobalAddressScope
	if input.ScopeID != nil && strings.TrimSpace(*input.ScopeID) != "" {
		poolScope = *input.ScopeID
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "generate transaction id")
	}

	var row *models.Transaction
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		address, err := s.addresses.SelectActiveTx(ctx, tx, poolScope, strategy)
		if err != nil {
			return err
		}
		now := s.now()
		if err := s.addresses.RecordUsage(ctx, tx, address.ID, now); err != nil {
			return err
		}
		row = &models.Transaction{
			ID:              id.String(),
			ScopeID:         input.ScopeID,
			RequesterID:     input.RequesterID,
			FiatAmount:      q.FiatAmount,
			PayoutAmount:    q.PayoutAmount,
			BaseRate:        q.BaseRate,
			Markup:          q.Markup,
			FinalRate:       q.FinalRate,
			RateSource:      q.RateSourceID,
			PayoutAddress:   address.Address,
			PayoutAddressID: address.ID,
			Status:          enums.TransactionStatusPending,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := s.repo.Create(tx, row); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create transaction")
		}
		return s.recordTransition(ctx, tx, row, nil, input.RequesterID, enums.OpTransactionCreate,
			fmt.Sprintf("created for %s at rate %s via %s", q.FiatAmount.String(), q.FinalRate.String(), q.RateSourceID), now)
	})
	if err != nil {
		return nil, err
	}
	s.metrics.IncTransition("none", string(enums.TransactionStatusPending))

	logCtx := s.logg.WithActorID(ctx, input.RequesterID)
	logCtx = s.logg.WithScopeID(logCtx, input.ScopeID)
	s.logg.Info(s.logg.WithField(logCtx, "transaction_id", row.ID), "transaction created")
	return row, nil
}

func (s *service) MarkPaid(ctx context.Context, input MarkPaidInput) (*models.Transaction, error) {
	if err := validation.Struct(input); err != nil {
		return nil, err
	}
	return s.transition(ctx, transitionRequest{
		id:      input.TransactionID,
		actorID: input.ActorID,
		to:      enums.TransactionStatusPaid,
		fields: func(now time.Time) map[string]any {
			fields := map[string]any{"paid_at": now}
			if ref := strings.TrimSpace(input.PaymentReference); ref != "" {
				fields["payment_reference"] = ref
			}
			return fields
		},
		description: "marked as paid",
	})
}

func (s *service) Confirm(ctx context.Context, input ConfirmInput) (*models.Transaction, error) {
	if err := validation.Struct(input); err != nil {
		return nil, err
	}
	return s.transition(ctx, transitionRequest{
		id:      input.TransactionID,
		actorID: input.ActorID,
		isAdmin: input.IsAdmin,
		to:      enums.TransactionStatusConfirmed,
		fields: func(now time.Time) map[string]any {
			return map[string]any{"confirmed_at": now, "confirmed_by": input.ActorID}
		},
		description: "receipt confirmed",
	})
}

func (s *service) Cancel(ctx context.Context, input CancelInput) (*models.Transaction, error) {
	if err := validation.Struct(input); err != nil {
		return nil, err
	}
	description := "cancelled"
	if reason := strings.TrimSpace(input.Reason); reason != "" {
		description = "cancelled: " + reason
	}
	return s.transition(ctx, transitionRequest{
		id:      input.TransactionID,
		actorID: input.ActorID,
		isAdmin: input.IsAdmin,
		to:      enums.TransactionStatusCancelled,
		fields: func(now time.Time) map[string]any {
			return map[string]any{"cancelled_at": now, "cancelled_by": input.ActorID}
		},
		description: description,
	})
}

func (s *service) ConfirmAllPaid(ctx context.Context, input BatchConfirmInput) (*BatchResult, error) {
	if err := validation.Struct(input); err != nil {
		return nil, err
	}
	if input.ScopeID == nil && !input.All {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "scope id required unless confirming all scopes")
	}
	scope := input.ScopeID
	if input.All {
		scope = nil
	}
	ids, err := s.repo.ListIDsByStatus(ctx, enums.TransactionStatusPaid, scope)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list paid transactions")
	}

	result := &BatchResult{Items: make([]BatchItemResult, 0, len(ids))}
	for _, id := range ids {
		_, err := s.transition(ctx, transitionRequest{
			id:      id,
			actorID: input.ActorID,
			isAdmin: true,
			to:      enums.TransactionStatusConfirmed,
			op:      enums.OpTransactionConfirmAll,
			fields: func(now time.Time) map[string]any {
				return map[string]any{"confirmed_at": now, "confirmed_by": input.ActorID}
			},
			description: "receipt confirmed in batch",
		})
		item := BatchItemResult{TransactionID: id, Outcome: BatchConfirmed}
		switch {
		case err == nil:
			result.Confirmed++
		case pkgerrors.Is(err, pkgerrors.CodeInvalidTransition):
			// moved on since listing; nothing to confirm
			item.Outcome = BatchSkipped
			result.Skipped++
		default:
			item.Outcome = BatchFailed
			item.Err = err
			result.Failed++
		}
		result.Items = append(result.Items, item)
	}

	if result.Failed > 0 {
		logCtx := s.logg.WithActorID(ctx, input.ActorID)
		s.logg.Error(logCtx, "batch confirmation partially failed", result.Err())
	}
	return result, nil
}

func (s *service) Get(ctx context.Context, id string) (*models.Transaction, error) {
	return s.load(ctx, nil, id)
}

func (s *service) List(ctx context.Context, filter ListFilter, params pagination.Params) (*pagination.Page[models.Transaction], error) {
	if filter.Status != nil && !filter.Status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid status filter")
	}
	limit := pagination.NormalizeLimit(params.Limit)
	query := listQuery{
		scopeID:     filter.ScopeID,
		status:      filter.Status,
		requesterID: filter.RequesterID,
		limit:       pagination.LimitWithBuffer(params.Limit),
	}
	if params.Cursor != "" {
		cursor, err := pagination.ParseCursor(params.Cursor)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
		}
		query.cursor = cursor
	}
	rows, err := s.repo.List(ctx, query)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list transactions")
	}

	page := &pagination.Page[models.Transaction]{Items: rows}
	if len(rows) > limit {
		page.Items = rows[:limit]
		last := page.Items[limit-1]
		page.NextCursor = pagination.EncodeCursor(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
	}
	return page, nil
}

func (s *service) AuditTrail(ctx context.Context, id string) ([]models.TransactionAuditEntry, error) {
	if _, err := s.load(ctx, nil, id); err != nil {
		return nil, err
	}
	rows, err := s.repo.ListAuditEntries(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list audit trail")
	}
	return rows, nil
}

type transitionRequest struct {
	id          string
	actorID     string
	isAdmin     bool
	to          enums.TransactionStatus
	op          enums.OperationKind
	fields      func(now time.Time) map[string]any
	description string
}

// transition applies one lifecycle edge with a conditional update, so of two
// racing callers exactly one observes the prior status.
func (s *service) transition(ctx context.Context, req transitionRequest) (*models.Transaction, error) {
	var (
		row  *models.Transaction
		from enums.TransactionStatus
	)
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		current, err := s.load(ctx, tx, req.id)
		if err != nil {
			return err
		}
		var actor role
		if current.RequesterID == req.actorID {
			actor |= roleRequester
		}
		if req.isAdmin {
			actor |= roleAdmin
		}
		rule, err := checkTransition(current.Status, req.to, actor)
		if err != nil {
			return err
		}
		op := rule.op
		if req.op != "" {
			op = req.op
		}

		now := s.now()
		fields := req.fields(now)
		fields["updated_at"] = now
		changed, err := s.repo.TransitionStatus(tx, current.ID, current.Status, req.to, fields)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update transaction status")
		}
		if !changed {
			latest, err := s.load(ctx, tx, req.id)
			if err != nil {
				return err
			}
			return pkgerrors.New(pkgerrors.CodeInvalidTransition,
				fmt.Sprintf("transaction is now %s", latest.Status)).
				WithDetails(map[string]string{"from": string(latest.Status), "to": string(req.to)})
		}

		from = current.Status
		row, err = s.load(ctx, tx, req.id)
		if err != nil {
			return err
		}
		return s.recordTransition(ctx, tx, row, &from, req.actorID, op, req.description, now)
	})
	if err != nil {
		return nil, err
	}
	s.metrics.IncTransition(string(from), string(req.to))
	return row, nil
}

// recordTransition appends the trail entry and emits the audit event.
func (s *service) recordTransition(ctx context.Context, tx *gorm.DB, row *models.Transaction, from *enums.TransactionStatus, actorID string, op enums.OperationKind, description string, at time.Time) error {
	entryID, err := uuid.NewV7()
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "generate audit entry id")
	}
	entry := &models.TransactionAuditEntry{
		ID:            entryID.String(),
		TransactionID: row.ID,
		ActorID:       actorID,
		OperationKind: op,
		OldStatus:     from,
		NewStatus:     row.Status,
		Description:   description,
		CreatedAt:     at,
	}
	if err := s.repo.InsertAuditEntry(tx, entry); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert audit entry")
	}

	var oldValue any
	if from != nil {
		oldValue = map[string]string{"status": string(*from)}
	}
	if err := s.audit.Record(ctx, tx, audit.Entry{
		ActorID:       actorID,
		ScopeID:       row.ScopeID,
		OperationKind: op,
		TargetType:    enums.TargetTransaction,
		TargetID:      row.ID,
		OldValue:      oldValue,
		NewValue:      map[string]string{"status": string(row.Status)},
	}); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record transaction audit")
	}
	return nil
}

func (s *service) load(ctx context.Context, tx *gorm.DB, id string) (*models.Transaction, error) {
	if strings.TrimSpace(id) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transaction id required")
	}
	row, err := s.repo.FindByID(ctx, tx, id)
	if err != nil {
		if isNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "transaction not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load transaction")
	}
	return row, nil
}
