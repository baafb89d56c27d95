// Package addresses manages the payout address pool of each scope.
package addresses

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
	"github.com/angelmondragon/otcsettle/pkg/validation"
)

// AddInput describes a new payout address.
type AddInput struct {
	ScopeID           string  `json:"scope_id" validate:"required"`
	Address           string  `json:"address" validate:"required,max=512"`
	Label             string  `json:"label" validate:"max=128"`
	VisualEncodingRef *string `json:"visual_encoding_ref"`
	CreatedBy         string  `json:"created_by" validate:"required"`
	PreConfirmed      bool    `json:"pre_confirmed"`
	IsDefault         bool    `json:"is_default"`
}

// UpdateInput edits an address. Nil fields are left unchanged.
type UpdateInput struct {
	ID      string  `json:"id" validate:"required"`
	Address *string `json:"address" validate:"omitempty,max=512"`
	Label   *string `json:"label" validate:"omitempty,max=128"`
	ActorID string  `json:"actor_id" validate:"required"`
}

// Service exposes the payout address pool.
type Service interface {
	Add(ctx context.Context, input AddInput) (*models.PayoutAddress, error)
	Confirm(ctx context.Context, addressID, confirmerID string) (*models.PayoutAddress, error)
	UpdateAddress(ctx context.Context, input UpdateInput) (*models.PayoutAddress, error)
	SetDefault(ctx context.Context, addressID, actorID string) (*models.PayoutAddress, error)
	SetActive(ctx context.Context, addressID string, active bool, actorID string) (*models.PayoutAddress, error)
	Remove(ctx context.Context, addressID, actorID string) (*models.PayoutAddress, error)
	List(ctx context.Context, scopeID string) ([]models.PayoutAddress, error)
	Get(ctx context.Context, addressID string) (*models.PayoutAddress, error)
	SelectActive(ctx context.Context, scopeID string, strategy enums.AddressStrategy) (*models.PayoutAddress, error)
	SelectActiveTx(ctx context.Context, tx *gorm.DB, scopeID string, strategy enums.AddressStrategy) (*models.PayoutAddress, error)
	RecordUsage(ctx context.Context, tx *gorm.DB, addressID string, at time.Time) error
}

type service struct {
	repo  *Repository
	tx    db.TxRunner
	audit audit.Recorder
	logg  *logger.Logger
	intn  func(int) int
	now   func() time.Time
}

// Option customises the service.
type Option func(*service)

// WithRandom overrides the source used by the random strategy.
func WithRandom(intn func(int) int) Option {
	return func(s *service) { s.intn = intn }
}

// WithClock overrides the clock used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *service) { s.now = now }
}

func NewService(repo *Repository, tx db.TxRunner, recorder audit.Recorder, logg *logger.Logger, opts ...Option) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("address repository required")
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
		repo:  repo,
		tx:    tx,
		audit: recorder,
		logg:  logg,
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// addressState is the audited view of an address.
type addressState struct {
	Address           string                         `json:"address"`
	Label             string                         `json:"label,omitempty"`
	IsDefault         bool                           `json:"is_default"`
	IsActive          bool                           `json:"is_active"`
	ConfirmationState enums.AddressConfirmationState `json:"confirmation_state"`
}

func stateOf(a *models.PayoutAddress) addressState {
	return addressState{
		Address:           a.Address,
		Label:             a.Label,
		IsDefault:         a.IsDefault,
		IsActive:          a.IsActive,
		ConfirmationState: a.ConfirmationState,
	}
}

func (s *service) Add(ctx context.Context, input AddInput) (*models.PayoutAddress, error) {
	input.ScopeID = strings.TrimSpace(input.ScopeID)
	input.Address = strings.TrimSpace(input.Address)
	input.Label = strings.TrimSpace(input.Label)
	if err := validation.Struct(input); err != nil {
		return nil, err
	}

	now := s.now()
	row := &models.PayoutAddress{
		ID:                uuid.NewString(),
		ScopeID:           input.ScopeID,
		Address:           input.Address,
		Label:             input.Label,
		VisualEncodingRef: input.VisualEncodingRef,
		IsDefault:         input.IsDefault,
		IsActive:          true,
		ConfirmationState: enums.AddressPendingConfirmation,
		CreatedBy:         input.CreatedBy,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if input.PreConfirmed {
		row.ConfirmationState = enums.AddressConfirmed
		row.ConfirmedBy = &input.CreatedBy
		row.ConfirmedAt = &now
	}

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if row.IsDefault {
			if err := s.repo.ClearDefault(tx, row.ScopeID); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "clear default address")
			}
		}
		if err := s.repo.Create(tx, row); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create payout address")
		}
		return s.record(ctx, tx, input.CreatedBy, enums.OpAddressAdd, row, nil, stateOf(row))
	})
	if err != nil {
		return nil, err
	}
	return row, nil
}

func (s *service) Confirm(ctx context.Context, addressID, confirmerID string) (*models.PayoutAddress, error) {
	if strings.TrimSpace(confirmerID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "confirmer id required")
	}
	var out *models.PayoutAddress
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		row, err := s.load(ctx, tx, addressID)
		if err != nil {
			return err
		}
		if row.ConfirmationState == enums.AddressConfirmed {
			out = row
			return nil
		}
		if row.CreatedBy == confirmerID {
			return pkgerrors.New(pkgerrors.CodeSelfConfirmation, "address creator cannot confirm it")
		}
		before := stateOf(row)
		now := s.now()
		ok, err := s.repo.ConfirmPending(tx, row.ID, confirmerID, now)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "confirm payout address")
		}
		if !ok {
			// confirmed concurrently
			out, err = s.load(ctx, tx, addressID)
			return err
		}
		row.ConfirmationState = enums.AddressConfirmed
		row.ConfirmedBy = &confirmerID
		row.ConfirmedAt = &now
		row.UpdatedAt = now
		out = row
		return s.record(ctx, tx, confirmerID, enums.OpAddressConfirm, row, before, stateOf(row))
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *service) UpdateAddress(ctx context.Context, input UpdateInput) (*models.PayoutAddress, error) {
	if err := validation.Struct(input); err != nil {
		return nil, err
	}
	var out *models.PayoutAddress
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		row, err := s.load(ctx, tx, input.ID)
		if err != nil {
			return err
		}
		before := stateOf(row)
		fields := map[string]any{}
		if input.Label != nil {
			row.Label = strings.TrimSpace(*input.Label)
			fields["label"] = row.Label
		}
		if input.Address != nil {
			next := strings.TrimSpace(*input.Address)
			if next == "" {
				return pkgerrors.New(pkgerrors.CodeValidation, "address must not be empty")
			}
			if next != row.Address {
				// a new destination needs a fresh second-party confirmation
				row.Address = next
				row.ConfirmationState = enums.AddressPendingConfirmation
				row.ConfirmedBy = nil
				row.ConfirmedAt = nil
				row.VisualEncodingRef = nil
				fields["address"] = next
				fields["confirmation_state"] = enums.AddressPendingConfirmation
				fields["confirmed_by"] = nil
				fields["confirmed_at"] = nil
				fields["visual_encoding_ref"] = nil
			}
		}
		out = row
		if len(fields) == 0 {
			return nil
		}
		if _, err := s.repo.Update(tx, row.ID, fields); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update payout address")
		}
		return s.record(ctx, tx, input.ActorID, enums.OpAddressUpdate, row, before, stateOf(row))
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *service) SetDefault(ctx context.Context, addressID, actorID string) (*models.PayoutAddress, error) {
	var out *models.PayoutAddress
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		row, err := s.load(ctx, tx, addressID)
		if err != nil {
			return err
		}
		if !row.IsActive {
			return pkgerrors.New(pkgerrors.CodeConflict, "inactive address cannot be the default")
		}
		out = row
		if row.IsDefault {
			return nil
		}
		before := stateOf(row)
		if err := s.repo.ClearDefault(tx, row.ScopeID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "clear default address")
		}
		if _, err := s.repo.Update(tx, row.ID, map[string]any{"is_default": true}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "set default address")
		}
		row.IsDefault = true
		return s.record(ctx, tx, actorID, enums.OpAddressSetDefault, row, before, stateOf(row))
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *service) SetActive(ctx context.Context, addressID string, active bool, actorID string) (*models.PayoutAddress, error) {
	return s.setActive(ctx, addressID, active, actorID, enums.OpAddressSetActive)
}

// Remove deactivates the address and drops its default flag. Rows are kept so
// past transactions stay explainable.
func (s *service) Remove(ctx context.Context, addressID, actorID string) (*models.PayoutAddress, error) {
	return s.setActive(ctx, addressID, false, actorID, enums.OpAddressRemove)
}

func (s *service) setActive(ctx context.Context, addressID string, active bool, actorID string, op enums.OperationKind) (*models.PayoutAddress, error) {
	var out *models.PayoutAddress
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		row, err := s.load(ctx, tx, addressID)
		if err != nil {
			return err
		}
		out = row
		if row.IsActive == active && (active || !row.IsDefault) {
			return nil
		}
		before := stateOf(row)
		fields := map[string]any{"is_active": active}
		row.IsActive = active
		if !active {
			fields["is_default"] = false
			row.IsDefault = false
		}
		if _, err := s.repo.Update(tx, row.ID, fields); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update address activity")
		}
		return s.record(ctx, tx, actorID, op, row, before, stateOf(row))
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *service) List(ctx context.Context, scopeID string) ([]models.PayoutAddress, error) {
	if strings.TrimSpace(scopeID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "scope id required")
	}
	rows, err := s.repo.ListByScope(ctx, scopeID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list payout addresses")
	}
	return rows, nil
}

func (s *service) Get(ctx context.Context, addressID string) (*models.PayoutAddress, error) {
	return s.load(ctx, nil, addressID)
}

func (s *service) SelectActive(ctx context.Context, scopeID string, strategy enums.AddressStrategy) (*models.PayoutAddress, error) {
	return s.SelectActiveTx(ctx, nil, scopeID, strategy)
}

// SelectActiveTx picks an eligible address of the scope. Callers pass tx when
// the selection must be consistent with writes in the same transaction.
func (s *service) SelectActiveTx(ctx context.Context, tx *gorm.DB, scopeID string, strategy enums.AddressStrategy) (*models.PayoutAddress, error) {
	if strategy == "" {
		strategy = enums.AddressStrategyDefault
	}
	selectFn, ok := selectors[strategy]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown address strategy %q", strategy))
	}
	eligible, err := s.repo.ListEligible(ctx, tx, scopeID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list eligible addresses")
	}
	if len(eligible) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no active confirmed payout address")
	}
	picked := selectFn(eligible, s.intn)
	return &picked, nil
}

func (s *service) RecordUsage(ctx context.Context, tx *gorm.DB, addressID string, at time.Time) error {
	if tx == nil {
		return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			return s.RecordUsage(ctx, tx, addressID, at)
		})
	}
	if err := s.repo.IncrementUsage(tx, addressID, at.UTC()); err != nil {
		if isNotFound(err) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "payout address not found")
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record address usage")
	}
	return nil
}

func (s *service) load(ctx context.Context, tx *gorm.DB, id string) (*models.PayoutAddress, error) {
	if strings.TrimSpace(id) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "address id required")
	}
	row, err := s.repo.FindByID(ctx, tx, id)
	if err != nil {
		if isNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payout address not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payout address")
	}
	return row, nil
}

func (s *service) record(ctx context.Context, tx *gorm.DB, actorID string, op enums.OperationKind, row *models.PayoutAddress, before any, after addressState) error {
	scope := row.ScopeID
	if err := s.audit.Record(ctx, tx, audit.Entry{
		ActorID:       actorID,
		ScopeID:       &scope,
		OperationKind: op,
		TargetType:    enums.TargetPayoutAddress,
		TargetID:      row.ID,
		OldValue:      before,
		NewValue:      after,
	}); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record address audit")
	}
	return nil
}
