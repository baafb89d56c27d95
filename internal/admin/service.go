// Package admin exposes the destructive administrative operations. Every
// operation is gated by the confirmation guard: the first call arms it and an
// identical repeat within the guard TTL executes it.
package admin

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/otcsettle/internal/addresses"
	"github.com/angelmondragon/otcsettle/internal/audit"
	"github.com/angelmondragon/otcsettle/internal/confirmation"
	"github.com/angelmondragon/otcsettle/internal/transactions"
	"github.com/angelmondragon/otcsettle/pkg/db"
	"github.com/angelmondragon/otcsettle/pkg/db/models"
	"github.com/angelmondragon/otcsettle/pkg/enums"
	pkgerrors "github.com/angelmondragon/otcsettle/pkg/errors"
	"github.com/angelmondragon/otcsettle/pkg/logger"
)

// markupLimit bounds the absolute markup an admin can set for a scope.
var markupLimit = decimal.NewFromInt(100)

// Result carries the guard outcome and, once executed, the operation's value.
type Result struct {
	Outcome confirmation.Outcome
	Value   any
}

// Pending reports whether the actor still has to repeat the command.
func (r *Result) Pending() bool {
	return r != nil && r.Outcome.Kind == confirmation.OutcomePending
}

type ledger interface {
	ConfirmAllPaid(ctx context.Context, input transactions.BatchConfirmInput) (*transactions.BatchResult, error)
	Cancel(ctx context.Context, input transactions.CancelInput) (*models.Transaction, error)
}

type addressPool interface {
	UpdateAddress(ctx context.Context, input addresses.UpdateInput) (*models.PayoutAddress, error)
	Remove(ctx context.Context, addressID, actorID string) (*models.PayoutAddress, error)
}

type agentPool interface {
	SetActive(ctx context.Context, agentID string, active bool, actorID string) (*models.SupportAgent, error)
	ResetLoad(ctx context.Context, agentID, actorID string) (*models.SupportAgent, error)
}

type scopeSettings interface {
	Get(ctx context.Context, scopeID string) (*models.ScopeSetting, error)
	UpsertMarkupTx(tx *gorm.DB, scopeID string, markup *decimal.Decimal, actorID string) error
	UpsertPaymentMethodTx(tx *gorm.DB, scopeID string, method *string, actorID string) error
}

// Service is the guarded admin surface.
type Service interface {
	ConfirmAllPaid(ctx context.Context, actorID string, scopeID *string, all bool) (*Result, error)
	CancelTransaction(ctx context.Context, actorID, transactionID, reason string) (*Result, error)
	ReplaceAddress(ctx context.Context, actorID, addressID, address string) (*Result, error)
	RemoveAddress(ctx context.Context, actorID, addressID string) (*Result, error)
	DisableAgent(ctx context.Context, actorID, agentID string) (*Result, error)
	ResetAgentLoad(ctx context.Context, actorID, agentID string) (*Result, error)
	SetScopeMarkup(ctx context.Context, actorID, scopeID string, markup *decimal.Decimal) (*Result, error)
	SetScopePaymentMethod(ctx context.Context, actorID, scopeID string, method *string) (*Result, error)
	Abort(ctx context.Context, actorID string) error
}

type Params struct {
	Guard        *confirmation.Guard
	Transactions ledger
	Addresses    addressPool
	Agents       agentPool
	Settings     scopeSettings
	Tx           db.TxRunner
	Audit        audit.Recorder
	Logger       *logger.Logger
}

type service struct {
	guard     *confirmation.Guard
	ledger    ledger
	addresses addressPool
	agents    agentPool
	settings  scopeSettings
	tx        db.TxRunner
	audit     audit.Recorder
	logg      *logger.Logger
}

func NewService(params Params) (Service, error) {
	switch {
	case params.Guard == nil:
		return nil, fmt.Errorf("confirmation guard required")
	case params.Transactions == nil:
		return nil, fmt.Errorf("transaction service required")
	case params.Addresses == nil:
		return nil, fmt.Errorf("address service required")
	case params.Agents == nil:
		return nil, fmt.Errorf("agent service required")
	case params.Settings == nil:
		return nil, fmt.Errorf("scope settings required")
	case params.Tx == nil:
		return nil, fmt.Errorf("transaction runner required")
	case params.Audit == nil:
		return nil, fmt.Errorf("audit recorder required")
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	return &service{
		guard:     params.Guard,
		ledger:    params.Transactions,
		addresses: params.Addresses,
		agents:    params.Agents,
		settings:  params.Settings,
		tx:        params.Tx,
		audit:     params.Audit,
		logg:      logg,
	}, nil
}

func (s *service) ConfirmAllPaid(ctx context.Context, actorID string, scopeID *string, all bool) (*Result, error) {
	if scopeID == nil && !all {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "scope id or all required")
	}
	payload := map[string]any{"scope_id": scopeID, "all": all}
	return s.guarded(ctx, actorID, enums.OpTransactionConfirmAll, payload, func(ctx context.Context) (any, error) {
		return s.ledger.ConfirmAllPaid(ctx, transactions.BatchConfirmInput{
			ScopeID: scopeID,
			All:     all,
			ActorID: actorID,
		})
	})
}

func (s *service) CancelTransaction(ctx context.Context, actorID, transactionID, reason string) (*Result, error) {
	if strings.TrimSpace(transactionID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transaction id required")
	}
	reason = strings.TrimSpace(reason)
	payload := map[string]any{"transaction_id": transactionID, "reason": reason}
	return s.guarded(ctx, actorID, enums.OpTransactionCancel, payload, func(ctx context.Context) (any, error) {
		return s.ledger.Cancel(ctx, transactions.CancelInput{
			TransactionID: transactionID,
			ActorID:       actorID,
			IsAdmin:       true,
			Reason:        reason,
		})
	})
}

// ReplaceAddress points an address at a new destination. The address goes
// back to pending confirmation until a second participant confirms it.
func (s *service) ReplaceAddress(ctx context.Context, actorID, addressID, address string) (*Result, error) {
	address = strings.TrimSpace(address)
	if strings.TrimSpace(addressID) == "" || address == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "address id and new address required")
	}
	payload := map[string]any{"address_id": addressID, "address": address}
	return s.guarded(ctx, actorID, enums.OpAddressReplace, payload, func(ctx context.Context) (any, error) {
		return s.addresses.UpdateAddress(ctx, addresses.UpdateInput{
			ID:      addressID,
			Address: &address,
			ActorID: actorID,
		})
	})
}

func (s *service) RemoveAddress(ctx context.Context, actorID, addressID string) (*Result, error) {
	if strings.TrimSpace(addressID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "address id required")
	}
	return s.guarded(ctx, actorID, enums.OpAddressRemove, map[string]any{"address_id": addressID}, func(ctx context.Context) (any, error) {
		return s.addresses.Remove(ctx, addressID, actorID)
	})
}

func (s *service) DisableAgent(ctx context.Context, actorID, agentID string) (*Result, error) {
	if strings.TrimSpace(agentID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "agent id required")
	}
	return s.guarded(ctx, actorID, enums.OpAgentDisable, map[string]any{"agent_id": agentID}, func(ctx context.Context) (any, error) {
		return s.agents.SetActive(ctx, agentID, false, actorID)
	})
}

func (s *service) ResetAgentLoad(ctx context.Context, actorID, agentID string) (*Result, error) {
	if strings.TrimSpace(agentID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "agent id required")
	}
	return s.guarded(ctx, actorID, enums.OpAgentResetLoad, map[string]any{"agent_id": agentID}, func(ctx context.Context) (any, error) {
		return s.agents.ResetLoad(ctx, agentID, actorID)
	})
}

// SetScopeMarkup overrides the scope markup; nil clears the override so the
// global default applies again.
func (s *service) SetScopeMarkup(ctx context.Context, actorID, scopeID string, markup *decimal.Decimal) (*Result, error) {
	scopeID = strings.TrimSpace(scopeID)
	if scopeID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "scope id required")
	}
	if markup != nil && markup.Abs().GreaterThan(markupLimit) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("markup must be within ±%s", markupLimit))
	}
	payload := map[string]any{"scope_id": scopeID, "markup": markup}
	return s.guarded(ctx, actorID, enums.OpScopeMarkupSet, payload, func(ctx context.Context) (any, error) {
		return s.updateSetting(ctx, actorID, scopeID, enums.OpScopeMarkupSet,
			func(cur *models.ScopeSetting) any { return cur.Markup },
			func(tx *gorm.DB) error { return s.settings.UpsertMarkupTx(tx, scopeID, markup, actorID) },
			markup)
	})
}

func (s *service) SetScopePaymentMethod(ctx context.Context, actorID, scopeID string, method *string) (*Result, error) {
	scopeID = strings.TrimSpace(scopeID)
	if scopeID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "scope id required")
	}
	if method != nil {
		trimmed := strings.TrimSpace(*method)
		if trimmed == "" {
			method = nil
		} else {
			method = &trimmed
		}
	}
	payload := map[string]any{"scope_id": scopeID, "payment_method": method}
	return s.guarded(ctx, actorID, enums.OpScopePaymentMethodSet, payload, func(ctx context.Context) (any, error) {
		return s.updateSetting(ctx, actorID, scopeID, enums.OpScopePaymentMethodSet,
			func(cur *models.ScopeSetting) any { return cur.PaymentMethod },
			func(tx *gorm.DB) error { return s.settings.UpsertPaymentMethodTx(tx, scopeID, method, actorID) },
			method)
	})
}

// Abort drops the actor's armed command, if any.
func (s *service) Abort(ctx context.Context, actorID string) error {
	if strings.TrimSpace(actorID) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "actor id required")
	}
	return s.guard.Cancel(ctx, actorID)
}

func (s *service) updateSetting(ctx context.Context, actorID, scopeID string, op enums.OperationKind, field func(*models.ScopeSetting) any, upsert func(*gorm.DB) error, next any) (*models.ScopeSetting, error) {
	current, err := s.settings.Get(ctx, scopeID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load scope settings")
	}
	var before any
	if current != nil {
		before = field(current)
	}
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := upsert(tx); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store scope setting")
		}
		scope := scopeID
		if err := s.audit.Record(ctx, tx, audit.Entry{
			ActorID:       actorID,
			ScopeID:       &scope,
			OperationKind: op,
			TargetType:    enums.TargetScopeSetting,
			TargetID:      scopeID,
			OldValue:      before,
			NewValue:      next,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record scope audit")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	updated, err := s.settings.Get(ctx, scopeID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload scope settings")
	}
	return updated, nil
}

func (s *service) guarded(ctx context.Context, actorID string, kind enums.OperationKind, payload any, run func(context.Context) (any, error)) (*Result, error) {
	ctx = s.logg.WithActorID(ctx, actorID)
	var value any
	outcome, err := s.guard.Request(ctx, actorID, kind, payload, func(ctx context.Context) error {
		v, err := run(ctx)
		value = v
		return err
	})
	if err != nil {
		return nil, err
	}
	if outcome.Executed() {
		s.logg.Info(s.logg.WithField(ctx, "operation", kind), "admin operation executed")
	}
	return &Result{Outcome: outcome, Value: value}, nil
}
