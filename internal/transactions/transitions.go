package transactions

import (
	"fmt"

	"github.com/angelmondragon/otcsettle/pkg/enums"
	pkgerrors "github.com/angelmondragon/otcsettle/pkg/errors"
)

type role uint8

const (
	roleRequester role = 1 << iota
	roleAdmin
)

type transitionKey struct {
	from enums.TransactionStatus
	to   enums.TransactionStatus
}

type transitionRule struct {
	op    enums.OperationKind
	roles role
}

// transitions is the complete lifecycle. confirmed and cancelled have no
// outgoing edges.
var transitions = map[transitionKey]transitionRule{
	{enums.TransactionStatusPending, enums.TransactionStatusPaid}: {
		op:    enums.OpTransactionMarkPaid,
		roles: roleRequester,
	},
	{enums.TransactionStatusPaid, enums.TransactionStatusConfirmed}: {
		op:    enums.OpTransactionConfirm,
		roles: roleAdmin,
	},
	{enums.TransactionStatusPending, enums.TransactionStatusCancelled}: {
		op:    enums.OpTransactionCancel,
		roles: roleRequester | roleAdmin,
	},
	{enums.TransactionStatusPaid, enums.TransactionStatusCancelled}: {
		op:    enums.OpTransactionCancel,
		roles: roleAdmin,
	},
}

// checkTransition validates the edge and the caller's role for it.
func checkTransition(from, to enums.TransactionStatus, actor role) (transitionRule, error) {
	rule, ok := transitions[transitionKey{from: from, to: to}]
	if !ok {
		return transitionRule{}, pkgerrors.New(pkgerrors.CodeInvalidTransition,
			fmt.Sprintf("cannot move transaction from %s to %s", from, to)).
			WithDetails(map[string]string{"from": string(from), "to": string(to)})
	}
	if rule.roles&actor == 0 {
		return transitionRule{}, pkgerrors.New(pkgerrors.CodePermissionDenied,
			fmt.Sprintf("not allowed to move transaction from %s to %s", from, to))
	}
	return rule, nil
}

// CanTransition reports whether the lifecycle has an edge from -> to.
func CanTransition(from, to enums.TransactionStatus) bool {
	_, ok := transitions[transitionKey{from: from, to: to}]
	return ok
}
