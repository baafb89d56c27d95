package enums

// OperationKind names an auditable or guarded operation.
type OperationKind string

const (
	OpTransactionCreate     OperationKind = "transaction.create"
	OpTransactionMarkPaid   OperationKind = "transaction.mark_paid"
	OpTransactionConfirm    OperationKind = "transaction.confirm"
	OpTransactionConfirmAll OperationKind = "transaction.confirm_all"
	OpTransactionCancel     OperationKind = "transaction.cancel"

	OpAddressAdd        OperationKind = "address.add"
	OpAddressConfirm    OperationKind = "address.confirm"
	OpAddressUpdate     OperationKind = "address.update"
	OpAddressReplace    OperationKind = "address.replace"
	OpAddressSetDefault OperationKind = "address.set_default"
	OpAddressSetActive  OperationKind = "address.set_active"
	OpAddressRemove     OperationKind = "address.remove"

	OpAgentCreate    OperationKind = "agent.create"
	OpAgentUpdate    OperationKind = "agent.update"
	OpAgentStatus    OperationKind = "agent.status"
	OpAgentDisable   OperationKind = "agent.disable"
	OpAgentAssign    OperationKind = "agent.assign"
	OpAgentRelease   OperationKind = "agent.release"
	OpAgentResetLoad OperationKind = "agent.reset_load"

	OpScopeMarkupSet        OperationKind = "scope.markup_set"
	OpScopePaymentMethodSet OperationKind = "scope.payment_method_set"
)

// AuditTargetType names the entity an audit record refers to.
type AuditTargetType string

const (
	TargetTransaction   AuditTargetType = "transaction"
	TargetPayoutAddress AuditTargetType = "payout_address"
	TargetSupportAgent  AuditTargetType = "support_agent"
	TargetScopeSetting  AuditTargetType = "scope_setting"
)

// AuditResult records whether the audited mutation succeeded.
type AuditResult string

const (
	AuditResultSuccess AuditResult = "success"
)
