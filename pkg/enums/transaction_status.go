package enums

import "fmt"

// TransactionStatus tracks the lifecycle of a settlement transaction.
type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "pending"
	TransactionStatusPaid      TransactionStatus = "paid"
	TransactionStatusConfirmed TransactionStatus = "confirmed"
	TransactionStatusCancelled TransactionStatus = "cancelled"
)

var validTransactionStatuses = []TransactionStatus{
	TransactionStatusPending,
	TransactionStatusPaid,
	TransactionStatusConfirmed,
	TransactionStatusCancelled,
}

// String implements fmt.Stringer.
func (s TransactionStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known TransactionStatus.
func (s TransactionStatus) IsValid() bool {
	for _, candidate := range validTransactionStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no transition leaves this status.
func (s TransactionStatus) IsTerminal() bool {
	return s == TransactionStatusConfirmed || s == TransactionStatusCancelled
}

// ParseTransactionStatus converts raw input into a TransactionStatus.
func ParseTransactionStatus(value string) (TransactionStatus, error) {
	for _, candidate := range validTransactionStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid transaction status %q", value)
}
