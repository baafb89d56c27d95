package enums

import "fmt"

// AddressConfirmationState tracks whether a payout address has been verified by a second participant.
type AddressConfirmationState string

const (
	AddressPendingConfirmation AddressConfirmationState = "pending_confirmation"
	AddressConfirmed           AddressConfirmationState = "confirmed"
)

// IsValid reports whether the value is a known AddressConfirmationState.
func (s AddressConfirmationState) IsValid() bool {
	return s == AddressPendingConfirmation || s == AddressConfirmed
}

// AddressStrategy selects which eligible payout address serves a new transaction.
type AddressStrategy string

const (
	AddressStrategyDefault    AddressStrategy = "default"
	AddressStrategyRoundRobin AddressStrategy = "round_robin"
	AddressStrategyRandom     AddressStrategy = "random"
)

var validAddressStrategies = []AddressStrategy{
	AddressStrategyDefault,
	AddressStrategyRoundRobin,
	AddressStrategyRandom,
}

// IsValid reports whether the value is a known AddressStrategy.
func (s AddressStrategy) IsValid() bool {
	for _, candidate := range validAddressStrategies {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseAddressStrategy converts raw input into an AddressStrategy. Empty input maps to the default strategy.
func ParseAddressStrategy(value string) (AddressStrategy, error) {
	if value == "" {
		return AddressStrategyDefault, nil
	}
	for _, candidate := range validAddressStrategies {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid address strategy %q", value)
}
