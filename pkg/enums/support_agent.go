package enums

import "fmt"

// AgentStatus is the self-reported availability of a support agent.
type AgentStatus string

const (
	AgentStatusAvailable AgentStatus = "available"
	AgentStatusBusy      AgentStatus = "busy"
	AgentStatusOffline   AgentStatus = "offline"
	AgentStatusDisabled  AgentStatus = "disabled"
)

var validAgentStatuses = []AgentStatus{
	AgentStatusAvailable,
	AgentStatusBusy,
	AgentStatusOffline,
	AgentStatusDisabled,
}

// IsValid reports whether the value is a known AgentStatus.
func (s AgentStatus) IsValid() bool {
	for _, candidate := range validAgentStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// AcceptsWork reports whether the status allows new assignments.
func (s AgentStatus) AcceptsWork() bool {
	return s == AgentStatusAvailable || s == AgentStatusBusy
}

// ParseAgentStatus converts raw input into an AgentStatus.
func ParseAgentStatus(value string) (AgentStatus, error) {
	for _, candidate := range validAgentStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid agent status %q", value)
}

// AssignmentMethod selects how an agent is picked for an incoming request.
type AssignmentMethod string

const (
	AssignmentMethodSmart      AssignmentMethod = "smart"
	AssignmentMethodLeastBusy  AssignmentMethod = "least_busy"
	AssignmentMethodWeighted   AssignmentMethod = "weighted"
	AssignmentMethodRoundRobin AssignmentMethod = "round_robin"
)

var validAssignmentMethods = []AssignmentMethod{
	AssignmentMethodSmart,
	AssignmentMethodLeastBusy,
	AssignmentMethodWeighted,
	AssignmentMethodRoundRobin,
}

// IsValid reports whether the value is a known AssignmentMethod.
func (m AssignmentMethod) IsValid() bool {
	for _, candidate := range validAssignmentMethods {
		if candidate == m {
			return true
		}
	}
	return false
}

// ParseAssignmentMethod converts raw input into an AssignmentMethod. Empty input maps to smart.
func ParseAssignmentMethod(value string) (AssignmentMethod, error) {
	if value == "" {
		return AssignmentMethodSmart, nil
	}
	for _, candidate := range validAssignmentMethods {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid assignment method %q", value)
}

// AssignmentStatus tracks whether an assignment still occupies agent capacity.
type AssignmentStatus string

const (
	AssignmentStatusOpen     AssignmentStatus = "open"
	AssignmentStatusReleased AssignmentStatus = "released"
)
