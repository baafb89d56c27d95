package agents

import (
	"slices"

	"github.com/angelmondragon/otcsettle/pkg/db/models"
	"github.com/angelmondragon/otcsettle/pkg/enums"
)

// pickInput is the state an ordering ranks candidates from.
type pickInput struct {
	agents []models.SupportAgent
	// recent holds agent ids least recently assigned first.
	recent []string
}

// ordering ranks agents with capacity, best candidate first. Agents arrive in
// creation order and every sort is stable, so creation order breaks ties.
type ordering func(in pickInput) []models.SupportAgent

var orderings = map[enums.AssignmentMethod]ordering{
	enums.AssignmentMethodSmart:      bySmartScore,
	enums.AssignmentMethodLeastBusy:  byLeastBusy,
	enums.AssignmentMethodWeighted:   byWeight,
	enums.AssignmentMethodRoundRobin: byRoundRobin,
}

func withCapacity(agents []models.SupportAgent) []models.SupportAgent {
	out := make([]models.SupportAgent, 0, len(agents))
	for _, a := range agents {
		if a.HasCapacity() {
			out = append(out, a)
		}
	}
	return out
}

// bySmartScore prefers the fewest open assignments, then the heavier weight.
func bySmartScore(in pickInput) []models.SupportAgent {
	out := withCapacity(in.agents)
	slices.SortStableFunc(out, func(a, b models.SupportAgent) int {
		if a.CurrentCount != b.CurrentCount {
			return a.CurrentCount - b.CurrentCount
		}
		return b.Weight - a.Weight
	})
	return out
}

func byLeastBusy(in pickInput) []models.SupportAgent {
	out := withCapacity(in.agents)
	slices.SortStableFunc(out, func(a, b models.SupportAgent) int {
		return a.CurrentCount - b.CurrentCount
	})
	return out
}

// byWeight prefers the heavier weight, then the fewest open assignments.
func byWeight(in pickInput) []models.SupportAgent {
	out := withCapacity(in.agents)
	slices.SortStableFunc(out, func(a, b models.SupportAgent) int {
		if a.Weight != b.Weight {
			return b.Weight - a.Weight
		}
		return a.CurrentCount - b.CurrentCount
	})
	return out
}

// byRoundRobin puts never-assigned agents first, oldest first, followed by
// the rest in order of their last assignment.
func byRoundRobin(in pickInput) []models.SupportAgent {
	rank := make(map[string]int, len(in.recent))
	for i, id := range in.recent {
		rank[id] = i + 1
	}
	out := withCapacity(in.agents)
	slices.SortStableFunc(out, func(a, b models.SupportAgent) int {
		return rank[a.ID] - rank[b.ID]
	})
	return out
}

// oldestActive is the smart fallback when no agent has spare capacity.
func oldestActive(agents []models.SupportAgent) (models.SupportAgent, bool) {
	for _, a := range agents {
		if a.IsActive && a.Status != enums.AgentStatusDisabled {
			return a, true
		}
	}
	return models.SupportAgent{}, false
}
