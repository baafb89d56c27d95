package addresses

import (
	"math/rand/v2"

	"github.com/angelmondragon/otcsettle/pkg/db/models"
	"github.com/angelmondragon/otcsettle/pkg/enums"
)

// Selector picks one address from a non-empty eligible set ordered oldest first.
type Selector func(eligible []models.PayoutAddress, intn func(n int) int) models.PayoutAddress

var selectors = map[enums.AddressStrategy]Selector{
	enums.AddressStrategyDefault:    selectDefault,
	enums.AddressStrategyRoundRobin: selectLeastUsed,
	enums.AddressStrategyRandom:     selectRandom,
}

// selectDefault prefers the scope default and falls back to the oldest address.
func selectDefault(eligible []models.PayoutAddress, _ func(int) int) models.PayoutAddress {
	for _, a := range eligible {
		if a.IsDefault {
			return a
		}
	}
	return eligible[0]
}

// selectLeastUsed rotates through the pool by picking the lowest usage count.
// Ties go to the address used longest ago, never-used first.
func selectLeastUsed(eligible []models.PayoutAddress, _ func(int) int) models.PayoutAddress {
	best := eligible[0]
	for _, a := range eligible[1:] {
		if a.UsageCount < best.UsageCount {
			best = a
			continue
		}
		if a.UsageCount == best.UsageCount && usedBefore(a, best) {
			best = a
		}
	}
	return best
}

func usedBefore(a, b models.PayoutAddress) bool {
	switch {
	case a.LastUsedAt == nil:
		return b.LastUsedAt != nil
	case b.LastUsedAt == nil:
		return false
	default:
		return a.LastUsedAt.Before(*b.LastUsedAt)
	}
}

func selectRandom(eligible []models.PayoutAddress, intn func(int) int) models.PayoutAddress {
	if intn == nil {
		intn = rand.IntN
	}
	return eligible[intn(len(eligible))]
}
