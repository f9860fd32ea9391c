package routing

import (
	"sort"

	"aquascene/scribe/internal/registry"
)

// Policy selects how the candidate provider list is ordered.
type Policy string

const (
	PolicyCostOptimized Policy = "cost_optimized"
	PolicyQualityFirst  Policy = "quality_first"
	PolicySpeedFirst    Policy = "speed_first"
	PolicyBalanced      Policy = "balanced"
	PolicyRoundRobin    Policy = "round_robin"
)

// IsKnown reports whether p is a supported routing policy.
func (p Policy) IsKnown() bool {
	switch p {
	case PolicyCostOptimized, PolicyQualityFirst, PolicySpeedFirst, PolicyBalanced, PolicyRoundRobin:
		return true
	default:
		return false
	}
}

// balanced composite weights. The composite trades off cost, quality, and
// speed; exact figures are a product decision surfaced here as one place to
// tune.
const (
	balancedQualityShare = 0.4
	balancedCostShare    = 0.3
	balancedSpeedShare   = 0.3
)

// orderCandidates sorts candidates according to the policy. Candidates arrive
// sorted by id; every sort below is stable, so equal keys keep ascending id
// order and routing stays deterministic.
func orderCandidates(candidates []registry.Snapshot, policy Policy, cursor uint64) []registry.Snapshot {
	out := make([]registry.Snapshot, len(candidates))
	copy(out, candidates)

	switch policy {
	case PolicyCostOptimized:
		sort.SliceStable(out, func(i, j int) bool {
			return out[i].CostPerUnit < out[j].CostPerUnit
		})
	case PolicyQualityFirst:
		sort.SliceStable(out, func(i, j int) bool {
			return out[i].PriorityWeight > out[j].PriorityWeight
		})
	case PolicySpeedFirst:
		sort.SliceStable(out, func(i, j int) bool {
			return out[i].AvgLatency < out[j].AvgLatency
		})
	case PolicyBalanced:
		sort.SliceStable(out, func(i, j int) bool {
			return balancedScore(out[i]) > balancedScore(out[j])
		})
	case PolicyRoundRobin:
		if len(out) > 1 {
			offset := int(cursor % uint64(len(out)))
			rotated := make([]registry.Snapshot, 0, len(out))
			rotated = append(rotated, out[offset:]...)
			rotated = append(rotated, out[:offset]...)
			out = rotated
		}
	}

	return out
}

func balancedScore(s registry.Snapshot) float64 {
	costScore := 1 / (1 + s.CostPerUnit)
	speedScore := 1 / (1 + s.AvgLatency.Seconds())
	return balancedQualityShare*s.PriorityWeight +
		balancedCostShare*costScore +
		balancedSpeedShare*speedScore
}
