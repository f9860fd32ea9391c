package routing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"aquascene/scribe/internal/registry"
)

func policyCandidates() []registry.Snapshot {
	// Sorted by id, as the registry hands them over.
	return []registry.Snapshot{
		{ProviderConfig: registry.ProviderConfig{
			ID: "anthropic-sonnet", CostPerUnit: 3.0, AvgLatency: 2 * time.Second, PriorityWeight: 0.95,
		}},
		{ProviderConfig: registry.ProviderConfig{
			ID: "local-ollama", CostPerUnit: 0.0, AvgLatency: 6 * time.Second, PriorityWeight: 0.4,
		}},
		{ProviderConfig: registry.ProviderConfig{
			ID: "openai-mini", CostPerUnit: 0.6, AvgLatency: 1 * time.Second, PriorityWeight: 0.7,
		}},
	}
}

func ids(snapshots []registry.Snapshot) []string {
	out := make([]string, len(snapshots))
	for i, s := range snapshots {
		out[i] = s.ID
	}
	return out
}

func TestPolicyIsKnown(t *testing.T) {
	assert.True(t, PolicyBalanced.IsKnown())
	assert.True(t, PolicyRoundRobin.IsKnown())
	assert.False(t, Policy("cheapest").IsKnown())
}

func TestOrderCostOptimized(t *testing.T) {
	got := orderCandidates(policyCandidates(), PolicyCostOptimized, 0)
	assert.Equal(t, []string{"local-ollama", "openai-mini", "anthropic-sonnet"}, ids(got))
}

func TestOrderQualityFirst(t *testing.T) {
	got := orderCandidates(policyCandidates(), PolicyQualityFirst, 0)
	assert.Equal(t, []string{"anthropic-sonnet", "openai-mini", "local-ollama"}, ids(got))
}

func TestOrderSpeedFirst(t *testing.T) {
	got := orderCandidates(policyCandidates(), PolicySpeedFirst, 0)
	assert.Equal(t, []string{"openai-mini", "anthropic-sonnet", "local-ollama"}, ids(got))
}

func TestOrderBalancedIsDeterministic(t *testing.T) {
	first := orderCandidates(policyCandidates(), PolicyBalanced, 0)
	second := orderCandidates(policyCandidates(), PolicyBalanced, 7)
	assert.Equal(t, ids(first), ids(second))
}

func TestOrderRoundRobinRotates(t *testing.T) {
	assert.Equal(t, []string{"anthropic-sonnet", "local-ollama", "openai-mini"},
		ids(orderCandidates(policyCandidates(), PolicyRoundRobin, 0)))
	assert.Equal(t, []string{"local-ollama", "openai-mini", "anthropic-sonnet"},
		ids(orderCandidates(policyCandidates(), PolicyRoundRobin, 1)))
	assert.Equal(t, []string{"openai-mini", "anthropic-sonnet", "local-ollama"},
		ids(orderCandidates(policyCandidates(), PolicyRoundRobin, 2)))
	// Cursor wraps around the candidate count.
	assert.Equal(t, []string{"anthropic-sonnet", "local-ollama", "openai-mini"},
		ids(orderCandidates(policyCandidates(), PolicyRoundRobin, 3)))
}

func TestOrderDoesNotMutateInput(t *testing.T) {
	input := policyCandidates()
	orderCandidates(input, PolicyCostOptimized, 0)
	assert.Equal(t, []string{"anthropic-sonnet", "local-ollama", "openai-mini"}, ids(input))
}
