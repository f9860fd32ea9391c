// Package registry holds the live view of every configured provider: its
// static routing metadata and its observed availability. The registry is an
// injected dependency, never a process-wide singleton, so tests can build
// isolated instances.
package registry

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"aquascene/scribe/internal/content"
)

// Availability is the circuit state of a provider.
type Availability string

const (
	Available   Availability = "available"
	Degraded    Availability = "degraded"
	Unavailable Availability = "unavailable"
)

const (
	// DefaultFailureWindow is the rolling window for consecutive failures.
	DefaultFailureWindow = 60 * time.Second
	// DefaultCooldown is how long an unavailable provider sits out before it
	// is allowed back in.
	DefaultCooldown = 60 * time.Second

	// unavailableAfter is the consecutive-failure count that opens the circuit.
	unavailableAfter = 3

	// latencyAlpha is the EWMA smoothing factor for observed latency.
	latencyAlpha = 0.3
)

// ProviderConfig is the routing metadata for one provider. Availability and
// observed latency are mutated only through registry record methods.
type ProviderConfig struct {
	ID             string
	CapabilityTags []content.ContentType
	CostPerUnit    float64
	AvgLatency     time.Duration
	PriorityWeight float64
}

// Supports reports whether the provider handles the given content type.
func (c ProviderConfig) Supports(t content.ContentType) bool {
	for _, tag := range c.CapabilityTags {
		if tag == t {
			return true
		}
	}
	return false
}

// Snapshot is a point-in-time copy of a provider's config and state.
type Snapshot struct {
	ProviderConfig
	Availability Availability
}

type providerState struct {
	cfg                 ProviderConfig
	availability        Availability
	consecutiveFailures int
	windowStart         time.Time
	cooldownUntil       time.Time
}

// Registry tracks provider configs and their availability state machines.
// Each provider's machine is independent of the others.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]*providerState
	order     []string // insertion order, for stable iteration
	window    time.Duration
	cooldown  time.Duration
	rrCursor  uint64
	now       func() time.Time

	onStateChange func(id string, state Availability)
}

// Option configures a Registry.
type Option func(*Registry)

// WithFailureWindow overrides the rolling failure window.
func WithFailureWindow(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.window = d
		}
	}
}

// WithCooldown overrides the unavailable cooldown.
func WithCooldown(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.cooldown = d
		}
	}
}

// WithClock injects a clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// WithStateChangeHook registers a callback invoked (under the registry lock)
// whenever a provider's availability changes. Used to keep gauges current.
func WithStateChangeHook(fn func(id string, state Availability)) Option {
	return func(r *Registry) {
		r.onStateChange = fn
	}
}

// New creates a registry seeded with the given provider configs.
func New(configs []ProviderConfig, opts ...Option) (*Registry, error) {
	r := &Registry{
		providers: make(map[string]*providerState, len(configs)),
		window:    DefaultFailureWindow,
		cooldown:  DefaultCooldown,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	for _, cfg := range configs {
		if cfg.ID == "" {
			return nil, fmt.Errorf("provider config with empty id")
		}
		if _, exists := r.providers[cfg.ID]; exists {
			return nil, fmt.Errorf("duplicate provider id %q", cfg.ID)
		}
		r.providers[cfg.ID] = &providerState{cfg: cfg, availability: Available}
		r.order = append(r.order, cfg.ID)
	}
	return r, nil
}

// Candidates returns snapshots of every provider that handles the content
// type and is not unavailable, sorted by id for determinism. Ordering policy
// is applied by the routing engine on top of this.
func (r *Registry) Candidates(t content.ContentType) []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Snapshot
	for _, id := range r.order {
		state := r.providers[id]
		r.maybeRecoverLocked(state)
		if state.availability == Unavailable {
			continue
		}
		if !state.cfg.Supports(t) {
			continue
		}
		out = append(out, Snapshot{ProviderConfig: state.cfg, Availability: state.availability})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// NextCursor returns a monotonically increasing value used by the
// round_robin routing policy to rotate candidate order.
func (r *Registry) NextCursor() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	cursor := r.rrCursor
	r.rrCursor++
	return cursor
}

// RecordSuccess resets the failure machinery for the provider and folds the
// observed latency into its moving average.
func (r *Registry) RecordSuccess(id string, latency time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, ok := r.providers[id]
	if !ok {
		return
	}
	state.consecutiveFailures = 0
	state.windowStart = time.Time{}
	state.cooldownUntil = time.Time{}
	r.setAvailabilityLocked(state, Available)

	if latency > 0 {
		if state.cfg.AvgLatency == 0 {
			state.cfg.AvgLatency = latency
		} else {
			state.cfg.AvgLatency = time.Duration(
				latencyAlpha*float64(latency) + (1-latencyAlpha)*float64(state.cfg.AvgLatency))
		}
	}
}

// RecordFailure advances the provider's state machine for one failed call.
// Rate limits and timeouts degrade immediately; three consecutive failures
// inside the rolling window open the circuit entirely.
func (r *Registry) RecordFailure(id string, kind content.ErrorKind) {
	// Cancellation is caller-initiated, not a provider fault; it must not
	// perturb the availability counters.
	if kind == content.KindCancelled || kind == content.KindValidationFailed {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	state, ok := r.providers[id]
	if !ok {
		return
	}

	now := r.now()
	if state.windowStart.IsZero() || now.Sub(state.windowStart) > r.window {
		state.consecutiveFailures = 0
		state.windowStart = now
	}
	state.consecutiveFailures++

	if kind == content.KindRateLimited || kind == content.KindTimeout {
		if state.availability == Available {
			r.setAvailabilityLocked(state, Degraded)
		}
	}

	if state.consecutiveFailures >= unavailableAfter {
		r.setAvailabilityLocked(state, Unavailable)
		state.cooldownUntil = now.Add(r.cooldown)
	}
}

// AvailabilityOf returns the current availability for a provider id.
func (r *Registry) AvailabilityOf(id string) (Availability, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, ok := r.providers[id]
	if !ok {
		return "", false
	}
	r.maybeRecoverLocked(state)
	return state.availability, true
}

// Health returns the availability of every provider, keyed by id.
func (r *Registry) Health() map[string]Availability {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]Availability, len(r.providers))
	for id, state := range r.providers {
		r.maybeRecoverLocked(state)
		out[id] = state.availability
	}
	return out
}

// Configs returns a copy of every provider config in insertion order.
func (r *Registry) Configs() []ProviderConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ProviderConfig, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.providers[id].cfg)
	}
	return out
}

// maybeRecoverLocked applies lazy cooldown recovery. Caller holds mu.
func (r *Registry) maybeRecoverLocked(state *providerState) {
	if state.availability != Unavailable {
		return
	}
	if !state.cooldownUntil.IsZero() && !r.now().Before(state.cooldownUntil) {
		state.consecutiveFailures = 0
		state.windowStart = time.Time{}
		state.cooldownUntil = time.Time{}
		r.setAvailabilityLocked(state, Available)
	}
}

func (r *Registry) setAvailabilityLocked(state *providerState, availability Availability) {
	if state.availability == availability {
		return
	}
	state.availability = availability
	if r.onStateChange != nil {
		r.onStateChange(state.cfg.ID, availability)
	}
}
