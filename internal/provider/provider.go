// Package provider dispatches start/stop actions to cloud control planes.
//
// The scheduler only sees Executor. Adapters for each cloud register their action
// functions in a Registry, so adding a provider never touches the engine.
package provider

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/crucial707/resource-scheduler/internal/models"
	"golang.org/x/time/rate"
)

var (
	// ErrUnsupportedTarget is returned when no adapter handles a provider/resource type/action.
	ErrUnsupportedTarget = errors.New("unsupported provider target")
	// ErrAlreadyInTargetState lets an adapter report a no-op; Execute treats it as success.
	ErrAlreadyInTargetState = errors.New("resource already in target state")
)

// Target names the resource an action applies to.
type Target struct {
	Provider     models.Provider
	ResourceType models.ResourceType
	ResourceID   string
}

func (t Target) String() string {
	return fmt.Sprintf("%s/%s/%s", t.Provider, t.ResourceType, t.ResourceID)
}

// Executor performs an action. A nil error means the action succeeded; the error text is
// stored verbatim as the run's failure detail.
type Executor interface {
	Execute(ctx context.Context, target Target, action models.Action) error
}

// ActionFunc performs one action on one resource id.
type ActionFunc func(ctx context.Context, resourceID string) error

// Adapter registers the actions one cloud supports.
type Adapter interface {
	Register(r *Registry)
}

type key struct {
	provider     models.Provider
	resourceType models.ResourceType
	action       models.Action
}

// Registry is a closed lookup from (provider, resource type, action) to an ActionFunc.
// Outbound calls are throttled by a token bucket per provider.
type Registry struct {
	mu       sync.RWMutex
	actions  map[key]ActionFunc
	limiters map[models.Provider]*rate.Limiter
	limit    rate.Limit
	burst    int
}

// NewRegistry returns an empty registry whose providers are each limited to rps calls per
// second with the given burst.
func NewRegistry(rps float64, burst int) *Registry {
	if burst < 1 {
		burst = 1
	}
	return &Registry{
		actions:  make(map[key]ActionFunc),
		limiters: make(map[models.Provider]*rate.Limiter),
		limit:    rate.Limit(rps),
		burst:    burst,
	}
}

// Register adds or replaces the function for one provider/resource type/action.
func (r *Registry) Register(p models.Provider, rt models.ResourceType, a models.Action, fn ActionFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions[key{p, rt, a}] = fn
	if _, ok := r.limiters[p]; !ok {
		r.limiters[p] = rate.NewLimiter(r.limit, r.burst)
	}
}

// Use lets each adapter register its actions.
func (r *Registry) Use(adapters ...Adapter) *Registry {
	for _, a := range adapters {
		a.Register(r)
	}
	return r
}

// Supports reports whether both start and stop are registered for the provider and type.
func (r *Registry) Supports(p models.Provider, rt models.ResourceType) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, start := r.actions[key{p, rt, models.ActionStart}]
	_, stop := r.actions[key{p, rt, models.ActionStop}]
	return start && stop
}

// Kinds lists the supported "provider/resource_type" pairs, sorted.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]bool)
	for k := range r.actions {
		seen[string(k.provider)+"/"+string(k.resourceType)] = true
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Execute looks up the action, waits for the provider's rate limiter and runs it.
func (r *Registry) Execute(ctx context.Context, target Target, action models.Action) error {
	r.mu.RLock()
	fn, ok := r.actions[key{target.Provider, target.ResourceType, action}]
	lim := r.limiters[target.Provider]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s %s/%s", ErrUnsupportedTarget, action, target.Provider, target.ResourceType)
	}
	if err := lim.Wait(ctx); err != nil {
		return fmt.Errorf("%s rate limit: %w", target.Provider, err)
	}
	err := fn(ctx, target.ResourceID)
	if errors.Is(err, ErrAlreadyInTargetState) {
		return nil
	}
	return err
}
