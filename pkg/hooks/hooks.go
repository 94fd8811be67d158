package hooks

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/moai-flow/swarm/pkg/log"
)

var (
	// ErrDuplicateHook is returned when a hook name is already registered
	ErrDuplicateHook = errors.New("hooks: duplicate hook name")

	// ErrDependency is returned on an unknown prerequisite or a cycle
	ErrDependency = errors.New("hooks: invalid dependency")
)

// Priority orders hooks that are otherwise unconstrained. Lower runs first.
type Priority int

const (
	PriorityCritical Priority = 0
	PriorityHigh     Priority = 1
	PriorityNormal   Priority = 2
	PriorityLow      Priority = 3
	PriorityDeferred Priority = 4
)

// ExecutorKind selects how a hook callable is scheduled
type ExecutorKind string

const (
	ExecutorSync  ExecutorKind = "sync"
	ExecutorAsync ExecutorKind = "async"
)

// Context carries event data to every hook invocation
type Context struct {
	Event     string
	Data      map[string]interface{}
	AgentID   string
	StartedAt time.Time

	mu       sync.Mutex
	metadata map[string]interface{}
}

// NewContext creates a hook context for an event
func NewContext(event string, data map[string]interface{}) *Context {
	return &Context{
		Event:     event,
		Data:      data,
		StartedAt: time.Now(),
		metadata:  make(map[string]interface{}),
	}
}

// SetMeta stores a metadata value visible to later hooks in the dispatch
func (c *Context) SetMeta(key string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.metadata == nil {
		c.metadata = make(map[string]interface{})
	}
	c.metadata[key] = value
}

// Meta reads a metadata value set by an earlier hook
func (c *Context) Meta(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.metadata[key]
	return v, ok
}

// Func is a hook callable. Long-running callables should honor ctx, which
// carries the per-hook timeout.
type Func func(ctx context.Context, hc *Context) error

// Predicate gates a hook; the hook runs only if all predicates return true
type Predicate func(hc *Context) bool

// Hook describes one registered callback
type Hook struct {
	Name         string
	Event        string
	Fn           Func
	Priority     Priority
	Predicates   []Predicate
	Dependencies []string
	Executor     ExecutorKind

	// Timeout overrides the executor default when positive
	Timeout time.Duration

	// MaxRetries sets this hook's retry budget. The zero value means no
	// retries; set -1 to inherit the registry's configured default.
	// Capped at 3.
	MaxRetries int
}

// Result records one hook's outcome for a dispatch
type Result struct {
	Name     string
	Success  bool
	Err      error
	Duration time.Duration
	Attempts int
}

// Options configures the registry's executors
type Options struct {
	DefaultSyncTimeout  time.Duration // default 2s
	DefaultAsyncTimeout time.Duration // default 5s
	AsyncConcurrency    int64         // default 10
	GracefulDegradation bool
	MaxRetries          int // default 2, capped at 3
}

// DefaultOptions returns the documented executor defaults
func DefaultOptions() Options {
	return Options{
		DefaultSyncTimeout:  2 * time.Second,
		DefaultAsyncTimeout: 5 * time.Second,
		AsyncConcurrency:    10,
		GracefulDegradation: true,
		MaxRetries:          2,
	}
}

type regHook struct {
	Hook
	seq int
}

// Registry holds hooks and dispatches lifecycle events to them in a
// deterministic order: topological on dependencies, tie-broken by
// priority, then by registration order.
type Registry struct {
	mu         sync.RWMutex
	hooks      map[string]*regHook
	byEvent    map[string][]*regHook
	orderCache map[string][]*regHook
	nextSeq    int

	sem  *semaphore.Weighted
	opts Options
}

// NewRegistry creates an empty hook registry
func NewRegistry(opts Options) *Registry {
	if opts.DefaultSyncTimeout <= 0 {
		opts.DefaultSyncTimeout = 2 * time.Second
	}
	if opts.DefaultAsyncTimeout <= 0 {
		opts.DefaultAsyncTimeout = 5 * time.Second
	}
	if opts.AsyncConcurrency <= 0 {
		opts.AsyncConcurrency = 10
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.MaxRetries > 3 {
		opts.MaxRetries = 3
	}

	return &Registry{
		hooks:      make(map[string]*regHook),
		byEvent:    make(map[string][]*regHook),
		orderCache: make(map[string][]*regHook),
		sem:        semaphore.NewWeighted(opts.AsyncConcurrency),
		opts:       opts,
	}
}

// Register adds a hook. It fails with ErrDuplicateHook on a name collision
// and with ErrDependency when a prerequisite is unknown, belongs to a
// different event, or would create a cycle.
func (r *Registry) Register(h Hook) error {
	if h.Name == "" || h.Event == "" || h.Fn == nil {
		return fmt.Errorf("hooks: name, event, and fn are required")
	}
	if h.Executor == "" {
		h.Executor = ExecutorSync
	}
	if h.MaxRetries > 3 {
		h.MaxRetries = 3
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.hooks[h.Name]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateHook, h.Name)
	}

	for _, dep := range h.Dependencies {
		prereq, ok := r.hooks[dep]
		if !ok {
			return fmt.Errorf("%w: unknown prerequisite %q for hook %q", ErrDependency, dep, h.Name)
		}
		if prereq.Event != h.Event {
			return fmt.Errorf("%w: prerequisite %q listens to event %q, not %q",
				ErrDependency, dep, prereq.Event, h.Event)
		}
	}

	reg := &regHook{Hook: h, seq: r.nextSeq}
	r.nextSeq++
	r.hooks[h.Name] = reg
	r.byEvent[h.Event] = append(r.byEvent[h.Event], reg)

	// Validate the event's dependency graph stays acyclic.
	if _, err := topoOrder(r.byEvent[h.Event]); err != nil {
		delete(r.hooks, h.Name)
		evs := r.byEvent[h.Event]
		r.byEvent[h.Event] = evs[:len(evs)-1]
		return err
	}

	delete(r.orderCache, h.Event)
	return nil
}

// Unregister removes a hook by name. Returns false when it was absent.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	reg, ok := r.hooks[name]
	if !ok {
		return false
	}
	delete(r.hooks, name)

	evs := r.byEvent[reg.Event]
	for i, h := range evs {
		if h.Name == name {
			r.byEvent[reg.Event] = append(evs[:i], evs[i+1:]...)
			break
		}
	}

	delete(r.orderCache, reg.Event)
	return true
}

// dispatchOrder returns the cached total order for an event
func (r *Registry) dispatchOrder(event string) []*regHook {
	r.mu.RLock()
	if order, ok := r.orderCache[event]; ok {
		r.mu.RUnlock()
		return order
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if order, ok := r.orderCache[event]; ok {
		return order
	}

	order, err := topoOrder(r.byEvent[event])
	if err != nil {
		// Register rejects cyclic graphs, so this cannot happen; fall
		// back to registration order rather than dropping the event.
		lg := log.WithComponent("hooks")
		lg.Error().Err(err).Str("event", event).
			Msg("dependency order unavailable")
		order = append([]*regHook(nil), r.byEvent[event]...)
	}
	r.orderCache[event] = order
	return order
}

// topoOrder computes Kahn's algorithm over the dependency DAG. Among
// ready nodes, lower priority value wins; ties fall back to registration
// order. Residual nodes mean a cycle.
func topoOrder(hs []*regHook) ([]*regHook, error) {
	byName := make(map[string]*regHook, len(hs))
	for _, h := range hs {
		byName[h.Name] = h
	}

	indegree := make(map[string]int, len(hs))
	dependents := make(map[string][]string, len(hs))
	for _, h := range hs {
		indegree[h.Name] += 0
		for _, dep := range h.Dependencies {
			if _, ok := byName[dep]; !ok {
				continue // prerequisite was unregistered; treat as satisfied
			}
			indegree[h.Name]++
			dependents[dep] = append(dependents[dep], h.Name)
		}
	}

	var ready []*regHook
	for _, h := range hs {
		if indegree[h.Name] == 0 {
			ready = append(ready, h)
		}
	}

	order := make([]*regHook, 0, len(hs))
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool {
			if ready[i].Priority != ready[j].Priority {
				return ready[i].Priority < ready[j].Priority
			}
			return ready[i].seq < ready[j].seq
		})

		next := ready[0]
		ready = ready[1:]
		order = append(order, next)

		for _, dep := range dependents[next.Name] {
			indegree[dep]--
			if indegree[dep] == 0 {
				ready = append(ready, byName[dep])
			}
		}
	}

	if len(order) != len(hs) {
		return nil, fmt.Errorf("%w: dependency cycle", ErrDependency)
	}
	return order, nil
}
