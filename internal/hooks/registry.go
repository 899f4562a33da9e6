// Package hooks provides priority-ordered event callbacks around tool
// execution and project lifecycle events. Callbacks are exception
// isolated: a panicking hook is logged and the chain continues.
package hooks

import (
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Event names one point in the broker lifecycle hooks can attach to.
type Event string

// The closed set of hookable events.
const (
	// EventToolWillExecute fires before a tool body runs.
	EventToolWillExecute Event = "tool_will_execute"
	// EventToolDidExecute fires after a tool body returns.
	EventToolDidExecute Event = "tool_did_execute"
	// EventToolRegistered fires when a tool joins the registry.
	EventToolRegistered Event = "tool_registered"
	// EventProjectActivated fires when a project becomes active.
	EventProjectActivated Event = "project_activated"
	// EventModeChanged fires when the broker's operating mode changes.
	EventModeChanged Event = "mode_changed"

	// EventAll subscribes a hook to every event.
	EventAll Event = "*"
)

// Context is the record threaded through a hook chain. Hooks return a
// (possibly modified) context; the final context is the trigger result.
type Context struct {
	Event    Event
	ToolName string
	Params   map[string]any
	Result   string
	Err      error
	Values   map[string]any
}

// clone copies the context so one hook's mutation of the maps cannot
// corrupt a concurrently running chain.
func (c Context) clone() Context {
	out := c
	out.Params = make(map[string]any, len(c.Params))
	for k, v := range c.Params {
		out.Params[k] = v
	}
	out.Values = make(map[string]any, len(c.Values))
	for k, v := range c.Values {
		out.Values[k] = v
	}
	return out
}

// Func is a hook callback. It receives the chain's context and returns
// the context to pass to the next hook.
type Func func(Context) Context

// Registration is one registered hook.
type Registration struct {
	Name     string
	Event    Event
	Priority int
	Enabled  bool
	Callback Func
}

// Registry holds hook registrations. Registration is expected at
// initialization time; Trigger may be called from any goroutine.
type Registry struct {
	mu    sync.RWMutex
	hooks map[Event][]*Registration
	log   *zap.Logger
}

// NewRegistry creates an empty hook registry.
func NewRegistry(log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		hooks: make(map[Event][]*Registration),
		log:   log,
	}
}

// Register adds a hook for an event (or EventAll). Lower priorities run
// first.
func (r *Registry) Register(name string, event Event, priority int, callback Func) *Registration {
	reg := &Registration{
		Name:     name,
		Event:    event,
		Priority: priority,
		Enabled:  true,
		Callback: callback,
	}
	r.mu.Lock()
	r.hooks[event] = append(r.hooks[event], reg)
	r.mu.Unlock()
	return reg
}

// Unregister removes a hook by name from an event.
func (r *Registry) Unregister(name string, event Event) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	regs := r.hooks[event]
	for i, reg := range regs {
		if reg.Name == name {
			r.hooks[event] = append(regs[:i], regs[i+1:]...)
			return true
		}
	}
	return false
}

// SetEnabled toggles a hook without removing it.
func (r *Registry) SetEnabled(name string, event Event, enabled bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, reg := range r.hooks[event] {
		if reg.Name == name {
			reg.Enabled = enabled
			return true
		}
	}
	return false
}

// Trigger runs every enabled hook for the event — event-specific and
// global registrations merged, stable-sorted by ascending priority —
// threading the context through the chain. A hook that panics is
// logged and skipped; the chain never aborts.
func (r *Registry) Trigger(event Event, ctx Context) Context {
	ctx.Event = event
	if ctx.Params == nil {
		ctx.Params = make(map[string]any)
	}
	if ctx.Values == nil {
		ctx.Values = make(map[string]any)
	}
	ctx = ctx.clone()

	r.mu.RLock()
	chain := make([]*Registration, 0, len(r.hooks[event])+len(r.hooks[EventAll]))
	chain = append(chain, r.hooks[event]...)
	if event != EventAll {
		chain = append(chain, r.hooks[EventAll]...)
	}
	r.mu.RUnlock()

	sort.SliceStable(chain, func(i, j int) bool {
		return chain[i].Priority < chain[j].Priority
	})

	for _, reg := range chain {
		if !reg.Enabled {
			continue
		}
		ctx = r.invoke(reg, ctx)
	}
	return ctx
}

// invoke runs one hook with panic isolation, returning the input
// context unchanged when the hook fails.
func (r *Registry) invoke(reg *Registration, ctx Context) (out Context) {
	out = ctx
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("hook panicked",
				zap.String("hook", reg.Name),
				zap.String("event", string(ctx.Event)),
				zap.Any("panic", rec))
			out = ctx
		}
	}()
	return reg.Callback(ctx)
}

// Count returns the number of registrations for an event.
func (r *Registry) Count(event Event) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.hooks[event])
}
