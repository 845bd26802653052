package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// Handler executes jobs of a single type. Execute must honor ctx
// cancellation and may report progress (0-100) on the progress channel;
// sends must not block (the executor drains the channel, but a handler
// should use a non-blocking send or simply report coarsely).
type Handler interface {
	Type() JobType
	Execute(ctx context.Context, job *Job, progress chan<- int) (json.RawMessage, error)
}

// HandlerFunc adapts a function to the Handler interface
type HandlerFunc struct {
	jobType JobType
	fn      func(ctx context.Context, job *Job, progress chan<- int) (json.RawMessage, error)
}

func (h *HandlerFunc) Type() JobType { return h.jobType }

func (h *HandlerFunc) Execute(ctx context.Context, job *Job, progress chan<- int) (json.RawMessage, error) {
	return h.fn(ctx, job, progress)
}

// HandlerRegistry maps job types to their handlers. Registration happens
// during startup wiring; lookups happen from worker goroutines.
type HandlerRegistry struct {
	mu       sync.RWMutex
	handlers map[JobType]Handler
}

// NewHandlerRegistry creates an empty registry
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{handlers: make(map[JobType]Handler)}
}

// Register adds a handler. Duplicate registration for a type is a wiring
// bug and panics rather than silently shadowing the earlier handler.
func (r *HandlerRegistry) Register(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[h.Type()]; exists {
		panic(fmt.Sprintf("handler already registered for job type %q", h.Type()))
	}
	r.handlers[h.Type()] = h
}

// RegisterFunc registers a plain function as the handler for jobType
func (r *HandlerRegistry) RegisterFunc(jobType JobType, fn func(ctx context.Context, job *Job, progress chan<- int) (json.RawMessage, error)) {
	r.Register(&HandlerFunc{jobType: jobType, fn: fn})
}

// Get returns the handler for jobType, or an ErrUnknownJobType error
func (r *HandlerRegistry) Get(jobType JobType) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[jobType]
	if !ok {
		return nil, WithKind(ErrUnknownJobType, KindUnknownJobType)
	}
	return h, nil
}

// Has reports whether a handler is registered for jobType
func (r *HandlerRegistry) Has(jobType JobType) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[jobType]
	return ok
}

// Types returns the registered job types, sorted
func (r *HandlerRegistry) Types() []JobType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]JobType, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}
