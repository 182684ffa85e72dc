package job

import (
	"context"
	"log/slog"
	"sync"
)

// ProgressFunc reports handler progress as a percentage in [0, 100].
// Out-of-range values are clamped; regressions are ignored.
type ProgressFunc func(pct int)

// HandlerFunc is a type-erased job handler. It receives the raw payload
// and a progress callback, and returns the raw result. The typed
// Definition[T, R] is converted to a HandlerFunc at registration time by
// closing over JSON codec + the typed handler.
type HandlerFunc func(ctx context.Context, payload []byte, progress ProgressFunc) ([]byte, error)

// Registry maps job types to type-erased handler functions.
// It is safe for concurrent use.
//
// Registering a second handler for a type overwrites the first with a
// logged warning: last registration wins. Process-start ordering across
// dozens of services is too fragile a thing to make load-bearing with a
// hard rejection; the warning surfaces the collision instead.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
	logger   *slog.Logger
}

// NewRegistry creates an empty job registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		handlers: make(map[string]HandlerFunc),
		logger:   logger,
	}
}

// Register registers a handler for the given job type.
func (r *Registry) Register(jobType string, h HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[jobType]; exists {
		r.logger.Warn("duplicate handler registration, last wins",
			slog.String("job_type", jobType),
		)
	}
	r.handlers[jobType] = h
}

// Get returns the handler for the given job type.
// Returns false if no handler is registered.
func (r *Registry) Get(jobType string) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[jobType]
	return h, ok
}

// Types returns all registered job types.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	return types
}
