package job

import (
	"context"
	"encoding/json"
	"fmt"
)

// Definition is a typed job definition with a handler function.
// T is the payload type and R the result type (both JSON-serializable).
type Definition[T, R any] struct {
	// Type is the unique identifier for this job type.
	Type string

	// Handler processes the decoded payload. The progress callback may
	// be called at any point; the engine persists it. Handlers must be
	// idempotent-safe: there is no automatic retry, and cancellation is
	// delivered cooperatively through ctx.
	Handler func(ctx context.Context, payload T, progress ProgressFunc) (R, error)
}

// NewDefinition creates a typed job definition.
func NewDefinition[T, R any](jobType string, handler func(ctx context.Context, payload T, progress ProgressFunc) (R, error)) *Definition[T, R] {
	return &Definition[T, R]{Type: jobType, Handler: handler}
}

// RegisterDefinition registers a typed job definition. The generic handler
// is wrapped in a closure that JSON-unmarshals the payload into T before
// calling the typed handler and JSON-marshals the R result afterwards.
//
// This is a package-level generic function because Go does not allow
// generic methods on non-generic receiver types.
func RegisterDefinition[T, R any](r *Registry, def *Definition[T, R]) {
	handler := func(ctx context.Context, payload []byte, progress ProgressFunc) ([]byte, error) {
		var t T
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &t); err != nil {
				return nil, fmt.Errorf("unmarshal payload for job %q: %w", def.Type, err)
			}
		}

		result, err := def.Handler(ctx, t, progress)
		if err != nil {
			return nil, err
		}

		data, err := json.Marshal(result)
		if err != nil {
			return nil, fmt.Errorf("marshal result for job %q: %w", def.Type, err)
		}
		return data, nil
	}

	r.Register(def.Type, handler)
}
