// Package taskbus provides the shared asynchronous task-execution and
// event-notification core for the back-office service suite: a durable
// background job queue with a lifecycle state machine, a pluggable handler
// registry, and a publish/subscribe event bus with replay.
//
// Taskbus is a library, not a service. Import it, configure a store, and
// register job handlers as ordinary Go functions:
//
//	st := memory.New()
//	eng, err := engine.New(st)
//	engine.Register(eng, job.NewDefinition("noop",
//	    func(ctx context.Context, _ struct{}, _ job.ProgressFunc) (map[string]bool, error) {
//	        return map[string]bool{"ok": true}, nil
//	    }))
//
// # Architecture
//
// Each subsystem defines a narrow contract: job.Store for job persistence,
// event.Log for the append-only event log, event.Bus for publish/subscribe.
// A single backend (memory, sqlite, postgres) implements the persistence
// contracts; the bus is selected independently (in-process fan-out or Redis
// Streams) so the same call sites serve single-node and multi-node
// deployments.
//
// All entity IDs use TypeID: type-prefixed, K-sortable, UUIDv7-based
// identifiers.
package taskbus
