// Package ext defines the extension system for taskbus.
//
// Extensions are notified of lifecycle events and can react to them,
// for example recording metrics, relaying notifications, or writing
// audit logs. Each lifecycle hook is a separate interface so extensions
// opt in only to the events they care about.
//
// # Implementing an Extension
//
//	type MyExtension struct{}
//
//	func (e *MyExtension) Name() string { return "my-extension" }
//
//	// Opt in to specific hooks by implementing their interfaces.
//	func (e *MyExtension) OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error {
//	    log.Printf("job %s completed in %s", j.ID, elapsed)
//	    return nil
//	}
//
// # Job Lifecycle Hooks
//
//   - [JobEnqueued]: job was accepted into the queue
//   - [JobStarted]: worker began executing the job
//   - [JobCompleted]: job finished successfully
//   - [JobFailed]: job failed terminally
//   - [JobCancelled]: job was cancelled
//   - [JobPaused]: job was paused
//   - [JobResumed]: a paused job was returned to the queue
//
// # Other Hooks
//
//   - [EventPublished]: an event was published on the bus
//   - [Shutdown]: the engine is shutting down gracefully
//
// The [Registry] fans out each event to all registered extensions that
// implement the corresponding hook interface.
package ext
