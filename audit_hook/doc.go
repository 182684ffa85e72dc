// Package audithook is a taskbus extension that bridges lifecycle
// events to an audit trail backend.
//
// Every job lifecycle hook and event publish emits a structured audit
// event through the [Recorder] interface. The extension assigns
// severity levels (info for normal operations, warning for pauses,
// critical for failures) and metadata (job type, worker, elapsed time,
// errors).
//
// # Usage
//
//	audithook.New(audithook.RecorderFunc(func(ctx context.Context, evt *audithook.AuditEvent) error {
//	    return trail.Write(ctx, evt.Action, evt.ResourceID, evt.Metadata)
//	}))
//
// # Selective filtering
//
//	audithook.New(recorder,
//	    audithook.WithActions(
//	        audithook.ActionJobFailed,
//	        audithook.ActionJobCancelled,
//	    ),
//	)
package audithook
