package audithook

// Audit event actions. Each constant corresponds to one ext lifecycle
// hook and becomes the Action field of the audit event.
const (
	ActionJobEnqueued    = "job.enqueued"
	ActionJobStarted     = "job.started"
	ActionJobCompleted   = "job.completed"
	ActionJobFailed      = "job.failed"
	ActionJobCancelled   = "job.cancelled"
	ActionJobPaused      = "job.paused"
	ActionJobResumed     = "job.resumed"
	ActionEventPublished = "event.published"
)

// Audit event categories group related actions.
const (
	CategoryJob   = "taskbus.job"
	CategoryEvent = "taskbus.event"
)

// Resource types used as the Resource field in audit events.
const (
	ResourceJob   = "job"
	ResourceEvent = "event"
)

// AllActions returns every action this extension can emit.
func AllActions() []string {
	return []string{
		ActionJobEnqueued,
		ActionJobStarted,
		ActionJobCompleted,
		ActionJobFailed,
		ActionJobCancelled,
		ActionJobPaused,
		ActionJobResumed,
		ActionEventPublished,
	}
}
