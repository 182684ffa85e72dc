package ext

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ledgerline/taskbus/event"
	"github.com/ledgerline/taskbus/job"
)

// Bus channels the relay publishes job terminal transitions on.
const (
	ChannelJobCompleted = "jobs.completed"
	ChannelJobFailed    = "jobs.failed"
	ChannelJobCancelled = "jobs.cancelled"
)

// Compile-time interface checks.
var (
	_ Extension    = (*BusRelay)(nil)
	_ JobCompleted = (*BusRelay)(nil)
	_ JobFailed    = (*BusRelay)(nil)
	_ JobCancelled = (*BusRelay)(nil)
)

// BusRelay is an extension that publishes job terminal transitions onto
// the event bus, so bus subscribers can observe job outcomes without
// polling the store. Each hook emits one event on the matching channel
// with a JSON payload describing the job.
type BusRelay struct {
	bus event.Bus
}

// NewBusRelay creates a BusRelay publishing through the given bus.
func NewBusRelay(bus event.Bus) *BusRelay {
	return &BusRelay{bus: bus}
}

// Name implements Extension.
func (h *BusRelay) Name() string { return "bus-relay" }

// OnJobCompleted implements JobCompleted.
func (h *BusRelay) OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error {
	return h.publish(ctx, ChannelJobCompleted, &jobPayload{
		JobID:     j.ID.String(),
		Type:      j.Type,
		State:     string(j.State),
		Result:    j.Result,
		ElapsedMs: elapsed.Milliseconds(),
	})
}

// OnJobFailed implements JobFailed.
func (h *BusRelay) OnJobFailed(ctx context.Context, j *job.Job, jobErr error) error {
	return h.publish(ctx, ChannelJobFailed, &jobPayload{
		JobID: j.ID.String(),
		Type:  j.Type,
		State: string(j.State),
		Error: jobErr.Error(),
	})
}

// OnJobCancelled implements JobCancelled.
func (h *BusRelay) OnJobCancelled(ctx context.Context, j *job.Job) error {
	return h.publish(ctx, ChannelJobCancelled, &jobPayload{
		JobID: j.ID.String(),
		Type:  j.Type,
		State: string(j.State),
	})
}

func (h *BusRelay) publish(ctx context.Context, channel string, p *jobPayload) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal relay payload: %w", err)
	}
	_, err = h.bus.Publish(ctx, channel, data)
	return err
}

// jobPayload is the JSON body of a relayed job event. Empty fields are
// omitted so cancelled jobs do not carry a bogus elapsed or error.
type jobPayload struct {
	JobID     string          `json:"job_id"`
	Type      string          `json:"type"`
	State     string          `json:"state"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	ElapsedMs int64           `json:"elapsed_ms,omitempty"`
}
