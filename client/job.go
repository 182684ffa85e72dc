package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/ledgerline/taskbus/api"
	"github.com/ledgerline/taskbus/id"
	"github.com/ledgerline/taskbus/job"
)

// EnqueueOption configures an enqueue request.
type EnqueueOption func(*api.SubmitJobRequest)

// WithPriority sets the job priority. Higher values are dispatched
// first.
func WithPriority(priority int) EnqueueOption {
	return func(r *api.SubmitJobRequest) { r.Priority = priority }
}

// Enqueue submits a job to the remote daemon.
func (c *Client) Enqueue(ctx context.Context, jobType string, payload any, opts ...EnqueueOption) (*job.Job, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return c.EnqueueRaw(ctx, jobType, raw, opts...)
}

// EnqueueRaw submits a job with a pre-serialized payload.
func (c *Client) EnqueueRaw(ctx context.Context, jobType string, payload json.RawMessage, opts ...EnqueueOption) (*job.Job, error) {
	req := api.SubmitJobRequest{
		Type:    jobType,
		Payload: payload,
	}
	for _, opt := range opts {
		opt(&req)
	}

	var j job.Job
	if err := c.do(ctx, http.MethodPost, "/v1/jobs", req, &j); err != nil {
		return nil, err
	}
	return &j, nil
}

// GetJob retrieves a job by id.
func (c *Client) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	var j job.Job
	if err := c.do(ctx, http.MethodGet, "/v1/jobs/"+jobID.String(), nil, &j); err != nil {
		return nil, err
	}
	return &j, nil
}

// ListJobs returns jobs matching the filter.
func (c *Client) ListJobs(ctx context.Context, f job.Filter) ([]*job.Job, error) {
	q := map[string]string{
		"state": string(f.State),
		"type":  f.Type,
	}
	if f.Limit > 0 {
		q["limit"] = strconv.Itoa(f.Limit)
	}

	var jobs []*job.Job
	if err := c.do(ctx, http.MethodGet, "/v1/jobs"+query(q), nil, &jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}

// Counts returns job counts grouped by lifecycle state.
func (c *Client) Counts(ctx context.Context) (*api.JobCountsResponse, error) {
	var counts api.JobCountsResponse
	if err := c.do(ctx, http.MethodGet, "/v1/jobs/counts", nil, &counts); err != nil {
		return nil, err
	}
	return &counts, nil
}

// CancelJob cancels a job by id.
func (c *Client) CancelJob(ctx context.Context, jobID id.JobID) error {
	return c.do(ctx, http.MethodPost, "/v1/jobs/"+jobID.String()+"/cancel", nil, nil)
}

// PauseJob pauses a job by id.
func (c *Client) PauseJob(ctx context.Context, jobID id.JobID) error {
	return c.do(ctx, http.MethodPost, "/v1/jobs/"+jobID.String()+"/pause", nil, nil)
}

// ResumeJob resumes a paused job by id.
func (c *Client) ResumeJob(ctx context.Context, jobID id.JobID) error {
	return c.do(ctx, http.MethodPost, "/v1/jobs/"+jobID.String()+"/resume", nil, nil)
}
