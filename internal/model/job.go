package model

import "time"

// JobStatusProcessing is the only status a tracked job ever has.
// Completed and failed jobs are removed from the list, not transitioned.
const JobStatusProcessing = "processing"

// PlaceholderTitle is used when a job is created from an event or a
// backend workflow that carries no usable title.
const PlaceholderTitle = "Generating video..."

// ProcessingJob is one long-running video-generation task the user is
// waiting on. Jobs are ordered by insertion and removed FIFO.
type ProcessingJob struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
}

// PendingWorkflow is one row of the backend reconciliation query
type PendingWorkflow struct {
	ID          string    `json:"_id"`
	ExecutionID string    `json:"executionId"`
	Title       string    `json:"title,omitempty"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Pending reports whether the workflow still counts as in-flight
func (w PendingWorkflow) Pending() bool {
	return w.Status == "pending" || w.Status == JobStatusProcessing
}
