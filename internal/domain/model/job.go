package model

import "time"

type JobStatus string

const (
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// ExecutionHandle identifies one asynchronous remote execution.
type ExecutionHandle struct {
	WorkflowID string `json:"workflow_id"`
	RunID      string `json:"run_id"`
}

func (h ExecutionHandle) IsZero() bool { return h.WorkflowID == "" && h.RunID == "" }

// Job is one research submission tracked by the client.
type Job struct {
	ID          int64            `json:"id"`
	Name        string           `json:"name"`
	Status      JobStatus        `json:"status"`
	WorkspaceID string           `json:"workspace_id,omitempty"`
	Handle      *ExecutionHandle `json:"handle,omitempty"`
	IsLive      bool             `json:"is_live"`
	StartedAt   time.Time        `json:"started_at"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
	ResultDocID string           `json:"result_doc_id,omitempty"`
	StatusText  string           `json:"status_text"`
}

func NewJob(id int64, name, workspaceID string, handle *ExecutionHandle, live bool, now time.Time) *Job {
	return &Job{
		ID:          id,
		Name:        name,
		Status:      JobStatusRunning,
		WorkspaceID: workspaceID,
		Handle:      handle,
		IsLive:      live,
		StartedAt:   now,
		StatusText:  "Starting…",
	}
}

// TryTransition moves a running job to a terminal status.
// It returns false, leaving the job untouched, when the job already left running
// or when to is not terminal.
func (j *Job) TryTransition(to JobStatus, at time.Time) bool {
	if j.Status != JobStatusRunning || !to.Terminal() {
		return false
	}
	j.Status = to
	t := at
	j.CompletedAt = &t
	return true
}

// Clone returns a deep copy safe to hand to other goroutines.
func (j *Job) Clone() Job {
	cp := *j
	if j.Handle != nil {
		h := *j.Handle
		cp.Handle = &h
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		cp.CompletedAt = &t
	}
	return cp
}
