package models

import "time"

// JobStatus represents the current state of a page-fetch job.
type JobStatus string

const (
	JobQueued     JobStatus = "queued"
	JobInProgress JobStatus = "in_progress"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// Terminal reports whether the status is final.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// JobResult holds the outcome of a finished job. Exactly one of Content or
// Error is set.
type JobResult struct {
	URL     string `json:"url"`
	Content string `json:"content,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Job is a single page fetch inside a session.
type Job struct {
	ID              string     `json:"id"`
	SessionID       string     `json:"sessionId"`
	URL             string     `json:"url"`
	Status          JobStatus  `json:"status"`
	QueuedAt        time.Time  `json:"queuedAt"`
	StartedAt       *time.Time `json:"startedAt,omitempty"`
	CompletedAt     *time.Time `json:"completedAt,omitempty"`
	ExecutionTimeMs int64      `json:"executionTimeMs,omitempty"`
	Result          *JobResult `json:"result,omitempty"`
}

// MarkStarted moves the job to in_progress. No-op once terminal.
func (j *Job) MarkStarted() {
	if j.Status.Terminal() {
		return
	}
	now := time.Now().UTC()
	j.Status = JobInProgress
	j.StartedAt = &now
}

// MarkCompleted records the fetched content and freezes the job.
func (j *Job) MarkCompleted(content string) {
	if j.Status.Terminal() {
		return
	}
	now := time.Now().UTC()
	j.Status = JobCompleted
	j.CompletedAt = &now
	j.Result = &JobResult{URL: j.URL, Content: content}
	j.recordExecutionTime(now)
}

// MarkFailed records the failure reason and freezes the job.
func (j *Job) MarkFailed(reason string) {
	if j.Status.Terminal() {
		return
	}
	now := time.Now().UTC()
	j.Status = JobFailed
	j.CompletedAt = &now
	j.Result = &JobResult{URL: j.URL, Error: reason}
	j.recordExecutionTime(now)
}

func (j *Job) recordExecutionTime(completed time.Time) {
	if j.StartedAt != nil {
		j.ExecutionTimeMs = completed.Sub(*j.StartedAt).Milliseconds()
	}
}

// JobResponse is the API view of a job.
type JobResponse struct {
	ID              string     `json:"id"`
	Status          JobStatus  `json:"status"`
	ExecutionTimeMs int64      `json:"executionTimeMs,omitempty"`
	QueuedAt        time.Time  `json:"queuedAt"`
	StartedAt       *time.Time `json:"startedAt,omitempty"`
	CompletedAt     *time.Time `json:"completedAt,omitempty"`
	Result          *JobResult `json:"result,omitempty"`
}
