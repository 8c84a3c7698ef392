package model

import "time"

// JobStatus is the deep-dive job lifecycle state.
type JobStatus string

const (
	JobQueued  JobStatus = "Queued"
	JobRunning JobStatus = "Running"
	JobReady   JobStatus = "Ready"
	JobFailed  JobStatus = "Failed"
)

// Terminal reports whether no further transitions happen.
func (s JobStatus) Terminal() bool {
	return s == JobReady || s == JobFailed
}

// DeepDiveJob tracks one on-demand research report for a card.
type DeepDiveJob struct {
	ID          string     `json:"id"`
	CardID      string     `json:"card_id"`
	Topic       string     `json:"topic"`
	Status      JobStatus  `json:"status"`
	ReportRef   string     `json:"report_ref,omitempty"`
	SourceCount int        `json:"source_count,omitempty"`
	GeneratedAt *time.Time `json:"generated_at,omitempty"`
	Error       string     `json:"error,omitempty"`
	Degraded    bool       `json:"degraded,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// JobStatusView is what GetJobStatus reports.
type JobStatusView struct {
	JobID     string    `json:"job_id"`
	CardID    string    `json:"card_id"`
	Status    JobStatus `json:"status"`
	ReportRef string    `json:"report_ref,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// View projects the job onto its status view.
func (j *DeepDiveJob) View() JobStatusView {
	return JobStatusView{
		JobID:     j.ID,
		CardID:    j.CardID,
		Status:    j.Status,
		ReportRef: j.ReportRef,
		Error:     j.Error,
	}
}
