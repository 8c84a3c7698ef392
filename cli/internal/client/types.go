package client

import "time"

// These mirror the pipeline's JSON responses. Fields iwctl never shows are omitted.

type CycleReport struct {
	RunID         string   `json:"run_id"`
	WatchID       string   `json:"watch_id"`
	Sources       int      `json:"sources"`
	FailedSources []string `json:"failed_sources,omitempty"`
	Fetched       int      `json:"fetched"`
	Rejected      int      `json:"rejected"`
	Repeats       int      `json:"repeats"`
	Created       int      `json:"canonical_created"`
	Merged        int      `json:"canonical_merged"`
	FailedSignals int      `json:"failed_signals"`
	CardIDs       []string `json:"card_ids,omitempty"`
	Degraded      bool     `json:"degraded"`
	RetryQueued   bool     `json:"retry_queued"`
}

type Action struct {
	Owner    string    `json:"owner"`
	Title    string    `json:"title"`
	Priority string    `json:"priority"`
	Status   string    `json:"status"`
	DueAt    time.Time `json:"due_at"`
	RuleID   string    `json:"rule_id,omitempty"`
}

type Card struct {
	ID                 string     `json:"id" yaml:"id"`
	WatchID            string     `json:"watch_id" yaml:"watch_id"`
	Title              string     `json:"title" yaml:"title"`
	CanonicalSignalIDs []string   `json:"canonical_signal_ids" yaml:"canonical_signal_ids"`
	EventTypes         []string   `json:"event_types" yaml:"event_types"`
	RiskLevel          string     `json:"risk_level" yaml:"risk_level"`
	RiskScore          float64    `json:"risk_score" yaml:"risk_score"`
	Confidence         float64    `json:"confidence" yaml:"confidence"`
	Actions            []Action   `json:"actions" yaml:"actions"`
	Rationale          []string   `json:"rationale,omitempty" yaml:"rationale,omitempty"`
	RuleIDs            []string   `json:"rule_ids,omitempty" yaml:"rule_ids,omitempty"`
	Status             string     `json:"status" yaml:"status"`
	NeedsReview        bool       `json:"needs_review" yaml:"needs_review"`
	Degraded           bool       `json:"degraded" yaml:"degraded"`
	CreatedAt          time.Time  `json:"created_at" yaml:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at" yaml:"updated_at"`
	ReviewedAt         *time.Time `json:"reviewed_at,omitempty" yaml:"reviewed_at,omitempty"`
	ArchivedAt         *time.Time `json:"archived_at,omitempty" yaml:"archived_at,omitempty"`
}

type Job struct {
	JobID     string `json:"job_id"`
	CardID    string `json:"card_id"`
	Status    string `json:"status"`
	ReportRef string `json:"report_ref,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Terminal reports whether the job has finished.
func (j *Job) Terminal() bool {
	return j.Status == "Ready" || j.Status == "Failed"
}

type RuleValidation struct {
	Valid   bool     `json:"valid"`
	Version string   `json:"version,omitempty"`
	Rules   int      `json:"rules"`
	Errors  []string `json:"errors,omitempty"`
}

type DeadLetter struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Provider  string    `json:"provider"`
	WatchID   string    `json:"watch_id"`
	Reason    string    `json:"reason"`
	Error     string    `json:"error"`
}
