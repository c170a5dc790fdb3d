package runner

import (
	"time"
)

// Status is the lifecycle state of a scenario run.
type Status string

const (
	StatusPending  Status = "pending"
	StatusRunning  Status = "running"
	StatusPassed   Status = "passed"
	StatusFailed   Status = "failed"
	StatusTimedOut Status = "timed_out"
)

// IsTerminal reports whether s is final.
func (s Status) IsTerminal() bool {
	return s == StatusPassed || s == StatusFailed || s == StatusTimedOut
}

// Result is the outcome of one scenario. FailedStep is 1-based over the
// scenario's entries; 0 denotes opening the start URL.
type Result struct {
	ID           string        `json:"id"`
	File         string        `json:"file,omitempty"`
	Suite        string        `json:"suite"`
	Scenario     string        `json:"scenario"`
	Status       Status        `json:"status"`
	FailedStep   *int          `json:"failed_step,omitempty"`
	Entry        string        `json:"entry,omitempty"`
	Assertion    string        `json:"assertion,omitempty"`
	LastObserved string        `json:"last_observed,omitempty"`
	Error        string        `json:"error,omitempty"`
	Screenshot   string        `json:"screenshot,omitempty"`
	StartedAt    time.Time     `json:"started_at"`
	Duration     time.Duration `json:"-"`
	DurationMS   int64         `json:"duration_ms"`
}

// Passed reports whether the scenario passed.
func (r *Result) Passed() bool {
	return r.Status == StatusPassed
}

// Summary counts results by status.
type Summary struct {
	Total    int `json:"total"`
	Passed   int `json:"passed"`
	Failed   int `json:"failed"`
	TimedOut int `json:"timed_out"`
}

// Summarize counts results.
func Summarize(results []*Result) Summary {
	var s Summary
	for _, r := range results {
		s.Total++
		switch r.Status {
		case StatusPassed:
			s.Passed++
		case StatusFailed:
			s.Failed++
		case StatusTimedOut:
			s.TimedOut++
		}
	}
	return s
}

// AllPassed reports whether every result passed.
func (s Summary) AllPassed() bool {
	return s.Passed == s.Total
}
