package queue

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/ahrdadan/uicheck/internal/runner"
)

// Default values for run configuration
const (
	DefaultRunTimeout = 5 * time.Minute
	DefaultMaxRetries = 3
	DefaultResultTTL  = 7 * 24 * time.Hour
	DefaultRetryDelay = 5 * time.Second
	MaxRetryDelay     = 5 * time.Minute
)

// RunStatus represents the status of a queued run
type RunStatus string

const (
	RunStatusQueued   RunStatus = "queued"
	RunStatusRunning  RunStatus = "running"
	RunStatusPassed   RunStatus = "passed"
	RunStatusFailed   RunStatus = "failed"
	RunStatusErrored  RunStatus = "errored"
	RunStatusCanceled RunStatus = "canceled"
	RunStatusRetrying RunStatus = "retrying"
)

// IsTerminal reports whether no further transitions happen from s.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusPassed, RunStatusFailed, RunStatusErrored, RunStatusCanceled:
		return true
	}
	return false
}

// NotifyConfig holds completion notification settings for a run
type NotifyConfig struct {
	WebhookURL    string `json:"webhook_url,omitempty"`
	WebhookSecret string `json:"webhook_secret,omitempty"` // HMAC-SHA256 key for X-Uicheck-Signature
}

// RunRequest describes a suite to execute.
type RunRequest struct {
	// Suite is the scenario file content, YAML or JSON.
	Suite          string        `json:"suite"`
	BaseURL        string        `json:"base_url,omitempty"`
	TimeoutMS      int           `json:"timeout_ms,omitempty"` // per action and assertion
	RunTimeoutMS   int           `json:"run_timeout_ms,omitempty"`
	InterceptMode  string        `json:"intercept_mode,omitempty"`
	Parallel       int           `json:"parallel,omitempty"`
	IdempotencyKey string        `json:"idempotency_key,omitempty"`
	MaxRetries     int           `json:"max_retries,omitempty"`
	Notify         *NotifyConfig `json:"notify,omitempty"`
}

// ProgressInfo counts finished scenarios.
type ProgressInfo struct {
	Current int    `json:"current"`
	Total   int    `json:"total"`
	Percent int    `json:"percent"`
	Message string `json:"message"`
}

// Run is a queued suite execution and, once finished, its results.
type Run struct {
	ID             string           `json:"run_id"`
	Status         RunStatus        `json:"status"`
	Progress       int              `json:"progress"`
	ProgressInfo   *ProgressInfo    `json:"progress_info,omitempty"`
	Message        string           `json:"message,omitempty"`
	Request        RunRequest       `json:"request"`
	Results        []*runner.Result `json:"results,omitempty"`
	Summary        *runner.Summary  `json:"summary,omitempty"`
	Error          string           `json:"error,omitempty"`
	CreatedAt      int64            `json:"created_at"`
	UpdatedAt      int64            `json:"updated_at"`
	StartedAt      int64            `json:"started_at,omitempty"`
	CompletedAt    int64            `json:"completed_at,omitempty"`
	ExpiresAt      int64            `json:"expires_at,omitempty"`
	RetryCount     int              `json:"retry_count"`
	MaxRetries     int              `json:"max_retries"`
	NextRetryAt    int64            `json:"next_retry_at,omitempty"`
	LastError      string           `json:"last_error,omitempty"`
	IdempotencyKey string           `json:"idempotency_key,omitempty"`
}

// NewRun creates a queued run from a request.
func NewRun(req RunRequest, resultTTL time.Duration) *Run {
	now := time.Now()

	maxRetries := DefaultMaxRetries
	if req.MaxRetries > 0 {
		maxRetries = req.MaxRetries
	}
	if resultTTL <= 0 {
		resultTTL = DefaultResultTTL
	}

	return &Run{
		ID:             generateRunID(),
		Status:         RunStatusQueued,
		Request:        req,
		CreatedAt:      now.Unix(),
		UpdatedAt:      now.Unix(),
		ExpiresAt:      now.Add(resultTTL).Unix(),
		MaxRetries:     maxRetries,
		IdempotencyKey: req.IdempotencyKey,
	}
}

// Clone returns a copy that can be handed out while the worker keeps
// mutating the original. Results are shared; they are never modified
// after SetResults.
func (r *Run) Clone() *Run {
	cp := *r
	if r.ProgressInfo != nil {
		info := *r.ProgressInfo
		cp.ProgressInfo = &info
	}
	return &cp
}

// SetStatus updates the run status
func (r *Run) SetStatus(status RunStatus) {
	now := time.Now().Unix()
	r.Status = status
	r.UpdatedAt = now

	if status == RunStatusRunning && r.StartedAt == 0 {
		r.StartedAt = now
	}
	if status.IsTerminal() {
		r.CompletedAt = now
	}
}

// SetProgress records done of total scenarios finished.
func (r *Run) SetProgress(done, total int, message string) {
	percent := 0
	if total > 0 {
		percent = (done * 100) / total
	}
	r.Progress = percent
	r.Message = message
	r.ProgressInfo = &ProgressInfo{
		Current: done,
		Total:   total,
		Percent: percent,
		Message: message,
	}
	r.UpdatedAt = time.Now().Unix()
}

// SetResults stores scenario results and derives the final status.
func (r *Run) SetResults(results []*runner.Result) {
	summary := runner.Summarize(results)
	r.Results = results
	r.Summary = &summary
	r.Progress = 100
	if summary.AllPassed() {
		r.Message = "all scenarios passed"
		r.SetStatus(RunStatusPassed)
	} else {
		r.Message = "some scenarios did not pass"
		r.SetStatus(RunStatusFailed)
	}
}

// SetError marks the run as unable to execute.
func (r *Run) SetError(err string) {
	r.Error = err
	r.LastError = err
	r.Message = err
	r.SetStatus(RunStatusErrored)
}

// CanRetry returns true if the run can be retried
func (r *Run) CanRetry() bool {
	return r.RetryCount < r.MaxRetries
}

// PrepareRetry schedules the next attempt with exponential backoff.
func (r *Run) PrepareRetry(lastErr string) {
	r.RetryCount++
	r.LastError = lastErr
	r.Status = RunStatusRetrying

	delay := DefaultRetryDelay
	for i := 1; i < r.RetryCount; i++ {
		delay *= 2
	}
	if delay > MaxRetryDelay {
		delay = MaxRetryDelay
	}

	r.NextRetryAt = time.Now().Add(delay).Unix()
	r.UpdatedAt = time.Now().Unix()
}

// IsExpired checks if the run record has outlived its TTL
func (r *Run) IsExpired() bool {
	if r.ExpiresAt == 0 {
		return false
	}
	return time.Now().Unix() > r.ExpiresAt
}

// Timeout bounds the whole run.
func (r *Run) Timeout() time.Duration {
	if r.Request.RunTimeoutMS <= 0 {
		return DefaultRunTimeout
	}
	return time.Duration(r.Request.RunTimeoutMS) * time.Millisecond
}

// ToJSON serializes a run to JSON
func (r *Run) ToJSON() ([]byte, error) {
	return json.Marshal(r)
}

// FromJSON deserializes a run from JSON
func FromJSON(data []byte) (*Run, error) {
	var r Run
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// RunCreatedResponse is returned when a run is accepted.
type RunCreatedResponse struct {
	RunID     string    `json:"run_id"`
	Status    RunStatus `json:"status"`
	StatusURL string    `json:"status_url"`
	ResultURL string    `json:"result_url"`
	Events    struct {
		SSEURL string `json:"sse_url"`
		WSURL  string `json:"ws_url"`
	} `json:"events"`
}

// RunResultResponse is the body of the result endpoint.
type RunResultResponse struct {
	RunID   string           `json:"run_id"`
	Status  RunStatus        `json:"status"`
	Summary *runner.Summary  `json:"summary,omitempty"`
	Results []*runner.Result `json:"results,omitempty"`
	Error   string           `json:"error,omitempty"`
}

func generateRunID() string {
	return "run_" + uuid.New().String()[:8]
}
