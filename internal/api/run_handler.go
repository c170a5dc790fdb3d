package api

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/ahrdadan/uicheck/internal/queue"
	"github.com/ahrdadan/uicheck/internal/scenario"
)

// RunQueue is the part of queue.Manager the handlers use.
type RunQueue interface {
	EnqueueWithIdempotency(run *queue.Run) (*queue.Run, bool, error)
	GetRun(runID string) (*queue.Run, error)
	CancelRun(runID string) (*queue.Run, error)
	Subscribe(runID string) <-chan queue.Event
	Unsubscribe(runID string, ch <-chan queue.Event)
}

// RunHandler handles run-related API requests
type RunHandler struct {
	queue      RunQueue
	publicURL  string
	resultTTL  time.Duration
	maxRetries int
}

// NewRunHandler creates a run handler. Links in responses are prefixed with
// publicURL.
func NewRunHandler(q RunQueue, publicURL string, resultTTL time.Duration, maxRetries int) *RunHandler {
	return &RunHandler{
		queue:      q,
		publicURL:  strings.TrimSuffix(publicURL, "/"),
		resultTTL:  resultTTL,
		maxRetries: maxRetries,
	}
}

// CreateRunRequest is the body of POST /uicheck/runs. Suite may be the
// scenario file as a string or the suite document as a JSON object.
type CreateRunRequest struct {
	Suite          json.RawMessage     `json:"suite"`
	BaseURL        string              `json:"base_url,omitempty"`
	TimeoutMS      int                 `json:"timeout_ms,omitempty"`
	RunTimeoutMS   int                 `json:"run_timeout_ms,omitempty"`
	InterceptMode  string              `json:"intercept_mode,omitempty"`
	Parallel       int                 `json:"parallel,omitempty"`
	IdempotencyKey string              `json:"idempotency_key,omitempty"`
	MaxRetries     int                 `json:"max_retries,omitempty"`
	Notify         *queue.NotifyConfig `json:"notify,omitempty"`
}

// suiteText returns the suite source. JSON objects are valid YAML, so they
// are passed through unchanged.
func (r CreateRunRequest) suiteText() (string, error) {
	raw := bytes.TrimSpace(r.Suite)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", errors.New("suite is required")
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", fmt.Errorf("suite: %w", err)
		}
		if strings.TrimSpace(s) == "" {
			return "", errors.New("suite is required")
		}
		return s, nil
	}
	if raw[0] != '{' {
		return "", errors.New("suite must be a string or an object")
	}
	return string(raw), nil
}

// CreateRun validates a suite and queues it.
// POST /uicheck/runs
func (h *RunHandler) CreateRun(c *fiber.Ctx) error {
	var req CreateRunRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}

	suite, err := req.suiteText()
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	if _, err := scenario.Parse([]byte(suite)); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	if req.TimeoutMS < 0 || req.RunTimeoutMS < 0 {
		return fiber.NewError(fiber.StatusBadRequest, "timeouts must not be negative")
	}

	idempotencyKey := c.Get("X-Idempotency-Key")
	if idempotencyKey == "" {
		idempotencyKey = req.IdempotencyKey
	}

	maxRetries := h.maxRetries
	if req.MaxRetries > 0 && req.MaxRetries < maxRetries {
		maxRetries = req.MaxRetries
	}

	run := queue.NewRun(queue.RunRequest{
		Suite:          suite,
		BaseURL:        req.BaseURL,
		TimeoutMS:      req.TimeoutMS,
		RunTimeoutMS:   req.RunTimeoutMS,
		InterceptMode:  req.InterceptMode,
		Parallel:       req.Parallel,
		IdempotencyKey: idempotencyKey,
		MaxRetries:     maxRetries,
		Notify:         req.Notify,
	}, h.resultTTL)

	enqueued, duplicate, err := h.queue.EnqueueWithIdempotency(run)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, fmt.Sprintf("Failed to enqueue run: %v", err))
	}
	if duplicate {
		c.Set("X-Idempotency-Hit", "true")
	}

	return c.Status(fiber.StatusAccepted).JSON(Response{
		Success: true,
		Data:    h.created(enqueued),
	})
}

func (h *RunHandler) created(run *queue.Run) queue.RunCreatedResponse {
	resp := queue.RunCreatedResponse{
		RunID:     run.ID,
		Status:    run.Status,
		StatusURL: fmt.Sprintf("%s/uicheck/runs/%s", h.publicURL, run.ID),
		ResultURL: fmt.Sprintf("%s/uicheck/runs/%s/result", h.publicURL, run.ID),
	}
	resp.Events.SSEURL = fmt.Sprintf("%s/uicheck/runs/%s/events", h.publicURL, run.ID)
	wsBase := strings.Replace(h.publicURL, "http", "ws", 1)
	resp.Events.WSURL = fmt.Sprintf("%s/uicheck/ws?run_id=%s", wsBase, run.ID)
	return resp
}

func (h *RunHandler) lookup(c *fiber.Ctx) (*queue.Run, error) {
	runID := c.Params("run_id")
	if runID == "" {
		return nil, fiber.NewError(fiber.StatusBadRequest, "Run ID is required")
	}
	run, err := h.queue.GetRun(runID)
	if err != nil {
		return nil, fiber.NewError(fiber.StatusNotFound, "Run not found")
	}
	return run, nil
}

// GetRunStatus returns the status of a run
// GET /uicheck/runs/:run_id
func (h *RunHandler) GetRunStatus(c *fiber.Ctx) error {
	run, err := h.lookup(c)
	if err != nil {
		return err
	}

	response := map[string]interface{}{
		"run_id":     run.ID,
		"status":     run.Status,
		"progress":   run.Progress,
		"message":    run.Message,
		"created_at": run.CreatedAt,
		"updated_at": run.UpdatedAt,
	}
	if run.ProgressInfo != nil {
		response["progress_info"] = run.ProgressInfo
	}
	if run.Summary != nil {
		response["summary"] = run.Summary
	}
	if run.Status == queue.RunStatusRetrying || run.RetryCount > 0 {
		retry := map[string]interface{}{
			"retry_count": run.RetryCount,
			"max_retries": run.MaxRetries,
			"last_error":  run.LastError,
		}
		if run.NextRetryAt > 0 {
			retry["next_retry_at"] = time.Unix(run.NextRetryAt, 0).UTC().Format(time.RFC3339)
		}
		response["retry_info"] = retry
	}
	if run.ExpiresAt > 0 {
		response["expires_at"] = time.Unix(run.ExpiresAt, 0).UTC().Format(time.RFC3339)
	}

	return c.JSON(Response{Success: true, Data: response})
}

// GetRunResult returns the per-scenario results of a finished run
// GET /uicheck/runs/:run_id/result
func (h *RunHandler) GetRunResult(c *fiber.Ctx) error {
	run, err := h.lookup(c)
	if err != nil {
		return err
	}
	if !run.Status.IsTerminal() {
		return fiber.NewError(fiber.StatusConflict, "Run not finished yet")
	}

	return c.JSON(Response{
		Success: true,
		Data: queue.RunResultResponse{
			RunID:   run.ID,
			Status:  run.Status,
			Summary: run.Summary,
			Results: run.Results,
			Error:   run.Error,
		},
	})
}

// CancelRun cancels a queued or running run
// POST /uicheck/runs/:run_id/cancel
func (h *RunHandler) CancelRun(c *fiber.Ctx) error {
	runID := c.Params("run_id")
	run, err := h.queue.CancelRun(runID)
	switch {
	case errors.Is(err, queue.ErrRunNotFound):
		return fiber.NewError(fiber.StatusNotFound, "Run not found")
	case err != nil:
		return fiber.NewError(fiber.StatusConflict, err.Error())
	}

	return c.JSON(Response{
		Success: true,
		Data: map[string]interface{}{
			"run_id": run.ID,
			"status": run.Status,
		},
	})
}

func statusEvent(run *queue.Run) queue.Event {
	return queue.Event{
		RunID:    run.ID,
		Status:   run.Status,
		Progress: run.Progress,
		Message:  run.Message,
	}
}

// subscribe opens an event subscription and then reads the run snapshot, so
// a change landing between the two is still delivered. For a finished run
// the subscription is dropped and the returned channel is nil.
func (h *RunHandler) subscribe(runID string) (*queue.Run, <-chan queue.Event, error) {
	events := h.queue.Subscribe(runID)
	run, err := h.queue.GetRun(runID)
	if err != nil {
		h.queue.Unsubscribe(runID, events)
		return nil, nil, err
	}
	if run.Status.IsTerminal() {
		h.queue.Unsubscribe(runID, events)
		return run, nil, nil
	}
	return run, events, nil
}

// StreamEvents streams run events via SSE
// GET /uicheck/runs/:run_id/events
func (h *RunHandler) StreamEvents(c *fiber.Ctx) error {
	runID := c.Params("run_id")
	if runID == "" {
		return fiber.NewError(fiber.StatusBadRequest, "Run ID is required")
	}
	run, events, err := h.subscribe(runID)
	if err != nil {
		return fiber.NewError(fiber.StatusNotFound, "Run not found")
	}

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("Transfer-Encoding", "chunked")

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		if events != nil {
			defer h.queue.Unsubscribe(run.ID, events)
		}

		if writeSSE(w, "status", statusEvent(run)) != nil || events == nil {
			return
		}

		for event := range events {
			name := "status"
			if event.Result != nil {
				name = "scenario"
			}
			if writeSSE(w, name, event) != nil || event.Terminal() {
				return
			}
		}
	})

	return nil
}

func writeSSE(w *bufio.Writer, name string, event queue.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data); err != nil {
		return err
	}
	return w.Flush()
}

// HandleWebSocket streams run events over a websocket.
// GET /uicheck/ws?run_id=
func (h *RunHandler) HandleWebSocket(c *websocket.Conn) {
	defer c.Close()

	runID := c.Query("run_id")
	if runID == "" {
		_ = c.WriteJSON(map[string]interface{}{"error": "run_id is required"})
		return
	}

	run, events, err := h.subscribe(runID)
	if err != nil {
		_ = c.WriteJSON(map[string]interface{}{"error": "run not found"})
		return
	}
	if events == nil {
		_ = c.WriteJSON(statusEvent(run))
		return
	}
	defer h.queue.Unsubscribe(runID, events)

	if err := c.WriteJSON(statusEvent(run)); err != nil {
		return
	}
	for event := range events {
		if err := c.WriteJSON(event); err != nil || event.Terminal() {
			return
		}
	}
}
