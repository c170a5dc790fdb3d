package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ahrdadan/uicheck/internal/browser"
	"github.com/ahrdadan/uicheck/internal/runner"
)

const loginSuite = `
name: login
url: http://127.0.0.1:1/
scenarios:
  - name: form
    steps:
      - expect: {visible: {selector: "#email"}}
  - name: error
    steps:
      - click: {selector: "button[name=login]"}
`

// stubEngine hands out no pages; every scenario fails while opening.
type stubEngine struct {
	mu       sync.Mutex
	running  bool
	startErr error
	starts   int
}

func (e *stubEngine) Name() string { return "stub" }

func (e *stubEngine) Start(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.starts++
	if e.startErr != nil {
		return e.startErr
	}
	e.running = true
	return nil
}

func (e *stubEngine) Stop() error { return nil }

func (e *stubEngine) IsRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

func (e *stubEngine) GetEndpoint() string { return "" }

func (e *stubEngine) NewPage(context.Context) (browser.Page, error) {
	return nil, &browser.NavigationError{URL: "http://127.0.0.1:1/", Err: errors.New("connection refused")}
}

// processorFunc adapts a function to Processor.
type processorFunc func(ctx context.Context, run *Run, progress ProgressFunc) ([]*runner.Result, error)

func (f processorFunc) Process(ctx context.Context, run *Run, progress ProgressFunc) ([]*runner.Result, error) {
	return f(ctx, run, progress)
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m := newManager(nil, ManagerOptions{
		MaxRunTimeout: time.Minute,
		Registerer:    prometheus.NewRegistry(),
		Logger:        zaptest.NewLogger(t),
	})
	t.Cleanup(m.Stop)
	return m
}

func saveRun(t *testing.T, m *Manager, req RunRequest) *Run {
	t.Helper()
	run := NewRun(req, time.Hour)
	require.NoError(t, m.store.Save(run))
	m.queued.Inc()
	return run
}

func TestRunLifecycle(t *testing.T) {
	run := NewRun(RunRequest{Suite: loginSuite}, 0)
	assert.Equal(t, RunStatusQueued, run.Status)
	assert.Equal(t, DefaultMaxRetries, run.MaxRetries)
	assert.Contains(t, run.ID, "run_")

	run.SetStatus(RunStatusRunning)
	assert.NotZero(t, run.StartedAt)
	run.SetProgress(1, 4, "one done")
	assert.Equal(t, 25, run.Progress)

	run.SetResults([]*runner.Result{{Status: runner.StatusPassed}, {Status: runner.StatusTimedOut}})
	assert.Equal(t, RunStatusFailed, run.Status)
	assert.Equal(t, 1, run.Summary.TimedOut)
	assert.True(t, run.Status.IsTerminal())
	assert.NotZero(t, run.CompletedAt)
}

func TestPrepareRetryBacksOff(t *testing.T) {
	run := NewRun(RunRequest{}, 0)
	run.PrepareRetry("boom")
	first := run.NextRetryAt
	run.PrepareRetry("boom")

	assert.Equal(t, 2, run.RetryCount)
	assert.Equal(t, RunStatusRetrying, run.Status)
	assert.Greater(t, run.NextRetryAt, first)
	assert.Equal(t, "boom", run.LastError)
}

func TestStoreIdempotencyAndClones(t *testing.T) {
	s := NewStore(time.Hour, zaptest.NewLogger(t))
	defer s.Stop()

	run := NewRun(RunRequest{IdempotencyKey: "k1"}, time.Hour)
	require.NoError(t, s.Save(run))

	got, ok := s.GetByIdempotencyKey("k1")
	require.True(t, ok)
	assert.Equal(t, run.ID, got.ID)

	got.Status = RunStatusPassed
	stored, err := s.Get(run.ID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusQueued, stored.Status, "callers get copies")

	_, err = s.Get("run_missing")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestStoreExpiry(t *testing.T) {
	s := NewStore(time.Hour, zaptest.NewLogger(t))
	defer s.Stop()

	run := NewRun(RunRequest{}, time.Hour)
	run.ExpiresAt = time.Now().Add(-time.Minute).Unix()
	require.NoError(t, s.Save(run))

	_, err := s.Get(run.ID)
	assert.ErrorIs(t, err, ErrRunNotFound)
	assert.Equal(t, 1, s.cleanupExpired())
	assert.Empty(t, s.List())
}

func TestStoreCancelBlocksWorkerUpdates(t *testing.T) {
	s := NewStore(time.Hour, zaptest.NewLogger(t))
	defer s.Stop()

	run := NewRun(RunRequest{}, time.Hour)
	require.NoError(t, s.Save(run))

	_, err := s.Cancel(run.ID)
	require.NoError(t, err)

	run.SetStatus(RunStatusRunning)
	ok, err := s.UpdateActive(run)
	require.NoError(t, err)
	assert.False(t, ok)

	stored, _ := s.Get(run.ID)
	assert.Equal(t, RunStatusCanceled, stored.Status)

	_, err = s.Cancel(run.ID)
	assert.ErrorIs(t, err, ErrNotCancelable)
}

func TestEventHub(t *testing.T) {
	h := NewEventHub()
	ch := h.Subscribe("run_1")
	h.Emit("run_1", Event{RunID: "run_1", Status: RunStatusRunning})
	h.Emit("run_2", Event{RunID: "run_2"})

	ev := <-ch
	assert.Equal(t, RunStatusRunning, ev.Status)

	h.Unsubscribe("run_1", ch)
	_, open := <-ch
	assert.False(t, open)
	assert.Zero(t, h.listeners("run_1"))
}

func TestEventHubDropsWhenFull(t *testing.T) {
	h := NewEventHub()
	ch := h.Subscribe("run_1")
	for i := 0; i < eventBuffer+5; i++ {
		h.Emit("run_1", Event{RunID: "run_1", Progress: i})
	}
	assert.Len(t, ch, eventBuffer)
}

func TestEventHubClose(t *testing.T) {
	h := NewEventHub()
	a := h.Subscribe("run_1")
	b := h.Subscribe("run_1")
	assert.Equal(t, 2, h.listeners("run_1"))

	h.Close()
	for _, ch := range []<-chan Event{a, b} {
		_, open := <-ch
		assert.False(t, open)
	}

	// Subscribers arriving after shutdown must not wait forever.
	late := h.Subscribe("run_1")
	_, open := <-late
	assert.False(t, open)
	h.Unsubscribe("run_1", late)
}

func TestEventTerminal(t *testing.T) {
	assert.True(t, Event{Status: RunStatusPassed}.Terminal())
	assert.False(t, Event{Status: RunStatusRunning}.Terminal())
	assert.False(t, Event{Status: RunStatusPassed, Result: &runner.Result{}}.Terminal())
}

func TestHandleRecordsResults(t *testing.T) {
	m := newTestManager(t)
	run := saveRun(t, m, RunRequest{Suite: loginSuite})
	events := m.Subscribe(run.ID)

	proc := processorFunc(func(ctx context.Context, r *Run, progress ProgressFunc) ([]*runner.Result, error) {
		res := &runner.Result{Scenario: "form", Status: runner.StatusPassed}
		progress(1, 1, res)
		return []*runner.Result{res}, nil
	})

	assert.Equal(t, ackDone, m.handle(run.ID, proc))

	got, err := m.GetRun(run.ID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusPassed, got.Status)
	require.Len(t, got.Results, 1)
	assert.Equal(t, 1, got.Summary.Passed)
	assert.Zero(t, testutil.ToFloat64(m.queued))

	var sawResult bool
	for len(events) > 0 {
		if ev := <-events; ev.Result != nil {
			sawResult = true
			assert.Equal(t, "form", ev.Result.Scenario)
		}
	}
	assert.True(t, sawResult)
}

func TestHandleRetriesHarnessErrors(t *testing.T) {
	m := newTestManager(t)
	run := saveRun(t, m, RunRequest{Suite: loginSuite})

	proc := processorFunc(func(context.Context, *Run, ProgressFunc) ([]*runner.Result, error) {
		return nil, errors.New("browser crashed")
	})
	assert.Equal(t, ackRetry, m.handle(run.ID, proc))

	got, _ := m.GetRun(run.ID)
	assert.Equal(t, RunStatusRetrying, got.Status)
	assert.Equal(t, 1, got.RetryCount)

	assert.Equal(t, ackDelay, m.handle(run.ID, proc), "retry waits for its backoff")
}

func TestHandleDoesNotRetryPermanentErrors(t *testing.T) {
	m := newTestManager(t)
	run := saveRun(t, m, RunRequest{Suite: "nope"})

	proc := processorFunc(func(context.Context, *Run, ProgressFunc) ([]*runner.Result, error) {
		return nil, Permanent(errors.New("invalid suite"))
	})
	assert.Equal(t, ackDone, m.handle(run.ID, proc))

	got, _ := m.GetRun(run.ID)
	assert.Equal(t, RunStatusErrored, got.Status)
	assert.Equal(t, "invalid suite", got.Error)
}

func TestCancelStopsRunningRun(t *testing.T) {
	m := newTestManager(t)
	run := saveRun(t, m, RunRequest{Suite: loginSuite})

	started := make(chan struct{})
	proc := processorFunc(func(ctx context.Context, r *Run, progress ProgressFunc) ([]*runner.Result, error) {
		close(started)
		<-ctx.Done()
		res := &runner.Result{Scenario: "form", Status: runner.StatusTimedOut}
		progress(1, 1, res)
		return []*runner.Result{res}, nil
	})

	done := make(chan ackAction)
	go func() { done <- m.handle(run.ID, proc) }()

	<-started
	_, err := m.CancelRun(run.ID)
	require.NoError(t, err)

	select {
	case action := <-done:
		assert.Equal(t, ackDone, action)
	case <-time.After(5 * time.Second):
		t.Fatal("run was not canceled")
	}

	got, _ := m.GetRun(run.ID)
	assert.Equal(t, RunStatusCanceled, got.Status)
	assert.Empty(t, got.Results)
}

func TestSuiteProcessor(t *testing.T) {
	logger := zaptest.NewLogger(t)

	t.Run("invalid suite is permanent", func(t *testing.T) {
		p := NewSuiteProcessor(&stubEngine{}, runner.DefaultOptions(), logger, nil)
		_, err := p.Process(context.Background(), NewRun(RunRequest{Suite: "scenarios: []"}, 0), nil)
		require.Error(t, err)
		assert.True(t, IsPermanent(err))
	})

	t.Run("bad intercept mode is permanent", func(t *testing.T) {
		p := NewSuiteProcessor(&stubEngine{}, runner.DefaultOptions(), logger, nil)
		_, err := p.Process(context.Background(), NewRun(RunRequest{Suite: loginSuite, InterceptMode: "fifo"}, 0), nil)
		assert.True(t, IsPermanent(err))
	})

	t.Run("relative url without base url is permanent", func(t *testing.T) {
		engine := &stubEngine{}
		p := NewSuiteProcessor(engine, runner.DefaultOptions(), logger, nil)
		suite := "name: rel\nurl: /\nscenarios:\n  - name: form\n    steps:\n      - expect: {url_contains: x}\n"
		_, err := p.Process(context.Background(), NewRun(RunRequest{Suite: suite}, 0), nil)
		require.ErrorIs(t, err, runner.ErrNoBaseURL)
		assert.True(t, IsPermanent(err))
		assert.Zero(t, engine.starts)

		_, err = p.Process(context.Background(), NewRun(RunRequest{Suite: suite, BaseURL: "http://127.0.0.1:1"}, 0), nil)
		assert.NoError(t, err)
	})

	t.Run("engine start failure is retryable", func(t *testing.T) {
		engine := &stubEngine{startErr: errors.New("no chrome")}
		p := NewSuiteProcessor(engine, runner.DefaultOptions(), logger, nil)
		_, err := p.Process(context.Background(), NewRun(RunRequest{Suite: loginSuite}, 0), nil)
		require.Error(t, err)
		assert.False(t, IsPermanent(err))
	})

	t.Run("scenario failures are results", func(t *testing.T) {
		engine := &stubEngine{}
		p := NewSuiteProcessor(engine, runner.DefaultOptions(), logger, nil)

		var calls int
		results, err := p.Process(context.Background(), NewRun(RunRequest{Suite: loginSuite}, 0),
			func(done, total int, res *runner.Result) {
				calls++
				assert.Equal(t, 2, total)
			})
		require.NoError(t, err)
		require.Len(t, results, 2)
		assert.Equal(t, 2, calls)
		assert.Equal(t, 1, engine.starts)
		for _, res := range results {
			assert.Equal(t, runner.StatusFailed, res.Status)
			require.NotNil(t, res.FailedStep)
			assert.Equal(t, 0, *res.FailedStep)
		}
	})
}
