package queue

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/ahrdadan/uicheck/internal/runner"
)

const (
	// StreamName is the name of the JetStream stream
	StreamName = "UICHECK_RUNS"
	// SubjectName is the subject for run messages
	SubjectName = "uicheck.runs"
	// ConsumerName is the name of the durable consumer
	ConsumerName = "uicheck-worker"
)

// ErrNotCancelable is returned when canceling a run that already finished.
var ErrNotCancelable = errors.New("run cannot be canceled")

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	ResultTTL      time.Duration
	IdempotencyTTL time.Duration
	MaxRetries     int
	MaxRunTimeout  time.Duration
	// PublicURL prefixes links sent in webhooks.
	PublicURL string
	// Registerer receives the queue gauge; nil disables it.
	Registerer prometheus.Registerer
	Logger     *zap.Logger
}

// Manager owns the run queue: it publishes runs to JetStream, consumes them
// one at a time and tracks their state in the store.
type Manager struct {
	js       jetstream.JetStream
	store    *Store
	events   *EventHub
	stream   jetstream.Stream
	consumer jetstream.Consumer
	opts     ManagerOptions
	logger   *zap.Logger
	client   *http.Client
	queued   prometheus.Gauge

	mu        sync.Mutex
	isRunning bool
	running   map[string]context.CancelFunc
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewManager creates a manager and makes sure the stream and consumer exist.
func NewManager(js jetstream.JetStream, opts ManagerOptions) (*Manager, error) {
	m := newManager(js, opts)
	if err := m.setupStream(); err != nil {
		m.cancel()
		return nil, fmt.Errorf("failed to setup stream: %w", err)
	}
	return m, nil
}

func newManager(js jetstream.JetStream, opts ManagerOptions) *Manager {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.MaxRunTimeout <= 0 {
		opts.MaxRunTimeout = 30 * time.Minute
	}
	ctx, cancel := context.WithCancel(context.Background())

	m := &Manager{
		js:      js,
		store:   NewStore(opts.IdempotencyTTL, opts.Logger),
		events:  NewEventHub(),
		opts:    opts,
		logger:  opts.Logger,
		client:  &http.Client{Timeout: 30 * time.Second},
		running: make(map[string]context.CancelFunc),
		ctx:     ctx,
		cancel:  cancel,
	}
	if opts.Registerer != nil {
		m.queued = promauto.With(opts.Registerer).NewGauge(prometheus.GaugeOpts{
			Name: "uicheck_runs_queued",
			Help: "Runs accepted but not yet finished.",
		})
	}
	return m
}

// setupStream creates or updates the JetStream stream
func (m *Manager) setupStream() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stream, err := m.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Description: "uicheck run queue",
		Subjects:    []string{SubjectName},
		Retention:   jetstream.WorkQueuePolicy,
		MaxAge:      24 * time.Hour,
		Storage:     jetstream.FileStorage,
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}
	m.stream = stream

	consumer, err := m.js.CreateOrUpdateConsumer(ctx, StreamName, jetstream.ConsumerConfig{
		Name:          ConsumerName,
		Durable:       ConsumerName,
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverAllPolicy,
		MaxDeliver:    3,
		AckWait:       m.opts.MaxRunTimeout + time.Minute,
	})
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}
	m.consumer = consumer

	return nil
}

// Start starts consuming runs from the queue
func (m *Manager) Start(processor Processor) error {
	m.mu.Lock()
	if m.isRunning {
		m.mu.Unlock()
		return nil
	}
	m.isRunning = true
	m.mu.Unlock()

	m.logger.Info("Starting run queue worker")

	go func() {
		for {
			select {
			case <-m.ctx.Done():
				return
			default:
			}
			msgs, err := m.consumer.Fetch(1, jetstream.FetchMaxWait(5*time.Second))
			if err != nil {
				continue
			}
			for msg := range msgs.Messages() {
				m.processMessage(msg, processor)
			}
		}
	}()

	return nil
}

// Stop stops the worker and cancels the run in progress.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.isRunning {
		m.store.Stop()
		return
	}

	m.cancel()
	m.isRunning = false
	m.store.Stop()
	m.events.Close()
	m.logger.Info("Run queue worker stopped")
}

// Enqueue stores a run and publishes it.
func (m *Manager) Enqueue(run *Run) error {
	if err := m.store.Save(run); err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}

	if err := m.publish(run); err != nil {
		m.store.Delete(run.ID)
		return err
	}
	if m.queued != nil {
		m.queued.Inc()
	}

	m.events.Emit(run.ID, Event{
		RunID:   run.ID,
		Status:  run.Status,
		Message: "Run queued",
	})
	return nil
}

// EnqueueWithIdempotency returns the existing run when the idempotency key
// was seen before, otherwise enqueues run. The bool reports a duplicate.
func (m *Manager) EnqueueWithIdempotency(run *Run) (*Run, bool, error) {
	if run.IdempotencyKey != "" {
		if existing, ok := m.store.GetByIdempotencyKey(run.IdempotencyKey); ok {
			return existing, true, nil
		}
	}

	if err := m.Enqueue(run); err != nil {
		return nil, false, err
	}
	return run, false, nil
}

func (m *Manager) publish(run *Run) error {
	data, err := run.ToJSON()
	if err != nil {
		return fmt.Errorf("failed to serialize run: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := m.js.Publish(ctx, SubjectName, data); err != nil {
		return fmt.Errorf("failed to publish run: %w", err)
	}
	return nil
}

// GetRun retrieves a run by ID
func (m *Manager) GetRun(runID string) (*Run, error) {
	return m.store.Get(runID)
}

// CancelRun cancels a queued or running run.
func (m *Manager) CancelRun(runID string) (*Run, error) {
	run, err := m.store.Cancel(runID)
	if err != nil {
		return nil, err
	}
	m.events.Emit(run.ID, Event{
		RunID:    run.ID,
		Status:   run.Status,
		Progress: run.Progress,
		Message:  run.Message,
	})

	m.mu.Lock()
	if cancel, ok := m.running[runID]; ok {
		cancel()
	}
	m.mu.Unlock()

	return run, nil
}

// Subscribe subscribes to run events
func (m *Manager) Subscribe(runID string) <-chan Event {
	return m.events.Subscribe(runID)
}

// Unsubscribe unsubscribes from run events
func (m *Manager) Unsubscribe(runID string, ch <-chan Event) {
	m.events.Unsubscribe(runID, ch)
}

// Store returns the run store
func (m *Manager) Store() *Store {
	return m.store
}

// updateRun stores a worker-side change. It returns false once the run has
// been canceled, leaving the canceled record untouched.
func (m *Manager) updateRun(run *Run) bool {
	return m.emitUpdate(run, nil)
}

// emitUpdate is updateRun with the scenario result that caused the change.
func (m *Manager) emitUpdate(run *Run, res *runner.Result) bool {
	ok, err := m.store.UpdateActive(run)
	if err != nil {
		m.logger.Warn("Failed to update run", zap.String("run_id", run.ID), zap.Error(err))
		return false
	}
	if !ok {
		return false
	}
	m.events.Emit(run.ID, Event{
		RunID:    run.ID,
		Status:   run.Status,
		Progress: run.Progress,
		Message:  run.Message,
		Result:   res,
	})
	return true
}

func (m *Manager) processMessage(msg jetstream.Msg, processor Processor) {
	queued, err := FromJSON(msg.Data())
	if err != nil {
		m.logger.Error("Failed to unmarshal run", zap.Error(err))
		_ = msg.Term()
		return
	}

	switch m.handle(queued.ID, processor) {
	case ackRetry:
		run, err := m.store.Get(queued.ID)
		if err == nil {
			if pubErr := m.publish(run); pubErr != nil {
				m.logger.Error("Failed to re-enqueue run for retry", zap.String("run_id", run.ID), zap.Error(pubErr))
			}
		}
		_ = msg.Ack()
	case ackDelay:
		run, err := m.store.Get(queued.ID)
		if err != nil {
			_ = msg.Ack()
			return
		}
		_ = msg.NakWithDelay(time.Until(time.Unix(run.NextRetryAt, 0)))
	default:
		_ = msg.Ack()
	}
}

type ackAction int

const (
	ackDone ackAction = iota
	ackRetry
	ackDelay
)

// handle executes one run and records its outcome. It returns what to do
// with the queue message.
func (m *Manager) handle(runID string, processor Processor) ackAction {
	run, err := m.store.Get(runID)
	if err != nil {
		m.logger.Warn("Dropping run missing from store", zap.String("run_id", runID), zap.Error(err))
		return ackDone
	}

	if run.Status == RunStatusCanceled {
		m.finished(run)
		return ackDone
	}
	if run.Status == RunStatusRetrying && run.NextRetryAt > 0 && time.Now().Before(time.Unix(run.NextRetryAt, 0)) {
		return ackDelay
	}

	timeout := run.Timeout()
	if timeout > m.opts.MaxRunTimeout {
		timeout = m.opts.MaxRunTimeout
	}
	ctx, cancel := context.WithTimeout(m.ctx, timeout)
	defer cancel()

	m.mu.Lock()
	m.running[run.ID] = cancel
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.running, run.ID)
		m.mu.Unlock()
	}()

	run.SetStatus(RunStatusRunning)
	run.SetProgress(0, 0, "Run started")
	if !m.updateRun(run) {
		return m.canceled(run.ID)
	}
	logger := m.logger.With(zap.String("run_id", run.ID))
	logger.Info("Run started")

	results, err := processor.Process(ctx, run, func(done, total int, res *runner.Result) {
		run.SetProgress(done, total, fmt.Sprintf("[%d/%d] %s: %s", done, total, res.Scenario, res.Status))
		m.emitUpdate(run, res)
	})

	if err != nil {
		if !IsPermanent(err) && run.CanRetry() {
			run.PrepareRetry(err.Error())
			run.Message = fmt.Sprintf("Retrying (%d/%d): %s", run.RetryCount, run.MaxRetries, err)
			if !m.updateRun(run) {
				return m.canceled(run.ID)
			}
			logger.Warn("Run failed, retrying", zap.Int("attempt", run.RetryCount), zap.Error(err))
			return ackRetry
		}
		run.SetError(err.Error())
		if !m.updateRun(run) {
			return m.canceled(run.ID)
		}
		logger.Error("Run errored", zap.Error(err))
		m.finished(run)
		return ackDone
	}

	run.SetResults(results)
	if !m.updateRun(run) {
		return m.canceled(run.ID)
	}
	logger.Info("Run finished", zap.String("status", string(run.Status)))
	m.finished(run)
	return ackDone
}

func (m *Manager) canceled(runID string) ackAction {
	m.logger.Info("Run canceled", zap.String("run_id", runID))
	if run, err := m.store.Get(runID); err == nil {
		m.finished(run)
	}
	return ackDone
}

// finished releases the queue slot and notifies the webhook.
func (m *Manager) finished(run *Run) {
	if m.queued != nil {
		m.queued.Dec()
	}
	resultURL := fmt.Sprintf("%s/uicheck/runs/%s/result", m.opts.PublicURL, run.ID)
	go sendWebhook(context.Background(), m.client, run, resultURL, m.logger)
}
