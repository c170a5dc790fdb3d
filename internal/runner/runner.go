// Package runner executes scenarios against browser sessions: it performs
// steps, polls assertions and collects intercepted network exchanges.
package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ahrdadan/uicheck/internal/browser"
	"github.com/ahrdadan/uicheck/internal/scenario"
)

// Options tunes a Runner. Zero durations fall back to DefaultOptions.
type Options struct {
	BaseURL           string
	ActionTimeout     time.Duration
	AssertTimeout     time.Duration
	NavigationTimeout time.Duration
	// ScenarioTimeout bounds a whole scenario; zero means unbounded.
	ScenarioTimeout time.Duration
	PollInterval    time.Duration
	InterceptMode   CaptureMode
	Parallel        int
	ArtifactsDir    string
}

// DefaultOptions returns the stock timeouts.
func DefaultOptions() Options {
	return Options{
		ActionTimeout:     4 * time.Second,
		AssertTimeout:     4 * time.Second,
		NavigationTimeout: 30 * time.Second,
		PollInterval:      50 * time.Millisecond,
		InterceptMode:     CaptureOverwrite,
		Parallel:          1,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.ActionTimeout <= 0 {
		o.ActionTimeout = d.ActionTimeout
	}
	if o.AssertTimeout <= 0 {
		o.AssertTimeout = d.AssertTimeout
	}
	if o.NavigationTimeout <= 0 {
		o.NavigationTimeout = d.NavigationTimeout
	}
	if o.PollInterval <= 0 {
		o.PollInterval = d.PollInterval
	}
	if o.InterceptMode == "" {
		o.InterceptMode = d.InterceptMode
	}
	if o.Parallel < 1 {
		o.Parallel = d.Parallel
	}
	return o
}

// Progress is called once per finished scenario. Calls are serialized.
type Progress func(done, total int, res *Result)

// Runner runs suites on pages handed out by an engine.
type Runner struct {
	engine   browser.Engine
	opts     Options
	logger   *zap.Logger
	metrics  *Metrics
	executor *Executor
	poller   *Poller
}

// New creates a runner. metrics may be nil.
func New(engine browser.Engine, opts Options, logger *zap.Logger, metrics *Metrics) *Runner {
	opts = opts.withDefaults()
	return &Runner{
		engine:  engine,
		opts:    opts,
		logger:  logger,
		metrics: metrics,
		executor: &Executor{
			BaseURL:           opts.BaseURL,
			ActionTimeout:     opts.ActionTimeout,
			NavigationTimeout: opts.NavigationTimeout,
			PollInterval:      opts.PollInterval,
		},
		poller: &Poller{Interval: opts.PollInterval, Metrics: metrics},
	}
}

// Options returns the effective options.
func (r *Runner) Options() Options { return r.opts }

type job struct {
	suite *scenario.Suite
	sc    scenario.Scenario
}

// RunSuite runs every scenario of one suite.
func (r *Runner) RunSuite(ctx context.Context, suite *scenario.Suite, progress Progress) []*Result {
	return r.RunSuites(ctx, []*scenario.Suite{suite}, progress)
}

// RunSuites runs all scenarios with up to Options.Parallel in flight. Each
// in-flight scenario holds its own page; a failure never stops siblings.
// Results keep the order of the input.
func (r *Runner) RunSuites(ctx context.Context, suites []*scenario.Suite, progress Progress) []*Result {
	var jobs []job
	for _, s := range suites {
		for _, sc := range s.Scenarios {
			jobs = append(jobs, job{suite: s, sc: sc})
		}
	}

	results := make([]*Result, len(jobs))
	pool := newSessionPool(r.engine, r.opts.NavigationTimeout)
	defer pool.close()

	var (
		mu   sync.Mutex
		done int
	)

	var g errgroup.Group
	g.SetLimit(r.opts.Parallel)
	for i, j := range jobs {
		g.Go(func() error {
			res := r.run(ctx, pool, j.suite, j.sc)
			results[i] = res

			mu.Lock()
			done++
			if progress != nil {
				progress(done, len(jobs), res)
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func (r *Runner) run(ctx context.Context, pool *sessionPool, suite *scenario.Suite, sc scenario.Scenario) *Result {
	res := &Result{
		ID:        uuid.NewString(),
		File:      suite.File,
		Suite:     suite.Name,
		Scenario:  sc.Name,
		Status:    StatusPending,
		StartedAt: time.Now(),
	}
	logger := r.logger.With(zap.String("suite", suite.Name), zap.String("scenario", sc.Name))

	if r.opts.ScenarioTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.ScenarioTimeout)
		defer cancel()
	}

	r.metrics.scenarioStarted()
	defer r.metrics.scenarioDone()
	res.Status = StatusRunning
	logger.Debug("scenario started")

	defer func() {
		res.Duration = time.Since(res.StartedAt)
		res.DurationMS = res.Duration.Milliseconds()
		r.metrics.observeScenario(res.Status)
		logger.Info("scenario finished",
			zap.String("status", string(res.Status)),
			zap.Duration("duration", res.Duration))
	}()

	start, err := ResolveURL(r.opts.BaseURL, suite.StartURL(sc))
	if err != nil {
		r.fail(ctx, res, nil, 0, "open "+suite.StartURL(sc), nil, err)
		return res
	}

	page, err := pool.acquire(ctx, start)
	if err != nil {
		r.fail(ctx, res, nil, 0, "open "+start, nil, err)
		return res
	}
	defer pool.release(page)

	sess := &Session{Page: page, Network: NewInterceptor(r.opts.InterceptMode)}
	stop := page.OnExchange(sess.Network.Observe)
	defer stop()

	for i, entry := range sc.Entries {
		began := time.Now()
		err := r.execute(ctx, sess, entry)
		r.metrics.observeStep(entryKind(entry), time.Since(began))
		if err != nil {
			r.fail(ctx, res, page, i+1, entry.String(), entry.Assertion, err)
			logger.Info("step failed", zap.Int("step", i+1), zap.String("entry", entry.String()), zap.Error(err))
			return res
		}
		logger.Debug("step passed", zap.Int("step", i+1), zap.String("entry", entry.String()))
	}

	res.Status = StatusPassed
	return res
}

func (r *Runner) execute(ctx context.Context, s *Session, entry scenario.Entry) error {
	switch {
	case entry.Step != nil:
		return r.executor.Perform(ctx, s.Page, *entry.Step)

	case entry.Intercept != nil:
		rule := *entry.Intercept
		s.Network.Register(rule)
		if rule.Stub == nil {
			return nil
		}
		return s.Page.Stub(ctx, browser.Stub{
			Method:      rule.Method,
			Path:        rule.Path,
			Status:      rule.Stub.Status,
			Body:        rule.Stub.Body,
			ContentType: rule.Stub.ContentType,
		})

	case entry.Assertion != nil:
		timeout := entry.Assertion.Timeout
		if timeout <= 0 {
			timeout = r.opts.AssertTimeout
		}
		return r.poller.Check(ctx, s, *entry.Assertion, timeout)

	default:
		return fmt.Errorf("empty entry")
	}
}

func (r *Runner) fail(ctx context.Context, res *Result, page browser.Page, step int, desc string, a *scenario.Assertion, err error) {
	res.Status = classify(ctx, err)
	res.FailedStep = &step
	res.Entry = desc
	res.Error = err.Error()

	var failure *AssertionFailure
	switch {
	case errors.As(err, &failure):
		res.Assertion = failure.Assertion.String()
		res.LastObserved = failure.LastObserved
	case a != nil:
		res.Assertion = a.String()
	}

	if page != nil && r.opts.ArtifactsDir != "" {
		path, shotErr := r.saveScreenshot(page, res)
		if shotErr != nil {
			r.logger.Warn("failed to save failure screenshot", zap.String("scenario", res.Scenario), zap.Error(shotErr))
			return
		}
		res.Screenshot = path
	}
}

// classify maps a step error to a terminal status. Network waits and an
// exhausted scenario budget time out; everything else fails.
func classify(ctx context.Context, err error) Status {
	var timeout *TimeoutError
	if errors.As(err, &timeout) {
		return StatusTimedOut
	}
	var failure *AssertionFailure
	if errors.As(err, &failure) {
		return StatusFailed
	}
	if ctx.Err() != nil {
		return StatusTimedOut
	}
	return StatusFailed
}

var unsafeFileChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

func (r *Runner) saveScreenshot(page browser.Page, res *Result) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	data, err := page.Screenshot(ctx)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(r.opts.ArtifactsDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create artifacts directory: %w", err)
	}

	name := fmt.Sprintf("%s-%s-%s.png", res.Suite, res.Scenario, res.ID[:8])
	name = strings.Trim(unsafeFileChars.ReplaceAllString(name, "_"), "_")
	path := filepath.Join(r.opts.ArtifactsDir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write screenshot: %w", err)
	}
	return path, nil
}

func entryKind(e scenario.Entry) string {
	switch {
	case e.Step != nil:
		return string(e.Step.Kind)
	case e.Intercept != nil:
		return "intercept"
	case e.Assertion != nil:
		return string(e.Assertion.Kind)
	default:
		return "unknown"
	}
}
