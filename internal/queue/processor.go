package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ahrdadan/uicheck/internal/browser"
	"github.com/ahrdadan/uicheck/internal/runner"
	"github.com/ahrdadan/uicheck/internal/scenario"
)

// Processor executes one run. An error means the run could not be carried
// out at all; failing scenarios are reported through the results.
type Processor interface {
	Process(ctx context.Context, run *Run, progress ProgressFunc) ([]*runner.Result, error)
}

// ProgressFunc is called after each finished scenario.
type ProgressFunc func(done, total int, res *runner.Result)

// PermanentError marks a run failure that a retry cannot fix.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so the manager does not retry it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err was wrapped by Permanent.
func IsPermanent(err error) bool {
	var p *PermanentError
	return errors.As(err, &p)
}

// SuiteProcessor parses the submitted suite and runs it on a shared engine.
type SuiteProcessor struct {
	engine  browser.Engine
	base    runner.Options
	logger  *zap.Logger
	metrics *runner.Metrics

	startMu sync.Mutex
}

// NewSuiteProcessor creates a processor. base supplies defaults that a
// request may override. metrics may be nil.
func NewSuiteProcessor(engine browser.Engine, base runner.Options, logger *zap.Logger, metrics *runner.Metrics) *SuiteProcessor {
	return &SuiteProcessor{
		engine:  engine,
		base:    base,
		logger:  logger,
		metrics: metrics,
	}
}

// Process runs every scenario of the submitted suite.
func (p *SuiteProcessor) Process(ctx context.Context, run *Run, progress ProgressFunc) ([]*runner.Result, error) {
	req := run.Request

	suite, err := scenario.Parse([]byte(req.Suite))
	if err != nil {
		return nil, Permanent(fmt.Errorf("invalid suite: %w", err))
	}
	if suite.Name == "" {
		suite.Name = run.ID
	}

	opts, err := p.options(req)
	if err != nil {
		return nil, Permanent(err)
	}
	if err := runner.CheckStartURLs(opts.BaseURL, []*scenario.Suite{suite}); err != nil {
		return nil, Permanent(err)
	}

	if err := p.ensureEngine(ctx); err != nil {
		return nil, fmt.Errorf("browser not available: %w", err)
	}

	logger := p.logger.With(zap.String("run_id", run.ID))
	r := runner.New(p.engine, opts, logger, p.metrics)
	results := r.RunSuite(ctx, suite, func(done, total int, res *runner.Result) {
		if progress != nil {
			progress(done, total, res)
		}
	})
	return results, nil
}

func (p *SuiteProcessor) options(req RunRequest) (runner.Options, error) {
	opts := p.base
	if req.BaseURL != "" {
		opts.BaseURL = req.BaseURL
	}
	if req.TimeoutMS < 0 {
		return opts, fmt.Errorf("timeout_ms must not be negative")
	}
	if req.TimeoutMS > 0 {
		opts.ActionTimeout = time.Duration(req.TimeoutMS) * time.Millisecond
		opts.AssertTimeout = opts.ActionTimeout
	}
	if req.InterceptMode != "" {
		mode, err := runner.ParseCaptureMode(req.InterceptMode)
		if err != nil {
			return opts, err
		}
		opts.InterceptMode = mode
	}
	if req.Parallel > 0 {
		opts.Parallel = req.Parallel
	}
	// API runs keep no screenshots.
	opts.ArtifactsDir = ""
	return opts, nil
}

func (p *SuiteProcessor) ensureEngine(ctx context.Context) error {
	p.startMu.Lock()
	defer p.startMu.Unlock()

	if p.engine.IsRunning() {
		return nil
	}
	p.logger.Info("Starting browser engine", zap.String("engine", p.engine.Name()))
	return p.engine.Start(ctx)
}
