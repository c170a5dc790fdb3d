package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ahrdadan/uicheck/internal/config"
	"github.com/ahrdadan/uicheck/internal/report"
	"github.com/ahrdadan/uicheck/internal/runner"
	"github.com/ahrdadan/uicheck/internal/scenario"
)

func newRunCmd(a *app) *cobra.Command {
	def := config.DefaultConfig()

	cmd := &cobra.Command{
		Use:   "run <scenario-file>...",
		Short: "Run scenario files against a browser",
		Long: "Loads each scenario file, runs every scenario in a fresh browser context\n" +
			"and prints a report.\n\n" +
			"Exit code 0 if all scenarios pass, 1 if any fail or time out,\n" +
			"2 if the files, configuration or browser could not be set up.",
		Args: cobra.MinimumNArgs(1),
		RunE: a.runScenarios,
	}

	addRunFlags(cmd, def)
	addBrowserFlags(cmd, def)
	f := cmd.Flags()
	f.StringP("format", "f", def.Run.Format, "Report format (text|json|jsonl)")
	f.String("artifacts", def.Run.ArtifactsDir, "Directory for failure screenshots (empty disables them)")
	f.BoolP("watch", "w", def.Run.Watch, "Re-run when a scenario file changes")

	return cmd
}

func (a *app) runScenarios(cmd *cobra.Command, args []string) error {
	cfg, logger, err := a.loadConfig(cmd, "warn")
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	suites, err := scenario.LoadFiles(args)
	if err != nil {
		return harnessError(err)
	}
	if err := runner.CheckStartURLs(cfg.Run.BaseURL, suites); err != nil {
		return harnessError(err)
	}

	ctx := cmd.Context()
	engine, err := a.newEngine(ctx, cfg.EngineConfig(), logger)
	if err != nil {
		return harnessError(fmt.Errorf("failed to set up browser: %w", err))
	}
	if err := engine.Start(ctx); err != nil {
		return harnessError(fmt.Errorf("failed to start %s: %w", engine.Name(), err))
	}
	defer func() {
		if err := engine.Stop(); err != nil {
			logger.Warn("failed to stop browser", zap.Error(err))
		}
	}()

	r := runner.New(engine, cfg.RunnerOptions(), logger, nil)

	if cfg.Run.Watch {
		return a.watchLoop(ctx, r, args, cfg.Run.Format, suites, logger)
	}
	return a.runOnce(ctx, r, suites, cfg.Run.Format)
}

func (a *app) runOnce(ctx context.Context, r *runner.Runner, suites []*scenario.Suite, format string) error {
	results := r.RunSuites(ctx, suites, nil)
	if err := report.Write(a.out, format, results); err != nil {
		return harnessError(err)
	}
	if ctx.Err() != nil {
		return harnessError(errors.New("interrupted"))
	}
	if !runner.Summarize(results).AllPassed() {
		return &ExitError{Code: ExitFailed}
	}
	return nil
}
