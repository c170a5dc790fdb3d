// Package cli implements the uicheck command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ahrdadan/uicheck/internal/browser"
	"github.com/ahrdadan/uicheck/internal/config"
	"github.com/ahrdadan/uicheck/internal/logging"
)

// Exit codes.
const (
	ExitOK      = 0
	ExitFailed  = 1 // at least one scenario did not pass
	ExitHarness = 2 // setup, configuration or browser error
)

// ExitError carries a process exit code out of a command.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

func harnessError(err error) error {
	return &ExitError{Code: ExitHarness, Err: err}
}

// engineFactory builds browser engines; tests replace it.
type engineFactory func(ctx context.Context, cfg browser.EngineConfig, logger *zap.Logger) (browser.Engine, error)

type app struct {
	out        io.Writer
	errOut     io.Writer
	configPath string
	newEngine  engineFactory
}

// NewRootCmd builds the command tree writing reports to out and diagnostics
// to errOut.
func NewRootCmd(out, errOut io.Writer) *cobra.Command {
	return newRootCmd(&app{out: out, errOut: errOut, newEngine: browser.NewEngine})
}

func newRootCmd(a *app) *cobra.Command {
	def := config.DefaultConfig()

	root := &cobra.Command{
		Use:   "uicheck",
		Short: "Declarative browser scenario runner",
		Long: "uicheck drives a real browser through scenario files: it types, clicks,\n" +
			"intercepts network calls and polls assertions until they hold or time out.",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.SetOut(a.out)
	root.SetErr(a.errOut)

	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "Path to a YAML config file")
	pf.String("log-level", def.Log.Level, "Log level (debug|info|warn|error)")
	pf.String("log-format", def.Log.Format, "Log format (console|json)")

	root.AddCommand(
		newRunCmd(a),
		newServeCmd(a),
		newFixtureCmd(a),
		newVersionCmd(a),
	)
	return root
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return run(ctx, NewRootCmd(os.Stdout, os.Stderr), os.Args[1:], os.Stderr)
}

func run(ctx context.Context, root *cobra.Command, args []string, errOut io.Writer) int {
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if err == nil {
		return ExitOK
	}

	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		if exitErr.Err != nil {
			fmt.Fprintf(errOut, "Error: %v\n", exitErr.Err)
		}
		return exitErr.Code
	}
	fmt.Fprintf(errOut, "Error: %v\n", err)
	return ExitHarness
}

// loadConfig resolves the effective configuration for cmd and builds a
// logger. defaultLevel applies when no level was configured.
func (a *app) loadConfig(cmd *cobra.Command, defaultLevel string) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(a.configPath, cmd.Flags())
	if err != nil {
		return nil, nil, harnessError(err)
	}
	level := cfg.Log.Level
	if level == "" {
		level = defaultLevel
	}
	logger, err := logging.New(level, cfg.Log.Format)
	if err != nil {
		return nil, nil, harnessError(err)
	}
	return cfg, logger, nil
}

// addBrowserFlags registers the engine selection flags shared by run and serve.
func addBrowserFlags(cmd *cobra.Command, def *config.Config) {
	f := cmd.Flags()
	f.String("engine", def.Browser.Engine, "Browser engine (chrome|lightpanda|remote)")
	f.Bool("headless", def.Browser.Headless, "Run Chrome without a window")
	f.String("chrome-bin", def.Browser.ChromeBin, "Path to a Chrome/Chromium binary")
	f.Int("chrome-revision", def.Browser.ChromeRevision, "Chromium revision to download (0 uses rod's default)")
	f.Bool("download-chrome", def.Browser.DownloadChrome, "Download Chromium when no binary is given")
	f.Bool("install-deps", def.Browser.InstallDeps, "Install Chrome system libraries with the OS package manager")
	f.String("remote-url", def.Browser.RemoteURL, "CDP endpoint for the remote engine (ws://... or http://host:port)")
	f.String("lightpanda-bin", def.Browser.LightpandaBin, "Path to the lightpanda binary")
	f.String("browser-host", def.Browser.LightpandaHost, "Lightpanda CDP host")
	f.Int("browser-port", def.Browser.LightpandaPort, "Lightpanda CDP port")
}

// addRunFlags registers the execution flags shared by run and serve.
func addRunFlags(cmd *cobra.Command, def *config.Config) {
	f := cmd.Flags()
	f.String("base-url", def.Run.BaseURL, "Base URL that relative scenario URLs resolve against")
	f.Int("timeout", def.Run.TimeoutMS, "Action and assertion timeout in milliseconds")
	f.Int("navigation-timeout", def.Run.NavigationTimeoutMS, "Page load timeout in milliseconds")
	f.Int("scenario-timeout", def.Run.ScenarioTimeoutMS, "Whole-scenario timeout in milliseconds (0 = none)")
	f.Int("poll-interval", def.Run.PollIntervalMS, "Assertion poll interval in milliseconds")
	f.Int("parallel", def.Run.Parallel, "Scenarios run concurrently, each in its own browser context")
	f.String("intercept-mode", def.Run.InterceptMode, "Repeated matches of an alias: overwrite keeps the latest, queue keeps all in order")
}
