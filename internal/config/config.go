// Package config holds uicheck settings and loads them from defaults, an
// optional config file, UICHECK_* environment variables and CLI flags.
package config

import (
	"fmt"
	"time"

	"github.com/ahrdadan/uicheck/internal/browser"
	"github.com/ahrdadan/uicheck/internal/report"
	"github.com/ahrdadan/uicheck/internal/runner"
)

const (
	// Version is the current version of uicheck
	Version = "0.3.0"
	// AppName is the application name
	AppName = "uicheck"
)

// Config holds all configuration options.
type Config struct {
	Run     RunConfig     `mapstructure:"run"`
	Browser BrowserConfig `mapstructure:"browser"`
	Serve   ServeConfig   `mapstructure:"serve"`
	Log     LogConfig     `mapstructure:"log"`
}

// RunConfig controls how scenarios are executed and reported.
type RunConfig struct {
	BaseURL             string `mapstructure:"base_url"`
	TimeoutMS           int    `mapstructure:"timeout_ms"`
	NavigationTimeoutMS int    `mapstructure:"navigation_timeout_ms"`
	ScenarioTimeoutMS   int    `mapstructure:"scenario_timeout_ms"`
	PollIntervalMS      int    `mapstructure:"poll_interval_ms"`
	Parallel            int    `mapstructure:"parallel"`
	Format              string `mapstructure:"format"`
	ArtifactsDir        string `mapstructure:"artifacts"`
	InterceptMode       string `mapstructure:"intercept_mode"`
	Watch               bool   `mapstructure:"watch"`
}

// BrowserConfig selects the browser engine.
type BrowserConfig struct {
	Engine         string `mapstructure:"engine"`
	Headless       bool   `mapstructure:"headless"`
	ChromeBin      string `mapstructure:"chrome_bin"`
	ChromeRevision int    `mapstructure:"chrome_revision"`
	DownloadChrome bool   `mapstructure:"download_chrome"`
	InstallDeps    bool   `mapstructure:"install_deps"`
	RemoteURL      string `mapstructure:"remote_url"`
	LightpandaBin  string `mapstructure:"lightpanda_bin"`
	LightpandaHost string `mapstructure:"lightpanda_host"`
	LightpandaPort int    `mapstructure:"lightpanda_port"`
}

// ServeConfig configures the HTTP API and its run queue.
type ServeConfig struct {
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	PublicURL string `mapstructure:"public_url"` // base URL for links in API responses

	NatsURL    string `mapstructure:"nats_url"`
	NatsStore  string `mapstructure:"nats_store"`
	NatsAutoDL bool   `mapstructure:"nats_autodl"`
	NatsBin    string `mapstructure:"nats_bin"`
	NatsEmbed  bool   `mapstructure:"nats_embed"` // spawn a local nats-server

	RateLimit      int           `mapstructure:"rate_limit"` // requests per minute per client
	IdempotencyTTL time.Duration `mapstructure:"idempotency_ttl"`
	ResultTTL      time.Duration `mapstructure:"result_ttl"`
	MaxRunTimeout  time.Duration `mapstructure:"max_run_timeout"`
	MaxRetries     int           `mapstructure:"max_retries"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	// Level defaults per command when empty: warn for run, info for serve.
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Run: RunConfig{
			TimeoutMS:           4000,
			NavigationTimeoutMS: 30000,
			PollIntervalMS:      50,
			Parallel:            1,
			Format:              report.FormatText,
			InterceptMode:       string(runner.CaptureOverwrite),
		},
		Browser: BrowserConfig{
			Engine:         browser.EngineChrome,
			Headless:       true,
			DownloadChrome: true,
			LightpandaHost: "127.0.0.1",
			LightpandaPort: 9222,
		},
		Serve: ServeConfig{
			Host:           "0.0.0.0",
			Port:           8000,
			NatsURL:        "nats://127.0.0.1:4222",
			NatsStore:      "./data/nats",
			NatsAutoDL:     true,
			NatsBin:        "./bin/nats-server",
			NatsEmbed:      true,
			RateLimit:      60,
			IdempotencyTTL: 24 * time.Hour,
			ResultTTL:      7 * 24 * time.Hour,
			MaxRunTimeout:  30 * time.Minute,
			MaxRetries:     3,
		},
		Log: LogConfig{
			Format: "console",
		},
	}
}

// Validate rejects unusable settings and clamps the ones with hard bounds.
func (c *Config) Validate() error {
	if c.Run.TimeoutMS < 0 {
		return fmt.Errorf("timeout must not be negative, got %d", c.Run.TimeoutMS)
	}
	if c.Run.NavigationTimeoutMS < 0 || c.Run.ScenarioTimeoutMS < 0 || c.Run.PollIntervalMS < 0 {
		return fmt.Errorf("timeouts must not be negative")
	}
	switch c.Run.Format {
	case report.FormatText, report.FormatJSON, report.FormatJSONL:
	default:
		return fmt.Errorf("unknown format %q (want text, json or jsonl)", c.Run.Format)
	}
	if _, err := runner.ParseCaptureMode(c.Run.InterceptMode); err != nil {
		return err
	}
	switch c.Browser.Engine {
	case browser.EngineChrome, browser.EngineLightpanda:
	case browser.EngineRemote:
		if c.Browser.RemoteURL == "" {
			return fmt.Errorf("engine %q requires remote_url", browser.EngineRemote)
		}
	default:
		return fmt.Errorf("%w: %q", browser.ErrUnknownEngine, c.Browser.Engine)
	}
	if c.Serve.Port < 1 || c.Serve.Port > 65535 {
		return fmt.Errorf("port out of range: %d", c.Serve.Port)
	}

	if c.Run.Parallel < 1 {
		c.Run.Parallel = 1
	}
	if c.Serve.MaxRetries < 1 {
		c.Serve.MaxRetries = 1
	}
	if c.Serve.MaxRetries > 10 {
		c.Serve.MaxRetries = 10
	}
	if c.Serve.RateLimit < 1 {
		c.Serve.RateLimit = 60
	}
	if c.Serve.PublicURL == "" {
		host := c.Serve.Host
		if host == "0.0.0.0" || host == "" {
			host = "localhost"
		}
		c.Serve.PublicURL = fmt.Sprintf("http://%s:%d", host, c.Serve.Port)
	}
	return nil
}

// RunnerOptions converts the run settings into runner.Options.
func (c *Config) RunnerOptions() runner.Options {
	timeout := ms(c.Run.TimeoutMS)
	return runner.Options{
		BaseURL:           c.Run.BaseURL,
		ActionTimeout:     timeout,
		AssertTimeout:     timeout,
		NavigationTimeout: ms(c.Run.NavigationTimeoutMS),
		ScenarioTimeout:   ms(c.Run.ScenarioTimeoutMS),
		PollInterval:      ms(c.Run.PollIntervalMS),
		InterceptMode:     runner.CaptureMode(c.Run.InterceptMode),
		Parallel:          c.Run.Parallel,
		ArtifactsDir:      c.Run.ArtifactsDir,
	}
}

// EngineConfig converts the browser settings into browser.EngineConfig.
func (c *Config) EngineConfig() browser.EngineConfig {
	return browser.EngineConfig{
		Name:           c.Browser.Engine,
		ChromeBin:      c.Browser.ChromeBin,
		ChromeRevision: c.Browser.ChromeRevision,
		DownloadChrome: c.Browser.DownloadChrome,
		InstallDeps:    c.Browser.InstallDeps,
		Headless:       c.Browser.Headless,
		LightpandaBin:  c.Browser.LightpandaBin,
		LightpandaHost: c.Browser.LightpandaHost,
		LightpandaPort: c.Browser.LightpandaPort,
		RemoteURL:      c.Browser.RemoteURL,
	}
}

// ListenAddr is the serve address in host:port form.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Serve.Host, c.Serve.Port)
}

func ms(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}
