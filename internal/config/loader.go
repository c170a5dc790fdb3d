package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. UICHECK_RUN_BASE_URL.
const EnvPrefix = "UICHECK"

// flagKeys maps CLI flag names to config keys. Only flags present in the
// FlagSet handed to Load are bound.
var flagKeys = map[string]string{
	"base-url":           "run.base_url",
	"timeout":            "run.timeout_ms",
	"navigation-timeout": "run.navigation_timeout_ms",
	"scenario-timeout":   "run.scenario_timeout_ms",
	"poll-interval":      "run.poll_interval_ms",
	"parallel":           "run.parallel",
	"format":             "run.format",
	"artifacts":          "run.artifacts",
	"intercept-mode":     "run.intercept_mode",
	"watch":              "run.watch",

	"engine":          "browser.engine",
	"headless":        "browser.headless",
	"chrome-bin":      "browser.chrome_bin",
	"chrome-revision": "browser.chrome_revision",
	"download-chrome": "browser.download_chrome",
	"install-deps":    "browser.install_deps",
	"remote-url":      "browser.remote_url",
	"lightpanda-bin":  "browser.lightpanda_bin",
	"browser-host":    "browser.lightpanda_host",
	"browser-port":    "browser.lightpanda_port",

	"host":        "serve.host",
	"port":        "serve.port",
	"public-url":  "serve.public_url",
	"nats-url":    "serve.nats_url",
	"nats-store":  "serve.nats_store",
	"nats-autodl": "serve.nats_autodl",
	"nats-bin":    "serve.nats_bin",
	"nats-embed":  "serve.nats_embed",
	"rate-limit":  "serve.rate_limit",
	"max-retries": "serve.max_retries",

	"log-level":  "log.level",
	"log-format": "log.format",
}

// Load returns the effective configuration after applying precedence:
// defaults < config file < env (UICHECK_*) < flags.
// path may be empty; flags may be nil.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		if err := mergeConfigFile(v, path); err != nil {
			return nil, err
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		if err := bindFlags(v, flags); err != nil {
			return nil, err
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	def := DefaultConfig()

	v.SetDefault("run.base_url", def.Run.BaseURL)
	v.SetDefault("run.timeout_ms", def.Run.TimeoutMS)
	v.SetDefault("run.navigation_timeout_ms", def.Run.NavigationTimeoutMS)
	v.SetDefault("run.scenario_timeout_ms", def.Run.ScenarioTimeoutMS)
	v.SetDefault("run.poll_interval_ms", def.Run.PollIntervalMS)
	v.SetDefault("run.parallel", def.Run.Parallel)
	v.SetDefault("run.format", def.Run.Format)
	v.SetDefault("run.artifacts", def.Run.ArtifactsDir)
	v.SetDefault("run.intercept_mode", def.Run.InterceptMode)
	v.SetDefault("run.watch", def.Run.Watch)

	v.SetDefault("browser.engine", def.Browser.Engine)
	v.SetDefault("browser.headless", def.Browser.Headless)
	v.SetDefault("browser.chrome_bin", def.Browser.ChromeBin)
	v.SetDefault("browser.chrome_revision", def.Browser.ChromeRevision)
	v.SetDefault("browser.download_chrome", def.Browser.DownloadChrome)
	v.SetDefault("browser.install_deps", def.Browser.InstallDeps)
	v.SetDefault("browser.remote_url", def.Browser.RemoteURL)
	v.SetDefault("browser.lightpanda_bin", def.Browser.LightpandaBin)
	v.SetDefault("browser.lightpanda_host", def.Browser.LightpandaHost)
	v.SetDefault("browser.lightpanda_port", def.Browser.LightpandaPort)

	v.SetDefault("serve.host", def.Serve.Host)
	v.SetDefault("serve.port", def.Serve.Port)
	v.SetDefault("serve.public_url", def.Serve.PublicURL)
	v.SetDefault("serve.nats_url", def.Serve.NatsURL)
	v.SetDefault("serve.nats_store", def.Serve.NatsStore)
	v.SetDefault("serve.nats_autodl", def.Serve.NatsAutoDL)
	v.SetDefault("serve.nats_bin", def.Serve.NatsBin)
	v.SetDefault("serve.nats_embed", def.Serve.NatsEmbed)
	v.SetDefault("serve.rate_limit", def.Serve.RateLimit)
	v.SetDefault("serve.idempotency_ttl", def.Serve.IdempotencyTTL)
	v.SetDefault("serve.result_ttl", def.Serve.ResultTTL)
	v.SetDefault("serve.max_run_timeout", def.Serve.MaxRunTimeout)
	v.SetDefault("serve.max_retries", def.Serve.MaxRetries)

	v.SetDefault("log.level", def.Log.Level)
	v.SetDefault("log.format", def.Log.Format)
}

func mergeConfigFile(v *viper.Viper, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("config file %s does not exist", path)
		}
		return fmt.Errorf("stat config %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("config path %s is a directory", path)
	}
	v.SetConfigFile(path)
	if err := v.MergeInConfig(); err != nil {
		return fmt.Errorf("merge config %s: %w", path, err)
	}
	return nil
}

// bindFlags binds known flags so that a flag set on the command line wins
// over every other source. Flags left at their defaults do not override
// the file or environment.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	var err error
	flags.VisitAll(func(f *pflag.Flag) {
		key, ok := flagKeys[f.Name]
		if !ok || !f.Changed || err != nil {
			return
		}
		err = v.BindPFlag(key, f)
	})
	if err != nil {
		return fmt.Errorf("bind flags: %w", err)
	}
	return nil
}
