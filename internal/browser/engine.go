package browser

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Engine names accepted by NewEngine.
const (
	EngineChrome     = "chrome"
	EngineLightpanda = "lightpanda"
	EngineRemote     = "remote"
)

// EngineConfig selects and configures a browser backend.
type EngineConfig struct {
	Name string

	// chrome
	ChromeBin      string
	ChromeRevision int
	DownloadChrome bool
	InstallDeps    bool
	Headless       bool

	// lightpanda
	LightpandaBin  string
	LightpandaHost string
	LightpandaPort int

	// remote
	RemoteURL string
}

// NewEngine builds the engine named by cfg.Name. Binaries that have to be
// fetched are resolved here so Start only launches.
func NewEngine(ctx context.Context, cfg EngineConfig, logger *zap.Logger) (Engine, error) {
	switch cfg.Name {
	case "", EngineChrome:
		bin := cfg.ChromeBin
		if bin == "" && cfg.DownloadChrome {
			path, err := InstallChrome(ctx, cfg.ChromeRevision, cfg.InstallDeps, logger)
			if err != nil {
				return nil, err
			}
			bin = path
		}
		return NewChromeManager(bin, cfg.Headless, logger), nil

	case EngineLightpanda:
		bin := cfg.LightpandaBin
		if bin == "" {
			path, err := EnsureLightpandaBinary(ctx, logger)
			if err != nil {
				return nil, err
			}
			bin = path
		}
		return NewLightpandaManager(bin, cfg.LightpandaHost, cfg.LightpandaPort, logger), nil

	case EngineRemote:
		if cfg.RemoteURL == "" {
			return nil, fmt.Errorf("engine %q requires --remote-url", EngineRemote)
		}
		return NewRemoteBrowser(cfg.RemoteURL, logger), nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEngine, cfg.Name)
	}
}
