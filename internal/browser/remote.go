package browser

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-rod/rod"
	"go.uber.org/zap"
)

// RemoteBrowser attaches to a browser that something else started, such as a
// browserless container or a Chrome launched with --remote-debugging-port.
// Stop only drops the connection.
type RemoteBrowser struct {
	endpoint string
	logger   *zap.Logger

	mu      sync.Mutex
	browser *rod.Browser
}

// NewRemoteBrowser creates an engine for the DevTools endpoint.
func NewRemoteBrowser(endpoint string, logger *zap.Logger) *RemoteBrowser {
	return &RemoteBrowser{
		endpoint: endpoint,
		logger:   logger.With(zap.String("engine", EngineRemote)),
	}
}

func (r *RemoteBrowser) Name() string { return EngineRemote }

func (r *RemoteBrowser) Start(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.browser != nil {
		return nil
	}
	if r.endpoint == "" {
		return fmt.Errorf("remote engine requires a devtools endpoint")
	}

	browser, err := connectCDP(r.endpoint)
	if err != nil {
		return err
	}
	r.browser = browser
	r.logger.Info("Connected to remote browser", zap.String("endpoint", r.endpoint))
	return nil
}

func (r *RemoteBrowser) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.browser == nil {
		return nil
	}
	// Browser.Close terminates the remote process, which is not ours to stop.
	r.browser = nil
	r.logger.Info("Disconnected from remote browser")
	return nil
}

func (r *RemoteBrowser) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.browser != nil
}

func (r *RemoteBrowser) GetEndpoint() string { return r.endpoint }

func (r *RemoteBrowser) NewPage(ctx context.Context) (Page, error) {
	if err := r.Start(ctx); err != nil {
		return nil, err
	}

	r.mu.Lock()
	browser := r.browser
	r.mu.Unlock()

	page, err := newRodPage(browser, r.logger)
	if err != nil && isConnectionError(err) {
		r.mu.Lock()
		r.browser = nil
		r.mu.Unlock()
		if err := r.Start(ctx); err != nil {
			return nil, err
		}
		r.mu.Lock()
		browser = r.browser
		r.mu.Unlock()
		return newRodPage(browser, r.logger)
	}
	return page, err
}
