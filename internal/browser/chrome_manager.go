package browser

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"go.uber.org/zap"
)

// ChromeManager manages a Chromium/Chrome instance launched by rod and hands
// out incognito pages on it.
type ChromeManager struct {
	binPath  string
	headless bool
	logger   *zap.Logger

	mu        sync.Mutex
	restartMu sync.Mutex
	launcher  *launcher.Launcher
	browser   *rod.Browser
	wsURL     string
	running   bool
}

// NewChromeManager creates a new Chrome manager. An empty binPath lets rod
// locate or download a browser.
func NewChromeManager(binPath string, headless bool, logger *zap.Logger) *ChromeManager {
	return &ChromeManager{
		binPath:  binPath,
		headless: headless,
		logger:   logger.With(zap.String("engine", EngineChrome)),
	}
}

func (m *ChromeManager) Name() string { return EngineChrome }

// Start launches Chrome and connects via CDP.
func (m *ChromeManager) Start(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return nil
	}

	l := launcher.New().Headless(m.headless)
	if m.binPath != "" {
		l = l.Bin(m.binPath)
	}

	wsURL, err := l.Launch()
	if err != nil {
		return fmt.Errorf("failed to launch chrome: %w", err)
	}

	browser := rod.New().ControlURL(wsURL)
	if err := browser.Connect(); err != nil {
		l.Kill()
		l.Cleanup()
		return fmt.Errorf("failed to connect to chrome: %w", err)
	}

	m.launcher = l
	m.browser = browser
	m.wsURL = wsURL
	m.running = true

	m.logger.Info("Chrome started", zap.String("endpoint", wsURL), zap.Bool("headless", m.headless))
	return nil
}

// Stop stops Chrome.
func (m *ChromeManager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return nil
	}

	if m.browser != nil {
		if err := m.browser.Close(); err != nil {
			m.logger.Warn("failed to close chrome", zap.Error(err))
		}
	}

	if m.launcher != nil {
		m.launcher.Kill()
		m.launcher.Cleanup()
	}

	m.launcher = nil
	m.browser = nil
	m.wsURL = ""
	m.running = false

	m.logger.Info("Chrome stopped")
	return nil
}

// IsRunning reports whether Chrome is running.
func (m *ChromeManager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// GetEndpoint returns the Chrome DevTools endpoint.
func (m *ChromeManager) GetEndpoint() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.wsURL
}

// NewPage opens a fresh incognito context, restarting Chrome once if the
// connection turns out to be dead.
func (m *ChromeManager) NewPage(ctx context.Context) (Page, error) {
	if err := m.ensureStarted(ctx); err != nil {
		return nil, fmt.Errorf("failed to start chrome: %w", err)
	}

	page, err := newRodPage(m.root(), m.logger)
	if err != nil {
		if !isConnectionError(err) {
			return nil, err
		}

		if restartErr := m.restartBrowser(ctx); restartErr != nil {
			return nil, fmt.Errorf("failed to restart chrome after connection error: %w", restartErr)
		}

		page, err = newRodPage(m.root(), m.logger)
		if err != nil {
			return nil, err
		}
	}

	return page, nil
}

func (m *ChromeManager) root() *rod.Browser {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.browser
}

func (m *ChromeManager) ensureStarted(ctx context.Context) error {
	if m.IsRunning() {
		return nil
	}

	m.restartMu.Lock()
	defer m.restartMu.Unlock()

	if m.IsRunning() {
		return nil
	}

	return m.Start(ctx)
}

func (m *ChromeManager) restartBrowser(ctx context.Context) error {
	m.restartMu.Lock()
	defer m.restartMu.Unlock()

	if err := m.Stop(); err != nil {
		m.logger.Warn("failed to stop chrome before restart", zap.Error(err))
	}

	return m.Start(ctx)
}
