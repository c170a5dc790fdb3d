package browser

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/utils"
	"go.uber.org/zap"
)

// LightpandaManager runs a Lightpanda CDP server as a child process.
// Lightpanda serves one browser context at a time, so runs against it should
// keep parallelism at 1.
type LightpandaManager struct {
	host       string
	port       int
	binaryPath string
	logger     *zap.Logger

	mu        sync.Mutex
	restartMu sync.Mutex
	cmd       *exec.Cmd
	browser   *rod.Browser
	isRunning bool
}

// NewLightpandaManager creates a manager for the binary at binaryPath.
func NewLightpandaManager(binaryPath, host string, port int, logger *zap.Logger) *LightpandaManager {
	return &LightpandaManager{
		host:       host,
		port:       port,
		binaryPath: binaryPath,
		logger:     logger.With(zap.String("engine", EngineLightpanda)),
	}
}

func (m *LightpandaManager) Name() string { return EngineLightpanda }

// Start spawns the Lightpanda CDP server and connects to it.
func (m *LightpandaManager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.isRunning {
		return nil
	}

	if runtime.GOOS != "linux" {
		return fmt.Errorf("lightpanda only supports linux, current OS: %s", runtime.GOOS)
	}

	cmd := exec.Command(m.binaryPath, "serve", "--host", m.host, "--port", strconv.Itoa(m.port))
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start lightpanda: %w", err)
	}

	addr := net.JoinHostPort(m.host, strconv.Itoa(m.port))
	if err := waitForPort(ctx, addr, 10*time.Second); err != nil {
		m.killProcess(cmd)
		return fmt.Errorf("lightpanda did not open %s: %w", addr, err)
	}

	browser, err := connectCDP(m.GetEndpoint())
	if err != nil {
		m.killProcess(cmd)
		return err
	}

	m.cmd = cmd
	m.browser = browser
	m.isRunning = true

	m.logger.Info("Lightpanda started", zap.String("addr", addr))
	return nil
}

// Stop stops the Lightpanda process.
func (m *LightpandaManager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.isRunning {
		return nil
	}

	if m.browser != nil {
		if err := m.browser.Close(); err != nil {
			m.logger.Warn("failed to close lightpanda connection", zap.Error(err))
		}
	}
	if m.cmd != nil {
		m.killProcess(m.cmd)
	}

	m.browser = nil
	m.cmd = nil
	m.isRunning = false
	m.logger.Info("Lightpanda stopped")
	return nil
}

// IsRunning returns true if the browser is running.
func (m *LightpandaManager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.isRunning
}

// GetEndpoint returns the WebSocket endpoint URL.
func (m *LightpandaManager) GetEndpoint() string {
	return fmt.Sprintf("ws://%s", net.JoinHostPort(m.host, strconv.Itoa(m.port)))
}

// NewPage opens a fresh browser context on the Lightpanda server.
func (m *LightpandaManager) NewPage(ctx context.Context) (Page, error) {
	if err := m.ensureStarted(ctx); err != nil {
		return nil, fmt.Errorf("failed to start lightpanda: %w", err)
	}

	page, err := newRodPage(m.root(), m.logger)
	if err != nil {
		if !isConnectionError(err) {
			return nil, err
		}
		if restartErr := m.restart(ctx); restartErr != nil {
			return nil, fmt.Errorf("failed to restart lightpanda after connection error: %w", restartErr)
		}
		return newRodPage(m.root(), m.logger)
	}
	return page, nil
}

func (m *LightpandaManager) root() *rod.Browser {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.browser
}

func (m *LightpandaManager) ensureStarted(ctx context.Context) error {
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

func (m *LightpandaManager) restart(ctx context.Context) error {
	m.restartMu.Lock()
	defer m.restartMu.Unlock()

	if err := m.Stop(); err != nil {
		m.logger.Warn("failed to stop lightpanda before restart", zap.Error(err))
	}

	return m.Start(ctx)
}

func (m *LightpandaManager) killProcess(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	if err := cmd.Process.Kill(); err != nil {
		m.logger.Warn("failed to kill lightpanda process", zap.Error(err))
	}
	if err := cmd.Wait(); err != nil {
		m.logger.Debug("lightpanda process exited", zap.Error(err))
	}
}

// connectCDP resolves a ws:// or http:// DevTools address and connects to it.
func connectCDP(endpoint string) (*rod.Browser, error) {
	wsURL, err := launcher.ResolveURL(endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve devtools endpoint %s: %w", endpoint, err)
	}

	browser := rod.New().ControlURL(wsURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}
	return browser, nil
}

func waitForPort(ctx context.Context, addr string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	sleeper := utils.BackoffSleeper(50*time.Millisecond, 500*time.Millisecond, nil)
	return utils.Retry(ctx, sleeper, func() (bool, error) {
		conn, err := net.DialTimeout("tcp", addr, time.Second)
		if err != nil {
			return false, nil
		}
		_ = conn.Close()
		return true, nil
	})
}
