// Package nats runs or connects to the NATS server backing the run queue.
package nats

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-rod/rod/lib/utils"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"
)

// Server manages a NATS connection and, when Embed is set, a local
// nats-server process with JetStream enabled.
type Server struct {
	cfg       ServerConfig
	binPath   string
	logger    *zap.Logger
	cmd       *exec.Cmd
	nc        *nats.Conn
	js        jetstream.JetStream
	mu        sync.Mutex
	isRunning bool
}

// ServerConfig holds configuration for the NATS server
type ServerConfig struct {
	BinPath  string
	StoreDir string
	URL      string
	AutoDL   bool
	// Embed spawns nats-server when nothing answers at URL.
	Embed bool
}

// NewServer creates a server manager, fetching the binary when it will be
// needed.
func NewServer(ctx context.Context, cfg ServerConfig, logger *zap.Logger) (*Server, error) {
	if _, _, err := parseNatsURL(cfg.URL); err != nil {
		return nil, err
	}

	s := &Server{cfg: cfg, logger: logger}
	if cfg.Embed && !isReachable(cfg.URL) {
		binPath, err := EnsureNATSBinary(ctx, cfg.BinPath, cfg.AutoDL, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to ensure NATS binary: %w", err)
		}
		s.binPath = binPath
	}
	return s, nil
}

// Start connects to NATS, spawning the server first if needed.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return nil
	}

	if isReachable(s.cfg.URL) {
		s.logger.Info("NATS server already running", zap.String("url", s.cfg.URL))
		if err := s.connect(); err != nil {
			return err
		}
		s.isRunning = true
		return nil
	}
	if !s.cfg.Embed {
		return fmt.Errorf("NATS server not reachable at %s", s.cfg.URL)
	}

	absStoreDir, err := filepath.Abs(s.cfg.StoreDir)
	if err != nil {
		return fmt.Errorf("failed to get absolute path for store dir: %w", err)
	}
	if err := os.MkdirAll(absStoreDir, 0o755); err != nil {
		return fmt.Errorf("failed to create store directory: %w", err)
	}

	host, port, err := parseNatsURL(s.cfg.URL)
	if err != nil {
		return err
	}

	// Not tied to ctx: the server outlives the startup call.
	s.cmd = exec.Command(s.binPath,
		"-js",
		"-sd", absStoreDir,
		"-a", host,
		"-p", port,
	)
	s.cmd.Stdout = os.Stderr
	s.cmd.Stderr = os.Stderr

	if err := s.cmd.Start(); err != nil {
		return fmt.Errorf("failed to start NATS server: %w", err)
	}

	if err := waitReachable(ctx, s.cfg.URL, 10*time.Second); err != nil {
		s.kill()
		return err
	}
	if err := s.connect(); err != nil {
		s.kill()
		return err
	}

	s.isRunning = true
	s.logger.Info("NATS server started with JetStream", zap.String("url", s.cfg.URL), zap.String("store", absStoreDir))
	return nil
}

// Stop closes the connection and stops a spawned server.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRunning {
		return nil
	}

	if s.nc != nil {
		s.nc.Close()
		s.nc = nil
	}
	s.kill()
	s.js = nil
	s.isRunning = false

	s.logger.Info("NATS server stopped")
	return nil
}

func (s *Server) kill() {
	if s.cmd == nil || s.cmd.Process == nil {
		return
	}
	if err := s.cmd.Process.Kill(); err != nil {
		s.logger.Warn("failed to kill NATS process", zap.Error(err))
	}
	_ = s.cmd.Wait()
	s.cmd = nil
}

// IsRunning returns true once Start succeeded
func (s *Server) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isRunning
}

// JetStream returns the JetStream context
func (s *Server) JetStream() jetstream.JetStream {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.js
}

func (s *Server) connect() error {
	nc, err := nats.Connect(s.cfg.URL,
		nats.Name("uicheck"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				s.logger.Warn("NATS disconnected", zap.Error(err))
			}
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	s.nc = nc
	s.js = js
	return nil
}

func waitReachable(ctx context.Context, natsURL string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	sleeper := utils.BackoffSleeper(100*time.Millisecond, time.Second, nil)
	err := utils.Retry(ctx, sleeper, func() (bool, error) {
		return isReachable(natsURL), nil
	})
	if err != nil {
		return fmt.Errorf("NATS server did not come up at %s: %w", natsURL, err)
	}
	return nil
}

func isReachable(natsURL string) bool {
	host, port, err := parseNatsURL(natsURL)
	if err != nil {
		return false
	}
	conn, err := net.DialTimeout("tcp", net.JoinHostPort(host, port), 2*time.Second)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

func parseNatsURL(natsURL string) (host, port string, err error) {
	u, err := url.Parse(natsURL)
	if err != nil || u.Host == "" {
		return "", "", fmt.Errorf("invalid NATS URL: %s", natsURL)
	}
	host, port = u.Hostname(), u.Port()
	if port == "" {
		port = "4222"
	}
	return host, port, nil
}
