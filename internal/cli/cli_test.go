package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ahrdadan/uicheck/internal/browser"
	"github.com/ahrdadan/uicheck/internal/config"
)

const suiteYAML = `name: smoke
url: /
scenarios:
  - name: heading is shown
    steps:
      - expect: {visible: {selector: h1}}
  - name: link is shown
    steps:
      - expect: {visible: {selector: a}}
`

// brokenEngine starts but cannot open pages, so every scenario fails at the
// start URL.
type brokenEngine struct {
	startErr error
	stopped  atomic.Bool
}

func (e *brokenEngine) Name() string                    { return "broken" }
func (e *brokenEngine) Start(ctx context.Context) error { return e.startErr }
func (e *brokenEngine) Stop() error                     { e.stopped.Store(true); return nil }
func (e *brokenEngine) IsRunning() bool                 { return e.startErr == nil }
func (e *brokenEngine) GetEndpoint() string             { return "" }
func (e *brokenEngine) NewPage(ctx context.Context) (browser.Page, error) {
	return nil, errors.New("no pages here")
}

func execute(t *testing.T, engine browser.Engine, args ...string) (int, string, string) {
	t.Helper()
	var out, errOut bytes.Buffer
	a := &app{
		out:    &out,
		errOut: &errOut,
		newEngine: func(ctx context.Context, cfg browser.EngineConfig, logger *zap.Logger) (browser.Engine, error) {
			if engine == nil {
				return nil, browser.ErrUnknownEngine
			}
			return engine, nil
		},
	}
	code := run(context.Background(), newRootCmd(a), args, &errOut)
	return code, out.String(), errOut.String()
}

func writeSuite(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "smoke.yaml")
	require.NoError(t, os.WriteFile(path, []byte(suiteYAML), 0o644))
	return path
}

func TestVersion(t *testing.T) {
	code, out, _ := execute(t, nil, "version")
	require.Equal(t, ExitOK, code)

	var info map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, config.AppName, info["name"])
	assert.Equal(t, config.Version, info["version"])
}

func TestRunMissingFile(t *testing.T) {
	code, out, errOut := execute(t, &brokenEngine{}, "run", filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Equal(t, ExitHarness, code)
	assert.Empty(t, out)
	assert.Contains(t, errOut, "Error:")
}

func TestRunRequiresArgs(t *testing.T) {
	code, _, _ := execute(t, &brokenEngine{}, "run")
	assert.Equal(t, ExitHarness, code)
}

func TestRunUnknownFlag(t *testing.T) {
	code, _, errOut := execute(t, &brokenEngine{}, "run", "--no-such-flag", "x.yaml")
	assert.Equal(t, ExitHarness, code)
	assert.Contains(t, errOut, "no-such-flag")
}

func TestRunBadConfigValue(t *testing.T) {
	code, _, errOut := execute(t, &brokenEngine{}, "run", "--format", "xml", writeSuite(t))
	assert.Equal(t, ExitHarness, code)
	assert.Contains(t, errOut, "format")
}

func TestRunRelativeURLWithoutBase(t *testing.T) {
	engine := &brokenEngine{}
	code, out, errOut := execute(t, engine, "run", writeSuite(t))

	assert.Equal(t, ExitHarness, code)
	assert.Empty(t, out)
	assert.Contains(t, errOut, "--base-url")
	assert.False(t, engine.stopped.Load(), "browser must not start")
}

func TestRunEngineSetupFails(t *testing.T) {
	code, _, _ := execute(t, nil, "run", "--base-url", "http://fixture.test", writeSuite(t))
	assert.Equal(t, ExitHarness, code)

	code, _, errOut := execute(t, &brokenEngine{startErr: errors.New("no chrome")}, "run", "--base-url", "http://fixture.test", writeSuite(t))
	assert.Equal(t, ExitHarness, code)
	assert.Contains(t, errOut, "no chrome")
}

func TestRunFailingScenarios(t *testing.T) {
	engine := &brokenEngine{}
	code, out, _ := execute(t, engine, "run", "--base-url", "http://fixture.test", writeSuite(t))

	assert.Equal(t, ExitFailed, code)
	assert.Contains(t, out, "FAIL  heading is shown")
	assert.Contains(t, out, "step 0: open http://fixture.test/")
	assert.Contains(t, out, "0 of 2 scenarios passed. 2 failed.")
	assert.True(t, engine.stopped.Load())
}

func TestRunJSONReport(t *testing.T) {
	code, out, _ := execute(t, &brokenEngine{}, "run", "-f", "json", "--base-url", "http://fixture.test", writeSuite(t))
	require.Equal(t, ExitFailed, code)

	var results []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.Len(t, results, 2)
	assert.Equal(t, "smoke", results[0]["suite"])
	assert.Equal(t, "failed", results[0]["status"])
	assert.Equal(t, float64(0), results[0]["failed_step"])
}

func TestRunConfigFile(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "uicheck.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("run:\n  format: jsonl\n  base_url: http://fixture.test\n"), 0o644))

	code, out, _ := execute(t, &brokenEngine{}, "--config", cfgPath, "run", writeSuite(t))
	require.Equal(t, ExitFailed, code)
	assert.Len(t, bytes.Split(bytes.TrimSpace([]byte(out)), []byte("\n")), 2)
}

func TestExitErrorMessage(t *testing.T) {
	assert.Equal(t, "exit status 1", (&ExitError{Code: ExitFailed}).Error())

	inner := errors.New("boom")
	err := harnessError(inner)
	assert.Equal(t, "boom", err.Error())
	assert.ErrorIs(t, err, inner)
}

func TestFileWatcherDebounces(t *testing.T) {
	path := writeSuite(t)
	other := filepath.Join(filepath.Dir(path), "other.yaml")

	changes := make(chan struct{}, 10)
	w, err := newFileWatcher([]string{path}, func() { changes <- struct{}{} })
	require.NoError(t, err)
	defer w.Close()
	w.debounce = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.NoError(t, os.WriteFile(other, []byte("x"), 0o644))
	for i := 0; i < 3; i++ {
		require.NoError(t, os.WriteFile(path, []byte(suiteYAML), 0o644))
	}

	select {
	case <-changes:
	case <-time.After(5 * time.Second):
		t.Fatal("no change reported")
	}

	cancel()
	require.NoError(t, <-done)
}

func TestFileWatcherSeesChangesBeforeRun(t *testing.T) {
	path := writeSuite(t)

	changes := make(chan struct{}, 10)
	w, err := newFileWatcher([]string{path}, func() { changes <- struct{}{} })
	require.NoError(t, err)
	defer w.Close()
	w.debounce = 50 * time.Millisecond

	// An edit saved while the first run is still going.
	require.NoError(t, os.WriteFile(path, []byte(suiteYAML), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	select {
	case <-changes:
	case <-time.After(5 * time.Second):
		t.Fatal("change made before Run was lost")
	}

	cancel()
	require.NoError(t, <-done)
}
