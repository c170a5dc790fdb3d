package runner

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ahrdadan/uicheck/internal/scenario"
)

const loginSuite = `
name: login
url: /
scenarios:
  - name: invalid login shows error
    steps:
      - intercept: {method: POST, path: /login, alias: login}
      - type: {selector: "#email", text: x@y.com}
      - type: {selector: "#pass", text: bad}
      - click: {selector: "button[name=login]"}
      - expect: {visible: {selector: "#error_box"}}
      - expect: {status: {alias: login, code: 401}}
      - expect: {value: {selector: "#email", equals: x@y.com}}
  - name: valid login leaves the login page
    steps:
      - type: {selector: "#email", text: demo@example.com}
      - type: {selector: "#pass", text: correct-horse}
      - click: {selector: "button[name=login]"}
      - expect: {url_excludes: login, timeout_ms: 500}
  - name: create account reveals registration form
    steps:
      - click: {contains: Create new account}
      - expect: {visible: {selector: '[data-testid="open-registration-form-button"]'}}
`

func testOptions() Options {
	return Options{
		BaseURL:           fakeBase,
		ActionTimeout:     200 * time.Millisecond,
		AssertTimeout:     300 * time.Millisecond,
		NavigationTimeout: time.Second,
		PollInterval:      10 * time.Millisecond,
	}
}

func mustParse(t *testing.T, doc string) *scenario.Suite {
	t.Helper()
	s, err := scenario.Parse([]byte(doc))
	require.NoError(t, err)
	return s
}

func TestRunSuitePasses(t *testing.T) {
	engine := &fakeEngine{site: loginSite}
	r := New(engine, testOptions(), zap.NewNop(), nil)

	var progressed []string
	results := r.RunSuite(context.Background(), mustParse(t, loginSuite), func(done, total int, res *Result) {
		assert.Equal(t, 3, total)
		progressed = append(progressed, res.Scenario)
	})

	require.Len(t, results, 3)
	for _, res := range results {
		assert.Equal(t, StatusPassed, res.Status, "%s: %s", res.Scenario, res.Error)
		assert.Nil(t, res.FailedStep)
		assert.True(t, res.Status.IsTerminal())
	}
	assert.Len(t, progressed, 3)
	assert.True(t, Summarize(results).AllPassed())
}

func TestRunVisitWithoutBaseURLStaysOnSite(t *testing.T) {
	suite := mustParse(t, `
name: absolute
url: http://fixture.test/
scenarios:
  - name: recover page
    steps:
      - visit: /recover
      - expect: {url_contains: fixture.test/recover}
`)
	opts := testOptions()
	opts.BaseURL = ""
	r := New(&fakeEngine{site: loginSite}, opts, zap.NewNop(), nil)

	res := r.RunSuite(context.Background(), suite, nil)[0]
	assert.Equal(t, StatusPassed, res.Status, "%s (last observed %q)", res.Error, res.LastObserved)
}

func TestRunReportsFailingStep(t *testing.T) {
	suite := mustParse(t, `
name: login
url: /
scenarios:
  - name: wrong expectation
    steps:
      - type: {selector: "#email", text: x@y.com}
      - expect: {value: {selector: "#email", equals: someone@else.com}}
      - click: {selector: "button[name=login]"}
`)
	r := New(&fakeEngine{site: loginSite}, testOptions(), zap.NewNop(), nil)

	res := r.RunSuite(context.Background(), suite, nil)[0]
	assert.Equal(t, StatusFailed, res.Status)
	require.NotNil(t, res.FailedStep)
	assert.Equal(t, 2, *res.FailedStep)
	assert.Equal(t, `#email has value "someone@else.com"`, res.Assertion)
	assert.Equal(t, "x@y.com", res.LastObserved)
	assert.NotEmpty(t, res.Error)
}

func TestRunStatusWithoutExchangeTimesOut(t *testing.T) {
	suite := mustParse(t, `
name: login
url: /
scenarios:
  - name: no request fired
    steps:
      - intercept: {method: POST, path: /login, alias: login}
      - expect: {status: {alias: login, code: 401}, timeout_ms: 50}
`)
	r := New(&fakeEngine{site: loginSite}, testOptions(), zap.NewNop(), nil)

	res := r.RunSuite(context.Background(), suite, nil)[0]
	assert.Equal(t, StatusTimedOut, res.Status)
	require.NotNil(t, res.FailedStep)
	assert.Equal(t, 2, *res.FailedStep)
	assert.Equal(t, "@login responded 401", res.Assertion)
}

func TestRunStubOverridesResponse(t *testing.T) {
	suite := mustParse(t, `
name: login
url: /
scenarios:
  - name: backend down
    steps:
      - intercept: {method: POST, path: /login, alias: login, respond: {status: 503}}
      - type: {selector: "#email", text: demo@example.com}
      - click: {selector: "button[name=login]"}
      - expect: {status: {alias: login, code: 503}}
      - expect: {visible: {selector: "#error_box"}}
`)
	r := New(&fakeEngine{site: loginSite}, testOptions(), zap.NewNop(), nil)

	res := r.RunSuite(context.Background(), suite, nil)[0]
	assert.Equal(t, StatusPassed, res.Status, res.Error)
}

func TestRunNavigationFailureIsStepZero(t *testing.T) {
	engine := &fakeEngine{site: loginSite, navErr: errors.New("net::ERR_CONNECTION_REFUSED")}
	r := New(engine, testOptions(), zap.NewNop(), nil)

	res := r.RunSuite(context.Background(), mustParse(t, loginSuite), nil)[0]
	assert.Equal(t, StatusFailed, res.Status)
	require.NotNil(t, res.FailedStep)
	assert.Equal(t, 0, *res.FailedStep)
	assert.Equal(t, "open "+fakeBase+"/", res.Entry)
	assert.Contains(t, res.Error, "ERR_CONNECTION_REFUSED")
}

func TestRunIsolatesScenarios(t *testing.T) {
	suite := mustParse(t, `
name: isolation
url: /
scenarios:
  - name: attempt sets state
    steps:
      - click: {selector: "button[name=login]"}
      - expect: {cookies_non_empty: true}
      - expect: {session_storage_non_empty: true}
  - name: next scenario starts clean
    steps:
      - expect: {cookies_non_empty: true, timeout_ms: 50}
`)
	engine := &fakeEngine{site: loginSite}
	r := New(engine, testOptions(), zap.NewNop(), nil)

	results := r.RunSuite(context.Background(), suite, nil)
	require.Len(t, results, 2)
	assert.Equal(t, StatusPassed, results[0].Status, results[0].Error)
	assert.Equal(t, StatusFailed, results[1].Status)
	assert.Equal(t, "0 cookies", results[1].LastObserved)

	// One page, reset once before its second use.
	require.Len(t, engine.opened, 1)
	assert.Equal(t, 1, engine.opened[0].resets)
	assert.True(t, engine.opened[0].closed)
}

func TestRunParallelUsesSeparatePages(t *testing.T) {
	suite := mustParse(t, loginSuite)
	engine := &fakeEngine{site: loginSite}
	opts := testOptions()
	opts.Parallel = 3
	r := New(engine, opts, zap.NewNop(), nil)

	results := r.RunSuite(context.Background(), suite, nil)
	for _, res := range results {
		assert.Equal(t, StatusPassed, res.Status, "%s: %s", res.Scenario, res.Error)
	}
	assert.Equal(t, "invalid login shows error", results[0].Scenario)
	assert.Equal(t, "create account reveals registration form", results[2].Scenario)
	assert.LessOrEqual(t, int(engine.pages.Load()), 3)
}

func TestRunScenarioTimeout(t *testing.T) {
	suite := mustParse(t, `
name: slow
url: /
scenarios:
  - name: waits forever
    steps:
      - expect: {visible: {selector: nav}, timeout_ms: 5000}
`)
	opts := testOptions()
	opts.ScenarioTimeout = 80 * time.Millisecond
	r := New(&fakeEngine{site: loginSite}, opts, zap.NewNop(), nil)

	start := time.Now()
	res := r.RunSuite(context.Background(), suite, nil)[0]
	assert.Equal(t, StatusTimedOut, res.Status)
	assert.Less(t, time.Since(start), time.Second)
}

func TestRunWritesFailureScreenshot(t *testing.T) {
	suite := mustParse(t, `
name: shots
url: /
scenarios:
  - name: missing nav
    steps:
      - expect: {visible: {selector: nav}, timeout_ms: 30}
`)
	opts := testOptions()
	opts.ArtifactsDir = t.TempDir()
	r := New(&fakeEngine{site: loginSite}, opts, zap.NewNop(), nil)

	res := r.RunSuite(context.Background(), suite, nil)[0]
	require.Equal(t, StatusFailed, res.Status)
	require.NotEmpty(t, res.Screenshot)
	data, err := os.ReadFile(res.Screenshot)
	require.NoError(t, err)
	assert.NotEmpty(t, data)
}

func TestRunRecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	r := New(&fakeEngine{site: loginSite}, testOptions(), zap.NewNop(), metrics)

	r.RunSuite(context.Background(), mustParse(t, loginSuite), nil)

	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.scenarios.WithLabelValues(string(StatusPassed))))
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.active))
	assert.Greater(t, testutil.ToFloat64(metrics.polls.WithLabelValues("visible")), 0.0)
}

func TestDefaultOptions(t *testing.T) {
	o := Options{}.withDefaults()
	assert.Equal(t, 4*time.Second, o.ActionTimeout)
	assert.Equal(t, 4*time.Second, o.AssertTimeout)
	assert.Equal(t, 50*time.Millisecond, o.PollInterval)
	assert.Equal(t, CaptureOverwrite, o.InterceptMode)
	assert.Equal(t, 1, o.Parallel)
}
