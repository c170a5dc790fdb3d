package scenario

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrdadan/uicheck/internal/browser"
)

const loginYAML = `
name: login page
url: /
scenarios:
  - name: invalid login shows error
    steps:
      - intercept: {method: post, path: /login, alias: login}
      - type: {selector: "#email", text: x@y.com}
      - type: {selector: "#pass", text: bad}
      - click: {selector: "button[name=login]"}
      - expect: {visible: {selector: "#error_box"}}
      - expect: {status: {alias: login, code: 401}, timeout_ms: 8000}
  - name: spanish
    url: /?locale=es
    steps:
      - expect: {attr: {selector: html, name: lang, equals: es}}
      - click: {contains: Crear cuenta nueva}
      - clear: {selector: "#email"}
      - visit: /recover
      - expect: {url_contains: recover}
`

func TestParse(t *testing.T) {
	suite, err := Parse([]byte(loginYAML))
	require.NoError(t, err)

	assert.Equal(t, "login page", suite.Name)
	require.Len(t, suite.Scenarios, 2)

	first := suite.Scenarios[0]
	require.Len(t, first.Entries, 6)
	assert.Equal(t, &InterceptRule{Method: "POST", Path: "/login", Alias: "login"}, first.Entries[0].Intercept)
	assert.Equal(t, &Step{Kind: StepType, Target: browser.Locator{Selector: "#email"}, Text: "x@y.com"}, first.Entries[1].Step)
	assert.Equal(t, StepClick, first.Entries[3].Step.Kind)
	assert.Equal(t, AssertVisible, first.Entries[4].Assertion.Kind)

	status := first.Entries[5].Assertion
	assert.Equal(t, AssertStatus, status.Kind)
	assert.Equal(t, 401, status.Code)
	assert.Equal(t, 8*time.Second, status.Timeout)

	second := suite.Scenarios[1]
	assert.Equal(t, "/?locale=es", suite.StartURL(second))
	assert.Equal(t, "/", suite.StartURL(first))
	assert.Equal(t, Assertion{Kind: AssertAttr, Target: browser.Locator{Selector: "html"}, Name: "lang", Expected: "es"}, *second.Entries[0].Assertion)
	assert.Equal(t, browser.Locator{Contains: "Crear cuenta nueva"}, second.Entries[1].Step.Target)
	assert.Equal(t, StepClear, second.Entries[2].Step.Kind)
	assert.Equal(t, &Step{Kind: StepVisit, URL: "/recover"}, second.Entries[3].Step)
}

func TestParseJSON(t *testing.T) {
	doc := `{"name": "json", "url": "/", "scenarios": [{"name": "cookies", "steps": [
		{"click": {"selector": "button[name=login]"}},
		{"expect": {"cookies_non_empty": true}},
		{"expect": {"style": {"selector": "#email", "property": "border-color", "equals": "rgb(240, 240, 240)"}}}
	]}]}`

	suite, err := Parse([]byte(doc))
	require.NoError(t, err)
	entries := suite.Scenarios[0].Entries
	require.Len(t, entries, 3)
	assert.Equal(t, AssertCookiesNonEmpty, entries[1].Assertion.Kind)
	assert.Equal(t, "border-color", entries[2].Assertion.Name)
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"empty", ``, "empty"},
		{"unknown key", "name: x\nurl: /\nscenarios:\n  - name: a\n    steps:\n      - hover: {selector: a}\n", "hover"},
		{"two keys in one entry", "name: x\nurl: /\nscenarios:\n  - name: a\n    steps:\n      - click: {selector: a}\n        clear: {selector: b}\n", "exactly one"},
		{"two assertions in one expect", "name: x\nurl: /\nscenarios:\n  - name: a\n    steps:\n      - expect: {url_contains: a, url_excludes: b}\n", "exactly one"},
		{"empty expect", "name: x\nurl: /\nscenarios:\n  - name: a\n    steps:\n      - expect: {timeout_ms: 5}\n", "needs an assertion"},
		{"no scenarios", "name: x\nurl: /\n", "no scenarios"},
		{"missing url", "name: x\nscenarios:\n  - name: a\n    steps: []\n", "no url"},
		{"empty selector", "name: x\nurl: /\nscenarios:\n  - name: a\n    steps:\n      - click: {}\n", "selector or contains"},
		{"status before intercept", "name: x\nurl: /\nscenarios:\n  - name: a\n    steps:\n      - expect: {status: {alias: login, code: 401}}\n", "not registered"},
		{"bad status code", "name: x\nurl: /\nscenarios:\n  - name: a\n    steps:\n      - intercept: {path: /l, alias: l}\n      - expect: {status: {alias: l, code: 42}}\n", "out of range"},
		{"duplicate scenario", "name: x\nurl: /\nscenarios:\n  - name: a\n  - name: a\n", "duplicate"},
		{"bad method", "name: x\nurl: /\nscenarios:\n  - name: a\n    steps:\n      - intercept: {method: FETCH, path: /l, alias: l}\n", "unsupported method"},
		{"negative timeout", "name: x\nurl: /\nscenarios:\n  - name: a\n    steps:\n      - expect: {url_contains: a, timeout_ms: -1}\n", "negative"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadFileDefaultsNameToFileName(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "checkout.yaml")
	require.NoError(t, os.WriteFile(path, []byte("url: /\nscenarios:\n  - name: a\n    steps:\n      - expect: {url_contains: /}\n"), 0o644))

	suite, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "checkout", suite.Name)
	assert.Equal(t, path, suite.File)
}

func TestLoadFilesExample(t *testing.T) {
	suites, err := LoadFiles([]string{filepath.Join("..", "..", "testdata", "login.yaml")})
	require.NoError(t, err)
	require.Len(t, suites, 1)
	assert.NotEmpty(t, suites[0].Scenarios)
}

func TestEntryString(t *testing.T) {
	e := Entry{Step: &Step{Kind: StepType, Target: browser.Locator{Selector: "#pass"}, Text: "bad"}}
	assert.Equal(t, `type "bad" into #pass`, e.String())

	e = Entry{Intercept: &InterceptRule{Method: "POST", Path: "/login", Alias: "login", Stub: &StubResponse{Status: 503}}}
	assert.Equal(t, "intercept POST /login as @login (stub 503)", e.String())

	e = Entry{Assertion: &Assertion{Kind: AssertURLExcludes, Expected: "login"}}
	assert.Equal(t, `expect url does not contain "login"`, e.String())
}
