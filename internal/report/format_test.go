package report

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrdadan/uicheck/internal/runner"
)

func sampleResults() []*runner.Result {
	step := 5
	return []*runner.Result{
		{ID: "1", File: "testdata/login.yaml", Suite: "login page", Scenario: "shows the login form", Status: runner.StatusPassed, Duration: 120 * time.Millisecond, DurationMS: 120},
		{
			ID: "2", File: "testdata/login.yaml", Suite: "login page", Scenario: "invalid login shows an error",
			Status: runner.StatusFailed, FailedStep: &step, Entry: "expect #error_box is visible",
			Assertion: "#error_box is visible", LastObserved: "hidden",
			Error: `expected #error_box is visible, last observed "hidden"`, Screenshot: "artifacts/login.png",
			Duration: 4 * time.Second, DurationMS: 4000,
		},
	}
}

func TestText(t *testing.T) {
	out := Text(sampleResults())

	assert.Contains(t, out, "login page (testdata/login.yaml)\n")
	assert.Contains(t, out, "  PASS  shows the login form (120ms)\n")
	assert.Contains(t, out, "  FAIL  invalid login shows an error (4s)\n")
	assert.Contains(t, out, "step 5: expect #error_box is visible")
	assert.Contains(t, out, `last observed "hidden"`)
	assert.Contains(t, out, "screenshot: artifacts/login.png")
	assert.True(t, strings.HasSuffix(out, "1 of 2 scenarios passed. 1 failed.\n"))
}

func TestJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, FormatJSON, sampleResults()))

	var decoded []map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.Len(t, decoded, 2)
	assert.Equal(t, "failed", decoded[1]["status"])
	assert.Equal(t, float64(5), decoded[1]["failed_step"])
	assert.Equal(t, "hidden", decoded[1]["last_observed"])
	assert.NotContains(t, decoded[0], "failed_step")
}

func TestJSONEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, JSON(&buf, nil))
	assert.Equal(t, "[]\n", buf.String())
}

func TestJSONL(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, FormatJSONL, sampleResults()))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	for _, line := range lines {
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		assert.Equal(t, "login page", m["suite"])
	}
}

func TestWriteUnknownFormat(t *testing.T) {
	err := Write(&bytes.Buffer{}, "xml", nil)
	assert.Error(t, err)
}
