// Package report renders scenario results for terminals and machines.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ahrdadan/uicheck/internal/runner"
)

// Format names accepted by Write.
const (
	FormatText  = "text"
	FormatJSON  = "json"
	FormatJSONL = "jsonl"
)

// Write renders results to w in the named format.
func Write(w io.Writer, format string, results []*runner.Result) error {
	switch format {
	case "", FormatText:
		_, err := io.WriteString(w, Text(results))
		return err
	case FormatJSON:
		return JSON(w, results)
	case FormatJSONL:
		return JSONL(w, results)
	default:
		return fmt.Errorf("unknown report format %q (want text, json or jsonl)", format)
	}
}

// Text renders results as a human-readable summary grouped by suite.
func Text(results []*runner.Result) string {
	var b strings.Builder

	currentSuite := ""
	for _, r := range results {
		if r.Suite != currentSuite {
			if currentSuite != "" {
				b.WriteString("\n")
			}
			currentSuite = r.Suite
			if r.File != "" {
				fmt.Fprintf(&b, "%s (%s)\n", r.Suite, r.File)
			} else {
				fmt.Fprintf(&b, "%s\n", r.Suite)
			}
		}

		fmt.Fprintf(&b, "  %-5s %s (%s)\n", label(r.Status), r.Scenario, r.Duration.Round(time.Millisecond))
		if r.Passed() {
			continue
		}
		if r.FailedStep != nil {
			fmt.Fprintf(&b, "        step %d: %s\n", *r.FailedStep, r.Entry)
		}
		if r.Assertion != "" {
			fmt.Fprintf(&b, "        expected %s\n", r.Assertion)
		}
		if r.LastObserved != "" {
			fmt.Fprintf(&b, "        last observed %q\n", r.LastObserved)
		}
		if r.Error != "" {
			fmt.Fprintf(&b, "        error: %s\n", r.Error)
		}
		if r.Screenshot != "" {
			fmt.Fprintf(&b, "        screenshot: %s\n", r.Screenshot)
		}
	}

	s := runner.Summarize(results)
	fmt.Fprintf(&b, "\n%d of %d scenarios passed.", s.Passed, s.Total)
	if s.Failed > 0 {
		fmt.Fprintf(&b, " %d failed.", s.Failed)
	}
	if s.TimedOut > 0 {
		fmt.Fprintf(&b, " %d timed out.", s.TimedOut)
	}
	b.WriteString("\n")

	return b.String()
}

func label(s runner.Status) string {
	switch s {
	case runner.StatusPassed:
		return "PASS"
	case runner.StatusTimedOut:
		return "TIME"
	default:
		return "FAIL"
	}
}

// JSON writes results as one indented array.
func JSON(w io.Writer, results []*runner.Result) error {
	if results == nil {
		results = []*runner.Result{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(results); err != nil {
		return fmt.Errorf("marshal results: %w", err)
	}
	return nil
}

// JSONL writes one result per line.
func JSONL(w io.Writer, results []*runner.Result) error {
	enc := json.NewEncoder(w)
	for _, r := range results {
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("marshal result %s: %w", r.Scenario, err)
		}
	}
	return nil
}
