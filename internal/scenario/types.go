// Package scenario defines declarative UI scenarios and loads them from YAML
// or JSON files.
package scenario

import (
	"fmt"
	"strings"
	"time"

	"github.com/ahrdadan/uicheck/internal/browser"
)

// StepKind identifies a user interaction.
type StepKind string

const (
	StepVisit StepKind = "visit"
	StepType  StepKind = "type"
	StepClick StepKind = "click"
	StepClear StepKind = "clear"
)

// Step is one user interaction. Target is unused for StepVisit, URL is used
// only by it.
type Step struct {
	Kind   StepKind        `json:"kind"`
	Target browser.Locator `json:"target,omitempty"`
	Text   string          `json:"text,omitempty"`
	URL    string          `json:"url,omitempty"`
}

func (s Step) String() string {
	switch s.Kind {
	case StepVisit:
		return fmt.Sprintf("visit %s", s.URL)
	case StepType:
		return fmt.Sprintf("type %q into %s", s.Text, s.Target)
	default:
		return fmt.Sprintf("%s %s", s.Kind, s.Target)
	}
}

// AssertionKind identifies a predicate over page state.
type AssertionKind string

const (
	AssertVisible                AssertionKind = "visible"
	AssertValue                  AssertionKind = "value"
	AssertStyle                  AssertionKind = "style"
	AssertAttr                   AssertionKind = "attr"
	AssertURLContains            AssertionKind = "url_contains"
	AssertURLExcludes            AssertionKind = "url_excludes"
	AssertCookiesNonEmpty        AssertionKind = "cookies_non_empty"
	AssertSessionStorageNonEmpty AssertionKind = "session_storage_non_empty"
	AssertStatus                 AssertionKind = "status"
)

// Assertion is a read-only predicate. Name holds the CSS property for
// AssertStyle and the attribute name for AssertAttr. A zero Timeout means the
// runner default.
type Assertion struct {
	Kind     AssertionKind   `json:"kind"`
	Target   browser.Locator `json:"target,omitempty"`
	Name     string          `json:"name,omitempty"`
	Expected string          `json:"expected,omitempty"`
	Alias    string          `json:"alias,omitempty"`
	Code     int             `json:"code,omitempty"`
	Timeout  time.Duration   `json:"timeout,omitempty"`
}

func (a Assertion) String() string {
	switch a.Kind {
	case AssertVisible:
		return fmt.Sprintf("%s is visible", a.Target)
	case AssertValue:
		return fmt.Sprintf("%s has value %q", a.Target, a.Expected)
	case AssertStyle:
		return fmt.Sprintf("%s has %s %q", a.Target, a.Name, a.Expected)
	case AssertAttr:
		return fmt.Sprintf("%s has %s=%q", a.Target, a.Name, a.Expected)
	case AssertURLContains:
		return fmt.Sprintf("url contains %q", a.Expected)
	case AssertURLExcludes:
		return fmt.Sprintf("url does not contain %q", a.Expected)
	case AssertCookiesNonEmpty:
		return "cookies are not empty"
	case AssertSessionStorageNonEmpty:
		return "session storage is not empty"
	case AssertStatus:
		return fmt.Sprintf("@%s responded %d", a.Alias, a.Code)
	default:
		return string(a.Kind)
	}
}

// InterceptRule names outbound requests so assertions can refer to them.
// When Stub is set matching requests are answered locally.
type InterceptRule struct {
	Method string        `json:"method,omitempty"`
	Path   string        `json:"path"`
	Alias  string        `json:"alias"`
	Stub   *StubResponse `json:"stub,omitempty"`
}

func (r InterceptRule) String() string {
	method := r.Method
	if method == "" {
		method = "*"
	}
	s := fmt.Sprintf("intercept %s %s as @%s", strings.ToUpper(method), r.Path, r.Alias)
	if r.Stub != nil {
		s += fmt.Sprintf(" (stub %d)", r.Stub.Status)
	}
	return s
}

// StubResponse is the canned reply for a stubbed intercept.
type StubResponse struct {
	Status      int    `json:"status"`
	Body        string `json:"body,omitempty"`
	ContentType string `json:"content_type,omitempty"`
}

// Entry is exactly one of Step, Intercept or Assertion.
type Entry struct {
	Step      *Step          `json:"step,omitempty"`
	Intercept *InterceptRule `json:"intercept,omitempty"`
	Assertion *Assertion     `json:"assertion,omitempty"`
}

func (e Entry) String() string {
	switch {
	case e.Step != nil:
		return e.Step.String()
	case e.Intercept != nil:
		return e.Intercept.String()
	case e.Assertion != nil:
		return "expect " + e.Assertion.String()
	default:
		return "empty entry"
	}
}

// Scenario is an ordered list of entries run against a fresh session opened
// at URL.
type Scenario struct {
	Name    string  `json:"name"`
	URL     string  `json:"url,omitempty"`
	Entries []Entry `json:"entries"`
}

// Suite is one scenario file.
type Suite struct {
	Name      string     `json:"name"`
	URL       string     `json:"url,omitempty"`
	File      string     `json:"file,omitempty"`
	Scenarios []Scenario `json:"scenarios"`
}

// StartURL returns the page sc opens, falling back to the suite URL.
func (s *Suite) StartURL(sc Scenario) string {
	if sc.URL != "" {
		return sc.URL
	}
	return s.URL
}
