package scenario

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ahrdadan/uicheck/internal/browser"
)

type suiteDoc struct {
	Name      string        `yaml:"name"`
	URL       string        `yaml:"url"`
	Scenarios []scenarioDoc `yaml:"scenarios"`
}

type scenarioDoc struct {
	Name  string     `yaml:"name"`
	URL   string     `yaml:"url"`
	Steps []entryDoc `yaml:"steps"`
}

type entryDoc struct {
	Visit     *string          `yaml:"visit"`
	Type      *typeDoc         `yaml:"type"`
	Click     *browser.Locator `yaml:"click"`
	Clear     *browser.Locator `yaml:"clear"`
	Intercept *interceptDoc    `yaml:"intercept"`
	Expect    *expectDoc       `yaml:"expect"`
}

type typeDoc struct {
	browser.Locator `yaml:",inline"`
	Text            string `yaml:"text"`
}

type interceptDoc struct {
	Method  string   `yaml:"method"`
	Path    string   `yaml:"path"`
	Alias   string   `yaml:"alias"`
	Respond *stubDoc `yaml:"respond"`
}

type stubDoc struct {
	Status      int    `yaml:"status"`
	Body        string `yaml:"body"`
	ContentType string `yaml:"content_type"`
}

type valueDoc struct {
	browser.Locator `yaml:",inline"`
	Equals          string `yaml:"equals"`
}

type styleDoc struct {
	browser.Locator `yaml:",inline"`
	Property        string `yaml:"property"`
	Equals          string `yaml:"equals"`
}

type attrDoc struct {
	browser.Locator `yaml:",inline"`
	Name            string `yaml:"name"`
	Equals          string `yaml:"equals"`
}

type statusDoc struct {
	Alias string `yaml:"alias"`
	Code  int    `yaml:"code"`
}

type expectDoc struct {
	Visible                *browser.Locator `yaml:"visible"`
	Value                  *valueDoc        `yaml:"value"`
	Style                  *styleDoc        `yaml:"style"`
	Attr                   *attrDoc         `yaml:"attr"`
	URLContains            *string          `yaml:"url_contains"`
	URLExcludes            *string          `yaml:"url_excludes"`
	CookiesNonEmpty        bool             `yaml:"cookies_non_empty"`
	SessionStorageNonEmpty bool             `yaml:"session_storage_non_empty"`
	Status                 *statusDoc       `yaml:"status"`
	TimeoutMS              int              `yaml:"timeout_ms"`
}

// LoadFile reads and validates a scenario file.
func LoadFile(path string) (*Suite, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	suite, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	suite.File = path
	if suite.Name == "" {
		suite.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return suite, nil
}

// LoadFiles loads every path, stopping at the first invalid file.
func LoadFiles(paths []string) ([]*Suite, error) {
	suites := make([]*Suite, 0, len(paths))
	for _, p := range paths {
		s, err := LoadFile(p)
		if err != nil {
			return nil, err
		}
		suites = append(suites, s)
	}
	return suites, nil
}

// Parse decodes a suite from YAML or JSON. Unknown keys are rejected.
func Parse(data []byte) (*Suite, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var doc suiteDoc
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("scenario file is empty")
		}
		return nil, fmt.Errorf("failed to parse scenario file: %w", err)
	}

	suite := &Suite{Name: doc.Name, URL: doc.URL}
	var errs []error
	for i, sd := range doc.Scenarios {
		sc, err := convertScenario(sd)
		if err != nil {
			errs = append(errs, fmt.Errorf("scenario %d (%s): %w", i+1, sd.Name, err))
			continue
		}
		suite.Scenarios = append(suite.Scenarios, sc)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	if err := suite.Validate(); err != nil {
		return nil, err
	}
	return suite, nil
}

func convertScenario(sd scenarioDoc) (Scenario, error) {
	sc := Scenario{Name: sd.Name, URL: sd.URL}
	var errs []error
	for i, ed := range sd.Steps {
		entry, err := convertEntry(ed)
		if err != nil {
			errs = append(errs, fmt.Errorf("step %d: %w", i+1, err))
			continue
		}
		sc.Entries = append(sc.Entries, entry)
	}
	return sc, errors.Join(errs...)
}

func convertEntry(ed entryDoc) (Entry, error) {
	var entries []Entry
	if ed.Visit != nil {
		entries = append(entries, Entry{Step: &Step{Kind: StepVisit, URL: *ed.Visit}})
	}
	if ed.Type != nil {
		entries = append(entries, Entry{Step: &Step{Kind: StepType, Target: ed.Type.Locator, Text: ed.Type.Text}})
	}
	if ed.Click != nil {
		entries = append(entries, Entry{Step: &Step{Kind: StepClick, Target: *ed.Click}})
	}
	if ed.Clear != nil {
		entries = append(entries, Entry{Step: &Step{Kind: StepClear, Target: *ed.Clear}})
	}
	if ed.Intercept != nil {
		rule := &InterceptRule{
			Method: strings.ToUpper(ed.Intercept.Method),
			Path:   ed.Intercept.Path,
			Alias:  ed.Intercept.Alias,
		}
		if r := ed.Intercept.Respond; r != nil {
			rule.Stub = &StubResponse{Status: r.Status, Body: r.Body, ContentType: r.ContentType}
		}
		entries = append(entries, Entry{Intercept: rule})
	}
	if ed.Expect != nil {
		a, err := convertExpect(*ed.Expect)
		if err != nil {
			return Entry{}, err
		}
		entries = append(entries, Entry{Assertion: &a})
	}

	switch len(entries) {
	case 0:
		return Entry{}, fmt.Errorf("entry needs one of visit, type, click, clear, intercept or expect")
	case 1:
		return entries[0], nil
	default:
		return Entry{}, fmt.Errorf("entry has %d keys, want exactly one", len(entries))
	}
}

func convertExpect(ed expectDoc) (Assertion, error) {
	var found []Assertion
	if ed.Visible != nil {
		found = append(found, Assertion{Kind: AssertVisible, Target: *ed.Visible})
	}
	if ed.Value != nil {
		found = append(found, Assertion{Kind: AssertValue, Target: ed.Value.Locator, Expected: ed.Value.Equals})
	}
	if ed.Style != nil {
		found = append(found, Assertion{Kind: AssertStyle, Target: ed.Style.Locator, Name: ed.Style.Property, Expected: ed.Style.Equals})
	}
	if ed.Attr != nil {
		found = append(found, Assertion{Kind: AssertAttr, Target: ed.Attr.Locator, Name: ed.Attr.Name, Expected: ed.Attr.Equals})
	}
	if ed.URLContains != nil {
		found = append(found, Assertion{Kind: AssertURLContains, Expected: *ed.URLContains})
	}
	if ed.URLExcludes != nil {
		found = append(found, Assertion{Kind: AssertURLExcludes, Expected: *ed.URLExcludes})
	}
	if ed.CookiesNonEmpty {
		found = append(found, Assertion{Kind: AssertCookiesNonEmpty})
	}
	if ed.SessionStorageNonEmpty {
		found = append(found, Assertion{Kind: AssertSessionStorageNonEmpty})
	}
	if ed.Status != nil {
		found = append(found, Assertion{Kind: AssertStatus, Alias: ed.Status.Alias, Code: ed.Status.Code})
	}

	switch len(found) {
	case 0:
		return Assertion{}, fmt.Errorf("expect needs an assertion")
	case 1:
	default:
		return Assertion{}, fmt.Errorf("expect has %d assertions, want exactly one", len(found))
	}

	if ed.TimeoutMS < 0 {
		return Assertion{}, fmt.Errorf("timeout_ms must not be negative")
	}
	a := found[0]
	a.Timeout = time.Duration(ed.TimeoutMS) * time.Millisecond
	return a, nil
}
