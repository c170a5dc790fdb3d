package scenario

import (
	"errors"
	"fmt"
	"net/http"
)

var allowedMethods = map[string]bool{
	"": true, "*": true,
	http.MethodGet: true, http.MethodHead: true, http.MethodPost: true, http.MethodPut: true,
	http.MethodPatch: true, http.MethodDelete: true, http.MethodOptions: true,
}

// Validate checks the structural invariants of a suite. Status assertions must
// name an alias registered earlier in the same scenario.
func (s *Suite) Validate() error {
	if len(s.Scenarios) == 0 {
		return fmt.Errorf("suite %q has no scenarios", s.Name)
	}

	var errs []error
	seen := make(map[string]bool, len(s.Scenarios))
	for i, sc := range s.Scenarios {
		if sc.Name == "" {
			errs = append(errs, fmt.Errorf("scenario %d: name is required", i+1))
		} else if seen[sc.Name] {
			errs = append(errs, fmt.Errorf("scenario %d: duplicate name %q", i+1, sc.Name))
		}
		seen[sc.Name] = true

		if s.StartURL(sc) == "" {
			errs = append(errs, fmt.Errorf("scenario %q: no url on suite or scenario", sc.Name))
		}
		if err := sc.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("scenario %q: %w", sc.Name, err))
		}
	}
	return errors.Join(errs...)
}

// Validate checks each entry of the scenario.
func (sc Scenario) Validate() error {
	var errs []error
	aliases := make(map[string]bool)
	for i, e := range sc.Entries {
		n := i + 1
		switch {
		case e.Step != nil:
			if err := e.Step.validate(); err != nil {
				errs = append(errs, fmt.Errorf("step %d: %w", n, err))
			}
		case e.Intercept != nil:
			if err := e.Intercept.validate(); err != nil {
				errs = append(errs, fmt.Errorf("step %d: %w", n, err))
			}
			aliases[e.Intercept.Alias] = true
		case e.Assertion != nil:
			if err := e.Assertion.validate(); err != nil {
				errs = append(errs, fmt.Errorf("step %d: %w", n, err))
			} else if e.Assertion.Kind == AssertStatus && !aliases[e.Assertion.Alias] {
				errs = append(errs, fmt.Errorf("step %d: alias @%s is not registered by an earlier intercept", n, e.Assertion.Alias))
			}
		default:
			errs = append(errs, fmt.Errorf("step %d: empty entry", n))
		}
	}
	return errors.Join(errs...)
}

func (s *Step) validate() error {
	switch s.Kind {
	case StepVisit:
		if s.URL == "" {
			return fmt.Errorf("visit needs a url")
		}
	case StepType, StepClick, StepClear:
		if s.Target.IsZero() {
			return fmt.Errorf("%s needs a selector or contains", s.Kind)
		}
	default:
		return fmt.Errorf("unknown step kind %q", s.Kind)
	}
	return nil
}

func (r *InterceptRule) validate() error {
	if r.Alias == "" {
		return fmt.Errorf("intercept needs an alias")
	}
	if r.Path == "" {
		return fmt.Errorf("intercept @%s needs a path", r.Alias)
	}
	if !allowedMethods[r.Method] {
		return fmt.Errorf("intercept @%s: unsupported method %q", r.Alias, r.Method)
	}
	if r.Stub != nil && (r.Stub.Status < 100 || r.Stub.Status > 599) {
		return fmt.Errorf("intercept @%s: stub status %d out of range", r.Alias, r.Stub.Status)
	}
	return nil
}

func (a *Assertion) validate() error {
	switch a.Kind {
	case AssertVisible, AssertValue:
		if a.Target.IsZero() {
			return fmt.Errorf("%s needs a selector or contains", a.Kind)
		}
	case AssertStyle:
		if a.Target.IsZero() || a.Name == "" {
			return fmt.Errorf("style needs a locator and a property")
		}
	case AssertAttr:
		if a.Target.IsZero() || a.Name == "" {
			return fmt.Errorf("attr needs a locator and a name")
		}
	case AssertURLContains, AssertURLExcludes:
		if a.Expected == "" {
			return fmt.Errorf("%s needs a substring", a.Kind)
		}
	case AssertCookiesNonEmpty, AssertSessionStorageNonEmpty:
	case AssertStatus:
		if a.Alias == "" {
			return fmt.Errorf("status needs an alias")
		}
		if a.Code < 100 || a.Code > 599 {
			return fmt.Errorf("status code %d out of range", a.Code)
		}
	default:
		return fmt.Errorf("unknown assertion kind %q", a.Kind)
	}
	return nil
}
