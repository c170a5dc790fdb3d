package runner

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/ahrdadan/uicheck/internal/browser"
	"github.com/ahrdadan/uicheck/internal/scenario"
)

// Executor applies interaction steps to a page. Every step gets its own
// deadline, separate from assertion timeouts.
type Executor struct {
	BaseURL           string
	ActionTimeout     time.Duration
	NavigationTimeout time.Duration
	PollInterval      time.Duration
}

// Perform runs one step against page.
func (x *Executor) Perform(ctx context.Context, page browser.Page, step scenario.Step) error {
	if step.Kind == scenario.StepVisit {
		base := x.BaseURL
		if base == "" {
			if current, err := page.URL(ctx); err == nil {
				base = current
			}
		}
		target, err := ResolveURL(base, step.URL)
		if err != nil {
			return err
		}
		return browser.Visit(ctx, page, target, x.NavigationTimeout)
	}

	ctx, cancel := context.WithTimeout(ctx, x.ActionTimeout)
	defer cancel()

	el, err := page.Element(ctx, step.Target)
	if err != nil {
		return err
	}

	switch step.Kind {
	case scenario.StepClick:
		if err := x.waitInteractable(ctx, el); err != nil {
			return err
		}
		return el.Click(ctx)

	case scenario.StepType:
		if err := x.waitInteractable(ctx, el); err != nil {
			return err
		}
		if err := el.Clear(ctx); err != nil {
			return err
		}
		if step.Text != "" {
			if err := el.Input(ctx, step.Text); err != nil {
				return err
			}
		}
		got, err := el.Value(ctx)
		if err != nil {
			return err
		}
		if got != step.Text {
			return fmt.Errorf("typed %q into %s but the field holds %q", step.Text, step.Target, got)
		}
		return nil

	case scenario.StepClear:
		return el.Clear(ctx)

	default:
		return fmt.Errorf("unknown step kind %q", step.Kind)
	}
}

// waitInteractable polls until el accepts input. On timeout the last
// *browser.ElementNotInteractableError is returned.
func (x *Executor) waitInteractable(ctx context.Context, el browser.Element) error {
	var last error
	err := poll(ctx, x.PollInterval, func() bool {
		err := el.Interactable(ctx)
		if err == nil {
			return true
		}
		var notInteractable *browser.ElementNotInteractableError
		if errors.As(err, &notInteractable) {
			last = err
		}
		return false
	})
	if err == nil {
		return nil
	}
	if last != nil {
		return last
	}
	return err
}

// ResolveURL resolves ref against base. Absolute refs are returned unchanged.
func ResolveURL(base, ref string) (string, error) {
	r, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("invalid url %q: %w", ref, err)
	}
	if r.IsAbs() {
		return ref, nil
	}
	if base == "" {
		return "", fmt.Errorf("%w: %q", ErrNoBaseURL, ref)
	}
	b, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid base url %q: %w", base, err)
	}
	return b.ResolveReference(r).String(), nil
}

// CheckStartURLs reports the first scenario whose start URL cannot be
// resolved against base.
func CheckStartURLs(base string, suites []*scenario.Suite) error {
	for _, s := range suites {
		for _, sc := range s.Scenarios {
			if _, err := ResolveURL(base, s.StartURL(sc)); err != nil {
				where := s.File
				if where == "" {
					where = s.Name
				}
				return fmt.Errorf("%s: scenario %q: %w (set --base-url)", where, sc.Name, err)
			}
		}
	}
	return nil
}
