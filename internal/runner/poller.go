package runner

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ahrdadan/uicheck/internal/browser"
	"github.com/ahrdadan/uicheck/internal/scenario"
)

// Session is the state a scenario borrows while it runs: the page and the
// interceptor fed by its network events.
type Session struct {
	Page    browser.Page
	Network *Interceptor
}

// Poller re-evaluates assertions on a fixed interval.
type Poller struct {
	Interval time.Duration
	Metrics  *Metrics
}

type observation struct {
	ok    bool
	value string
	err   error
}

// Check evaluates a until it holds or timeout elapses. One successful poll
// is enough. Status assertions wait on the interceptor instead of polling.
func (p *Poller) Check(ctx context.Context, s *Session, a scenario.Assertion, timeout time.Duration) error {
	if a.Kind == scenario.AssertStatus {
		return p.checkStatus(ctx, s, a, timeout)
	}

	pollCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var last observation
	err := poll(pollCtx, p.Interval, func() bool {
		p.Metrics.observePoll(a.Kind)
		obs := evaluate(pollCtx, s.Page, a)
		if obs.err != nil && pollCtx.Err() != nil {
			// cut off by the deadline; keep the previous reading
			return false
		}
		last = obs
		return last.ok
	})
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return &AssertionFailure{Assertion: a, LastObserved: last.value, Err: last.err}
}

func (p *Poller) checkStatus(ctx context.Context, s *Session, a scenario.Assertion, timeout time.Duration) error {
	p.Metrics.observePoll(a.Kind)
	ex, err := s.Network.Await(ctx, a.Alias, timeout)
	if err != nil {
		return err
	}
	if ex.Status != a.Code {
		return &AssertionFailure{Assertion: a, LastObserved: strconv.Itoa(ex.Status)}
	}
	return nil
}

func evaluate(ctx context.Context, page browser.Page, a scenario.Assertion) observation {
	switch a.Kind {
	case scenario.AssertVisible:
		el, obs := find(ctx, page, a.Target)
		if el == nil {
			return obs
		}
		visible, err := el.Visible(ctx)
		if err != nil {
			return observation{value: "error", err: err}
		}
		if !visible {
			return observation{value: "hidden"}
		}
		return observation{ok: true, value: "visible"}

	case scenario.AssertValue:
		el, obs := find(ctx, page, a.Target)
		if el == nil {
			return obs
		}
		v, err := el.Value(ctx)
		if err != nil {
			return observation{value: "error", err: err}
		}
		return observation{ok: v == a.Expected, value: v}

	case scenario.AssertStyle:
		el, obs := find(ctx, page, a.Target)
		if el == nil {
			return obs
		}
		v, err := el.Style(ctx, a.Name)
		if err != nil {
			return observation{value: "error", err: err}
		}
		got := NormalizeCSS(v)
		return observation{ok: got == NormalizeCSS(a.Expected), value: got}

	case scenario.AssertAttr:
		el, obs := find(ctx, page, a.Target)
		if el == nil {
			return obs
		}
		v, present, err := el.Attr(ctx, a.Name)
		if err != nil {
			return observation{value: "error", err: err}
		}
		if !present {
			return observation{value: "<absent>"}
		}
		return observation{ok: v == a.Expected, value: v}

	case scenario.AssertURLContains, scenario.AssertURLExcludes:
		u, err := page.URL(ctx)
		if err != nil {
			return observation{value: "error", err: err}
		}
		contains := strings.Contains(u, a.Expected)
		if a.Kind == scenario.AssertURLExcludes {
			return observation{ok: !contains, value: u}
		}
		return observation{ok: contains, value: u}

	case scenario.AssertCookiesNonEmpty:
		cookies, err := page.Cookies(ctx)
		if err != nil {
			return observation{value: "error", err: err}
		}
		return observation{ok: len(cookies) > 0, value: fmt.Sprintf("%d cookies", len(cookies))}

	case scenario.AssertSessionStorageNonEmpty:
		n, err := page.SessionStorageLen(ctx)
		if err != nil {
			return observation{value: "error", err: err}
		}
		return observation{ok: n > 0, value: fmt.Sprintf("%d session storage keys", n)}

	default:
		return observation{value: "unsupported", err: fmt.Errorf("unknown assertion kind %q", a.Kind)}
	}
}

func find(ctx context.Context, page browser.Page, loc browser.Locator) (browser.Element, observation) {
	el, err := page.Find(ctx, loc)
	if err == nil {
		return el, observation{}
	}
	var notFound *browser.ElementNotFoundError
	if errors.As(err, &notFound) {
		return nil, observation{value: "not found"}
	}
	return nil, observation{value: "error", err: err}
}
