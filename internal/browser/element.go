package browser

import (
	"context"
	"fmt"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// locateJS resolves a Locator in the page. With text set it returns the
// deepest candidate whose rendered text contains it, so a button wins over the
// form that wraps it.
const locateJS = `(selector, text) => {
	const candidates = Array.from(document.querySelectorAll(selector || '*'));
	if (!text) return candidates[0] || null;
	const hits = candidates.filter(el => (el.innerText || el.textContent || '').includes(text));
	const deepest = hits.filter(el => !hits.some(other => other !== el && el.contains(other)));
	return deepest[0] || null;
}`

const clearJS = `() => {
	this.value = '';
	this.dispatchEvent(new Event('input', { bubbles: true }));
	this.dispatchEvent(new Event('change', { bubbles: true }));
}`

func locateEval(loc Locator) *rod.EvalOptions {
	return rod.Eval(locateJS, loc.Selector, loc.Contains)
}

type rodElement struct {
	el  *rod.Element
	loc Locator
}

func (e *rodElement) Visible(ctx context.Context) (bool, error) {
	return e.el.Context(ctx).Visible()
}

func (e *rodElement) Interactable(ctx context.Context) error {
	el := e.el.Context(ctx)

	res, err := el.Eval(`() => !!this.disabled`)
	if err != nil {
		return fmt.Errorf("failed to inspect %s: %w", e.loc, err)
	}
	if res.Value.Bool() {
		return &ElementNotInteractableError{Locator: e.loc, Reason: "disabled"}
	}

	if _, err := el.Interactable(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &ElementNotInteractableError{Locator: e.loc, Reason: "hidden or covered", Err: err}
	}
	return nil
}

func (e *rodElement) Click(ctx context.Context) error {
	if err := e.el.Context(ctx).Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("failed to click %s: %w", e.loc, err)
	}
	return nil
}

func (e *rodElement) Input(ctx context.Context, text string) error {
	if err := e.el.Context(ctx).Input(text); err != nil {
		return fmt.Errorf("failed to type into %s: %w", e.loc, err)
	}
	return nil
}

func (e *rodElement) Clear(ctx context.Context) error {
	if _, err := e.el.Context(ctx).Eval(clearJS); err != nil {
		return fmt.Errorf("failed to clear %s: %w", e.loc, err)
	}
	return nil
}

func (e *rodElement) Value(ctx context.Context) (string, error) {
	res, err := e.el.Context(ctx).Eval(`() => this.value == null ? '' : String(this.value)`)
	if err != nil {
		return "", fmt.Errorf("failed to read value of %s: %w", e.loc, err)
	}
	return res.Value.Str(), nil
}

func (e *rodElement) Style(ctx context.Context, property string) (string, error) {
	res, err := e.el.Context(ctx).Eval(`(p) => getComputedStyle(this).getPropertyValue(p)`, property)
	if err != nil {
		return "", fmt.Errorf("failed to read style %s of %s: %w", property, e.loc, err)
	}
	return res.Value.Str(), nil
}

func (e *rodElement) Attr(ctx context.Context, name string) (string, bool, error) {
	v, err := e.el.Context(ctx).Attribute(name)
	if err != nil {
		return "", false, fmt.Errorf("failed to read attribute %s of %s: %w", name, e.loc, err)
	}
	if v == nil {
		return "", false, nil
	}
	return *v, true, nil
}
