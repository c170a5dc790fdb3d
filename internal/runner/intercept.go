package runner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ahrdadan/uicheck/internal/browser"
	"github.com/ahrdadan/uicheck/internal/scenario"
)

// CaptureMode decides what an alias keeps when several exchanges match
// before anyone awaits it.
type CaptureMode string

const (
	// CaptureOverwrite keeps only the latest matching exchange.
	CaptureOverwrite CaptureMode = "overwrite"
	// CaptureQueue keeps every matching exchange in arrival order.
	CaptureQueue CaptureMode = "queue"
)

// ParseCaptureMode validates a mode name; empty selects CaptureOverwrite.
func ParseCaptureMode(s string) (CaptureMode, error) {
	switch CaptureMode(s) {
	case "", CaptureOverwrite:
		return CaptureOverwrite, nil
	case CaptureQueue:
		return CaptureQueue, nil
	default:
		return "", fmt.Errorf("unknown intercept mode %q (want overwrite or queue)", s)
	}
}

type capture struct {
	rule      scenario.InterceptRule
	exchanges []browser.Exchange
	// signal is closed and replaced whenever exchanges grows.
	signal chan struct{}
}

// Interceptor records exchanges for registered aliases. Exchanges observed
// before an alias is registered are not captured.
type Interceptor struct {
	mode CaptureMode

	mu      sync.Mutex
	aliases map[string]*capture
}

// NewInterceptor creates an interceptor in the given capture mode.
func NewInterceptor(mode CaptureMode) *Interceptor {
	if mode == "" {
		mode = CaptureOverwrite
	}
	return &Interceptor{
		mode:    mode,
		aliases: make(map[string]*capture),
	}
}

// Register starts capturing exchanges that match rule under rule.Alias.
// Registering an alias again replaces its rule and drops earlier captures.
func (i *Interceptor) Register(rule scenario.InterceptRule) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if old, ok := i.aliases[rule.Alias]; ok {
		close(old.signal)
	}
	i.aliases[rule.Alias] = &capture{rule: rule, signal: make(chan struct{})}
}

// Observe offers an exchange to every registered alias.
func (i *Interceptor) Observe(ex browser.Exchange) {
	i.mu.Lock()
	defer i.mu.Unlock()

	for _, c := range i.aliases {
		if !browser.MatchRequest(c.rule.Method, c.rule.Path, ex.Method, ex.URL) {
			continue
		}
		if i.mode == CaptureQueue {
			c.exchanges = append(c.exchanges, ex)
		} else {
			c.exchanges = []browser.Exchange{ex}
		}
		close(c.signal)
		c.signal = make(chan struct{})
	}
}

// Await returns the next captured exchange for alias, consuming it. It fails
// with *TimeoutError when nothing arrives within timeout and with
// ErrUnknownAlias when alias was never registered.
func (i *Interceptor) Await(ctx context.Context, alias string, timeout time.Duration) (browser.Exchange, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	for {
		i.mu.Lock()
		c, ok := i.aliases[alias]
		if !ok {
			i.mu.Unlock()
			return browser.Exchange{}, fmt.Errorf("%w: @%s", ErrUnknownAlias, alias)
		}
		if len(c.exchanges) > 0 {
			ex := c.exchanges[0]
			c.exchanges = c.exchanges[1:]
			i.mu.Unlock()
			return ex, nil
		}
		signal := c.signal
		i.mu.Unlock()

		select {
		case <-signal:
		case <-ctx.Done():
			return browser.Exchange{}, &TimeoutError{Alias: alias, After: timeout, Err: ctx.Err()}
		}
	}
}

// Pending reports how many unconsumed exchanges alias holds.
func (i *Interceptor) Pending(alias string) int {
	i.mu.Lock()
	defer i.mu.Unlock()
	if c, ok := i.aliases[alias]; ok {
		return len(c.exchanges)
	}
	return 0
}
