package browser

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

var (
	// ErrSessionClosed is returned by page operations after Close.
	ErrSessionClosed = errors.New("browser session closed")

	// ErrUnknownEngine is returned by NewEngine for an unsupported engine name.
	ErrUnknownEngine = errors.New("unknown browser engine")
)

// NavigationError reports a page that could not be loaded.
type NavigationError struct {
	URL string
	Err error
}

func (e *NavigationError) Error() string {
	return fmt.Sprintf("failed to navigate to %s: %v", e.URL, e.Err)
}

func (e *NavigationError) Unwrap() error { return e.Err }

// ElementNotFoundError reports a locator that matched nothing.
type ElementNotFoundError struct {
	Locator Locator
	Err     error
}

func (e *ElementNotFoundError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("element not found: %s: %v", e.Locator, e.Err)
	}
	return fmt.Sprintf("element not found: %s", e.Locator)
}

func (e *ElementNotFoundError) Unwrap() error { return e.Err }

// ElementNotInteractableError reports an element that exists but cannot
// receive input.
type ElementNotInteractableError struct {
	Locator Locator
	Reason  string
	Err     error
}

func (e *ElementNotInteractableError) Error() string {
	return fmt.Sprintf("element not interactable: %s (%s)", e.Locator, e.Reason)
}

func (e *ElementNotInteractableError) Unwrap() error { return e.Err }

func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, net.ErrClosed) {
		return true
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "use of closed network connection") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "connection reset by peer") ||
		strings.Contains(msg, "eof")
}
