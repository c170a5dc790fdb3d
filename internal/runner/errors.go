package runner

import (
	"errors"
	"fmt"
	"time"

	"github.com/ahrdadan/uicheck/internal/scenario"
)

var (
	// ErrUnknownAlias is returned when awaiting an alias no rule registered.
	ErrUnknownAlias = errors.New("intercept alias not registered")
	// ErrNoBaseURL is returned for a relative URL with nothing to resolve it against.
	ErrNoBaseURL = errors.New("relative url without a base url")
)

// AssertionFailure carries the last value a predicate observed before its
// timeout elapsed.
type AssertionFailure struct {
	Assertion    scenario.Assertion
	LastObserved string
	Err          error
}

func (e *AssertionFailure) Error() string {
	msg := fmt.Sprintf("expected %s, last observed %q", e.Assertion, e.LastObserved)
	if e.Err != nil {
		msg += fmt.Sprintf(": %v", e.Err)
	}
	return msg
}

func (e *AssertionFailure) Unwrap() error { return e.Err }

// TimeoutError reports a network wait that saw no matching exchange.
type TimeoutError struct {
	Alias string
	After time.Duration
	Err   error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timed out after %s waiting for @%s", e.After, e.Alias)
}

func (e *TimeoutError) Unwrap() error { return e.Err }
