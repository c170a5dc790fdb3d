package browser

import (
	"context"
	"fmt"
	"time"
)

// Engine is a browser backend that hands out isolated pages.
type Engine interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
	IsRunning() bool
	GetEndpoint() string
	NewPage(ctx context.Context) (Page, error)
}

// Page is a single browsing context owned by one scenario at a time.
//
// Element waits until the locator resolves or ctx is done. Find evaluates the
// locator once and returns *ElementNotFoundError when nothing matches.
type Page interface {
	ID() string
	Navigate(ctx context.Context, url string) error
	Element(ctx context.Context, loc Locator) (Element, error)
	Find(ctx context.Context, loc Locator) (Element, error)
	URL(ctx context.Context) (string, error)
	Cookies(ctx context.Context) ([]Cookie, error)
	SessionStorageLen(ctx context.Context) (int, error)
	OnExchange(fn func(Exchange)) (cancel func())
	Stub(ctx context.Context, stub Stub) error
	Screenshot(ctx context.Context) ([]byte, error)
	Reset(ctx context.Context) error
	Close() error
}

// Element is a located DOM node.
type Element interface {
	Visible(ctx context.Context) (bool, error)
	// Interactable returns *ElementNotInteractableError when the element is
	// hidden, disabled or covered by another node.
	Interactable(ctx context.Context) error
	Click(ctx context.Context) error
	Input(ctx context.Context, text string) error
	Clear(ctx context.Context) error
	Value(ctx context.Context) (string, error)
	Style(ctx context.Context, property string) (string, error)
	Attr(ctx context.Context, name string) (string, bool, error)
}

// Locator addresses an element by CSS selector, optionally narrowed to the
// deepest match whose text contains Contains.
type Locator struct {
	Selector string `json:"selector,omitempty" yaml:"selector,omitempty"`
	Contains string `json:"contains,omitempty" yaml:"contains,omitempty"`
}

// IsZero reports whether the locator addresses nothing.
func (l Locator) IsZero() bool {
	return l.Selector == "" && l.Contains == ""
}

func (l Locator) String() string {
	switch {
	case l.Contains == "":
		return l.Selector
	case l.Selector == "":
		return fmt.Sprintf("contains(%q)", l.Contains)
	default:
		return fmt.Sprintf("%s contains(%q)", l.Selector, l.Contains)
	}
}

// Exchange is one observed request and its response.
type Exchange struct {
	RequestID  string    `json:"request_id"`
	Method     string    `json:"method"`
	URL        string    `json:"url"`
	Status     int       `json:"status"`
	ObservedAt time.Time `json:"observed_at"`
}

// Stub is a canned response served in place of the network for matching requests.
type Stub struct {
	Method      string
	Path        string
	Status      int
	Body        string
	ContentType string
}

// Cookie is the subset of cookie fields surfaced to assertions and reports.
type Cookie struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Domain string `json:"domain"`
	Path   string `json:"path"`
}
