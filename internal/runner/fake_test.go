package runner

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ahrdadan/uicheck/internal/browser"
)

const fakeBase = "http://fixture.test"

// fakeEngine hands out in-memory pages whose DOM is rebuilt by site on every
// navigation.
type fakeEngine struct {
	site   func(p *fakePage)
	navErr error

	pages  atomic.Int32
	mu     sync.Mutex
	opened []*fakePage
}

func (e *fakeEngine) Name() string { return "fake" }

func (e *fakeEngine) Start(ctx context.Context) error { return nil }

func (e *fakeEngine) Stop() error { return nil }

func (e *fakeEngine) IsRunning() bool { return true }

func (e *fakeEngine) GetEndpoint() string { return "fake://" }

func (e *fakeEngine) NewPage(ctx context.Context) (browser.Page, error) {
	n := e.pages.Add(1)
	p := &fakePage{
		id:        string(rune('a' + n - 1)),
		site:      e.site,
		navErr:    e.navErr,
		observers: make(map[int]func(browser.Exchange)),
	}
	e.mu.Lock()
	e.opened = append(e.opened, p)
	e.mu.Unlock()
	return p, nil
}

type fakePage struct {
	id     string
	site   func(p *fakePage)
	navErr error

	mu        sync.Mutex
	url       string
	elements  map[string]*fakeElement
	cookies   []browser.Cookie
	storage   int
	resets    int
	closed    bool
	stubs     []browser.Stub
	observers map[int]func(browser.Exchange)
	nextObs   int
}

func (p *fakePage) ID() string { return p.id }

func (p *fakePage) Navigate(ctx context.Context, url string) error {
	if p.navErr != nil {
		return &browser.NavigationError{URL: url, Err: p.navErr}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return &browser.NavigationError{URL: url, Err: browser.ErrSessionClosed}
	}
	p.url = url
	p.elements = make(map[string]*fakeElement)
	if p.site != nil {
		p.site(p)
	}
	return nil
}

// add registers an element under its locator; callers hold p.mu.
func (p *fakePage) add(loc browser.Locator, el *fakeElement) *fakeElement {
	el.page = p
	el.loc = loc
	if el.styles == nil {
		el.styles = map[string]string{}
	}
	if el.attrs == nil {
		el.attrs = map[string]string{}
	}
	p.elements[loc.String()] = el
	return el
}

func (p *fakePage) lookup(loc browser.Locator) *fakeElement {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.elements[loc.String()]
}

func (p *fakePage) Element(ctx context.Context, loc browser.Locator) (browser.Element, error) {
	for {
		if el := p.lookup(loc); el != nil {
			return el, nil
		}
		select {
		case <-ctx.Done():
			return nil, &browser.ElementNotFoundError{Locator: loc, Err: ctx.Err()}
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func (p *fakePage) Find(ctx context.Context, loc browser.Locator) (browser.Element, error) {
	if el := p.lookup(loc); el != nil {
		return el, nil
	}
	return nil, &browser.ElementNotFoundError{Locator: loc}
}

func (p *fakePage) URL(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url, nil
}

func (p *fakePage) Cookies(ctx context.Context) ([]browser.Cookie, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]browser.Cookie(nil), p.cookies...), nil
}

func (p *fakePage) SessionStorageLen(ctx context.Context) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.storage, nil
}

func (p *fakePage) OnExchange(fn func(browser.Exchange)) func() {
	p.mu.Lock()
	id := p.nextObs
	p.nextObs++
	p.observers[id] = fn
	p.mu.Unlock()
	return func() {
		p.mu.Lock()
		delete(p.observers, id)
		p.mu.Unlock()
	}
}

// respond simulates a network round trip, honoring registered stubs.
func (p *fakePage) respond(method, url string, status int) int {
	p.mu.Lock()
	for _, s := range p.stubs {
		if browser.MatchRequest(s.Method, s.Path, method, url) {
			status = s.Status
		}
	}
	fns := make([]func(browser.Exchange), 0, len(p.observers))
	for _, fn := range p.observers {
		fns = append(fns, fn)
	}
	p.mu.Unlock()

	ex := browser.Exchange{RequestID: url, Method: method, URL: url, Status: status, ObservedAt: time.Now()}
	for _, fn := range fns {
		fn(ex)
	}
	return status
}

func (p *fakePage) Stub(ctx context.Context, stub browser.Stub) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stubs = append(p.stubs, stub)
	return nil
}

func (p *fakePage) Screenshot(ctx context.Context) ([]byte, error) {
	return []byte("\x89PNG fake"), nil
}

func (p *fakePage) Reset(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return browser.ErrSessionClosed
	}
	p.resets++
	p.url = "about:blank"
	p.elements = map[string]*fakeElement{}
	p.cookies = nil
	p.storage = 0
	p.stubs = nil
	return nil
}

func (p *fakePage) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

type fakeElement struct {
	page     *fakePage
	loc      browser.Locator
	visible  bool
	disabled bool
	value    string
	styles   map[string]string
	attrs    map[string]string
	onClick  func(p *fakePage)
}

func (e *fakeElement) Visible(ctx context.Context) (bool, error) {
	e.page.mu.Lock()
	defer e.page.mu.Unlock()
	return e.visible, nil
}

func (e *fakeElement) Interactable(ctx context.Context) error {
	e.page.mu.Lock()
	defer e.page.mu.Unlock()
	switch {
	case e.disabled:
		return &browser.ElementNotInteractableError{Locator: e.loc, Reason: "disabled"}
	case !e.visible:
		return &browser.ElementNotInteractableError{Locator: e.loc, Reason: "hidden or covered"}
	}
	return nil
}

func (e *fakeElement) Click(ctx context.Context) error {
	e.page.mu.Lock()
	fn := e.onClick
	e.page.mu.Unlock()
	if fn != nil {
		fn(e.page)
	}
	return nil
}

func (e *fakeElement) Input(ctx context.Context, text string) error {
	e.page.mu.Lock()
	defer e.page.mu.Unlock()
	if e.attrs["maxlength"] != "" && len(text) > 3 {
		text = text[:3]
	}
	e.value += text
	return nil
}

func (e *fakeElement) Clear(ctx context.Context) error {
	e.page.mu.Lock()
	defer e.page.mu.Unlock()
	e.value = ""
	return nil
}

func (e *fakeElement) Value(ctx context.Context) (string, error) {
	e.page.mu.Lock()
	defer e.page.mu.Unlock()
	return e.value, nil
}

func (e *fakeElement) Style(ctx context.Context, property string) (string, error) {
	e.page.mu.Lock()
	defer e.page.mu.Unlock()
	return e.styles[property], nil
}

func (e *fakeElement) Attr(ctx context.Context, name string) (string, bool, error) {
	e.page.mu.Lock()
	defer e.page.mu.Unlock()
	v, ok := e.attrs[name]
	return v, ok, nil
}

func (p *fakePage) setVisible(key string, visible bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if el, ok := p.elements[key]; ok {
		el.visible = visible
	}
}

// loginSite mimics the fixture login page: a failed POST /login reveals
// #error_box, a successful one moves to /home.
func loginSite(p *fakePage) {
	p.add(browser.Locator{Selector: "html"}, &fakeElement{visible: true, attrs: map[string]string{"lang": "en"}})
	p.add(browser.Locator{Selector: "#email"}, &fakeElement{visible: true, styles: map[string]string{"border-top-color": "rgb(240, 240, 240)"}})
	p.add(browser.Locator{Selector: "#pass"}, &fakeElement{visible: true})
	p.add(browser.Locator{Selector: "#error_box"}, &fakeElement{})
	p.add(browser.Locator{Selector: "#locked"}, &fakeElement{visible: true, disabled: true})
	p.add(browser.Locator{Selector: "#short"}, &fakeElement{visible: true, attrs: map[string]string{"maxlength": "3"}})
	p.add(browser.Locator{Contains: "Create new account"}, &fakeElement{visible: true, onClick: func(p *fakePage) {
		p.mu.Lock()
		p.add(browser.Locator{Selector: `[data-testid="open-registration-form-button"]`}, &fakeElement{visible: true})
		p.mu.Unlock()
	}})
	p.add(browser.Locator{Selector: "button[name=login]"}, &fakeElement{
		visible: true,
		styles:  map[string]string{"background-color": "rgb(24, 119, 242)"},
		onClick: func(p *fakePage) {
			p.mu.Lock()
			p.storage++
			p.cookies = append(p.cookies, browser.Cookie{Name: "fr", Value: "1", Path: "/"})
			email := p.elements["#email"].value
			p.mu.Unlock()

			go func() {
				time.Sleep(20 * time.Millisecond)
				want := 401
				if email == "demo@example.com" {
					want = 200
				}
				got := p.respond("POST", fakeBase+"/login", want)
				if got == 200 {
					p.mu.Lock()
					p.url = fakeBase + "/home"
					p.mu.Unlock()
					return
				}
				p.setVisible("#error_box", true)
			}()
		},
	})
}
