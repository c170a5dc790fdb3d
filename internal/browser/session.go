package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Open creates a page on engine and loads url, failing with *NavigationError
// when the page does not load within timeout. The caller owns the returned
// page and must Close it.
func Open(ctx context.Context, engine Engine, url string, timeout time.Duration) (Page, error) {
	page, err := engine.NewPage(ctx)
	if err != nil {
		return nil, err
	}
	if err := Visit(ctx, page, url, timeout); err != nil {
		_ = page.Close()
		return nil, err
	}
	return page, nil
}

// Visit navigates an existing page, bounded by timeout.
func Visit(ctx context.Context, page Page, url string, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return page.Navigate(ctx, url)
}

// rodPage drives one incognito browser context through rod. The context is
// replaced wholesale on Reset so no cookie or storage survives it.
type rodPage struct {
	id     string
	root   *rod.Browser
	logger *zap.Logger

	mu        sync.Mutex
	incognito *rod.Browser
	page      *rod.Page
	cancel    context.CancelFunc
	router    *rod.HijackRouter
	stubs     []Stub
	patterns  map[string]bool
	closed    bool

	obsMu     sync.Mutex
	observers map[int]func(Exchange)
	nextObs   int
}

func newRodPage(root *rod.Browser, logger *zap.Logger) (*rodPage, error) {
	id := uuid.NewString()
	p := &rodPage{
		id:        id,
		root:      root,
		logger:    logger.With(zap.String("session", id)),
		observers: make(map[int]func(Exchange)),
	}

	if err := p.open(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *rodPage) open() error {
	incognito, err := p.root.Incognito()
	if err != nil {
		return fmt.Errorf("failed to create browser context: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	page, err := incognito.Context(ctx).Page(proto.TargetCreateTarget{})
	if err != nil {
		cancel()
		_ = incognito.Close()
		return fmt.Errorf("failed to create new page: %w", err)
	}

	p.incognito = incognito
	p.page = page
	p.cancel = cancel
	p.watchNetwork(page)
	return nil
}

// teardown must be called with p.mu held.
func (p *rodPage) teardown() {
	if p.router != nil {
		if err := p.router.Stop(); err != nil {
			p.logger.Debug("failed to stop hijack router", zap.Error(err))
		}
		p.router = nil
	}
	p.stubs = nil
	p.patterns = nil
	if p.incognito != nil {
		if err := p.incognito.Close(); err != nil {
			p.logger.Warn("failed to dispose browser context", zap.Error(err))
		}
	}
	if p.cancel != nil {
		p.cancel()
	}
	p.incognito, p.page, p.cancel = nil, nil, nil
}

func (p *rodPage) watchNetwork(page *rod.Page) {
	if err := (proto.NetworkEnable{}).Call(page); err != nil {
		p.logger.Warn("failed to enable network events", zap.Error(err))
		return
	}

	// EachEvent runs its handlers sequentially on one goroutine.
	methods := make(map[proto.NetworkRequestID]string)
	wait := page.EachEvent(
		func(e *proto.NetworkRequestWillBeSent) {
			methods[e.RequestID] = e.Request.Method
		},
		func(e *proto.NetworkResponseReceived) {
			method := methods[e.RequestID]
			delete(methods, e.RequestID)
			p.publish(Exchange{
				RequestID:  string(e.RequestID),
				Method:     method,
				URL:        e.Response.URL,
				Status:     e.Response.Status,
				ObservedAt: time.Now(),
			})
		},
	)
	go wait()
}

func (p *rodPage) publish(ex Exchange) {
	p.obsMu.Lock()
	fns := make([]func(Exchange), 0, len(p.observers))
	for _, fn := range p.observers {
		fns = append(fns, fn)
	}
	p.obsMu.Unlock()

	for _, fn := range fns {
		fn(ex)
	}
}

func (p *rodPage) current() (*rod.Page, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || p.page == nil {
		return nil, ErrSessionClosed
	}
	return p.page, nil
}

func (p *rodPage) ID() string { return p.id }

func (p *rodPage) Navigate(ctx context.Context, url string) error {
	page, err := p.current()
	if err != nil {
		return &NavigationError{URL: url, Err: err}
	}
	page = page.Context(ctx)
	if err := page.Navigate(url); err != nil {
		return &NavigationError{URL: url, Err: err}
	}
	if err := page.WaitLoad(); err != nil {
		return &NavigationError{URL: url, Err: err}
	}
	return nil
}

func (p *rodPage) Element(ctx context.Context, loc Locator) (Element, error) {
	page, err := p.current()
	if err != nil {
		return nil, err
	}
	el, err := page.Context(ctx).ElementByJS(locateEval(loc))
	if err != nil {
		return nil, &ElementNotFoundError{Locator: loc, Err: err}
	}
	return &rodElement{el: el, loc: loc}, nil
}

func (p *rodPage) Find(ctx context.Context, loc Locator) (Element, error) {
	page, err := p.current()
	if err != nil {
		return nil, err
	}
	el, err := page.Context(ctx).Sleeper(rod.NotFoundSleeper).ElementByJS(locateEval(loc))
	if err != nil {
		var notFound *rod.ElementNotFoundError
		if errors.As(err, &notFound) {
			return nil, &ElementNotFoundError{Locator: loc}
		}
		return nil, err
	}
	return &rodElement{el: el, loc: loc}, nil
}

func (p *rodPage) URL(ctx context.Context) (string, error) {
	page, err := p.current()
	if err != nil {
		return "", err
	}
	info, err := page.Context(ctx).Info()
	if err != nil {
		return "", fmt.Errorf("failed to read page url: %w", err)
	}
	return info.URL, nil
}

func (p *rodPage) Cookies(ctx context.Context) ([]Cookie, error) {
	page, err := p.current()
	if err != nil {
		return nil, err
	}
	raw, err := page.Context(ctx).Cookies(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to read cookies: %w", err)
	}
	cookies := make([]Cookie, 0, len(raw))
	for _, c := range raw {
		cookies = append(cookies, Cookie{Name: c.Name, Value: c.Value, Domain: c.Domain, Path: c.Path})
	}
	return cookies, nil
}

func (p *rodPage) SessionStorageLen(ctx context.Context) (int, error) {
	page, err := p.current()
	if err != nil {
		return 0, err
	}
	res, err := page.Context(ctx).Eval(`() => window.sessionStorage.length`)
	if err != nil {
		return 0, fmt.Errorf("failed to read session storage: %w", err)
	}
	return res.Value.Int(), nil
}

func (p *rodPage) OnExchange(fn func(Exchange)) func() {
	p.obsMu.Lock()
	id := p.nextObs
	p.nextObs++
	p.observers[id] = fn
	p.obsMu.Unlock()

	return func() {
		p.obsMu.Lock()
		delete(p.observers, id)
		p.obsMu.Unlock()
	}
}

func (p *rodPage) Stub(ctx context.Context, stub Stub) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || p.page == nil {
		return ErrSessionClosed
	}

	if p.router == nil {
		p.router = p.page.HijackRequests()
		p.patterns = make(map[string]bool)
		go p.router.Run()
	}

	stub.Method = strings.ToUpper(stub.Method)
	if stub.ContentType == "" {
		stub.ContentType = "application/json"
	}
	p.stubs = append(p.stubs, stub)

	// One handler per URL pattern. Whichever fires picks from every stub,
	// so stubs sharing a path but not a method all get their turn.
	pattern := hijackPattern(stub.Path)
	if p.patterns[pattern] {
		return nil
	}
	err := p.router.Add(pattern, "", p.serveStub)
	if err != nil {
		return fmt.Errorf("failed to register stub for %s: %w", stub.Path, err)
	}
	p.patterns[pattern] = true
	return nil
}

func (p *rodPage) serveStub(h *rod.Hijack) {
	method, url := h.Request.Method(), h.Request.URL().String()

	p.mu.Lock()
	stub, ok := selectStub(p.stubs, method, url)
	p.mu.Unlock()

	if !ok {
		h.ContinueRequest(&proto.FetchContinueRequest{})
		return
	}
	p.logger.Debug("serving stubbed response",
		zap.String("method", method),
		zap.String("url", url),
		zap.Int("status", stub.Status))
	h.Response.Payload().ResponseCode = stub.Status
	h.Response.SetHeader("Content-Type", stub.ContentType)
	h.Response.SetBody(stub.Body)
}

func (p *rodPage) Screenshot(ctx context.Context) ([]byte, error) {
	page, err := p.current()
	if err != nil {
		return nil, err
	}
	data, err := page.Context(ctx).Screenshot(true, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to take screenshot: %w", err)
	}
	return data, nil
}

func (p *rodPage) Reset(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrSessionClosed
	}

	p.teardown()
	if err := p.open(); err != nil {
		return fmt.Errorf("failed to reset session: %w", err)
	}
	p.logger.Debug("session reset")
	return nil
}

func (p *rodPage) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	p.teardown()
	return nil
}
