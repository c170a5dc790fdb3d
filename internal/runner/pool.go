package runner

import (
	"context"
	"sync"
	"time"

	"github.com/ahrdadan/uicheck/internal/browser"
)

// sessionPool recycles pages between scenarios. A page is held by at most one
// scenario at a time and is reset before every reuse.
type sessionPool struct {
	engine     browser.Engine
	navTimeout time.Duration

	mu   sync.Mutex
	idle []browser.Page
	all  []browser.Page
}

func newSessionPool(engine browser.Engine, navTimeout time.Duration) *sessionPool {
	return &sessionPool{engine: engine, navTimeout: navTimeout}
}

// acquire returns a page with empty cookies and storage loaded at url.
func (p *sessionPool) acquire(ctx context.Context, url string) (browser.Page, error) {
	if page := p.popIdle(); page != nil {
		if err := page.Reset(ctx); err == nil {
			if err := browser.Visit(ctx, page, url, p.navTimeout); err != nil {
				p.release(page)
				return nil, err
			}
			return page, nil
		}
		p.forget(page)
	}

	page, err := browser.Open(ctx, p.engine, url, p.navTimeout)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.all = append(p.all, page)
	p.mu.Unlock()
	return page, nil
}

func (p *sessionPool) release(page browser.Page) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.idle = append(p.idle, page)
}

func (p *sessionPool) popIdle() browser.Page {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.idle) == 0 {
		return nil
	}
	page := p.idle[len(p.idle)-1]
	p.idle = p.idle[:len(p.idle)-1]
	return page
}

func (p *sessionPool) forget(page browser.Page) {
	_ = page.Close()
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, pg := range p.all {
		if pg == page {
			p.all = append(p.all[:i], p.all[i+1:]...)
			break
		}
	}
}

func (p *sessionPool) close() {
	p.mu.Lock()
	pages := p.all
	p.all, p.idle = nil, nil
	p.mu.Unlock()

	for _, page := range pages {
		_ = page.Close()
	}
}
