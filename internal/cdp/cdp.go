// Package cdp drives a Chrome instance over the DevTools protocol as the
// coordinator's browser, in place of the extension.
package cdp

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"

	"github.com/lotas/tabgrouper/internal/applog"
	"github.com/lotas/tabgrouper/internal/opener"
)

// ErrNotConnected is returned when the DevTools session is gone.
var ErrNotConnected = errors.New("cdp: not connected")

// Browser implements opener.Browser and opener.Detector over CDP. Targets
// are given small integer ids in the order they are first seen.
type Browser struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	ids     map[target.ID]int
	targets map[int]target.ID
	next    int
}

// Connect attaches to the browser whose DevTools endpoint is url, e.g.
// ws://127.0.0.1:9222/devtools/browser/<id> or http://127.0.0.1:9222.
func Connect(ctx context.Context, url string) (*Browser, error) {
	allocCtx, cancelAlloc := chromedp.NewRemoteAllocator(ctx, url)
	bctx, cancelCtx := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(bctx); err != nil {
		cancelCtx()
		cancelAlloc()
		return nil, fmt.Errorf("connect %s: %w", url, err)
	}
	applog.Info("cdp.connected", "url", url)
	return &Browser{
		ctx: bctx,
		cancel: func() {
			cancelCtx()
			cancelAlloc()
		},
		ids:     make(map[target.ID]int),
		targets: make(map[int]target.ID),
	}, nil
}

// Close detaches from the browser. The browser keeps running.
func (b *Browser) Close() {
	if b.cancel != nil {
		b.cancel()
	}
}

// exec runs fn with a context that carries ctx's deadline and the
// browser-level executor.
func (b *Browser) exec(ctx context.Context, fn func(context.Context) error) error {
	if b == nil || b.ctx == nil || b.ctx.Err() != nil {
		return ErrNotConnected
	}
	c := chromedp.FromContext(b.ctx)
	if c == nil || c.Browser == nil {
		return ErrNotConnected
	}
	return fn(cdp.WithExecutor(ctx, c.Browser))
}

func (b *Browser) idFor(tid target.ID) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ids == nil {
		b.ids = make(map[target.ID]int)
		b.targets = make(map[int]target.ID)
	}
	if id, ok := b.ids[tid]; ok {
		return id
	}
	b.next++
	b.ids[tid] = b.next
	b.targets[b.next] = tid
	return b.next
}

func (b *Browser) targetFor(id int) (target.ID, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	tid, ok := b.targets[id]
	return tid, ok
}

func (b *Browser) CreateTab(ctx context.Context, url string, active bool) error {
	return b.exec(ctx, func(ctx context.Context) error {
		tid, err := target.CreateTarget(url).WithBackground(!active).Do(ctx)
		if err != nil {
			return fmt.Errorf("create target %s: %w", url, err)
		}
		b.idFor(tid)
		return nil
	})
}

// CreateWindow is not available: a new CDP window takes a single URL.
func (b *Browser) CreateWindow(context.Context, []string, bool) error {
	return fmt.Errorf("cdp: create window: %w", errors.ErrUnsupported)
}

func (b *Browser) Tabs(ctx context.Context) ([]opener.Tab, error) {
	var tabs []opener.Tab
	err := b.exec(ctx, func(ctx context.Context) error {
		infos, err := target.GetTargets().Do(ctx)
		if err != nil {
			return fmt.Errorf("get targets: %w", err)
		}
		for _, info := range infos {
			if info.Type != "page" {
				continue
			}
			tabs = append(tabs, opener.Tab{
				ID:    b.idFor(info.TargetID),
				URL:   info.URL,
				Title: info.Title,
			})
		}
		return nil
	})
	return tabs, err
}

func (b *Browser) ActivateTab(ctx context.Context, id int) error {
	tid, ok := b.targetFor(id)
	if !ok {
		return fmt.Errorf("activate tab %d: unknown tab", id)
	}
	return b.exec(ctx, func(ctx context.Context) error {
		return target.ActivateTarget(tid).Do(ctx)
	})
}

// SupportsMultiURLWindow checks the browser answers and reports compact
// mode, since CreateWindow is unavailable.
func (b *Browser) SupportsMultiURLWindow(ctx context.Context) (bool, error) {
	err := b.exec(ctx, func(ctx context.Context) error {
		_, product, _, _, _, err := browser.GetVersion().Do(ctx)
		if err != nil {
			return fmt.Errorf("get version: %w", err)
		}
		applog.Info("cdp.browser", "product", product)
		return nil
	})
	return false, err
}

var (
	_ opener.Browser  = (*Browser)(nil)
	_ opener.Detector = (*Browser)(nil)
)
