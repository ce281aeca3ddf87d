// Package opener reopens the tabs of a group in the browser.
package opener

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/lotas/tabgrouper/internal/applog"
	"github.com/lotas/tabgrouper/internal/types"
)

// ErrNoBrowser is reported when no browser is connected.
var ErrNoBrowser = errors.New("opener: no browser")

// Tab is a live browser tab as reported by the browser.
type Tab struct {
	ID     int    `json:"id"`
	URL    string `json:"url"`
	Title  string `json:"title,omitempty"`
	Active bool   `json:"active"`
}

// Browser is the subset of the browser tabs/windows API the opener needs.
type Browser interface {
	CreateTab(ctx context.Context, url string, active bool) error
	CreateWindow(ctx context.Context, urls []string, focused bool) error
	// Tabs lists every tab across all windows, in browser order.
	Tabs(ctx context.Context) ([]Tab, error)
	ActivateTab(ctx context.Context, id int) error
}

// Detector answers whether the browser can open a window with several URLs
// in one call.
type Detector interface {
	SupportsMultiURLWindow(ctx context.Context) (bool, error)
}

// DetectorFunc adapts a function to Detector.
type DetectorFunc func(ctx context.Context) (bool, error)

func (f DetectorFunc) SupportsMultiURLWindow(ctx context.Context) (bool, error) {
	return f(ctx)
}

// Static is a Detector with a fixed answer.
type Static bool

func (s Static) SupportsMultiURLWindow(context.Context) (bool, error) {
	return bool(s), nil
}

// Kind classifies an Outcome.
type Kind int

const (
	Opened Kind = iota
	NoTabs
	Failed
)

func (k Kind) String() string {
	switch k {
	case Opened:
		return "opened"
	case NoTabs:
		return "no tabs"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Outcome is the result of OpenAll. N is set for Opened, Err for Failed.
type Outcome struct {
	Kind Kind
	N    int
	Err  error
}

// Notice returns the user-facing message for the outcome.
func (o Outcome) Notice(group string) (string, types.Severity) {
	switch o.Kind {
	case Opened:
		return fmt.Sprintf("Opened %d tabs from \"%s\"", o.N, group), types.SeveritySuccess
	case NoTabs:
		return "No tabs in this group", types.SeverityWarning
	}
	return "Failed to open tabs", types.SeverityError
}

// Opener opens groups through a Browser. The multi-URL capability is asked
// of the Detector once; the first successful answer is kept.
type Opener struct {
	browser  Browser
	detector Detector

	mu       sync.Mutex
	resolved bool
	multi    bool
}

// New returns an Opener.
func New(b Browser, d Detector) *Opener {
	return &Opener{browser: b, detector: d}
}

// OpenAll opens every tab of g. With multi-URL support it creates one
// focused window holding all URLs in order; without it, it creates the
// tabs one at a time in the background and then activates the last tab
// the browser reports.
func (o *Opener) OpenAll(ctx context.Context, g *types.Group) Outcome {
	if len(g.Tabs) == 0 {
		return Outcome{Kind: NoTabs}
	}
	if o == nil || o.browser == nil {
		return Outcome{Kind: Failed, Err: ErrNoBrowser}
	}

	multi, err := o.capability(ctx)
	if err != nil {
		applog.Error("open.detect", err, "group", g.Name)
		return Outcome{Kind: Failed, Err: err}
	}

	if multi {
		err = o.openWindow(ctx, g)
	} else {
		err = o.openTabs(ctx, g)
	}
	if err != nil {
		applog.Error("open.all", err, "group", g.Name, "multi", multi)
		return Outcome{Kind: Failed, Err: err}
	}
	applog.Info("open.all", "group", g.Name, "tabs", len(g.Tabs), "multi", multi)
	return Outcome{Kind: Opened, N: len(g.Tabs)}
}

// OpenTab opens a single URL in a new, active tab.
func (o *Opener) OpenTab(ctx context.Context, url string) error {
	if o == nil || o.browser == nil {
		return ErrNoBrowser
	}
	if err := o.browser.CreateTab(ctx, url, true); err != nil {
		return fmt.Errorf("open tab: %w", err)
	}
	return nil
}

func (o *Opener) capability(ctx context.Context) (bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.resolved {
		return o.multi, nil
	}
	if o.detector == nil {
		return false, errors.New("detect browser: no detector")
	}
	multi, err := o.detector.SupportsMultiURLWindow(ctx)
	if err != nil {
		return false, fmt.Errorf("detect browser: %w", err)
	}
	o.resolved = true
	o.multi = multi
	return multi, nil
}

func (o *Opener) openWindow(ctx context.Context, g *types.Group) error {
	urls := make([]string, len(g.Tabs))
	for i, t := range g.Tabs {
		urls[i] = t.URL
	}
	if err := o.browser.CreateWindow(ctx, urls, true); err != nil {
		return fmt.Errorf("create window: %w", err)
	}
	return nil
}

func (o *Opener) openTabs(ctx context.Context, g *types.Group) error {
	for _, t := range g.Tabs {
		if err := o.browser.CreateTab(ctx, t.URL, false); err != nil {
			return fmt.Errorf("create tab %s: %w", t.URL, err)
		}
	}
	tabs, err := o.browser.Tabs(ctx)
	if err != nil {
		return fmt.Errorf("query tabs: %w", err)
	}
	if len(tabs) == 0 {
		return nil
	}
	last := tabs[len(tabs)-1]
	if err := o.browser.ActivateTab(ctx, last.ID); err != nil {
		return fmt.Errorf("activate tab %d: %w", last.ID, err)
	}
	return nil
}
