package tui

import (
	"context"
	"errors"
	"fmt"

	"github.com/lotas/tabgrouper/internal/command"
	"github.com/lotas/tabgrouper/internal/opener"
	"github.com/lotas/tabgrouper/internal/types"
)

// ErrNoTabOpener is returned by OpenTab when only the coordinator is
// reachable, which has no command for a single tab.
var ErrNoTabOpener = errors.New("opening a single tab needs a browser connection")

// Browser opens tabs on behalf of the popup.
type Browser interface {
	OpenAll(ctx context.Context, g *types.Group) (string, types.Severity)
	OpenTab(ctx context.Context, url string) error
}

// DirectBrowser opens tabs with an opener of its own.
type DirectBrowser struct {
	Opener *opener.Opener
}

func (d DirectBrowser) OpenAll(ctx context.Context, g *types.Group) (string, types.Severity) {
	return d.Opener.OpenAll(ctx, g).Notice(g.Name)
}

func (d DirectBrowser) OpenTab(ctx context.Context, url string) error {
	return d.Opener.OpenTab(ctx, url)
}

// Commander sends commands to the coordinator.
type Commander interface {
	Command(ctx context.Context, req command.Request) (command.Response, error)
}

// CoordinatorBrowser asks the running coordinator to open tabs.
type CoordinatorBrowser struct {
	Client Commander
}

func (c CoordinatorBrowser) OpenAll(ctx context.Context, g *types.Group) (string, types.Severity) {
	resp, err := c.Client.Command(ctx, command.OpenAllTabs{GroupName: g.Name})
	if err != nil {
		return opener.Outcome{Kind: opener.Failed, Err: err}.Notice(g.Name)
	}
	switch r := resp.(type) {
	case command.Success:
		if r.Applied {
			return opener.Outcome{Kind: opener.Opened, N: len(g.Tabs)}.Notice(g.Name)
		}
		if msg, sev := (opener.Outcome{Kind: opener.NoTabs}).Notice(g.Name); r.Reason == msg {
			return msg, sev
		}
		return r.Reason, types.SeverityError
	case command.ErrorResult:
		return r.Message, types.SeverityError
	}
	return fmt.Sprintf("unexpected response %T", resp), types.SeverityError
}

func (CoordinatorBrowser) OpenTab(context.Context, string) error {
	return ErrNoTabOpener
}
