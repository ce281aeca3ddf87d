// Package background is the coordinator surface: it owns the context menu,
// answers commands from the other surfaces and reacts to menu clicks. It
// handles one event at a time, to completion.
package background

import (
	"context"
	"fmt"

	"github.com/lotas/tabgrouper/internal/applog"
	"github.com/lotas/tabgrouper/internal/command"
	"github.com/lotas/tabgrouper/internal/groups"
	"github.com/lotas/tabgrouper/internal/menu"
	"github.com/lotas/tabgrouper/internal/opener"
	"github.com/lotas/tabgrouper/internal/storage"
	"github.com/lotas/tabgrouper/internal/types"
)

// Notifier shows a short-lived notification to the user.
type Notifier interface {
	Notify(ctx context.Context, message string, sev types.Severity) error
}

// Prompter asks the user for a new group name. ok is false when the user
// cancelled.
type Prompter interface {
	PromptGroupName(ctx context.Context) (name string, ok bool, err error)
}

// Config wires a Coordinator to its collaborators. Menus, Notifier,
// Prompter and OnChange may be nil.
type Config struct {
	Repo     *groups.Repository
	Store    storage.Store
	Opener   *opener.Opener
	Menus    menu.Sink
	Notifier Notifier
	Prompter Prompter
	// OnChange is called with a copy of the mapping after every change
	// the coordinator observes.
	OnChange func(*types.Mapping)
}

type job struct {
	ctx   context.Context
	run   func(context.Context) command.Response
	reply chan command.Response
}

// Coordinator serializes commands, menu clicks and store changes onto a
// single loop.
type Coordinator struct {
	cfg   Config
	mux   *command.Mux
	inbox chan job
}

// New returns a Coordinator. Call Run before Handle or MenuClicked.
func New(cfg Config) *Coordinator {
	c := &Coordinator{cfg: cfg, inbox: make(chan job)}
	c.mux = command.NewMux()
	c.mux.RegisterFunc(command.ActionGetGroups, c.getGroups)
	c.mux.RegisterFunc(command.ActionCreateGroup, c.createGroup)
	c.mux.RegisterFunc(command.ActionAddTabToGroup, c.addTabToGroup)
	c.mux.RegisterFunc(command.ActionOpenAllTabs, c.openAllTabs)
	c.mux.RegisterFunc(command.ActionUpdateContextMenus, c.updateContextMenus)
	return c
}

// Run loads the mapping, builds the menu and then processes events until
// ctx is done.
func (c *Coordinator) Run(ctx context.Context) error {
	changes, cancel := c.cfg.Store.Subscribe()
	defer cancel()

	c.reload(ctx)
	applog.Info("background.started", "groups", c.cfg.Repo.Snapshot().Len())

	for {
		select {
		case <-ctx.Done():
			applog.Info("background.stopped")
			return ctx.Err()
		case rec, ok := <-changes:
			if !ok {
				return fmt.Errorf("store subscription closed")
			}
			if c.cfg.Repo.Apply(rec) {
				applog.Debug("background.store_changed", "rev", rec.Rev)
				c.changed(ctx)
			}
		case j := <-c.inbox:
			j.reply <- j.run(j.ctx)
		}
	}
}

// Handle runs req on the coordinator loop and waits for its response.
func (c *Coordinator) Handle(ctx context.Context, req command.Request) command.Response {
	return c.do(ctx, func(ctx context.Context) command.Response {
		return c.mux.Handle(ctx, req)
	})
}

// MenuClicked handles a click on the context-menu item id for tab.
func (c *Coordinator) MenuClicked(ctx context.Context, itemID string, tab types.TabRef) {
	click, ok := menu.ParseClick(itemID)
	if !ok {
		applog.Debug("background.menu_ignored", "id", itemID)
		return
	}
	c.do(ctx, func(ctx context.Context) command.Response {
		switch cl := click.(type) {
		case menu.ClickCreateGroup:
			c.clickCreate(ctx, tab)
		case menu.ClickOpenAll:
			c.openAll(ctx, cl.Name)
		case menu.ClickAddTab:
			c.clickAdd(ctx, cl.Name, tab)
		}
		return command.OK
	})
}

func (c *Coordinator) do(ctx context.Context, run func(context.Context) command.Response) command.Response {
	j := job{ctx: ctx, run: run, reply: make(chan command.Response, 1)}
	select {
	case c.inbox <- j:
	case <-ctx.Done():
		return command.ErrorResult{Message: ctx.Err().Error()}
	}
	select {
	case resp := <-j.reply:
		return resp
	case <-ctx.Done():
		return command.ErrorResult{Message: ctx.Err().Error()}
	}
}

// reload re-reads the store and rebuilds everything derived from it.
func (c *Coordinator) reload(ctx context.Context) {
	if err := c.cfg.Repo.Refresh(ctx); err != nil {
		applog.Error("background.load", err)
	}
	c.changed(ctx)
}

// changed rebuilds the menu and tells listeners about the new mapping.
func (c *Coordinator) changed(ctx context.Context) {
	snap := c.cfg.Repo.Snapshot()
	if c.cfg.Menus != nil {
		if err := menu.Rebuild(ctx, c.cfg.Menus, snap.Groups()); err != nil {
			applog.Error("background.menu", err)
		}
	}
	if c.cfg.OnChange != nil {
		c.cfg.OnChange(snap)
	}
}

func (c *Coordinator) notify(ctx context.Context, msg string, sev types.Severity) {
	if c.cfg.Notifier == nil {
		return
	}
	if err := c.cfg.Notifier.Notify(ctx, msg, sev); err != nil {
		applog.Error("background.notify", err, "message", msg)
	}
}

// fault reports an environment fault as the one generic notice.
func (c *Coordinator) fault(ctx context.Context, op string, err error) command.Response {
	applog.Error("background."+op, err)
	c.notify(ctx, groups.Failed.Reason(), types.SeverityError)
	return command.Declined(groups.Failed.Reason())
}

func (c *Coordinator) getGroups(ctx context.Context, _ command.Request) command.Response {
	before := c.cfg.Repo.Generation()
	if err := c.cfg.Repo.Refresh(ctx); err != nil {
		applog.Error("background.load", err)
	}
	if c.cfg.Repo.Generation() != before {
		c.changed(ctx)
	}
	return command.GroupsResult{Groups: c.cfg.Repo.Snapshot()}
}

func (c *Coordinator) createGroup(ctx context.Context, req command.Request) command.Response {
	r := req.(command.CreateGroup)
	res, err := c.cfg.Repo.CreateGroup(ctx, r.GroupName)
	if err != nil {
		return c.fault(ctx, "create", err)
	}
	return c.result(ctx, res)
}

func (c *Coordinator) addTabToGroup(ctx context.Context, req command.Request) command.Response {
	r := req.(command.AddTabToGroup)
	res, err := c.cfg.Repo.AddTab(ctx, r.GroupName, r.Tab)
	if err != nil {
		return c.fault(ctx, "add", err)
	}
	return c.result(ctx, res)
}

func (c *Coordinator) openAllTabs(ctx context.Context, req command.Request) command.Response {
	return c.openAll(ctx, req.(command.OpenAllTabs).GroupName)
}

func (c *Coordinator) updateContextMenus(ctx context.Context, _ command.Request) command.Response {
	c.reload(ctx)
	return command.OK
}

func (c *Coordinator) result(ctx context.Context, res groups.Result) command.Response {
	if res != groups.Applied {
		return command.Declined(res.Reason())
	}
	c.changed(ctx)
	return command.OK
}

func (c *Coordinator) openAll(ctx context.Context, name string) command.Response {
	g, ok := c.cfg.Repo.Group(name)
	if !ok {
		c.notify(ctx, groups.NotFound.Reason(), types.SeverityError)
		return command.Declined(groups.NotFound.Reason())
	}
	out := c.cfg.Opener.OpenAll(ctx, g)
	msg, sev := out.Notice(name)
	c.notify(ctx, msg, sev)
	if out.Kind != opener.Opened {
		return command.Declined(msg)
	}
	return command.OK
}

func (c *Coordinator) clickCreate(ctx context.Context, tab types.TabRef) {
	if c.cfg.Prompter == nil {
		applog.Warn("background.prompt", "reason", "no prompter")
		return
	}
	name, ok, err := c.cfg.Prompter.PromptGroupName(ctx)
	if err != nil {
		applog.Error("background.prompt", err)
		return
	}
	if !ok {
		applog.Debug("background.prompt_cancelled")
		return
	}
	name = groups.NormalizeName(name)

	res, err := c.cfg.Repo.CreateGroup(ctx, name)
	if err != nil {
		c.fault(ctx, "create", err)
		return
	}
	if res != groups.Applied && res != groups.AlreadyExists {
		c.notify(ctx, res.Reason(), types.SeverityError)
		return
	}
	if res == groups.Applied {
		c.changed(ctx)
	}

	res, err = c.cfg.Repo.AddTab(ctx, name, tab)
	switch {
	case err != nil:
		c.fault(ctx, "add", err)
	case res == groups.Applied:
		c.changed(ctx)
		c.notify(ctx, fmt.Sprintf("Tab added to new group \"%s\"", name), types.SeveritySuccess)
	default:
		c.notify(ctx, res.Reason(), types.SeverityWarning)
	}
}

func (c *Coordinator) clickAdd(ctx context.Context, name string, tab types.TabRef) {
	res, err := c.cfg.Repo.AddTab(ctx, name, tab)
	switch {
	case err != nil:
		c.fault(ctx, "add", err)
	case res == groups.Applied:
		c.changed(ctx)
		c.notify(ctx, fmt.Sprintf("Tab added to \"%s\"", name), types.SeveritySuccess)
	case res == groups.Duplicate:
		c.notify(ctx, res.Reason(), types.SeverityWarning)
	default:
		c.notify(ctx, res.Reason(), types.SeverityError)
	}
}
