// Package menu derives the context-menu tree from the group mapping and
// maps clicked item ids back to commands.
package menu

import (
	"context"
	"fmt"
	"strings"

	"github.com/lotas/tabgrouper/internal/applog"
	"github.com/lotas/tabgrouper/internal/metrics"
	"github.com/lotas/tabgrouper/internal/types"
)

const (
	RootID      = "tabGrouper"
	CreateID    = "createGroup"
	SeparatorID = "separator"

	groupPrefix = "group_"
	openPrefix  = "group_open_"
	addPrefix   = "group_add_"
)

// Contexts are the browser contexts every item shows up in.
var Contexts = []string{"page", "tab"}

// Item is one context-menu entry.
type Item struct {
	ID        string   `json:"id"`
	ParentID  string   `json:"parentId,omitempty"`
	Title     string   `json:"title,omitempty"`
	Separator bool     `json:"-"`
	Type      string   `json:"type"`
	Contexts  []string `json:"contexts"`
}

func GroupID(name string) string { return groupPrefix + name }
func OpenID(name string) string  { return openPrefix + name }
func AddID(name string) string   { return addPrefix + name }

// Build returns the full menu tree in creation order: parents always come
// before their children.
func Build(groups []*types.Group) []Item {
	items := []Item{leaf(RootID, "", "Add to Tab Group")}
	if len(groups) == 0 {
		return append(items, leaf(CreateID, RootID, "Create New Group..."))
	}
	for _, g := range groups {
		items = append(items,
			leaf(GroupID(g.Name), RootID, fmt.Sprintf("📁 %s (%d)", g.Name, len(g.Tabs))),
			leaf(OpenID(g.Name), GroupID(g.Name), "Open All Tabs"),
			leaf(AddID(g.Name), GroupID(g.Name), "Add Current Tab"),
		)
	}
	items = append(items,
		Item{ID: SeparatorID, ParentID: RootID, Separator: true, Type: "separator", Contexts: Contexts},
		leaf(CreateID, RootID, "➕ Create New Group..."),
	)
	return items
}

func leaf(id, parent, title string) Item {
	return Item{ID: id, ParentID: parent, Title: title, Type: "normal", Contexts: Contexts}
}

// Sink is the browser's context-menu API.
type Sink interface {
	RemoveAll(ctx context.Context) error
	Create(ctx context.Context, item Item) error
}

// Rebuild clears the menu and recreates it from groups.
func Rebuild(ctx context.Context, sink Sink, groups []*types.Group) error {
	if err := sink.RemoveAll(ctx); err != nil {
		return fmt.Errorf("clear menu: %w", err)
	}
	items := Build(groups)
	for _, it := range items {
		if err := sink.Create(ctx, it); err != nil {
			return fmt.Errorf("create menu item %s: %w", it.ID, err)
		}
	}
	metrics.MenuRebuildsTotal.Inc()
	applog.Debug("menu.rebuilt", "groups", len(groups), "items", len(items))
	return nil
}

// Click is a parsed menu click.
type Click interface {
	click()
}

type (
	ClickCreateGroup struct{}
	ClickOpenAll     struct{ Name string }
	ClickAddTab      struct{ Name string }
)

func (ClickCreateGroup) click() {}
func (ClickOpenAll) click()     {}
func (ClickAddTab) click()      {}

// ParseClick maps an item id to its action. The open and add prefixes are
// checked before anything else. Group parents, the root and the separator
// are not actionable.
func ParseClick(id string) (Click, bool) {
	switch {
	case strings.HasPrefix(id, openPrefix):
		return ClickOpenAll{Name: strings.TrimPrefix(id, openPrefix)}, true
	case strings.HasPrefix(id, addPrefix):
		return ClickAddTab{Name: strings.TrimPrefix(id, addPrefix)}, true
	case id == CreateID:
		return ClickCreateGroup{}, true
	}
	return nil, false
}

// Render draws items as an indented tree, one item per line.
func Render(items []Item) string {
	depth := map[string]int{"": -1}
	var b strings.Builder
	for _, it := range items {
		d := depth[it.ParentID] + 1
		depth[it.ID] = d
		title := it.Title
		if it.Separator {
			title = "──────────"
		}
		fmt.Fprintf(&b, "%s%s  [%s]\n", strings.Repeat("  ", d), title, it.ID)
	}
	return b.String()
}
