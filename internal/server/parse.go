package server

import (
	"encoding/json"
	"fmt"

	"github.com/lotas/tabgrouper/internal/command"
	"github.com/lotas/tabgrouper/internal/opener"
	"github.com/lotas/tabgrouper/internal/types"
)

// wireTab is a tab as the extension reports it.
type wireTab struct {
	ID         int    `json:"id"`
	URL        string `json:"url"`
	Title      string `json:"title"`
	FavIconURL string `json:"favIconUrl"`
	Active     bool   `json:"active"`
	WindowID   int    `json:"windowId"`
	Index      int    `json:"index"`
}

type menuClick struct {
	MenuItemID string  `json:"menuItemId"`
	Tab        wireTab `json:"tab"`
}

// ParseMenuClick converts a menus.clicked event into the clicked item id
// and the tab it was clicked on.
func ParseMenuClick(msg IncomingMsg) (string, types.TabRef, error) {
	var c menuClick
	if err := json.Unmarshal(msg.Params, &c); err != nil {
		return "", types.TabRef{}, fmt.Errorf("parse menu click: %w", err)
	}
	if c.MenuItemID == "" {
		return "", types.TabRef{}, fmt.Errorf("parse menu click: missing menuItemId")
	}
	tab := types.TabRef{
		ID:      c.Tab.ID,
		Title:   c.Tab.Title,
		URL:     c.Tab.URL,
		Favicon: c.Tab.FavIconURL,
	}
	return c.MenuItemID, tab, nil
}

// ParseTabs converts a tabs.query result into browser tabs, keeping the
// order the extension reported.
func ParseTabs(raw json.RawMessage) ([]opener.Tab, error) {
	var tabs []wireTab
	if err := json.Unmarshal(raw, &tabs); err != nil {
		return nil, fmt.Errorf("parse tabs: %w", err)
	}
	out := make([]opener.Tab, len(tabs))
	for i, t := range tabs {
		out[i] = opener.Tab{ID: t.ID, URL: t.URL, Title: t.Title, Active: t.Active}
	}
	return out, nil
}

// ParseCommand decodes the request carried by a command call.
func ParseCommand(msg IncomingMsg) (command.Request, error) {
	if msg.Method != MethodCommand {
		return nil, fmt.Errorf("parse command: unexpected method %q", msg.Method)
	}
	return command.DecodeRequest(msg.Params)
}
