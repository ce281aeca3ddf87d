// Package bridge implements the coordinator's collaborators on top of the
// WebSocket server: the browser extension provides tabs, windows, menus and
// notifications, and the content surface provides the name prompt.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lotas/tabgrouper/internal/applog"
	"github.com/lotas/tabgrouper/internal/command"
	"github.com/lotas/tabgrouper/internal/menu"
	"github.com/lotas/tabgrouper/internal/opener"
	"github.com/lotas/tabgrouper/internal/server"
	"github.com/lotas/tabgrouper/internal/types"
)

// Extension methods.
const (
	MethodTabsCreate      = "tabs.create"
	MethodTabsQuery       = "tabs.query"
	MethodTabsUpdate      = "tabs.update"
	MethodWindowsCreate   = "windows.create"
	MethodMenusRemoveAll  = "menus.removeAll"
	MethodMenusCreate     = "menus.create"
	MethodNotifyCreate    = "notifications.create"
	MethodGetBrowserInfo  = "runtime.getBrowserInfo"
	notificationTitle     = "Tab Grouper"
	notificationSendLimit = 5 * time.Second
)

// Caller is the part of the server the collaborators use.
type Caller interface {
	Call(ctx context.Context, surface server.Surface, method string, params, result any) error
	Connected(surface server.Surface) bool
}

// Extension talks to the browser extension.
type Extension struct {
	srv Caller
}

// NewExtension returns the extension collaborator.
func NewExtension(srv Caller) *Extension {
	return &Extension{srv: srv}
}

func (e *Extension) call(ctx context.Context, method string, params, result any) error {
	return e.srv.Call(ctx, server.SurfaceExtension, method, params, result)
}

func (e *Extension) CreateTab(ctx context.Context, url string, active bool) error {
	return e.call(ctx, MethodTabsCreate, map[string]any{"url": url, "active": active}, nil)
}

func (e *Extension) CreateWindow(ctx context.Context, urls []string, focused bool) error {
	return e.call(ctx, MethodWindowsCreate, map[string]any{"url": urls, "focused": focused}, nil)
}

func (e *Extension) Tabs(ctx context.Context) ([]opener.Tab, error) {
	var raw json.RawMessage
	if err := e.call(ctx, MethodTabsQuery, map[string]any{}, &raw); err != nil {
		return nil, err
	}
	return server.ParseTabs(raw)
}

func (e *Extension) ActivateTab(ctx context.Context, id int) error {
	return e.call(ctx, MethodTabsUpdate, map[string]any{"tabId": id, "active": true}, nil)
}

func (e *Extension) RemoveAll(ctx context.Context) error {
	return e.call(ctx, MethodMenusRemoveAll, nil, nil)
}

func (e *Extension) Create(ctx context.Context, item menu.Item) error {
	return e.call(ctx, MethodMenusCreate, item, nil)
}

// BrowserInfo is the runtime.getBrowserInfo answer, extended with the
// operating system the browser runs on.
type BrowserInfo struct {
	Name    string `json:"name"`
	Vendor  string `json:"vendor,omitempty"`
	Version string `json:"version,omitempty"`
	OS      string `json:"os,omitempty"`
}

// SupportsMultiURLWindow asks the extension which browser it runs in.
// Mobile browsers cannot create a window from a URL list.
func (e *Extension) SupportsMultiURLWindow(ctx context.Context) (bool, error) {
	var info BrowserInfo
	if err := e.call(ctx, MethodGetBrowserInfo, nil, &info); err != nil {
		return false, err
	}
	if info.Name == "" {
		return false, fmt.Errorf("browser info: empty name")
	}
	mobile := strings.EqualFold(info.OS, "android") || strings.EqualFold(info.OS, "ios")
	applog.Info("bridge.browser", "name", info.Name, "version", info.Version, "os", info.OS, "multi", !mobile)
	return !mobile, nil
}

// Notifier shows notifications through the extension, or through the
// content surface when no extension is connected. Delivery is
// fire-and-forget.
type Notifier struct {
	srv Caller
}

// NewNotifier returns a Notifier.
func NewNotifier(srv Caller) *Notifier {
	return &Notifier{srv: srv}
}

func (n *Notifier) Notify(ctx context.Context, message string, sev types.Severity) error {
	surface, method, params := n.route(message, sev)
	if surface == "" {
		applog.Info("bridge.notify_unrouted", "message", message)
		return nil
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notificationSendLimit)
		defer cancel()
		if err := n.srv.Call(ctx, surface, method, params, nil); err != nil {
			applog.Error("bridge.notify", err, "surface", string(surface))
		}
	}()
	return nil
}

func (n *Notifier) route(message string, sev types.Severity) (server.Surface, string, any) {
	switch {
	case n.srv.Connected(server.SurfaceExtension):
		return server.SurfaceExtension, MethodNotifyCreate, map[string]any{
			"type":     "basic",
			"title":    notificationTitle,
			"message":  message,
			"severity": sev,
		}
	case n.srv.Connected(server.SurfaceContent):
		req, _ := command.EncodeRequest(command.ShowNotification{Text: message, Type: sev})
		return server.SurfaceContent, server.MethodCommand, json.RawMessage(req)
	}
	return "", "", nil
}

// Prompter asks the content surface for a group name.
type Prompter struct {
	srv Caller
}

// NewPrompter returns a Prompter.
func NewPrompter(srv Caller) *Prompter {
	return &Prompter{srv: srv}
}

func (p *Prompter) PromptGroupName(ctx context.Context) (string, bool, error) {
	req, err := command.EncodeRequest(command.PromptGroupName{})
	if err != nil {
		return "", false, err
	}
	var raw json.RawMessage
	if err := p.srv.Call(ctx, server.SurfaceContent, server.MethodCommand, json.RawMessage(req), &raw); err != nil {
		return "", false, fmt.Errorf("prompt group name: %w", err)
	}
	resp, err := command.DecodeResponse(raw)
	if err != nil {
		return "", false, fmt.Errorf("prompt group name: %w", err)
	}
	switch r := resp.(type) {
	case command.GroupNameResult:
		if r.Cancelled {
			return "", false, nil
		}
		return r.GroupName, true, nil
	case command.ErrorResult:
		return "", false, fmt.Errorf("prompt group name: %s", r.Message)
	}
	return "", false, fmt.Errorf("prompt group name: unexpected response %T", resp)
}
