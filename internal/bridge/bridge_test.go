package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/lotas/tabgrouper/internal/menu"
	"github.com/lotas/tabgrouper/internal/server"
	"github.com/lotas/tabgrouper/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sentCall struct {
	surface server.Surface
	method  string
	params  string
}

type fakeCaller struct {
	mu        sync.Mutex
	calls     []sentCall
	results   map[string]string
	errs      map[string]error
	connected map[server.Surface]bool
	sent      chan sentCall
}

func newFakeCaller() *fakeCaller {
	return &fakeCaller{
		results:   map[string]string{},
		errs:      map[string]error{},
		connected: map[server.Surface]bool{},
		sent:      make(chan sentCall, 8),
	}
}

func (f *fakeCaller) Call(_ context.Context, surface server.Surface, method string, params, result any) error {
	var p string
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return err
		}
		p = string(data)
	}
	c := sentCall{surface: surface, method: method, params: p}
	f.mu.Lock()
	f.calls = append(f.calls, c)
	res, err := f.results[method], f.errs[method]
	f.mu.Unlock()
	f.sent <- c
	if err != nil {
		return err
	}
	if result != nil && res != "" {
		return json.Unmarshal([]byte(res), result)
	}
	return nil
}

func (f *fakeCaller) Connected(surface server.Surface) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected[surface]
}

func TestExtensionOpensTabsAndWindows(t *testing.T) {
	f := newFakeCaller()
	ext := NewExtension(f)
	ctx := context.Background()

	require.NoError(t, ext.CreateTab(ctx, "https://a.com", false))
	require.NoError(t, ext.CreateWindow(ctx, []string{"https://a.com", "https://b.com"}, true))
	require.NoError(t, ext.ActivateTab(ctx, 42))

	require.Len(t, f.calls, 3)
	assert.Equal(t, server.SurfaceExtension, f.calls[0].surface)
	assert.Equal(t, MethodTabsCreate, f.calls[0].method)
	assert.JSONEq(t, `{"url":"https://a.com","active":false}`, f.calls[0].params)
	assert.Equal(t, MethodWindowsCreate, f.calls[1].method)
	assert.JSONEq(t, `{"url":["https://a.com","https://b.com"],"focused":true}`, f.calls[1].params)
	assert.Equal(t, MethodTabsUpdate, f.calls[2].method)
	assert.JSONEq(t, `{"tabId":42,"active":true}`, f.calls[2].params)
}

func TestExtensionTabs(t *testing.T) {
	f := newFakeCaller()
	f.results[MethodTabsQuery] = `[{"id":3,"url":"https://a.com","active":true},{"id":9,"url":"https://b.com"}]`

	tabs, err := NewExtension(f).Tabs(context.Background())
	require.NoError(t, err)
	require.Len(t, tabs, 2)
	assert.Equal(t, 9, tabs[1].ID)
	assert.True(t, tabs[0].Active)
}

func TestExtensionMenus(t *testing.T) {
	f := newFakeCaller()
	ext := NewExtension(f)
	ctx := context.Background()

	require.NoError(t, menu.Rebuild(ctx, ext, nil))

	require.Len(t, f.calls, 3)
	assert.Equal(t, MethodMenusRemoveAll, f.calls[0].method)
	assert.Equal(t, MethodMenusCreate, f.calls[1].method)
	assert.Contains(t, f.calls[1].params, `"id":"tabGrouper"`)
}

func TestSupportsMultiURLWindow(t *testing.T) {
	tests := []struct {
		info string
		want bool
	}{
		{`{"name":"Firefox","version":"128.0"}`, true},
		{`{"name":"Firefox","os":"linux"}`, true},
		{`{"name":"Firefox","os":"android"}`, false},
		{`{"name":"Firefox","os":"Android"}`, false},
	}
	for _, tt := range tests {
		f := newFakeCaller()
		f.results[MethodGetBrowserInfo] = tt.info
		got, err := NewExtension(f).SupportsMultiURLWindow(context.Background())
		require.NoError(t, err, tt.info)
		assert.Equal(t, tt.want, got, tt.info)
	}
}

func TestSupportsMultiURLWindowFailure(t *testing.T) {
	f := newFakeCaller()
	f.errs[MethodGetBrowserInfo] = errors.New("no extension")
	_, err := NewExtension(f).SupportsMultiURLWindow(context.Background())
	assert.Error(t, err)

	f = newFakeCaller()
	f.results[MethodGetBrowserInfo] = `{}`
	_, err = NewExtension(f).SupportsMultiURLWindow(context.Background())
	assert.Error(t, err)
}

func waitSent(t *testing.T, f *fakeCaller) sentCall {
	t.Helper()
	select {
	case c := <-f.sent:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("no call sent")
		return sentCall{}
	}
}

func TestNotifierPrefersExtension(t *testing.T) {
	f := newFakeCaller()
	f.connected[server.SurfaceExtension] = true
	f.connected[server.SurfaceContent] = true

	require.NoError(t, NewNotifier(f).Notify(context.Background(), `Tab added to "Work"`, types.SeveritySuccess))

	c := waitSent(t, f)
	assert.Equal(t, server.SurfaceExtension, c.surface)
	assert.Equal(t, MethodNotifyCreate, c.method)
	assert.JSONEq(t, `{"type":"basic","title":"Tab Grouper","message":"Tab added to \"Work\"","severity":"success"}`, c.params)
}

func TestNotifierFallsBackToContent(t *testing.T) {
	f := newFakeCaller()
	f.connected[server.SurfaceContent] = true

	require.NoError(t, NewNotifier(f).Notify(context.Background(), "Group not found", types.SeverityError))

	c := waitSent(t, f)
	assert.Equal(t, server.SurfaceContent, c.surface)
	assert.Equal(t, server.MethodCommand, c.method)
	assert.JSONEq(t, `{"action":"showNotification","text":"Group not found","type":"error"}`, c.params)
}

func TestNotifierWithoutPeers(t *testing.T) {
	f := newFakeCaller()
	require.NoError(t, NewNotifier(f).Notify(context.Background(), "hello", types.SeverityInfo))
	select {
	case c := <-f.sent:
		t.Fatalf("unexpected call %+v", c)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestNotifierOutlivesCallerContext(t *testing.T) {
	f := newFakeCaller()
	f.connected[server.SurfaceExtension] = true
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, NewNotifier(f).Notify(ctx, "bye", types.SeverityInfo))
	cancel()
	waitSent(t, f)
}

func TestPrompter(t *testing.T) {
	tests := []struct {
		name     string
		result   string
		err      error
		wantName string
		wantOK   bool
		wantErr  bool
	}{
		{name: "answered", result: `{"groupName":"Work"}`, wantName: "Work", wantOK: true},
		{name: "cancelled", result: `{"groupName":null}`},
		{name: "surface error", result: `{"error":"Unknown action"}`, wantErr: true},
		{name: "call failed", err: server.ErrNoPeer, wantErr: true},
		{name: "unexpected shape", result: `{"success":true}`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakeCaller()
			f.results[server.MethodCommand] = tt.result
			if tt.err != nil {
				f.errs[server.MethodCommand] = tt.err
			}
			name, ok, err := NewPrompter(f).PromptGroupName(context.Background())
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantName, name)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, server.SurfaceContent, f.calls[0].surface)
			assert.JSONEq(t, `{"action":"promptGroupName"}`, f.calls[0].params)
		})
	}
}

func TestPrompterErrorWrapsNoPeer(t *testing.T) {
	f := newFakeCaller()
	f.errs[server.MethodCommand] = server.ErrNoPeer
	_, _, err := NewPrompter(f).PromptGroupName(context.Background())
	assert.ErrorIs(t, err, server.ErrNoPeer)
}
