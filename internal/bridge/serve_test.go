package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"github.com/lotas/tabgrouper/internal/background"
	"github.com/lotas/tabgrouper/internal/client"
	"github.com/lotas/tabgrouper/internal/command"
	"github.com/lotas/tabgrouper/internal/groups"
	"github.com/lotas/tabgrouper/internal/opener"
	"github.com/lotas/tabgrouper/internal/server"
	"github.com/lotas/tabgrouper/internal/storage"
	"github.com/lotas/tabgrouper/internal/types"
)

type replied struct {
	id     string
	result any
	err    error
}

type fakeSource struct {
	msgs    chan server.IncomingMsg
	mu      sync.Mutex
	replies []replied
}

func (f *fakeSource) Messages() <-chan server.IncomingMsg { return f.msgs }

func (f *fakeSource) Reply(_ context.Context, in server.IncomingMsg, result any, callErr error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies = append(f.replies, replied{id: in.ID, result: result, err: callErr})
	return nil
}

type fakeCoord struct {
	reqs   []command.Request
	clicks []string
	tabs   []types.TabRef
}

func (f *fakeCoord) Handle(_ context.Context, req command.Request) command.Response {
	f.reqs = append(f.reqs, req)
	return command.Declined(groups.AlreadyExists.Reason())
}

func (f *fakeCoord) MenuClicked(_ context.Context, id string, tab types.TabRef) {
	f.clicks = append(f.clicks, id)
	f.tabs = append(f.tabs, tab)
}

func runServe(t *testing.T, msgs ...server.IncomingMsg) (*fakeSource, *fakeCoord) {
	t.Helper()
	src := &fakeSource{msgs: make(chan server.IncomingMsg, len(msgs))}
	for _, m := range msgs {
		src.msgs <- m
	}
	close(src.msgs)
	coord := &fakeCoord{}
	require.NoError(t, Serve(context.Background(), src, coord))
	return src, coord
}

func TestServeAnswersCommands(t *testing.T) {
	src, coord := runServe(t, server.IncomingMsg{Msg: server.Msg{
		Type: server.TypeCall, ID: "1", Method: server.MethodCommand,
		Params: json.RawMessage(`{"action":"createGroup","groupName":"Work"}`),
	}})

	require.Len(t, coord.reqs, 1)
	assert.Equal(t, command.CreateGroup{GroupName: "Work"}, coord.reqs[0])
	require.Len(t, src.replies, 1)
	assert.Equal(t, "1", src.replies[0].id)
	assert.NoError(t, src.replies[0].err)
	data, err := json.Marshal(src.replies[0].result)
	require.NoError(t, err)
	assert.JSONEq(t, `{"success":false,"reason":"Group already exists"}`, string(data))
}

func TestServeRejectsUnknownMethod(t *testing.T) {
	src, coord := runServe(t,
		server.IncomingMsg{Msg: server.Msg{Type: server.TypeCall, ID: "1", Method: "tabs.create"}},
		server.IncomingMsg{Msg: server.Msg{Type: server.TypeCall, ID: "2", Method: server.MethodCommand, Params: json.RawMessage(`[1]`)}},
	)
	assert.Empty(t, coord.reqs)
	require.Len(t, src.replies, 2)
	assert.Error(t, src.replies[0].err)
	assert.Error(t, src.replies[1].err)
}

func TestServeDispatchesMenuClicks(t *testing.T) {
	_, coord := runServe(t,
		server.IncomingMsg{Msg: server.Msg{
			Type: server.TypeEvent, Method: server.MethodMenuClicked,
			Params: json.RawMessage(`{"menuItemId":"group_open_Work","tab":{"id":4,"url":"https://a.com"}}`),
		}},
		server.IncomingMsg{Msg: server.Msg{Type: server.TypeEvent, Method: server.MethodMenuClicked, Params: json.RawMessage(`{}`)}},
		server.IncomingMsg{Msg: server.Msg{Type: server.TypeEvent, Method: "tabs.onActivated"}},
	)
	assert.Equal(t, []string{"group_open_Work"}, coord.clicks)
	assert.Equal(t, "https://a.com", coord.tabs[0].URL)
}

func TestServeStopsOnCancel(t *testing.T) {
	src := &fakeSource{msgs: make(chan server.IncomingMsg)}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Serve(ctx, src, &fakeCoord{})
	assert.True(t, errors.Is(err, context.Canceled))
}

type recordingBroadcaster struct {
	method string
	params any
}

func (r *recordingBroadcaster) Broadcast(method string, params any) {
	r.method, r.params = method, params
}

func TestOnChangeBroadcasts(t *testing.T) {
	b := &recordingBroadcaster{}
	m := types.NewMapping()
	m.Put(&types.Group{Name: "Work"})
	OnChange(b)(m)
	assert.Equal(t, server.MethodGroupsChanged, b.method)
	assert.Same(t, m, b.params)
}

// fakeExtension answers every call from the server with a null result and
// records the methods it was asked to run.
type fakeExtension struct {
	conn  *websocket.Conn
	calls chan server.Msg
}

func dialSurface(t *testing.T, srv *server.Server, ts *httptest.Server, surface server.Surface) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, wsURL(ts, surface), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.CloseNow() })
	require.Eventually(t, func() bool { return srv.Connected(surface) }, 2*time.Second, 5*time.Millisecond)
	return conn
}

func wsURL(ts *httptest.Server, surface server.Surface) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?surface=" + string(surface)
}

func newFakeExtension(t *testing.T, srv *server.Server, ts *httptest.Server) *fakeExtension {
	ext := &fakeExtension{conn: dialSurface(t, srv, ts, server.SurfaceExtension), calls: make(chan server.Msg, 64)}
	go func() {
		ctx := context.Background()
		for {
			_, data, err := ext.conn.Read(ctx)
			if err != nil {
				return
			}
			var msg server.Msg
			if json.Unmarshal(data, &msg) != nil || msg.Type != server.TypeCall {
				continue
			}
			ext.calls <- msg
			reply, _ := json.Marshal(server.Msg{Type: server.TypeResult, ID: msg.ID, Result: json.RawMessage(`null`)})
			if ext.conn.Write(ctx, websocket.MessageText, reply) != nil {
				return
			}
		}
	}()
	return ext
}

func (e *fakeExtension) waitFor(t *testing.T, method string) server.Msg {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case msg := <-e.calls:
			if msg.Method == method {
				return msg
			}
		case <-timeout:
			t.Fatalf("extension never received %s", method)
			return server.Msg{}
		}
	}
}

func (e *fakeExtension) send(t *testing.T, msg server.Msg) {
	t.Helper()
	data, _ := json.Marshal(msg)
	require.NoError(t, e.conn.Write(context.Background(), websocket.MessageText, data))
}

func TestBridgeEndToEnd(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv := server.New(0, 2*time.Second)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()
	defer srv.Close()

	ext := newFakeExtension(t, srv, ts)

	store := storage.NewMemory()
	browser := NewExtension(srv)
	coord := background.New(background.Config{
		Repo:     groups.New(store),
		Store:    store,
		Opener:   opener.New(browser, opener.Static(true)),
		Menus:    browser,
		Notifier: NewNotifier(srv),
		Prompter: NewPrompter(srv),
		OnChange: OnChange(srv),
	})
	go coord.Run(ctx)
	go Serve(ctx, srv, coord)

	ext.waitFor(t, MethodMenusRemoveAll)

	c, err := client.Dial(ctx, wsURL(ts, server.SurfaceClient))
	require.NoError(t, err)
	defer c.Close()
	require.Eventually(t, func() bool { return srv.Connected(server.SurfaceClient) }, 2*time.Second, 5*time.Millisecond)

	resp, err := c.Command(ctx, command.CreateGroup{GroupName: "Work"})
	require.NoError(t, err)
	assert.Equal(t, command.OK, resp)

	select {
	case ev := <-c.Events():
		assert.Equal(t, server.MethodGroupsChanged, ev.Method)
		assert.Contains(t, string(ev.Params), `"Work"`)
	case <-time.After(2 * time.Second):
		t.Fatal("client never saw groups.changed")
	}

	ext.send(t, server.Msg{
		Type:   server.TypeEvent,
		Method: server.MethodMenuClicked,
		Params: json.RawMessage(`{"menuItemId":"group_add_Work","tab":{"id":9,"url":"https://go.dev","title":"Go"}}`),
	})
	note := ext.waitFor(t, MethodNotifyCreate)
	assert.Contains(t, string(note.Params), `Tab added to \"Work\"`)

	resp, err = c.Command(ctx, command.GetGroups{})
	require.NoError(t, err)
	got, ok := resp.(command.GroupsResult)
	require.True(t, ok, "got %#v", resp)
	g, ok := got.Groups.Get("Work")
	require.True(t, ok)
	require.Len(t, g.Tabs, 1)
	assert.Equal(t, "https://go.dev", g.Tabs[0].URL)

	resp, err = c.Command(ctx, command.OpenAllTabs{GroupName: "Work"})
	require.NoError(t, err)
	assert.Equal(t, command.OK, resp)
	win := ext.waitFor(t, MethodWindowsCreate)
	assert.JSONEq(t, `{"url":["https://go.dev"],"focused":true}`, string(win.Params))
}
