package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/lotas/tabgrouper/internal/command"
	"github.com/lotas/tabgrouper/internal/server"
	"github.com/lotas/tabgrouper/internal/types"
)

func startServer(t *testing.T) (*server.Server, string) {
	t.Helper()
	srv := server.New(0, 2*time.Second)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.Close()
		ts.Close()
	})
	return srv, "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?surface="
}

func dial(t *testing.T, srv *server.Server, base string, surface server.Surface) *Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c, err := Dial(ctx, base+string(surface))
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	deadline := time.Now().Add(2 * time.Second)
	for !srv.Connected(surface) {
		if time.Now().After(deadline) {
			t.Fatal("peer never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return c
}

// answer replies to the next incoming call using fn.
func answer(t *testing.T, srv *server.Server, fn func(command.Request) (command.Response, error)) {
	t.Helper()
	go func() {
		in := <-srv.Messages()
		req, err := server.ParseCommand(in)
		if err != nil {
			srv.Reply(context.Background(), in, nil, err)
			return
		}
		resp, err := fn(req)
		if err != nil {
			srv.Reply(context.Background(), in, nil, err)
			return
		}
		data, _ := command.EncodeResponse(resp)
		srv.Reply(context.Background(), in, json.RawMessage(data), nil)
	}()
}

func TestCommandRoundTrip(t *testing.T) {
	srv, base := startServer(t)
	c := dial(t, srv, base, server.SurfaceClient)

	answer(t, srv, func(req command.Request) (command.Response, error) {
		if _, ok := req.(command.GetGroups); !ok {
			t.Errorf("got request %#v, want GetGroups", req)
		}
		m := types.NewMapping()
		m.Put(&types.Group{Name: "Work", Color: "#6366f1"})
		return command.GroupsResult{Groups: m}, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := c.Command(ctx, command.GetGroups{})
	if err != nil {
		t.Fatalf("Command: %v", err)
	}
	got, ok := resp.(command.GroupsResult)
	if !ok {
		t.Fatalf("got %#v, want GroupsResult", resp)
	}
	if g, ok := got.Groups.Get("Work"); !ok || g.Color != "#6366f1" {
		t.Errorf("got groups %v", got.Groups.Names())
	}
}

func TestCommandDeclined(t *testing.T) {
	srv, base := startServer(t)
	c := dial(t, srv, base, server.SurfaceClient)

	answer(t, srv, func(command.Request) (command.Response, error) {
		return command.Declined("Group already exists"), nil
	})

	resp, err := c.Command(context.Background(), command.CreateGroup{GroupName: "Work"})
	if err != nil {
		t.Fatalf("Command: %v", err)
	}
	want := command.Success{Applied: false, Reason: "Group already exists"}
	if resp != want {
		t.Errorf("got %#v, want %#v", resp, want)
	}
}

func TestCallRemoteError(t *testing.T) {
	srv, base := startServer(t)
	c := dial(t, srv, base, server.SurfaceClient)

	answer(t, srv, func(command.Request) (command.Response, error) {
		return nil, errors.New("boom")
	})

	_, err := c.Command(context.Background(), command.GetGroups{})
	if !errors.Is(err, ErrRemote) {
		t.Fatalf("got %v, want ErrRemote", err)
	}
	if !strings.Contains(err.Error(), "boom") {
		t.Errorf("error %q does not carry the remote message", err)
	}
}

func TestCallHonorsContext(t *testing.T) {
	srv, base := startServer(t)
	c := dial(t, srv, base, server.SurfaceClient)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := c.Command(ctx, command.GetGroups{}); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("got %v, want deadline exceeded", err)
	}
}

func TestServeAnswersCalls(t *testing.T) {
	srv, base := startServer(t)
	c := dial(t, srv, base, server.SurfaceContent)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Serve(ctx, command.HandlerFunc(func(_ context.Context, req command.Request) command.Response {
		if _, ok := req.(command.PromptGroupName); ok {
			return command.GroupNameResult{GroupName: "Reading"}
		}
		return command.ErrorResult{Message: command.UnknownAction}
	}))

	var raw json.RawMessage
	err := srv.Call(ctx, server.SurfaceContent, server.MethodCommand, json.RawMessage(`{"action":"promptGroupName"}`), &raw)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	resp, err := command.DecodeResponse(raw)
	if err != nil {
		t.Fatal(err)
	}
	if got, ok := resp.(command.GroupNameResult); !ok || got.GroupName != "Reading" {
		t.Errorf("got %#v", resp)
	}

	err = srv.Call(ctx, server.SurfaceContent, "tabs.query", nil, nil)
	var remote *server.RemoteError
	if !errors.As(err, &remote) {
		t.Errorf("got %v, want RemoteError for unknown method", err)
	}
}

func TestEventsDelivered(t *testing.T) {
	srv, base := startServer(t)
	c := dial(t, srv, base, server.SurfaceClient)

	srv.Broadcast(server.MethodGroupsChanged, map[string]any{})

	select {
	case ev := <-c.Events():
		if ev.Method != server.MethodGroupsChanged {
			t.Errorf("got method %q", ev.Method)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no event")
	}
}

func TestDoneAfterServerClose(t *testing.T) {
	srv, base := startServer(t)
	c := dial(t, srv, base, server.SurfaceClient)

	srv.Close()

	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("client not notified of closed connection")
	}
	if c.Err() == nil {
		t.Error("Err() = nil after disconnect")
	}
	if _, err := c.Command(context.Background(), command.GetGroups{}); err == nil {
		t.Error("Command succeeded on a closed connection")
	}
}
