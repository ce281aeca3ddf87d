package bridge

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/lotas/tabgrouper/internal/applog"
	"github.com/lotas/tabgrouper/internal/command"
	"github.com/lotas/tabgrouper/internal/server"
	"github.com/lotas/tabgrouper/internal/types"
)

// Source is the part of the server the dispatcher reads from and replies on.
type Source interface {
	Messages() <-chan server.IncomingMsg
	Reply(ctx context.Context, in server.IncomingMsg, result any, callErr error) error
}

// Coordinator is what incoming traffic is dispatched to.
type Coordinator interface {
	Handle(ctx context.Context, req command.Request) command.Response
	MenuClicked(ctx context.Context, itemID string, tab types.TabRef)
}

// Serve dispatches incoming calls and events to coord, one at a time in
// arrival order, until ctx is done.
func Serve(ctx context.Context, src Source, coord Coordinator) error {
	msgs := src.Messages()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case in, ok := <-msgs:
			if !ok {
				return nil
			}
			dispatch(ctx, src, coord, in)
		}
	}
}

func dispatch(ctx context.Context, src Source, coord Coordinator, in server.IncomingMsg) {
	switch {
	case in.Type == server.TypeCall && in.Method == server.MethodCommand:
		req, err := server.ParseCommand(in)
		if err != nil {
			reply(ctx, src, in, nil, err)
			return
		}
		resp := coord.Handle(ctx, req)
		data, err := command.EncodeResponse(resp)
		if err != nil {
			reply(ctx, src, in, nil, err)
			return
		}
		reply(ctx, src, in, json.RawMessage(data), nil)

	case in.Type == server.TypeCall:
		reply(ctx, src, in, nil, fmt.Errorf("unknown method %q", in.Method))

	case in.Method == server.MethodMenuClicked:
		id, tab, err := server.ParseMenuClick(in)
		if err != nil {
			applog.Error("bridge.menu_click", err, "peer", in.Peer)
			return
		}
		coord.MenuClicked(ctx, id, tab)

	default:
		applog.Debug("bridge.ignored", "type", in.Type, "method", in.Method, "surface", string(in.Surface))
	}
}

func reply(ctx context.Context, src Source, in server.IncomingMsg, result any, callErr error) {
	if err := src.Reply(ctx, in, result, callErr); err != nil {
		applog.Error("bridge.reply", err, "peer", in.Peer, "method", in.Method)
	}
}

// Broadcaster is the subset of the server OnChange publishes through.
type Broadcaster interface {
	Broadcast(method string, params any)
}

// OnChange returns a callback that pushes every new mapping to all
// connected surfaces as a groups.changed event.
func OnChange(b Broadcaster) func(*types.Mapping) {
	return func(m *types.Mapping) {
		b.Broadcast(server.MethodGroupsChanged, m)
	}
}
