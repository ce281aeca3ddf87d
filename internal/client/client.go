// Package client connects a surface to the coordinator's bridge. It issues
// commands, receives change events, and answers calls the coordinator
// makes into the surface.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/lotas/tabgrouper/internal/applog"
	"github.com/lotas/tabgrouper/internal/command"
	"github.com/lotas/tabgrouper/internal/server"
	"nhooyr.io/websocket"
)

// ErrRemote wraps errors reported by the coordinator for a call.
var ErrRemote = errors.New("client: remote error")

// Client is one bridge connection.
type Client struct {
	conn   *websocket.Conn
	events chan server.Msg
	calls  chan server.Msg
	done   chan struct{}

	mu      sync.Mutex
	pending map[string]chan server.Msg
	err     error
}

// Dial connects to the bridge at url.
func Dial(ctx context.Context, url string) (*Client, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	conn.SetReadLimit(16 << 20)

	c := &Client{
		conn:    conn,
		events:  make(chan server.Msg, 16),
		calls:   make(chan server.Msg, 16),
		done:    make(chan struct{}),
		pending: make(map[string]chan server.Msg),
	}
	go c.readLoop()
	applog.Info("client.connected", "url", url)
	return c, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "")
}

// Done is closed when the connection ends.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns why the connection ended, once Done is closed.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Events delivers events pushed by the coordinator, such as groups.changed.
// Events are dropped when nobody keeps up.
func (c *Client) Events() <-chan server.Msg {
	return c.events
}

func (c *Client) readLoop() {
	ctx := context.Background()
	var err error
	for {
		var data []byte
		_, data, err = c.conn.Read(ctx)
		if err != nil {
			break
		}
		var msg server.Msg
		if jerr := json.Unmarshal(data, &msg); jerr != nil {
			applog.Error("client.parse", jerr)
			continue
		}
		switch msg.Type {
		case server.TypeResult:
			c.mu.Lock()
			ch, ok := c.pending[msg.ID]
			if ok {
				ch <- msg
				delete(c.pending, msg.ID)
			}
			c.mu.Unlock()
		case server.TypeEvent:
			select {
			case c.events <- msg:
			default:
				applog.Warn("client.event_dropped", "method", msg.Method)
			}
		case server.TypeCall:
			select {
			case c.calls <- msg:
			default:
				applog.Warn("client.call_dropped", "method", msg.Method)
			}
		}
	}

	c.mu.Lock()
	c.err = err
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	c.mu.Unlock()
	close(c.done)
	applog.Info("client.disconnected", "err", fmt.Sprint(err))
}

// Call sends method with params and decodes the result into result, which
// may be nil.
func (c *Client) Call(ctx context.Context, method string, params, result any) error {
	var raw json.RawMessage
	if params != nil {
		var err error
		if raw, err = json.Marshal(params); err != nil {
			return fmt.Errorf("encode %s params: %w", method, err)
		}
	}
	id := uuid.NewString()
	ch := make(chan server.Msg, 1)

	c.mu.Lock()
	if c.err != nil || isClosed(c.done) {
		c.mu.Unlock()
		return fmt.Errorf("call %s: connection closed", method)
	}
	c.pending[id] = ch
	c.mu.Unlock()

	data, err := json.Marshal(server.Msg{Type: server.TypeCall, ID: id, Method: method, Params: raw})
	if err != nil {
		return err
	}
	if err := c.conn.Write(ctx, websocket.MessageText, data); err != nil {
		c.forget(id)
		return fmt.Errorf("call %s: %w", method, err)
	}

	select {
	case res, ok := <-ch:
		if !ok {
			return fmt.Errorf("call %s: connection closed", method)
		}
		if res.Error != "" {
			return fmt.Errorf("%w: %s", ErrRemote, res.Error)
		}
		if result != nil && len(res.Result) > 0 {
			if err := json.Unmarshal(res.Result, result); err != nil {
				return fmt.Errorf("decode %s result: %w", method, err)
			}
		}
		return nil
	case <-ctx.Done():
		c.forget(id)
		return fmt.Errorf("call %s: %w", method, ctx.Err())
	}
}

func (c *Client) forget(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// Command sends a command request to the coordinator.
func (c *Client) Command(ctx context.Context, req command.Request) (command.Response, error) {
	params, err := command.EncodeRequest(req)
	if err != nil {
		return nil, err
	}
	var raw json.RawMessage
	if err := c.Call(ctx, server.MethodCommand, json.RawMessage(params), &raw); err != nil {
		return nil, err
	}
	return command.DecodeResponse(raw)
}

// Serve answers command calls from the coordinator with h until ctx is done
// or the connection ends. Each call runs in its own goroutine so a pending
// prompt does not hold up notifications.
func (c *Client) Serve(ctx context.Context, h command.Handler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return c.Err()
		case call := <-c.calls:
			go c.answer(ctx, h, call)
		}
	}
}

func (c *Client) answer(ctx context.Context, h command.Handler, call server.Msg) {
	reply := server.Msg{Type: server.TypeResult, ID: call.ID}
	if call.Method != server.MethodCommand {
		reply.Error = fmt.Sprintf("unknown method %q", call.Method)
	} else if req, err := command.DecodeRequest(call.Params); err != nil {
		reply.Error = err.Error()
	} else {
		resp := h.Handle(ctx, req)
		data, err := command.EncodeResponse(resp)
		if err != nil {
			reply.Error = err.Error()
		} else {
			reply.Result = data
		}
	}

	data, err := json.Marshal(reply)
	if err != nil {
		applog.Error("client.reply", err)
		return
	}
	if err := c.conn.Write(ctx, websocket.MessageText, data); err != nil {
		applog.Error("client.reply", err, "id", call.ID)
	}
}

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
