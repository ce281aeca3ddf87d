package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lotas/tabgrouper/internal/applog"
	"github.com/lotas/tabgrouper/internal/metrics"
	"nhooyr.io/websocket"
)

var (
	// ErrNoPeer is returned when no peer of the requested surface is connected.
	ErrNoPeer = errors.New("server: no peer connected")
	// ErrClosed is returned for calls pending when the server shuts down.
	ErrClosed = errors.New("server: closed")
)

// Surface identifies what kind of peer is on the other end of a connection.
type Surface string

const (
	SurfaceExtension Surface = "extension"
	SurfaceContent   Surface = "content"
	SurfaceClient    Surface = "client"
)

func (s Surface) valid() bool {
	switch s {
	case SurfaceExtension, SurfaceContent, SurfaceClient:
		return true
	}
	return false
}

// Frame types.
const (
	TypeCall   = "call"
	TypeResult = "result"
	TypeEvent  = "event"
)

// Methods shared by every surface.
const (
	MethodCommand       = "command"
	MethodGroupsChanged = "groups.changed"
	MethodMenuClicked   = "menus.clicked"
)

// Msg is one frame on the bridge. Calls carry ID, Method and Params;
// results echo the ID with Result or Error; events carry Method and Params.
type Msg struct {
	Type   string          `json:"type"`
	ID     string          `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// IncomingMsg is a call or event received from a peer.
type IncomingMsg struct {
	Msg
	Peer    string
	Surface Surface
}

// RemoteError is an error reported by the peer that handled a call.
type RemoteError struct {
	Method  string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: %s", e.Method, e.Message)
}

type peer struct {
	id      string
	surface Surface
	conn    *websocket.Conn
	ctx     context.Context
}

// Server accepts WebSocket peers, forwards their calls and events on
// Messages, and lets the coordinator call into them.
type Server struct {
	port    int
	timeout time.Duration
	msgs    chan IncomingMsg

	mu      sync.Mutex
	peers   []*peer
	pending map[string]chan Msg
	closed  bool
}

// New creates a new Server. Port 0 means the caller manages the listener.
// Calls that get no result within callTimeout fail.
func New(port int, callTimeout time.Duration) *Server {
	return &Server{
		port:    port,
		timeout: callTimeout,
		msgs:    make(chan IncomingMsg, 64),
		pending: make(map[string]chan Msg),
	}
}

// Port returns the configured port.
func (s *Server) Port() int {
	return s.port
}

// Messages returns the channel of incoming calls and events.
func (s *Server) Messages() <-chan IncomingMsg {
	return s.msgs
}

// Connected reports whether a peer of the given surface is connected.
func (s *Server) Connected(surface Surface) bool {
	_, err := s.peerFor(surface)
	return err == nil
}

// peerFor returns the most recently connected peer of surface.
func (s *Server) peerFor(surface Surface) (*peer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	for i := len(s.peers) - 1; i >= 0; i-- {
		if s.peers[i].surface == surface {
			return s.peers[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNoPeer, surface)
}

// Call sends method to the newest peer of surface and decodes its result
// into result (which may be nil).
func (s *Server) Call(ctx context.Context, surface Surface, method string, params, result any) error {
	p, err := s.peerFor(surface)
	if err != nil {
		return err
	}
	raw, err := marshalParams(params)
	if err != nil {
		return fmt.Errorf("encode %s params: %w", method, err)
	}

	id := uuid.NewString()
	ch := make(chan Msg, 1)
	s.mu.Lock()
	s.pending[id] = ch
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
	}()

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	applog.Debug("ws.call", "method", method, "id", id, "surface", string(surface))
	if err := s.write(ctx, p, Msg{Type: TypeCall, ID: id, Method: method, Params: raw}); err != nil {
		return fmt.Errorf("call %s: %w", method, err)
	}

	select {
	case res, ok := <-ch:
		if !ok {
			return ErrClosed
		}
		if res.Error != "" {
			return &RemoteError{Method: method, Message: res.Error}
		}
		if result != nil && len(res.Result) > 0 {
			if err := json.Unmarshal(res.Result, result); err != nil {
				return fmt.Errorf("decode %s result: %w", method, err)
			}
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("call %s: %w", method, ctx.Err())
	}
}

// Notify sends an event to the newest peer of surface.
func (s *Server) Notify(ctx context.Context, surface Surface, method string, params any) error {
	p, err := s.peerFor(surface)
	if err != nil {
		return err
	}
	raw, err := marshalParams(params)
	if err != nil {
		return fmt.Errorf("encode %s params: %w", method, err)
	}
	return s.write(ctx, p, Msg{Type: TypeEvent, Method: method, Params: raw})
}

// Broadcast sends an event to every connected peer. Peers that fail to
// receive it are logged and skipped.
func (s *Server) Broadcast(method string, params any) {
	raw, err := marshalParams(params)
	if err != nil {
		applog.Error("ws.broadcast", err, "method", method)
		return
	}
	s.mu.Lock()
	peers := make([]*peer, len(s.peers))
	copy(peers, s.peers)
	s.mu.Unlock()

	for _, p := range peers {
		if err := s.write(p.ctx, p, Msg{Type: TypeEvent, Method: method, Params: raw}); err != nil {
			applog.Error("ws.broadcast", err, "peer", p.id)
		}
	}
}

// Reply answers a call received on Messages.
func (s *Server) Reply(ctx context.Context, in IncomingMsg, result any, callErr error) error {
	s.mu.Lock()
	var p *peer
	for _, cand := range s.peers {
		if cand.id == in.Peer {
			p = cand
			break
		}
	}
	s.mu.Unlock()
	if p == nil {
		return fmt.Errorf("%w: %s", ErrNoPeer, in.Peer)
	}

	msg := Msg{Type: TypeResult, ID: in.ID}
	if callErr != nil {
		msg.Error = callErr.Error()
	} else {
		raw, err := marshalParams(result)
		if err != nil {
			return fmt.Errorf("encode result: %w", err)
		}
		msg.Result = raw
	}
	return s.write(ctx, p, msg)
}

func (s *Server) write(ctx context.Context, p *peer, msg Msg) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return p.conn.Write(ctx, websocket.MessageText, data)
}

// Handler returns an http.Handler that accepts WebSocket upgrades. The
// surface query parameter names the peer kind; it defaults to extension.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		surface := Surface(r.URL.Query().Get("surface"))
		if surface == "" {
			surface = SurfaceExtension
		}
		if !surface.valid() {
			http.Error(w, "unknown surface", http.StatusBadRequest)
			return
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			applog.Error("ws.accept", err)
			return
		}

		conn.SetReadLimit(16 << 20) // 16 MB, mappings with many tabs can be large

		ctx := r.Context()
		p := &peer{id: uuid.NewString(), surface: surface, conn: conn, ctx: ctx}
		if !s.addPeer(p) {
			conn.Close(websocket.StatusGoingAway, "server closed")
			return
		}
		applog.Info("ws.connected", "remote", r.RemoteAddr, "surface", string(surface), "peer", p.id)

		defer func() {
			s.removePeer(p)
			conn.CloseNow()
			applog.Info("ws.disconnected", "surface", string(surface), "peer", p.id)
		}()

		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			var msg Msg
			if err := json.Unmarshal(data, &msg); err != nil {
				applog.Error("ws.parse", err)
				continue
			}
			s.dispatch(p, msg)
		}
	})
}

func (s *Server) dispatch(p *peer, msg Msg) {
	switch msg.Type {
	case TypeResult:
		s.mu.Lock()
		ch, ok := s.pending[msg.ID]
		if ok {
			select {
			case ch <- msg:
			default:
			}
		}
		s.mu.Unlock()
		if !ok {
			applog.Warn("ws.result_unmatched", "id", msg.ID)
		}
	case TypeCall, TypeEvent:
		applog.Debug("ws.recv", "type", msg.Type, "method", msg.Method, "surface", string(p.surface))
		select {
		case s.msgs <- IncomingMsg{Msg: msg, Peer: p.id, Surface: p.surface}:
		default:
			applog.Warn("ws.dropped", "method", msg.Method)
		}
	default:
		applog.Warn("ws.unknown_type", "type", msg.Type)
	}
}

func (s *Server) addPeer(p *peer) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.peers = append(s.peers, p)
	metrics.BridgePeers.WithLabelValues(string(p.surface)).Inc()
	return true
}

func (s *Server) removePeer(p *peer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, cand := range s.peers {
		if cand == p {
			s.peers = append(s.peers[:i], s.peers[i+1:]...)
			metrics.BridgePeers.WithLabelValues(string(p.surface)).Dec()
			return
		}
	}
}

// Close disconnects every peer and fails pending calls.
func (s *Server) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	peers := s.peers
	s.peers = nil
	for id, ch := range s.pending {
		close(ch)
		delete(s.pending, id)
	}
	s.mu.Unlock()

	for _, p := range peers {
		metrics.BridgePeers.WithLabelValues(string(p.surface)).Dec()
		p.conn.Close(websocket.StatusGoingAway, "server closed")
	}
}

// ListenAndServe serves the bridge on /ws and Prometheus metrics on
// /metrics until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/ws", s.Handler())
	mux.Handle("/metrics", metrics.Handler())

	addr := fmt.Sprintf("127.0.0.1:%d", s.port)
	applog.Info("server.start", "addr", addr)
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		s.Close()
		srv.Close()
	}()

	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func marshalParams(v any) (json.RawMessage, error) {
	switch v := v.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return v, nil
	}
	return json.Marshal(v)
}
