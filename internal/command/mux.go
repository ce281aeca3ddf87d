package command

import (
	"context"
	"sync"

	"github.com/lotas/tabgrouper/internal/applog"
	"github.com/lotas/tabgrouper/internal/metrics"
)

// Mux routes each request to the handler registered for its action.
// Requests nobody registered for get ErrorResult{UnknownAction}.
type Mux struct {
	mu       sync.RWMutex
	handlers map[Action]Handler
}

// NewMux returns an empty Mux.
func NewMux() *Mux {
	return &Mux{handlers: make(map[Action]Handler)}
}

// Register sets the handler for action, replacing any previous one.
func (m *Mux) Register(action Action, h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[action] = h
}

// RegisterFunc is Register for a plain function.
func (m *Mux) RegisterFunc(action Action, f func(context.Context, Request) Response) {
	m.Register(action, HandlerFunc(f))
}

func (m *Mux) Handle(ctx context.Context, req Request) Response {
	action := req.Action()
	m.mu.RLock()
	h, ok := m.handlers[action]
	m.mu.RUnlock()

	if _, unknown := req.(Unknown); unknown || !ok {
		applog.Warn("command.unknown", "action", string(action))
		metrics.CommandsTotal.WithLabelValues("unknown", "error").Inc()
		return ErrorResult{Message: UnknownAction}
	}

	resp := h.Handle(ctx, req)
	metrics.CommandsTotal.WithLabelValues(string(action), Outcome(resp)).Inc()
	return resp
}

// Outcome classifies a response for logging and metrics.
func Outcome(resp Response) string {
	switch r := resp.(type) {
	case Success:
		if r.Applied {
			return "ok"
		}
		return "declined"
	case GroupNameResult:
		if r.Cancelled {
			return "cancelled"
		}
		return "ok"
	case ErrorResult:
		return "error"
	}
	return "ok"
}
