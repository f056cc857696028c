// Package remotetest runs an in-process WebDriver BiDi remote end for tests.
package remotetest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/coder/websocket"
)

// Request is a command received by the server.
type Request struct {
	ID     uint64          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// Handler produces the reply to a request. A string is written verbatim;
// any other non-nil value is marshalled. Nil sends nothing.
type Handler func(req Request) any

// Server is a WebSocket server speaking the BiDi envelope format.
type Server struct {
	srv     *httptest.Server
	handler Handler

	mu       sync.Mutex
	conns    []*websocket.Conn
	requests []Request

	connected chan struct{}
	once      sync.Once
}

// NewServer starts a server and registers its shutdown with t.Cleanup.
func NewServer(t testing.TB, handler Handler) *Server {
	t.Helper()
	s := &Server{
		handler:   handler,
		connected: make(chan struct{}),
	}
	s.srv = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)
	return s
}

// URL returns the ws:// URL of the session endpoint.
func (s *Server) URL() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http") + "/session"
}

// Connected is closed once the first client has connected.
func (s *Server) Connected() <-chan struct{} {
	return s.connected
}

// Requests returns the requests received so far.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// Send writes msg to every connected client. A string is written verbatim.
func (s *Server) Send(ctx context.Context, msg any) error {
	data, err := encode(msg)
	if err != nil {
		return err
	}

	s.mu.Lock()
	conns := append([]*websocket.Conn(nil), s.conns...)
	s.mu.Unlock()

	for _, c := range conns {
		if err := c.Write(ctx, websocket.MessageText, data); err != nil {
			return err
		}
	}
	return nil
}

// Close drops every client and stops the server.
func (s *Server) Close() {
	s.mu.Lock()
	conns := s.conns
	s.conns = nil
	s.mu.Unlock()

	for _, c := range conns {
		_ = c.CloseNow()
	}
	s.srv.Close()
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer c.CloseNow()
	c.SetReadLimit(-1)

	s.mu.Lock()
	s.conns = append(s.conns, c)
	s.mu.Unlock()
	s.once.Do(func() { close(s.connected) })

	ctx := r.Context()
	for {
		_, data, err := c.Read(ctx)
		if err != nil {
			return
		}

		var req Request
		if err := json.Unmarshal(data, &req); err != nil {
			continue
		}
		s.mu.Lock()
		s.requests = append(s.requests, req)
		s.mu.Unlock()

		if s.handler == nil {
			continue
		}
		reply := s.handler(req)
		if reply == nil {
			continue
		}
		out, err := encode(reply)
		if err != nil {
			continue
		}
		if err := c.Write(ctx, websocket.MessageText, out); err != nil {
			return
		}
	}
}

func encode(msg any) ([]byte, error) {
	if text, ok := msg.(string); ok {
		return []byte(text), nil
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message: %w", err)
	}
	return data, nil
}

// Success builds a success response.
func Success(id uint64, result any) map[string]any {
	if result == nil {
		result = map[string]any{}
	}
	return map[string]any{"type": "success", "id": id, "result": result}
}

// Error builds an error response for a command.
func Error(id uint64, errorType, message string) map[string]any {
	return map[string]any{"type": "error", "id": id, "error": errorType, "message": message}
}

// Event builds an event message.
func Event(method string, params any) map[string]any {
	return map[string]any{"type": "event", "method": method, "params": params}
}

// Router dispatches requests to per-method handlers. Unrouted methods get
// an "unknown command" error.
type Router map[string]func(req Request) any

// Handle implements Handler.
func (r Router) Handle(req Request) any {
	if h, ok := r[req.Method]; ok {
		return h(req)
	}
	return Error(req.ID, "unknown command", "unknown command "+req.Method)
}
