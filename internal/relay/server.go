package relay

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// Server is the HTTP endpoint that upgrades requests to WebSocket connections
// and hands each one to a [Handler]. Any request path is accepted.
type Server struct {
	handler *Handler
	log     *slog.Logger
	accept  *websocket.AcceptOptions

	mu    sync.Mutex
	conns map[string]*websocket.Conn
}

// NewServer creates a Server that serves connections with h.
func NewServer(h *Handler) *Server {
	return &Server{
		handler: h,
		log:     h.log,
		// No authentication and no origin policy: browsers on any host may
		// connect.
		accept: &websocket.AcceptOptions{InsecureSkipVerify: true},
		conns:  make(map[string]*websocket.Conn),
	}
}

// ServeHTTP implements [http.Handler].
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, s.accept)
	if err != nil {
		// Accept has already written the HTTP error response.
		s.log.Debug("websocket upgrade rejected", "remote", r.RemoteAddr, "err", err)
		return
	}
	defer ws.CloseNow()

	// One WebSocket message is one chunk, so a single chunk may be as large
	// as the whole buffer.
	if s.handler.maxBuffer > 0 {
		ws.SetReadLimit(int64(s.handler.maxBuffer) + 1)
	} else {
		ws.SetReadLimit(-1)
	}

	id := uuid.NewString()
	s.track(id, ws)
	defer s.untrack(id)

	log := s.log.With("conn_id", id)
	log.Debug("websocket accepted", "remote", r.RemoteAddr)

	if err := s.handler.Serve(r.Context(), id, newWSConn(ws, log)); err != nil {
		return
	}
	_ = ws.Close(websocket.StatusNormalClosure, "")
}

// Len returns the number of open connections.
func (s *Server) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// CloseAll closes every open connection with [websocket.StatusGoingAway].
// Connections accepted afterwards are not affected.
func (s *Server) CloseAll(reason string) {
	s.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(s.conns))
	for _, ws := range s.conns {
		conns = append(conns, ws)
	}
	s.mu.Unlock()

	for _, ws := range conns {
		_ = ws.Close(websocket.StatusGoingAway, reason)
	}
}

func (s *Server) track(id string, ws *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[id] = ws
}

func (s *Server) untrack(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, id)
}
