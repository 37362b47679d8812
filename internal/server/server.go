package server

import (
	"context"
	"encoding/json"
	"image/png"
	"log/slog"
	"net/http"
	"strconv"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/boardwatch/boardwatch/internal/catalog"
	apperrors "github.com/boardwatch/boardwatch/internal/errors"
	"github.com/boardwatch/boardwatch/internal/frame"
	"github.com/boardwatch/boardwatch/internal/orchestrator"
	"github.com/boardwatch/boardwatch/internal/orchestrator/events"
	"github.com/boardwatch/boardwatch/internal/trace"
)

// Board is the capture run the server reports on.
type Board interface {
	Status() orchestrator.Status
	RecentEvents(n int) []events.Event
	Subscribe() (<-chan events.Event, func())
	RecentSnapshots(ctx context.Context, limit int) ([]catalog.Entry, error)
	Reference() *frame.Frame
	Quit()
}

// Message types.
type Message struct {
	Type string `json:"type"`
}

type StatusMessage struct {
	Type   string              `json:"type"`
	Status orchestrator.Status `json:"status"`
}

type CycleMessage struct {
	Type  string       `json:"type"`
	Event events.Event `json:"event"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// Server handles HTTP and WebSocket connections.
type Server struct {
	board Board
	mu    sync.RWMutex
	conns map[*websocket.Conn]struct{}
}

// New creates a new server.
func New(board Board) *Server {
	return &Server{
		board: board,
		conns: make(map[*websocket.Conn]struct{}),
	}
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// WebSocket endpoint
	mux.HandleFunc("/ws", s.handleWebSocket)

	// REST API
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/events", s.handleEvents)
	mux.HandleFunc("GET /api/snapshots", s.handleSnapshots)
	mux.HandleFunc("GET /api/reference.png", s.handleReference)
	mux.HandleFunc("POST /api/quit", s.handleQuit)

	// Apply middleware: trace -> CORS
	return corsMiddleware(trace.Middleware(mux))
}

// Connections returns the number of open WebSocket clients.
func (s *Server) Connections() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("websocket accept error", "error", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
	}()

	log := trace.Logger(r.Context())
	log.Info("websocket connected", "remote", r.RemoteAddr)

	// the stream is push-only; CloseRead cancels ctx when the client goes away
	ctx := conn.CloseRead(r.Context())

	evs, cancel := s.board.Subscribe()
	defer cancel()

	if err := s.write(ctx, conn, StatusMessage{Type: "status", Status: s.board.Status()}); err != nil {
		log.Debug("websocket write error", "error", err)
		return
	}

	for {
		select {
		case <-ctx.Done():
			log.Info("websocket disconnected", "remote", r.RemoteAddr)
			return
		case e, ok := <-evs:
			if !ok {
				return
			}
			if err := s.write(ctx, conn, CycleMessage{Type: "cycle", Event: e}); err != nil {
				log.Debug("websocket write error", "error", err)
				return
			}
		}
	}
}

func (s *Server) write(ctx context.Context, conn *websocket.Conn, msg any) error {
	ctx, cancel := context.WithTimeout(ctx, WSWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, msg)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.board.Status())
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		writeError(w, err)
		return
	}
	evs := s.board.RecentEvents(limit)
	if evs == nil {
		evs = []events.Event{}
	}
	writeJSON(w, http.StatusOK, evs)
}

func (s *Server) handleSnapshots(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		writeError(w, err)
		return
	}
	entries, err := s.board.RecentSnapshots(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if entries == nil {
		entries = []catalog.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleReference(w http.ResponseWriter, r *http.Request) {
	ref := s.board.Reference()
	if ref == nil {
		writeError(w, apperrors.New(apperrors.CodeUnavailable, "no reference frame yet"))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	if err := png.Encode(w, ref.Image()); err != nil {
		trace.Logger(r.Context()).Warn("reference encode failed", "error", err)
	}
}

func (s *Server) handleQuit(w http.ResponseWriter, r *http.Request) {
	trace.Logger(r.Context()).Info("quit requested", "remote", r.RemoteAddr)
	s.board.Quit()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "quitting"})
}

func parseLimit(r *http.Request) (int, error) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return DefaultListLimit, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return 0, apperrors.Newf(apperrors.CodeInvalidArgument, "invalid limit %q", v)
	}
	return min(n, MaxListLimit), nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	ae, ok := err.(*apperrors.AppError)
	if !ok {
		ae = apperrors.Wrap(err, apperrors.CodeInternal, "request failed")
	}
	writeJSON(w, ae.HTTPStatus(), ErrorResponse{Error: ae.Error(), Code: ae.Code.String()})
}
