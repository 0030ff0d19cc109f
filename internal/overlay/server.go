// Package overlay serves the published highlight set over HTTP and WebSocket
// and accepts chunk selections from external clients.
package overlay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/csheth/chunkview/internal/geom"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Lookup resolves chunk ids. Implementations must be safe for concurrent
// reads.
type Lookup interface {
	Find(id string) (geom.Chunk, bool)
}

// SelectFunc hands a selection to the viewer. A nil chunk clears it. It is
// called from request goroutines.
type SelectFunc func(chunk *geom.Chunk)

// Config holds server configuration.
type Config struct {
	Addr string
	// AllowAll allows every CORS origin instead of localhost only.
	AllowAll bool
}

// Server exposes the highlight overlay API.
type Server struct {
	cfg        Config
	hub        *Hub
	lookup     Lookup
	selectFn   SelectFunc
	router     chi.Router
	httpServer *http.Server
	listener   net.Listener
}

func New(cfg Config, lookup Lookup, selectFn SelectFunc) *Server {
	s := &Server{
		cfg:      cfg,
		hub:      NewHub(),
		lookup:   lookup,
		selectFn: selectFn,
	}
	s.router = s.buildRouter()
	return s
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	// The standard logger is redirected to the log file while the TUI owns
	// the terminal.
	r.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{Logger: log.Default(), NoColor: true}))
	r.Use(middleware.Recoverer)

	corsOpts := cors.Options{
		AllowedOrigins: []string{"http://localhost:*", "http://127.0.0.1:*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}
	if s.cfg.AllowAll {
		corsOpts.AllowedOrigins = []string{"*"}
	}
	r.Use(cors.Handler(corsOpts))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "clients": s.hub.Clients()})
	})
	r.Get("/api/highlight", s.handleHighlight)
	r.Post("/api/selection", s.handleSelection)
	r.Get("/ws", s.handleWebSocket)
	return r
}

// Handler returns the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Hub returns the broadcast hub.
func (s *Server) Hub() *Hub { return s.hub }

// Publish forwards a published set to connected clients.
func (s *Server) Publish(rects []geom.PixelRect) { s.hub.Publish(rects) }

// Start binds the configured address and serves in the background. It
// returns the bound address.
func (s *Server) Start() (string, error) {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return "", fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	s.listener = ln
	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("[overlay] serve: %v", err)
		}
	}()
	log.Printf("[overlay] listening on %s", ln.Addr())
	return ln.Addr().String(), nil
}

// Shutdown disconnects websocket clients and stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

func (s *Server) handleHighlight(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, highlightMessage{Type: "highlight", Rects: s.hub.Latest()})
}

// selectionRequest selects a catalog chunk by id, an inline chunk, or clears
// the selection.
type selectionRequest struct {
	Type  string    `json:"type,omitempty"`
	ID    string    `json:"id,omitempty"`
	Page  int       `json:"page,omitempty"`
	BBox  []float64 `json:"bbox,omitempty"`
	Label string    `json:"label,omitempty"`
	Clear bool      `json:"clear,omitempty"`
}

type selectionError struct {
	status int
	msg    string
}

func (e *selectionError) Error() string { return e.msg }

// resolve turns a request into the chunk to select; nil means clear.
func (s *Server) resolve(req selectionRequest) (*geom.Chunk, error) {
	if req.Clear || strings.EqualFold(req.Type, "clear") {
		return nil, nil
	}
	if req.BBox == nil {
		if req.ID == "" {
			return nil, &selectionError{http.StatusBadRequest, "id or bbox is required"}
		}
		if s.lookup == nil {
			return nil, &selectionError{http.StatusNotFound, "no chunk catalog loaded"}
		}
		chunk, ok := s.lookup.Find(req.ID)
		if !ok {
			return nil, &selectionError{http.StatusNotFound, fmt.Sprintf("chunk %q not found", req.ID)}
		}
		return &chunk, nil
	}
	if len(req.BBox) != 4 {
		return nil, &selectionError{http.StatusBadRequest, "bbox needs 4 values"}
	}
	chunk := geom.Chunk{
		ID:    req.ID,
		Page:  req.Page,
		BBox:  geom.NormBox{X0: req.BBox[0], Y0: req.BBox[1], X1: req.BBox[2], Y1: req.BBox[3]},
		Label: req.Label,
	}
	if chunk.ID == "" {
		chunk.ID = uuid.New().String()
	}
	if err := chunk.Validate(); err != nil {
		return nil, &selectionError{http.StatusUnprocessableEntity, err.Error()}
	}
	return &chunk, nil
}

func (s *Server) handleSelection(w http.ResponseWriter, r *http.Request) {
	var req selectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	chunk, err := s.resolve(req)
	if err != nil {
		var selErr *selectionError
		if errors.As(err, &selErr) {
			http.Error(w, selErr.msg, selErr.status)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if s.selectFn != nil {
		s.selectFn(chunk)
	}
	if chunk == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusAccepted, chunk)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[overlay] websocket upgrade: %v", err)
		return
	}
	c := s.hub.register(conn)
	go c.writeLoop()
	defer s.hub.unregister(c)

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[overlay] websocket read: %v", err)
			}
			return
		}
		var req selectionRequest
		if err := json.Unmarshal(msg, &req); err != nil {
			s.hub.reply(c, errorMessage{Type: "error", Error: "invalid message format"})
			continue
		}
		switch strings.ToLower(req.Type) {
		case "select", "clear":
		default:
			s.hub.reply(c, errorMessage{Type: "error", Error: "unknown message type: " + req.Type})
			continue
		}
		chunk, err := s.resolve(req)
		if err != nil {
			s.hub.reply(c, errorMessage{Type: "error", Error: err.Error()})
			continue
		}
		if s.selectFn != nil {
			s.selectFn(chunk)
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
