package overlay

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/csheth/chunkview/internal/geom"
)

type mapLookup map[string]geom.Chunk

func (m mapLookup) Find(id string) (geom.Chunk, bool) {
	c, ok := m[id]
	return c, ok
}

type selections struct {
	mu     sync.Mutex
	chunks []*geom.Chunk
	signal chan struct{}
}

func newSelections() *selections {
	return &selections{signal: make(chan struct{}, 16)}
}

func (s *selections) record(chunk *geom.Chunk) {
	s.mu.Lock()
	s.chunks = append(s.chunks, chunk)
	s.mu.Unlock()
	s.signal <- struct{}{}
}

func (s *selections) last(t *testing.T) *geom.Chunk {
	t.Helper()
	select {
	case <-s.signal:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a selection")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chunks[len(s.chunks)-1]
}

func setupServer(t *testing.T) (*Server, *selections) {
	t.Helper()
	sel := newSelections()
	lookup := mapLookup{
		"fig2": {ID: "fig2", Page: 2, BBox: geom.NormBox{X0: 0.1, Y0: 0.2, X1: 0.5, Y1: 0.6}},
	}
	return New(Config{}, lookup, sel.record), sel
}

func TestHealthz(t *testing.T) {
	s, _ := setupServer(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"status":"ok"`) {
		t.Fatalf("unexpected body %s", w.Body.String())
	}
}

func TestHighlightReturnsLatestSet(t *testing.T) {
	s, _ := setupServer(t)
	s.Publish([]geom.PixelRect{{ID: "fig2", Left: 60, Top: 160, Width: 240, Height: 320, Page: 2}})

	req := httptest.NewRequest(http.MethodGet, "/api/highlight", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var msg highlightMessage
	if err := json.Unmarshal(w.Body.Bytes(), &msg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Type != "highlight" || len(msg.Rects) != 1 || msg.Rects[0].Width != 240 {
		t.Fatalf("unexpected message %+v", msg)
	}

	s.Publish(nil)
	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/highlight", nil))
	if !strings.Contains(w.Body.String(), `"rects":[]`) {
		t.Fatalf("cleared set should encode as an empty list, got %s", w.Body.String())
	}
}

func TestSelectionByID(t *testing.T) {
	s, sel := setupServer(t)
	body := bytes.NewBufferString(`{"id":"fig2"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/selection", body)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}
	if got := sel.last(t); got == nil || got.ID != "fig2" || got.Page != 2 {
		t.Fatalf("unexpected selection %+v", got)
	}
}

func TestSelectionInlineAndClear(t *testing.T) {
	s, sel := setupServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/selection", strings.NewReader(`{"page":1,"bbox":[0,0,0.5,0.5]}`))
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", w.Code)
	}
	if got := sel.last(t); got == nil || got.ID == "" || got.Page != 1 {
		t.Fatalf("inline chunk should get an id, got %+v", got)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/selection", strings.NewReader(`{"clear":true}`))
	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	if got := sel.last(t); got != nil {
		t.Fatalf("clear should select nil, got %+v", got)
	}
}

func TestSelectionErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		code int
	}{
		{"bad json", `{`, http.StatusBadRequest},
		{"empty", `{}`, http.StatusBadRequest},
		{"unknown id", `{"id":"nope"}`, http.StatusNotFound},
		{"short bbox", `{"page":1,"bbox":[0,0,1]}`, http.StatusBadRequest},
		{"invalid bbox", `{"page":1,"bbox":[0,0,2,1]}`, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := setupServer(t)
			req := httptest.NewRequest(http.MethodPost, "/api/selection", strings.NewReader(tt.body))
			w := httptest.NewRecorder()
			s.Handler().ServeHTTP(w, req)
			if w.Code != tt.code {
				t.Fatalf("expected %d, got %d", tt.code, w.Code)
			}
		})
	}
}

func dial(t *testing.T, s *Server) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("websocket dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("expected 101, got %d", resp.StatusCode)
	}
	return conn
}

func readHighlight(t *testing.T, conn *websocket.Conn) highlightMessage {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg highlightMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	return msg
}

func TestWebSocketReceivesSnapshotAndUpdates(t *testing.T) {
	s, _ := setupServer(t)
	conn := dial(t, s)

	if msg := readHighlight(t, conn); msg.Type != "highlight" || len(msg.Rects) != 0 {
		t.Fatalf("expected empty snapshot, got %+v", msg)
	}
	s.Publish([]geom.PixelRect{{ID: "fig2", Width: 10, Height: 10, Page: 2}})
	msg := readHighlight(t, conn)
	if len(msg.Rects) != 1 || msg.Rects[0].ID != "fig2" {
		t.Fatalf("unexpected update %+v", msg)
	}
}

func TestWebSocketSelect(t *testing.T) {
	s, sel := setupServer(t)
	conn := dial(t, s)
	readHighlight(t, conn)

	if err := conn.WriteJSON(selectionRequest{Type: "select", ID: "fig2"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := sel.last(t); got == nil || got.ID != "fig2" {
		t.Fatalf("unexpected selection %+v", got)
	}

	if err := conn.WriteJSON(selectionRequest{Type: "bogus"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var reply errorMessage
	if err := conn.ReadJSON(&reply); err != nil {
		t.Fatalf("read: %v", err)
	}
	if reply.Type != "error" || !strings.Contains(reply.Error, "bogus") {
		t.Fatalf("unexpected reply %+v", reply)
	}
}

func TestHubDropsClientsOnClose(t *testing.T) {
	s, _ := setupServer(t)
	conn := dial(t, s)
	readHighlight(t, conn)
	if s.Hub().Clients() != 1 {
		t.Fatalf("expected one client, got %d", s.Hub().Clients())
	}
	s.Hub().Close()
	if s.Hub().Clients() != 0 {
		t.Fatal("close should drop every client")
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("expected the connection to close")
	}
}
