package runtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/loqalabs/loqa-phone/internal/config"
	"github.com/loqalabs/loqa-phone/internal/eventstore"
)

func TestReadyRequiresStart(t *testing.T) {
	r := New(config.Default(), discardLogger())
	rec := httptest.NewRecorder()
	r.handleReady(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 before start, got %d", rec.Code)
	}
}

func TestSessionEndpoints(t *testing.T) {
	cfg := config.EventStoreConfig{Path: filepath.Join(t.TempDir(), "events.db"), RetentionMode: eventstore.RetentionSession}
	store, err := eventstore.Open(context.Background(), cfg, discardLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	ctx := context.Background()
	if err := store.AppendSession(ctx, "call-1", "tts", "session"); err != nil {
		t.Fatalf("append session: %v", err)
	}
	if err := store.AppendEvent(ctx, eventstore.Event{SessionID: "call-1", Type: "tts.completed", Payload: []byte(`{"chunks":3}`)}); err != nil {
		t.Fatalf("append event: %v", err)
	}

	r := New(config.Default(), discardLogger())
	r.store = store
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/sessions", r.handleSessions)
	mux.HandleFunc("GET /v1/sessions/{id}/events", r.handleSessionEvents)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/sessions", nil))
	var sessions []eventstore.Session
	if err := json.Unmarshal(rec.Body.Bytes(), &sessions); err != nil {
		t.Fatalf("decode sessions: %v", err)
	}
	if len(sessions) != 1 || sessions[0].ID != "call-1" || sessions[0].EventCount != 1 {
		t.Fatalf("unexpected sessions %+v", sessions)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/sessions/call-1/events", nil))
	var events []eventstore.Event
	if err := json.Unmarshal(rec.Body.Bytes(), &events); err != nil {
		t.Fatalf("decode events: %v", err)
	}
	if len(events) != 1 || events[0].Type != "tts.completed" || string(events[0].Payload) != `{"chunks":3}` {
		t.Fatalf("unexpected events %+v", events)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/sessions/unknown/events", nil))
	if rec.Body.String() != "[]\n" {
		t.Fatalf("expected empty list, got %q", rec.Body.String())
	}
}
