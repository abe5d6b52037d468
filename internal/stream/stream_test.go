package stream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/trollcity2025-netizen/trollcity-1-sub004/internal/domain"
	"github.com/trollcity2025-netizen/trollcity-1-sub004/internal/eventbus"
	"github.com/trollcity2025-netizen/trollcity-1-sub004/internal/identity"
)

func TestFilterMatches(t *testing.T) {
	t.Parallel()

	event := domain.Event{SubjectID: "user-1", Metadata: map[string]any{"case_id": "case-1"}}
	tests := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{name: "subject", filter: Filter{SubjectID: "user-1"}, want: true},
		{name: "case", filter: Filter{CaseID: "case-1"}, want: true},
		{name: "other subject", filter: Filter{SubjectID: "user-2"}, want: false},
		{name: "other case", filter: Filter{CaseID: "case-2"}, want: false},
		{name: "empty", filter: Filter{}, want: false},
	}
	for _, tt := range tests {
		if got := tt.filter.matches(event); got != tt.want {
			t.Errorf("%s: matches = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestListenerDropsForSlowClient(t *testing.T) {
	t.Parallel()

	hub := NewHub(1, nil)
	c := hub.register(Filter{SubjectID: "user-1"})
	listener := hub.Listener()

	for i := 0; i < 3; i++ {
		if err := listener(context.Background(), domain.Event{ID: "e", SubjectID: "user-1"}); err != nil {
			t.Fatalf("listener failed: %v", err)
		}
	}
	if got := len(c.send); got != 1 {
		t.Fatalf("queued = %d, want 1", got)
	}

	hub.unregister(c)
	hub.unregister(c)
	if hub.ClientCount() != 0 {
		t.Fatalf("ClientCount = %d, want 0", hub.ClientCount())
	}
}

func TestWebSocketReceivesEvents(t *testing.T) {
	t.Parallel()

	hub := NewHub(0, nil)
	bus := eventbus.New(eventbus.Options{})
	bus.Subscribe(hub.Listener())

	r := chi.NewRouter()
	r.Use(identity.Middleware)
	NewHandler(hub, []string{"*"}, false).RegisterRoutes(r)
	srv := httptest.NewServer(r)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	header := http.Header{}
	header.Set(identity.UserHeaderName, "user-1")
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/events?case=case-1"
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.CloseNow()

	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	bus.Publish(ctx, domain.EventGiftSent, "user-9", map[string]any{"gift_id": "rose"})
	bus.Publish(ctx, domain.EventCaseVerdict, "user-2", map[string]any{"case_id": "case-1", "verdict": "guilty"})

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	var got domain.Event
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Type != domain.EventCaseVerdict || got.SubjectID != "user-2" {
		t.Fatalf("got %+v, want the case_verdict event", got)
	}

	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"type":"ping"}`)); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	_, data, err = conn.Read(ctx)
	if err != nil {
		t.Fatalf("Read pong failed: %v", err)
	}
	if string(data) != `{"type":"pong"}` {
		t.Fatalf("got %s, want pong", data)
	}
}

func TestWebSocketRejectsOrigin(t *testing.T) {
	t.Parallel()

	h := NewHandler(NewHub(0, nil), []string{"https://court.example"}, false)
	req := httptest.NewRequest(http.MethodGet, "/ws/events", nil)
	req.Header.Set("Origin", "https://evil.example")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", w.Code)
	}
}
