package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/trollcity2025-netizen/trollcity-1-sub004/internal/identity"
)

const writeTimeout = 5 * time.Second

// Handler upgrades GET /ws/events to an event stream.
type Handler struct {
	hub            *Hub
	allowedOrigins []string
	isDev          bool
}

// NewHandler creates a stream handler. Origins are matched exactly; "*"
// allows any.
func NewHandler(hub *Hub, allowedOrigins []string, isDev bool) *Handler {
	return &Handler{hub: hub, allowedOrigins: allowedOrigins, isDev: isDev}
}

// RegisterRoutes registers the stream route.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.With(identity.RequireUser).Get("/ws/events", h.ServeHTTP)
}

type wsMessage struct {
	Type string `json:"type"`
}

// ServeHTTP implements http.Handler for the WebSocket upgrade. The subject
// defaults to the caller; case narrows the stream to one courtroom.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	filter := Filter{SubjectID: r.URL.Query().Get("subject"), CaseID: r.URL.Query().Get("case")}
	if filter.SubjectID == "" && filter.CaseID == "" {
		filter.SubjectID = userID
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "user_id", userID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "stream ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "user_id", userID)
		}
	}()

	c := h.hub.register(filter)
	defer h.hub.unregister(c)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go func() {
		defer cancel()
		h.readLoop(ctx, ws, userID)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case data := <-c.send:
			if err := write(ctx, ws, data); err != nil {
				slog.Debug("WebSocket write error", "error", err, "user_id", userID)
				return
			}
		}
	}
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || slices.Contains(h.allowedOrigins, "*") || slices.Contains(h.allowedOrigins, origin) {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin)
	return false
}

// readLoop answers pings and returns when the client goes away.
func (h *Handler) readLoop(ctx context.Context, ws *websocket.Conn, userID string) {
	for {
		_, message, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("WebSocket closed by client", "user_id", userID)
			} else if ctx.Err() == nil {
				slog.Warn("WebSocket read error", "error", err, "user_id", userID)
			}
			return
		}

		var msg wsMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}
		if msg.Type == "ping" {
			if err := write(ctx, ws, []byte(`{"type":"pong"}`)); err != nil {
				slog.Debug("Failed to send pong", "error", err)
			}
		}
	}
}

func write(ctx context.Context, ws *websocket.Conn, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return ws.Write(ctx, websocket.MessageText, data)
}
