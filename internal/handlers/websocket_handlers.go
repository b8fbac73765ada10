package handlers

import (
	"context"
	"net/http"
	"strings"

	"chat-relay/internal/auth"
	"chat-relay/internal/config"
	"chat-relay/internal/database"
	"chat-relay/internal/models"
	"chat-relay/internal/relay"
	ws "chat-relay/internal/websocket"
	"chat-relay/pkg/logger"

	"github.com/gorilla/websocket"
)

const defaultRoom = "general"

type WebSocketHandlers struct {
	authService    *auth.Service
	rooms          database.RoomRepository
	relay          *relay.Relay
	opts           ws.Options
	allowAnonymous bool
	upgrader       websocket.Upgrader
}

func NewWebSocketHandlers(authService *auth.Service, rooms database.RoomRepository, r *relay.Relay, cfg config.WebSocketConfig) *WebSocketHandlers {
	return &WebSocketHandlers{
		authService: authService,
		rooms:       rooms,
		relay:       r,
		opts: ws.Options{
			SendBuffer:     cfg.SendBuffer,
			PongWait:       cfg.PongWait,
			PingPeriod:     cfg.PingPeriod,
			WriteWait:      cfg.WriteWait,
			MaxMessageSize: cfg.MaxMessageSize,
		},
		allowAnonymous: cfg.AllowAnonymous,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin(cfg.AllowedOrigins),
		},
	}
}

// checkOrigin accepts requests without an Origin header and those whose
// Origin is listed. A "*" entry accepts everything.
func checkOrigin(allowed []string) func(*http.Request) bool {
	for _, o := range allowed {
		if strings.TrimSpace(o) == "*" {
			return func(*http.Request) bool { return true }
		}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, o := range allowed {
			if strings.EqualFold(strings.TrimSpace(o), origin) {
				return true
			}
		}
		return false
	}
}

func (h *WebSocketHandlers) identify(w http.ResponseWriter, r *http.Request) (models.Identity, bool) {
	identity, err := h.authService.Identify(r.Context(), tokenFrom(r))
	if err != nil {
		logger.Debug("Rejected websocket token: %v", err)
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return models.Identity{}, false
	}
	return identity, true
}

// HandleChat upgrades a connection into the room named by the path, or by
// ?room= on the bare /ws route.
func (h *WebSocketHandlers) HandleChat(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.identify(w, r)
	if !ok {
		return
	}
	if !identity.Authenticated && !h.allowAnonymous {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}

	room := r.PathValue("room")
	if room == "" {
		room = r.URL.Query().Get("room")
	}
	if room == "" {
		room = defaultRoom
	}

	roomID, err := h.rooms.GetOrCreateRoom(r.Context(), room)
	if err != nil {
		logger.Error("Error creating room: %v", err)
		http.Error(w, "error accessing room", http.StatusInternalServerError)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("Upgrade error: %v", err)
		return
	}

	h.serve(r, ws.NewChatClient(conn, identity, room, roomID, h.opts))
}

// HandleNotifications upgrades a connection that receives notifications
// for the caller. A token is always required.
func (h *WebSocketHandlers) HandleNotifications(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.identify(w, r)
	if !ok {
		return
	}
	if !identity.Authenticated {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("Upgrade error: %v", err)
		return
	}

	h.serve(r, ws.NewNotificationClient(conn, identity, h.opts))
}

func (h *WebSocketHandlers) serve(r *http.Request, c *ws.Client) {
	if err := h.relay.Serve(context.WithoutCancel(r.Context()), c); err != nil {
		logger.Debug("Connection %s: %v", c, err)
	}
}
