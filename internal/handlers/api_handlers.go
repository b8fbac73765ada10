package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"chat-relay/internal/auth"
	"chat-relay/internal/database"
	"chat-relay/internal/models"
	"chat-relay/internal/relay"
	"chat-relay/pkg/logger"
)

// Store is what the API endpoints read besides the relay.
type Store interface {
	database.PresenceRepository
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
	Ping(ctx context.Context) error
}

type APIHandlers struct {
	authService *auth.Service
	relay       *relay.Relay
	store       Store
}

func NewAPIHandlers(authService *auth.Service, r *relay.Relay, store Store) *APIHandlers {
	return &APIHandlers{
		authService: authService,
		relay:       r,
		store:       store,
	}
}

type NotifyRequest struct {
	UserID           int64  `json:"user_id"`
	Message          string `json:"message"`
	NotificationType string `json:"notification_type"`
}

type PresenceResponse struct {
	UserID      int64     `json:"user_id"`
	Online      bool      `json:"online"`
	LastSeen    time.Time `json:"last_seen"`
	Connections int       `json:"connections"`
}

type StatusRequest struct {
	Online bool `json:"online"`
}

type ActiveResponse struct {
	Room    string `json:"room"`
	Members int    `json:"members"`
}

type HealthResponse struct {
	Status      string `json:"status"`
	Rooms       int    `json:"rooms"`
	Connections int    `json:"connections"`
	OnlineUsers int    `json:"online_users"`
}

// Notify pushes a notification to every open notification connection of
// the addressed user. Callers must present a valid token.
func (h *APIHandlers) Notify(w http.ResponseWriter, r *http.Request) {
	if _, err := h.authService.GetUserFromToken(r.Context(), tokenFrom(r)); err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req NotifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	if req.UserID <= 0 {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		http.Error(w, "message is required", http.StatusBadRequest)
		return
	}

	res, err := h.relay.Notify(r.Context(), req.UserID, req.Message, req.NotificationType)
	if err != nil {
		logger.Error("Notify error: %v", err)
		http.Error(w, "could not deliver notification", http.StatusBadGateway)
		return
	}

	writeJSON(w, http.StatusAccepted, res)
}

func (h *APIHandlers) Presence(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(r.PathValue("user_id"), 10, 64)
	if err != nil || userID <= 0 {
		http.Error(w, "invalid user ID", http.StatusBadRequest)
		return
	}

	if s := h.relay.Presence(userID); !s.IsUnknown() {
		writeJSON(w, http.StatusOK, PresenceResponse{
			UserID:      userID,
			Online:      s.Online,
			LastSeen:    s.LastSeen,
			Connections: s.Connections,
		})
		return
	}

	if _, err := h.store.GetUserByID(r.Context(), userID); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			http.Error(w, "user not found", http.StatusNotFound)
			return
		}
		logger.Error("Get user error: %v", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	p, err := h.store.GetOrCreatePresence(r.Context(), userID)
	if err != nil {
		logger.Error("Get presence error: %v", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, PresenceResponse{
		UserID:   p.UserID,
		Online:   p.Online,
		LastSeen: p.LastSeen,
	})
}

// UpdateStatus sets the caller's own online status.
func (h *APIHandlers) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	user, err := h.authService.GetUserFromToken(r.Context(), tokenFrom(r))
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req StatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	h.relay.SetOnline(r.Context(), user.ID, req.Online)

	s := h.relay.Presence(user.ID)
	writeJSON(w, http.StatusOK, PresenceResponse{
		UserID:      user.ID,
		Online:      s.Online,
		LastSeen:    s.LastSeen,
		Connections: s.Connections,
	})
}

// ActiveUsers reports how many connections are in a room.
func (h *APIHandlers) ActiveUsers(w http.ResponseWriter, r *http.Request) {
	room := strings.TrimSpace(r.PathValue("room"))
	if room == "" {
		http.Error(w, "room is required", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, ActiveResponse{Room: room, Members: h.relay.Members(room)})
}

func (h *APIHandlers) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:      "ok",
		Rooms:       h.relay.Rooms(),
		Connections: h.relay.Connections(),
		OnlineUsers: len(h.relay.OnlineUsers()),
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.store.Ping(ctx); err != nil {
		logger.Warn("Health check: store unreachable: %v", err)
		resp.Status = "unavailable"
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
