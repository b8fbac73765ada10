package handlers

import (
	"net/http"
	"time"

	"chat-relay/pkg/logger"
)

func NewRouter(authHandlers *AuthHandlers, wsHandlers *WebSocketHandlers, apiHandlers *APIHandlers) http.Handler {
	mux := http.NewServeMux()

	// Auth routes
	mux.HandleFunc("POST /login", authHandlers.Login)
	mux.HandleFunc("POST /register", authHandlers.Register)

	// WebSocket routes
	mux.HandleFunc("GET /ws", wsHandlers.HandleChat)
	mux.HandleFunc("GET /ws/chat/{room}", wsHandlers.HandleChat)
	mux.HandleFunc("GET /ws/notifications", wsHandlers.HandleNotifications)

	mux.HandleFunc("POST /notify", apiHandlers.Notify)
	mux.HandleFunc("GET /presence/{user_id}", apiHandlers.Presence)
	mux.HandleFunc("POST /presence", apiHandlers.UpdateStatus)
	mux.HandleFunc("GET /rooms/{room}/active", apiHandlers.ActiveUsers)
	mux.HandleFunc("GET /health", apiHandlers.Health)

	return corsMiddleware(logRequests(mux))
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// logRequests logs each request once it finishes. Websocket routes log when
// the connection ends.
func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logger.Debug("%s %s (%s)", r.Method, r.URL.Path, time.Since(start))
	})
}

// Endpoints lists the routes NewRouter serves, for the startup banner.
func Endpoints() []string {
	return []string{
		"POST /login",
		"POST /register",
		"GET  /ws?room={room}",
		"GET  /ws/chat/{room}",
		"GET  /ws/notifications",
		"POST /notify",
		"GET  /presence/{user_id}",
		"POST /presence",
		"GET  /rooms/{room}/active",
		"GET  /health",
	}
}
