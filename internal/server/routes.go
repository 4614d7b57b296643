package server

import (
	"net/http"

	"github.com/Tyrowin/chatterbox/internal/role"
)

// Routes returns a ServeMux with every application route registered.
// Room mutation endpoints exist only in dynamic room mode.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ws", s.handleWebSocket)

	mux.HandleFunc("POST /auth/register", s.handleRegister)
	mux.HandleFunc("POST /auth/login", s.handleLogin)
	mux.HandleFunc("POST /auth/refresh", s.handleRefresh)

	authed := func(h http.HandlerFunc) http.Handler { return s.requireAuth(h) }
	atLeast := func(min role.Role, h http.HandlerFunc) http.Handler {
		return s.requireAuth(requireRole(min, h))
	}

	mux.Handle("POST /auth/logout", authed(s.handleLogout))
	mux.Handle("GET /sessions", authed(s.handleListSessions))
	mux.Handle("DELETE /sessions/{id}", authed(s.handleDeleteSession))

	mux.Handle("GET /user", authed(s.handleGetSelf))
	mux.Handle("GET /users", atLeast(role.Admin, s.handleListUsers))
	mux.Handle("GET /users/{id}", atLeast(role.Admin, s.handleGetUser))
	mux.Handle("PUT /user/{id}/role", atLeast(role.Super, s.handleSetRole))

	mux.Handle("GET /chats", authed(s.handleListRooms))
	mux.Handle("GET /chats/{id}", authed(s.handleGetRoom))
	mux.Handle("GET /chats/{id}/messages", authed(s.handleListMessages))
	mux.Handle("POST /chats/{id}/messages/{messageId}/read", authed(s.handleMarkRead))

	if s.cfg.RoomMode == RoomModeDynamic {
		mux.Handle("POST /chats", atLeast(role.Admin, s.handleCreateRoom))
		mux.Handle("PUT /chats/{id}", authed(s.handleUpdateRoom))
		mux.Handle("DELETE /chats/{id}", authed(s.handleDeleteRoom))
		mux.Handle("POST /chats/{id}/members", authed(s.handleAddMembers))
		mux.Handle("DELETE /chats/{id}/members", authed(s.handleRemoveMembers))
	}
	return mux
}

// Handler is the full middleware-wrapped handler served by the listener.
func (s *Server) Handler() http.Handler {
	return Chain(s.Routes(), recoverer(s.logger), requestLogger(s.logger))
}
