package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/Tyrowin/chatterbox/internal/access"
	"github.com/Tyrowin/chatterbox/internal/chat"
	"github.com/Tyrowin/chatterbox/internal/role"
	"github.com/Tyrowin/chatterbox/internal/store"
)

// Message page sizes for GET /chats/{id}/messages.
const (
	defaultPageSize = 50
	maxPageSize     = 100
)

// CredentialsRequest is the body of register and login.
type CredentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RefreshRequest is the body of POST /auth/refresh.
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// RoleRequest is the body of PUT /user/{id}/role.
type RoleRequest struct {
	Role string `json:"role"`
}

// RoomRequest is the body of POST /chats and PUT /chats/{id}. Absent
// fields keep their current value on update.
type RoomRequest struct {
	Name         *string   `json:"name"`
	Description  *string   `json:"description"`
	Visibility   *string   `json:"visibility"`
	AllowedRoles *[]string `json:"allowedRoles"`
	MemberIDs    []string  `json:"memberIds"`
}

// MembersRequest is the body of the member add/remove endpoints.
type MembersRequest struct {
	UserIDs []string `json:"userIds"`
}

// MessageResponse acknowledges a request that has no other result.
type MessageResponse struct {
	Message string `json:"message"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req CredentialsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	u, err := s.accounts.Register(r.Context(), req.Email, req.Password)
	if err != nil {
		writeDomainError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req CredentialsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	pair, err := s.accounts.Login(r.Context(), req.Email, req.Password, r.UserAgent())
	if err != nil {
		writeDomainError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	pair, err := s.accounts.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		writeDomainError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

// handleLogout ends the caller's session and closes the sockets opened
// with it.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFrom(r.Context())
	if err := s.accounts.Logout(r.Context(), id); err != nil {
		writeDomainError(w, s.logger, err)
		return
	}
	closed := s.hub.EndSession(id.SessionID)
	s.logger.Info("session ended", "user_id", id.UserID, "session_id", id.SessionID, "connections_closed", closed)
	writeJSON(w, http.StatusOK, MessageResponse{Message: "Logout successful"})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFrom(r.Context())
	sessions, err := s.accounts.Sessions(r.Context(), id)
	if err != nil {
		writeDomainError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFrom(r.Context())
	sessionID := r.PathValue("id")
	if err := s.accounts.EndSession(r.Context(), id, sessionID); err != nil {
		writeDomainError(w, s.logger, err)
		return
	}
	closed := s.hub.EndSession(sessionID)
	s.logger.Info("session ended", "user_id", id.UserID, "session_id", sessionID, "connections_closed", closed)
	writeJSON(w, http.StatusOK, MessageResponse{Message: "Session deleted successfully"})
}

func (s *Server) handleGetSelf(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFrom(r.Context())
	u, err := s.store.FindUser(r.Context(), id.UserID)
	if err != nil {
		writeDomainError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.store.ListUsers(r.Context())
	if err != nil {
		writeDomainError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	u, err := s.store.FindUser(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// handleSetRole reassigns a role. Open connections keep the role they
// authenticated with.
func (s *Server) handleSetRole(w http.ResponseWriter, r *http.Request) {
	var req RoleRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	rl, err := role.Parse(req.Role)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "Invalid role")
		return
	}
	u, err := s.store.SetUserRole(r.Context(), r.PathValue("id"), rl)
	if err != nil {
		writeDomainError(w, s.logger, err)
		return
	}
	actor, _ := IdentityFrom(r.Context())
	s.logger.Info("user role changed", "actor_id", actor.UserID, "user_id", u.ID, "role", rl)
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) handleListRooms(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFrom(r.Context())
	rooms, err := s.dir.ListAccessibleRooms(r.Context(), id)
	if err != nil {
		writeDomainError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, rooms)
}

// accessibleRoom loads a room the caller may see. Both absence and
// refusal come back as chat.ErrRoomNotFound.
func (s *Server) accessibleRoom(r *http.Request) (*chat.Room, error) {
	id, _ := IdentityFrom(r.Context())
	room, err := s.dir.GetRoom(r.Context(), r.PathValue("id"))
	if err != nil {
		return nil, err
	}
	if !access.Allowed(id, room) {
		return nil, chat.ErrRoomNotFound
	}
	return room, nil
}

func (s *Server) handleGetRoom(w http.ResponseWriter, r *http.Request) {
	room, err := s.accessibleRoom(r)
	if err != nil {
		writeDomainError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, room)
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	room, err := s.accessibleRoom(r)
	if err != nil {
		writeDomainError(w, s.logger, err)
		return
	}

	limit := defaultPageSize
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "bad_request", "limit must be a positive integer")
			return
		}
		limit = min(n, maxPageSize)
	}
	var before time.Time
	if v := r.URL.Query().Get("before"); v != "" {
		before, err = time.Parse(time.RFC3339Nano, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "before must be an RFC3339 timestamp")
			return
		}
	}

	msgs, err := s.store.MessagesBefore(r.Context(), room.ID, before, limit)
	if err != nil {
		writeDomainError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	room, err := s.accessibleRoom(r)
	if err != nil {
		writeDomainError(w, s.logger, err)
		return
	}
	msg, err := s.store.MarkRead(r.Context(), room.ID, r.PathValue("messageId"))
	if err != nil {
		writeDomainError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (s *Server) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	var req RoomRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	id, _ := IdentityFrom(r.Context())

	room := &chat.Room{
		Visibility: chat.Public,
		CreatedBy:  id.UserID,
		MemberIDs:  append([]string{id.UserID}, req.MemberIDs...),
	}
	if req.Name != nil {
		room.Name = *req.Name
	}
	if req.Description != nil {
		room.Description = *req.Description
	}
	if req.Visibility != nil {
		room.Visibility = chat.Visibility(*req.Visibility)
	}
	if req.AllowedRoles != nil {
		roles, err := chat.ParseRoles(*req.AllowedRoles)
		if err != nil {
			writeDomainError(w, s.logger, err)
			return
		}
		room.AllowedRoles = roles
	}

	if err := s.store.CreateRoom(r.Context(), room); err != nil {
		writeDomainError(w, s.logger, err)
		return
	}
	s.logger.Info("room created", "room_id", room.ID, "actor_id", id.UserID)
	writeJSON(w, http.StatusCreated, room)
}

// managedRoom loads a room the caller may both see and manage. Rooms the
// caller cannot see are reported as missing; visible rooms it cannot
// manage are a 403.
func (s *Server) managedRoom(w http.ResponseWriter, r *http.Request) (*chat.Room, bool) {
	room, err := s.accessibleRoom(r)
	if err != nil {
		writeDomainError(w, s.logger, err)
		return nil, false
	}
	id, _ := IdentityFrom(r.Context())
	if !access.CanManage(id, room) {
		writeError(w, http.StatusForbidden, "forbidden", "Only the creator or an admin can manage this chat")
		return nil, false
	}
	return room, true
}

func (s *Server) handleUpdateRoom(w http.ResponseWriter, r *http.Request) {
	room, ok := s.managedRoom(w, r)
	if !ok {
		return
	}
	var req RoomRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	upd := store.RoomUpdate{Name: req.Name, Description: req.Description}
	if req.Visibility != nil {
		v := chat.Visibility(*req.Visibility)
		upd.Visibility = &v
	}
	if req.AllowedRoles != nil {
		roles, err := chat.ParseRoles(*req.AllowedRoles)
		if err != nil {
			writeDomainError(w, s.logger, err)
			return
		}
		upd.AllowedRoles = &roles
	}

	updated, err := s.store.UpdateRoom(r.Context(), room.ID, upd)
	if err != nil {
		writeDomainError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteRoom(w http.ResponseWriter, r *http.Request) {
	room, ok := s.managedRoom(w, r)
	if !ok {
		return
	}
	if err := s.store.DeleteRoom(r.Context(), room.ID); err != nil {
		writeDomainError(w, s.logger, err)
		return
	}
	id, _ := IdentityFrom(r.Context())
	s.logger.Info("room deleted", "room_id", room.ID, "actor_id", id.UserID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAddMembers(w http.ResponseWriter, r *http.Request) {
	s.changeMembers(w, r, s.store.AddMembers)
}

func (s *Server) handleRemoveMembers(w http.ResponseWriter, r *http.Request) {
	s.changeMembers(w, r, s.store.RemoveMembers)
}

type memberOp func(ctx context.Context, roomID string, userIDs []string) (*chat.Room, error)

func (s *Server) changeMembers(w http.ResponseWriter, r *http.Request, op memberOp) {
	room, ok := s.managedRoom(w, r)
	if !ok {
		return
	}
	var req MembersRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if len(req.UserIDs) == 0 {
		writeError(w, http.StatusBadRequest, "bad_request", "userIds must not be empty")
		return
	}

	updated, err := op(r.Context(), room.ID, req.UserIDs)
	if err != nil {
		writeDomainError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}
