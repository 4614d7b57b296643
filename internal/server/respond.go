package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/Tyrowin/chatterbox/internal/auth"
	"github.com/Tyrowin/chatterbox/internal/chat"
)

// ErrorResponse is the body of every failed REST call.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: code, Message: message})
}

// badRequestErrors are returned to the caller verbatim with a 400.
var badRequestErrors = []error{
	chat.ErrRoomNameEmpty,
	chat.ErrRoomNameTooLong,
	chat.ErrDescriptionTooLong,
	chat.ErrInvalidVisibility,
	chat.ErrInvalidRole,
	chat.ErrInvalidText,
	chat.ErrMessageEmpty,
	chat.ErrMessageTooLong,
	auth.ErrInvalidEmail,
	auth.ErrWeakPassword,
	auth.ErrPasswordTooLong,
}

// writeDomainError maps a service error to a status and body. Room
// not-found and access-denied both become 404 so that a caller cannot
// probe for rooms it may not see.
func writeDomainError(w http.ResponseWriter, logger *slog.Logger, err error) {
	for _, target := range badRequestErrors {
		if errors.Is(err, target) {
			writeError(w, http.StatusBadRequest, "bad_request", err.Error())
			return
		}
	}

	switch {
	case errors.Is(err, chat.ErrRoomNotFound), errors.Is(err, chat.ErrAccessDenied):
		writeError(w, http.StatusNotFound, "not_found", "Chat not found")
	case errors.Is(err, chat.ErrMessageNotFound):
		writeError(w, http.StatusNotFound, "not_found", "Message not found")
	case errors.Is(err, chat.ErrUserNotFound):
		writeError(w, http.StatusNotFound, "not_found", "User not found")
	case errors.Is(err, chat.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, "not_found", "Session not found")
	case errors.Is(err, chat.ErrUserExists):
		writeError(w, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "unauthorized", err.Error())
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken):
		writeError(w, http.StatusUnauthorized, "unauthorized", "Invalid or expired token")
	case errors.Is(err, auth.ErrSessionExpired):
		writeError(w, http.StatusUnauthorized, "unauthorized", "Session expired")
	default:
		logger.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Internal server error")
	}
}

// decodeJSON reads a bounded JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "Invalid request body")
		return false
	}
	return true
}
