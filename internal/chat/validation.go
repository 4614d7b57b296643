package chat

import (
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/Tyrowin/chatterbox/internal/role"
)

// Validation limits.
const (
	MaxRoomNameLength    = 100
	MaxDescriptionLength = 500
	MaxMessageLength     = 5000
)

// Lookup and authorization errors.
var (
	ErrRoomNotFound    = errors.New("room not found")
	ErrMessageNotFound = errors.New("message not found")
	ErrUserNotFound    = errors.New("user not found")
	ErrUserExists      = errors.New("user with this email already exists")
	ErrSessionNotFound = errors.New("session not found")
	ErrAccessDenied    = errors.New("access denied")
)

// Validation errors.
var (
	ErrRoomNameEmpty      = errors.New("room name cannot be empty")
	ErrRoomNameTooLong    = errors.New("room name exceeds maximum length")
	ErrDescriptionTooLong = errors.New("description exceeds maximum length")
	ErrInvalidVisibility  = errors.New("visibility must be PUBLIC or PRIVATE")
	ErrInvalidRole        = errors.New("allowed roles contain an unknown role")
	ErrInvalidText        = errors.New("text contains invalid characters")
	ErrMessageEmpty       = errors.New("message content cannot be empty")
	ErrMessageTooLong     = errors.New("message exceeds maximum length")
)

// ValidateMessage validates message content. Whitespace-only content
// counts as empty.
func ValidateMessage(content string) error {
	if strings.TrimSpace(content) == "" {
		return ErrMessageEmpty
	}
	if len(content) > MaxMessageLength {
		return ErrMessageTooLong
	}
	if !utf8.ValidString(content) {
		return ErrInvalidText
	}
	return nil
}

// ValidateRoom checks the user-editable attributes of a room.
func ValidateRoom(r *Room) error {
	if r.Name == "" {
		return ErrRoomNameEmpty
	}
	if utf8.RuneCountInString(r.Name) > MaxRoomNameLength {
		return ErrRoomNameTooLong
	}
	if utf8.RuneCountInString(r.Description) > MaxDescriptionLength {
		return ErrDescriptionTooLong
	}
	if !utf8.ValidString(r.Name) || !utf8.ValidString(r.Description) {
		return ErrInvalidText
	}
	if !r.Visibility.Valid() {
		return ErrInvalidVisibility
	}
	for _, rl := range r.AllowedRoles {
		if !rl.Valid() {
			return ErrInvalidRole
		}
	}
	return nil
}

// ParseRoles converts role names, rejecting unknown values.
func ParseRoles(names []string) ([]role.Role, error) {
	roles := make([]role.Role, 0, len(names))
	for _, n := range names {
		rl, err := role.Parse(n)
		if err != nil {
			return nil, ErrInvalidRole
		}
		roles = append(roles, rl)
	}
	return roles, nil
}
