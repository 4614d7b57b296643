// Package chat holds the domain types shared by the store, the access
// evaluator, the room directory and the real-time layer.
package chat

import (
	"slices"
	"time"

	"github.com/Tyrowin/chatterbox/internal/role"
)

// Visibility controls how a room with no explicit membership is treated.
type Visibility string

const (
	// Public rooms are open to allowed roles, or to everyone when no
	// role restriction is set.
	Public Visibility = "PUBLIC"
	// Private rooms admit only members and admin-tier identities.
	Private Visibility = "PRIVATE"
)

// Valid reports whether v is a known visibility.
func (v Visibility) Valid() bool {
	return v == Public || v == Private
}

// Identity is an authenticated actor. It is resolved once at handshake
// time and does not change for the lifetime of a connection. SessionID
// names the sign-in the credential was issued for.
type Identity struct {
	UserID    string    `json:"userId"`
	Email     string    `json:"email"`
	Role      role.Role `json:"role"`
	SessionID string    `json:"-"`
}

// User is an account as stored. PasswordHash never leaves the process.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         role.Role `json:"role"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Identity returns the public identity of u.
func (u *User) Identity() Identity {
	return Identity{UserID: u.ID, Email: u.Email, Role: u.Role}
}

// Session is one sign-in of a user. Tokens bound to it stop working once
// it is deleted or expires.
type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"-"`
	UserAgent string    `json:"userAgent,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
	Current   bool      `json:"isCurrent,omitempty"`
}

// Active reports whether s is still usable at now.
func (s *Session) Active(now time.Time) bool {
	return now.Before(s.ExpiresAt)
}

// Room is a snapshot of a chat room and its access-control attributes.
type Room struct {
	ID           string      `json:"id"`
	Name         string      `json:"name"`
	Description  string      `json:"description,omitempty"`
	Visibility   Visibility  `json:"visibility"`
	CreatedBy    string      `json:"createdBy"`
	MemberIDs    []string    `json:"memberIds"`
	AllowedRoles []role.Role `json:"allowedRoles"`
	CreatedAt    time.Time   `json:"createdAt"`
	UpdatedAt    time.Time   `json:"updatedAt"`
}

// HasMember reports whether userID was explicitly granted access.
func (r *Room) HasMember(userID string) bool {
	return slices.Contains(r.MemberIDs, userID)
}

// AllowsRole reports whether rl is on the room's allowed-roles list.
func (r *Room) AllowsRole(rl role.Role) bool {
	return slices.Contains(r.AllowedRoles, rl)
}

// Author is the public projection of a message author.
type Author struct {
	ID    string    `json:"id"`
	Email string    `json:"email"`
	Role  role.Role `json:"role"`
}

// Message belongs to exactly one room. Only IsRead may change after
// creation.
type Message struct {
	ID        string    `json:"id"`
	RoomID    string    `json:"chatId"`
	UserID    string    `json:"userId"`
	Author    *Author   `json:"author,omitempty"`
	Content   string    `json:"content"`
	IsRead    bool      `json:"isRead"`
	CreatedAt time.Time `json:"createdAt"`
}
