package server

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/Tyrowin/chatterbox/internal/chat"
	"github.com/Tyrowin/chatterbox/internal/role"
)

// Socket event names.
const (
	EventJoin        = "chat:join"
	EventLeave       = "chat:leave"
	EventMessage     = "chat:message"
	EventTyping      = "chat:typing"
	EventList        = "chat:list"
	EventMessages    = "chat:messages"
	EventUserJoined  = "chat:userJoined"
	EventUserLeft    = "chat:userLeft"
	EventActiveUsers = "chat:activeUsers"
	EventError       = "chat:error"
)

// Texts sent with chat:error. Not-found and access-denied share one text so
// that room existence does not leak.
const (
	errMsgNoAccess       = "You do not have access to this chat"
	errMsgJoinFailed     = "Failed to join chat"
	errMsgSendFailed     = "Failed to send message"
	errMsgInvalidPayload = "Invalid payload"
	errMsgUnknownEvent   = "Unknown event"
	errMsgRateLimited    = "Rate limit exceeded"
)

// Envelope is the frame format in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// MessageRequest is the payload of an inbound chat:message.
type MessageRequest struct {
	RoomID  string `json:"roomId"`
	Content string `json:"content"`
}

// TypingRequest is the payload of an inbound chat:typing.
type TypingRequest struct {
	RoomID   string `json:"roomId"`
	IsTyping bool   `json:"isTyping"`
}

// PresenceEvent is the payload of chat:userJoined and chat:userLeft.
type PresenceEvent struct {
	RoomID    string    `json:"roomId"`
	UserID    string    `json:"userId"`
	Email     string    `json:"email"`
	Timestamp time.Time `json:"timestamp"`
}

// ActiveUser is one entry of a chat:activeUsers list.
type ActiveUser struct {
	UserID string    `json:"userId"`
	Email  string    `json:"email"`
	Role   role.Role `json:"role"`
}

// ActiveUsersEvent is the payload of chat:activeUsers.
type ActiveUsersEvent struct {
	RoomID string       `json:"roomId"`
	Users  []ActiveUser `json:"users"`
}

// TypingEvent is the payload of an outbound chat:typing.
type TypingEvent struct {
	RoomID   string `json:"roomId"`
	UserID   string `json:"userId"`
	Email    string `json:"email"`
	IsTyping bool   `json:"isTyping"`
}

func encodeEvent(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: raw})
}

func activeUsersOf(roomID string, ids []chat.Identity) ActiveUsersEvent {
	users := make([]ActiveUser, 0, len(ids))
	for _, id := range ids {
		users = append(users, ActiveUser{UserID: id.UserID, Email: id.Email, Role: id.Role})
	}
	return ActiveUsersEvent{RoomID: roomID, Users: users}
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
