package store

import (
	"slices"
	"time"

	"github.com/Tyrowin/chatterbox/internal/chat"
	"github.com/Tyrowin/chatterbox/internal/role"
)

type userRecord struct {
	ID           string `gorm:"primaryKey;type:text"`
	Email        string `gorm:"uniqueIndex;not null;type:text"`
	PasswordHash string `gorm:"not null;type:text"`
	Role         string `gorm:"not null;type:text;index"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (userRecord) TableName() string { return "users" }

func (r *userRecord) toDomain() *chat.User {
	return &chat.User{
		ID:           r.ID,
		Email:        r.Email,
		PasswordHash: r.PasswordHash,
		Role:         role.Role(r.Role),
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}

type roomRecord struct {
	ID          string `gorm:"primaryKey;type:text"`
	Name        string `gorm:"not null;type:text"`
	Description string `gorm:"type:text"`
	Visibility  string `gorm:"not null;type:text;index"`
	CreatedBy   string `gorm:"not null;type:text"`
	CreatedAt   time.Time
	UpdatedAt   time.Time

	Members []memberRecord `gorm:"foreignKey:RoomID"`
	Roles   []roleRecord   `gorm:"foreignKey:RoomID"`
}

func (roomRecord) TableName() string { return "rooms" }

func (r *roomRecord) toDomain() *chat.Room {
	room := &chat.Room{
		ID:           r.ID,
		Name:         r.Name,
		Description:  r.Description,
		Visibility:   chat.Visibility(r.Visibility),
		CreatedBy:    r.CreatedBy,
		MemberIDs:    make([]string, 0, len(r.Members)),
		AllowedRoles: make([]role.Role, 0, len(r.Roles)),
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
	for _, m := range r.Members {
		room.MemberIDs = append(room.MemberIDs, m.UserID)
	}
	slices.Sort(room.MemberIDs)
	for _, rl := range role.All() {
		for _, rr := range r.Roles {
			if rr.Role == string(rl) {
				room.AllowedRoles = append(room.AllowedRoles, rl)
				break
			}
		}
	}
	return room
}

// memberRecord is one element of a room's member set.
type memberRecord struct {
	RoomID    string `gorm:"primaryKey;type:text"`
	UserID    string `gorm:"primaryKey;type:text;index"`
	CreatedAt time.Time
}

func (memberRecord) TableName() string { return "room_members" }

// roleRecord is one element of a room's allowed-roles set.
type roleRecord struct {
	RoomID string `gorm:"primaryKey;type:text"`
	Role   string `gorm:"primaryKey;type:text;index"`
}

func (roleRecord) TableName() string { return "room_roles" }

type messageRecord struct {
	ID        string    `gorm:"primaryKey;type:text"`
	RoomID    string    `gorm:"not null;type:text;index:idx_messages_room_created,priority:1"`
	UserID    string    `gorm:"not null;type:text"`
	Content   string    `gorm:"not null;type:text"`
	IsRead    bool      `gorm:"not null;default:false"`
	CreatedAt time.Time `gorm:"index:idx_messages_room_created,priority:2"`
	UpdatedAt time.Time
}

func (messageRecord) TableName() string { return "messages" }

func (r *messageRecord) toDomain() chat.Message {
	return chat.Message{
		ID:        r.ID,
		RoomID:    r.RoomID,
		UserID:    r.UserID,
		Content:   r.Content,
		IsRead:    r.IsRead,
		CreatedAt: r.CreatedAt,
	}
}

type sessionRecord struct {
	ID        string    `gorm:"primaryKey;type:text"`
	UserID    string    `gorm:"not null;type:text;index"`
	UserAgent string    `gorm:"type:text"`
	ExpiresAt time.Time `gorm:"not null;index"`
	CreatedAt time.Time
}

func (sessionRecord) TableName() string { return "sessions" }

func (r *sessionRecord) toDomain() chat.Session {
	return chat.Session{
		ID:        r.ID,
		UserID:    r.UserID,
		UserAgent: r.UserAgent,
		CreatedAt: r.CreatedAt,
		ExpiresAt: r.ExpiresAt,
	}
}
