// Package directory resolves which rooms exist and which of them an
// identity may join.
//
// Two shapes are provided. Static serves exactly the two bootstrap rooms;
// Dynamic serves every room in the store and pushes the access cascade into
// a single query. A deployment picks one.
package directory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Tyrowin/chatterbox/internal/access"
	"github.com/Tyrowin/chatterbox/internal/chat"
	"github.com/Tyrowin/chatterbox/internal/role"
)

// Fixed identifiers of the static rooms.
const (
	PublicRoomID  = "public-chat"
	PrivateRoomID = "private-chat"
)

// Directory is the read side every room consumer depends on.
type Directory interface {
	ListAccessibleRooms(ctx context.Context, id chat.Identity) ([]chat.Room, error)
	GetRoom(ctx context.Context, roomID string) (*chat.Room, error)
}

// RoomReader is the store surface both shapes read from.
type RoomReader interface {
	GetRoom(ctx context.Context, id string) (*chat.Room, error)
	AccessibleRooms(ctx context.Context, userID string, rl role.Role) ([]chat.Room, error)
}

// Static exposes only the public and private bootstrap rooms.
type Static struct {
	rooms RoomReader
}

// NewStatic creates a Static directory.
func NewStatic(rooms RoomReader) *Static {
	return &Static{rooms: rooms}
}

// ListAccessibleRooms returns the static rooms id may access. Rooms that
// were never bootstrapped are skipped.
func (d *Static) ListAccessibleRooms(ctx context.Context, id chat.Identity) ([]chat.Room, error) {
	out := make([]chat.Room, 0, 2)
	for _, roomID := range []string{PublicRoomID, PrivateRoomID} {
		room, err := d.rooms.GetRoom(ctx, roomID)
		if errors.Is(err, chat.ErrRoomNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if access.Allowed(id, room) {
			out = append(out, *room)
		}
	}
	return out, nil
}

// GetRoom returns a fresh snapshot of a static room.
func (d *Static) GetRoom(ctx context.Context, roomID string) (*chat.Room, error) {
	if roomID != PublicRoomID && roomID != PrivateRoomID {
		return nil, chat.ErrRoomNotFound
	}
	return d.rooms.GetRoom(ctx, roomID)
}

// Dynamic exposes every stored room.
type Dynamic struct {
	rooms RoomReader
}

// NewDynamic creates a Dynamic directory.
func NewDynamic(rooms RoomReader) *Dynamic {
	return &Dynamic{rooms: rooms}
}

// ListAccessibleRooms evaluates the access cascade in the store.
func (d *Dynamic) ListAccessibleRooms(ctx context.Context, id chat.Identity) ([]chat.Room, error) {
	return d.rooms.AccessibleRooms(ctx, id.UserID, id.Role)
}

// GetRoom returns a fresh snapshot of any stored room.
func (d *Dynamic) GetRoom(ctx context.Context, roomID string) (*chat.Room, error) {
	return d.rooms.GetRoom(ctx, roomID)
}

// BootstrapStore is what Bootstrap needs from persistence.
type BootstrapStore interface {
	FirstUserWithRole(ctx context.Context, rl role.Role) (*chat.User, error)
	EnsureRoom(ctx context.Context, room *chat.Room) (*chat.Room, bool, error)
}

// StaticRooms returns the definitions of the two static rooms owned by
// ownerID.
func StaticRooms(ownerID string) []*chat.Room {
	return []*chat.Room{
		{
			ID:           PublicRoomID,
			Name:         "Public Chat",
			Description:  "Chat room for all users",
			Visibility:   chat.Public,
			CreatedBy:    ownerID,
			MemberIDs:    []string{ownerID},
			AllowedRoles: []role.Role{role.User, role.Admin, role.Super},
		},
		{
			ID:           PrivateRoomID,
			Name:         "Private Chat",
			Description:  "Admin-only chat room",
			Visibility:   chat.Private,
			CreatedBy:    ownerID,
			MemberIDs:    []string{ownerID},
			AllowedRoles: []role.Role{role.Admin, role.Super},
		},
	}
}

// Bootstrap creates the static rooms that do not exist yet, owned by the
// first SUPER account. Without a SUPER account it logs and returns nil.
func Bootstrap(ctx context.Context, store BootstrapStore, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	owner, err := store.FirstUserWithRole(ctx, role.Super)
	if errors.Is(err, chat.ErrUserNotFound) {
		logger.Warn("no super user found, skipping static room bootstrap")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to find super user: %w", err)
	}

	for _, room := range StaticRooms(owner.ID) {
		_, created, err := store.EnsureRoom(ctx, room)
		if err != nil {
			return fmt.Errorf("failed to create room %s: %w", room.ID, err)
		}
		if created {
			logger.Info("static room created", "room_id", room.ID, "owner_id", owner.ID)
		}
	}
	return nil
}
