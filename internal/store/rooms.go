package store

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Tyrowin/chatterbox/internal/chat"
	"github.com/Tyrowin/chatterbox/internal/role"
)

// RoomUpdate carries the editable attributes of a room. Nil fields are
// left unchanged; a non-nil AllowedRoles replaces the whole set.
type RoomUpdate struct {
	Name         *string
	Description  *string
	Visibility   *chat.Visibility
	AllowedRoles *[]role.Role
}

// CreateRoom validates and inserts room together with its member and
// allowed-role sets. An empty ID is filled with a fresh UUID.
func (s *Store) CreateRoom(ctx context.Context, room *chat.Room) error {
	if err := chat.ValidateRoom(room); err != nil {
		return err
	}
	if room.ID == "" {
		room.ID = uuid.NewString()
	}
	room.MemberIDs = uniqueIDs(room.MemberIDs)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := requireUsers(tx, room.MemberIDs); err != nil {
			return err
		}
		rec := roomRecord{
			ID:          room.ID,
			Name:        room.Name,
			Description: room.Description,
			Visibility:  string(room.Visibility),
			CreatedBy:   room.CreatedBy,
		}
		if err := tx.Create(&rec).Error; err != nil {
			return fmt.Errorf("failed to create room: %w", err)
		}
		if err := insertMembers(tx, room.ID, room.MemberIDs); err != nil {
			return err
		}
		return replaceRoles(tx, room.ID, room.AllowedRoles)
	})
	if err != nil {
		return err
	}

	created, err := s.GetRoom(ctx, room.ID)
	if err != nil {
		return err
	}
	*room = *created
	return nil
}

// EnsureRoom creates room unless a room with the same ID already exists.
// It reports whether a new room was created and returns the stored room.
func (s *Store) EnsureRoom(ctx context.Context, room *chat.Room) (*chat.Room, bool, error) {
	existing, err := s.GetRoom(ctx, room.ID)
	switch {
	case err == nil:
		return existing, false, nil
	case !errors.Is(err, chat.ErrRoomNotFound):
		return nil, false, err
	}
	if err := s.CreateRoom(ctx, room); err != nil {
		return nil, false, err
	}
	return room, true, nil
}

// GetRoom returns a fresh snapshot of the room, or chat.ErrRoomNotFound.
func (s *Store) GetRoom(ctx context.Context, id string) (*chat.Room, error) {
	return getRoom(s.db.WithContext(ctx), id)
}

func getRoom(db *gorm.DB, id string) (*chat.Room, error) {
	var rec roomRecord
	err := db.Preload("Members").Preload("Roles").First(&rec, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, chat.ErrRoomNotFound
		}
		return nil, fmt.Errorf("failed to load room: %w", err)
	}
	return rec.toDomain(), nil
}

// ListRooms returns every room ordered by creation time.
func (s *Store) ListRooms(ctx context.Context) ([]chat.Room, error) {
	var recs []roomRecord
	err := s.db.WithContext(ctx).Preload("Members").Preload("Roles").
		Order("created_at ASC").Order("id ASC").Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list rooms: %w", err)
	}
	return toRooms(recs), nil
}

// AccessibleRooms returns the rooms userID holding rl may access. The
// access cascade is evaluated by the database in a single query.
func (s *Store) AccessibleRooms(ctx context.Context, userID string, rl role.Role) ([]chat.Room, error) {
	const (
		isMember = "EXISTS (SELECT 1 FROM room_members m WHERE m.room_id = rooms.id AND m.user_id = ?)"
		hasRoles = "EXISTS (SELECT 1 FROM room_roles r WHERE r.room_id = rooms.id)"
		hasRole  = "EXISTS (SELECT 1 FROM room_roles r WHERE r.room_id = rooms.id AND r.role = ?)"
	)

	cond := isMember +
		" OR (rooms.visibility = ? AND " + hasRole + ")" +
		" OR (rooms.visibility = ? AND NOT " + hasRoles + ")"
	args := []any{userID, string(chat.Public), string(rl), string(chat.Public)}
	if rl.Elevated() {
		cond += " OR (rooms.visibility = ? AND " + hasRoles + ")"
		args = append(args, string(chat.Private))
	}

	var recs []roomRecord
	err := s.db.WithContext(ctx).Preload("Members").Preload("Roles").
		Where(cond, args...).
		Order("created_at ASC").Order("id ASC").
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list accessible rooms: %w", err)
	}
	return toRooms(recs), nil
}

// UpdateRoom applies upd to the room and returns the new snapshot.
func (s *Store) UpdateRoom(ctx context.Context, id string, upd RoomUpdate) (*chat.Room, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		room, err := getRoom(tx, id)
		if err != nil {
			return err
		}
		if upd.Name != nil {
			room.Name = *upd.Name
		}
		if upd.Description != nil {
			room.Description = *upd.Description
		}
		if upd.Visibility != nil {
			room.Visibility = *upd.Visibility
		}
		if upd.AllowedRoles != nil {
			room.AllowedRoles = *upd.AllowedRoles
		}
		if err := chat.ValidateRoom(room); err != nil {
			return err
		}

		err = tx.Model(&roomRecord{}).Where("id = ?", id).Updates(map[string]any{
			"name":        room.Name,
			"description": room.Description,
			"visibility":  string(room.Visibility),
		}).Error
		if err != nil {
			return fmt.Errorf("failed to update room: %w", err)
		}
		if upd.AllowedRoles != nil {
			if err := tx.Where("room_id = ?", id).Delete(&roleRecord{}).Error; err != nil {
				return fmt.Errorf("failed to clear allowed roles: %w", err)
			}
			return replaceRoles(tx, id, room.AllowedRoles)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetRoom(ctx, id)
}

// DeleteRoom removes the room, its sets and its messages.
func (s *Store) DeleteRoom(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ?", id).Delete(&roomRecord{})
		if res.Error != nil {
			return fmt.Errorf("failed to delete room: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return chat.ErrRoomNotFound
		}
		for _, model := range []any{&memberRecord{}, &roleRecord{}, &messageRecord{}} {
			if err := tx.Where("room_id = ?", id).Delete(model).Error; err != nil {
				return fmt.Errorf("failed to delete room data: %w", err)
			}
		}
		return nil
	})
}

// AddMembers adds userIDs to the member set. Adding an existing member is
// a no-op; unknown users fail the whole call with chat.ErrUserNotFound.
func (s *Store) AddMembers(ctx context.Context, roomID string, userIDs []string) (*chat.Room, error) {
	userIDs = uniqueIDs(userIDs)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := requireRoom(tx, roomID); err != nil {
			return err
		}
		if err := requireUsers(tx, userIDs); err != nil {
			return err
		}
		if err := insertMembers(tx, roomID, userIDs); err != nil {
			return err
		}
		return touchRoom(tx, roomID)
	})
	if err != nil {
		return nil, err
	}
	return s.GetRoom(ctx, roomID)
}

// RemoveMembers removes userIDs from the member set. Removing a user who
// is not a member is a no-op.
func (s *Store) RemoveMembers(ctx context.Context, roomID string, userIDs []string) (*chat.Room, error) {
	userIDs = uniqueIDs(userIDs)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := requireRoom(tx, roomID); err != nil {
			return err
		}
		if len(userIDs) > 0 {
			err := tx.Where("room_id = ? AND user_id IN ?", roomID, userIDs).Delete(&memberRecord{}).Error
			if err != nil {
				return fmt.Errorf("failed to remove members: %w", err)
			}
		}
		return touchRoom(tx, roomID)
	})
	if err != nil {
		return nil, err
	}
	return s.GetRoom(ctx, roomID)
}

func insertMembers(tx *gorm.DB, roomID string, userIDs []string) error {
	if len(userIDs) == 0 {
		return nil
	}
	recs := make([]memberRecord, 0, len(userIDs))
	for _, id := range userIDs {
		recs = append(recs, memberRecord{RoomID: roomID, UserID: id})
	}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&recs).Error; err != nil {
		return fmt.Errorf("failed to add members: %w", err)
	}
	return nil
}

func replaceRoles(tx *gorm.DB, roomID string, roles []role.Role) error {
	if len(roles) == 0 {
		return nil
	}
	recs := make([]roleRecord, 0, len(roles))
	for _, rl := range roles {
		recs = append(recs, roleRecord{RoomID: roomID, Role: string(rl)})
	}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&recs).Error; err != nil {
		return fmt.Errorf("failed to set allowed roles: %w", err)
	}
	return nil
}

func requireRoom(tx *gorm.DB, id string) error {
	var n int64
	if err := tx.Model(&roomRecord{}).Where("id = ?", id).Count(&n).Error; err != nil {
		return fmt.Errorf("failed to load room: %w", err)
	}
	if n == 0 {
		return chat.ErrRoomNotFound
	}
	return nil
}

func requireUsers(tx *gorm.DB, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	var n int64
	if err := tx.Model(&userRecord{}).Where("id IN ?", ids).Count(&n).Error; err != nil {
		return fmt.Errorf("failed to load users: %w", err)
	}
	if int(n) != len(ids) {
		return chat.ErrUserNotFound
	}
	return nil
}

func touchRoom(tx *gorm.DB, id string) error {
	err := tx.Model(&roomRecord{}).Where("id = ?", id).UpdateColumn("updated_at", time.Now().UTC()).Error
	if err != nil {
		return fmt.Errorf("failed to update room: %w", err)
	}
	return nil
}

func toRooms(recs []roomRecord) []chat.Room {
	rooms := make([]chat.Room, 0, len(recs))
	for i := range recs {
		rooms = append(rooms, *recs[i].toDomain())
	}
	return rooms
}

// uniqueIDs sorts ids and drops blanks and duplicates.
func uniqueIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != "" {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}
