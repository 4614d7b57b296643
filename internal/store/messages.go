package store

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Tyrowin/chatterbox/internal/chat"
)

// AuthorizeFunc inspects a room snapshot read inside a write transaction
// and returns a non-nil error to abort the write.
type AuthorizeFunc func(room *chat.Room) error

// CreateMessage persists msg. The room is reloaded inside the same
// transaction and handed to authorize, so a membership or role change that
// lands between an earlier check and the write is still honoured. On
// success msg carries its ID, timestamp and author.
func (s *Store) CreateMessage(ctx context.Context, msg *chat.Message, authorize AuthorizeFunc) error {
	if err := chat.ValidateMessage(msg.Content); err != nil {
		return err
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		room, err := getRoom(tx, msg.RoomID)
		if err != nil {
			return err
		}
		if authorize != nil {
			if err := authorize(room); err != nil {
				return err
			}
		}

		rec := messageRecord{
			ID:        msg.ID,
			RoomID:    msg.RoomID,
			UserID:    msg.UserID,
			Content:   msg.Content,
			IsRead:    msg.IsRead,
			CreatedAt: msg.CreatedAt,
		}
		if err := tx.Create(&rec).Error; err != nil {
			return fmt.Errorf("failed to create message: %w", err)
		}

		authors, err := usersByID(tx, []string{msg.UserID})
		if err != nil {
			return err
		}
		msg.Author = authorOf(authors[msg.UserID])
		return nil
	})
}

// RecentMessages returns up to limit of the newest messages in the room,
// oldest first.
func (s *Store) RecentMessages(ctx context.Context, roomID string, limit int) ([]chat.Message, error) {
	return s.MessagesBefore(ctx, roomID, time.Time{}, limit)
}

// MessagesBefore returns up to limit messages created strictly before
// cursor, oldest first. A zero cursor means "now".
func (s *Store) MessagesBefore(ctx context.Context, roomID string, cursor time.Time, limit int) ([]chat.Message, error) {
	if limit <= 0 {
		return []chat.Message{}, nil
	}

	db := s.db.WithContext(ctx)
	q := db.Where("room_id = ?", roomID)
	if !cursor.IsZero() {
		q = q.Where("created_at < ?", cursor.UTC())
	}

	var recs []messageRecord
	if err := q.Order("created_at DESC").Order("id DESC").Limit(limit).Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}
	slices.Reverse(recs)

	ids := make([]string, 0, len(recs))
	for i := range recs {
		ids = append(ids, recs[i].UserID)
	}
	authors, err := usersByID(db, uniqueIDs(ids))
	if err != nil {
		return nil, err
	}

	msgs := make([]chat.Message, 0, len(recs))
	for i := range recs {
		m := recs[i].toDomain()
		m.Author = authorOf(authors[m.UserID])
		msgs = append(msgs, m)
	}
	return msgs, nil
}

// MarkRead sets the read flag of a message in roomID.
func (s *Store) MarkRead(ctx context.Context, roomID, messageID string) (*chat.Message, error) {
	db := s.db.WithContext(ctx)
	res := db.Model(&messageRecord{}).
		Where("id = ? AND room_id = ?", messageID, roomID).
		Update("is_read", true)
	if res.Error != nil {
		return nil, fmt.Errorf("failed to update message: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, chat.ErrMessageNotFound
	}

	var rec messageRecord
	if err := db.First(&rec, "id = ?", messageID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, chat.ErrMessageNotFound
		}
		return nil, fmt.Errorf("failed to load message: %w", err)
	}
	m := rec.toDomain()
	authors, err := usersByID(db, []string{m.UserID})
	if err != nil {
		return nil, err
	}
	m.Author = authorOf(authors[m.UserID])
	return &m, nil
}

func authorOf(u *chat.User) *chat.Author {
	if u == nil {
		return nil
	}
	return &chat.Author{ID: u.ID, Email: u.Email, Role: u.Role}
}
