package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Tyrowin/chatterbox/internal/chat"
)

// CreateSession inserts sess, filling an empty ID with a fresh UUID.
func (s *Store) CreateSession(ctx context.Context, sess *chat.Session) error {
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	rec := sessionRecord{
		ID:        sess.ID,
		UserID:    sess.UserID,
		UserAgent: sess.UserAgent,
		ExpiresAt: sess.ExpiresAt.UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	sess.CreatedAt = rec.CreatedAt
	return nil
}

// FindSession returns the session with id, expired or not, or
// chat.ErrSessionNotFound.
func (s *Store) FindSession(ctx context.Context, id string) (*chat.Session, error) {
	var rec sessionRecord
	if err := s.db.WithContext(ctx).First(&rec, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, chat.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	sess := rec.toDomain()
	return &sess, nil
}

// ListSessions returns the sessions of userID still active at now, newest
// first.
func (s *Store) ListSessions(ctx context.Context, userID string, now time.Time) ([]chat.Session, error) {
	var recs []sessionRecord
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND expires_at > ?", userID, now.UTC()).
		Order("created_at DESC").
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	sessions := make([]chat.Session, 0, len(recs))
	for i := range recs {
		sessions = append(sessions, recs[i].toDomain())
	}
	return sessions, nil
}

// ExtendSession moves the expiry of a session.
func (s *Store) ExtendSession(ctx context.Context, id string, expiresAt time.Time) error {
	res := s.db.WithContext(ctx).Model(&sessionRecord{}).Where("id = ?", id).Update("expires_at", expiresAt.UTC())
	if res.Error != nil {
		return fmt.Errorf("failed to extend session: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return chat.ErrSessionNotFound
	}
	return nil
}

// DeleteSession removes a session owned by userID. A session of another
// user is reported as not found.
func (s *Store) DeleteSession(ctx context.Context, id, userID string) error {
	res := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).Delete(&sessionRecord{})
	if res.Error != nil {
		return fmt.Errorf("failed to delete session: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return chat.ErrSessionNotFound
	}
	return nil
}
