package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Tyrowin/chatterbox/internal/chat"
	"github.com/Tyrowin/chatterbox/internal/role"
)

// CreateUser inserts u. An empty ID is filled with a fresh UUID and the
// email is stored lower-cased.
func (s *Store) CreateUser(ctx context.Context, u *chat.User) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if !u.Role.Valid() {
		return chat.ErrInvalidRole
	}
	u.Email = normalizeEmail(u.Email)

	rec := userRecord{
		ID:           u.ID,
		Email:        u.Email,
		PasswordHash: u.PasswordHash,
		Role:         string(u.Role),
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return chat.ErrUserExists
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	u.CreatedAt = rec.CreatedAt
	u.UpdatedAt = rec.UpdatedAt
	return nil
}

// FindUser returns the user with id, or chat.ErrUserNotFound.
func (s *Store) FindUser(ctx context.Context, id string) (*chat.User, error) {
	var rec userRecord
	if err := s.db.WithContext(ctx).First(&rec, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, chat.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return rec.toDomain(), nil
}

// FindUserByEmail looks a user up case-insensitively.
func (s *Store) FindUserByEmail(ctx context.Context, email string) (*chat.User, error) {
	var rec userRecord
	if err := s.db.WithContext(ctx).First(&rec, "email = ?", normalizeEmail(email)).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, chat.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return rec.toDomain(), nil
}

// ListUsers returns every account, newest first.
func (s *Store) ListUsers(ctx context.Context) ([]chat.User, error) {
	var recs []userRecord
	if err := s.db.WithContext(ctx).Order("created_at DESC").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	users := make([]chat.User, 0, len(recs))
	for i := range recs {
		users = append(users, *recs[i].toDomain())
	}
	return users, nil
}

// SetUserRole changes the role of a user. Live connections keep the role
// they were authenticated with until they reconnect.
func (s *Store) SetUserRole(ctx context.Context, id string, rl role.Role) (*chat.User, error) {
	if !rl.Valid() {
		return nil, chat.ErrInvalidRole
	}
	res := s.db.WithContext(ctx).Model(&userRecord{}).Where("id = ?", id).Update("role", string(rl))
	if res.Error != nil {
		return nil, fmt.Errorf("failed to update role: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, chat.ErrUserNotFound
	}
	return s.FindUser(ctx, id)
}

// FirstUserWithRole returns the oldest user holding rl.
func (s *Store) FirstUserWithRole(ctx context.Context, rl role.Role) (*chat.User, error) {
	var rec userRecord
	err := s.db.WithContext(ctx).Where("role = ?", string(rl)).Order("created_at ASC").First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, chat.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return rec.toDomain(), nil
}

// usersByID loads the given users keyed by id. Unknown ids are absent.
func usersByID(db *gorm.DB, ids []string) (map[string]*chat.User, error) {
	out := make(map[string]*chat.User, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var recs []userRecord
	if err := db.Where("id IN ?", ids).Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("failed to load users: %w", err)
	}
	for i := range recs {
		out[recs[i].ID] = recs[i].toDomain()
	}
	return out, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
