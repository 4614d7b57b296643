package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/Tyrowin/chatterbox/internal/chat"
	"github.com/Tyrowin/chatterbox/internal/role"
)

var (
	// ErrInvalidCredentials is returned when login credentials are invalid.
	ErrInvalidCredentials = errors.New("invalid email or password")
	// ErrInvalidEmail is returned when an email address does not parse.
	ErrInvalidEmail = errors.New("invalid email format")
	// ErrWeakPassword is returned for passwords shorter than MinPasswordLength.
	ErrWeakPassword = errors.New("password must be at least 8 characters")
	// ErrPasswordTooLong is returned for passwords past bcrypt's 72-byte limit.
	ErrPasswordTooLong = errors.New("password must be at most 72 characters")
)

// Password length limits in bytes.
const (
	MinPasswordLength = 8
	MaxPasswordLength = 72
)

// maxUserAgentLength caps the user agent recorded on a session.
const maxUserAgentLength = 256

// SessionStore persists sign-in sessions.
type SessionStore interface {
	SessionFinder
	CreateSession(ctx context.Context, sess *chat.Session) error
	ListSessions(ctx context.Context, userID string, now time.Time) ([]chat.Session, error)
	ExtendSession(ctx context.Context, id string, expiresAt time.Time) error
	DeleteSession(ctx context.Context, id, userID string) error
}

// AccountStore is the persistence the account service needs.
type AccountStore interface {
	UserFinder
	SessionStore
	CreateUser(ctx context.Context, u *chat.User) error
	FindUserByEmail(ctx context.Context, email string) (*chat.User, error)
	SetUserRole(ctx context.Context, id string, rl role.Role) (*chat.User, error)
}

// TokenPair is returned by Login and Refresh.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	TokenType    string `json:"tokenType"`
	ExpiresIn    int64  `json:"expiresIn"`
}

// Accounts handles registration, login, token refresh and sessions.
type Accounts struct {
	store  AccountStore
	hasher *PasswordHasher
	tokens *TokenManager
	now    func() time.Time
}

// NewAccounts creates an Accounts service.
func NewAccounts(store AccountStore, hasher *PasswordHasher, tokens *TokenManager) *Accounts {
	return &Accounts{store: store, hasher: hasher, tokens: tokens, now: time.Now}
}

// Register creates a USER account.
func (a *Accounts) Register(ctx context.Context, email, password string) (*chat.User, error) {
	return a.create(ctx, email, password, role.User)
}

func (a *Accounts) create(ctx context.Context, email, password string, rl role.Role) (*chat.User, error) {
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return nil, ErrInvalidEmail
	}
	if err := validatePassword(password); err != nil {
		return nil, err
	}

	hash, err := a.hasher.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}
	u := &chat.User{Email: email, PasswordHash: hash, Role: rl}
	if err := a.store.CreateUser(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// Login checks credentials, opens a session and issues a token pair bound
// to it.
func (a *Accounts) Login(ctx context.Context, email, password, userAgent string) (*TokenPair, error) {
	u, err := a.store.FindUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, chat.ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if !a.hasher.Verify(password, u.PasswordHash) {
		return nil, ErrInvalidCredentials
	}

	if len(userAgent) > maxUserAgentLength {
		userAgent = strings.ToValidUTF8(userAgent[:maxUserAgentLength], "")
	}
	sess := &chat.Session{
		UserID:    u.ID,
		UserAgent: userAgent,
		ExpiresAt: a.now().Add(a.tokens.RefreshTTL()),
	}
	if err := a.store.CreateSession(ctx, sess); err != nil {
		return nil, err
	}
	return a.issuePair(u, sess.ID)
}

// Refresh exchanges a refresh token for a new pair. The user must still
// exist and its session must still be active; the session is extended and
// the new tokens carry the user's current role.
func (a *Accounts) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	claims, err := a.tokens.VerifyRefresh(refreshToken)
	if err != nil {
		return nil, err
	}
	u, err := a.store.FindUser(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, chat.ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to find user: %w", err)
	}

	now := a.now()
	sess, err := activeSession(ctx, a.store, claims, now)
	if err != nil {
		return nil, err
	}
	if err := a.store.ExtendSession(ctx, sess.ID, now.Add(a.tokens.RefreshTTL())); err != nil {
		if errors.Is(err, chat.ErrSessionNotFound) {
			return nil, ErrSessionExpired
		}
		return nil, err
	}
	return a.issuePair(u, sess.ID)
}

// Logout ends the session id was authenticated with. Ending a session
// that is already gone is not an error.
func (a *Accounts) Logout(ctx context.Context, id chat.Identity) error {
	err := a.store.DeleteSession(ctx, id.SessionID, id.UserID)
	if err != nil && !errors.Is(err, chat.ErrSessionNotFound) {
		return err
	}
	return nil
}

// Sessions lists the active sessions of id's user, newest first, marking
// the one id was authenticated with.
func (a *Accounts) Sessions(ctx context.Context, id chat.Identity) ([]chat.Session, error) {
	sessions, err := a.store.ListSessions(ctx, id.UserID, a.now())
	if err != nil {
		return nil, err
	}
	for i := range sessions {
		sessions[i].Current = sessions[i].ID == id.SessionID
	}
	return sessions, nil
}

// EndSession deletes one of id's own sessions. Sessions of other users
// report chat.ErrSessionNotFound.
func (a *Accounts) EndSession(ctx context.Context, id chat.Identity, sessionID string) error {
	return a.store.DeleteSession(ctx, sessionID, id.UserID)
}

// SeedSuper makes sure an account with email exists and holds the SUPER
// role, creating it with password when absent. It reports whether the
// account was created.
func (a *Accounts) SeedSuper(ctx context.Context, email, password string) (*chat.User, bool, error) {
	u, err := a.store.FindUserByEmail(ctx, email)
	switch {
	case err == nil:
		if u.Role == role.Super {
			return u, false, nil
		}
		u, err = a.store.SetUserRole(ctx, u.ID, role.Super)
		return u, false, err
	case errors.Is(err, chat.ErrUserNotFound):
		u, err = a.create(ctx, email, password, role.Super)
		if err != nil {
			return nil, false, err
		}
		return u, true, nil
	default:
		return nil, false, fmt.Errorf("failed to find user: %w", err)
	}
}

func (a *Accounts) issuePair(u *chat.User, sessionID string) (*TokenPair, error) {
	access, err := a.tokens.IssueAccess(u, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to generate access token: %w", err)
	}
	refresh, err := a.tokens.IssueRefresh(u, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to generate refresh token: %w", err)
	}
	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    int64(a.tokens.AccessTTL().Seconds()),
	}, nil
}

func validatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return ErrWeakPassword
	}
	if len(password) > MaxPasswordLength {
		return ErrPasswordTooLong
	}
	return nil
}
