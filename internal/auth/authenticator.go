package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Tyrowin/chatterbox/internal/chat"
)

var (
	// ErrUnknownIdentity is returned when a valid token names a user that
	// no longer exists.
	ErrUnknownIdentity = errors.New("unknown identity")
	// ErrSessionExpired is returned when the session a token belongs to
	// was ended or has lapsed.
	ErrSessionExpired = errors.New("session expired")
)

// UserFinder loads the current persisted state of a user.
type UserFinder interface {
	FindUser(ctx context.Context, id string) (*chat.User, error)
}

// SessionFinder loads a session by id.
type SessionFinder interface {
	FindSession(ctx context.Context, id string) (*chat.Session, error)
}

// IdentityStore is what the Authenticator reads on every credential.
type IdentityStore interface {
	UserFinder
	SessionFinder
}

// Authenticator turns a bearer credential into an Identity.
type Authenticator struct {
	tokens *TokenManager
	store  IdentityStore
	now    func() time.Time
}

// NewAuthenticator creates an Authenticator.
func NewAuthenticator(tokens *TokenManager, store IdentityStore) *Authenticator {
	return &Authenticator{tokens: tokens, store: store, now: time.Now}
}

// Authenticate verifies token and resolves the identity it names. The role
// is read from the user store, not from the token, so a role change takes
// effect on the next connection even while older tokens are still valid.
// A token whose session was deleted stops working at once.
func (a *Authenticator) Authenticate(ctx context.Context, token string) (chat.Identity, error) {
	if token == "" {
		return chat.Identity{}, ErrMissingToken
	}
	claims, err := a.tokens.VerifyAccess(token)
	if err != nil {
		return chat.Identity{}, err
	}

	u, err := a.store.FindUser(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, chat.ErrUserNotFound) {
			return chat.Identity{}, ErrUnknownIdentity
		}
		return chat.Identity{}, fmt.Errorf("failed to resolve identity: %w", err)
	}
	sess, err := activeSession(ctx, a.store, claims, a.now())
	if err != nil {
		return chat.Identity{}, err
	}

	id := u.Identity()
	id.SessionID = sess.ID
	return id, nil
}

// activeSession returns the session claims belongs to if it still exists,
// belongs to the same user and has not expired at now.
func activeSession(ctx context.Context, sessions SessionFinder, claims *Claims, now time.Time) (*chat.Session, error) {
	if claims.SessionID == "" {
		return nil, ErrSessionExpired
	}
	sess, err := sessions.FindSession(ctx, claims.SessionID)
	if err != nil {
		if errors.Is(err, chat.ErrSessionNotFound) {
			return nil, ErrSessionExpired
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if sess.UserID != claims.UserID || !sess.Active(now) {
		return nil, ErrSessionExpired
	}
	return sess, nil
}

// TokenFromRequest extracts a bearer credential from the Authorization
// header or, failing that, the "token" query parameter. Browsers cannot set
// headers on a WebSocket handshake, hence the query fallback.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return r.URL.Query().Get("token")
}
