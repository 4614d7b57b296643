package server

import (
	"context"
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/Tyrowin/chatterbox/internal/auth"
	"github.com/Tyrowin/chatterbox/internal/chat"
	"github.com/Tyrowin/chatterbox/internal/directory"
	"github.com/Tyrowin/chatterbox/internal/role"
	"github.com/Tyrowin/chatterbox/internal/store"
	"github.com/Tyrowin/chatterbox/internal/testhelpers"
)

// testServer is a running server over an in-memory store with one account
// per role. In static mode the two bootstrap rooms exist.
type testServer struct {
	store  *store.Store
	tokens *auth.TokenManager
	srv    *Server
	http   *httptest.Server

	super *chat.User
	admin *chat.User
	user  *chat.User
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func testDirectory(t *testing.T, st *store.Store, mode string) directory.Directory {
	t.Helper()
	if mode == RoomModeDynamic {
		return directory.NewDynamic(st)
	}
	if err := directory.Bootstrap(context.Background(), st, discardLogger()); err != nil {
		t.Fatalf("failed to bootstrap rooms: %v", err)
	}
	return directory.NewStatic(st)
}

func newTestServer(t *testing.T, mode string, opts ...func(*Config)) *testServer {
	t.Helper()

	st := testhelpers.OpenStore(t)
	ts := &testServer{
		store:  st,
		tokens: testhelpers.NewTokenManager(t),
		super:  testhelpers.CreateUser(t, st, "super@example.com", role.Super),
		admin:  testhelpers.CreateUser(t, st, "admin@example.com", role.Admin),
		user:   testhelpers.CreateUser(t, st, "user@example.com", role.User),
	}
	dir := testDirectory(t, st, mode)

	cfg := &Config{
		AllowedOrigins: []string{testhelpers.TestOrigin},
		RateLimit:      RateLimitConfig{Burst: 100, RefillInterval: time.Second},
		RoomMode:       mode,
		Auth:           AuthConfig{JWTSecret: testhelpers.TestSecret},
	}
	for _, opt := range opts {
		opt(cfg)
	}
	ts.srv = New(cfg, Deps{
		Store:         st,
		Directory:     dir,
		Authenticator: auth.NewAuthenticator(ts.tokens, st),
		Accounts:      auth.NewAccounts(st, auth.NewPasswordHasherWithCost(bcrypt.MinCost), ts.tokens),
		Logger:        discardLogger(),
	})
	ts.srv.StartHub()
	t.Cleanup(func() {
		if err := ts.srv.Hub().Shutdown(2 * time.Second); err != nil {
			t.Errorf("hub shutdown error: %v", err)
		}
	})

	ts.http = httptest.NewServer(ts.srv.Handler())
	t.Cleanup(ts.http.Close)
	return ts
}

func (ts *testServer) token(t *testing.T, u *chat.User) string {
	t.Helper()
	return testhelpers.AccessToken(t, ts.store, ts.tokens, u)
}

func (ts *testServer) url(path string) string {
	return ts.http.URL + path
}

// waitFor polls cond until it holds or a second passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
