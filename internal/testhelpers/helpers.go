// Package testhelpers provides fixtures shared by the chatterbox test suites:
// an in-memory store, seeded users with signed tokens, and small WebSocket
// and HTTP helpers for talking to a running test server.
package testhelpers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/chatterbox/internal/auth"
	"github.com/Tyrowin/chatterbox/internal/chat"
	"github.com/Tyrowin/chatterbox/internal/role"
	"github.com/Tyrowin/chatterbox/internal/store"
)

// TestOrigin is the Origin header sent by DialWebSocket.
const TestOrigin = "http://localhost:8080"

// TestSecret signs every token minted by NewTokenManager.
const TestSecret = "test-secret-at-least-32-bytes-long!!"

// Frame is a decoded socket frame.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Decode unmarshals the frame payload into v.
func (f Frame) Decode(t *testing.T, v any) {
	t.Helper()
	if err := json.Unmarshal(f.Data, v); err != nil {
		t.Fatalf("failed to decode %s payload %s: %v", f.Event, f.Data, err)
	}
}

// OpenStore opens a migrated in-memory SQLite store closed at test end.
func OpenStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(store.DriverSQLite, ":memory:")
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// CreateUser inserts a user with a placeholder password hash.
func CreateUser(t *testing.T, s *store.Store, email string, rl role.Role) *chat.User {
	t.Helper()
	u := &chat.User{Email: email, PasswordHash: "unused", Role: rl}
	if err := s.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("failed to create user %s: %v", email, err)
	}
	return u
}

// NewTokenManager returns a token manager signing with TestSecret.
func NewTokenManager(t *testing.T) *auth.TokenManager {
	t.Helper()
	tm, err := auth.NewTokenManager(auth.TokenConfig{
		Secret:     TestSecret,
		Issuer:     "chatterbox-test",
		AccessTTL:  time.Hour,
		RefreshTTL: 24 * time.Hour,
	})
	if err != nil {
		t.Fatalf("failed to create token manager: %v", err)
	}
	return tm
}

// CreateSession opens an hour-long session for u.
func CreateSession(t *testing.T, s *store.Store, u *chat.User) *chat.Session {
	t.Helper()
	sess := &chat.Session{UserID: u.ID, UserAgent: "test", ExpiresAt: time.Now().Add(time.Hour)}
	if err := s.CreateSession(context.Background(), sess); err != nil {
		t.Fatalf("failed to create session for %s: %v", u.Email, err)
	}
	return sess
}

// AccessToken opens a new session for u and mints an access token in it.
func AccessToken(t *testing.T, s *store.Store, tm *auth.TokenManager, u *chat.User) string {
	t.Helper()
	token, err := tm.IssueAccess(u, CreateSession(t, s, u).ID)
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}
	return token
}

// WebSocketURL converts an httptest server URL into the /ws endpoint.
func WebSocketURL(serverURL, token string) string {
	u := "ws" + strings.TrimPrefix(serverURL, "http") + "/ws"
	if token != "" {
		u += "?token=" + url.QueryEscape(token)
	}
	return u
}

// Dial opens a socket to the /ws endpoint of serverURL. The handshake
// response is returned so callers can inspect rejections.
func Dial(serverURL, token string) (*websocket.Conn, *http.Response, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	headers := http.Header{}
	headers.Set("Origin", TestOrigin)

	conn, resp, err := dialer.Dial(WebSocketURL(serverURL, token), headers)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn, resp, err
}

// MustDial is Dial that fails the test on error and closes the socket at
// test end.
func MustDial(t *testing.T, serverURL, token string) *websocket.Conn {
	t.Helper()
	conn, _, err := Dial(serverURL, token)
	if err != nil {
		t.Fatalf("failed to dial websocket: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// Send writes one event frame.
func Send(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("failed to encode %s payload: %v", event, err)
	}
	if err := conn.WriteJSON(Frame{Event: event, Data: raw}); err != nil {
		t.Fatalf("failed to send %s: %v", event, err)
	}
}

// Read returns the next frame or fails after two seconds.
func Read(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("failed to set read deadline: %v", err)
	}
	var f Frame
	if err := conn.ReadJSON(&f); err != nil {
		t.Fatalf("failed to read frame: %v", err)
	}
	return f
}

// ReadEvent skips frames until one named event arrives.
func ReadEvent(t *testing.T, conn *websocket.Conn, event string) Frame {
	t.Helper()
	for {
		f := Read(t, conn)
		if f.Event == event {
			return f
		}
	}
}

// ExpectSilence fails if any frame arrives within d.
func ExpectSilence(t *testing.T, conn *websocket.Conn, d time.Duration) {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(d)); err != nil {
		t.Fatalf("failed to set read deadline: %v", err)
	}
	var f Frame
	if err := conn.ReadJSON(&f); err == nil {
		t.Fatalf("unexpected frame %s: %s", f.Event, f.Data)
	}
}

// DoJSON sends a request with an optional JSON body and bearer token.
func DoJSON(t *testing.T, method, url, token string, body any) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("failed to create request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("failed to make request: %v", err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

// DecodeBody decodes a JSON response body into v.
func DecodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
}

// AssertStatusCode checks if the HTTP response has the expected status code.
func AssertStatusCode(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("Expected status code %d, got %d", expected, resp.StatusCode)
	}
}
