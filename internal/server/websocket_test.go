package server

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/chatterbox/internal/chat"
	"github.com/Tyrowin/chatterbox/internal/directory"
	"github.com/Tyrowin/chatterbox/internal/testhelpers"
)

func TestWebSocketHandshakeRejections(t *testing.T) {
	ts := newTestServer(t, RoomModeStatic)

	t.Run("missing token", func(t *testing.T) {
		conn, resp, err := testhelpers.Dial(ts.http.URL, "")
		if err == nil {
			_ = conn.Close()
			t.Fatal("handshake without token succeeded")
		}
		if resp == nil || resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("response = %v, want 401", resp)
		}
	})

	t.Run("invalid token", func(t *testing.T) {
		conn, resp, err := testhelpers.Dial(ts.http.URL, "not-a-jwt")
		if err == nil {
			_ = conn.Close()
			t.Fatal("handshake with a bad token succeeded")
		}
		if resp == nil || resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("response = %v, want 401", resp)
		}
	})

	t.Run("disallowed origin", func(t *testing.T) {
		headers := http.Header{}
		headers.Set("Origin", "https://evil.example.com")
		dialer := websocket.Dialer{HandshakeTimeout: 2 * time.Second}
		conn, resp, err := dialer.Dial(testhelpers.WebSocketURL(ts.http.URL, ts.token(t, ts.user)), headers)
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		if err == nil {
			_ = conn.Close()
			t.Fatal("handshake from a disallowed origin succeeded")
		}
		if resp == nil || resp.StatusCode != http.StatusForbidden {
			t.Errorf("response = %v, want 403", resp)
		}
	})

	if n := ts.srv.Hub().Presence().ConnectionCount(); n != 0 {
		t.Errorf("ConnectionCount() = %d after rejected handshakes", n)
	}
}

func TestWebSocketBearerHeader(t *testing.T) {
	ts := newTestServer(t, RoomModeStatic)

	headers := http.Header{}
	headers.Set("Origin", testhelpers.TestOrigin)
	headers.Set("Authorization", "Bearer "+ts.token(t, ts.admin))
	dialer := websocket.Dialer{HandshakeTimeout: 2 * time.Second}
	conn, resp, err := dialer.Dial(testhelpers.WebSocketURL(ts.http.URL, ""), headers)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		t.Fatalf("handshake with bearer header failed: %v", err)
	}
	defer conn.Close()

	testhelpers.ReadEvent(t, conn, EventList)
}

func TestWebSocketRoomList(t *testing.T) {
	ts := newTestServer(t, RoomModeStatic)

	tests := []struct {
		name string
		user *chat.User
		want []string
	}{
		{"user", ts.user, []string{directory.PublicRoomID}},
		{"admin", ts.admin, []string{directory.PublicRoomID, directory.PrivateRoomID}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := testhelpers.MustDial(t, ts.http.URL, ts.token(t, tt.user))

			var rooms []chat.Room
			testhelpers.Read(t, conn).Decode(t, &rooms)
			if len(rooms) != len(tt.want) {
				t.Fatalf("got %d rooms, want %v", len(rooms), tt.want)
			}
			for i, id := range tt.want {
				if rooms[i].ID != id {
					t.Errorf("rooms[%d] = %s, want %s", i, rooms[i].ID, id)
				}
			}
		})
	}
}

func TestWebSocketChatFlow(t *testing.T) {
	ts := newTestServer(t, RoomModeStatic)

	admin := testhelpers.MustDial(t, ts.http.URL, ts.token(t, ts.admin))
	user := testhelpers.MustDial(t, ts.http.URL, ts.token(t, ts.user))
	testhelpers.ReadEvent(t, admin, EventList)
	testhelpers.ReadEvent(t, user, EventList)

	testhelpers.Send(t, admin, EventJoin, directory.PublicRoomID)
	testhelpers.ReadEvent(t, admin, EventMessages)
	testhelpers.ReadEvent(t, admin, EventActiveUsers)

	testhelpers.Send(t, user, EventJoin, directory.PrivateRoomID)
	var text string
	testhelpers.ReadEvent(t, user, EventError).Decode(t, &text)
	if text != errMsgNoAccess {
		t.Errorf("private join error = %q", text)
	}

	testhelpers.Send(t, user, EventJoin, directory.PublicRoomID)
	testhelpers.ReadEvent(t, user, EventMessages)
	testhelpers.ReadEvent(t, user, EventActiveUsers)

	var joined PresenceEvent
	testhelpers.ReadEvent(t, admin, EventUserJoined).Decode(t, &joined)
	if joined.UserID != ts.user.ID {
		t.Errorf("userJoined = %+v", joined)
	}
	testhelpers.ReadEvent(t, admin, EventActiveUsers)

	testhelpers.Send(t, admin, EventMessage, MessageRequest{RoomID: directory.PublicRoomID, Content: "welcome"})
	for _, conn := range []*websocket.Conn{admin, user} {
		var msg chat.Message
		testhelpers.ReadEvent(t, conn, EventMessage).Decode(t, &msg)
		if msg.Content != "welcome" || msg.RoomID != directory.PublicRoomID {
			t.Errorf("message = %+v", msg)
		}
	}

	testhelpers.Send(t, user, EventTyping, TypingRequest{RoomID: directory.PublicRoomID, IsTyping: true})
	var typing TypingEvent
	testhelpers.ReadEvent(t, admin, EventTyping).Decode(t, &typing)
	if typing.UserID != ts.user.ID {
		t.Errorf("typing = %+v", typing)
	}
	testhelpers.ExpectSilence(t, user, 150*time.Millisecond)

	_ = user.Close()
	var left PresenceEvent
	testhelpers.ReadEvent(t, admin, EventUserLeft).Decode(t, &left)
	if left.UserID != ts.user.ID {
		t.Errorf("userLeft = %+v", left)
	}
	var active ActiveUsersEvent
	testhelpers.ReadEvent(t, admin, EventActiveUsers).Decode(t, &active)
	if len(active.Users) != 1 || active.Users[0].UserID != ts.admin.ID {
		t.Errorf("activeUsers = %+v, want only the admin", active.Users)
	}
}

func TestWebSocketBackfillAfterReconnect(t *testing.T) {
	ts := newTestServer(t, RoomModeStatic)

	first := testhelpers.MustDial(t, ts.http.URL, ts.token(t, ts.user))
	testhelpers.ReadEvent(t, first, EventList)
	for _, content := range []string{"one", "two", "three"} {
		testhelpers.Send(t, first, EventMessage, MessageRequest{RoomID: directory.PublicRoomID, Content: content})
		testhelpers.ReadEvent(t, first, EventMessage)
	}
	_ = first.Close()

	second := testhelpers.MustDial(t, ts.http.URL, ts.token(t, ts.user))
	testhelpers.ReadEvent(t, second, EventList)
	testhelpers.Send(t, second, EventJoin, directory.PublicRoomID)

	var backfill []chat.Message
	testhelpers.ReadEvent(t, second, EventMessages).Decode(t, &backfill)
	if len(backfill) != 3 {
		t.Fatalf("backfill has %d messages, want 3", len(backfill))
	}
	for i, want := range []string{"one", "two", "three"} {
		if backfill[i].Content != want {
			t.Errorf("backfill[%d] = %q, want %q", i, backfill[i].Content, want)
		}
	}
}

func TestWebSocketMaximumLengthMessage(t *testing.T) {
	ts := newTestServer(t, RoomModeStatic)

	tests := []struct {
		name    string
		content string
	}{
		{"plain", strings.Repeat("a", chat.MaxMessageLength)},
		{"escaped", strings.Repeat("\x01", chat.MaxMessageLength)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := chat.ValidateMessage(tt.content); err != nil {
				t.Fatalf("ValidateMessage() error = %v", err)
			}
			conn := testhelpers.MustDial(t, ts.http.URL, ts.token(t, ts.user))
			testhelpers.ReadEvent(t, conn, EventList)
			testhelpers.Send(t, conn, EventJoin, directory.PublicRoomID)
			testhelpers.ReadEvent(t, conn, EventActiveUsers)

			testhelpers.Send(t, conn, EventMessage, MessageRequest{RoomID: directory.PublicRoomID, Content: tt.content})
			var msg chat.Message
			testhelpers.ReadEvent(t, conn, EventMessage).Decode(t, &msg)
			if msg.Content != tt.content {
				t.Errorf("echoed content has %d bytes, want %d", len(msg.Content), len(tt.content))
			}
		})
	}
}

func TestWebSocketRateLimit(t *testing.T) {
	ts := newTestServer(t, RoomModeStatic, func(c *Config) {
		c.RateLimit = RateLimitConfig{Burst: 2, RefillInterval: time.Hour}
	})

	conn := testhelpers.MustDial(t, ts.http.URL, ts.token(t, ts.user))
	testhelpers.ReadEvent(t, conn, EventList)

	for range 3 {
		testhelpers.Send(t, conn, EventLeave, directory.PublicRoomID)
	}
	var text string
	testhelpers.ReadEvent(t, conn, EventError).Decode(t, &text)
	if text != errMsgRateLimited {
		t.Errorf("error = %q, want rate limit", text)
	}
}

func TestWebSocketOversizedFrameClosesConnection(t *testing.T) {
	ts := newTestServer(t, RoomModeStatic)

	conn := testhelpers.MustDial(t, ts.http.URL, ts.token(t, ts.user))
	testhelpers.ReadEvent(t, conn, EventList)
	waitFor(t, "registration", func() bool { return ts.srv.Hub().Presence().ConnectionCount() == 1 })

	big := make([]byte, ts.srv.cfg.MaxMessageSize+1)
	for i := range big {
		big[i] = 'a'
	}
	if err := conn.WriteMessage(websocket.TextMessage, big); err != nil {
		t.Fatalf("WriteMessage() error = %v", err)
	}

	waitFor(t, "connection removal", func() bool { return ts.srv.Hub().Presence().ConnectionCount() == 0 })
}

func TestLogoutClosesSessionSockets(t *testing.T) {
	ts := newTestServer(t, RoomModeStatic)
	creds := CredentialsRequest{Email: "leaving@example.com", Password: "correct-horse"}
	resp := testhelpers.DoJSON(t, http.MethodPost, ts.url("/auth/register"), "", creds)
	testhelpers.AssertStatusCode(t, resp, http.StatusCreated)
	pair := login(t, ts, creds)

	leaving := testhelpers.MustDial(t, ts.http.URL, pair.AccessToken)
	staying := testhelpers.MustDial(t, ts.http.URL, ts.token(t, ts.admin))
	testhelpers.ReadEvent(t, leaving, EventList)
	testhelpers.ReadEvent(t, staying, EventList)
	testhelpers.Send(t, staying, EventJoin, directory.PublicRoomID)
	testhelpers.ReadEvent(t, staying, EventActiveUsers)
	testhelpers.Send(t, leaving, EventJoin, directory.PublicRoomID)
	testhelpers.ReadEvent(t, leaving, EventActiveUsers)
	testhelpers.ReadEvent(t, staying, EventUserJoined)

	resp = testhelpers.DoJSON(t, http.MethodPost, ts.url("/auth/logout"), pair.AccessToken, nil)
	testhelpers.AssertStatusCode(t, resp, http.StatusOK)

	if err := leaving.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatal(err)
	}
	for {
		if _, _, err := leaving.ReadMessage(); err != nil {
			break
		}
	}
	var left PresenceEvent
	testhelpers.ReadEvent(t, staying, EventUserLeft).Decode(t, &left)
	if left.Email != creds.Email {
		t.Errorf("userLeft = %+v", left)
	}

	conn, resp2, err := testhelpers.Dial(ts.http.URL, pair.AccessToken)
	if err == nil {
		_ = conn.Close()
		t.Fatal("handshake with a logged-out token succeeded")
	}
	if resp2 == nil || resp2.StatusCode != http.StatusUnauthorized {
		t.Errorf("response = %v, want 401", resp2)
	}
}

func TestServerShutdownClosesSockets(t *testing.T) {
	ts := newTestServer(t, RoomModeStatic)

	conn := testhelpers.MustDial(t, ts.http.URL, ts.token(t, ts.user))
	testhelpers.ReadEvent(t, conn, EventList)

	if err := ts.srv.Hub().Shutdown(2 * time.Second); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatal(err)
	}
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("socket still readable after hub shutdown")
	}
}
