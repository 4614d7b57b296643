package server

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/Tyrowin/chatterbox/internal/auth"
	"github.com/Tyrowin/chatterbox/internal/chat"
	"github.com/Tyrowin/chatterbox/internal/directory"
	"github.com/Tyrowin/chatterbox/internal/role"
	"github.com/Tyrowin/chatterbox/internal/testhelpers"
)

func TestRootAndHealth(t *testing.T) {
	ts := newTestServer(t, RoomModeStatic)

	resp := testhelpers.DoJSON(t, http.MethodGet, ts.url("/"), "", nil)
	testhelpers.AssertStatusCode(t, resp, http.StatusOK)
	var root map[string]string
	testhelpers.DecodeBody(t, resp, &root)
	if root["status"] != "healthy" {
		t.Errorf("root = %v", root)
	}

	resp = testhelpers.DoJSON(t, http.MethodGet, ts.url("/health"), "", nil)
	testhelpers.AssertStatusCode(t, resp, http.StatusOK)
	var health HealthResponse
	testhelpers.DecodeBody(t, resp, &health)
	if health.Status != "healthy" || health.Database != "ok" {
		t.Errorf("health = %+v", health)
	}

	resp = testhelpers.DoJSON(t, http.MethodGet, ts.url("/nowhere"), "", nil)
	testhelpers.AssertStatusCode(t, resp, http.StatusNotFound)
}

func TestAuthFlow(t *testing.T) {
	ts := newTestServer(t, RoomModeStatic)
	creds := CredentialsRequest{Email: "new@example.com", Password: "correct-horse"}

	resp := testhelpers.DoJSON(t, http.MethodPost, ts.url("/auth/register"), "", creds)
	testhelpers.AssertStatusCode(t, resp, http.StatusCreated)
	var created chat.User
	testhelpers.DecodeBody(t, resp, &created)
	if created.Role != role.User || created.Email != creds.Email {
		t.Errorf("registered user = %+v", created)
	}

	resp = testhelpers.DoJSON(t, http.MethodPost, ts.url("/auth/register"), "", creds)
	testhelpers.AssertStatusCode(t, resp, http.StatusConflict)

	resp = testhelpers.DoJSON(t, http.MethodPost, ts.url("/auth/login"), "",
		CredentialsRequest{Email: creds.Email, Password: "wrong-password"})
	testhelpers.AssertStatusCode(t, resp, http.StatusUnauthorized)

	resp = testhelpers.DoJSON(t, http.MethodPost, ts.url("/auth/login"), "", creds)
	testhelpers.AssertStatusCode(t, resp, http.StatusOK)
	var pair auth.TokenPair
	testhelpers.DecodeBody(t, resp, &pair)
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatalf("token pair = %+v", pair)
	}

	resp = testhelpers.DoJSON(t, http.MethodGet, ts.url("/user"), pair.AccessToken, nil)
	testhelpers.AssertStatusCode(t, resp, http.StatusOK)
	var self chat.User
	testhelpers.DecodeBody(t, resp, &self)
	if self.ID != created.ID {
		t.Errorf("GET /user = %+v, want %s", self, created.ID)
	}

	resp = testhelpers.DoJSON(t, http.MethodGet, ts.url("/user"), pair.RefreshToken, nil)
	testhelpers.AssertStatusCode(t, resp, http.StatusUnauthorized)

	resp = testhelpers.DoJSON(t, http.MethodPost, ts.url("/auth/refresh"), "", RefreshRequest{RefreshToken: pair.RefreshToken})
	testhelpers.AssertStatusCode(t, resp, http.StatusOK)

	resp = testhelpers.DoJSON(t, http.MethodPost, ts.url("/auth/refresh"), "", RefreshRequest{RefreshToken: pair.AccessToken})
	testhelpers.AssertStatusCode(t, resp, http.StatusUnauthorized)
}

// login signs an existing account in over HTTP.
func login(t *testing.T, ts *testServer, creds CredentialsRequest) auth.TokenPair {
	t.Helper()
	resp := testhelpers.DoJSON(t, http.MethodPost, ts.url("/auth/login"), "", creds)
	testhelpers.AssertStatusCode(t, resp, http.StatusOK)
	var pair auth.TokenPair
	testhelpers.DecodeBody(t, resp, &pair)
	return pair
}

func TestSessionEndpoints(t *testing.T) {
	ts := newTestServer(t, RoomModeStatic)
	creds := CredentialsRequest{Email: "devices@example.com", Password: "correct-horse"}
	resp := testhelpers.DoJSON(t, http.MethodPost, ts.url("/auth/register"), "", creds)
	testhelpers.AssertStatusCode(t, resp, http.StatusCreated)

	laptop := login(t, ts, creds)
	phone := login(t, ts, creds)

	resp = testhelpers.DoJSON(t, http.MethodGet, ts.url("/sessions"), laptop.AccessToken, nil)
	testhelpers.AssertStatusCode(t, resp, http.StatusOK)
	var sessions []chat.Session
	testhelpers.DecodeBody(t, resp, &sessions)
	if len(sessions) != 2 {
		t.Fatalf("got %d sessions, want 2", len(sessions))
	}
	var phoneSession string
	current := 0
	for _, sess := range sessions {
		if sess.Current {
			current++
		} else {
			phoneSession = sess.ID
		}
	}
	if current != 1 || phoneSession == "" {
		t.Fatalf("sessions = %+v, want exactly one current", sessions)
	}

	foreign := testhelpers.CreateSession(t, ts.store, ts.user)
	resp = testhelpers.DoJSON(t, http.MethodDelete, ts.url("/sessions/"+foreign.ID), laptop.AccessToken, nil)
	testhelpers.AssertStatusCode(t, resp, http.StatusNotFound)

	resp = testhelpers.DoJSON(t, http.MethodDelete, ts.url("/sessions/"+phoneSession), laptop.AccessToken, nil)
	testhelpers.AssertStatusCode(t, resp, http.StatusOK)
	resp = testhelpers.DoJSON(t, http.MethodDelete, ts.url("/sessions/"+phoneSession), laptop.AccessToken, nil)
	testhelpers.AssertStatusCode(t, resp, http.StatusNotFound)

	resp = testhelpers.DoJSON(t, http.MethodGet, ts.url("/user"), phone.AccessToken, nil)
	testhelpers.AssertStatusCode(t, resp, http.StatusUnauthorized)
	resp = testhelpers.DoJSON(t, http.MethodPost, ts.url("/auth/refresh"), "", RefreshRequest{RefreshToken: phone.RefreshToken})
	testhelpers.AssertStatusCode(t, resp, http.StatusUnauthorized)

	resp = testhelpers.DoJSON(t, http.MethodPost, ts.url("/auth/logout"), laptop.AccessToken, nil)
	testhelpers.AssertStatusCode(t, resp, http.StatusOK)
	resp = testhelpers.DoJSON(t, http.MethodGet, ts.url("/user"), laptop.AccessToken, nil)
	testhelpers.AssertStatusCode(t, resp, http.StatusUnauthorized)
	resp = testhelpers.DoJSON(t, http.MethodPost, ts.url("/auth/refresh"), "", RefreshRequest{RefreshToken: laptop.RefreshToken})
	testhelpers.AssertStatusCode(t, resp, http.StatusUnauthorized)

	resp = testhelpers.DoJSON(t, http.MethodPost, ts.url("/auth/logout"), "", nil)
	testhelpers.AssertStatusCode(t, resp, http.StatusUnauthorized)
}

func TestRegisterValidation(t *testing.T) {
	ts := newTestServer(t, RoomModeStatic)

	tests := []struct {
		name string
		body any
	}{
		{"bad email", CredentialsRequest{Email: "not-an-email", Password: "long-enough"}},
		{"short password", CredentialsRequest{Email: "a@example.com", Password: "short"}},
		{"unknown field", map[string]string{"email": "a@example.com", "password": "long-enough", "role": "SUPER"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := testhelpers.DoJSON(t, http.MethodPost, ts.url("/auth/register"), "", tt.body)
			testhelpers.AssertStatusCode(t, resp, http.StatusBadRequest)
		})
	}
}

func TestProtectedRoutesRequireAuth(t *testing.T) {
	ts := newTestServer(t, RoomModeStatic)

	for _, path := range []string{"/user", "/users", "/chats", "/chats/public-chat/messages"} {
		resp := testhelpers.DoJSON(t, http.MethodGet, ts.url(path), "", nil)
		testhelpers.AssertStatusCode(t, resp, http.StatusUnauthorized)
	}
}

func TestUserAdministration(t *testing.T) {
	ts := newTestServer(t, RoomModeStatic)

	resp := testhelpers.DoJSON(t, http.MethodGet, ts.url("/users"), ts.token(t, ts.user), nil)
	testhelpers.AssertStatusCode(t, resp, http.StatusForbidden)

	resp = testhelpers.DoJSON(t, http.MethodGet, ts.url("/users"), ts.token(t, ts.admin), nil)
	testhelpers.AssertStatusCode(t, resp, http.StatusOK)
	var users []chat.User
	testhelpers.DecodeBody(t, resp, &users)
	if len(users) != 3 {
		t.Errorf("GET /users returned %d users, want 3", len(users))
	}

	resp = testhelpers.DoJSON(t, http.MethodGet, ts.url("/users/"+ts.user.ID), ts.token(t, ts.admin), nil)
	testhelpers.AssertStatusCode(t, resp, http.StatusOK)

	resp = testhelpers.DoJSON(t, http.MethodGet, ts.url("/users/missing"), ts.token(t, ts.admin), nil)
	testhelpers.AssertStatusCode(t, resp, http.StatusNotFound)

	path := ts.url("/user/" + ts.user.ID + "/role")
	resp = testhelpers.DoJSON(t, http.MethodPut, path, ts.token(t, ts.admin), RoleRequest{Role: "ADMIN"})
	testhelpers.AssertStatusCode(t, resp, http.StatusForbidden)

	resp = testhelpers.DoJSON(t, http.MethodPut, path, ts.token(t, ts.super), RoleRequest{Role: "emperor"})
	testhelpers.AssertStatusCode(t, resp, http.StatusBadRequest)

	resp = testhelpers.DoJSON(t, http.MethodPut, path, ts.token(t, ts.super), RoleRequest{Role: "admin"})
	testhelpers.AssertStatusCode(t, resp, http.StatusOK)

	// The old token now resolves to the stored role.
	resp = testhelpers.DoJSON(t, http.MethodGet, ts.url("/users"), ts.token(t, ts.user), nil)
	testhelpers.AssertStatusCode(t, resp, http.StatusOK)
}

func TestRoomReads(t *testing.T) {
	ts := newTestServer(t, RoomModeStatic)

	resp := testhelpers.DoJSON(t, http.MethodGet, ts.url("/chats"), ts.token(t, ts.user), nil)
	testhelpers.AssertStatusCode(t, resp, http.StatusOK)
	var rooms []chat.Room
	testhelpers.DecodeBody(t, resp, &rooms)
	if len(rooms) != 1 || rooms[0].ID != directory.PublicRoomID {
		t.Errorf("GET /chats as user = %+v", rooms)
	}

	resp = testhelpers.DoJSON(t, http.MethodGet, ts.url("/chats/"+directory.PrivateRoomID), ts.token(t, ts.user), nil)
	testhelpers.AssertStatusCode(t, resp, http.StatusNotFound)

	resp = testhelpers.DoJSON(t, http.MethodGet, ts.url("/chats/"+directory.PrivateRoomID), ts.token(t, ts.admin), nil)
	testhelpers.AssertStatusCode(t, resp, http.StatusOK)

	resp = testhelpers.DoJSON(t, http.MethodGet, ts.url("/chats/unknown"), ts.token(t, ts.admin), nil)
	testhelpers.AssertStatusCode(t, resp, http.StatusNotFound)
}

func TestRoomMutationsAbsentInStaticMode(t *testing.T) {
	ts := newTestServer(t, RoomModeStatic)

	resp := testhelpers.DoJSON(t, http.MethodPost, ts.url("/chats"), ts.token(t, ts.super), RoomRequest{})
	testhelpers.AssertStatusCode(t, resp, http.StatusMethodNotAllowed)

	resp = testhelpers.DoJSON(t, http.MethodDelete, ts.url("/chats/"+directory.PublicRoomID), ts.token(t, ts.super), nil)
	testhelpers.AssertStatusCode(t, resp, http.StatusMethodNotAllowed)
}

func TestMessagePagination(t *testing.T) {
	ts := newTestServer(t, RoomModeStatic)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	var ids []string
	for i := range 5 {
		msg := &chat.Message{
			RoomID:    directory.PublicRoomID,
			UserID:    ts.user.ID,
			Content:   fmt.Sprintf("m%d", i),
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := ts.store.CreateMessage(ctx, msg, nil); err != nil {
			t.Fatalf("CreateMessage() error = %v", err)
		}
		ids = append(ids, msg.ID)
	}
	token := ts.token(t, ts.user)
	path := "/chats/" + directory.PublicRoomID + "/messages"

	resp := testhelpers.DoJSON(t, http.MethodGet, ts.url(path+"?limit=2"), token, nil)
	testhelpers.AssertStatusCode(t, resp, http.StatusOK)
	var page []chat.Message
	testhelpers.DecodeBody(t, resp, &page)
	if len(page) != 2 || page[0].Content != "m3" || page[1].Content != "m4" {
		t.Fatalf("first page = %+v, want m3, m4", page)
	}

	before := url.QueryEscape(page[0].CreatedAt.Format(time.RFC3339Nano))
	resp = testhelpers.DoJSON(t, http.MethodGet, ts.url(path+"?limit=2&before="+before), token, nil)
	testhelpers.AssertStatusCode(t, resp, http.StatusOK)
	testhelpers.DecodeBody(t, resp, &page)
	if len(page) != 2 || page[0].Content != "m1" || page[1].Content != "m2" {
		t.Errorf("second page = %+v, want m1, m2", page)
	}

	for _, q := range []string{"?limit=0", "?limit=abc", "?before=yesterday"} {
		resp = testhelpers.DoJSON(t, http.MethodGet, ts.url(path+q), token, nil)
		testhelpers.AssertStatusCode(t, resp, http.StatusBadRequest)
	}

	resp = testhelpers.DoJSON(t, http.MethodGet, ts.url("/chats/"+directory.PrivateRoomID+"/messages"), token, nil)
	testhelpers.AssertStatusCode(t, resp, http.StatusNotFound)

	resp = testhelpers.DoJSON(t, http.MethodPost, ts.url(path+"/"+ids[0]+"/read"), token, nil)
	testhelpers.AssertStatusCode(t, resp, http.StatusOK)
	var read chat.Message
	testhelpers.DecodeBody(t, resp, &read)
	if !read.IsRead {
		t.Error("message not marked read")
	}

	resp = testhelpers.DoJSON(t, http.MethodPost, ts.url(path+"/missing/read"), token, nil)
	testhelpers.AssertStatusCode(t, resp, http.StatusNotFound)
}

func TestDynamicRoomManagement(t *testing.T) {
	ts := newTestServer(t, RoomModeDynamic)
	adminToken := ts.token(t, ts.admin)
	userToken := ts.token(t, ts.user)

	name := "Ops"
	visibility := string(chat.Private)
	roles := []string{"ADMIN"}
	resp := testhelpers.DoJSON(t, http.MethodPost, ts.url("/chats"), userToken, RoomRequest{Name: &name})
	testhelpers.AssertStatusCode(t, resp, http.StatusForbidden)

	resp = testhelpers.DoJSON(t, http.MethodPost, ts.url("/chats"), adminToken,
		RoomRequest{Name: &name, Visibility: &visibility, AllowedRoles: &roles})
	testhelpers.AssertStatusCode(t, resp, http.StatusCreated)
	var room chat.Room
	testhelpers.DecodeBody(t, resp, &room)
	if room.ID == "" || room.CreatedBy != ts.admin.ID || !room.HasMember(ts.admin.ID) {
		t.Fatalf("created room = %+v", room)
	}
	roomPath := ts.url("/chats/" + room.ID)

	resp = testhelpers.DoJSON(t, http.MethodGet, roomPath, userToken, nil)
	testhelpers.AssertStatusCode(t, resp, http.StatusNotFound)
	resp = testhelpers.DoJSON(t, http.MethodPut, roomPath, userToken, RoomRequest{Name: &name})
	testhelpers.AssertStatusCode(t, resp, http.StatusNotFound)

	resp = testhelpers.DoJSON(t, http.MethodPost, roomPath+"/members", adminToken,
		MembersRequest{UserIDs: []string{ts.user.ID}})
	testhelpers.AssertStatusCode(t, resp, http.StatusOK)

	resp = testhelpers.DoJSON(t, http.MethodGet, roomPath, userToken, nil)
	testhelpers.AssertStatusCode(t, resp, http.StatusOK)
	resp = testhelpers.DoJSON(t, http.MethodPut, roomPath, userToken, RoomRequest{Name: &name})
	testhelpers.AssertStatusCode(t, resp, http.StatusForbidden)

	renamed := "Operations"
	resp = testhelpers.DoJSON(t, http.MethodPut, roomPath, adminToken, RoomRequest{Name: &renamed})
	testhelpers.AssertStatusCode(t, resp, http.StatusOK)
	testhelpers.DecodeBody(t, resp, &room)
	if room.Name != renamed || room.Visibility != chat.Private {
		t.Errorf("updated room = %+v", room)
	}

	empty := ""
	resp = testhelpers.DoJSON(t, http.MethodPut, roomPath, adminToken, RoomRequest{Name: &empty})
	testhelpers.AssertStatusCode(t, resp, http.StatusBadRequest)

	resp = testhelpers.DoJSON(t, http.MethodDelete, roomPath+"/members", adminToken,
		MembersRequest{UserIDs: []string{ts.user.ID}})
	testhelpers.AssertStatusCode(t, resp, http.StatusOK)
	resp = testhelpers.DoJSON(t, http.MethodGet, roomPath, userToken, nil)
	testhelpers.AssertStatusCode(t, resp, http.StatusNotFound)

	resp = testhelpers.DoJSON(t, http.MethodPost, roomPath+"/members", adminToken, MembersRequest{})
	testhelpers.AssertStatusCode(t, resp, http.StatusBadRequest)

	resp = testhelpers.DoJSON(t, http.MethodDelete, roomPath, adminToken, nil)
	testhelpers.AssertStatusCode(t, resp, http.StatusNoContent)
	resp = testhelpers.DoJSON(t, http.MethodGet, roomPath, adminToken, nil)
	testhelpers.AssertStatusCode(t, resp, http.StatusNotFound)
}

func TestDynamicRoomListing(t *testing.T) {
	ts := newTestServer(t, RoomModeDynamic)
	ctx := context.Background()

	rooms := []*chat.Room{
		{Name: "open", Visibility: chat.Public, CreatedBy: ts.admin.ID},
		{Name: "staff", Visibility: chat.Public, CreatedBy: ts.admin.ID, AllowedRoles: []role.Role{role.Admin}},
		{Name: "secret", Visibility: chat.Private, CreatedBy: ts.admin.ID},
	}
	for _, r := range rooms {
		if err := ts.store.CreateRoom(ctx, r); err != nil {
			t.Fatalf("CreateRoom(%s) error = %v", r.Name, err)
		}
	}

	resp := testhelpers.DoJSON(t, http.MethodGet, ts.url("/chats"), ts.token(t, ts.user), nil)
	testhelpers.AssertStatusCode(t, resp, http.StatusOK)
	var got []chat.Room
	testhelpers.DecodeBody(t, resp, &got)
	if len(got) != 1 || got[0].Name != "open" {
		t.Errorf("user sees %+v, want only the open room", got)
	}

	resp = testhelpers.DoJSON(t, http.MethodGet, ts.url("/chats"), ts.token(t, ts.admin), nil)
	testhelpers.AssertStatusCode(t, resp, http.StatusOK)
	testhelpers.DecodeBody(t, resp, &got)
	// A PRIVATE room with no roles admits members only, admins included.
	if len(got) != 2 {
		t.Errorf("admin sees %d rooms, want 2", len(got))
	}
}
