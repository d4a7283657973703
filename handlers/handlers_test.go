package handlers_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"todoshare/auth"
	"todoshare/handlers"
	"todoshare/models"
	"todoshare/service"
	"todoshare/store"
	"todoshare/utils"
)

type testServer struct {
	handler http.Handler
	now     time.Time
	redis   *miniredis.Miniredis
}

func newServer(t *testing.T) *testServer {
	t.Helper()

	s, err := store.OpenSQLite(filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	ts := &testServer{now: time.Now(), redis: mr}
	tokens, err := auth.NewTokenService(auth.TokenConfig{
		Secret:    []byte("test-secret"),
		Algorithm: "HS256",
		Now:       func() time.Time { return ts.now },
	})
	if err != nil {
		t.Fatalf("NewTokenService() error = %v", err)
	}

	ts.handler = handlers.New(handlers.Deps{
		Credentials: auth.NewCredentials(s, bcrypt.MinCost),
		Tokens:      tokens,
		Tasks:       service.NewTaskService(s),
		DB:          s,
		Activity:    utils.NewActivityTracker(client),
		Throttle:    utils.NewLoginThrottle(client, 3, time.Minute),
	}).Routes()
	return ts
}

func (ts *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		r = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) login(t *testing.T, username, password string) *httptest.ResponseRecorder {
	t.Helper()
	return ts.loginFrom(t, username, password, "")
}

// loginFrom posts the login form as if relayed for client ip.
func (ts *testServer) loginFrom(t *testing.T, username, password, ip string) *httptest.ResponseRecorder {
	t.Helper()
	form := url.Values{}
	if username != "" {
		form.Set("username", username)
	}
	if password != "" {
		form.Set("password", password)
	}
	req := httptest.NewRequest(http.MethodPost, "/auth/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if ip != "" {
		req.Header.Set("X-Forwarded-For", ip)
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) signUp(t *testing.T, username string) string {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/auth/", "", map[string]string{"username": username, "password": "pw-" + username})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register %s: status = %d, body = %s", username, rec.Code, rec.Body)
	}
	rec = ts.login(t, username, "pw-"+username)
	if rec.Code != http.StatusOK {
		t.Fatalf("login %s: status = %d, body = %s", username, rec.Code, rec.Body)
	}
	var tok struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
	}
	decode(t, rec, &tok)
	if tok.TokenType != "bearer" || tok.AccessToken == "" {
		t.Fatalf("login %s: response = %+v", username, tok)
	}
	return tok.AccessToken
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), dst); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func me(t *testing.T, ts *testServer, token string) models.Identity {
	t.Helper()
	rec := ts.do(t, http.MethodGet, "/", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET / status = %d", rec.Code)
	}
	var body struct {
		User models.Identity `json:"User"`
	}
	decode(t, rec, &body)
	return body.User
}

func TestSharedTaskScenario(t *testing.T) {
	ts := newServer(t)
	aliceToken := ts.signUp(t, "alice")
	bobToken := ts.signUp(t, "bob")
	bob := me(t, ts, bobToken)
	if bob.Username != "bob" || bob.UserID == 0 {
		t.Fatalf("GET / = %+v", bob)
	}

	rec := ts.do(t, http.MethodPost, "/todo/", aliceToken, map[string]any{
		"title":       "T1",
		"permissions": []map[string]string{{"username": "bob", "permission": "read"}},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body = %s", rec.Code, rec.Body)
	}
	var created models.Task
	decode(t, rec, &created)

	rec = ts.do(t, http.MethodGet, "/todo/", bobToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	var listed []models.Task
	decode(t, rec, &listed)
	if len(listed) != 1 || listed[0].ID != created.ID {
		t.Fatalf("bob lists %+v, want only T1", listed)
	}
	perms := listed[0].Permissions
	if len(perms) != 1 || perms[0].UserID != bob.UserID || perms[0].Permission != models.PermissionRead {
		t.Errorf("bob sees permissions %+v", perms)
	}

	path := "/todo/" + jsonNumber(created.ID)
	rec = ts.do(t, http.MethodPut, path, bobToken, map[string]any{"title": "mine now"})
	if rec.Code != http.StatusNotFound {
		t.Errorf("bob PUT status = %d, want 404", rec.Code)
	}
	var errBody struct {
		Detail string `json:"detail"`
	}
	decode(t, rec, &errBody)
	if errBody.Detail != "Task does not exist or not enough permissions" {
		t.Errorf("detail = %q", errBody.Detail)
	}

	rec = ts.do(t, http.MethodDelete, path, aliceToken, nil)
	if rec.Code != http.StatusNoContent {
		t.Errorf("alice DELETE status = %d, want 204", rec.Code)
	}
	rec = ts.do(t, http.MethodGet, "/todo/", bobToken, nil)
	decode(t, rec, &listed)
	if len(listed) != 0 {
		t.Errorf("bob still lists %+v after delete", listed)
	}
}

func jsonNumber(id int64) string {
	raw, _ := json.Marshal(id)
	return string(raw)
}

func TestOwnerOnlyGrantChanges(t *testing.T) {
	ts := newServer(t)
	aliceToken := ts.signUp(t, "alice")
	bobToken := ts.signUp(t, "bob")

	rec := ts.do(t, http.MethodPost, "/todo/", aliceToken, map[string]any{
		"title":       "T1",
		"permissions": []map[string]string{{"username": "bob", "permission": "update"}},
	})
	var created models.Task
	decode(t, rec, &created)
	path := "/todo/" + jsonNumber(created.ID)

	rec = ts.do(t, http.MethodPut, path, bobToken, map[string]any{"title": "edited", "done": true})
	if rec.Code != http.StatusOK {
		t.Fatalf("update grantee PUT status = %d, body = %s", rec.Code, rec.Body)
	}

	rec = ts.do(t, http.MethodPut, path, bobToken, map[string]any{
		"title":       "edited",
		"permissions": []map[string]string{},
	})
	if rec.Code != http.StatusForbidden {
		t.Errorf("grantee permissions PUT status = %d, want 403", rec.Code)
	}

	rec = ts.do(t, http.MethodDelete, path, bobToken, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("grantee DELETE status = %d, want 404", rec.Code)
	}
}

func TestListIsIdempotent(t *testing.T) {
	ts := newServer(t)
	token := ts.signUp(t, "alice")
	for _, title := range []string{"a", "b"} {
		if rec := ts.do(t, http.MethodPost, "/todo/", token, map[string]any{"title": title}); rec.Code != http.StatusCreated {
			t.Fatalf("create status = %d", rec.Code)
		}
	}

	first := ts.do(t, http.MethodGet, "/todo/", token, nil)
	second := ts.do(t, http.MethodGet, "/todo/", token, nil)
	var a, b []models.Task
	decode(t, first, &a)
	decode(t, second, &b)
	if len(a) != 2 || !reflect.DeepEqual(a, b) {
		t.Errorf("GET /todo/ differs between calls: %+v vs %+v", a, b)
	}
}

func TestAuthentication(t *testing.T) {
	ts := newServer(t)
	token := ts.signUp(t, "alice")

	tests := []struct {
		name  string
		token string
		clock time.Duration
	}{
		{name: "Missing token"},
		{name: "Garbage token", token: "not-a-jwt"},
		{name: "Expired token", token: token, clock: auth.TokenTTL + time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			saved := ts.now
			ts.now = ts.now.Add(tt.clock)
			defer func() { ts.now = saved }()

			rec := ts.do(t, http.MethodGet, "/todo/", tt.token, nil)
			if rec.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", rec.Code)
			}
			if got := rec.Header().Get("WWW-Authenticate"); got != "Bearer" {
				t.Errorf("WWW-Authenticate = %q", got)
			}
		})
	}
}

func TestRegisterErrors(t *testing.T) {
	ts := newServer(t)
	ts.signUp(t, "alice")

	tests := []struct {
		name string
		body any
		want int
	}{
		{name: "Duplicate username", body: map[string]string{"username": "alice", "password": "x"}, want: http.StatusConflict},
		{name: "Empty username", body: map[string]string{"username": "", "password": "x"}, want: http.StatusUnprocessableEntity},
		{name: "Malformed body", body: "nope", want: http.StatusUnprocessableEntity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := ts.do(t, http.MethodPost, "/auth/", "", tt.body); rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestTaskValidation(t *testing.T) {
	ts := newServer(t)
	token := ts.signUp(t, "alice")

	tests := []struct {
		name   string
		method string
		path   string
		body   any
	}{
		{name: "Unknown permission", method: http.MethodPost, path: "/todo/", body: map[string]any{
			"title": "T1", "permissions": []map[string]string{{"username": "bob", "permission": "admin"}},
		}},
		{name: "Missing title", method: http.MethodPost, path: "/todo/", body: map[string]any{"done": true}},
		{name: "Non-numeric id", method: http.MethodPut, path: "/todo/abc", body: map[string]any{"title": "x"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := ts.do(t, tt.method, tt.path, token, tt.body); rec.Code != http.StatusUnprocessableEntity {
				t.Errorf("status = %d, want 422", rec.Code)
			}
		})
	}
}

func TestLoginThrottle(t *testing.T) {
	ts := newServer(t)
	ts.signUp(t, "alice")

	for i := 0; i < 3; i++ {
		if rec := ts.login(t, "alice", "wrong"); rec.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: status = %d, want 401", i+1, rec.Code)
		}
	}
	if rec := ts.login(t, "alice", "pw-alice"); rec.Code != http.StatusTooManyRequests {
		t.Errorf("throttled login status = %d, want 429", rec.Code)
	}
	if rec := ts.loginFrom(t, "alice", "pw-alice", "203.0.113.9"); rec.Code != http.StatusOK {
		t.Errorf("login from another address status = %d, want 200", rec.Code)
	}

	ts.redis.FastForward(time.Minute + time.Second)
	if rec := ts.login(t, "alice", "pw-alice"); rec.Code != http.StatusOK {
		t.Errorf("login after lockout status = %d, want 200", rec.Code)
	}
}

func TestLoginMissingFields(t *testing.T) {
	ts := newServer(t)
	ts.signUp(t, "alice")

	tests := []struct {
		name     string
		username string
		password string
	}{
		{name: "Missing username", password: "pw-alice"},
		{name: "Missing password", username: "alice"},
		{name: "Empty form"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := ts.login(t, tt.username, tt.password); rec.Code != http.StatusUnprocessableEntity {
				t.Errorf("status = %d, want 422", rec.Code)
			}
		})
	}
}

func TestActivityRecorded(t *testing.T) {
	ts := newServer(t)
	token := ts.signUp(t, "alice")
	alice := me(t, ts, token)

	got := ts.redis.HGet("activity:"+jsonNumber(alice.UserID), "last_activity")
	if got == "" {
		t.Error("no last_activity recorded for an authenticated request")
	}
}

func TestHealthAndRequestID(t *testing.T) {
	ts := newServer(t)

	rec := ts.do(t, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("GET /healthz status = %d", rec.Code)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID header")
	}
}
