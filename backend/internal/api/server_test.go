package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seimmuc/family-tree/backend/internal/auth"
	"github.com/seimmuc/family-tree/backend/internal/graph"
	"github.com/seimmuc/family-tree/backend/internal/media"
	"github.com/seimmuc/family-tree/backend/pkg/config"
	apperrors "github.com/seimmuc/family-tree/backend/pkg/errors"
)

const testPersonID = "3f1c2a4e-8d2b-4c1e-9a7f-0b6d5e4c3a21"

// fakeAuth keeps sessions in memory; permission checks are the real ones
type fakeAuth struct {
	*auth.Service
	sessions map[string]*graph.User
}

func newFakeAuth() *fakeAuth {
	return &fakeAuth{
		Service: auth.NewService(nil, auth.Config{Admins: []string{"root"}, SessionTTL: time.Hour}),
		sessions: map[string]*graph.User{
			"viewer-token": {ID: "u-viewer", Username: "viewer", Permissions: []graph.Permission{graph.PermView}},
			"editor-token": {ID: "u-editor", Username: "editor", Permissions: []graph.Permission{graph.PermView, graph.PermEdit}},
			"root-token":   {ID: "u-root", Username: "root"},
			"none-token":   {ID: "u-none", Username: "nobody"},
		},
	}
}

func (f *fakeAuth) session(token string, u *graph.User) *graph.Session {
	return &graph.Session{ID: token, UserID: u.ID, ExpiresAt: time.Now().Add(time.Hour)}
}

func (f *fakeAuth) CurrentUser(_ context.Context, token string) (*graph.User, *graph.Session, error) {
	u, ok := f.sessions[token]
	if !ok {
		return nil, nil, nil
	}
	return u, f.session(token, u), nil
}

func (f *fakeAuth) Register(_ context.Context, username, _, _ string) (*graph.User, *graph.Session, error) {
	if username == "taken" {
		return nil, nil, apperrors.NewUsernameTaken(username)
	}
	u := &graph.User{ID: "u-new", Username: username}
	f.sessions["new-token"] = u
	return u, f.session("new-token", u), nil
}

func (f *fakeAuth) Login(_ context.Context, username, password string) (*graph.User, *graph.Session, error) {
	if username != "editor" || password != "password123" {
		return nil, nil, apperrors.ErrUnauthorized
	}
	return f.sessions["editor-token"], f.session("editor-token", f.sessions["editor-token"]), nil
}

func (f *fakeAuth) Logout(_ context.Context, sessionID string) error {
	delete(f.sessions, sessionID)
	return nil
}

func testConfig() *config.Config {
	return &config.Config{
		Env:                 "test",
		MediaMaxUploadBytes: 1 << 20,
		LoginRateLimit:      100,
		LoginRateBurst:      100,
		CORSOrigins:         []string{"http://localhost:5173"},
	}
}

func newTestServer(t *testing.T, cfg *config.Config) (*Server, media.Store) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	store, err := media.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	proc := media.NewProcessor(store, media.ProcessorConfig{
		AllowedMIMETypes: []string{"image/jpeg", "image/png"},
		MaxBytes:         cfg.MediaMaxUploadBytes,
		PortraitMaxSize:  64,
	})
	return NewServer(Options{Config: cfg, Auth: newFakeAuth(), Media: proc}), store
}

func do(t *testing.T, h http.Handler, method, path, token string, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.AddCookie(&http.Cookie{Name: "session", Value: token})
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestHealthEndpoint(t *testing.T) {
	s, _ := newTestServer(t, testConfig())
	w := do(t, s.Router(), http.MethodGet, "/health", "", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decodeBody(t, w)["status"])
}

func TestUnknownRoute(t *testing.T) {
	s, _ := newTestServer(t, testConfig())
	w := do(t, s.Router(), http.MethodGet, "/api/nope", "", "")

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NotFound", decodeBody(t, w)["code"])
}

func TestPermissionsCheckedBeforeLookup(t *testing.T) {
	s, _ := newTestServer(t, testConfig())
	router := s.Router()

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		body   string
		want   int
	}{
		{"anonymous list", http.MethodGet, "/api/people", "", "", http.StatusUnauthorized},
		{"unknown token is anonymous", http.MethodGet, "/api/people/" + testPersonID, "stale-token", "", http.StatusUnauthorized},
		{"no permissions", http.MethodGet, "/api/people/" + testPersonID, "none-token", "", http.StatusForbidden},
		{"viewer creates", http.MethodPost, "/api/people", "viewer-token", `{"person":{"name":"Zeus"}}`, http.StatusForbidden},
		{"viewer deletes", http.MethodDelete, "/api/people/" + testPersonID, "viewer-token", "", http.StatusForbidden},
		{"editor lists users", http.MethodGet, "/api/users", "editor-token", "", http.StatusForbidden},
		{"editor deletes user", http.MethodPost, "/api/users/delete", "editor-token", `{"userId":"` + testPersonID + `"}`, http.StatusForbidden},
		{"anonymous me", http.MethodGet, "/api/auth/me", "", "", http.StatusUnauthorized},
		{"anonymous media", http.MethodGet, "/media/abc.jpg", "", "", http.StatusUnauthorized},
		{"viewer links people", http.MethodPost, "/api/relationships", "viewer-token", `{"relType":"partner","participants":{"partner":["a","b"]}}`, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, router, tt.method, tt.path, tt.token, tt.body)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
		})
	}
}

func TestValidationBeforeDatabase(t *testing.T) {
	s, _ := newTestServer(t, testConfig())
	router := s.Router()

	tests := []struct {
		name     string
		method   string
		path     string
		token    string
		body     string
		want     int
		wantCode string
	}{
		{"page limit zero", http.MethodGet, "/api/people?limit=0", "viewer-token", "", http.StatusUnprocessableEntity, "InvalidArgument"},
		{"page limit too large", http.MethodGet, "/api/people?limit=101", "viewer-token", "", http.StatusUnprocessableEntity, "InvalidArgument"},
		{"negative skip", http.MethodGet, "/api/people?skip=-1", "viewer-token", "", http.StatusUnprocessableEntity, "InvalidArgument"},
		{"hops out of range", http.MethodGet, "/api/people/" + testPersonID + "/relations?hops=26", "viewer-token", "", http.StatusUnprocessableEntity, "InvalidArgument"},
		{"negative hops", http.MethodGet, "/api/tree/" + testPersonID + "?hops=-1", "viewer-token", "", http.StatusUnprocessableEntity, "InvalidArgument"},
		{"fractional hops", http.MethodGet, "/api/people/" + testPersonID + "/relations?hops=2.5", "viewer-token", "", http.StatusUnprocessableEntity, "InvalidArgument"},
		{"malformed person id", http.MethodGet, "/api/tree/not-a-uuid", "viewer-token", "", http.StatusNotFound, "NotFound"},
		{"short search", http.MethodPost, "/api/search", "viewer-token", `{"nameQuery":"z"}`, http.StatusUnprocessableEntity, "InvalidArgument"},
		{"missing name", http.MethodPost, "/api/people", "editor-token", `{"person":{"bio":"x"}}`, http.StatusUnprocessableEntity, "InvalidArgument"},
		{"name too long", http.MethodPost, "/api/people", "editor-token", `{"person":{"name":"` + strings.Repeat("a", 76) + `"}}`, http.StatusUnprocessableEntity, "InvalidArgument"},
		{"bad date", http.MethodPost, "/api/people", "editor-token", `{"person":{"name":"Zeus","birthDate":"yesterday"}}`, http.StatusUnprocessableEntity, "InvalidArgument"},
		{
			"self as parent", http.MethodPatch, "/api/people/" + testPersonID, "editor-token",
			`{"person":{},"relatives":{"parents":{"added":["` + testPersonID + `"],"removed":[]}}}`,
			http.StatusUnprocessableEntity, "CircularRelation",
		},
		{
			"add and remove same partner", http.MethodPatch, "/api/people/" + testPersonID, "editor-token",
			`{"person":{},"relatives":{"partners":{"added":["0b6d5e4c-3a21-4c1e-9a7f-3f1c2a4e8d2b"],"removed":["0b6d5e4c-3a21-4c1e-9a7f-3f1c2a4e8d2b"]}}}`,
			http.StatusUnprocessableEntity, "ConflictingRelation",
		},
		{"unknown permission", http.MethodPost, "/api/users/permissions", "root-token", `{"user":"` + testPersonID + `","changes":[{"perm":"owner","change":"add"}]}`, http.StatusUnprocessableEntity, "InvalidArgument"},
		{"bad language", http.MethodPatch, "/api/account/settings", "viewer-token", `{"language":"xx"}`, http.StatusUnprocessableEntity, "InvalidArgument"},
		{"unknown relationship kind", http.MethodPost, "/api/relationships", "editor-token", `{"relType":"sibling","participants":{}}`, http.StatusUnprocessableEntity, "InvalidArgument"},
		{
			"partner with self", http.MethodPost, "/api/relationships", "editor-token",
			`{"relType":"partner","participants":{"partner":["` + testPersonID + `","` + testPersonID + `"]}}`,
			http.StatusUnprocessableEntity, "InvalidArgument",
		},
		{
			"parent of self", http.MethodDelete, "/api/relationships", "editor-token",
			`{"relType":"parent","participants":{"parent":["` + testPersonID + `"],"child":["` + testPersonID + `"]}}`,
			http.StatusUnprocessableEntity, "CircularRelation",
		},
		{
			"participant is not an id", http.MethodPost, "/api/relationships", "editor-token",
			`{"relType":"parent","participants":{"parent":["zeus"],"child":["` + testPersonID + `"]}}`,
			http.StatusUnprocessableEntity, "InvalidArgument",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, router, tt.method, tt.path, tt.token, tt.body)
			require.Equal(t, tt.want, w.Code, w.Body.String())
			assert.Equal(t, tt.wantCode, decodeBody(t, w)["code"])
		})
	}
}

func TestMalformedBody(t *testing.T) {
	s, _ := newTestServer(t, testConfig())
	w := do(t, s.Router(), http.MethodPost, "/api/people", "editor-token", `{"person":`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, s.Router(), http.MethodPost, "/api/people", "editor-token", `{"person":{"name":"Zeus","portrait":"x.jpg"}}`)
	assert.Equal(t, http.StatusBadRequest, w.Code, "portrait is only set through uploads")

	w = do(t, s.Router(), http.MethodPost, "/api/relationships", "editor-token", `{"relType":"parent","kind":"x"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLoginAndMe(t *testing.T) {
	s, _ := newTestServer(t, testConfig())
	router := s.Router()

	w := do(t, router, http.MethodPost, "/api/auth/login", "", `{"username":"editor","password":"wrong-password"}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(t, router, http.MethodPost, "/api/auth/login", "", `{"username":"editor","password":"password123"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "session", cookies[0].Name)
	assert.Equal(t, "editor-token", cookies[0].Value)
	assert.True(t, cookies[0].HttpOnly)

	w = do(t, router, http.MethodGet, "/api/auth/me", cookies[0].Value, "")
	require.Equal(t, http.StatusOK, w.Code)
	user := decodeBody(t, w)["user"].(map[string]any)
	assert.Equal(t, "editor", user["username"])
	assert.NotContains(t, user, "PasswordHash")
}

func TestConfiguredAdminPresentedWithAdmin(t *testing.T) {
	s, _ := newTestServer(t, testConfig())
	w := do(t, s.Router(), http.MethodGet, "/api/auth/me", "root-token", "")
	require.Equal(t, http.StatusOK, w.Code)

	user := decodeBody(t, w)["user"].(map[string]any)
	assert.Contains(t, user["permissions"], "admin")
}

func TestRegister(t *testing.T) {
	s, _ := newTestServer(t, testConfig())
	router := s.Router()

	w := do(t, router, http.MethodPost, "/api/auth/register", "", `{"username":"a","password":"password123"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = do(t, router, http.MethodPost, "/api/auth/register", "", `{"username":"taken","password":"password123"}`)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "UsernameTaken", decodeBody(t, w)["code"])

	w = do(t, router, http.MethodPost, "/api/auth/register", "", `{"username":"hermes","password":"password123","language":"ru"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	require.Len(t, w.Result().Cookies(), 1)
	assert.Equal(t, "new-token", w.Result().Cookies()[0].Value)
}

func TestLogoutClearsCookie(t *testing.T) {
	s, _ := newTestServer(t, testConfig())
	router := s.Router()

	w := do(t, router, http.MethodPost, "/api/auth/logout", "viewer-token", "")
	require.Equal(t, http.StatusOK, w.Code)
	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "", cookies[0].Value)

	w = do(t, router, http.MethodGet, "/api/auth/me", "viewer-token", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestLoginRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.LoginRateLimit = 0.001
	cfg.LoginRateBurst = 2
	s, _ := newTestServer(t, cfg)
	router := s.Router()

	body := `{"username":"editor","password":"wrong-password"}`
	assert.Equal(t, http.StatusUnauthorized, do(t, router, http.MethodPost, "/api/auth/login", "", body).Code)
	assert.Equal(t, http.StatusUnauthorized, do(t, router, http.MethodPost, "/api/auth/login", "", body).Code)
	assert.Equal(t, http.StatusTooManyRequests, do(t, router, http.MethodPost, "/api/auth/login", "", body).Code)
}

func TestServeMedia(t *testing.T) {
	s, store := newTestServer(t, testConfig())
	router := s.Router()
	require.NoError(t, store.Save("abc.jpg", strings.NewReader("jpeg-bytes")))

	w := do(t, router, http.MethodGet, "/media/abc.jpg", "viewer-token", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "jpeg-bytes", w.Body.String())
	assert.Equal(t, "image/jpeg", w.Header().Get("Content-Type"))

	w = do(t, router, http.MethodGet, "/media/missing.jpg", "viewer-token", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, router, http.MethodGet, "/media/../../etc/passwd", "viewer-token", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCORSPreflight(t *testing.T) {
	s, _ := newTestServer(t, testConfig())
	req := httptest.NewRequest(http.MethodOptions, "/api/people", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodPatch)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://localhost:5173", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
}
