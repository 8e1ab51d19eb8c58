package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/decodestudio/decodeauth/internal/auth"
	"github.com/decodestudio/decodeauth/internal/config"
	"github.com/decodestudio/decodeauth/internal/logger"
)

func testConfig() *config.Config {
	return &config.Config{
		Env:            "test",
		DBAdapter:      "memory",
		JwtSecret:      "test-secret",
		TokenLifetime:  time.Hour,
		CookieLifetime: 24 * time.Hour,
		BcryptCost:     bcrypt.MinCost,
		QueryTimeout:   time.Second,
		AllowedOrigins: []string{"http://localhost:5173"},
	}
}

type testApp struct {
	*App
	logs *bytes.Buffer
	srv  http.Handler
}

func newTestApp(t *testing.T, db DB) *testApp {
	t.Helper()
	return newTestAppWithConfig(t, db, testConfig())
}

func newTestAppWithConfig(t *testing.T, db DB, c *config.Config) *testApp {
	t.Helper()
	if db == nil {
		db = NewMemoryDB()
	}
	var buf bytes.Buffer
	a, err := NewApp(c, db, nil, logger.NewWithWriter(&buf, "decodeauth", "debug"))
	require.NoError(t, err)
	return &testApp{App: a, logs: &buf, srv: a.Router()}
}

// do sends a JSON request through the full router. opts may set headers or cookies.
func (ta *testApp) do(t *testing.T, method, path string, body any, opts ...func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	for _, o := range opts {
		o(req)
	}
	rec := httptest.NewRecorder()
	ta.srv.ServeHTTP(rec, req)
	return rec
}

func bearer(token string) func(*http.Request) {
	return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }
}

func withCookie(token string) func(*http.Request) {
	return func(r *http.Request) { r.AddCookie(&http.Cookie{Name: tokenCookie, Value: token}) }
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

// seedUser stores an identity directly and returns it with a fresh token.
func (ta *testApp) seedUser(t *testing.T, name, email, password string, role auth.Role) (*User, string) {
	t.Helper()
	u, err := ta.createIdentity(context.Background(), registerRequest{Name: name, Email: email, Password: password}, role)
	require.NoError(t, err)
	token, _, err := ta.Tokens.Issue(u.ID)
	require.NoError(t, err)
	return u, token
}

// countingDB counts identity lookups and can inject a lookup failure.
type countingDB struct {
	DB
	lookups   atomic.Int32
	lookupErr error
}

func (c *countingDB) GetUserByID(ctx context.Context, id string) (*User, error) {
	c.lookups.Add(1)
	if c.lookupErr != nil {
		return nil, c.lookupErr
	}
	return c.DB.GetUserByID(ctx, id)
}

// recordingHandler notes whether business logic ran.
type recordingHandler struct {
	calls atomic.Int32
	user  *User
}

func (h *recordingHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.calls.Add(1)
	h.user, _ = UserFromContext(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

func TestNewApp_EmptySecret(t *testing.T) {
	c := testConfig()
	c.JwtSecret = ""
	a, err := NewApp(c, NewMemoryDB(), nil, logger.NewWithWriter(io.Discard, "decodeauth", "error"))
	assert.ErrorIs(t, err, auth.ErrEmptySecret)
	assert.Nil(t, a)
}
