package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/perimeter-epitech/area/internal/config"
	"github.com/perimeter-epitech/area/internal/oauth"
	"github.com/perimeter-epitech/area/internal/provider"
	"github.com/perimeter-epitech/area/internal/session"
)

// fakeAPI answers fixed replies per "METHOD /path" under /api/v1.
type fakeAPI struct {
	mu      sync.Mutex
	replies map[string]string
	status  map[string]int
	bodies  map[string][]map[string]any
}

func newFakeAPI(t *testing.T) (*fakeAPI, string) {
	t.Helper()
	f := &fakeAPI{replies: map[string]string{}, status: map[string]int{}, bodies: map[string][]map[string]any{}}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	return f, srv.URL + "/api/v1"
}

func (f *fakeAPI) on(key string, status int, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies[key] = body
	f.status[key] = status
}

func (f *fakeAPI) received(key string) []map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bodies[key]
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	key := r.Method + " " + strings.TrimPrefix(r.URL.Path, "/api/v1")
	var body map[string]any
	if raw, _ := io.ReadAll(r.Body); len(raw) > 0 {
		_ = json.Unmarshal(raw, &body)
	}
	f.mu.Lock()
	f.bodies[key] = append(f.bodies[key], body)
	reply, ok := f.replies[key]
	status := f.status[key]
	f.mu.Unlock()
	if !ok {
		status, reply = http.StatusNotFound, `{"error":"not found"}`
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, reply)
}

// runCLI runs areactl with a session file under dir and returns stdout.
func runCLI(t *testing.T, baseURL, dir string, args ...string) (string, error) {
	t.Helper()
	return runCLIContext(context.Background(), t, baseURL, dir, args...)
}

func runCLIContext(ctx context.Context, t *testing.T, baseURL, dir string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	a := &app{out: &out, errOut: io.Discard}
	full := append([]string{"areactl", "--backend", baseURL, "--session-file", filepath.Join(dir, "session.json")}, args...)
	err := newRootCommand(a).Run(ctx, full)
	return out.String(), err
}

func loadSession(t *testing.T, dir string) *session.Session {
	t.Helper()
	s, err := session.NewFileStore(filepath.Join(dir, "session.json")).Load("")
	require.NoError(t, err)
	return s
}

func TestLoginStoresToken(t *testing.T) {
	api, base := newFakeAPI(t)
	dir := t.TempDir()
	api.on("POST /user/login", http.StatusOK, `{"token":"abc"}`)

	out, err := runCLI(t, base, dir, "login", "-u", "alice", "-p", "secret")
	require.NoError(t, err)
	assert.Contains(t, out, "Logged in as alice")

	s := loadSession(t, dir)
	assert.Equal(t, "abc", s.Token)
	assert.Equal(t, "alice", s.Username)
	assert.Equal(t, []map[string]any{{"username": "alice", "password": "secret"}}, api.received("POST /user/login"))
}

func TestCommandsNeedLogin(t *testing.T) {
	_, base := newFakeAPI(t)
	_, err := runCLI(t, base, t.TempDir(), "whoami")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not logged in")
}

func TestUnauthorizedClearsSession(t *testing.T) {
	api, base := newFakeAPI(t)
	dir := t.TempDir()
	api.on("POST /user/login", http.StatusOK, `{"token":"abc"}`)
	api.on("GET /area", http.StatusUnauthorized, `{"error":"token expired"}`)

	_, err := runCLI(t, base, dir, "login", "-u", "alice", "-p", "secret")
	require.NoError(t, err)

	_, err = runCLI(t, base, dir, "areas", "list")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "areactl login")
	assert.False(t, loadSession(t, dir).Authenticated())
}

func TestLogout(t *testing.T) {
	api, base := newFakeAPI(t)
	dir := t.TempDir()
	api.on("POST /user/login", http.StatusOK, `{"token":"abc"}`)
	_, err := runCLI(t, base, dir, "login", "-u", "alice", "-p", "secret")
	require.NoError(t, err)
	id := loadSession(t, dir).ID

	_, err = runCLI(t, base, dir, "logout")
	require.NoError(t, err)
	s := loadSession(t, dir)
	assert.False(t, s.Authenticated())
	assert.Equal(t, id, s.ID, "logout keeps the client identity")
}

func TestAreasEnable(t *testing.T) {
	api, base := newFakeAPI(t)
	dir := t.TempDir()
	api.on("POST /user/login", http.StatusOK, `{"token":"abc"}`)
	api.on("GET /area", http.StatusOK, `[{"id":3,"title":"t","description":"d","enable":false}]`)
	api.on("PUT /area", http.StatusOK, `{"id":3,"title":"t","description":"d","enable":true}`)

	_, err := runCLI(t, base, dir, "login", "-u", "alice", "-p", "secret")
	require.NoError(t, err)
	out, err := runCLI(t, base, dir, "areas", "enable", "3")
	require.NoError(t, err)
	assert.Contains(t, out, "Area 3 enabled: true")

	puts := api.received("PUT /area")
	require.Len(t, puts, 1)
	assert.Equal(t, true, puts[0]["enable"])
	assert.Equal(t, float64(3), puts[0]["id"])
}

func TestAreasShowUnknown(t *testing.T) {
	api, base := newFakeAPI(t)
	dir := t.TempDir()
	api.on("POST /user/login", http.StatusOK, `{"token":"abc"}`)
	api.on("GET /area", http.StatusOK, `[]`)

	_, err := runCLI(t, base, dir, "login", "-u", "alice", "-p", "secret")
	require.NoError(t, err)
	_, err = runCLI(t, base, dir, "areas", "show", "9")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no area with id 9")
}

func TestComposeFlow(t *testing.T) {
	api, base := newFakeAPI(t)
	dir := t.TempDir()
	api.on("POST /user/login", http.StatusOK, `{"token":"abc"}`)
	api.on("GET /service/info/10", http.StatusOK, `{"id":10,"name":"timer","oauth":false}`)
	api.on("GET /action/info/10", http.StatusOK, `[{"id":1,"name":"every","option":{"x":0}}]`)
	api.on("GET /service/info/20", http.StatusOK, `{"id":20,"name":"discord","oauth":true}`)
	api.on("GET /reaction/info/20", http.StatusOK, `[{"id":2,"name":"send","option":"{\"y\":\"\"}"}]`)
	api.on("GET /user/info/all", http.StatusOK, `{"user":{"id":1},"tokens":[{"id":5,"service":{"name":"discord"}}]}`)
	api.on("POST /area", http.StatusOK, `{"id":77,"title":"t"}`)

	steps := [][]string{
		{"login", "-u", "alice", "-p", "secret"},
		{"compose", "action", "10", "1"},
		{"compose", "action-options", "x=5"},
		{"compose", "reaction", "20", "2"},
		{"compose", "reaction-options", "y=a"},
		{"compose", "describe", "-t", "t", "-d", "d"},
	}
	for _, step := range steps {
		_, err := runCLI(t, base, dir, step...)
		require.NoError(t, err, step)
	}

	out, err := runCLI(t, base, dir, "compose", "submit")
	require.NoError(t, err)
	assert.Contains(t, out, "Area 77 created")

	posts := api.received("POST /area")
	require.Len(t, posts, 1)
	raw, err := json.Marshal(posts[0])
	require.NoError(t, err)
	assert.JSONEq(t, `{"action_id":1,"action_option":{"x":5},"reaction_id":2,"reaction_option":{"y":"a"},"title":"t","description":"d"}`, string(raw))

	out, err = runCLI(t, base, dir, "compose", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "Stage: idle")
}

func TestComposeRejectsBadOption(t *testing.T) {
	api, base := newFakeAPI(t)
	dir := t.TempDir()
	api.on("POST /user/login", http.StatusOK, `{"token":"abc"}`)
	api.on("GET /service/info/10", http.StatusOK, `{"id":10,"name":"timer"}`)
	api.on("GET /action/info/10", http.StatusOK, `[{"id":1,"name":"every","option":{"x":0}}]`)

	_, err := runCLI(t, base, dir, "login", "-u", "alice", "-p", "secret")
	require.NoError(t, err)
	_, err = runCLI(t, base, dir, "compose", "action", "10", "1")
	require.NoError(t, err)
	_, err = runCLI(t, base, dir, "compose", "action-options", "x=five")
	assert.Error(t, err)
	_, err = runCLI(t, base, dir, "compose", "action-options", "novalue")
	assert.Error(t, err)
}

func TestForwardURL(t *testing.T) {
	got, err := forwardURL("com.perimeter-epitech://oauthredirect?code=c&state=s", "127.0.0.1:9999")
	require.NoError(t, err)
	u, err := url.Parse(got)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9999", u.Host)
	assert.Equal(t, redirectPath, u.Path)
	assert.Equal(t, "c", u.Query().Get("code"))
	assert.Equal(t, "s", u.Query().Get("state"))

	got, err = forwardURL("com.perimeter-epitech://oauthredirect#access_token=tok&state=s", "127.0.0.1:9999")
	require.NoError(t, err)
	u, _ = url.Parse(got)
	assert.Equal(t, "tok", u.Query().Get("access_token"))

	_, err = forwardURL("com.perimeter-epitech://oauthredirect?code=c", "127.0.0.1:9999")
	assert.Error(t, err)
}

func TestRedirectHandlerCompletesAttempt(t *testing.T) {
	registry, err := provider.NewRegistry(config.Defaults().OAuth, "http://127.0.0.1:8765/oauthredirect")
	require.NoError(t, err)
	launcher := oauth.NewLauncher(registry, time.Minute, nil, nil)
	attempt, err := launcher.Begin("k:github", "github", false)
	require.NoError(t, err)

	srv := httptest.NewServer(redirectHandler(launcher, zap.NewNop()))
	defer srv.Close()

	resp, err := http.Get(srv.URL + redirectPath + "?" + url.Values{"state": {attempt.State}, "code": {"c"}}.Encode())
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	result, err := launcher.Wait(context.Background(), attempt)
	require.NoError(t, err)
	assert.Equal(t, oauth.OutcomeSuccess, result.Outcome)
	assert.Equal(t, "c", result.Code)

	resp, err = http.Get(srv.URL + redirectPath + "?state=" + attempt.State)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func login(t *testing.T, api *fakeAPI, base, dir string) {
	t.Helper()
	api.on("POST /user/login", http.StatusOK, `{"token":"abc"}`)
	_, err := runCLI(t, base, dir, "login", "-u", "alice", "-p", "secret")
	require.NoError(t, err)
}

func TestListingsFilterByName(t *testing.T) {
	api, base := newFakeAPI(t)
	dir := t.TempDir()
	login(t, api, base, dir)
	api.on("GET /service/info", http.StatusOK, `[{"id":10,"name":"Timer"},{"id":20,"name":"Discord","oauth":true},{"id":30,"name":"GitHub","oauth":true}]`)
	api.on("GET /action/info/30", http.StatusOK, `[{"id":1,"name":"New commit"},{"id":2,"name":"New issue"},{"id":3,"name":"Star"}]`)
	api.on("GET /reaction/info/20", http.StatusOK, `[{"id":4,"name":"Send message"},{"id":5,"name":"Create channel"}]`)

	tests := []struct {
		name    string
		args    []string
		want    []string
		notWant []string
	}{
		{"services", []string{"services", "--search", "HUB"}, []string{"GitHub"}, []string{"Timer", "Discord"}},
		{"all services", []string{"services"}, []string{"Timer", "Discord", "GitHub"}, nil},
		{"actions", []string{"actions", "--search", "new", "30"}, []string{"New commit", "New issue"}, []string{"Star"}},
		{"reactions", []string{"reactions", "-s", "MESSAGE", "20"}, []string{"Send message"}, []string{"Create channel"}},
		{"all reactions", []string{"reactions", "20"}, []string{"Send message", "Create channel"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := runCLI(t, base, dir, tt.args...)
			require.NoError(t, err)
			for _, w := range tt.want {
				assert.Contains(t, out, w)
			}
			for _, w := range tt.notWant {
				assert.NotContains(t, out, w)
			}
		})
	}
}

func TestActionsNeedsServiceID(t *testing.T) {
	api, base := newFakeAPI(t)
	dir := t.TempDir()
	login(t, api, base, dir)

	_, err := runCLI(t, base, dir, "actions")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "<service-id>")
	assert.Empty(t, api.received("GET /action/info/0"))
}

func TestConnectRefusesAttemptInProgress(t *testing.T) {
	api, base := newFakeAPI(t)
	dir := t.TempDir()
	login(t, api, base, dir)

	store := session.NewFileStore(filepath.Join(dir, "session.json"))
	s := loadSession(t, dir)
	s.BeginOAuth("github", "")
	require.NoError(t, store.Save(s))

	_, err := runCLI(t, base, dir, "connect", "--listen", "127.0.0.1:0", "github")
	require.Error(t, err)
	assert.True(t, oauth.IsInProgress(err), "got %v", err)
	assert.Empty(t, api.received("POST /github/auth/callback"))
	assert.Equal(t, "github", loadSession(t, dir).Provider, "the running attempt is left alone")
}

func TestConnectIgnoresStaleAttempt(t *testing.T) {
	api, base := newFakeAPI(t)
	dir := t.TempDir()
	login(t, api, base, dir)
	api.on("POST /github/auth/callback", http.StatusOK, `{"token":"abc"}`)

	store := session.NewFileStore(filepath.Join(dir, "session.json"))
	s := loadSession(t, dir)
	s.BeginOAuth("github", "")
	s.OAuthStartedAt = time.Now().Add(-time.Hour)
	require.NoError(t, store.Save(s))

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := runCLIContext(ctx, t, base, dir, "connect", "--listen", "127.0.0.1:0", "github")
		errc <- err
	}()
	require.Eventually(t, func() bool {
		return time.Since(loadSession(t, dir).OAuthStartedAt) < time.Minute
	}, 5*time.Second, 10*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)
}

func TestConnectSavesAttemptAndReportsCancel(t *testing.T) {
	api, base := newFakeAPI(t)
	dir := t.TempDir()
	login(t, api, base, dir)
	api.on("POST /github/auth/callback", http.StatusOK, `{"token":"abc"}`)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := runCLIContext(ctx, t, base, dir, "connect", "--listen", "127.0.0.1:0", "github")
		errc <- err
	}()

	require.Eventually(t, func() bool {
		return loadSession(t, dir).Provider == "github"
	}, 5*time.Second, 10*time.Millisecond, "attempt is saved before the URL is shown")
	assert.False(t, loadSession(t, dir).OAuthStartedAt.IsZero())

	cancel()
	err := <-errc
	assert.ErrorIs(t, err, context.Canceled)

	calls := api.received("POST /github/auth/callback")
	require.Len(t, calls, 1)
	assert.Equal(t, "cancelled", calls[0]["error"])
	s := loadSession(t, dir)
	assert.Empty(t, s.Provider)
	assert.True(t, s.Authenticated())
}

func TestParseAssignments(t *testing.T) {
	got, err := parseAssignments([]string{"a=1", "b=x=y", "c="})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "1", "b": "x=y", "c": ""}, got)

	_, err = parseAssignments([]string{"=1"})
	assert.Error(t, err)
}
