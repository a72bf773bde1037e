package session

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"vikabot/internal/credstore"
	"vikabot/internal/domain"
	"vikabot/internal/vikunja"
)

var testNow = time.Date(2025, 6, 18, 10, 0, 0, 0, time.UTC)

type fakeAPI struct {
	srv          *httptest.Server
	projectCalls atomic.Int64
	loginCalls   atomic.Int64
	failProjects atomic.Bool
	password     string
}

func newFakeAPI(t *testing.T) *fakeAPI {
	t.Helper()
	f := &fakeAPI{password: "hunter2"}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /login", func(w http.ResponseWriter, r *http.Request) {
		f.loginCalls.Add(1)
		var body struct {
			Username string `json:"username"`
			Password string `json:"password"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		if body.Password != f.password {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"token": "tok-" + body.Username})
	})
	mux.HandleFunc("GET /projects", func(w http.ResponseWriter, r *http.Request) {
		f.projectCalls.Add(1)
		if f.failProjects.Load() {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode([]domain.Project{
			{ID: 1, Title: "Inbox"},
			{ID: 2, Title: "Home"},
		})
	})
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func newTestManager(t *testing.T, api *fakeAPI) *Manager {
	t.Helper()
	store := credstore.New(filepath.Join(t.TempDir(), "credentials.json"))
	m := NewManager(vikunja.New(api.srv.URL), store)
	m.Now = func() time.Time { return testNow }
	return m
}

func TestProjectsCacheTTL(t *testing.T) {
	api := newFakeAPI(t)
	m := newTestManager(t, api)
	now := testNow
	m.Now = func() time.Time { return now }
	ctx := context.Background()

	if got := m.Projects(ctx, 7); len(got) != 2 {
		t.Fatalf("projects = %d, want 2", len(got))
	}
	now = testNow.Add(59 * time.Second)
	m.Projects(ctx, 7)
	if calls := api.projectCalls.Load(); calls != 1 {
		t.Fatalf("calls within TTL = %d, want 1", calls)
	}
	now = testNow.Add(61 * time.Second)
	m.Projects(ctx, 7)
	if calls := api.projectCalls.Load(); calls != 2 {
		t.Fatalf("calls after TTL = %d, want 2", calls)
	}
}

func TestProjectsStaleOnFailure(t *testing.T) {
	api := newFakeAPI(t)
	m := newTestManager(t, api)
	now := testNow
	m.Now = func() time.Time { return now }
	ctx := context.Background()

	first := m.Projects(ctx, 7)
	if len(first) != 2 {
		t.Fatalf("projects = %d, want 2", len(first))
	}
	api.failProjects.Store(true)
	now = testNow.Add(2 * time.Minute)
	got := m.Projects(ctx, 7)
	if len(got) != 2 {
		t.Fatalf("stale projects = %d, want previous 2", len(got))
	}
}

func TestProjectsCacheIsPerChat(t *testing.T) {
	api := newFakeAPI(t)
	m := newTestManager(t, api)
	ctx := context.Background()

	m.Projects(ctx, 1)
	m.Projects(ctx, 2)
	if calls := api.projectCalls.Load(); calls != 2 {
		t.Fatalf("calls = %d, want one per chat", calls)
	}
}

func TestProjectLookups(t *testing.T) {
	api := newFakeAPI(t)
	m := newTestManager(t, api)
	ctx := context.Background()

	p, ok := m.ProjectByName(ctx, 7, "home")
	if !ok || p.ID != 2 {
		t.Fatalf("ProjectByName(home) = %+v %v", p, ok)
	}
	if _, ok := m.ProjectByName(ctx, 7, "nope"); ok {
		t.Fatal("unexpected match for nope")
	}
	p, ok = m.ProjectByID(ctx, 7, 1)
	if !ok || p.Title != "Inbox" {
		t.Fatalf("ProjectByID(1) = %+v %v", p, ok)
	}
}

func TestAuthenticatePersistAndLogout(t *testing.T) {
	api := newFakeAPI(t)
	m := newTestManager(t, api)
	ctx := context.Background()

	if !m.Authenticate(ctx, 7, "alice", "hunter2", true) {
		t.Fatal("authenticate failed")
	}
	if m.Token(7) != "tok-alice" {
		t.Fatalf("token = %q", m.Token(7))
	}
	if _, ok := m.Store.Load()["7"]; !ok {
		t.Fatal("credentials not persisted")
	}

	m.Logout(7)
	if len(m.Store.Load()) != 0 {
		t.Fatal("credentials survived logout")
	}
	if m.Token(7) != "" {
		t.Fatal("token survived logout")
	}
	if m.Session(7).Username != "" {
		t.Fatal("username survived logout")
	}
}

func TestAuthenticateBadPassword(t *testing.T) {
	api := newFakeAPI(t)
	m := newTestManager(t, api)

	if m.Authenticate(context.Background(), 7, "alice", "wrong", true) {
		t.Fatal("authenticate succeeded with wrong password")
	}
	if m.Token(7) != "" {
		t.Fatal("token set after failed login")
	}
	// failed logins still persist the credentials the user asked to save
	if _, ok := m.Store.Load()["7"]; !ok {
		t.Fatal("credentials not persisted")
	}
}

func TestIsAuthenticatedReloginFromStore(t *testing.T) {
	api := newFakeAPI(t)
	m := newTestManager(t, api)
	m.Store.Save("7", "alice", "hunter2")

	if !m.IsAuthenticated(context.Background(), 7) {
		t.Fatal("expected silent re-login from stored credentials")
	}
	if api.loginCalls.Load() != 1 {
		t.Fatalf("login calls = %d, want 1", api.loginCalls.Load())
	}
}

func TestIsAuthenticatedNoCredentials(t *testing.T) {
	api := newFakeAPI(t)
	m := newTestManager(t, api)

	if m.IsAuthenticated(context.Background(), 7) {
		t.Fatal("authenticated without any credentials")
	}
	if api.loginCalls.Load() != 0 {
		t.Fatal("login attempted without credentials")
	}
}

func TestExpiredTokenTriggersRelogin(t *testing.T) {
	api := newFakeAPI(t)
	m := newTestManager(t, api)

	expired := signedToken(t, testNow.Add(-time.Hour))
	s := m.Session(7)
	s.Token = expired
	s.Username = "alice"
	s.Password = "hunter2"

	if !m.IsAuthenticated(context.Background(), 7) {
		t.Fatal("expected re-login after expiry")
	}
	if m.Token(7) != "tok-alice" {
		t.Fatalf("token = %q, want fresh tok-alice", m.Token(7))
	}
	if api.loginCalls.Load() != 1 {
		t.Fatalf("login calls = %d, want 1", api.loginCalls.Load())
	}
}

func TestLiveAndOpaqueTokensAreKept(t *testing.T) {
	api := newFakeAPI(t)
	m := newTestManager(t, api)

	for _, token := range []string{
		signedToken(t, testNow.Add(time.Hour)),
		"opaque-session-token",
	} {
		s := m.Session(7)
		s.Token = token
		if !m.IsAuthenticated(context.Background(), 7) {
			t.Fatalf("token %q treated as dead", token)
		}
		if api.loginCalls.Load() != 0 {
			t.Fatal("unnecessary re-login")
		}
	}
}

func TestConcurrentFirstTouchYieldsOneSession(t *testing.T) {
	api := newFakeAPI(t)
	m := newTestManager(t, api)

	const workers = 16
	results := make(chan *Session, workers)
	for i := 0; i < workers; i++ {
		go func() { results <- m.Session(9) }()
	}
	first := <-results
	for i := 1; i < workers; i++ {
		if got := <-results; got != first {
			t.Fatal("concurrent first access produced distinct sessions")
		}
	}
}

func TestHydratesFromStoreOnce(t *testing.T) {
	api := newFakeAPI(t)
	m := newTestManager(t, api)
	m.Store.Save("7", "alice", "hunter2")

	if got := m.Session(7).Username; got != "alice" {
		t.Fatalf("username = %q, want alice", got)
	}
	// later changes to the file must not leak into the live session
	m.Store.Save("7", "mallory", "pw")
	if got := m.Session(7).Username; got != "alice" {
		t.Fatalf("username rehydrated to %q", got)
	}
}

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": exp.Unix(),
	})
	signed, err := tok.SignedString([]byte("test-key"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}
