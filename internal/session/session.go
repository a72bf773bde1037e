// Package session holds per-chat authentication state and the short-lived
// project cache. Entries are created lazily; the shared resource is the
// chat-keyed map, not the entries themselves. The transport delivers one
// event at a time per chat, so entry fields need no further locking.
package session

import (
	"context"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"vikabot/internal/credstore"
	"vikabot/internal/domain"
	"vikabot/internal/vikunja"
)

const defaultCacheTTL = 60 * time.Second

// Session is one chat's state. Token lives only in memory; username and
// password may be backed by the credential store.
type Session struct {
	ChatID   int64
	Token    string
	Username string
	Password string

	projects []domain.Project
	fetched  time.Time
}

type Manager struct {
	Client *vikunja.Client
	Store  *credstore.Store
	TTL    time.Duration
	Now    func() time.Time

	mu       sync.Mutex
	sessions map[int64]*Session
}

func NewManager(client *vikunja.Client, store *credstore.Store) *Manager {
	return &Manager{
		Client:   client,
		Store:    store,
		TTL:      defaultCacheTTL,
		Now:      time.Now,
		sessions: make(map[int64]*Session),
	}
}

func chatKey(chatID int64) string {
	return strconv.FormatInt(chatID, 10)
}

// Session returns the chat's session, creating it on first access and
// hydrating username/password from the credential store exactly once, at
// creation. Creation happens under the map lock, so concurrent first
// touches of one chat still yield a single entry.
func (m *Manager) Session(chatID int64) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[chatID]
	if !ok {
		s = &Session{ChatID: chatID}
		if rec, ok := m.Store.Load()[chatKey(chatID)]; ok {
			s.Username = rec.Username
			s.Password = rec.Password
			log.Printf("session: loaded saved credentials for chat %d", chatID)
		}
		m.sessions[chatID] = s
	}
	return s
}

// IsAuthenticated reports whether a live token exists. If there is none but
// stored credentials are available, one re-login round-trip is attempted
// first.
func (m *Manager) IsAuthenticated(ctx context.Context, chatID int64) bool {
	s := m.Session(chatID)
	if s.Token != "" && !m.tokenLive(s.Token) {
		log.Printf("session: token for chat %d expired, dropping", chatID)
		s.Token = ""
	}
	if s.Token == "" && s.Username != "" && s.Password != "" {
		m.Authenticate(ctx, chatID, "", "", false)
	}
	return s.Token != ""
}

// Authenticate logs in against the API. Explicit credentials override the
// session's and are persisted when persist is set; otherwise the session's
// stored credentials are used. The token is never written to disk.
func (m *Manager) Authenticate(ctx context.Context, chatID int64, username, password string, persist bool) bool {
	s := m.Session(chatID)
	if username != "" && password != "" {
		s.Username = username
		s.Password = password
		if persist {
			m.Store.Save(chatKey(chatID), username, password)
		}
	} else {
		username = s.Username
		password = s.Password
	}
	if username == "" || password == "" {
		log.Printf("session: no credentials available for chat %d", chatID)
		return false
	}
	token, err := m.Client.Login(ctx, username, password)
	if err != nil {
		log.Printf("session: login failed for %s: %v", username, err)
		return false
	}
	s.Token = token
	s.Username = username
	s.Password = password
	return true
}

// Token returns the chat's bearer token, empty when unauthenticated.
func (m *Manager) Token(chatID int64) string {
	return m.Session(chatID).Token
}

// Headers returns the authorization header set for the chat: empty when
// unauthenticated, else a single bearer entry. Never fails.
func (m *Manager) Headers(chatID int64) map[string]string {
	token := m.Token(chatID)
	if token == "" {
		return map[string]string{}
	}
	return map[string]string{"Authorization": "Bearer " + token}
}

// Logout deletes the chat's persisted credentials and discards the whole
// in-memory session, cache and token included.
func (m *Manager) Logout(chatID int64) {
	m.Store.Delete(chatKey(chatID))
	m.mu.Lock()
	delete(m.sessions, chatID)
	m.mu.Unlock()
}

// Projects returns the chat's project list, served from cache while the
// entry is younger than the TTL. A failed refresh keeps and returns the
// previous (possibly empty) list rather than erroring.
func (m *Manager) Projects(ctx context.Context, chatID int64) []domain.Project {
	s := m.Session(chatID)
	now := m.Now()
	if !s.fetched.IsZero() && now.Sub(s.fetched) < m.TTL {
		return s.projects
	}
	projects, err := m.Client.Projects(ctx, s.Token)
	if err != nil {
		log.Printf("session: fetching projects for chat %d: %v", chatID, err)
		return s.projects
	}
	s.projects = projects
	s.fetched = now
	return s.projects
}

// ProjectByName finds a cached project by case-insensitive exact title
// match; first match wins.
func (m *Manager) ProjectByName(ctx context.Context, chatID int64, name string) (domain.Project, bool) {
	for _, p := range m.Projects(ctx, chatID) {
		if strings.EqualFold(p.Title, name) {
			return p, true
		}
	}
	return domain.Project{}, false
}

// ProjectByID finds a cached project by id.
func (m *Manager) ProjectByID(ctx context.Context, chatID int64, id int64) (domain.Project, bool) {
	for _, p := range m.Projects(ctx, chatID) {
		if p.ID == id {
			return p, true
		}
	}
	return domain.Project{}, false
}

// tokenLive inspects the token's exp claim without verifying the signature
// (the server's key is not available client-side). Tokens that do not parse
// as JWTs are assumed live and left to the server to reject.
func (m *Manager) tokenLive(token string) bool {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return true
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return true
	}
	return m.Now().Before(exp.Time)
}
