// Package auth guards the dashboards behind one shared password.
package auth

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// CookieName is the session cookie.
const CookieName = "helpdesk_session"

// ErrNotConfigured means no password or hash was provided.
var ErrNotConfigured = errors.New("application password is not configured")

// Gate checks the shared password and tracks logged-in sessions in memory.
type Gate struct {
	secret []byte
	hash   []byte
	ttl    time.Duration
	now    func() time.Time

	mu       sync.Mutex
	sessions map[string]time.Time
}

// NewGate builds a Gate. A bcrypt hash takes precedence over the plain
// secret when both are set.
func NewGate(secret, bcryptHash string, ttl time.Duration) *Gate {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &Gate{
		secret:   []byte(secret),
		hash:     []byte(strings.TrimSpace(bcryptHash)),
		ttl:      ttl,
		now:      time.Now,
		sessions: make(map[string]time.Time),
	}
}

// Configured reports whether any credential is set.
func (g *Gate) Configured() bool {
	return len(g.hash) > 0 || len(g.secret) > 0
}

// Check compares password with the configured credential. It always fails
// when nothing is configured.
func (g *Gate) Check(password string) bool {
	switch {
	case len(g.hash) > 0:
		return bcrypt.CompareHashAndPassword(g.hash, []byte(password)) == nil
	case len(g.secret) > 0:
		return subtle.ConstantTimeCompare(g.secret, []byte(password)) == 1
	default:
		return false
	}
}

// Login checks password and opens a session.
func (g *Gate) Login(password string) (token string, expires time.Time, err error) {
	if !g.Configured() {
		return "", time.Time{}, ErrNotConfigured
	}
	if !g.Check(password) {
		return "", time.Time{}, errors.New("wrong password")
	}
	token = uuid.NewString()
	expires = g.now().Add(g.ttl)
	g.mu.Lock()
	g.pruneLocked()
	g.sessions[token] = expires
	g.mu.Unlock()
	return token, expires, nil
}

// Valid reports whether token names a live session.
func (g *Gate) Valid(token string) bool {
	if token == "" {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	exp, ok := g.sessions[token]
	if !ok {
		return false
	}
	if !g.now().Before(exp) {
		delete(g.sessions, token)
		return false
	}
	return true
}

// Logout ends a session.
func (g *Gate) Logout(token string) {
	g.mu.Lock()
	delete(g.sessions, token)
	g.mu.Unlock()
}

func (g *Gate) pruneLocked() {
	now := g.now()
	for t, exp := range g.sessions {
		if !now.Before(exp) {
			delete(g.sessions, t)
		}
	}
}

// Authenticated reports whether the request carries a live session cookie.
func (g *Gate) Authenticated(r *http.Request) bool {
	c, err := r.Cookie(CookieName)
	if err != nil {
		return false
	}
	return g.Valid(c.Value)
}

// Middleware lets through requests with a live session. API paths get a
// JSON 401, everything else is redirected to the login page.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.Authenticated(r) {
			next.ServeHTTP(w, r)
			return
		}
		if strings.HasPrefix(r.URL.Path, "/api/") {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			msg := "login required"
			if !g.Configured() {
				msg = ErrNotConfigured.Error()
			}
			_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
			return
		}
		http.Redirect(w, r, "/login", http.StatusSeeOther)
	})
}

// SetCookie writes the session cookie.
func SetCookie(w http.ResponseWriter, token string, expires time.Time, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearCookie expires the session cookie.
func ClearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}
