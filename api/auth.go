package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

const (
	authCookie    = "wp_auth"
	authCookieTTL = 30 * 24 * time.Hour
)

// Gate is a single shared-password gate in front of the whole site.
// The cookie holds an HMAC derived from the secret, never the secret itself.
type Gate struct {
	password string
	hash     []byte
	token    string
	secure   bool
}

// GateOptions configures a Gate. PasswordHash is a bcrypt hash and takes
// precedence over Password. Without either the gate is disabled.
type GateOptions struct {
	Password     string
	PasswordHash string
	// Secure marks the cookie Secure (use in production behind TLS).
	Secure bool
}

// NewGate creates a gate. It fails when PasswordHash is not a bcrypt hash.
func NewGate(opts GateOptions) (*Gate, error) {
	g := &Gate{secure: opts.Secure}

	secret := opts.Password
	if opts.PasswordHash != "" {
		if _, err := bcrypt.Cost([]byte(opts.PasswordHash)); err != nil {
			return nil, fmt.Errorf("invalid password hash: %w", err)
		}
		g.hash = []byte(opts.PasswordHash)
		secret = opts.PasswordHash
	} else {
		g.password = opts.Password
	}

	if secret != "" {
		mac := hmac.New(sha256.New, []byte(secret))
		mac.Write([]byte(authCookie))
		g.token = hex.EncodeToString(mac.Sum(nil))
	}
	return g, nil
}

// Enabled reports whether a password is required.
func (g *Gate) Enabled() bool { return g.token != "" }

func (g *Gate) checkPassword(password string) bool {
	if g.hash != nil {
		return bcrypt.CompareHashAndPassword(g.hash, []byte(password)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(password), []byte(g.password)) == 1
}

// Login checks the password and sets the session cookie.
// POST /api/auth
func (g *Gate) Login(w http.ResponseWriter, r *http.Request) {
	var req AuthRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if !g.Enabled() {
		writeJSON(w, http.StatusOK, SuccessResponse{Success: true})
		return
	}
	if !g.checkPassword(req.Password) {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "error": "Wrong password"})
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     authCookie,
		Value:    g.token,
		Path:     "/",
		MaxAge:   int(authCookieTTL.Seconds()),
		HttpOnly: true,
		Secure:   g.secure,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, SuccessResponse{Success: true})
}

func (g *Gate) authorized(r *http.Request) bool {
	c, err := r.Cookie(authCookie)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(c.Value), []byte(g.token)) == 1
}

// Middleware rejects requests without a valid cookie. API calls get 401,
// page requests are redirected to /login.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/auth", "/login", "/healthz":
			next.ServeHTTP(w, r)
			return
		}
		if !g.Enabled() || g.authorized(r) {
			next.ServeHTTP(w, r)
			return
		}

		if strings.HasPrefix(r.URL.Path, "/api/") {
			writeError(w, http.StatusUnauthorized, "Authentication required", nil)
			return
		}
		http.Redirect(w, r, "/login", http.StatusFound)
	})
}
