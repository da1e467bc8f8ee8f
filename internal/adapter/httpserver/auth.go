package httpserver

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/argon2"

	"github.com/fairyhunter13/lead-scout/internal/config"
)

const (
	adminSessionCookie = "admin_session"
	adminSessionTTL    = 24 * time.Hour
)

// Argon2Params defines parameters for Argon2id password hashing.
type Argon2Params struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltLen     uint32
	KeyLen      uint32
}

var defaultArgon2Params = Argon2Params{
	Memory:      64 * 1024,
	Iterations:  3,
	Parallelism: 2,
	SaltLen:     16,
	KeyLen:      32,
}

// HashPassword creates an Argon2id hash of the password in the form
// argon2id$iterations$memory$parallelism$salt$hash (salt and hash base64).
func HashPassword(password string, params Argon2Params) (string, error) {
	salt := make([]byte, params.SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	hash := argon2.IDKey([]byte(password), salt, params.Iterations, params.Memory, params.Parallelism, params.KeyLen)
	encoded := fmt.Sprintf("argon2id$%d$%d$%d$%s$%s",
		params.Iterations,
		params.Memory,
		params.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	)
	return encoded, nil
}

// VerifyPassword verifies a password against its Argon2id hash.
func VerifyPassword(password, encodedHash string) bool {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 6 || parts[0] != "argon2id" {
		return false
	}
	iters, err1 := parseUint32(parts[1])
	mem, err2 := parseUint32(parts[2])
	par64, err3 := parseUint32(parts[3])
	if err1 != nil || err2 != nil || err3 != nil {
		return false
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false
	}
	expected, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false
	}
	var par uint8
	if par64 > math.MaxUint8 {
		par = math.MaxUint8
	} else {
		par = uint8(par64)
	}
	actual := argon2.IDKey([]byte(password), salt, iters, mem, par, defaultArgon2Params.KeyLen)
	return subtle.ConstantTimeCompare(actual, expected) == 1
}

// credentialsMatch checks a login attempt against the configured admin
// credentials. An Argon2id-encoded ADMIN_PASSWORD is verified against its
// hash; any other value is compared in constant time.
func credentialsMatch(cfg config.Config, username, password string) bool {
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(cfg.AdminUsername)) == 1
	var passOK bool
	if strings.HasPrefix(cfg.AdminPassword, "argon2id$") {
		passOK = VerifyPassword(password, cfg.AdminPassword)
	} else {
		passOK = subtle.ConstantTimeCompare([]byte(password), []byte(cfg.AdminPassword)) == 1
	}
	return userOK && passOK
}

// SessionData is the decoded content of one admin session token.
type SessionData struct {
	Username  string
	LoginTime time.Time
	ExpiresAt time.Time
}

// SessionManager issues and validates HMAC-signed admin session tokens.
// Tokens travel either as the admin_session cookie or as a Bearer token.
type SessionManager struct {
	secret []byte
	cfg    config.Config
}

// NewSessionManager creates a session manager from the configured secret.
func NewSessionManager(cfg config.Config) *SessionManager {
	return &SessionManager{secret: []byte(cfg.AdminSessionSecret), cfg: cfg}
}

// CreateSession returns a signed session token for username.
func (sm *SessionManager) CreateSession(username string) (string, error) {
	now := time.Now()
	expiresAt := now.Add(adminSessionTTL)

	payload := fmt.Sprintf("%s:%d:%d", username, now.Unix(), expiresAt.Unix())
	mac := hmac.New(sha256.New, sm.secret)
	mac.Write([]byte(payload))
	signature := base64.URLEncoding.EncodeToString(mac.Sum(nil))

	return payload + "." + signature, nil
}

// ValidateSession checks the signature and expiry of a session token.
func (sm *SessionManager) ValidateSession(token string) (*SessionData, error) {
	if token == "" {
		return nil, fmt.Errorf("empty session token")
	}
	parts := strings.Split(token, ".")
	if len(parts) != 2 {
		return nil, fmt.Errorf("invalid session format")
	}
	payload, signatureB64 := parts[0], parts[1]

	mac := hmac.New(sha256.New, sm.secret)
	mac.Write([]byte(payload))
	expected := mac.Sum(nil)

	actual, err := base64.URLEncoding.DecodeString(signatureB64)
	if err != nil {
		return nil, fmt.Errorf("invalid signature encoding")
	}
	if !hmac.Equal(expected, actual) {
		return nil, fmt.Errorf("invalid session signature")
	}

	fields := strings.Split(payload, ":")
	if len(fields) != 3 {
		return nil, fmt.Errorf("invalid payload format")
	}
	username := fields[0]
	loginTime := time.Unix(parseInt64(fields[1]), 0)
	expiresAt := time.Unix(parseInt64(fields[2]), 0)

	if time.Now().After(expiresAt) {
		return nil, fmt.Errorf("session expired")
	}
	return &SessionData{Username: username, LoginTime: loginTime, ExpiresAt: expiresAt}, nil
}

// sessionSameSite maps the configured SameSite name to its http constant.
func (sm *SessionManager) sessionSameSite() http.SameSite {
	switch strings.ToLower(sm.cfg.AdminSessionSameSite) {
	case "lax":
		return http.SameSiteLaxMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteStrictMode
	}
}

// SetSessionCookie sets the admin session cookie on the response.
func (sm *SessionManager) SetSessionCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     adminSessionCookie,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   !sm.cfg.IsDev(),
		SameSite: sm.sessionSameSite(),
		MaxAge:   int(adminSessionTTL / time.Second),
	})
}

// ClearSessionCookie expires the admin session cookie.
func (sm *SessionManager) ClearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     adminSessionCookie,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   !sm.cfg.IsDev(),
		SameSite: sm.sessionSameSite(),
		MaxAge:   -1,
	})
}

// sessionKey is an unexported context key type for session data.
type sessionKey struct{}

// SessionFrom returns the admin session attached to the request, if any.
func SessionFrom(r *http.Request) (*SessionData, bool) {
	s, ok := r.Context().Value(sessionKey{}).(*SessionData)
	return s, ok
}

// tokenFromRequest extracts a session token from the admin cookie or a
// Bearer Authorization header.
func tokenFromRequest(r *http.Request) string {
	if c, err := r.Cookie(adminSessionCookie); err == nil && c.Value != "" {
		return c.Value
	}
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return ""
}

// AuthRequired guards admin routes. It accepts a valid session token
// (cookie or Bearer) or Basic auth with the configured admin credentials;
// anything else gets a 401 envelope.
func (sm *SessionManager) AuthRequired(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if token := tokenFromRequest(r); token != "" {
			if session, err := sm.ValidateSession(token); err == nil {
				ctx := context.WithValue(r.Context(), sessionKey{}, session)
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}
			sm.ClearSessionCookie(w)
		}
		if user, pass, ok := r.BasicAuth(); ok && credentialsMatch(sm.cfg, user, pass) {
			session := &SessionData{Username: user, LoginTime: time.Now(), ExpiresAt: time.Now().Add(adminSessionTTL)}
			ctx := context.WithValue(r.Context(), sessionKey{}, session)
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}
		w.Header().Set("WWW-Authenticate", `Basic realm="admin"`)
		writeRawError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "admin credentials required", nil)
	})
}

// parseInt64 parses a decimal string to int64, returning 0 on error.
func parseInt64(s string) int64 {
	x, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return x
}

// parseUint32 parses a decimal string into uint32.
func parseUint32(s string) (uint32, error) {
	x, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("parse")
	}
	if x > math.MaxUint32 {
		return 0, fmt.Errorf("parse")
	}
	return uint32(x), nil
}
