package auth

import (
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/nutrify-app/offline-gateway/types"
)

const jwtCookieName = "jwt"

// CookieCredentials holds the session token extracted from the jwt cookie.
// The cookie is the single source of truth: when any upstream answers 401
// the token is dropped so a dead session is never replayed.
type CookieCredentials struct {
	mu     sync.RWMutex
	token  string
	logger types.Logger
}

func NewCookieCredentials(logger types.Logger) *CookieCredentials {
	return &CookieCredentials{logger: logger}
}

func (c *CookieCredentials) Set(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

// Absorb extracts the jwt cookie from a raw Cookie header value and keeps
// it if present. Requests without the cookie leave the stored token alone.
func (c *CookieCredentials) Absorb(cookieHeader string) {
	token, ok := TokenFromCookieHeader(cookieHeader)
	if !ok {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

func (c *CookieCredentials) Token() (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.token == "" {
		return "", false
	}
	return c.token, true
}

func (c *CookieCredentials) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && c.logger != nil {
		c.logger.Info("session credential cleared", zap.String("reason", "unauthorized"))
	}
	c.token = ""
}

// TokenFromCookieHeader parses a raw Cookie header and returns the jwt
// cookie value.
func TokenFromCookieHeader(header string) (string, bool) {
	for _, part := range strings.Split(header, ";") {
		part = strings.TrimSpace(part)
		name, value, found := strings.Cut(part, "=")
		if !found {
			continue
		}
		if name == jwtCookieName && value != "" {
			return value, true
		}
	}
	return "", false
}

var _ types.CredentialSource = (*CookieCredentials)(nil)
