package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"sync"

	"github.com/jacobedelsonuw/visionboard-ai/logging"

	"go.uber.org/zap"
)

// HeaderAPIKey is checked when no bearer token is present.
const HeaderAPIKey = "X-API-Key"

// KeyAuth is HTTP middleware requiring the configured API key. Without a
// key the guarded routes are open, which suits a board on a trusted LAN.
type KeyAuth struct {
	hash   string
	logger *logging.Logger

	// bcrypt is slow; a key that verified once is remembered by digest
	mu       sync.RWMutex
	verified [sha256.Size]byte
	known    bool
}

// NewKeyAuth hashes key with cost. An empty key disables the check.
func NewKeyAuth(key string, cost int, logger *logging.Logger) (*KeyAuth, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	a := &KeyAuth{logger: logger.Named("auth")}
	if key == "" {
		return a, nil
	}
	hash, err := HashKeyWithCost(key, cost)
	if err != nil {
		return nil, err
	}
	a.hash = hash
	return a, nil
}

// NewKeyAuthFromHash uses a precomputed bcrypt hash.
func NewKeyAuthFromHash(hash string, logger *logging.Logger) (*KeyAuth, error) {
	if _, err := HashCost(hash); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &KeyAuth{hash: hash, logger: logger.Named("auth")}, nil
}

// Enabled reports whether a key is configured.
func (a *KeyAuth) Enabled() bool {
	return a.hash != ""
}

// Check verifies a presented key.
func (a *KeyAuth) Check(key string) error {
	if !a.Enabled() {
		return ErrInvalidHash
	}
	if key == "" {
		return ErrEmptyKey
	}
	digest := sha256.Sum256([]byte(key))
	a.mu.RLock()
	hit := a.known && subtle.ConstantTimeCompare(digest[:], a.verified[:]) == 1
	a.mu.RUnlock()
	if hit {
		return nil
	}
	if err := VerifyKey(key, a.hash); err != nil {
		return err
	}
	a.mu.Lock()
	a.verified, a.known = digest, true
	a.mu.Unlock()
	return nil
}

// Middleware wraps next with the key check.
func (a *KeyAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Enabled() {
			next.ServeHTTP(w, r)
			return
		}
		if err := a.Check(KeyFromRequest(r)); err != nil {
			a.logger.Warn("rejected api key",
				zap.String("path", r.URL.Path),
				zap.String("ip", clientIP(r)),
				zap.Error(err))
			w.Header().Set("WWW-Authenticate", `Bearer realm="visionboard"`)
			writeJSONError(w, http.StatusUnauthorized, "invalid or missing api key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// KeyFromRequest extracts a bearer token or the X-API-Key header.
func KeyFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}
	return strings.TrimSpace(r.Header.Get(HeaderAPIKey))
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
