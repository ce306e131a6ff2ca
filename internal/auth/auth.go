// Package auth issues and validates the dashboard's own operator
// credentials. It is independent of the gateway's request signing:
// leaking a dashboard session grants nothing on the gateway side.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// Token scopes. A handshake token authorizes only the realtime channel
// handshake and is never accepted as an operator session, and vice versa.
const (
	ScopeSession  = "session"
	ScopeRealtime = "realtime"
)

// Config holds authenticator settings
type Config struct {
	// Secret signs session and handshake tokens
	Secret string `toml:"secret"`

	// OperatorPassword is either a bcrypt hash ($2a$/$2b$/$2y$ prefix) or a
	// legacy plain shared secret. A hash-shaped value is always routed to
	// bcrypt comparison, never to plain comparison.
	OperatorPassword string `toml:"operator_password"`

	// SessionTTL bounds operator session validity
	SessionTTL time.Duration `toml:"session_ttl"`

	// HandshakeTTL bounds realtime handshake token validity
	HandshakeTTL time.Duration `toml:"handshake_ttl"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		SessionTTL:   24 * time.Hour,
		HandshakeTTL: 30 * time.Second,
	}
}

// Validate checks if the configuration is valid
func (c Config) Validate() error {
	if c.Secret == "" {
		return fmt.Errorf("auth secret must be specified")
	}
	if c.OperatorPassword == "" {
		return fmt.Errorf("operator password must be specified")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("session_ttl must be positive")
	}
	if c.HandshakeTTL <= 0 {
		return fmt.Errorf("handshake_ttl must be positive")
	}
	return nil
}

// Authenticator mints and verifies time-boxed, self-contained credentials
type Authenticator struct {
	config Config
	logger *slog.Logger
	now    func() time.Time
}

// NewAuthenticator creates an authenticator with the specified configuration
func NewAuthenticator(config Config, logger *slog.Logger) *Authenticator {
	return &Authenticator{
		config: config,
		logger: logger,
		now:    time.Now,
	}
}

// tokenPayload is the signed content of a credential
type tokenPayload struct {
	Authenticated bool   `json:"authenticated"`
	Scope         string `json:"scope"`
	IssuedAt      int64  `json:"iat"`
	ExpiresAt     int64  `json:"exp"`
}

// VerifyPassword checks a submitted operator password. Comparison is
// constant-time in both modes; a length mismatch under plain comparison is a
// deterministic rejection, not a timing channel.
func (a *Authenticator) VerifyPassword(input string) bool {
	expected := a.config.OperatorPassword
	if expected == "" || input == "" {
		return false
	}

	if isHashShaped(expected) {
		return bcrypt.CompareHashAndPassword([]byte(expected), []byte(input)) == nil
	}

	return subtle.ConstantTimeCompare([]byte(input), []byte(expected)) == 1
}

// isHashShaped reports whether the configured secret is a bcrypt hash
func isHashShaped(secret string) bool {
	return strings.HasPrefix(secret, "$2a$") ||
		strings.HasPrefix(secret, "$2b$") ||
		strings.HasPrefix(secret, "$2y$")
}

// IssueSession mints an operator session token
func (a *Authenticator) IssueSession() (string, error) {
	return a.issue(ScopeSession, a.config.SessionTTL)
}

// IssueHandshake mints a short-lived realtime handshake token
func (a *Authenticator) IssueHandshake() (string, error) {
	return a.issue(ScopeRealtime, a.config.HandshakeTTL)
}

func (a *Authenticator) issue(scope string, ttl time.Duration) (string, error) {
	now := a.now()
	payload, err := json.Marshal(tokenPayload{
		Authenticated: true,
		Scope:         scope,
		IssuedAt:      now.UnixMilli(),
		ExpiresAt:     now.Add(ttl).UnixMilli(),
	})
	if err != nil {
		return "", fmt.Errorf("encode token payload: %w", err)
	}

	signature := a.sign(payload)
	token := base64.StdEncoding.EncodeToString([]byte(string(payload) + "." + signature))
	return token, nil
}

// VerifySession reports whether token is a valid operator session credential
func (a *Authenticator) VerifySession(token string) bool {
	return a.verify(token, ScopeSession)
}

// VerifyHandshake reports whether token is a valid realtime handshake credential
func (a *Authenticator) VerifyHandshake(token string) bool {
	return a.verify(token, ScopeRealtime)
}

// verify fails closed: any decode, signature, scope or expiry problem
// yields false, never an exception path that could read as valid.
func (a *Authenticator) verify(token, scope string) bool {
	decoded, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return false
	}

	dot := strings.LastIndexByte(string(decoded), '.')
	if dot < 0 {
		return false
	}
	payload := decoded[:dot]
	signature := string(decoded[dot+1:])

	sigBytes, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	expected, err := hex.DecodeString(a.sign(payload))
	if err != nil {
		return false
	}
	if len(sigBytes) != len(expected) {
		return false
	}
	if subtle.ConstantTimeCompare(sigBytes, expected) != 1 {
		return false
	}

	var parsed tokenPayload
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return false
	}
	if !parsed.Authenticated || parsed.Scope != scope {
		return false
	}
	if parsed.ExpiresAt <= 0 || a.now().UnixMilli() > parsed.ExpiresAt {
		return false
	}

	return true
}

// sign computes the hex HMAC-SHA256 over a token payload
func (a *Authenticator) sign(payload []byte) string {
	mac := hmac.New(sha256.New, []byte(a.config.Secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// HandshakeTTL exposes the configured handshake validity window so the
// handshake endpoint can report expiresIn to the client.
func (a *Authenticator) HandshakeTTL() time.Duration {
	return a.config.HandshakeTTL
}
