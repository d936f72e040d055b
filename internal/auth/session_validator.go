package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	defaultSessionIssuer = "tauth"
	bearerPrefix         = "Bearer "
)

var (
	ErrMissingSessionSigningKey = errors.New("session validator: signing key required")
	ErrMissingSessionCookieName = errors.New("session validator: cookie name required")
	ErrMissingSessionToken      = errors.New("session validator: token required")
	ErrInvalidSessionToken      = errors.New("session validator: invalid token")
	ErrExpiredSessionToken      = errors.New("session validator: token expired")
	ErrMissingSessionSubject    = errors.New("session validator: subject required")
)

// SessionClaims mirrors the JWT payload emitted by the external auth service.
type SessionClaims struct {
	UserID          string `json:"user_id"`
	Username        string `json:"username"`
	UserEmail       string `json:"user_email"`
	UserDisplayName string `json:"user_display_name"`
	jwt.RegisteredClaims
}

// DisplayUsername returns the name recorded in backups and shown to friends.
func (c SessionClaims) DisplayUsername() string {
	for _, candidate := range []string{c.Username, c.UserDisplayName, c.UserEmail, c.UserID} {
		if trimmed := strings.TrimSpace(candidate); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

// Session is a validated request session. Token is forwarded as the bearer
// credential to the share backend.
type Session struct {
	Claims SessionClaims
	Token  string
}

// SessionValidatorConfig describes how to validate session JWTs.
type SessionValidatorConfig struct {
	SigningSecret []byte
	// Issuer defaults to "tauth".
	Issuer     string
	CookieName string
	Clock      func() time.Time
}

// SessionValidator validates HS256 session JWTs.
type SessionValidator struct {
	signingSecret []byte
	issuer        string
	cookieName    string
	clock         func() time.Time
}

// NewSessionValidator constructs a validator with the provided configuration.
func NewSessionValidator(cfg SessionValidatorConfig) (*SessionValidator, error) {
	if len(cfg.SigningSecret) == 0 {
		return nil, ErrMissingSessionSigningKey
	}
	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		issuer = defaultSessionIssuer
	}
	cookieName := strings.TrimSpace(cfg.CookieName)
	if cookieName == "" {
		return nil, ErrMissingSessionCookieName
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &SessionValidator{
		signingSecret: append([]byte(nil), cfg.SigningSecret...),
		issuer:        issuer,
		cookieName:    cookieName,
		clock:         clock,
	}, nil
}

// CookieName returns the cookie name configured for session lookups.
func (v *SessionValidator) CookieName() string {
	return v.cookieName
}

// ValidateToken validates the supplied JWT string and returns the parsed claims.
func (v *SessionValidator) ValidateToken(tokenString string) (SessionClaims, error) {
	token := strings.TrimSpace(tokenString)
	if token == "" {
		return SessionClaims{}, ErrMissingSessionToken
	}

	claims := &SessionClaims{}
	parsed, err := jwt.ParseWithClaims(
		token,
		claims,
		func(t *jwt.Token) (interface{}, error) {
			return v.signingSecret, nil
		},
		jwt.WithTimeFunc(v.clock),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(v.issuer),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return SessionClaims{}, ErrExpiredSessionToken
		}
		return SessionClaims{}, fmt.Errorf("%w: %v", ErrInvalidSessionToken, err)
	}
	if parsed == nil || !parsed.Valid {
		return SessionClaims{}, ErrInvalidSessionToken
	}
	if strings.TrimSpace(claims.Subject) == "" && strings.TrimSpace(claims.UserID) == "" {
		return SessionClaims{}, ErrMissingSessionSubject
	}
	return *claims, nil
}

// ValidateRequest reads the session token from the configured cookie, falling
// back to an Authorization bearer header, and validates it.
func (v *SessionValidator) ValidateRequest(r *http.Request) (Session, error) {
	token := v.tokenFromRequest(r)
	if token == "" {
		return Session{}, ErrMissingSessionToken
	}
	claims, err := v.ValidateToken(token)
	if err != nil {
		return Session{}, err
	}
	return Session{Claims: claims, Token: token}, nil
}

func (v *SessionValidator) tokenFromRequest(r *http.Request) string {
	if r == nil {
		return ""
	}
	if cookie, err := r.Cookie(v.cookieName); err == nil && cookie != nil {
		if value := strings.TrimSpace(cookie.Value); value != "" {
			return value
		}
	}
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, bearerPrefix) {
		return strings.TrimSpace(strings.TrimPrefix(header, bearerPrefix))
	}
	return ""
}
