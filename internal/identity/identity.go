// Package identity issues the signed token that carries a visitor's persistent id and
// current session across page loads.
package identity

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrInvalidToken is returned for tokens that are malformed, expired or forged
var ErrInvalidToken = errors.New("identity: invalid token")

const (
	issuer = "popupd"
	// DefaultSessionIdle rolls the session after 30 minutes without a page load
	DefaultSessionIdle = 30 * time.Minute
	tokenLifetime      = 400 * 24 * time.Hour
)

// Claims of the identity token
type Claims struct {
	VisitorID string `json:"vid"`
	SessionID string `json:"sid"`
	LastSeen  int64  `json:"lst"`
	jwt.RegisteredClaims
}

// Identity is the outcome of resuming a token
type Identity struct {
	VisitorID  string `json:"visitorId"`
	SessionID  string `json:"sessionId"`
	NewVisitor bool   `json:"newVisitor"`
	NewSession bool   `json:"newSession"`
	Token      string `json:"token"`
}

// Service signs and verifies identity tokens with HMAC-SHA256
type Service struct {
	secret []byte
	idle   time.Duration
	now    func() time.Time
}

// NewService creates a service. A non-positive idle uses DefaultSessionIdle.
func NewService(secret string, idle time.Duration) *Service {
	if idle <= 0 {
		idle = DefaultSessionIdle
	}
	return &Service{secret: []byte(secret), idle: idle, now: time.Now}
}

// Resume continues the visitor and session of token, starting fresh ones when the
// token is missing or invalid, and rolling the session after the idle window.
// The returned identity always carries a refreshed token.
func (s *Service) Resume(token string) (Identity, error) {
	now := s.now()
	id := Identity{}

	claims, err := s.Validate(token)
	switch {
	case err != nil:
		id.VisitorID = uuid.NewString()
		id.SessionID = uuid.NewString()
		id.NewVisitor = true
		id.NewSession = true
	case now.Sub(time.Unix(claims.LastSeen, 0)) > s.idle:
		id.VisitorID = claims.VisitorID
		id.SessionID = uuid.NewString()
		id.NewSession = true
	default:
		id.VisitorID = claims.VisitorID
		id.SessionID = claims.SessionID
	}

	signed, err := s.issue(id.VisitorID, id.SessionID, now)
	if err != nil {
		return Identity{}, err
	}
	id.Token = signed
	return id, nil
}

// Validate parses and verifies a token
func (s *Service) Validate(token string) (*Claims, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithIssuer(issuer), jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.VisitorID == "" || claims.SessionID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (s *Service) issue(visitorID, sessionID string, now time.Time) (string, error) {
	claims := Claims{
		VisitorID: visitorID,
		SessionID: sessionID,
		LastSeen:  now.Unix(),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   visitorID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenLifetime)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign identity token: %w", err)
	}
	return signed, nil
}
