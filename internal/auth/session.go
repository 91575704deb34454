package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const issuer = "datavault"

// SessionKind distinguishes subject sessions from company dashboard
// sessions. The two use separate signing secrets so a company session
// can never be replayed as a subject session.
type SessionKind string

const (
	SessionUser    SessionKind = "user"
	SessionCompany SessionKind = "company"
)

// ErrInvalidSession indicates the session token failed validation.
var ErrInvalidSession = errors.New("invalid session token")

// SessionClaims are the JWT claims carried by dashboard sessions.
type SessionClaims struct {
	Kind SessionKind `json:"kind"`
	jwt.RegisteredClaims
}

// Sessions signs and verifies HS256 session tokens.
type Sessions struct {
	userSecret    []byte
	companySecret []byte
	ttl           time.Duration
}

// NewSessions creates a session manager with the given signing secrets.
func NewSessions(userSecret, companySecret string, ttl time.Duration) (*Sessions, error) {
	if strings.TrimSpace(userSecret) == "" || strings.TrimSpace(companySecret) == "" {
		return nil, errors.New("session secrets are not configured")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Sessions{
		userSecret:    []byte(userSecret),
		companySecret: []byte(companySecret),
		ttl:           ttl,
	}, nil
}

// Issue signs a session token for the given subject or company ID.
func (s *Sessions) Issue(kind SessionKind, subjectID string) (string, error) {
	if strings.TrimSpace(subjectID) == "" {
		return "", errors.New("subject ID is required")
	}
	now := time.Now().UTC()
	claims := SessionClaims{
		Kind: kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subjectID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			ID:        uuid.NewString(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secretFor(kind))
}

// Verify parses a session token and returns its claims. Tokens of the
// wrong kind fail verification because the secrets differ.
func (s *Sessions) Verify(kind SessionKind, token string) (*SessionClaims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidSession
	}
	parsed, err := jwt.ParseWithClaims(token, &SessionClaims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidSession
		}
		return s.secretFor(kind), nil
	})
	if err != nil {
		return nil, ErrInvalidSession
	}
	claims, ok := parsed.Claims.(*SessionClaims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidSession
	}
	if claims.Issuer != issuer || claims.Kind != kind || strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrInvalidSession
	}
	return claims, nil
}

func (s *Sessions) secretFor(kind SessionKind) []byte {
	if kind == SessionCompany {
		return s.companySecret
	}
	return s.userSecret
}
