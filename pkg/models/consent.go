package models

import "time"

// RequestStatus is the state of an authorization request.
type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestApproved RequestStatus = "approved"
	RequestDenied   RequestStatus = "denied"
)

// AuthorizationRequest records a subject's consent decision and the
// single-use access code issued with it. The code is valid for five
// minutes; a pending request found past Expiry must never be honored.
type AuthorizationRequest struct {
	RequestID     string
	CompanyID     string
	CompanyName   string // denormalized for audit even if the company renames
	UserID        string
	RequestedData []string
	Purpose       string
	Duration      int // days, 1..365
	RedirectURI   string
	State         string
	Status        RequestStatus
	AccessCode    string
	Expiry        time.Time
	CreatedAt     time.Time
	DecidedAt     *time.Time
}

// IsExpired reports whether the access code window has closed.
func (r *AuthorizationRequest) IsExpired() bool {
	return time.Now().After(r.Expiry)
}

// TokenStatus is the state of an access token.
type TokenStatus string

const (
	TokenActive  TokenStatus = "active"
	TokenRevoked TokenStatus = "revoked"
	TokenExpired TokenStatus = "expired"
)

// AccessToken is a bearer credential scoped to the fields a subject
// approved. RequestedData is copied verbatim from the originating
// AuthorizationRequest at issuance and never changes afterwards.
type AccessToken struct {
	TokenID        string
	Token          string
	UserID         string
	CompanyID      string
	CompanyName    string
	RequestedData  []string
	GrantedAt      time.Time
	ExpiresAt      time.Time
	Status         TokenStatus
	AccessCount    int64
	LastAccessedAt *time.Time
	RevokedAt      *time.Time
}

// IsExpired reports whether the token is past its expiry, regardless of
// the stored status field.
func (t *AccessToken) IsExpired() bool {
	return time.Now().After(t.ExpiresAt)
}

// IsRevoked reports whether the token has been revoked.
func (t *AccessToken) IsRevoked() bool {
	return t.Status == TokenRevoked
}

// IsUsable reports whether the token may authorize a data read right now.
func (t *AccessToken) IsUsable() bool {
	return t.Status == TokenActive && !t.IsExpired()
}
