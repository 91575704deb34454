package models

import "time"

// CompanyStatus is the lifecycle state of a registered company.
type CompanyStatus string

const (
	CompanyActive    CompanyStatus = "active"
	CompanySuspended CompanyStatus = "suspended"
)

// Company is a third party that can request scoped access to subject data.
type Company struct {
	CompanyID    string
	CompanyName  string
	Email        string
	PasswordHash string
	Status       CompanyStatus
	RedirectURIs []string
	WebhookURL   string
	Logo         string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// IsActive reports whether the company may initiate authorization flows.
func (c *Company) IsActive() bool {
	return c.Status == CompanyActive
}

// HasRedirectURI reports whether uri exactly matches a registered redirect URI.
// Prefix matches are deliberately not accepted.
func (c *Company) HasRedirectURI(uri string) bool {
	for _, u := range c.RedirectURIs {
		if u == uri {
			return true
		}
	}
	return false
}

// APIKey is a clientID/secret pair owned by exactly one company.
// The secret is bcrypt-hashed at rest and never stored in plaintext.
type APIKey struct {
	KeyID      string
	CompanyID  string
	ClientID   string
	SecretHash string
	Name       string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
