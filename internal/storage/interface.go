package storage

import (
	"context"
	"errors"
	"time"

	"github.com/org/datavault/pkg/models"
)

// ErrNotFound is returned when a requested resource does not exist, or
// when a conditional update matched no row.
var ErrNotFound = errors.New("not found")

// ErrAlreadyExists is returned when a unique constraint is violated.
var ErrAlreadyExists = errors.New("already exists")

// CompanyUpdate describes a partial company-settings update. Nil fields
// are left untouched.
type CompanyUpdate struct {
	CompanyName  *string
	Email        *string
	RedirectURIs []string
	WebhookURL   *string
	Logo         *string
}

// Store defines the persistence interface for DataVault. All
// cross-request coordination (single-use codes, token transitions) is
// enforced here through atomic conditional updates, never by
// read-then-write in application code.
type Store interface {
	// Users
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUserByID(ctx context.Context, userID string) (*models.User, error)
	UpdateLastLogin(ctx context.Context, userID string, at time.Time) error

	// Vault records
	CreateVaultRecord(ctx context.Context, rec *models.VaultRecord) error
	GetVaultRecord(ctx context.Context, userID string) (*models.VaultRecord, error)
	SetDocument(ctx context.Context, userID, documentType, locator string) error
	SetPersonalData(ctx context.Context, userID string, encrypted map[string]string) error

	// Companies
	CreateCompany(ctx context.Context, company *models.Company) error
	GetCompany(ctx context.Context, companyID string) (*models.Company, error)
	GetCompanyByEmail(ctx context.Context, email string) (*models.Company, error)
	UpdateCompanyData(ctx context.Context, companyID string, upd CompanyUpdate) error

	// API keys
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	GetAPIKeyByClientID(ctx context.Context, clientID string) (*models.APIKey, error)
	ListAPIKeys(ctx context.Context, companyID string) ([]*models.APIKey, error)
	DeleteAPIKey(ctx context.Context, companyID, keyID string) error
	CountAPIKeys(ctx context.Context, companyID string) (int, error)

	// Authorization requests
	CreateAuthorizationRequest(ctx context.Context, req *models.AuthorizationRequest) error
	// ConsumePendingRequest atomically finds a pending request by
	// (accessCode, companyID) and flips it to approved, so that exactly
	// one of N concurrent exchanges for the same code succeeds. Returns
	// ErrNotFound when no pending row matched.
	ConsumePendingRequest(ctx context.Context, accessCode, companyID string, decidedAt time.Time) (*models.AuthorizationRequest, error)
	// GetAuthorizationRequestByCode is a plain lookup, used to classify a
	// failed consume (unknown code vs already decided).
	GetAuthorizationRequestByCode(ctx context.Context, accessCode string) (*models.AuthorizationRequest, error)
	DeleteAuthorizationRequest(ctx context.Context, requestID string) error

	// Access tokens
	CreateAccessToken(ctx context.Context, token *models.AccessToken) error
	GetAccessToken(ctx context.Context, bearer string) (*models.AccessToken, error)
	GetAccessTokenByID(ctx context.Context, tokenID, userID string) (*models.AccessToken, error)
	ListActiveTokens(ctx context.Context, userID string) ([]*models.AccessToken, error)
	// RevokeAccessToken flips active→revoked in one conditional update.
	// Returns ErrNotFound when the token is missing, owned by another
	// user, or not active.
	RevokeAccessToken(ctx context.Context, tokenID, userID string, revokedAt time.Time) error
	// TouchAccessToken increments accessCount and stamps lastAccessedAt.
	TouchAccessToken(ctx context.Context, tokenID string, at time.Time) error

	// Access logs (append-only)
	AppendAccessLog(ctx context.Context, entry *models.AccessLog) error
	ListAccessLogs(ctx context.Context, userID string, limit int) ([]*models.AccessLog, error)

	// Metrics helpers
	CountActiveTokens(ctx context.Context) (int64, error)
	CountPendingRequests(ctx context.Context) (int64, error)

	// Lifecycle
	Close()
}
