package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/org/datavault/internal/crypto"
	"github.com/org/datavault/internal/protocolerr"
	"github.com/org/datavault/internal/storage"
	"github.com/org/datavault/pkg/models"
)

// maxKeysPerCompany is a soft cap, checked at create time. A concurrent
// create can overshoot it slightly under high concurrency; that is
// accepted rather than requiring a storage-level lock.
const maxKeysPerCompany = 5

// APIKeyService issues and validates company API keys.
type APIKeyService struct {
	store storage.Store
}

// NewAPIKeyService creates an APIKeyService backed by the given store.
func NewAPIKeyService(store storage.Store) *APIKeyService {
	return &APIKeyService{store: store}
}

// Create mints a clientID/secret pair for a company. The plaintext
// secret is returned exactly once; only its bcrypt hash is stored.
func (s *APIKeyService) Create(ctx context.Context, companyID, name string) (clientID, secretKey string, err error) {
	count, err := s.store.CountAPIKeys(ctx, companyID)
	if err != nil {
		return "", "", fmt.Errorf("counting api keys: %w", err)
	}
	if count >= maxKeysPerCompany {
		return "", "", protocolerr.LimitExceeded("API key limit (5) reached")
	}

	secretKey, err = crypto.GenerateSecretKey()
	if err != nil {
		return "", "", err
	}
	hash, err := crypto.HashSecretKey(secretKey)
	if err != nil {
		return "", "", err
	}
	clientID, err = crypto.GenerateClientID()
	if err != nil {
		return "", "", err
	}

	now := time.Now().UTC()
	key := &models.APIKey{
		KeyID:      uuid.NewString(),
		CompanyID:  companyID,
		ClientID:   clientID,
		SecretHash: hash,
		Name:       name,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.store.CreateAPIKey(ctx, key); err != nil {
		return "", "", fmt.Errorf("persisting api key: %w", err)
	}
	return clientID, secretKey, nil
}

// List returns a company's keys. Secret hashes are blanked so callers
// cannot leak them.
func (s *APIKeyService) List(ctx context.Context, companyID string) ([]*models.APIKey, error) {
	keys, err := s.store.ListAPIKeys(ctx, companyID)
	if err != nil {
		return nil, err
	}
	for _, k := range keys {
		k.SecretHash = ""
	}
	return keys, nil
}

// Delete removes a key owned by the company.
func (s *APIKeyService) Delete(ctx context.Context, companyID, keyID string) error {
	return s.store.DeleteAPIKey(ctx, companyID, keyID)
}

// Validate resolves a clientID to its owning companyID.
//
// With an empty secretKey it resolves identity only — this mode serves
// the public authorize preview and must never gate access to subject
// data. With a secretKey it verifies the bcrypt hash and fails closed
// on mismatch; the token-exchange and data-read paths always use this
// mode.
func (s *APIKeyService) Validate(ctx context.Context, clientID, secretKey string) (string, error) {
	key, err := s.store.GetAPIKeyByClientID(ctx, clientID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", protocolerr.NotFound("invalid client ID")
		}
		return "", err
	}
	if secretKey == "" {
		return key.CompanyID, nil
	}
	if !crypto.VerifySecretKey(secretKey, key.SecretHash) {
		return "", protocolerr.AuthenticationFailed("invalid secret key or client_id")
	}
	return key.CompanyID, nil
}
