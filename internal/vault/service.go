// Package vault implements the subject's encrypted vault: writes of
// documents and personal-data fields, the scoped data reader used by
// companies, and token revocation.
package vault

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/org/datavault/internal/audit"
	"github.com/org/datavault/internal/blob"
	"github.com/org/datavault/internal/crypto"
	"github.com/org/datavault/internal/notify"
	"github.com/org/datavault/internal/protocolerr"
	"github.com/org/datavault/internal/storage"
	"github.com/org/datavault/pkg/models"
	"github.com/rs/zerolog/log"
)

// Service orchestrates vault reads and writes over the injected
// storage, crypto, blob, and notification collaborators.
type Service struct {
	store    storage.Store
	env      *crypto.Envelope
	blobs    blob.Store
	auditor  *audit.Logger
	notifier *notify.Dispatcher
}

// NewService creates a vault Service.
func NewService(store storage.Store, env *crypto.Envelope, blobs blob.Store, auditor *audit.Logger, notifier *notify.Dispatcher) *Service {
	return &Service{store: store, env: env, blobs: blobs, auditor: auditor, notifier: notifier}
}

// --- Writes (subject-facing) ---

// UploadDocument encrypts a document blob, stores it, and records its
// locator in the subject's vault.
func (s *Service) UploadDocument(ctx context.Context, userID, documentType, filename string, data []byte) error {
	if !IsDocumentType(documentType) {
		return protocolerr.ValidationFailed(fmt.Sprintf("unknown document type %q", documentType))
	}
	sealed, err := s.env.EncryptBuffer(data)
	if err != nil {
		return fmt.Errorf("encrypting document: %w", err)
	}

	locator := documentLocator(userID, documentType, filename)
	if err := s.blobs.Put(ctx, locator, sealed); err != nil {
		return fmt.Errorf("storing document blob: %w", err)
	}
	if err := s.store.SetDocument(ctx, userID, documentType, locator); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return protocolerr.NotFound("vault record not found")
		}
		return err
	}
	return nil
}

func documentLocator(userID, documentType, filename string) string {
	suffix := userID
	if len(suffix) > 6 {
		suffix = suffix[len(suffix)-6:]
	}
	return fmt.Sprintf("vault/%s/%s-%s", suffix, documentType, filename)
}

// SavePersonalData encrypts each provided field with the string
// envelope and merges it into the subject's vault. Unknown field names
// are rejected before anything is written.
func (s *Service) SavePersonalData(ctx context.Context, userID string, fields map[string]string) error {
	if len(fields) == 0 {
		return protocolerr.ValidationFailed("no personal data fields provided")
	}
	encrypted := make(map[string]string, len(fields))
	for name, value := range fields {
		if !IsPersonalField(name) {
			return protocolerr.ValidationFailed(fmt.Sprintf("unknown personal data field %q", name))
		}
		if value == "" {
			continue
		}
		ct, err := s.env.Encrypt(value)
		if err != nil {
			return fmt.Errorf("encrypting %s: %w", name, err)
		}
		encrypted[name] = ct
	}
	if len(encrypted) == 0 {
		return protocolerr.ValidationFailed("no personal data fields provided")
	}
	if err := s.store.SetPersonalData(ctx, userID, encrypted); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return protocolerr.NotFound("vault record not found")
		}
		return err
	}
	return nil
}

// --- Scoped data reader (company-facing) ---

// ReadResult is the outcome of a scoped read. FieldErrors carries
// per-field decode failures that did not abort the read.
type ReadResult struct {
	Data        map[string]any
	FieldErrors map[string]string
	AccessedAt  time.Time
}

// Read returns exactly the fields in the token's frozen scope. The
// caller has already proven company identity; the token must belong to
// that company, be active, and be within its expiry window. Expiry is
// checked lazily against the clock, never trusted from the stored
// status field.
func (s *Service) Read(ctx context.Context, bearer, companyID string) (*ReadResult, error) {
	token, err := s.store.GetAccessToken(ctx, bearer)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, protocolerr.AuthenticationFailed("invalid, expired, or revoked access token")
		}
		return nil, err
	}
	if token.CompanyID != companyID || !token.IsUsable() {
		return nil, protocolerr.AuthenticationFailed("invalid, expired, or revoked access token")
	}

	user, err := s.store.GetUserByID(ctx, token.UserID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, protocolerr.NotFound("user not found")
		}
		return nil, err
	}
	rec, err := s.store.GetVaultRecord(ctx, token.UserID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, protocolerr.NotFound("user vault not found")
		}
		return nil, err
	}

	result := &ReadResult{
		Data:        map[string]any{},
		FieldErrors: map[string]string{},
		AccessedAt:  time.Now().UTC(),
	}
	for _, name := range token.RequestedData {
		field, ok := LookupField(name)
		if !ok {
			// Scope was validated at request creation; an unknown name
			// here is advisory and skipped, never an error.
			continue
		}
		switch field.Category {
		case CategoryIdentity:
			switch field.Name {
			case "fullname":
				result.Data[name] = user.Fullname
			case "email":
				result.Data[name] = user.Email
			case "phone":
				result.Data[name] = user.Phone
			}
		case CategoryDocument:
			locator, ok := rec.Documents[name]
			if !ok || locator == "" {
				continue // requested but never provided
			}
			payload, err := s.blobs.Get(ctx, locator)
			if err != nil {
				log.Error().Err(err).Str("locator", locator).Msg("document blob fetch failed")
				result.FieldErrors[name] = "unavailable"
				continue
			}
			// Pass-through: the blob is already buffer-envelope
			// encrypted, no re-encryption on the read path.
			result.Data[name] = base64.StdEncoding.EncodeToString(payload)
		case CategoryPersonal:
			ct, ok := rec.PersonalData[name]
			if !ok || ct == "" {
				continue
			}
			value, err := s.env.Decrypt(ct)
			if err != nil {
				// Per-field isolation: one undecryptable field does not
				// abort the whole scoped read.
				log.Error().Err(err).Str("field", name).Msg("personal data decryption failed")
				result.FieldErrors[name] = "decryption_failed"
				continue
			}
			result.Data[name] = value
		}
	}

	// Side effects are best-effort; only the payload is on the caller's
	// critical path.
	if err := s.store.TouchAccessToken(ctx, token.TokenID, result.AccessedAt); err != nil {
		log.Error().Err(err).Str("token_id", token.TokenID).Msg("failed to update access counter")
	}
	s.auditor.Record(ctx, &models.AccessLog{
		CompanyID:    token.CompanyID,
		CompanyName:  token.CompanyName,
		UserID:       token.UserID,
		Action:       models.ActionRead,
		DataAccessed: token.RequestedData,
		Description:  fmt.Sprintf("%s accessed %s", token.CompanyName, strings.Join(token.RequestedData, ", ")),
	})
	s.notifier.NotifyDataAccess(notify.Recipient{
		Email:    user.Email,
		Phone:    user.Phone,
		Fullname: user.Fullname,
	}, token.CompanyName, token.RequestedData)

	return result, nil
}

// --- Revocation (subject-facing) ---

// Revoke flips an active token to revoked. Only the owning subject may
// revoke, and revocation is authoritative the instant the status flips;
// webhook delivery failure never rolls it back.
func (s *Service) Revoke(ctx context.Context, tokenID, userID string) error {
	token, err := s.store.GetAccessTokenByID(ctx, tokenID, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return protocolerr.NotFound("token not found or not associated with this user")
		}
		return err
	}
	if token.Status != models.TokenActive {
		return protocolerr.ValidationFailed("token is already expired or revoked")
	}

	if err := s.store.RevokeAccessToken(ctx, tokenID, userID, time.Now().UTC()); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			// Lost the race with a concurrent revocation.
			return protocolerr.ValidationFailed("token is already expired or revoked")
		}
		return err
	}

	s.auditor.Record(ctx, &models.AccessLog{
		CompanyID:   token.CompanyID,
		CompanyName: token.CompanyName,
		UserID:      userID,
		Action:      models.ActionTokenRevoked,
		Description: fmt.Sprintf("User revoked %s's access", token.CompanyName),
	})

	company, err := s.store.GetCompany(ctx, token.CompanyID)
	if err != nil {
		log.Error().Err(err).Str("company_id", token.CompanyID).Msg("webhook skipped: company lookup failed")
		return nil
	}
	s.notifier.NotifyRevocation(company.WebhookURL, company.CompanyID, token.Token)
	return nil
}

// --- Subject dashboard reads ---

// Overview is the subject's own view of their vault. Sensitive numbers
// are masked; documents are reported by presence only.
type Overview struct {
	Fullname     string
	Email        string
	Phone        string
	Documents    map[string]bool
	PersonalData map[string]string
}

// GetOverview decrypts the subject's personal data for their dashboard,
// masking bvn/nin to the last four digits.
func (s *Service) GetOverview(ctx context.Context, userID string) (*Overview, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, protocolerr.NotFound("user not found")
		}
		return nil, err
	}
	rec, err := s.store.GetVaultRecord(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, protocolerr.NotFound("user vault not found")
		}
		return nil, err
	}

	ov := &Overview{
		Fullname:     user.Fullname,
		Email:        user.Email,
		Phone:        user.Phone,
		Documents:    map[string]bool{},
		PersonalData: map[string]string{},
	}
	for docType, locator := range rec.Documents {
		if locator != "" {
			ov.Documents[docType] = true
		}
	}
	for name, ct := range rec.PersonalData {
		value, err := s.env.Decrypt(ct)
		if err != nil {
			ov.PersonalData[name] = "[Encrypted]"
			continue
		}
		if name == "bvn" || name == "nin" {
			value = mask(value)
		}
		ov.PersonalData[name] = value
	}
	return ov, nil
}

func mask(value string) string {
	if len(value) <= 4 {
		return "***" + value
	}
	return "***" + value[len(value)-4:]
}

// ActiveGrant is one active token in the subject's dashboard.
type ActiveGrant struct {
	TokenID        string
	CompanyName    string
	RequestedData  []string
	GrantedAt      time.Time
	ExpiresAt      time.Time
	DaysLeft       int
	AccessCount    int64
	LastAccessedAt *time.Time
	TokenPreview   string
}

// ListActiveAccess returns the subject's currently active grants. The
// bearer secret is truncated for display.
func (s *Service) ListActiveAccess(ctx context.Context, userID string) ([]ActiveGrant, error) {
	tokens, err := s.store.ListActiveTokens(ctx, userID)
	if err != nil {
		return nil, err
	}
	grants := make([]ActiveGrant, 0, len(tokens))
	for _, t := range tokens {
		daysLeft := int(time.Until(t.ExpiresAt).Hours()/24) + 1
		preview := t.Token
		if len(preview) > 10 {
			preview = preview[:10] + "..."
		}
		grants = append(grants, ActiveGrant{
			TokenID:        t.TokenID,
			CompanyName:    t.CompanyName,
			RequestedData:  t.RequestedData,
			GrantedAt:      t.GrantedAt,
			ExpiresAt:      t.ExpiresAt,
			DaysLeft:       daysLeft,
			AccessCount:    t.AccessCount,
			LastAccessedAt: t.LastAccessedAt,
			TokenPreview:   preview,
		})
	}
	return grants, nil
}
