// Package consent implements the authorization-code flow: the public
// preview of a company's request, the subject's consent grant, and the
// exchange of the resulting single-use code for a scoped access token.
package consent

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/org/datavault/internal/audit"
	"github.com/org/datavault/internal/auth"
	"github.com/org/datavault/internal/crypto"
	"github.com/org/datavault/internal/notify"
	"github.com/org/datavault/internal/protocolerr"
	"github.com/org/datavault/internal/storage"
	"github.com/org/datavault/internal/vault"
	"github.com/org/datavault/pkg/models"
)

// accessCodeTTL is the window between consent and exchange.
const accessCodeTTL = 5 * time.Minute

const (
	minDurationDays = 1
	maxDurationDays = 365
)

// Service runs the consent protocol.
type Service struct {
	store    storage.Store
	keys     *auth.APIKeyService
	auditor  *audit.Logger
	notifier *notify.Dispatcher
}

// NewService creates a consent Service.
func NewService(store storage.Store, keys *auth.APIKeyService, auditor *audit.Logger, notifier *notify.Dispatcher) *Service {
	return &Service{store: store, keys: keys, auditor: auditor, notifier: notifier}
}

// Preview is what the consent screen shows about the requesting company.
type Preview struct {
	CompanyID   string
	CompanyName string
	Logo        string
}

// PreviewRequest resolves a clientID to the company behind it, for
// rendering the consent screen. No secret is required and nothing is
// recorded. The redirectURI is checked against the company's whitelist
// up front so the subject never sees a consent screen for a flow the
// company cannot complete.
func (s *Service) PreviewRequest(ctx context.Context, clientID, redirectURI string) (*Preview, error) {
	company, err := s.resolveActiveCompany(ctx, clientID)
	if err != nil {
		return nil, err
	}
	if err := s.checkRedirect(company, redirectURI); err != nil {
		return nil, err
	}
	return &Preview{
		CompanyID:   company.CompanyID,
		CompanyName: company.CompanyName,
		Logo:        company.Logo,
	}, nil
}

// GrantInput is a subject's approval of a company's data request.
type GrantInput struct {
	ClientID      string
	UserID        string
	RequestedData []string
	Purpose       string
	Duration      int // days
	RedirectURI   string
	State         string
}

// Grant records the subject's consent as a pending authorization
// request and returns the redirect URL carrying the single-use access
// code. The code expires five minutes after issuance.
func (s *Service) Grant(ctx context.Context, in GrantInput) (string, error) {
	company, err := s.resolveActiveCompany(ctx, in.ClientID)
	if err != nil {
		return "", err
	}
	if err := s.checkRedirect(company, in.RedirectURI); err != nil {
		return "", err
	}
	if in.Duration < minDurationDays || in.Duration > maxDurationDays {
		return "", protocolerr.ValidationFailed(fmt.Sprintf("duration must be between %d and %d days", minDurationDays, maxDurationDays))
	}
	fields, unknown := vault.ParseFields(in.RequestedData)
	if len(unknown) > 0 {
		return "", protocolerr.ValidationFailed("unknown data fields: " + strings.Join(unknown, ", "))
	}
	if len(fields) == 0 {
		return "", protocolerr.ValidationFailed("at least one data field must be requested")
	}
	if _, err := s.store.GetUserByID(ctx, in.UserID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", protocolerr.NotFound("user not found")
		}
		return "", err
	}

	code, err := crypto.GenerateAccessCode()
	if err != nil {
		return "", err
	}
	now := time.Now().UTC()
	req := &models.AuthorizationRequest{
		RequestID:     uuid.NewString(),
		CompanyID:     company.CompanyID,
		CompanyName:   company.CompanyName,
		UserID:        in.UserID,
		RequestedData: in.RequestedData,
		Purpose:       in.Purpose,
		Duration:      in.Duration,
		RedirectURI:   in.RedirectURI,
		State:         in.State,
		Status:        models.RequestPending,
		AccessCode:    code,
		Expiry:        now.Add(accessCodeTTL),
		CreatedAt:     now,
	}
	if err := s.store.CreateAuthorizationRequest(ctx, req); err != nil {
		return "", fmt.Errorf("persisting authorization request: %w", err)
	}

	redirect, _ := url.Parse(in.RedirectURI) // already validated
	q := redirect.Query()
	q.Set("code", code)
	if in.State != "" {
		q.Set("state", in.State)
	}
	redirect.RawQuery = q.Encode()
	return redirect.String(), nil
}

// RecordDenial logs that the subject refused a company's request. The
// company is never called back; it learns of the denial only by the
// subject leaving the flow.
func (s *Service) RecordDenial(ctx context.Context, userID, clientID string) error {
	company, err := s.resolveActiveCompany(ctx, clientID)
	if err != nil {
		return err
	}
	s.auditor.Record(ctx, &models.AccessLog{
		CompanyID:   company.CompanyID,
		CompanyName: company.CompanyName,
		UserID:      userID,
		Action:      models.ActionRequestDenied,
		Description: fmt.Sprintf("User denied %s's data request", company.CompanyName),
	})
	return nil
}

// Exchange trades a single-use access code for a scoped access token.
// The caller must present its secret key; the code must still be
// pending, belong to this company, and be inside its five-minute
// window. Exactly one of N concurrent exchanges for the same code can
// succeed.
func (s *Service) Exchange(ctx context.Context, clientID, secretKey, accessCode string) (*models.AccessToken, error) {
	if secretKey == "" {
		return nil, protocolerr.AuthenticationFailed("secret key is required")
	}
	companyID, err := s.keys.Validate(ctx, clientID, secretKey)
	if err != nil {
		return nil, err
	}
	if accessCode == "" {
		return nil, protocolerr.ValidationFailed("access code is required")
	}

	now := time.Now().UTC()
	req, err := s.store.ConsumePendingRequest(ctx, accessCode, companyID, now)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, s.classifyConsumeMiss(ctx, accessCode, companyID)
		}
		return nil, err
	}
	if req.IsExpired() {
		// The row was consumed past its window; remove it so the code
		// cannot linger in an approved state it never earned.
		if derr := s.store.DeleteAuthorizationRequest(ctx, req.RequestID); derr != nil {
			return nil, derr
		}
		return nil, protocolerr.Expired("access code has expired")
	}

	user, err := s.store.GetUserByID(ctx, req.UserID)
	if err != nil {
		return nil, err
	}

	bearer, err := crypto.GenerateToken()
	if err != nil {
		return nil, err
	}
	token := &models.AccessToken{
		TokenID:       uuid.NewString(),
		Token:         bearer,
		UserID:        req.UserID,
		CompanyID:     req.CompanyID,
		CompanyName:   req.CompanyName,
		RequestedData: append([]string(nil), req.RequestedData...),
		GrantedAt:     now,
		ExpiresAt:     now.AddDate(0, 0, req.Duration),
		Status:        models.TokenActive,
	}
	if err := s.store.CreateAccessToken(ctx, token); err != nil {
		return nil, fmt.Errorf("persisting access token: %w", err)
	}

	s.auditor.Record(ctx, &models.AccessLog{
		CompanyID:    req.CompanyID,
		CompanyName:  req.CompanyName,
		UserID:       req.UserID,
		Action:       models.ActionRequestApproved,
		DataAccessed: req.RequestedData,
		Description:  fmt.Sprintf("User approved %s's access to %s", req.CompanyName, strings.Join(req.RequestedData, ", ")),
	})
	s.notifier.NotifyAccessApproved(notify.Recipient{
		Email:    user.Email,
		Phone:    user.Phone,
		Fullname: user.Fullname,
	}, req.CompanyName, req.RequestedData)

	return token, nil
}

// classifyConsumeMiss turns a failed consume into the right protocol
// error without leaking other companies' codes.
func (s *Service) classifyConsumeMiss(ctx context.Context, accessCode, companyID string) error {
	req, err := s.store.GetAuthorizationRequestByCode(ctx, accessCode)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return protocolerr.NotFound("invalid access code")
		}
		return err
	}
	if req.CompanyID != companyID {
		return protocolerr.NotFound("invalid access code")
	}
	return protocolerr.AlreadyConsumed("access code has already been used")
}

func (s *Service) resolveActiveCompany(ctx context.Context, clientID string) (*models.Company, error) {
	companyID, err := s.keys.Validate(ctx, clientID, "")
	if err != nil {
		return nil, err
	}
	company, err := s.store.GetCompany(ctx, companyID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, protocolerr.NotFound("company not found")
		}
		return nil, err
	}
	if !company.IsActive() {
		return nil, protocolerr.AuthenticationFailed("company account is not active")
	}
	return company, nil
}

func (s *Service) checkRedirect(company *models.Company, redirectURI string) error {
	u, err := url.Parse(redirectURI)
	if err != nil || u.Host == "" {
		return protocolerr.InvalidRedirect("redirect URI is not a valid absolute URL")
	}
	if u.Scheme != "https" && !isLoopback(u.Hostname()) {
		return protocolerr.InvalidRedirect("redirect URI must use https")
	}
	if !company.HasRedirectURI(redirectURI) {
		return protocolerr.InvalidRedirect("redirect URI is not registered for this company")
	}
	return nil
}

func isLoopback(host string) bool {
	return host == "localhost" || host == "127.0.0.1" || host == "::1"
}
