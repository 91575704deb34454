package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/org/datavault/pkg/models"
)

// MemoryStore is an in-process Store used by dev mode and tests. It
// honors the same conditional-update contracts as PostgresStore: the
// pending-request and token transitions happen under one lock, so
// concurrent callers race exactly as they would against the database.
type MemoryStore struct {
	mu           sync.Mutex
	users        map[string]*models.User // by userID
	vaults       map[string]*models.VaultRecord
	companies    map[string]*models.Company
	apiKeys      map[string]*models.APIKey // by keyID
	authRequests map[string]*models.AuthorizationRequest
	tokens       map[string]*models.AccessToken // by tokenID
	logs         []*models.AccessLog
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:        map[string]*models.User{},
		vaults:       map[string]*models.VaultRecord{},
		companies:    map[string]*models.Company{},
		apiKeys:      map[string]*models.APIKey{},
		authRequests: map[string]*models.AuthorizationRequest{},
		tokens:       map[string]*models.AccessToken{},
	}
}

func (m *MemoryStore) CreateUser(ctx context.Context, user *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == user.Email {
			return ErrAlreadyExists
		}
	}
	cp := *user
	m.users[user.UserID] = &cp
	return nil
}

func (m *MemoryStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) GetUserByID(ctx context.Context, userID string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *MemoryStore) UpdateLastLogin(ctx context.Context, userID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.LastLogin = &at
	return nil
}

func (m *MemoryStore) CreateVaultRecord(ctx context.Context, rec *models.VaultRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.vaults[rec.UserID]; ok {
		return ErrAlreadyExists
	}
	cp := *rec
	cp.Documents = copyMap(rec.Documents)
	cp.PersonalData = copyMap(rec.PersonalData)
	m.vaults[rec.UserID] = &cp
	return nil
}

func (m *MemoryStore) GetVaultRecord(ctx context.Context, userID string) (*models.VaultRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.vaults[userID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	cp.Documents = copyMap(rec.Documents)
	cp.PersonalData = copyMap(rec.PersonalData)
	return &cp, nil
}

func (m *MemoryStore) SetDocument(ctx context.Context, userID, documentType, locator string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.vaults[userID]
	if !ok {
		return ErrNotFound
	}
	if rec.Documents == nil {
		rec.Documents = map[string]string{}
	}
	rec.Documents[documentType] = locator
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryStore) SetPersonalData(ctx context.Context, userID string, encrypted map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.vaults[userID]
	if !ok {
		return ErrNotFound
	}
	if rec.PersonalData == nil {
		rec.PersonalData = map[string]string{}
	}
	for k, v := range encrypted {
		rec.PersonalData[k] = v
	}
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryStore) CreateCompany(ctx context.Context, company *models.Company) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.companies {
		if c.Email == company.Email {
			return ErrAlreadyExists
		}
	}
	cp := *company
	cp.RedirectURIs = append([]string(nil), company.RedirectURIs...)
	m.companies[company.CompanyID] = &cp
	return nil
}

func (m *MemoryStore) GetCompany(ctx context.Context, companyID string) (*models.Company, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.companies[companyID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	cp.RedirectURIs = append([]string(nil), c.RedirectURIs...)
	return &cp, nil
}

func (m *MemoryStore) GetCompanyByEmail(ctx context.Context, email string) (*models.Company, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.companies {
		if c.Email == email {
			cp := *c
			cp.RedirectURIs = append([]string(nil), c.RedirectURIs...)
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) UpdateCompanyData(ctx context.Context, companyID string, upd CompanyUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.companies[companyID]
	if !ok {
		return ErrNotFound
	}
	if upd.CompanyName != nil {
		c.CompanyName = *upd.CompanyName
	}
	if upd.Email != nil {
		c.Email = *upd.Email
	}
	if upd.RedirectURIs != nil {
		c.RedirectURIs = append([]string(nil), upd.RedirectURIs...)
	}
	if upd.WebhookURL != nil {
		c.WebhookURL = *upd.WebhookURL
	}
	if upd.Logo != nil {
		c.Logo = *upd.Logo
	}
	return nil
}

func (m *MemoryStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range m.apiKeys {
		if k.ClientID == key.ClientID {
			return ErrAlreadyExists
		}
	}
	cp := *key
	m.apiKeys[key.KeyID] = &cp
	return nil
}

func (m *MemoryStore) GetAPIKeyByClientID(ctx context.Context, clientID string) (*models.APIKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range m.apiKeys {
		if k.ClientID == clientID {
			cp := *k
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) ListAPIKeys(ctx context.Context, companyID string) ([]*models.APIKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.APIKey
	for _, k := range m.apiKeys {
		if k.CompanyID == companyID {
			cp := *k
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) DeleteAPIKey(ctx context.Context, companyID, keyID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.apiKeys[keyID]
	if !ok || k.CompanyID != companyID {
		return ErrNotFound
	}
	delete(m.apiKeys, keyID)
	return nil
}

func (m *MemoryStore) CountAPIKeys(ctx context.Context, companyID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, k := range m.apiKeys {
		if k.CompanyID == companyID {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) CreateAuthorizationRequest(ctx context.Context, req *models.AuthorizationRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.authRequests {
		if r.AccessCode == req.AccessCode {
			return ErrAlreadyExists
		}
	}
	cp := *req
	cp.RequestedData = append([]string(nil), req.RequestedData...)
	m.authRequests[req.RequestID] = &cp
	return nil
}

func (m *MemoryStore) ConsumePendingRequest(ctx context.Context, accessCode, companyID string, decidedAt time.Time) (*models.AuthorizationRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.authRequests {
		if r.AccessCode == accessCode && r.CompanyID == companyID && r.Status == models.RequestPending {
			r.Status = models.RequestApproved
			r.DecidedAt = &decidedAt
			cp := *r
			cp.RequestedData = append([]string(nil), r.RequestedData...)
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) GetAuthorizationRequestByCode(ctx context.Context, accessCode string) (*models.AuthorizationRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.authRequests {
		if r.AccessCode == accessCode {
			cp := *r
			cp.RequestedData = append([]string(nil), r.RequestedData...)
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) DeleteAuthorizationRequest(ctx context.Context, requestID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.authRequests[requestID]; !ok {
		return ErrNotFound
	}
	delete(m.authRequests, requestID)
	return nil
}

func (m *MemoryStore) CreateAccessToken(ctx context.Context, token *models.AccessToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tokens {
		if t.Token == token.Token {
			return ErrAlreadyExists
		}
	}
	cp := *token
	cp.RequestedData = append([]string(nil), token.RequestedData...)
	m.tokens[token.TokenID] = &cp
	return nil
}

func (m *MemoryStore) GetAccessToken(ctx context.Context, bearer string) (*models.AccessToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tokens {
		if t.Token == bearer {
			cp := *t
			cp.RequestedData = append([]string(nil), t.RequestedData...)
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) GetAccessTokenByID(ctx context.Context, tokenID, userID string) (*models.AccessToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[tokenID]
	if !ok || t.UserID != userID {
		return nil, ErrNotFound
	}
	cp := *t
	cp.RequestedData = append([]string(nil), t.RequestedData...)
	return &cp, nil
}

func (m *MemoryStore) ListActiveTokens(ctx context.Context, userID string) ([]*models.AccessToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	var out []*models.AccessToken
	for _, t := range m.tokens {
		if t.UserID == userID && t.Status == models.TokenActive && t.ExpiresAt.After(now) {
			cp := *t
			cp.RequestedData = append([]string(nil), t.RequestedData...)
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GrantedAt.After(out[j].GrantedAt) })
	return out, nil
}

func (m *MemoryStore) RevokeAccessToken(ctx context.Context, tokenID, userID string, revokedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[tokenID]
	if !ok || t.UserID != userID || t.Status != models.TokenActive {
		return ErrNotFound
	}
	t.Status = models.TokenRevoked
	t.RevokedAt = &revokedAt
	return nil
}

func (m *MemoryStore) TouchAccessToken(ctx context.Context, tokenID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[tokenID]
	if !ok {
		return ErrNotFound
	}
	t.AccessCount++
	t.LastAccessedAt = &at
	return nil
}

func (m *MemoryStore) AppendAccessLog(ctx context.Context, entry *models.AccessLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *entry
	cp.DataAccessed = append([]string(nil), entry.DataAccessed...)
	m.logs = append(m.logs, &cp)
	return nil
}

func (m *MemoryStore) ListAccessLogs(ctx context.Context, userID string, limit int) ([]*models.AccessLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.AccessLog
	for i := len(m.logs) - 1; i >= 0; i-- {
		if m.logs[i].UserID != userID {
			continue
		}
		cp := *m.logs[i]
		out = append(out, &cp)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryStore) CountActiveTokens(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	now := time.Now()
	for _, t := range m.tokens {
		if t.Status == models.TokenActive && t.ExpiresAt.After(now) {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) CountPendingRequests(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, r := range m.authRequests {
		if r.Status == models.RequestPending {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) Close() {}

func copyMap(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
