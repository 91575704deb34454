package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/org/datavault/pkg/models"
)

// PostgresStore is a Store backed by PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore opens a pgxpool connection and returns a ready store.
func NewPostgresStore(ctx context.Context, connStr string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parsing postgres config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (p *PostgresStore) Close() {
	p.pool.Close()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// --- Users ---

func (p *PostgresStore) CreateUser(ctx context.Context, u *models.User) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO users (user_id, email, fullname, phone, password_hash, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		u.UserID, u.Email, u.Fullname, u.Phone, u.PasswordHash, u.CreatedAt,
	)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	return err
}

func (p *PostgresStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT user_id, email, fullname, phone, password_hash, created_at, last_login
		 FROM users WHERE email = $1`,
		email,
	)
	return scanUser(row)
}

func (p *PostgresStore) GetUserByID(ctx context.Context, userID string) (*models.User, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT user_id, email, fullname, phone, password_hash, created_at, last_login
		 FROM users WHERE user_id = $1`,
		userID,
	)
	return scanUser(row)
}

func scanUser(row pgx.Row) (*models.User, error) {
	var u models.User
	err := row.Scan(&u.UserID, &u.Email, &u.Fullname, &u.Phone, &u.PasswordHash, &u.CreatedAt, &u.LastLogin)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

func (p *PostgresStore) UpdateLastLogin(ctx context.Context, userID string, at time.Time) error {
	_, err := p.pool.Exec(ctx,
		`UPDATE users SET last_login = $2 WHERE user_id = $1`,
		userID, at,
	)
	return err
}

// --- Vault records ---

func (p *PostgresStore) CreateVaultRecord(ctx context.Context, rec *models.VaultRecord) error {
	docs, err := json.Marshal(emptyIfNil(rec.Documents))
	if err != nil {
		return err
	}
	personal, err := json.Marshal(emptyIfNil(rec.PersonalData))
	if err != nil {
		return err
	}
	_, err = p.pool.Exec(ctx,
		`INSERT INTO vault_records (user_id, documents, personal_data, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		rec.UserID, docs, personal, rec.CreatedAt, rec.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	return err
}

func (p *PostgresStore) GetVaultRecord(ctx context.Context, userID string) (*models.VaultRecord, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT user_id, documents, personal_data, created_at, updated_at
		 FROM vault_records WHERE user_id = $1`,
		userID,
	)
	var rec models.VaultRecord
	var docs, personal []byte
	err := row.Scan(&rec.UserID, &docs, &personal, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(docs, &rec.Documents); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(personal, &rec.PersonalData); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (p *PostgresStore) SetDocument(ctx context.Context, userID, documentType, locator string) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE vault_records
		 SET documents = documents || jsonb_build_object($2::text, $3::text), updated_at = NOW()
		 WHERE user_id = $1`,
		userID, documentType, locator,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) SetPersonalData(ctx context.Context, userID string, encrypted map[string]string) error {
	merged, err := json.Marshal(encrypted)
	if err != nil {
		return err
	}
	tag, err := p.pool.Exec(ctx,
		`UPDATE vault_records
		 SET personal_data = personal_data || $2::jsonb, updated_at = NOW()
		 WHERE user_id = $1`,
		userID, merged,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func emptyIfNil(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

// --- Companies ---

func (p *PostgresStore) CreateCompany(ctx context.Context, c *models.Company) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO companies (company_id, company_name, email, password_hash, status, redirect_uris, webhook_url, logo, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		c.CompanyID, c.CompanyName, c.Email, c.PasswordHash, string(c.Status),
		c.RedirectURIs, c.WebhookURL, c.Logo, c.CreatedAt, c.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	return err
}

func (p *PostgresStore) GetCompany(ctx context.Context, companyID string) (*models.Company, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT company_id, company_name, email, password_hash, status, redirect_uris, webhook_url, logo, created_at, updated_at
		 FROM companies WHERE company_id = $1`,
		companyID,
	)
	return scanCompany(row)
}

func (p *PostgresStore) GetCompanyByEmail(ctx context.Context, email string) (*models.Company, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT company_id, company_name, email, password_hash, status, redirect_uris, webhook_url, logo, created_at, updated_at
		 FROM companies WHERE email = $1`,
		email,
	)
	return scanCompany(row)
}

func scanCompany(row pgx.Row) (*models.Company, error) {
	var c models.Company
	var status string
	err := row.Scan(&c.CompanyID, &c.CompanyName, &c.Email, &c.PasswordHash, &status,
		&c.RedirectURIs, &c.WebhookURL, &c.Logo, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	c.Status = models.CompanyStatus(status)
	return &c, nil
}

func (p *PostgresStore) UpdateCompanyData(ctx context.Context, companyID string, upd CompanyUpdate) error {
	query := strings.Builder{}
	query.WriteString(`UPDATE companies SET updated_at = NOW()`)
	args := []any{companyID}
	n := 2
	if upd.CompanyName != nil {
		fmt.Fprintf(&query, `, company_name = $%d`, n)
		args = append(args, *upd.CompanyName)
		n++
	}
	if upd.Email != nil {
		fmt.Fprintf(&query, `, email = $%d`, n)
		args = append(args, *upd.Email)
		n++
	}
	if upd.RedirectURIs != nil {
		fmt.Fprintf(&query, `, redirect_uris = $%d`, n)
		args = append(args, upd.RedirectURIs)
		n++
	}
	if upd.WebhookURL != nil {
		fmt.Fprintf(&query, `, webhook_url = $%d`, n)
		args = append(args, *upd.WebhookURL)
		n++
	}
	if upd.Logo != nil {
		fmt.Fprintf(&query, `, logo = $%d`, n)
		args = append(args, *upd.Logo)
	}
	query.WriteString(` WHERE company_id = $1`)

	tag, err := p.pool.Exec(ctx, query.String(), args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- API keys ---

func (p *PostgresStore) CreateAPIKey(ctx context.Context, k *models.APIKey) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO api_keys (key_id, company_id, client_id, secret_hash, name, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		k.KeyID, k.CompanyID, k.ClientID, k.SecretHash, k.Name, k.CreatedAt, k.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	return err
}

func (p *PostgresStore) GetAPIKeyByClientID(ctx context.Context, clientID string) (*models.APIKey, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT key_id, company_id, client_id, secret_hash, name, created_at, updated_at
		 FROM api_keys WHERE client_id = $1`,
		clientID,
	)
	var k models.APIKey
	err := row.Scan(&k.KeyID, &k.CompanyID, &k.ClientID, &k.SecretHash, &k.Name, &k.CreatedAt, &k.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &k, nil
}

func (p *PostgresStore) ListAPIKeys(ctx context.Context, companyID string) ([]*models.APIKey, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT key_id, company_id, client_id, secret_hash, name, created_at, updated_at
		 FROM api_keys WHERE company_id = $1 ORDER BY created_at`,
		companyID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.KeyID, &k.CompanyID, &k.ClientID, &k.SecretHash, &k.Name, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, err
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

func (p *PostgresStore) DeleteAPIKey(ctx context.Context, companyID, keyID string) error {
	tag, err := p.pool.Exec(ctx,
		`DELETE FROM api_keys WHERE company_id = $1 AND key_id = $2`,
		companyID, keyID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) CountAPIKeys(ctx context.Context, companyID string) (int, error) {
	var count int
	err := p.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM api_keys WHERE company_id = $1`,
		companyID,
	).Scan(&count)
	return count, err
}

// --- Authorization requests ---

func (p *PostgresStore) CreateAuthorizationRequest(ctx context.Context, r *models.AuthorizationRequest) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO authorization_requests
		 (request_id, company_id, company_name, user_id, requested_data, purpose, duration_days,
		  redirect_uri, state, status, access_code, expiry, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		r.RequestID, r.CompanyID, r.CompanyName, r.UserID, r.RequestedData, r.Purpose, r.Duration,
		r.RedirectURI, r.State, string(r.Status), r.AccessCode, r.Expiry, r.CreatedAt,
	)
	return err
}

func (p *PostgresStore) ConsumePendingRequest(ctx context.Context, accessCode, companyID string, decidedAt time.Time) (*models.AuthorizationRequest, error) {
	// Single conditional update: the status predicate plus the flip make
	// the access code single-use even under concurrent exchanges.
	row := p.pool.QueryRow(ctx,
		`UPDATE authorization_requests
		 SET status = 'approved', decided_at = $3
		 WHERE access_code = $1 AND company_id = $2 AND status = 'pending'
		 RETURNING request_id, company_id, company_name, user_id, requested_data, purpose,
		           duration_days, redirect_uri, state, status, access_code, expiry, created_at, decided_at`,
		accessCode, companyID, decidedAt,
	)
	var r models.AuthorizationRequest
	var status string
	err := row.Scan(&r.RequestID, &r.CompanyID, &r.CompanyName, &r.UserID, &r.RequestedData, &r.Purpose,
		&r.Duration, &r.RedirectURI, &r.State, &status, &r.AccessCode, &r.Expiry, &r.CreatedAt, &r.DecidedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	r.Status = models.RequestStatus(status)
	return &r, nil
}

func (p *PostgresStore) GetAuthorizationRequestByCode(ctx context.Context, accessCode string) (*models.AuthorizationRequest, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT request_id, company_id, company_name, user_id, requested_data, purpose,
		        duration_days, redirect_uri, state, status, access_code, expiry, created_at, decided_at
		 FROM authorization_requests WHERE access_code = $1`,
		accessCode,
	)
	var r models.AuthorizationRequest
	var status string
	err := row.Scan(&r.RequestID, &r.CompanyID, &r.CompanyName, &r.UserID, &r.RequestedData, &r.Purpose,
		&r.Duration, &r.RedirectURI, &r.State, &status, &r.AccessCode, &r.Expiry, &r.CreatedAt, &r.DecidedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	r.Status = models.RequestStatus(status)
	return &r, nil
}

func (p *PostgresStore) DeleteAuthorizationRequest(ctx context.Context, requestID string) error {
	_, err := p.pool.Exec(ctx,
		`DELETE FROM authorization_requests WHERE request_id = $1`,
		requestID,
	)
	return err
}

// --- Access tokens ---

func (p *PostgresStore) CreateAccessToken(ctx context.Context, t *models.AccessToken) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO access_tokens
		 (token_id, token, user_id, company_id, company_name, requested_data, granted_at, expires_at, status, access_count)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		t.TokenID, t.Token, t.UserID, t.CompanyID, t.CompanyName, t.RequestedData,
		t.GrantedAt, t.ExpiresAt, string(t.Status), t.AccessCount,
	)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	return err
}

const accessTokenColumns = `token_id, token, user_id, company_id, company_name, requested_data,
	granted_at, expires_at, status, access_count, last_accessed_at, revoked_at`

func (p *PostgresStore) GetAccessToken(ctx context.Context, bearer string) (*models.AccessToken, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT `+accessTokenColumns+` FROM access_tokens WHERE token = $1`,
		bearer,
	)
	return scanAccessToken(row)
}

func (p *PostgresStore) GetAccessTokenByID(ctx context.Context, tokenID, userID string) (*models.AccessToken, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT `+accessTokenColumns+` FROM access_tokens WHERE token_id = $1 AND user_id = $2`,
		tokenID, userID,
	)
	return scanAccessToken(row)
}

func scanAccessToken(row pgx.Row) (*models.AccessToken, error) {
	var t models.AccessToken
	var status string
	err := row.Scan(&t.TokenID, &t.Token, &t.UserID, &t.CompanyID, &t.CompanyName, &t.RequestedData,
		&t.GrantedAt, &t.ExpiresAt, &status, &t.AccessCount, &t.LastAccessedAt, &t.RevokedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	t.Status = models.TokenStatus(status)
	return &t, nil
}

func (p *PostgresStore) ListActiveTokens(ctx context.Context, userID string) ([]*models.AccessToken, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT `+accessTokenColumns+`
		 FROM access_tokens
		 WHERE user_id = $1 AND status = 'active' AND expires_at > NOW()
		 ORDER BY granted_at DESC`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var tokens []*models.AccessToken
	for rows.Next() {
		t, err := scanAccessToken(rows)
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, t)
	}
	return tokens, rows.Err()
}

func (p *PostgresStore) RevokeAccessToken(ctx context.Context, tokenID, userID string, revokedAt time.Time) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE access_tokens
		 SET status = 'revoked', revoked_at = $3
		 WHERE token_id = $1 AND user_id = $2 AND status = 'active'`,
		tokenID, userID, revokedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) TouchAccessToken(ctx context.Context, tokenID string, at time.Time) error {
	_, err := p.pool.Exec(ctx,
		`UPDATE access_tokens
		 SET access_count = access_count + 1, last_accessed_at = $2
		 WHERE token_id = $1`,
		tokenID, at,
	)
	return err
}

// --- Access logs ---

func (p *PostgresStore) AppendAccessLog(ctx context.Context, e *models.AccessLog) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO access_logs (log_id, company_id, company_name, user_id, action, data_accessed, description, timestamp)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.LogID, e.CompanyID, e.CompanyName, e.UserID, string(e.Action), e.DataAccessed, e.Description, e.Timestamp,
	)
	return err
}

func (p *PostgresStore) ListAccessLogs(ctx context.Context, userID string, limit int) ([]*models.AccessLog, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := p.pool.Query(ctx,
		`SELECT log_id, company_id, company_name, user_id, action, data_accessed, description, timestamp
		 FROM access_logs WHERE user_id = $1
		 ORDER BY timestamp DESC LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []*models.AccessLog
	for rows.Next() {
		var e models.AccessLog
		var action string
		if err := rows.Scan(&e.LogID, &e.CompanyID, &e.CompanyName, &e.UserID, &action, &e.DataAccessed, &e.Description, &e.Timestamp); err != nil {
			return nil, err
		}
		e.Action = models.AccessAction(action)
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// --- Metrics ---

func (p *PostgresStore) CountActiveTokens(ctx context.Context) (int64, error) {
	var count int64
	err := p.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM access_tokens WHERE status = 'active' AND expires_at > NOW()`,
	).Scan(&count)
	return count, err
}

func (p *PostgresStore) CountPendingRequests(ctx context.Context) (int64, error) {
	var count int64
	err := p.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM authorization_requests WHERE status = 'pending' AND expiry > NOW()`,
	).Scan(&count)
	return count, err
}
