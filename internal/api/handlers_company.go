package api

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/org/datavault/internal/auth"
	"github.com/org/datavault/internal/storage"
	"github.com/org/datavault/pkg/models"
)

func validateRedirectURIs(uris []string) (string, bool) {
	for _, raw := range uris {
		u, err := url.Parse(raw)
		if err != nil || u.Host == "" {
			return raw, false
		}
		if u.Scheme != "https" && u.Hostname() != "localhost" && u.Hostname() != "127.0.0.1" {
			return raw, false
		}
	}
	return "", true
}

// CompanyRegisterHandler handles POST /v1/company/register
func (s *Server) CompanyRegisterHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CompanyName  string   `json:"company_name"`
		Email        string   `json:"email"`
		Password     string   `json:"password"`
		RedirectURIs []string `json:"redirect_uris"`
		WebhookURL   string   `json:"webhook_url"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeErrorMsg(w, http.StatusBadRequest, "VALIDATION_FAILED", "invalid request body")
		return
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if strings.TrimSpace(req.CompanyName) == "" || req.Email == "" {
		writeErrorMsg(w, http.StatusBadRequest, "VALIDATION_FAILED", "company_name and email are required")
		return
	}
	if len(req.Password) < 8 {
		writeErrorMsg(w, http.StatusBadRequest, "VALIDATION_FAILED", "password must be at least 8 characters")
		return
	}
	if bad, ok := validateRedirectURIs(req.RedirectURIs); !ok {
		writeErrorMsg(w, http.StatusBadRequest, "INVALID_REDIRECT", "redirect URI must be an absolute https URL: "+bad)
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		writeError(w, err)
		return
	}
	now := time.Now().UTC()
	company := &models.Company{
		CompanyID:    uuid.NewString(),
		CompanyName:  strings.TrimSpace(req.CompanyName),
		Email:        req.Email,
		PasswordHash: hash,
		Status:       models.CompanyActive,
		RedirectURIs: req.RedirectURIs,
		WebhookURL:   req.WebhookURL,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.CreateCompany(r.Context(), company); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			writeErrorMsg(w, http.StatusConflict, "VALIDATION_FAILED", "a company with this email already exists")
			return
		}
		writeError(w, err)
		return
	}

	session, err := s.sessions.Issue(auth.SessionCompany, company.CompanyID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"token":   session,
		"company": companyView(company),
	})
}

// CompanyLoginHandler handles POST /v1/company/login
func (s *Server) CompanyLoginHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeErrorMsg(w, http.StatusBadRequest, "VALIDATION_FAILED", "invalid request body")
		return
	}

	company, err := s.store.GetCompanyByEmail(r.Context(), strings.ToLower(strings.TrimSpace(req.Email)))
	if err != nil {
		writeErrorMsg(w, http.StatusUnauthorized, "AUTHENTICATION_FAILED", "invalid email or password")
		return
	}
	if auth.VerifyPassword(company.PasswordHash, req.Password) != nil {
		writeErrorMsg(w, http.StatusUnauthorized, "AUTHENTICATION_FAILED", "invalid email or password")
		return
	}

	session, err := s.sessions.Issue(auth.SessionCompany, company.CompanyID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token":   session,
		"company": companyView(company),
	})
}

// CompanyMeHandler handles GET /v1/company/me
func (s *Server) CompanyMeHandler(w http.ResponseWriter, r *http.Request) {
	company, err := s.store.GetCompany(r.Context(), companyIDFromCtx(r.Context()))
	if err != nil {
		writeErrorMsg(w, http.StatusNotFound, "NOT_FOUND", "company not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"company": companyView(company)})
}

// CompanyUpdateHandler handles PUT /v1/company/data
func (s *Server) CompanyUpdateHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CompanyName  *string  `json:"company_name"`
		RedirectURIs []string `json:"redirect_uris"`
		WebhookURL   *string  `json:"webhook_url"`
		Logo         *string  `json:"logo"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeErrorMsg(w, http.StatusBadRequest, "VALIDATION_FAILED", "invalid request body")
		return
	}
	if req.RedirectURIs != nil {
		if bad, ok := validateRedirectURIs(req.RedirectURIs); !ok {
			writeErrorMsg(w, http.StatusBadRequest, "INVALID_REDIRECT", "redirect URI must be an absolute https URL: "+bad)
			return
		}
	}

	companyID := companyIDFromCtx(r.Context())
	err := s.store.UpdateCompanyData(r.Context(), companyID, storage.CompanyUpdate{
		CompanyName:  req.CompanyName,
		RedirectURIs: req.RedirectURIs,
		WebhookURL:   req.WebhookURL,
		Logo:         req.Logo,
	})
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeErrorMsg(w, http.StatusNotFound, "NOT_FOUND", "company not found")
			return
		}
		writeError(w, err)
		return
	}

	company, err := s.store.GetCompany(r.Context(), companyID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"company": companyView(company)})
}

// APIKeyCreateHandler handles POST /v1/company/keys
func (s *Server) APIKeyCreateHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	decodeJSON(r, &req) //nolint:errcheck

	clientID, secretKey, err := s.keys.Create(r.Context(), companyIDFromCtx(r.Context()), req.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	// The plaintext secret appears in this response and nowhere else.
	writeJSON(w, http.StatusCreated, map[string]any{
		"client_id":  clientID,
		"secret_key": secretKey,
	})
}

// APIKeyListHandler handles GET /v1/company/keys
func (s *Server) APIKeyListHandler(w http.ResponseWriter, r *http.Request) {
	keys, err := s.keys.List(r.Context(), companyIDFromCtx(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]map[string]any, 0, len(keys))
	for _, k := range keys {
		out = append(out, map[string]any{
			"key_id":     k.KeyID,
			"client_id":  k.ClientID,
			"name":       k.Name,
			"created_at": k.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"keys": out})
}

// APIKeyDeleteHandler handles DELETE /v1/company/keys/{keyID}
func (s *Server) APIKeyDeleteHandler(w http.ResponseWriter, r *http.Request) {
	keyID := chi.URLParam(r, "keyID")
	if err := s.keys.Delete(r.Context(), companyIDFromCtx(r.Context()), keyID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeErrorMsg(w, http.StatusNotFound, "NOT_FOUND", "api key not found")
			return
		}
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func companyView(c *models.Company) map[string]any {
	return map[string]any{
		"company_id":    c.CompanyID,
		"company_name":  c.CompanyName,
		"email":         c.Email,
		"status":        c.Status,
		"redirect_uris": c.RedirectURIs,
		"webhook_url":   c.WebhookURL,
		"logo":          c.Logo,
		"created_at":    c.CreatedAt,
	}
}
