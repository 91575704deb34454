package api

import (
	"io"
	"net/http"
	"strconv"
)

// maxDocumentBytes caps document uploads at 10 MiB.
const maxDocumentBytes = 10 << 20

// DataReadHandler handles GET /v1/data
//
// Company API-key auth: client_id query parameter, secret in the
// X-Vault-Key header, and the subject-scoped bearer token in the
// Authorization header.
func (s *Server) DataReadHandler(w http.ResponseWriter, r *http.Request) {
	clientID := r.URL.Query().Get("client_id")
	secretKey := r.Header.Get("X-Vault-Key")
	if clientID == "" || secretKey == "" {
		writeErrorMsg(w, http.StatusUnauthorized, "AUTHENTICATION_FAILED", "client_id and X-Vault-Key are required")
		return
	}
	bearer := bearerToken(r)
	if bearer == "" {
		writeErrorMsg(w, http.StatusUnauthorized, "AUTHENTICATION_FAILED", "missing bearer access token")
		return
	}

	companyID, err := s.keys.Validate(r.Context(), clientID, secretKey)
	if err != nil {
		dataReadsTotal.WithLabelValues("auth_failed").Inc()
		writeError(w, err)
		return
	}

	res, err := s.vault.Read(r.Context(), bearer, companyID)
	if err != nil {
		dataReadsTotal.WithLabelValues("rejected").Inc()
		writeError(w, err)
		return
	}
	dataReadsTotal.WithLabelValues("ok").Inc()

	body := map[string]any{
		"data":        res.Data,
		"accessed_at": res.AccessedAt,
	}
	if len(res.FieldErrors) > 0 {
		body["field_errors"] = res.FieldErrors
	}
	writeJSON(w, http.StatusOK, body)
}

// VaultOverviewHandler handles GET /v1/vault/data
func (s *Server) VaultOverviewHandler(w http.ResponseWriter, r *http.Request) {
	ov, err := s.vault.GetOverview(r.Context(), userIDFromCtx(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"fullname":      ov.Fullname,
		"email":         ov.Email,
		"phone":         ov.Phone,
		"documents":     ov.Documents,
		"personal_data": ov.PersonalData,
	})
}

// PersonalDataWriteHandler handles POST /v1/vault/data
func (s *Server) PersonalDataWriteHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Data map[string]string `json:"data"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeErrorMsg(w, http.StatusBadRequest, "VALIDATION_FAILED", "invalid request body")
		return
	}
	if err := s.vault.SavePersonalData(r.Context(), userIDFromCtx(r.Context()), req.Data); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DocumentUploadHandler handles POST /v1/vault/documents
//
// Multipart form: `file` plus a `document_type` field.
func (s *Server) DocumentUploadHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxDocumentBytes); err != nil {
		writeErrorMsg(w, http.StatusBadRequest, "VALIDATION_FAILED", "expected multipart form data")
		return
	}
	documentType := r.FormValue("document_type")
	file, header, err := r.FormFile("file")
	if err != nil {
		writeErrorMsg(w, http.StatusBadRequest, "VALIDATION_FAILED", "file is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxDocumentBytes+1))
	if err != nil {
		writeError(w, err)
		return
	}
	if len(data) > maxDocumentBytes {
		writeErrorMsg(w, http.StatusRequestEntityTooLarge, "VALIDATION_FAILED", "document exceeds the 10MB limit")
		return
	}

	if err := s.vault.UploadDocument(r.Context(), userIDFromCtx(r.Context()), documentType, header.Filename, data); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"document_type": documentType})
}

// ActiveAccessHandler handles GET /v1/vault/active-access
func (s *Server) ActiveAccessHandler(w http.ResponseWriter, r *http.Request) {
	grants, err := s.vault.ListActiveAccess(r.Context(), userIDFromCtx(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]map[string]any, 0, len(grants))
	for _, g := range grants {
		out = append(out, map[string]any{
			"token_id":         g.TokenID,
			"company_name":     g.CompanyName,
			"requested_data":   g.RequestedData,
			"granted_at":       g.GrantedAt,
			"expires_at":       g.ExpiresAt,
			"days_left":        g.DaysLeft,
			"access_count":     g.AccessCount,
			"last_accessed_at": g.LastAccessedAt,
			"token":            g.TokenPreview,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"active_access": out})
}

// AccessLogsHandler handles GET /v1/vault/access-logs
func (s *Server) AccessLogsHandler(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1000 {
			writeErrorMsg(w, http.StatusBadRequest, "VALIDATION_FAILED", "limit must be between 1 and 1000")
			return
		}
		limit = n
	}

	logs, err := s.auditor.ForUser(r.Context(), userIDFromCtx(r.Context()), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]map[string]any, 0, len(logs))
	for _, l := range logs {
		out = append(out, map[string]any{
			"log_id":        l.LogID,
			"company_name":  l.CompanyName,
			"action":        l.Action,
			"data_accessed": l.DataAccessed,
			"description":   l.Description,
			"timestamp":     l.Timestamp,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": out})
}

// RevokeAccessHandler handles POST /v1/vault/revoke-access
func (s *Server) RevokeAccessHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TokenID string `json:"token_id"`
	}
	if err := decodeJSON(r, &req); err != nil || req.TokenID == "" {
		writeErrorMsg(w, http.StatusBadRequest, "VALIDATION_FAILED", "token_id is required")
		return
	}
	if err := s.vault.Revoke(r.Context(), req.TokenID, userIDFromCtx(r.Context())); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"revoked": true})
}
