package api

import (
	"net/http"

	"github.com/org/datavault/internal/consent"
)

// AuthorizePreviewHandler handles GET /v1/authorize
//
// The consent screen calls this before rendering so the subject sees
// who is asking. No company secret is needed and nothing is recorded,
// but the redirect_uri must already match one the company registered.
func (s *Server) AuthorizePreviewHandler(w http.ResponseWriter, r *http.Request) {
	clientID := r.URL.Query().Get("client_id")
	if clientID == "" {
		writeErrorMsg(w, http.StatusBadRequest, "VALIDATION_FAILED", "client_id is required")
		return
	}
	redirectURI := r.URL.Query().Get("redirect_uri")
	if redirectURI == "" {
		writeErrorMsg(w, http.StatusBadRequest, "VALIDATION_FAILED", "redirect_uri is required")
		return
	}

	preview, err := s.consent.PreviewRequest(r.Context(), clientID, redirectURI)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"company": map[string]any{
			"company_id":   preview.CompanyID,
			"company_name": preview.CompanyName,
			"logo":         preview.Logo,
		},
	})
}

// ConsentHandler handles POST /v1/authorize/consent
func (s *Server) ConsentHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ClientID      string   `json:"client_id"`
		RequestedData []string `json:"requested_data"`
		Purpose       string   `json:"purpose"`
		Duration      int      `json:"duration"`
		RedirectURI   string   `json:"redirect_uri"`
		State         string   `json:"state"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeErrorMsg(w, http.StatusBadRequest, "VALIDATION_FAILED", "invalid request body")
		return
	}

	redirect, err := s.consent.Grant(r.Context(), consent.GrantInput{
		ClientID:      req.ClientID,
		UserID:        userIDFromCtx(r.Context()),
		RequestedData: req.RequestedData,
		Purpose:       req.Purpose,
		Duration:      req.Duration,
		RedirectURI:   req.RedirectURI,
		State:         req.State,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"redirect_url": redirect})
}

// DenyHandler handles POST /v1/authorize/deny
//
// Denial never reaches the company; it only lands in the subject's own
// audit trail.
func (s *Server) DenyHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ClientID string `json:"client_id"`
	}
	if err := decodeJSON(r, &req); err != nil || req.ClientID == "" {
		writeErrorMsg(w, http.StatusBadRequest, "VALIDATION_FAILED", "client_id is required")
		return
	}
	if err := s.consent.RecordDenial(r.Context(), userIDFromCtx(r.Context()), req.ClientID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// TokenExchangeHandler handles POST /v1/authorize/token
//
// The company authenticates with its clientID in the body and its
// secret in the X-Vault-Key header, and trades the single-use access
// code for a scoped bearer token.
func (s *Server) TokenExchangeHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ClientID string `json:"client_id"`
		Code     string `json:"code"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeErrorMsg(w, http.StatusBadRequest, "VALIDATION_FAILED", "invalid request body")
		return
	}
	secretKey := r.Header.Get("X-Vault-Key")

	token, err := s.consent.Exchange(r.Context(), req.ClientID, secretKey, req.Code)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token":   token.Token,
		"token_type":     "Bearer",
		"expires_at":     token.ExpiresAt,
		"requested_data": token.RequestedData,
	})
}
