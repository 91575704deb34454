package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/org/datavault/internal/auth"
	"github.com/org/datavault/internal/storage"
	"github.com/org/datavault/pkg/models"
	"github.com/rs/zerolog/log"
)

// UserSignupHandler handles POST /v1/user/signup
func (s *Server) UserSignupHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		Fullname string `json:"fullname"`
		Phone    string `json:"phone"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeErrorMsg(w, http.StatusBadRequest, "VALIDATION_FAILED", "invalid request body")
		return
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Email == "" || !strings.Contains(req.Email, "@") {
		writeErrorMsg(w, http.StatusBadRequest, "VALIDATION_FAILED", "a valid email is required")
		return
	}
	if len(req.Password) < 8 {
		writeErrorMsg(w, http.StatusBadRequest, "VALIDATION_FAILED", "password must be at least 8 characters")
		return
	}
	if strings.TrimSpace(req.Fullname) == "" {
		writeErrorMsg(w, http.StatusBadRequest, "VALIDATION_FAILED", "fullname is required")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		writeError(w, err)
		return
	}
	user := &models.User{
		UserID:       uuid.NewString(),
		Email:        req.Email,
		Fullname:     strings.TrimSpace(req.Fullname),
		Phone:        strings.TrimSpace(req.Phone),
		PasswordHash: hash,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.store.CreateUser(r.Context(), user); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			writeErrorMsg(w, http.StatusConflict, "VALIDATION_FAILED", "an account with this email already exists")
			return
		}
		writeError(w, err)
		return
	}
	// Every subject gets an empty vault at signup.
	if err := s.store.CreateVaultRecord(r.Context(), &models.VaultRecord{
		UserID:    user.UserID,
		CreatedAt: user.CreatedAt,
		UpdatedAt: user.CreatedAt,
	}); err != nil {
		log.Error().Err(err).Str("user_id", user.UserID).Msg("creating vault record")
		writeError(w, err)
		return
	}

	session, err := s.sessions.Issue(auth.SessionUser, user.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"token": session,
		"user": map[string]any{
			"user_id":  user.UserID,
			"email":    user.Email,
			"fullname": user.Fullname,
		},
	})
}

// UserMeHandler handles GET /v1/user/me
func (s *Server) UserMeHandler(w http.ResponseWriter, r *http.Request) {
	user, err := s.store.GetUserByID(r.Context(), userIDFromCtx(r.Context()))
	if err != nil {
		writeErrorMsg(w, http.StatusNotFound, "NOT_FOUND", "user not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user": map[string]any{
			"user_id":    user.UserID,
			"email":      user.Email,
			"fullname":   user.Fullname,
			"phone":      user.Phone,
			"created_at": user.CreatedAt,
			"last_login": user.LastLogin,
		},
	})
}

// UserLoginHandler handles POST /v1/user/login
func (s *Server) UserLoginHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeErrorMsg(w, http.StatusBadRequest, "VALIDATION_FAILED", "invalid request body")
		return
	}

	user, err := s.store.GetUserByEmail(r.Context(), strings.ToLower(strings.TrimSpace(req.Email)))
	if err != nil {
		// Indistinguishable from a wrong password.
		writeErrorMsg(w, http.StatusUnauthorized, "AUTHENTICATION_FAILED", "invalid email or password")
		return
	}
	if auth.VerifyPassword(user.PasswordHash, req.Password) != nil {
		writeErrorMsg(w, http.StatusUnauthorized, "AUTHENTICATION_FAILED", "invalid email or password")
		return
	}
	if err := s.store.UpdateLastLogin(r.Context(), user.UserID, time.Now().UTC()); err != nil {
		log.Error().Err(err).Str("user_id", user.UserID).Msg("updating last login")
	}

	session, err := s.sessions.Issue(auth.SessionUser, user.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token": session,
		"user": map[string]any{
			"user_id":  user.UserID,
			"email":    user.Email,
			"fullname": user.Fullname,
		},
	})
}
