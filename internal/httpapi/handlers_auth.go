package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/fechatter/fechatter-go/internal/apperr"
	"github.com/fechatter/fechatter-go/internal/auth"
)

type signupRequest struct {
	Email         string  `json:"email"`
	Password      string  `json:"password"`
	WorkspaceName *string `json:"workspace_name,omitempty"`
	FullName      string  `json:"full_name"`
}

type authResponse struct {
	AccessToken          string    `json:"access_token"`
	AccessTokenExpiresAt time.Time `json:"access_token_expires_at"`
	UserID               int64     `json:"user_id"`
	WorkspaceID          int64     `json:"workspace_id"`
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	v := &apperr.Violations{}
	v.Require(req.Email != "", "email", "required")
	v.Require(req.Password != "", "password", "required")
	v.Require(req.FullName != "", "full_name", "required")
	if err := v.Err(); err != nil {
		writeError(w, r, err)
		return
	}

	tokens, user, err := s.auth.Signup(r.Context(), req.Email, req.Password, req.WorkspaceName, req.FullName)
	if err != nil {
		writeError(w, r, err)
		return
	}
	setRefreshCookie(w, tokens.RefreshToken, tokens.RefreshTokenExpiresAt)
	writeJSON(w, r, http.StatusCreated, authResponse{
		AccessToken: tokens.AccessToken, AccessTokenExpiresAt: tokens.AccessTokenExpiresAt,
		UserID: int64(user.ID), WorkspaceID: int64(user.WorkspaceID),
	})
}

type signinRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleSignin(w http.ResponseWriter, r *http.Request) {
	var req signinRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	fp := auth.DeviceFingerprint{UserAgent: r.UserAgent(), IP: clientIP(r)}
	tokens, user, err := s.auth.Signin(r.Context(), req.Email, req.Password, fp)
	if err != nil {
		writeError(w, r, err)
		return
	}
	setRefreshCookie(w, tokens.RefreshToken, tokens.RefreshTokenExpiresAt)
	writeJSON(w, r, http.StatusOK, authResponse{
		AccessToken: tokens.AccessToken, AccessTokenExpiresAt: tokens.AccessTokenExpiresAt,
		UserID: int64(user.ID), WorkspaceID: int64(user.WorkspaceID),
	})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(refreshCookieName)
	if err != nil {
		writeError(w, r, apperr.New(apperr.KindUnauthenticated, "no refresh cookie"))
		return
	}
	fp := auth.DeviceFingerprint{UserAgent: r.UserAgent(), IP: clientIP(r)}
	tokens, err := s.auth.Refresh(r.Context(), cookie.Value, fp)
	if err != nil {
		writeError(w, r, err)
		return
	}
	setRefreshCookie(w, tokens.RefreshToken, tokens.RefreshTokenExpiresAt)
	writeJSON(w, r, http.StatusOK, map[string]any{
		"access_token": tokens.AccessToken, "access_token_expires_at": tokens.AccessTokenExpiresAt,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(refreshCookieName)
	if err == nil {
		_ = s.auth.Logout(r.Context(), cookie.Value)
	}
	clearRefreshCookie(w)
	writeJSON(w, r, http.StatusOK, map[string]any{"logged_out": true})
}

func (s *Server) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerUserID(r)
	if !ok {
		writeError(w, r, apperr.New(apperr.KindUnauthenticated, "missing claims"))
		return
	}
	if err := s.auth.LogoutAll(r.Context(), userID); err != nil {
		writeError(w, r, err)
		return
	}
	clearRefreshCookie(w)
	writeJSON(w, r, http.StatusOK, map[string]any{"logged_out": true})
}

func clearRefreshCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name: refreshCookieName, Value: "", MaxAge: -1, Path: "/",
		HttpOnly: true, Secure: true, SameSite: http.SameSiteStrictMode,
	})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dest any) bool {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		writeError(w, r, apperr.New(apperr.KindValidation, "malformed JSON body"))
		return false
	}
	return true
}
