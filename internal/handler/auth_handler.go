package handler

import (
	"net/http"
	"strings"
	"time"

	"session-auth/internal/logger"
	"session-auth/internal/middleware"
	"session-auth/internal/model"
	"session-auth/internal/service"
	"session-auth/pkg/apierror"
)

type CookieOptions struct {
	Secure bool
	MaxAge time.Duration
}

type AuthHandler struct {
	sessions *service.SessionService
	audit    auditRecorder
	cookies  CookieOptions
}

func NewAuthHandler(sessions *service.SessionService, audit *service.AuditService, cookies CookieOptions) *AuthHandler {
	h := &AuthHandler{sessions: sessions, cookies: cookies}
	if audit != nil {
		h.audit = audit
	}
	return h
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	var payload model.RegisterRequest
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, err)
		return
	}

	user, err := h.sessions.Register(r.Context(), payload)
	recordAudit(r, h.audit, model.AuditActionRegister, user.ID, logger.MaskEmail(payload.Email), err)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusCreated, user, nil)
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	var payload model.LoginRequest
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, err)
		return
	}
	if payload.Email == "" || payload.Password == "" {
		writeError(w, apierror.BadRequest("email and password are required", ""))
		return
	}

	tokens, err := h.sessions.Login(r.Context(), payload.Email, payload.Password)
	recordAudit(r, h.audit, model.AuditActionLogin, tokens.UserID, logger.MaskEmail(payload.Email), err)
	if err != nil {
		writeError(w, err)
		return
	}

	h.setSessionCookies(w, tokens)
	writeSuccess(w, http.StatusOK, tokens, nil)
}

// Refresh reads both tokens from cookies. The refresh token may also come
// in a JSON body for non-browser clients.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	accessToken := middleware.AccessTokenFromRequest(r)
	refreshToken := ""
	if c, err := r.Cookie(middleware.RefreshTokenCookie); err == nil {
		refreshToken = strings.TrimSpace(c.Value)
	}
	if refreshToken == "" && r.ContentLength > 0 {
		var payload model.RefreshRequest
		if err := decodeJSON(r, &payload); err != nil {
			writeError(w, err)
			return
		}
		refreshToken = strings.TrimSpace(payload.RefreshToken)
	}

	if accessToken == "" {
		writeError(w, model.ErrUnauthorized)
		return
	}

	tokens, err := h.sessions.Refresh(r.Context(), accessToken, refreshToken)
	recordAudit(r, h.audit, model.AuditActionRefresh, tokens.UserID, "", err)
	if err != nil {
		writeError(w, err)
		return
	}

	h.setSessionCookies(w, tokens)
	writeSuccess(w, http.StatusOK, tokens, nil)
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	accessToken := middleware.AccessTokenFromRequest(r)
	if accessToken == "" {
		writeError(w, model.ErrUnauthorized)
		return
	}

	userID, err := h.sessions.Logout(r.Context(), accessToken)
	recordAudit(r, h.audit, model.AuditActionLogout, userID, "", err)
	if err != nil {
		writeError(w, err)
		return
	}

	h.clearSessionCookies(w)
	writeSuccess(w, http.StatusOK, map[string]any{"logged_out": true}, nil)
}

func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, err := h.sessions.Me(r.Context(), middleware.AccessTokenFromContext(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, user, nil)
}

func (h *AuthHandler) setSessionCookies(w http.ResponseWriter, tokens model.TokenPair) {
	maxAge := int(h.cookies.MaxAge.Seconds())
	http.SetCookie(w, h.cookie(middleware.AccessTokenCookie, tokens.AccessToken, maxAge))
	http.SetCookie(w, h.cookie(middleware.RefreshTokenCookie, tokens.RefreshToken, maxAge))
}

func (h *AuthHandler) clearSessionCookies(w http.ResponseWriter) {
	http.SetCookie(w, h.cookie(middleware.AccessTokenCookie, "", -1))
	http.SetCookie(w, h.cookie(middleware.RefreshTokenCookie, "", -1))
}

// The access token cookie outlives the token itself so that an expired
// token can still be presented to /refresh.
func (h *AuthHandler) cookie(name string, value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.cookies.Secure,
		SameSite: http.SameSiteLaxMode,
	}
}
