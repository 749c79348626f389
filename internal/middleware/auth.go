package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"session-auth/internal/model"
)

const (
	AccessTokenCookie  = "access_token"
	RefreshTokenCookie = "refresh_token"
)

type sessionAuthenticator interface {
	Authenticate(ctx context.Context, accessToken string) (*model.AuthClaims, error)
}

type contextKey string

const (
	authClaimsContextKey  contextKey = "auth_claims"
	accessTokenContextKey contextKey = "access_token"
)

type AuthMiddleware struct {
	auth sessionAuthenticator
}

func NewAuthMiddleware(auth sessionAuthenticator) *AuthMiddleware {
	return &AuthMiddleware{auth: auth}
}

// RequireSession admits requests carrying a valid access token, read from
// the access_token cookie or a Bearer Authorization header.
func (m *AuthMiddleware) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := AccessTokenFromRequest(r)
		if token == "" {
			writeUnauthorized(w, "UNAUTHORIZED", "missing access token")
			return
		}

		claims, err := m.auth.Authenticate(r.Context(), token)
		if errors.Is(err, model.ErrTokenExpired) {
			writeUnauthorized(w, "TOKEN_EXPIRED", "access token has expired")
			return
		}
		if err != nil {
			writeUnauthorized(w, "UNAUTHORIZED", "invalid access token")
			return
		}

		ctx := context.WithValue(r.Context(), authClaimsContextKey, claims)
		ctx = context.WithValue(ctx, accessTokenContextKey, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// AccessTokenFromRequest prefers the cookie over the Authorization header.
func AccessTokenFromRequest(r *http.Request) string {
	if c, err := r.Cookie(AccessTokenCookie); err == nil && strings.TrimSpace(c.Value) != "" {
		return strings.TrimSpace(c.Value)
	}

	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}

func ClaimsFromContext(ctx context.Context) (*model.AuthClaims, bool) {
	claims, ok := ctx.Value(authClaimsContextKey).(*model.AuthClaims)
	return claims, ok
}

func AccessTokenFromContext(ctx context.Context) string {
	token, _ := ctx.Value(accessTokenContextKey).(string)
	return token
}

func writeUnauthorized(w http.ResponseWriter, code string, message string) {
	writeFailure(w, http.StatusUnauthorized, code, message)
}
