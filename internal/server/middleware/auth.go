package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/wardenhq/warden/internal/domain"
)

type jwtClaims struct {
	jwt.RegisteredClaims
	OrgID  string `json:"oid"`
	UserID string `json:"uid"`
	Role   string `json:"role"`
}

// APIKeyValidator resolves a raw API key to its organization.
// *auth.Service satisfies this interface.
type APIKeyValidator interface {
	ValidateAPIKey(ctx context.Context, rawKey string) (*domain.Organization, error)
}

// Auth authenticates requests by JWT Bearer token (dashboard sessions) or
// X-API-Key header (agents and administrative tooling). Invalid
// credentials are rejected here and never reach a handler.
func Auth(jwtSecret string, keys APIKeyValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Try Bearer token first.
			if tok := extractBearer(r); tok != "" {
				ctx, ok := authenticateJWT(r.Context(), tok, jwtSecret)
				if ok {
					next.ServeHTTP(w, r.WithContext(ctx))
					return
				}
			}

			// Try API key.
			if key := r.Header.Get("X-API-Key"); key != "" {
				ctx, ok := authenticateAPIKey(r.Context(), key, keys)
				if ok {
					next.ServeHTTP(w, r.WithContext(ctx))
					return
				}
			}

			http.Error(w, `{"title":"Unauthorized","status":401,"detail":"missing or invalid credentials"}`, http.StatusUnauthorized)
		})
	}
}

func extractBearer(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		return auth[7:]
	}
	return ""
}

func authenticateJWT(ctx context.Context, tokenStr, secret string) (context.Context, bool) {
	claims := &jwtClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(_ *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil || !token.Valid {
		return ctx, false
	}

	orgID, err := uuid.Parse(claims.OrgID)
	if err != nil {
		return ctx, false
	}

	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		return ctx, false
	}

	ctx = context.WithValue(ctx, ContextKeyOrgID, orgID)
	ctx = context.WithValue(ctx, ContextKeyUserID, userID)
	ctx = context.WithValue(ctx, ContextKeyUserRole, claims.Role)
	return ctx, true
}

func authenticateAPIKey(ctx context.Context, rawKey string, keys APIKeyValidator) (context.Context, bool) {
	org, err := keys.ValidateAPIKey(ctx, rawKey)
	if err != nil {
		return ctx, false
	}

	ctx = context.WithValue(ctx, ContextKeyOrgID, org.ID)
	ctx = context.WithValue(ctx, ContextKeyUserRole, "agent")
	return ctx, true
}
