// Package mw contains HTTP middleware for the pixelforge-api.
package mw

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// ContextKey is a type for context keys.
type ContextKey string

const (
	// UserClaimsKey is the context key for user claims.
	UserClaimsKey ContextKey = "user_claims"
)

// SecurityScheme is the OpenAPI security scheme name for bearer tokens.
const SecurityScheme = "bearerAuth"

// UserClaims are the fields extracted from a verified access token.
type UserClaims struct {
	UserID  string
	Email   string
	Name    string
	IsAdmin bool
}

// GetUserClaims returns the claims stored by the Auth middleware, or nil.
func GetUserClaims(ctx context.Context) *UserClaims {
	claims, _ := ctx.Value(UserClaimsKey).(*UserClaims)
	return claims
}

// Auth verifies the bearer JWT and stores the claims on the request context.
// CORS preflights pass through unauthenticated.
func Auth(secret string) func(http.Handler) http.Handler {
	key := []byte(secret)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				unauthorized(w, "missing authorization header")
				return
			}
			token := strings.TrimPrefix(authHeader, "Bearer ")

			claims, err := validateToken(key, token)
			if err != nil {
				unauthorized(w, "invalid token")
				return
			}

			ctx := context.WithValue(r.Context(), UserClaimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// validateToken parses and verifies an HS256 JWT.
func validateToken(key []byte, tokenString string) (*UserClaims, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return key, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return nil, err
	}

	mapClaims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, jwt.ErrTokenInvalidClaims
	}

	sub, _ := mapClaims["sub"].(string)
	if sub == "" {
		return nil, jwt.ErrTokenInvalidClaims
	}

	claims := &UserClaims{UserID: sub}
	claims.Email, _ = mapClaims["email"].(string)
	claims.Name, _ = mapClaims["name"].(string)
	claims.IsAdmin, _ = mapClaims["is_admin"].(bool)
	return claims, nil
}

// WorkerAuth guards the internal worker endpoints with a shared token,
// accepted either as a bearer token or an X-Worker-Token header. An empty
// configured token disables the endpoints entirely.
func WorkerAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				forbidden(w, "worker endpoints are disabled")
				return
			}

			presented := r.Header.Get("X-Worker-Token")
			if presented == "" {
				presented = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			}
			if subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
				unauthorized(w, "invalid worker token")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func unauthorized(w http.ResponseWriter, msg string) {
	writeJSONError(w, http.StatusUnauthorized, msg)
}

func forbidden(w http.ResponseWriter, msg string) {
	writeJSONError(w, http.StatusForbidden, msg)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"success":false,"error":"` + msg + `"}`))
}
