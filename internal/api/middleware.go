/**
 * @description
 * Authentication middleware for the admin API. Admin tokens are HS256 JWTs signed with
 * ADMIN_JWT_SECRET and carrying role=admin.
 */
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

// AdminSubjectContextKey stores the token subject in the request context.
const AdminSubjectContextKey = contextKey("adminSubject")

const adminRole = "admin"

// AdminAuthMiddleware rejects requests without a valid admin bearer token.
func AdminAuthMiddleware(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "Authorization header required", http.StatusUnauthorized)
				return
			}

			tokenString := strings.TrimPrefix(authHeader, "Bearer ")
			if tokenString == authHeader {
				http.Error(w, "Invalid Authorization header format", http.StatusUnauthorized)
				return
			}

			subject, err := ParseAdminToken(secret, tokenString)
			if err != nil {
				http.Error(w, fmt.Sprintf("Invalid token: %v", err), http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), AdminSubjectContextKey, subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ParseAdminToken validates tokenString and returns its subject.
func ParseAdminToken(secret, tokenString string) (string, error) {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithLeeway(30*time.Second))
	claims := jwt.MapClaims{}

	token, err := parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		return []byte(secret), nil
	})
	if err != nil {
		return "", err
	}
	if !token.Valid {
		return "", errors.New("token is not valid")
	}

	if role, _ := claims["role"].(string); role != adminRole {
		return "", errors.New("token lacks admin role")
	}
	subject, err := claims.GetSubject()
	if err != nil || subject == "" {
		return "", errors.New("subject not found in token")
	}
	return subject, nil
}

// IssueAdminToken mints an admin token for subject valid for ttl.
func IssueAdminToken(secret, subject string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("admin secret is empty")
	}
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":  subject,
		"role": adminRole,
		"iat":  now.Unix(),
		"exp":  now.Add(ttl).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// AdminFromContext returns the authenticated admin subject.
func AdminFromContext(ctx context.Context) (string, bool) {
	subject, ok := ctx.Value(AdminSubjectContextKey).(string)
	return subject, ok
}
