package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v4"
)

const ctxAdminSubjectKey ctxKey = iota + 100

// AdminSubjectFromContext returns the authenticated admin subject.
func AdminSubjectFromContext(ctx context.Context) (string, bool) {
	v := ctx.Value(ctxAdminSubjectKey)
	if v == nil {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// AdminAuth guards administrative routes with an HMAC-signed bearer token
// carrying role "admin".
func AdminAuth(signingKey string) func(next http.Handler) http.Handler {
	key := []byte(signingKey)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if !strings.HasPrefix(authHeader, "Bearer ") {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			raw := strings.TrimPrefix(authHeader, "Bearer ")

			claims := jwt.MapClaims{}
			token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
				}
				return key, nil
			})
			if err != nil || !token.Valid {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			role, _ := claims["role"].(string)
			if role != "admin" {
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}

			sub, _ := claims["sub"].(string)
			ctx := context.WithValue(r.Context(), ctxAdminSubjectKey, sub)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
