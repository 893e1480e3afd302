package handlers

import (
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// BearerAuth guards the admin API with a single operator token. Only
// the bcrypt hash of the token is kept in configuration. An empty hash
// disables the guard, for local development.
func BearerAuth(tokenHash string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if tokenHash == "" {
			next.ServeHTTP(w, r)
			return
		}
		raw := strings.TrimSpace(r.Header.Get("Authorization"))
		token, ok := strings.CutPrefix(raw, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			w.Header().Set("WWW-Authenticate", "Bearer")
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}
		if err := bcrypt.CompareHashAndPassword([]byte(tokenHash), []byte(strings.TrimSpace(token))); err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// HashToken derives the bcrypt hash for an admin token. Used by the
// hash-token CLI subcommand.
func HashToken(raw string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(raw), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
