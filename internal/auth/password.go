package auth

import (
	"strings"

	"golang.org/x/crypto/bcrypt"

	"aldar.app/internal/apperr"
)

// HashPassword produces the bcrypt hash stored for a callback partner in
// callbacks.users.
func HashPassword(password string) (string, error) {
	if strings.TrimSpace(password) == "" {
		return "", apperr.Validation("password: missing required parameter")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPassword reports whether password matches hash. Malformed or empty
// hashes never match.
func VerifyPassword(hash, password string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
