package auth

import (
	"net/http"

	"aldar.app/internal/apperr"
)

// BasicAuthenticator checks HTTP basic credentials of callback partners.
// Passwords are stored as bcrypt hashes keyed by username.
type BasicAuthenticator struct {
	users map[string]string
}

func NewBasicAuthenticator(users map[string]string) *BasicAuthenticator {
	cp := make(map[string]string, len(users))
	for u, h := range users {
		cp[u] = h
	}
	return &BasicAuthenticator{users: cp}
}

// Check returns the authenticated username or a 401 error.
func (b *BasicAuthenticator) Check(r *http.Request) (string, error) {
	user, pass, ok := r.BasicAuth()
	if !ok {
		return "", apperr.Unauthorized("Unauthorized")
	}
	hash, known := b.users[user]
	if !known || !VerifyPassword(hash, pass) {
		return "", apperr.Unauthorized("Unauthorized")
	}
	return user, nil
}
