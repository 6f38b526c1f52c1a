package server

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"sync"

	"github.com/Shyp/rest"
)

// The Authorizer interface can be used to authorize a given user and token
// to access the API.
type Authorizer interface {
	// Authorize returns nil if the user and token are allowed to access the
	// API, and a rest.Error otherwise. The rest.Error is returned as the
	// body of a 401 HTTP response.
	Authorize(user string, token string) *rest.Error
}

// SharedSecretAuthorizer uses an in-memory map of usernames and passwords to
// authenticate incoming requests.
type SharedSecretAuthorizer struct {
	allowedUsers map[string]string
	mu           sync.RWMutex
}

// NewSharedSecretAuthorizer creates a SharedSecretAuthorizer ready for use.
func NewSharedSecretAuthorizer() *SharedSecretAuthorizer {
	return &SharedSecretAuthorizer{
		allowedUsers: make(map[string]string),
	}
}

// AddUser authorizes a given user and password to access the API.
func (ssa *SharedSecretAuthorizer) AddUser(user string, password string) {
	ssa.mu.Lock()
	defer ssa.mu.Unlock()
	ssa.allowedUsers[user] = password
}

// Authorize returns nil if the user and token have been added to ssa, and a
// rest.Error if they are not allowed to access the API.
func (ssa *SharedSecretAuthorizer) Authorize(user string, token string) *rest.Error {
	ssa.mu.RLock()
	serverPass, ok := ssa.allowedUsers[user]
	ssa.mu.RUnlock()
	if !ok {
		if user == "" {
			return &rest.Error{
				Title: "No authentication provided",
				ID:    "missing_authentication",
			}
		}
		return &rest.Error{
			Title: "Username or password are invalid. Please double check your credentials",
			ID:    "forbidden",
		}
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(serverPass)) != 1 {
		return &rest.Error{
			Title: fmt.Sprintf("Incorrect password for user %s", user),
			ID:    "incorrect_password",
		}
	}
	return nil
}

// authMiddleware checks basic auth on every request.
func authMiddleware(auth Authorizer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, token, _ := r.BasicAuth()
			if aerr := auth.Authorize(user, token); aerr != nil {
				authenticate(w, r, aerr)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
