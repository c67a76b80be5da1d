// Package auth resolves the current authenticated user. The session system
// itself lives outside this service; handlers only need a stable user ID or
// a rejection.
package auth

import (
	"errors"
	"net/http"
	"strings"
)

var ErrUnauthenticated = errors.New("unauthenticated")

// Resolver yields the user ID for a request or ErrUnauthenticated.
type Resolver interface {
	UserID(r *http.Request) (string, error)
}

// TokenResolver resolves users from a bearer token via an injected lookup,
// typically backed by the session service.
type TokenResolver struct {
	Lookup func(token string) (string, bool)
}

var _ Resolver = (*TokenResolver)(nil)

func (t *TokenResolver) UserID(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		return "", ErrUnauthenticated
	}
	userID, found := t.Lookup(token)
	if !found {
		return "", ErrUnauthenticated
	}
	return userID, nil
}
