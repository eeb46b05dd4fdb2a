// Package auth guards the provisioning API with a single bearer token whose
// argon2id hash is supplied through configuration.
package auth

import (
	"errors"
	"strings"
)

const MethodBearerToken = "bearer_token"

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrNotConfigured means no token hash is set; every request is rejected.
	ErrNotConfigured = errors.New("api token is not configured")
)

type Principal struct {
	Subject string
	Method  string
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
