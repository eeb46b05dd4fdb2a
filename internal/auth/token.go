package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/alexedwards/argon2id"
)

const (
	// MinTokenLength guards against trivially guessable tokens.
	MinTokenLength = 24

	tokenBytes = 32
)

var DefaultTokenParams = &argon2id.Params{
	Memory:      19 * 1024,
	Iterations:  2,
	Parallelism: 1,
	SaltLength:  16,
	KeyLength:   32,
}

func HashToken(token string) (string, error) {
	token = strings.TrimSpace(token)
	if len(token) < MinTokenLength {
		return "", fmt.Errorf("token must be at least %d characters", MinTokenLength)
	}
	return argon2id.CreateHash(token, DefaultTokenParams)
}

func CompareToken(token, hash string) (bool, error) {
	return argon2id.ComparePasswordAndHash(token, hash)
}

// GenerateToken returns a random URL-safe token.
func GenerateToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// TokenAuthenticator checks presented tokens against a configured hash.
type TokenAuthenticator struct {
	hash string
}

func NewTokenAuthenticator(hash string) (*TokenAuthenticator, error) {
	hash = strings.TrimSpace(hash)
	if hash == "" {
		return &TokenAuthenticator{}, nil
	}
	if _, _, _, err := argon2id.DecodeHash(hash); err != nil {
		return nil, fmt.Errorf("API_TOKEN_HASH: %w", err)
	}
	return &TokenAuthenticator{hash: hash}, nil
}

func (a *TokenAuthenticator) Configured() bool {
	return a != nil && a.hash != ""
}

func (a *TokenAuthenticator) Authenticate(_ context.Context, token string) (Principal, error) {
	if !a.Configured() {
		return Principal{}, ErrNotConfigured
	}
	if strings.TrimSpace(token) == "" {
		return Principal{}, ErrInvalidCredentials
	}
	match, err := CompareToken(token, a.hash)
	if err != nil {
		return Principal{}, err
	}
	if !match {
		return Principal{}, ErrInvalidCredentials
	}
	return Principal{Subject: "api-token", Method: MethodBearerToken}, nil
}

// IsAuthError reports whether err should surface as 401 rather than 500.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrInvalidCredentials) || errors.Is(err, ErrNotConfigured)
}
