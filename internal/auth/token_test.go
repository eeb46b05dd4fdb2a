package auth

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestHashAndAuthenticate(t *testing.T) {
	t.Parallel()

	token, err := GenerateToken()
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}
	if len(token) < MinTokenLength {
		t.Fatalf("token too short: %d", len(token))
	}
	hash, err := HashToken(token)
	if err != nil {
		t.Fatalf("HashToken() error = %v", err)
	}
	if !strings.HasPrefix(hash, "$argon2id$") {
		t.Fatalf("hash = %q", hash)
	}

	a, err := NewTokenAuthenticator(hash)
	if err != nil {
		t.Fatalf("NewTokenAuthenticator() error = %v", err)
	}
	p, err := a.Authenticate(context.Background(), token)
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if p.Method != MethodBearerToken {
		t.Fatalf("Method = %q", p.Method)
	}

	if _, err := a.Authenticate(context.Background(), token+"x"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("wrong token error = %v", err)
	}
	if _, err := a.Authenticate(context.Background(), ""); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("empty token error = %v", err)
	}
}

func TestHashTokenRejectsShortTokens(t *testing.T) {
	t.Parallel()

	if _, err := HashToken("short"); err == nil {
		t.Fatal("expected error for short token")
	}
}

func TestUnconfiguredAuthenticatorRejects(t *testing.T) {
	t.Parallel()

	a, err := NewTokenAuthenticator("  ")
	if err != nil {
		t.Fatalf("NewTokenAuthenticator() error = %v", err)
	}
	if a.Configured() {
		t.Fatal("expected unconfigured authenticator")
	}
	_, err = a.Authenticate(context.Background(), "anything-at-all-goes-here")
	if !errors.Is(err, ErrNotConfigured) || !IsAuthError(err) {
		t.Fatalf("Authenticate() error = %v, want ErrNotConfigured", err)
	}
}

func TestNewTokenAuthenticatorRejectsMalformedHash(t *testing.T) {
	t.Parallel()

	if _, err := NewTokenAuthenticator("not-a-hash"); err == nil {
		t.Fatal("expected error for malformed hash")
	}
}

func TestBearerToken(t *testing.T) {
	t.Parallel()

	tests := []struct {
		header string
		want   string
		ok     bool
	}{
		{header: "Bearer abc", want: "abc", ok: true},
		{header: "bearer   abc ", want: "abc", ok: true},
		{header: "Basic abc"},
		{header: "Bearer "},
		{header: ""},
	}
	for _, tt := range tests {
		got, ok := BearerToken(tt.header)
		if got != tt.want || ok != tt.ok {
			t.Fatalf("BearerToken(%q) = %q, %v; want %q, %v", tt.header, got, ok, tt.want, tt.ok)
		}
	}
}
