package secretref

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/zalando/go-keyring"
)

type staticProvider struct {
	scheme string
	values map[string]string
}

func (p staticProvider) Scheme() string { return p.scheme }

func (p staticProvider) Resolve(_ context.Context, reference string) (string, error) {
	v, ok := p.values[reference]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func TestParseReference(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in         string
		wantScheme string
		wantRef    string
		wantErr    bool
	}{
		{in: "vault:secret/data/db#password", wantScheme: "vault", wantRef: "secret/data/db#password"},
		{in: " ENV:DB_PASSWORD ", wantScheme: "env", wantRef: "DB_PASSWORD"},
		{in: "keyring:mssql-prod", wantScheme: "keyring", wantRef: "mssql-prod"},
		{in: "no-scheme", wantErr: true},
		{in: "env:", wantErr: true},
		{in: ":value", wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			scheme, ref, err := ParseReference(tc.in)
			if tc.wantErr {
				if !errors.Is(err, ErrInvalidReference) {
					t.Fatalf("ParseReference(%q) error = %v, want ErrInvalidReference", tc.in, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseReference(%q) error = %v", tc.in, err)
			}
			if scheme != tc.wantScheme || ref != tc.wantRef {
				t.Fatalf("ParseReference(%q) = (%q, %q), want (%q, %q)", tc.in, scheme, ref, tc.wantScheme, tc.wantRef)
			}
		})
	}
}

func TestRegistryRejectsDuplicateScheme(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	if err := reg.Register(staticProvider{scheme: "static"}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := reg.Register(staticProvider{scheme: "STATIC"}); err == nil {
		t.Fatal("expected duplicate scheme error")
	}
	if err := reg.Register(staticProvider{scheme: " "}); err == nil {
		t.Fatal("expected empty scheme error")
	}
	if got := reg.Schemes(); len(got) != 1 || got[0] != "static" {
		t.Fatalf("Schemes() = %v, want [static]", got)
	}
}

func TestRegistryResolveAll(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	if err := reg.Register(staticProvider{scheme: "static", values: map[string]string{"db": "p"}}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	got, err := reg.ResolveAll(context.Background(), map[string]string{"password": "static:db"})
	if err != nil {
		t.Fatalf("ResolveAll() error = %v", err)
	}
	if v := got["password"]; v.IsAttributed() || v.Scalar() != "p" {
		t.Fatalf("password = %+v, want scalar %q", v, "p")
	}

	_, err = reg.ResolveAll(context.Background(), map[string]string{"password": "other:db"})
	if !errors.Is(err, ErrUnknownScheme) {
		t.Fatalf("ResolveAll() error = %v, want ErrUnknownScheme", err)
	}
	if !strings.Contains(err.Error(), `"password"`) {
		t.Fatalf("error %q should name the secret", err)
	}

	_, err = reg.ResolveAll(context.Background(), map[string]string{"password": "static:missing"})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("ResolveAll() error = %v, want ErrNotFound", err)
	}
}

func TestEnvProvider(t *testing.T) {
	t.Setenv("EGRESS_TEST_SECRET", "from-env")

	p := NewEnvProvider()
	got, err := p.Resolve(context.Background(), "EGRESS_TEST_SECRET")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got != "from-env" {
		t.Fatalf("Resolve() = %q, want %q", got, "from-env")
	}
	if _, err := p.Resolve(context.Background(), "EGRESS_TEST_SECRET_UNSET"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Resolve(unset) error = %v, want ErrNotFound", err)
	}
}

func TestKeyringProvider(t *testing.T) {
	keyring.MockInit()

	if err := keyring.Set("egress-test", "mssql-prod", "kc-pass"); err != nil {
		t.Fatalf("keyring.Set() error = %v", err)
	}
	p := NewKeyringProvider("egress-test")
	got, err := p.Resolve(context.Background(), "mssql-prod")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got != "kc-pass" {
		t.Fatalf("Resolve() = %q, want %q", got, "kc-pass")
	}
	if _, err := p.Resolve(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Resolve(missing) error = %v, want ErrNotFound", err)
	}
}

func TestBuildRegistersVaultOnlyWhenConfigured(t *testing.T) {
	t.Parallel()

	reg, err := Build(BuildOptions{})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if _, ok := reg.Get("vault"); ok {
		t.Fatal("vault should not be registered without an address")
	}

	reg, err = Build(BuildOptions{Vault: VaultOptions{Address: "https://vault.example.com", Token: "s.x"}})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	for _, scheme := range []string{"env", "keyring", "vault"} {
		if _, ok := reg.Get(scheme); !ok {
			t.Fatalf("scheme %q not registered", scheme)
		}
	}
}
