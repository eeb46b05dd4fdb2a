package secretref

import (
	"context"
	"sync"
)

type BuildOptions struct {
	Vault          VaultOptions
	KeyringService string
}

// Build returns a registry with the env and keyring providers, plus Vault when
// an address is configured. The Vault client is created on first use so runs
// without vault: references never log in.
func Build(opts BuildOptions) (*Registry, error) {
	reg := NewRegistry()
	if err := reg.Register(NewEnvProvider()); err != nil {
		return nil, err
	}
	if err := reg.Register(NewKeyringProvider(opts.KeyringService)); err != nil {
		return nil, err
	}
	if opts.Vault.Configured() {
		if err := reg.Register(&lazyVault{opts: opts.Vault}); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

type lazyVault struct {
	opts VaultOptions

	mu       sync.Mutex
	provider *VaultProvider
}

func (l *lazyVault) Scheme() string {
	return "vault"
}

func (l *lazyVault) Resolve(ctx context.Context, reference string) (string, error) {
	l.mu.Lock()
	if l.provider == nil {
		p, err := NewVaultProvider(l.opts)
		if err != nil {
			l.mu.Unlock()
			return "", err
		}
		l.provider = p
	}
	p := l.provider
	l.mu.Unlock()
	return p.Resolve(ctx, reference)
}
