package secretref

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/zalando/go-keyring"
)

const DefaultKeyringService = "egress-provisioner"

// KeyringProvider resolves keyring:<account> references from the OS keychain
// (macOS Keychain, Secret Service on Linux, Windows Credential Manager).
type KeyringProvider struct {
	service string
}

func NewKeyringProvider(service string) *KeyringProvider {
	service = strings.TrimSpace(service)
	if service == "" {
		service = DefaultKeyringService
	}
	return &KeyringProvider{service: service}
}

func (k *KeyringProvider) Scheme() string {
	return "keyring"
}

func (k *KeyringProvider) Resolve(_ context.Context, reference string) (string, error) {
	value, err := keyring.Get(k.service, reference)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", fmt.Errorf("%w: keyring entry %s/%s", ErrNotFound, k.service, reference)
		}
		return "", fmt.Errorf("keyring %s/%s: %w", k.service, reference, err)
	}
	return value, nil
}
