package secretref

import (
	"context"
	"fmt"
	"os"
)

// EnvProvider resolves env:NAME references from the process environment.
type EnvProvider struct {
	lookup func(string) (string, bool)
}

func NewEnvProvider() *EnvProvider {
	return &EnvProvider{lookup: os.LookupEnv}
}

func (e *EnvProvider) Scheme() string {
	return "env"
}

func (e *EnvProvider) Resolve(_ context.Context, reference string) (string, error) {
	value, ok := e.lookup(reference)
	if !ok || value == "" {
		return "", fmt.Errorf("%w: environment variable %s is not set", ErrNotFound, reference)
	}
	return value, nil
}
