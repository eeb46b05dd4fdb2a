// Package secretref resolves secret references such as vault:secret/data/db#password
// into cleartext values just before a provisioning call.
package secretref

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/open-sspm/egress-provisioner/internal/provision"
)

var (
	ErrInvalidReference = errors.New("invalid secret reference")
	ErrUnknownScheme    = errors.New("unknown secret reference scheme")
	ErrNotFound         = errors.New("secret not found")
)

// Provider resolves references for one scheme.
type Provider interface {
	Scheme() string
	Resolve(ctx context.Context, reference string) (string, error)
}

// Registry maps reference schemes to providers.
type Registry struct {
	providers map[string]Provider
	order     []string
}

func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]Provider),
		order:     make([]string, 0),
	}
}

// Register adds a provider. Each scheme may only be registered once.
func (r *Registry) Register(p Provider) error {
	if p == nil {
		return errors.New("secret provider is nil")
	}
	scheme := strings.ToLower(strings.TrimSpace(p.Scheme()))
	if scheme == "" {
		return fmt.Errorf("secret provider scheme cannot be empty")
	}
	if _, exists := r.providers[scheme]; exists {
		return fmt.Errorf("secret provider scheme %q already registered", scheme)
	}
	r.providers[scheme] = p
	r.order = append(r.order, scheme)
	return nil
}

func (r *Registry) Get(scheme string) (Provider, bool) {
	p, ok := r.providers[strings.ToLower(strings.TrimSpace(scheme))]
	return p, ok
}

// Schemes returns registered schemes in registration order.
func (r *Registry) Schemes() []string {
	return slices.Clone(r.order)
}

// ParseReference splits "scheme:reference".
func ParseReference(ref string) (scheme, reference string, err error) {
	scheme, reference, ok := strings.Cut(strings.TrimSpace(ref), ":")
	scheme = strings.ToLower(strings.TrimSpace(scheme))
	reference = strings.TrimSpace(reference)
	if !ok || scheme == "" || reference == "" {
		return "", "", fmt.Errorf("%w: %q (want <scheme>:<reference>)", ErrInvalidReference, ref)
	}
	return scheme, reference, nil
}

// Resolve resolves a single "scheme:reference" string.
func (r *Registry) Resolve(ctx context.Context, ref string) (string, error) {
	scheme, reference, err := ParseReference(ref)
	if err != nil {
		return "", err
	}
	p, ok := r.Get(scheme)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownScheme, scheme)
	}
	return p.Resolve(ctx, reference)
}

// ResolveAll resolves a map of secret name to reference into scalar values.
// The first failure aborts resolution; error messages name the secret and
// scheme, never a value.
func (r *Registry) ResolveAll(ctx context.Context, refs map[string]string) (map[string]provision.Value, error) {
	out := make(map[string]provision.Value, len(refs))
	for _, name := range slices.Sorted(maps.Keys(refs)) {
		value, err := r.Resolve(ctx, refs[name])
		if err != nil {
			return nil, fmt.Errorf("resolve secret %q: %w", name, err)
		}
		out[name] = provision.ScalarValue(value)
	}
	return out, nil
}
