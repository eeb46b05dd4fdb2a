package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/open-sspm/egress-provisioner/internal/audit"
	"github.com/open-sspm/egress-provisioner/internal/config"
	"github.com/open-sspm/egress-provisioner/internal/platform"
	"github.com/open-sspm/egress-provisioner/internal/provision"
	"github.com/open-sspm/egress-provisioner/internal/secretref"
)

// runtime holds the collaborators shared by provision and serve.
type runtime struct {
	provisioner *provision.Provisioner
	secrets     *secretref.Registry
	// runs is nil when the audit store is disabled.
	runs *audit.Store

	pools []*pgxpool.Pool
}

func (r *runtime) Close() {
	for _, p := range r.pools {
		p.Close()
	}
}

func buildRuntime(ctx context.Context, cfg config.Config, logger *slog.Logger) (*runtime, error) {
	rt := &runtime{}

	pool, err := platform.Connect(ctx, cfg.PlatformDatabaseURL)
	if err != nil {
		return nil, err
	}
	rt.pools = append(rt.pools, pool)

	plat, err := platform.New(pool, platform.Options{EngineDatabase: cfg.EngineDatabase})
	if err != nil {
		rt.Close()
		return nil, err
	}
	p, err := provision.NewProvisioner(plat)
	if err != nil {
		rt.Close()
		return nil, err
	}
	p.SetReporter(&provision.LogReporter{Logger: logger})
	p.SetCompensation(cfg.CompensateOnFailure)
	rt.provisioner = p

	if cfg.AuditEnabled() {
		auditPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("audit connect: %w", err)
		}
		rt.pools = append(rt.pools, auditPool)
		store, err := audit.NewStore(auditPool)
		if err != nil {
			rt.Close()
			return nil, err
		}
		p.SetRecorder(store)
		rt.runs = store
	}

	secrets, err := buildSecretRegistry(cfg)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.secrets = secrets
	return rt, nil
}

func buildSecretRegistry(cfg config.Config) (*secretref.Registry, error) {
	return secretref.Build(secretref.BuildOptions{
		KeyringService: cfg.KeyringService,
		Vault: secretref.VaultOptions{
			Address:          cfg.Vault.Address,
			Namespace:        cfg.Vault.Namespace,
			AuthType:         cfg.Vault.AuthType,
			Token:            cfg.Vault.Token,
			AppRoleMountPath: cfg.Vault.AppRoleMountPath,
			AppRoleRoleID:    cfg.Vault.AppRoleRoleID,
			AppRoleSecretID:  cfg.Vault.AppRoleSecretID,
			TLSSkipVerify:    cfg.Vault.TLSSkipVerify,
			TLSCACertPEM:     cfg.Vault.TLSCACertPEM,
		},
	})
}
