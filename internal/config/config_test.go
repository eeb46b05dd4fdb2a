package config

import (
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"PLATFORM_DATABASE_URL", "ENGINE_DATABASE", "DATABASE_URL", "HTTP_ADDR", "METRICS_ADDR",
		"API_TOKEN_HASH", "PROVISION_TIMEOUT", "COMPENSATE_ON_FAILURE", "RUNS_LIMIT", "KEYRING_SERVICE",
		"VAULT_ADDR", "VAULT_NAMESPACE", "VAULT_AUTH_TYPE", "VAULT_TOKEN", "VAULT_APPROLE_MOUNT_PATH",
		"VAULT_APPROLE_ROLE_ID", "VAULT_APPROLE_SECRET_ID", "VAULT_TLS_SKIP_VERIFY", "VAULT_CACERT_PEM",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadWithOptions_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadWithOptions(LoadOptions{})
	if err != nil {
		t.Fatalf("LoadWithOptions() error = %v", err)
	}
	if cfg.EngineDatabase != defaultEngineDatabase {
		t.Fatalf("EngineDatabase = %q, want %q", cfg.EngineDatabase, defaultEngineDatabase)
	}
	if cfg.HTTPAddr != defaultHTTPAddr || cfg.MetricsAddr != defaultMetricsAddr {
		t.Fatalf("addrs = %q %q", cfg.HTTPAddr, cfg.MetricsAddr)
	}
	if cfg.ProvisionTimeout != defaultProvisionTimeout {
		t.Fatalf("ProvisionTimeout = %s, want %s", cfg.ProvisionTimeout, defaultProvisionTimeout)
	}
	if cfg.CompensateOnFailure {
		t.Fatal("CompensateOnFailure should default to false")
	}
	if cfg.KeyringService != defaultKeyringService {
		t.Fatalf("KeyringService = %q", cfg.KeyringService)
	}
	if cfg.Vault.AuthType != "token" || cfg.Vault.AppRoleMountPath != "approle" {
		t.Fatalf("vault defaults = %#v", cfg.Vault)
	}
	if cfg.MetricsAddr != ":9090" || cfg.AuditEnabled() {
		t.Fatalf("MetricsAddr=%q AuditEnabled=%v", cfg.MetricsAddr, cfg.AuditEnabled())
	}
}

func TestLoadWithOptions_ParsesValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("PLATFORM_DATABASE_URL", "postgres://platform")
	t.Setenv("DATABASE_URL", "postgres://audit")
	t.Setenv("PROVISION_TIMEOUT", "90s")
	t.Setenv("COMPENSATE_ON_FAILURE", "1")
	t.Setenv("METRICS_ADDR", "off")
	t.Setenv("VAULT_AUTH_TYPE", "AppRole")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ProvisionTimeout != 90*time.Second {
		t.Fatalf("ProvisionTimeout = %s", cfg.ProvisionTimeout)
	}
	if !cfg.CompensateOnFailure {
		t.Fatal("CompensateOnFailure = false, want true")
	}
	if cfg.MetricsAddr != "off" {
		t.Fatalf("MetricsAddr = %q, want off", cfg.MetricsAddr)
	}
	if !cfg.AuditEnabled() {
		t.Fatal("audit should be enabled")
	}
	if cfg.Vault.AuthType != "approle" {
		t.Fatalf("Vault.AuthType = %q", cfg.Vault.AuthType)
	}
}

func TestLoadWithOptions_RequiredURLs(t *testing.T) {
	clearEnv(t)

	if _, err := Load(); err == nil {
		t.Fatal("expected PLATFORM_DATABASE_URL error")
	}
	if _, err := LoadAuditOnly(); err == nil {
		t.Fatal("expected DATABASE_URL error")
	}
}

func TestLoadWithOptions_InvalidTimeout(t *testing.T) {
	clearEnv(t)
	t.Setenv("PROVISION_TIMEOUT", "soon")

	if _, err := LoadWithOptions(LoadOptions{}); err == nil {
		t.Fatal("expected invalid PROVISION_TIMEOUT error")
	}
}
