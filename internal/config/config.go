package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultHTTPAddr         = ":8080"
	defaultMetricsAddr      = ":9090"
	defaultEngineDatabase   = "OMNATA_SYNC_ENGINE"
	defaultProvisionTimeout = 5 * time.Minute
	defaultKeyringService   = "egress-provisioner"
	defaultRunsLimit        = 20
)

type Config struct {
	PlatformDatabaseURL string
	EngineDatabase      string
	// DatabaseURL points at the optional audit store.
	DatabaseURL         string
	HTTPAddr            string
	MetricsAddr         string
	APITokenHash        string
	ProvisionTimeout    time.Duration
	CompensateOnFailure bool
	RunsLimit           int
	KeyringService      string
	Vault               VaultConfig
}

type VaultConfig struct {
	Address          string
	Namespace        string
	AuthType         string
	Token            string
	AppRoleMountPath string
	AppRoleRoleID    string
	AppRoleSecretID  string
	TLSSkipVerify    bool
	TLSCACertPEM     string
}

type LoadOptions struct {
	RequirePlatformURL bool
	RequireDatabaseURL bool
}

// Load reads configuration for commands that talk to the platform.
func Load() (Config, error) {
	return LoadWithOptions(LoadOptions{RequirePlatformURL: true})
}

// LoadAuditOnly reads configuration for commands that only touch the audit store.
func LoadAuditOnly() (Config, error) {
	return LoadWithOptions(LoadOptions{RequireDatabaseURL: true})
}

func LoadWithOptions(opts LoadOptions) (Config, error) {
	if err := godotenv.Load(); err != nil {
		var pathErr *os.PathError
		if !errors.As(err, &pathErr) {
			return Config{}, err
		}
	}

	cfg := Config{
		PlatformDatabaseURL: strings.TrimSpace(os.Getenv("PLATFORM_DATABASE_URL")),
		EngineDatabase:      getenvDefault("ENGINE_DATABASE", defaultEngineDatabase),
		DatabaseURL:         strings.TrimSpace(os.Getenv("DATABASE_URL")),
		HTTPAddr:            getenvDefault("HTTP_ADDR", defaultHTTPAddr),
		MetricsAddr:         getenvDefault("METRICS_ADDR", defaultMetricsAddr),
		APITokenHash:        strings.TrimSpace(os.Getenv("API_TOKEN_HASH")),
		ProvisionTimeout:    defaultProvisionTimeout,
		CompensateOnFailure: getenvBoolDefault("COMPENSATE_ON_FAILURE", false),
		RunsLimit:           getenvIntDefault("RUNS_LIMIT", defaultRunsLimit),
		KeyringService:      getenvDefault("KEYRING_SERVICE", defaultKeyringService),
		Vault: VaultConfig{
			Address:          strings.TrimSpace(os.Getenv("VAULT_ADDR")),
			Namespace:        strings.TrimSpace(os.Getenv("VAULT_NAMESPACE")),
			AuthType:         strings.ToLower(getenvDefault("VAULT_AUTH_TYPE", "token")),
			Token:            strings.TrimSpace(os.Getenv("VAULT_TOKEN")),
			AppRoleMountPath: getenvDefault("VAULT_APPROLE_MOUNT_PATH", "approle"),
			AppRoleRoleID:    strings.TrimSpace(os.Getenv("VAULT_APPROLE_ROLE_ID")),
			AppRoleSecretID:  strings.TrimSpace(os.Getenv("VAULT_APPROLE_SECRET_ID")),
			TLSSkipVerify:    getenvBoolDefault("VAULT_TLS_SKIP_VERIFY", false),
			TLSCACertPEM:     os.Getenv("VAULT_CACERT_PEM"),
		},
	}

	if v := strings.TrimSpace(os.Getenv("PROVISION_TIMEOUT")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return cfg, fmt.Errorf("PROVISION_TIMEOUT must be a positive duration, got %q", v)
		}
		cfg.ProvisionTimeout = d
	}

	if opts.RequirePlatformURL && cfg.PlatformDatabaseURL == "" {
		return cfg, errors.New("PLATFORM_DATABASE_URL is required")
	}
	if opts.RequireDatabaseURL && cfg.DatabaseURL == "" {
		return cfg, errors.New("DATABASE_URL is required")
	}

	return cfg, nil
}

// AuditEnabled reports whether provisioning runs are recorded.
func (c Config) AuditEnabled() bool {
	return c.DatabaseURL != ""
}

func getenvDefault(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getenvIntDefault(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return def
	}
	return n
}

func getenvBoolDefault(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	switch v {
	case "1":
		return true
	case "0":
		return false
	default:
		return def
	}
}
