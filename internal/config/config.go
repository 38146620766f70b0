// Package config loads runtime configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/neomorfeo/provisioniq/internal/domain"
)

// Config holds every runtime setting of the service.
type Config struct {
	// HTTP
	Port string

	// Registry database
	DatabasePath string

	// Instance addressing
	BaseDomain string

	// Cluster
	KubeconfigPath   string
	AppImage         string
	IngressNamespace string
	IngressService   string
	IngressAddress   string

	// DNS
	DNSAPIToken string
	DNSZoneID   string

	// Instance databases
	TenantDBDriver   string
	TenantDBAdminDSN string
	TenantDBDir      string

	// Provisioning behavior
	SimulationMode  bool
	AutoRollback    bool
	PropagationWait time.Duration
	SSLIssuanceWait time.Duration
}

// Load reads configuration from environment variables, applying defaults
// that let the binary run locally in simulation mode without a cluster.
func Load() (Config, error) {
	cfg := Config{
		Port:             envOrDefault("PORT", "8080"),
		DatabasePath:     envOrDefault("DATABASE_PATH", "provisioniq.db"),
		BaseDomain:       envOrDefault("BASE_DOMAIN", "provisioniq.local"),
		KubeconfigPath:   envOrDefault("KUBECONFIG_PATH", ""),
		AppImage:         envOrDefault("APP_IMAGE", "ghcr.io/neomorfeo/instance-app:latest"),
		IngressNamespace: envOrDefault("INGRESS_NAMESPACE", "ingress-nginx"),
		IngressService:   envOrDefault("INGRESS_SERVICE", "ingress-nginx-controller"),
		IngressAddress:   envOrDefault("INGRESS_ADDRESS", ""),
		DNSAPIToken:      envOrDefault("DNS_API_TOKEN", ""),
		DNSZoneID:        envOrDefault("DNS_ZONE_ID", ""),
		TenantDBDriver:   envOrDefault("TENANT_DB_DRIVER", "sqlite"),
		TenantDBAdminDSN: envOrDefault("TENANT_DB_ADMIN_DSN", ""),
		TenantDBDir:      envOrDefault("TENANT_DB_DIR", "instance-data"),
	}

	var err error
	if cfg.SimulationMode, err = envBool("SIMULATION_MODE", true); err != nil {
		return Config{}, err
	}
	if cfg.AutoRollback, err = envBool("AUTO_ROLLBACK", true); err != nil {
		return Config{}, err
	}
	if cfg.PropagationWait, err = envDuration("PROPAGATION_WAIT", 2*time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.SSLIssuanceWait, err = envDuration("SSL_ISSUANCE_WAIT", 30*time.Second); err != nil {
		return Config{}, err
	}

	if cfg.TenantDBDriver != "sqlite" {
		return Config{}, &domain.InvalidConfigurationError{
			Reason: fmt.Sprintf("unsupported TENANT_DB_DRIVER %q (only \"sqlite\" is available)", cfg.TenantDBDriver),
		}
	}

	if !cfg.SimulationMode {
		if cfg.DNSAPIToken == "" || cfg.DNSZoneID == "" {
			return Config{}, &domain.InvalidConfigurationError{
				Reason: "DNS_API_TOKEN and DNS_ZONE_ID are required outside simulation mode",
			}
		}
		if cfg.KubeconfigPath == "" {
			return Config{}, &domain.InvalidConfigurationError{
				Reason: "KUBECONFIG_PATH is required outside simulation mode",
			}
		}
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return false, &domain.InvalidConfigurationError{
			Reason: fmt.Sprintf("%s must be a boolean, got %q", key, v),
		}
	}
	return parsed, nil
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		return 0, &domain.InvalidConfigurationError{
			Reason: fmt.Sprintf("%s must be a duration like \"90s\", got %q", key, v),
		}
	}
	return parsed, nil
}
