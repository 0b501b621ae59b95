// Package config provides configuration loading and validation for the
// device sync tool.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"
)

// CustomFieldPrefix is the key prefix the endpoint platform expects for
// writable custom attributes.
const CustomFieldPrefix = "custom:"

// Option defines the interface for configuration loading options
type Option func(*loaderConfig) error

// loaderConfig defines the configuration for loading a configuration
type loaderConfig struct {
	path string
}

// WithConfigPath loads configuration from a YAML file at the given path
func WithConfigPath(path string) Option {
	return func(cfg *loaderConfig) error {
		if path == "" {
			return fmt.Errorf("path is required")
		}

		// Resolve symlinks to prevent symlink attacks.
		// Note that this calls filepath.Clean internally.
		realPath, err := filepath.EvalSymlinks(path)
		if err != nil {
			return fmt.Errorf("failed to evaluate symlinks: %w", err)
		}

		if !filepath.IsAbs(realPath) {
			if !filepath.IsLocal(realPath) {
				return fmt.Errorf("path is not local or contains invalid traversal: %s", path)
			}
		}

		cfg.path = realPath
		return nil
	}
}

// DefaultPath returns the default config file location under the XDG
// config home.
func DefaultPath() string {
	return filepath.Join(xdg.ConfigHome, "entrasync", "config.yaml")
}

// Config represents the root configuration structure
type Config struct {
	// Platform holds the endpoint-management platform connection settings
	Platform PlatformConfig `yaml:"platform"`

	// Tenants lists the directory tenants to sync from
	Tenants []TenantConfig `yaml:"tenants"`

	// Sync holds run behavior defaults; flag overrides are applied on top
	Sync *SyncConfig `yaml:"sync,omitempty"`
}

// PlatformConfig defines the endpoint platform connection
type PlatformConfig struct {
	// BaseURL is the platform API base URL (without path)
	BaseURL string `yaml:"baseUrl"`

	// ClientID is the OAuth client identifier
	ClientID string `yaml:"clientId"`

	// SecretRef names the secret store slot holding the client secret
	SecretRef string `yaml:"secretRef"`
}

// TenantConfig defines a single directory tenant
type TenantConfig struct {
	// Name is a human-readable label for the tenant, used in logs and
	// run summaries
	Name string `yaml:"name"`

	// TenantID is the directory tenant identifier
	TenantID string `yaml:"tenantId"`

	// ClientID is the app registration used to read the directory
	ClientID string `yaml:"clientId"`

	// SecretRef names the secret store slot holding the app secret
	SecretRef string `yaml:"secretRef"`

	// Targets are the tenant's target scopes on the platform
	Targets []TargetScope `yaml:"targets"`
}

// TargetScope groups platform organizations sharing one mapping set
type TargetScope struct {
	// OrganizationIDs are the platform organizations this scope writes to
	OrganizationIDs []string `yaml:"organizationIds"`

	// Mappings is the ordered list of attribute mappings applied to every
	// device synced within this scope
	Mappings []PropertyMapping `yaml:"mappings"`
}

// PropertyMapping maps one directory attribute onto one platform custom field
type PropertyMapping struct {
	// EntraProperty is the directory attribute name to read
	EntraProperty string `yaml:"entraProperty"`

	// CustomField is the platform custom field to write. Normalized to
	// the custom: prefixed key form before use.
	CustomField string `yaml:"customField"`
}

// SyncConfig defines run behavior defaults. Pointer fields distinguish
// "unset" from explicit zero values so flag overrides layer correctly.
type SyncConfig struct {
	DryRun             *bool `yaml:"dryRun,omitempty"`
	MaxPatchesPerJob   *int  `yaml:"maxPatchesPerJob,omitempty"`
	MaxTotalPatches    *int  `yaml:"maxTotalPatches,omitempty"`
	StopOnJobError     *bool `yaml:"stopOnJobError,omitempty"`
	StopOnPatchError   *bool `yaml:"stopOnPatchError,omitempty"`
	EndpointPageSize   *int  `yaml:"endpointPageSize,omitempty"`
	CacheEntraDevices  *bool `yaml:"cacheEntraDevices,omitempty"`
	CacheKeyTenantName *bool `yaml:"cacheKeyIncludesTenantLabel,omitempty"`
}

// NormalizedCustomField returns the mapping's target key in the platform's
// custom-attribute key form.
func (m PropertyMapping) NormalizedCustomField() string {
	field := strings.TrimSpace(m.CustomField)
	if strings.HasPrefix(field, CustomFieldPrefix) {
		return field
	}
	return CustomFieldPrefix + field
}

// LoadConfig loads, parses, and validates configuration from a YAML file
func LoadConfig(opts ...Option) (*Config, error) {
	loaderCfg := &loaderConfig{}
	for _, opt := range opts {
		if err := opt(loaderCfg); err != nil {
			return nil, err
		}
	}

	if loaderCfg.path == "" {
		return nil, fmt.Errorf("path is required")
	}

	data, err := os.ReadFile(loaderCfg.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Validate performs structural validation on the configuration. All
// violations are collected and reported together rather than
// first-error-wins.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config cannot be nil")
	}

	var errs []error

	errs = append(errs, c.validatePlatform()...)

	if len(c.Tenants) == 0 {
		errs = append(errs, fmt.Errorf("at least one tenant must be configured"))
	}

	// Cross-config uniqueness: directory tenant IDs, secret slots, and
	// organization IDs may each appear exactly once.
	tenantIDs := make(map[string]string)
	secretRefs := make(map[string]string)
	orgOwners := make(map[string]string)

	if c.Platform.SecretRef != "" {
		secretRefs[c.Platform.SecretRef] = "platform"
	}

	for i := range c.Tenants {
		tenant := &c.Tenants[i]
		prefix := fmt.Sprintf("tenant[%d] (%s)", i, tenant.Name)

		errs = append(errs, validateTenant(tenant, prefix)...)

		if tenant.TenantID != "" {
			if prev, ok := tenantIDs[tenant.TenantID]; ok {
				errs = append(errs, fmt.Errorf("%s: duplicate tenantId %q (also used by %s)", prefix, tenant.TenantID, prev))
			} else {
				tenantIDs[tenant.TenantID] = prefix
			}
		}

		if tenant.SecretRef != "" {
			if prev, ok := secretRefs[tenant.SecretRef]; ok {
				errs = append(errs, fmt.Errorf("%s: secretRef %q already used by %s", prefix, tenant.SecretRef, prev))
			} else {
				secretRefs[tenant.SecretRef] = prefix
			}
		}

		for _, scope := range tenant.Targets {
			for _, orgID := range scope.OrganizationIDs {
				if orgID == "" {
					continue
				}
				if prev, ok := orgOwners[orgID]; ok {
					errs = append(errs, fmt.Errorf("%s: organization %q already targeted by %s", prefix, orgID, prev))
				} else {
					orgOwners[orgID] = prefix
				}
			}
		}
	}

	return errors.Join(errs...)
}

func (c *Config) validatePlatform() []error {
	var errs []error
	if c.Platform.BaseURL == "" {
		errs = append(errs, fmt.Errorf("platform.baseUrl is required"))
	}
	if c.Platform.ClientID == "" {
		errs = append(errs, fmt.Errorf("platform.clientId is required"))
	}
	if c.Platform.SecretRef == "" {
		errs = append(errs, fmt.Errorf("platform.secretRef is required"))
	}
	return errs
}

func validateTenant(tenant *TenantConfig, prefix string) []error {
	var errs []error

	if tenant.Name == "" {
		errs = append(errs, fmt.Errorf("%s: name is required", prefix))
	}
	if tenant.TenantID == "" {
		errs = append(errs, fmt.Errorf("%s: tenantId is required", prefix))
	}
	if tenant.ClientID == "" {
		errs = append(errs, fmt.Errorf("%s: clientId is required", prefix))
	}
	if tenant.SecretRef == "" {
		errs = append(errs, fmt.Errorf("%s: secretRef is required", prefix))
	}
	if len(tenant.Targets) == 0 {
		errs = append(errs, fmt.Errorf("%s: at least one target scope is required", prefix))
	}

	for j, scope := range tenant.Targets {
		scopePrefix := fmt.Sprintf("%s target[%d]", prefix, j)

		if len(scope.OrganizationIDs) == 0 {
			errs = append(errs, fmt.Errorf("%s: organizationIds must not be empty", scopePrefix))
		}
		for _, orgID := range scope.OrganizationIDs {
			if orgID == "" {
				errs = append(errs, fmt.Errorf("%s: organization IDs must be non-empty", scopePrefix))
			}
		}

		if len(scope.Mappings) == 0 {
			errs = append(errs, fmt.Errorf("%s: at least one mapping is required", scopePrefix))
		}
		for k, mapping := range scope.Mappings {
			if strings.TrimSpace(mapping.EntraProperty) == "" {
				errs = append(errs, fmt.Errorf("%s mapping[%d]: entraProperty is required", scopePrefix, k))
			}
			if strings.TrimSpace(mapping.CustomField) == "" {
				errs = append(errs, fmt.Errorf("%s mapping[%d]: customField is required", scopePrefix, k))
			}
		}
	}

	return errs
}
