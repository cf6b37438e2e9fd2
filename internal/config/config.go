// Package config loads PathMark's runtime configuration.
//
// Configuration starts from a built-in TOML default (baked into the binary
// with go:embed so the service boots with zero external files) and is then
// overridden by PM__SECTION__KEY environment variables, mirroring the
// load-then-override shape of config loaders in this codebase's lineage.
package config

import (
	_ "embed"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

//go:embed default.toml
var defaultTOML []byte

type Config struct {
	Server   ServerConfig   `toml:"server"`
	Database DatabaseConfig `toml:"database"`
	JWT      JWTConfig      `toml:"jwt"`
	Security SecurityConfig `toml:"security"`
	Limits   LimitsConfig   `toml:"limits"`
	MapMatch MapMatchConfig `toml:"mapmatch"`
	Storage  StorageConfig  `toml:"storage"`
}

type ServerConfig struct {
	Host               string `toml:"host"`
	Port               int    `toml:"port"`
	RequestTimeoutSecs int    `toml:"request_timeout_secs"`
	MaxBodySize        int64  `toml:"max_body_size"`
}

type DatabaseConfig struct {
	URL      string `toml:"url"`
	PoolMin  int    `toml:"pool_min"`
	PoolMax  int    `toml:"pool_max"`
}

// JWTConfig supports both an asymmetric RS256 keypair (canonical, per the
// authenticator design) and a symmetric secret key. Which one is active is
// resolved by key inspection at startup: if PrivateKey/PublicKey are set,
// RS256 is used; otherwise SecretKey selects HS256. This ambiguity traces
// back to the two conflicting story files noted as an open question — both
// shapes are supported rather than picking one and breaking the other.
type JWTConfig struct {
	PrivateKey            string `toml:"private_key"`
	PublicKey             string `toml:"public_key"`
	SecretKey             string `toml:"secret_key"`
	AccessTokenExpirySecs int    `toml:"access_token_expiry_secs"`
	RefreshTokenExpirySecs int   `toml:"refresh_token_expiry_secs"`
}

type SecurityConfig struct {
	CORSOrigins        []string `toml:"cors_origins"`
	RateLimitPerMinute int      `toml:"rate_limit_per_minute"`
}

type LimitsConfig struct {
	MaxDevices           int `toml:"max_devices"`
	BatchSize            int `toml:"batch_size"`
	LocationRetentionDays int `toml:"location_retention_days"`
}

type MapMatchConfig struct {
	Enabled bool   `toml:"enabled"`
	URL     string `toml:"url"`
	APIKey  string `toml:"api_key"`
}

// StorageConfig configures where finished async audit exports land. No
// object-storage SDK is present anywhere in this codebase's lineage, so
// the artifact store is a local directory served back by download URL
// (see internal/audit's FileArtifactStore and DESIGN.md).
type StorageConfig struct {
	AuditExportDir string `toml:"audit_export_dir"`
}

// Load reads the built-in TOML default, applies env var overrides with the
// PM__ prefix (double underscore separates section from key, e.g.
// PM__SERVER__PORT), and returns the resolved Config.
func Load() (*Config, error) {
	cfg := &Config{}
	if _, err := toml.Decode(string(defaultTOML), cfg); err != nil {
		return nil, fmt.Errorf("parse default config: %w", err)
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PM__SERVER__HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v, ok := envInt("PM__SERVER__PORT"); ok {
		cfg.Server.Port = v
	}
	if v, ok := envInt("PM__SERVER__REQUEST_TIMEOUT_SECS"); ok {
		cfg.Server.RequestTimeoutSecs = v
	}
	if v, ok := envInt64("PM__SERVER__MAX_BODY_SIZE"); ok {
		cfg.Server.MaxBodySize = v
	}

	if v := os.Getenv("PM__DATABASE__URL"); v != "" {
		cfg.Database.URL = v
	}
	if v, ok := envInt("PM__DATABASE__POOL_MIN"); ok {
		cfg.Database.PoolMin = v
	}
	if v, ok := envInt("PM__DATABASE__POOL_MAX"); ok {
		cfg.Database.PoolMax = v
	}

	if v := os.Getenv("PM__JWT__PRIVATE_KEY"); v != "" {
		cfg.JWT.PrivateKey = v
	}
	if v := os.Getenv("PM__JWT__PUBLIC_KEY"); v != "" {
		cfg.JWT.PublicKey = v
	}
	if v := os.Getenv("PM__JWT__SECRET_KEY"); v != "" {
		cfg.JWT.SecretKey = v
	}
	if v, ok := envInt("PM__JWT__ACCESS_TOKEN_EXPIRY_SECS"); ok {
		cfg.JWT.AccessTokenExpirySecs = v
	}
	if v, ok := envInt("PM__JWT__REFRESH_TOKEN_EXPIRY_SECS"); ok {
		cfg.JWT.RefreshTokenExpirySecs = v
	}

	if v := os.Getenv("PM__SECURITY__CORS_ORIGINS"); v != "" {
		cfg.Security.CORSOrigins = strings.Split(v, ",")
	}
	if v, ok := envInt("PM__SECURITY__RATE_LIMIT_PER_MINUTE"); ok {
		cfg.Security.RateLimitPerMinute = v
	}

	if v, ok := envInt("PM__LIMITS__MAX_DEVICES"); ok {
		cfg.Limits.MaxDevices = v
	}
	if v, ok := envInt("PM__LIMITS__BATCH_SIZE"); ok {
		cfg.Limits.BatchSize = v
	}
	if v, ok := envInt("PM__LIMITS__LOCATION_RETENTION_DAYS"); ok {
		cfg.Limits.LocationRetentionDays = v
	}

	if v := os.Getenv("PM__MAPMATCH__URL"); v != "" {
		cfg.MapMatch.URL = v
		cfg.MapMatch.Enabled = true
	}
	if v := os.Getenv("PM__MAPMATCH__API_KEY"); v != "" {
		cfg.MapMatch.APIKey = v
	}

	if v := os.Getenv("PM__STORAGE__AUDIT_EXPORT_DIR"); v != "" {
		cfg.Storage.AuditExportDir = v
	}
}

func envInt(name string) (int, bool) {
	v := os.Getenv(name)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func envInt64(name string) (int64, bool) {
	v := os.Getenv(name)
	if v == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// UsesRS256 reports whether the configured JWT key material selects the
// asymmetric RS256 signer (canonical per the authenticator design) over the
// HS256 fallback.
func (c *Config) UsesRS256() bool {
	return strings.TrimSpace(c.JWT.PrivateKey) != "" && strings.TrimSpace(c.JWT.PublicKey) != ""
}

