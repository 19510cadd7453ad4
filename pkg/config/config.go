package config

import (
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/time/rate"

	sberrors "github.com/odvcencio/sidebar/pkg/errors"
	"github.com/odvcencio/sidebar/pkg/item"
	"github.com/odvcencio/sidebar/pkg/logging"
	"github.com/odvcencio/sidebar/pkg/sidebar"
	"github.com/odvcencio/sidebar/pkg/transport"
	"github.com/odvcencio/sidebar/pkg/visibility"
)

const (
	CacheBackendMemory = "memory"
	CacheBackendSQLite = "sqlite"

	defaultAddress       = "127.0.0.1:4590"
	defaultSettleTimeout = 10 * time.Second
	defaultSubjectPrefix = "sidebar"

	dirName = ".sidebar"
)

// Config holds all sidebar configuration
type Config struct {
	Transport      TransportConfig      `yaml:"transport"`
	Capabilities   CapabilitiesConfig   `yaml:"capabilities"`
	Metadata       MetadataConfig       `yaml:"metadata"`
	Locale         LocaleConfig         `yaml:"locale"`
	DefaultView    string               `yaml:"default_view"`
	AdditionalTabs []item.AdditionalTab `yaml:"additional_tabs"`
	FetchFields    []string             `yaml:"fetch_fields"`
	Cache          CacheConfig          `yaml:"cache"`
	Logging        LoggingConfig        `yaml:"logging"`
	Server         ServerConfig         `yaml:"server"`
	Telemetry      TelemetryConfig      `yaml:"telemetry"`
}

// TransportConfig configures the content API client
type TransportConfig struct {
	APIHost            string        `yaml:"api_host"`
	ClientName         string        `yaml:"client_name"`
	Token              string        `yaml:"token"`
	SharedLink         string        `yaml:"shared_link"`
	SharedLinkPassword string        `yaml:"shared_link_password"`
	Timeout            time.Duration `yaml:"timeout"`
	RateLimit          float64       `yaml:"rate_limit"`
	Burst              int           `yaml:"burst"`
	MaxRetries         int           `yaml:"max_retries"`
}

// CapabilitiesConfig mirrors the host's panel capability flags
type CapabilitiesConfig struct {
	HasActivityFeed   bool                           `yaml:"has_activity_feed"`
	HasAdditionalTabs bool                           `yaml:"has_additional_tabs"`
	HasMetadata       bool                           `yaml:"has_metadata"`
	HasSkills         bool                           `yaml:"has_skills"`
	Details           visibility.DetailsCapabilities `yaml:"details"`
}

// MetadataConfig controls the metadata feature flag
type MetadataConfig struct {
	// FeatureEnabled defaults to true, which skips the editor fetch.
	FeatureEnabled bool `yaml:"feature_enabled"`
}

// LocaleConfig is passed through to the panels
type LocaleConfig struct {
	Language string            `yaml:"language"`
	Messages map[string]string `yaml:"messages"`
}

// CacheConfig selects the shared cache backend
type CacheConfig struct {
	Backend string        `yaml:"backend"`
	Path    string        `yaml:"path"`
	TTL     time.Duration `yaml:"ttl"`
}

// LoggingConfig configures the JSONL event log
type LoggingConfig struct {
	// Dir is where session and error logs go. Empty logs to stderr.
	Dir   string `yaml:"dir"`
	Level string `yaml:"level"`
}

// ServerConfig configures the HTTP façade
type ServerConfig struct {
	Address       string        `yaml:"address"`
	SettleTimeout time.Duration `yaml:"settle_timeout"`
	// AuthToken is the bearer token API callers must present. Empty leaves
	// reads open and disables cache purging.
	AuthToken string `yaml:"auth_token"`
	// AllowedOrigins lists extra browser origins for the event stream.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// TelemetryConfig configures tracing and the event relay
type TelemetryConfig struct {
	Tracing       bool   `yaml:"tracing"`
	NATSURL       string `yaml:"nats_url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// DefaultConfig returns configuration with sensible defaults
func DefaultConfig() *Config {
	retry := transport.DefaultRetryConfig()
	return &Config{
		Transport: TransportConfig{
			APIHost:    transport.DefaultAPIHost,
			ClientName: transport.DefaultClientName,
			Timeout:    transport.DefaultTimeout,
			RateLimit:  float64(transport.DefaultRateLimit),
			Burst:      transport.DefaultBurst,
			MaxRetries: retry.MaxRetries,
		},
		Metadata: MetadataConfig{
			FeatureEnabled: true,
		},
		Locale: LocaleConfig{
			Language: sidebar.DefaultLanguage,
		},
		Cache: CacheConfig{
			Backend: CacheBackendMemory,
		},
		Logging: LoggingConfig{
			Level: string(logging.LevelInfo),
		},
		Server: ServerConfig{
			Address:       defaultAddress,
			SettleTimeout: defaultSettleTimeout,
		},
		Telemetry: TelemetryConfig{
			SubjectPrefix: defaultSubjectPrefix,
		},
	}
}

// Load loads configuration from default locations with proper precedence
func Load() (*Config, error) {
	return load("")
}

// LoadFromPath loads the default locations and then the given file on
// top of them. Unlike the default locations the file must exist.
func LoadFromPath(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return nil, sberrors.New(sberrors.ErrCodeConfigLoad, "config path is empty")
	}
	return load(expandHomeDir(path))
}

func load(explicit string) (*Config, error) {
	cfg := DefaultConfig()

	configEnv := loadConfigEnvVars()

	// User config (~/.sidebar/config.yaml)
	if dir := UserDir(); dir != "" {
		userConfigPath := filepath.Join(dir, "config.yaml")
		if err := loadAndMerge(cfg, userConfigPath); err != nil && !os.IsNotExist(err) {
			return nil, wrapLoadError(err, userConfigPath)
		}
	}

	// Project config (./.sidebar/config.yaml)
	projectConfigPath := filepath.Join(".", dirName, "config.yaml")
	if err := loadAndMerge(cfg, projectConfigPath); err != nil && !os.IsNotExist(err) {
		return nil, wrapLoadError(err, projectConfigPath)
	}

	if explicit != "" {
		if err := loadAndMerge(cfg, explicit); err != nil {
			return nil, wrapLoadError(err, explicit)
		}
	}

	applyEnvOverrides(cfg, configEnv)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func wrapLoadError(err error, path string) error {
	if _, ok := sberrors.As(err); ok {
		return err
	}
	return sberrors.Wrap(err, sberrors.ErrCodeConfigLoad, "loading config").WithContext("path", path)
}

// applyEnvOverrides applies SIDEBAR_* environment variables. Values from
// ~/.sidebar/config.env are used when the process environment lacks them.
func applyEnvOverrides(cfg *Config, configEnv map[string]string) {
	get := func(key string) string {
		if v := os.Getenv(key); v != "" {
			return v
		}
		return configEnv[key]
	}

	if v := get("SIDEBAR_API_HOST"); v != "" {
		cfg.Transport.APIHost = v
	}
	if v := get("SIDEBAR_TOKEN"); v != "" {
		cfg.Transport.Token = v
	}
	if v := get("SIDEBAR_SHARED_LINK"); v != "" {
		cfg.Transport.SharedLink = v
	}
	if v := get("SIDEBAR_SHARED_LINK_PASSWORD"); v != "" {
		cfg.Transport.SharedLinkPassword = v
	}
	if v := get("SIDEBAR_CACHE_BACKEND"); v != "" {
		cfg.Cache.Backend = strings.ToLower(v)
	}
	if v := get("SIDEBAR_CACHE_PATH"); v != "" {
		cfg.Cache.Path = v
	}
	if v := get("SIDEBAR_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
	if v := get("SIDEBAR_ADDR"); v != "" {
		cfg.Server.Address = v
	}
	if v := get("SIDEBAR_SERVER_TOKEN"); v != "" {
		cfg.Server.AuthToken = v
	}
	if v := get("SIDEBAR_NATS_URL"); v != "" {
		cfg.Telemetry.NATSURL = v
	}
	if v := get("SIDEBAR_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Transport.MaxRetries = n
		}
	}

	if val, ok := envBool(get("SIDEBAR_METADATA_FEATURE_ENABLED")); ok {
		cfg.Metadata.FeatureEnabled = val
	}
	if val, ok := envBool(get("SIDEBAR_HAS_ACTIVITY_FEED")); ok {
		cfg.Capabilities.HasActivityFeed = val
	}
	if val, ok := envBool(get("SIDEBAR_HAS_METADATA")); ok {
		cfg.Capabilities.HasMetadata = val
	}
	if val, ok := envBool(get("SIDEBAR_HAS_SKILLS")); ok {
		cfg.Capabilities.HasSkills = val
	}
	if val, ok := envBool(get("SIDEBAR_HAS_ADDITIONAL_TABS")); ok {
		cfg.Capabilities.HasAdditionalTabs = val
	}
}

func envBool(val string) (bool, bool) {
	if val == "" {
		return false, false
	}
	switch strings.ToLower(val) {
	case "1", "true", "yes", "on":
		return true, true
	case "0", "false", "no", "off":
		return false, true
	default:
		return false, false
	}
}

func invalid(field, format string, args ...any) error {
	return sberrors.Newf(sberrors.ErrCodeConfigInvalid, format, args...).WithContext("field", field)
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	host, err := url.Parse(c.Transport.APIHost)
	if err != nil || host.Host == "" || (host.Scheme != "http" && host.Scheme != "https") {
		return invalid("transport.api_host", "invalid api host: %q (must be an http or https URL)", c.Transport.APIHost)
	}
	if strings.TrimSpace(c.Transport.ClientName) == "" {
		return invalid("transport.client_name", "client name must not be empty")
	}
	if c.Transport.SharedLinkPassword != "" && c.Transport.SharedLink == "" {
		return invalid("transport.shared_link_password", "shared link password requires a shared link")
	}
	if c.Transport.Timeout <= 0 {
		return invalid("transport.timeout", "timeout must be positive, got %s", c.Transport.Timeout)
	}
	if c.Transport.RateLimit <= 0 {
		return invalid("transport.rate_limit", "rate limit must be positive, got %v", c.Transport.RateLimit)
	}
	if c.Transport.Burst <= 0 {
		return invalid("transport.burst", "burst must be positive, got %d", c.Transport.Burst)
	}
	if c.Transport.MaxRetries < 0 {
		return invalid("transport.max_retries", "max retries must not be negative, got %d", c.Transport.MaxRetries)
	}

	if _, err := language.Parse(c.Locale.Language); err != nil {
		return invalid("locale.language", "invalid language tag: %q", c.Locale.Language)
	}

	switch c.Cache.Backend {
	case CacheBackendMemory:
	case CacheBackendSQLite:
		if strings.TrimSpace(c.Cache.Path) == "" {
			return invalid("cache.path", "sqlite cache requires a path")
		}
	default:
		return invalid("cache.backend", "invalid cache backend: %s (valid: memory, sqlite)", c.Cache.Backend)
	}
	if c.Cache.TTL < 0 {
		return invalid("cache.ttl", "cache ttl must not be negative")
	}

	if logging.ParseLevel(c.Logging.Level) != logging.Level(strings.ToLower(c.Logging.Level)) {
		return invalid("logging.level", "invalid log level: %s (valid: debug, info, warn, error)", c.Logging.Level)
	}

	if strings.TrimSpace(c.Server.Address) == "" {
		return invalid("server.address", "server address must not be empty")
	}
	if c.Server.SettleTimeout <= 0 {
		return invalid("server.settle_timeout", "settle timeout must be positive")
	}

	if u := strings.TrimSpace(c.Telemetry.NATSURL); u != "" {
		parsed, err := url.Parse(u)
		if err != nil || (parsed.Scheme != "nats" && parsed.Scheme != "tls") {
			return invalid("telemetry.nats_url", "invalid nats url: %q", u)
		}
	}
	if strings.TrimSpace(c.Telemetry.SubjectPrefix) == "" {
		return invalid("telemetry.subject_prefix", "subject prefix must not be empty")
	}
	return nil
}

// ValidationWarnings returns non-fatal configuration issues.
func (c *Config) ValidationWarnings() []string {
	var warnings []string
	if c.Transport.Token == "" {
		warnings = append(warnings, "transport.token is empty; only public shared links will resolve")
	}
	if c.Capabilities.HasAdditionalTabs && len(c.AdditionalTabs) == 0 {
		warnings = append(warnings, "capabilities.has_additional_tabs is set but no additional_tabs are configured")
	}
	if c.Server.AuthToken == "" && !isLoopbackBindAddress(c.Server.Address) {
		warnings = append(warnings, "server.address is not a loopback address and server.auth_token is empty; the API is unauthenticated")
	}
	return warnings
}

func isLoopbackBindAddress(addr string) bool {
	host := strings.TrimSpace(addr)
	if i := strings.LastIndex(host, ":"); i >= 0 {
		host = host[:i]
	}
	host = strings.Trim(host, "[]")
	switch host {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return strings.HasPrefix(host, "127.")
}

// TransportOptions builds the client options handed to every mount.
func (c *Config) TransportOptions() transport.Options {
	retry := transport.DefaultRetryConfig()
	retry.MaxRetries = c.Transport.MaxRetries
	return transport.Options{
		APIHost:            c.Transport.APIHost,
		ClientName:         c.Transport.ClientName,
		Token:              c.Transport.Token,
		SharedLink:         c.Transport.SharedLink,
		SharedLinkPassword: c.Transport.SharedLinkPassword,
		Timeout:            c.Transport.Timeout,
		RateLimit:          rate.Limit(c.Transport.RateLimit),
		Burst:              c.Transport.Burst,
		Retry:              &retry,
	}
}

// VisibilityOptions converts the capability flags for the policy.
func (c *Config) VisibilityOptions() visibility.Options {
	return visibility.Options{
		HasActivityFeed:        c.Capabilities.HasActivityFeed,
		HasAdditionalTabs:      c.Capabilities.HasAdditionalTabs,
		HasMetadata:            c.Capabilities.HasMetadata,
		HasSkills:              c.Capabilities.HasSkills,
		Details:                c.Capabilities.Details,
		MetadataFeatureEnabled: c.Metadata.FeatureEnabled,
		AdditionalTabs:         append([]item.AdditionalTab(nil), c.AdditionalTabs...),
	}
}

// SidebarOptions returns orchestrator options for targetID. Callers add
// the cache, observers, logger and hub.
func (c *Config) SidebarOptions(targetID string) sidebar.Options {
	return sidebar.Options{
		TargetID:               targetID,
		Transport:              c.TransportOptions(),
		Visibility:             c.VisibilityOptions(),
		MetadataFeatureEnabled: sidebar.Bool(c.Metadata.FeatureEnabled),
		FetchOptions:           transport.FetchOptions{Fields: append([]string(nil), c.FetchFields...)},
		Language:               c.Locale.Language,
		Messages:               c.Locale.Messages,
		DefaultView:            c.DefaultView,
	}
}

func loadConfigEnvVars() map[string]string {
	dir := UserDir()
	if dir == "" {
		return nil
	}

	data, err := os.ReadFile(filepath.Join(dir, "config.env"))
	if err != nil {
		return nil
	}

	vars := make(map[string]string)
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		vars[key] = strings.Trim(strings.TrimSpace(value), "\"'")
	}
	return vars
}
