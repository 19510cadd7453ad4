package config

import (
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	sberrors "github.com/odvcencio/sidebar/pkg/errors"
	"github.com/odvcencio/sidebar/pkg/item"
)

// loadAndMerge loads a YAML file and merges it into the config.
func loadAndMerge(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var override Config
	if err := yaml.Unmarshal(data, &override); err != nil {
		return sberrors.Wrap(err, sberrors.ErrCodeConfigParse, "parsing YAML").WithContext("path", path)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return sberrors.Wrap(err, sberrors.ErrCodeConfigParse, "parsing YAML").WithContext("path", path)
	}

	mergeConfigs(cfg, &override, raw)
	return nil
}

// mergeConfigs merges override into base. Strings and lists win when
// non-empty; booleans and numbers that may legitimately be zero win only
// when the key is present in the file.
func mergeConfigs(base, override *Config, raw map[string]any) {
	if override == nil {
		return
	}

	mergeTransport(&base.Transport, override.Transport, raw)
	mergeCapabilities(&base.Capabilities, override.Capabilities, raw)

	if fieldSet(raw, "metadata", "feature_enabled") {
		base.Metadata.FeatureEnabled = override.Metadata.FeatureEnabled
	}

	if strings.TrimSpace(override.Locale.Language) != "" {
		base.Locale.Language = override.Locale.Language
	}
	if len(override.Locale.Messages) > 0 {
		if base.Locale.Messages == nil {
			base.Locale.Messages = make(map[string]string, len(override.Locale.Messages))
		}
		for k, v := range override.Locale.Messages {
			base.Locale.Messages[k] = v
		}
	}

	if fieldSet(raw, "default_view") {
		base.DefaultView = override.DefaultView
	}
	if override.AdditionalTabs != nil {
		base.AdditionalTabs = append([]item.AdditionalTab{}, override.AdditionalTabs...)
	}
	if override.FetchFields != nil {
		base.FetchFields = append([]string{}, override.FetchFields...)
	}

	if override.Cache.Backend != "" {
		base.Cache.Backend = strings.ToLower(override.Cache.Backend)
	}
	if override.Cache.Path != "" {
		base.Cache.Path = override.Cache.Path
	}
	if fieldSet(raw, "cache", "ttl") {
		base.Cache.TTL = override.Cache.TTL
	}

	if override.Logging.Dir != "" {
		base.Logging.Dir = override.Logging.Dir
	}
	if override.Logging.Level != "" {
		base.Logging.Level = strings.ToLower(override.Logging.Level)
	}

	if override.Server.Address != "" {
		base.Server.Address = override.Server.Address
	}
	if override.Server.SettleTimeout != 0 {
		base.Server.SettleTimeout = override.Server.SettleTimeout
	}
	if override.Server.AuthToken != "" {
		base.Server.AuthToken = override.Server.AuthToken
	}
	if fieldSet(raw, "server", "allowed_origins") {
		base.Server.AllowedOrigins = append([]string(nil), override.Server.AllowedOrigins...)
	}

	if fieldSet(raw, "telemetry", "tracing") {
		base.Telemetry.Tracing = override.Telemetry.Tracing
	}
	if override.Telemetry.NATSURL != "" {
		base.Telemetry.NATSURL = override.Telemetry.NATSURL
	}
	if override.Telemetry.SubjectPrefix != "" {
		base.Telemetry.SubjectPrefix = override.Telemetry.SubjectPrefix
	}
}

func mergeTransport(base *TransportConfig, override TransportConfig, raw map[string]any) {
	if override.APIHost != "" {
		base.APIHost = override.APIHost
	}
	if override.ClientName != "" {
		base.ClientName = override.ClientName
	}
	if override.Token != "" {
		base.Token = override.Token
	}
	if override.SharedLink != "" {
		base.SharedLink = override.SharedLink
	}
	if override.SharedLinkPassword != "" {
		base.SharedLinkPassword = override.SharedLinkPassword
	}
	if override.Timeout != 0 {
		base.Timeout = override.Timeout
	}
	if override.RateLimit != 0 {
		base.RateLimit = override.RateLimit
	}
	if override.Burst != 0 {
		base.Burst = override.Burst
	}
	if fieldSet(raw, "transport", "max_retries") {
		base.MaxRetries = override.MaxRetries
	}
}

func mergeCapabilities(base *CapabilitiesConfig, override CapabilitiesConfig, raw map[string]any) {
	if fieldSet(raw, "capabilities", "has_activity_feed") {
		base.HasActivityFeed = override.HasActivityFeed
	}
	if fieldSet(raw, "capabilities", "has_additional_tabs") {
		base.HasAdditionalTabs = override.HasAdditionalTabs
	}
	if fieldSet(raw, "capabilities", "has_metadata") {
		base.HasMetadata = override.HasMetadata
	}
	if fieldSet(raw, "capabilities", "has_skills") {
		base.HasSkills = override.HasSkills
	}

	details := func(key string) bool { return fieldSet(raw, "capabilities", "details", key) }
	if details("has_properties") {
		base.Details.HasProperties = override.Details.HasProperties
	}
	if details("has_notices") {
		base.Details.HasNotices = override.Details.HasNotices
	}
	if details("has_access_stats") {
		base.Details.HasAccessStats = override.Details.HasAccessStats
	}
	if details("has_classification") {
		base.Details.HasClassification = override.Details.HasClassification
	}
	if details("has_retention_policy") {
		base.Details.HasRetentionPolicy = override.Details.HasRetentionPolicy
	}
	if details("has_versions") {
		base.Details.HasVersions = override.Details.HasVersions
	}
}

// fieldSet reports whether the key path is present in the raw YAML.
func fieldSet(raw map[string]any, path ...string) bool {
	if len(path) == 0 || raw == nil {
		return false
	}
	current := any(raw)
	for _, key := range path {
		m, ok := current.(map[string]any)
		if !ok {
			return false
		}
		val, ok := m[key]
		if !ok {
			return false
		}
		current = val
	}
	return true
}
