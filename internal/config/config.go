// Package config provides pipeline-preset defaults and the process-wide
// server configuration, bound from the environment the way reel's
// internal/config binds CLI defaults.
package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"

	"subcap/internal/domain"
)

// ServerConfig is the process-wide configuration, bound from environment
// variables per spec §6.
type ServerConfig struct {
	AllowedOrigins []string `envconfig:"ALLOWED_ORIGINS"`
	S3Endpoint     string   `envconfig:"S3_ENDPOINT"`
	S3Bucket       string   `envconfig:"S3_BUCKET"`
	S3AccessKey    string   `envconfig:"S3_ACCESS_KEY"`
	S3SecretKey    string   `envconfig:"S3_SECRET_KEY"`
	S3Region       string   `envconfig:"S3_REGION"`

	CacheDir string `envconfig:"CACHE_DIR" default:"cache"`
	Addr     string `envconfig:"LISTEN_ADDR" default:":8080"`
}

// LocalOnly reports whether no object-store endpoint is configured, per
// spec §4.11.
func (c ServerConfig) LocalOnly() bool {
	return c.S3Endpoint == ""
}

// Load reads ServerConfig from the environment.
func Load() (*ServerConfig, error) {
	var cfg ServerConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load server config: %w", err)
	}
	return &cfg, nil
}

// ResolvePipelineConfig applies an explicit override over a preset's
// defaults and validates the result, per spec §3.
func ResolvePipelineConfig(preset domain.Preset, override domain.PipelineConfig) (domain.PipelineConfig, error) {
	resolved := domain.PresetDefaults(preset).Merge(override)
	if err := resolved.Validate(); err != nil {
		return domain.PipelineConfig{}, domain.NewError(domain.KindInvalidArgument, "invalid pipeline config", err)
	}
	return resolved, nil
}

// DefaultBlurSettings returns sensible defaults for BlurSettings fields a
// caller omitted (zero-valued).
func DefaultBlurSettings(in domain.BlurSettings) domain.BlurSettings {
	out := in
	if out.FontSize == 0 {
		out.FontSize = 24
	}
	if out.PaddingX == 0 {
		out.PaddingX = 0.3
	}
	if out.PaddingY == 0 {
		out.PaddingY = 0.3
	}
	if out.Sigma == 0 {
		out.Sigma = 15
	}
	if out.Feather == 0 {
		out.Feather = 12
	}
	if out.WidthMultiplier == 0 {
		out.WidthMultiplier = 1.0
	}
	if out.Mode == "" {
		out.Mode = domain.BlurModeBlur
	}
	return out
}
