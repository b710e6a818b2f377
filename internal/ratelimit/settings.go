package ratelimit

import (
	"strings"

	"github.com/router-for-me/ModelProviderConnections/internal/config"
)

// SettingsConfig captures the limiter settings in effect.
type SettingsConfig = config.RateLimitConfig

// SettingsProvider supplies the latest settings snapshot.
type SettingsProvider func() SettingsConfig

// StaticSettings returns a provider that always yields cfg, normalized.
func StaticSettings(cfg SettingsConfig) SettingsProvider {
	cfg = normalizeSettings(cfg)
	return func() SettingsConfig { return cfg }
}

func normalizeSettings(cfg SettingsConfig) SettingsConfig {
	cfg.RedisAddr = strings.TrimSpace(cfg.RedisAddr)
	cfg.RedisPassword = strings.TrimSpace(cfg.RedisPassword)
	cfg.RedisPrefix = strings.TrimSpace(cfg.RedisPrefix)
	if cfg.RedisPrefix == "" {
		cfg.RedisPrefix = config.DefaultRateLimitRedisPrefix
	}
	if cfg.RedisDB < 0 {
		cfg.RedisDB = 0
	}
	if cfg.Limit < 0 {
		cfg.Limit = 0
	}
	return cfg
}
