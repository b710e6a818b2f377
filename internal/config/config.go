package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

const (
	EnvConfigPath       = "CONFIG_PATH"
	EnvDBConnection     = "DB_CONNECTION"
	EnvJWTSecret        = "JWT_SECRET"
	EnvJWTExpiry        = "JWT_EXPIRY"
	EnvOpenAIAPIVersion = "OPENAI_API_VERSION"
	EnvOpenAIBaseURL    = "OPENAI_BASE_URL"
	EnvSecretKey        = "SECRET_KEY"
	EnvLogLevel         = "LOG_LEVEL"

	EnvRateLimit              = "RATE_LIMIT"
	EnvRateLimitRedisEnabled  = "RATE_LIMIT_REDIS_ENABLED"
	EnvRateLimitRedisAddr     = "RATE_LIMIT_REDIS_ADDR"
	EnvRateLimitRedisPassword = "RATE_LIMIT_REDIS_PASSWORD"
	EnvRateLimitRedisDB       = "RATE_LIMIT_REDIS_DB"
	EnvRateLimitRedisPrefix   = "RATE_LIMIT_REDIS_PREFIX"

	EnvModelCatalogRefreshInterval = "MODEL_CATALOG_REFRESH_INTERVAL"
)

// DefaultOpenAIAPIVersion is the Azure OpenAI api-version used when none is configured.
const DefaultOpenAIAPIVersion = "2024-06-01"

// AppConfig holds resolved application configuration values.
type AppConfig struct {
	ConfigPath string
}

// LoadFromEnv loads app config from environment variables.
func LoadFromEnv() (AppConfig, error) {
	return AppConfig{ConfigPath: ResolveConfigPath(os.Getenv(EnvConfigPath))}, nil
}

// ResolveConfigPath normalizes the config path and applies defaults.
func ResolveConfigPath(p string) string {
	trimmed := strings.TrimSpace(p)
	if trimmed == "" {
		trimmed = "./config.yaml"
	}
	if abs, err := filepath.Abs(trimmed); err == nil {
		return abs
	}
	return trimmed
}

// ErrMissingDatabaseDSN indicates no database DSN is present in the config file.
var ErrMissingDatabaseDSN = errors.New("missing database dsn (set `database-dsn` or `database.dsn` in config file)")

// JWTConfig holds JWT secret and expiry settings.
type JWTConfig struct {
	Secret string        `yaml:"secret"`
	Expiry time.Duration `yaml:"expiry"`
}

// OpenAIConfig holds provider client settings used by credential validation.
type OpenAIConfig struct {
	APIVersion string `yaml:"api-version"` // Azure OpenAI api-version query value.
	BaseURL    string `yaml:"base-url"`    // Optional OpenAI base URL override.
}

// RateLimitConfig holds the validate endpoint rate limit settings.
type RateLimitConfig struct {
	Limit         int    `yaml:"limit"` // Requests per second per user; 0 disables.
	RedisEnabled  bool   `yaml:"redis-enabled"`
	RedisAddr     string `yaml:"redis-addr"`
	RedisPassword string `yaml:"redis-password"`
	RedisDB       int    `yaml:"redis-db"`
	RedisPrefix   string `yaml:"redis-prefix"`
}

// DefaultRateLimitRedisPrefix namespaces limiter keys in Redis.
const DefaultRateLimitRedisPrefix = "mpc:rl"

// readFile parses the YAML config file into out. A missing file is not an error.
func readFile(configPath string, out any) error {
	data, errRead := os.ReadFile(configPath)
	if errRead != nil {
		if errors.Is(errRead, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config file: %w", errRead)
	}
	if errUnmarshal := yaml.Unmarshal(data, out); errUnmarshal != nil {
		return fmt.Errorf("parse config file: %w", errUnmarshal)
	}
	return nil
}

// LoadDatabaseDSN returns DB_CONNECTION, or the `database-dsn` / `database.dsn` file value.
func LoadDatabaseDSN(configPath string) (string, error) {
	if dsn := strings.TrimSpace(os.Getenv(EnvDBConnection)); dsn != "" {
		return dsn, nil
	}

	var cfg struct {
		DatabaseDSN string `yaml:"database-dsn"`
		Database    struct {
			DSN string `yaml:"dsn"`
		} `yaml:"database"`
	}
	if _, errStat := os.Stat(configPath); errStat != nil {
		return "", fmt.Errorf("read config file: %w", errStat)
	}
	if errRead := readFile(configPath, &cfg); errRead != nil {
		return "", errRead
	}
	for _, candidate := range []string{cfg.DatabaseDSN, cfg.Database.DSN} {
		if dsn := strings.TrimSpace(candidate); dsn != "" {
			return dsn, nil
		}
	}
	return "", ErrMissingDatabaseDSN
}

// defaultJWTExpiry applies when neither the file nor JWT_EXPIRY gives a positive expiry.
const defaultJWTExpiry = 30 * 24 * time.Hour

// LoadJWTConfig loads the bearer token settings. An unreadable file yields the defaults.
func LoadJWTConfig(configPath string) (JWTConfig, error) {
	var cfg struct {
		JWT JWTConfig `yaml:"jwt"`
	}
	if errRead := readFile(configPath, &cfg); errRead != nil {
		log.WithError(errRead).Debug("config: jwt section unavailable, using defaults")
	}
	result := cfg.JWT

	if secret := strings.TrimSpace(os.Getenv(EnvJWTSecret)); secret != "" {
		result.Secret = secret
	}
	if raw := strings.TrimSpace(os.Getenv(EnvJWTExpiry)); raw != "" {
		if expiry, errParse := time.ParseDuration(raw); errParse == nil {
			result.Expiry = expiry
		}
	}
	result.Secret = strings.TrimSpace(result.Secret)
	if result.Expiry <= 0 {
		result.Expiry = defaultJWTExpiry
	}
	return result, nil
}

// LoadOpenAIConfig loads provider client settings. OPENAI_API_VERSION wins over the file.
func LoadOpenAIConfig(configPath string) (OpenAIConfig, error) {
	type fileConfig struct {
		OpenAI OpenAIConfig `yaml:"openai"`
	}

	var cfg fileConfig
	if errRead := readFile(configPath, &cfg); errRead != nil {
		return OpenAIConfig{}, errRead
	}
	result := cfg.OpenAI
	if version := strings.TrimSpace(os.Getenv(EnvOpenAIAPIVersion)); version != "" {
		result.APIVersion = version
	}
	if baseURL := strings.TrimSpace(os.Getenv(EnvOpenAIBaseURL)); baseURL != "" {
		result.BaseURL = baseURL
	}
	result.APIVersion = strings.TrimSpace(result.APIVersion)
	if result.APIVersion == "" {
		result.APIVersion = DefaultOpenAIAPIVersion
	}
	result.BaseURL = strings.TrimSpace(result.BaseURL)
	return result, nil
}

// LoadSecretKey returns the key used to seal stored API keys. Empty disables sealing.
func LoadSecretKey(configPath string) (string, error) {
	if secret := strings.TrimSpace(os.Getenv(EnvSecretKey)); secret != "" {
		return secret, nil
	}
	type fileConfig struct {
		SecretKey string `yaml:"secret-key"`
	}
	var cfg fileConfig
	if errRead := readFile(configPath, &cfg); errRead != nil {
		return "", errRead
	}
	return strings.TrimSpace(cfg.SecretKey), nil
}

// LoadLogLevel resolves the logrus level. Unknown values fall back to info.
func LoadLogLevel(configPath string) log.Level {
	raw := strings.TrimSpace(os.Getenv(EnvLogLevel))
	if raw == "" {
		type fileConfig struct {
			LogLevel string `yaml:"log-level"`
		}
		var cfg fileConfig
		if errRead := readFile(configPath, &cfg); errRead == nil {
			raw = strings.TrimSpace(cfg.LogLevel)
		}
	}
	if raw == "" {
		return log.InfoLevel
	}
	level, errParse := log.ParseLevel(raw)
	if errParse != nil {
		return log.InfoLevel
	}
	return level
}

// LoadRateLimitConfig loads validate endpoint rate limit settings.
func LoadRateLimitConfig(configPath string) (RateLimitConfig, error) {
	type fileConfig struct {
		RateLimit RateLimitConfig `yaml:"rate-limit"`
	}
	var cfg fileConfig
	if errRead := readFile(configPath, &cfg); errRead != nil {
		return RateLimitConfig{}, errRead
	}
	result := cfg.RateLimit

	if raw := strings.TrimSpace(os.Getenv(EnvRateLimit)); raw != "" {
		if limit, errParse := strconv.Atoi(raw); errParse == nil {
			result.Limit = limit
		}
	}
	if raw := strings.TrimSpace(os.Getenv(EnvRateLimitRedisEnabled)); raw != "" {
		if enabled, errParse := strconv.ParseBool(raw); errParse == nil {
			result.RedisEnabled = enabled
		}
	}
	if raw := strings.TrimSpace(os.Getenv(EnvRateLimitRedisAddr)); raw != "" {
		result.RedisAddr = raw
	}
	if raw := strings.TrimSpace(os.Getenv(EnvRateLimitRedisPassword)); raw != "" {
		result.RedisPassword = raw
	}
	if raw := strings.TrimSpace(os.Getenv(EnvRateLimitRedisDB)); raw != "" {
		if db, errParse := strconv.Atoi(raw); errParse == nil {
			result.RedisDB = db
		}
	}
	if raw := strings.TrimSpace(os.Getenv(EnvRateLimitRedisPrefix)); raw != "" {
		result.RedisPrefix = raw
	}

	result.RedisAddr = strings.TrimSpace(result.RedisAddr)
	result.RedisPassword = strings.TrimSpace(result.RedisPassword)
	result.RedisPrefix = strings.TrimSpace(result.RedisPrefix)
	if result.RedisPrefix == "" {
		result.RedisPrefix = DefaultRateLimitRedisPrefix
	}
	if result.RedisDB < 0 {
		result.RedisDB = 0
	}
	if result.Limit < 0 {
		result.Limit = 0
	}
	return result, nil
}

// LoadServerPort returns the `port` from the config file, or defaultPort when unset.
func LoadServerPort(configPath string, defaultPort int) int {
	type fileConfig struct {
		Port int `yaml:"port"`
	}
	var cfg fileConfig
	if errRead := readFile(configPath, &cfg); errRead != nil || cfg.Port <= 0 || cfg.Port > 65535 {
		return defaultPort
	}
	return cfg.Port
}

// ModelCatalogConfig controls the background refresh of cached model lists.
type ModelCatalogConfig struct {
	RefreshInterval time.Duration `yaml:"refresh-interval"` // 0 disables the refresher.
}

// LoadModelCatalogConfig loads the cached model refresh settings.
func LoadModelCatalogConfig(configPath string) (ModelCatalogConfig, error) {
	type fileConfig struct {
		ModelCatalog ModelCatalogConfig `yaml:"model-catalog"`
	}
	var cfg fileConfig
	if errRead := readFile(configPath, &cfg); errRead != nil {
		return ModelCatalogConfig{}, errRead
	}
	result := cfg.ModelCatalog
	if raw := strings.TrimSpace(os.Getenv(EnvModelCatalogRefreshInterval)); raw != "" {
		if interval, errParse := time.ParseDuration(raw); errParse == nil {
			result.RefreshInterval = interval
		}
	}
	if result.RefreshInterval < 0 {
		result.RefreshInterval = 0
	}
	return result, nil
}
