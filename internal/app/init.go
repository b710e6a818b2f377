package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/router-for-me/ModelProviderConnections/internal/config"
	"github.com/router-for-me/ModelProviderConnections/internal/models"
	"github.com/router-for-me/ModelProviderConnections/internal/security"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
)

// ErrAlreadyBootstrapped is returned when an administrator already exists.
var ErrAlreadyBootstrapped = errors.New("an administrator already exists")

// ConfigExists reports whether the config file exists at the path.
func ConfigExists(configPath string) bool {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return false
	}
	return true
}

// configFile is the YAML layout written by WriteConfigFile.
type configFile struct {
	Port        int    `yaml:"port"`
	DatabaseDSN string `yaml:"database-dsn"`
	SecretKey   string `yaml:"secret-key"`
	LogLevel    string `yaml:"log-level"`
	JWT         struct {
		Secret string `yaml:"secret"`
		Expiry string `yaml:"expiry"`
	} `yaml:"jwt"`
	OpenAI struct {
		APIVersion string `yaml:"api-version"`
	} `yaml:"openai"`
	RateLimit struct {
		Limit int `yaml:"limit"`
	} `yaml:"rate-limit"`
	ModelCatalog struct {
		RefreshInterval string `yaml:"refresh-interval"`
	} `yaml:"model-catalog"`
}

// WriteConfigFile writes an initial config with freshly generated secrets.
func WriteConfigFile(configPath string, dsn string, port int) error {
	if strings.TrimSpace(dsn) == "" {
		return config.ErrMissingDatabaseDSN
	}
	jwtSecret, errJWT := security.GenerateRandomString(32)
	if errJWT != nil {
		return errJWT
	}
	secretKey, errKey := security.GenerateRandomString(32)
	if errKey != nil {
		return errKey
	}

	var cfg configFile
	cfg.Port = port
	cfg.DatabaseDSN = strings.TrimSpace(dsn)
	cfg.SecretKey = secretKey
	cfg.LogLevel = "info"
	cfg.JWT.Secret = jwtSecret
	cfg.JWT.Expiry = "720h"
	cfg.OpenAI.APIVersion = config.DefaultOpenAIAPIVersion
	cfg.RateLimit.Limit = 5
	cfg.ModelCatalog.RefreshInterval = "0s"

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if errMkdir := os.MkdirAll(filepath.Dir(configPath), 0755); errMkdir != nil {
		return fmt.Errorf("create config dir: %w", errMkdir)
	}
	if errWrite := os.WriteFile(configPath, data, 0600); errWrite != nil {
		return fmt.Errorf("write config file: %w", errWrite)
	}
	return nil
}

// HasAdministrator reports whether at least one administrator account exists.
func HasAdministrator(conn *gorm.DB) (bool, error) {
	if conn == nil {
		return false, fmt.Errorf("nil db")
	}
	if !conn.Migrator().HasTable(&models.User{}) {
		return false, nil
	}
	var count int64
	if errCount := conn.Model(&models.User{}).Where("is_administrator = ?", true).Count(&count).Error; errCount != nil {
		return false, errCount
	}
	return count > 0, nil
}

// CreateAdministratorWithConn creates the first organization and an administrator
// working in it.
func CreateAdministratorWithConn(conn *gorm.DB, username, organizationName string) (*models.User, error) {
	if conn == nil {
		return nil, fmt.Errorf("open database: nil connection")
	}
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, fmt.Errorf("administrator username is required")
	}
	organizationName = strings.TrimSpace(organizationName)
	if organizationName == "" {
		organizationName = "Default"
	}

	var admin models.User
	errTx := conn.Transaction(func(tx *gorm.DB) error {
		exists, errExists := HasAdministrator(tx)
		if errExists != nil {
			return errExists
		}
		if exists {
			return ErrAlreadyBootstrapped
		}
		org := models.Organization{Name: organizationName}
		if errOrg := tx.Create(&org).Error; errOrg != nil {
			return fmt.Errorf("create organization: %w", errOrg)
		}
		admin = models.User{
			Username:             username,
			Administrator:        true,
			ActiveOrganizationID: &org.ID,
		}
		if errAdmin := tx.Create(&admin).Error; errAdmin != nil {
			return fmt.Errorf("create administrator: %w", errAdmin)
		}
		return nil
	})
	if errTx != nil {
		return nil, errTx
	}
	return &admin, nil
}
