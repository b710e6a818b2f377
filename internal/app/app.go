package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/router-for-me/ModelProviderConnections/internal/config"
	"github.com/router-for-me/ModelProviderConnections/internal/db"
	admin "github.com/router-for-me/ModelProviderConnections/internal/http/api/admin"
	"github.com/router-for-me/ModelProviderConnections/internal/metrics"
	"github.com/router-for-me/ModelProviderConnections/internal/modelcatalog"
	"github.com/router-for-me/ModelProviderConnections/internal/providers"
	"github.com/router-for-me/ModelProviderConnections/internal/ratelimit"
	"github.com/router-for-me/ModelProviderConnections/internal/secrets"
	"github.com/router-for-me/ModelProviderConnections/internal/security"
	"github.com/router-for-me/ModelProviderConnections/internal/store"
	"github.com/router-for-me/ModelProviderConnections/internal/watcher"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	shutdownTimeout   = 10 * time.Second
	readHeaderTimeout = 10 * time.Second
)

// Migrate opens the database and runs migrations.
func Migrate(ctx context.Context, cfg config.AppConfig) error {
	conn, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	return db.Migrate(conn.WithContext(ctx))
}

// Bootstrap creates the first organization and administrator and returns a bearer token for it.
func Bootstrap(ctx context.Context, cfg config.AppConfig, username, organizationName string) (string, error) {
	configPath := config.ResolveConfigPath(cfg.ConfigPath)
	conn, err := openDatabase(cfg)
	if err != nil {
		return "", err
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		return "", errMigrate
	}
	user, errCreate := CreateAdministratorWithConn(conn.WithContext(ctx), username, organizationName)
	if errCreate != nil {
		return "", errCreate
	}
	jwtCfg, _ := config.LoadJWTConfig(configPath)
	return security.IssueUserToken(jwtCfg.Secret, user.ID, jwtCfg.Expiry)
}

// RunServer boots the admin API and blocks until ctx is cancelled.
func RunServer(ctx context.Context, cfg config.AppConfig, defaultPort int) error {
	configPath := config.ResolveConfigPath(cfg.ConfigPath)
	conn, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		return errMigrate
	}
	if initialized, errInit := HasAdministrator(conn); errInit == nil && !initialized {
		log.Warn("no administrator exists yet; run with -bootstrap-admin to create one")
	}

	jwtCfg, _ := config.LoadJWTConfig(configPath)
	if jwtCfg.Secret == "" {
		return fmt.Errorf("jwt secret is required (set `jwt.secret` or %s)", config.EnvJWTSecret)
	}

	secretKey, errSecret := config.LoadSecretKey(configPath)
	if errSecret != nil {
		return errSecret
	}
	if secretKey == "" {
		log.Warn("secret key not configured; provider API keys are stored unsealed")
	}
	sealer, errSealer := secrets.NewSealer(secretKey)
	if errSealer != nil {
		return errSealer
	}

	openaiCfg, errOpenAI := config.LoadOpenAIConfig(configPath)
	if errOpenAI != nil {
		return errOpenAI
	}
	rateCfg, errRate := config.LoadRateLimitConfig(configPath)
	if errRate != nil {
		return errRate
	}
	catalogCfg, errCatalog := config.LoadModelCatalogConfig(configPath)
	if errCatalog != nil {
		return errCatalog
	}
	providerOpts := providers.Options{
		AzureAPIVersion: openaiCfg.APIVersion,
		OpenAIBaseURL:   openaiCfg.BaseURL,
	}
	connStore := store.NewGormConnectionStore(conn, sealer)
	if sealedCount, errSealKeys := connStore.SealPlaintextKeys(ctx); errSealKeys != nil {
		return errSealKeys
	} else if sealedCount > 0 {
		log.Infof("sealed %d stored API keys", sealedCount)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	appMetrics := metrics.New(reg)
	appMetrics.SetRateLimit(rateCfg.Limit)

	cfgWatcher := watcher.NewConfigWatcher(configPath, rateCfg)
	cfgWatcher.OnReload(func(next config.RateLimitConfig) { appMetrics.SetRateLimit(next.Limit) })
	cfgWatcher.Start(ctx)
	limiter := ratelimit.NewManager(cfgWatcher.RateLimitSettings, nil, nil)
	defer func() { _ = limiter.Close() }()

	engine := gin.New()
	engine.Use(gin.Recovery())
	admin.RegisterAdminRoutes(engine, admin.Deps{
		DB:        conn,
		Store:     connStore,
		Validator: providers.NewRegistry(providerOpts),
		Limiter:   limiter,
		Metrics:   appMetrics,
		Gatherer:  reg,
		JWT:       jwtCfg,
	})

	modelcatalog.NewRefresher(connStore, providers.NewOpenAIValidator(providerOpts), catalogCfg.RefreshInterval).Start(ctx)

	port := config.LoadServerPort(configPath, defaultPort)
	server := &http.Server{
		Addr:              ":" + strconv.Itoa(port),
		Handler:           engine,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithFields(log.Fields{
			"addr":              server.Addr,
			"config":            configPath,
			"azure_api_version": openaiCfg.APIVersion,
			"rate_limit":        rateCfg.Limit,
		}).Info("starting model provider connections server")
		if errServe := server.ListenAndServe(); errServe != nil && !errors.Is(errServe, http.ErrServerClosed) {
			errCh <- errServe
		}
		close(errCh)
	}()

	select {
	case errServe := <-errCh:
		return errServe
	case <-ctx.Done():
	}

	log.Info("shutting down server")
	ctxShutdown, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if errShutdown := server.Shutdown(ctxShutdown); errShutdown != nil {
		return fmt.Errorf("shutdown server: %w", errShutdown)
	}
	return nil
}

func openDatabase(cfg config.AppConfig) (*gorm.DB, error) {
	configPath := config.ResolveConfigPath(cfg.ConfigPath)
	dsn, err := config.LoadDatabaseDSN(configPath)
	if err != nil {
		return nil, err
	}
	return db.Open(dsn)
}
