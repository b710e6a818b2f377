package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/router-for-me/ModelProviderConnections/internal/app"
	"github.com/router-for-me/ModelProviderConnections/internal/config"

	log "github.com/sirupsen/logrus"
)

// main runs the CLI entrypoint and exits on unrecoverable command errors.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if errRun := run(ctx, os.Args[1:]); errRun != nil {
		log.WithError(errRun).Error("command failed")
		os.Exit(1)
	}
}

// run parses flags, loads config, and starts the server or a one-shot command.
func run(ctx context.Context, args []string) error {
	flags := flag.NewFlagSet("server", flag.ContinueOnError)
	cfgPath := flags.String("config", "", "config file path (or env CONFIG_PATH)")
	port := flags.Int("port", 8320, "server port when the config file sets none")
	initDSN := flags.String("init-dsn", "", "write a new config file with this database DSN when none exists")
	migrateOnly := flags.Bool("migrate", false, "run database migrations and exit")
	bootstrapAdmin := flags.String("bootstrap-admin", "", "create the first administrator with this username, print its token, and exit")
	bootstrapOrg := flags.String("bootstrap-org", "Default", "organization name for -bootstrap-admin")
	if errParse := flags.Parse(args); errParse != nil {
		return errParse
	}

	if errValidate := validatePort(*port); errValidate != nil {
		return errValidate
	}

	if errEnv := loadDotEnv(); errEnv != nil {
		return errEnv
	}

	appCfg, err := config.LoadFromEnv()
	if err != nil {
		return err
	}
	if strings.TrimSpace(*cfgPath) != "" {
		appCfg.ConfigPath = config.ResolveConfigPath(*cfgPath)
	}
	configPath := config.ResolveConfigPath(appCfg.ConfigPath)
	log.SetLevel(config.LoadLogLevel(configPath))

	if dsn := strings.TrimSpace(*initDSN); dsn != "" && !app.ConfigExists(configPath) {
		if errWrite := app.WriteConfigFile(configPath, dsn, *port); errWrite != nil {
			return errWrite
		}
		log.Infof("wrote initial config to %s", configPath)
	}

	switch {
	case *migrateOnly:
		if errMigrate := app.Migrate(ctx, appCfg); errMigrate != nil {
			return errMigrate
		}
		log.Info("migrations applied")
		return nil
	case strings.TrimSpace(*bootstrapAdmin) != "":
		token, errBootstrap := app.Bootstrap(ctx, appCfg, *bootstrapAdmin, *bootstrapOrg)
		if errBootstrap != nil {
			return errBootstrap
		}
		fmt.Println(token)
		return nil
	}

	return app.RunServer(ctx, appCfg, *port)
}

// loadDotEnv reads .env from the working directory when present.
func loadDotEnv() error {
	if errLoad := godotenv.Load(); errLoad != nil && !errors.Is(errLoad, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", errLoad)
	}
	return nil
}

func validatePort(port int) error {
	if port <= 0 || port > 65535 {
		return fmt.Errorf("invalid port: %d", port)
	}
	return nil
}
