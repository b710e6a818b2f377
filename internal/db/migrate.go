package db

import (
	"fmt"

	"github.com/router-for-me/ModelProviderConnections/internal/models"
	"gorm.io/gorm"
)

// ddl defines an index or DDL statement to apply after automigration.
type ddl struct {
	name string // Human-readable name for error reporting.
	sql  string // SQL to execute.
}

// sharedIndexes are valid on both dialects.
var sharedIndexes = []ddl{
	{
		name: "idx_model_provider_connections_org_provider",
		sql: `
			CREATE INDEX IF NOT EXISTS idx_model_provider_connections_org_provider
			ON model_provider_connections (organization_id, provider)
		`,
	},
	{
		name: "idx_model_provider_connections_org_created_at",
		sql: `
			CREATE INDEX IF NOT EXISTS idx_model_provider_connections_org_created_at
			ON model_provider_connections (organization_id, created_at DESC)
		`,
	},
}

// Migrate runs database migrations for the current dialect.
func Migrate(conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("db: nil connection")
	}
	switch DialectName(conn) {
	case DialectSQLite:
		return migrateSQLite(conn)
	case DialectPostgres, "":
		return migratePostgres(conn)
	default:
		return fmt.Errorf("db: unsupported dialect: %s", DialectName(conn))
	}
}

func autoMigrate(conn *gorm.DB) error {
	if errAutoMigrate := conn.AutoMigrate(
		&models.Organization{},
		&models.User{},
		&models.ModelProviderConnection{},
	); errAutoMigrate != nil {
		return fmt.Errorf("db: migrate: %w", errAutoMigrate)
	}
	return nil
}

// migratePostgres applies PostgreSQL-specific schema updates and indexes.
func migratePostgres(conn *gorm.DB) error {
	if errAutoMigrate := autoMigrate(conn); errAutoMigrate != nil {
		return errAutoMigrate
	}

	// Provider stays unconstrained so unsupported tags can still be loaded and reported.
	if errCheck := conn.Exec(`
		DO $$
		BEGIN
			IF NOT EXISTS (
				SELECT 1 FROM pg_constraint WHERE conname = 'chk_model_provider_connections_scope'
			) THEN
				ALTER TABLE model_provider_connections
				ADD CONSTRAINT chk_model_provider_connections_scope
				CHECK (scope IN ('Organization', 'User', 'Model'));
			END IF;
		END $$;
	`).Error; errCheck != nil {
		return fmt.Errorf("db: add scope check: %w", errCheck)
	}

	return applyDDL(conn, sharedIndexes)
}

// migrateSQLite applies SQLite schema updates and indexes.
func migrateSQLite(conn *gorm.DB) error {
	if errFK := conn.Exec(`PRAGMA foreign_keys = ON`).Error; errFK != nil {
		return fmt.Errorf("db: enable foreign keys: %w", errFK)
	}
	if errAutoMigrate := autoMigrate(conn); errAutoMigrate != nil {
		return errAutoMigrate
	}
	return applyDDL(conn, sharedIndexes)
}

func applyDDL(conn *gorm.DB, ddls []ddl) error {
	for _, stmt := range ddls {
		if errExec := conn.Exec(stmt.sql).Error; errExec != nil {
			return fmt.Errorf("db: apply %s: %w", stmt.name, errExec)
		}
	}
	return nil
}
