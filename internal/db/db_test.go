package db

import (
	"path/filepath"
	"testing"

	"github.com/router-for-me/ModelProviderConnections/internal/models"
)

func openTestDB(t *testing.T) string {
	t.Helper()
	return "file:" + filepath.Join(t.TempDir(), "connections-test.db")
}

func TestOpen_RejectsEmptyAndBadDSN(t *testing.T) {
	if _, err := Open("  "); err == nil {
		t.Fatalf("expected error for empty dsn")
	}
	if _, err := Open("postgres://user@localhost:notaport/db"); err == nil {
		t.Fatalf("expected error for malformed postgres dsn")
	}
}

func TestWithSQLiteForeignKeys(t *testing.T) {
	cases := map[string]string{
		"file:a.db":                         "file:a.db?_pragma=foreign_keys(1)",
		"file:a.db?_busy_timeout=5000":      "file:a.db?_busy_timeout=5000&_pragma=foreign_keys(1)",
		"file:a.db?_pragma=foreign_keys(0)": "file:a.db?_pragma=foreign_keys(0)",
	}
	for in, want := range cases {
		if got := withSQLiteForeignKeys(in); got != want {
			t.Fatalf("withSQLiteForeignKeys(%q): expected %q, got %q", in, want, got)
		}
	}
}

func TestMigrate_SQLiteEnforcesLifecycleConstraints(t *testing.T) {
	conn, err := Open(openTestDB(t))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if DialectName(conn) != DialectSQLite {
		t.Fatalf("expected sqlite dialect, got %q", DialectName(conn))
	}
	if errMigrate := Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	if errMigrate := Migrate(conn); errMigrate != nil {
		t.Fatalf("second migrate: %v", errMigrate)
	}

	org := models.Organization{Name: "Acme"}
	if errCreate := conn.Create(&org).Error; errCreate != nil {
		t.Fatalf("create org: %v", errCreate)
	}
	user := models.User{Username: "ada"}
	if errCreate := conn.Create(&user).Error; errCreate != nil {
		t.Fatalf("create user: %v", errCreate)
	}
	row := models.ModelProviderConnection{
		Provider:       models.ProviderOpenAI,
		Scope:          models.ScopeOrganization,
		OrganizationID: &org.ID,
		CreatedByID:    &user.ID,
	}
	if errCreate := conn.Create(&row).Error; errCreate != nil {
		t.Fatalf("create connection: %v", errCreate)
	}

	if errDelete := conn.Exec("DELETE FROM users WHERE id = ?", user.ID).Error; errDelete != nil {
		t.Fatalf("delete user: %v", errDelete)
	}
	var reloaded models.ModelProviderConnection
	if errFind := conn.First(&reloaded, row.ID).Error; errFind != nil {
		t.Fatalf("connection should survive user deletion: %v", errFind)
	}
	if reloaded.CreatedByID != nil {
		t.Fatalf("expected created_by_id to be nulled, got %d", *reloaded.CreatedByID)
	}

	if errDelete := conn.Exec("DELETE FROM organizations WHERE id = ?", org.ID).Error; errDelete != nil {
		t.Fatalf("delete org: %v", errDelete)
	}
	var count int64
	if errCount := conn.Model(&models.ModelProviderConnection{}).Count(&count).Error; errCount != nil {
		t.Fatalf("count: %v", errCount)
	}
	if count != 0 {
		t.Fatalf("expected cascade delete, got %d rows", count)
	}
}
