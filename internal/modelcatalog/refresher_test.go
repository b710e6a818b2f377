package modelcatalog

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	dbutil "github.com/router-for-me/ModelProviderConnections/internal/db"
	"github.com/router-for-me/ModelProviderConnections/internal/models"
	"github.com/router-for-me/ModelProviderConnections/internal/store"
)

type fakeLister struct {
	byKey map[string][]string
	seen  []string
}

func (f *fakeLister) ListModels(_ context.Context, conn *models.ModelProviderConnection) ([]string, error) {
	key := conn.APIKeyValue()
	f.seen = append(f.seen, key)
	names, ok := f.byKey[key]
	if !ok {
		return nil, errors.New("401 invalid api key")
	}
	return names, nil
}

func newStore(t *testing.T) (*store.GormConnectionStore, *models.Organization) {
	t.Helper()
	conn, err := dbutil.Open("file:" + filepath.Join(t.TempDir(), "catalog.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := dbutil.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, errDB := conn.DB(); errDB == nil {
			_ = sqlDB.Close()
		}
	})
	s := store.NewGormConnectionStore(conn, nil)
	org := &models.Organization{Name: "Acme"}
	if err := s.CreateOrganization(context.Background(), org); err != nil {
		t.Fatalf("create org: %v", err)
	}
	return s, org
}

func addConnection(t *testing.T, s *store.GormConnectionStore, org *models.Organization, provider models.Provider, key string) *models.ModelProviderConnection {
	t.Helper()
	row := &models.ModelProviderConnection{Provider: provider, APIKey: &key, OrganizationID: &org.ID}
	if err := s.Create(context.Background(), row); err != nil {
		t.Fatalf("create connection: %v", err)
	}
	return row
}

func TestNewRefresher_DisabledWithoutInterval(t *testing.T) {
	s, _ := newStore(t)
	if r := NewRefresher(s, &fakeLister{}, 0); r != nil {
		t.Fatalf("expected nil refresher for zero interval")
	}
	var r *Refresher
	r.Start(context.Background())
	if _, err := r.SyncOnce(context.Background()); err == nil {
		t.Fatalf("expected error from nil refresher")
	}
}

func TestSyncOnce_UpdatesOpenAIConnectionsAndSkipsFailures(t *testing.T) {
	s, org := newStore(t)
	good := addConnection(t, s, org, models.ProviderOpenAI, "sk-good")
	bad := addConnection(t, s, org, models.ProviderOpenAI, "sk-bad")
	azure := addConnection(t, s, org, models.ProviderAzureOpenAI, "az-key")

	lister := &fakeLister{byKey: map[string][]string{
		"sk-good": {"gpt-4o-mini", "gpt-4o"},
		"az-key":  {"should-not-be-used"},
	}}
	r := NewRefresher(s, lister, time.Minute)

	updated, err := r.SyncOnce(context.Background())
	if err == nil || !strings.Contains(err.Error(), "1 of 2") {
		t.Fatalf("expected partial failure error, got %v", err)
	}
	if updated != 1 {
		t.Fatalf("expected 1 updated connection, got %d", updated)
	}
	if len(lister.seen) != 2 {
		t.Fatalf("expected only OpenAI connections listed, saw %v", lister.seen)
	}

	got, err := s.Get(context.Background(), good.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if names := got.CachedModels(); len(names) != 2 || names[0] != "gpt-4o" || names[1] != "gpt-4o-mini" {
		t.Fatalf("expected sorted model list, got %v", names)
	}
	for _, id := range []uint64{bad.ID, azure.ID} {
		other, errGet := s.Get(context.Background(), id)
		if errGet != nil {
			t.Fatalf("get: %v", errGet)
		}
		if other.CachedModels() != nil {
			t.Fatalf("expected connection %d untouched, got %v", id, other.CachedModels())
		}
	}
}

func TestFitCachedModels_TrimsToBound(t *testing.T) {
	names := make([]string, 0, 300)
	for i := 0; i < 300; i++ {
		names = append(names, fmt.Sprintf("model-%03d-%s", i, strings.Repeat("x", 10)))
	}
	cached, err := fitCachedModels(names)
	if err != nil {
		t.Fatalf("fit: %v", err)
	}
	if len(cached) > models.MaxCachedModelsLength {
		t.Fatalf("expected at most %d bytes, got %d", models.MaxCachedModelsLength, len(cached))
	}
	if !strings.HasPrefix(string(cached), `["model-000-`) {
		t.Fatalf("expected lowest sorted names kept, got %s", cached[:32])
	}

	empty, err := fitCachedModels(nil)
	if err != nil || string(empty) != "[]" {
		t.Fatalf("expected empty list, got %q err=%v", empty, err)
	}
}
