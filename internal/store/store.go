package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	dbutil "github.com/router-for-me/ModelProviderConnections/internal/db"
	"github.com/router-for-me/ModelProviderConnections/internal/models"
	"github.com/router-for-me/ModelProviderConnections/internal/secrets"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("store: not found")

// ListFilter narrows ListByOrganization results.
type ListFilter struct {
	Provider models.Provider // Exact provider tag; empty matches all.
	Scope    models.Scope    // Exact scope; empty matches all.
	Keyword  string          // Case-insensitive match on deployment name or endpoint.
}

// GormConnectionStore persists model provider connections via GORM and applies
// the organization and creator lifecycle rules.
type GormConnectionStore struct {
	db     *gorm.DB
	sealer secrets.Sealer
}

// NewGormConnectionStore constructs a GormConnectionStore. A nil sealer stores keys as-is.
func NewGormConnectionStore(db *gorm.DB, sealer secrets.Sealer) *GormConnectionStore {
	if sealer == nil {
		sealer = secrets.NopSealer{}
	}
	return &GormConnectionStore{db: db, sealer: sealer}
}

func (s *GormConnectionStore) ready() error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm connection store: not initialized")
	}
	return nil
}

// CreateOrganization inserts an organization.
func (s *GormConnectionStore) CreateOrganization(ctx context.Context, org *models.Organization) error {
	if err := s.ready(); err != nil {
		return err
	}
	if org == nil {
		return fmt.Errorf("gorm connection store: organization is nil")
	}
	if errCreate := s.db.WithContext(ctx).Create(org).Error; errCreate != nil {
		return fmt.Errorf("gorm connection store: create organization: %w", errCreate)
	}
	return nil
}

// CreateUser inserts a user.
func (s *GormConnectionStore) CreateUser(ctx context.Context, user *models.User) error {
	if err := s.ready(); err != nil {
		return err
	}
	if user == nil {
		return fmt.Errorf("gorm connection store: user is nil")
	}
	if errCreate := s.db.WithContext(ctx).Create(user).Error; errCreate != nil {
		return fmt.Errorf("gorm connection store: create user: %w", errCreate)
	}
	return nil
}

// GetUser loads a user by ID.
func (s *GormConnectionStore) GetUser(ctx context.Context, id uint64) (*models.User, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	var user models.User
	if errFind := s.db.WithContext(ctx).First(&user, "id = ?", id).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("gorm connection store: get user: %w", errFind)
	}
	return &user, nil
}

// Create inserts a connection. The API key is sealed on disk; row keeps the plaintext.
func (s *GormConnectionStore) Create(ctx context.Context, row *models.ModelProviderConnection) error {
	if err := s.ready(); err != nil {
		return err
	}
	if row == nil {
		return fmt.Errorf("gorm connection store: connection is nil")
	}
	return s.withSealedKey(row, func() error {
		if errCreate := s.db.WithContext(ctx).Omit("Organization", "CreatedBy").Create(row).Error; errCreate != nil {
			return fmt.Errorf("gorm connection store: create: %w", errCreate)
		}
		return nil
	})
}

// Get loads a connection by ID with its API key opened.
func (s *GormConnectionStore) Get(ctx context.Context, id uint64) (*models.ModelProviderConnection, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	var row models.ModelProviderConnection
	if errFind := s.db.WithContext(ctx).First(&row, "id = ?", id).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("gorm connection store: get: %w", errFind)
	}
	if errOpen := s.openKey(&row); errOpen != nil {
		return nil, errOpen
	}
	return &row, nil
}

// ListByOrganization returns an organization's connections, newest first.
func (s *GormConnectionStore) ListByOrganization(ctx context.Context, organizationID uint64, filter ListFilter) ([]models.ModelProviderConnection, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	q := s.db.WithContext(ctx).Model(&models.ModelProviderConnection{}).Where("organization_id = ?", organizationID)
	if filter.Provider != "" {
		q = q.Where("provider = ?", filter.Provider)
	}
	if filter.Scope != "" {
		q = q.Where("scope = ?", filter.Scope)
	}
	if keyword := strings.TrimSpace(filter.Keyword); keyword != "" {
		pattern := dbutil.NormalizeLikePattern(s.db, "%"+keyword+"%")
		q = q.Where(
			dbutil.CaseInsensitiveLikeExpr(s.db, "deployment_name")+" OR "+dbutil.CaseInsensitiveLikeExpr(s.db, "endpoint"),
			pattern,
			pattern,
		)
	}

	var rows []models.ModelProviderConnection
	if errFind := q.Order("created_at DESC, id DESC").Find(&rows).Error; errFind != nil {
		return nil, fmt.Errorf("gorm connection store: list: %w", errFind)
	}
	for i := range rows {
		if errOpen := s.openKey(&rows[i]); errOpen != nil {
			return nil, errOpen
		}
	}
	return rows, nil
}

// ListByProvider returns every connection for provider across organizations, oldest first.
func (s *GormConnectionStore) ListByProvider(ctx context.Context, provider models.Provider) ([]models.ModelProviderConnection, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	var rows []models.ModelProviderConnection
	if errFind := s.db.WithContext(ctx).
		Where("provider = ?", provider).
		Order("id ASC").
		Find(&rows).Error; errFind != nil {
		return nil, fmt.Errorf("gorm connection store: list by provider: %w", errFind)
	}
	for i := range rows {
		if errOpen := s.openKey(&rows[i]); errOpen != nil {
			return nil, errOpen
		}
	}
	return rows, nil
}

// UpdateCachedModels replaces only the cached model list of a connection.
func (s *GormConnectionStore) UpdateCachedModels(ctx context.Context, id uint64, cached datatypes.JSON) error {
	if err := s.ready(); err != nil {
		return err
	}
	res := s.db.WithContext(ctx).
		Model(&models.ModelProviderConnection{ID: id}).
		Update("cached_available_models", cached)
	if res.Error != nil {
		return fmt.Errorf("gorm connection store: update cached models: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Update saves all mutable fields of row.
func (s *GormConnectionStore) Update(ctx context.Context, row *models.ModelProviderConnection) error {
	if err := s.ready(); err != nil {
		return err
	}
	if row == nil || row.ID == 0 {
		return fmt.Errorf("gorm connection store: connection id is required")
	}
	return s.withSealedKey(row, func() error {
		res := s.db.WithContext(ctx).
			Model(&models.ModelProviderConnection{ID: row.ID}).
			Select("provider", "api_key", "deployment_name", "endpoint", "cached_available_models", "scope", "updated_at").
			Updates(row)
		if res.Error != nil {
			return fmt.Errorf("gorm connection store: update: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// Delete removes a connection.
func (s *GormConnectionStore) Delete(ctx context.Context, id uint64) error {
	if err := s.ready(); err != nil {
		return err
	}
	res := s.db.WithContext(ctx).Delete(&models.ModelProviderConnection{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("gorm connection store: delete: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteOrganization removes an organization together with its connections.
// Users working in it lose their active organization.
func (s *GormConnectionStore) DeleteOrganization(ctx context.Context, id uint64) error {
	if err := s.ready(); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if errCascade := tx.Where("organization_id = ?", id).Delete(&models.ModelProviderConnection{}).Error; errCascade != nil {
			return fmt.Errorf("gorm connection store: delete organization connections: %w", errCascade)
		}
		if errDetach := tx.Model(&models.User{}).
			Where("active_organization_id = ?", id).
			Update("active_organization_id", nil).Error; errDetach != nil {
			return fmt.Errorf("gorm connection store: detach organization users: %w", errDetach)
		}
		res := tx.Delete(&models.Organization{}, "id = ?", id)
		if res.Error != nil {
			return fmt.Errorf("gorm connection store: delete organization: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// DeleteUser removes a user. Connections they created survive with created_by cleared.
func (s *GormConnectionStore) DeleteUser(ctx context.Context, id uint64) error {
	if err := s.ready(); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if errNullify := tx.Model(&models.ModelProviderConnection{}).
			Where("created_by_id = ?", id).
			Update("created_by_id", nil).Error; errNullify != nil {
			return fmt.Errorf("gorm connection store: clear created_by: %w", errNullify)
		}
		res := tx.Delete(&models.User{}, "id = ?", id)
		if res.Error != nil {
			return fmt.Errorf("gorm connection store: delete user: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// SealPlaintextKeys seals API keys stored before a secret key was configured and
// returns how many rows it rewrote. It does nothing when sealing is disabled.
func (s *GormConnectionStore) SealPlaintextKeys(ctx context.Context) (int, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	if _, disabled := s.sealer.(secrets.NopSealer); disabled {
		return 0, nil
	}

	type keyRow struct {
		ID     uint64
		APIKey string
	}
	var rows []keyRow
	if errFind := s.db.WithContext(ctx).
		Model(&models.ModelProviderConnection{}).
		Select("id", "api_key").
		Where("api_key IS NOT NULL AND api_key <> ''").
		Find(&rows).Error; errFind != nil {
		return 0, fmt.Errorf("gorm connection store: list api keys: %w", errFind)
	}

	sealed := 0
	for _, row := range rows {
		if secrets.IsSealed(row.APIKey) {
			continue
		}
		value, errSeal := s.sealer.Seal(row.APIKey)
		if errSeal != nil {
			return sealed, fmt.Errorf("gorm connection store: seal api key for connection %d: %w", row.ID, errSeal)
		}
		if errUpdate := s.db.WithContext(ctx).
			Model(&models.ModelProviderConnection{}).
			Where("id = ? AND api_key = ?", row.ID, row.APIKey).
			UpdateColumn("api_key", value).Error; errUpdate != nil {
			return sealed, fmt.Errorf("gorm connection store: reseal connection %d: %w", row.ID, errUpdate)
		}
		sealed++
	}
	return sealed, nil
}

// withSealedKey runs fn with row.APIKey sealed and restores the plaintext afterwards.
func (s *GormConnectionStore) withSealedKey(row *models.ModelProviderConnection, fn func() error) error {
	plain := row.APIKey
	if plain != nil {
		sealed, errSeal := s.sealer.Seal(*plain)
		if errSeal != nil {
			return fmt.Errorf("gorm connection store: seal api key: %w", errSeal)
		}
		row.APIKey = &sealed
	}
	defer func() { row.APIKey = plain }()
	return fn()
}

func (s *GormConnectionStore) openKey(row *models.ModelProviderConnection) error {
	if row.APIKey == nil {
		return nil
	}
	opened, errOpen := s.sealer.Open(*row.APIKey)
	if errOpen != nil {
		return fmt.Errorf("gorm connection store: open api key for connection %d: %w", row.ID, errOpen)
	}
	row.APIKey = &opened
	return nil
}
