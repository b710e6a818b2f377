package models

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
)

// Provider identifies the third-party service a connection authenticates against.
type Provider string

// Supported providers.
const (
	ProviderOpenAI      Provider = "OpenAI"
	ProviderAzureOpenAI Provider = "AzureOpenAI"
)

// ErrInvalidProvider is returned when a provider value is outside the supported set.
var ErrInvalidProvider = errors.New("invalid provider")

// ParseProvider validates a raw provider value.
func ParseProvider(raw string) (Provider, error) {
	p := Provider(strings.TrimSpace(raw))
	if !p.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidProvider, raw)
	}
	return p, nil
}

// Valid reports whether p is one of the supported providers.
func (p Provider) Valid() bool {
	switch p {
	case ProviderOpenAI, ProviderAzureOpenAI:
		return true
	default:
		return false
	}
}

func (p Provider) String() string { return string(p) }

// UnmarshalJSON rejects providers outside the supported set.
func (p *Provider) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseProvider(raw)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Scope describes the granularity a stored credential applies to.
type Scope string

// Supported scopes.
const (
	ScopeOrganization Scope = "Organization"
	ScopeUser         Scope = "User"
	ScopeModel        Scope = "Model"
)

// ErrInvalidScope is returned when a scope value is outside the supported set.
var ErrInvalidScope = errors.New("invalid scope")

// ParseScope validates a raw scope value.
func ParseScope(raw string) (Scope, error) {
	s := Scope(strings.TrimSpace(raw))
	if !s.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidScope, raw)
	}
	return s, nil
}

// Valid reports whether s is one of the supported scopes.
func (s Scope) Valid() bool {
	switch s {
	case ScopeOrganization, ScopeUser, ScopeModel:
		return true
	default:
		return false
	}
}

func (s Scope) String() string { return string(s) }

// UnmarshalJSON rejects scopes outside the supported set.
func (s *Scope) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseScope(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// MaxCachedModelsLength bounds the serialized cached model list.
const MaxCachedModelsLength = 4096

// ErrCachedModelsTooLong is returned when the serialized model list exceeds MaxCachedModelsLength.
var ErrCachedModelsTooLong = fmt.Errorf("cached available models exceed %d bytes", MaxCachedModelsLength)

// Member is the subset of a user that permission checks need.
type Member interface {
	IsAdministrator() bool
	IsOwner() bool
	IsManager() bool
	CurrentOrganizationID() *uint64
}

// CredentialValidator checks a connection's credential against its provider.
type CredentialValidator interface {
	ValidateAPIKey(ctx context.Context, conn *ModelProviderConnection) error
}

// ModelProviderConnection stores credentials for one ML API provider.
type ModelProviderConnection struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Provider       Provider `gorm:"type:varchar(255);not null;default:'OpenAI'"` // Provider tag.
	APIKey         *string  `gorm:"type:text"`                                   // Provider API key.
	DeploymentName *string  `gorm:"type:varchar(512)"`                           // Azure deployment name.
	Endpoint       *string  `gorm:"type:varchar(512)"`                           // Azure endpoint.

	CachedAvailableModels datatypes.JSON // Serialized list of models reported by the provider.

	Scope Scope `gorm:"type:varchar(255);not null;default:'Organization'"` // Credential granularity.

	OrganizationID *uint64       `gorm:"index"`                                                 // Owning organization ID.
	Organization   *Organization `gorm:"foreignKey:OrganizationID;constraint:OnDelete:CASCADE"` // Owning organization.

	CreatedByID *uint64 `gorm:"index"`                                               // Creating user ID.
	CreatedBy   *User   `gorm:"foreignKey:CreatedByID;constraint:OnDelete:SET NULL"` // Creating user.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// TableName overrides the default table name.
func (ModelProviderConnection) TableName() string {
	return "model_provider_connections"
}

// HasPermission reports whether m may manage this connection: m must hold an
// elevated role and its active organization must equal the connection's.
// Two absent organizations are equal.
func (c *ModelProviderConnection) HasPermission(m Member) bool {
	if c == nil || m == nil {
		return false
	}
	if !m.IsAdministrator() && !m.IsOwner() && !m.IsManager() {
		return false
	}
	return sameOrganization(m.CurrentOrganizationID(), c.OrganizationID)
}

func sameOrganization(a, b *uint64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// ValidateAPIKey checks the stored credential with v. Errors from the provider
// client are returned unchanged.
func (c *ModelProviderConnection) ValidateAPIKey(ctx context.Context, v CredentialValidator) error {
	if v == nil {
		return errors.New("validate api key: nil validator")
	}
	return v.ValidateAPIKey(ctx, c)
}

// CachedModels decodes the cached model list. Undecodable content yields nil.
func (c *ModelProviderConnection) CachedModels() []string {
	if c == nil || len(c.CachedAvailableModels) == 0 {
		return nil
	}
	var out []string
	if err := json.Unmarshal(c.CachedAvailableModels, &out); err != nil {
		return nil
	}
	return out
}

// SetCachedModels replaces the cached model list. A nil slice clears it.
func (c *ModelProviderConnection) SetCachedModels(names []string) error {
	if names == nil {
		c.CachedAvailableModels = nil
		return nil
	}
	cleaned := make([]string, 0, len(names))
	for _, name := range names {
		if trimmed := strings.TrimSpace(name); trimmed != "" {
			cleaned = append(cleaned, trimmed)
		}
	}
	data, err := json.Marshal(cleaned)
	if err != nil {
		return err
	}
	if len(data) > MaxCachedModelsLength {
		return ErrCachedModelsTooLong
	}
	c.CachedAvailableModels = datatypes.JSON(bytes.Clone(data))
	return nil
}

// APIKeyValue returns the API key or an empty string.
func (c *ModelProviderConnection) APIKeyValue() string {
	if c == nil {
		return ""
	}
	return deref(c.APIKey)
}

// DeploymentNameValue returns the deployment name or an empty string.
func (c *ModelProviderConnection) DeploymentNameValue() string {
	if c == nil {
		return ""
	}
	return deref(c.DeploymentName)
}

// EndpointValue returns the endpoint or an empty string.
func (c *ModelProviderConnection) EndpointValue() string {
	if c == nil {
		return ""
	}
	return deref(c.Endpoint)
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
