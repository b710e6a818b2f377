package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/ModelProviderConnections/internal/metrics"
	"github.com/router-for-me/ModelProviderConnections/internal/models"
	"github.com/router-for-me/ModelProviderConnections/internal/providers"
	"github.com/router-for-me/ModelProviderConnections/internal/ratelimit"
	"github.com/router-for-me/ModelProviderConnections/internal/store"
	log "github.com/sirupsen/logrus"
)

// ConnectionStore is the persistence surface the connection handlers need.
type ConnectionStore interface {
	Create(ctx context.Context, row *models.ModelProviderConnection) error
	Get(ctx context.Context, id uint64) (*models.ModelProviderConnection, error)
	ListByOrganization(ctx context.Context, organizationID uint64, filter store.ListFilter) ([]models.ModelProviderConnection, error)
	Update(ctx context.Context, row *models.ModelProviderConnection) error
	Delete(ctx context.Context, id uint64) error
}

// ConnectionHandler manages admin CRUD and key validation for model provider connections.
type ConnectionHandler struct {
	store     ConnectionStore            // Connection persistence.
	validator models.CredentialValidator // Provider credential checks.
	limiter   *ratelimit.Manager         // Validate endpoint limiter; nil disables.
	metrics   *metrics.Metrics           // Validation metrics; nil disables.
}

// NewConnectionHandler constructs a ConnectionHandler.
func NewConnectionHandler(s ConnectionStore, validator models.CredentialValidator, limiter *ratelimit.Manager, m *metrics.Metrics) *ConnectionHandler {
	return &ConnectionHandler{store: s, validator: validator, limiter: limiter, metrics: m}
}

// createConnectionRequest captures the payload for creating a connection.
type createConnectionRequest struct {
	Provider              *string  `json:"provider"`                // Provider tag; defaults to OpenAI.
	APIKey                *string  `json:"api_key"`                 // Optional API key.
	DeploymentName        *string  `json:"deployment_name"`         // Optional Azure deployment.
	Endpoint              *string  `json:"endpoint"`                // Optional Azure endpoint.
	CachedAvailableModels []string `json:"cached_available_models"` // Optional model list.
	Scope                 *string  `json:"scope"`                   // Scope; defaults to Organization.
}

// updateConnectionRequest captures optional fields for updates.
type updateConnectionRequest struct {
	Provider              *string   `json:"provider"`                // Optional provider.
	APIKey                *string   `json:"api_key"`                 // Optional API key; blank clears.
	DeploymentName        *string   `json:"deployment_name"`         // Optional deployment; blank clears.
	Endpoint              *string   `json:"endpoint"`                // Optional endpoint; blank clears.
	CachedAvailableModels *[]string `json:"cached_available_models"` // Optional model list.
	Scope                 *string   `json:"scope"`                   // Optional scope.
}

// Create inserts a connection in the caller's active organization.
func (h *ConnectionHandler) Create(c *gin.Context) {
	actor := CurrentUser(c)
	if !requireActiveOrganization(c, actor) {
		return
	}

	var body createConnectionRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	row := models.ModelProviderConnection{
		Provider:       models.ProviderOpenAI,
		Scope:          models.ScopeOrganization,
		APIKey:         optionalString(body.APIKey),
		DeploymentName: optionalString(body.DeploymentName),
		Endpoint:       optionalString(body.Endpoint),
		OrganizationID: actor.CurrentOrganizationID(),
	}
	if actor != nil {
		row.CreatedByID = &actor.ID
	}
	if body.Provider != nil {
		provider, errProvider := models.ParseProvider(*body.Provider)
		if errProvider != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid provider"})
			return
		}
		row.Provider = provider
	}
	if body.Scope != nil {
		scope, errScope := models.ParseScope(*body.Scope)
		if errScope != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid scope"})
			return
		}
		row.Scope = scope
	}
	if body.CachedAvailableModels != nil {
		if errModels := row.SetCachedModels(body.CachedAvailableModels); errModels != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid cached_available_models"})
			return
		}
	}

	if !row.HasPermission(actor) {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}

	if errCreate := h.store.Create(c.Request.Context(), &row); errCreate != nil {
		log.WithError(errCreate).Error("create model provider connection failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create connection failed"})
		return
	}
	c.JSON(http.StatusCreated, formatConnectionRow(&row))
}

// List returns the connections of the caller's active organization.
func (h *ConnectionHandler) List(c *gin.Context) {
	actor := CurrentUser(c)
	if !requireActiveOrganization(c, actor) {
		return
	}
	scope := models.ModelProviderConnection{OrganizationID: actor.CurrentOrganizationID()}
	if !scope.HasPermission(actor) {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}

	filter := store.ListFilter{Keyword: strings.TrimSpace(c.Query("keyword"))}
	if raw := strings.TrimSpace(c.Query("provider")); raw != "" {
		provider, errProvider := models.ParseProvider(raw)
		if errProvider != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid provider"})
			return
		}
		filter.Provider = provider
	}
	if raw := strings.TrimSpace(c.Query("scope")); raw != "" {
		scope, errScope := models.ParseScope(raw)
		if errScope != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid scope"})
			return
		}
		filter.Scope = scope
	}

	rows, errList := h.store.ListByOrganization(c.Request.Context(), *scope.OrganizationID, filter)
	if errList != nil {
		log.WithError(errList).Error("list model provider connections failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list connections failed"})
		return
	}

	out := make([]gin.H, 0, len(rows))
	for i := range rows {
		if rows[i].HasPermission(actor) {
			out = append(out, formatConnectionRow(&rows[i]))
		}
	}
	c.JSON(http.StatusOK, gin.H{"connections": out})
}

// Get returns a single connection.
func (h *ConnectionHandler) Get(c *gin.Context) {
	row, ok := h.loadPermitted(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, formatConnectionRow(row))
}

// Update applies validated changes to a connection.
func (h *ConnectionHandler) Update(c *gin.Context) {
	row, ok := h.loadPermitted(c)
	if !ok {
		return
	}

	var body updateConnectionRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	if body.Provider != nil {
		provider, errProvider := models.ParseProvider(*body.Provider)
		if errProvider != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid provider"})
			return
		}
		row.Provider = provider
	}
	if body.Scope != nil {
		scope, errScope := models.ParseScope(*body.Scope)
		if errScope != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid scope"})
			return
		}
		row.Scope = scope
	}
	if body.APIKey != nil {
		row.APIKey = optionalString(body.APIKey)
	}
	if body.DeploymentName != nil {
		row.DeploymentName = optionalString(body.DeploymentName)
	}
	if body.Endpoint != nil {
		row.Endpoint = optionalString(body.Endpoint)
	}
	if body.CachedAvailableModels != nil {
		if errModels := row.SetCachedModels(*body.CachedAvailableModels); errModels != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid cached_available_models"})
			return
		}
	}

	if errUpdate := h.store.Update(c.Request.Context(), row); errUpdate != nil {
		if errors.Is(errUpdate, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "connection not found"})
			return
		}
		log.WithError(errUpdate).Error("update model provider connection failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update connection failed"})
		return
	}
	c.JSON(http.StatusOK, formatConnectionRow(row))
}

// Delete removes a connection.
func (h *ConnectionHandler) Delete(c *gin.Context) {
	row, ok := h.loadPermitted(c)
	if !ok {
		return
	}
	if errDelete := h.store.Delete(c.Request.Context(), row.ID); errDelete != nil && !errors.Is(errDelete, store.ErrNotFound) {
		log.WithError(errDelete).Error("delete model provider connection failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete connection failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

// Validate checks the stored API key against the connection's provider.
func (h *ConnectionHandler) Validate(c *gin.Context) {
	row, ok := h.loadPermitted(c)
	if !ok {
		return
	}
	if !h.allowValidation(c) {
		return
	}

	provider := row.Provider.String()
	started := time.Now()
	errValidate := row.ValidateAPIKey(c.Request.Context(), h.validator)
	elapsed := time.Since(started)

	entry := log.WithFields(log.Fields{
		"connection_id": row.ID,
		"provider":      provider,
		"elapsed":       elapsed.String(),
	})
	switch {
	case errValidate == nil:
		h.metrics.ObserveValidation(provider, metrics.ResultValid, elapsed)
		entry.Info("api key validated")
		c.JSON(http.StatusOK, gin.H{"valid": true})
	case providers.IsNotImplemented(errValidate):
		h.metrics.ObserveValidation(provider, metrics.ResultUnsupported, elapsed)
		c.JSON(http.StatusNotImplemented, gin.H{"valid": false, "error": errValidate.Error()})
	default:
		h.metrics.ObserveValidation(provider, metrics.ResultInvalid, elapsed)
		entry.WithError(errValidate).Warn("api key validation failed")
		c.JSON(http.StatusBadRequest, gin.H{"valid": false, "error": "invalid API key", "detail": errValidate.Error()})
	}
}

// allowValidation applies the per-user limit and writes 429 when exceeded.
func (h *ConnectionHandler) allowValidation(c *gin.Context) bool {
	if h.limiter == nil {
		return true
	}
	actor := CurrentUser(c)
	if actor == nil {
		return true
	}
	result, errAllow := h.limiter.Allow(c.Request.Context(), ratelimit.ValidationKey(actor.ID))
	if errAllow != nil {
		log.WithError(errAllow).Warn("rate limit check failed")
		return true
	}
	if limit := h.limiter.Limit(); limit > 0 {
		c.Header("X-RateLimit-Limit", strconv.Itoa(limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(result.Reset.Unix(), 10))
	}
	if result.Allowed {
		return true
	}
	h.metrics.ObserveRateLimited()
	c.JSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
	return false
}

// requireActiveOrganization writes 403 unless actor works in an organization.
// Connections are created and listed per organization.
func requireActiveOrganization(c *gin.Context, actor *models.User) bool {
	if actor.CurrentOrganizationID() != nil {
		return true
	}
	c.JSON(http.StatusForbidden, gin.H{"error": "no active organization"})
	return false
}

// loadPermitted fetches the :id connection and enforces HasPermission.
func (h *ConnectionHandler) loadPermitted(c *gin.Context) (*models.ModelProviderConnection, bool) {
	id, okID := parseID(c)
	if !okID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return nil, false
	}
	row, errGet := h.store.Get(c.Request.Context(), id)
	if errGet != nil {
		if errors.Is(errGet, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "connection not found"})
			return nil, false
		}
		log.WithError(errGet).Error("fetch model provider connection failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "fetch connection failed"})
		return nil, false
	}
	if !row.HasPermission(CurrentUser(c)) {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return nil, false
	}
	return row, true
}

func formatConnectionRow(row *models.ModelProviderConnection) gin.H {
	if row == nil {
		return gin.H{}
	}
	names := row.CachedModels()
	if names == nil {
		names = []string{}
	}
	return gin.H{
		"id":                      row.ID,
		"provider":                row.Provider,
		"api_key":                 maskAPIKey(row.APIKeyValue()),
		"has_api_key":             row.APIKey != nil,
		"deployment_name":         row.DeploymentName,
		"endpoint":                row.Endpoint,
		"cached_available_models": names,
		"scope":                   row.Scope,
		"organization_id":         row.OrganizationID,
		"created_by_id":           row.CreatedByID,
		"created_at":              row.CreatedAt,
		"updated_at":              row.UpdatedAt,
	}
}
