package admin

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/router-for-me/ModelProviderConnections/internal/config"
	handlers "github.com/router-for-me/ModelProviderConnections/internal/http/api/admin/handlers"
	"github.com/router-for-me/ModelProviderConnections/internal/metrics"
	"github.com/router-for-me/ModelProviderConnections/internal/models"
	"github.com/router-for-me/ModelProviderConnections/internal/ratelimit"
	"github.com/router-for-me/ModelProviderConnections/internal/security"
	"github.com/router-for-me/ModelProviderConnections/internal/store"
	"gorm.io/gorm"
)

// UserFinder resolves the user named by a token.
type UserFinder interface {
	GetUser(ctx context.Context, id uint64) (*models.User, error)
}

// Store is the persistence surface the admin API needs.
type Store interface {
	handlers.ConnectionStore
	UserFinder
}

// Deps bundles everything RegisterAdminRoutes wires together.
type Deps struct {
	DB        *gorm.DB                   // Database handle for health checks.
	Store     Store                      // Connection and user persistence.
	Validator models.CredentialValidator // Provider credential checks.
	Limiter   *ratelimit.Manager         // Validate endpoint limiter.
	Metrics   *metrics.Metrics           // Prometheus collectors.
	Gatherer  prometheus.Gatherer        // Source for GET /metrics; nil skips the route.
	JWT       config.JWTConfig           // Bearer token settings.
}

// RegisterAdminRoutes registers admin routes, middleware, and handlers.
func RegisterAdminRoutes(r *gin.Engine, deps Deps) {
	if r == nil || deps.Store == nil {
		return
	}

	r.Use(requestLogger(), requestMetrics(deps.Metrics))

	healthHandler := handlers.NewHealthHandler(deps.DB)
	r.GET("/healthz", healthHandler.Healthz)

	if deps.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	authed := r.Group("/v0/admin")
	authed.Use(adminAuthMiddleware(deps.Store, deps.JWT))

	connectionHandler := handlers.NewConnectionHandler(deps.Store, deps.Validator, deps.Limiter, deps.Metrics)
	authed.POST("/model-provider-connections", connectionHandler.Create)
	authed.GET("/model-provider-connections", connectionHandler.List)
	authed.GET("/model-provider-connections/:id", connectionHandler.Get)
	authed.PUT("/model-provider-connections/:id", connectionHandler.Update)
	authed.DELETE("/model-provider-connections/:id", connectionHandler.Delete)
	authed.POST("/model-provider-connections/:id/validate", connectionHandler.Validate)
}

// adminAuthMiddleware validates user JWTs and loads the user into context.
func adminAuthMiddleware(users UserFinder, jwtCfg config.JWTConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
			return
		}

		token := strings.TrimPrefix(authHeader, "Bearer ")
		if token == authHeader {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization format"})
			return
		}
		token = strings.TrimSpace(token)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "empty token"})
			return
		}

		claims, errJWT := security.ParseUserToken(jwtCfg.Secret, token)
		if errJWT != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		user, errFind := users.GetUser(c.Request.Context(), claims.UserID)
		if errFind != nil {
			if errors.Is(errFind, store.ErrNotFound) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
				return
			}
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "load user failed"})
			return
		}

		c.Set(handlers.ContextKeyUser, user)
		c.Set(contextKeyUserID, user.ID)
		c.Next()
	}
}
