package handlers

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/ModelProviderConnections/internal/models"
)

// ContextKeyUser is the gin context key holding the authenticated *models.User.
const ContextKeyUser = "user"

// CurrentUser returns the authenticated user stored by the auth middleware.
func CurrentUser(c *gin.Context) *models.User {
	value, ok := c.Get(ContextKeyUser)
	if !ok {
		return nil
	}
	user, _ := value.(*models.User)
	return user
}

func parseID(c *gin.Context) (uint64, bool) {
	id, errID := strconv.ParseUint(strings.TrimSpace(c.Param("id")), 10, 64)
	if errID != nil || id == 0 {
		return 0, false
	}
	return id, true
}

// optionalString trims value and maps blanks to nil.
func optionalString(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

// maskAPIKey keeps a short prefix and suffix so operators can tell keys apart.
// It counts runes so multi-byte characters are never split.
func maskAPIKey(key string) string {
	if key == "" {
		return ""
	}
	runes := []rune(key)
	if len(runes) <= 8 {
		return strings.Repeat("*", len(runes))
	}
	return string(runes[:3]) + strings.Repeat("*", 4) + string(runes[len(runes)-4:])
}
