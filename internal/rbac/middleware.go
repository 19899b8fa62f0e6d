package rbac

import (
	"net/http"

	"broadcast-platform/internal/auth"
	"broadcast-platform/pkg/logger"

	"github.com/gin-gonic/gin"
)

// RequireWorkspace rejects requests whose identity carries no workspace_id.
// Every campaign, contact and delivery query is scoped by it.
func RequireWorkspace() gin.HandlerFunc {
	return func(c *gin.Context) {
		if id, _ := auth.IdentityFrom(c.Request.Context()); id.WorkspaceID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "workspace_id required"})
			return
		}
		c.Next()
	}
}

// RequireAnyRole lets through callers holding one of allowed. super_admin
// always passes; support passes only where it is listed.
func RequireAnyRole(allowed ...string) gin.HandlerFunc {
	set := make(map[string]bool, len(allowed))
	for _, r := range allowed {
		set[r] = true
	}

	return func(c *gin.Context) {
		id, _ := auth.IdentityFrom(c.Request.Context())
		switch {
		case id.Role == "":
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "role required"})
		case IsSuperAdmin(id.Role) || set[id.Role]:
			c.Next()
		default:
			logger.FromGin(c).Info("role denied", "role", id.Role, "route", c.FullPath())
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		}
	}
}
