package core

import (
	"github.com/gin-gonic/gin"
)

// RequireRole ensures the request principal holds role.
func RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := principalFromGin(c)
		if !ok {
			abortWithError(c, nil, ErrUnauthenticated)
			return
		}
		if !p.HasRole(role) {
			abortWithError(c, nil, ErrForbidden)
			return
		}
		c.Next()
	}
}

// AdminOnly ensures the principal holds ROLE_ADMIN.
func AdminOnly() gin.HandlerFunc {
	return RequireRole(RoleAdmin)
}
