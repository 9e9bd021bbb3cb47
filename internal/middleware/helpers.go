// internal/middleware/helpers.go
package middleware

import (
	"motorlist-service/internal/pkg/jwt"

	"github.com/gin-gonic/gin"
)

// MustGetAccountID gets the account id from context or panics
func MustGetAccountID(c *gin.Context) string {
	accountID, exists := GetAccountID(c)
	if !exists {
		panic("account_id not found in context")
	}
	return accountID
}

// GetRoles gets user roles from context
func GetRoles(c *gin.Context) []string {
	roles, exists := c.Get(ctxRoles)
	if !exists {
		return []string{}
	}

	rolesList, ok := roles.([]string)
	if !ok {
		return []string{}
	}

	return rolesList
}

// IsAuthenticated checks if request is authenticated
func IsAuthenticated(c *gin.Context) bool {
	_, exists := GetAccountID(c)
	return exists
}

// IsAdmin checks if user is an admin
func IsAdmin(c *gin.Context) bool {
	return HasRole(c, jwt.RoleAdmin) || HasRole(c, jwt.RoleSuperAdmin)
}
