package http

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"account-api/internal/service"
)

// SessionCookieName es el nombre de la cookie de sesión que espera el cliente.
const SessionCookieName = "jwtoken"

const authUserIDKey = "auth_user_id"

// SessionAuthMiddleware valida la cookie de sesión y guarda el id de
// usuario en el contexto. Sin cookie responde 403; cookie inválida o
// expirada responde 401.
func SessionAuthMiddleware(tokens *service.SessionTokenService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if tokens == nil {
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "session tokens not configured"})
			c.Abort()
			return
		}

		token, err := c.Cookie(SessionCookieName)
		if err != nil || strings.TrimSpace(token) == "" {
			c.JSON(http.StatusForbidden, gin.H{"success": false, "message": "Unauthorized access: no token provided"})
			c.Abort()
			return
		}

		userID, err := tokens.Parse(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"success": false, "message": "invalid token"})
			c.Abort()
			return
		}

		c.Set(authUserIDKey, userID)
		c.Next()
	}
}

// GetAuthUserID obtiene el id de usuario resuelto por el middleware.
func GetAuthUserID(c *gin.Context) (string, bool) {
	val, ok := c.Get(authUserIDKey)
	if !ok {
		return "", false
	}
	userID, ok := val.(string)
	return userID, ok
}
