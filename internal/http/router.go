package http

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"account-api/internal/service"
)

// NewRouter configura el router de Gin con middlewares y rutas de cuenta.
func NewRouter(logger *zap.Logger, authH *AuthHandler, tokens *service.SessionTokenService) *gin.Engine {
	r := gin.New()

	// Middlewares basicos: logging, recovery y JSON content-type.
	r.Use(zapLoggerMiddleware(logger), gin.Recovery(), jsonContentTypeMiddleware())

	auth := r.Group("/auth")
	auth.POST("/signup", authH.Signup)
	auth.POST("/login", authH.Login)
	auth.POST("/logout", authH.Logout)
	auth.POST("/verify-email", authH.VerifyEmail)
	auth.POST("/forgot-password", authH.ForgotPassword)
	auth.POST("/reset-password/:token", authH.ResetPassword)

	// Rutas protegidas por la cookie de sesión.
	auth.GET("/check-auth", SessionAuthMiddleware(tokens), authH.CheckAuth)
	auth.POST("/upload-profile-picture", SessionAuthMiddleware(tokens), authH.UploadProfilePicture)

	return r
}

// zapLoggerMiddleware crea un middleware simple de logging con zap.
func zapLoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", latency),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}

// jsonContentTypeMiddleware fuerza Content-Type: application/json en responses.
func jsonContentTypeMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Content-Type", "application/json")
		c.Next()
	}
}
