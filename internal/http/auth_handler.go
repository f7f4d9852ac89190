package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"account-api/internal/service"
)

// AuthHandler mantiene dependencias para los endpoints de cuenta.
type AuthHandler struct {
	logger        *zap.Logger
	accounts      *service.AccountService
	tokens        *service.SessionTokenService
	secureCookies bool
}

// NewAuthHandler crea una instancia de AuthHandler con dependencias necesarias.
func NewAuthHandler(logger *zap.Logger, accounts *service.AccountService, tokens *service.SessionTokenService, secureCookies bool) *AuthHandler {
	return &AuthHandler{
		logger:        logger,
		accounts:      accounts,
		tokens:        tokens,
		secureCookies: secureCookies,
	}
}

func (h *AuthHandler) setSessionCookie(c *gin.Context, token string) {
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(SessionCookieName, token, int(h.tokens.TTL().Seconds()), "/", "", h.secureCookies, true)
}

func (h *AuthHandler) clearSessionCookie(c *gin.Context) {
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(SessionCookieName, "", -1, "/", "", h.secureCookies, true)
}

// Signup maneja POST /auth/signup.
func (h *AuthHandler) Signup(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required,email"`
		Password string `json:"password" binding:"required"`
		Name     string `json:"name" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid signup request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Please fill in all fields"})
		return
	}

	user, err := h.accounts.Signup(c.Request.Context(), service.SignupInput{
		Email:    req.Email,
		Password: req.Password,
		Name:     req.Name,
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrMissingFields):
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Please fill in all fields"})
		case errors.Is(err, service.ErrEmailTaken):
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "User already exists"})
		default:
			h.logger.Error("signup failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "could not create user"})
		}
		return
	}

	token, err := h.tokens.Issue(user.ID)
	if err != nil {
		h.logger.Error("session token issue failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "could not create session"})
		return
	}
	h.setSessionCookie(c, token)

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"message": "User created successfully",
		"user":    user,
	})
}

// VerifyEmail maneja POST /auth/verify-email.
func (h *AuthHandler) VerifyEmail(c *gin.Context) {
	var req struct {
		Code string `json:"code" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid verify email request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid request"})
		return
	}

	user, err := h.accounts.VerifyEmail(c.Request.Context(), req.Code)
	if err != nil {
		if errors.Is(err, service.ErrTokenInvalid) {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Invalid or expired verification code"})
			return
		}
		h.logger.Error("verify email failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "could not verify email"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Email verified successfully",
		"user":    user,
	})
}

// Login maneja POST /auth/login.
func (h *AuthHandler) Login(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required,email"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid login request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Invalid credentials"})
		return
	}

	user, err := h.accounts.Authenticate(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Invalid credentials"})
			return
		}
		h.logger.Error("login failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "could not login"})
		return
	}

	token, err := h.tokens.Issue(user.ID)
	if err != nil {
		h.logger.Error("session token issue failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "could not create session"})
		return
	}
	h.setSessionCookie(c, token)

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Logged in successfully",
		"user":    user,
	})
}

// Logout maneja POST /auth/logout.
func (h *AuthHandler) Logout(c *gin.Context) {
	h.clearSessionCookie(c)
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Logged out successfully"})
}

// ForgotPassword maneja POST /auth/forgot-password.
func (h *AuthHandler) ForgotPassword(c *gin.Context) {
	var req struct {
		Email string `json:"email" binding:"required,email"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid forgot password request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid request"})
		return
	}

	if err := h.accounts.ForgotPassword(c.Request.Context(), req.Email); err != nil {
		if errors.Is(err, service.ErrUserNotFound) || errors.Is(err, service.ErrInvalidEmail) {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "User not found"})
			return
		}
		h.logger.Error("forgot password failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "could not send reset email"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Password reset email sent successfully"})
}

// ResetPassword maneja POST /auth/reset-password/:token.
func (h *AuthHandler) ResetPassword(c *gin.Context) {
	var req struct {
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid reset password request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid request"})
		return
	}

	err := h.accounts.ResetPassword(c.Request.Context(), c.Param("token"), req.Password)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrTokenInvalid):
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Invalid or expired reset token"})
		case errors.Is(err, service.ErrMissingFields):
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid request"})
		default:
			h.logger.Error("reset password failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "could not reset password"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Password reset successfully"})
}

// CheckAuth maneja GET /auth/check-auth.
func (h *AuthHandler) CheckAuth(c *gin.Context) {
	userID, ok := GetAuthUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "message": "Unauthorized"})
		return
	}

	user, err := h.accounts.GetUser(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, service.ErrUserNotFound) {
			c.JSON(http.StatusUnauthorized, gin.H{"success": false, "message": "Unauthorized"})
			return
		}
		h.logger.Error("check auth failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "could not check auth"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "user": user})
}

// UploadProfilePicture maneja POST /auth/upload-profile-picture.
func (h *AuthHandler) UploadProfilePicture(c *gin.Context) {
	userID, ok := GetAuthUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "message": "Unauthorized"})
		return
	}

	// Corta cuerpos abusivos antes de parsear el multipart.
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, service.MaxUploadBytes+1<<20)

	fileHeader, err := c.FormFile("profilePicture")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "No file uploaded"})
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		h.logger.Error("open uploaded file failed", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "No file uploaded"})
		return
	}
	defer file.Close()

	filename, err := h.accounts.UploadProfilePicture(c.Request.Context(), userID, service.UploadInput{
		Filename:    fileHeader.Filename,
		ContentType: fileHeader.Header.Get("Content-Type"),
		Size:        fileHeader.Size,
		Content:     file,
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrUnsupportedFile):
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Error: images only"})
		case errors.Is(err, service.ErrFileTooLarge):
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "File too large"})
		case errors.Is(err, service.ErrUserNotFound):
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "User not found"})
		default:
			h.logger.Error("upload profile picture failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "could not upload profile picture"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"message":  "Profile picture uploaded successfully",
		"filename": filename,
	})
}
