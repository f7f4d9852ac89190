package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math/big"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"account-api/internal/domain"
	"account-api/internal/email"
	"account-api/internal/repository"
	"account-api/internal/storage"
)

// AccountService coordina el ciclo de vida de las cuentas: registro,
// verificación de email, login, recuperación de contraseña y foto de perfil.
type AccountService struct {
	logger      *zap.Logger
	users       repository.UserRepository
	emailSender email.Sender
	blobs       storage.BlobStore
	clientURL   string
}

func NewAccountService(logger *zap.Logger, users repository.UserRepository, emailSender email.Sender, blobs storage.BlobStore, clientURL string) *AccountService {
	return &AccountService{
		logger:      logger,
		users:       users,
		emailSender: emailSender,
		blobs:       blobs,
		clientURL:   strings.TrimRight(clientURL, "/"),
	}
}

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrEmailTaken         = errors.New("user already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrTokenInvalid       = errors.New("invalid or expired token")
	ErrUnsupportedFile    = errors.New("unsupported file type")
	ErrFileTooLarge       = errors.New("file too large")
	ErrInvalidEmail       = errors.New("invalid email")
	ErrMissingFields      = errors.New("missing required fields")
)

const (
	verificationTTL = 24 * time.Hour
	resetTTL        = time.Hour

	// MaxUploadBytes limita el tamaño de la foto de perfil.
	MaxUploadBytes = 10 << 20
)

type SignupInput struct {
	Email    string
	Password string
	Name     string
}

// Signup crea un usuario sin verificar, con código de verificación
// vigente por 24 horas, y dispara el correo de verificación. El fallo
// del correo se registra pero no revierte el alta.
func (s *AccountService) Signup(ctx context.Context, input SignupInput) (domain.User, error) {
	if s.users == nil {
		return domain.User{}, errors.New("account service not configured")
	}

	emailAddr := normalizeEmail(input.Email)
	name := strings.TrimSpace(input.Name)
	password := strings.TrimSpace(input.Password)
	if emailAddr == "" || name == "" || password == "" {
		return domain.User{}, ErrMissingFields
	}

	hashBytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return domain.User{}, err
	}

	code, codeExpires, err := generateVerificationCode()
	if err != nil {
		return domain.User{}, err
	}

	user := domain.User{
		ID:                    uuid.NewString(),
		Email:                 emailAddr,
		Name:                  name,
		PasswordHash:          string(hashBytes),
		IsVerified:            false,
		VerificationToken:     code,
		VerificationExpiresAt: &codeExpires,
		CreatedAt:             time.Now().UTC(),
	}

	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return domain.User{}, ErrEmailTaken
		}
		return domain.User{}, err
	}

	if s.emailSender != nil {
		if err := s.emailSender.SendVerificationCode(ctx, user.Email, code, codeExpires); err != nil {
			s.logger.Warn("send verification email failed", zap.Error(err), zap.String("email", user.Email))
		}
	}

	return user, nil
}

// VerifyEmail consume el código de verificación y marca la cuenta como
// verificada. Un código desconocido, expirado o ya usado falla igual.
func (s *AccountService) VerifyEmail(ctx context.Context, code string) (domain.User, error) {
	if s.users == nil {
		return domain.User{}, errors.New("account service not configured")
	}

	code = strings.TrimSpace(code)
	if !isValidVerificationCode(code) {
		return domain.User{}, ErrTokenInvalid
	}

	user, err := s.users.ConsumeVerificationToken(ctx, code, time.Now().UTC())
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.User{}, ErrTokenInvalid
		}
		return domain.User{}, err
	}

	if s.emailSender != nil {
		if err := s.emailSender.SendWelcome(ctx, user.Email, user.Name); err != nil {
			s.logger.Warn("send welcome email failed", zap.Error(err), zap.String("email", user.Email))
		}
	}

	return user, nil
}

// Authenticate valida credenciales y toca last_login. Email desconocido
// y contraseña incorrecta fallan con el mismo error.
func (s *AccountService) Authenticate(ctx context.Context, emailAddr, password string) (domain.User, error) {
	if s.users == nil {
		return domain.User{}, errors.New("account service not configured")
	}

	emailAddr = normalizeEmail(emailAddr)
	password = strings.TrimSpace(password)
	if emailAddr == "" || password == "" {
		return domain.User{}, ErrInvalidCredentials
	}

	user, err := s.users.GetByEmail(ctx, emailAddr)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.User{}, ErrInvalidCredentials
		}
		return domain.User{}, err
	}
	if user.PasswordHash == "" {
		return domain.User{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return domain.User{}, ErrInvalidCredentials
	}

	now := time.Now().UTC()
	if err := s.users.UpdateLastLogin(ctx, user.ID, now); err != nil {
		return domain.User{}, err
	}
	user.LastLogin = &now
	return user, nil
}

// ForgotPassword genera un token de reset vigente por 1 hora y envía el
// enlace al correo del usuario. No emite sesión.
func (s *AccountService) ForgotPassword(ctx context.Context, emailAddr string) error {
	if s.users == nil {
		return errors.New("account service not configured")
	}

	emailAddr = normalizeEmail(emailAddr)
	if emailAddr == "" {
		return ErrInvalidEmail
	}

	user, err := s.users.GetByEmail(ctx, emailAddr)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrUserNotFound
		}
		return err
	}

	token, expiresAt, err := generateResetToken()
	if err != nil {
		return err
	}
	if err := s.users.SetResetToken(ctx, user.ID, token, expiresAt); err != nil {
		return err
	}

	resetURL := fmt.Sprintf("%s/reset-password/%s", s.clientURL, token)
	if s.emailSender != nil {
		if err := s.emailSender.SendPasswordReset(ctx, user.Email, resetURL); err != nil {
			s.logger.Warn("send reset email failed", zap.Error(err), zap.String("email", user.Email))
		}
	}
	return nil
}

// ResetPassword consume el token de reset y reemplaza la contraseña en
// el mismo UPDATE condicional: dos intentos concurrentes con el mismo
// token producen a lo sumo un éxito.
func (s *AccountService) ResetPassword(ctx context.Context, token, password string) error {
	if s.users == nil {
		return errors.New("account service not configured")
	}

	token = strings.TrimSpace(token)
	password = strings.TrimSpace(password)
	if token == "" {
		return ErrTokenInvalid
	}
	if password == "" {
		return ErrMissingFields
	}

	hashBytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	user, err := s.users.ConsumeResetToken(ctx, token, string(hashBytes), time.Now().UTC())
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrTokenInvalid
		}
		return err
	}

	if s.emailSender != nil {
		if err := s.emailSender.SendPasswordResetSuccess(ctx, user.Email); err != nil {
			s.logger.Warn("send reset success email failed", zap.Error(err), zap.String("email", user.Email))
		}
	}
	return nil
}

// GetUser devuelve el usuario actual de una sesión resuelta.
func (s *AccountService) GetUser(ctx context.Context, id string) (domain.User, error) {
	if s.users == nil {
		return domain.User{}, errors.New("account service not configured")
	}

	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.User{}, ErrUserNotFound
		}
		return domain.User{}, err
	}
	return user, nil
}

type UploadInput struct {
	Filename    string
	ContentType string
	Size        int64
	Content     io.Reader
}

var allowedImageExts = map[string]bool{
	".jpeg": true,
	".jpg":  true,
	".png":  true,
	".gif":  true,
}

var allowedImageMimes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
}

// UploadProfilePicture valida extensión, MIME declarado y tamaño, guarda
// el archivo en el blob store y persiste el nombre resultante en el
// usuario. Si el usuario desapareció entre la sesión y la escritura,
// falla con ErrUserNotFound.
func (s *AccountService) UploadProfilePicture(ctx context.Context, userID string, input UploadInput) (string, error) {
	if s.users == nil || s.blobs == nil {
		return "", errors.New("account service not configured")
	}

	ext := strings.ToLower(filepath.Ext(input.Filename))
	if !allowedImageExts[ext] || !allowedImageMimes[strings.ToLower(strings.TrimSpace(input.ContentType))] {
		return "", ErrUnsupportedFile
	}
	if input.Size > MaxUploadBytes {
		return "", ErrFileTooLarge
	}

	storedName := fmt.Sprintf("%d_%s%s", time.Now().UTC().UnixMilli(), uuid.NewString(), ext)
	storedName, err := s.blobs.Save(ctx, storedName, input.ContentType, input.Content)
	if err != nil {
		return "", err
	}

	if err := s.users.UpdateProfilePicture(ctx, userID, storedName); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrUserNotFound
		}
		return "", err
	}
	return storedName, nil
}

func generateVerificationCode() (string, time.Time, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", time.Time{}, err
	}
	code := fmt.Sprintf("%06d", n.Int64())
	return code, time.Now().UTC().Add(verificationTTL), nil
}

func generateResetToken() (string, time.Time, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", time.Time{}, err
	}
	return hex.EncodeToString(buf), time.Now().UTC().Add(resetTTL), nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func isValidVerificationCode(code string) bool {
	if len(code) != 6 {
		return false
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
