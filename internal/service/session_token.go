package service

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SessionTokenService emite y valida tokens de sesión firmados.
// El token es la única fuente de verdad de la sesión: no hay tabla
// de sesiones del lado del servidor.
type SessionTokenService struct {
	secret []byte
	ttl    time.Duration
	issuer string
}

type SessionClaims struct {
	UserID string `json:"uid"`
	jwt.RegisteredClaims
}

var (
	ErrSessionTokenInvalid = errors.New("session token invalid")
	ErrSessionTokenExpired = errors.New("session token expired")
)

const defaultSessionTTL = 72 * time.Hour

func NewSessionTokenService(secret string, ttl time.Duration) *SessionTokenService {
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	return &SessionTokenService{
		secret: []byte(secret),
		ttl:    ttl,
		issuer: "account-api",
	}
}

// TTL devuelve la vigencia de los tokens emitidos; la cookie de sesión
// usa el mismo valor como max-age.
func (s *SessionTokenService) TTL() time.Duration {
	return s.ttl
}

// Issue firma un token de sesión para el usuario dado.
func (s *SessionTokenService) Issue(userID string) (string, error) {
	if len(s.secret) == 0 {
		return "", ErrSessionTokenInvalid
	}
	if strings.TrimSpace(userID) == "" {
		return "", ErrSessionTokenInvalid
	}
	now := time.Now().UTC()
	claims := SessionClaims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Parse valida el token de sesión y devuelve el id de usuario.
func (s *SessionTokenService) Parse(tokenString string) (string, error) {
	if len(s.secret) == 0 {
		return "", ErrSessionTokenInvalid
	}
	if strings.TrimSpace(tokenString) == "" {
		return "", ErrSessionTokenInvalid
	}
	var claims SessionClaims
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	_, err := parser.ParseWithClaims(tokenString, &claims, func(_ *jwt.Token) (any, error) {
		return s.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrSessionTokenExpired
		}
		return "", ErrSessionTokenInvalid
	}
	if !s.isValidClaims(claims) {
		return "", ErrSessionTokenInvalid
	}
	return claims.UserID, nil
}

func (s *SessionTokenService) isValidClaims(claims SessionClaims) bool {
	if strings.TrimSpace(claims.UserID) == "" {
		return false
	}
	if claims.Subject != claims.UserID {
		return false
	}
	return strings.TrimSpace(claims.Issuer) == s.issuer
}
