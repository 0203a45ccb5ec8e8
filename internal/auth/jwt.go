package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/juicebox-server/juicebox-service/internal/config"
)

// AdminSubject is the only principal; the API is read-only
const AdminSubject = "admin"

// Common errors
var (
	ErrAuthDisabled       = errors.New("authentication disabled")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// JWTManager manages JWT tokens
type JWTManager struct {
	config *config.JWTConfig
	now    func() time.Time
}

// NewJWTManager creates a new JWT manager
func NewJWTManager(cfg *config.JWTConfig) *JWTManager {
	return &JWTManager{
		config: cfg,
		now:    time.Now,
	}
}

// Claims represents JWT claims
type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// Enabled reports whether a signing secret is configured
func (m *JWTManager) Enabled() bool {
	return m.config.Secret != ""
}

// TTL returns the lifetime of issued tokens
func (m *JWTManager) TTL() time.Duration {
	return m.config.AccessTokenTTL
}

// Login checks the admin password and issues an access token
func (m *JWTManager) Login(password string) (string, error) {
	if !m.Enabled() || m.config.AdminPasswordHash == "" {
		return "", ErrAuthDisabled
	}
	if !VerifyPassword(password, m.config.AdminPasswordHash) {
		return "", ErrInvalidCredentials
	}
	return m.GenerateToken(AdminSubject)
}

// GenerateToken signs an access token for subject
func (m *JWTManager) GenerateToken(subject string) (string, error) {
	now := m.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(now.Add(m.config.AccessTokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    "juicebox-service",
			ID:        uuid.NewString(),
		},
		Role: "viewer",
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(m.config.Secret))
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}
	return signed, nil
}

// ValidateToken validates a token
func (m *JWTManager) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(m.config.Secret), nil
	}, jwt.WithIssuer("juicebox-service"))

	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	return claims, nil
}

// HashPassword hashes a password using bcrypt
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(hash), err
}

// VerifyPassword verifies a password against a hash
func VerifyPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
