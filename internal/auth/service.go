package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid token")
)

const defaultTTL = 24 * time.Hour

// Service exchanges the shared API key for short-lived tokens. Surfaces
// (the editor, a host document plugin) authenticate with the key once and
// carry the token afterwards.
type Service struct {
	apiKeyHash []byte
	jwtSecret  []byte
	ttl        time.Duration
	now        func() time.Time
}

// NewService creates the service. An empty apiKeyHash disables
// authentication: the middleware admits every request.
func NewService(apiKeyHash, jwtSecret string) *Service {
	return &Service{
		apiKeyHash: []byte(apiKeyHash),
		jwtSecret:  []byte(jwtSecret),
		ttl:        defaultTTL,
		now:        time.Now,
	}
}

type AuthResult struct {
	Token     string    `json:"token"`
	Subject   string    `json:"subject"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (s *Service) Enabled() bool { return len(s.apiKeyHash) > 0 }

// HashAPIKey returns the bcrypt hash to configure as API_KEY_HASH.
func HashAPIKey(apiKey string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(apiKey), 12)
	if err != nil {
		return "", fmt.Errorf("hash api key: %w", err)
	}
	return string(hash), nil
}

// IssueToken checks apiKey and signs a token for surface. An empty surface
// gets an anonymous name.
func (s *Service) IssueToken(apiKey, surface string) (*AuthResult, error) {
	if !s.Enabled() {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(s.apiKeyHash, []byte(apiKey)); err != nil {
		return nil, ErrInvalidCredentials
	}
	if surface == "" {
		surface = "anon-" + uuid.New().String()[:8]
	}

	now := s.now()
	expires := now.Add(s.ttl)
	claims := jwt.RegisteredClaims{
		Subject:   surface,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expires),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.jwtSecret)
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}
	return &AuthResult{Token: signed, Subject: surface, ExpiresAt: expires.UTC()}, nil
}

// ValidateToken returns the subject of a valid token.
func (s *Service) ValidateToken(tokenString string) (string, error) {
	var claims jwt.RegisteredClaims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (interface{}, error) {
		return s.jwtSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !token.Valid || claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}
