// Package auth validates bearer tokens and API keys on the management
// surface. Auth stays disabled until a JWT secret or at least one API
// key is configured.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strings"
	"time"
)

var (
	ErrAuthDisabled = errors.New("auth disabled")
	ErrInvalidToken = errors.New("invalid token")
	ErrInvalidKey   = errors.New("invalid api key")
)

// Identity names the authenticated caller.
type Identity struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

// Config configures authentication helpers.
type Config struct {
	// Secret signs and verifies HS256 bearer tokens. Empty disables JWTs.
	Secret      string
	TokenExpiry time.Duration
	APIKeys     []APIKeyConfig
}

// APIKeyConfig declares a static API key and its associated identity.
type APIKeyConfig struct {
	Key   string
	ID    string
	Name  string
	Email string
}

// Service validates JWTs and API keys.
type Service struct {
	jwt     *JWTService
	apiKeys map[string]*Identity
}

// NewService constructs an auth service from static configuration.
func NewService(cfg Config) *Service {
	service := &Service{}
	if strings.TrimSpace(cfg.Secret) != "" {
		service.jwt = NewJWTService(cfg.Secret, cfg.TokenExpiry)
	}
	service.apiKeys = buildAPIKeyMap(cfg.APIKeys)
	return service
}

// Enabled reports whether auth checks should run.
func (s *Service) Enabled() bool {
	return s != nil && (s.jwt != nil || len(s.apiKeys) > 0)
}

// GenerateJWT issues a signed token for the given identity.
func (s *Service) GenerateJWT(identity *Identity) (string, error) {
	if s == nil || s.jwt == nil {
		return "", ErrAuthDisabled
	}
	return s.jwt.Generate(identity)
}

// ValidateJWT validates a JWT and returns the identity embedded in it.
func (s *Service) ValidateJWT(token string) (*Identity, error) {
	if s == nil || s.jwt == nil {
		return nil, ErrAuthDisabled
	}
	return s.jwt.Validate(token)
}

// ValidateAPIKey validates an API key and returns the associated
// identity. Uses constant-time comparison to prevent timing attacks.
func (s *Service) ValidateAPIKey(key string) (*Identity, error) {
	if s == nil || len(s.apiKeys) == 0 {
		return nil, ErrAuthDisabled
	}
	inputKey := strings.TrimSpace(key)
	var matched *Identity
	for storedKey, identity := range s.apiKeys {
		if subtle.ConstantTimeCompare([]byte(inputKey), []byte(storedKey)) == 1 {
			matched = identity
		}
	}
	if matched == nil {
		return nil, ErrInvalidKey
	}
	return matched, nil
}

func buildAPIKeyMap(keys []APIKeyConfig) map[string]*Identity {
	out := map[string]*Identity{}
	for _, entry := range keys {
		key := strings.TrimSpace(entry.Key)
		if key == "" {
			continue
		}
		id := strings.TrimSpace(entry.ID)
		if id == "" {
			sum := sha256.Sum256([]byte(key))
			id = "api_" + hex.EncodeToString(sum[:8])
		}
		out[key] = &Identity{
			ID:    id,
			Name:  strings.TrimSpace(entry.Name),
			Email: strings.TrimSpace(entry.Email),
		}
	}
	return out
}
