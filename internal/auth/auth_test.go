package auth

import (
	"errors"
	"testing"
	"time"
)

func TestServiceDisabled(t *testing.T) {
	service := NewService(Config{})
	if service.Enabled() {
		t.Error("service with no secret or keys should be disabled")
	}
	if _, err := service.ValidateJWT("token"); !errors.Is(err, ErrAuthDisabled) {
		t.Errorf("ValidateJWT = %v, want ErrAuthDisabled", err)
	}
	if _, err := service.ValidateAPIKey("key"); !errors.Is(err, ErrAuthDisabled) {
		t.Errorf("ValidateAPIKey = %v, want ErrAuthDisabled", err)
	}
}

func TestServiceJWTRoundTrip(t *testing.T) {
	service := NewService(Config{Secret: "super-secret", TokenExpiry: time.Hour})
	if !service.Enabled() {
		t.Fatal("service with a secret should be enabled")
	}

	token, err := service.GenerateJWT(&Identity{ID: "user-1", Name: "Operator", Email: "op@example.com"})
	if err != nil {
		t.Fatalf("GenerateJWT: %v", err)
	}

	identity, err := service.ValidateJWT(token)
	if err != nil {
		t.Fatalf("ValidateJWT: %v", err)
	}
	if identity.ID != "user-1" || identity.Name != "Operator" || identity.Email != "op@example.com" {
		t.Errorf("unexpected identity: %+v", identity)
	}

	if _, err := service.ValidateJWT("not-a-token"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("ValidateJWT garbage = %v, want ErrInvalidToken", err)
	}
}

func TestServiceAPIKeys(t *testing.T) {
	service := NewService(Config{APIKeys: []APIKeyConfig{
		{Key: "key-alpha", ID: "alpha", Name: "Alpha"},
		{Key: "key-anon"},
	}})
	if !service.Enabled() {
		t.Fatal("service with api keys should be enabled")
	}

	identity, err := service.ValidateAPIKey("key-alpha")
	if err != nil {
		t.Fatalf("ValidateAPIKey: %v", err)
	}
	if identity.ID != "alpha" {
		t.Errorf("ID = %q, want alpha", identity.ID)
	}

	anon, err := service.ValidateAPIKey("key-anon")
	if err != nil {
		t.Fatalf("ValidateAPIKey: %v", err)
	}
	if anon.ID == "" {
		t.Error("key without an id should get a derived identity")
	}

	if _, err := service.ValidateAPIKey("wrong"); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("ValidateAPIKey wrong = %v, want ErrInvalidKey", err)
	}
}
