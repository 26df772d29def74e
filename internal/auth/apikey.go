package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/wardenhq/warden/internal/domain"
)

// ErrInvalidAPIKey is returned when an API key is not found or the hash does not match.
var ErrInvalidAPIKey = errors.New("auth: invalid API key")

const (
	apiKeyPrefix    = "warden_"
	apiKeyRandLen   = 16 // 16 bytes = 32 hex chars
	apiKeyPrefixLen = 8  // first 8 chars of the full key used for lookup
)

// newAPIKey mints a raw key plus its stored hash and lookup prefix.
// Key format: "warden_" + 32 random hex chars.
func newAPIKey() (rawKey, keyHash, prefix string, err error) {
	raw := make([]byte, apiKeyRandLen)
	if _, err := rand.Read(raw); err != nil {
		return "", "", "", fmt.Errorf("generating api key: %w", err)
	}

	rawKey = apiKeyPrefix + hex.EncodeToString(raw)

	hash := sha256.Sum256([]byte(rawKey))
	keyHash = hex.EncodeToString(hash[:])

	return rawKey, keyHash, rawKey[:apiKeyPrefixLen], nil
}

// ValidateAPIKey checks an API key by looking up the prefix (first 8 chars)
// and comparing the SHA-256 hash. Returns the owning organization.
func (s *Service) ValidateAPIKey(ctx context.Context, rawKey string) (*domain.Organization, error) {
	if len(rawKey) < apiKeyPrefixLen {
		return nil, fmt.Errorf("auth.ValidateAPIKey: %w", ErrInvalidAPIKey)
	}

	prefix := rawKey[:apiKeyPrefixLen]

	hash := sha256.Sum256([]byte(rawKey))
	keyHash := hex.EncodeToString(hash[:])

	org, err := s.orgRepo.GetByAPIKeyPrefix(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("auth.ValidateAPIKey: %w", ErrInvalidAPIKey)
	}

	if org.APIKeyHash != keyHash {
		return nil, fmt.Errorf("auth.ValidateAPIKey: %w", ErrInvalidAPIKey)
	}

	if !org.IsActive {
		return nil, fmt.Errorf("auth.ValidateAPIKey: organization disabled: %w", ErrInvalidAPIKey)
	}

	return org, nil
}
