// Package auth covers the control plane's two credential kinds: API keys
// for programmatic access scoped to an organization, and JWTs for the
// human dashboard session after an email/password login.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/argon2"

	"github.com/wardenhq/warden/internal/domain"
)

// Sentinel errors for the auth package.
var (
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrUserAlreadyExists  = errors.New("auth: user already exists")
	ErrUserNotFound       = errors.New("auth: user not found")
)

// argon2id parameters following OWASP recommendations.
const (
	argonTime    = 1
	argonMemory  = 64 * 1024 // 64 MiB
	argonThreads = 4
	argonKeyLen  = 32
	argonSaltLen = 16
)

// Service provides authentication operations for organizations and users.
type Service struct {
	orgRepo   domain.OrganizationRepository
	userRepo  domain.UserRepository
	jwtSecret string
	accessTTL time.Duration
}

// NewService creates a new auth service.
func NewService(orgRepo domain.OrganizationRepository, userRepo domain.UserRepository, jwtSecret string, accessTTL time.Duration) *Service {
	return &Service{
		orgRepo:   orgRepo,
		userRepo:  userRepo,
		jwtSecret: jwtSecret,
		accessTTL: accessTTL,
	}
}

// Signup creates an organization with its admin user and mints the
// organization's API key. The raw key is returned exactly once.
func (s *Service) Signup(ctx context.Context, orgName, email, password string) (*domain.Organization, *domain.User, string, error) {
	existing, err := s.userRepo.GetByEmail(ctx, email)
	if err == nil && existing != nil {
		return nil, nil, "", fmt.Errorf("auth.Signup: %w", ErrUserAlreadyExists)
	}

	rawKey, keyHash, prefix, err := newAPIKey()
	if err != nil {
		return nil, nil, "", fmt.Errorf("auth.Signup: %w", err)
	}

	passwordHash, err := hashPassword(password)
	if err != nil {
		return nil, nil, "", fmt.Errorf("auth.Signup: %w", err)
	}

	now := time.Now()
	org := &domain.Organization{
		ID:           uuid.New(),
		Name:         orgName,
		APIKeyHash:   keyHash,
		APIKeyPrefix: prefix,
		IsActive:     true,
		CreatedAt:    now,
	}
	if err := s.orgRepo.Create(ctx, org); err != nil {
		return nil, nil, "", fmt.Errorf("auth.Signup: %w", err)
	}

	user := &domain.User{
		ID:           uuid.New(),
		OrgID:        org.ID,
		Email:        email,
		PasswordHash: passwordHash,
		Role:         "owner",
		CreatedAt:    now,
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		return nil, nil, "", fmt.Errorf("auth.Signup: %w", err)
	}

	return org, user, rawKey, nil
}

// Login validates email/password and returns a signed access token.
func (s *Service) Login(ctx context.Context, email, password string) (string, *domain.User, error) {
	user, err := s.userRepo.GetByEmail(ctx, email)
	if err != nil {
		return "", nil, fmt.Errorf("auth.Login: %w", ErrInvalidCredentials)
	}

	if !verifyPassword(password, user.PasswordHash) {
		return "", nil, fmt.Errorf("auth.Login: %w", ErrInvalidCredentials)
	}

	token, err := IssueAccessToken(s.jwtSecret, user.OrgID, user.ID, user.Role, s.accessTTL)
	if err != nil {
		return "", nil, fmt.Errorf("auth.Login: %w", err)
	}

	return token, user, nil
}

// GetUser returns a user by ID (for middleware use).
func (s *Service) GetUser(ctx context.Context, orgID, userID uuid.UUID) (*domain.User, error) {
	user, err := s.userRepo.GetByID(ctx, orgID, userID)
	if err != nil {
		return nil, fmt.Errorf("auth.GetUser: %w", ErrUserNotFound)
	}

	return user, nil
}

// hashPassword generates an argon2id hash with a random salt.
// Format: hex(salt) + "$" + hex(hash)
func hashPassword(password string) (string, error) {
	salt := make([]byte, argonSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}

	hash := argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, argonKeyLen)

	return hex.EncodeToString(salt) + "$" + hex.EncodeToString(hash), nil
}

// verifyPassword checks a password against an argon2id hash.
func verifyPassword(password, encoded string) bool {
	var saltHex, hashHex string
	for i := range len(encoded) {
		if encoded[i] == '$' {
			saltHex = encoded[:i]
			hashHex = encoded[i+1:]
			break
		}
	}

	if saltHex == "" || hashHex == "" {
		return false
	}

	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return false
	}

	expectedHash, err := hex.DecodeString(hashHex)
	if err != nil {
		return false
	}

	computed := argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, argonKeyLen)

	// Constant-time comparison to prevent timing attacks.
	if len(computed) != len(expectedHash) {
		return false
	}

	var diff byte
	for i := range computed {
		diff |= computed[i] ^ expectedHash[i]
	}

	return diff == 0
}
