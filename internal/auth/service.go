package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/filerskeepers/bookwatch/internal/domain"
	"github.com/filerskeepers/bookwatch/internal/id"
	"github.com/filerskeepers/bookwatch/internal/store"
	"github.com/filerskeepers/bookwatch/internal/store/sqlite"
)

// Presented tokens look like "fk_<public>.<secret>". The public half is
// the stored row ID; the secret half is verified against the argon2id
// hash. The dot separator is outside the NanoID alphabet.
const (
	keyPrefix       = "fk_"
	keyIDLength     = 16
	keySecretLength = 32
)

// ErrInvalidKey is returned for any token that fails authentication:
// unknown, malformed, wrong secret, revoked or expired.
var ErrInvalidKey = errors.New("invalid API key")

// APIKeyService manages API keys for the read API. Managed keys live in
// the sqlite store; bootstrap keys come from configuration, are matched
// verbatim and are never persisted.
type APIKeyService struct {
	keys         *sqlite.Store
	bootstrap    []string
	defaultLimit int
	logger       *slog.Logger
}

// NewAPIKeyService creates a key service. bootstrap holds full tokens
// accepted as-is from configuration; defaultLimit is the hourly request
// quota assigned to new keys.
func NewAPIKeyService(keys *sqlite.Store, bootstrap []string, defaultLimit int, logger *slog.Logger) *APIKeyService {
	if defaultLimit <= 0 {
		defaultLimit = 100
	}

	return &APIKeyService{
		keys:         keys,
		bootstrap:    bootstrap,
		defaultLimit: defaultLimit,
		logger:       logger,
	}
}

// Generate mints a new API key and returns the full token alongside the
// stored record. The token is shown exactly once; only the secret's hash
// is persisted.
func (s *APIKeyService) Generate(ctx context.Context, name, description string, expiresAt *time.Time) (string, *domain.APIKey, error) {
	public, err := id.NewToken(keyIDLength)
	if err != nil {
		return "", nil, fmt.Errorf("generating key ID: %w", err)
	}
	secret, err := id.NewToken(keySecretLength)
	if err != nil {
		return "", nil, fmt.Errorf("generating key secret: %w", err)
	}

	hash, err := HashSecret(secret)
	if err != nil {
		return "", nil, fmt.Errorf("hashing key secret: %w", err)
	}

	key := &domain.APIKey{
		ID:          keyPrefix + public,
		Name:        name,
		Description: description,
		SecretHash:  hash,
		RateLimit:   s.defaultLimit,
		CreatedAt:   time.Now().UTC(),
		ExpiresAt:   expiresAt,
	}

	if err := s.keys.CreateAPIKey(ctx, key); err != nil {
		return "", nil, fmt.Errorf("storing API key: %w", err)
	}

	s.logger.Info("API key created", "key_id", key.ID, "name", name)
	return key.ID + "." + secret, key, nil
}

// Validate authenticates a bearer token and returns the matching key
// record. Every failure mode collapses to ErrInvalidKey except store
// errors, which are returned as-is.
func (s *APIKeyService) Validate(ctx context.Context, token string) (*domain.APIKey, error) {
	if token == "" {
		return nil, ErrInvalidKey
	}

	if idx := s.bootstrapIndex(token); idx >= 0 {
		return bootstrapRecord(idx, s.defaultLimit), nil
	}

	id, secret, ok := splitToken(token)
	if !ok {
		return nil, ErrInvalidKey
	}

	key, err := s.keys.GetAPIKey(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidKey
		}
		return nil, fmt.Errorf("loading API key: %w", err)
	}

	if !VerifySecret(key.SecretHash, secret) {
		return nil, ErrInvalidKey
	}

	now := time.Now().UTC()
	if !key.Usable(now) {
		return nil, ErrInvalidKey
	}

	if err := s.keys.TouchAPIKey(ctx, key.ID, now); err != nil {
		s.logger.Warn("failed to record key usage", "key_id", key.ID, "error", err)
	}
	key.LastUsedAt = &now

	return key, nil
}

// Revoke permanently disables a managed key.
func (s *APIKeyService) Revoke(ctx context.Context, id string) error {
	return s.keys.RevokeAPIKey(ctx, id, time.Now().UTC())
}

// List returns all managed keys, oldest first. Bootstrap keys are not
// included since they only exist in configuration.
func (s *APIKeyService) List(ctx context.Context) ([]*domain.APIKey, error) {
	return s.keys.ListAPIKeys(ctx)
}

// EnsureDefaultKey creates a starter key when no keys exist anywhere:
// neither in the store nor in the bootstrap configuration. The returned
// token is empty when nothing was created.
func (s *APIKeyService) EnsureDefaultKey(ctx context.Context) (string, error) {
	if len(s.bootstrap) > 0 {
		return "", nil
	}

	existing, err := s.keys.ListAPIKeys(ctx)
	if err != nil {
		return "", fmt.Errorf("listing API keys: %w", err)
	}
	if len(existing) > 0 {
		return "", nil
	}

	token, _, err := s.Generate(ctx, "default", "created on first start", nil)
	if err != nil {
		return "", err
	}

	s.logger.Info("created default API key; store it now, it will not be shown again")
	return token, nil
}

// bootstrapIndex returns the position of a configured bootstrap token, or
// -1. Comparison is constant-time per entry.
func (s *APIKeyService) bootstrapIndex(token string) int {
	t := []byte(token)
	for i, candidate := range s.bootstrap {
		if subtle.ConstantTimeCompare(t, []byte(candidate)) == 1 {
			return i
		}
	}
	return -1
}

// bootstrapRecord builds the synthetic key record for a configured token.
// Each bootstrap entry gets its own ID so quotas stay per-key.
func bootstrapRecord(index, rateLimit int) *domain.APIKey {
	return &domain.APIKey{
		ID:        fmt.Sprintf("%sbootstrap_%d", keyPrefix, index),
		Name:      "bootstrap",
		RateLimit: rateLimit,
	}
}

// splitToken splits a presented token into its row ID and secret.
func splitToken(token string) (id, secret string, ok bool) {
	if !strings.HasPrefix(token, keyPrefix) {
		return "", "", false
	}
	id, secret, found := strings.Cut(token, ".")
	if !found || secret == "" || len(id) <= len(keyPrefix) {
		return "", "", false
	}
	return id, secret, true
}
