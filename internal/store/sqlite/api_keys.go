package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/filerskeepers/bookwatch/internal/domain"
	"github.com/filerskeepers/bookwatch/internal/store"
)

// apiKeyColumns is the ordered list of columns selected in API key queries.
// Must match the scan order in scanAPIKey.
const apiKeyColumns = `id, name, description, secret_hash, rate_limit,
	created_at, expires_at, last_used_at, revoked_at`

// scanAPIKey scans a sql.Row (or sql.Rows via its Scan method) into a domain.APIKey.
func scanAPIKey(scanner interface{ Scan(dest ...any) error }) (*domain.APIKey, error) {
	var k domain.APIKey

	var (
		description sql.NullString
		createdAt   string
		expiresAt   sql.NullString
		lastUsedAt  sql.NullString
		revokedAt   sql.NullString
	)

	err := scanner.Scan(
		&k.ID,
		&k.Name,
		&description,
		&k.SecretHash,
		&k.RateLimit,
		&createdAt,
		&expiresAt,
		&lastUsedAt,
		&revokedAt,
	)
	if err != nil {
		return nil, err
	}

	// Parse timestamps.
	k.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, err
	}
	k.ExpiresAt, err = parseNullableTime(expiresAt)
	if err != nil {
		return nil, err
	}
	k.LastUsedAt, err = parseNullableTime(lastUsedAt)
	if err != nil {
		return nil, err
	}
	k.RevokedAt, err = parseNullableTime(revokedAt)
	if err != nil {
		return nil, err
	}

	if description.Valid {
		k.Description = description.String
	}

	return &k, nil
}

// CreateAPIKey inserts a new API key row.
// Returns store.ErrAlreadyExists if the key ID already exists.
func (s *Store) CreateAPIKey(ctx context.Context, key *domain.APIKey) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO api_keys (
			id, name, description, secret_hash, rate_limit,
			created_at, expires_at, last_used_at, revoked_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		key.ID,
		key.Name,
		nullString(key.Description),
		key.SecretHash,
		key.RateLimit,
		formatTime(key.CreatedAt),
		nullTimeString(key.ExpiresAt),
		nullTimeString(key.LastUsedAt),
		nullTimeString(key.RevokedAt),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return store.ErrAlreadyExists
		}
		return err
	}

	if s.logger != nil {
		s.logger.Info("API key created", "id", key.ID, "name", key.Name)
	}
	return nil
}

// GetAPIKey retrieves an API key by its public identifier.
// Returns store.ErrNotFound if the key does not exist.
func (s *Store) GetAPIKey(ctx context.Context, id string) (*domain.APIKey, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE id = ?`, id)

	key, err := scanAPIKey(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return key, nil
}

// ListAPIKeys returns all API keys, including revoked ones, oldest first.
func (s *Store) ListAPIKeys(ctx context.Context) ([]*domain.APIKey, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []*domain.APIKey
	for rows.Next() {
		key, err := scanAPIKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}

// TouchAPIKey records when the key last authenticated a request.
func (s *Store) TouchAPIKey(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE api_keys SET last_used_at = ? WHERE id = ?`,
		formatTime(at), id)
	return err
}

// RevokeAPIKey marks a key revoked. Returns store.ErrNotFound if the key
// does not exist; revoking an already-revoked key keeps the original
// revocation time.
func (s *Store) RevokeAPIKey(ctx context.Context, id string, at time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE api_keys SET revoked_at = ? WHERE id = ? AND revoked_at IS NULL`,
		formatTime(at), id)
	if err != nil {
		return err
	}

	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// Distinguish a missing key from one already revoked.
		if _, err := s.GetAPIKey(ctx, id); err != nil {
			return err
		}
	}

	if s.logger != nil {
		s.logger.Info("API key revoked", "id", id)
	}
	return nil
}

// DeleteAPIKey performs a hard delete of an API key by ID.
// Returns store.ErrNotFound if the key does not exist.
func (s *Store) DeleteAPIKey(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM api_keys WHERE id = ?`, id)
	if err != nil {
		return err
	}

	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}
