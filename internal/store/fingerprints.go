package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/filerskeepers/bookwatch/internal/domain"
	"github.com/filerskeepers/bookwatch/internal/fingerprint"
)

const fingerprintPrefix = "fingerprint:"

var ErrFingerprintNotFound = errors.New("fingerprint not found")

// Fingerprints are stored one per book, keyed by book ID, through the
// generic entity. These wrappers add timestamp handling and URL lookup.

// CreateFingerprint stores a new fingerprint.
func (s *Store) CreateFingerprint(ctx context.Context, fp *domain.Fingerprint) error {
	fp.InitTimestamps()
	if err := s.Fingerprints.Create(ctx, fp.BookID, fp); err != nil {
		return fmt.Errorf("create fingerprint: %w", err)
	}
	return nil
}

// UpsertFingerprint writes a fingerprint, preserving CreatedAt when one
// already exists for the book.
func (s *Store) UpsertFingerprint(ctx context.Context, fp *domain.Fingerprint) error {
	old, err := s.Fingerprints.Get(ctx, fp.BookID)
	switch {
	case err == nil:
		fp.CreatedAt = old.CreatedAt
		fp.Touch()
	case errors.Is(err, ErrNotFound):
		fp.InitTimestamps()
	default:
		return fmt.Errorf("upsert fingerprint: %w", err)
	}

	if err := s.Fingerprints.Put(ctx, fp.BookID, fp); err != nil {
		return fmt.Errorf("upsert fingerprint: %w", err)
	}
	return nil
}

// GetFingerprint retrieves the fingerprint for a book.
func (s *Store) GetFingerprint(ctx context.Context, bookID string) (*domain.Fingerprint, error) {
	fp, err := s.Fingerprints.Get(ctx, bookID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrFingerprintNotFound
		}
		return nil, fmt.Errorf("get fingerprint: %w", err)
	}
	return fp, nil
}

// GetFingerprintByURL retrieves the fingerprint for a source URL.
func (s *Store) GetFingerprintByURL(ctx context.Context, sourceURL string) (*domain.Fingerprint, error) {
	return s.GetFingerprint(ctx, fingerprint.BookID(sourceURL))
}

// DeleteFingerprint removes the fingerprint for a book. Idempotent.
func (s *Store) DeleteFingerprint(ctx context.Context, bookID string) error {
	if err := s.Fingerprints.Delete(ctx, bookID); err != nil {
		return fmt.Errorf("delete fingerprint: %w", err)
	}
	return nil
}

// ListAllFingerprints returns every stored fingerprint.
func (s *Store) ListAllFingerprints(ctx context.Context) ([]*domain.Fingerprint, error) {
	var fps []*domain.Fingerprint
	for fp, err := range s.Fingerprints.List(ctx) {
		if err != nil {
			return nil, fmt.Errorf("list fingerprints: %w", err)
		}
		fps = append(fps, fp)
	}
	return fps, nil
}

// CountFingerprints returns the number of stored fingerprints.
func (s *Store) CountFingerprints(ctx context.Context) (int, error) {
	count, err := s.Fingerprints.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("count fingerprints: %w", err)
	}
	return count, nil
}
