package store

import (
	"context"
	"encoding/json/v2"
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger/v4"

	"github.com/filerskeepers/bookwatch/internal/domain"
)

// BatchWriter provides efficient bulk write operations using BadgerDB's
// WriteBatch. The crawler uses it to land whole catalog pages at once.
type BatchWriter struct {
	store     *Store
	batch     *badger.WriteBatch
	maxSize   int
	count     int
	autoFlush bool
}

// NewBatchWriter creates a new batch writer that will auto-flush when maxSize is reached.
func (s *Store) NewBatchWriter(maxSize int) *BatchWriter {
	return &BatchWriter{
		store:     s,
		batch:     s.db.NewWriteBatch(),
		maxSize:   maxSize,
		autoFlush: true,
	}
}

// PutBook adds a book write to the batch, including its index entries.
// Unlike UpsertBook this performs no read-back, so callers that may be
// replacing a book must pass a record with timestamps already set.
// If autoFlush is enabled and the batch reaches maxSize, it flushes automatically.
func (b *BatchWriter) PutBook(_ context.Context, book *domain.Book) error {
	data, err := json.Marshal(book)
	if err != nil {
		return fmt.Errorf("marshal book: %w", err)
	}

	key := []byte(bookPrefix + book.ID)
	if err := b.batch.Set(key, data); err != nil {
		return fmt.Errorf("batch set book: %w", err)
	}

	if book.Category != "" {
		categoryKey := []byte(bookIdxCategoryPrefix + book.Category + ":" + book.ID)
		if err := b.batch.Set(categoryKey, []byte{}); err != nil {
			return fmt.Errorf("batch set category index: %w", err)
		}
	}

	statusKey := []byte(bookIdxStatusPrefix + string(book.Status) + ":" + book.ID)
	if err := b.batch.Set(statusKey, []byte{}); err != nil {
		return fmt.Errorf("batch set status index: %w", err)
	}

	b.count++

	// Auto-flush if batch is full
	if b.autoFlush && b.count >= b.maxSize {
		if err := b.Flush(); err != nil {
			return fmt.Errorf("auto flush: %w", err)
		}
	}

	return nil
}

// PutFingerprint adds a fingerprint write to the batch.
func (b *BatchWriter) PutFingerprint(_ context.Context, fp *domain.Fingerprint) error {
	data, err := json.Marshal(fp)
	if err != nil {
		return fmt.Errorf("marshal fingerprint: %w", err)
	}

	if err := b.batch.Set([]byte(fingerprintPrefix+fp.BookID), data); err != nil {
		return fmt.Errorf("batch set fingerprint: %w", err)
	}

	b.count++

	if b.autoFlush && b.count >= b.maxSize {
		if err := b.Flush(); err != nil {
			return fmt.Errorf("auto flush: %w", err)
		}
	}

	return nil
}

// Flush commits all pending writes in the batch.
func (b *BatchWriter) Flush() error {
	if b.count == 0 {
		return nil // Nothing to flush
	}

	if err := b.batch.Flush(); err != nil {
		return fmt.Errorf("flush batch: %w", err)
	}

	if b.store.logger != nil {
		b.store.logger.LogAttrs(context.Background(), slog.LevelInfo, "batch flushed",
			slog.Int("count", b.count),
		)
	}

	// Reset for next batch
	b.count = 0
	b.batch = b.store.db.NewWriteBatch()

	return nil
}

// Cancel discards all pending writes in the batch.
func (b *BatchWriter) Cancel() {
	b.batch.Cancel()
	b.count = 0
}

// Count returns the number of operations in the current batch.
func (b *BatchWriter) Count() int {
	return b.count
}
