package store

import (
	"context"
	"encoding/json/v2"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"github.com/filerskeepers/bookwatch/internal/domain"
	"github.com/filerskeepers/bookwatch/internal/fingerprint"
)

const (
	bookPrefix            = "book:"
	bookIdxCategoryPrefix = "book:idx:category:"
	bookIdxStatusPrefix   = "book:idx:status:"

	// Book IDs are "book_" plus 32 hex digits, so index keys can be
	// parsed from the right even when a category contains a colon.
	bookIDLength = 37
)

var (
	ErrBookNotFound = errors.New("book not found")
	ErrBookExists   = errors.New("book already exists")
)

// Book Operations

// CreateBook creates a new book with its category and status indexes.
// Returns ErrBookExists if a book with this ID is already stored, and
// ErrInvalidInput if the record violates a stored-book invariant.
func (s *Store) CreateBook(ctx context.Context, book *domain.Book) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.validator.Validate(book); err != nil {
		return ErrInvalidInput.WithCause(err)
	}

	key := []byte(bookPrefix + book.ID)

	exists, err := s.exists(key)
	if err != nil {
		return fmt.Errorf("check book exists: %w", err)
	}
	if exists {
		return ErrBookExists
	}

	if book.CreatedAt.IsZero() {
		book.InitTimestamps()
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		data, err := json.Marshal(book)
		if err != nil {
			return fmt.Errorf("marshal book: %w", err)
		}

		if err := txn.Set(key, data); err != nil {
			return err
		}
		return setBookIndexes(txn, book)
	})
	if err != nil {
		return fmt.Errorf("create book: %w", err)
	}

	if s.logger != nil {
		s.logger.LogAttrs(ctx, slog.LevelDebug, "book created",
			slog.String("id", book.ID),
			slog.String("name", book.Name),
			slog.String("category", book.Category),
		)
	}

	s.indexBook(book)
	return nil
}

// UpsertBook writes a book, creating it if new or replacing the stored
// version. CreatedAt is preserved across updates; UpdatedAt is bumped on
// every update. Returns true when the book was newly created, and
// ErrInvalidInput if the record violates a stored-book invariant.
func (s *Store) UpsertBook(ctx context.Context, book *domain.Book) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if err := s.validator.Validate(book); err != nil {
		return false, ErrInvalidInput.WithCause(err)
	}

	key := []byte(bookPrefix + book.ID)
	created := false

	err := s.db.Update(func(txn *badger.Txn) error {
		var old *domain.Book

		item, err := txn.Get(key)
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
			created = true
		case err != nil:
			return fmt.Errorf("get existing book: %w", err)
		default:
			var stored domain.Book
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &stored)
			}); err != nil {
				return fmt.Errorf("unmarshal existing book: %w", err)
			}
			old = &stored
		}

		if old == nil {
			if book.CreatedAt.IsZero() {
				book.InitTimestamps()
			}
		} else {
			book.CreatedAt = old.CreatedAt
			book.Touch()
			if err := deleteBookIndexes(txn, old); err != nil {
				return err
			}
		}

		data, err := json.Marshal(book)
		if err != nil {
			return fmt.Errorf("marshal book: %w", err)
		}
		if err := txn.Set(key, data); err != nil {
			return err
		}
		return setBookIndexes(txn, book)
	})
	if err != nil {
		return false, fmt.Errorf("upsert book: %w", err)
	}

	s.indexBook(book)
	return created, nil
}

// GetBook retrieves a book by ID.
func (s *Store) GetBook(ctx context.Context, id string) (*domain.Book, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var book domain.Book
	err := s.get([]byte(bookPrefix+id), &book)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, ErrBookNotFound
		}
		return nil, fmt.Errorf("get book: %w", err)
	}
	return &book, nil
}

// GetBookByURL retrieves a book by its source URL. The ID is derived from
// the URL, so no separate index is needed.
func (s *Store) GetBookByURL(ctx context.Context, sourceURL string) (*domain.Book, error) {
	return s.GetBook(ctx, fingerprint.BookID(sourceURL))
}

// MarkBookRemoved soft-deletes a book: the record stays with status
// "removed" so history and change logs keep resolving. Idempotent for
// already-removed books.
func (s *Store) MarkBookRemoved(ctx context.Context, id string) (*domain.Book, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	key := []byte(bookPrefix + id)
	var book domain.Book

	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrBookNotFound
		}
		if err != nil {
			return fmt.Errorf("get book: %w", err)
		}

		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &book)
		}); err != nil {
			return fmt.Errorf("unmarshal book: %w", err)
		}

		if book.IsRemoved() {
			return nil
		}

		if err := deleteBookIndexes(txn, &book); err != nil {
			return err
		}

		book.MarkRemoved()

		data, err := json.Marshal(&book)
		if err != nil {
			return fmt.Errorf("marshal book: %w", err)
		}
		if err := txn.Set(key, data); err != nil {
			return err
		}
		return setBookIndexes(txn, &book)
	})
	if err != nil {
		if errors.Is(err, ErrBookNotFound) {
			return nil, ErrBookNotFound
		}
		return nil, fmt.Errorf("mark book removed: %w", err)
	}

	if s.logger != nil {
		s.logger.LogAttrs(ctx, slog.LevelInfo, "book marked removed",
			slog.String("id", book.ID),
			slog.String("name", book.Name),
		)
	}

	s.indexBook(&book)
	return &book, nil
}

// ListBooks returns active (non-removed) books in ID order, one cursor
// page at a time.
func (s *Store) ListBooks(ctx context.Context, params PaginationParams) (*PaginatedResult[*domain.Book], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	params.Validate()

	startKey, err := DecodeCursor(params.Cursor)
	if err != nil {
		return nil, ErrInvalidInput.WithCause(err)
	}

	result := &PaginatedResult[*domain.Book]{
		Items: make([]*domain.Book, 0, params.Limit),
	}

	err = s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(bookPrefix)

		it := txn.NewIterator(opts)
		defer it.Close()

		seek := []byte(bookPrefix)
		if startKey != "" {
			// Resume strictly after the last returned key.
			seek = append([]byte(startKey), 0)
		}

		var lastKey string
		for it.Seek(seek); it.ValidForPrefix([]byte(bookPrefix)); it.Next() {
			if ctx.Err() != nil {
				return ctx.Err()
			}

			key := string(it.Item().Key())
			if strings.HasPrefix(key[len(bookPrefix):], "idx:") {
				continue
			}

			if len(result.Items) >= params.Limit {
				result.HasMore = true
				result.NextCursor = EncodeCursor(lastKey)
				return nil
			}

			var book domain.Book
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &book)
			}); err != nil {
				return fmt.Errorf("unmarshal book: %w", err)
			}

			if book.IsRemoved() {
				continue
			}

			result.Items = append(result.Items, &book)
			lastKey = key
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list books: %w", err)
	}

	return result, nil
}

// ListAllBooks returns every book including removed ones.
func (s *Store) ListAllBooks(ctx context.Context) ([]*domain.Book, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var books []*domain.Book
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(bookPrefix)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek([]byte(bookPrefix)); it.ValidForPrefix([]byte(bookPrefix)); it.Next() {
			if ctx.Err() != nil {
				return ctx.Err()
			}

			key := string(it.Item().Key())
			if strings.HasPrefix(key[len(bookPrefix):], "idx:") {
				continue
			}

			var book domain.Book
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &book)
			}); err != nil {
				return fmt.Errorf("unmarshal book: %w", err)
			}
			books = append(books, &book)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list all books: %w", err)
	}

	return books, nil
}

// ListBooksByCategory returns all books in a category via the category index.
func (s *Store) ListBooksByCategory(ctx context.Context, category string) ([]*domain.Book, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	indexPrefix := []byte(bookIdxCategoryPrefix + category + ":")
	var books []*domain.Book

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = indexPrefix

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(indexPrefix); it.ValidForPrefix(indexPrefix); it.Next() {
			id := bookIDFromIndexKey(string(it.Item().Key()))
			if id == "" {
				continue
			}

			book, err := s.getBookInTxn(txn, id)
			if err != nil {
				continue
			}
			books = append(books, book)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list books by category: %w", err)
	}

	return books, nil
}

// ListBooksByStatus returns all books with the given crawl status.
func (s *Store) ListBooksByStatus(ctx context.Context, status domain.CrawlStatus) ([]*domain.Book, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	indexPrefix := []byte(bookIdxStatusPrefix + string(status) + ":")
	var books []*domain.Book

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = indexPrefix

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(indexPrefix); it.ValidForPrefix(indexPrefix); it.Next() {
			id := bookIDFromIndexKey(string(it.Item().Key()))
			if id == "" {
				continue
			}

			book, err := s.getBookInTxn(txn, id)
			if err != nil {
				continue
			}
			books = append(books, book)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list books by status: %w", err)
	}

	return books, nil
}

// CountBooks returns the number of active (non-removed) books.
func (s *Store) CountBooks(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	total, err := s.countPrefix([]byte(bookIdxStatusPrefix))
	if err != nil {
		return 0, fmt.Errorf("count books: %w", err)
	}
	removed, err := s.countPrefix([]byte(bookIdxStatusPrefix + string(domain.CrawlStatusRemoved) + ":"))
	if err != nil {
		return 0, fmt.Errorf("count removed books: %w", err)
	}
	return total - removed, nil
}

// CountBooksByStatus returns the number of books with the given status.
func (s *Store) CountBooksByStatus(ctx context.Context, status domain.CrawlStatus) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	count, err := s.countPrefix([]byte(bookIdxStatusPrefix + string(status) + ":"))
	if err != nil {
		return 0, fmt.Errorf("count books by status: %w", err)
	}
	return count, nil
}

// Categories returns the distinct categories of stored books, sorted.
func (s *Store) Categories(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	prefix := []byte(bookIdxCategoryPrefix)

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := string(it.Item().Key())
			category := categoryFromIndexKey(key)
			if category != "" {
				seen[category] = struct{}{}
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}

	categories := make([]string, 0, len(seen))
	for c := range seen {
		categories = append(categories, c)
	}
	slices.Sort(categories)
	return categories, nil
}

// getBookInTxn retrieves a book within an existing transaction.
func (s *Store) getBookInTxn(txn *badger.Txn, id string) (*domain.Book, error) {
	item, err := txn.Get([]byte(bookPrefix + id))
	if err != nil {
		return nil, err
	}

	var book domain.Book
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &book)
	})
	if err != nil {
		return nil, err
	}
	return &book, nil
}

// setBookIndexes writes the key-only category and status index entries.
func setBookIndexes(txn *badger.Txn, book *domain.Book) error {
	if book.Category != "" {
		categoryKey := []byte(bookIdxCategoryPrefix + book.Category + ":" + book.ID)
		if err := txn.Set(categoryKey, []byte{}); err != nil {
			return fmt.Errorf("set category index: %w", err)
		}
	}

	statusKey := []byte(bookIdxStatusPrefix + string(book.Status) + ":" + book.ID)
	if err := txn.Set(statusKey, []byte{}); err != nil {
		return fmt.Errorf("set status index: %w", err)
	}
	return nil
}

// deleteBookIndexes removes the index entries for the stored version of a book.
func deleteBookIndexes(txn *badger.Txn, book *domain.Book) error {
	if book.Category != "" {
		categoryKey := []byte(bookIdxCategoryPrefix + book.Category + ":" + book.ID)
		if err := txn.Delete(categoryKey); err != nil {
			return fmt.Errorf("delete category index: %w", err)
		}
	}

	statusKey := []byte(bookIdxStatusPrefix + string(book.Status) + ":" + book.ID)
	if err := txn.Delete(statusKey); err != nil {
		return fmt.Errorf("delete status index: %w", err)
	}
	return nil
}

// bookIDFromIndexKey extracts the fixed-length book ID from the tail of
// an index key.
func bookIDFromIndexKey(key string) string {
	if len(key) <= bookIDLength {
		return ""
	}
	return key[len(key)-bookIDLength:]
}

// categoryFromIndexKey extracts the category from a category index key.
// Key format: book:idx:category:{category}:{id}.
func categoryFromIndexKey(key string) string {
	if len(key) <= len(bookIdxCategoryPrefix)+bookIDLength+1 {
		return ""
	}
	return key[len(bookIdxCategoryPrefix) : len(key)-bookIDLength-1]
}

// indexBook pushes a book into the search index asynchronously so store
// writes never block on indexing.
func (s *Store) indexBook(book *domain.Book) {
	if s.searchIndexer == nil {
		return
	}

	b := *book
	go func() {
		if err := s.searchIndexer.IndexBook(context.Background(), &b); err != nil && s.logger != nil {
			s.logger.Warn("failed to index book", "book_id", b.ID, "error", err)
		}
	}()
}
