package store_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/filerskeepers/bookwatch/internal/store"
)

type TestEntity struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Category string `json:"category"`
}

func setupTestStore(t *testing.T) (*store.Store, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "entity-test-*")
	require.NoError(t, err)

	dbPath := filepath.Join(tmpDir, "test.db")
	s, err := store.New(dbPath, nil)
	require.NoError(t, err)

	cleanup := func() {
		_ = s.Close()
		_ = os.RemoveAll(tmpDir)
	}

	return s, cleanup
}

func TestEntity_Create_Success(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()

	entity := store.NewEntity[TestEntity](s, "test:")

	testData := &TestEntity{
		ID:       "1",
		Name:     "A Light in the Attic",
		Category: "Poetry",
	}

	err := entity.Create(context.Background(), "1", testData)
	require.NoError(t, err)

	// Verify we can retrieve it
	retrieved, err := entity.Get(context.Background(), "1")
	require.NoError(t, err)
	require.Equal(t, testData.ID, retrieved.ID)
	require.Equal(t, testData.Name, retrieved.Name)
	require.Equal(t, testData.Category, retrieved.Category)
}

func TestEntity_Create_AlreadyExists(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()

	entity := store.NewEntity[TestEntity](s, "test:")

	testData := &TestEntity{
		ID:       "1",
		Name:     "A Light in the Attic",
		Category: "Poetry",
	}

	// Create first time
	err := entity.Create(context.Background(), "1", testData)
	require.NoError(t, err)

	// Try to create again
	err = entity.Create(context.Background(), "1", testData)
	require.Error(t, err)
	require.ErrorIs(t, err, store.ErrAlreadyExists)
}

func TestEntity_Get_NotFound(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()

	entity := store.NewEntity[TestEntity](s, "test:")

	retrieved, err := entity.Get(context.Background(), "nonexistent")
	require.Error(t, err)
	require.ErrorIs(t, err, store.ErrNotFound)
	require.Nil(t, retrieved)
}

func TestEntity_Put_Replaces(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()

	entity := store.NewEntity[TestEntity](s, "test:")

	testData := &TestEntity{
		ID:       "1",
		Name:     "A Light in the Attic",
		Category: "Poetry",
	}

	err := entity.Create(context.Background(), "1", testData)
	require.NoError(t, err)

	// Replace the entity
	updatedData := &TestEntity{
		ID:       "1",
		Name:     "A Light in the Attic",
		Category: "Classics",
	}

	err = entity.Put(context.Background(), "1", updatedData)
	require.NoError(t, err)

	// Verify the replacement
	retrieved, err := entity.Get(context.Background(), "1")
	require.NoError(t, err)
	require.Equal(t, updatedData.Category, retrieved.Category)
}

func TestEntity_Put_CreatesWhenMissing(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()

	entity := store.NewEntity[TestEntity](s, "test:")

	testData := &TestEntity{
		ID:       "1",
		Name:     "A Light in the Attic",
		Category: "Poetry",
	}

	// Put without a prior Create
	err := entity.Put(context.Background(), "1", testData)
	require.NoError(t, err)

	retrieved, err := entity.Get(context.Background(), "1")
	require.NoError(t, err)
	require.Equal(t, testData.Name, retrieved.Name)
}

func TestEntity_Delete_Success(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()

	entity := store.NewEntity[TestEntity](s, "test:")

	testData := &TestEntity{
		ID:       "1",
		Name:     "A Light in the Attic",
		Category: "Poetry",
	}

	err := entity.Create(context.Background(), "1", testData)
	require.NoError(t, err)

	// Delete the entity
	err = entity.Delete(context.Background(), "1")
	require.NoError(t, err)

	// Verify it's gone
	retrieved, err := entity.Get(context.Background(), "1")
	require.Error(t, err)
	require.ErrorIs(t, err, store.ErrNotFound)
	require.Nil(t, retrieved)
}

func TestEntity_Delete_NotFound(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()

	entity := store.NewEntity[TestEntity](s, "test:")

	// Delete should be idempotent - no error if not exists
	err := entity.Delete(context.Background(), "nonexistent")
	require.NoError(t, err)
}

func TestEntity_Count(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()

	entity := store.NewEntity[TestEntity](s, "test:")

	count, err := entity.Count(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, count)

	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("%d", i)
		err := entity.Create(context.Background(), id, &TestEntity{ID: id, Name: "Book " + id})
		require.NoError(t, err)
	}

	count, err = entity.Count(context.Background())
	require.NoError(t, err)
	require.Equal(t, 5, count)
}

func TestEntity_List(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()

	entity := store.NewEntity[TestEntity](s, "test:")

	for i := 0; i < 3; i++ {
		id := fmt.Sprintf("%d", i)
		err := entity.Create(context.Background(), id, &TestEntity{ID: id, Name: "Book " + id})
		require.NoError(t, err)
	}

	var items []*TestEntity
	for item, err := range entity.List(context.Background()) {
		require.NoError(t, err)
		items = append(items, item)
	}
	require.Len(t, items, 3)
}

func TestEntity_List_EarlyStop(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()

	entity := store.NewEntity[TestEntity](s, "test:")

	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("%d", i)
		err := entity.Create(context.Background(), id, &TestEntity{ID: id, Name: "Book " + id})
		require.NoError(t, err)
	}

	// Consumers can break out of the iteration
	seen := 0
	for _, err := range entity.List(context.Background()) {
		require.NoError(t, err)
		seen++
		if seen == 2 {
			break
		}
	}
	require.Equal(t, 2, seen)
}

func TestEntity_PrefixIsolation(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()

	first := store.NewEntity[TestEntity](s, "alpha:")
	second := store.NewEntity[TestEntity](s, "beta:")

	err := first.Create(context.Background(), "1", &TestEntity{ID: "1", Name: "Alpha Book"})
	require.NoError(t, err)

	// The other prefix doesn't see it
	_, err = second.Get(context.Background(), "1")
	require.ErrorIs(t, err, store.ErrNotFound)

	count, err := second.Count(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, count)
}
