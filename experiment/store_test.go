package experiment

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// storeConformance runs the shared Store contract against one backend.
func storeConformance(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("get missing", func(t *testing.T) {
		_, err := store.Get(ctx, "no-such-id")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("put and get", func(t *testing.T) {
		exp := New("Moss growth", "biology")
		require.NoError(t, exp.CompleteStep(1, "why does moss grow north", "moss question", ""))
		require.NoError(t, exp.AppendProvenance(1, ProvenanceEntry{Prompt: "p1", Output: "o1"}))
		require.NoError(t, store.Put(ctx, exp))

		got, err := store.Get(ctx, exp.ID)
		require.NoError(t, err)
		assert.Equal(t, exp.ID, got.ID)
		assert.Equal(t, "Moss growth", got.Title)
		assert.Equal(t, 2, got.CurrentStep)
		assert.Equal(t, "why does moss grow north", got.Step(1).Output)
		require.Len(t, got.Step(1).Provenance, 1)
		assert.Equal(t, "p1", got.Step(1).Provenance[0].Prompt)
		assert.False(t, got.UpdatedAt.IsZero())
	})

	t.Run("put replaces whole record", func(t *testing.T) {
		exp := New("v1", "f")
		require.NoError(t, store.Put(ctx, exp))

		exp.Title = "v2"
		require.NoError(t, exp.CompleteStep(1, "out", "", ""))
		require.NoError(t, store.Put(ctx, exp))

		got, err := store.Get(ctx, exp.ID)
		require.NoError(t, err)
		assert.Equal(t, "v2", got.Title)
		assert.Equal(t, 2, got.CurrentStep)
	})

	t.Run("get returns isolated copy", func(t *testing.T) {
		exp := New("isolated", "f")
		require.NoError(t, store.Put(ctx, exp))

		first, err := store.Get(ctx, exp.ID)
		require.NoError(t, err)
		require.NoError(t, first.CompleteStep(1, "local only", "", ""))

		second, err := store.Get(ctx, exp.ID)
		require.NoError(t, err)
		assert.False(t, second.Step(1).Complete())
	})

	t.Run("put rejects invalid record", func(t *testing.T) {
		exp := New("bad", "f")
		exp.CurrentStep = 9
		assert.ErrorIs(t, store.Put(ctx, exp), ErrInvalidInput)
		assert.Error(t, store.Put(ctx, nil))
	})

	t.Run("list newest first", func(t *testing.T) {
		a := New("list-a", "f")
		b := New("list-b", "f")
		require.NoError(t, store.Put(ctx, a))
		require.NoError(t, store.Put(ctx, b))

		all, err := store.List(ctx)
		require.NoError(t, err)
		require.GreaterOrEqual(t, len(all), 2)
		seen := map[string]bool{}
		for _, exp := range all {
			seen[exp.ID] = true
		}
		assert.True(t, seen[a.ID])
		assert.True(t, seen[b.ID])
	})

	t.Run("delete", func(t *testing.T) {
		exp := New("doomed", "f")
		require.NoError(t, store.Put(ctx, exp))
		require.NoError(t, store.Delete(ctx, exp.ID))
		_, err := store.Get(ctx, exp.ID)
		assert.ErrorIs(t, err, ErrNotFound)
		assert.ErrorIs(t, store.Delete(ctx, exp.ID), ErrNotFound)
	})

	t.Run("ping", func(t *testing.T) {
		assert.NoError(t, store.Ping(ctx))
	})
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()
	storeConformance(t, store)
}

func TestMemoryStore_Closed(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Close())

	_, err := store.Get(context.Background(), "x")
	assert.ErrorIs(t, err, ErrStoreClosed)
	assert.ErrorIs(t, store.Put(context.Background(), New("t", "f")), ErrStoreClosed)
	assert.ErrorIs(t, store.Ping(context.Background()), ErrStoreClosed)
}

func TestFileStore(t *testing.T) {
	store, err := NewFileStore(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	defer store.Close()
	storeConformance(t, store)
}

func TestFileStore_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	first, err := NewFileStore(dir, zap.NewNop())
	require.NoError(t, err)
	exp := New("durable", "f")
	require.NoError(t, exp.CompleteStep(1, "out", "sum", ""))
	require.NoError(t, first.Put(ctx, exp))
	require.NoError(t, first.Close())

	second, err := NewFileStore(dir, zap.NewNop())
	require.NoError(t, err)
	defer second.Close()

	got, err := second.Get(ctx, exp.ID)
	require.NoError(t, err)
	assert.Equal(t, "out", got.Step(1).Output)
}

func TestFileStore_RejectsPathTraversal(t *testing.T) {
	store, err := NewFileStore(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	defer store.Close()

	_, err = store.Get(context.Background(), "../escape")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestGormStore_SQLite(t *testing.T) {
	store, err := NewGormStore(SQLConfig{Driver: "sqlite", DSN: ":memory:"}, zap.NewNop())
	require.NoError(t, err)
	defer store.Close()
	storeConformance(t, store)
}

func TestGormStore_UnknownDriver(t *testing.T) {
	_, err := NewGormStore(SQLConfig{Driver: "oracle"}, zap.NewNop())
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)

	store, err := NewRedisStore(RedisConfig{Addr: mr.Addr()})
	require.NoError(t, err)
	defer store.Close()
	storeConformance(t, store)
}

func TestMongoStore(t *testing.T) {
	uri := os.Getenv("HYPATIA_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("HYPATIA_TEST_MONGO_URI not set, skipping mongo integration test")
	}

	store, err := NewMongoStore(MongoConfig{
		URI:        uri,
		Database:   "hypatia_test",
		Collection: fmt.Sprintf("experiments_%d", os.Getpid()),
	})
	require.NoError(t, err)
	defer store.Close()
	storeConformance(t, store)
}

func TestNewStoreFactory(t *testing.T) {
	t.Run("memory default", func(t *testing.T) {
		store, err := NewStore(StoreConfig{}, zap.NewNop())
		require.NoError(t, err)
		defer store.Close()
		_, ok := store.(*MemoryStore)
		assert.True(t, ok)
	})

	t.Run("file", func(t *testing.T) {
		store, err := NewStore(StoreConfig{Type: StoreTypeFile, BaseDir: t.TempDir()}, zap.NewNop())
		require.NoError(t, err)
		defer store.Close()
		_, ok := store.(*FileStore)
		assert.True(t, ok)
	})

	t.Run("unknown", func(t *testing.T) {
		_, err := NewStore(StoreConfig{Type: "carrier-pigeon"}, zap.NewNop())
		assert.ErrorIs(t, err, ErrInvalidInput)
	})
}
