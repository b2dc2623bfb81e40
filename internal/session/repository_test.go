package session

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ai-food-diary/internal/database"
	"ai-food-diary/internal/draft"
	"ai-food-diary/internal/food"
)

func newTestRepository(t *testing.T, ttl time.Duration) *Repository {
	t.Helper()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "sessions.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewRepository(db.SQL, ttl)
}

func TestRepository(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t, time.Hour)

	t.Run("MissingIsNil", func(t *testing.T) {
		blob, err := repo.Get(ctx, 42)
		require.NoError(t, err)
		assert.Nil(t, blob)
	})

	t.Run("PutOverwrites", func(t *testing.T) {
		require.NoError(t, repo.Put(ctx, 42, []byte(`{"step":"a"}`)))
		require.NoError(t, repo.Put(ctx, 42, []byte(`{"step":"b"}`)))

		blob, err := repo.Get(ctx, 42)
		require.NoError(t, err)
		assert.JSONEq(t, `{"step":"b"}`, string(blob))
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, repo.Delete(ctx, 42))
		blob, err := repo.Get(ctx, 42)
		require.NoError(t, err)
		assert.Nil(t, blob)
	})
}

func TestRepository_Expiry(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t, time.Minute)
	now := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return now }

	require.NoError(t, repo.Put(ctx, 1, []byte(`{}`)))
	require.NoError(t, repo.Put(ctx, 2, []byte(`{}`)))

	now = now.Add(2 * time.Minute)
	require.NoError(t, repo.Put(ctx, 2, []byte(`{}`)))

	blob, err := repo.Get(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, blob)

	removed, err := repo.CleanupExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	blob, err = repo.Get(ctx, 2)
	require.NoError(t, err)
	assert.NotNil(t, blob)
}

func TestRepository_BacksDraftCache(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t, time.Hour)

	a := food.Analysis{Name: "Суп", Ingredients: []string{"Суп 300г"}, WeightGrams: 300,
		Nutrients: food.Nutrients{Calories: 120, Protein: 4.5, Fat: 3, Carbs: 18}}

	id, err := draft.NewCache(repo, nil).Put(ctx, 5, a)
	require.NoError(t, err)

	got, err := draft.NewCache(repo, nil).Get(ctx, 5, id)
	require.NoError(t, err)
	assert.Equal(t, a, got)
}
