package store_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/price-tracker/internal/model"
	"github.com/atmx/price-tracker/internal/store"
)

// exerciseContract runs the storage contract against a live backend.
func exerciseContract(t *testing.T, st store.Store) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, st.Insert(ctx, sample(200, 2)))
	require.NoError(t, st.Insert(ctx, sample(100, 1)))
	require.NoError(t, st.Insert(ctx, sample(300, 3)))
	require.NoError(t, st.Insert(ctx, sample(200, 2.5)))

	assert.Equal(t, []model.Sample{sample(100, 1), sample(200, 2.5), sample(300, 3)}, st.FetchAll(ctx))

	require.NoError(t, st.DeleteByTimestamp(ctx, 200))
	assert.Equal(t, []model.Sample{sample(100, 1), sample(300, 3)}, st.FetchAll(ctx))
}

func TestPostgresStore_Contract(t *testing.T) {
	dsn := os.Getenv("PRICETRACKER_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("PRICETRACKER_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()

	pool, err := store.NewPool(ctx, store.PoolOptions{DSN: dsn})
	require.NoError(t, err)
	defer pool.Close()

	table := fmt.Sprintf("prices_test_%d", time.Now().UnixNano())
	ps := store.NewPostgresStore(pool, table, zerolog.Nop())
	require.NoError(t, ps.EnsureSchema(ctx))
	defer pool.Exec(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS "%s"`, table))

	exerciseContract(t, ps)
}

func TestRedisStore_Contract(t *testing.T) {
	url := os.Getenv("PRICETRACKER_TEST_REDIS_URL")
	if url == "" {
		t.Skip("PRICETRACKER_TEST_REDIS_URL not set")
	}
	ctx := context.Background()

	rdb, err := store.NewRedisClient(ctx, url)
	require.NoError(t, err)
	defer rdb.Close()

	key := fmt.Sprintf("prices:test:%d", time.Now().UnixNano())
	defer rdb.Del(ctx, key)

	exerciseContract(t, store.NewRedisStore(rdb, key, zerolog.Nop()))
}
