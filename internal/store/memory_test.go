package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/price-tracker/internal/model"
)

func TestMemoryStore_SortedUpsertDelete(t *testing.T) {
	ctx := context.Background()
	ms := NewMemoryStore()

	require.NoError(t, ms.Insert(ctx, model.Sample{Price: 3, Timestamp: 30}))
	require.NoError(t, ms.Insert(ctx, model.Sample{Price: 1, Timestamp: 10}))
	require.NoError(t, ms.Insert(ctx, model.Sample{Price: 2, Timestamp: 20}))
	require.NoError(t, ms.Insert(ctx, model.Sample{Price: 22, Timestamp: 20}))

	assert.Equal(t, []model.Sample{
		{Price: 1, Timestamp: 10},
		{Price: 22, Timestamp: 20},
		{Price: 3, Timestamp: 30},
	}, ms.FetchAll(ctx))

	require.NoError(t, ms.DeleteByTimestamp(ctx, 10))
	require.NoError(t, ms.DeleteByTimestamp(ctx, 99))
	assert.Equal(t, 2, ms.Len())
}

func TestMemoryStore_EmptyFetchIsNotNil(t *testing.T) {
	got := NewMemoryStore().FetchAll(context.Background())
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestUpsert_KeepsOrder(t *testing.T) {
	var snap []model.Sample
	for _, ts := range []int64{4, 2, 8, 6, 2, 10} {
		snap = upsert(snap, model.Sample{Price: float64(ts), Timestamp: ts})
	}

	var got []int64
	for _, s := range snap {
		got = append(got, s.Timestamp)
	}
	assert.Equal(t, []int64{2, 4, 6, 8, 10}, got)
}
