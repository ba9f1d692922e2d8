package feed

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/price-tracker/internal/model"
	"github.com/atmx/price-tracker/internal/store"
)

func sample(ts int64) model.Sample {
	return model.Sample{Price: float64(ts) / 10, Timestamp: ts}
}

func recvWithin(t *testing.T, sub *Subscription) (model.Sample, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return sub.Recv(ctx)
}

func TestHub_ReplayThenLive(t *testing.T) {
	ctx := context.Background()
	ms := store.NewMemoryStore()
	for ts := int64(1); ts <= 500; ts++ {
		require.NoError(t, ms.Insert(ctx, sample(ts)))
	}

	hub := NewHub(ms, 10, zerolog.Nop())
	sub, replay, err := hub.Subscribe(ctx)
	require.NoError(t, err)
	defer sub.Close()

	require.Len(t, replay, 500)
	for i, s := range replay {
		assert.Equal(t, int64(i+1), s.Timestamp)
	}

	hub.Publish(sample(501))
	got, err := recvWithin(t, sub)
	require.NoError(t, err)
	assert.Equal(t, sample(501), got)
}

// racingHistory publishes while the replay is being read, as the poller
// would if it ticked during a subscriber's connect.
type racingHistory struct {
	store *store.MemoryStore
	hub   *Hub
}

func (r *racingHistory) FetchAll(ctx context.Context) []model.Sample {
	// Stored and published before the replay read: must not be delivered twice.
	_ = r.store.Insert(ctx, sample(3))
	r.hub.Publish(sample(3))
	out := r.store.FetchAll(ctx)
	// Stored after the replay read: must arrive live.
	_ = r.store.Insert(ctx, sample(4))
	r.hub.Publish(sample(4))
	return out
}

func TestHub_NoGapNoDuplicateAcrossReplay(t *testing.T) {
	ctx := context.Background()
	ms := store.NewMemoryStore()
	require.NoError(t, ms.Insert(ctx, sample(1)))
	require.NoError(t, ms.Insert(ctx, sample(2)))

	rh := &racingHistory{store: ms}
	hub := NewHub(rh, 10, zerolog.Nop())
	rh.hub = hub

	sub, replay, err := hub.Subscribe(ctx)
	require.NoError(t, err)
	defer sub.Close()

	assert.Equal(t, []model.Sample{sample(1), sample(2), sample(3)}, replay)

	got, err := recvWithin(t, sub)
	require.NoError(t, err)
	assert.Equal(t, sample(4), got)
}

// replacingHistory re-stamps the newest stored sample with a new price
// right after the replay read.
type replacingHistory struct {
	store *store.MemoryStore
	hub   *Hub
}

func (r *replacingHistory) FetchAll(ctx context.Context) []model.Sample {
	out := r.store.FetchAll(ctx)
	replaced := model.Sample{Price: 999, Timestamp: 2}
	_ = r.store.Insert(ctx, replaced)
	r.hub.Publish(model.Sample{Price: 0.1, Timestamp: 1})
	r.hub.Publish(sample(2))
	r.hub.Publish(replaced)
	return out
}

func TestHub_ReplacementAtReplayEdgeIsDelivered(t *testing.T) {
	ctx := context.Background()
	ms := store.NewMemoryStore()
	require.NoError(t, ms.Insert(ctx, sample(1)))
	require.NoError(t, ms.Insert(ctx, sample(2)))

	rh := &replacingHistory{store: ms}
	hub := NewHub(rh, 10, zerolog.Nop())
	rh.hub = hub

	sub, replay, err := hub.Subscribe(ctx)
	require.NoError(t, err)
	defer sub.Close()
	assert.Equal(t, []model.Sample{sample(1), sample(2)}, replay)

	// Older and identical samples are skipped; the new price is not.
	got, err := recvWithin(t, sub)
	require.NoError(t, err)
	assert.Equal(t, model.Sample{Price: 999, Timestamp: 2}, got)
}

func TestHub_SlowSubscriberLagsWithoutBlocking(t *testing.T) {
	hub := NewHub(store.NewMemoryStore(), 3, zerolog.Nop())
	sub, _, err := hub.Subscribe(context.Background())
	require.NoError(t, err)
	defer sub.Close()

	done := make(chan struct{})
	go func() {
		for ts := int64(1); ts <= 10; ts++ {
			hub.Publish(sample(ts))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}

	_, err = recvWithin(t, sub)
	var lagged *LaggedError
	require.True(t, errors.As(err, &lagged), "expected lag indication, got %v", err)
	assert.EqualValues(t, 7, lagged.Skipped)
	assert.EqualValues(t, 7, sub.Dropped())

	for _, want := range []int64{8, 9, 10} {
		got, err := recvWithin(t, sub)
		require.NoError(t, err)
		assert.Equal(t, want, got.Timestamp)
	}
}

func TestHub_CloseDetachesOnlyThatSubscriber(t *testing.T) {
	ctx := context.Background()
	hub := NewHub(store.NewMemoryStore(), 10, zerolog.Nop())

	a, _, err := hub.Subscribe(ctx)
	require.NoError(t, err)
	b, _, err := hub.Subscribe(ctx)
	require.NoError(t, err)
	defer b.Close()
	require.Equal(t, 2, hub.Len())

	a.Close()
	a.Close()
	assert.Equal(t, 1, hub.Len())

	_, err = recvWithin(t, a)
	assert.ErrorIs(t, err, ErrClosed)

	hub.Publish(sample(1))
	got, err := recvWithin(t, b)
	require.NoError(t, err)
	assert.Equal(t, sample(1), got)
}

func TestHub_CloseDrainsBacklogThenErrClosed(t *testing.T) {
	ctx := context.Background()
	hub := NewHub(store.NewMemoryStore(), 10, zerolog.Nop())
	sub, _, err := hub.Subscribe(ctx)
	require.NoError(t, err)

	hub.Publish(sample(1))
	hub.Close()

	got, err := recvWithin(t, sub)
	require.NoError(t, err)
	assert.Equal(t, sample(1), got)

	_, err = recvWithin(t, sub)
	assert.ErrorIs(t, err, ErrClosed)

	_, _, err = hub.Subscribe(ctx)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestHub_RecvHonoursContext(t *testing.T) {
	hub := NewHub(store.NewMemoryStore(), 10, zerolog.Nop())
	sub, _, err := hub.Subscribe(context.Background())
	require.NoError(t, err)
	defer sub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = sub.Recv(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestHub_ConcurrentSubscribers(t *testing.T) {
	ctx := context.Background()
	hub := NewHub(store.NewMemoryStore(), 1000, zerolog.Nop())

	const subscribers, samples = 8, 200
	var wg sync.WaitGroup
	results := make([][]int64, subscribers)
	ready := make(chan struct{}, subscribers)

	for i := 0; i < subscribers; i++ {
		sub, _, err := hub.Subscribe(ctx)
		require.NoError(t, err)
		wg.Add(1)
		go func(i int, sub *Subscription) {
			defer wg.Done()
			defer sub.Close()
			ready <- struct{}{}
			for len(results[i]) < samples {
				s, err := recvWithin(t, sub)
				if err != nil {
					return
				}
				results[i] = append(results[i], s.Timestamp)
			}
		}(i, sub)
	}
	for i := 0; i < subscribers; i++ {
		<-ready
	}

	for ts := int64(1); ts <= samples; ts++ {
		hub.Publish(sample(ts))
	}
	wg.Wait()

	for i := range results {
		require.Len(t, results[i], samples)
		for j, ts := range results[i] {
			assert.Equal(t, int64(j+1), ts)
		}
	}
	assert.Equal(t, 0, hub.Len())
}
