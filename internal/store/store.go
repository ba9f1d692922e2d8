// Package store defines the persistence contract for price samples.
// Implementations include PostgreSQL and Redis (durable), in-memory (for
// testing), and CachedStore, a read-through snapshot decorator that wraps
// any of them.
package store

import (
	"context"
	"errors"

	"github.com/atmx/price-tracker/internal/model"
)

// ErrStoreUnavailable is returned by stores that have been closed.
var ErrStoreUnavailable = errors.New("store unavailable")

// Store is the storage contract every layer of the decorator stack
// satisfies. Each operation is individually atomic; nothing else about the
// implementation's consistency may be assumed.
type Store interface {
	// Insert stores s, replacing any sample with the same timestamp.
	Insert(ctx context.Context, s model.Sample) error

	// FetchAll returns every sample sorted ascending by timestamp.
	// It never fails: an underlying fault is logged and yields an empty
	// slice, so callers must tolerate empty results.
	FetchAll(ctx context.Context) []model.Sample

	// DeleteByTimestamp removes the sample stored at ts, if any.
	DeleteByTimestamp(ctx context.Context, ts int64) error
}
