// Package feed drives ingestion and fan-out: the Poller polls the upstream
// source and writes through the store stack, and the Hub republishes every
// stored sample to live subscribers.
package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/atmx/price-tracker/internal/metrics"
	"github.com/atmx/price-tracker/internal/model"
)

// DefaultBuffer is the per-subscriber backlog when none is configured.
const DefaultBuffer = 100

// ErrClosed is returned by Recv once the subscription or hub is closed.
var ErrClosed = errors.New("subscription closed")

// LaggedError reports that a subscriber fell behind and Skipped samples were
// dropped from its backlog, oldest first. Receiving may continue.
type LaggedError struct {
	Skipped uint64
}

func (e *LaggedError) Error() string {
	return fmt.Sprintf("subscriber lagged, skipped %d samples", e.Skipped)
}

// History supplies the replay sent to new subscribers.
type History interface {
	FetchAll(ctx context.Context) []model.Sample
}

// Hub fans samples out to subscribers. Publish never blocks: each subscriber
// has a bounded queue that drops its oldest entry when full.
type Hub struct {
	history  History
	capacity int
	logger   zerolog.Logger

	mu     sync.RWMutex
	subs   map[string]*Subscription
	closed bool
}

// NewHub creates a hub replaying from history with capacity-sized backlogs.
func NewHub(history History, capacity int, logger zerolog.Logger) *Hub {
	if capacity <= 0 {
		capacity = DefaultBuffer
	}
	return &Hub{
		history:  history,
		capacity: capacity,
		logger:   logger.With().Str("component", "hub").Logger(),
		subs:     make(map[string]*Subscription),
	}
}

// Publish enqueues s for every current subscriber.
func (h *Hub) Publish(s model.Sample) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subs {
		sub.push(s)
	}
}

// Subscribe attaches a new subscriber to the live stream and returns it
// together with the full history as replay. The subscriber is attached before
// history is read, and live samples already covered by the replay are
// skipped, so replay followed by Recv has neither gaps nor duplicates. A
// replacement at the last replayed timestamp still comes through.
func (h *Hub) Subscribe(ctx context.Context) (*Subscription, []model.Sample, error) {
	sub := &Subscription{
		id:     uuid.NewString(),
		hub:    h,
		ring:   make([]model.Sample, h.capacity),
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, nil, ErrClosed
	}
	h.subs[sub.id] = sub
	total := len(h.subs)
	h.mu.Unlock()

	metrics.Subscribers.Inc()
	h.logger.Info().Str("subscriber", sub.id).Int("total", total).Msg("subscriber attached")

	replay := h.history.FetchAll(ctx)
	if n := len(replay); n > 0 {
		sub.setFloor(replay[n-1])
	}
	return sub, replay, nil
}

// Len returns the number of attached subscribers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close detaches and closes every subscriber. Later Subscribe calls fail.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	subs := make([]*Subscription, 0, len(h.subs))
	for _, sub := range h.subs {
		subs = append(subs, sub)
	}
	h.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}
}

func (h *Hub) remove(id string) {
	h.mu.Lock()
	_, ok := h.subs[id]
	delete(h.subs, id)
	total := len(h.subs)
	h.mu.Unlock()

	if ok {
		metrics.Subscribers.Dec()
		h.logger.Info().Str("subscriber", id).Int("total", total).Msg("subscriber detached")
	}
}

// Subscription is one subscriber's bounded backlog.
type Subscription struct {
	id  string
	hub *Hub

	mu       sync.Mutex
	ring     []model.Sample
	head     int
	size     int
	floor    model.Sample // last replayed sample
	hasFloor bool
	lagged   uint64 // drops not yet reported by Recv
	dropped  uint64 // drops over the subscription lifetime

	notify    chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// ID returns the subscriber identifier.
func (s *Subscription) ID() string { return s.id }

// Dropped returns the total number of samples dropped for this subscriber.
func (s *Subscription) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Recv blocks until the next live sample. After drops it first returns a
// *LaggedError carrying the number skipped. It returns ErrClosed once the
// subscription is closed and its backlog is empty, or ctx.Err().
func (s *Subscription) Recv(ctx context.Context) (model.Sample, error) {
	for {
		s.mu.Lock()
		if s.lagged > 0 {
			n := s.lagged
			s.lagged = 0
			s.mu.Unlock()
			return model.Sample{}, &LaggedError{Skipped: n}
		}
		for s.size > 0 {
			sample := s.pop()
			if s.replayed(sample) {
				continue
			}
			s.mu.Unlock()
			return sample, nil
		}
		s.mu.Unlock()

		select {
		case <-s.notify:
		case <-s.done:
			if s.pending() {
				continue
			}
			return model.Sample{}, ErrClosed
		case <-ctx.Done():
			return model.Sample{}, ctx.Err()
		}
	}
}

// Close detaches the subscriber from the hub. Safe to call more than once.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.hub.remove(s.id)
	})
}

func (s *Subscription) push(sample model.Sample) {
	s.mu.Lock()
	select {
	case <-s.done:
		s.mu.Unlock()
		return
	default:
	}

	capacity := len(s.ring)
	if s.size == capacity {
		s.head = (s.head + 1) % capacity
		s.size--
		s.lagged++
		s.dropped++
		metrics.BroadcastDropped.Inc()
	}
	s.ring[(s.head+s.size)%capacity] = sample
	s.size++
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// pop removes the oldest queued sample. Caller holds s.mu and size > 0.
func (s *Subscription) pop() model.Sample {
	sample := s.ring[s.head]
	s.head = (s.head + 1) % len(s.ring)
	s.size--
	return sample
}

func (s *Subscription) pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size > 0 || s.lagged > 0
}

// setFloor marks last as the end of the replay.
func (s *Subscription) setFloor(last model.Sample) {
	s.mu.Lock()
	s.floor = last
	s.hasFloor = true
	s.mu.Unlock()
}

// replayed reports whether sample was already covered by the replay. A live
// sample re-stamped at the last replayed timestamp with a different price is
// a replacement and is delivered. Caller holds s.mu.
func (s *Subscription) replayed(sample model.Sample) bool {
	if !s.hasFloor {
		return false
	}
	if sample.Timestamp != s.floor.Timestamp {
		return sample.Timestamp < s.floor.Timestamp
	}
	return sample.Price == s.floor.Price
}
