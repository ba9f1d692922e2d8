package retention

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/atmx/price-tracker/internal/model"
)

var testNow = time.Date(2026, 10, 18, 12, 2, 10, 0, time.UTC)

func at(offset time.Duration) model.Sample {
	ts := testNow.Add(offset).Unix()
	return model.Sample{Price: float64(ts % 1000), Timestamp: ts}
}

func keys(keep map[int64]struct{}) map[int64]bool {
	out := make(map[int64]bool, len(keep))
	for k := range keep {
		out[k] = true
	}
	return out
}

func TestKeep_RecentSamplesUntouched(t *testing.T) {
	p := DefaultPolicy(time.UTC)
	samples := []model.Sample{at(-2 * time.Second), at(-time.Second), at(0)}

	keep := keys(p.Keep(samples, testNow))
	assert.Len(t, keep, 3)
}

func TestKeep_SameMinuteBucketKeepsLatest(t *testing.T) {
	p := DefaultPolicy(time.UTC)
	older, newer := at(-120*time.Second), at(-90*time.Second)
	// Both fall in 12:00.
	assert.Equal(t, p.BucketKey(older.Timestamp, p.Tiers[1]), p.BucketKey(newer.Timestamp, p.Tiers[1]))

	keep := keys(p.Keep([]model.Sample{newer, older}, testNow))
	assert.Equal(t, map[int64]bool{newer.Timestamp: true}, keep)
}

func TestKeep_LoneHourBucketSurvives(t *testing.T) {
	p := DefaultPolicy(time.UTC)
	old := at(-2 * time.Hour)
	fresh := at(0)

	keep := keys(p.Keep([]model.Sample{old, fresh}, testNow))
	assert.True(t, keep[old.Timestamp])
	assert.True(t, keep[fresh.Timestamp])
}

func TestKeep_TierBoundaries(t *testing.T) {
	p := DefaultPolicy(time.UTC)

	// Exactly 60s old is still full resolution; so are future stamps.
	edge := at(-time.Minute)
	future := at(5 * time.Second)
	// 61s and 62s old share minute 12:01 and collapse to the later one.
	a, b := at(-62*time.Second), at(-61*time.Second)

	keep := keys(p.Keep([]model.Sample{a, b, edge, future}, testNow))
	assert.True(t, keep[edge.Timestamp])
	assert.True(t, keep[future.Timestamp])
	assert.True(t, keep[b.Timestamp])
	assert.False(t, keep[a.Timestamp])
}

func TestKeep_DayBucket(t *testing.T) {
	p := DefaultPolicy(time.UTC)
	base := time.Date(2026, 10, 10, 0, 0, 0, 0, time.UTC)
	var samples []model.Sample
	for h := 0; h < 24; h += 3 {
		samples = append(samples, model.NewSample(1, base.Add(time.Duration(h)*time.Hour)))
	}
	latest := samples[len(samples)-1]

	keep := keys(p.Keep(samples, testNow))
	assert.Equal(t, map[int64]bool{latest.Timestamp: true}, keep)
}

func TestBucketKey_UsesLocation(t *testing.T) {
	ts := time.Date(2026, 10, 18, 23, 30, 0, 0, time.UTC).Unix()
	tokyo := time.FixedZone("JST", 9*3600)

	utc := DefaultPolicy(time.UTC)
	jst := DefaultPolicy(tokyo)

	assert.Equal(t, "2026-10-18", utc.BucketKey(ts, utc.Tiers[3]))
	assert.Equal(t, "2026-10-19", jst.BucketKey(ts, jst.Tiers[3]))
}

func TestKeep_Invariants(t *testing.T) {
	p := DefaultPolicy(time.UTC)
	rng := rand.New(rand.NewSource(7))

	seen := map[int64]bool{}
	var samples []model.Sample
	for len(samples) < 2000 {
		offset := time.Duration(rng.Int63n(int64(3*24*time.Hour/time.Second))) * time.Second
		s := at(-offset)
		if seen[s.Timestamp] {
			continue
		}
		seen[s.Timestamp] = true
		samples = append(samples, s)
	}

	keep := keys(p.Keep(samples, testNow))

	// Recompute expected winners per (tier, bucket) independently.
	type bucket struct {
		tier int
		key  string
	}
	tierOf := func(ts int64) int {
		age := testNow.Sub(time.Unix(ts, 0))
		switch {
		case age <= time.Minute:
			return 0
		case age <= time.Hour:
			return 1
		case age <= 24*time.Hour:
			return 2
		}
		return 3
	}
	winners := map[bucket]int64{}
	for _, s := range samples {
		tier := tierOf(s.Timestamp)
		if tier == 0 {
			assert.True(t, keep[s.Timestamp], "recent sample %d removed", s.Timestamp)
			continue
		}
		b := bucket{tier, p.BucketKey(s.Timestamp, p.Tiers[tier])}
		if s.Timestamp > winners[b] {
			winners[b] = s.Timestamp
		}
	}

	for _, s := range samples {
		tier := tierOf(s.Timestamp)
		if tier == 0 {
			continue
		}
		b := bucket{tier, p.BucketKey(s.Timestamp, p.Tiers[tier])}
		assert.Equal(t, winners[b] == s.Timestamp, keep[s.Timestamp], "sample %d", s.Timestamp)
	}
}
