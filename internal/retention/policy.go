// Package retention bounds storage growth by collapsing aged samples into
// coarser time buckets.
//
// Samples are partitioned by age at the moment compaction runs:
//
//	age < 1m     every sample kept
//	age < 1h     one sample per minute
//	age < 1d     one sample per hour
//	older        one sample per day
//
// Within a bucket the sample with the latest timestamp survives.
package retention

import (
	"time"

	"github.com/atmx/price-tracker/internal/model"
)

// Tier is one age band. Samples younger than MaxAge (and not claimed by an
// earlier tier) belong to it. A zero MaxAge means unbounded. An empty Layout
// keeps every sample; otherwise samples are bucketed by formatting their
// timestamp with Layout.
type Tier struct {
	Name   string
	MaxAge time.Duration
	Layout string
}

// Policy is an ordered list of tiers, youngest first, and the zone used to
// format bucket keys.
type Policy struct {
	Tiers    []Tier
	Location *time.Location
}

// DefaultPolicy returns the four-tier second/minute/hour/day policy with
// bucket keys formatted in loc.
func DefaultPolicy(loc *time.Location) Policy {
	if loc == nil {
		loc = time.Local
	}
	return Policy{
		Tiers: []Tier{
			{Name: "second", MaxAge: time.Minute},
			{Name: "minute", MaxAge: time.Hour, Layout: "2006-01-02 15:04"},
			{Name: "hour", MaxAge: 24 * time.Hour, Layout: "2006-01-02 15"},
			{Name: "day", Layout: "2006-01-02"},
		},
		Location: loc,
	}
}

// Keep returns the timestamps that survive compaction of samples at now.
func (p Policy) Keep(samples []model.Sample, now time.Time) map[int64]struct{} {
	keep := make(map[int64]struct{}, len(samples))
	rest := samples

	for _, tier := range p.Tiers {
		var members []model.Sample
		members, rest = partition(rest, tier, now)
		for _, s := range p.survivors(members, tier) {
			keep[s.Timestamp] = struct{}{}
		}
	}
	return keep
}

// partition splits samples into those belonging to tier and the remainder.
func partition(samples []model.Sample, tier Tier, now time.Time) (in, rest []model.Sample) {
	if tier.MaxAge <= 0 {
		return samples, nil
	}
	cutoff := now.Add(-tier.MaxAge)
	for _, s := range samples {
		if !time.Unix(s.Timestamp, 0).Before(cutoff) {
			in = append(in, s)
		} else {
			rest = append(rest, s)
		}
	}
	return in, rest
}

// survivors keeps the latest sample per bucket. A later sample replaces the
// kept one only when its timestamp is strictly greater.
func (p Policy) survivors(samples []model.Sample, tier Tier) []model.Sample {
	if tier.Layout == "" {
		return samples
	}

	buckets := make(map[string]model.Sample)
	for _, s := range samples {
		key := p.BucketKey(s.Timestamp, tier)
		if kept, ok := buckets[key]; !ok || s.Timestamp > kept.Timestamp {
			buckets[key] = s
		}
	}

	out := make([]model.Sample, 0, len(buckets))
	for _, s := range buckets {
		out = append(out, s)
	}
	return out
}

// BucketKey formats ts with the tier layout in the policy's zone.
func (p Policy) BucketKey(ts int64, tier Tier) string {
	loc := p.Location
	if loc == nil {
		loc = time.Local
	}
	return time.Unix(ts, 0).In(loc).Format(tier.Layout)
}
