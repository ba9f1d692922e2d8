// Package model defines the core domain types shared across the price tracker.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Sample is one timestamped price observation. Timestamp is the natural
// key: at most one sample exists per second in any store.
// Samples are values; replacing a timestamp means storing a new Sample.
type Sample struct {
	Price     float64 `json:"price" db:"price"`
	Timestamp int64   `json:"timestamp" db:"timestamp"` // seconds since epoch
}

// NewSample stamps price with t truncated to whole seconds.
func NewSample(price float64, t time.Time) Sample {
	return Sample{Price: price, Timestamp: t.Unix()}
}

// Time returns the sample timestamp as a UTC time.
func (s Sample) Time() time.Time {
	return time.Unix(s.Timestamp, 0).UTC()
}

// PriceDecimal returns the price as a decimal for display and export.
func (s Sample) PriceDecimal() decimal.Decimal {
	return decimal.NewFromFloat(s.Price)
}
