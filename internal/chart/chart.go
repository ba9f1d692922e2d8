// Package chart renders price history as CSV rows or a PNG line chart.
package chart

import (
	"encoding/csv"
	"errors"
	"io"
	"math"
	"strconv"
	"time"

	gochart "github.com/wcharczuk/go-chart/v2"

	"github.com/atmx/price-tracker/internal/model"
)

// ErrNoSamples is returned when there is nothing to plot.
var ErrNoSamples = errors.New("no samples to render")

// Options size and label the rendered chart.
type Options struct {
	Width     int
	Height    int
	Title     string
	MaxPoints int
}

func (o Options) withDefaults() Options {
	if o.Width <= 0 {
		o.Width = 1280
	}
	if o.Height <= 0 {
		o.Height = 720
	}
	if o.Title == "" {
		o.Title = "BTC price"
	}
	return o
}

// Downsample picks at most max evenly spaced samples, always keeping the
// first and the last.
func Downsample(samples []model.Sample, max int) []model.Sample {
	if max <= 0 || len(samples) <= max {
		return samples
	}
	if max == 1 {
		return samples[len(samples)-1:]
	}

	result := make([]model.Sample, 0, max)
	step := float64(len(samples)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(samples) {
			idx = len(samples) - 1
		}
		result = append(result, samples[idx])
	}
	return result
}

// RenderPNG draws samples as a time series.
func RenderPNG(w io.Writer, samples []model.Sample, opts Options) error {
	opts = opts.withDefaults()
	samples = Downsample(samples, opts.MaxPoints)
	if len(samples) == 0 {
		return ErrNoSamples
	}

	x := make([]time.Time, len(samples))
	y := make([]float64, len(samples))
	for i, s := range samples {
		x[i] = s.Time()
		y[i] = s.Price
	}
	// go-chart needs two points to establish a range.
	if len(samples) == 1 {
		x = append(x, x[0].Add(time.Second))
		y = append(y, y[0])
	}

	priceFormatter := func(v interface{}) string {
		return gochart.FloatValueFormatterWithFormat(v, "%.2f")
	}
	yAxis := gochart.YAxis{
		Name:           "Price",
		ValueFormatter: priceFormatter,
	}
	// A flat series has a zero y-range, which go-chart refuses to draw.
	if lo, hi := bounds(y); lo == hi {
		pad := math.Max(math.Abs(lo)*0.001, 1)
		yAxis.Range = &gochart.ContinuousRange{Min: lo - pad, Max: hi + pad}
	}

	graph := gochart.Chart{
		Title:  opts.Title,
		Width:  opts.Width,
		Height: opts.Height,
		XAxis: gochart.XAxis{
			ValueFormatter: gochart.TimeValueFormatterWithFormat("01-02 15:04:05"),
		},
		YAxis: yAxis,
		Series: []gochart.Series{
			gochart.TimeSeries{
				Name:    opts.Title,
				XValues: x,
				YValues: y,
			},
		},
	}
	return graph.Render(gochart.PNG, w)
}

func bounds(values []float64) (lo, hi float64) {
	lo, hi = values[0], values[0]
	for _, v := range values[1:] {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	return lo, hi
}

// WriteCSV writes a header row followed by one row per sample.
func WriteCSV(w io.Writer, samples []model.Sample) error {
	writer := csv.NewWriter(w)

	if err := writer.Write([]string{"timestamp", "time", "price"}); err != nil {
		return err
	}
	for _, s := range samples {
		record := []string{
			strconv.FormatInt(s.Timestamp, 10),
			s.Time().Format(time.RFC3339),
			s.PriceDecimal().String(),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}
