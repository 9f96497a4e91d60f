// Package candle holds the OHLCV value types shared by every analysis stage.
package candle

import "time"

// Interval identifies a candle granularity supported by the exchange client.
type Interval string

const (
	// Day is one daily candle per bar.
	Day Interval = "day"
	// Minute1 is one 1-minute candle per bar.
	Minute1 Interval = "minute1"
)

// Bar is a single OHLCV observation.
type Bar struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// Series is a time-ordered sequence of bars for one market at one granularity.
// Treated as immutable once fetched.
type Series []Bar

// Len returns the number of bars.
func (s Series) Len() int { return len(s) }

// Last returns the most recent bar. Callers must check Len first.
func (s Series) Last() Bar { return s[len(s)-1] }

// Close returns the most recent close, or 0 for an empty series.
func (s Series) Close() float64 {
	if len(s) == 0 {
		return 0
	}
	return s[len(s)-1].Close
}

// Closes extracts the close column.
func (s Series) Closes() []float64 {
	out := make([]float64, len(s))
	for i, b := range s {
		out[i] = b.Close
	}
	return out
}

// Highs extracts the high column.
func (s Series) Highs() []float64 {
	out := make([]float64, len(s))
	for i, b := range s {
		out[i] = b.High
	}
	return out
}

// Lows extracts the low column.
func (s Series) Lows() []float64 {
	out := make([]float64, len(s))
	for i, b := range s {
		out[i] = b.Low
	}
	return out
}

// Volumes extracts the volume column.
func (s Series) Volumes() []float64 {
	out := make([]float64, len(s))
	for i, b := range s {
		out[i] = b.Volume
	}
	return out
}

// Truncate returns the prefix of the series up to and including index i.
// Used by the backtester to replay history without lookahead.
func (s Series) Truncate(i int) Series {
	if i < 0 {
		return nil
	}
	if i >= len(s) {
		return s
	}
	return s[:i+1]
}

// Between filters bars to the inclusive [start, end] date range.
func (s Series) Between(start, end time.Time) Series {
	out := make(Series, 0, len(s))
	for _, b := range s {
		if b.Timestamp.Before(start) || b.Timestamp.After(end) {
			continue
		}
		out = append(out, b)
	}
	return out
}

// SMA computes a simple moving average of the trailing window bars of vals.
// Returns 0 when vals is shorter than window or window is not positive.
func SMA(vals []float64, window int) float64 {
	if window <= 0 || len(vals) < window {
		return 0
	}
	var sum float64
	for _, v := range vals[len(vals)-window:] {
		sum += v
	}
	return sum / float64(window)
}
