// internal/oracle/series.go
package oracle

import (
	"errors"
	"fmt"
	"math/big"

	fpmath "PerpClearing/internal/math"
)

var (
	ErrNoPrice          = errors.New("no valid price sample")
	ErrStaleSample      = errors.New("sample older than the latest one")
	ErrNegativeInterval = errors.New("negative twap interval")
)

// DefaultMaxSamples bounds a series; the oldest samples are dropped first.
const DefaultMaxSamples = 2048

// Sample is one price update. Price is in fpmath.PriceScale; non-positive
// prices are kept as received but never contribute to an average.
type Sample struct {
	Timestamp int64 `json:"timestamp"`
	Price     int64 `json:"price"`
}

// Series is a time-ordered list of price samples for one symbol.
type Series struct {
	samples    []Sample
	maxSamples int
}

func NewSeries(maxSamples int) *Series {
	if maxSamples <= 0 {
		maxSamples = DefaultMaxSamples
	}
	return &Series{maxSamples: maxSamples}
}

// Append records a sample. Timestamps must not go backwards; a sample with the
// same timestamp as the latest one replaces it.
func (s *Series) Append(timestamp, price int64) error {
	if n := len(s.samples); n > 0 {
		last := s.samples[n-1]
		if timestamp < last.Timestamp {
			return fmt.Errorf("%w: %d < %d", ErrStaleSample, timestamp, last.Timestamp)
		}
		if timestamp == last.Timestamp {
			s.samples[n-1].Price = price
			return nil
		}
	}
	s.samples = append(s.samples, Sample{Timestamp: timestamp, Price: price})
	if len(s.samples) > s.maxSamples {
		s.samples = append(s.samples[:0:0], s.samples[len(s.samples)-s.maxSamples:]...)
	}
	return nil
}

// Len returns the number of stored samples, valid or not.
func (s *Series) Len() int {
	return len(s.samples)
}

// Samples returns a copy of the stored samples (for snapshots).
func (s *Series) Samples() []Sample {
	out := make([]Sample, len(s.samples))
	copy(out, s.samples)
	return out
}

// Clone returns an independent copy.
func (s *Series) Clone() *Series {
	return &Series{samples: s.Samples(), maxSamples: s.maxSamples}
}

// Latest returns the most recent positive sample.
func (s *Series) Latest() (Sample, bool) {
	for i := len(s.samples) - 1; i >= 0; i-- {
		if s.samples[i].Price > 0 {
			return s.samples[i], true
		}
	}
	return Sample{}, false
}

// TWAP returns the time-weighted average price over [now-interval, now].
//
// Each valid sample contributes its price for the time until the next valid
// sample (or now). Non-positive samples are skipped entirely, so the previous
// valid price covers their span. When the oldest sample is newer than the
// window start, only the available span is averaged. Interval 0, or a latest
// valid update at or before the window start, returns the latest valid price.
// The average is rounded down.
func (s *Series) TWAP(now, interval int64) (int64, error) {
	if interval < 0 {
		return 0, ErrNegativeInterval
	}
	latest, ok := s.Latest()
	if !ok {
		return 0, ErrNoPrice
	}
	if interval == 0 {
		return latest.Price, nil
	}

	start := now - interval
	if latest.Timestamp <= start {
		return latest.Price, nil
	}

	var (
		weighted = new(big.Int)
		elapsed  int64
		end      = now
	)
	for i := len(s.samples) - 1; i >= 0; i-- {
		sample := s.samples[i]
		if sample.Price <= 0 || sample.Timestamp > now {
			continue
		}

		from := fpmath.Max(sample.Timestamp, start)
		if d := end - from; d > 0 {
			weighted.Add(weighted, fpmath.MultiplyInt128(sample.Price, d))
			elapsed += d
		}
		if sample.Timestamp <= start {
			break
		}
		end = sample.Timestamp
	}

	if elapsed == 0 {
		return latest.Price, nil
	}
	return fpmath.DivideInt128(weighted, elapsed, fpmath.RoundDown), nil
}
