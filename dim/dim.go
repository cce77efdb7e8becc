// Package dim reconstructs the days-in-milk curve of an animal from its
// calving dates.
//
// DIM at an instant t counts the whole days since the latest calving at or
// before t. A calving ahead of t, including one inside the 14 day pre-calving
// grace window, never counts: DIM resets only once the calving happened.
// When no calving precedes t the value is NoCalving.
package dim

import (
	"fmt"
	"slices"
	"time"

	"github.com/smaxtec/sxapi/apierr"
)

const (
	// GraceDays is the pre-calving window in which an upcoming calving does
	// not yet reset DIM
	GraceDays = 14

	// GraceWindow is GraceDays as a duration
	GraceWindow = GraceDays * day

	// NoCalving is reported when no calving precedes the sample
	NoCalving = -(GraceDays + 0.5)
)

const day = 24 * time.Hour

const (
	// MinInterval is the finest sampling step
	MinInterval = time.Second

	// MaxSamples bounds the length of one series
	MaxSamples = 1_000_000
)

// Sample is the DIM value at one instant
type Sample struct {
	At  time.Time `json:"at"`
	DIM float64   `json:"dim"`
}

// Series samples DIM from to backward to from in steps of interval and
// returns the samples in chronological order. The first sample is at to; from
// is included only when it lies on the grid. Calving order and duplicates do
// not matter.
func Series(calvings []time.Time, from, to time.Time, interval time.Duration) ([]Sample, error) {
	if interval < MinInterval {
		return nil, &apierr.InvalidRangeError{
			Start:  from.Unix(),
			End:    to.Unix(),
			Reason: "sampling interval must be at least one second",
		}
	}
	if from.After(to) {
		return nil, &apierr.InvalidRangeError{Start: from.Unix(), End: to.Unix(), Reason: "from is after to"}
	}

	// Sub saturates for ranges beyond ~292 years, which still exceeds the cap
	count := to.Sub(from)/interval + 1
	if count > MaxSamples {
		return nil, &apierr.InvalidRangeError{
			Start:  from.Unix(),
			End:    to.Unix(),
			Reason: fmt.Sprintf("range yields more than %d samples", MaxSamples),
		}
	}

	sorted := normalize(calvings)
	samples := make([]Sample, 0, int(count))

	// t only decreases, so the candidate calving only moves backward
	p := len(sorted) - 1
	for t := to; !t.Before(from); t = t.Add(-interval) {
		for p >= 0 && sorted[p].After(t) {
			p--
		}
		samples = append(samples, Sample{At: t, DIM: value(sorted, p, t)})
	}

	slices.Reverse(samples)
	return samples, nil
}

// At returns DIM at instant t
func At(calvings []time.Time, t time.Time) float64 {
	sorted := normalize(calvings)
	p := len(sorted) - 1
	for p >= 0 && sorted[p].After(t) {
		p--
	}
	return value(sorted, p, t)
}

// LatestCalving returns the calving DIM at t counts from
func LatestCalving(calvings []time.Time, t time.Time) (time.Time, bool) {
	sorted := normalize(calvings)
	for i := len(sorted) - 1; i >= 0; i-- {
		if !sorted[i].After(t) {
			return sorted[i], true
		}
	}
	return time.Time{}, false
}

func value(sorted []time.Time, p int, t time.Time) float64 {
	if p < 0 {
		return NoCalving
	}
	return float64(t.Sub(sorted[p]) / day)
}

// normalize returns a sorted copy without duplicate instants
func normalize(calvings []time.Time) []time.Time {
	sorted := slices.Clone(calvings)
	slices.SortFunc(sorted, func(a, b time.Time) int { return a.Compare(b) })
	return slices.CompactFunc(sorted, func(a, b time.Time) bool { return a.Equal(b) })
}
