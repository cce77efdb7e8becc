// Package timerange splits long query intervals into windows the backend
// accepts, and converts between calendar values and the Unix seconds the API
// expects in from_date and to_date.
package timerange

import (
	"iter"
	"math"
	"time"

	"github.com/smaxtec/sxapi/apierr"
)

const secondsPerDay = 24 * 60 * 60

// Window is the closed interval [Start, End] of Unix seconds
type Window struct {
	Start int64
	End   int64
}

// Seconds returns the number of seconds covered by the window
func (w Window) Seconds() int64 {
	return w.End - w.Start + 1
}

// Split returns consecutive windows of chunkDays days covering [start, end].
// Every window but the last spans exactly chunkDays*86400 seconds, the next
// window starts one second after the previous one ends, and the union is
// exactly [start, end]. The sequence is lazy and may be ranged over any
// number of times.
func Split(start, end int64, chunkDays int) (iter.Seq[Window], error) {
	if start > end {
		return nil, &apierr.InvalidRangeError{Start: start, End: end, Reason: "start is after end"}
	}
	if chunkDays < 1 {
		return nil, &apierr.InvalidRangeError{Start: start, End: end, Reason: "chunk size must be at least one day"}
	}

	diff := int64(chunkDays) * secondsPerDay

	return func(yield func(Window) bool) {
		cur := start
		for {
			last := end
			if cur <= math.MaxInt64-(diff-1) && cur+diff-1 < end {
				last = cur + diff - 1
			}
			if !yield(Window{Start: cur, End: last}) {
				return
			}
			if last == end {
				return
			}
			cur = last + 1
		}
	}, nil
}

// Windows collects the windows of Split
func Windows(start, end int64, chunkDays int) ([]Window, error) {
	seq, err := Split(start, end, chunkDays)
	if err != nil {
		return nil, err
	}

	var out []Window
	for w := range seq {
		out = append(out, w)
	}
	return out, nil
}

// TimeWindow is a Window expressed in calendar time (UTC)
type TimeWindow struct {
	From time.Time
	To   time.Time
}

// SplitTimes splits [from, to] like Split, truncating both ends to whole
// seconds.
func SplitTimes(from, to time.Time, chunkDays int) (iter.Seq[TimeWindow], error) {
	seq, err := Split(Unix(from), Unix(to), chunkDays)
	if err != nil {
		return nil, err
	}

	return func(yield func(TimeWindow) bool) {
		for w := range seq {
			if !yield(TimeWindow{From: FromUnix(w.Start), To: FromUnix(w.End)}) {
				return
			}
		}
	}, nil
}

// Unix converts t to the integer seconds the API expects
func Unix(t time.Time) int64 {
	return t.Unix()
}

// FromUnix converts API seconds to a UTC time
func FromUnix(ts int64) time.Time {
	return time.Unix(ts, 0).UTC()
}

// Date returns midnight UTC of the given calendar day
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}
