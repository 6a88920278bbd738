package capture

import "time"

// Rotation decides when the active capture file has to be replaced.
// Interval boundaries are aligned on absolute time, not on the process start:
// with a one hour Interval files are rotated at every full hour.
type Rotation struct {
	// Interval between wall clock rotations, 0 disables them
	Interval time.Duration

	// MaxLines rotates after that many lines, 0 disables it
	MaxLines int
}

// Due reports whether a file opened at last, with lines written, must be rotated at now.
// A boundary is only honored if at least Interval separates it from the previous rotation's boundary,
// so polling several times within the same boundary tick never rotates twice.
// The guard compares boundaries, not the time elapsed since last: a file opened just before
// a boundary is rotated at that boundary, with a one hour Interval a file opened at 10:59:59
// is closed at 11:00:00.
func (r Rotation) Due(now, last time.Time, lines int) bool {
	if r.MaxLines > 0 && lines >= r.MaxLines {
		return true
	}
	if r.Interval <= 0 {
		return false
	}
	return now.Truncate(r.Interval).Sub(last.Truncate(r.Interval)) >= r.Interval
}

// Next returns the next wall clock boundary after t.
func (r Rotation) Next(t time.Time) time.Time {
	if r.Interval <= 0 {
		return time.Time{}
	}
	return t.Truncate(r.Interval).Add(r.Interval)
}
