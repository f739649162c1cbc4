package domain

import "time"

// RenderResult is the outcome of rendering one Job
type RenderResult struct {
	JobID       string
	Duration    time.Duration
	Checksum    string
	Image       []byte
	Size        int64
	GeneratedBy string
}

// DurationSeconds returns the render time as fractional seconds, the unit used on the wire
func (r RenderResult) DurationSeconds() float64 {
	return r.Duration.Seconds()
}

// SecondsToDuration converts wire seconds back into a time.Duration
func SecondsToDuration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}

// ValidChecksum reports whether s is a lowercase hex SHA-256 digest
func ValidChecksum(s string) bool {
	if len(s) != 64 {
		return false
	}
	for _, r := range s {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return false
		}
	}
	return true
}
