// Package system provides a real clock implementation.
package system

import "time"

// Clock implements monitor.Clock using time.Now, reporting times in a fixed offset zone.
type Clock struct {
	loc *time.Location
}

// New creates a Clock reporting UTC.
func New() *Clock {
	return &Clock{loc: time.UTC}
}

// NewWithOffset creates a Clock whose times carry the given offset from UTC.
func NewWithOffset(offset time.Duration) *Clock {
	if offset == 0 {
		return New()
	}
	return &Clock{loc: time.FixedZone("collector", int(offset.Seconds()))}
}

// Now returns the current time.
func (c Clock) Now() time.Time {
	if c.loc == nil {
		return time.Now().UTC()
	}
	return time.Now().In(c.loc)
}

// Location returns the zone applied to timestamps.
func (c Clock) Location() *time.Location {
	if c.loc == nil {
		return time.UTC
	}
	return c.loc
}
