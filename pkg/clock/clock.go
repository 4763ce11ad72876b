// Package clock provides an injectable time source so schedule expansion and
// reminder evaluation stay deterministic under test.
package clock

import "time"

// Clock supplies the current instant.
type Clock interface {
	Now() time.Time
}

// System reads the wall clock.
type System struct{}

// Now returns the current UTC instant.
func (System) Now() time.Time { return time.Now().UTC() }

// Fixed always returns the same instant. Intended for tests.
type Fixed struct {
	Instant time.Time
}

// Now returns the fixed instant.
func (f Fixed) Now() time.Time { return f.Instant }

// At builds a Fixed clock from an instant.
func At(t time.Time) Fixed { return Fixed{Instant: t} }
