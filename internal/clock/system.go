// Package clock provides the production Clock implementation; tests
// inject their own fakes that satisfy domain.Clock directly.
package clock

import "time"

// System returns wall-clock time via time.Now.
type System struct{}

// New constructs a System clock.
func New() System { return System{} }

// Now returns the current UTC time.
func (System) Now() time.Time { return time.Now().UTC() }
