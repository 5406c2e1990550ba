package oauthclient

import "time"

// Clock abstracts the time source used for token expiry computation and
// checking, so expiry behavior is testable without sleeping.
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall-clock Clock used by default.
type SystemClock struct{}

// Now returns the current wall-clock time.
func (SystemClock) Now() time.Time {
	return time.Now()
}
