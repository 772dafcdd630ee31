package clock

import "time"

// Clock abstracts time for proration math and intent scheduling so tests can
// pin the current instant.
type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// Fixed returns a Clock frozen at the given instant.
func Fixed(at time.Time) Clock { return fixedClock{at: at.UTC()} }

type fixedClock struct{ at time.Time }

func (c fixedClock) Now() time.Time { return c.at }
