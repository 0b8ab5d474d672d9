package ports

import (
	"time"

	"k8s.io/utils/clock"
)

// Clock is the time source of the loop, the sessions and the retries.
// clock.RealClock serves production; tests drive a testclock.FakeClock.
type Clock interface {
	Now() time.Time
	// After delivers the current time once d has elapsed.
	After(d time.Duration) <-chan time.Time
	// AfterFunc calls f in its own goroutine once d has elapsed.
	AfterFunc(d time.Duration, f func()) clock.Timer
}

type Timer = clock.Timer
