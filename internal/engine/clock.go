package engine

import "time"

// Clock supplies wall-clock time for ledger timestamps and retry scheduling.
//
// Implemented by systemClock (production) and testutil.FakeClock (tests).
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}
