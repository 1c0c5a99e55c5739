package retry

import (
	"errors"
	"fmt"
	"time"
)

// DefaultMaxAttempts bounds the number of submissions of one record.
const DefaultMaxAttempts = 3

// DefaultSchedule is the linear 30/60/90 minute backoff.
var DefaultSchedule = []time.Duration{30 * time.Minute, 60 * time.Minute, 90 * time.Minute}

// Policy decides when, and whether, a failed submission is tried again.
type Policy struct {
	Schedule    []time.Duration
	MaxAttempts int
}

// DefaultPolicy returns the 30/60/90 minute, three attempt policy.
func DefaultPolicy() Policy {
	return Policy{
		Schedule:    append([]time.Duration(nil), DefaultSchedule...),
		MaxAttempts: DefaultMaxAttempts,
	}
}

// Validate rejects policies that could never schedule a retry.
func (p Policy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("retry policy: max_attempts must be positive, got %d", p.MaxAttempts)
	}
	if len(p.Schedule) == 0 {
		return errors.New("retry policy: schedule is empty")
	}
	for i, d := range p.Schedule {
		if d <= 0 {
			return fmt.Errorf("retry policy: schedule[%d] must be positive, got %s", i, d)
		}
	}
	return nil
}

// Delay returns the wait after the given failed attempt (1-based). Attempts
// beyond the schedule reuse its last entry.
func (p Policy) Delay(attempt int) time.Duration {
	if len(p.Schedule) == 0 {
		return 0
	}
	i := attempt - 1
	if i < 0 {
		i = 0
	}
	if i >= len(p.Schedule) {
		i = len(p.Schedule) - 1
	}
	return p.Schedule[i]
}

// Exhausted reports whether attempts submissions use up the budget.
func (p Policy) Exhausted(attempts int) bool {
	return attempts >= p.MaxAttempts
}

// Next returns when the record that has failed attempts times becomes
// eligible again. ok is false once attempts reach MaxAttempts. A provider
// suggested delay larger than the schedule entry wins.
func (p Policy) Next(now time.Time, attempts int, suggested time.Duration) (next time.Time, ok bool) {
	if p.Exhausted(attempts) {
		return time.Time{}, false
	}
	d := p.Delay(attempts)
	if suggested > d {
		d = suggested
	}
	return now.Add(d), true
}
