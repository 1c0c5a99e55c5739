package retry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPolicy_DelayIsLinear(t *testing.T) {
	p := DefaultPolicy()

	assert.Equal(t, 30*time.Minute, p.Delay(1))
	assert.Equal(t, 60*time.Minute, p.Delay(2))
	assert.Equal(t, 90*time.Minute, p.Delay(3))
	assert.Equal(t, 90*time.Minute, p.Delay(7), "clamped to last entry")
	assert.Equal(t, 30*time.Minute, p.Delay(0))
}

func TestPolicy_Next(t *testing.T) {
	p := DefaultPolicy()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	next, ok := p.Next(now, 1, 0)
	assert.True(t, ok)
	assert.Equal(t, now.Add(30*time.Minute), next)

	next, ok = p.Next(now, 2, 0)
	assert.True(t, ok)
	assert.Equal(t, now.Add(60*time.Minute), next)

	_, ok = p.Next(now, 3, 0)
	assert.False(t, ok, "third failure is final")
}

func TestPolicy_SuggestedDelay(t *testing.T) {
	p := DefaultPolicy()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	next, ok := p.Next(now, 1, 2*time.Hour)
	assert.True(t, ok)
	assert.Equal(t, now.Add(2*time.Hour), next)

	next, _ = p.Next(now, 1, time.Minute)
	assert.Equal(t, now.Add(30*time.Minute), next, "shorter suggestion does not shorten the schedule")
}

func TestPolicy_Validate(t *testing.T) {
	assert.NoError(t, DefaultPolicy().Validate())
	assert.Error(t, Policy{Schedule: DefaultSchedule}.Validate())
	assert.Error(t, Policy{MaxAttempts: 3}.Validate())
	assert.Error(t, Policy{Schedule: []time.Duration{time.Minute, 0}, MaxAttempts: 3}.Validate())
}

func TestDefaultPolicy_IsACopy(t *testing.T) {
	p := DefaultPolicy()
	p.Schedule[0] = time.Second
	assert.Equal(t, 30*time.Minute, DefaultSchedule[0])
}
