package retry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/fiscalsync/internal/store"
)

type fakeQueue struct {
	tasks    []store.RetryTask
	awaiting []store.Record
	asOf     time.Time
	limit    int
}

func (q *fakeQueue) DueRetryTasks(_ context.Context, now time.Time, limit int) ([]store.RetryTask, error) {
	q.asOf = now
	q.limit = limit
	var due []store.RetryTask
	for _, t := range q.tasks {
		if !t.NextEligibleAt.After(now) {
			due = append(due, t)
		}
	}
	return due, nil
}

func (q *fakeQueue) ListRecords(_ context.Context, f store.RecordFilter) ([]store.Record, error) {
	if !f.AwaitingProvider {
		return nil, errors.New("unexpected filter")
	}
	return q.awaiting, nil
}

type recordingRunner struct {
	mu       sync.Mutex
	retried  []string
	settled  []string
	failFor  map[string]bool
	inflight map[string]int
	overlap  bool
}

func (r *recordingRunner) RetryDue(_ context.Context, task store.RetryTask) error {
	r.mu.Lock()
	if r.inflight == nil {
		r.inflight = map[string]int{}
	}
	r.inflight[task.Provider]++
	if r.inflight[task.Provider] > 1 {
		r.overlap = true
	}
	r.retried = append(r.retried, task.ID)
	r.mu.Unlock()

	time.Sleep(time.Millisecond)

	r.mu.Lock()
	r.inflight[task.Provider]--
	r.mu.Unlock()

	if r.failFor[task.ID] {
		return errors.New("provider unavailable")
	}
	return nil
}

func (r *recordingRunner) SettleAwaiting(_ context.Context, rec store.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.settled = append(r.settled, rec.ID)
	return nil
}

var sweepNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func TestSweep_DispatchesDueTasks(t *testing.T) {
	q := &fakeQueue{tasks: []store.RetryTask{
		{ID: "t1", Provider: "anaf", NextEligibleAt: sweepNow.Add(-time.Minute)},
		{ID: "t2", Provider: "anaf", NextEligibleAt: sweepNow},
		{ID: "t3", Provider: "smartbill", NextEligibleAt: sweepNow.Add(-time.Hour)},
		{ID: "t4", Provider: "anaf", NextEligibleAt: sweepNow.Add(time.Minute)},
	}}
	r := &recordingRunner{failFor: map[string]bool{"t3": true}}

	s := NewScheduler(q, r, WithClock(func() time.Time { return sweepNow }), WithBatchSize(10))
	report, err := s.Sweep(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, report.Due)
	assert.Equal(t, 2, report.Retried)
	assert.Equal(t, 1, report.Failed)
	assert.ElementsMatch(t, []string{"t1", "t2", "t3"}, r.retried)
	assert.False(t, r.overlap, "tasks of one provider must run sequentially")
	assert.Equal(t, sweepNow, q.asOf)
	assert.Equal(t, 10, q.limit)
}

func TestSweep_PreservesOrderWithinProvider(t *testing.T) {
	q := &fakeQueue{tasks: []store.RetryTask{
		{ID: "a", Provider: "anaf", NextEligibleAt: sweepNow.Add(-3 * time.Minute)},
		{ID: "b", Provider: "anaf", NextEligibleAt: sweepNow.Add(-2 * time.Minute)},
		{ID: "c", Provider: "anaf", NextEligibleAt: sweepNow.Add(-1 * time.Minute)},
	}}
	r := &recordingRunner{}

	_, err := NewScheduler(q, r, WithClock(func() time.Time { return sweepNow })).Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, r.retried)
}

func TestSweep_ChecksAwaitingUploads(t *testing.T) {
	q := &fakeQueue{awaiting: []store.Record{
		{ID: "r1", Provider: "anaf", Status: store.StatusProcessing, ProviderDocumentID: "5001"},
	}}
	r := &recordingRunner{}

	report, err := NewScheduler(q, r, WithClock(func() time.Time { return sweepNow })).Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Awaiting)
	assert.Equal(t, 1, report.Checked)
	assert.Equal(t, []string{"r1"}, r.settled)
}

func TestSweep_NothingDue(t *testing.T) {
	q := &fakeQueue{tasks: []store.RetryTask{
		{ID: "t1", Provider: "anaf", NextEligibleAt: sweepNow.Add(30 * time.Minute)},
	}}
	r := &recordingRunner{}

	report, err := NewScheduler(q, r, WithClock(func() time.Time { return sweepNow })).Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SweepReport{}, report)
	assert.Empty(t, r.retried)
}

func TestRun_StopsOnCancel(t *testing.T) {
	q := &fakeQueue{}
	r := &recordingRunner{}
	s := NewScheduler(q, r, WithInterval(5*time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := s.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
