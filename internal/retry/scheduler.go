package retry

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/fiscalsync/internal/store"
)

const (
	// DefaultSweepInterval is how often Run looks for due tasks.
	DefaultSweepInterval = time.Minute

	// DefaultBatchSize caps the tasks picked up by one sweep.
	DefaultBatchSize = 100
)

// Queue is the part of the ledger the scheduler reads.
type Queue interface {
	DueRetryTasks(ctx context.Context, now time.Time, limit int) ([]store.RetryTask, error)
	ListRecords(ctx context.Context, f store.RecordFilter) ([]store.Record, error)
}

// Runner re-submits due work. The orchestrator implements it.
type Runner interface {
	// RetryDue re-submits the record owning task.
	RetryDue(ctx context.Context, task store.RetryTask) error

	// SettleAwaiting asks the provider for the verdict on an upload that
	// was acknowledged but not yet accepted or rejected.
	SettleAwaiting(ctx context.Context, rec store.Record) error
}

// SweepReport summarizes one sweep.
type SweepReport struct {
	Due      int `json:"due"`
	Retried  int `json:"retried"`
	Failed   int `json:"failed"`
	Awaiting int `json:"awaiting"`
	Checked  int `json:"checked"`
}

// Scheduler periodically hands due retry tasks to a Runner.
//
// Providers are swept concurrently, one goroutine per provider; tasks of the
// same provider run one after another so they share that provider's limiter
// in order of eligibility.
type Scheduler struct {
	queue     Queue
	runner    Runner
	interval  time.Duration
	batchSize int
	now       func() time.Time
	logger    *slog.Logger
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithInterval sets the sweep period.
func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithBatchSize caps the number of tasks per sweep.
func WithBatchSize(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		s.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		s.logger = l
	}
}

// NewScheduler returns a scheduler reading q and dispatching to r.
func NewScheduler(q Queue, r Runner, opts ...Option) *Scheduler {
	s := &Scheduler{
		queue:     q,
		runner:    r,
		interval:  DefaultSweepInterval,
		batchSize: DefaultBatchSize,
		now:       time.Now,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run sweeps immediately and then every interval until ctx is cancelled.
// Sweep errors are logged; Run only returns ctx.Err().
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("retry scheduler starting", "interval", s.interval, "batch_size", s.batchSize)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if report, err := s.Sweep(ctx); err != nil {
			s.logger.Error("retry sweep failed", "error", err)
		} else if report.Due > 0 || report.Awaiting > 0 {
			s.logger.Info("retry sweep finished",
				"due", report.Due,
				"retried", report.Retried,
				"failed", report.Failed,
				"awaiting", report.Awaiting,
				"checked", report.Checked,
			)
		}

		select {
		case <-ctx.Done():
			s.logger.Info("retry scheduler stopping")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Sweep dispatches every task due now and polls uploads still awaiting a
// provider verdict. A failing task does not stop the others.
func (s *Scheduler) Sweep(ctx context.Context) (SweepReport, error) {
	var report SweepReport

	tasks, err := s.queue.DueRetryTasks(ctx, s.now(), s.batchSize)
	if err != nil {
		return report, err
	}
	awaiting, err := s.queue.ListRecords(ctx, store.RecordFilter{AwaitingProvider: true, Limit: s.batchSize})
	if err != nil {
		return report, err
	}
	report.Due = len(tasks)
	report.Awaiting = len(awaiting)

	type work struct {
		tasks   []store.RetryTask
		records []store.Record
	}
	byProvider := make(map[string]*work)
	get := func(name string) *work {
		w, ok := byProvider[name]
		if !ok {
			w = &work{}
			byProvider[name] = w
		}
		return w
	}
	for _, t := range tasks {
		w := get(t.Provider)
		w.tasks = append(w.tasks, t)
	}
	for _, r := range awaiting {
		w := get(r.Provider)
		w.records = append(w.records, r)
	}

	providers := make([]string, 0, len(byProvider))
	for name := range byProvider {
		providers = append(providers, name)
	}
	sort.Strings(providers)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, name := range providers {
		w := byProvider[name]
		g.Go(func() error {
			for _, t := range w.tasks {
				if err := gctx.Err(); err != nil {
					return err
				}
				err := s.runner.RetryDue(gctx, t)
				mu.Lock()
				if err != nil {
					report.Failed++
				} else {
					report.Retried++
				}
				mu.Unlock()
				if err != nil {
					s.logger.Warn("retry attempt failed",
						"task_id", t.ID,
						"record_id", t.RecordID,
						"source_id", t.SourceID,
						"provider", t.Provider,
						"attempt", t.AttemptCount+1,
						"error", err,
					)
				}
			}
			for _, r := range w.records {
				if err := gctx.Err(); err != nil {
					return err
				}
				if err := s.runner.SettleAwaiting(gctx, r); err != nil {
					s.logger.Warn("provider status check failed",
						"record_id", r.ID,
						"source_id", r.SourceID,
						"provider", r.Provider,
						"error", err,
					)
					continue
				}
				mu.Lock()
				report.Checked++
				mu.Unlock()
			}
			return nil
		})
	}
	err = g.Wait()
	return report, err
}
