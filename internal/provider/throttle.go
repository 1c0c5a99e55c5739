package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/roach88/fiscalsync/internal/document"
)

// Limits used when a provider's configuration leaves them unset. Calls to one
// provider are at least DefaultMinInterval apart.
const (
	DefaultMinInterval = 500 * time.Millisecond
	DefaultMaxWait     = 30 * time.Second
	DefaultTimeout     = 30 * time.Second
)

// Limits bound how an adapter is called.
type Limits struct {
	// MinInterval is the minimum spacing between calls. Zero disables limiting.
	MinInterval time.Duration
	Burst       int

	// MaxWait is the longest a call waits for a limiter slot before failing
	// with RATE_LIMITED. Zero means wait as long as the context allows.
	MaxWait time.Duration

	// Timeout bounds each adapter call. Zero disables the per-call timeout.
	Timeout time.Duration
}

// Throttle wraps a so that every call passes through one shared limiter and
// runs under the per-call timeout. A hung provider call surfaces as
// TRANSIENT instead of blocking the caller.
func Throttle(a Adapter, l Limits) Adapter {
	limit := rate.Inf
	if l.MinInterval > 0 {
		limit = rate.Every(l.MinInterval)
	}
	burst := l.Burst
	if burst < 1 {
		burst = 1
	}
	return &throttled{
		Adapter: a,
		limiter: rate.NewLimiter(limit, burst),
		maxWait: l.MaxWait,
		timeout: l.Timeout,
	}
}

// Unwrap returns the adapter beneath any Throttle wrapper.
func Unwrap(a Adapter) Adapter {
	if t, ok := a.(*throttled); ok {
		return t.Adapter
	}
	return a
}

type throttled struct {
	Adapter
	limiter *rate.Limiter
	maxWait time.Duration
	timeout time.Duration
}

func (t *throttled) ValidateCredentials(ctx context.Context) (bool, error) {
	var ok bool
	err := t.call(ctx, "validate_credentials", func(ctx context.Context) error {
		var err error
		ok, err = t.Adapter.ValidateCredentials(ctx)
		return err
	})
	return ok, err
}

func (t *throttled) Submit(ctx context.Context, doc *document.Document) (SubmitResult, error) {
	var res SubmitResult
	err := t.call(ctx, "submit", func(ctx context.Context) error {
		var err error
		res, err = t.Adapter.Submit(ctx, doc)
		return err
	})
	return res, err
}

func (t *throttled) GetStatus(ctx context.Context, id string) (StatusReport, error) {
	var rep StatusReport
	err := t.call(ctx, "get_status", func(ctx context.Context) error {
		var err error
		rep, err = t.Adapter.GetStatus(ctx, id)
		return err
	})
	return rep, err
}

func (t *throttled) FetchDocument(ctx context.Context, id string, format Format) ([]byte, error) {
	var out []byte
	err := t.call(ctx, "fetch_document", func(ctx context.Context) error {
		var err error
		out, err = t.Adapter.FetchDocument(ctx, id, format)
		return err
	})
	return out, err
}

type throttledLookup struct {
	t     *throttled
	inner CompanyLookup
}

func (l *throttledLookup) GetCompanyInfo(ctx context.Context, taxID string) (*CompanyInfo, error) {
	var info *CompanyInfo
	err := l.t.call(ctx, "get_company_info", func(ctx context.Context) error {
		var err error
		info, err = l.inner.GetCompanyInfo(ctx, taxID)
		return err
	})
	return info, err
}

func (t *throttled) call(ctx context.Context, op string, fn func(context.Context) error) error {
	if err := t.wait(ctx, op); err != nil {
		return err
	}
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}
	err := fn(ctx)
	if err == nil {
		return nil
	}
	var pe *Error
	if errors.As(err, &pe) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return TransientError(t.Name(), op+" timed out", err)
	}
	return err
}

func (t *throttled) wait(ctx context.Context, op string) error {
	r := t.limiter.Reserve()
	if !r.OK() {
		return RateLimitedError(t.Name(), op+": limiter burst exceeded", 0)
	}
	delay := r.Delay()
	if delay == 0 {
		return nil
	}
	if t.maxWait > 0 && delay > t.maxWait {
		r.Cancel()
		return RateLimitedError(t.Name(), fmt.Sprintf("%s: local rate limit, next slot in %s", op, delay.Round(time.Millisecond)), delay)
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		r.Cancel()
		return TransientError(t.Name(), op+": cancelled while waiting for rate limiter", ctx.Err())
	}
}
