package engine

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/roach88/fiscalsync/internal/canonical"
	"github.com/roach88/fiscalsync/internal/document"
	"github.com/roach88/fiscalsync/internal/provider"
	"github.com/roach88/fiscalsync/internal/source"
	"github.com/roach88/fiscalsync/internal/store"
	"github.com/roach88/fiscalsync/internal/testutil"
)

var testEpoch = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type testEnv struct {
	engine  *Engine
	store   *store.Store
	source  *testutil.StaticSource
	clock   *testutil.FakeClock
	adapter *testutil.ScriptedAdapter
}

func testSupplier() document.Supplier {
	return document.Supplier{
		Name:         "Fiscal Labs SRL",
		TaxID:        "RO18547290",
		Registration: "J40/1234/2020",
		Address: canonical.Address{
			Line1:      "Str. Exemplu 1",
			City:       "Bucuresti",
			PostalCode: "010101",
			Country:    "RO",
		},
	}
}

// testInvoice is 800 x 1 plus 100 x 2 at 19%: 1000 net, 190 VAT, 1190 gross.
func testInvoice(t *testing.T, id string) canonical.Invoice {
	t.Helper()
	rate := decimal.NewFromInt(19)
	inv, err := canonical.New(canonical.Invoice{
		SourceType:    canonical.SourcePlatformInvoice,
		SourceID:      id,
		CustomerName:  "Acme SRL",
		CustomerEmail: "billing@acme.ro",
		CustomerTaxID: "RO123456",
		CustomerAddress: canonical.Address{
			Line1:   "Bd. Unirii 10",
			City:    "Bucuresti",
			Country: "RO",
		},
		Currency:    "RON",
		AmountTotal: 1190,
		IssuedAt:    testEpoch.Add(-24 * time.Hour),
		LineItems: []canonical.LineItem{
			{Description: "Abonament", UnitAmount: 800, Quantity: 1, TaxRate: rate},
			{Description: "Utilizatori suplimentari", UnitAmount: 100, Quantity: 2, TaxRate: rate},
		},
	})
	require.NoError(t, err)
	return inv
}

func newTestEnv(t *testing.T, steps ...testutil.Step) *testEnv {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	env := &testEnv{
		store:   s,
		source:  testutil.NewStaticSource(testInvoice(t, "in_1")),
		clock:   testutil.NewFakeClock(testEpoch),
		adapter: testutil.NewScriptedAdapter("anaf", steps...),
	}
	env.engine = env.build(t, env.source, env.adapter)
	return env
}

func (env *testEnv) build(t *testing.T, src source.Fetcher, adapters ...provider.Adapter) *Engine {
	t.Helper()
	set, err := provider.NewSet(adapters...)
	require.NoError(t, err)
	e, err := New(env.store, src, document.NewGenerator(testSupplier()), set,
		WithClock(env.clock),
		WithIDGenerator(testutil.NewSequenceIDs("id")),
	)
	require.NoError(t, err)
	return e
}

func request(sourceID string) Request {
	return Request{
		SourceType:    canonical.SourcePlatformInvoice,
		SourceID:      sourceID,
		Provider:      "anaf",
		CustomerTaxID: "RO123456",
	}
}

func (env *testEnv) record(t *testing.T, sourceID string) store.Record {
	t.Helper()
	rec, err := env.store.FindRecord(context.Background(), sourceID, "anaf")
	require.NoError(t, err)
	return rec
}

func (env *testEnv) task(t *testing.T, rec store.Record) store.RetryTask {
	t.Helper()
	task, err := env.store.RetryTaskForRecord(context.Background(), rec.ID)
	require.NoError(t, err)
	return task
}

func (env *testEnv) hasTask(t *testing.T, rec store.Record) bool {
	t.Helper()
	_, err := env.store.RetryTaskForRecord(context.Background(), rec.ID)
	if errors.Is(err, store.ErrNotFound) {
		return false
	}
	require.NoError(t, err)
	return true
}

func (env *testEnv) actions(t *testing.T, rec store.Record) []store.Action {
	t.Helper()
	events, err := env.store.ListEvents(context.Background(), rec.ID)
	require.NoError(t, err)
	out := make([]store.Action, len(events))
	for i, ev := range events {
		out[i] = ev.Action
	}
	return out
}

func timeout() error {
	return provider.TransientError("anaf", "request timed out", context.DeadlineExceeded)
}

type brokenSource struct{}

func (brokenSource) FetchEvent(context.Context, canonical.SourceType, string) (canonical.Invoice, error) {
	return canonical.Invoice{}, errors.New("billing platform unreachable")
}

// stampedAdapter records when each submission reached the provider.
type stampedAdapter struct {
	*testutil.ScriptedAdapter

	mu sync.Mutex
	at []time.Time
}

func (a *stampedAdapter) Submit(ctx context.Context, doc *document.Document) (provider.SubmitResult, error) {
	a.mu.Lock()
	a.at = append(a.at, time.Now())
	a.mu.Unlock()
	return a.ScriptedAdapter.Submit(ctx, doc)
}

func (a *stampedAdapter) times() []time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]time.Time(nil), a.at...)
}
