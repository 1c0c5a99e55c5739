package provider

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/roach88/fiscalsync/internal/document"
)

type stubAdapter struct {
	name    string
	calls   atomic.Int32
	delay   time.Duration
	company *CompanyInfo
}

func (s *stubAdapter) Name() string              { return s.name }
func (s *stubAdapter) Profile() document.Profile { return document.EN16931 }

func (s *stubAdapter) ValidateCredentials(ctx context.Context) (bool, error) {
	s.calls.Add(1)
	return true, nil
}

func (s *stubAdapter) Submit(ctx context.Context, doc *document.Document) (SubmitResult, error) {
	s.calls.Add(1)
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return SubmitResult{}, ctx.Err()
		}
	}
	return SubmitResult{ProviderDocumentID: "doc-1", Status: StatusAccepted}, nil
}

func (s *stubAdapter) GetStatus(ctx context.Context, id string) (StatusReport, error) {
	s.calls.Add(1)
	return StatusReport{Status: StatusAccepted}, nil
}

func (s *stubAdapter) FetchDocument(ctx context.Context, id string, f Format) ([]byte, error) {
	s.calls.Add(1)
	return []byte("pdf"), nil
}

type lookupAdapter struct{ stubAdapter }

func (l *lookupAdapter) GetCompanyInfo(ctx context.Context, taxID string) (*CompanyInfo, error) {
	return &CompanyInfo{TaxID: taxID, Name: "Acme"}, nil
}

func TestRegistry_RegisterAndCreate(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("stub", func(cfg Config) (Adapter, error) {
		return &stubAdapter{name: "stub"}, nil
	}))

	a, err := r.Create("stub", Config{})
	require.NoError(t, err)
	assert.Equal(t, "stub", a.Name())
	assert.Equal(t, []string{"stub"}, r.Names())
}

func TestRegistry_Duplicate(t *testing.T) {
	r := NewRegistry()
	ctor := func(cfg Config) (Adapter, error) { return &stubAdapter{name: "stub"}, nil }
	require.NoError(t, r.Register("stub", ctor))

	err := r.Register("stub", ctor)
	assert.Equal(t, CodeDuplicateProvider, CodeOf(err))
}

func TestRegistry_Unknown(t *testing.T) {
	_, err := NewRegistry().Create("missing", Config{})
	assert.Equal(t, CodeUnknownProvider, CodeOf(err))
}

func TestRegistry_ConstructorError(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("broken", func(cfg Config) (Adapter, error) {
		return nil, errors.New("missing credential")
	}))
	_, err := r.Create("broken", Config{})
	assert.ErrorContains(t, err, "missing credential")
}

func TestSet(t *testing.T) {
	s, err := NewSet(&stubAdapter{name: "b"}, &stubAdapter{name: "a"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, s.Names())

	_, err = s.Get("c")
	assert.Equal(t, CodeUnknownProvider, CodeOf(err))

	_, err = NewSet(&stubAdapter{name: "a"}, &stubAdapter{name: "a"})
	assert.Equal(t, CodeDuplicateProvider, CodeOf(err))
}

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		code int
		want Code
	}{
		{401, CodeAuthentication},
		{403, CodeAuthentication},
		{400, CodeValidationRejected},
		{422, CodeValidationRejected},
		{408, CodeTransient},
		{500, CodeTransient},
		{503, CodeTransient},
		{429, CodeRateLimited},
	}
	for _, tt := range tests {
		resp := &http.Response{StatusCode: tt.code, Header: http.Header{}}
		err := ClassifyStatus("p", resp, []byte("boom"))
		assert.Equal(t, tt.want, CodeOf(err), "status %d", tt.code)
	}

	ok := &http.Response{StatusCode: 201, Header: http.Header{}}
	assert.NoError(t, ClassifyStatus("p", ok, nil))
}

func TestClassifyStatus_RetryAfter(t *testing.T) {
	resp := &http.Response{StatusCode: 429, Header: http.Header{"Retry-After": []string{"120"}}}
	err := ClassifyStatus("p", resp, nil)
	assert.True(t, IsRetryable(err))
	assert.Equal(t, 2*time.Minute, RetryAfterOf(err))
}

func TestClassifyTransport(t *testing.T) {
	assert.Equal(t, CodeTransient, CodeOf(ClassifyTransport("p", context.DeadlineExceeded)))

	tokenErr := &oauth2.RetrieveError{Response: &http.Response{StatusCode: 401}}
	assert.Equal(t, CodeAuthentication, CodeOf(ClassifyTransport("p", tokenErr)))

	tokenDown := &oauth2.RetrieveError{Response: &http.Response{StatusCode: 502}}
	assert.Equal(t, CodeTransient, CodeOf(ClassifyTransport("p", tokenDown)))
}

func TestDo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/fail" {
			http.Error(w, "down", http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/ok", nil)
	body, err := Do(srv.Client(), "p", req)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(body))

	req, _ = http.NewRequest(http.MethodGet, srv.URL+"/fail", nil)
	_, err = Do(srv.Client(), "p", req)
	assert.Equal(t, CodeTransient, CodeOf(err))
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatPDF, f)

	f, err = ParseFormat("XML")
	require.NoError(t, err)
	assert.Equal(t, FormatXML, f)

	_, err = ParseFormat("docx")
	assert.Equal(t, CodeUnsupportedFormat, CodeOf(err))
}

func TestThrottle_MaxWaitExceeded(t *testing.T) {
	inner := &stubAdapter{name: "slow"}
	a := Throttle(inner, Limits{MinInterval: time.Hour, Burst: 1, MaxWait: 10 * time.Millisecond})

	_, err := a.Submit(context.Background(), &document.Document{})
	require.NoError(t, err)

	_, err = a.Submit(context.Background(), &document.Document{})
	require.Error(t, err)
	assert.Equal(t, CodeRateLimited, CodeOf(err))
	assert.Greater(t, RetryAfterOf(err), time.Duration(0))
	assert.Equal(t, int32(1), inner.calls.Load())
}

func TestThrottle_SpacesCalls(t *testing.T) {
	inner := &stubAdapter{name: "spaced"}
	a := Throttle(inner, Limits{MinInterval: 30 * time.Millisecond, Burst: 1, MaxWait: time.Second})

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := a.GetStatus(context.Background(), "x")
		require.NoError(t, err)
	}
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	assert.Equal(t, int32(3), inner.calls.Load())
}

func TestThrottle_TimeoutIsTransient(t *testing.T) {
	inner := &stubAdapter{name: "hung", delay: time.Second}
	a := Throttle(inner, Limits{Timeout: 20 * time.Millisecond})

	_, err := a.Submit(context.Background(), &document.Document{})
	require.Error(t, err)
	assert.Equal(t, CodeTransient, CodeOf(err))
}

func TestLookupCompany(t *testing.T) {
	_, ok := LookupCompany(&stubAdapter{name: "plain"})
	assert.False(t, ok)

	_, ok = LookupCompany(Throttle(&stubAdapter{name: "plain"}, Limits{}))
	assert.False(t, ok)

	cl, ok := LookupCompany(Throttle(&lookupAdapter{stubAdapter{name: "lookup"}}, Limits{}))
	require.True(t, ok)
	info, err := cl.GetCompanyInfo(context.Background(), "RO1")
	require.NoError(t, err)
	assert.Equal(t, "Acme", info.Name)
}
