package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/roach88/fiscalsync/internal/document"
	"github.com/roach88/fiscalsync/internal/provider"
)

// Step scripts one Submit call.
type Step struct {
	Result provider.SubmitResult
	Err    error

	// Gate, when set, blocks the call until it is closed or the context
	// ends. Used to hold a submission in flight.
	Gate <-chan struct{}
}

// Accept answers with an accepted document id.
func Accept(id string) Step {
	return Step{Result: provider.SubmitResult{ProviderDocumentID: id, Status: provider.StatusAccepted}}
}

// Upload answers with an acknowledged upload still waiting for a verdict.
func Upload(id string) Step {
	return Step{Result: provider.SubmitResult{ProviderDocumentID: id, Status: provider.StatusPending}}
}

// Fail answers with err.
func Fail(err error) Step {
	return Step{Err: err}
}

// ScriptedAdapter is an in-memory provider.Adapter whose Submit answers are
// played back from a script. Once the script is exhausted every call is
// accepted with a generated id.
type ScriptedAdapter struct {
	name    string
	profile document.Profile

	mu        sync.Mutex
	script    []Step
	submitted []*document.Document
	started   chan struct{}
	statuses  map[string]provider.StatusReport
	statusErr error
	files     map[string][]byte
	companies map[string]*provider.CompanyInfo
	credsErr  error
}

// NewScriptedAdapter returns an adapter named name using the CIUS-RO profile.
func NewScriptedAdapter(name string, script ...Step) *ScriptedAdapter {
	return &ScriptedAdapter{
		name:      name,
		profile:   document.CIUSRO,
		script:    script,
		started:   make(chan struct{}, 64),
		statuses:  make(map[string]provider.StatusReport),
		files:     make(map[string][]byte),
		companies: make(map[string]*provider.CompanyInfo),
	}
}

// WithProfile sets the document profile and returns a.
func (a *ScriptedAdapter) WithProfile(p document.Profile) *ScriptedAdapter {
	a.profile = p
	return a
}

// Then appends steps to the script.
func (a *ScriptedAdapter) Then(steps ...Step) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.script = append(a.script, steps...)
}

func (a *ScriptedAdapter) Name() string { return a.name }
func (a *ScriptedAdapter) Profile() document.Profile { return a.profile }

// ValidateCredentials reports the error set with FailCredentials.
func (a *ScriptedAdapter) ValidateCredentials(context.Context) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.credsErr != nil {
		return false, a.credsErr
	}
	return true, nil
}

// FailCredentials makes ValidateCredentials return err.
func (a *ScriptedAdapter) FailCredentials(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.credsErr = err
}

// Submit plays the next scripted step.
func (a *ScriptedAdapter) Submit(ctx context.Context, doc *document.Document) (provider.SubmitResult, error) {
	a.mu.Lock()
	a.submitted = append(a.submitted, doc)
	n := len(a.submitted)
	var step Step
	if len(a.script) > 0 {
		step = a.script[0]
		a.script = a.script[1:]
	} else {
		step = Accept(fmt.Sprintf("%s-doc-%d", a.name, n))
	}
	a.mu.Unlock()

	select {
	case a.started <- struct{}{}:
	default:
	}

	if step.Gate != nil {
		select {
		case <-step.Gate:
		case <-ctx.Done():
			return provider.SubmitResult{}, provider.TransientError(a.name, "submit cancelled", ctx.Err())
		}
	}
	if step.Err != nil {
		return provider.SubmitResult{}, step.Err
	}
	return step.Result, nil
}

// Started is signalled each time Submit is entered.
func (a *ScriptedAdapter) Started() <-chan struct{} {
	return a.started
}

// SubmitCount returns the number of Submit calls so far.
func (a *ScriptedAdapter) SubmitCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.submitted)
}

// Submitted returns the documents passed to Submit, in call order.
func (a *ScriptedAdapter) Submitted() []*document.Document {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]*document.Document(nil), a.submitted...)
}

// SetStatus fixes the report GetStatus returns for id.
func (a *ScriptedAdapter) SetStatus(id string, rep provider.StatusReport) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.statuses[id] = rep
}

// FailStatus makes GetStatus return err.
func (a *ScriptedAdapter) FailStatus(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.statusErr = err
}

// GetStatus returns the report set with SetStatus, or accepted.
func (a *ScriptedAdapter) GetStatus(_ context.Context, id string) (provider.StatusReport, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.statusErr != nil {
		return provider.StatusReport{}, a.statusErr
	}
	if rep, ok := a.statuses[id]; ok {
		return rep, nil
	}
	return provider.StatusReport{Status: provider.StatusAccepted}, nil
}

// SetFile registers the bytes FetchDocument returns for (id, format).
func (a *ScriptedAdapter) SetFile(id string, format provider.Format, data []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.files[id+"."+string(format)] = data
}

// FetchDocument returns bytes set with SetFile.
func (a *ScriptedAdapter) FetchDocument(_ context.Context, id string, format provider.Format) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	data, ok := a.files[id+"."+string(format)]
	if !ok {
		return nil, provider.UnsupportedFormatError(a.name, format)
	}
	return data, nil
}

// SetCompany registers company info for a tax id.
func (a *ScriptedAdapter) SetCompany(info provider.CompanyInfo) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.companies[info.TaxID] = &info
}

// GetCompanyInfo implements provider.CompanyLookup.
func (a *ScriptedAdapter) GetCompanyInfo(_ context.Context, taxID string) (*provider.CompanyInfo, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	info, ok := a.companies[taxID]
	if !ok {
		return nil, provider.ErrCompanyNotFound
	}
	out := *info
	return &out, nil
}

var (
	_ provider.Adapter       = (*ScriptedAdapter)(nil)
	_ provider.CompanyLookup = (*ScriptedAdapter)(nil)
)
