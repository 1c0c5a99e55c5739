package harness

// TraceEvent records the outcome of one step.
type TraceEvent struct {
	Step      int    `json:"step"`
	Op        string `json:"op"`
	SourceID  string `json:"source_id,omitempty"`
	Status    string `json:"status,omitempty"`
	Code      string `json:"code,omitempty"`
	Attempts  int    `json:"attempts,omitempty"`
	Duplicate bool   `json:"duplicate,omitempty"`
	Detail    string `json:"detail,omitempty"`
}

// RecordSnapshot is the final ledger state of one record.
type RecordSnapshot struct {
	SourceID           string   `json:"source_id"`
	Status             string   `json:"status"`
	Attempts           int      `json:"attempts"`
	ProviderDocumentID string   `json:"provider_document_id,omitempty"`
	RetryScheduled     bool     `json:"retry_scheduled,omitempty"`
	Events             []string `json:"events"`

	// LastError is left out of golden files; provider messages vary.
	LastError string `json:"-"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every expect clause and assertion held.
	Pass bool `json:"pass"`

	// Trace has one entry per step, in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains expectation and assertion failures.
	Errors []string `json:"errors,omitempty"`

	// Records is the final ledger, ordered by source id.
	Records []RecordSnapshot `json:"records"`

	// Submissions counts provider Submit calls.
	Submissions int `json:"submissions"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:    true,
		Trace:   []TraceEvent{},
		Errors:  []string{},
		Records: []RecordSnapshot{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTrace appends a step outcome.
func (r *Result) AddTrace(ev TraceEvent) {
	r.Trace = append(r.Trace, ev)
}

// Record returns the snapshot for sourceID.
func (r *Result) Record(sourceID string) (RecordSnapshot, bool) {
	for _, rec := range r.Records {
		if rec.SourceID == sourceID {
			return rec, true
		}
	}
	return RecordSnapshot{}, false
}
