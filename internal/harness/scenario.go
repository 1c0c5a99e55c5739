package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Scenario defines one ledger scenario.
type Scenario struct {
	// Name uniquely identifies this scenario; it names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Fixtures is the path of the billing events file, relative to the
	// scenario file.
	Fixtures string `yaml:"fixtures"`

	// Provider names the scripted provider. Defaults to "anaf".
	Provider string `yaml:"provider,omitempty"`

	// Script lists the provider's answers to successive Submit calls.
	Script []ScriptStep `yaml:"script,omitempty"`

	// Steps is the flow to play.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final ledger.
	Assertions []Assertion `yaml:"assertions"`
}

// ScriptStep is one scripted Submit answer. Exactly one of Accept, Upload
// or Fail is set.
type ScriptStep struct {
	Accept string `yaml:"accept,omitempty"`
	Upload string `yaml:"upload,omitempty"`

	// Fail is one of transient, rate_limited, authentication or
	// validation_rejected.
	Fail string `yaml:"fail,omitempty"`

	// RetryAfter is the provider's hint for rate_limited failures.
	RetryAfter string `yaml:"retry_after,omitempty"`
}

// Scripted failure kinds.
const (
	FailTransient          = "transient"
	FailRateLimited        = "rate_limited"
	FailAuthentication     = "authentication"
	FailValidationRejected = "validation_rejected"
)

// Step is one flow step. Exactly one operation field is set.
type Step struct {
	Process *ProcessStep `yaml:"process,omitempty"`
	Retry   string       `yaml:"retry,omitempty"`
	Cancel  string       `yaml:"cancel,omitempty"`
	Check   string       `yaml:"check,omitempty"`
	Verdict *VerdictStep `yaml:"verdict,omitempty"`
	Advance string       `yaml:"advance,omitempty"`
	Sweep   bool         `yaml:"sweep,omitempty"`

	// Expect validates the Result of a record step.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// ProcessStep submits one billing event.
type ProcessStep struct {
	SourceType    string `yaml:"source_type,omitempty"`
	SourceID      string `yaml:"source_id"`
	CustomerTaxID string `yaml:"customer_tax_id"`
	InvoiceNumber string `yaml:"invoice_number,omitempty"`
	Manual        bool   `yaml:"manual,omitempty"`
}

// VerdictStep sets what the provider reports for an upload.
type VerdictStep struct {
	ID      string `yaml:"id"`
	Status  string `yaml:"status"`
	Message string `yaml:"message,omitempty"`
}

// ExpectClause is matched against a step's Result. Code is always compared:
// an empty code expects success.
type ExpectClause struct {
	Status    string `yaml:"status"`
	Code      string `yaml:"code,omitempty"`
	Attempts  *int   `yaml:"attempts,omitempty"`
	Duplicate *bool  `yaml:"duplicate,omitempty"`
}

// Op names the operation of a step.
func (s Step) Op() string {
	switch {
	case s.Process != nil:
		return OpProcess
	case s.Retry != "":
		return OpRetry
	case s.Cancel != "":
		return OpCancel
	case s.Check != "":
		return OpCheck
	case s.Verdict != nil:
		return OpVerdict
	case s.Advance != "":
		return OpAdvance
	case s.Sweep:
		return OpSweep
	}
	return ""
}

func (s Step) opCount() int {
	n := 0
	for _, set := range []bool{
		s.Process != nil, s.Retry != "", s.Cancel != "", s.Check != "",
		s.Verdict != nil, s.Advance != "", s.Sweep,
	} {
		if set {
			n++
		}
	}
	return n
}

// Step operations.
const (
	OpProcess = "process"
	OpRetry   = "retry"
	OpCancel  = "cancel"
	OpCheck   = "check"
	OpVerdict = "verdict"
	OpAdvance = "advance"
	OpSweep   = "sweep"
)

// Assertion validates the final ledger.
type Assertion struct {
	// Type is one of final_state, event_order, event_count, retry_task or
	// submissions.
	Type string `yaml:"type"`

	// SourceID selects the record (all types except submissions).
	SourceID string `yaml:"source_id,omitempty"`

	// Expect holds expected record fields (final_state). Subset match.
	Expect map[string]interface{} `yaml:"expect,omitempty"`

	// Actions is the expected audit action order (event_order).
	Actions []string `yaml:"actions,omitempty"`

	// Action and Count are used by event_count; Count also by submissions.
	Action string `yaml:"action,omitempty"`
	Count  int    `yaml:"count,omitempty"`

	// Present is used by retry_task.
	Present *bool `yaml:"present,omitempty"`
}

// Assertion type constants.
const (
	AssertFinalState  = "final_state"
	AssertEventOrder  = "event_order"
	AssertEventCount  = "event_count"
	AssertRetryTask   = "retry_task"
	AssertSubmissions = "submissions"
)

// LoadScenario reads and parses a scenario YAML file, resolving the
// fixtures path relative to the file's directory.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	// Strict decoding catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if scenario.Fixtures != "" && !filepath.IsAbs(scenario.Fixtures) {
		scenario.Fixtures = filepath.Join(filepath.Dir(path), scenario.Fixtures)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Fixtures == "" {
		return fmt.Errorf("fixtures is required")
	}
	if _, err := os.Stat(s.Fixtures); os.IsNotExist(err) {
		return fmt.Errorf("fixtures file not found: %s", s.Fixtures)
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, sc := range s.Script {
		if err := validateScriptStep(i, sc); err != nil {
			return err
		}
	}
	for i, step := range s.Steps {
		if err := validateStep(i, step); err != nil {
			return err
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a); err != nil {
			return err
		}
	}
	return nil
}

func validateScriptStep(i int, sc ScriptStep) error {
	n := 0
	for _, set := range []bool{sc.Accept != "", sc.Upload != "", sc.Fail != ""} {
		if set {
			n++
		}
	}
	if n != 1 {
		return fmt.Errorf("script[%d]: exactly one of accept, upload or fail is required", i)
	}
	switch sc.Fail {
	case "", FailTransient, FailAuthentication, FailValidationRejected:
	case FailRateLimited:
		if sc.RetryAfter != "" {
			if _, err := time.ParseDuration(sc.RetryAfter); err != nil {
				return fmt.Errorf("script[%d]: retry_after: %w", i, err)
			}
		}
	default:
		return fmt.Errorf("script[%d]: unknown failure %q", i, sc.Fail)
	}
	if sc.RetryAfter != "" && sc.Fail != FailRateLimited {
		return fmt.Errorf("script[%d]: retry_after only applies to rate_limited", i)
	}
	return nil
}

func validateStep(i int, step Step) error {
	if step.opCount() != 1 {
		return fmt.Errorf("steps[%d]: exactly one operation is required", i)
	}
	switch step.Op() {
	case OpProcess:
		if step.Process.SourceID == "" {
			return fmt.Errorf("steps[%d].process: source_id is required", i)
		}
		if step.Process.CustomerTaxID == "" {
			return fmt.Errorf("steps[%d].process: customer_tax_id is required", i)
		}
	case OpVerdict:
		if step.Verdict.ID == "" || step.Verdict.Status == "" {
			return fmt.Errorf("steps[%d].verdict: id and status are required", i)
		}
	case OpAdvance:
		if _, err := time.ParseDuration(step.Advance); err != nil {
			return fmt.Errorf("steps[%d].advance: %w", i, err)
		}
	}
	if step.Expect != nil {
		switch step.Op() {
		case OpVerdict, OpAdvance, OpSweep:
			return fmt.Errorf("steps[%d]: expect is not valid for %s", i, step.Op())
		}
		if step.Expect.Status == "" {
			return fmt.Errorf("steps[%d].expect: status is required", i)
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}
	if a.Type != AssertSubmissions && a.SourceID == "" {
		return fmt.Errorf("assertions[%d]: source_id is required for %s", index, a.Type)
	}

	switch a.Type {
	case AssertFinalState:
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	case AssertEventOrder:
		if len(a.Actions) == 0 {
			return fmt.Errorf("assertions[%d]: actions list is required for event_order", index)
		}
	case AssertEventCount:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for event_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for event_count", index)
		}
	case AssertRetryTask:
		if a.Present == nil {
			return fmt.Errorf("assertions[%d]: present is required for retry_task", index)
		}
	case AssertSubmissions:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for submissions", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
