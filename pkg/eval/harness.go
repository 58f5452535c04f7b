// Package eval provides the golden-corpus parity harness for Forseti.
//
// The engine was built as a from-scratch replacement for an external
// reasoning library; its correctness contract is bit-exact parity against
// that library's reference outputs. The harness makes that contract
// executable:
//   - Define test cases: an input graph, a rule set, a step budget, and the
//     expected final export plus convergence status
//   - Run each case through the real engine and export pipeline
//   - Compare the produced document byte-for-byte (after JSON
//     canonicalization) against the golden expectation
//   - Report pass/fail with a structural diff for failures
//
// Example usage:
//
//	harness := eval.NewHarness()
//	if err := harness.LoadSuite("testdata/golden/negligence.json"); err != nil {
//	    log.Fatal(err)
//	}
//	result, err := harness.Run(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("parity: %d/%d\n", result.Passed, result.Total)
//
// ELI12:
//
// The old library is the answer key from last year's class. Every test case
// is one exam question: we solve it with OUR engine and check our answer
// matches the key EXACTLY - not "close enough", character for character.
// One different character means a bug (or a deliberate change that needs a
// new answer key).
package eval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/orneryd/forseti/pkg/engine"
	"github.com/orneryd/forseti/pkg/export"
	"github.com/orneryd/forseti/pkg/graph"
	"github.com/orneryd/forseti/pkg/rules"
)

// TestCase defines a single parity test case.
type TestCase struct {
	// Name is a human-readable identifier for this case
	Name string `json:"name"`

	// Tags for grouping and filtering test cases
	Tags []string `json:"tags,omitempty"`

	// Graph is the input exchange document
	Graph graph.ExchangeDoc `json:"graph"`

	// Rules is the rule set in wire form
	Rules []rules.Spec `json:"rules"`

	// MaxTimesteps is the step budget (default 100)
	MaxTimesteps int `json:"max_timesteps,omitempty"`

	// Now is the RFC3339 reference time for rule validity windows.
	// Pinning it keeps reruns byte-identical.
	Now string `json:"now,omitempty"`

	// Profile names the export profile (default "default")
	Profile string `json:"profile,omitempty"`

	// ExpectedStatus is "converged" or "exhausted"
	ExpectedStatus string `json:"expected_status"`

	// Expected is the golden export document
	Expected json.RawMessage `json:"expected"`
}

// TestSuite is a collection of test cases.
type TestSuite struct {
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Version     string     `json:"version,omitempty"`
	TestCases   []TestCase `json:"test_cases"`
}

// CaseResult is the outcome of one test case.
type CaseResult struct {
	Name     string        `json:"name"`
	Passed   bool          `json:"passed"`
	Status   string        `json:"status"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
	Diff     string        `json:"diff,omitempty"`
}

// Result is the complete harness outcome.
type Result struct {
	SuiteName string        `json:"suite_name"`
	Timestamp time.Time     `json:"timestamp"`
	Duration  time.Duration `json:"duration"`
	Total     int           `json:"total"`
	Passed    int           `json:"passed"`
	Failed    int           `json:"failed"`
	Results   []CaseResult  `json:"results"`
}

// Harness runs parity test cases against the engine.
type Harness struct {
	mu        sync.RWMutex
	suiteName string
	cases     []TestCase
	profiles  *export.Registry
}

// NewHarness creates an empty harness with the built-in export profiles.
func NewHarness() *Harness {
	return &Harness{
		suiteName: "default",
		profiles:  export.NewRegistry(),
	}
}

// SetProfiles replaces the export registry, for suites that exercise
// configured redaction profiles.
func (h *Harness) SetProfiles(reg *export.Registry) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.profiles = reg
}

// AddTestCase adds a single test case.
func (h *Harness) AddTestCase(tc TestCase) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cases = append(h.cases, tc)
}

// LoadSuite loads a test suite from a JSON file.
func (h *Harness) LoadSuite(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read suite file: %w", err)
	}
	var suite TestSuite
	if err := json.Unmarshal(data, &suite); err != nil {
		return fmt.Errorf("parse suite JSON: %w", err)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if suite.Name != "" {
		h.suiteName = suite.Name
	}
	h.cases = append(h.cases, suite.TestCases...)
	return nil
}

// Run executes every test case and returns the aggregate result.
func (h *Harness) Run(ctx context.Context) (*Result, error) {
	h.mu.RLock()
	cases := make([]TestCase, len(h.cases))
	copy(cases, h.cases)
	name := h.suiteName
	h.mu.RUnlock()

	if len(cases) == 0 {
		return nil, fmt.Errorf("no test cases defined")
	}

	start := time.Now()
	result := &Result{
		SuiteName: name,
		Timestamp: start,
		Total:     len(cases),
	}
	for _, tc := range cases {
		cr := h.runCase(ctx, tc)
		if cr.Passed {
			result.Passed++
		} else {
			result.Failed++
		}
		result.Results = append(result.Results, cr)
	}
	result.Duration = time.Since(start)
	return result, nil
}

// runCase executes one case: load graph, compile rules, run the engine,
// export, and compare against the golden document.
func (h *Harness) runCase(ctx context.Context, tc TestCase) CaseResult {
	start := time.Now()
	fail := func(err error) CaseResult {
		return CaseResult{Name: tc.Name, Error: err.Error(), Duration: time.Since(start)}
	}

	store, err := graph.BuildStore(&tc.Graph)
	if err != nil {
		return fail(err)
	}
	ruleSet, err := rules.CompileAll(tc.Rules)
	if err != nil {
		return fail(err)
	}

	opts := engine.DefaultOptions()
	if tc.MaxTimesteps > 0 {
		opts.MaxTimesteps = tc.MaxTimesteps
	}
	if tc.Now != "" {
		now, err := time.Parse(time.RFC3339, tc.Now)
		if err != nil {
			return fail(fmt.Errorf("bad now timestamp: %w", err))
		}
		opts.Now = now
	}

	eng, err := engine.New(store, ruleSet, opts)
	if err != nil {
		return fail(err)
	}
	interp, status, err := eng.Run(ctx)
	if err != nil {
		return fail(err)
	}

	profileName := tc.Profile
	if profileName == "" {
		profileName = "default"
	}
	h.mu.RLock()
	doc, err := h.profiles.Export(interp, status, profileName)
	h.mu.RUnlock()
	if err != nil {
		return fail(err)
	}

	cr := CaseResult{
		Name:     tc.Name,
		Status:   status.String(),
		Duration: time.Since(start),
	}
	if tc.ExpectedStatus != "" && tc.ExpectedStatus != cr.Status {
		cr.Diff = fmt.Sprintf("status: want %s, got %s", tc.ExpectedStatus, cr.Status)
		return cr
	}

	equal, diff, err := compareGolden(tc.Expected, doc)
	if err != nil {
		return fail(err)
	}
	cr.Passed = equal
	cr.Diff = diff
	return cr
}

// compareGolden compares the produced export against the golden document
// byte-for-byte after JSON compaction, and produces a structural diff for
// the report when they differ.
func compareGolden(want json.RawMessage, got []byte) (bool, string, error) {
	if len(want) == 0 {
		return false, "no golden document in test case", nil
	}
	var wantBuf, gotBuf bytes.Buffer
	if err := json.Compact(&wantBuf, want); err != nil {
		return false, "", fmt.Errorf("golden document: %w", err)
	}
	if err := json.Compact(&gotBuf, got); err != nil {
		return false, "", fmt.Errorf("export document: %w", err)
	}
	if bytes.Equal(wantBuf.Bytes(), gotBuf.Bytes()) {
		return true, "", nil
	}

	var wantTree, gotTree any
	if err := json.Unmarshal(want, &wantTree); err != nil {
		return false, "", err
	}
	if err := json.Unmarshal(got, &gotTree); err != nil {
		return false, "", err
	}
	return false, cmp.Diff(wantTree, gotTree), nil
}
