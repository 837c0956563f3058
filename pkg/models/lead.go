package models

import "time"

// Target is one input unit to scrape: a URL plus optional seed metadata
// carried over from the CSV row it came from. Targets are immutable.
type Target struct {
	URL  string
	Name string
	Seed map[string]string
}

// Key returns the identity under which the LeadStore tracks this target.
func (t Target) Key() string {
	return t.URL
}

// ExtractionOutcome describes how a single page extraction went.
type ExtractionOutcome string

const (
	ExtractionSuccess ExtractionOutcome = "success"
	ExtractionPartial ExtractionOutcome = "partial"
	ExtractionFailed  ExtractionOutcome = "failed"
)

// RawExtraction is the output of one extraction attempt. It is owned by the
// worker that produced it until handed to the enrichment client.
type RawExtraction struct {
	TargetURL      string
	Title          string
	TextContent    string
	Emails         []string
	Phones         []string
	Websites       []string
	HasContactForm bool
	LoadTime       time.Duration
	ExtractedAt    time.Time
	Outcome        ExtractionOutcome
}

// EnrichmentOutcome describes how the classification call went.
type EnrichmentOutcome string

const (
	EnrichmentOK      EnrichmentOutcome = "enriched"
	EnrichmentSkipped EnrichmentOutcome = "skipped"
	EnrichmentFailed  EnrichmentOutcome = "failed"
)

// Lead classification labels produced by the enrichment model.
const (
	LabelQualified   = "qualified"
	LabelUnqualified = "unqualified"
	LabelNeedsReview = "needs_review"
)

// EnrichmentResult is the structured output of one classification call.
// Immutable once produced.
type EnrichmentResult struct {
	Label       string
	CompanyName string
	ContactName string
	Email       string
	Phone       string
	Industry    string
	Summary     string
	Confidence  string // low | medium | high
	Model       string
	Outcome     EnrichmentOutcome
	Reason      FailReason
}

// State is the lifecycle state of a lead record.
type State string

const (
	StateQueued     State = "queued"
	StateExtracting State = "extracting"
	StateExtracted  State = "extracted"
	StateEnriching  State = "enriching"
	StateEnriched   State = "enriched"
	StateFailed     State = "failed"
)

// Terminal reports whether no further transitions are expected, assuming
// retries are exhausted for failed records.
func (s State) Terminal() bool {
	return s == StateEnriched || s == StateFailed
}

// FailReason is the recorded cause for a failed outcome or transition.
type FailReason string

const (
	ReasonNone             FailReason = ""
	ReasonPageTimeout      FailReason = "page-timeout"
	ReasonSessionFatal     FailReason = "session-fatal"
	ReasonRateLimitTimeout FailReason = "rate-limited-timeout"
	ReasonNetworkRetryable FailReason = "network-retryable"
	ReasonMalformedResp    FailReason = "malformed-response"
	ReasonTerminalAuth     FailReason = "terminal-auth"
	ReasonTerminalPolicy   FailReason = "terminal-policy"
	ReasonRetriesExhausted FailReason = "retries-exhausted"
	ReasonCancelled        FailReason = "cancelled"
)

// Retryable reports whether a record failing for this reason may be
// re-enqueued by the dispatcher.
func (r FailReason) Retryable() bool {
	switch r {
	case ReasonPageTimeout, ReasonSessionFatal, ReasonRateLimitTimeout, ReasonNetworkRetryable:
		return true
	}
	return false
}

// Transition is one audit-trail entry on a lead record.
type Transition struct {
	From   State
	To     State
	Reason FailReason
	At     time.Time
}

// LeadRecord is the durable unit held by the LeadStore, keyed by target
// identity. Lifecycle state is written only by the store itself.
type LeadRecord struct {
	Key        string
	Target     Target
	State      State
	Retries    int
	Extraction *RawExtraction
	Enrichment *EnrichmentResult
	Reason     FailReason
	Audit      []Transition
	UpdatedAt  time.Time

	// Seq preserves submission order for snapshots.
	Seq int
}

// Clone returns a copy safe to hand out of the store. Slices in the audit
// trail are copied; extraction and enrichment payloads are immutable once
// stored, so the pointers are shared.
func (r *LeadRecord) Clone() LeadRecord {
	out := *r
	out.Audit = make([]Transition, len(r.Audit))
	copy(out.Audit, r.Audit)
	return out
}

// Tally is the final batch report.
type Tally struct {
	Total    int
	Enriched int
	Failed   int
	Reasons  map[FailReason]int
}
