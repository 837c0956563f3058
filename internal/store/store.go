// Package store holds the single consistent table of lead records. Workers
// never write state directly: they submit proposed transitions and the store
// accepts or rejects them against the record's current state. That from-state
// check is what serializes concurrent writers; a slow retry landing after a
// record already advanced is rejected instead of clobbering fresher data.
package store

import (
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/genusglobalinc/leadbot/pkg/models"
)

var (
	ErrUnknownKey        = errors.New("store: unknown key")
	ErrStaleTransition   = errors.New("store: stale transition")
	ErrInvalidTransition = errors.New("store: invalid transition")
	ErrRetriesExhausted  = errors.New("store: retries exhausted")
)

// validNext is the lifecycle graph. failed→extracting is the retry edge and
// additionally gated by the retry counter.
var validNext = map[models.State][]models.State{
	models.StateQueued:     {models.StateExtracting},
	models.StateExtracting: {models.StateExtracted, models.StateFailed},
	models.StateExtracted:  {models.StateEnriching},
	models.StateEnriching:  {models.StateEnriched, models.StateFailed},
	models.StateFailed:     {models.StateExtracting},
}

// Payload carries the data attached to an accepted transition.
type Payload struct {
	Extraction *models.RawExtraction
	Enrichment *models.EnrichmentResult
	Reason     models.FailReason
}

type Store struct {
	mu         sync.Mutex
	records    map[string]*models.LeadRecord
	order      []string
	maxRetries int
}

func New(maxRetries int) *Store {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Store{
		records:    make(map[string]*models.LeadRecord),
		maxRetries: maxRetries,
	}
}

// Seed registers queued records for a batch. Duplicate target identities
// collapse onto the existing record; exactly one record exists per key.
// Returns the number of new records created.
func (s *Store) Seed(targets []models.Target) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	created := 0
	for _, t := range targets {
		key := t.Key()
		if _, ok := s.records[key]; ok {
			continue
		}
		s.records[key] = &models.LeadRecord{
			Key:       key,
			Target:    t,
			State:     models.StateQueued,
			Seq:       len(s.order),
			UpdatedAt: time.Now(),
		}
		s.order = append(s.order, key)
		created++
	}
	return created
}

// Propose submits a transition. A nil return means accepted; the sentinel
// errors tell the caller why it was not. Rejection is not a record failure —
// the caller re-reads current state and decides.
func (s *Store) Propose(key string, from, to models.State, p Payload) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok {
		return ErrUnknownKey
	}
	if rec.State != from {
		return ErrStaleTransition
	}
	if !edgeAllowed(from, to) {
		return ErrInvalidTransition
	}

	if from == models.StateFailed && to == models.StateExtracting {
		if !rec.Reason.Retryable() || rec.Retries >= s.maxRetries {
			return ErrRetriesExhausted
		}
		rec.Retries++
		rec.Reason = models.ReasonNone
	}

	if p.Extraction != nil {
		rec.Extraction = p.Extraction
	}
	if p.Enrichment != nil {
		rec.Enrichment = p.Enrichment
	}
	if to == models.StateFailed {
		rec.Reason = p.Reason
	}

	now := time.Now()
	rec.Audit = append(rec.Audit, models.Transition{From: from, To: to, Reason: p.Reason, At: now})
	rec.State = to
	rec.UpdatedAt = now

	zap.L().Debug("store: transition accepted",
		zap.String("key", key),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.String("reason", string(p.Reason)),
		zap.Int("retries", rec.Retries),
	)
	return nil
}

func edgeAllowed(from, to models.State) bool {
	for _, next := range validNext[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Get returns a copy of one record.
func (s *Store) Get(key string) (models.LeadRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key]
	if !ok {
		return models.LeadRecord{}, false
	}
	return rec.Clone(), true
}

// Snapshot returns copies of every record in submission order. Without new
// proposals in between, repeated calls return identical sequences.
func (s *Store) Snapshot() []models.LeadRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.LeadRecord, 0, len(s.order))
	for _, key := range s.order {
		out = append(out, s.records[key].Clone())
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

// Retryable reports whether the record may still be re-enqueued.
func (s *Store) Retryable(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key]
	if !ok {
		return false
	}
	return rec.State == models.StateFailed && rec.Reason.Retryable() && rec.Retries < s.maxRetries
}

// terminal is the completion predicate: enriched, or failed with no retry
// budget or a non-retryable reason.
func (s *Store) terminal(rec *models.LeadRecord) bool {
	switch rec.State {
	case models.StateEnriched:
		return true
	case models.StateFailed:
		return !rec.Reason.Retryable() || rec.Retries >= s.maxRetries
	}
	return false
}

// AllTerminal reports batch completion.
func (s *Store) AllTerminal() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.records {
		if !s.terminal(rec) {
			return false
		}
	}
	return true
}

// CancelPending force-fails every record still mid-pipeline. Terminal records
// and failed records awaiting retry keep their state and reason. Returns how
// many records were cancelled.
func (s *Store) CancelPending() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	now := time.Now()
	for _, rec := range s.records {
		if rec.State == models.StateEnriched || rec.State == models.StateFailed {
			continue
		}
		rec.Audit = append(rec.Audit, models.Transition{
			From: rec.State, To: models.StateFailed, Reason: models.ReasonCancelled, At: now,
		})
		rec.State = models.StateFailed
		rec.Reason = models.ReasonCancelled
		rec.UpdatedAt = now
		n++
	}
	return n
}

// Tally builds the final batch report with a failure-reason histogram.
func (s *Store) Tally() models.Tally {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := models.Tally{Total: len(s.order), Reasons: make(map[models.FailReason]int)}
	for _, rec := range s.records {
		switch rec.State {
		case models.StateEnriched:
			t.Enriched++
		case models.StateFailed:
			t.Failed++
			t.Reasons[rec.Reason]++
		}
	}
	return t
}

// Len returns the number of records tracked.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}
