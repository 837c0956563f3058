// Package pipeline fans a batch of targets out over a fixed pool of workers,
// each pairing an exclusive browser session with shared enrichment access, and
// funnels every outcome through the lead store's transition protocol. The
// dispatcher alone decides retries; workers only report classified outcomes.
package pipeline

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/genusglobalinc/leadbot/internal/store"
	"github.com/genusglobalinc/leadbot/pkg/models"
)

type Options struct {
	Workers        int
	MaxRetries     int
	BackoffInitial time.Duration
	BackoffMax     time.Duration
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.BackoffInitial <= 0 {
		o.BackoffInitial = 500 * time.Millisecond
	}
	if o.BackoffMax <= 0 {
		o.BackoffMax = 15 * time.Second
	}
	return o
}

// Status is the dispatcher's view for the UI layer.
type Status struct {
	BatchID   string       `json:"batch_id"`
	Running   bool         `json:"running"`
	StartedAt time.Time    `json:"started_at,omitempty"`
	Records   int          `json:"records"`
	Tally     models.Tally `json:"tally"`
}

type Dispatcher struct {
	opts         Options
	store        *store.Store
	newExtractor ExtractorFactory
	enricher     Enricher

	mu        sync.Mutex
	running   bool
	cancel    context.CancelFunc
	batchID   string
	startedAt time.Time
}

func NewDispatcher(opts Options, st *store.Store, factory ExtractorFactory, enricher Enricher) *Dispatcher {
	return &Dispatcher{
		opts:         opts.withDefaults(),
		store:        st,
		newExtractor: factory,
		enricher:     enricher,
	}
}

// begin registers a batch, rejecting a second submission while one runs.
func (d *Dispatcher) begin(ctx context.Context) (context.Context, context.CancelFunc, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return nil, nil, eris.New("dispatcher: batch already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	d.running = true
	d.cancel = cancel
	d.batchID = uuid.New().String()
	d.startedAt = time.Now()
	return runCtx, cancel, nil
}

func (d *Dispatcher) end(cancel context.CancelFunc) {
	cancel()
	d.mu.Lock()
	d.running = false
	d.cancel = nil
	d.mu.Unlock()
}

// Run processes a batch synchronously and returns the final tally. It comes
// back once every record is terminal, the context is cancelled, or no browser
// session can be created at all.
func (d *Dispatcher) Run(ctx context.Context, targets []models.Target) (models.Tally, error) {
	runCtx, cancel, err := d.begin(ctx)
	if err != nil {
		return models.Tally{}, err
	}
	defer d.end(cancel)
	return d.execute(runCtx, cancel, targets)
}

func (d *Dispatcher) execute(runCtx context.Context, cancel context.CancelFunc, targets []models.Target) (models.Tally, error) {
	created := d.store.Seed(targets)

	// One job per distinct identity; duplicate URLs collapse onto one record.
	seen := make(map[string]struct{}, len(targets))
	queued := make([]models.Target, 0, len(targets))
	for _, t := range targets {
		if _, ok := seen[t.Key()]; ok {
			continue
		}
		seen[t.Key()] = struct{}{}
		queued = append(queued, t)
	}

	zap.L().Info("dispatcher: batch started",
		zap.String("batch_id", d.batchID),
		zap.Int("targets", len(queued)),
		zap.Int("new_records", created),
		zap.Int("workers", d.opts.Workers),
	)
	if len(queued) == 0 {
		return d.store.Tally(), nil
	}

	// Buffered so retry goroutines never block forever on a draining pool.
	jobs := make(chan job, len(queued))
	results := make(chan result, d.opts.Workers)

	g, workerCtx := errgroup.WithContext(runCtx)
	for i := 0; i < d.opts.Workers; i++ {
		w := &worker{id: i, store: d.store, extractor: d.newExtractor(), enricher: d.enricher}
		g.Go(func() error {
			w.run(workerCtx, jobs, results)
			return nil
		})
	}

	for _, t := range queued {
		select {
		case jobs <- job{target: t, from: models.StateQueued}:
		case <-runCtx.Done():
		}
	}

	var runErr error
	remaining := len(queued)

loop:
	for remaining > 0 {
		select {
		case <-runCtx.Done():
			break loop
		case res := <-results:
			if res.poolFatal {
				runErr = eris.New("dispatcher: browser sessions exhausted")
				break loop
			}
			if res.retryable && d.store.Retryable(res.key) {
				d.scheduleRetry(runCtx, jobs, res)
				continue
			}
			remaining--
		}
	}

	cancel()
	_ = g.Wait()

	if cancelled := d.store.CancelPending(); cancelled > 0 {
		zap.L().Info("dispatcher: cancelled in-flight records",
			zap.String("batch_id", d.batchID),
			zap.Int("cancelled", cancelled),
		)
	}

	tally := d.store.Tally()
	zap.L().Info("dispatcher: batch finished",
		zap.String("batch_id", d.batchID),
		zap.Int("enriched", tally.Enriched),
		zap.Int("failed", tally.Failed),
		zap.Duration("elapsed", time.Since(d.startedAt)),
	)
	return tally, runErr
}

// scheduleRetry re-enqueues a retryable target after an exponential backoff,
// so a struggling dependency is not hit again immediately.
func (d *Dispatcher) scheduleRetry(ctx context.Context, jobs chan<- job, res result) {
	delay := backoff(d.opts.BackoffInitial, d.opts.BackoffMax, res.attempt)
	rec, ok := d.store.Get(res.key)
	if !ok {
		return
	}
	zap.L().Info("dispatcher: re-enqueueing target",
		zap.String("key", res.key),
		zap.String("reason", string(res.reason)),
		zap.Int("attempt", res.attempt+1),
		zap.Duration("delay", delay),
	)
	go func() {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
		case <-t.C:
			select {
			case jobs <- job{target: rec.Target, from: models.StateFailed, attempt: res.attempt + 1}:
			case <-ctx.Done():
			}
		}
	}()
}

func backoff(initial, max time.Duration, attempt int) time.Duration {
	sleep := initial
	for i := 0; i < attempt && sleep < max; i++ {
		sleep *= 2
	}
	if sleep > max {
		sleep = max
	}
	// +/-20% jitter.
	j := 1 + (rand.Float64()*2-1)*0.2
	return time.Duration(float64(sleep) * j)
}

// Submit starts a batch in the background for the UI layer and returns its
// batch ID. One batch at a time; a second submission while running is
// rejected.
func (d *Dispatcher) Submit(targets []models.Target) (string, error) {
	runCtx, cancel, err := d.begin(context.Background())
	if err != nil {
		return "", err
	}

	d.mu.Lock()
	id := d.batchID
	d.mu.Unlock()

	go func() {
		defer d.end(cancel)
		if _, err := d.execute(runCtx, cancel, targets); err != nil {
			zap.L().Error("dispatcher: background batch failed",
				zap.String("batch_id", id),
				zap.Error(err),
			)
		}
	}()
	return id, nil
}

// CancelBatch requests cancellation of the running batch. Workers abandon
// in-flight work between stages; affected records end failed/cancelled.
func (d *Dispatcher) CancelBatch() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running || d.cancel == nil {
		return false
	}
	d.cancel()
	zap.L().Info("dispatcher: cancellation requested", zap.String("batch_id", d.batchID))
	return true
}

// Status reports progress for UI polling.
func (d *Dispatcher) Status() Status {
	d.mu.Lock()
	st := Status{
		BatchID:   d.batchID,
		Running:   d.running,
		StartedAt: d.startedAt,
	}
	d.mu.Unlock()
	st.Records = d.store.Len()
	st.Tally = d.store.Tally()
	return st
}

// Snapshot exposes the current lead table, submission-ordered.
func (d *Dispatcher) Snapshot() []models.LeadRecord {
	return d.store.Snapshot()
}
