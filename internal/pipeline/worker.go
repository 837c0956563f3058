package pipeline

import (
	"context"

	"go.uber.org/zap"

	"github.com/genusglobalinc/leadbot/internal/store"
	"github.com/genusglobalinc/leadbot/pkg/models"
)

// Extractor is the scrape side of the pipeline. Satisfied by
// *extract.PageExtractor. An error from Extract means the browser session is
// unusable; Reset discards it and builds a fresh one.
type Extractor interface {
	Extract(ctx context.Context, target models.Target) (models.RawExtraction, error)
	Reset(ctx context.Context) error
	Close()
}

// ExtractorFactory builds one Extractor per worker; each worker owns its
// browser session exclusively.
type ExtractorFactory func() Extractor

// Enricher is the classification side. Satisfied by *enrich.Client.
type Enricher interface {
	Classify(ctx context.Context, ex *models.RawExtraction) (models.EnrichmentResult, error)
}

type job struct {
	target  models.Target
	from    models.State
	attempt int
}

type result struct {
	key       string
	reason    models.FailReason
	retryable bool
	attempt   int

	// poolFatal means the worker cannot obtain a browser session at all;
	// the whole batch must stop.
	poolFatal bool
}

type worker struct {
	id        int
	store     *store.Store
	extractor Extractor
	enricher  Enricher
}

func (w *worker) run(ctx context.Context, jobs <-chan job, results chan<- result) {
	defer w.extractor.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-jobs:
			if !ok {
				return
			}
			res := w.process(ctx, j)
			select {
			case results <- res:
			case <-ctx.Done():
				return
			}
		}
	}
}

// process runs one target through extract → enrich, submitting each stage as
// a transition proposal. Cancellation is checked between stages, never mid
// call. Returned results feed the dispatcher's retry decision.
func (w *worker) process(ctx context.Context, j job) result {
	key := j.target.Key()
	res := result{key: key, attempt: j.attempt}

	// Claim the record. A rejection means a competing attempt already
	// advanced it (or retries ran out); drop the job without touching it.
	if err := w.store.Propose(key, j.from, models.StateExtracting, store.Payload{}); err != nil {
		zap.L().Debug("worker: claim rejected",
			zap.Int("worker", w.id),
			zap.String("key", key),
			zap.Error(err),
		)
		return res
	}

	if ctx.Err() != nil {
		res.reason = models.ReasonCancelled
		return res
	}

	ex, err := w.extractor.Extract(ctx, j.target)
	if ctx.Err() != nil {
		// Cancelled mid-extraction; leave the record for the dispatcher's
		// cancellation sweep.
		res.reason = models.ReasonCancelled
		return res
	}
	if err != nil {
		// Session is dead. Swap it and report the target as retryable.
		zap.L().Warn("worker: browser session lost",
			zap.Int("worker", w.id),
			zap.String("key", key),
			zap.Error(err),
		)
		if resetErr := w.extractor.Reset(ctx); resetErr != nil && ctx.Err() == nil {
			zap.L().Error("worker: cannot recreate browser session",
				zap.Int("worker", w.id),
				zap.Error(resetErr),
			)
			res.poolFatal = true
		}
		res.reason = models.ReasonSessionFatal
		res.retryable = true
		_ = w.store.Propose(key, models.StateExtracting, models.StateFailed,
			store.Payload{Reason: models.ReasonSessionFatal})
		return res
	}

	if ex.Outcome == models.ExtractionFailed {
		res.reason = models.ReasonPageTimeout
		res.retryable = true
		_ = w.store.Propose(key, models.StateExtracting, models.StateFailed,
			store.Payload{Reason: models.ReasonPageTimeout, Extraction: &ex})
		return res
	}

	if err := w.store.Propose(key, models.StateExtracting, models.StateExtracted,
		store.Payload{Extraction: &ex}); err != nil {
		return res
	}

	if ctx.Err() != nil {
		res.reason = models.ReasonCancelled
		return res
	}

	if err := w.store.Propose(key, models.StateExtracted, models.StateEnriching, store.Payload{}); err != nil {
		return res
	}

	enr, err := w.enricher.Classify(ctx, &ex)
	if err != nil {
		zap.L().Debug("worker: enrichment error",
			zap.Int("worker", w.id),
			zap.String("key", key),
			zap.Error(err),
		)
	}

	switch enr.Outcome {
	case models.EnrichmentOK, models.EnrichmentSkipped:
		_ = w.store.Propose(key, models.StateEnriching, models.StateEnriched,
			store.Payload{Enrichment: &enr})
	default:
		res.reason = enr.Reason
		res.retryable = enr.Reason.Retryable()
		_ = w.store.Propose(key, models.StateEnriching, models.StateFailed,
			store.Payload{Reason: enr.Reason, Enrichment: &enr})
	}
	return res
}
