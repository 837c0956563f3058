package pipeline

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/genusglobalinc/leadbot/internal/store"
	"github.com/genusglobalinc/leadbot/pkg/models"
)

type fakeExtractor struct {
	extract  func(ctx context.Context, target models.Target) (models.RawExtraction, error)
	resets   *int32
	resetErr error
}

func (f *fakeExtractor) Extract(ctx context.Context, target models.Target) (models.RawExtraction, error) {
	return f.extract(ctx, target)
}

func (f *fakeExtractor) Reset(ctx context.Context) error {
	if f.resets != nil {
		atomic.AddInt32(f.resets, 1)
	}
	return f.resetErr
}

func (f *fakeExtractor) Close() {}

type fakeEnricher struct {
	classify func(ctx context.Context, ex *models.RawExtraction) (models.EnrichmentResult, error)
}

func (f *fakeEnricher) Classify(ctx context.Context, ex *models.RawExtraction) (models.EnrichmentResult, error) {
	return f.classify(ctx, ex)
}

func goodExtraction(url string) models.RawExtraction {
	return models.RawExtraction{
		TargetURL:   url,
		Title:       "Some Co",
		TextContent: "Some Co does things. contact@some.co",
		Emails:      []string{"contact@some.co"},
		ExtractedAt: time.Now(),
		Outcome:     models.ExtractionSuccess,
	}
}

func fastOptions(workers, retries int) Options {
	return Options{
		Workers:        workers,
		MaxRetries:     retries,
		BackoffInitial: 5 * time.Millisecond,
		BackoffMax:     20 * time.Millisecond,
	}
}

// Mirrors the three-target acceptance scenario: an empty page, a flaky
// enrichment that succeeds on retry, and a terminal auth failure.
func TestRunMixedOutcomes(t *testing.T) {
	const (
		emptyURL = "https://empty.example"
		flakyURL = "https://flaky.example"
		authURL  = "https://auth.example"
	)

	st := store.New(2)
	factory := func() Extractor {
		return &fakeExtractor{extract: func(ctx context.Context, target models.Target) (models.RawExtraction, error) {
			if target.URL == emptyURL {
				return models.RawExtraction{
					TargetURL: target.URL,
					Outcome:   models.ExtractionPartial,
				}, nil
			}
			return goodExtraction(target.URL), nil
		}}
	}

	var flakyCalls int32
	enricher := &fakeEnricher{classify: func(ctx context.Context, ex *models.RawExtraction) (models.EnrichmentResult, error) {
		switch ex.TargetURL {
		case emptyURL:
			return models.EnrichmentResult{Outcome: models.EnrichmentSkipped}, nil
		case flakyURL:
			if atomic.AddInt32(&flakyCalls, 1) == 1 {
				return models.EnrichmentResult{
					Outcome: models.EnrichmentFailed,
					Reason:  models.ReasonNetworkRetryable,
				}, errors.New("upstream timeout")
			}
			return models.EnrichmentResult{
				Label:   models.LabelQualified,
				Outcome: models.EnrichmentOK,
			}, nil
		default:
			return models.EnrichmentResult{
				Outcome: models.EnrichmentFailed,
				Reason:  models.ReasonTerminalAuth,
			}, errors.New("invalid api key")
		}
	}}

	d := NewDispatcher(fastOptions(2, 2), st, factory, enricher)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	tally, err := d.Run(ctx, []models.Target{{URL: emptyURL}, {URL: flakyURL}, {URL: authURL}})
	require.NoError(t, err)

	assert.Equal(t, 3, tally.Total)
	assert.Equal(t, 2, tally.Enriched)
	assert.Equal(t, 1, tally.Failed)
	assert.Equal(t, 1, tally.Reasons[models.ReasonTerminalAuth])
	assert.True(t, st.AllTerminal())

	flaky, _ := st.Get(flakyURL)
	assert.Equal(t, models.StateEnriched, flaky.State)
	assert.Equal(t, 1, flaky.Retries)

	auth, _ := st.Get(authURL)
	assert.Equal(t, models.StateFailed, auth.State)
	assert.Equal(t, models.ReasonTerminalAuth, auth.Reason)

	empty, _ := st.Get(emptyURL)
	assert.Equal(t, models.StateEnriched, empty.State)
	require.NotNil(t, empty.Enrichment)
	assert.Equal(t, models.EnrichmentSkipped, empty.Enrichment.Outcome)
}

func TestRunRetriesExhaustRemainsFailed(t *testing.T) {
	st := store.New(2)
	factory := func() Extractor {
		return &fakeExtractor{extract: func(ctx context.Context, target models.Target) (models.RawExtraction, error) {
			return models.RawExtraction{TargetURL: target.URL, Outcome: models.ExtractionFailed}, nil
		}}
	}
	enricher := &fakeEnricher{classify: func(ctx context.Context, ex *models.RawExtraction) (models.EnrichmentResult, error) {
		t.Fatal("enricher must not be called for failed extractions")
		return models.EnrichmentResult{}, nil
	}}

	d := NewDispatcher(fastOptions(1, 2), st, factory, enricher)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	tally, err := d.Run(ctx, []models.Target{{URL: "https://down.example"}})
	require.NoError(t, err)

	assert.Equal(t, 1, tally.Failed)
	rec, _ := st.Get("https://down.example")
	assert.Equal(t, 2, rec.Retries, "retry counter must stop at the configured maximum")
	assert.Equal(t, models.ReasonPageTimeout, rec.Reason)
	assert.True(t, st.AllTerminal())
}

func TestRunSessionDeathRecovers(t *testing.T) {
	var resets int32
	var calls int32

	st := store.New(2)
	factory := func() Extractor {
		return &fakeExtractor{
			resets: &resets,
			extract: func(ctx context.Context, target models.Target) (models.RawExtraction, error) {
				if atomic.AddInt32(&calls, 1) == 1 {
					return models.RawExtraction{}, errors.New("browser: session dead")
				}
				return goodExtraction(target.URL), nil
			},
		}
	}
	enricher := &fakeEnricher{classify: func(ctx context.Context, ex *models.RawExtraction) (models.EnrichmentResult, error) {
		return models.EnrichmentResult{Label: models.LabelQualified, Outcome: models.EnrichmentOK}, nil
	}}

	d := NewDispatcher(fastOptions(1, 2), st, factory, enricher)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	tally, err := d.Run(ctx, []models.Target{{URL: "https://crashy.example"}})
	require.NoError(t, err)

	assert.Equal(t, 1, tally.Enriched)
	assert.GreaterOrEqual(t, atomic.LoadInt32(&resets), int32(1), "session must be recreated after fatal failure")

	rec, _ := st.Get("https://crashy.example")
	assert.Equal(t, models.StateEnriched, rec.State)
	assert.Equal(t, 1, rec.Retries)
}

func TestRunPoolFatalAbortsBatch(t *testing.T) {
	st := store.New(1)
	factory := func() Extractor {
		return &fakeExtractor{
			resetErr: errors.New("no more browser sessions"),
			extract: func(ctx context.Context, target models.Target) (models.RawExtraction, error) {
				return models.RawExtraction{}, errors.New("browser: session dead")
			},
		}
	}
	enricher := &fakeEnricher{classify: func(ctx context.Context, ex *models.RawExtraction) (models.EnrichmentResult, error) {
		return models.EnrichmentResult{Outcome: models.EnrichmentOK}, nil
	}}

	d := NewDispatcher(fastOptions(1, 1), st, factory, enricher)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := d.Run(ctx, []models.Target{{URL: "https://a.example"}})
	require.Error(t, err)
}

func TestCancelMidBatch(t *testing.T) {
	const fast = 3
	const slow = 2

	targets := []models.Target{
		{URL: "https://fast1.example"},
		{URL: "https://fast2.example"},
		{URL: "https://fast3.example"},
		{URL: "https://slow1.example"},
		{URL: "https://slow2.example"},
	}

	st := store.New(2)
	factory := func() Extractor {
		return &fakeExtractor{extract: func(ctx context.Context, target models.Target) (models.RawExtraction, error) {
			if target.URL == "https://slow1.example" || target.URL == "https://slow2.example" {
				<-ctx.Done()
				return models.RawExtraction{TargetURL: target.URL, Outcome: models.ExtractionFailed}, nil
			}
			return goodExtraction(target.URL), nil
		}}
	}
	enricher := &fakeEnricher{classify: func(ctx context.Context, ex *models.RawExtraction) (models.EnrichmentResult, error) {
		return models.EnrichmentResult{Label: models.LabelQualified, Outcome: models.EnrichmentOK}, nil
	}}

	d := NewDispatcher(fastOptions(fast+slow, 2), st, factory, enricher)

	done := make(chan models.Tally, 1)
	go func() {
		tally, _ := d.Run(context.Background(), targets)
		done <- tally
	}()

	// Wait for the fast targets to finish, then cancel while the slow two
	// are still extracting.
	require.Eventually(t, func() bool {
		return st.Tally().Enriched == fast
	}, 5*time.Second, 10*time.Millisecond)

	require.True(t, d.CancelBatch())

	var tally models.Tally
	select {
	case tally = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("batch did not stop after cancellation")
	}

	assert.Equal(t, fast, tally.Enriched)
	assert.Equal(t, slow, tally.Failed)
	assert.Equal(t, slow, tally.Reasons[models.ReasonCancelled])

	for _, url := range []string{"https://fast1.example", "https://fast2.example", "https://fast3.example"} {
		rec, _ := st.Get(url)
		assert.Equal(t, models.StateEnriched, rec.State, "terminal records are unaffected by cancellation")
	}
	for _, url := range []string{"https://slow1.example", "https://slow2.example"} {
		rec, _ := st.Get(url)
		assert.Equal(t, models.StateFailed, rec.State)
		assert.Equal(t, models.ReasonCancelled, rec.Reason)
	}
}

func TestRunRejectsSecondBatch(t *testing.T) {
	st := store.New(1)
	block := make(chan struct{})
	factory := func() Extractor {
		return &fakeExtractor{extract: func(ctx context.Context, target models.Target) (models.RawExtraction, error) {
			select {
			case <-block:
			case <-ctx.Done():
			}
			return goodExtraction(target.URL), nil
		}}
	}
	enricher := &fakeEnricher{classify: func(ctx context.Context, ex *models.RawExtraction) (models.EnrichmentResult, error) {
		return models.EnrichmentResult{Outcome: models.EnrichmentOK}, nil
	}}

	d := NewDispatcher(fastOptions(1, 0), st, factory, enricher)

	id, err := d.Submit([]models.Target{{URL: "https://a.example"}})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	_, err = d.Submit([]models.Target{{URL: "https://b.example"}})
	require.Error(t, err)

	st2 := d.Status()
	assert.True(t, st2.Running)
	assert.Equal(t, id, st2.BatchID)

	close(block)
	require.Eventually(t, func() bool {
		return !d.Status().Running
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, d.Status().Tally.Enriched)
}

func TestBackoffGrowsAndCaps(t *testing.T) {
	initial := 10 * time.Millisecond
	max := 80 * time.Millisecond

	prev := time.Duration(0)
	for attempt := 0; attempt < 8; attempt++ {
		d := backoff(initial, max, attempt)
		// Jitter is +/-20%; stay within the envelope.
		assert.LessOrEqual(t, d, time.Duration(float64(max)*1.2))
		assert.GreaterOrEqual(t, d, time.Duration(float64(initial)*0.8))
		if attempt > 0 && attempt < 3 {
			assert.Greater(t, d, time.Duration(float64(prev)*0.5), "backoff should trend upward")
		}
		prev = d
	}
}
