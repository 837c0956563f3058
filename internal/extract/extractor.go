// Package extract drives one browser session at a time against lead targets
// and turns rendered pages into RawExtraction values. Page-level trouble
// (timeouts, missing elements) degrades the outcome; only session-level
// breakage surfaces as an error to the caller.
package extract

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/genusglobalinc/leadbot/internal/browser"
	"github.com/genusglobalinc/leadbot/pkg/models"
)

// Page is the slice of the browser capability the extractor needs. Satisfied
// by *browser.Page.
type Page interface {
	Navigate(url string) error
	WaitReady(sel string) error
	HTML() (string, error)
	Close()
}

// PageExtractor owns a disposable browser session. Extract never shares the
// session across a fatal failure: the caller must Reset first.
type PageExtractor struct {
	factory browser.Factory
	session *browser.Session
	timeout time.Duration
}

func New(factory browser.Factory, pageTimeout time.Duration) *PageExtractor {
	return &PageExtractor{factory: factory, timeout: pageTimeout}
}

// Extract navigates to the target and pulls out contact signals. A returned
// error always means the session is unusable; every softer failure is encoded
// in the RawExtraction outcome.
func (e *PageExtractor) Extract(ctx context.Context, target models.Target) (models.RawExtraction, error) {
	out := models.RawExtraction{
		TargetURL:   target.URL,
		ExtractedAt: time.Now(),
		Outcome:     models.ExtractionFailed,
	}

	if e.session == nil || !e.session.Healthy() {
		if err := e.Reset(ctx); err != nil {
			return out, err
		}
	}

	start := time.Now()
	pg := e.session.NewPage(e.timeout)
	defer pg.Close()

	result, err := extractPage(pg, target.URL)
	result.TargetURL = target.URL
	result.ExtractedAt = out.ExtractedAt
	result.LoadTime = time.Since(start)
	if err != nil {
		if errors.Is(err, browser.ErrSessionDead) {
			// Session is gone; the target itself is still retryable.
			return result, eris.Wrapf(err, "extract: session died on %s", target.URL)
		}
		zap.L().Debug("extract: page failure",
			zap.String("url", target.URL),
			zap.Error(err),
		)
		return result, nil
	}

	zap.L().Debug("extract: done",
		zap.String("url", target.URL),
		zap.String("outcome", string(result.Outcome)),
		zap.Int("emails", len(result.Emails)),
		zap.Int("phones", len(result.Phones)),
		zap.Duration("load_time", result.LoadTime),
	)
	return result, nil
}

// extractPage runs the navigate / wait / parse sequence against any Page.
func extractPage(pg Page, url string) (models.RawExtraction, error) {
	out := models.RawExtraction{Outcome: models.ExtractionFailed}

	if err := pg.Navigate(url); err != nil {
		return out, err
	}
	if err := pg.WaitReady("body"); err != nil {
		// Navigation landed but the page never settled. Try to read what
		// rendered anyway; many targets are still usable.
		if errors.Is(err, browser.ErrSessionDead) {
			return out, err
		}
	}

	raw, err := pg.HTML()
	if err != nil {
		return out, err
	}

	p, err := parseDocument(raw)
	if err != nil {
		return out, nil
	}

	out.Title = p.Title
	out.TextContent = p.Text
	out.Emails = p.Emails
	out.Phones = p.Phones
	out.Websites = p.Websites
	out.HasContactForm = p.HasContactForm
	out.Outcome = outcomeFor(p)
	return out, nil
}

// Reset discards the current session and builds a fresh one.
func (e *PageExtractor) Reset(ctx context.Context) error {
	if e.session != nil {
		e.session.Close()
		e.session = nil
	}
	s, err := e.factory(ctx)
	if err != nil {
		return eris.Wrap(err, "extract: recreate session")
	}
	e.session = s
	return nil
}

func (e *PageExtractor) Close() {
	if e.session != nil {
		e.session.Close()
		e.session = nil
	}
}
