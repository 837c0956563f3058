// Package browser owns the chromedp session lifecycle. A Session is one
// headless Chrome process; each extraction runs in its own tab context so a
// crashed tab cannot poison a neighbouring target. Sessions are worker-owned,
// disposable, and recreated after a fatal failure rather than repaired.
package browser

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// ErrSessionDead marks the browser process or its control connection as
// unusable. The owner must discard the session and build a fresh one.
var ErrSessionDead = errors.New("browser: session dead")

type Options struct {
	Headless  bool
	UserAgent string
	ExecPath  string
}

// Factory builds a fresh session. Workers hold one and call it again whenever
// a fatal failure forces a session swap.
type Factory func(ctx context.Context) (*Session, error)

// NewFactory returns a Factory for the given options.
func NewFactory(opts Options) Factory {
	return func(ctx context.Context) (*Session, error) {
		return New(ctx, opts)
	}
}

// Session wraps one Chrome process behind a chromedp allocator.
type Session struct {
	browserCtx context.Context
	cancels    []context.CancelFunc
}

// New launches a browser and returns once it is responding.
func New(ctx context.Context, opts Options) (*Session, error) {
	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-notifications", true),
		chromedp.Flag("disable-popup-blocking", true),
	)
	if opts.UserAgent != "" {
		allocOpts = append(allocOpts, chromedp.UserAgent(opts.UserAgent))
	}
	if opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(opts.ExecPath))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, allocOpts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	// Start the process now so a broken Chrome install fails fast instead of
	// on the first target.
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, eris.Wrap(err, "browser: launch")
	}

	zap.L().Debug("browser: session started", zap.Bool("headless", opts.Headless))
	return &Session{
		browserCtx: browserCtx,
		cancels:    []context.CancelFunc{browserCancel, allocCancel},
	}, nil
}

// Healthy reports whether the underlying browser context is still live.
func (s *Session) Healthy() bool {
	return s != nil && s.browserCtx.Err() == nil
}

// NewPage opens a fresh tab. The page carries its own deadline; close it when
// the extraction finishes.
func (s *Session) NewPage(timeout time.Duration) *Page {
	tabCtx, tabCancel := chromedp.NewContext(s.browserCtx)
	timedCtx, timeCancel := context.WithTimeout(tabCtx, timeout)
	return &Page{ctx: timedCtx, cancels: []context.CancelFunc{timeCancel, tabCancel}}
}

// Close tears down the browser process.
func (s *Session) Close() {
	if s == nil {
		return
	}
	for _, cancel := range s.cancels {
		cancel()
	}
}

// Page is one tab with a bounded lifetime.
type Page struct {
	ctx     context.Context
	cancels []context.CancelFunc
}

func (p *Page) Navigate(url string) error {
	return p.run(chromedp.Navigate(url))
}

// WaitReady blocks until the selector resolves or the page deadline fires.
func (p *Page) WaitReady(sel string) error {
	return p.run(chromedp.WaitReady(sel, chromedp.ByQuery))
}

func (p *Page) Title() (string, error) {
	var title string
	err := p.run(chromedp.Title(&title))
	return title, err
}

// HTML returns the rendered document, post-JavaScript.
func (p *Page) HTML() (string, error) {
	var html string
	err := p.run(chromedp.OuterHTML("html", &html, chromedp.ByQuery))
	return html, err
}

// Text returns the visible text of the first node matching sel.
func (p *Page) Text(sel string) (string, error) {
	var text string
	err := p.run(chromedp.Text(sel, &text, chromedp.NodeVisible, chromedp.ByQuery))
	return text, err
}

// Attribute returns the named attribute of the first node matching sel.
func (p *Page) Attribute(sel, name string) (string, bool, error) {
	var val string
	var ok bool
	err := p.run(chromedp.AttributeValue(sel, name, &val, &ok, chromedp.ByQuery))
	return val, ok, err
}

func (p *Page) run(actions ...chromedp.Action) error {
	if err := chromedp.Run(p.ctx, actions...); err != nil {
		if IsFatal(err) {
			return eris.Wrap(ErrSessionDead, err.Error())
		}
		return err
	}
	return nil
}

func (p *Page) Close() {
	for _, cancel := range p.cancels {
		cancel()
	}
}

// IsFatal classifies an error as session-level breakage rather than a
// per-target hiccup. Deadline expiry on a tab is a target problem; a severed
// devtools connection is not.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrSessionDead) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	msg := err.Error()
	for _, marker := range []string{
		"websocket",
		"chrome failed to start",
		"context canceled",
		"process already finished",
		"connection refused",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
