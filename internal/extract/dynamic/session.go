// Package dynamic drives a rendered-page session through progressive
// content reveal and challenge detection before scoring the live DOM.
package dynamic

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Session is a controllable view of a fully executed page. A session owns
// exactly one tab; Close releases it and must be called on every
// termination path.
type Session interface {
	Navigate(ctx context.Context, url string) error
	Title(ctx context.Context) (string, error)
	Evaluate(ctx context.Context, expression string, out any) error
	HTML(ctx context.Context) (string, error)
	Screenshot(ctx context.Context) ([]byte, error)
	Close()
}

// Browser owns the shared chromedp allocator that sessions are opened
// against.
type Browser struct {
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	userAgent     string
	perHostQPS    float64
	hostLimiters  sync.Map
	logger        *zap.Logger
}

// NewBrowser starts a headless browser process and warms it up.
func NewBrowser(cfg Config, logger *zap.Logger) (*Browser, error) {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.UserAgent(cfg.UserAgent),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("chromedp warmup: %w", err)
	}

	return &Browser{
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		userAgent:     cfg.UserAgent,
		perHostQPS:    cfg.PerHostQPS,
		logger:        logger,
	}, nil
}

// Close tears down the browser and allocator contexts.
func (b *Browser) Close() {
	if b == nil {
		return
	}
	b.browserCancel()
	b.allocCancel()
}

// NewSession opens one tab for rawURL, applying the per-host navigation
// budget before the tab is created.
func (b *Browser) NewSession(ctx context.Context, rawURL string) (Session, error) {
	if err := b.waitHostBudget(ctx, rawURL); err != nil {
		return nil, fmt.Errorf("navigation rate limit: %w", err)
	}
	tabCtx, tabCancel := chromedp.NewContext(b.browserCtx)
	return &chromedpSession{
		tabCtx:    tabCtx,
		tabCancel: tabCancel,
		userAgent: b.userAgent,
	}, nil
}

func (b *Browser) waitHostBudget(ctx context.Context, rawURL string) error {
	if b.perHostQPS <= 0 {
		return nil
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parse session url: %w", err)
	}
	host := strings.ToLower(parsed.Host)
	val, _ := b.hostLimiters.LoadOrStore(host, rate.NewLimiter(rate.Limit(b.perHostQPS), 1))
	limiter, ok := val.(*rate.Limiter)
	if !ok {
		return fmt.Errorf("unexpected limiter type %T", val)
	}
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("wait limiter: %w", err)
	}
	return nil
}

type chromedpSession struct {
	tabCtx    context.Context
	tabCancel context.CancelFunc
	userAgent string
}

func (s *chromedpSession) Navigate(ctx context.Context, rawURL string) error {
	return s.run(ctx,
		network.Enable(),
		emulation.SetUserAgentOverride(s.userAgent),
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
}

func (s *chromedpSession) Title(ctx context.Context) (string, error) {
	var title string
	if err := s.run(ctx, chromedp.Title(&title)); err != nil {
		return "", err
	}
	return title, nil
}

func (s *chromedpSession) Evaluate(ctx context.Context, expression string, out any) error {
	return s.run(ctx, chromedp.Evaluate(expression, out))
}

func (s *chromedpSession) HTML(ctx context.Context) (string, error) {
	var html string
	if err := s.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", err
	}
	return html, nil
}

func (s *chromedpSession) Screenshot(ctx context.Context) ([]byte, error) {
	var shot []byte
	err := s.run(ctx, chromedp.ActionFunc(func(cctx context.Context) error {
		buf, err := page.CaptureScreenshot().Do(cctx)
		if err != nil {
			return fmt.Errorf("capture screenshot: %w", err)
		}
		shot = buf
		return nil
	}))
	if err != nil {
		return nil, err
	}
	return shot, nil
}

func (s *chromedpSession) Close() {
	s.tabCancel()
}

// run executes actions on the tab context while honoring the caller
// context's deadline and cancellation. chromedp actions must run on a
// context descended from the tab, so the caller's ctx cannot be passed
// through directly.
func (s *chromedpSession) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(s.tabCtx)
	defer cancel()
	if deadline, ok := ctx.Deadline(); ok {
		runCtx, cancel = context.WithDeadline(runCtx, deadline)
		defer cancel()
	}
	stop := forwardCancel(ctx, cancel)
	defer stop()

	if err := chromedp.Run(runCtx, actions...); err != nil {
		return fmt.Errorf("chromedp run: %w", err)
	}
	return nil
}

func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
