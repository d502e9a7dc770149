// Package static fetches a document once and scores its DOM. Static
// documents cannot be revealed further, so there is no interaction loop.
package static

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/reviewgrab/reviewgrab/internal/extract"
	"github.com/reviewgrab/reviewgrab/internal/review"
)

// Config controls fetch behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
}

// Extractor is the static extraction tier.
type Extractor struct {
	baseCollector *colly.Collector
	logger        *zap.Logger
}

// New builds the static tier.
func New(cfg Config, logger *zap.Logger) *Extractor {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	base := colly.NewCollector(colly.UserAgent(cfg.UserAgent))
	base.IgnoreRobotsTxt = true
	base.AllowURLRevisit = true
	base.SetRequestTimeout(cfg.Timeout)
	base.WithTransport(&http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout: 10 * time.Second,
		MaxIdleConns:        32,
		IdleConnTimeout:     30 * time.Second,
	})

	return &Extractor{baseCollector: base, logger: logger}
}

// Extract fetches rawURL and scores the resulting document. A challenge
// page served statically has no real content to score, so it yields an
// empty result rather than noise.
func (e *Extractor) Extract(ctx context.Context, rawURL string) ([]review.Review, error) {
	body, err := e.fetch(ctx, rawURL)
	if err != nil {
		return nil, extract.NewError(extract.KindFetchFailure, "document fetch failed", err)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, extract.NewError(extract.KindFetchFailure, "could not parse document", err)
	}

	title := strings.TrimSpace(doc.Find("title").First().Text())
	if extract.ChallengeSuspected(title) {
		e.logger.Info("static document is a challenge page, skipping scoring",
			zap.String("url", rawURL))
		return nil, nil
	}

	return extract.ScoreDocument(doc, e.logger), nil
}

func (e *Extractor) fetch(ctx context.Context, rawURL string) ([]byte, error) {
	collector := e.baseCollector.Clone()

	var (
		body     []byte
		fetchErr error
	)
	collector.OnResponse(func(r *colly.Response) {
		body = append([]byte(nil), r.Body...)
	})
	collector.OnError(func(_ *colly.Response, err error) {
		if err == nil {
			err = errors.New("unknown colly error")
		}
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(rawURL)
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return nil, fmt.Errorf("visit failed: %w", err)
		}
	}
	if fetchErr != nil {
		return nil, fmt.Errorf("response failed: %w", fetchErr)
	}
	if body == nil {
		return nil, errors.New("fetch produced no response")
	}
	return body, nil
}
