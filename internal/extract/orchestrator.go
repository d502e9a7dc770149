package extract

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/reviewgrab/reviewgrab/internal/metrics"
	"github.com/reviewgrab/reviewgrab/internal/review"
)

// Tier is one extraction strategy. A tier returning no records and no error
// is a valid empty result, not a failure.
type Tier interface {
	Extract(ctx context.Context, url string) ([]review.Review, error)
}

// Orchestrator runs the dynamic tier first and falls back to the static
// tier on empty or failed results. It is the only caller of deduplication.
type Orchestrator struct {
	dynamic Tier
	static  Tier
	logger  *zap.Logger
}

// NewOrchestrator wires the two tiers together.
func NewOrchestrator(dynamic, static Tier, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{dynamic: dynamic, static: static, logger: logger}
}

// Extract resolves url to a deduplicated record set.
//
// Dynamic extraction is authoritative when it produces data: it reflects
// post-interaction DOM state the static path cannot see, so a non-empty
// dynamic result returns without running the static tier. A dynamic error
// triggers the static tier as a recovery path; if both tiers error, the
// original dynamic error propagates, not the fallback's.
func (o *Orchestrator) Extract(ctx context.Context, url string) ([]review.Review, error) {
	start := time.Now()
	records, dynErr := o.dynamic.Extract(ctx, url)
	metrics.ObserveExtraction("dynamic", outcome(records, dynErr), len(records), time.Since(start))

	switch {
	case dynErr == nil && len(records) > 0:
		return review.Dedupe(records), nil
	case dynErr == nil:
		o.logger.Info("dynamic tier empty, trying static tier", zap.String("url", url))
	default:
		o.logger.Warn("dynamic tier failed, trying static tier",
			zap.String("url", url), zap.Error(dynErr))
	}

	start = time.Now()
	staticRecords, staticErr := o.static.Extract(ctx, url)
	metrics.ObserveExtraction("static", outcome(staticRecords, staticErr), len(staticRecords), time.Since(start))

	if staticErr != nil {
		if dynErr != nil {
			o.logger.Error("both extraction tiers failed",
				zap.String("url", url), zap.Error(staticErr))
			return nil, dynErr
		}
		// Dynamic ran clean but empty; a failed fallback does not turn a
		// valid empty result into an error.
		o.logger.Warn("static fallback failed after empty dynamic result",
			zap.String("url", url), zap.Error(staticErr))
		return nil, nil
	}
	if dynErr != nil {
		o.logger.Info("static fallback recovered from dynamic failure",
			zap.String("url", url), zap.Int("records", len(staticRecords)))
	}
	return review.Dedupe(staticRecords), nil
}

func outcome(records []review.Review, err error) string {
	switch {
	case err != nil:
		return "error"
	case len(records) == 0:
		return "empty"
	default:
		return "ok"
	}
}
