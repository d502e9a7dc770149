// Package extract implements the multi-tier review extraction engine:
// shared candidate scoring, the orchestrated dynamic/static fallback policy,
// and the typed failure kinds surfaced to callers.
package extract

import (
	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/reviewgrab/reviewgrab/internal/review"
)

// ScoreDocument runs candidate detection and per-field extraction against a
// parsed DOM snapshot. Candidates that fail the admissibility rule are
// dropped silently; near-duplicates from overlapping selector matches are
// suppressed by the loose identity key. The returned records never hold
// references into doc.
func ScoreDocument(doc *goquery.Document, logger *zap.Logger) []review.Review {
	if logger == nil {
		logger = zap.NewNop()
	}

	candidates := Candidates(doc)
	seen := make(map[string]struct{}, len(candidates))
	var records []review.Review
	for _, sel := range candidates {
		rec := extractReview(sel)
		if !rec.Admissible() {
			continue
		}
		key := review.LooseKey(rec.Reviewer, rec.Text)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		records = append(records, rec)
	}

	logger.Debug("scored snapshot",
		zap.Int("candidates", len(candidates)),
		zap.Int("records", len(records)),
	)
	return records
}
