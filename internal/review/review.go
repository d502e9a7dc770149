// Package review defines the record model shared by both extraction tiers.
package review

// Review is a single extracted review. Records are immutable once built;
// filtering and deduplication replace slices rather than mutating entries.
type Review struct {
	Reviewer string `json:"reviewer"`
	Rating   int    `json:"rating"`
	Text     string `json:"text"`
	Date     string `json:"date"`
	Country  string `json:"country,omitempty"`
}

// Admissible reports whether the record carries the minimum fields required
// to surface it. Inadmissible candidates are dropped at extraction time.
func (r Review) Admissible() bool {
	return r.Reviewer != "" && r.Rating > 0 && r.Text != ""
}

type identity struct {
	reviewer string
	text     string
	date     string
}

// Dedupe collapses records representing the same underlying review, keyed by
// the exact (reviewer, text, date) tuple. Order is preserved and the first
// occurrence wins; kept records are returned unmodified.
func Dedupe(records []Review) []Review {
	if len(records) == 0 {
		return records
	}
	seen := make(map[identity]struct{}, len(records))
	out := make([]Review, 0, len(records))
	for _, r := range records {
		key := identity{reviewer: r.Reviewer, text: r.Text, date: r.Date}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, r)
	}
	return out
}

// LooseKey builds the relaxed identity used during a scoring pass to
// suppress near-duplicate candidates produced by overlapping selectors:
// reviewer plus the first 30 characters of the text.
func LooseKey(reviewer, text string) string {
	runes := []rune(text)
	if len(runes) > 30 {
		runes = runes[:30]
	}
	return reviewer + "|" + string(runes)
}
