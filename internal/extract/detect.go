package extract

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// containerSelectors are known structural patterns for review containers,
// in priority order. Unlike the fallback tiers, every selector that matches
// contributes candidates.
var containerSelectors = []string{
	`[class*="review-item"]`,
	`[class*="review-card"]`,
	`[class*="review_card"]`,
	`[data-testid*="review"]`,
	`[data-review-id]`,
	`[itemprop="review"]`,
	`ul[class*="review"] > li`,
	`[class*="reviews"] article`,
}

// classVocabulary drives the second detection tier: generic containers whose
// class attribute mentions a review-adjacent term.
var classVocabulary = []string{"review", "feedback", "testimonial", "comment", "rating-item"}

// starSignals and sentimentKeywords drive the third, content-based tier.
var starSignals = []string{"★", "⭐", "out of 5", "stars"}

var sentimentKeywords = []string{
	"great", "good", "excellent", "amazing", "recommend", "professional",
	"quality", "delivered", "experience", "helpful", "poor", "disappointing",
}

// minTextTierLength keeps the content-based tier from flagging navigation
// chrome that happens to mention stars.
const minTextTierLength = 80

const genericContainers = "div, li, article, section"

// detectRule locates review-like substructures in a parsed snapshot.
// Rules are evaluated in order and the cascade short-circuits on the first
// rule that yields anything.
type detectRule func(doc *goquery.Document) []*goquery.Selection

var detectCascade = []detectRule{
	byContainerSelectors,
	byClassVocabulary,
	byTextSignals,
}

// Candidates returns the review candidates of doc, deduplicated by raw
// serialized content so overlapping selectors never score a node twice.
func Candidates(doc *goquery.Document) []*goquery.Selection {
	for _, rule := range detectCascade {
		if found := rule(doc); len(found) > 0 {
			return dedupeBySerialization(found)
		}
	}
	return nil
}

func byContainerSelectors(doc *goquery.Document) []*goquery.Selection {
	var found []*goquery.Selection
	for _, selector := range containerSelectors {
		doc.Find(selector).Each(func(_ int, sel *goquery.Selection) {
			found = append(found, sel)
		})
	}
	return found
}

func byClassVocabulary(doc *goquery.Document) []*goquery.Selection {
	var found []*goquery.Selection
	doc.Find(genericContainers).Each(func(_ int, sel *goquery.Selection) {
		class, ok := sel.Attr("class")
		if !ok {
			return
		}
		class = strings.ToLower(class)
		for _, term := range classVocabulary {
			if strings.Contains(class, term) {
				found = append(found, sel)
				return
			}
		}
	})
	return found
}

func byTextSignals(doc *goquery.Document) []*goquery.Selection {
	var found []*goquery.Selection
	doc.Find(genericContainers).Each(func(_ int, sel *goquery.Selection) {
		text := strings.TrimSpace(sel.Text())
		if len(text) < minTextTierLength {
			return
		}
		lower := strings.ToLower(text)
		if !containsAny(lower, starSignals) || !containsAny(lower, sentimentKeywords) {
			return
		}
		found = append(found, sel)
	})
	return found
}

func dedupeBySerialization(sels []*goquery.Selection) []*goquery.Selection {
	seen := make(map[string]struct{}, len(sels))
	out := make([]*goquery.Selection, 0, len(sels))
	for _, sel := range sels {
		html, err := goquery.OuterHtml(sel)
		if err != nil {
			continue
		}
		if _, dup := seen[html]; dup {
			continue
		}
		seen[html] = struct{}{}
		out = append(out, sel)
	}
	return out
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, strings.ToLower(n)) {
			return true
		}
	}
	return false
}
