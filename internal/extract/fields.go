package extract

import (
	"math"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/reviewgrab/reviewgrab/internal/review"
)

// fieldStrategy extracts one field value from a candidate, returning ""
// when the strategy does not apply. Strategies are tried in order until one
// yields a non-empty value.
type fieldStrategy func(sel *goquery.Selection) string

func firstNonEmpty(sel *goquery.Selection, strategies []fieldStrategy) string {
	for _, strategy := range strategies {
		if v := strategy(sel); v != "" {
			return v
		}
	}
	return ""
}

// extractReview assembles a record from one candidate. The zero Review is
// returned when required fields cannot be recovered; the caller drops it via
// the admissibility check.
func extractReview(sel *goquery.Selection) review.Review {
	return review.Review{
		Reviewer: firstNonEmpty(sel, reviewerStrategies),
		Rating:   extractRating(sel),
		Text:     extractText(sel),
		Date:     extractDate(sel),
		Country:  extractCountry(sel),
	}
}

// Reviewer.

var reviewerStrategies = []fieldStrategy{
	reviewerFromProfileLink,
	reviewerFromSelectors,
	reviewerFromCapitalizedPair,
	reviewerFromTokenScan,
}

var profilePathMarkers = []string{"/user", "/profile", "/member", "/buyer"}

var reviewerSelectors = []string{
	`[class*="username"]`,
	`[class*="user-name"]`,
	`[class*="reviewer"]`,
	`[class*="author"]`,
	`[data-testid*="user"]`,
	`[itemprop="author"]`,
}

func reviewerFromProfileLink(sel *goquery.Selection) string {
	var name string
	sel.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		href, _ := a.Attr("href")
		u, err := url.Parse(href)
		if err != nil {
			return true
		}
		path := strings.Trim(u.Path, "/")
		if path == "" {
			return true
		}
		segments := strings.Split(path, "/")
		if !containsAny(strings.ToLower(u.Path), profilePathMarkers) && len(segments) != 1 {
			return true
		}
		candidate := segments[len(segments)-1]
		if candidate == "" || strings.ContainsAny(candidate, ".?=&") {
			return true
		}
		name = candidate
		return false
	})
	return name
}

func reviewerFromSelectors(sel *goquery.Selection) string {
	for _, selector := range reviewerSelectors {
		text := strings.TrimSpace(sel.Find(selector).First().Text())
		if text != "" && len(text) <= 40 {
			return text
		}
	}
	return ""
}

var capitalizedPairRe = regexp.MustCompile(`\b[A-Z][a-z]+ [A-Z][a-z]+\b`)

func reviewerFromCapitalizedPair(sel *goquery.Selection) string {
	return capitalizedPairRe.FindString(sel.Text())
}

// reviewerStoplist holds capitalized tokens that are UI chrome or ordinary
// sentence-starters rather than names.
var reviewerStoplist = map[string]struct{}{
	"show": {}, "more": {}, "see": {}, "all": {}, "load": {}, "view": {},
	"review": {}, "reviews": {}, "helpful": {}, "report": {}, "star": {},
	"stars": {}, "rating": {}, "rated": {}, "verified": {}, "published": {},
	"posted": {}, "reply": {}, "read": {}, "the": {}, "this": {},
	"that": {}, "with": {}, "very": {}, "great": {}, "good": {},
	"excellent": {}, "amazing": {}, "thank": {}, "thanks": {},
}

var tokenRe = regexp.MustCompile(`^[A-Z][A-Za-z0-9_]{2,19}$`)

func reviewerFromTokenScan(sel *goquery.Selection) string {
	for _, token := range strings.Fields(sel.Text()) {
		token = strings.Trim(token, ".,;:!?\"'()")
		if !tokenRe.MatchString(token) {
			continue
		}
		if strings.ContainsAny(token, "0123456789") {
			continue
		}
		lower := strings.ToLower(token)
		if _, stopped := reviewerStoplist[lower]; stopped {
			continue
		}
		if isCountryWord(lower) {
			continue
		}
		return token
	}
	return ""
}

// Rating.

var outOfRe = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*out of\s*(\d+(?:\.\d+)?)`)

func extractRating(sel *goquery.Selection) int {
	if r := ratingFromAriaLabel(sel); r > 0 {
		return r
	}
	if r := ratingFromFilledChildren(sel); r > 0 {
		return r
	}
	return ratingFromText(sel)
}

func ratingFromAriaLabel(sel *goquery.Selection) int {
	var rating int
	labeled := sel.Find(`[aria-label]`).AddSelection(sel)
	labeled.EachWithBreak(func(_ int, s *goquery.Selection) bool {
		label, ok := s.Attr("aria-label")
		if !ok {
			return true
		}
		if r := parseOutOf(label); r > 0 {
			rating = r
			return false
		}
		return true
	})
	return rating
}

// filledMarkers flag star glyph elements rendered in their "on" state.
var filledMarkers = []string{`[class*="fill"]`, `[class*="active"]`, `[class*="full"]`}

func ratingFromFilledChildren(sel *goquery.Selection) int {
	count := sel.Find(strings.Join(filledMarkers, ", ")).Length()
	if count > 5 {
		count = 5
	}
	return count
}

func ratingFromText(sel *goquery.Selection) int {
	return parseOutOf(sel.Text())
}

func parseOutOf(s string) int {
	m := outOfRe.FindStringSubmatch(strings.ToLower(s))
	if m == nil {
		return 0
	}
	value, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0
	}
	rating := int(math.Round(value))
	if rating < 0 {
		return 0
	}
	if rating > 5 {
		rating = 5
	}
	return rating
}

// Text.

var textSelectors = []string{
	`[class*="review-text"]`,
	`[class*="review-body"]`,
	`[class*="review-description"]`,
	`[itemprop="reviewBody"]`,
	`[class*="comment-body"]`,
	"blockquote",
	"p",
}

// revealPhrases appear in reveal controls, not review prose; a body that
// contains one is a mis-selected wrapper.
var revealPhrases = []string{"show more", "load more", "see all", "view all"}

const (
	textMinLength        = 20
	textMaxLength        = 1200
	textRelaxedMinLength = 10
)

func extractText(sel *goquery.Selection) string {
	for _, selector := range textSelectors {
		var match string
		sel.Find(selector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			text := strings.TrimSpace(s.Text())
			if len(text) <= textMinLength || len(text) > textMaxLength {
				return true
			}
			if containsAny(strings.ToLower(text), revealPhrases) {
				return true
			}
			match = text
			return false
		})
		if match != "" {
			return match
		}
	}

	// Relaxed fallback: the first paragraph-like element of any plausible size.
	var fallback string
	sel.Find("p, blockquote").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text := strings.TrimSpace(s.Text())
		if len(text) <= textRelaxedMinLength || len(text) > textMaxLength {
			return true
		}
		if containsAny(strings.ToLower(text), revealPhrases) {
			return true
		}
		fallback = text
		return false
	})
	return fallback
}

// Date.

var dateTextSelectors = []string{
	"time",
	`[class*="date"]`,
	`[data-testid*="date"]`,
	`[class*="posted"]`,
}

func extractDate(sel *goquery.Selection) string {
	// Machine-readable attribute beats display text.
	if dt, ok := sel.Find("time[datetime]").First().Attr("datetime"); ok && dt != "" {
		return dt
	}
	for _, selector := range dateTextSelectors {
		text := strings.TrimSpace(sel.Find(selector).First().Text())
		if text != "" && len(text) <= 40 {
			return text
		}
	}
	return ""
}

// Country.

var countryTextSelectors = []string{
	`[class*="country"]`,
	`[class*="location"]`,
	`[data-testid*="country"]`,
}

func extractCountry(sel *goquery.Selection) string {
	flags := sel.Find(`img[src*="flag"], img[class*="flag"], [class*="flag"] img`)
	var country string
	flags.EachWithBreak(func(_ int, img *goquery.Selection) bool {
		if alt, ok := img.Attr("alt"); ok && strings.TrimSpace(alt) != "" {
			country = strings.TrimSpace(alt)
			return false
		}
		if title, ok := img.Attr("title"); ok && strings.TrimSpace(title) != "" {
			country = strings.TrimSpace(title)
			return false
		}
		return true
	})
	if country != "" {
		return country
	}
	for _, selector := range countryTextSelectors {
		text := strings.TrimSpace(sel.Find(selector).First().Text())
		if text != "" && len(text) <= 40 {
			return text
		}
	}
	return ""
}

// countryNames backs both the country field and the reviewer token
// rejection list.
var countryNames = []string{
	"United States", "United Kingdom", "Canada", "Germany", "France",
	"Australia", "India", "Brazil", "Italy", "Spain", "Netherlands",
	"Pakistan", "Nigeria", "Kenya", "Bangladesh", "Ukraine", "Poland",
	"Turkey", "Egypt", "Morocco", "Israel", "Japan", "China", "Mexico",
	"Argentina", "Portugal", "Romania", "Vietnam", "Philippines",
	"Indonesia", "Thailand", "Greece",
}

var countryWords = func() map[string]struct{} {
	words := make(map[string]struct{})
	for _, name := range countryNames {
		for _, w := range strings.Fields(strings.ToLower(name)) {
			words[w] = struct{}{}
		}
	}
	return words
}()

func isCountryWord(lower string) bool {
	_, ok := countryWords[lower]
	return ok
}
