package extract

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/require"
)

func parseDoc(t *testing.T, html string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)
	return doc
}

const structuredReviewPage = `<html><body>
<div class="review-item">
	<a href="/john_doe">John Doe</a>
	<div class="stars" aria-label="5 out of 5"></div>
	<p class="review-text">Great service! Delivered exactly what I asked for and on time.</p>
	<time datetime="2023-10-15">Oct 15, 2023</time>
	<img src="/flags/us.png" alt="United States">
</div>
<div class="review-item">
	<a href="/jane_s">Jane Smith</a>
	<div class="stars" aria-label="4 out of 5"></div>
	<p class="review-text">Good work overall, communication could have been a bit faster.</p>
	<time datetime="2023-10-10">Oct 10, 2023</time>
</div>
</body></html>`

func TestScoreDocument_StructuralSelectors(t *testing.T) {
	t.Parallel()

	records := ScoreDocument(parseDoc(t, structuredReviewPage), nil)
	require.Len(t, records, 2)

	require.Equal(t, "john_doe", records[0].Reviewer)
	require.Equal(t, 5, records[0].Rating)
	require.Equal(t, "Great service! Delivered exactly what I asked for and on time.", records[0].Text)
	require.Equal(t, "2023-10-15", records[0].Date)
	require.Equal(t, "United States", records[0].Country)

	require.Equal(t, "jane_s", records[1].Reviewer)
	require.Equal(t, 4, records[1].Rating)
	require.Equal(t, "", records[1].Country)
}

const classVocabularyPage = `<html><body>
<div class="feedback-entry">
	<span class="username">alice_w</span>
	<span class="star-fill"></span><span class="star-fill"></span>
	<span class="star-fill"></span><span class="star-fill"></span>
	<p>Very professional and quick turnaround, highly recommend this seller.</p>
	<span class="date">October 2023</span>
	<b class="country">Canada</b>
</div>
</body></html>`

func TestScoreDocument_ClassVocabularyFallback(t *testing.T) {
	t.Parallel()

	records := ScoreDocument(parseDoc(t, classVocabularyPage), nil)
	require.Len(t, records, 1)
	require.Equal(t, "alice_w", records[0].Reviewer)
	require.Equal(t, 4, records[0].Rating)
	require.Equal(t, "Very professional and quick turnaround, highly recommend this seller.", records[0].Text)
	require.Equal(t, "October 2023", records[0].Date)
	require.Equal(t, "Canada", records[0].Country)
}

const textSignalPage = `<html><body>
<div>
	<span>★★★★★</span>
	<p>Maria Garcia left this note: amazing work, 5 out of 5, would recommend to anyone needing quality design.</p>
</div>
</body></html>`

func TestScoreDocument_TextSignalFallback(t *testing.T) {
	t.Parallel()

	records := ScoreDocument(parseDoc(t, textSignalPage), nil)
	require.Len(t, records, 1)
	require.Equal(t, "Maria Garcia", records[0].Reviewer)
	require.Equal(t, 5, records[0].Rating)
	require.NotEmpty(t, records[0].Text)
}

func TestScoreDocument_CascadeShortCircuits(t *testing.T) {
	t.Parallel()

	// A tier-1 match must stop the cascade before the class-vocabulary tier
	// can see the feedback entry.
	page := `<html><body>
<div class="review-item">
	<a href="/tier_one">x</a>
	<div aria-label="3 out of 5"></div>
	<p class="review-text">Solid delivery, did what was promised without any fuss.</p>
</div>
<div class="feedback-entry">
	<span class="username">tier_two</span>
	<span class="star-fill"></span>
	<p>Should never be scored while a structural selector matches the page.</p>
</div>
</body></html>`

	records := ScoreDocument(parseDoc(t, page), nil)
	require.Len(t, records, 1)
	require.Equal(t, "tier_one", records[0].Reviewer)
}

func TestScoreDocument_MissingReviewerNeverEmitted(t *testing.T) {
	t.Parallel()

	page := `<html><body>
<div class="review-item">
	<div class="stars" aria-label="4 out of 5"></div>
	<p class="review-text">This is long enough anonymous text that rating and body are both valid.</p>
</div>
</body></html>`

	require.Empty(t, ScoreDocument(parseDoc(t, page), nil))
}

func TestScoreDocument_LooseKeySuppressesNearDuplicates(t *testing.T) {
	t.Parallel()

	page := `<html><body>
<div class="review-item">
	<a href="/sam_k">s</a>
	<div aria-label="5 out of 5"></div>
	<p class="review-text">The delivery was fast and the quality was excellent, thank you again.</p>
</div>
<div class="review-card">
	<a href="/sam_k">s</a>
	<div aria-label="5 out of 5"></div>
	<p class="review-text">The delivery was fast and the quality was excellent, thanks once more.</p>
</div>
</body></html>`

	records := ScoreDocument(parseDoc(t, page), nil)
	require.Len(t, records, 1)
}

func TestCandidates_DedupedBySerializedContent(t *testing.T) {
	t.Parallel()

	// The same node matched by two structural selectors must score once.
	page := `<html><body>
<div class="review-item" data-testid="review-1">
	<a href="/dup_user">d</a>
	<div aria-label="5 out of 5"></div>
	<p class="review-text">Identical node reached through two different selectors in tier one.</p>
</div>
</body></html>`

	doc := parseDoc(t, page)
	require.Len(t, Candidates(doc), 1)
	require.Len(t, ScoreDocument(doc, nil), 1)
}

func TestScoreDocument_EmptyPage(t *testing.T) {
	t.Parallel()

	require.Empty(t, ScoreDocument(parseDoc(t, "<html><body><p>nothing here</p></body></html>"), nil))
}

func TestChallengeSuspected(t *testing.T) {
	t.Parallel()

	require.True(t, ChallengeSuspected("Please verify you are Human"))
	require.True(t, ChallengeSuspected("A quick touch of verification"))
	require.True(t, ChallengeSuspected("CAPTCHA required"))
	require.True(t, ChallengeSuspected("Security check in progress"))
	require.False(t, ChallengeSuspected("Logo design reviews"))
	require.False(t, ChallengeSuspected(""))
}
