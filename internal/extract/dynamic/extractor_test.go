package dynamic

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/reviewgrab/reviewgrab/internal/extract"
	"github.com/reviewgrab/reviewgrab/internal/metrics"
)

// fakeSession scripts a session's behavior per probe. Evaluate dispatches
// on the exact expression the extractor sends.
type fakeSession struct {
	navErr error

	titles   []string
	titleIdx int

	clicks   []bool
	clickIdx int

	html    string
	htmlErr error

	closed      bool
	screenshots int
}

func (f *fakeSession) Navigate(_ context.Context, _ string) error {
	return f.navErr
}

func (f *fakeSession) Title(_ context.Context) (string, error) {
	if len(f.titles) == 0 {
		return "", nil
	}
	if f.titleIdx >= len(f.titles) {
		return f.titles[len(f.titles)-1], nil
	}
	t := f.titles[f.titleIdx]
	f.titleIdx++
	return t, nil
}

func (f *fakeSession) Evaluate(_ context.Context, expression string, out any) error {
	switch expression {
	case scrollToReviewsScript:
		return nil
	case clickRevealControlScript:
		clicked := false
		if f.clickIdx < len(f.clicks) {
			clicked = f.clicks[f.clickIdx]
			f.clickIdx++
		}
		if p, ok := out.(*bool); ok {
			*p = clicked
		}
		return nil
	case metaDescriptionScript:
		if p, ok := out.(*string); ok {
			*p = ""
		}
		return nil
	default:
		return errors.New("unexpected expression")
	}
}

func (f *fakeSession) HTML(_ context.Context) (string, error) {
	return f.html, f.htmlErr
}

func (f *fakeSession) Screenshot(_ context.Context) ([]byte, error) {
	f.screenshots++
	return []byte{0x89, 0x50}, nil
}

func (f *fakeSession) Close() {
	f.closed = true
}

type fakeFactory struct {
	session Session
	err     error
}

func (f *fakeFactory) NewSession(_ context.Context, _ string) (Session, error) {
	return f.session, f.err
}

func fastConfig() Config {
	return Config{
		NavigationTimeout: time.Second,
		SettleDelay:       time.Millisecond,
		RevealSettleDelay: time.Millisecond,
		ChallengeWaitMax:  20 * time.Millisecond,
		ChallengePoll:     2 * time.Millisecond,
		RevealMaxIters:    3,
	}
}

const renderedReviewPage = `<html><head><title>Logo design reviews</title></head><body>
<div class="review-item">
	<a href="/buyer_one">b</a>
	<div class="stars" aria-label="5 out of 5"></div>
	<p class="review-text">Fantastic experience, the final files were exactly what I needed.</p>
	<time datetime="2024-01-05">Jan 5, 2024</time>
</div>
</body></html>`

func TestExtract_HappyPath(t *testing.T) {
	metrics.Init()

	session := &fakeSession{
		titles: []string{"Logo design reviews"},
		html:   renderedReviewPage,
	}
	e := newExtractor(&fakeFactory{session: session}, fastConfig(), nil)

	records, err := e.Extract(context.Background(), "https://www.fiverr.com/gig")
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "buyer_one", records[0].Reviewer)
	require.Equal(t, 5, records[0].Rating)
	require.True(t, session.closed, "session must be released on success")
}

func TestExtract_SessionOpenFailure(t *testing.T) {
	metrics.Init()

	e := newExtractor(&fakeFactory{err: errors.New("no tab")}, fastConfig(), nil)
	_, err := e.Extract(context.Background(), "https://www.fiverr.com/gig")
	require.Error(t, err)
	require.Equal(t, extract.KindNavigationFailure, extract.KindOf(err))
}

func TestExtract_NavigateFailureClosesSessionAndSnapshots(t *testing.T) {
	metrics.Init()

	session := &fakeSession{navErr: errors.New("net::ERR_NAME_NOT_RESOLVED")}
	e := newExtractor(&fakeFactory{session: session}, fastConfig(), nil)

	_, err := e.Extract(context.Background(), "https://www.fiverr.com/gig")
	require.Error(t, err)
	require.Equal(t, extract.KindNavigationFailure, extract.KindOf(err))
	require.True(t, session.closed, "session must be released on failure")
	require.Equal(t, 1, session.screenshots)
}

func TestDrive_RevealLoopNaturalExit(t *testing.T) {
	metrics.Init()

	session := &fakeSession{
		titles: []string{"Logo design reviews"},
		clicks: []bool{true, false},
		html:   renderedReviewPage,
	}
	e := newExtractor(&fakeFactory{session: session}, fastConfig(), nil)

	res, err := e.drive(context.Background(), session, "https://www.fiverr.com/gig")
	require.NoError(t, err)
	require.Equal(t, StateDone, res.state)
	require.False(t, res.challengeDetected)
	require.Equal(t, revealExitNoControl, res.revealExit)
	require.Equal(t, 2, res.revealIterations)
}

func TestDrive_RevealLoopCeiling(t *testing.T) {
	metrics.Init()

	session := &fakeSession{
		titles: []string{"Logo design reviews"},
		clicks: []bool{true, true, true, true, true},
		html:   renderedReviewPage,
	}
	e := newExtractor(&fakeFactory{session: session}, fastConfig(), nil)

	res, err := e.drive(context.Background(), session, "https://www.fiverr.com/gig")
	require.NoError(t, err)
	require.Equal(t, StateDone, res.state)
	require.Equal(t, revealExitCeiling, res.revealExit)
	require.Equal(t, 3, res.revealIterations)
}

func TestDrive_ChallengeResolved(t *testing.T) {
	metrics.Init()

	// First check sees the interstitial; the poll sees the real page.
	session := &fakeSession{
		titles: []string{"Verify you are Human", "Logo design reviews"},
		html:   renderedReviewPage,
	}
	e := newExtractor(&fakeFactory{session: session}, fastConfig(), nil)

	res, err := e.drive(context.Background(), session, "https://www.fiverr.com/gig")
	require.NoError(t, err)
	require.Equal(t, StateDone, res.state)
	require.True(t, res.challengeDetected)
	require.True(t, res.challengeResolved)
}

func TestDrive_ChallengeUnresolvedProceedsBestEffort(t *testing.T) {
	metrics.Init()

	session := &fakeSession{
		titles: []string{"Security check in progress"},
		html:   "<html><head><title>Security check in progress</title></head><body></body></html>",
	}
	e := newExtractor(&fakeFactory{session: session}, fastConfig(), nil)

	res, err := e.drive(context.Background(), session, "https://www.fiverr.com/gig")
	require.NoError(t, err)
	require.Equal(t, StateDone, res.state)
	require.True(t, res.challengeDetected)
	require.False(t, res.challengeResolved)
	require.NotEmpty(t, res.html)
}

func TestDrive_ChallengePathSkipsRevealLoop(t *testing.T) {
	metrics.Init()

	session := &fakeSession{
		titles: []string{"CAPTCHA required", "Logo design reviews"},
		clicks: []bool{true, true},
		html:   renderedReviewPage,
	}
	e := newExtractor(&fakeFactory{session: session}, fastConfig(), nil)

	res, err := e.drive(context.Background(), session, "https://www.fiverr.com/gig")
	require.NoError(t, err)
	require.Zero(t, res.revealIterations)
	require.Zero(t, session.clickIdx, "reveal control must not be probed on the challenge path")
}

func TestDrive_CancelledContext(t *testing.T) {
	metrics.Init()

	session := &fakeSession{
		titles: []string{"Logo design reviews"},
		html:   renderedReviewPage,
	}
	e := newExtractor(&fakeFactory{session: session}, fastConfig(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := e.drive(ctx, session, "https://www.fiverr.com/gig")
	require.Error(t, err)
	require.Equal(t, StateFailed, res.state)
}

func TestConfigWithDefaults(t *testing.T) {
	t.Parallel()

	cfg := Config{}.withDefaults()
	require.Equal(t, 45*time.Second, cfg.NavigationTimeout)
	require.Equal(t, 2*time.Minute, cfg.ChallengeWaitMax)
	require.Equal(t, 50, cfg.RevealMaxIters)
	require.NotEmpty(t, cfg.UserAgent)
}
