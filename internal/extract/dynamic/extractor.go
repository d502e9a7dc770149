package dynamic

import (
	"context"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/reviewgrab/reviewgrab/internal/extract"
	"github.com/reviewgrab/reviewgrab/internal/metrics"
	"github.com/reviewgrab/reviewgrab/internal/review"
)

// State names the phases of one render session.
type State string

// Session states. Failed is reachable from any state on a hard
// navigation or timeout error.
const (
	StateNavigating      State = "navigating"
	StateContentSettling State = "content_settling"
	StateChallengeCheck  State = "challenge_check"
	StateChallengeWait   State = "challenge_wait"
	StateRevealLoop      State = "reveal_loop"
	StateFinalSettle     State = "final_settle"
	StateScoring         State = "scoring"
	StateDone            State = "done"
	StateFailed          State = "failed"
)

// revealExit records which of the loop's two terminators fired.
type revealExit string

const (
	revealExitNoControl revealExit = "no_control"
	revealExitCeiling   revealExit = "ceiling"
)

// Config controls session pacing and bounds.
type Config struct {
	UserAgent         string
	NavigationTimeout time.Duration
	SettleDelay       time.Duration
	RevealSettleDelay time.Duration
	ChallengeWaitMax  time.Duration
	ChallengePoll     time.Duration
	RevealMaxIters    int
	PerHostQPS        float64
}

func (c Config) withDefaults() Config {
	if c.UserAgent == "" {
		c.UserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"
	}
	if c.NavigationTimeout <= 0 {
		c.NavigationTimeout = 45 * time.Second
	}
	if c.SettleDelay <= 0 {
		c.SettleDelay = 2 * time.Second
	}
	if c.RevealSettleDelay <= 0 {
		c.RevealSettleDelay = time.Second
	}
	if c.ChallengeWaitMax <= 0 {
		c.ChallengeWaitMax = 2 * time.Minute
	}
	if c.ChallengePoll <= 0 {
		c.ChallengePoll = 2 * time.Second
	}
	if c.RevealMaxIters <= 0 {
		c.RevealMaxIters = 50
	}
	return c
}

// sessionFactory lets tests substitute the browser.
type sessionFactory interface {
	NewSession(ctx context.Context, url string) (Session, error)
}

// Extractor is the dynamic extraction tier.
type Extractor struct {
	browser sessionFactory
	cfg     Config
	logger  *zap.Logger
}

// New builds the dynamic tier on top of a running browser.
func New(browser *Browser, cfg Config, logger *zap.Logger) *Extractor {
	return newExtractor(browser, cfg, logger)
}

func newExtractor(browser sessionFactory, cfg Config, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{browser: browser, cfg: cfg.withDefaults(), logger: logger}
}

// sessionResult captures where a session terminated and what it produced.
type sessionResult struct {
	state             State
	challengeDetected bool
	challengeResolved bool
	revealExit        revealExit
	revealIterations  int
	html              string
}

// Extract runs one full render session against url and scores the final
// DOM snapshot. An unresolved challenge is not an error: the session
// proceeds best-effort and an empty result falls through to the static
// tier at the orchestrator.
func (e *Extractor) Extract(ctx context.Context, url string) ([]review.Review, error) {
	session, err := e.browser.NewSession(ctx, url)
	if err != nil {
		return nil, extract.NewError(extract.KindNavigationFailure, "could not open render session", err)
	}
	metrics.IncActiveSessions()
	defer func() {
		// The session is released on every path; a leaked tab is an
		// automation-visible artifact, not just a resource leak.
		session.Close()
		metrics.DecActiveSessions()
	}()

	res, driveErr := e.drive(ctx, session, url)
	if driveErr != nil {
		e.snapshotFailure(session, url, res.state)
		return nil, extract.NewError(extract.KindNavigationFailure, "render session failed", driveErr)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(res.html))
	if err != nil {
		return nil, extract.NewError(extract.KindNavigationFailure, "could not parse rendered snapshot", err)
	}
	records := extract.ScoreDocument(doc, e.logger)

	e.logger.Info("dynamic session finished",
		zap.String("url", url),
		zap.Bool("challenge_detected", res.challengeDetected),
		zap.Bool("challenge_resolved", res.challengeResolved),
		zap.String("reveal_exit", string(res.revealExit)),
		zap.Int("reveal_iterations", res.revealIterations),
		zap.Int("records", len(records)),
	)
	return records, nil
}

func (e *Extractor) drive(ctx context.Context, session Session, url string) (sessionResult, error) {
	res := sessionResult{state: StateNavigating}

	navCtx, cancel := context.WithTimeout(ctx, e.cfg.NavigationTimeout)
	err := session.Navigate(navCtx, url)
	cancel()
	if err != nil {
		res.state = StateFailed
		return res, err
	}

	// The readiness gate above is a precondition for this delay, not a
	// substitute: first paint lags document readiness on script-heavy pages.
	res.state = StateContentSettling
	if err := sleepCtx(ctx, e.cfg.SettleDelay); err != nil {
		res.state = StateFailed
		return res, err
	}

	res.state = StateChallengeCheck
	if extract.ChallengeSuspected(e.challengeSignals(ctx, session)) {
		res.challengeDetected = true
		res.state = StateChallengeWait
		res.challengeResolved = e.waitChallenge(ctx, session)
		if res.challengeResolved {
			metrics.ObserveChallengeWait("resolved")
		} else {
			// Proceed anyway: a half-resolved challenge page may still be
			// partially usable, and an empty score falls through to static.
			metrics.ObserveChallengeWait("unresolved")
			e.logger.Warn("challenge wait exhausted, proceeding best-effort",
				zap.String("url", url))
		}
	} else {
		res.state = StateRevealLoop
		exit, iterations, err := e.revealLoop(ctx, session)
		if err != nil {
			res.state = StateFailed
			return res, err
		}
		res.revealExit = exit
		res.revealIterations = iterations
		metrics.ObserveRevealIterations(iterations)
	}

	res.state = StateFinalSettle
	if err := sleepCtx(ctx, e.cfg.SettleDelay); err != nil {
		res.state = StateFailed
		return res, err
	}

	res.state = StateScoring
	html, err := session.HTML(ctx)
	if err != nil {
		res.state = StateFailed
		return res, err
	}
	res.html = html
	res.state = StateDone
	return res, nil
}

// revealLoop scrolls toward the review region and activates reveal controls
// until none is found (natural terminator) or the iteration ceiling is hit
// (defensive terminator, never an error).
func (e *Extractor) revealLoop(ctx context.Context, session Session) (revealExit, int, error) {
	for i := 1; i <= e.cfg.RevealMaxIters; i++ {
		if err := session.Evaluate(ctx, scrollToReviewsScript, nil); err != nil {
			if ctx.Err() != nil {
				return "", i, ctx.Err()
			}
			e.logger.Debug("scroll probe failed", zap.Error(err))
		}

		var clicked bool
		if err := session.Evaluate(ctx, clickRevealControlScript, &clicked); err != nil {
			if ctx.Err() != nil {
				return "", i, ctx.Err()
			}
			e.logger.Debug("reveal probe failed", zap.Error(err))
			return revealExitNoControl, i, nil
		}
		if !clicked {
			return revealExitNoControl, i, nil
		}
		if err := sleepCtx(ctx, e.cfg.RevealSettleDelay); err != nil {
			return "", i, err
		}
	}
	return revealExitCeiling, e.cfg.RevealMaxIters, nil
}

func (e *Extractor) waitChallenge(ctx context.Context, session Session) bool {
	deadline := time.Now().Add(e.cfg.ChallengeWaitMax)
	for time.Now().Before(deadline) {
		if err := sleepCtx(ctx, e.cfg.ChallengePoll); err != nil {
			return false
		}
		if !extract.ChallengeSuspected(e.challengeSignals(ctx, session)) {
			return true
		}
	}
	return false
}

// challengeSignals gathers the page title and meta description. Probe
// errors yield empty signals rather than failing the session.
func (e *Extractor) challengeSignals(ctx context.Context, session Session) string {
	title, err := session.Title(ctx)
	if err != nil {
		e.logger.Debug("title probe failed", zap.Error(err))
	}
	var meta string
	if err := session.Evaluate(ctx, metaDescriptionScript, &meta); err != nil {
		e.logger.Debug("meta probe failed", zap.Error(err))
	}
	return title + " " + meta
}

// snapshotFailure captures a best-effort screenshot for operators. The
// request context may already be dead here, so the capture gets its own
// short deadline.
func (e *Extractor) snapshotFailure(session Session, url string, state State) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	shot, err := session.Screenshot(ctx)
	if err != nil {
		e.logger.Debug("failure screenshot unavailable", zap.Error(err))
		return
	}
	e.logger.Info("captured failure screenshot",
		zap.String("url", url),
		zap.String("state", string(state)),
		zap.Int("bytes", len(shot)),
	)
}

const scrollToReviewsScript = `(() => {
	const region = document.querySelector('[class*="review"], [id*="review"]');
	if (region) {
		region.scrollIntoView({block: 'end'});
	} else {
		window.scrollBy(0, window.innerHeight);
	}
	return true;
})()`

const clickRevealControlScript = `(() => {
	const phrases = ['show more', 'load more', 'see all', 'view all',
		'show more reviews', 'load more reviews', 'see all reviews'];
	const controls = Array.from(document.querySelectorAll('button, a, [role="button"]'));
	let target = controls.find(el =>
		phrases.includes((el.textContent || '').trim().toLowerCase()));
	if (!target) {
		target = document.querySelector(
			'[class*="show-more"], [class*="load-more"], [data-testid*="more"]');
	}
	if (!target || target.disabled) {
		return false;
	}
	target.click();
	return true;
})()`

const metaDescriptionScript = `(() => {
	const meta = document.querySelector('meta[name="description"]');
	return meta && meta.content ? meta.content : '';
})()`
