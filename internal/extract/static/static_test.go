package static

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/reviewgrab/reviewgrab/internal/extract"
	"github.com/reviewgrab/reviewgrab/internal/metrics"
)

const staticReviewPage = `<html><head><title>Logo design reviews</title></head><body>
<div class="review-item">
	<a href="/buyer_two">b</a>
	<div class="stars" aria-label="4 out of 5"></div>
	<p class="review-text">Good communication throughout and a clean final deliverable.</p>
	<time datetime="2024-02-11">Feb 11, 2024</time>
</div>
</body></html>`

func newTestExtractor() *Extractor {
	return New(Config{UserAgent: "test-agent", Timeout: 5 * time.Second}, nil)
}

func TestExtract_Success(t *testing.T) {
	metrics.Init()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "test-agent", r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(staticReviewPage))
	}))
	defer srv.Close()

	records, err := newTestExtractor().Extract(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "buyer_two", records[0].Reviewer)
	require.Equal(t, 4, records[0].Rating)
	require.Equal(t, "2024-02-11", records[0].Date)
}

func TestExtract_ChallengePageYieldsEmpty(t *testing.T) {
	metrics.Init()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><head><title>Verify you are Human</title></head><body>
<div class="review-item"><a href="/ghost"></a>
<p class="review-text">Content behind the interstitial must not be scored here.</p></div>
</body></html>`))
	}))
	defer srv.Close()

	records, err := newTestExtractor().Extract(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Empty(t, records)
}

func TestExtract_ErrorStatus(t *testing.T) {
	metrics.Init()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := newTestExtractor().Extract(context.Background(), srv.URL)
	require.Error(t, err)
	require.Equal(t, extract.KindFetchFailure, extract.KindOf(err))
}

func TestExtract_UnreachableHost(t *testing.T) {
	metrics.Init()

	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := newTestExtractor().Extract(context.Background(), url)
	require.Error(t, err)
	require.Equal(t, extract.KindFetchFailure, extract.KindOf(err))
}

func TestExtract_CancelledContext(t *testing.T) {
	metrics.Init()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := newTestExtractor().Extract(ctx, srv.URL)
	require.Error(t, err)
	require.Equal(t, extract.KindFetchFailure, extract.KindOf(err))
}
