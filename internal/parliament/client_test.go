package parliament

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/oversightlabs/parlscan/internal/metrics"
	"github.com/oversightlabs/parlscan/internal/ratelimit"
)

func TestMain(m *testing.M) {
	metrics.Init()
	os.Exit(m.Run())
}

// newTestClient builds a client pointed at the given base URL for every
// source, with a no-op sleep that records requested backoff waits.
func newTestClient(t *testing.T, baseURL string) (*Client, *[]time.Duration) {
	t.Helper()
	limiter := ratelimit.New(ratelimit.Config{MaxInflight: 4, RPS: 1000, Burst: 100})
	c := NewClient(Config{
		Endpoints: Endpoints{
			Hansard:   baseURL,
			WrittenQS: baseURL,
			Motions:   baseURL,
			Bills:     baseURL,
			Divisions: baseURL,
			Members:   baseURL,
		},
		Timeout:    5 * time.Second,
		MaxRetries: 3,
		MaxPages:   10,
	}, limiter, zap.NewNop())

	waits := &[]time.Duration{}
	c.sleep = func(_ context.Context, d time.Duration) error {
		*waits = append(*waits, d)
		return nil
	}
	return c, waits
}

func TestGetJSONRetriesRateLimitWithLongerBackoff(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"TotalContributions":0,"Contributions":[]}`))
	}))
	defer ts.Close()

	c, waits := newTestClient(t, ts.URL)
	found, err := c.SearchDebates(context.Background(), "housing", DateRange{From: "2026-01-01", To: "2026-01-31"})
	require.NoError(t, err)
	require.Empty(t, found)
	require.EqualValues(t, 3, calls.Load())
	// 429 waits double starting from 2s.
	require.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, *waits)
}

func TestGetJSONRetriesServerErrorsWithShorterBackoff(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`{"TotalContributions":0,"Contributions":[]}`))
	}))
	defer ts.Close()

	c, waits := newTestClient(t, ts.URL)
	_, err := c.SearchDebates(context.Background(), "housing", DateRange{From: "2026-01-01", To: "2026-01-31"})
	require.NoError(t, err)
	require.Equal(t, []time.Duration{1 * time.Second, 2 * time.Second}, *waits)
}

func TestGetJSONExhaustsRetries(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	c, _ := newTestClient(t, ts.URL)
	_, err := c.SearchDebates(context.Background(), "housing", DateRange{From: "2026-01-01", To: "2026-01-31"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "retries exhausted")
	require.EqualValues(t, 3, calls.Load())
}

func TestGetJSONStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	c, _ := newTestClient(t, ts.URL)
	ctx, cancel := context.WithCancel(context.Background())
	c.sleep = func(context.Context, time.Duration) error {
		cancel()
		return ctx.Err()
	}

	_, err := c.SearchDebates(ctx, "housing", DateRange{From: "2026-01-01", To: "2026-01-31"})
	require.Error(t, err)
}

func TestStripHTML(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{"<p>The housing crisis</p>", "The housing crisis"},
		{"plain text", "plain text"},
		{"  spaced \n\n out  ", "spaced out"},
		{"<a href='x'>link</a> and <b>bold</b>", "link and bold"},
		{"", ""},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, stripHTML(tc.in), "input %q", tc.in)
	}
}

func TestSlugify(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{"Oral Answers to Questions", "oral-answers-to-questions"},
		{"Housing: Supply & Demand", "housing-supply-demand"},
		{"  Trimmed  ", "trimmed"},
		{"", ""},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, slugify(tc.in), "input %q", tc.in)
	}
}

func TestParseAPIDate(t *testing.T) {
	t.Parallel()

	got := parseAPIDate("2026-03-14T00:00:00")
	require.Equal(t, 2026, got.Year())
	require.Equal(t, time.March, got.Month())

	got = parseAPIDate("2026-03-14")
	require.Equal(t, 14, got.Day())

	// A malformed date falls back to now rather than dropping the record.
	got = parseAPIDate("not a date")
	require.WithinDuration(t, time.Now().UTC(), got, time.Minute)
}

func TestHansardURL(t *testing.T) {
	t.Parallel()

	link := hansardURL("Commons", "2026-03-14", "sec-1", "Oral Answers", "contrib-9")
	require.Equal(t,
		"https://hansard.parliament.uk/commons/2026-03-14/debates/sec-1/oral-answers#contribution-9",
		link)

	// Missing section falls back to the search link.
	link = hansardURL("Commons", "2026-03-14", "", "Oral Answers", "contrib-9")
	require.Equal(t,
		"https://hansard.parliament.uk/search/contribution?contributionId=contrib-9",
		link)

	require.Empty(t, hansardURL("Commons", "2026-03-14", "sec-1", "t", ""))
}
