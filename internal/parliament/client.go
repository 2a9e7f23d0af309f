package parliament

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/oversightlabs/parlscan/internal/metrics"
	"github.com/oversightlabs/parlscan/internal/ratelimit"
)

// Endpoints holds the base URLs for each Parliament API. Overridable so tests
// can point the client at httptest servers.
type Endpoints struct {
	Hansard   string
	WrittenQS string
	Motions   string
	Bills     string
	Divisions string
	Members   string
}

// DefaultEndpoints returns the production Parliament API bases.
func DefaultEndpoints() Endpoints {
	return Endpoints{
		Hansard:   "https://hansard-api.parliament.uk",
		WrittenQS: "https://questions-statements-api.parliament.uk",
		Motions:   "https://oralquestionsandmotions-api.parliament.uk",
		Bills:     "https://bills-api.parliament.uk",
		Divisions: "https://commonsvotes-api.parliament.uk",
		Members:   "https://members-api.parliament.uk",
	}
}

// Config controls retry and pagination behavior for the client.
type Config struct {
	Endpoints Endpoints
	// Timeout bounds each individual HTTP call.
	Timeout time.Duration
	// MaxRetries bounds attempts within one logical fetch.
	MaxRetries int
	// MaxPages bounds pagination per source per keyword.
	MaxPages int
}

func (c *Config) applyDefaults() {
	if c.Endpoints == (Endpoints{}) {
		c.Endpoints = DefaultEndpoints()
	}
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.MaxPages <= 0 {
		c.MaxPages = 10
	}
}

// CancelCheck reports whether cooperative cancellation has been requested.
// Satisfied by scan.CancelToken.
type CancelCheck interface {
	Cancelled() bool
}

// Client talks to all six Parliament APIs through a shared per-host rate
// limiter. Safe for concurrent use.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *ratelimit.Registry
	logger  *zap.Logger
	sleep   func(ctx context.Context, d time.Duration) error

	cacheMu     sync.Mutex
	memberCache map[string]MemberInfo
}

// NewClient constructs a Client sharing the provided limiter registry.
func NewClient(cfg Config, limiter *ratelimit.Registry, logger *zap.Logger) *Client {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg: cfg,
		http: &http.Client{
			Timeout: cfg.Timeout,
		},
		limiter:     limiter,
		logger:      logger,
		sleep:       sleepCtx,
		memberCache: make(map[string]MemberInfo),
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// getJSON fetches rawURL with params and decodes the body into v. It retries
// transient failures with exponential backoff: HTTP 429 waits 2^(attempt+1)
// seconds, other HTTP or network errors wait 2^attempt, up to MaxRetries
// attempts. Exhaustion returns an error; callers degrade to empty results
// rather than failing the run.
func (c *Client) getJSON(ctx context.Context, rawURL string, params url.Values, v any) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parse url %q: %w", rawURL, err)
	}
	if len(params) > 0 {
		u.RawQuery = params.Encode()
	}

	var lastErr error
	for attempt := 0; attempt < c.cfg.MaxRetries; attempt++ {
		body, status, err := c.doOnce(ctx, u)
		switch {
		case err == nil && status == http.StatusOK:
			if err := json.Unmarshal(body, v); err != nil {
				return fmt.Errorf("decode %s: %w", u.Host, err)
			}
			return nil
		case err == nil && status == http.StatusTooManyRequests:
			wait := time.Duration(1<<(attempt+1)) * time.Second
			c.logger.Warn("rate limited, backing off",
				zap.String("host", u.Host), zap.Duration("wait", wait))
			lastErr = fmt.Errorf("http 429 from %s", u.Host)
			if err := c.sleep(ctx, wait); err != nil {
				return err
			}
		case err == nil:
			lastErr = fmt.Errorf("http %d from %s", status, u.Host)
			c.logger.Error("request failed", zap.String("url", u.Redacted()),
				zap.Int("status", status))
			if attempt < c.cfg.MaxRetries-1 {
				if err := c.sleep(ctx, time.Duration(1<<attempt)*time.Second); err != nil {
					return err
				}
			}
		default:
			if ctx.Err() != nil {
				return fmt.Errorf("fetch %s: %w", u.Host, ctx.Err())
			}
			lastErr = err
			c.logger.Error("request error", zap.String("url", u.Redacted()), zap.Error(err))
			if attempt < c.cfg.MaxRetries-1 {
				if err := c.sleep(ctx, time.Duration(1<<attempt)*time.Second); err != nil {
					return err
				}
			}
		}
	}
	return fmt.Errorf("fetch %s: retries exhausted: %w", u.Host, lastErr)
}

func (c *Client) doOnce(ctx context.Context, u *url.URL) (body []byte, status int, err error) {
	waitStart := time.Now()
	release, err := c.limiter.Acquire(ctx, u.Hostname())
	if err != nil {
		return nil, 0, err
	}
	defer release()
	metrics.ObserveRateLimitDelay(u.Hostname(), time.Since(waitStart))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("do request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	metrics.ObserveParliamentRequest(u.Hostname(), resp.StatusCode)
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("read body: %w", err)
	}
	return b, resp.StatusCode, nil
}

var (
	htmlTagRe    = regexp.MustCompile(`<[^>]+>`)
	whitespaceRe = regexp.MustCompile(`\s+`)
	slugStripRe  = regexp.MustCompile(`[^a-z0-9\s-]`)
	slugSpaceRe  = regexp.MustCompile(`\s+`)
)

// stripHTML removes markup and collapses whitespace. The Parliament APIs
// embed fragments of markup inside otherwise-JSON payloads.
func stripHTML(text string) string {
	clean := htmlTagRe.ReplaceAllString(text, "")
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(clean, " "))
}

func slugify(text string) string {
	slug := strings.ToLower(strings.TrimSpace(text))
	slug = slugStripRe.ReplaceAllString(slug, "")
	slug = slugSpaceRe.ReplaceAllString(slug, "-")
	return strings.Trim(slug, "-")
}

// parseAPIDate handles the ISO timestamps the Parliament APIs emit, falling
// back to now so a malformed date never drops an otherwise-valid record.
func parseAPIDate(s string) time.Time {
	s = strings.TrimSpace(s)
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Now().UTC()
}
