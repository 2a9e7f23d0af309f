package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/oversightlabs/parlscan/internal/parliament"
)

const (
	defaultBaseURL  = "https://api.anthropic.com"
	anthropicAPIVer = "2023-06-01"
	maxInputWords   = 500
	maxAttempts     = 3
)

// Config holds classifier connection settings.
type Config struct {
	APIKey  string
	Model   string
	BaseURL string
	// Timeout bounds each API call.
	Timeout time.Duration
}

// Classifier submits contributions to the Anthropic Messages API with a
// cached system prompt describing the monitored topics. Safe for concurrent
// use; one instance is built per scan run so it sees only that run's topics.
type Classifier struct {
	cfg          Config
	http         *http.Client
	systemPrompt string
	logger       *zap.Logger
	sleep        func(ctx context.Context, d time.Duration) error

	apiErrors atomic.Int64
}

// New builds a Classifier scoped to the given topic catalog
// (topic name -> keywords).
func New(cfg Config, topics map[string][]string, logger *zap.Logger) *Classifier {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.APIKey == "" {
		logger.Error("classifier api key is not set; classification will fail")
	}
	return &Classifier{
		cfg:          cfg,
		http:         &http.Client{Timeout: cfg.Timeout},
		systemPrompt: buildSystemPrompt(topics),
		logger:       logger,
		sleep: func(ctx context.Context, d time.Duration) error {
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-t.C:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	}
}

// APIErrors reports the number of persistent API failures observed so far.
func (c *Classifier) APIErrors() int64 {
	return c.apiErrors.Load()
}

type messagesRequest struct {
	Model     string        `json:"model"`
	MaxTokens int           `json:"max_tokens"`
	System    []systemBlock `json:"system"`
	Messages  []chatMessage `json:"messages"`
}

type systemBlock struct {
	Type         string        `json:"type"`
	Text         string        `json:"text"`
	CacheControl *cacheControl `json:"cache_control,omitempty"`
}

type cacheControl struct {
	Type string `json:"type"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesResponse struct {
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
}

type classificationJSON struct {
	IsRelevant      bool     `json:"is_relevant"`
	DiscardCategory string   `json:"discard_category"`
	DiscardReason   string   `json:"discard_reason"`
	Confidence      string   `json:"confidence"`
	Topics          []string `json:"topics"`
	Summary         string   `json:"summary"`
	PositionSignal  string   `json:"position_signal"`
	VerbatimQuote   string   `json:"verbatim_quote"`
}

func contextBlock(contrib *parliament.Contribution) string {
	return fmt.Sprintf("Speaker: %s\nDate: %s\nType: %s\nContext: %s\nText:\n%s",
		contrib.MemberName,
		contrib.Date.Format("02/01/2006"),
		contrib.SourceLabel(),
		contrib.Context,
		truncateText(contrib.Text, maxInputWords))
}

// Classify judges one contribution. Malformed model output is retried up to
// three times with a short delay and then degraded to a flagged generic
// discard; persistent API failures return *APIError so the pipeline can pause
// and retry later.
func (c *Classifier) Classify(ctx context.Context, contrib *parliament.Contribution) (Outcome, error) {
	raw, err := c.complete(ctx, c.systemPrompt, contextBlock(contrib), 500, contrib.NativeID)
	if err != nil {
		return Outcome{}, err
	}

	var parsed classificationJSON
	if uerr := json.Unmarshal([]byte(raw), &parsed); uerr != nil {
		c.apiErrors.Add(1)
		return Outcome{
			Relevant:        false,
			DiscardReason:   "Invalid JSON response from classifier",
			DiscardCategory: DiscardGeneric,
			InternalError:   true,
		}, nil
	}

	if !parsed.IsRelevant {
		reason := parsed.DiscardReason
		if reason == "" {
			reason = "Not relevant"
		}
		category := DiscardCategory(parsed.DiscardCategory)
		if !validCategory(category) {
			category = DiscardGeneric
		}
		return Outcome{
			Relevant:        false,
			DiscardReason:   reason,
			DiscardCategory: category,
		}, nil
	}

	confidence := Confidence(parsed.Confidence)
	switch confidence {
	case ConfidenceHigh, ConfidenceMedium, ConfidenceLow:
	default:
		confidence = ConfidenceMedium
	}
	return Outcome{
		Relevant:       true,
		Confidence:     confidence,
		Topics:         parsed.Topics,
		Summary:        parsed.Summary,
		PositionSignal: parsed.PositionSignal,
		VerbatimQuote:  parsed.VerbatimQuote,
	}, nil
}

type summaryJSON struct {
	Summary       string `json:"summary"`
	VerbatimQuote string `json:"verbatim_quote"`
}

// Summarise produces a one-sentence summary without a relevance judgement,
// used by member-only runs. It falls back to the contribution's context or a
// raw-text truncation when the API is unavailable; member-only runs must not
// depend on the classifier being up.
func (c *Classifier) Summarise(ctx context.Context, contrib *parliament.Contribution) (summary, quote string) {
	fallback := contrib.Context
	if fallback == "" {
		fallback = firstRunes(contrib.Text, 120)
	}

	raw, err := c.complete(ctx, summariseSystemPrompt, contextBlock(contrib), 200, contrib.NativeID)
	if err != nil {
		return fallback, ""
	}
	var parsed summaryJSON
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil || parsed.Summary == "" {
		return fallback, ""
	}
	return parsed.Summary, parsed.VerbatimQuote
}

// complete runs the retry loop around one Messages API call and returns the
// model's text output with any code fences stripped.
func (c *Classifier) complete(ctx context.Context, system, user string, maxTokens int, itemID string) (string, error) {
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		text, err := c.call(ctx, system, user, maxTokens)
		if err == nil {
			if json.Valid([]byte(text)) {
				return text, nil
			}
			// Not valid JSON yet; give the model another chance.
			c.logger.Warn("malformed classifier output",
				zap.String("item", itemID), zap.Int("attempt", attempt+1))
			if attempt < maxAttempts-1 {
				if serr := c.sleep(ctx, time.Second); serr != nil {
					return "", &APIError{Kind: ErrTransient, Err: serr}
				}
				continue
			}
			// Exhausted; hand the malformed text back so Classify records a
			// flagged generic discard rather than an outage.
			return text, nil
		}

		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			return "", err
		}
		lastErr = apiErr

		switch apiErr.Kind {
		case ErrAuth:
			// A bad key will not fix itself inside this call.
			c.apiErrors.Add(1)
			return "", apiErr
		case ErrRateLimited:
			wait := time.Duration(1<<(attempt+2)) * time.Second
			c.logger.Warn("classifier rate limited", zap.Duration("wait", wait))
			if serr := c.sleep(ctx, wait); serr != nil {
				return "", &APIError{Kind: ErrRateLimited, Err: serr}
			}
		default:
			c.logger.Warn("classifier call failed",
				zap.String("item", itemID), zap.Int("attempt", attempt+1), zap.Error(apiErr))
			if attempt < maxAttempts-1 {
				if serr := c.sleep(ctx, time.Duration(1<<attempt)*time.Second); serr != nil {
					return "", &APIError{Kind: apiErr.Kind, Err: serr}
				}
			}
		}
	}
	c.apiErrors.Add(1)
	if lastErr == nil {
		lastErr = &APIError{Kind: ErrTransient, Err: errors.New("retries exhausted")}
	}
	return "", lastErr
}

func (c *Classifier) call(ctx context.Context, system, user string, maxTokens int) (string, error) {
	body, err := json.Marshal(messagesRequest{
		Model:     c.cfg.Model,
		MaxTokens: maxTokens,
		System: []systemBlock{{
			Type:         "text",
			Text:         system,
			CacheControl: &cacheControl{Type: "ephemeral"},
		}},
		Messages: []chatMessage{{Role: "user", Content: user}},
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.cfg.APIKey)
	req.Header.Set("anthropic-version", anthropicAPIVer)

	resp, err := c.http.Do(req)
	if err != nil {
		kind := ErrTransient
		if errors.Is(err, context.DeadlineExceeded) || os.IsTimeout(err) {
			kind = ErrTimeout
		}
		return "", &APIError{Kind: kind, Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &APIError{Kind: ErrTransient, Err: fmt.Errorf("read body: %w", err)}
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", &APIError{Kind: ErrRateLimited, Err: fmt.Errorf("http 429")}
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", &APIError{Kind: ErrAuth, Err: fmt.Errorf("http %d", resp.StatusCode)}
	default:
		return "", &APIError{Kind: ErrTransient, Err: fmt.Errorf("http %d: %s", resp.StatusCode, firstRunes(string(respBody), 200))}
	}

	var parsed messagesResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", &APIError{Kind: ErrTransient, Err: fmt.Errorf("decode response: %w", err)}
	}
	if len(parsed.Content) == 0 {
		return "", &APIError{Kind: ErrTransient, Err: errors.New("empty response content")}
	}
	return stripCodeFences(parsed.Content[0].Text), nil
}

// stripCodeFences removes a markdown fence wrapper the model sometimes adds
// despite the prompt forbidding it.
func stripCodeFences(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	if idx := strings.IndexByte(text, '\n'); idx >= 0 {
		text = text[idx+1:]
	}
	if idx := strings.LastIndex(text, "```"); idx >= 0 {
		text = text[:idx]
	}
	return strings.TrimSpace(text)
}

func firstRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
