package sentiment

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"perp-engine/pkg/types"
)

// Sentiment is the coarse directional read extracted from the LLM response.
type Sentiment string

const (
	SentimentBullish Sentiment = "bullish"
	SentimentBearish Sentiment = "bearish"
	SentimentNeutral Sentiment = "neutral"
)

// Advisory is the parsed, domain-shaped result of a sentiment query. A
// nil *Advisory (returned alongside a non-nil error) means "proceed
// without sentiment input" — the trade decision is never blocked on this.
type Advisory struct {
	Sentiment   Sentiment
	NewsScore   float64 // [-100, 100]
	ShouldBoost bool
	ShouldAvoid bool
}

// rawResponse is the strict-JSON shape the prompt demands from the model.
type rawResponse struct {
	Action     string   `json:"action"`
	Confidence float64  `json:"confidence"`
	Warnings   []string `json:"warnings"`
}

// minCallSpacing is the engine-imposed floor between any two LLM calls,
// independent of the gate's per-mode cooldown, per spec.md §6.
const minCallSpacing = 15 * time.Second

// initial429Backoff and its doubling are the spec.md §6 429-handling policy.
const initial429Backoff = 2 * time.Minute

// BuildPrompt assembles the strict-JSON-only sentiment prompt for symbol,
// folding in the detected pattern and current opportunity context so the
// model has enough signal to answer narrowly.
func BuildPrompt(symbol types.Symbol, score float64, pattern Pattern, userPrompt string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are a trading sentiment analyst for %s.\n", symbol)
	fmt.Fprintf(&b, "Current algorithmic opportunity score: %.1f/100.\n", score)
	if !pattern.none() {
		fmt.Fprintf(&b, "Detected chart pattern: %s (%s).\n", pattern.Type, pattern.Direction)
	}
	if userPrompt != "" {
		fmt.Fprintf(&b, "Additional context: %s\n", userPrompt)
	}
	b.WriteString("Respond with JSON only, no prose, matching exactly this shape:\n")
	b.WriteString(`{"action":"buy|sell|hold","confidence":0-100,"warnings":["..."]}`)
	return b.String()
}

// ParseResponse parses the model's strict-JSON reply and maps it onto the
// domain Advisory shape. Any parse failure is a ParseFailure (spec.md §7):
// the caller gets a nil advisory and proceeds without sentiment input.
func ParseResponse(body []byte) (*Advisory, error) {
	var raw rawResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("sentiment: parse failure: %w", err)
	}

	sentiment := SentimentNeutral
	switch strings.ToLower(raw.Action) {
	case "buy":
		sentiment = SentimentBullish
	case "sell":
		sentiment = SentimentBearish
	}

	newsScore := raw.Confidence
	if sentiment == SentimentBearish {
		newsScore = -raw.Confidence
	}
	if newsScore > 100 {
		newsScore = 100
	}
	if newsScore < -100 {
		newsScore = -100
	}

	shouldAvoid := len(raw.Warnings) > 0 && raw.Confidence < 40
	shouldBoost := raw.Confidence >= 70 && sentiment != SentimentNeutral

	return &Advisory{Sentiment: sentiment, NewsScore: newsScore, ShouldBoost: shouldBoost, ShouldAvoid: shouldAvoid}, nil
}

// Client calls the LLM HTTP endpoint from spec.md §6: bearer-auth POST of
// {model, messages, temperature, max_tokens}, with a minimum 15s spacing
// between calls and an exponentially-extending backoff on 429.
type Client struct {
	http  *resty.Client
	model string

	mu            sync.Mutex
	lastCallAt    time.Time
	backoffUntil  time.Time
	nextBackoff   time.Duration
}

// NewClient builds a Client against baseURL with bearer auth.
func NewClient(baseURL, apiKey, model string) *Client {
	http := resty.New().
		SetBaseURL(baseURL).
		SetAuthToken(apiKey).
		SetTimeout(20 * time.Second)
	return &Client{http: http, model: model, nextBackoff: initial429Backoff}
}

// chatRequest is the wire body spec.md §6 requires.
type chatRequest struct {
	Model       string  `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatResponse extracts just enough of the completion shape to reach the
// assistant's message content, which is itself the strict-JSON body
// ParseResponse expects.
type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Query sends prompt to the LLM endpoint, honoring the min-spacing and
// 429-backoff state. Returns an error (never panics) when the call is
// currently backed off or the transport fails — callers treat this exactly
// like a parse failure: proceed without sentiment input.
func (c *Client) Query(prompt string) (string, error) {
	c.mu.Lock()
	now := time.Now()
	if now.Before(c.backoffUntil) {
		c.mu.Unlock()
		return "", fmt.Errorf("sentiment: backed off until %s", c.backoffUntil)
	}
	if !c.lastCallAt.IsZero() && now.Sub(c.lastCallAt) < minCallSpacing {
		c.mu.Unlock()
		return "", fmt.Errorf("sentiment: call spacing violated, %s remaining", minCallSpacing-now.Sub(c.lastCallAt))
	}
	c.mu.Unlock()

	body := chatRequest{
		Model:       c.model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: 0,
		MaxTokens:   300,
	}

	resp, err := c.http.R().SetBody(body).Post("/chat/completions")

	c.mu.Lock()
	c.lastCallAt = time.Now()
	if err == nil && resp.StatusCode() == 429 {
		retryAfter := c.nextBackoff
		if h := resp.Header().Get("Retry-After"); h != "" {
			if secs, perr := time.ParseDuration(h + "s"); perr == nil {
				retryAfter = secs
			}
		}
		c.backoffUntil = time.Now().Add(retryAfter)
		c.nextBackoff *= 2
		c.mu.Unlock()
		return "", fmt.Errorf("sentiment: rate limited, backing off %s", retryAfter)
	}
	c.nextBackoff = initial429Backoff
	c.mu.Unlock()

	if err != nil {
		return "", fmt.Errorf("sentiment: request failed: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("sentiment: http %d", resp.StatusCode())
	}

	var parsed chatResponse
	if err := json.Unmarshal(resp.Body(), &parsed); err != nil || len(parsed.Choices) == 0 {
		return "", fmt.Errorf("sentiment: malformed completion envelope")
	}
	return parsed.Choices[0].Message.Content, nil
}
