// client.go implements the read-only HTTP info endpoint half of the Venue
// Bridge, adapted from 0xtitan6-polymarket-mm/internal/exchange/client.go's
// resty-wrapped REST client shape.
package venue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
)

// InfoClient wraps the venue's single HTTP info POST endpoint
// ({type, ...} request bodies; see spec §6).
type InfoClient struct {
	http   *resty.Client
	logger *slog.Logger
}

// NewInfoClient builds an InfoClient pointed at baseURL.
func NewInfoClient(baseURL string, logger *slog.Logger) *InfoClient {
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second).
		SetHeader("Content-Type", "application/json")
	return &InfoClient{http: httpClient, logger: logger}
}

func (c *InfoClient) post(ctx context.Context, body any, out any) *Failure {
	_, failure := withRetry(ctx, func(ctx context.Context) (struct{}, *Failure) {
		resp, err := c.http.R().
			SetContext(ctx).
			SetBody(body).
			SetResult(out).
			Post("/info")
		if err != nil {
			return struct{}{}, &Failure{Kind: FailureTimeout, Message: err.Error()}
		}
		switch resp.StatusCode() {
		case http.StatusOK:
			return struct{}{}, nil
		case http.StatusUnauthorized, http.StatusForbidden:
			return struct{}{}, &Failure{Kind: FailureUnauthorized, Code: fmt.Sprintf("%d", resp.StatusCode()), Message: resp.String()}
		case http.StatusBadRequest, http.StatusUnprocessableEntity:
			return struct{}{}, &Failure{Kind: FailureInvalidResponse, Code: fmt.Sprintf("%d", resp.StatusCode()), Message: resp.String()}
		case http.StatusTooManyRequests:
			return struct{}{}, &Failure{Kind: FailureRateLimited, Code: fmt.Sprintf("%d", resp.StatusCode()), Message: resp.String()}
		default:
			return struct{}{}, &Failure{Kind: FailureVenueError, Code: fmt.Sprintf("%d", resp.StatusCode()), Message: resp.String()}
		}
	})
	return failure
}

// AllMids returns the current mid price for every tradeable coin.
func (c *InfoClient) AllMids(ctx context.Context) (map[string]decimal.Decimal, *Failure) {
	var raw map[string]string
	if f := c.post(ctx, map[string]string{"type": "allMids"}, &raw); f != nil {
		return nil, f
	}
	out := make(map[string]decimal.Decimal, len(raw))
	for coin, v := range raw {
		d, err := decimal.NewFromString(v)
		if err != nil {
			continue
		}
		out[coin] = d
	}
	return out, nil
}

// AssetCtx is the per-asset context row returned by metaAndAssetCtxs
// (funding rate, open interest, premium/predictedRate, mark price).
type AssetCtx struct {
	Coin          string
	FundingRate   decimal.Decimal
	OpenInterest  decimal.Decimal
	PredictedRate decimal.Decimal // wire field "premium" — see DESIGN.md Open Questions
	MarkPrice     decimal.Decimal
}

// MetaAndAssetCtxs fetches the universe metadata plus per-asset context in
// one call. The wire response is positional: [meta, assetCtxs[]].
func (c *InfoClient) MetaAndAssetCtxs(ctx context.Context) ([]AssetCtx, *Failure) {
	var raw []json.RawMessage
	if f := c.post(ctx, map[string]string{"type": "metaAndAssetCtxs"}, &raw); f != nil {
		return nil, f
	}
	if len(raw) != 2 {
		return nil, &Failure{Kind: FailureInvalidResponse, Message: "metaAndAssetCtxs: expected [meta, assetCtxs]"}
	}

	var meta struct {
		Universe []struct {
			Name string `json:"name"`
		} `json:"universe"`
	}
	if err := json.Unmarshal(raw[0], &meta); err != nil {
		return nil, &Failure{Kind: FailureInvalidResponse, Message: err.Error()}
	}

	var ctxs []struct {
		FundingRate string `json:"funding"`
		OpenInterest string `json:"openInterest"`
		Premium      string `json:"premium"`
		MarkPrice    string `json:"markPx"`
	}
	if err := json.Unmarshal(raw[1], &ctxs); err != nil {
		return nil, &Failure{Kind: FailureInvalidResponse, Message: err.Error()}
	}
	if len(ctxs) != len(meta.Universe) {
		return nil, &Failure{Kind: FailureInvalidResponse, Message: "metaAndAssetCtxs: universe/ctx length mismatch"}
	}

	out := make([]AssetCtx, len(meta.Universe))
	for i, u := range meta.Universe {
		out[i] = AssetCtx{
			Coin:          u.Name,
			FundingRate:   parseDecimalOrZero(ctxs[i].FundingRate),
			OpenInterest:  parseDecimalOrZero(ctxs[i].OpenInterest),
			PredictedRate: parseDecimalOrZero(ctxs[i].Premium),
			MarkPrice:     parseDecimalOrZero(ctxs[i].MarkPrice),
		}
	}
	return out, nil
}

// FundingHistory fetches historical funding rate samples for a coin over
// [startMs, endMs].
func (c *InfoClient) FundingHistory(ctx context.Context, coin string, startMs, endMs int64) ([]decimal.Decimal, *Failure) {
	body := map[string]any{
		"type":      "fundingHistory",
		"coin":      coin,
		"startTime": startMs,
		"endTime":   endMs,
	}
	var raw []struct {
		FundingRate string `json:"fundingRate"`
	}
	if f := c.post(ctx, body, &raw); f != nil {
		return nil, f
	}
	out := make([]decimal.Decimal, 0, len(raw))
	for _, r := range raw {
		out = append(out, parseDecimalOrZero(r.FundingRate))
	}
	return out, nil
}

func parseDecimalOrZero(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
