// Package hyperliquid implements the REST and WebSocket clients for
// Hyperliquid's public info API: a single POST endpoint distinguishing
// payload kinds by a "type" field, and a single WS connection carrying
// subscribe/unsubscribe control messages plus streamed channel data.
package hyperliquid

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/alanyoungcy/hyperliquid-signal-engine/internal/domain"
)

const (
	restRetries    = 3
	restBackoff    = 500 * time.Millisecond
	restTimeout    = 15 * time.Second
	restLeaderboardCap = 50
)

// RESTClient is the REST client for Hyperliquid's public info endpoint.
// It rate-limits outbound requests and retries transient failures with
// exponential backoff before giving up.
type RESTClient struct {
	url        string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewRESTClient builds a REST client against url, rate-limited to maxRPS
// requests per second (token-spaced, burst 1 — matching the reference
// client's sleep-until-min-interval limiter).
func NewRESTClient(url string, maxRPS float64) *RESTClient {
	return &RESTClient{
		url: url,
		httpClient: &http.Client{
			Timeout: restTimeout,
		},
		limiter: rate.NewLimiter(rate.Limit(maxRPS), 1),
	}
}

// restResult pairs the outbound payload with the raw decoded response,
// mirroring the reference client's RestRequest. Callers read only the
// response; the client has no logger and never logs the payload.
type restResult struct {
	payload  map[string]any
	response json.RawMessage
}

// post sends payload to the info endpoint, waiting on the rate limiter
// first, then making up to restRetries attempts, retrying on 5xx/429
// responses or transport errors with a doubling backoff. Any other HTTP
// error status ends the loop at once. The last cause is wrapped in
// ErrTransport if no attempt succeeds.
func (c *RESTClient) post(ctx context.Context, payload map[string]any) (restResult, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return restResult{}, fmt.Errorf("hyperliquid: rate limiter: %w", err)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return restResult{}, fmt.Errorf("hyperliquid: encode payload: %w", err)
	}

	backoff := restBackoff
	var lastErr error
	for attempt := 0; attempt < restRetries; attempt++ {
		raw, err := c.doOnce(ctx, body)
		if err == nil {
			return restResult{payload: payload, response: raw}, nil
		}
		lastErr = err
		if attempt == restRetries-1 || errors.Is(err, errNonRetryable) {
			break
		}
		select {
		case <-ctx.Done():
			return restResult{}, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return restResult{}, fmt.Errorf("hyperliquid: %w: %v", domain.ErrTransport, lastErr)
}

// errNonRetryable marks an HTTP error status that post does not retry.
var errNonRetryable = errors.New("non-retryable")

// doOnce performs a single POST attempt, returning a retryable error for
// 5xx and 429 responses and an errNonRetryable error for other 4xx ones.
func (c *RESTClient) doOnce(ctx context.Context, body []byte) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("%w: HTTP %d", domain.ErrRateLimited, resp.StatusCode)
	}
	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("%w: HTTP %d: %s", errNonRetryable, resp.StatusCode, respBody)
	}

	return json.RawMessage(respBody), nil
}

// AllMids returns the current mid price for every tradable instrument.
// The venue has been observed to return either the flat shape
// (`{"ETH": "1234.5", ...}`) or a wrapped shape (`{"mids": {"ETH": ...}}`);
// both are tolerated, matching the same raw/wrapped tolerance
// ProbeLeaderboard applies to leaderboard responses.
func (c *RESTClient) AllMids(ctx context.Context) (map[string]string, error) {
	res, err := c.post(ctx, map[string]any{"type": "allMids"})
	if err != nil {
		return nil, fmt.Errorf("hyperliquid: all mids: %w", err)
	}
	out, err := parseAllMidsResponse(res.response)
	if err != nil {
		return nil, fmt.Errorf("hyperliquid: decode all mids: %w", err)
	}
	return out, nil
}

// parseAllMidsResponse tolerates both the flat `{"ETH": "1234.5"}` shape
// and the wrapped `{"mids": {"ETH": "1234.5"}}` shape.
func parseAllMidsResponse(raw json.RawMessage) (map[string]string, error) {
	var flat map[string]string
	if err := json.Unmarshal(raw, &flat); err == nil {
		return flat, nil
	}

	var wrapped struct {
		Mids map[string]string `json:"mids"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, fmt.Errorf("unrecognized all-mids response shape")
	}
	return wrapped.Mids, nil
}

// MetaAndAssetCtxs returns the two-element [meta, assetCtxs] response used
// by the funding-rate detector.
func (c *RESTClient) MetaAndAssetCtxs(ctx context.Context) (json.RawMessage, error) {
	res, err := c.post(ctx, map[string]any{"type": "metaAndAssetCtxs"})
	if err != nil {
		return nil, fmt.Errorf("hyperliquid: meta and asset ctxs: %w", err)
	}
	return res.response, nil
}

// L2Book returns the current order book for coin.
func (c *RESTClient) L2Book(ctx context.Context, coin string) (json.RawMessage, error) {
	res, err := c.post(ctx, map[string]any{"type": "l2Book", "coin": coin})
	if err != nil {
		return nil, fmt.Errorf("hyperliquid: l2 book %s: %w", coin, err)
	}
	return res.response, nil
}

// CandleSnapshot returns OHLCV candles for coin over [startTime, endTime]
// (unix milliseconds) at the given interval (e.g. "1m", "1h").
func (c *RESTClient) CandleSnapshot(ctx context.Context, coin, interval string, startTime, endTime int64) (json.RawMessage, error) {
	payload := map[string]any{
		"type": "candleSnapshot",
		"req": map[string]any{
			"coin":      coin,
			"interval":  interval,
			"startTime": startTime,
			"endTime":   endTime,
		},
	}
	res, err := c.post(ctx, payload)
	if err != nil {
		return nil, fmt.Errorf("hyperliquid: candle snapshot %s: %w", coin, err)
	}
	return res.response, nil
}

// ClearinghouseState returns the perpetuals account state (positions,
// margin summary) for the given address.
func (c *RESTClient) ClearinghouseState(ctx context.Context, user string) (json.RawMessage, error) {
	res, err := c.post(ctx, map[string]any{"type": "clearinghouseState", "user": user})
	if err != nil {
		return nil, fmt.Errorf("hyperliquid: clearinghouse state %s: %w", user, err)
	}
	return res.response, nil
}

// VaultDetails returns the position and summary state for the given vault
// address. The HLP sentiment detector reads the vault through
// ClearinghouseState instead and does not call this.
func (c *RESTClient) VaultDetails(ctx context.Context, vault string) (json.RawMessage, error) {
	res, err := c.post(ctx, map[string]any{"type": "vaultDetails", "vaultAddress": vault})
	if err != nil {
		return nil, fmt.Errorf("hyperliquid: vault details %s: %w", vault, err)
	}
	return res.response, nil
}

// UserFills returns the most recent fills for the given address.
func (c *RESTClient) UserFills(ctx context.Context, user string) (json.RawMessage, error) {
	res, err := c.post(ctx, map[string]any{"type": "userFills", "user": user})
	if err != nil {
		return nil, fmt.Errorf("hyperliquid: user fills %s: %w", user, err)
	}
	return res.response, nil
}

// UserFillsByTime returns fills for the given address within [startTime, endTime].
func (c *RESTClient) UserFillsByTime(ctx context.Context, user string, startTime, endTime int64) (json.RawMessage, error) {
	payload := map[string]any{
		"type":      "userFillsByTime",
		"user":      user,
		"startTime": startTime,
		"endTime":   endTime,
	}
	res, err := c.post(ctx, payload)
	if err != nil {
		return nil, fmt.Errorf("hyperliquid: user fills by time %s: %w", user, err)
	}
	return res.response, nil
}

// HistoricalOrders returns the historical order record for the given address.
func (c *RESTClient) HistoricalOrders(ctx context.Context, user string) (json.RawMessage, error) {
	res, err := c.post(ctx, map[string]any{"type": "historicalOrders", "user": user})
	if err != nil {
		return nil, fmt.Errorf("hyperliquid: historical orders %s: %w", user, err)
	}
	return res.response, nil
}

// FundingHistory returns historical funding rates for coin over [startTime, endTime].
func (c *RESTClient) FundingHistory(ctx context.Context, coin string, startTime, endTime int64) (json.RawMessage, error) {
	payload := map[string]any{
		"type":      "fundingHistory",
		"coin":      coin,
		"startTime": startTime,
		"endTime":   endTime,
	}
	res, err := c.post(ctx, payload)
	if err != nil {
		return nil, fmt.Errorf("hyperliquid: funding history %s: %w", coin, err)
	}
	return res.response, nil
}

// leaderboardProbeKinds are the payload "type" values tried, in order, when
// bootstrapping a whale candidate list from a public leaderboard. Different
// venue API versions have used different names for the same concept.
var leaderboardProbeKinds = []string{"leaderboard", "traderLeaderboard", "topTraders"}

// ProbeLeaderboard tries each known leaderboard payload kind in turn and
// returns the addresses from the first response that yields a non-empty
// list (empty responses are skipped), tolerating either a raw JSON
// array or a wrapped container object. It returns at most
// restLeaderboardCap addresses. A failure on every probe kind is not
// treated as fatal by the caller (the whale tracker falls back to its
// seed list).
func (c *RESTClient) ProbeLeaderboard(ctx context.Context) ([]string, error) {
	var lastErr error
	for _, kind := range leaderboardProbeKinds {
		res, err := c.post(ctx, map[string]any{"type": kind})
		if err != nil {
			lastErr = err
			continue
		}
		addrs, err := parseLeaderboardResponse(res.response)
		if err != nil {
			lastErr = err
			continue
		}
		if len(addrs) == 0 {
			continue
		}
		if len(addrs) > restLeaderboardCap {
			addrs = addrs[:restLeaderboardCap]
		}
		return addrs, nil
	}
	return nil, fmt.Errorf("hyperliquid: probe leaderboard: all kinds failed: %w", lastErr)
}

// parseLeaderboardResponse extracts a list of addresses from either a raw
// JSON array of strings/objects, or a container object holding the list
// under a "leaderboardRows", "leaders", or "data" key.
func parseLeaderboardResponse(raw json.RawMessage) ([]string, error) {
	// Shape 1: raw array.
	var rawList []json.RawMessage
	if err := json.Unmarshal(raw, &rawList); err == nil {
		return extractAddresses(rawList), nil
	}

	// Shape 2: wrapped container with a known list key.
	var container map[string]json.RawMessage
	if err := json.Unmarshal(raw, &container); err != nil {
		return nil, fmt.Errorf("unrecognized leaderboard response shape")
	}
	for _, key := range []string{"leaderboardRows", "leaders", "data"} {
		if inner, ok := container[key]; ok {
			var innerList []json.RawMessage
			if err := json.Unmarshal(inner, &innerList); err == nil {
				return extractAddresses(innerList), nil
			}
		}
	}
	return nil, nil
}

// extractAddresses pulls an "ethAddress"/"user"/"address" field out of each
// element if it's an object, or takes the element itself if it's a bare
// string.
func extractAddresses(items []json.RawMessage) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		var asStr string
		if err := json.Unmarshal(item, &asStr); err == nil {
			out = append(out, asStr)
			continue
		}
		var asObj map[string]json.RawMessage
		if err := json.Unmarshal(item, &asObj); err != nil {
			continue
		}
		for _, key := range []string{"ethAddress", "user", "address"} {
			if v, ok := asObj[key]; ok {
				var addr string
				if json.Unmarshal(v, &addr) == nil && addr != "" {
					out = append(out, addr)
					break
				}
			}
		}
	}
	return out
}
