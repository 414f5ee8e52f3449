package scraper

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/time/rate"

	"carbitrage/config"
	"carbitrage/logging"
)

const maxPageSize = 5 * 1024 * 1024

type FetchStatus int

const (
	FetchOK FetchStatus = iota
	FetchBlocked
	FetchFailed
)

func (s FetchStatus) String() string {
	switch s {
	case FetchOK:
		return "ok"
	case FetchBlocked:
		return "blocked"
	default:
		return "failed"
	}
}

// FetchResult is exactly one of: rendered HTML, a provider block with its
// reason, or a failure with its cause.
type FetchResult struct {
	Status FetchStatus
	HTML   string
	Reason string
}

func fetchOK(html string) FetchResult {
	return FetchResult{Status: FetchOK, HTML: html}
}

func fetchBlocked(reason string) FetchResult {
	return FetchResult{Status: FetchBlocked, Reason: reason}
}

func fetchFailed(reason string) FetchResult {
	return FetchResult{Status: FetchFailed, Reason: reason}
}

type Fetcher interface {
	Fetch(ctx context.Context, pageURL string) FetchResult
}

// Gateway renders search pages through ScrapingBee. It never retries; a
// timeout or cancelled context is reported as a failure.
type Gateway struct {
	endpoint string
	apiKey   string
	renderJS bool
	markers  []string
	client   *http.Client
	limiter  *rate.Limiter
	cache    *PageCache
	maxBody  int64
}

func NewGateway(cfg *config.ScrapingBeeConfig, client *http.Client) *Gateway {
	g := &Gateway{
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		renderJS: cfg.RenderJS,
		markers:  cfg.BlockMarkers,
		client:   client,
		maxBody:  maxPageSize,
	}
	if cfg.RPS > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(cfg.RPS), burst)
	}
	if cfg.CacheTTL > 0 {
		g.cache = NewPageCache(cfg.CacheTTL, 256)
	}
	return g
}

func (g *Gateway) Fetch(ctx context.Context, pageURL string) FetchResult {
	if g.cache != nil {
		if html, ok := g.cache.Get(pageURL); ok {
			logging.Logf("debug", "Gateway: cache hit for %s", pageURL)
			return fetchOK(html)
		}
	}

	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			log.Printf("Gateway: rate limiter for %s: %v", pageURL, err)
			return fetchFailed(fmt.Sprintf("rate limiter: %v", err))
		}
	}

	html, err := g.get(ctx, pageURL)
	if err != nil {
		log.Printf("Gateway: fetch %s: %v", pageURL, err)
		return fetchFailed(err.Error())
	}

	if marker, ok := g.blockMarker(html); ok {
		log.Printf("Gateway: %s blocked (marker %q)", pageURL, marker)
		return fetchBlocked(fmt.Sprintf("blocked by destination site (%s)", marker))
	}

	if g.cache != nil {
		g.cache.Set(pageURL, html)
	}
	return fetchOK(html)
}

func (g *Gateway) get(ctx context.Context, pageURL string) (string, error) {
	params := url.Values{}
	params.Set("api_key", g.apiKey)
	params.Set("url", pageURL)
	params.Set("render_js", fmt.Sprintf("%t", g.renderJS))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("provider error %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, g.maxBody+1))
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > g.maxBody {
		return "", fmt.Errorf("page exceeds %d bytes", g.maxBody)
	}
	return string(body), nil
}

func (g *Gateway) blockMarker(html string) (string, bool) {
	lower := strings.ToLower(html)
	for _, m := range g.markers {
		if m != "" && strings.Contains(lower, strings.ToLower(m)) {
			return m, true
		}
	}
	return "", false
}
