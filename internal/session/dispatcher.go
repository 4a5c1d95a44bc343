package session

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/Rorqualx/alita/internal/browser"
	"github.com/Rorqualx/alita/internal/config"
	"github.com/Rorqualx/alita/internal/ratelimit"
	"github.com/Rorqualx/alita/internal/security"
	"github.com/Rorqualx/alita/internal/selectors"
	"github.com/Rorqualx/alita/internal/types"
)

// Dispatcher is the single entry point fetches go through: it validates the
// request, resolves the per-domain State, and picks BrowserFlow or
// PlainFlow.
type Dispatcher struct {
	store     *Store
	pool      *browser.Pool
	cfg       *config.Config
	selectors *selectors.Manager
	transport http.RoundTripper
}

// NewDispatcher builds a Dispatcher over a fresh Store and the given
// collaborators. transport is reused across every PlainFlow request so
// connections to the same origin are pooled.
func NewDispatcher(cfg *config.Config, pool *browser.Pool, sel *selectors.Manager) *Dispatcher {
	return &Dispatcher{
		store:     NewStore(),
		pool:      pool,
		cfg:       cfg,
		selectors: sel,
		transport: http.DefaultTransport,
	}
}

// Fetch validates req, serializes on the target domain's State, runs the
// appropriate flow, and folds the result back into FetchResponse.
func (d *Dispatcher) Fetch(ctx context.Context, req types.FetchRequest) (types.FetchResponse, error) {
	if err := security.ValidateURLWithContext(ctx, req.URL); err != nil {
		return types.FetchResponse{}, types.NewValidationError("url", "url is not permitted: "+err.Error(), err)
	}

	domain := domainFromURL(req.URL)
	state := d.store.Get(domain)

	state.Lock.Lock()
	defer state.Lock.Unlock()

	var result Result
	var err error
	if !state.Initialized {
		result, err = BrowserFlow(ctx, req, state, domain, d.pool, d.cfg, nil)
		if err == nil {
			state.Initialized = true
		}
	} else {
		result, err = PlainFlow(ctx, req, state, domain, d.pool, d.cfg, d.selectors.Get(), d.transport)
	}
	if err != nil {
		return types.FetchResponse{}, err
	}

	state.Cookies = result.Cookies
	if result.UsedBrowser {
		state.RequestHeaders = result.RequestHeaders
	}

	if info := ratelimit.Detect(result.StatusCode, result.Body); info.Detected {
		log.Warn().
			Str("domain", domain).
			Str("error_code", info.ErrorCode).
			Str("category", string(info.Category)).
			Int("suggested_delay_ms", info.SuggestedDelay).
			Msg("target site response looks rate-limited or blocked")
	}

	return types.FetchResponse{
		StatusCode:  result.StatusCode,
		UsedBrowser: result.UsedBrowser,
		Headers:     types.AggregateHeaders(result.Headers),
		Body:        result.Body,
	}, nil
}

// Shutdown tears down every browser the dispatcher's pool has started.
func (d *Dispatcher) Shutdown(ctx context.Context) {
	d.pool.Shutdown(ctx)
}

func domainFromURL(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	host := parsed.Hostname()
	if host == "" {
		host = parsed.Host
	}
	return strings.ToLower(host)
}
