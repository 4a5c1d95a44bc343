package session

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog/log"

	"github.com/Rorqualx/alita/internal/browser"
	"github.com/Rorqualx/alita/internal/config"
	"github.com/Rorqualx/alita/internal/cookieset"
	"github.com/Rorqualx/alita/internal/navigation"
	"github.com/Rorqualx/alita/internal/security"
	"github.com/Rorqualx/alita/internal/selectors"
	"github.com/Rorqualx/alita/internal/types"
)

// hopByHopHeaders are stripped before a previously-captured browser request
// header set is replayed on a plain HTTP request; they describe the
// connection itself rather than the resource, and are wrong or meaningless
// coming from a different client.
var hopByHopHeaders = map[string]bool{
	"host":                      true,
	"connection":                true,
	"proxy-connection":          true,
	"content-length":            true,
	"accept-encoding":           true,
	"upgrade":                   true,
	"upgrade-insecure-requests": true,
	"te":                        true,
	"trailers":                  true,
	"transfer-encoding":         true,
}

func sanitizeHeaders(headers map[string]string) map[string]string {
	sanitized := make(map[string]string, len(headers))
	for name, value := range headers {
		if hopByHopHeaders[strings.ToLower(name)] {
			continue
		}
		sanitized[name] = value
	}
	return sanitized
}

// Snapshot is a plain-HTTP response PlainFlow hands to BrowserFlow so the
// browser can render from exactly those bytes instead of re-fetching them.
type Snapshot struct {
	StatusCode     int
	Headers        [][2]string
	Body           []byte
	RequestHeaders map[string]string
}

// Result is what either flow returns to the dispatcher.
type Result struct {
	StatusCode     int
	Headers        [][2]string
	Body           string
	UsedBrowser    bool
	RequestHeaders map[string]string
	Cookies        []cookieset.State
}

// BrowserFlow drives a real browser tab through either a live navigation
// (snapshot nil) or a hydration of a previously-fetched snapshot, waits for
// the page to settle, and reports the outcome alongside the cookies the
// browser accumulated.
func BrowserFlow(ctx context.Context, req types.FetchRequest, state *State, domain string, pool *browser.Pool, cfg *config.Config, snapshot *Snapshot) (Result, error) {
	log.Info().Str("domain", domain).Bool("snapshot", snapshot != nil).Msg("using browser pipeline")

	manager := pool.Get(domain)
	var result Result
	err := manager.WithTab(ctx, state.Cookies, req.URL, func(page *rod.Page) error {
		var info navigation.ResponseInfo
		var html string

		if snapshot == nil {
			capture := navigation.NewCapture()
			stop := capture.Subscribe(page)
			defer stop()

			pageReady := make(chan struct{})
			var readyOnce sync.Once
			signalReady := func() { readyOnce.Do(func() { close(pageReady) }) }

			navResult, err := proto.PageNavigate{URL: req.URL}.Call(page)
			if err != nil {
				return types.NewInternalError(fmt.Sprintf("navigate call failed for %s", req.URL), err)
			}
			if navResult.ErrorText != "" {
				return types.NewBadGatewayError(fmt.Sprintf("navigation failed for %s: %s", req.URL, navResult.ErrorText), nil)
			}

			renderedHTML, waitErr := awaitRenderedHTML(ctx, page, req, cfg)
			signalReady()
			if waitErr != nil {
				return waitErr
			}
			html = renderedHTML

			captured, err := capture.Await(ctx, navResult.FrameID, pageReady)
			if err != nil {
				return types.NewBadGatewayError("no document response observed for "+req.URL, err)
			}
			info = captured
		} else {
			if err := hydrateWithSnapshot(ctx, page, req.URL, snapshot); err != nil {
				return types.NewBadGatewayError("failed to hydrate snapshot for "+req.URL, err)
			}
			info = navigation.ResponseInfo{
				StatusCode:     snapshot.StatusCode,
				Headers:        snapshot.Headers,
				RequestHeaders: snapshot.RequestHeaders,
			}

			renderedHTML, waitErr := awaitRenderedHTML(ctx, page, req, cfg)
			if waitErr != nil {
				return waitErr
			}
			html = renderedHTML
		}

		effectiveHeaders := info.RequestHeaders
		if snapshot != nil {
			if len(state.RequestHeaders) > 0 {
				effectiveHeaders = state.RequestHeaders
			} else {
				effectiveHeaders = snapshot.RequestHeaders
			}
		}

		cookies, err := manager.ExportCookies(req.URL)
		if err != nil {
			return types.NewInternalError("failed to export cookies after browser run", err)
		}

		result = Result{
			StatusCode:     info.StatusCode,
			Headers:        info.Headers,
			Body:           html,
			UsedBrowser:    true,
			RequestHeaders: effectiveHeaders,
			Cookies:        cookieset.Filter(cookies, req.URL),
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	log.Info().Str("domain", domain).Int("status", result.StatusCode).Msg("browser pipeline complete")
	return result, nil
}

// awaitRenderedHTML waits for the configured document ready state, then (if
// requested) for the caller's wait selector, and returns the rendered HTML.
func awaitRenderedHTML(ctx context.Context, page *rod.Page, req types.FetchRequest, cfg *config.Config) (string, error) {
	readyTimeout := cfg.ReadyStateTimeout
	if waitTimeout := secondsToDuration(req.WaitTimeoutSec); waitTimeout > readyTimeout {
		readyTimeout = waitTimeout
	}
	readyCtx, cancel := context.WithTimeout(ctx, readyTimeout)
	defer cancel()
	if err := waitForReadyState(readyCtx, page, cfg.ReadyStateTarget); err != nil {
		return "", types.NewTimeoutError("Timed out waiting for ready state", err)
	}

	if req.WaitForElement != "" {
		waitTimeout := secondsToDuration(req.WaitTimeoutSec)
		if _, err := page.Timeout(waitTimeout).Element(req.WaitForElement); err != nil {
			return "", types.NewTimeoutError("timed out waiting for wait_for_element", err)
		}
	}

	html, err := page.HTML()
	if err != nil {
		return "", types.NewInternalError("failed to read rendered HTML", err)
	}
	return html, nil
}

func secondsToDuration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}

// waitForReadyState polls document.readyState until it matches target or ctx
// is done. Chrome has no event for an arbitrary target value, only "load"
// and "DOMContentLoaded", so polling is the only portable option.
func waitForReadyState(ctx context.Context, page *rod.Page, target string) error {
	pageCtx := page.Context(ctx)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		result, err := proto.RuntimeEvaluate{
			Expression:    "document.readyState",
			ReturnByValue: true,
		}.Call(pageCtx)
		if err == nil && result.Result != nil && result.ExceptionDetails == nil && result.Result.Value.Str() == target {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// hydrateWithSnapshot intercepts the top-level document request and fulfills
// it synthetically with a previously-fetched plain-HTTP response, so the
// browser evaluates the page's scripts against exactly those bytes.
func hydrateWithSnapshot(ctx context.Context, page *rod.Page, pageURL string, snapshot *Snapshot) error {
	router := page.HijackRequests()
	if err := router.Add("*", proto.NetworkResourceTypeDocument, func(h *rod.Hijack) {
		h.Response.Payload().ResponseCode = snapshot.StatusCode
		for _, hdr := range snapshot.Headers {
			h.Response.SetHeader(hdr[0], hdr[1])
		}
		h.Response.SetBody(snapshot.Body)
	}); err != nil {
		return fmt.Errorf("failed to install snapshot hijack: %w", err)
	}
	go router.Run()
	defer router.MustStop()

	if _, err := proto.PageNavigate{URL: pageURL}.Call(page.Context(ctx)); err != nil {
		return fmt.Errorf("failed to navigate for snapshot hydration: %w", err)
	}
	return nil
}

// PlainFlow attempts to reproduce a domain's last-known browser request with
// a plain HTTP GET, and escalates to BrowserFlow whenever the response
// doesn't look like what the caller asked for.
func PlainFlow(ctx context.Context, req types.FetchRequest, state *State, domain string, pool *browser.Pool, cfg *config.Config, cf *selectors.Selectors, transport http.RoundTripper) (Result, error) {
	if len(state.RequestHeaders) == 0 {
		log.Info().Str("domain", domain).Msg("no stored headers; falling back to browser immediately")
		return BrowserFlow(ctx, req, state, domain, pool, cfg, nil)
	}

	headers := sanitizeHeaders(state.RequestHeaders)

	parsedURL, err := url.Parse(req.URL)
	if err != nil {
		return Result{}, types.NewValidationError("url", "malformed URL", err)
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return Result{}, types.NewInternalError("failed to build cookie jar", err)
	}
	jar.SetCookies(parsedURL, cookieset.ToRequestJar(state.Cookies))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return Result{}, types.NewValidationError("url", "malformed URL", err)
	}
	for name, value := range headers {
		httpReq.Header.Set(name, value)
	}

	client := &http.Client{
		Transport: transport,
		Timeout:   cfg.HTTPClientTimeout,
		Jar:       jar,
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		log.Warn().Err(err).Str("url", security.RedactURL(req.URL)).Msg("plain HTTP request failed, falling back to browser")
		return BrowserFlow(ctx, req, state, domain, pool, cfg, nil)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Warn().Err(err).Str("url", security.RedactURL(req.URL)).Msg("failed to read plain HTTP response, falling back to browser")
		return BrowserFlow(ctx, req, state, domain, pool, cfg, nil)
	}

	headerList := headerListFromHTTP(resp.Header)
	cookieUpdates := make([]cookieset.State, 0, len(resp.Cookies()))
	for _, c := range resp.Cookies() {
		cookieUpdates = append(cookieUpdates, cookieset.FromHTTPCookie(c))
	}
	mergedCookies := cookieset.Merge(state.Cookies, cookieUpdates)
	filteredCookies := cookieset.Filter(mergedCookies, req.URL)

	waitPresent, blockingSelector, cfMarker, err := selectors.EvaluatePlainHTML(string(body), req.WaitForElement, req.BrowserOnElements, cf)
	if err != nil {
		return Result{}, err
	}

	if !waitPresent {
		log.Info().Str("domain", domain).Str("selector", req.WaitForElement).Msg("falling back to browser: wait selector absent")
	}
	if blockingSelector != "" {
		log.Info().Str("domain", domain).Str("selector", blockingSelector).Msg("falling back to browser: blocking selector matched")
	}
	if cfMarker != "" {
		log.Info().Str("domain", domain).Str("marker", cfMarker).Msg("falling back to browser: cloudflare challenge marker matched")
	}

	if waitPresent && blockingSelector == "" && cfMarker == "" {
		log.Debug().Str("domain", domain).Int("status", resp.StatusCode).Msg("plain flow succeeded")
		return Result{
			StatusCode:     resp.StatusCode,
			Headers:        headerList,
			Body:           string(body),
			UsedBrowser:    false,
			RequestHeaders: state.RequestHeaders,
			Cookies:        filteredCookies,
		}, nil
	}

	snapshot := &Snapshot{
		StatusCode:     resp.StatusCode,
		Headers:        headerList,
		Body:           body,
		RequestHeaders: headers,
	}
	state.Cookies = filteredCookies
	return BrowserFlow(ctx, req, state, domain, pool, cfg, snapshot)
}

func headerListFromHTTP(h http.Header) [][2]string {
	names := make([]string, 0, len(h))
	for name := range h {
		names = append(names, name)
	}
	sort.Strings(names)

	list := make([][2]string, 0, len(h))
	for _, name := range names {
		for _, value := range h[name] {
			list = append(list, [2]string{name, value})
		}
	}
	return list
}
