// Package browser manages the per-domain lifecycle of real Chrome instances
// reached over the DevTools protocol, including lazy startup, tab leasing,
// and idle shutdown.
package browser

import (
	"context"
	"fmt"
	"net/url"
	"runtime"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/rs/zerolog/log"

	"github.com/Rorqualx/alita/internal/config"
	"github.com/Rorqualx/alita/internal/cookieset"
	"github.com/Rorqualx/alita/internal/security"
)

// Manager owns at most one live browser for a single domain, starting it on
// first use and tearing it down after it sits idle with no leased tabs.
type Manager struct {
	cfg    *config.Config
	domain string

	mu         sync.Mutex
	browser    *rod.Browser
	activeTabs int
	lastUsed   time.Time

	idleCancel context.CancelFunc
	idleDone   chan struct{}
}

// NewManager constructs a Manager for domain. No browser process is started
// until the first tab is leased.
func NewManager(cfg *config.Config, domain string) *Manager {
	return &Manager{cfg: cfg, domain: domain}
}

// Domain returns the domain this manager is bound to.
func (m *Manager) Domain() string { return m.domain }

// WithTab leases a fresh tab for the duration of fn, seeding it with cookies
// before fn runs and guaranteeing release — including idle-shutdown
// scheduling — on every exit path.
func (m *Manager) WithTab(ctx context.Context, cookies []cookieset.State, pageURL string, fn func(*rod.Page) error) error {
	page, err := m.acquireTab(ctx, cookies, pageURL)
	if err != nil {
		return err
	}
	defer m.releaseTab(page)
	return fn(page)
}

func (m *Manager) acquireTab(ctx context.Context, cookies []cookieset.State, pageURL string) (*rod.Page, error) {
	m.mu.Lock()
	browser, err := m.ensureBrowserLocked(ctx)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	m.activeTabs++
	m.mu.Unlock()

	// stealth.Page opens the tab and applies go-rod/stealth's baseline
	// navigator/plugin patches in one step; ApplyStealthToPage layers the
	// additional patches the library doesn't cover on top of it.
	page, err := stealth.Page(browser)
	if err != nil {
		m.releaseTab(nil)
		return nil, fmt.Errorf("failed to open tab: %w", err)
	}
	if err := enableDefaultDomains(page); err != nil {
		m.releaseTab(page)
		return nil, fmt.Errorf("failed to enable debug-protocol domains: %w", err)
	}
	if err := ApplyStealthToPage(page); err != nil {
		log.Debug().Err(err).Str("domain", m.domain).Msg("stealth patch failed, continuing")
	}

	if len(cookies) > 0 {
		targetHost := ""
		if parsed, err := url.Parse(pageURL); err == nil {
			targetHost = parsed.Hostname()
		}
		params := make([]*proto.NetworkCookieParam, 0, len(cookies))
		for _, c := range cookies {
			c.Domain = security.SanitizeCookieDomain(c.Domain, targetHost)
			params = append(params, cookieset.ToProtocolParam(c, pageURL))
		}
		if err := SetCookies(page, params); err != nil {
			m.releaseTab(page)
			return nil, fmt.Errorf("failed to install cookies: %w", err)
		}
	}

	return page, nil
}

func (m *Manager) releaseTab(page *rod.Page) {
	if page != nil {
		_ = page.Close()
	}

	m.mu.Lock()
	if m.activeTabs > 0 {
		m.activeTabs--
	}
	m.lastUsed = time.Now()
	if m.activeTabs == 0 {
		m.scheduleIdleShutdownLocked()
	}
	m.mu.Unlock()
}

// ensureBrowserLocked starts the browser if it is not already running. The
// caller must hold m.mu.
func (m *Manager) ensureBrowserLocked(ctx context.Context) (*rod.Browser, error) {
	if m.browser != nil {
		return m.browser, nil
	}

	l := createLauncher(m.cfg)
	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	b := rod.New().ControlURL(controlURL).Context(ctx)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}

	m.browser = b
	m.lastUsed = time.Now()
	log.Debug().Str("domain", m.domain).Msg("browser started")
	return m.browser, nil
}

// scheduleIdleShutdownLocked ensures at most one idle-shutdown task is
// pending for this manager, cancelling and replacing any earlier one. The
// caller must hold m.mu.
func (m *Manager) scheduleIdleShutdownLocked() {
	if m.idleCancel != nil {
		m.idleCancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	m.idleCancel = cancel
	m.idleDone = done

	idle := m.cfg.BrowserIdleWait
	go func() {
		defer close(done)
		select {
		case <-ctx.Done():
			return
		case <-time.After(idle):
		}
		m.mu.Lock()
		defer m.mu.Unlock()
		if ctx.Err() != nil {
			return
		}
		m.idleCancel = nil
		m.idleDone = nil
		if m.browser != nil && m.activeTabs == 0 && time.Since(m.lastUsed) >= idle {
			if err := m.browser.Close(); err != nil {
				log.Warn().Err(err).Str("domain", m.domain).Msg("error closing idle browser")
			}
			m.browser = nil
			log.Debug().Str("domain", m.domain).Msg("browser stopped after idle timeout")
		}
	}()
}

// Shutdown cancels any pending idle task and stops the browser unconditionally.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	cancel := m.idleCancel
	done := m.idleDone
	m.idleCancel = nil
	m.idleDone = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.browser == nil {
		return nil
	}
	err := m.browser.Close()
	m.browser = nil
	return err
}

// ExportCookies reads every cookie from the live browser, filtered to those
// that apply to url. Returns an empty slice if no browser is running.
func (m *Manager) ExportCookies(url string) ([]cookieset.State, error) {
	m.mu.Lock()
	b := m.browser
	m.mu.Unlock()
	if b == nil {
		return nil, nil
	}

	result, err := proto.NetworkGetAllCookies{}.Call(b)
	if err != nil {
		return nil, fmt.Errorf("failed to read cookies: %w", err)
	}

	states := make([]cookieset.State, 0, len(result.Cookies))
	for _, c := range result.Cookies {
		state := cookieset.FromProtocolCookie(c)
		if cookieset.Matches(state, url) {
			states = append(states, state)
		}
	}
	return states, nil
}

func enableDefaultDomains(page *rod.Page) error {
	if err := proto.NetworkEnable{}.Call(page); err != nil {
		return err
	}
	if err := proto.PageEnable{}.Call(page); err != nil {
		return err
	}
	if err := proto.DOMEnable{}.Call(page); err != nil {
		return err
	}
	return nil
}

// createLauncher builds the fixed anti-detection flag set shared by every
// domain's first browser start. Kept as a standalone function so the flag
// set can be unit-tested without launching a real browser.
func createLauncher(cfg *config.Config) *launcher.Launcher {
	l := launcher.New()

	if cfg.BrowserPath != "" {
		l = l.Bin(cfg.BrowserPath)
	}

	if cfg.Headless {
		l = l.Set("headless", "new")
	} else {
		l = l.Headless(false)
	}

	if cfg.DisableSandbox {
		l = l.Set("no-sandbox").Set("disable-setuid-sandbox")
	}

	l = l.Set("disable-dev-shm-usage").
		Set("disable-popup-blocking").
		Set("disable-background-timer-throttling").
		Set("no-default-browser-check").
		Set("force-webrtc-ip-handling-policy", "disable_non_proxied_udp").
		Set("disable-blink-features", "AutomationControlled").
		Set("disable-features", "Translate,TranslateUI,BlinkGenPropertyTrees,WebRtcHideLocalIpsWithMdns").
		Set("use-gl", "swiftshader").
		Set("use-angle", "swiftshader").
		Set("window-size", "1920,1080").
		Set("js-flags", "--max-old-space-size=256")

	if runtime.GOARCH == "arm64" || runtime.GOARCH == "arm" {
		l = l.Set("disable-gpu-compositing")
	}

	return l
}
