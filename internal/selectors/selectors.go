// Package selectors evaluates CSS selectors against rendered or plain HTML
// and tracks the embedded, hot-reloadable Cloudflare challenge fingerprints.
package selectors

import (
	"embed"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/Rorqualx/alita/internal/types"
)

//go:embed selectors.yaml
var defaultSelectorsFS embed.FS

// Selectors holds the fingerprints used to recognize a Cloudflare
// interstitial challenge page.
type Selectors struct {
	CloudflareChallengeSelectors []string `yaml:"cloudflare_challenge_selectors"`
	CloudflareTextMarkers        []string `yaml:"cloudflare_text_markers"`
}

var (
	instance *Selectors
	once     sync.Once
)

// Get returns the singleton embedded Selectors, used whenever a Manager is
// built without an external override file.
func Get() *Selectors {
	once.Do(func() {
		s, err := load()
		if err != nil {
			log.Error().Err(err).Msg("failed to load embedded selectors, using empty set")
			s = &Selectors{}
		}
		instance = s
	})
	return instance
}

func load() (*Selectors, error) {
	data, err := defaultSelectorsFS.ReadFile("selectors.yaml")
	if err != nil {
		return nil, err
	}
	var s Selectors
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Exists reports whether selector matches any node in html. A malformed CSS
// selector is surfaced as a validation error naming the field it came from,
// matching the original's behavior of rejecting bad selectors outright
// rather than treating them as "no match".
func Exists(html, selector, field string) (bool, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return false, types.NewInternalError("failed to parse HTML", err)
	}
	found, findErr := safeFind(doc, selector)
	if findErr != nil {
		return false, types.NewValidationError(field, "invalid CSS selector: "+selector, nil)
	}
	return found, nil
}

// DetectCloudflareChallenge returns the first matching selector or text
// marker that identifies html as a Cloudflare interstitial, or "" if none
// match.
func (s *Selectors) DetectCloudflareChallenge(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}
	for _, sel := range s.CloudflareChallengeSelectors {
		if exists, err := safeFind(doc, sel); err == nil && exists {
			return sel
		}
	}
	text := strings.ToLower(doc.Text())
	for _, marker := range s.CloudflareTextMarkers {
		if strings.Contains(text, marker) {
			return marker
		}
	}
	return ""
}

func safeFind(doc *goquery.Document, selector string) (exists bool, err error) {
	// goquery's Find treats a selector it cannot compile as matching nothing,
	// so compile it first to tell "malformed" apart from "no match".
	if _, cerr := cascadia.Compile(selector); cerr != nil {
		return false, cerr
	}
	defer func() {
		if r := recover(); r != nil {
			exists, err = false, types.NewInternalError("invalid cloudflare selector", nil)
		}
	}()
	return doc.Find(selector).Length() > 0, nil
}

// EvaluatePlainHTML checks a plain-HTTP response body against the request's
// wait_for_element and browser_on_elements selectors, and additionally
// reports a Cloudflare challenge marker if one is present. The Cloudflare
// marker is an extra, non-load-bearing escalation signal — callers are not
// required to act on it.
func EvaluatePlainHTML(html, waitSelector string, browserOnElements []string, cf *Selectors) (waitPresent bool, blockingSelector string, cloudflareMarker string, err error) {
	waitPresent = true
	if waitSelector != "" {
		waitPresent, err = Exists(html, waitSelector, "wait_for_element")
		if err != nil {
			return false, "", "", err
		}
	}

	for _, sel := range browserOnElements {
		found, ferr := Exists(html, sel, "browser_on_elements")
		if ferr != nil {
			return false, "", "", ferr
		}
		if found {
			blockingSelector = sel
			break
		}
	}

	if cf != nil {
		cloudflareMarker = cf.DetectCloudflareChallenge(html)
	}

	return waitPresent, blockingSelector, cloudflareMarker, nil
}
