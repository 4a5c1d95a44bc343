// Package cookieset reconciles cookie state across the three shapes it
// passes through: the Chrome DevTools Protocol, the outbound plain-HTTP
// client's jar, and the per-domain session snapshot carried between
// browser and plain flows.
package cookieset

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/go-rod/rod/lib/proto"
)

// State is the domain-independent representation of one cookie, used as
// the common currency between CDP, net/http, and the session store.
type State struct {
	Name     string
	Value    string
	Domain   string
	Path     string
	Secure   bool
	HTTPOnly bool
	Expires  float64
}

// Key identifies a cookie for merge/dedupe purposes: name, bare domain
// (leading dot stripped), and path — mirroring the original's tuple key.
type Key struct {
	Name   string
	Domain string
	Path   string
}

// Key returns the identity triple used to merge and deduplicate cookies.
func (s State) Key() Key {
	domain := strings.TrimPrefix(s.Domain, ".")
	path := s.Path
	if path == "" {
		path = "/"
	}
	return Key{Name: s.Name, Domain: domain, Path: path}
}

// FromProtocolCookie converts a CDP-reported cookie into a State.
func FromProtocolCookie(c *proto.NetworkCookie) State {
	return State{
		Name:     c.Name,
		Value:    c.Value,
		Domain:   c.Domain,
		Path:     c.Path,
		Secure:   c.Secure,
		HTTPOnly: c.HTTPOnly,
		Expires:  float64(c.Expires),
	}
}

// FromHTTPCookie converts a net/http cookie (as set by the outbound client's
// jar after a plain-flow response) into a State.
func FromHTTPCookie(c *http.Cookie) State {
	return State{
		Name:     c.Name,
		Value:    c.Value,
		Domain:   c.Domain,
		Path:     c.Path,
		Secure:   c.Secure,
		HTTPOnly: c.HttpOnly,
	}
}

// ToProtocolParam converts a State into the CDP shape used to seed cookies
// onto a page before navigation. When the cookie carries no domain, url is
// used instead so the browser scopes it to the navigation target.
func ToProtocolParam(s State, pageURL string) *proto.NetworkCookieParam {
	param := &proto.NetworkCookieParam{
		Name:     s.Name,
		Value:    s.Value,
		Domain:   s.Domain,
		Path:     s.Path,
		Secure:   s.Secure,
		HTTPOnly: s.HTTPOnly,
	}
	if param.Path == "" {
		param.Path = "/"
	}
	if s.Domain == "" {
		param.URL = pageURL
	}
	return param
}

// Matches reports whether a cookie's domain applies to the host in url,
// mirroring cookie_matches: a cookie with no recorded domain is treated as
// matching everything (it was scoped by the browser already).
func Matches(s State, rawURL string) bool {
	host := hostOf(rawURL)
	if host == "" {
		return true
	}
	domain := strings.TrimPrefix(s.Domain, ".")
	return domain == "" || host == domain || strings.HasSuffix(host, "."+domain)
}

// Filter keeps only the cookies whose domain applies to url, defaulting an
// empty domain to the URL's own host before comparing — used when a prior
// session's cookies are replayed against a plain-HTTP request.
func Filter(cookies []State, rawURL string) []State {
	host := hostOf(rawURL)
	if host == "" {
		out := make([]State, len(cookies))
		copy(out, cookies)
		return out
	}
	filtered := make([]State, 0, len(cookies))
	for _, c := range cookies {
		domain := c.Domain
		if domain == "" {
			domain = host
		}
		domain = strings.TrimPrefix(domain, ".")
		if domain == "" || host == domain || strings.HasSuffix(host, "."+domain) {
			filtered = append(filtered, c)
		}
	}
	return filtered
}

// Merge overlays updates onto existing, keyed by identity triple, so a
// cookie refreshed by a later response replaces its earlier value while
// untouched cookies are preserved. The result lists keys in the order they
// were first seen; a replaced cookie keeps its original position.
func Merge(existing, updates []State) []State {
	merged := make(map[Key]State, len(existing)+len(updates))
	order := make([]Key, 0, len(existing)+len(updates))
	for _, c := range existing {
		k := c.Key()
		if _, ok := merged[k]; !ok {
			order = append(order, k)
		}
		merged[k] = c
	}
	for _, c := range updates {
		k := c.Key()
		if _, ok := merged[k]; !ok {
			order = append(order, k)
		}
		merged[k] = c
	}
	result := make([]State, 0, len(order))
	for _, k := range order {
		result = append(result, merged[k])
	}
	return result
}

// ToRequestJar builds the *http.Cookie slice to attach to an outbound
// plain-HTTP request, defaulting an absent path to "/".
func ToRequestJar(cookies []State) []*http.Cookie {
	jar := make([]*http.Cookie, 0, len(cookies))
	for _, c := range cookies {
		path := c.Path
		if path == "" {
			path = "/"
		}
		jar = append(jar, &http.Cookie{
			Name:  c.Name,
			Value: c.Value,
			Path:  path,
		})
	}
	return jar
}

func hostOf(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(parsed.Hostname())
}
