package types

import (
	"encoding/json"
	"strings"
)

// FetchRequest is the decoded and normalized body of POST /get.
type FetchRequest struct {
	URL               string
	WaitForElement    string // trimmed; empty means absent
	BrowserOnElements []string
	WaitTimeoutSec    float64
}

// rawFetchRequest mirrors the wire shape before normalization.
// BrowserOnElements accepts either a bare string or a list of strings —
// a tagged shape standing in for the dynamically-typed source field.
type rawFetchRequest struct {
	URL               string          `json:"url"`
	WaitForElement    *string         `json:"wait_for_element,omitempty"`
	BrowserOnElements json.RawMessage `json:"browser_on_elements,omitempty"`
	WaitTimeout       *float64        `json:"wait_timeout,omitempty"`
}

// DefaultWaitTimeoutSec is used when the request omits wait_timeout.
const DefaultWaitTimeoutSec = 10.0

// ParseFetchRequest decodes and normalizes a POST /get body.
func ParseFetchRequest(body []byte) (FetchRequest, error) {
	var raw rawFetchRequest
	if err := json.Unmarshal(body, &raw); err != nil {
		return FetchRequest{}, NewValidationError("body", "malformed JSON request body", err)
	}

	req := FetchRequest{
		URL:            strings.TrimSpace(raw.URL),
		WaitTimeoutSec: DefaultWaitTimeoutSec,
	}

	if req.URL == "" {
		return FetchRequest{}, NewValidationError("url", "url is required", nil)
	}

	if raw.WaitForElement != nil {
		if trimmed := strings.TrimSpace(*raw.WaitForElement); trimmed != "" {
			req.WaitForElement = trimmed
		}
	}

	elements, err := normalizeBrowserOnElements(raw.BrowserOnElements)
	if err != nil {
		return FetchRequest{}, err
	}
	req.BrowserOnElements = elements

	if raw.WaitTimeout != nil {
		if *raw.WaitTimeout <= 0 || *raw.WaitTimeout > 120 {
			return FetchRequest{}, NewValidationError("wait_timeout", "wait_timeout must be greater than 0 and at most 120", nil)
		}
		req.WaitTimeoutSec = *raw.WaitTimeout
	}

	return req, nil
}

// normalizeBrowserOnElements accepts a single string, a list of strings, or
// an absent/null field, and returns a list of trimmed, non-empty selectors.
func normalizeBrowserOnElements(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return []string{}, nil
	}

	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return trimNonEmpty([]string{asString}), nil
	}

	var asList []string
	if err := json.Unmarshal(raw, &asList); err == nil {
		return trimNonEmpty(asList), nil
	}

	return nil, NewValidationError("browser_on_elements", "must be a string or a list of strings", nil)
}

func trimNonEmpty(values []string) []string {
	result := make([]string, 0, len(values))
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

// HeaderPair is one entry of the ordered, duplicate-preserving header list
// returned to callers.
type HeaderPair struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// FetchResponse is the wire shape returned from POST /get.
type FetchResponse struct {
	StatusCode  int          `json:"status_code"`
	UsedBrowser bool         `json:"used_browser"`
	Headers     []HeaderPair `json:"headers"`
	Body        string       `json:"body"`
}

// AggregateHeaders lower-cases header names for the wire response, preserving
// order and duplicates.
func AggregateHeaders(headers [][2]string) []HeaderPair {
	pairs := make([]HeaderPair, 0, len(headers))
	for _, h := range headers {
		pairs = append(pairs, HeaderPair{Name: strings.ToLower(h[0]), Value: h[1]})
	}
	return pairs
}
