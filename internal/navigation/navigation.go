// Package navigation captures the final top-level Document response for a
// browser navigation from the stream of DevTools protocol network events.
package navigation

import (
	"context"
	"errors"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// ResponseInfo is the outcome of one captured navigation: the status and
// headers of the final top-level document response, and the request
// headers the browser actually sent for it.
type ResponseInfo struct {
	StatusCode     int
	Headers        [][2]string
	RequestHeaders map[string]string
}

type documentEvent struct {
	frameID        proto.PageFrameID
	status         int
	headers        [][2]string
	requestHeaders map[string]string
}

// Capture subscribes to a page's Document-typed request/response events and,
// once navigation settles, resolves which response is the authoritative one
// for the frame that was navigated.
type Capture struct {
	mu                sync.Mutex
	requestHeaders    map[proto.NetworkRequestID]map[string]string
	events            []documentEvent
	documentAvailable chan struct{}
	availableOnce     sync.Once
}

// NewCapture builds an unsubscribed Capture. Call Subscribe before issuing
// the navigation command so no early response is missed.
func NewCapture() *Capture {
	return &Capture{
		requestHeaders:    make(map[proto.NetworkRequestID]map[string]string),
		documentAvailable: make(chan struct{}),
	}
}

// Subscribe registers the request/response handlers on page and returns a
// stop function that must be called exactly once, on every exit path, to
// tear down the listener goroutine.
func (c *Capture) Subscribe(page *rod.Page) (stop func()) {
	ctx, cancel := context.WithCancel(context.Background())
	pageCtx := page.Context(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		pageCtx.EachEvent(
			func(e *proto.NetworkRequestWillBeSent) {
				if e.Type != proto.NetworkResourceTypeDocument {
					return
				}
				headers := make(map[string]string, len(e.Request.Headers))
				for k, v := range e.Request.Headers {
					headers[k] = v.Str()
				}
				c.mu.Lock()
				c.requestHeaders[e.RequestID] = headers
				c.mu.Unlock()
			},
			func(e *proto.NetworkResponseReceived) bool {
				if e.Type != proto.NetworkResourceTypeDocument {
					return false
				}
				headers := make([][2]string, 0, len(e.Response.Headers))
				for k, v := range e.Response.Headers {
					headers = append(headers, [2]string{k, v.Str()})
				}

				c.mu.Lock()
				reqHeaders := c.requestHeaders[e.RequestID]
				delete(c.requestHeaders, e.RequestID)
				c.events = append(c.events, documentEvent{
					frameID:        e.FrameID,
					status:         e.Response.Status,
					headers:        headers,
					requestHeaders: reqHeaders,
				})
				c.mu.Unlock()

				c.availableOnce.Do(func() { close(c.documentAvailable) })
				return false
			},
		)()
	}()

	return func() {
		cancel()
		<-done
	}
}

// Await blocks until at least one document response has arrived and
// pageReady is signaled, then selects the response matching frameID,
// falling back to the most recent overall response if none match —
// mirroring a redirect chain that changed frames mid-navigation.
func (c *Capture) Await(ctx context.Context, frameID proto.PageFrameID, pageReady <-chan struct{}) (ResponseInfo, error) {
	select {
	case <-c.documentAvailable:
	case <-ctx.Done():
		return ResponseInfo{}, ctx.Err()
	}
	select {
	case <-pageReady:
	case <-ctx.Done():
		return ResponseInfo{}, ctx.Err()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var selected *documentEvent
	for i := len(c.events) - 1; i >= 0; i-- {
		if c.events[i].frameID == frameID {
			selected = &c.events[i]
			break
		}
	}
	if selected == nil && len(c.events) > 0 {
		selected = &c.events[len(c.events)-1]
	}
	if selected == nil {
		return ResponseInfo{}, errors.New("navigation capture: no document response observed")
	}

	return ResponseInfo{
		StatusCode:     selected.status,
		Headers:        selected.headers,
		RequestHeaders: selected.requestHeaders,
	}, nil
}
