package browser

import (
	"context"
	"testing"

	"github.com/Rorqualx/alita/internal/config"
)

func TestPoolGetCreatesOncePerDomain(t *testing.T) {
	p := NewPool(&config.Config{Headless: true, BrowserIdleWait: 1})

	a := p.Get("example.com")
	b := p.Get("example.com")
	if a != b {
		t.Error("expected the same manager for repeated Get calls on the same domain")
	}

	c := p.Get("other.com")
	if a == c {
		t.Error("expected distinct managers for distinct domains")
	}
}

func TestPoolShutdownClearsManagers(t *testing.T) {
	p := NewPool(&config.Config{Headless: true, BrowserIdleWait: 1})
	p.Get("example.com")
	p.Get("other.com")

	p.Shutdown(context.Background())

	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.managers) != 0 {
		t.Errorf("expected managers cleared after shutdown, got %d", len(p.managers))
	}
}
