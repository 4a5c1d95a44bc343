package browser

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/Rorqualx/alita/internal/config"
)

// Pool maps each domain to its own lazily-started Manager, so Cloudflare
// clearance, cookies, and browser lifetime stay isolated per origin.
type Pool struct {
	cfg *config.Config

	mu       sync.Mutex
	managers map[string]*Manager
}

// NewPool constructs an empty pool. No browsers are started until a caller
// requests a manager for a domain.
func NewPool(cfg *config.Config) *Pool {
	return &Pool{cfg: cfg, managers: make(map[string]*Manager)}
}

// Get returns the Manager for domain, creating it on first use.
func (p *Pool) Get(domain string) *Manager {
	p.mu.Lock()
	defer p.mu.Unlock()

	m, ok := p.managers[domain]
	if !ok {
		m = NewManager(p.cfg, domain)
		p.managers[domain] = m
	}
	return m
}

// Shutdown stops every manager's browser in parallel, ignoring individual
// failures so one stuck domain cannot block the others.
func (p *Pool) Shutdown(ctx context.Context) {
	p.mu.Lock()
	managers := make([]*Manager, 0, len(p.managers))
	for _, m := range p.managers {
		managers = append(managers, m)
	}
	p.managers = make(map[string]*Manager)
	p.mu.Unlock()

	g, _ := errgroup.WithContext(ctx)
	for _, m := range managers {
		m := m
		g.Go(func() error {
			if err := m.Shutdown(); err != nil {
				log.Warn().Err(err).Str("domain", m.Domain()).Msg("error during browser shutdown")
			}
			return nil
		})
	}
	_ = g.Wait()
}
