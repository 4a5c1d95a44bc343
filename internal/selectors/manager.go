package selectors

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

const debounceDelay = 100 * time.Millisecond

// Manager provides hot-reload capable Cloudflare-selector management. Reads
// are lock-free via atomic.Value; an optional external YAML file is watched
// for changes and merged over the embedded defaults.
type Manager struct {
	embedded     *Selectors
	current      atomic.Value // *Selectors
	externalPath string
	watcher      *fsnotify.Watcher
	stopCh       chan struct{}
	wg           sync.WaitGroup
	mu           sync.Mutex
	reloadCount  int64
	lastError    error
	closed       bool
}

// NewManager builds a Manager. If externalPath is empty, only the embedded
// defaults are used. If hotReload is true and externalPath is set, file
// writes trigger an automatic reload.
func NewManager(externalPath string, hotReload bool) (*Manager, error) {
	m := &Manager{
		embedded: Get(),
		stopCh:   make(chan struct{}),
	}
	m.current.Store(m.embedded)

	if externalPath == "" {
		return m, nil
	}
	m.externalPath = externalPath

	if err := m.loadExternal(); err != nil {
		log.Warn().Err(err).Str("path", externalPath).Msg("failed to load external selectors, using embedded defaults")
	} else {
		log.Info().Str("path", externalPath).Msg("loaded external selectors file")
	}

	if hotReload {
		if err := m.startWatcher(); err != nil {
			log.Warn().Err(err).Str("path", externalPath).Msg("failed to start file watcher, hot-reload disabled")
		} else {
			log.Info().Str("path", externalPath).Msg("hot-reload enabled for selectors file")
		}
	}

	return m, nil
}

// Get returns the currently active Selectors.
func (m *Manager) Get() *Selectors {
	return m.current.Load().(*Selectors)
}

// Reload re-reads the external file (if configured) and swaps it in.
func (m *Manager) Reload() error {
	if m.externalPath == "" {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loadExternalLocked()
}

// Close stops the file watcher, if any.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	close(m.stopCh)
	if m.watcher != nil {
		_ = m.watcher.Close()
	}
	m.wg.Wait()
	return nil
}

func (m *Manager) loadExternal() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loadExternalLocked()
}

func (m *Manager) loadExternalLocked() error {
	data, err := os.ReadFile(m.externalPath)
	if err != nil {
		m.lastError = err
		return err
	}
	var external Selectors
	if err := yaml.Unmarshal(data, &external); err != nil {
		m.lastError = err
		return err
	}
	m.current.Store(m.mergeWithEmbedded(&external))
	m.reloadCount++
	m.lastError = nil
	return nil
}

// mergeWithEmbedded supplements the external file with any embedded entries
// it omits, so a partial override file never loses the built-in defaults.
func (m *Manager) mergeWithEmbedded(external *Selectors) *Selectors {
	merged := &Selectors{
		CloudflareChallengeSelectors: mergeUnique(m.embedded.CloudflareChallengeSelectors, external.CloudflareChallengeSelectors),
		CloudflareTextMarkers:        mergeUnique(m.embedded.CloudflareTextMarkers, external.CloudflareTextMarkers),
	}
	return merged
}

func mergeUnique(base, extra []string) []string {
	seen := make(map[string]bool, len(base)+len(extra))
	merged := make([]string, 0, len(base)+len(extra))
	for _, v := range append(append([]string{}, extra...), base...) {
		if !seen[v] {
			seen[v] = true
			merged = append(merged, v)
		}
	}
	return merged
}

func (m *Manager) startWatcher() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := watcher.Add(m.externalPath); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch file: %w", err)
	}
	m.watcher = watcher
	m.wg.Add(1)
	go m.watchFile()
	return nil
}

func (m *Manager) watchFile() {
	defer m.wg.Done()

	var debounceTimer *time.Timer
	var debouncing bool

	for {
		select {
		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			log.Debug().Str("event", event.Op.String()).Str("file", event.Name).Msg("selectors file changed")

			if debouncing {
				if !debounceTimer.Stop() {
					select {
					case <-debounceTimer.C:
					default:
					}
				}
				debounceTimer.Reset(debounceDelay)
			} else {
				debouncing = true
				debounceTimer = time.AfterFunc(debounceDelay, func() {
					if err := m.Reload(); err != nil {
						log.Warn().Err(err).Str("path", m.externalPath).Msg("hot-reload failed, keeping previous selectors")
					}
					debouncing = false
				})
			}

		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("file watcher error")

		case <-m.stopCh:
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return
		}
	}
}
