package config

import (
	"context"
	"encoding/json"
	"hash/fnv"
	"sync"

	"versebot/internal/fswatch"
	logx "versebot/pkg/logx"
)

// Manager holds the current config and republishes it when the file
// changes. A change that fails to parse or validate is logged and dropped;
// the previous config stays current.
type Manager struct {
	path string
	log  logx.Logger

	mu       sync.RWMutex
	cfg      *Config
	lastHash uint64

	// subsMu guards subs and makes sure we never send on a channel that is
	// concurrently being closed in Unsubscribe.
	subsMu sync.Mutex
	subs   []chan *Config
}

func NewManager(path string, log logx.Logger) *Manager {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Manager{path: path, log: log}
}

// SetLogger replaces the bootstrap logger. Call it before Watch.
func (m *Manager) SetLogger(log logx.Logger) {
	if !log.IsZero() {
		m.log = log
	}
}

// Load reads and validates the file and makes it current.
func (m *Manager) Load() (*Config, error) {
	cfg, err := Load(m.path)
	if err != nil {
		return nil, err
	}
	m.commit(cfg)
	return cfg, nil
}

func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

func (m *Manager) commit(cfg *Config) {
	m.mu.Lock()
	m.cfg = cfg
	m.lastHash = hashConfig(cfg)
	m.mu.Unlock()
}

// Subscribe returns a channel that receives every newly committed config.
// A slow subscriber only ever misses intermediate versions, never the
// latest one.
func (m *Manager) Subscribe(buffer int) chan *Config {
	if buffer <= 0 {
		buffer = 1
	}
	ch := make(chan *Config, buffer)
	m.subsMu.Lock()
	m.subs = append(m.subs, ch)
	m.subsMu.Unlock()
	return ch
}

func (m *Manager) Unsubscribe(ch chan *Config) {
	if ch == nil {
		return
	}
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for i, s := range m.subs {
		if s == ch {
			last := len(m.subs) - 1
			m.subs[i] = m.subs[last]
			m.subs[last] = nil
			m.subs = m.subs[:last]
			close(ch)
			return
		}
	}
}

func (m *Manager) publish(cfg *Config) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for _, ch := range m.subs {
		select {
		case ch <- cfg:
			continue
		default:
		}
		// full: drop the oldest, then push the newest
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- cfg:
		default:
			m.log.Debug("config update dropped (subscriber slow)", logx.Int("queue_cap", cap(ch)))
		}
	}
}

// Reload re-reads the file and publishes it when it differs from the
// current config. It reports whether a new config was committed.
func (m *Manager) Reload() (bool, error) {
	cfg, err := Load(m.path)
	if err != nil {
		return false, err
	}
	h := hashConfig(cfg)
	m.mu.RLock()
	unchanged := h != 0 && h == m.lastHash
	m.mu.RUnlock()
	if unchanged {
		m.log.Debug("config unchanged; skipping publish", logx.String("path", m.path))
		return false, nil
	}
	m.commit(cfg)
	m.publish(cfg)
	return true, nil
}

// Watch reloads on file changes until ctx is done.
func (m *Manager) Watch(ctx context.Context) error {
	return fswatch.Watch(ctx, m.path, fswatch.DefaultDebounce, m.log.With(logx.String("watch", "config")), func() {
		if _, err := m.Reload(); err != nil {
			m.log.Warn("config rejected; keeping previous", logx.String("path", m.path), logx.Err(err))
		}
	})
}

func hashConfig(cfg *Config) uint64 {
	if cfg == nil {
		return 0
	}
	b, err := json.Marshal(cfg)
	if err != nil {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}
