package document

import (
	"fmt"
	"github.com/cespare/xxhash/v2"
	"sync"
	"time"
)

// State is a snapshot of a document.
type State struct {
	Content      string
	Version      int64
	Checksum     string
	LastModified time.Time
}

// Manager owns a document state. Apply and Sync are the only ways to change it.
type Manager struct {
	mu    sync.RWMutex
	state State
	now   func() time.Time
}

func NewManager(now func() time.Time) *Manager {
	if now == nil {
		now = time.Now
	}
	return &Manager{now: now}
}

// Apply mutates the content with op and bumps the version by one.
func (m *Manager) Apply(op Operation) State {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state.Content = op.Apply(m.state.Content)
	m.state.Version++
	m.state.Checksum = ""
	m.state.LastModified = m.now()
	return m.state
}

// Sync replaces the whole state, as received from the server.
func (m *Manager) Sync(s State) State {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s.LastModified.IsZero() {
		s.LastModified = m.now()
	}
	m.state = s
	return m.state
}

func (m *Manager) Content() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.Content
}

func (m *Manager) Version() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.Version
}

func (m *Manager) Snapshot() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Checksum returns the integrity token the relay server attaches to sync
// responses.
func Checksum(content string) string {
	return fmt.Sprintf("xxh64:%016x", xxhash.Sum64String(content))
}
