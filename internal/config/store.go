package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/odacrun/odac/internal/models"
)

// ServerModule holds daemon-wide, non-domain-specific state: the control
// IPC's current auth token and bookkeeping timestamps. It is its own
// Config Store module because it changes on a different rhythm than the
// website/service data (a fresh token every boot, regardless of whether
// any website was touched).
type ServerModule struct {
	AuthToken        string `json:"auth_token"`
	InstanceID       string `json:"instance_id"`
	StartedAtEpochMs int64  `json:"started_at"`
}

// moduleState is one named module of the Config Store: an in-memory value
// of type T, a lock that makes it the single writer for that value, and a
// dirty flag the periodic flusher consults.
//
// the zero value of moduleState is not usable; construct with newModule.
type moduleState[T any] struct {
	mu    sync.Mutex
	name  string
	path  string
	data  T
	dirty bool
}

func newModule[T any](dir, name string, zero T) *moduleState[T] {
	return &moduleState[T]{
		name: name,
		path: filepath.Join(dir, name+".json"),
		data: zero,
	}
}

// load reads the module's JSON file from disk. A missing file is not an
// error (first boot); a file that fails to parse triggers .bak recovery,
// and the unreadable original is preserved as <name>.json.corrupted so an
// operator can inspect it later.
func (m *moduleState[T]) load(logger *slog.Logger) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	raw, err := os.ReadFile(m.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("config: read %s: %w", m.path, err)
	}

	if err := json.Unmarshal(raw, &m.data); err != nil {
		logger.Warn("config module corrupted, attempting .bak recovery",
			"module", m.name, "error", err)
		return m.recoverFromBackup(logger)
	}
	return nil
}

func (m *moduleState[T]) recoverFromBackup(logger *slog.Logger) error {
	bakPath := m.path + ".bak"
	bak, err := os.ReadFile(bakPath)
	if err != nil {
		return fmt.Errorf("config: module %s corrupted and no usable backup: %w", m.name, err)
	}

	var recovered T
	if err := json.Unmarshal(bak, &recovered); err != nil {
		return fmt.Errorf("config: module %s backup also corrupted: %w", m.name, err)
	}

	corruptedPath := m.path + ".corrupted"
	if raw, readErr := os.ReadFile(m.path); readErr == nil {
		_ = os.WriteFile(corruptedPath, raw, 0o644)
	}
	if err := os.Rename(bakPath, m.path); err != nil {
		return fmt.Errorf("config: promote backup for module %s: %w", m.name, err)
	}

	m.data = recovered
	logger.Info("config module recovered from backup", "module", m.name)
	return nil
}

// with locks the module, hands the caller a pointer to the live value to
// mutate in place, and marks the module dirty so the next flush cycle
// persists the change. this is the Config Store's "get() returns a live,
// mutable view" contract made type-safe: T is whatever struct or map the
// module holds.
func (m *moduleState[T]) with(mutate func(*T)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mutate(&m.data)
	m.dirty = true
}

// view locks the module just long enough to run a read-only callback.
// does not mark the module dirty.
func (m *moduleState[T]) view(read func(T)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	read(m.data)
}

// flush writes the module to disk if and only if it is dirty, using the
// tmp -> bak -> rename sequence: readers of the final path always see
// either the complete pre-write or complete post-write content, never a
// partial write, because rename is atomic on the same filesystem.
func (m *moduleState[T]) flush() error {
	m.mu.Lock()
	if !m.dirty {
		m.mu.Unlock()
		return nil
	}
	snapshot := m.data
	m.mu.Unlock()

	encoded, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("config: marshal module %s: %w", m.name, err)
	}

	tmpPath := m.path + ".tmp"
	if err := os.WriteFile(tmpPath, encoded, 0o644); err != nil {
		return fmt.Errorf("config: write tmp for module %s: %w", m.name, err)
	}

	if existing, err := os.ReadFile(m.path); err == nil {
		_ = os.WriteFile(m.path+".bak", existing, 0o644)
	}

	if err := os.Rename(tmpPath, m.path); err != nil {
		return fmt.Errorf("config: rename tmp into place for module %s: %w", m.name, err)
	}

	m.mu.Lock()
	m.dirty = false
	m.mu.Unlock()
	return nil
}

// Store is the daemon's durable configuration tree, partitioned into
// independently-persisted modules. Every supervisor reads and mutates it
// instead of touching files directly; Store is the only thing that knows
// the on-disk layout.
type Store struct {
	dir    string
	logger *slog.Logger

	server   *moduleState[ServerModule]
	web      *moduleState[map[string]models.Website]
	services *moduleState[map[string]models.Service]
	hub      *moduleState[models.HubCredential]
	firewall *moduleState[models.FirewallPolicy]
	ssl      *moduleState[models.CertDescriptor]

	flushInterval time.Duration
	stop          chan struct{}
	stopped       chan struct{}
}

// NewStore constructs a Store rooted at dir, loading every module from
// disk. dir is created if absent.
func NewStore(dir string, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("config: create config dir: %w", err)
	}

	s := &Store{
		dir:           dir,
		logger:        logger,
		server:        newModule(dir, "server", ServerModule{}),
		web:           newModule(dir, "web", map[string]models.Website{}),
		services:      newModule(dir, "services", map[string]models.Service{}),
		hub:           newModule(dir, "hub", models.HubCredential{}),
		firewall:      newModule(dir, "firewall", models.FirewallPolicy{Enabled: true}),
		ssl:           newModule(dir, "ssl", models.CertDescriptor{}),
		flushInterval: 500 * time.Millisecond,
		stop:          make(chan struct{}),
		stopped:       make(chan struct{}),
	}

	for _, loadErr := range []error{
		s.server.load(logger),
		s.web.load(logger),
		s.services.load(logger),
		s.hub.load(logger),
		s.firewall.load(logger),
		s.ssl.load(logger),
	} {
		if loadErr != nil {
			return nil, loadErr
		}
	}

	return s, nil
}

// Server gives mutating access to the server module.
func (s *Store) Server(mutate func(*ServerModule)) { s.server.with(mutate) }

// ViewServer gives read-only access to the server module.
func (s *Store) ViewServer(read func(ServerModule)) { s.server.view(read) }

// Web gives mutating access to the website map.
func (s *Store) Web(mutate func(map[string]models.Website)) {
	s.web.with(func(m *map[string]models.Website) { mutate(*m) })
}

// ViewWeb gives read-only access to the website map.
func (s *Store) ViewWeb(read func(map[string]models.Website)) { s.web.view(read) }

// Services gives mutating access to the service map.
func (s *Store) Services(mutate func(map[string]models.Service)) {
	s.services.with(func(m *map[string]models.Service) { mutate(*m) })
}

// ViewServices gives read-only access to the service map.
func (s *Store) ViewServices(read func(map[string]models.Service)) { s.services.view(read) }

// Hub gives mutating access to the Hub credential.
func (s *Store) Hub(mutate func(*models.HubCredential)) { s.hub.with(mutate) }

// ViewHub gives read-only access to the Hub credential.
func (s *Store) ViewHub(read func(models.HubCredential)) { s.hub.view(read) }

// Firewall gives mutating access to the firewall policy.
func (s *Store) Firewall(mutate func(*models.FirewallPolicy)) { s.firewall.with(mutate) }

// ViewFirewall gives read-only access to the firewall policy.
func (s *Store) ViewFirewall(read func(models.FirewallPolicy)) { s.firewall.view(read) }

// SSL gives mutating access to the fallback/default certificate used by
// the proxy when a website has no certificate of its own.
func (s *Store) SSL(mutate func(*models.CertDescriptor)) { s.ssl.with(mutate) }

// ViewSSL gives read-only access to the fallback certificate.
func (s *Store) ViewSSL(read func(models.CertDescriptor)) { s.ssl.view(read) }

// Force flushes every dirty module synchronously, ignoring the flush
// interval. Called before handover and on shutdown, where losing the last
// half-second of mutations would be a correctness problem rather than a
// cosmetic one.
func (s *Store) Force() error {
	modules := []interface{ flush() error }{
		s.server, s.web, s.services, s.hub, s.firewall, s.ssl,
	}
	var firstErr error
	for _, m := range modules {
		if err := m.flush(); err != nil {
			s.logger.Error("config flush failed", "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Run starts the periodic flusher. It blocks until Stop is called, so the
// caller should run it in its own goroutine.
func (s *Store) Run() {
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()
	defer close(s.stopped)

	for {
		select {
		case <-ticker.C:
			if err := s.Force(); err != nil {
				s.logger.Warn("periodic config flush encountered an error", "error", err)
			}
		case <-s.stop:
			return
		}
	}
}

// Stop signals Run to exit and waits for it to do so. It does not flush;
// callers that need a final durable write should call Force first.
func (s *Store) Stop() {
	close(s.stop)
	<-s.stopped
}
