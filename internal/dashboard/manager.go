package dashboard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/kjannette/stockwatch-backend/internal/models"
	"github.com/kjannette/stockwatch-backend/internal/policy"
	"github.com/kjannette/stockwatch-backend/internal/session"
	"github.com/kjannette/stockwatch-backend/internal/watchlist"
)

type Config struct {
	Client          watchlist.QuoteClient
	Store           watchlist.Store      // nil disables persistence
	Profiles        session.ProfileStore // nil skips profile upserts
	Verifier        session.Verifier
	Notifier        watchlist.Notifier
	Defaults        []string
	RefreshInterval time.Duration
	NewsLimit       int
	Limits          policy.Limits
	RecordQuotes    bool
	IdleTimeout     time.Duration // zero disables reaping
}

// Session is one open dashboard: a tracker driving a controller.
type Session struct {
	ID         string
	CreatedAt  time.Time
	Tracker    *session.Tracker
	Controller *watchlist.Controller

	unsubscribe func()
	lastSeen    atomic.Int64
}

func (s *Session) touch(now time.Time) { s.lastSeen.Store(now.UnixNano()) }

func (s *Session) LastSeen() time.Time { return time.Unix(0, s.lastSeen.Load()) }

func (s *Session) close() {
	s.unsubscribe()
	s.Controller.Close()
}

// Manager owns every open dashboard session.
type Manager struct {
	cfg Config
	now func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
	running  bool
	stopCh   chan struct{}
}

func NewManager(cfg Config) *Manager {
	return &Manager{
		cfg:      cfg,
		now:      time.Now,
		sessions: make(map[string]*Session),
	}
}

// Create opens a dashboard session. The tracker's initial delivery installs
// the default watchlist before the refresh loop starts.
func (m *Manager) Create(ctx context.Context) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	id := uuid.NewString()

	ctrl, err := watchlist.New(watchlist.Config{
		Name:            id,
		Client:          m.cfg.Client,
		Store:           m.cfg.Store,
		Defaults:        m.cfg.Defaults,
		RefreshInterval: m.cfg.RefreshInterval,
		NewsLimit:       m.cfg.NewsLimit,
		Limits:          m.cfg.Limits,
		Notifier:        m.cfg.Notifier,
		RecordQuotes:    m.cfg.RecordQuotes,
	})
	if err != nil {
		return nil, fmt.Errorf("create controller: %w", err)
	}

	tracker := session.NewTracker(m.cfg.Verifier, m.cfg.Profiles)
	unsubscribe := tracker.Subscribe(func(ident *models.Identity) {
		rctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := ctrl.SetIdentity(rctx, ident); err != nil && !errors.Is(err, watchlist.ErrClosed) {
			fmt.Printf("[SESSION] %s reconcile failed: %v\n", id, err)
		}
	})

	s := &Session{
		ID:          id,
		CreatedAt:   m.now().UTC(),
		Tracker:     tracker,
		Controller:  ctrl,
		unsubscribe: unsubscribe,
	}
	s.touch(m.now())

	if err := ctrl.Start(); err != nil {
		s.close()
		return nil, err
	}

	m.mu.Lock()
	m.sessions[id] = s
	n := len(m.sessions)
	m.mu.Unlock()

	fmt.Printf("[SESSION] Opened %s (%d active)\n", id, n)
	return s, nil
}

// Get returns the session and marks it as recently used.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	m.mu.Unlock()
	if ok {
		s.touch(m.now())
	}
	return s, ok
}

func (m *Manager) Close(id string) bool {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return false
	}
	s.close()
	fmt.Printf("[SESSION] Closed %s\n", id)
	return true
}

func (m *Manager) CloseAll() {
	m.mu.Lock()
	all := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	clear(m.sessions)
	m.mu.Unlock()

	for _, s := range all {
		s.close()
	}
	if len(all) > 0 {
		fmt.Printf("[SESSION] Closed %d sessions\n", len(all))
	}
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Reap closes sessions idle longer than the configured timeout and returns
// how many were closed.
func (m *Manager) Reap() int {
	if m.cfg.IdleTimeout <= 0 {
		return 0
	}
	cutoff := m.now().Add(-m.cfg.IdleTimeout)

	m.mu.Lock()
	var idle []*Session
	for id, s := range m.sessions {
		if s.LastSeen().Before(cutoff) {
			idle = append(idle, s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, s := range idle {
		s.close()
		fmt.Printf("[SESSION] Reaped idle %s\n", s.ID)
	}
	return len(idle)
}

// StartJanitor reaps idle sessions every interval until StopJanitor.
func (m *Manager) StartJanitor(interval time.Duration) {
	m.mu.Lock()
	if m.running || m.cfg.IdleTimeout <= 0 {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.stopCh = make(chan struct{})
	stopCh := m.stopCh
	m.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stopCh:
				return
			case <-ticker.C:
				m.Reap()
			}
		}
	}()
	fmt.Printf("[SESSION] Janitor started (idle timeout %s)\n", m.cfg.IdleTimeout)
}

func (m *Manager) StopJanitor() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return
	}
	close(m.stopCh)
	m.running = false
}
