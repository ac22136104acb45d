package session

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/webbridge/webbridge/internal/config"
	"github.com/webbridge/webbridge/internal/engine"
	"github.com/webbridge/webbridge/internal/toolerr"
)

// Info is a read-only view of a session for listings.
type Info struct {
	ID         string    `json:"id"`
	State      State     `json:"state"`
	ProfileDir string    `json:"profileDir"`
	CreatedAt  time.Time `json:"createdAt"`
	LastUsed   time.Time `json:"lastUsed"`
}

// Manager creates, tracks, and reaps sessions. Fixed profile directories
// are exclusive: a second session cannot claim one while the first is
// live.
type Manager struct {
	cfg    *config.Resolved
	launch engine.LaunchFunc
	log    *slog.Logger

	mu        sync.Mutex
	sessions  map[string]*Session
	profiles  map[string]string // fixed profile dir -> owning session id
	defaultID string

	cron *cron.Cron
}

// NewManager builds a manager. launch defaults to the Chrome launcher.
func NewManager(cfg *config.Resolved, launch engine.LaunchFunc) *Manager {
	if launch == nil {
		launch = engine.LaunchChrome
	}
	return &Manager{
		cfg:      cfg,
		launch:   launch,
		log:      slog.Default().With("component", "session-manager"),
		sessions: make(map[string]*Session),
		profiles: make(map[string]string),
	}
}

// Start begins the periodic idle sweep. Call Shutdown to stop it.
func (m *Manager) Start() error {
	m.cron = cron.New()
	if _, err := m.cron.AddFunc("@every 30s", m.sweep); err != nil {
		return err
	}
	m.cron.Start()
	return nil
}

// Create launches a new session. profileDir "" or "auto" allocates a
// fresh directory removed when the session closes; any other value is
// used as-is and must not be claimed by a live session.
func (m *Manager) Create(ctx context.Context, profileDir string) (*Session, error) {
	id := uuid.NewString()

	dir, owns, err := m.claimProfile(id, profileDir)
	if err != nil {
		return nil, err
	}

	eng, err := m.launch(ctx, engine.LaunchOptions{
		ProfileDir:     dir,
		Headless:       m.cfg.Headless,
		NoSandbox:      m.cfg.NoSandbox,
		ExecutablePath: m.cfg.ExecutablePath,
	})
	if err != nil {
		m.releaseProfile(id, dir, owns)
		return nil, err
	}

	s := newSession(id, dir, owns, eng)

	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()

	m.log.Info("session created", "session", id, "profile", dir)
	return s, nil
}

// Get returns a live session by id.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok {
		return nil, toolerr.New(toolerr.KindUnknownSession, "unknown session %q", id)
	}
	if s.State() == StateClosed {
		return nil, toolerr.New(toolerr.KindUnknownSession, "session %q is closed", id)
	}
	return s, nil
}

// Default returns the shared default session, creating it on first use.
// Tool calls that omit a session id land here.
func (m *Manager) Default(ctx context.Context) (*Session, error) {
	m.mu.Lock()
	id := m.defaultID
	m.mu.Unlock()

	if id != "" {
		if s, err := m.Get(id); err == nil {
			return s, nil
		}
	}

	s, err := m.Create(ctx, "")
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.defaultID = s.ID
	m.mu.Unlock()
	return s, nil
}

// Close shuts a session down and forgets it. Closing an already closed
// or unknown session is a no-op.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
		if m.defaultID == id {
			m.defaultID = ""
		}
	}
	m.mu.Unlock()

	if !ok {
		return nil
	}

	err := s.Close()
	m.releaseProfile(id, s.ProfileDir, s.ownsProfile)
	return err
}

// List returns a snapshot of all tracked sessions.
func (m *Manager) List() []Info {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	infos := make([]Info, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, Info{
			ID:         s.ID,
			State:      s.State(),
			ProfileDir: s.ProfileDir,
			CreatedAt:  s.CreatedAt,
			LastUsed:   s.LastUsed(),
		})
	}
	return infos
}

// Shutdown stops the sweeper and closes every session.
func (m *Manager) Shutdown() {
	if m.cron != nil {
		m.cron.Stop()
	}

	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		if err := m.Close(id); err != nil {
			m.log.Warn("close on shutdown", "session", id, "error", err)
		}
	}
}

// sweep closes sessions that have been idle past the idle timeout, and
// sessions stuck active past the reap timeout (a hung engine call).
func (m *Manager) sweep() {
	now := time.Now()

	m.mu.Lock()
	var victims []string
	for id, s := range m.sessions {
		idle := now.Sub(s.LastUsed())
		switch s.State() {
		case StateIdle, StateCreated:
			if idle > m.cfg.IdleTimeout {
				victims = append(victims, id)
			}
		case StateActive:
			if idle > m.cfg.ReapTimeout {
				victims = append(victims, id)
			}
		case StateClosed:
			victims = append(victims, id)
		}
	}
	m.mu.Unlock()

	for _, id := range victims {
		m.log.Info("reaping session", "session", id)
		if err := m.Close(id); err != nil {
			m.log.Warn("reap", "session", id, "error", err)
		}
	}
}

func (m *Manager) claimProfile(sessionID, profileDir string) (dir string, owns bool, err error) {
	if profileDir == "" {
		profileDir = m.cfg.ProfileDir
	}

	if profileDir == "" || profileDir == "auto" {
		base := filepath.Join(m.cfg.DataDir, "profiles")
		if err := os.MkdirAll(base, 0o755); err != nil {
			return "", false, toolerr.Wrap(toolerr.KindEngineLaunch, err, "create profile base %s", base)
		}
		dir, err := os.MkdirTemp(base, "profile-")
		if err != nil {
			return "", false, toolerr.Wrap(toolerr.KindEngineLaunch, err, "allocate profile dir")
		}
		return dir, true, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if owner, taken := m.profiles[profileDir]; taken {
		return "", false, toolerr.New(toolerr.KindEngineLaunch, "profile dir %s is in use by session %s", profileDir, owner)
	}
	m.profiles[profileDir] = sessionID
	return profileDir, false, nil
}

func (m *Manager) releaseProfile(sessionID, dir string, owns bool) {
	if owns {
		if err := os.RemoveAll(dir); err != nil {
			m.log.Warn("remove profile dir", "dir", dir, "error", err)
		}
		return
	}
	m.mu.Lock()
	if m.profiles[dir] == sessionID {
		delete(m.profiles, dir)
	}
	m.mu.Unlock()
}
