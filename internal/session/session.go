// Package session owns browser session lifecycle: creation with an
// isolated profile, serialized access to the underlying engine, idle
// tracking, and teardown.
package session

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/webbridge/webbridge/internal/engine"
	"github.com/webbridge/webbridge/internal/toolerr"
)

// State is a session lifecycle state.
type State string

const (
	// StateCreated means the engine launched but no call has run yet.
	StateCreated State = "created"
	// StateActive means a call currently holds the session.
	StateActive State = "active"
	// StateIdle means the session is live with no call in flight.
	StateIdle State = "idle"
	// StateClosed is terminal.
	StateClosed State = "closed"
)

// Session wraps one browser engine. At most one call runs inside a
// session at a time; calls against different sessions do not block each
// other.
type Session struct {
	ID         string
	ProfileDir string
	CreatedAt  time.Time

	eng         engine.Engine
	ownsProfile bool
	sem         chan struct{}
	log         *slog.Logger

	mu       sync.Mutex
	state    State
	lastUsed time.Time
}

func newSession(id, profileDir string, ownsProfile bool, eng engine.Engine) *Session {
	now := time.Now()
	return &Session{
		ID:          id,
		ProfileDir:  profileDir,
		CreatedAt:   now,
		eng:         eng,
		ownsProfile: ownsProfile,
		sem:         make(chan struct{}, 1),
		log:         slog.Default().With("component", "session", "session", id),
		state:       StateCreated,
		lastUsed:    now,
	}
}

// Run executes fn with exclusive access to the session's engine. Callers
// queue in arrival order; ctx cancellation abandons the wait. A fatal
// engine error closes the session before Run returns.
func (s *Session) Run(ctx context.Context, fn func(engine.Engine) error) error {
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return toolerr.Wrap(toolerr.KindCanceled, ctx.Err(), "canceled while queued for session %s", s.ID)
	}
	defer func() { <-s.sem }()

	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return toolerr.New(toolerr.KindUnknownSession, "session %s is closed", s.ID)
	}
	s.state = StateActive
	s.mu.Unlock()

	err := fn(s.eng)

	if err != nil && toolerr.Fatal(err) {
		s.log.Error("engine fault, closing session", "error", err)
		s.close()
		return err
	}

	s.mu.Lock()
	if s.state != StateClosed {
		s.state = StateIdle
	}
	s.lastUsed = time.Now()
	s.mu.Unlock()

	return err
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastUsed returns when the session last finished a call.
func (s *Session) LastUsed() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUsed
}

// Generation exposes the engine's current snapshot generation.
func (s *Session) Generation() uint64 {
	return s.eng.Generation()
}

// Close tears the session down. Safe to call more than once; later calls
// are no-ops.
func (s *Session) Close() error {
	return s.close()
}

func (s *Session) close() error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil
	}
	s.state = StateClosed
	s.mu.Unlock()

	err := s.eng.Close()
	if err != nil {
		s.log.Warn("engine close", "error", err)
	}

	if s.ownsProfile {
		if rmErr := os.RemoveAll(s.ProfileDir); rmErr != nil {
			s.log.Warn("remove profile dir", "dir", s.ProfileDir, "error", rmErr)
		}
	}

	s.log.Info("session closed")
	return nil
}
