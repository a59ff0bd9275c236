package server

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	perrors "github.com/conneroisu/playground/internal/errors"
	"github.com/conneroisu/playground/internal/logging"
	"github.com/conneroisu/playground/internal/session"
)

// SessionFactory creates a new, uninitialized Store.
type SessionFactory func() (*session.Store, error)

type sessionEntry struct {
	store      *session.Store
	lastAccess time.Time
	streams    int
}

// Sessions is the registry of live browser sessions. Sessions idle for
// longer than the TTL with no open stream are closed by Sweep.
type Sessions struct {
	factory SessionFactory
	ttl     time.Duration
	logger  logging.Logger
	now     func() time.Time

	mu      sync.Mutex
	entries map[string]*sessionEntry
	closed  bool
}

// NewSessions creates an empty registry.
func NewSessions(factory SessionFactory, ttl time.Duration, logger logging.Logger) *Sessions {
	return &Sessions{
		factory: factory,
		ttl:     ttl,
		logger:  logger.WithComponent("sessions"),
		now:     time.Now,
		entries: make(map[string]*sessionEntry),
	}
}

// Create makes a new session and initializes it from token, which may be
// empty. A token that fails to load still yields a session, left in its
// error state, together with the load error.
func (s *Sessions) Create(token string) (string, *session.Store, error) {
	store, err := s.factory()
	if err != nil {
		return "", nil, err
	}

	id := uuid.NewString()
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		store.Close()
		return "", nil, perrors.NewInternalError(perrors.ErrCodeInternalError, "server is shutting down", nil)
	}
	s.entries[id] = &sessionEntry{store: store, lastAccess: s.now()}
	count := len(s.entries)
	s.mu.Unlock()

	s.logger.Info(context.Background(), "Created session", "id", id, "sessions", count)
	return id, store, store.Initialize(token)
}

// Get returns the session with id and marks it as used.
func (s *Sessions) Get(id string) (*session.Store, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[id]
	if !ok {
		return nil, perrors.ErrSessionNotFound
	}
	entry.lastAccess = s.now()
	return entry.store, nil
}

// Attach marks a stream as open on id; the returned function detaches it.
// Sessions with open streams are never swept.
func (s *Sessions) Attach(id string) (*session.Store, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[id]
	if !ok {
		return nil, nil, perrors.ErrSessionNotFound
	}
	entry.streams++
	entry.lastAccess = s.now()

	var once sync.Once
	return entry.store, func() {
		once.Do(func() {
			s.mu.Lock()
			entry.streams--
			entry.lastAccess = s.now()
			s.mu.Unlock()
		})
	}, nil
}

// Delete closes and forgets the session with id.
func (s *Sessions) Delete(id string) error {
	s.mu.Lock()
	entry, ok := s.entries[id]
	delete(s.entries, id)
	s.mu.Unlock()

	if !ok {
		return perrors.ErrSessionNotFound
	}
	entry.store.Close()
	s.logger.Info(context.Background(), "Closed session", "id", id)
	return nil
}

// Len returns the number of live sessions.
func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Sweep closes sessions idle for longer than the TTL and returns how many
// were closed.
func (s *Sessions) Sweep() int {
	if s.ttl <= 0 {
		return 0
	}

	cutoff := s.now().Add(-s.ttl)
	var expired []*session.Store

	s.mu.Lock()
	for id, entry := range s.entries {
		if entry.streams == 0 && entry.lastAccess.Before(cutoff) {
			expired = append(expired, entry.store)
			delete(s.entries, id)
		}
	}
	s.mu.Unlock()

	for _, store := range expired {
		store.Close()
	}
	if len(expired) > 0 {
		s.logger.Info(context.Background(), "Expired idle sessions", "count", len(expired))
	}
	return len(expired)
}

// Run sweeps periodically until ctx is done.
func (s *Sessions) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// CloseAll closes every session and rejects new ones.
func (s *Sessions) CloseAll() {
	s.mu.Lock()
	entries := s.entries
	s.entries = make(map[string]*sessionEntry)
	s.closed = true
	s.mu.Unlock()

	for _, entry := range entries {
		entry.store.Close()
	}
}
