// Package session holds the one authoritative copy of the signed-in
// identity and keeps it in sync with durable storage.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-client/internal/config"
	"github.com/stemsi/exstem-client/internal/model"
	"github.com/stemsi/exstem-client/internal/storage"
)

// Common session errors.
var (
	ErrInvalidSession = errors.New("token, user id and a valid role are required")
	// ErrStorageDegraded means the session could not be persisted or cleared
	// durably. The in-memory state is still authoritative for this process.
	ErrStorageDegraded = errors.New("session storage degraded")
)

// Listener is invoked synchronously after every session change.
type Listener func(model.SessionEvent)

// Store is the single holder of the current Session.
type Store struct {
	storage storage.Storage
	log     zerolog.Logger
	now     func() time.Time

	mu        sync.RWMutex
	current   *model.Session
	expiresAt time.Time

	// writeMu orders durable writes against change-feed handling so the
	// store never reacts to a half-written session of its own.
	writeMu sync.Mutex

	lmu       sync.Mutex
	listeners map[int]Listener
	nextID    int
}

// NewStore creates a Store backed by st. Call Restore to pick up a session
// persisted by an earlier run and Watch to follow other processes.
func NewStore(st storage.Storage, log zerolog.Logger) *Store {
	return &Store{
		storage:   st,
		log:       log.With().Str("component", "session_store").Logger(),
		now:       time.Now,
		listeners: make(map[int]Listener),
	}
}

// StartSession replaces any current session. Inputs must be non-empty and the
// role known; otherwise nothing changes. A storage failure is reported as
// ErrStorageDegraded but the session stays active in memory.
func (s *Store) StartSession(ctx context.Context, token, userID string, role model.Role) error {
	sess := model.Session{Token: token, UserID: userID, Role: role}
	if !sess.Complete() {
		return ErrInvalidSession
	}

	s.writeMu.Lock()
	s.mu.Lock()
	s.current = &sess
	s.expiresAt = tokenExpiry(token)
	s.mu.Unlock()

	err := s.persist(ctx, sess)
	s.writeMu.Unlock()

	s.log.Info().Str("user_id", userID).Str("role", string(role)).Msg("Session started")
	s.notify(model.SessionEvent{Present: true, Session: sess})

	if err != nil {
		s.log.Warn().Err(err).Msg("Session kept in memory only")
		return fmt.Errorf("%w: %w", ErrStorageDegraded, err)
	}
	return nil
}

// persist drops the old token before touching user_id and role and writes
// the new token last, so storage never pairs one user's token with another
// user's identity. A failed write clears every key.
func (s *Store) persist(ctx context.Context, sess model.Session) error {
	keys := config.StorageKey
	err := s.storage.Remove(ctx, keys.Token)
	if err == nil {
		err = s.storage.Set(ctx, keys.UserID, sess.UserID)
	}
	if err == nil {
		err = s.storage.Set(ctx, keys.Role, string(sess.Role))
	}
	if err == nil {
		err = s.storage.Set(ctx, keys.Token, sess.Token)
	}
	if err != nil {
		if cerr := s.clear(ctx); cerr != nil {
			return errors.Join(err, cerr)
		}
	}
	return err
}

// EndSession clears the session from memory and storage. It is idempotent
// and always notifies listeners.
func (s *Store) EndSession(ctx context.Context) error {
	s.writeMu.Lock()
	s.mu.Lock()
	had := s.current != nil
	s.current = nil
	s.expiresAt = time.Time{}
	s.mu.Unlock()

	err := s.clear(ctx)
	s.writeMu.Unlock()

	if had {
		s.log.Info().Msg("Session ended")
	}
	s.notify(model.SessionEvent{Present: false})

	if err != nil {
		s.log.Warn().Err(err).Msg("Session cleared in memory only")
		return fmt.Errorf("%w: %w", ErrStorageDegraded, err)
	}
	return nil
}

// clear removes the token first so other processes log out immediately.
func (s *Store) clear(ctx context.Context) error {
	var errs []error
	for _, key := range config.StorageKey.All() {
		if err := s.storage.Remove(ctx, key); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// GetSession returns the current session, or false when there is none.
// A session whose token carries an elapsed exp claim is ended here.
func (s *Store) GetSession() (model.Session, bool) {
	s.mu.RLock()
	cur := s.current
	exp := s.expiresAt
	s.mu.RUnlock()

	if cur == nil {
		return model.Session{}, false
	}
	if !exp.IsZero() && !s.now().Before(exp) {
		s.log.Info().Str("user_id", cur.UserID).Time("expired_at", exp).Msg("Session expired")
		_ = s.EndSession(context.Background())
		return model.Session{}, false
	}
	return *cur, true
}

// OnSessionChange registers l and returns a function that unregisters it.
func (s *Store) OnSessionChange(l Listener) func() {
	s.lmu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = l
	s.lmu.Unlock()

	return func() {
		s.lmu.Lock()
		delete(s.listeners, id)
		s.lmu.Unlock()
	}
}

func (s *Store) notify(ev model.SessionEvent) {
	s.lmu.Lock()
	ls := make([]Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		ls = append(ls, l)
	}
	s.lmu.Unlock()

	for _, l := range ls {
		l(ev)
	}
}

// Restore loads a persisted session. A partial set of keys is treated as
// corrupt and cleared. It reports whether a session is now present.
func (s *Store) Restore(ctx context.Context) (bool, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	sess, found, err := s.load(ctx)
	if err != nil {
		return false, fmt.Errorf("load session: %w", err)
	}
	if !found {
		return false, nil
	}
	if !sess.Complete() {
		s.log.Warn().Msg("Discarding partial persisted session")
		return false, s.clear(ctx)
	}

	exp := tokenExpiry(sess.Token)
	if !exp.IsZero() && !s.now().Before(exp) {
		s.log.Info().Time("expired_at", exp).Msg("Persisted session already expired")
		return false, s.clear(ctx)
	}

	s.mu.Lock()
	s.current = &sess
	s.expiresAt = exp
	s.mu.Unlock()
	return true, nil
}

// load reads every key; found is false only when none of them exist.
func (s *Store) load(ctx context.Context) (model.Session, bool, error) {
	keys := config.StorageKey
	token, hasToken, err := s.storage.Get(ctx, keys.Token)
	if err != nil {
		return model.Session{}, false, err
	}
	userID, hasUser, err := s.storage.Get(ctx, keys.UserID)
	if err != nil {
		return model.Session{}, false, err
	}
	role, hasRole, err := s.storage.Get(ctx, keys.Role)
	if err != nil {
		return model.Session{}, false, err
	}
	sess := model.Session{Token: token, UserID: userID, Role: model.Role(role)}
	return sess, hasToken || hasUser || hasRole, nil
}

func tokenExpiry(token string) time.Time {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return time.Time{}
	}
	if claims.ExpiresAt == nil {
		return time.Time{}
	}
	return claims.ExpiresAt.Time
}
