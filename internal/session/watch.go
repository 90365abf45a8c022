package session

import (
	"context"
	"fmt"
	"time"

	"github.com/stemsi/exstem-client/internal/config"
	"github.com/stemsi/exstem-client/internal/model"
)

// Watch follows the storage change feed until ctx is done. Removal of the
// token key by another process ends the session here; a token written by
// another process together with a complete identity is adopted.
func (s *Store) Watch(ctx context.Context) error {
	changes, err := s.storage.Watch(ctx)
	if err != nil {
		return fmt.Errorf("watch session storage: %w", err)
	}

	go func() {
		for c := range changes {
			if c.Key != config.StorageKey.Token {
				continue
			}
			s.syncFromStorage(ctx)
		}
		s.log.Debug().Msg("Session watch stopped")
	}()
	return nil
}

// syncFromStorage reconciles memory with what storage holds now rather than
// with the event payload, so stale or duplicated events are harmless.
func (s *Store) syncFromStorage(ctx context.Context) {
	s.writeMu.Lock()
	stored, _, err := s.load(ctx)
	if err != nil {
		s.writeMu.Unlock()
		s.log.Warn().Err(err).Msg("Reading session after external change failed")
		return
	}

	s.mu.Lock()
	cur := s.current

	var ev *model.SessionEvent
	switch {
	case stored.Token == "" && cur != nil:
		s.current = nil
		s.expiresAt = time.Time{}
		ev = &model.SessionEvent{Present: false, External: true}
		s.log.Info().Str("user_id", cur.UserID).Msg("Session ended by another client")

	case stored.Complete() && (cur == nil || *cur != stored):
		s.current = &stored
		s.expiresAt = tokenExpiry(stored.Token)
		ev = &model.SessionEvent{Present: true, External: true, Session: stored}
		s.log.Info().Str("user_id", stored.UserID).Msg("Session started by another client")
	}
	s.mu.Unlock()
	s.writeMu.Unlock()

	if ev != nil {
		s.notify(*ev)
	}
}
