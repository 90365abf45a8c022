package worker

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-client/internal/model"
	"github.com/stemsi/exstem-client/internal/transport"
)

// RefreshTimeout bounds one status call so a stuck backend cannot stall the loop.
const RefreshTimeout = 10 * time.Second

// RecheckTracker is the part of the recheck workflow the poller drives.
type RecheckTracker interface {
	Pending() []string
	Refresh(ctx context.Context, submissionID string) (model.RecheckRequest, error)
}

// RecheckWorker polls the backend for pending rechecks until each one is
// resolved by a teacher.
type RecheckWorker struct {
	tracker    RecheckTracker
	interval   time.Duration
	onResolved func(model.RecheckRequest)
	log        zerolog.Logger
}

// NewRecheckWorker creates a new RecheckWorker. onResolved may be nil.
func NewRecheckWorker(tracker RecheckTracker, interval time.Duration, onResolved func(model.RecheckRequest), log zerolog.Logger) *RecheckWorker {
	return &RecheckWorker{
		tracker:    tracker,
		interval:   interval,
		onResolved: onResolved,
		log:        log.With().Str("component", "recheck_worker").Logger(),
	}
}

// Start runs the polling loop until ctx is cancelled. Call in a goroutine.
func (w *RecheckWorker) Start(ctx context.Context) {
	w.log.Info().Dur("interval", w.interval).Msg("RecheckWorker started")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("RecheckWorker stopped")
			return
		case <-ticker.C:
			w.Poll(ctx)
		}
	}
}

// Poll refreshes every pending recheck once.
func (w *RecheckWorker) Poll(ctx context.Context) {
	for _, id := range w.tracker.Pending() {
		if ctx.Err() != nil {
			return
		}

		callCtx, cancel := context.WithTimeout(ctx, RefreshTimeout)
		req, err := w.tracker.Refresh(callCtx, id)
		cancel()

		if err != nil {
			if errors.Is(err, transport.ErrUnauthorized) || errors.Is(err, transport.ErrSessionEnded) {
				// Nothing else will succeed until someone signs in again.
				w.log.Warn().Msg("Session ended, pausing recheck polling")
				return
			}
			w.log.Error().Err(err).Str("submission_id", id).Msg("Recheck refresh error")
			continue
		}

		if req.Status == model.RecheckResolved && w.onResolved != nil {
			w.onResolved(req)
		}
	}
}
