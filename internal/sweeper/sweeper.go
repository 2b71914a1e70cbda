// Package sweeper runs the background reclamation loop: lapsed booking holds
// and closed offer windows are transitioned on a fixed interval, reclaiming
// capacity that read-time expiry checks have not already caught.
package sweeper

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Bookings expires one batch of lapsed pending bookings.
type Bookings interface {
	ExpireDue(ctx context.Context, batchSize int) (int, error)
}

// Waitlist closes one batch of lapsed offer windows.
type Waitlist interface {
	ExpireDueNotifications(ctx context.Context, batchSize int) (int, error)
}

// Sweeper periodically reclaims expired holds and offers.
type Sweeper struct {
	bookings  Bookings
	waitlist  Waitlist
	log       zerolog.Logger
	interval  time.Duration
	batchSize int
}

// New constructs a Sweeper.
func New(bookings Bookings, waitlist Waitlist, log zerolog.Logger, interval time.Duration, batchSize int) *Sweeper {
	return &Sweeper{
		bookings:  bookings,
		waitlist:  waitlist,
		log:       log,
		interval:  interval,
		batchSize: batchSize,
	}
}

// Run loops until the context is cancelled, sweeping once per interval. Each
// pass is independent; a failed pass is logged and the loop continues.
func (s *Sweeper) Run(ctx context.Context) {
	s.log.Info().Dur("interval", s.interval).Int("batch_size", s.batchSize).Msg("sweeper started")
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("sweeper stopped")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one reclamation pass and returns the counts of expired bookings
// and closed offers. The admin trigger calls this directly.
func (s *Sweeper) Sweep(ctx context.Context) (int, int) {
	expired, err := s.bookings.ExpireDue(ctx, s.batchSize)
	if err != nil {
		s.log.Error().Err(err).Msg("booking expiry sweep failed")
	}
	closed, err := s.waitlist.ExpireDueNotifications(ctx, s.batchSize)
	if err != nil {
		s.log.Error().Err(err).Msg("offer expiry sweep failed")
	}
	if expired > 0 || closed > 0 {
		s.log.Info().Int("bookings_expired", expired).Int("offers_closed", closed).Msg("sweep pass complete")
	}
	return expired, closed
}
