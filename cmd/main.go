// Command booking-engine runs the availability and booking concurrency
// engine: the capacity ledger, the booking lifecycle API, the waitlist, and
// the background expiry sweeper.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/evently/booking-engine/internal/catalog"
	"github.com/evently/booking-engine/internal/config"
	"github.com/evently/booking-engine/internal/database"
	"github.com/evently/booking-engine/internal/handler"
	"github.com/evently/booking-engine/internal/ledger"
	"github.com/evently/booking-engine/internal/lock"
	"github.com/evently/booking-engine/internal/repository"
	"github.com/evently/booking-engine/internal/service"
	"github.com/evently/booking-engine/internal/stream"
	"github.com/evently/booking-engine/internal/sweeper"
)

func main() {
	log := zerolog.New(os.Stdout).With().Timestamp().Str("service", "booking-engine").Logger()
	cfg := config.FromEnv()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := database.NewPool(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("database connection failed")
	}
	defer pool.Close()

	rdb, err := database.NewRedis(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("redis connection failed")
	}
	defer rdb.Close()

	// Lifecycle publishers are optional: a down broker degrades delivery,
	// never booking traffic.
	var targets []stream.Publisher
	if amqpPub, err := stream.NewAMQPPublisher(cfg.AMQPURL, cfg.LifecycleExchange); err != nil {
		log.Warn().Err(err).Msg("rabbitmq unavailable, notification events disabled")
	} else {
		targets = append(targets, amqpPub)
	}
	if len(cfg.KafkaBrokers) > 0 {
		targets = append(targets, stream.NewKafkaPublisher(cfg.KafkaBrokers, cfg.AnalyticsTopic))
	}
	publisher := stream.NewMulti(log, targets...)
	defer publisher.Close()

	locks := lock.NewManager(rdb, cfg.LockLease, cfg.LockAcquireTimeout)
	cache := repository.NewAvailabilityCache(rdb, cfg.AvailabilityCacheTTL)
	cat := catalog.NewClient(cfg.CatalogBaseURL, cfg.CatalogTimeout)

	availStore := repository.NewAvailabilityRepository(pool)
	bookingStore := repository.NewBookingRepository(pool)
	waitlistStore := repository.NewWaitlistRepository(pool)
	auditStore := repository.NewAuditRepository(pool)

	led := ledger.New(availStore, cache, locks, cat, log, cfg.LockRetries, cfg.LockRetryBackoff)

	bookingSvc := service.NewBooking(bookingStore, auditStore, led, publisher, log, cfg.ReservationTimeout)
	waitlistSvc := service.NewWaitlist(waitlistStore, auditStore, led, locks, bookingSvc, publisher, log, cfg.NotificationWindow)
	availSvc := service.NewAvailability(led, auditStore, log)
	bookingSvc.SetPromoter(waitlistSvc)
	availSvc.SetPromoter(waitlistSvc)

	sweep := sweeper.New(bookingSvc, waitlistSvc, log, cfg.SweepInterval, cfg.SweepBatchSize)
	go sweep.Run(ctx)

	h := handler.New(bookingSvc, waitlistSvc, availSvc, sweep, log, cfg.MaxBookingQuantity)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           h.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.Port).Msg("booking engine listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
	log.Info().Msg("server stopped")
}
