package config

import (
	"testing"
	"time"
)

func TestFromEnvDefaults(t *testing.T) {
	cfg := FromEnv()

	if cfg.Port != "8080" {
		t.Errorf("Port = %q, want 8080", cfg.Port)
	}
	if cfg.MaxBookingQuantity != 10 {
		t.Errorf("MaxBookingQuantity = %d, want 10", cfg.MaxBookingQuantity)
	}
	if cfg.ReservationTimeout != 15*time.Minute {
		t.Errorf("ReservationTimeout = %v, want 15m", cfg.ReservationTimeout)
	}
	if cfg.NotificationWindow != 30*time.Minute {
		t.Errorf("NotificationWindow = %v, want 30m", cfg.NotificationWindow)
	}
	if cfg.LockRetries != 3 || cfg.LockRetryBackoff != 100*time.Millisecond {
		t.Errorf("lock retry policy = %d/%v", cfg.LockRetries, cfg.LockRetryBackoff)
	}
	if len(cfg.KafkaBrokers) != 1 || cfg.KafkaBrokers[0] != "localhost:9092" {
		t.Errorf("KafkaBrokers = %v", cfg.KafkaBrokers)
	}
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9999")
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("RESERVATION_TIMEOUT", "5m")
	t.Setenv("SWEEP_BATCH_SIZE", "25")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")

	cfg := FromEnv()

	if cfg.Port != "9999" {
		t.Errorf("Port = %q", cfg.Port)
	}
	if cfg.Database.Host != "db.internal" {
		t.Errorf("Database.Host = %q", cfg.Database.Host)
	}
	if cfg.ReservationTimeout != 5*time.Minute {
		t.Errorf("ReservationTimeout = %v", cfg.ReservationTimeout)
	}
	if cfg.SweepBatchSize != 25 {
		t.Errorf("SweepBatchSize = %d", cfg.SweepBatchSize)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "k2:9092" {
		t.Errorf("KafkaBrokers = %v", cfg.KafkaBrokers)
	}
}

func TestDatabaseDSN(t *testing.T) {
	d := Database{Host: "h", Port: "5432", User: "u", Password: "p", DBName: "db", SSLMode: "disable"}
	want := "host=h port=5432 user=u password=p dbname=db sslmode=disable"
	if got := d.DSN(); got != want {
		t.Errorf("DSN = %q, want %q", got, want)
	}
}
