package main

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"disputeflow/clock"
	"disputeflow/config"
	"disputeflow/coordinator"
	"disputeflow/db"
	"disputeflow/dispute"
	"disputeflow/logging"
	"disputeflow/metrics"
	"disputeflow/notify"
	boltstore "disputeflow/store/bolt"
	pgstore "disputeflow/store/postgres"
	"disputeflow/sweep"
)

// caseStore is what the commands need from either backend.
type caseStore interface {
	coordinator.Store
	Events(ctx context.Context, caseID string) ([]dispute.Event, error)
}

// openStore connects the configured backend. The returned close func is never nil.
func openStore(ctx context.Context, cfg *config.Config, log logging.Logger) (caseStore, func(), error) {
	switch cfg.Store.Driver {
	case "postgres":
		pool, err := db.NewPool(ctx, cfg.Store.PostgresDSN, cfg.Store.MaxConns)
		if err != nil {
			return nil, func() {}, err
		}
		return pgstore.New(pool, log), pool.Close, nil
	case "bolt":
		s, err := boltstore.Open(cfg.Store.BoltPath)
		if err != nil {
			return nil, func() {}, err
		}
		return s, func() {
			if err := s.Close(); err != nil {
				log.Warn("close bolt store", logging.Err(err))
			}
		}, nil
	}
	return nil, func() {}, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
}

type dispatcher interface {
	coordinator.Dispatcher
	Close() error
}

type nopCloser struct{ coordinator.Dispatcher }

func (nopCloser) Close() error { return nil }

func newDispatcher(cfg *config.Config, log logging.Logger, m *metrics.Metrics) (dispatcher, error) {
	switch cfg.Notify.Driver {
	case "kafka":
		return notify.NewKafkaDispatcher(notify.KafkaConfig{
			Brokers:      cfg.Kafka.Brokers,
			BatchTimeout: cfg.Kafka.BatchTimeout,
		}, log, m)
	case "log":
		return nopCloser{notify.NewLogDispatcher(log)}, nil
	case "nop":
		return nopCloser{notify.Nop{}}, nil
	}
	return nil, fmt.Errorf("unknown notify driver %q", cfg.Notify.Driver)
}

func newCoordinator(cfg *config.Config, store coordinator.Store, d coordinator.Dispatcher, log logging.Logger, m *metrics.Metrics) *coordinator.Coordinator {
	return coordinator.New(store, coordinator.Options{
		Durations:          cfg.Workflow.Durations(),
		AppealWindowDays:   cfg.Workflow.AppealWindowDays,
		MaxConflictRetries: cfg.Workflow.MaxConflictRetries,
		Clock:              clock.System{},
		Dispatcher:         d,
		Logger:             log,
		Metrics:            m,
	})
}

// newLease returns nil when the sweep runs without replica coordination.
func newLease(cfg *config.Config) (sweep.Lease, func()) {
	if !cfg.Sweep.UseLease {
		return nil, func() {}
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	return sweep.NewRedisLease(client, cfg.Sweep.LeaseKey, cfg.Sweep.LeaseTTL), func() { _ = client.Close() }
}

// withCoordinator opens the store and dispatcher, runs fn and tears both down.
func withCoordinator(ctx context.Context, a *app, m *metrics.Metrics, fn func(*coordinator.Coordinator, caseStore) error) error {
	store, closeStore, err := openStore(ctx, a.cfg, a.log)
	if err != nil {
		return err
	}
	defer closeStore()

	d, err := newDispatcher(a.cfg, a.log, m)
	if err != nil {
		return err
	}
	defer func() {
		if err := d.Close(); err != nil {
			a.log.Warn("close dispatcher", logging.Err(err))
		}
	}()

	return fn(newCoordinator(a.cfg, store, d, a.log, m), store)
}
