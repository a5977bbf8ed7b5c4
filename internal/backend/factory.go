package backend

import (
	"context"
	"errors"
	"fmt"

	"spendly/internal/amqp"
	"spendly/internal/events"
	"spendly/internal/log"
	"spendly/internal/redisbus"
	"spendly/internal/store"
	"spendly/internal/store/memory"
	"spendly/internal/store/postgres"
	"spendly/internal/store/sqlite"
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *log.Logger
}

// NewFactory creates a new backend factory
func NewFactory(logger *log.Logger) Factory {
	return &DefaultFactory{logger: logger.WithComponent(log.ComponentBackend)}
}

// CreateBackend opens the configured store and bus and joins them in a store.Live
func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (*BackendResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	st, err := f.createStore(ctx, config)
	if err != nil {
		return nil, err
	}

	bus, err := f.createBus(ctx, config)
	if err != nil {
		st.Close()
		return nil, err
	}

	live := store.NewLive(st, bus, f.logger)

	f.logger.Info("Initialized backend",
		"store", config.Type.String(),
		"bus", string(config.Bus))

	return &BackendResult{
		Live: live,
		Bus:  bus,
		Cleanup: func() error {
			return errors.Join(live.Close(), bus.Close())
		},
	}, nil
}

func (f *DefaultFactory) createStore(ctx context.Context, config Config) (store.Store, error) {
	switch config.Type {
	case MemoryBackend:
		return memory.New(), nil
	case SQLiteBackend:
		s, err := sqlite.Open(config.SQLiteDBPath, f.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize SQLite store: %w", err)
		}
		f.logger.Info("Opened SQLite store", "db_path", config.SQLiteDBPath)
		return s, nil
	case PostgresBackend:
		s, err := postgres.Open(ctx, config.DatabaseURL, f.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Postgres store: %w", err)
		}
		f.logger.Info("Opened Postgres store")
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}
}

func (f *DefaultFactory) createBus(ctx context.Context, config Config) (events.Bus, error) {
	switch config.Bus {
	case LocalBus:
		return events.NewLocal(), nil
	case AMQPBus:
		// Live feeds need every change, so each instance gets its own queue.
		c, err := amqp.NewClient(config.AMQPURL, amqp.Options{
			Exchange:    config.AMQPExchange,
			BindingKeys: []string{"expenses"},
		}, f.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize AMQP bus: %w", err)
		}
		f.logger.Info("Initialized AMQP bus", "exchange", config.AMQPExchange)
		return c, nil
	case RedisBus:
		b, err := redisbus.New(ctx, config.RedisURL, config.RedisChannel, f.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Redis bus: %w", err)
		}
		f.logger.Info("Initialized Redis bus", "channel", config.RedisChannel)
		return b, nil
	default:
		return nil, fmt.Errorf("unsupported event bus: %s", config.Bus)
	}
}
