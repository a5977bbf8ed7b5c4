package backend

import (
	"context"
	"errors"

	"spendly/internal/events"
	"spendly/internal/store"
)

// CleanupFunc releases backend resources
type CleanupFunc func() error

// BackendResult bundles a live document store with the bus feeding it
type BackendResult struct {
	Live    *store.Live
	Bus     events.Bus
	Cleanup CleanupFunc
}

// Pinger is implemented by stores that can check connectivity
type Pinger interface {
	Ping(ctx context.Context) error
}

// Ready reports whether the underlying store is reachable. Stores without a
// Ping method are always ready.
func (r *BackendResult) Ready(ctx context.Context) error {
	if r == nil || r.Live == nil {
		return errors.New("backend not initialized")
	}
	if p, ok := r.Live.Store.(Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

// Factory creates backends based on configuration
type Factory interface {
	CreateBackend(ctx context.Context, config Config) (*BackendResult, error)
}

// Config holds configuration for backend creation
type Config struct {
	Type BackendType
	Bus  BusType

	SQLiteDBPath string
	DatabaseURL  string

	AMQPURL      string
	AMQPExchange string

	RedisURL     string
	RedisChannel string
}

// BackendType names a document store implementation
type BackendType string

const (
	MemoryBackend   BackendType = "memory"
	SQLiteBackend   BackendType = "sqlite"
	PostgresBackend BackendType = "postgres"
)

func (bt BackendType) String() string { return string(bt) }

func (bt BackendType) IsValid() bool {
	switch bt {
	case MemoryBackend, SQLiteBackend, PostgresBackend:
		return true
	default:
		return false
	}
}

// BusType names a change-event transport
type BusType string

const (
	LocalBus BusType = "local"
	AMQPBus  BusType = "amqp"
	RedisBus BusType = "redis"
)

func (b BusType) IsValid() bool {
	switch b {
	case LocalBus, AMQPBus, RedisBus:
		return true
	default:
		return false
	}
}
