package backend

import (
	"fmt"

	"spendly/internal/config"
)

// FromAppConfig converts the application config to backend config
func FromAppConfig(appConfig *config.Config) (Config, error) {
	if appConfig == nil {
		return Config{}, fmt.Errorf("app config is nil")
	}

	cfg := Config{
		Type:         BackendType(appConfig.DataBackend),
		Bus:          BusType(appConfig.EventBus),
		SQLiteDBPath: appConfig.SQLiteDBPath,
		DatabaseURL:  appConfig.DatabaseURL,
		AMQPURL:      appConfig.AMQPURL,
		AMQPExchange: appConfig.AMQPExchange,
		RedisURL:     appConfig.RedisURL,
		RedisChannel: appConfig.RedisChannel,
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate validates the backend configuration
func (c Config) Validate() error {
	if !c.Type.IsValid() {
		return fmt.Errorf("invalid backend type: %s", c.Type)
	}
	if !c.Bus.IsValid() {
		return fmt.Errorf("invalid event bus: %s", c.Bus)
	}

	switch c.Type {
	case SQLiteBackend:
		if c.SQLiteDBPath == "" {
			return fmt.Errorf("SQLite database path is required for sqlite backend")
		}
	case PostgresBackend:
		if c.DatabaseURL == "" {
			return fmt.Errorf("database URL is required for postgres backend")
		}
	}

	switch c.Bus {
	case AMQPBus:
		if c.AMQPURL == "" || c.AMQPExchange == "" {
			return fmt.Errorf("AMQP URL and exchange are required for amqp bus")
		}
	case RedisBus:
		if c.RedisURL == "" || c.RedisChannel == "" {
			return fmt.Errorf("Redis URL and channel are required for redis bus")
		}
	}
	return nil
}
