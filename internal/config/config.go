// Package config provides transaction processor configuration loaded from
// environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/blockchaintp/sawtooth-mttp/network"
	"github.com/blockchaintp/sawtooth-mttp/processor"
)

const logPrefix = "config:LoadConfig"

// Config holds transaction processor configuration.
type Config struct {
	// Validator component endpoint
	ValidatorURL string `envconfig:"VALIDATOR_URL" default:"tcp://localhost:4004"`
	ServiceName  string `envconfig:"SERVICE_NAME" default:"intkey-tp"`

	// Dispatch (0 = number of CPUs, TaskQueueSize 0 = workers*100)
	MaxOccupancy   int           `envconfig:"MAX_OCCUPANCY" default:"0"`
	WorkerPoolSize int           `envconfig:"WORKER_POOL_SIZE" default:"0"`
	TaskQueueSize  int           `envconfig:"TASK_QUEUE_SIZE" default:"0"`
	ReceiveTimeout time.Duration `envconfig:"RECEIVE_TIMEOUT" default:"1ms"`

	// Registration backoff
	RegisterRetryDelay    time.Duration `envconfig:"REGISTER_RETRY_DELAY" default:"1s"`
	RegisterRetryMaxDelay time.Duration `envconfig:"REGISTER_RETRY_MAX_DELAY" default:"30s"`

	// Shutdown
	ShutdownTimeout  time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"0s"`
	UnregisterOnStop bool          `envconfig:"UNREGISTER_ON_STOP" default:"false"`

	// Observability (empty address disables the server)
	MetricsAddr    string `envconfig:"METRICS_ADDR" default:":9102"`
	HealthGRPCAddr string `envconfig:"HEALTH_GRPC_ADDR"`

	// Result events (empty NATS_URL disables publishing)
	NATSURL     string `envconfig:"NATS_URL"`
	NATSSubject string `envconfig:"NATS_SUBJECT"`

	// Logging
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() (*Config, error) {
	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks the configuration before the processor starts.
func (c *Config) Validate() error {
	if c.ValidatorURL == "" {
		return fmt.Errorf("%s - VALIDATOR_URL is required", logPrefix)
	}
	if c.MaxOccupancy < 0 {
		return fmt.Errorf("%s - MAX_OCCUPANCY must not be negative", logPrefix)
	}
	if c.WorkerPoolSize < 0 {
		return fmt.Errorf("%s - WORKER_POOL_SIZE must not be negative", logPrefix)
	}
	if c.TaskQueueSize < 0 {
		return fmt.Errorf("%s - TASK_QUEUE_SIZE must not be negative", logPrefix)
	}
	if c.ReceiveTimeout <= 0 {
		return fmt.Errorf("%s - RECEIVE_TIMEOUT must be positive", logPrefix)
	}
	if c.RegisterRetryDelay <= 0 {
		return fmt.Errorf("%s - REGISTER_RETRY_DELAY must be positive", logPrefix)
	}
	if c.RegisterRetryMaxDelay < c.RegisterRetryDelay {
		return fmt.Errorf("%s - REGISTER_RETRY_MAX_DELAY must not be below REGISTER_RETRY_DELAY", logPrefix)
	}
	if c.ShutdownTimeout < 0 {
		return fmt.Errorf("%s - SHUTDOWN_TIMEOUT must not be negative", logPrefix)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("%s - LOG_LEVEL %q is not one of debug, info, warn, error", logPrefix, c.LogLevel)
	}
	return nil
}

// ProcessorConfig maps the environment onto processor.Config.
func (c *Config) ProcessorConfig() processor.Config {
	pc := processor.DefaultConfig()
	if c.MaxOccupancy > 0 {
		pc.MaxOccupancy = c.MaxOccupancy
	}
	if c.WorkerPoolSize > 0 {
		pc.Workers = c.WorkerPoolSize
	}
	pc.TaskQueueSize = c.TaskQueueSize
	pc.ReceiveTimeout = c.ReceiveTimeout
	pc.RegisterRetryDelay = c.RegisterRetryDelay
	pc.RegisterRetryMaxDelay = c.RegisterRetryMaxDelay
	pc.ShutdownTimeout = c.ShutdownTimeout
	pc.UnregisterOnStop = c.UnregisterOnStop
	return pc
}

// StreamConfig returns the validator stream configuration.
func (c *Config) StreamConfig() network.StreamConfig {
	return network.DefaultStreamConfig(c.ValidatorURL)
}
