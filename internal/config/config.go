// Package config loads runtime settings from a YAML file, POLICITY_*
// environment variables, and an optional .env file, in that order of
// precedence (env wins).
package config

import (
	"fmt"
	"net"
	"strconv"
	"time"
)

// Store drivers.
const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

// Fact cache backends.
const (
	CacheMemory = "memory"
	CacheFile   = "file"
	CacheRedis  = "redis"
)

// Config is the validated runtime configuration.
type Config struct {
	Server       Server
	Store        Store
	Orchestrator Orchestrator
	LLM          LLM
	FactCache    FactCache
	Facts        Facts
	Retention    Retention
	Telemetry    Telemetry
	Logging      Logging

	// ConfigFileUsed is the path of the file that was read, when any.
	ConfigFileUsed string

	// Warnings collects non-fatal findings from loading. Callers log
	// them; they never stop startup.
	Warnings []string
}

// Server holds the HTTP API settings.
type Server struct {
	Host            string
	Port            int
	AllowedOrigins  []string
	ShutdownTimeout time.Duration
}

// Addr returns the host:port listen address.
func (s Server) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// Store selects and configures the run record store.
type Store struct {
	Driver string
	DSN    string
}

// Orchestrator holds the pipeline execution gates.
type Orchestrator struct {
	AcceptanceThreshold float64
	MaxRetries          int
	MaxConcurrentSteps  int
	StepTimeout         time.Duration
}

// LLM holds the model API connection settings.
type LLM struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// FactCache configures the reference data cache.
type FactCache struct {
	Backend       string
	TTL           time.Duration
	Capacity      int
	Dir           string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// Facts configures the external reference data service. An empty
// BaseURL disables lookups; research steps then run on model knowledge
// alone.
type Facts struct {
	BaseURL string
	Timeout time.Duration
}

// Retention configures the stored-run janitor.
type Retention struct {
	// Days is the age cutoff. Negative disables the sweep.
	Days int
	// Schedule is a cron expression for sweep timing.
	Schedule string
}

// Telemetry configures OTLP trace export.
type Telemetry struct {
	Endpoint string
	Insecure bool
}

// Logging configures the process logger.
type Logging struct {
	Format string
	Debug  bool
	Quiet  bool
}

// Validate checks cross-field consistency. Loader defaults keep most
// fields in range; this catches explicit misconfiguration.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	switch c.Store.Driver {
	case StoreMemory:
	case StoreSQLite, StorePostgres:
		if c.Store.DSN == "" {
			return fmt.Errorf("store driver %q requires a dsn", c.Store.Driver)
		}
	default:
		return fmt.Errorf("unknown store driver: %q", c.Store.Driver)
	}

	if c.Orchestrator.AcceptanceThreshold < 0 || c.Orchestrator.AcceptanceThreshold > 1 {
		return fmt.Errorf("acceptance threshold out of range: %v", c.Orchestrator.AcceptanceThreshold)
	}
	if c.Orchestrator.MaxRetries < 0 {
		return fmt.Errorf("max retries must be >= 0: %d", c.Orchestrator.MaxRetries)
	}
	if c.Orchestrator.MaxConcurrentSteps < 1 {
		return fmt.Errorf("max concurrent steps must be >= 1: %d", c.Orchestrator.MaxConcurrentSteps)
	}

	switch c.FactCache.Backend {
	case CacheMemory:
	case CacheFile:
		if c.FactCache.Dir == "" {
			return fmt.Errorf("fact cache backend %q requires a dir", c.FactCache.Backend)
		}
	case CacheRedis:
		if c.FactCache.RedisAddr == "" {
			return fmt.Errorf("fact cache backend %q requires a redis addr", c.FactCache.Backend)
		}
	default:
		return fmt.Errorf("unknown fact cache backend: %q", c.FactCache.Backend)
	}

	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format: %q", c.Logging.Format)
	}

	return nil
}
