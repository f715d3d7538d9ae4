// Package config loads process configuration from the environment. Binaries
// register the same knobs as flags whose defaults come from the parsed
// environment, so flags win over env and env wins over built-in defaults.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/signalsfoundry/entity-state-sim/internal/logging"
)

// ParseEnv populates target from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Log is shared by every binary.
type Log struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"text"`
}

// Logger builds a logger from the settings.
func (l Log) Logger() logging.Logger {
	return logging.New(logging.Config{Level: l.Level, Format: l.Format, AddSource: true})
}

func (l *Log) register(fs *flag.FlagSet) {
	fs.StringVar(&l.Level, "log-level", l.Level, "debug, info, warn or error")
	fs.StringVar(&l.Format, "log-format", l.Format, "json or text")
}

// Authority configures cmd/simulator, the process owning the registry.
type Authority struct {
	GRPCAddr    string `env:"SIM_GRPC_ADDR" envDefault:":50051"`
	MetricsAddr string `env:"SIM_METRICS_ADDR" envDefault:":9090"`
	// WorldPath is optional; an empty world has no entities and no
	// spawnable types.
	WorldPath   string        `env:"SIM_WORLD_FILE" envDefault:"configs/world.yaml"`
	JournalPath string        `env:"SIM_JOURNAL_PATH"`
	Tick        time.Duration `env:"SIM_TICK" envDefault:"100ms"`
	ClockMode   string        `env:"SIM_CLOCK_MODE" envDefault:"realtime"`
	Speedup     float64       `env:"SIM_CLOCK_SPEEDUP" envDefault:"1"`
	Log         Log
}

// LoadAuthority reads the authority configuration from the environment.
func LoadAuthority() (Authority, error) {
	var cfg Authority
	if err := ParseEnv(&cfg); err != nil {
		return Authority{}, err
	}
	return cfg, nil
}

// RegisterFlags binds cfg's fields to fs using the current values as
// defaults.
func (cfg *Authority) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&cfg.GRPCAddr, "grpc-addr", cfg.GRPCAddr, "TCP address the gRPC server listens on")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "HTTP address for Prometheus /metrics (empty disables)")
	fs.StringVar(&cfg.WorldPath, "world", cfg.WorldPath, "path to a YAML world file")
	fs.StringVar(&cfg.JournalPath, "journal", cfg.JournalPath, "path to the SQLite intent journal (empty disables)")
	fs.DurationVar(&cfg.Tick, "tick", cfg.Tick, "simulation tick interval")
	fs.StringVar(&cfg.ClockMode, "clock", cfg.ClockMode, "realtime or accelerated")
	fs.Float64Var(&cfg.Speedup, "speedup", cfg.Speedup, "accelerated clock speedup")
	cfg.Log.register(fs)
}

// Validate reports settings that cannot work.
func (cfg Authority) Validate() error {
	var errs []error
	if strings.TrimSpace(cfg.GRPCAddr) == "" {
		errs = append(errs, errors.New("grpc address is required"))
	}
	if cfg.Tick <= 0 {
		errs = append(errs, fmt.Errorf("tick must be positive, got %s", cfg.Tick))
	}
	switch cfg.ClockMode {
	case "realtime", "accelerated":
	default:
		errs = append(errs, fmt.Errorf("unknown clock mode %q", cfg.ClockMode))
	}
	if cfg.Speedup <= 0 {
		errs = append(errs, fmt.Errorf("speedup must be positive, got %g", cfg.Speedup))
	}
	return errors.Join(errs...)
}

// Proxy configures cmd/state-proxy.
type Proxy struct {
	GRPCAddr        string        `env:"PROXY_GRPC_ADDR" envDefault:":50052"`
	MetricsAddr     string        `env:"PROXY_METRICS_ADDR" envDefault:":9091"`
	AuthorityAddr   string        `env:"PROXY_AUTHORITY_ADDR" envDefault:"localhost:50051"`
	RefreshInterval time.Duration `env:"PROXY_REFRESH_INTERVAL" envDefault:"250ms"`
	// Origin defaults to the host name.
	Origin        string        `env:"PROXY_ORIGIN"`
	RetryAttempts int           `env:"PROXY_RETRY_ATTEMPTS" envDefault:"5"`
	RetryBackoff  time.Duration `env:"PROXY_RETRY_BACKOFF" envDefault:"50ms"`
	Log           Log
}

// LoadProxy reads the proxy configuration from the environment.
func LoadProxy() (Proxy, error) {
	var cfg Proxy
	if err := ParseEnv(&cfg); err != nil {
		return Proxy{}, err
	}
	if cfg.Origin == "" {
		if host, err := os.Hostname(); err == nil {
			cfg.Origin = host
		}
	}
	return cfg, nil
}

// RegisterFlags binds cfg's fields to fs using the current values as
// defaults.
func (cfg *Proxy) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&cfg.GRPCAddr, "grpc-addr", cfg.GRPCAddr, "TCP address the gRPC server listens on")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "HTTP address for Prometheus /metrics (empty disables)")
	fs.StringVar(&cfg.AuthorityAddr, "authority", cfg.AuthorityAddr, "address of the authority's gRPC server")
	fs.DurationVar(&cfg.RefreshInterval, "refresh", cfg.RefreshInterval, "registry snapshot refresh interval")
	fs.StringVar(&cfg.Origin, "origin", cfg.Origin, "origin recorded in the authority's journal")
	fs.IntVar(&cfg.RetryAttempts, "retry-attempts", cfg.RetryAttempts, "delivery attempts per intent")
	fs.DurationVar(&cfg.RetryBackoff, "retry-backoff", cfg.RetryBackoff, "initial delay between delivery attempts")
	cfg.Log.register(fs)
}

// Validate reports settings that cannot work.
func (cfg Proxy) Validate() error {
	var errs []error
	if strings.TrimSpace(cfg.GRPCAddr) == "" {
		errs = append(errs, errors.New("grpc address is required"))
	}
	if strings.TrimSpace(cfg.AuthorityAddr) == "" {
		errs = append(errs, errors.New("authority address is required"))
	}
	if cfg.RefreshInterval <= 0 {
		errs = append(errs, fmt.Errorf("refresh interval must be positive, got %s", cfg.RefreshInterval))
	}
	if cfg.RetryAttempts < 1 {
		errs = append(errs, fmt.Errorf("retry attempts must be at least 1, got %d", cfg.RetryAttempts))
	}
	return errors.Join(errs...)
}

// Client configures cmd/statectl.
type Client struct {
	Addr    string        `env:"STATECTL_ADDR" envDefault:"localhost:50051"`
	Timeout time.Duration `env:"STATECTL_TIMEOUT" envDefault:"10s"`
}

// LoadClient reads the CLI configuration from the environment.
func LoadClient() (Client, error) {
	var cfg Client
	if err := ParseEnv(&cfg); err != nil {
		return Client{}, err
	}
	return cfg, nil
}

// RegisterFlags binds cfg's fields to fs using the current values as
// defaults.
func (cfg *Client) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "entity-state server address (authority or proxy)")
	fs.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "per-command timeout; streams ignore it")
}
