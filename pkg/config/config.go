// Package config loads the server configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"golang.org/x/crypto/bcrypt"
)

// Prefix is prepended to every variable name.
const Prefix = "EXPANSE_"

var (
	ErrInvalidThreads     = errors.New("threads must be positive")
	ErrInvalidConnections = errors.New("connections per player must be positive")
	ErrInvalidTick        = errors.New("min tick exceeds max tick")
	ErrInvalidHeartbeat   = errors.New("heartbeat must fire before the inactivity timeout")
	ErrInvalidLoginRate   = errors.New("login rate and burst must be positive")
	ErrInvalidCost        = errors.New("password cost out of range")
	ErrInvalidLogBackend  = errors.New("log backend must be slog or zap")
)

type Config struct {
	Threads              int           `env:"THREADS"                envDefault:"4"`
	QUICAddr             string        `env:"QUIC_ADDR"              envDefault:":6842"`
	WebSocketAddr        string        `env:"WS_ADDR"`
	ConnectionsPerPlayer int           `env:"CONNECTIONS_PER_PLAYER" envDefault:"8"`
	MaxTick              time.Duration `env:"MAX_TICK"               envDefault:"20ms"`
	MinTick              time.Duration `env:"MIN_TICK"               envDefault:"1ms"`
	HeartbeatAfter       time.Duration `env:"HEARTBEAT_AFTER"        envDefault:"400ms"`
	InactivityTimeout    time.Duration `env:"INACTIVITY_TIMEOUT"     envDefault:"5s"`
	DebugStart           bool          `env:"DEBUG_START"`

	// Players maps logins to passwords, given as login:password pairs
	// separated by commas.
	Players map[string]string `env:"PLAYERS" envSeparator:"," envKeyValSeparator:":"`

	// PlayersFile names a YAML roster loaded in addition to Players.
	PlayersFile  string `env:"PLAYERS_FILE"`
	PasswordCost int    `env:"PASSWORD_COST" envDefault:"10"`

	LoginRate   float64       `env:"LOGIN_RATE"   envDefault:"1"`
	LoginBurst  int           `env:"LOGIN_BURST"  envDefault:"3"`
	LogBackend  string        `env:"LOG_BACKEND"  envDefault:"slog"`
	LogLevel    string        `env:"LOG_LEVEL"    envDefault:"info"`
	LogFormat   string        `env:"LOG_FORMAT"   envDefault:"text"`
	StatsPeriod time.Duration `env:"STATS_PERIOD" envDefault:"1s"`
}

// Load parses the process environment and validates the result.
func Load() (Config, error) {
	return LoadWithEnvironment(nil)
}

// LoadWithEnvironment is like Load but reads variables from environment
// instead of the process when environment is not nil.
func LoadWithEnvironment(environment map[string]string) (Config, error) {
	cfg, err := env.ParseAsWithOptions[Config](env.Options{
		Prefix:      Prefix,
		Environment: environment,
	})
	if err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Default returns the configuration with every default applied.
func Default() Config {
	cfg, err := LoadWithEnvironment(map[string]string{})
	if err != nil {
		panic(fmt.Sprintf("config: invalid defaults: %v", err))
	}
	return cfg
}

func (c Config) Validate() error {
	if c.Threads <= 0 {
		return ErrInvalidThreads
	}
	if c.ConnectionsPerPlayer <= 0 {
		return ErrInvalidConnections
	}
	if c.MinTick > c.MaxTick {
		return ErrInvalidTick
	}
	if c.HeartbeatAfter >= c.InactivityTimeout {
		return ErrInvalidHeartbeat
	}
	if c.LoginRate <= 0 || c.LoginBurst <= 0 {
		return ErrInvalidLoginRate
	}
	if c.LogBackend != "slog" && c.LogBackend != "zap" {
		return ErrInvalidLogBackend
	}
	if c.PasswordCost < bcrypt.MinCost || c.PasswordCost > bcrypt.MaxCost {
		return ErrInvalidCost
	}
	return nil
}
