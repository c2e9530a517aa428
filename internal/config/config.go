// Package config loads server settings from the environment, after an
// optional .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/DoyleJ11/arcade-match-backend/internal/engine"
	"github.com/DoyleJ11/arcade-match-backend/internal/match"
)

type Config struct {
	Addr           string   `env:"ARCADE_ADDR" envDefault:":8080"`
	LogLevel       string   `env:"ARCADE_LOG_LEVEL" envDefault:"info"`
	LogFormat      string   `env:"ARCADE_LOG_FORMAT" envDefault:"json"`
	AllowedOrigins []string `env:"ARCADE_ALLOWED_ORIGINS" envSeparator:","`
	JWTSecret      string   `env:"ARCADE_JWT_SECRET"`
	DatabaseURL    string   `env:"DATABASE_URL"`

	TickRate        int           `env:"ARCADE_TICK_RATE" envDefault:"30"`
	WinningScore    int           `env:"ARCADE_WINNING_SCORE" envDefault:"11"`
	GraceWindow     time.Duration `env:"ARCADE_GRACE_WINDOW" envDefault:"20s"`
	RematchWindow   time.Duration `env:"ARCADE_REMATCH_WINDOW" envDefault:"30s"`
	ResultRetention time.Duration `env:"ARCADE_RESULT_RETENTION" envDefault:"2m"`
	SweepInterval   time.Duration `env:"ARCADE_SWEEP_INTERVAL" envDefault:"15s"`
	LobbyIdleTTL    time.Duration `env:"ARCADE_LOBBY_IDLE_TTL" envDefault:"10m"`
	OutboxSize      int           `env:"ARCADE_OUTBOX_SIZE" envDefault:"64"`
	ShutdownTimeout time.Duration `env:"ARCADE_SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// Load reads the given .env files (".env" when none are named) and then the
// environment. Variables already set win over file values. Missing files are
// not an error.
func Load(files ...string) (Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every problem at once.
func (c Config) Validate() error {
	var problems []string
	if c.Addr == "" {
		problems = append(problems, "ARCADE_ADDR is empty")
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		problems = append(problems, fmt.Sprintf("ARCADE_LOG_LEVEL %q is not a level", c.LogLevel))
	}
	if c.LogFormat != "json" && c.LogFormat != "console" {
		problems = append(problems, fmt.Sprintf("ARCADE_LOG_FORMAT %q must be json or console", c.LogFormat))
	}
	positive := []struct {
		name string
		ok   bool
	}{
		{"ARCADE_TICK_RATE", c.TickRate > 0},
		{"ARCADE_WINNING_SCORE", c.WinningScore > 0},
		{"ARCADE_GRACE_WINDOW", c.GraceWindow > 0},
		{"ARCADE_REMATCH_WINDOW", c.RematchWindow > 0},
		{"ARCADE_RESULT_RETENTION", c.ResultRetention > 0},
		{"ARCADE_SWEEP_INTERVAL", c.SweepInterval > 0},
		{"ARCADE_LOBBY_IDLE_TTL", c.LobbyIdleTTL > 0},
		{"ARCADE_OUTBOX_SIZE", c.OutboxSize > 0},
		{"ARCADE_SHUTDOWN_TIMEOUT", c.ShutdownTimeout > 0},
	}
	for _, p := range positive {
		if !p.ok {
			problems = append(problems, p.name+" must be positive")
		}
	}
	if c.TickRate > 240 {
		problems = append(problems, "ARCADE_TICK_RATE must be at most 240")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Logger builds the process logger.
func (c Config) Logger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	if c.LogFormat == "console" {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

// Match is the session configuration these settings describe. Clock, logger
// and callbacks are left for the caller.
func (c Config) Match() match.Config {
	return match.Config{
		TickRate:      c.TickRate,
		GraceWindow:   c.GraceWindow,
		RematchWindow: c.RematchWindow,
		Rules:         engine.Rules{WinningScore: c.WinningScore},
	}
}
