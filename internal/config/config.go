package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all gateway settings. Values come from the environment
// (optionally seeded from a .env file); the defaults match the classic
// OTP API shim: port 9393, backlog 500, 100 connections, 1 KiB request
// buffers.
type Config struct {
	Port       int `env:"TRIPGATE_PORT" envDefault:"9393"`
	Backlog    int `env:"TRIPGATE_BACKLOG" envDefault:"500"`
	BufferSize int `env:"TRIPGATE_BUFFER_SIZE" envDefault:"1024"`

	// MaxConns bounds the connection table. 0 means derive a limit from
	// the container memory limit.
	MaxConns int `env:"TRIPGATE_MAX_CONNS" envDefault:"100"`

	NATSUrl        string `env:"TRIPGATE_NATS_URL" envDefault:"nats://127.0.0.1:4222"`
	RequestSubject string `env:"TRIPGATE_REQUEST_SUBJECT" envDefault:"otp.plan.request"`
	ReplySubject   string `env:"TRIPGATE_REPLY_SUBJECT" envDefault:"otp.plan.reply"`

	AdminAddr string `env:"TRIPGATE_ADMIN_ADDR" envDefault:":9394"`

	// AcceptRate limits accepted connections per second. 0 disables the
	// limiter.
	AcceptRate  float64 `env:"TRIPGATE_ACCEPT_RATE" envDefault:"0"`
	AcceptBurst int     `env:"TRIPGATE_ACCEPT_BURST" envDefault:"32"`

	LogLevel  string `env:"TRIPGATE_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"TRIPGATE_LOG_FORMAT" envDefault:"json"`
}

// Load reads configuration from the environment. A .env file in the
// working directory is applied first when present.
func Load() (Config, error) {
	_ = godotenv.Load() // missing .env is fine

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}

	if cfg.MaxConns == 0 {
		cfg.MaxConns = deriveMaxConns(detectMemoryLimit(), cfg.BufferSize)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the poll loop cannot run with.
func (c Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.Backlog < 1 {
		return fmt.Errorf("invalid backlog %d", c.Backlog)
	}
	if c.MaxConns < 1 {
		return fmt.Errorf("invalid max connections %d", c.MaxConns)
	}
	if c.BufferSize < 16 {
		return fmt.Errorf("invalid buffer size %d", c.BufferSize)
	}
	if c.AcceptRate < 0 {
		return fmt.Errorf("invalid accept rate %f", c.AcceptRate)
	}
	if c.AcceptRate > 0 && c.AcceptBurst < 1 {
		return fmt.Errorf("invalid accept burst %d", c.AcceptBurst)
	}
	return nil
}
