package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	JWT       JWTConfig
	WebSocket WebSocketConfig
	NATS      NATSConfig
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
}

type ServerConfig struct {
	Port            string        `env:"PORT" envDefault:":8080"`
	ReadTimeout     time.Duration `env:"READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT" envDefault:"15s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// DatabaseConfig selects the store. An empty URL keeps everything in process.
type DatabaseConfig struct {
	URL string `env:"DATABASE_URL"`
}

type JWTConfig struct {
	Secret    string        `env:"JWT_SECRET,required,notEmpty"`
	ExpiresIn time.Duration `env:"JWT_EXPIRES_IN" envDefault:"24h"`
}

type WebSocketConfig struct {
	SendBuffer     int           `env:"WS_SEND_BUFFER" envDefault:"256"`
	PongWait       time.Duration `env:"WS_PONG_WAIT" envDefault:"60s"`
	PingPeriod     time.Duration `env:"WS_PING_PERIOD" envDefault:"54s"`
	WriteWait      time.Duration `env:"WS_WRITE_WAIT" envDefault:"10s"`
	MaxMessageSize int64         `env:"WS_MAX_MESSAGE_SIZE" envDefault:"8192"`
	HistoryLimit   int           `env:"WS_HISTORY_LIMIT" envDefault:"10"`
	AllowAnonymous bool          `env:"WS_ALLOW_ANONYMOUS" envDefault:"true"`
	// AllowedOrigins lists the Origin values accepted on upgrade; "*" accepts any.
	AllowedOrigins []string      `env:"WS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`
}

// NATSConfig enables the notification bridge when URL is set.
type NATSConfig struct {
	URL           string `env:"NATS_URL"`
	SubjectPrefix string `env:"NATS_SUBJECT_PREFIX" envDefault:"relay"`
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	ws := c.WebSocket
	if ws.SendBuffer <= 0 {
		return fmt.Errorf("WS_SEND_BUFFER must be positive, got %d", ws.SendBuffer)
	}
	if ws.PingPeriod <= 0 || ws.PingPeriod >= ws.PongWait {
		return fmt.Errorf("WS_PING_PERIOD (%s) must be positive and shorter than WS_PONG_WAIT (%s)", ws.PingPeriod, ws.PongWait)
	}
	if ws.WriteWait <= 0 {
		return fmt.Errorf("WS_WRITE_WAIT must be positive, got %s", ws.WriteWait)
	}
	if ws.MaxMessageSize <= 0 {
		return fmt.Errorf("WS_MAX_MESSAGE_SIZE must be positive, got %d", ws.MaxMessageSize)
	}
	if ws.HistoryLimit < 0 || ws.HistoryLimit >= ws.SendBuffer {
		return fmt.Errorf("WS_HISTORY_LIMIT (%d) must be between 0 and WS_SEND_BUFFER (%d)", ws.HistoryLimit, ws.SendBuffer)
	}
	return nil
}
