// Package server provides configuration helpers that define runtime defaults,
// validation, and file plus environment loading for the GoChat service.
package server

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/Tyrowin/gochat-line/internal/logging"
	"github.com/Tyrowin/gochat-line/internal/protocol"
)

// EnvPrefix prefixes every environment override, e.g. GOCHAT_CAPACITY.
const EnvPrefix = "GOCHAT_"

// Moderation scopes.
const (
	ModerationScopeAll  = "all"
	ModerationScopeChat = "chat"
)

const (
	defaultAddress         = ":8080"
	defaultRoomName        = "GoChat"
	defaultCapacity        = 4
	defaultSendQueueSize   = 256
	defaultWriteTimeout    = 10 * time.Second
	defaultShutdownTimeout = 10 * time.Second
	defaultForbiddenPhrase = "i hate professor"
)

// ModerationConfig configures the content moderator.
type ModerationConfig struct {
	Enabled          bool     `yaml:"enabled" env:"ENABLED"`
	Scope            string   `yaml:"scope" env:"SCOPE"`
	ForbiddenPhrases []string `yaml:"forbidden_phrases" env:"FORBIDDEN_PHRASES" envSeparator:","`
}

// RateLimitConfig defines the parameters for per-connection command rate
// limiting. A burst of zero disables limiting.
type RateLimitConfig struct {
	Burst          int           `yaml:"burst" env:"BURST"`
	RefillInterval time.Duration `yaml:"refill_interval" env:"REFILL_INTERVAL"`
}

// JournalConfig locates the session journal. An empty path disables it.
type JournalConfig struct {
	Path string `yaml:"path" env:"PATH"`
}

// LoggingConfig selects the log level and handler format.
type LoggingConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"`
}

// HTTPConfig configures the optional HTTP listener. An empty address
// disables it.
type HTTPConfig struct {
	Address        string   `yaml:"address" env:"ADDRESS"`
	AllowedOrigins []string `yaml:"allowed_origins" env:"ALLOWED_ORIGINS" envSeparator:","`
}

// Config holds the server configuration settings.
type Config struct {
	Address          string        `yaml:"address" env:"ADDRESS"`
	AdvertiseAddress string        `yaml:"advertise_address" env:"ADVERTISE_ADDRESS"`
	RoomName         string        `yaml:"room_name" env:"ROOM_NAME"`
	Capacity         int           `yaml:"capacity" env:"CAPACITY"`
	MaxFrameSize     int           `yaml:"max_frame_size" env:"MAX_FRAME_SIZE"`
	SendQueueSize    int           `yaml:"send_queue_size" env:"SEND_QUEUE_SIZE"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout" env:"HANDSHAKE_TIMEOUT"`
	IdleTimeout      time.Duration `yaml:"idle_timeout" env:"IDLE_TIMEOUT"`
	WriteTimeout     time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	ShutdownTimeout  time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`

	Moderation ModerationConfig `yaml:"moderation" envPrefix:"MODERATION_"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit" envPrefix:"RATE_LIMIT_"`
	Journal    JournalConfig    `yaml:"journal" envPrefix:"JOURNAL_"`
	Logging    LoggingConfig    `yaml:"logging" envPrefix:"LOG_"`
	HTTP       HTTPConfig       `yaml:"http" envPrefix:"HTTP_"`
}

// DefaultConfig returns a Config populated with default values for all
// settings.
func DefaultConfig() *Config {
	return &Config{
		Address:         defaultAddress,
		RoomName:        defaultRoomName,
		Capacity:        defaultCapacity,
		MaxFrameSize:    protocol.DefaultMaxFrameSize,
		SendQueueSize:   defaultSendQueueSize,
		WriteTimeout:    defaultWriteTimeout,
		ShutdownTimeout: defaultShutdownTimeout,
		Moderation: ModerationConfig{
			Enabled:          true,
			Scope:            ModerationScopeAll,
			ForbiddenPhrases: []string{defaultForbiddenPhrase},
		},
		RateLimit: RateLimitConfig{
			Burst:          10,
			RefillInterval: time.Second,
		},
		Logging: LoggingConfig{
			Level:  logging.InfoLevel,
			Format: logging.TextFormat,
		},
		HTTP: HTTPConfig{
			AllowedOrigins: []string{"http://localhost:8081"},
		},
	}
}

// LoadConfig layers an optional YAML file and GOCHAT_* environment
// variables over the defaults, then validates the result.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	cfg.sanitize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// sanitize fills zero values that have no meaningful zero setting.
func (c *Config) sanitize() {
	if c.Address == "" {
		c.Address = defaultAddress
	}
	if c.RoomName == "" {
		c.RoomName = defaultRoomName
	}
	if c.MaxFrameSize <= 0 {
		c.MaxFrameSize = protocol.DefaultMaxFrameSize
	}
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = defaultSendQueueSize
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaultWriteTimeout
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = defaultShutdownTimeout
	}
	if c.RateLimit.Burst > 0 && c.RateLimit.RefillInterval <= 0 {
		c.RateLimit.RefillInterval = time.Second
	}
	c.Moderation.Scope = strings.ToLower(strings.TrimSpace(c.Moderation.Scope))
	if c.Moderation.Scope == "" {
		c.Moderation.Scope = ModerationScopeAll
	}
	phrases := c.Moderation.ForbiddenPhrases[:0:0]
	for _, p := range c.Moderation.ForbiddenPhrases {
		if p = strings.TrimSpace(p); p != "" {
			phrases = append(phrases, p)
		}
	}
	c.Moderation.ForbiddenPhrases = phrases
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Capacity <= 0 {
		errs = append(errs, fmt.Errorf("capacity must be positive, got %d", c.Capacity))
	}
	if c.MaxFrameSize < 2 {
		errs = append(errs, fmt.Errorf("max_frame_size must be at least 2, got %d", c.MaxFrameSize))
	}
	if c.HandshakeTimeout < 0 {
		errs = append(errs, errors.New("handshake_timeout must not be negative"))
	}
	if c.IdleTimeout < 0 {
		errs = append(errs, errors.New("idle_timeout must not be negative"))
	}
	switch c.Moderation.Scope {
	case ModerationScopeAll, ModerationScopeChat:
	default:
		errs = append(errs, fmt.Errorf("moderation.scope must be %q or %q, got %q",
			ModerationScopeAll, ModerationScopeChat, c.Moderation.Scope))
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, err)
	}
	if !logging.ValidFormat(c.Logging.Format) {
		errs = append(errs, fmt.Errorf("unknown log format %q", c.Logging.Format))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// String renders the configuration for the startup log line.
func (c *Config) String() string {
	return fmt.Sprintf("address=%s room=%q capacity=%d max_frame=%d moderation=%t/%s rate_limit=%d/%s journal=%q http=%q",
		c.Address, c.RoomName, c.Capacity, c.MaxFrameSize,
		c.Moderation.Enabled, c.Moderation.Scope,
		c.RateLimit.Burst, c.RateLimit.RefillInterval,
		c.Journal.Path, c.HTTP.Address)
}
