package internal

import (
	"fmt"
	"time"
)

type Config struct {
	Host     string `env:"HOST,default=localhost"`
	Port     int    `env:"PORT,default=8080"`
	LogLevel string `env:"LOG_LEVEL,default=INFO"`

	BadgerFilepath string `env:"BADGER_FILEPATH,required=true"`
	LimitMessages  *int   `env:"LIMIT_MESSAGES"`

	JWTSecret         string        `env:"JWT_SECRET,required=true"`
	AuthTokenDuration time.Duration `env:"AUTH_TOKEN_DURATION,default=24h"`

	MaxContentLength  int           `env:"MAX_CONTENT_LENGTH,default=2000"`
	MaxRoomNameLength int           `env:"MAX_ROOM_NAME_LENGTH,default=64"`
	IdempotencyTTL    time.Duration `env:"IDEMPOTENCY_TTL,default=24h"`

	SubscriptionBacklog     int           `env:"SUBSCRIPTION_BACKLOG,default=256"`
	SubscriptionIdleTimeout time.Duration `env:"SUBSCRIPTION_IDLE_TIMEOUT,default=30s"`
	ReaperInterval          time.Duration `env:"REAPER_INTERVAL,default=5s"`

	PresenceTTL     time.Duration `env:"PRESENCE_TTL,default=1200ms"`
	PresenceBacklog int           `env:"PRESENCE_BACKLOG,default=64"`

	RateLimitPerSecond float64 `env:"RATE_LIMIT_PER_SECOND,default=5"`
	RateLimitBurst     int     `env:"RATE_LIMIT_BURST,default=10"`

	EnableCensor    bool   `env:"ENABLE_CENSOR,default=false"`
	CharReplacement string `env:"CHARACTER_REPLACEMENT,default=*"`

	RestartInterval time.Duration `env:"RESTART_INTERVAL,default=200ms"`
	MetricInterval  time.Duration `env:"METRIC_INTERVAL,default=10s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT,default=10s"`
}

// Validate rejects settings the components cannot run with.
func (c Config) Validate() error {
	switch {
	case c.MaxContentLength < 1:
		return fmt.Errorf("MAX_CONTENT_LENGTH must be positive, got %d", c.MaxContentLength)
	case c.MaxRoomNameLength < 1:
		return fmt.Errorf("MAX_ROOM_NAME_LENGTH must be positive, got %d", c.MaxRoomNameLength)
	case c.SubscriptionBacklog < 1:
		return fmt.Errorf("SUBSCRIPTION_BACKLOG must be positive, got %d", c.SubscriptionBacklog)
	case c.PresenceTTL <= 0:
		return fmt.Errorf("PRESENCE_TTL must be positive, got %s", c.PresenceTTL)
	case c.LimitMessages != nil && *c.LimitMessages < 1:
		return fmt.Errorf("LIMIT_MESSAGES must be positive, got %d", *c.LimitMessages)
	case len(c.JWTSecret) < 32:
		return fmt.Errorf("JWT_SECRET must be at least 32 bytes long")
	}
	return nil
}

func (c Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func CharacterRune(str string) (rune, error) {
	r := []rune(str)
	if len(r) != 1 {
		return 0, fmt.Errorf(
			"CHARACTER_REPLACEMENT must be a single character, got %q",
			str,
		)
	}
	return r[0], nil
}
