package main

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	ServerURL string `envconfig:"CHAT_SERVER_URL" default:"http://localhost:8080"`
	JWTSecret string `envconfig:"JWT_SECRET" required:"true"`
	Room      string `envconfig:"TESTER_ROOM" default:"general"`
	// TESTER_SENDERS users send concurrently, TESTER_MESSAGES each
	Senders        int           `envconfig:"TESTER_SENDERS" default:"5"`
	Messages       int           `envconfig:"TESTER_MESSAGES" default:"20"`
	SendInterval   time.Duration `envconfig:"TESTER_SEND_INTERVAL" default:"50ms"`
	ConfirmTimeout time.Duration `envconfig:"TESTER_CONFIRM_TIMEOUT" default:"5s"`
	Deadline       time.Duration `envconfig:"TESTER_DEADLINE" default:"60s"`
	Colours        bool          `envconfig:"TESTER_COLOURS" default:"true"`
	LogLevel       string        `envconfig:"LOG_LEVEL" default:"INFO"`
}

func LoadConfig() (Config, error) {
	var cfg Config
	err := envconfig.Process("", &cfg)
	return cfg, err
}
