package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	APIBaseURL string
	WSURL      string
	TokenDB    string

	// ReconnectDelay is the fixed delay between a transport drop and the
	// next connect attempt. Deliberately not exponential.
	ReconnectDelay time.Duration

	// TypingTTL bounds how long an incoming typing flag survives without a
	// refresh. The sender debounces typing_stop at 3s, so twice that keeps
	// legitimate flags alive while clearing flags orphaned by an abrupt
	// disconnect.
	TypingTTL time.Duration

	// FileURLTTL bounds how long a resolved download URL is reused before
	// asking the server again.
	FileURLTTL time.Duration
}

// ThreadReplyCountSeed is the reply count a freshly confirmed thread starts
// with. create_thread carries the first reply, so a confirmed thread is
// born with one.
const ThreadReplyCountSeed = 1

func Load() (*Config, error) {
	// Missing .env is fine, env vars still apply.
	_ = godotenv.Load()

	reconnectDelay, err := time.ParseDuration(getEnv("RECONNECT_DELAY", "1s"))
	if err != nil {
		return nil, fmt.Errorf("invalid RECONNECT_DELAY: %w", err)
	}

	typingTTL, err := time.ParseDuration(getEnv("TYPING_TTL", "6s"))
	if err != nil {
		return nil, fmt.Errorf("invalid TYPING_TTL: %w", err)
	}

	fileURLTTL, err := time.ParseDuration(getEnv("FILE_URL_TTL", "5m"))
	if err != nil {
		return nil, fmt.Errorf("invalid FILE_URL_TTL: %w", err)
	}

	cfg := &Config{
		APIBaseURL:     getEnv("API_BASE_URL", "http://localhost:3000"),
		WSURL:          getEnv("WS_URL", "ws://localhost:8080"),
		TokenDB:        getEnv("TOKEN_DB", "sobesednik.db"),
		ReconnectDelay: reconnectDelay,
		TypingTTL:      typingTTL,
		FileURLTTL:     fileURLTTL,
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.APIBaseURL == "" {
		return fmt.Errorf("API_BASE_URL is required")
	}

	if !strings.HasPrefix(c.WSURL, "ws://") && !strings.HasPrefix(c.WSURL, "wss://") {
		return fmt.Errorf("WS_URL must be a ws:// or wss:// URL")
	}

	if c.ReconnectDelay <= 0 {
		return fmt.Errorf("RECONNECT_DELAY must be greater than 0")
	}

	if c.TypingTTL <= 0 {
		return fmt.Errorf("TYPING_TTL must be greater than 0")
	}

	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
