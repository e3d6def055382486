package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DefaultBrokerURL         = "ws://localhost:8081/ws"
	DefaultAPIBaseURL        = "http://localhost:8081/chat"
	DefaultBotURL            = "http://localhost:8080/chat"
	DefaultListenAddr        = "localhost:8090"
	DefaultReconnectDelay    = 5 * time.Second
	DefaultRequestTimeout    = 10 * time.Second
	DefaultHeartbeatInterval = 10 * time.Second
	DefaultBotDisplayName    = "요픽"
)

type Config struct {
	BrokerURL             string
	APIBaseURL            string
	BotURL                string
	ListenAddr            string
	ReconnectDelay        time.Duration
	MaxReconnectAttempts  int
	RequestTimeout        time.Duration
	HeartbeatInterval     time.Duration
	NotificationAutoClose time.Duration
	BotDisplayName        string
	AllowedOrigins        []string
}

// Defaults returns the configuration used when nothing is overridden. The
// environment, optionally populated from a .env file, takes precedence
// over the built-in values.
func Defaults() Config {
	// a missing .env file is not an error
	_ = godotenv.Load()

	return Config{
		BrokerURL:             getEnv("CHAT_BROKER_URL", DefaultBrokerURL),
		APIBaseURL:            getEnv("CHAT_API_URL", DefaultAPIBaseURL),
		BotURL:                getEnv("CHAT_BOT_URL", DefaultBotURL),
		ListenAddr:            getEnv("CHAT_LISTEN_ADDR", DefaultListenAddr),
		ReconnectDelay:        getEnvAsDuration("CHAT_RECONNECT_DELAY", DefaultReconnectDelay),
		MaxReconnectAttempts:  getEnvAsInt("CHAT_MAX_RECONNECT_ATTEMPTS", 0),
		RequestTimeout:        getEnvAsDuration("CHAT_REQUEST_TIMEOUT", DefaultRequestTimeout),
		HeartbeatInterval:     getEnvAsDuration("CHAT_HEARTBEAT_INTERVAL", DefaultHeartbeatInterval),
		NotificationAutoClose: getEnvAsDuration("CHAT_NOTIFICATION_AUTO_CLOSE", 0),
		BotDisplayName:        getEnv("CHAT_BOT_NAME", DefaultBotDisplayName),
		AllowedOrigins:        splitList(getEnv("CHAT_ALLOWED_ORIGINS", "")),
	}
}

// NewConfig validates cfg and returns a copy safe to hand to components.
func NewConfig(cfg Config) (*Config, error) {
	if err := checkURL(cfg.BrokerURL, "ws", "wss"); err != nil {
		return nil, fmt.Errorf("broker url: %w", err)
	}
	if err := checkURL(cfg.APIBaseURL, "http", "https"); err != nil {
		return nil, fmt.Errorf("api url: %w", err)
	}
	if err := checkURL(cfg.BotURL, "http", "https"); err != nil {
		return nil, fmt.Errorf("bot url: %w", err)
	}
	if cfg.ListenAddr == "" {
		return nil, fmt.Errorf("listen address cannot be empty")
	}
	if cfg.ReconnectDelay <= 0 {
		return nil, fmt.Errorf("reconnect delay must be positive")
	}
	if cfg.MaxReconnectAttempts < 0 {
		return nil, fmt.Errorf("max reconnect attempts cannot be negative")
	}
	if cfg.RequestTimeout <= 0 {
		return nil, fmt.Errorf("request timeout must be positive")
	}
	if cfg.HeartbeatInterval < 0 || cfg.NotificationAutoClose < 0 {
		return nil, fmt.Errorf("durations cannot be negative")
	}
	if cfg.BotDisplayName == "" {
		cfg.BotDisplayName = DefaultBotDisplayName
	}

	cfg.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)
	return &cfg, nil
}

func checkURL(raw string, schemes ...string) error {
	if raw == "" {
		return fmt.Errorf("cannot be empty")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	for _, s := range schemes {
		if u.Scheme == s && u.Host != "" {
			return nil
		}
	}
	return fmt.Errorf("%q must use %s", raw, strings.Join(schemes, " or "))
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, err := time.ParseDuration(getEnv(key, "")); err == nil {
		return value
	}
	return defaultValue
}
