package config

import (
	"os"
	"strconv"
	"time"
)

const (
	// Default test backend endpoints
	defaultBackendURL = "http://localhost:9400"
	defaultSocketURL  = "ws://localhost:9400"

	defaultLLMModel = "claude-sonnet-4-5"
)

// Config holds application configuration
type Config struct {
	// BackendURL is the REST base URL of the test backend
	BackendURL string
	// SocketURL is the websocket base; the session id is appended at
	// dial time
	SocketURL string
	// APIToken authenticates both REST calls and the event socket
	APIToken string

	DefaultLLMModel string
	DefaultHeadless bool

	// PollInterval paces the transport's fallback poller
	PollInterval time.Duration
	// RequestTimeout bounds each backend REST call
	RequestTimeout time.Duration
	// PlanTimeout bounds the wait for plan generation
	PlanTimeout time.Duration

	// ListenAddress is where the orchestrator's own UI server binds
	ListenAddress string
}

// globalConfig holds the application configuration instance
var globalConfig *Config

// Initialize sets up the configuration from environment variables
func Initialize() {
	globalConfig = &Config{
		BackendURL:      envOr("STEPRUN_BACKEND_URL", defaultBackendURL),
		SocketURL:       envOr("STEPRUN_SOCKET_URL", defaultSocketURL),
		APIToken:        os.Getenv("STEPRUN_API_TOKEN"),
		DefaultLLMModel: envOr("STEPRUN_LLM_MODEL", defaultLLMModel),
		DefaultHeadless: envBool("STEPRUN_HEADLESS", true),
		PollInterval:    envDuration("STEPRUN_POLL_INTERVAL", 2*time.Second),
		RequestTimeout:  envDuration("STEPRUN_REQUEST_TIMEOUT", 60*time.Second),
		PlanTimeout:     envDuration("STEPRUN_PLAN_TIMEOUT", 2*time.Minute),
		ListenAddress:   envOr("STEPRUN_LISTEN", ":8200"),
	}
}

// Get returns the global configuration instance
func Get() *Config {
	if globalConfig == nil {
		Initialize()
	}
	return globalConfig
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
