// Package config provides environment configuration for the API server.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/capitalize-ai/convoai/internal/model"
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	ServerPort         string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration
	AllowedOrigins     []string

	// NATS settings
	NATSURL      string
	NATSCAFile   string
	NATSCertFile string
	NATSKeyFile  string
	NATSToken    string

	// RTM subject layout
	RTMSubjectPrefix string
	RTMClientID      string

	// JWT settings
	JWTSecret     string
	JWTExpiration time.Duration

	// Session settings
	TranscriptRenderMode     model.RenderMode
	TranscriptRevealInterval time.Duration
	PublishTimeout           time.Duration
	DebugEvents              bool
	EventBufferSize          int

	// Archive settings
	ArchiveEnabled bool

	// Rate limiting
	RateLimitRequests int
	RateLimitWindow   time.Duration
	CommandRateLimit  int

	// Logging
	LogLevel string

	// Tracing
	TracingEndpoint string
	TracingEnabled  bool
}

// Load reads configuration from environment variables.
func Load() *Config {
	return &Config{
		// Server
		ServerPort:         getEnv("PORT", "8080"),
		ServerReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 30*time.Second),
		ServerWriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 30*time.Second),
		AllowedOrigins:     getListEnv("CORS_ALLOWED_ORIGINS"),

		// NATS
		NATSURL:      getEnv("NATS_URL", "nats://localhost:4222"),
		NATSCAFile:   getEnv("NATS_CA_FILE", ""),
		NATSCertFile: getEnv("NATS_CERT_FILE", ""),
		NATSKeyFile:  getEnv("NATS_KEY_FILE", ""),
		NATSToken:    getEnv("NATS_TOKEN", ""),

		// RTM
		RTMSubjectPrefix: getEnv("RTM_SUBJECT_PREFIX", "rtm"),
		RTMClientID:      getEnv("RTM_CLIENT_ID", "convoai-api"),

		// JWT
		JWTSecret:     getEnv("JWT_SECRET", "development-secret-change-in-production"),
		JWTExpiration: getDurationEnv("JWT_EXPIRATION", 15*time.Minute),

		// Sessions
		TranscriptRenderMode:     model.ParseRenderMode(getEnv("TRANSCRIPT_RENDER_MODE", "text")),
		TranscriptRevealInterval: getDurationEnv("TRANSCRIPT_REVEAL_INTERVAL", 130*time.Millisecond),
		PublishTimeout:           getDurationEnv("PUBLISH_TIMEOUT", 5*time.Second),
		DebugEvents:              getBoolEnv("DEBUG_EVENTS", false),
		EventBufferSize:          getIntEnv("EVENT_BUFFER_SIZE", 64),

		// Archive
		ArchiveEnabled: getBoolEnv("ARCHIVE_ENABLED", true),

		// Rate limiting
		RateLimitRequests: getIntEnv("RATE_LIMIT_REQUESTS", 60),
		RateLimitWindow:   getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),
		CommandRateLimit:  getIntEnv("COMMAND_RATE_LIMIT", 20),

		// Logging
		LogLevel: getEnv("LOG_LEVEL", "info"),

		// Tracing
		TracingEndpoint: getEnv("TRACING_ENDPOINT", "localhost:4318"),
		TracingEnabled:  getBoolEnv("TRACING_ENABLED", false),
	}
}

func getEnv(key, defaultValue string) string {
	return lookup(key, defaultValue, func(v string) (string, error) { return v, nil })
}

func getIntEnv(key string, defaultValue int) int {
	return lookup(key, defaultValue, strconv.Atoi)
}

func getBoolEnv(key string, defaultValue bool) bool {
	return lookup(key, defaultValue, strconv.ParseBool)
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	return lookup(key, defaultValue, time.ParseDuration)
}

// lookup parses an environment variable, keeping def when it is unset or
// does not parse.
func lookup[T any](key string, def T, parse func(string) (T, error)) T {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return def
	}
	v, err := parse(raw)
	if err != nil {
		return def
	}
	return v
}

// getListEnv reads a comma separated list, skipping empty items.
func getListEnv(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
