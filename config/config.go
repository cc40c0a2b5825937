package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds everything tunable from the environment. Defaults are safe for
// a small deployment; production overrides via .env / real env vars.
type Config struct {
	Port             string
	DatabaseURL      string
	JWTSecret        string
	CORSAllowOrigins []string

	// Rate limiter (echo middleware)
	RateLimitPerSecond int
	RateLimitBurst     int
	RateLimitWindow    time.Duration

	// Admission gate: how many instances may be mid-handshake at once.
	GateCapacity int

	// QR / pairing artifacts
	QRTTL      time.Duration
	QRWait     time.Duration
	PairWait   time.Duration
	DeviceName string

	// Liveness monitor
	HeartbeatInterval  time.Duration
	HeartbeatTimeout   time.Duration
	HeartbeatThreshold int

	// Recovery sweeper
	SweepInterval time.Duration

	// Reconnect delays per close-reason bucket
	AuthRetryDelay      time.Duration
	TransientRetryDelay time.Duration
	ChallengeRetryDelay time.Duration
	ServerRetryDelay    time.Duration
	ConflictRetryDelay  time.Duration
	RetryBackoffInitial time.Duration
	RetryBackoffCeiling time.Duration
}

func Load() *Config {
	return &Config{
		Port:             getEnv("PORT", "2121"),
		DatabaseURL:      getEnv("DATABASE_URL", ""),
		JWTSecret:        getEnv("JWT_SECRET", ""),
		CORSAllowOrigins: getEnvAsList("CORS_ALLOW_ORIGINS", "*"),

		RateLimitPerSecond: getEnvAsInt("RATE_LIMIT_PER_SECOND", 10),
		RateLimitBurst:     getEnvAsInt("RATE_LIMIT_BURST", 10),
		RateLimitWindow:    getEnvAsMinutes("RATE_LIMIT_WINDOW_MINUTES", 3),

		GateCapacity: getEnvAsInt("GATE_CAPACITY", 2),

		QRTTL:      getEnvAsSeconds("QR_TTL_SECONDS", 60),
		QRWait:     getEnvAsSeconds("QR_WAIT_SECONDS", 10),
		PairWait:   getEnvAsSeconds("PAIR_WAIT_SECONDS", 30),
		DeviceName: getEnv("DEVICE_NAME", "GOWA Fleet"),

		HeartbeatInterval:  getEnvAsSeconds("HEARTBEAT_SECONDS", 60),
		HeartbeatTimeout:   getEnvAsSeconds("HEARTBEAT_TIMEOUT_SECONDS", 10),
		HeartbeatThreshold: getEnvAsInt("HEARTBEAT_THRESHOLD", 3),

		SweepInterval: getEnvAsMinutes("SWEEP_MINUTES", 5),

		AuthRetryDelay:      getEnvAsSeconds("RETRY_AUTH_SECONDS", 5),
		TransientRetryDelay: getEnvAsSeconds("RETRY_TRANSIENT_SECONDS", 3),
		ChallengeRetryDelay: getEnvAsSeconds("RETRY_CHALLENGE_SECONDS", 3),
		ServerRetryDelay:    getEnvAsSeconds("RETRY_SERVER_SECONDS", 30),
		ConflictRetryDelay:  getEnvAsSeconds("RETRY_CONFLICT_SECONDS", 120),
		RetryBackoffInitial: getEnvAsSeconds("RETRY_BACKOFF_INITIAL_SECONDS", 2),
		RetryBackoffCeiling: getEnvAsSeconds("RETRY_BACKOFF_CEILING_SECONDS", 300),
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

func getEnvAsSeconds(key string, fallback int) time.Duration {
	return time.Duration(getEnvAsInt(key, fallback)) * time.Second
}

func getEnvAsMinutes(key string, fallback int) time.Duration {
	return time.Duration(getEnvAsInt(key, fallback)) * time.Minute
}

func getEnvAsList(key, fallback string) []string {
	raw := getEnv(key, fallback)
	parts := strings.Split(raw, ",")
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
	}
	return parts
}
