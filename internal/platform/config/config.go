package config

import (
	"os"
	"strconv"
	"time"
)

// Server captures top-level gateway configuration.
type Server struct {
	Addr          string
	ProviderURL   string
	StepUpURL     string
	JWTSigningKey string
	JWTIssuer     string
	JWTAudience   string

	Ceremony CeremonyConfig
	Gate     GateConfig
	Redis    RedisConfig
}

// CeremonyConfig bounds enrollment ceremonies.
type CeremonyConfig struct {
	PollInterval time.Duration
	PollCeiling  time.Duration
	ChallengeTTL time.Duration
}

// GateConfig controls the tiered operation gate.
type GateConfig struct {
	MarkerTTL time.Duration
}

// RedisConfig holds connection settings for the durable marker store.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() Server {
	return Server{
		Addr:          envOr("STEPUP_ADDR", ":8080"),
		ProviderURL:   envOr("STEPUP_PROVIDER_URL", "http://127.0.0.1:4433"),
		StepUpURL:     envOr("STEPUP_AUTH_URL", "/auth/login?aal=aal2"),
		JWTSigningKey: envOr("JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
		JWTIssuer:     envOr("JWT_ISSUER", "stepup-gateway"),
		JWTAudience:   envOr("JWT_AUDIENCE", "stepup-api"),
		Ceremony: CeremonyConfig{
			PollInterval: envDurationOr("CEREMONY_POLL_INTERVAL", time.Second),
			PollCeiling:  envDurationOr("CEREMONY_POLL_CEILING", 120*time.Second),
			ChallengeTTL: envDurationOr("CEREMONY_CHALLENGE_TTL", 5*time.Minute),
		},
		Gate: GateConfig{
			MarkerTTL: envDurationOr("GATE_MARKER_TTL", 10*time.Minute),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     envIntOr("REDIS_POOL_SIZE", 10),
			MinIdleConns: envIntOr("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  envDurationOr("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDurationOr("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDurationOr("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
