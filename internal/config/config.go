package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Addr       string
	CORSOrigin string

	// Hosted identity provider (userinfo endpoint)
	IdentityUserinfoURL string
	// Platform REST API base URL
	BackendBaseURL string

	ProvisionCooldown time.Duration
	ProfileCacheTTL   time.Duration
	SessionIdleTTL    time.Duration

	// Redis Configuration - empty means in-memory profile cache
	RedisURL string
}

func Load() Config {
	return Config{
		Addr:                getenv("GATEWAY_ADDR", ":8686"),
		CORSOrigin:          getenv("GATEWAY_CORS_ORIGIN", "*"),
		IdentityUserinfoURL: getenv("GATEWAY_IDENTITY_USERINFO_URL", "http://localhost:9000/userinfo"),
		BackendBaseURL:      getenv("GATEWAY_BACKEND_API_URL", "http://localhost:8000/api/v1"),
		ProvisionCooldown:   time.Duration(getenvInt("GATEWAY_PROVISION_COOLDOWN_SECONDS", 30)) * time.Second,
		ProfileCacheTTL:     time.Duration(getenvInt("GATEWAY_PROFILE_CACHE_TTL_SECONDS", 300)) * time.Second,
		SessionIdleTTL:      time.Duration(getenvInt("GATEWAY_SESSION_IDLE_TTL_SECONDS", 1800)) * time.Second,
		RedisURL:            getenv("REDIS_URL", ""),
	}
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}
