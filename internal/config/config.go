// Package config reads service settings from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds everything the service needs to start.
type Config struct {
	HTTPAddr string

	UserDBURI string
	DataURI   string
	RedisURL  string

	ServerSecret string
	TokenTTL     time.Duration

	RateBurst     int
	RatePerSecond int
	MaxBodyBytes  int64
}

// FromEnv builds the config from ORB_* environment variables, applying
// defaults for everything except the store URIs and the signing secret.
func FromEnv() (Config, error) {
	cfg := Config{
		HTTPAddr:      envOr("ORB_HTTP_ADDR", ":8080"),
		UserDBURI:     os.Getenv("ORB_USERDB_URI"),
		DataURI:       os.Getenv("ORB_DATA_URI"),
		RedisURL:      envOr("ORB_REDIS_URL", "redis://localhost:6379/0"),
		ServerSecret:  os.Getenv("ORB_SERVER_SECRET"),
		RateBurst:     20,
		RatePerSecond: 10,
		MaxBodyBytes:  1 << 20,
	}

	if cfg.UserDBURI == "" {
		return Config{}, errors.New("config: ORB_USERDB_URI is required")
	}
	if cfg.DataURI == "" {
		// A single cluster serving both roles is a valid deployment.
		cfg.DataURI = cfg.UserDBURI
	}
	if cfg.ServerSecret == "" {
		return Config{}, errors.New("config: ORB_SERVER_SECRET is required")
	}

	ttl, err := envDuration("ORB_TOKEN_TTL", 2*time.Hour)
	if err != nil {
		return Config{}, err
	}
	cfg.TokenTTL = ttl

	if cfg.RateBurst, err = envInt("ORB_RATE_BURST", cfg.RateBurst); err != nil {
		return Config{}, err
	}
	if cfg.RatePerSecond, err = envInt("ORB_RATE_PER_SECOND", cfg.RatePerSecond); err != nil {
		return Config{}, err
	}
	maxBody, err := envInt("ORB_MAX_BODY_BYTES", int(cfg.MaxBodyBytes))
	if err != nil {
		return Config{}, err
	}
	cfg.MaxBodyBytes = int64(maxBody)

	return cfg, nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %v", key, err)
	}
	return n, nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %v", key, err)
	}
	return d, nil
}
