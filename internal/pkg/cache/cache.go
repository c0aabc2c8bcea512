package cache

import (
	"context"
	"fmt"
	"strconv"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"

	"github.com/acastrillo/spotbuddy/internal/pkg/env"
)

// Config holds the Redis/Dragonfly connection settings
type Config struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// LoadConfig loads cache configuration from environment variables
func LoadConfig() *Config {
	return &Config{
		Host:     env.GetEnv("CACHE_HOST", "localhost"),
		Port:     env.GetEnvInt("CACHE_PORT", 6379),
		Password: env.GetEnv("CACHE_PASSWORD", ""),
		DB:       env.GetEnvInt("CACHE_DB", 0),
	}
}

// Addr returns host:port.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%s", c.Host, strconv.Itoa(c.Port))
}

// NewClient connects to the cache server. A failed ping is logged, not
// returned: everything stored here is best-effort.
func NewClient(ctx context.Context, cfg *Config) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pong, err := client.Ping(ctx).Result()
	if err != nil {
		log.Warnf("[Cache] Could not connect to cache at %s: %v", cfg.Addr(), err)
	} else {
		log.Infof("[Cache] Successfully connected to cache: %s", pong)
	}
	return client
}
