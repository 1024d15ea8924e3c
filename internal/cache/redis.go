// Package cache provides an optional Redis-backed cache for computed paths.
// Routing is deterministic, so a cached path is always identical to a fresh
// computation; the engine core never requires the cache to be present.
package cache

import (
	"context"
	"crypto/sha256"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/streetsim/streetsim_core/internal/models"
)

var (
	client     *redis.Client
	clientOnce sync.Once
	clientErr  error
)

// Config holds Redis configuration
type Config struct {
	Host     string
	Port     int
	Password string
	DB       int
	TTL      time.Duration
}

// LoadConfigFromEnv loads Redis configuration from environment variables
func LoadConfigFromEnv() *Config {
	port, _ := strconv.Atoi(getEnv("REDIS_PORT", "6379"))
	db, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	ttl, _ := time.ParseDuration(getEnv("PATH_CACHE_TTL", "1h"))

	return &Config{
		Host:     getEnv("REDIS_HOST", "localhost"),
		Port:     port,
		Password: getEnv("REDIS_PASSWORD", ""),
		DB:       db,
		TTL:      ttl,
	}
}

// GetClient returns the global Redis client (singleton pattern)
func GetClient() (*redis.Client, error) {
	clientOnce.Do(func() {
		config := LoadConfigFromEnv()

		opts := &redis.Options{
			Addr:         fmt.Sprintf("%s:%d", config.Host, config.Port),
			Password:     config.Password,
			DB:           config.DB,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
			PoolSize:     10,
			MinIdleConns: 2,
		}

		if getEnv("REDIS_TLS_ENABLED", "false") == "true" {
			opts.TLSConfig = &tls.Config{
				MinVersion: tls.VersionTLS12,
			}
		}

		client = redis.NewClient(opts)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := client.Ping(ctx).Err(); err != nil {
			clientErr = fmt.Errorf("failed to connect to Redis: %w", err)
			return
		}
	})

	return client, clientErr
}

// Close closes the Redis client
func Close() {
	if client != nil {
		client.Close()
	}
}

// PathKey generates a cache key for a path query. The network name is part
// of the key so two maps never share entries.
func PathKey(networkName string, origin, destination models.Position, mode models.Mode) string {
	data := fmt.Sprintf("%s|%d:%.3f|%d:%.3f|%s",
		networkName, origin.Lane, origin.Distance, destination.Lane, destination.Distance, mode)
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("path:%x", hash[:12])
}

// GetPath retrieves a cached path; a nil path with nil error is a miss.
func GetPath(ctx context.Context, key string) (*models.Path, error) {
	client, err := GetClient()
	if err != nil {
		return nil, err
	}

	data, err := client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, nil // cache miss
	}
	if err != nil {
		return nil, fmt.Errorf("cache get: %w", err)
	}

	var path models.Path
	if err := json.Unmarshal(data, &path); err != nil {
		return nil, fmt.Errorf("cache decode: %w", err)
	}
	return &path, nil
}

// SetPath stores a computed path with the configured TTL. Failures are
// returned but callers treat them as advisory; the computed path is still
// valid.
func SetPath(ctx context.Context, key string, path *models.Path) error {
	client, err := GetClient()
	if err != nil {
		return err
	}

	data, err := json.Marshal(path)
	if err != nil {
		return fmt.Errorf("cache encode: %w", err)
	}

	ttl := LoadConfigFromEnv().TTL
	if err := client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
