package config

import (
	"context"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
)

// InitRedis connects to Redis for notification dedupe caches. Returns nil
// when REDIS_URL is unset or unreachable; callers fall back to in-memory
// caches in that case.
func InitRedis() *redis.Client {
	redisURL := viper.GetString("REDIS_URL")
	if redisURL == "" {
		log.Println("REDIS_URL not configured, notification dedupe will use in-memory caches")
		return nil
	}

	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		log.Printf("Warning: failed to parse REDIS_URL: %v - falling back to in-memory dedupe", err)
		return nil
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		log.Printf("Warning: failed to connect to Redis: %v - falling back to in-memory dedupe", err)
		return nil
	}

	log.Println("Redis connected")
	return client
}
