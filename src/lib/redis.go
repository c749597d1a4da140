package lib

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
)

var redisClient *redis.Client

func GetRedisClient() *redis.Client {
	if redisClient != nil {
		return redisClient
	}
	redisHost := os.Getenv("REDIS_HOST")
	opt, err := redis.ParseURL(redisHost)
	if err != nil {
		log.Printf("[redis] Error parsing connection string: %s\n", err.Error())
		return nil
	}
	rdb := redis.NewClient(opt)
	redisClient = rdb
	return rdb
}

// NewRedisClient Replace redis instance with custom client implementation
func NewRedisClient(c *redis.Client) *redis.Client {
	redisClient = c
	return redisClient
}

// CacheGetJSON loads key into dst. A miss or any redis error reports false.
func CacheGetJSON(ctx context.Context, rdb *redis.Client, key string, dst any) bool {
	if rdb == nil {
		return false
	}
	val, err := rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return false
	} else if err != nil {
		log.Printf("[redis] Error retrieving value for %s: %s\n", key, err.Error())
		return false
	}
	if err := json.Unmarshal([]byte(val), dst); err != nil {
		log.Printf("[redis] Invalid cached value for %s: %s\n", key, err.Error())
		return false
	}
	return true
}

func CacheSetJSON(ctx context.Context, rdb *redis.Client, key string, v any, ttl time.Duration) {
	if rdb == nil {
		return
	}
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := rdb.Set(ctx, key, string(b), ttl).Err(); err != nil {
		log.Printf("Failed to set value for key %s: %s\n", key, err)
	}
}

func CacheDelete(ctx context.Context, rdb *redis.Client, keys ...string) {
	if rdb == nil || len(keys) == 0 {
		return
	}
	if err := rdb.Del(ctx, keys...).Err(); err != nil {
		log.Printf("[redis] Error deleting %v: %s\n", keys, err.Error())
	}
}
