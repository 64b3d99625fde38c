package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix   = "voxlane:auth:keys:"
	redisStatsPrefix = "voxlane:auth:stats:"
)

// RedisStorage persists API keys and stats in Redis so several ingress
// processes can share one credential set.
type RedisStorage struct {
	client *redis.Client
}

func NewRedisStorage(addr string, password string, db int) (*RedisStorage, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis at %s: %w", addr, err)
	}

	return &RedisStorage{client: client}, nil
}

func (s *RedisStorage) SaveKey(ctx context.Context, info *ApiKeyInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("marshal api key: %w", err)
	}
	return s.client.Set(ctx, redisKeyPrefix+info.Key, data, 0).Err()
}

func (s *RedisStorage) GetKey(ctx context.Context, key string) (*ApiKeyInfo, error) {
	data, err := s.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}
	var info ApiKeyInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("unmarshal api key: %w", err)
	}
	return &info, nil
}

func (s *RedisStorage) SaveStats(ctx context.Context, key string, stats *ApiKeyStats) error {
	data, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("marshal key stats: %w", err)
	}
	return s.client.Set(ctx, redisStatsPrefix+key, data, 0).Err()
}

func (s *RedisStorage) GetStats(ctx context.Context, key string) (*ApiKeyStats, error) {
	data, err := s.client.Get(ctx, redisStatsPrefix+key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}
	var stats ApiKeyStats
	if err := json.Unmarshal(data, &stats); err != nil {
		return nil, fmt.Errorf("unmarshal key stats: %w", err)
	}
	return &stats, nil
}

func (s *RedisStorage) Close() error {
	return s.client.Close()
}
