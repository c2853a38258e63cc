package repositories

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisChunkRegistry keeps the acknowledged-chunk set in a Redis SET per
// upload, so the registry survives server restarts and is shared between
// server instances. The TTL bounds how long an abandoned upload's registry
// entry lingers.
type RedisChunkRegistry struct {
	redis *redis.Client
	ttl   time.Duration
}

func NewRedisChunkRegistry(redisClient *redis.Client, ttlSeconds int) *RedisChunkRegistry {
	return &RedisChunkRegistry{
		redis: redisClient,
		ttl:   time.Duration(ttlSeconds) * time.Second,
	}
}

func chunkSetKey(fileID string) string {
	return fmt.Sprintf("upload:%s:chunks", fileID)
}

func ownerKey(fileID string) string {
	return fmt.Sprintf("upload:%s:owner", fileID)
}

func (r *RedisChunkRegistry) IsChunkUploaded(ctx context.Context, fileID string, chunkIndex int) (bool, error) {
	return r.redis.SIsMember(ctx, chunkSetKey(fileID), chunkIndex).Result()
}

func (r *RedisChunkRegistry) AddChunk(ctx context.Context, fileID string, chunkIndex int) error {
	key := chunkSetKey(fileID)
	if err := r.redis.SAdd(ctx, key, chunkIndex).Err(); err != nil {
		return err
	}
	if r.ttl > 0 {
		return r.redis.Expire(ctx, key, r.ttl).Err()
	}
	return nil
}

func (r *RedisChunkRegistry) UploadedCount(ctx context.Context, fileID string) (int64, error) {
	return r.redis.SCard(ctx, chunkSetKey(fileID)).Result()
}

func (r *RedisChunkRegistry) UploadedChunks(ctx context.Context, fileID string) ([]int, error) {
	members, err := r.redis.SMembers(ctx, chunkSetKey(fileID)).Result()
	if err != nil {
		return nil, err
	}
	result := make([]int, 0, len(members))
	for _, member := range members {
		idx, convErr := strconv.Atoi(member)
		if convErr != nil {
			continue
		}
		result = append(result, idx)
	}
	return result, nil
}

func (r *RedisChunkRegistry) ClaimOwner(ctx context.Context, fileID string, userID uint) (uint, error) {
	key := ownerKey(fileID)
	if err := r.redis.SetNX(ctx, key, uint64(userID), r.ttl).Err(); err != nil {
		return 0, err
	}
	if r.ttl > 0 {
		if err := r.redis.Expire(ctx, key, r.ttl).Err(); err != nil {
			return 0, err
		}
	}
	owner, err := r.redis.Get(ctx, key).Uint64()
	if err != nil {
		return 0, err
	}
	return uint(owner), nil
}

func (r *RedisChunkRegistry) Owner(ctx context.Context, fileID string) (uint, error) {
	owner, err := r.redis.Get(ctx, ownerKey(fileID)).Uint64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return uint(owner), nil
}

func (r *RedisChunkRegistry) Clear(ctx context.Context, fileID string) error {
	return r.redis.Del(ctx, chunkSetKey(fileID), ownerKey(fileID)).Err()
}
