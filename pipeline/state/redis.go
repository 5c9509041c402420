package state

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/BaSui01/narraflow/types"
)

// RedisConfig 配置 Redis 运行状态存储。
type RedisConfig struct {
	Addr      string        `yaml:"addr" json:"addr"`
	Password  string        `yaml:"password" json:"password"`
	DB        int           `yaml:"db" json:"db"`
	PoolSize  int           `yaml:"pool_size" json:"pool_size"`
	KeyPrefix string        `yaml:"key_prefix" json:"key_prefix"`
	TTL       time.Duration `yaml:"ttl" json:"ttl"`
}

// DefaultRedisConfig 返回默认配置：本地 Redis，运行记录保留 24 小时。
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:      "localhost:6379",
		PoolSize:  10,
		KeyPrefix: "narraflow:",
		TTL:       24 * time.Hour,
	}
}

// RedisStore is a Redis-backed Store for distributed deployments.
// Run data lives in plain keys with TTL; sorted-set indexes keyed by
// CreatedAt support recency-ordered listing and state filtering.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
}

// NewRedisStore 连接 Redis 并验证可达性。
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	keyPrefix := cfg.KeyPrefix
	if keyPrefix == "" {
		keyPrefix = "narraflow:"
	}

	return &RedisStore{
		client:    client,
		keyPrefix: keyPrefix + "run:",
		ttl:       cfg.TTL,
	}, nil
}

func (s *RedisStore) runKey(id string) string {
	return s.keyPrefix + "data:" + id
}

func (s *RedisStore) stateKey(st types.RunState) string {
	return s.keyPrefix + "state:" + string(st)
}

func (s *RedisStore) allKey() string {
	return s.keyPrefix + "all"
}

// Save 写入运行记录并维护状态索引。
func (s *RedisStore) Save(ctx context.Context, run *types.Run) error {
	if run == nil {
		return ErrInvalidInput
	}

	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	now := time.Now()
	if run.CreatedAt.IsZero() {
		run.CreatedAt = now
	}
	run.UpdatedAt = now

	// 状态变化时要从旧状态索引里摘除。
	old, _ := s.Get(ctx, run.ID)

	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to marshal run: %w", err)
	}

	score := float64(run.CreatedAt.UnixNano())
	pipe := s.client.Pipeline()
	pipe.Set(ctx, s.runKey(run.ID), data, s.ttl)
	if old != nil && old.State != run.State {
		pipe.ZRem(ctx, s.stateKey(old.State), run.ID)
	}
	pipe.ZAdd(ctx, s.stateKey(run.State), redis.Z{Score: score, Member: run.ID})
	pipe.ZAdd(ctx, s.allKey(), redis.Z{Score: score, Member: run.ID})

	_, err = pipe.Exec(ctx)
	return err
}

// Get 按 ID 读取运行。
func (s *RedisStore) Get(ctx context.Context, id string) (*types.Run, error) {
	data, err := s.client.Get(ctx, s.runKey(id)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var run types.Run
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// List 返回按创建时间倒序排列的运行。
func (s *RedisStore) List(ctx context.Context, filter Filter) ([]*types.Run, error) {
	index := s.allKey()
	if filter.State != "" {
		index = s.stateKey(filter.State)
	}

	ids, err := s.client.ZRevRange(ctx, index, 0, -1).Result()
	if err != nil {
		return nil, err
	}

	result := make([]*types.Run, 0, len(ids))
	for _, id := range ids {
		run, err := s.Get(ctx, id)
		if err == ErrNotFound {
			// 数据键已过期时索引项是残留，直接清掉。
			s.client.ZRem(ctx, index, id)
			continue
		}
		if err != nil {
			return nil, err
		}
		if filter.VideoID != "" && run.VideoID != filter.VideoID {
			continue
		}
		result = append(result, run)
	}

	return window(result, filter.Offset, filter.Limit), nil
}

// UpdateState 推进运行状态（读-改-写，与 Save 共用索引维护）。
func (s *RedisStore) UpdateState(ctx context.Context, id string, st types.RunState, reason string) error {
	run, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	run.State = st
	if st == types.RunStateFailed {
		run.FailureReason = reason
	}
	return s.Save(ctx, run)
}

// UpdateProgress 更新进度。
func (s *RedisStore) UpdateProgress(ctx context.Context, id string, progress, doneBatches int) error {
	run, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	run.Progress = progress
	run.DoneBatches = doneBatches
	return s.Save(ctx, run)
}

// Cleanup 删除早于 olderThan 的终态运行及其索引项。
func (s *RedisStore) Cleanup(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan).UnixNano()
	max := fmt.Sprintf("%d", cutoff)

	ids, err := s.client.ZRangeByScore(ctx, s.allKey(), &redis.ZRangeBy{Min: "-inf", Max: max}).Result()
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, id := range ids {
		run, err := s.Get(ctx, id)
		if err == ErrNotFound {
			s.client.ZRem(ctx, s.allKey(), id)
			continue
		}
		if err != nil {
			return removed, err
		}
		if !run.State.Terminal() {
			continue
		}

		pipe := s.client.Pipeline()
		pipe.Del(ctx, s.runKey(id))
		pipe.ZRem(ctx, s.stateKey(run.State), id)
		pipe.ZRem(ctx, s.allKey(), id)
		if _, err := pipe.Exec(ctx); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// Ping 检查 Redis 可达性。
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close 关闭 Redis 连接。
func (s *RedisStore) Close() error {
	return s.client.Close()
}
