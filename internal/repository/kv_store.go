package repository

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/eidos-exchange/eidos/eidos-wallet/internal/model"
)

// KVStore 键值持久化协作方，只提供整体读写
type KVStore interface {
	// Get 返回值和是否存在；不存在不是错误
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// redisKVStore Redis 实现
type redisKVStore struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

// NewRedisKVStore 创建 Redis 键值存储，ttl 为 0 表示不过期
func NewRedisKVStore(rdb redis.UniversalClient, ttl time.Duration) KVStore {
	return &redisKVStore{rdb: rdb, ttl: ttl}
}

func (s *redisKVStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (s *redisKVStore) Set(ctx context.Context, key string, value []byte) error {
	return s.rdb.Set(ctx, key, value, s.ttl).Err()
}

func (s *redisKVStore) Delete(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, key).Err()
}

// gormKVStore PostgreSQL 实现
type gormKVStore struct {
	*Repository
	maxRetries int
}

// NewGormKVStore 创建数据库键值存储
func NewGormKVStore(db *gorm.DB) KVStore {
	return &gormKVStore{
		Repository: NewRepository(db),
		maxRetries: 3,
	}
}

func (s *gormKVStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var entry model.KVEntry
	err := s.DB(ctx).Where("entry_key = ?", key).First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return []byte(entry.Value), true, nil
}

func (s *gormKVStore) Set(ctx context.Context, key string, value []byte) error {
	entry := &model.KVEntry{
		Key:       key,
		Value:     string(value),
		UpdatedAt: time.Now().UnixMilli(),
	}
	return s.TransactionWithRetry(ctx, s.maxRetries, func(ctx context.Context) error {
		return s.DB(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "entry_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		}).Create(entry).Error
	})
}

func (s *gormKVStore) Delete(ctx context.Context, key string) error {
	return s.DB(ctx).Where("entry_key = ?", key).Delete(&model.KVEntry{}).Error
}
