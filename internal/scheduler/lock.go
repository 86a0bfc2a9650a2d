package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const lockPrefix = "eidos:wallet:job:lock:"

var unlockScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	end
	return 0
`)

// Lock 基于 SET NX 的任务锁，多实例共享同一设备存储时只有一个实例执行巡检
type Lock struct {
	client redis.UniversalClient
	key    string
	value  string
	ttl    time.Duration
}

// NewLock 创建任务锁
func NewLock(client redis.UniversalClient, name string, ttl time.Duration) *Lock {
	return &Lock{
		client: client,
		key:    lockPrefix + name,
		value:  uuid.NewString(),
		ttl:    ttl,
	}
}

// TryLock 尝试获取锁
func (l *Lock) TryLock(ctx context.Context) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key, l.value, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock: %w", err)
	}
	return ok, nil
}

// Unlock 只释放自己持有的锁
func (l *Lock) Unlock(ctx context.Context) error {
	err := unlockScript.Run(ctx, l.client, []string{l.key}, l.value).Err()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

// IsLocked 检查任务锁是否存在
func IsLocked(ctx context.Context, client redis.UniversalClient, name string) (bool, error) {
	n, err := client.Exists(ctx, lockPrefix+name).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
