package lock

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
)

// ============================================================================
// Redis 分布式锁
// ============================================================================
//
// 加锁：SET key value NX EX timeout
//   - NX 保证互斥
//   - EX 防止持有者崩溃后死锁
//   - value 为持有者标识，释放时校验，避免误删别人的锁
//
// 释放：Lua 脚本保证"检查 + 删除"的原子性
//
// ============================================================================

var (
	ErrLockFailed = errors.New("acquire lock failed")
)

var unlockScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	else
		return 0
	end
`)

// DistributedLock 分布式锁
type DistributedLock struct {
	client     *redis.Client
	key        string
	value      string
	expiration time.Duration
}

func NewDistributedLock(client *redis.Client, key, value string, expiration time.Duration) *DistributedLock {
	return &DistributedLock{
		client:     client,
		key:        key,
		value:      value,
		expiration: expiration,
	}
}

// TryLock 非阻塞获取锁
func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	return l.client.SetNX(ctx, l.key, l.value, l.expiration).Result()
}

// Lock 阻塞式获取锁（带重试）
func (l *DistributedLock) Lock(ctx context.Context, retryInterval time.Duration, maxRetries int) error {
	for i := 0; i < maxRetries; i++ {
		success, err := l.TryLock(ctx)
		if err != nil {
			return err
		}
		if success {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryInterval):
		}
	}
	return ErrLockFailed
}

// Unlock 只删除自己持有的锁
func (l *DistributedLock) Unlock(ctx context.Context) error {
	return unlockScript.Run(ctx, l.client, []string{l.key}, l.value).Err()
}
