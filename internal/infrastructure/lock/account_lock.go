package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// AccountLocker 按账户名串行化余额变更
//
// 【为什么按账户维度加锁？】
// 同一账户的两次扣款如果同时通过余额检查，余额会被扣成负数；
// 不同账户之间没有共享状态，可以完全并发。
type AccountLocker interface {
	LockAccount(ctx context.Context, name string) (unlock func(), err error)
}

func accountLockKey(name string) string {
	return fmt.Sprintf("photorevive:lock:account:%s", name)
}

// RedisAccountLocker 多实例部署时使用
type RedisAccountLocker struct {
	client        *redis.Client
	ttl           time.Duration
	retryInterval time.Duration
	maxRetries    int
}

func NewRedisAccountLocker(client *redis.Client, ttl time.Duration) *RedisAccountLocker {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &RedisAccountLocker{
		client:        client,
		ttl:           ttl,
		retryInterval: 50 * time.Millisecond,
		maxRetries:    int(ttl / (50 * time.Millisecond)),
	}
}

func (l *RedisAccountLocker) LockAccount(ctx context.Context, name string) (func(), error) {
	// value 使用随机 ID，便于追踪持有者
	dl := NewDistributedLock(l.client, accountLockKey(name), uuid.NewString(), l.ttl)
	if err := dl.Lock(ctx, l.retryInterval, l.maxRetries); err != nil {
		return nil, err
	}
	return func() {
		// 请求 ctx 可能已经取消，释放锁使用独立的超时
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := dl.Unlock(releaseCtx); err != nil {
			log.WithError(err).WithField("account", name).Warn("释放账户锁失败")
		}
	}, nil
}
