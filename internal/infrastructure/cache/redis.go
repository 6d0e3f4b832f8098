package cache

import (
	"context"
	"fmt"
	"time"

	"photorevive/internal/config"

	"github.com/go-redis/redis/v8"
	log "github.com/sirupsen/logrus"
)

// NewRedis 创建 Redis 客户端并 Ping 确认可用
func NewRedis(cfg *config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}

	log.WithField("addr", client.Options().Addr).Info("Redis 连接成功")
	return client, nil
}
