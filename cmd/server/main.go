package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"photorevive/internal/config"
	"photorevive/internal/handler"
	"photorevive/internal/infrastructure/cache"
	"photorevive/internal/infrastructure/database"
	"photorevive/internal/infrastructure/lock"
	"photorevive/internal/infrastructure/mq"
	"photorevive/internal/infrastructure/provider"
	"photorevive/internal/job"
	"photorevive/internal/service"
	"photorevive/pkg/idgen"
	"photorevive/pkg/logger"

	log "github.com/sirupsen/logrus"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "配置文件路径")
	flag.Parse()

	// 加载配置，缺少服务商密钥时直接退出
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		var cerr *config.ConfigurationError
		if errors.As(err, &cerr) {
			log.Fatalf("配置缺失，无法启动: %v", cerr)
		}
		log.Fatalf("加载配置失败: %v", err)
	}

	logCloser, err := logger.Setup(logger.Options{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	if err != nil {
		log.Fatalf("初始化日志失败: %v", err)
	}
	if logCloser != nil {
		defer logCloser.Close()
	}

	// 初始化 ID 生成器
	if err := idgen.Init(cfg.Server.WorkerID); err != nil {
		log.Fatalf("初始化 ID 生成器失败: %v", err)
	}

	// 初始化数据库
	db, err := database.Open(&cfg.Database)
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer database.Close(db)
	if err := database.Migrate(db); err != nil {
		log.Fatalf("%v", err)
	}

	// 账户锁：启用 Redis 时使用分布式锁，否则使用进程内锁
	var locker lock.AccountLocker
	if cfg.Redis.Enabled {
		redisClient, err := cache.NewRedis(&cfg.Redis)
		if err != nil {
			log.Fatalf("%v", err)
		}
		defer redisClient.Close()
		locker = lock.NewRedisAccountLocker(redisClient, time.Duration(cfg.Ledger.LockTTLSeconds)*time.Second)
	} else {
		log.Warn("未启用 Redis，账户锁只在当前进程内生效")
		locker = lock.NewLocalAccountLocker()
	}

	// 创建上下文（用于优雅关闭）
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 启用 Kafka 时启动 outbox 发送任务
	if cfg.Kafka.Enabled {
		publisher, err := mq.NewKafkaPublisher(&cfg.Kafka)
		if err != nil {
			log.Fatalf("%v", err)
		}
		defer publisher.Close()

		outboxSender := job.NewOutboxSender(db, publisher, cfg.Business.MaxRetryCount)
		go outboxSender.Start(ctx)
	}

	if cfg.Business.AuditIntervalSeconds > 0 {
		auditJob := job.NewLedgerAuditJob(db, time.Duration(cfg.Business.AuditIntervalSeconds)*time.Second)
		go auditJob.Start(ctx)
	}

	accounts := service.NewAccountService(db, locker, cfg)
	restorer := service.NewRestoreService(provider.NewClient(cfg.Provider))

	// 设置路由
	router := handler.SetupRouter(handler.NewHandler(accounts, restorer), cfg)

	// 启动 HTTP 服务
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// 在 goroutine 中启动服务器
	go func() {
		log.Infof("服务启动，监听端口: %d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("服务启动失败: %v", err)
		}
	}()

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("正在关闭服务...")

	// 取消上下文，停止后台任务
	cancel()

	// 关闭 HTTP 服务（等待最多5秒）
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Errorf("服务关闭异常: %v", err)
	}

	log.Info("服务已关闭")
}
