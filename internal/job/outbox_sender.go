package job

import (
	"context"
	"time"

	"photorevive/internal/infrastructure/mq"
	"photorevive/internal/model"
	"photorevive/internal/repository"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// OutboxSender 轮询 outbox 表，把账务事件发布到 Kafka
//
// 【关键点】
// 1. 消息与流水在同一事务写入，这里只负责至少一次投递
// 2. 同一账户（message_key）的消息本批次内一旦失败，后续消息跳过，避免乱序
// 3. 超过最大重试次数标记为 FAILED，不再轮询
type OutboxSender struct {
	outboxRepo *repository.OutboxRepository
	publisher  mq.Publisher
	maxRetry   int
	interval   time.Duration
	batchSize  int
}

func NewOutboxSender(db *gorm.DB, publisher mq.Publisher, maxRetry int) *OutboxSender {
	if maxRetry < 1 {
		maxRetry = 1
	}
	return &OutboxSender{
		outboxRepo: repository.NewOutboxRepository(db),
		publisher:  publisher,
		maxRetry:   maxRetry,
		interval:   100 * time.Millisecond,
		batchSize:  100,
	}
}

func (s *OutboxSender) Start(ctx context.Context) {
	log.Info("[OutboxSender] 消息发送任务启动")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("[OutboxSender] 收到停止信号，任务退出")
			return
		case <-ticker.C:
			s.processPendingMessages(ctx)
		}
	}
}

func (s *OutboxSender) processPendingMessages(ctx context.Context) {
	messages, err := s.outboxRepo.GetPendingMessages(ctx, s.batchSize)
	if err != nil {
		log.WithError(err).Error("[OutboxSender] 查询消息失败")
		return
	}

	blocked := make(map[string]struct{})
	for _, msg := range messages {
		if _, ok := blocked[msg.MessageKey]; ok {
			continue
		}
		if !s.sendMessage(ctx, msg) {
			blocked[msg.MessageKey] = struct{}{}
		}
	}
}

func (s *OutboxSender) sendMessage(ctx context.Context, msg *model.OutboxMessage) bool {
	fields := log.Fields{"id": msg.ID, "topic": msg.Topic, "key": msg.MessageKey}

	err := s.publisher.Publish(msg.Topic, msg.MessageKey, msg.Payload)
	if err == nil {
		if updateErr := s.outboxRepo.MarkAsSent(ctx, msg.ID); updateErr != nil {
			log.WithError(updateErr).WithFields(fields).Error("[OutboxSender] 更新消息状态失败")
		} else {
			log.WithFields(fields).Debug("[OutboxSender] 消息发送成功")
		}
		return true
	}

	log.WithError(err).WithFields(fields).Warn("[OutboxSender] 消息发送失败")

	if err := s.outboxRepo.RecordFailure(ctx, msg.ID, msg.RetryCount, s.maxRetry); err != nil {
		log.WithError(err).WithFields(fields).Error("[OutboxSender] 记录失败次数失败")
	} else if msg.RetryCount+1 >= s.maxRetry {
		log.WithFields(fields).Error("[OutboxSender] 消息超过最大重试次数，标记为失败")
	}
	return false
}
