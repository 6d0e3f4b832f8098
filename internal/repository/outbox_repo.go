package repository

import (
	"context"

	"photorevive/internal/model"

	"gorm.io/gorm"
)

type OutboxRepository struct {
	db *gorm.DB
}

func NewOutboxRepository(db *gorm.DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

func (r *OutboxRepository) Create(ctx context.Context, tx *gorm.DB, msg *model.OutboxMessage) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(msg).Error
}

func (r *OutboxRepository) GetPendingMessages(ctx context.Context, limit int) ([]*model.OutboxMessage, error) {
	var messages []*model.OutboxMessage
	err := r.db.WithContext(ctx).
		Where("status = ?", model.OutboxStatusPending).
		Order("id ASC").
		Limit(limit).
		Find(&messages).Error
	return messages, err
}

func (r *OutboxRepository) MarkAsSent(ctx context.Context, id int64) error {
	return r.db.WithContext(ctx).
		Model(&model.OutboxMessage{}).
		Where("id = ?", id).
		Update("status", model.OutboxStatusSent).Error
}

// RecordFailure 记录一次发送失败，超过最大重试次数后标记为 FAILED，不再被轮询
func (r *OutboxRepository) RecordFailure(ctx context.Context, id int64, retryCount, maxRetry int) error {
	updates := map[string]interface{}{
		"retry_count": gorm.Expr("retry_count + 1"),
	}
	if retryCount+1 >= maxRetry {
		updates["status"] = model.OutboxStatusFailed
	}
	return r.db.WithContext(ctx).
		Model(&model.OutboxMessage{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *OutboxRepository) CountByStatus(ctx context.Context, status string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.OutboxMessage{}).
		Where("status = ?", status).
		Count(&count).Error
	return count, err
}
