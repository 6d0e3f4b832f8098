package service

import (
	"context"
	"encoding/json"
	"fmt"

	"photorevive/internal/model"
	"photorevive/internal/repository"
	"photorevive/pkg/idgen"

	"gorm.io/gorm"
)

// journal 在调用方事务内写流水；开启 Kafka 时同时写 outbox
type journal struct {
	transactionRepo *repository.TransactionRepository
	outboxRepo      *repository.OutboxRepository
	outboxTopic     string // 为空表示不写 outbox
}

func newJournal(db *gorm.DB, outboxTopic string) *journal {
	return &journal{
		transactionRepo: repository.NewTransactionRepository(db),
		outboxRepo:      repository.NewOutboxRepository(db),
		outboxTopic:     outboxTopic,
	}
}

func (j *journal) record(ctx context.Context, tx *gorm.DB, account *model.Account, txType string, amount, before int64, remark string) error {
	trans := &model.CreditTransaction{
		TransactionNo: idgen.GenerateTransactionNo(),
		AccountID:     account.ID,
		Name:          account.Name,
		Amount:        amount,
		Type:          txType,
		BalanceBefore: before,
		BalanceAfter:  before + amount,
		Remark:        remark,
	}
	if err := j.transactionRepo.Create(ctx, tx, trans); err != nil {
		return fmt.Errorf("记录流水失败: %w", err)
	}

	if j.outboxTopic == "" {
		return nil
	}

	payload, err := json.Marshal(model.LedgerEvent{
		TransactionNo: trans.TransactionNo,
		Name:          trans.Name,
		Type:          trans.Type,
		Amount:        trans.Amount,
		BalanceAfter:  trans.BalanceAfter,
		OccurredAt:    trans.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("序列化账务事件失败: %w", err)
	}

	msg := &model.OutboxMessage{
		MessageKey: account.Name,
		EventType:  txType,
		Topic:      j.outboxTopic,
		Payload:    string(payload),
		Status:     model.OutboxStatusPending,
	}
	if err := j.outboxRepo.Create(ctx, tx, msg); err != nil {
		return fmt.Errorf("写入消息失败: %w", err)
	}
	return nil
}
