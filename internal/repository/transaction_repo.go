package repository

import (
	"context"
	"errors"

	"photorevive/internal/model"

	"gorm.io/gorm"
)

type TransactionRepository struct {
	db *gorm.DB
}

func NewTransactionRepository(db *gorm.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

func (r *TransactionRepository) Create(ctx context.Context, tx *gorm.DB, trans *model.CreditTransaction) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(trans).Error
}

// ListByAccountID 按时间倒序分页查询流水
func (r *TransactionRepository) ListByAccountID(ctx context.Context, accountID int64, page, pageSize int) ([]*model.CreditTransaction, int64, error) {
	var transactions []*model.CreditTransaction
	var total int64

	base := func() *gorm.DB {
		return r.db.WithContext(ctx).Model(&model.CreditTransaction{}).Where("account_id = ?", accountID)
	}

	err := base().Count(&total).Error
	if err != nil {
		return nil, 0, err
	}

	err = base().
		Order("id DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&transactions).Error

	return transactions, total, err
}

// LatestByAccountID 账户最近一条流水，没有流水时返回 nil
func (r *TransactionRepository) LatestByAccountID(ctx context.Context, accountID int64) (*model.CreditTransaction, error) {
	var trans model.CreditTransaction
	err := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("id DESC").
		First(&trans).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &trans, nil
}
