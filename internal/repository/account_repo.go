package repository

import (
	"context"
	"errors"

	"photorevive/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrAccountNotFound  = errors.New("account not found")
	ErrBalanceNotEnough = errors.New("insufficient credits")
	ErrOptimisticLock   = errors.New("optimistic lock conflict")
	ErrDuplicateAccount = errors.New("duplicate account")
)

type AccountRepository struct {
	db *gorm.DB
}

func NewAccountRepository(db *gorm.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

// conn 事务内的操作必须走 tx，否则 SQLite 单连接下会互相等待
func (r *AccountRepository) conn(tx *gorm.DB) *gorm.DB {
	if tx == nil {
		return r.db
	}
	return tx
}

func (r *AccountRepository) Create(ctx context.Context, tx *gorm.DB, account *model.Account) error {
	err := r.conn(tx).WithContext(ctx).Create(account).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicateAccount
	}
	return err
}

func (r *AccountRepository) GetByName(ctx context.Context, tx *gorm.DB, name string) (*model.Account, error) {
	var account model.Account
	err := r.conn(tx).WithContext(ctx).Where("name = ?", name).First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

// GetByNameForUpdate 行锁读取（SQLite 会忽略 FOR UPDATE，由单连接串行化保证）
func (r *AccountRepository) GetByNameForUpdate(ctx context.Context, tx *gorm.DB, name string) (*model.Account, error) {
	var account model.Account
	err := r.conn(tx).WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("name = ?", name).
		First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

func (r *AccountRepository) GetByID(ctx context.Context, tx *gorm.DB, id int64) (*model.Account, error) {
	var account model.Account
	err := r.conn(tx).WithContext(ctx).Where("id = ?", id).First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

// GetByReferralCode 邀请码大小写不敏感匹配
func (r *AccountRepository) GetByReferralCode(ctx context.Context, tx *gorm.DB, code string) (*model.Account, error) {
	var account model.Account
	err := r.conn(tx).WithContext(ctx).
		Where("referral_key = ?", model.ReferralKey(code)).
		First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

func (r *AccountRepository) ReferralCodeExists(ctx context.Context, tx *gorm.DB, code string) (bool, error) {
	var count int64
	err := r.conn(tx).WithContext(ctx).
		Model(&model.Account{}).
		Where("referral_key = ?", model.ReferralKey(code)).
		Count(&count).Error
	return count > 0, err
}

// Deduct 条件扣减：余额充足且版本号未变才会更新，保证余额不会被扣成负数
func (r *AccountRepository) Deduct(ctx context.Context, tx *gorm.DB, id int64, amount int64, version int) error {
	db := r.conn(tx)
	result := db.WithContext(ctx).
		Model(&model.Account{}).
		Where("id = ? AND credits >= ? AND version = ?", id, amount, version).
		Updates(map[string]interface{}{
			"credits": gorm.Expr("credits - ?", amount),
			"version": gorm.Expr("version + 1"),
		})

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		account, err := r.GetByID(ctx, db, id)
		if err != nil {
			return err
		}
		if account.Credits < amount {
			return ErrBalanceNotEnough
		}
		return ErrOptimisticLock
	}

	return nil
}

func (r *AccountRepository) Increase(ctx context.Context, tx *gorm.DB, id int64, amount int64) error {
	result := r.conn(tx).WithContext(ctx).
		Model(&model.Account{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"credits": gorm.Expr("credits + ?", amount),
			"version": gorm.Expr("version + 1"),
		})

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return ErrAccountNotFound
	}

	return nil
}

// AddReferral 邀请奖励：点数和邀请计数在同一条 UPDATE 中增加
func (r *AccountRepository) AddReferral(ctx context.Context, tx *gorm.DB, id int64, bonus int64) error {
	result := r.conn(tx).WithContext(ctx).
		Model(&model.Account{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"credits":        gorm.Expr("credits + ?", bonus),
			"referral_count": gorm.Expr("referral_count + 1"),
			"version":        gorm.Expr("version + 1"),
		})

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return ErrAccountNotFound
	}

	return nil
}

func (r *AccountRepository) SetCredits(ctx context.Context, tx *gorm.DB, id int64, credits int64) error {
	result := r.conn(tx).WithContext(ctx).
		Model(&model.Account{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"credits": credits,
			"version": gorm.Expr("version + 1"),
		})

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return ErrAccountNotFound
	}

	return nil
}

// ListAfterID 按 id 游标分批遍历账户
func (r *AccountRepository) ListAfterID(ctx context.Context, afterID int64, limit int) ([]*model.Account, error) {
	var accounts []*model.Account
	err := r.db.WithContext(ctx).
		Where("id > ?", afterID).
		Order("id ASC").
		Limit(limit).
		Find(&accounts).Error
	return accounts, err
}
