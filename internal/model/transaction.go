package model

import (
	"time"
)

const (
	TransactionTypeSignup         = "SIGNUP"          // 注册赠送
	TransactionTypeSpend          = "SPEND"           // 消费点数
	TransactionTypeCredit         = "CREDIT"          // 充值
	TransactionTypeReferralBonus  = "REFERRAL_BONUS"  // 邀请奖励
	TransactionTypePrivilegeGrant = "PRIVILEGE_GRANT" // 白名单账户强制设置余额
)

// CreditTransaction 点数流水表
// 只追加，不修改；每次余额变动写一条，并记录变动前后余额，便于对账
type CreditTransaction struct {
	ID            int64     `gorm:"primaryKey;autoIncrement" json:"-"`
	TransactionNo string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"transactionNo"`
	AccountID     int64     `gorm:"index;not null" json:"-"`
	Name          string    `gorm:"type:varchar(64);not null" json:"name"`
	Amount        int64     `gorm:"not null" json:"amount"` // 正数入账，负数出账
	Type          string    `gorm:"type:varchar(20);not null" json:"type"`
	BalanceBefore int64     `gorm:"not null" json:"balanceBefore"`
	BalanceAfter  int64     `gorm:"not null" json:"balanceAfter"`
	Remark        string    `gorm:"type:varchar(256)" json:"remark,omitempty"`
	CreatedAt     time.Time `gorm:"autoCreateTime;index" json:"createdAt"`
}

func (CreditTransaction) TableName() string {
	return "credit_transaction"
}
