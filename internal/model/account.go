package model

import (
	"strings"
	"time"

	"gorm.io/gorm"
)

// Account 用户账户表
// name 是对外的身份标识（统一小写存储），credits 是可用于调用 AI 修复的点数
type Account struct {
	ID            int64     `gorm:"primaryKey;autoIncrement" json:"-"`
	Name          string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"name"`
	Credits       int64     `gorm:"not null;default:0" json:"credits"`
	ReferralCode  string    `gorm:"type:varchar(80);uniqueIndex;not null" json:"referralCode"`
	ReferralKey   string    `gorm:"type:varchar(80);uniqueIndex;not null" json:"-"` // 小写邀请码，查询只走这一列
	ReferralCount int64     `gorm:"not null;default:0" json:"referralCount"`
	Version       int       `gorm:"not null;default:0" json:"-"` // 乐观锁版本号
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"-"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"-"`
}

func (Account) TableName() string {
	return "account"
}

// BeforeCreate 在 Go 侧做大小写归一，SQLite 的 lower() 只处理 ASCII
func (a *Account) BeforeCreate(tx *gorm.DB) error {
	a.ReferralKey = ReferralKey(a.ReferralCode)
	return nil
}

// ReferralKey 邀请码的归一化形式
func ReferralKey(code string) string {
	return strings.ToLower(strings.TrimSpace(code))
}

// AccountView 返回给客户端的账户字段，不包含内部 ID
type AccountView struct {
	Name          string `json:"name"`
	Credits       int64  `json:"credits"`
	ReferralCode  string `json:"referralCode"`
	ReferralCount int64  `json:"referralCount"`
}

func (a *Account) View() AccountView {
	return AccountView{
		Name:          a.Name,
		Credits:       a.Credits,
		ReferralCode:  a.ReferralCode,
		ReferralCount: a.ReferralCount,
	}
}
