package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"photorevive/internal/metrics"
	"photorevive/internal/model"
	"photorevive/internal/repository"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ReferralService 邀请奖励
//
// 【关键点】
// 1. 只在新账户创建时、且在创建事务内调用，因此同一个被邀请人最多触发一次
// 2. 邀请码无效或指向自己时静默跳过，不影响新用户登录
type ReferralService struct {
	accountRepo *repository.AccountRepository
	journal     *journal
	bonus       int64
}

func newReferralService(accountRepo *repository.AccountRepository, j *journal, bonus int64) *ReferralService {
	return &ReferralService{
		accountRepo: accountRepo,
		journal:     j,
		bonus:       bonus,
	}
}

// Apply 返回是否发放了奖励
func (s *ReferralService) Apply(ctx context.Context, tx *gorm.DB, newAccount *model.Account, code string) (bool, error) {
	code = strings.ToLower(strings.TrimSpace(code))
	if code == "" {
		return false, nil
	}

	referrer, err := s.accountRepo.GetByReferralCode(ctx, tx, code)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			log.WithFields(log.Fields{"account": newAccount.Name, "code": code}).Debug("邀请码不存在，跳过")
			return false, nil
		}
		return false, fmt.Errorf("查询邀请人失败: %w", err)
	}

	if referrer.ID == newAccount.ID || referrer.Name == newAccount.Name {
		log.WithField("account", newAccount.Name).Debug("自我邀请，跳过")
		return false, nil
	}

	if referrer.Credits > math.MaxInt64-s.bonus {
		log.WithField("referrer", referrer.Name).Warn("邀请人余额已达上限，跳过奖励")
		return false, nil
	}

	if err := s.accountRepo.AddReferral(ctx, tx, referrer.ID, s.bonus); err != nil {
		return false, fmt.Errorf("发放邀请奖励失败: %w", err)
	}

	// 以更新后的余额倒推变动前余额，避免与并发扣款交错时流水不准
	updated, err := s.accountRepo.GetByID(ctx, tx, referrer.ID)
	if err != nil {
		return false, fmt.Errorf("查询邀请人失败: %w", err)
	}

	remark := fmt.Sprintf("邀请-%s", newAccount.Name)
	if err := s.journal.record(ctx, tx, updated, model.TransactionTypeReferralBonus, s.bonus, updated.Credits-s.bonus, remark); err != nil {
		return false, err
	}

	metrics.RecordReferralBonus()
	log.WithFields(log.Fields{
		"referrer": referrer.Name,
		"account":  newAccount.Name,
		"bonus":    s.bonus,
	}).Info("邀请奖励已发放")
	return true, nil
}
