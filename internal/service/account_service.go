package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"unicode/utf8"

	"photorevive/internal/config"
	"photorevive/internal/infrastructure/lock"
	"photorevive/internal/metrics"
	"photorevive/internal/model"
	"photorevive/internal/repository"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	maxNameLength         = 64
	referralCodeAttempts  = 20
	maxOptimisticRetries  = 3
	defaultTxPageSize     = 20
	maxTxPageSize         = 100
	duplicateLoginRetries = 2
)

// AccountService 账户与点数账本
//
// 【关键点】所有余额变更都满足：
// 1. 按账户名加锁，同一账户的变更串行执行
// 2. 余额变更、流水、outbox 在同一个数据库事务中完成
// 3. 扣减使用条件更新（credits >= amount），余额永远不会为负
type AccountService struct {
	db              *gorm.DB
	locker          lock.AccountLocker
	accountRepo     *repository.AccountRepository
	transactionRepo *repository.TransactionRepository
	journal         *journal
	referral        *ReferralService
	privilege       *PrivilegePolicy
	signupCredits   int64
	randSuffix      func() int // 邀请码后缀，100-999
}

func NewAccountService(db *gorm.DB, locker lock.AccountLocker, cfg *config.Config) *AccountService {
	outboxTopic := ""
	if cfg.Kafka.Enabled {
		outboxTopic = cfg.Kafka.Topic.LedgerEvents
	}

	accountRepo := repository.NewAccountRepository(db)
	j := newJournal(db, outboxTopic)

	return &AccountService{
		db:              db,
		locker:          locker,
		accountRepo:     accountRepo,
		transactionRepo: repository.NewTransactionRepository(db),
		journal:         j,
		referral:        newReferralService(accountRepo, j, cfg.Ledger.ReferralBonus),
		privilege:       NewPrivilegePolicy(cfg.Ledger.PrivilegedNames, cfg.Ledger.PrivilegedCredits),
		signupCredits:   cfg.Ledger.SignupCredits,
		randSuffix:      func() int { return 100 + rand.Intn(900) },
	}
}

// LoginOrCreate 登录；账户不存在时自动创建，新账户携带邀请码时给邀请人发放奖励
func (s *AccountService) LoginOrCreate(ctx context.Context, name, referralCode string) (*model.AccountView, error) {
	normalized := normalizeName(name)
	if normalized == "" {
		return nil, validationError("Name is required")
	}
	if utf8.RuneCountInString(normalized) > maxNameLength {
		return nil, validationError(fmt.Sprintf("Name must be at most %d characters", maxNameLength))
	}

	unlock, err := s.locker.LockAccount(ctx, normalized)
	if err != nil {
		return nil, fmt.Errorf("获取账户锁失败: %w", err)
	}
	defer unlock()

	var account *model.Account
	var created bool
	for attempt := 0; attempt < duplicateLoginRetries; attempt++ {
		account, created, err = s.loginOnce(ctx, name, normalized, referralCode)
		// 唯一键冲突说明其他实例刚创建了同名账户或撞上了同一个邀请码，重试一次即可
		if !errors.Is(err, repository.ErrDuplicateAccount) {
			break
		}
	}
	if err != nil {
		metrics.RecordLedgerOperation("login", KindOf(err).String())
		return nil, err
	}

	metrics.RecordLedgerOperation("login", "ok")
	log.WithFields(log.Fields{
		"account": account.Name,
		"created": created,
		"credits": account.Credits,
	}).Info("登录成功")

	view := account.View()
	return &view, nil
}

func (s *AccountService) loginOnce(ctx context.Context, displayName, normalized, referralCode string) (*model.Account, bool, error) {
	var account *model.Account
	var created bool

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := s.accountRepo.GetByName(ctx, tx, normalized)
		switch {
		case err == nil:
			account = existing
		case errors.Is(err, repository.ErrAccountNotFound):
			account, err = s.createAccount(ctx, tx, displayName, normalized)
			if err != nil {
				return err
			}
			created = true
		default:
			return fmt.Errorf("查询账户失败: %w", err)
		}

		if s.privilege.Applies(normalized) {
			if err := s.applyPrivilege(ctx, tx, account); err != nil {
				return err
			}
		}

		if created && strings.TrimSpace(referralCode) != "" {
			if _, err := s.referral.Apply(ctx, tx, account, referralCode); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return account, created, nil
}

func (s *AccountService) createAccount(ctx context.Context, tx *gorm.DB, displayName, normalized string) (*model.Account, error) {
	code, err := s.newReferralCode(ctx, tx, displayName)
	if err != nil {
		return nil, err
	}

	account := &model.Account{
		Name:         normalized,
		Credits:      s.signupCredits,
		ReferralCode: code,
	}
	if err := s.accountRepo.Create(ctx, tx, account); err != nil {
		if errors.Is(err, repository.ErrDuplicateAccount) {
			return nil, err
		}
		return nil, fmt.Errorf("创建账户失败: %w", err)
	}

	if err := s.journal.record(ctx, tx, account, model.TransactionTypeSignup, s.signupCredits, 0, "注册赠送"); err != nil {
		return nil, err
	}
	return account, nil
}

// newReferralCode 邀请码 = 去掉空白的大写用户名 + 3 位随机数
func (s *AccountService) newReferralCode(ctx context.Context, tx *gorm.DB, displayName string) (string, error) {
	prefix := strings.ToUpper(strings.Join(strings.Fields(displayName), ""))
	for i := 0; i < referralCodeAttempts; i++ {
		code := fmt.Sprintf("%s%03d", prefix, s.randSuffix())
		exists, err := s.accountRepo.ReferralCodeExists(ctx, tx, code)
		if err != nil {
			return "", fmt.Errorf("检查邀请码失败: %w", err)
		}
		if !exists {
			return code, nil
		}
	}
	return "", fmt.Errorf("无法为 %s 生成唯一邀请码", prefix)
}

func (s *AccountService) applyPrivilege(ctx context.Context, tx *gorm.DB, account *model.Account) error {
	target := s.privilege.Credits()
	if account.Credits == target {
		return nil
	}

	before := account.Credits
	if err := s.accountRepo.SetCredits(ctx, tx, account.ID, target); err != nil {
		return fmt.Errorf("设置白名单余额失败: %w", err)
	}
	if err := s.journal.record(ctx, tx, account, model.TransactionTypePrivilegeGrant, target-before, before, "白名单账户"); err != nil {
		return err
	}

	account.Credits = target
	account.Version++
	log.WithField("account", account.Name).Warn("白名单账户余额已被强制设置")
	return nil
}

// Spend 扣减点数
func (s *AccountService) Spend(ctx context.Context, name string, amount int64) (*model.AccountView, error) {
	return s.mutate(ctx, "spend", name, amount, func(ctx context.Context, tx *gorm.DB, account *model.Account) error {
		if account.Credits < amount {
			return insufficientCreditsError()
		}

		if err := s.accountRepo.Deduct(ctx, tx, account.ID, amount, account.Version); err != nil {
			if errors.Is(err, repository.ErrBalanceNotEnough) {
				return insufficientCreditsError()
			}
			return err
		}

		if err := s.journal.record(ctx, tx, account, model.TransactionTypeSpend, -amount, account.Credits, ""); err != nil {
			return err
		}

		account.Credits -= amount
		account.Version++
		return nil
	})
}

// Credit 增加点数
func (s *AccountService) Credit(ctx context.Context, name string, amount int64) (*model.AccountView, error) {
	return s.mutate(ctx, "credit", name, amount, func(ctx context.Context, tx *gorm.DB, account *model.Account) error {
		if amount > math.MaxInt64-account.Credits {
			return validationError("Amount is too large")
		}

		if err := s.accountRepo.Increase(ctx, tx, account.ID, amount); err != nil {
			return err
		}

		if err := s.journal.record(ctx, tx, account, model.TransactionTypeCredit, amount, account.Credits, ""); err != nil {
			return err
		}

		account.Credits += amount
		account.Version++
		return nil
	})
}

type mutation func(ctx context.Context, tx *gorm.DB, account *model.Account) error

func (s *AccountService) mutate(ctx context.Context, op, name string, amount int64, apply mutation) (*model.AccountView, error) {
	normalized := normalizeName(name)
	if normalized == "" {
		return nil, validationError("Name and amount are required")
	}
	if amount <= 0 {
		return nil, validationError("Amount must be a positive integer")
	}

	unlock, err := s.locker.LockAccount(ctx, normalized)
	if err != nil {
		return nil, fmt.Errorf("获取账户锁失败: %w", err)
	}
	defer unlock()

	var account *model.Account
	for attempt := 0; attempt < maxOptimisticRetries; attempt++ {
		err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			current, err := s.accountRepo.GetByNameForUpdate(ctx, tx, normalized)
			if err != nil {
				if errors.Is(err, repository.ErrAccountNotFound) {
					return notFoundError("User not found")
				}
				return fmt.Errorf("查询账户失败: %w", err)
			}
			if err := apply(ctx, tx, current); err != nil {
				return err
			}
			account = current
			return nil
		})
		if !errors.Is(err, repository.ErrOptimisticLock) {
			break
		}
		log.WithFields(log.Fields{"account": normalized, "op": op}).Warn("乐观锁冲突，重试")
	}

	if err != nil {
		metrics.RecordLedgerOperation(op, KindOf(err).String())
		if KindOf(err) == KindInternal {
			log.WithError(err).WithFields(log.Fields{"account": normalized, "op": op}).Error("账务操作失败")
		}
		return nil, err
	}

	metrics.RecordLedgerOperation(op, "ok")
	log.WithFields(log.Fields{
		"account": account.Name,
		"op":      op,
		"amount":  amount,
		"credits": account.Credits,
	}).Info("账务操作成功")

	view := account.View()
	return &view, nil
}

// GetAccount 查询账户
func (s *AccountService) GetAccount(ctx context.Context, name string) (*model.AccountView, error) {
	normalized := normalizeName(name)
	if normalized == "" {
		return nil, validationError("Name is required")
	}

	account, err := s.accountRepo.GetByName(ctx, nil, normalized)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return nil, notFoundError("User not found")
		}
		return nil, err
	}

	view := account.View()
	return &view, nil
}

// ListTransactions 分页查询账户流水
func (s *AccountService) ListTransactions(ctx context.Context, name string, page, pageSize int) ([]*model.CreditTransaction, int64, error) {
	normalized := normalizeName(name)
	if normalized == "" {
		return nil, 0, validationError("Name is required")
	}
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = defaultTxPageSize
	}
	if pageSize > maxTxPageSize {
		pageSize = maxTxPageSize
	}

	account, err := s.accountRepo.GetByName(ctx, nil, normalized)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return nil, 0, notFoundError("User not found")
		}
		return nil, 0, err
	}

	return s.transactionRepo.ListByAccountID(ctx, account.ID, page, pageSize)
}
