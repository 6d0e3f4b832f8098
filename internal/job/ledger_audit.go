package job

import (
	"context"
	"time"

	"photorevive/internal/metrics"
	"photorevive/internal/repository"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// LedgerAuditJob 定期对账：账户余额必须等于最近一条流水的 balance_after
//
// 只读，发现不一致时记录日志和指标，不做自动修复
type LedgerAuditJob struct {
	accountRepo     *repository.AccountRepository
	transactionRepo *repository.TransactionRepository
	interval        time.Duration
	batchSize       int
}

func NewLedgerAuditJob(db *gorm.DB, interval time.Duration) *LedgerAuditJob {
	return &LedgerAuditJob{
		accountRepo:     repository.NewAccountRepository(db),
		transactionRepo: repository.NewTransactionRepository(db),
		interval:        interval,
		batchSize:       200,
	}
}

func (j *LedgerAuditJob) Start(ctx context.Context) {
	log.Info("[LedgerAuditJob] 对账任务启动")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("[LedgerAuditJob] 收到停止信号，任务退出")
			return
		case <-ticker.C:
			j.audit(ctx)
		}
	}
}

// audit 返回本轮发现的不一致账户数
func (j *LedgerAuditJob) audit(ctx context.Context) int {
	var lastID int64
	checked, mismatched := 0, 0

	for {
		accounts, err := j.accountRepo.ListAfterID(ctx, lastID, j.batchSize)
		if err != nil {
			log.WithError(err).Error("[LedgerAuditJob] 查询账户失败")
			return mismatched
		}
		if len(accounts) == 0 {
			break
		}

		for _, account := range accounts {
			lastID = account.ID
			checked++

			latest, err := j.transactionRepo.LatestByAccountID(ctx, account.ID)
			if err != nil {
				log.WithError(err).WithField("account", account.Name).Error("[LedgerAuditJob] 查询流水失败")
				continue
			}

			// 余额变更和流水在同一事务提交，两次读取之间有并发写入时可能误报，下一轮会自然恢复
			var journaled int64
			if latest != nil {
				journaled = latest.BalanceAfter
			}
			if journaled != account.Credits {
				mismatched++
				metrics.RecordAuditMismatch()
				log.WithFields(log.Fields{
					"account":   account.Name,
					"credits":   account.Credits,
					"journaled": journaled,
				}).Error("[LedgerAuditJob] 余额与流水不一致")
			}
		}
	}

	log.WithFields(log.Fields{"checked": checked, "mismatched": mismatched}).Debug("[LedgerAuditJob] 本轮对账完成")
	return mismatched
}
