package service

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"photorevive/internal/config"
	"photorevive/internal/infrastructure/database"
	"photorevive/internal/infrastructure/lock"
	"photorevive/internal/model"
	"photorevive/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var dbSeq int64

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:ledger_%d?mode=memory&cache=shared", atomic.AddInt64(&dbSeq, 1))
	db, err := database.Open(&config.DatabaseConfig{Driver: database.DriverSQLite, DSN: dsn})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() { _ = database.Close(db) })
	return db
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Ledger = config.LedgerConfig{
		SignupCredits:     50,
		ReferralBonus:     25,
		PrivilegedNames:   []string{"GizatRustam"},
		PrivilegedCredits: 999999,
	}
	cfg.Kafka.Topic.LedgerEvents = "photorevive.ledger"
	return cfg
}

func newTestService(t *testing.T, cfg *config.Config) (*AccountService, *gorm.DB) {
	t.Helper()
	db := newTestDB(t)
	svc := NewAccountService(db, lock.NewLocalAccountLocker(), cfg)
	return svc, db
}

func sequentialSuffix(values ...int) func() int {
	var i int
	return func() int {
		v := values[i%len(values)]
		i++
		return v
	}
}

func countTransactions(t *testing.T, db *gorm.DB, name, txType string) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(&model.CreditTransaction{}).Where("name = ? AND type = ?", name, txType).Count(&n).Error)
	return n
}

func TestLoginOrCreate_NewAccount(t *testing.T) {
	svc, db := newTestService(t, testConfig())
	svc.randSuffix = sequentialSuffix(123)

	view, err := svc.LoginOrCreate(context.Background(), "  Alice Smith ", "")
	require.NoError(t, err)
	assert.Equal(t, "alice smith", view.Name)
	assert.Equal(t, int64(50), view.Credits)
	assert.Equal(t, "ALICESMITH123", view.ReferralCode)
	assert.Equal(t, int64(0), view.ReferralCount)
	assert.Equal(t, int64(1), countTransactions(t, db, "alice smith", model.TransactionTypeSignup))

	again, err := svc.LoginOrCreate(context.Background(), "ALICE SMITH", "")
	require.NoError(t, err)
	assert.Equal(t, view.ReferralCode, again.ReferralCode)
	assert.Equal(t, int64(1), countTransactions(t, db, "alice smith", model.TransactionTypeSignup))
}

func TestLoginOrCreate_EmptyName(t *testing.T) {
	svc, _ := newTestService(t, testConfig())

	_, err := svc.LoginOrCreate(context.Background(), "   ", "")
	assert.ErrorIs(t, err, ErrValidation)
	assert.EqualError(t, err, "Name is required")
}

func TestLoginOrCreate_NameTooLong(t *testing.T) {
	svc, _ := newTestService(t, testConfig())

	_, err := svc.LoginOrCreate(context.Background(), strings.Repeat("a", maxNameLength+1), "")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestLoginOrCreate_ReferralCodeCollisionRetries(t *testing.T) {
	svc, _ := newTestService(t, testConfig())
	svc.randSuffix = sequentialSuffix(500, 500, 501)

	first, err := svc.LoginOrCreate(context.Background(), "sam", "")
	require.NoError(t, err)
	assert.Equal(t, "SAM500", first.ReferralCode)

	// "s am" 去掉空白后前缀同为 SAM，第一次随机数冲突
	second, err := svc.LoginOrCreate(context.Background(), "s am", "")
	require.NoError(t, err)
	assert.Equal(t, "SAM501", second.ReferralCode)
}

func TestReferralScenario(t *testing.T) {
	svc, db := newTestService(t, testConfig())
	ctx := context.Background()

	alice, err := svc.LoginOrCreate(ctx, "alice", "")
	require.NoError(t, err)
	assert.Equal(t, int64(50), alice.Credits)

	alice, err = svc.Spend(ctx, "alice", 10)
	require.NoError(t, err)
	assert.Equal(t, int64(40), alice.Credits)

	bob, err := svc.LoginOrCreate(ctx, "bob", strings.ToLower(alice.ReferralCode))
	require.NoError(t, err)
	assert.Equal(t, int64(50), bob.Credits)

	alice, err = svc.GetAccount(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(65), alice.Credits)
	assert.Equal(t, int64(1), alice.ReferralCount)
	assert.Equal(t, int64(1), countTransactions(t, db, "alice", model.TransactionTypeReferralBonus))

	// 再次登录不会重复发放
	_, err = svc.LoginOrCreate(ctx, "bob", alice.ReferralCode)
	require.NoError(t, err)
	alice, err = svc.GetAccount(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(65), alice.Credits)
	assert.Equal(t, int64(1), alice.ReferralCount)
}

func TestReferral_NonASCIICode(t *testing.T) {
	svc, _ := newTestService(t, testConfig())
	svc.randSuffix = sequentialSuffix(687)
	ctx := context.Background()

	ivan, err := svc.LoginOrCreate(ctx, "Иван", "")
	require.NoError(t, err)
	assert.Equal(t, "иван", ivan.Name)
	assert.Equal(t, "ИВАН687", ivan.ReferralCode)

	for i, code := range []string{"ИВАН687", "иван687"} {
		_, err = svc.LoginOrCreate(ctx, fmt.Sprintf("petr%d", i), code)
		require.NoError(t, err)
	}

	ivan, err = svc.GetAccount(ctx, "иван")
	require.NoError(t, err)
	assert.Equal(t, int64(100), ivan.Credits)
	assert.Equal(t, int64(2), ivan.ReferralCount)
}

func TestReferral_UnknownCodeIsIgnored(t *testing.T) {
	svc, _ := newTestService(t, testConfig())

	carol, err := svc.LoginOrCreate(context.Background(), "carol", "NOSUCHCODE999")
	require.NoError(t, err)
	assert.Equal(t, int64(50), carol.Credits)
}

func TestReferral_SelfReferralIsNoop(t *testing.T) {
	svc, db := newTestService(t, testConfig())
	svc.randSuffix = sequentialSuffix(777)

	dave, err := svc.LoginOrCreate(context.Background(), "dave", "DAVE777")
	require.NoError(t, err)
	assert.Equal(t, "DAVE777", dave.ReferralCode)
	assert.Equal(t, int64(50), dave.Credits)
	assert.Equal(t, int64(0), dave.ReferralCount)
	assert.Zero(t, countTransactions(t, db, "dave", model.TransactionTypeReferralBonus))
}

func TestPrivilegedAccount(t *testing.T) {
	svc, db := newTestService(t, testConfig())
	ctx := context.Background()

	view, err := svc.LoginOrCreate(ctx, "GizatRustam", "")
	require.NoError(t, err)
	assert.Equal(t, int64(999999), view.Credits)

	_, err = svc.Spend(ctx, "gizatrustam", 1000)
	require.NoError(t, err)

	view, err = svc.LoginOrCreate(ctx, "gizatrustam", "")
	require.NoError(t, err)
	assert.Equal(t, int64(999999), view.Credits)
	assert.Equal(t, int64(2), countTransactions(t, db, "gizatrustam", model.TransactionTypePrivilegeGrant))
}

func TestSpend(t *testing.T) {
	svc, db := newTestService(t, testConfig())
	ctx := context.Background()
	_, err := svc.LoginOrCreate(ctx, "erin", "")
	require.NoError(t, err)

	t.Run("validation", func(t *testing.T) {
		_, err := svc.Spend(ctx, "", 10)
		assert.ErrorIs(t, err, ErrValidation)
		assert.EqualError(t, err, "Name and amount are required")

		_, err = svc.Spend(ctx, "erin", 0)
		assert.ErrorIs(t, err, ErrValidation)
		_, err = svc.Spend(ctx, "erin", -5)
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("not found", func(t *testing.T) {
		_, err := svc.Spend(ctx, "nobody", 10)
		assert.ErrorIs(t, err, ErrNotFound)
		assert.EqualError(t, err, "User not found")
	})

	t.Run("insufficient leaves balance unchanged", func(t *testing.T) {
		_, err := svc.Spend(ctx, "erin", 51)
		assert.ErrorIs(t, err, ErrInsufficientCredits)
		assert.EqualError(t, err, "Insufficient credits")

		view, err := svc.GetAccount(ctx, "erin")
		require.NoError(t, err)
		assert.Equal(t, int64(50), view.Credits)
		assert.Zero(t, countTransactions(t, db, "erin", model.TransactionTypeSpend))
	})

	t.Run("exact balance reaches zero", func(t *testing.T) {
		view, err := svc.Spend(ctx, "erin", 50)
		require.NoError(t, err)
		assert.Equal(t, int64(0), view.Credits)
	})
}

func TestCredit(t *testing.T) {
	svc, _ := newTestService(t, testConfig())
	ctx := context.Background()

	_, err := svc.Credit(ctx, "frank", 10)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = svc.LoginOrCreate(ctx, "frank", "")
	require.NoError(t, err)

	view, err := svc.Credit(ctx, "Frank", 100)
	require.NoError(t, err)
	assert.Equal(t, int64(150), view.Credits)

	_, err = svc.Credit(ctx, "frank", 0)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestCredit_RejectsOverflow(t *testing.T) {
	svc, db := newTestService(t, testConfig())
	ctx := context.Background()
	_, err := svc.LoginOrCreate(ctx, "alice", "")
	require.NoError(t, err)

	_, err = svc.Credit(ctx, "alice", math.MaxInt64)
	assert.ErrorIs(t, err, ErrValidation)
	assert.EqualError(t, err, "Amount is too large")

	view, err := svc.GetAccount(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(50), view.Credits)
	assert.Zero(t, countTransactions(t, db, "alice", model.TransactionTypeCredit))

	// 恰好到上限是允许的
	view, err = svc.Credit(ctx, "alice", math.MaxInt64-50)
	require.NoError(t, err)
	assert.Equal(t, int64(math.MaxInt64), view.Credits)

	view, err = svc.GetAccount(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(math.MaxInt64), view.Credits)

	_, err = svc.Credit(ctx, "alice", 1)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestReferral_SkipsBonusAtCreditCeiling(t *testing.T) {
	svc, _ := newTestService(t, testConfig())
	ctx := context.Background()

	rich, err := svc.LoginOrCreate(ctx, "rich", "")
	require.NoError(t, err)
	_, err = svc.Credit(ctx, "rich", math.MaxInt64-60)
	require.NoError(t, err)

	_, err = svc.LoginOrCreate(ctx, "newbie", rich.ReferralCode)
	require.NoError(t, err)

	rich, err = svc.GetAccount(ctx, "rich")
	require.NoError(t, err)
	assert.Equal(t, int64(math.MaxInt64-10), rich.Credits)
	assert.Equal(t, int64(0), rich.ReferralCount)
}

func TestConcurrentSpendNeverOverdraws(t *testing.T) {
	svc, _ := newTestService(t, testConfig())
	ctx := context.Background()
	_, err := svc.LoginOrCreate(ctx, "grace", "")
	require.NoError(t, err)

	var (
		wg           sync.WaitGroup
		successes    int64
		insufficient int64
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Spend(ctx, "grace", 10)
			switch {
			case err == nil:
				atomic.AddInt64(&successes, 1)
			case KindOf(err) == KindInsufficientCredits:
				atomic.AddInt64(&insufficient, 1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(5), successes)
	assert.Equal(t, int64(5), insufficient)

	view, err := svc.GetAccount(ctx, "grace")
	require.NoError(t, err)
	assert.Equal(t, int64(0), view.Credits)
}

func TestJournalBalancesMatchAccount(t *testing.T) {
	svc, _ := newTestService(t, testConfig())
	ctx := context.Background()

	_, err := svc.LoginOrCreate(ctx, "heidi", "")
	require.NoError(t, err)
	_, err = svc.Spend(ctx, "heidi", 20)
	require.NoError(t, err)
	final, err := svc.Credit(ctx, "heidi", 5)
	require.NoError(t, err)

	list, total, err := svc.ListTransactions(ctx, "heidi", 1, 10)
	require.NoError(t, err)
	require.Equal(t, int64(3), total)
	require.Len(t, list, 3)

	// 按 id 倒序，第一条是最新的
	assert.Equal(t, model.TransactionTypeCredit, list[0].Type)
	assert.Equal(t, final.Credits, list[0].BalanceAfter)
	assert.Equal(t, int64(30), list[1].BalanceAfter)
	assert.Equal(t, int64(-20), list[1].Amount)
	assert.Equal(t, int64(50), list[2].BalanceAfter)

	for _, tr := range list {
		assert.Equal(t, tr.BalanceBefore+tr.Amount, tr.BalanceAfter)
	}
}

func TestListTransactions_UnknownAccount(t *testing.T) {
	svc, _ := newTestService(t, testConfig())

	_, _, err := svc.ListTransactions(context.Background(), "ivan", 1, 10)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOutboxWrittenOnlyWhenKafkaEnabled(t *testing.T) {
	ctx := context.Background()

	disabled, db := newTestService(t, testConfig())
	_, err := disabled.LoginOrCreate(ctx, "judy", "")
	require.NoError(t, err)
	pending, err := repository.NewOutboxRepository(db).CountByStatus(ctx, model.OutboxStatusPending)
	require.NoError(t, err)
	assert.Zero(t, pending)

	cfg := testConfig()
	cfg.Kafka.Enabled = true
	enabled, db := newTestService(t, cfg)
	_, err = enabled.LoginOrCreate(ctx, "judy", "")
	require.NoError(t, err)
	_, err = enabled.Spend(ctx, "judy", 5)
	require.NoError(t, err)

	msgs, err := repository.NewOutboxRepository(db).GetPendingMessages(ctx, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "judy", msgs[0].MessageKey)
	assert.Equal(t, "photorevive.ledger", msgs[0].Topic)
	assert.Equal(t, model.TransactionTypeSignup, msgs[0].EventType)
	assert.Equal(t, model.TransactionTypeSpend, msgs[1].EventType)
}
