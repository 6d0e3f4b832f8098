package job

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"photorevive/internal/config"
	"photorevive/internal/infrastructure/database"
	"photorevive/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var dbSeq int64

type fakePublisher struct {
	failKeys map[string]bool
	sent     []string
}

func (p *fakePublisher) Publish(topic, key, value string) error {
	if p.failKeys[key] {
		return errors.New("broker unavailable")
	}
	p.sent = append(p.sent, key+":"+value)
	return nil
}

func (p *fakePublisher) Close() error { return nil }

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:outbox_%d?mode=memory&cache=shared", atomic.AddInt64(&dbSeq, 1))
	db, err := database.Open(&config.DatabaseConfig{Driver: database.DriverSQLite, DSN: dsn})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() { _ = database.Close(db) })
	return db
}

func seed(t *testing.T, db *gorm.DB, key, payload string) {
	t.Helper()
	require.NoError(t, db.Create(&model.OutboxMessage{
		MessageKey: key,
		EventType:  model.TransactionTypeSpend,
		Topic:      "photorevive.ledger",
		Payload:    payload,
		Status:     model.OutboxStatusPending,
	}).Error)
}

func statuses(t *testing.T, db *gorm.DB) []model.OutboxMessage {
	t.Helper()
	var msgs []model.OutboxMessage
	require.NoError(t, db.Order("id ASC").Find(&msgs).Error)
	return msgs
}

func TestOutboxSender_MarksSent(t *testing.T) {
	db := newTestDB(t)
	seed(t, db, "alice", "1")
	seed(t, db, "bob", "2")

	pub := &fakePublisher{}
	NewOutboxSender(db, pub, 3).processPendingMessages(context.Background())

	assert.Equal(t, []string{"alice:1", "bob:2"}, pub.sent)
	for _, m := range statuses(t, db) {
		assert.Equal(t, model.OutboxStatusSent, m.Status)
	}
}

func TestOutboxSender_FailureKeepsPerKeyOrder(t *testing.T) {
	db := newTestDB(t)
	seed(t, db, "alice", "1")
	seed(t, db, "alice", "2")
	seed(t, db, "bob", "3")

	pub := &fakePublisher{failKeys: map[string]bool{"alice": true}}
	NewOutboxSender(db, pub, 3).processPendingMessages(context.Background())

	assert.Equal(t, []string{"bob:3"}, pub.sent)
	msgs := statuses(t, db)
	assert.Equal(t, model.OutboxStatusPending, msgs[0].Status)
	assert.Equal(t, 1, msgs[0].RetryCount)
	assert.Equal(t, 0, msgs[1].RetryCount, "later message for the same key is not attempted")
	assert.Equal(t, model.OutboxStatusSent, msgs[2].Status)
}

func TestOutboxSender_MarksFailedAfterMaxRetry(t *testing.T) {
	db := newTestDB(t)
	seed(t, db, "alice", "1")

	sender := NewOutboxSender(db, &fakePublisher{failKeys: map[string]bool{"alice": true}}, 2)
	sender.processPendingMessages(context.Background())
	sender.processPendingMessages(context.Background())
	sender.processPendingMessages(context.Background())

	msgs := statuses(t, db)
	assert.Equal(t, model.OutboxStatusFailed, msgs[0].Status)
	assert.Equal(t, 2, msgs[0].RetryCount)
}
