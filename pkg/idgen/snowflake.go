package idgen

import (
	"fmt"
	"sync"
	"time"
)

// ============================================================================
// 雪花算法 ID 生成器，用于流水号
// ============================================================================
//
//   0 - 41位时间戳 - 10位机器ID - 12位序列号
//
// 趋势递增便于索引，且不暴露业务量
//
// ============================================================================

const (
	epoch          = int64(1704067200000) // 2024-01-01 00:00:00 UTC
	workerIDBits   = 10
	sequenceBits   = 12
	maxWorkerID    = -1 ^ (-1 << workerIDBits)
	maxSequence    = -1 ^ (-1 << sequenceBits)
	workerIDShift  = sequenceBits
	timestampShift = sequenceBits + workerIDBits
)

// Snowflake 雪花算法ID生成器
type Snowflake struct {
	mu        sync.Mutex
	timestamp int64
	workerID  int64
	sequence  int64
}

var (
	defaultMu        sync.Mutex
	defaultGenerator *Snowflake
)

// New 创建生成器，workerID 取值 0-1023
func New(workerID int64) (*Snowflake, error) {
	if workerID < 0 || workerID > maxWorkerID {
		return nil, fmt.Errorf("workerID 必须在 0-%d 之间", maxWorkerID)
	}
	return &Snowflake{workerID: workerID}, nil
}

// Init 设置默认生成器
func Init(workerID int64) error {
	g, err := New(workerID)
	if err != nil {
		return err
	}
	defaultMu.Lock()
	defaultGenerator = g
	defaultMu.Unlock()
	return nil
}

func generator() *Snowflake {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultGenerator == nil {
		defaultGenerator = &Snowflake{workerID: 1}
	}
	return defaultGenerator
}

// NextID 使用默认生成器生成下一个ID
func NextID() int64 {
	return generator().Generate()
}

// Generate 生成ID
func (s *Snowflake) Generate() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UnixMilli()

	if now == s.timestamp {
		s.sequence = (s.sequence + 1) & maxSequence
		if s.sequence == 0 {
			// 序列号用完，等待下一毫秒
			for now <= s.timestamp {
				now = time.Now().UnixMilli()
			}
		}
	} else {
		s.sequence = 0
	}

	s.timestamp = now

	return ((now - epoch) << timestampShift) |
		(s.workerID << workerIDShift) |
		s.sequence
}

// GenerateTransactionNo 生成流水号，格式：TXN + 雪花ID
// 例如：TXN1234567890123456789
func GenerateTransactionNo() string {
	return fmt.Sprintf("TXN%d", NextID())
}
