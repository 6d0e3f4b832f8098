package database

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// gormLogger 把 gorm 日志按级别写到 logrus：SQL 错误为 error，慢查询为 warn
type gormLogger struct {
	entry         *log.Entry
	level         logger.LogLevel
	slowThreshold time.Duration
}

func newGormLogger(entry *log.Entry, level logger.LogLevel, slowThreshold time.Duration) *gormLogger {
	return &gormLogger{entry: entry, level: level, slowThreshold: slowThreshold}
}

func (l *gormLogger) LogMode(level logger.LogLevel) logger.Interface {
	clone := *l
	clone.level = level
	return &clone
}

func (l *gormLogger) Info(_ context.Context, msg string, args ...interface{}) {
	if l.level >= logger.Info {
		l.entry.Infof(msg, args...)
	}
}

func (l *gormLogger) Warn(_ context.Context, msg string, args ...interface{}) {
	if l.level >= logger.Warn {
		l.entry.Warnf(msg, args...)
	}
}

func (l *gormLogger) Error(_ context.Context, msg string, args ...interface{}) {
	if l.level >= logger.Error {
		l.entry.Errorf(msg, args...)
	}
}

// Trace record not found 属于正常业务分支，不记录
func (l *gormLogger) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= logger.Silent {
		return
	}

	elapsed := time.Since(begin)
	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound) && l.level >= logger.Error:
		sql, rows := fc()
		l.entry.WithError(err).WithFields(log.Fields{
			"sql":     sql,
			"rows":    rows,
			"elapsed": elapsed,
		}).Error("SQL 执行失败")
	case l.slowThreshold > 0 && elapsed > l.slowThreshold && l.level >= logger.Warn:
		sql, rows := fc()
		l.entry.WithFields(log.Fields{
			"sql":     sql,
			"rows":    rows,
			"elapsed": elapsed,
		}).Warn("慢查询")
	case l.level >= logger.Info:
		sql, rows := fc()
		l.entry.WithFields(log.Fields{
			"sql":     sql,
			"rows":    rows,
			"elapsed": elapsed,
		}).Debug("SQL")
	}
}
