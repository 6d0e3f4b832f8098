package database

import (
	"fmt"
	"time"

	"photorevive/internal/config"
	"photorevive/internal/model"

	"github.com/glebarez/sqlite"
	log "github.com/sirupsen/logrus"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	DriverSQLite   = "sqlite"
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
)

// Open 按配置的驱动建立连接并设置连接池
func Open(cfg *config.DatabaseConfig) (*gorm.DB, error) {
	dialector, err := dialectorFor(cfg)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         newGormLogger(log.WithField("component", "gorm"), logger.Warn, 200*time.Millisecond),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("连接数据库失败 (%s): %w", cfg.Driver, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("获取底层 DB 失败: %w", err)
	}

	// SQLite 只允许单写连接，否则并发事务会出现 database is locked
	if driverName(cfg) == DriverSQLite {
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetMaxIdleConns(1)
	} else {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	sqlDB.SetConnMaxLifetime(time.Hour)

	log.WithField("driver", driverName(cfg)).Info("数据库连接成功")
	return db, nil
}

// Migrate 自动迁移表结构
func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&model.Account{},
		&model.CreditTransaction{},
		&model.OutboxMessage{},
	)
	if err != nil {
		return fmt.Errorf("自动迁移表结构失败: %w", err)
	}
	return nil
}

// Close 关闭底层连接池
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func dialectorFor(cfg *config.DatabaseConfig) (gorm.Dialector, error) {
	switch driverName(cfg) {
	case DriverSQLite:
		dsn := cfg.DSN
		if dsn == "" {
			dsn = "photorevive.db"
		}
		return sqlite.Open(dsn), nil
	case DriverMySQL:
		dsn := cfg.DSN
		if dsn == "" {
			dsn = fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
				cfg.MySQL.User,
				cfg.MySQL.Password,
				cfg.MySQL.Host,
				cfg.MySQL.Port,
				cfg.MySQL.Database,
			)
		}
		return mysql.Open(dsn), nil
	case DriverPostgres:
		if cfg.DSN == "" {
			return nil, fmt.Errorf("postgres 驱动需要配置 database.dsn")
		}
		return postgres.Open(cfg.DSN), nil
	default:
		return nil, fmt.Errorf("不支持的数据库驱动: %s", cfg.Driver)
	}
}

func driverName(cfg *config.DatabaseConfig) string {
	if cfg.Driver == "" {
		return DriverSQLite
	}
	return cfg.Driver
}
