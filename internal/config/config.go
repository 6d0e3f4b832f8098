package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config 全局配置结构
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Provider ProviderConfig `mapstructure:"provider"`
	Ledger   LedgerConfig   `mapstructure:"ledger"`
	Business BusinessConfig `mapstructure:"business"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	Port           int             `mapstructure:"port"`
	Mode           string          `mapstructure:"mode"`
	WorkerID       int64           `mapstructure:"worker_id"`
	AllowedOrigins []string        `mapstructure:"allowed_origins"`
	MaxBodyBytes   int64           `mapstructure:"max_body_bytes"` // 请求体上限，图片以 base64 传输
	RestoreLimit   RateLimitConfig `mapstructure:"restore_limit"`
}

// RateLimitConfig 按客户端 IP 限制 /restore 的调用频率，RequestsPerMinute <= 0 表示不限制
type RateLimitConfig struct {
	RequestsPerMinute float64 `mapstructure:"requests_per_minute"`
	Burst             int     `mapstructure:"burst"`
}

// DatabaseConfig 支持 sqlite / mysql / postgres 三种驱动
// DSN 为空且驱动为 mysql 时，使用 MySQL 子配置拼接连接串
type DatabaseConfig struct {
	Driver       string      `mapstructure:"driver"`
	DSN          string      `mapstructure:"dsn"`
	MySQL        MySQLConfig `mapstructure:"mysql"`
	MaxOpenConns int         `mapstructure:"max_open_conns"`
	MaxIdleConns int         `mapstructure:"max_idle_conns"`
}

type MySQLConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Enabled bool             `mapstructure:"enabled"`
	Brokers []string         `mapstructure:"brokers"`
	Topic   KafkaTopicConfig `mapstructure:"topic"`
}

type KafkaTopicConfig struct {
	LedgerEvents string `mapstructure:"ledger_events"`
}

// ProviderConfig 外部图像生成服务（chat completions 兼容接口）
type ProviderConfig struct {
	APIKey         string  `mapstructure:"api_key"`
	BaseURL        string  `mapstructure:"base_url"`
	Model          string  `mapstructure:"model"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
	MaxTokens      int     `mapstructure:"max_tokens"`
	Temperature    float64 `mapstructure:"temperature"`
	TopP           float64 `mapstructure:"top_p"`
}

type LedgerConfig struct {
	SignupCredits     int64    `mapstructure:"signup_credits"`
	ReferralBonus     int64    `mapstructure:"referral_bonus"`
	PrivilegedNames   []string `mapstructure:"privileged_names"`
	PrivilegedCredits int64    `mapstructure:"privileged_credits"`
	LockTTLSeconds    int      `mapstructure:"lock_ttl_seconds"`
}

type BusinessConfig struct {
	MaxRetryCount        int `mapstructure:"max_retry_count"`
	AuditIntervalSeconds int `mapstructure:"audit_interval_seconds"` // 0 表示不启动对账任务
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// ConfigurationError 启动必需的配置缺失，属于致命错误
type ConfigurationError struct {
	Missing []string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("missing required configuration: %s", strings.Join(e.Missing, ", "))
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 3001)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.worker_id", 1)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.max_body_bytes", 25<<20)
	v.SetDefault("server.restore_limit.requests_per_minute", 0)
	v.SetDefault("server.restore_limit.burst", 1)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "photorevive.db?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	v.SetDefault("database.mysql.host", "127.0.0.1")
	v.SetDefault("database.mysql.port", 3306)
	v.SetDefault("database.mysql.user", "root")
	v.SetDefault("database.mysql.password", "")
	v.SetDefault("database.mysql.database", "photorevive")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "127.0.0.1")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"127.0.0.1:9092"})
	v.SetDefault("kafka.topic.ledger_events", "photorevive.ledger")

	v.SetDefault("provider.api_key", "")
	v.SetDefault("provider.base_url", "")
	v.SetDefault("provider.model", "gemini-2.5-flash-image")
	v.SetDefault("provider.timeout_seconds", 120)
	v.SetDefault("provider.max_tokens", 4096)
	v.SetDefault("provider.temperature", 0.4)
	v.SetDefault("provider.top_p", 1.0)

	v.SetDefault("ledger.signup_credits", 50)
	v.SetDefault("ledger.referral_bonus", 25)
	v.SetDefault("ledger.privileged_names", []string{})
	v.SetDefault("ledger.privileged_credits", 999999)
	v.SetDefault("ledger.lock_ttl_seconds", 10)

	v.SetDefault("business.max_retry_count", 5)
	v.SetDefault("business.audit_interval_seconds", 300)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)
}

// LoadConfig 加载配置：.env -> 默认值 -> 配置文件 -> 环境变量
// 配置文件不存在时只使用默认值和环境变量
func LoadConfig(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("读取 .env 失败: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// 兼容旧版本使用的环境变量名
	_ = v.BindEnv("provider.api_key", "PROVIDER_API_KEY", "GEMINI_API_KEY")
	_ = v.BindEnv("provider.base_url", "PROVIDER_BASE_URL", "GEMINI_API_BASE_URL")

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 校验启动必需项，缺失时返回 *ConfigurationError
func (c *Config) Validate() error {
	var missing []string
	if strings.TrimSpace(c.Provider.APIKey) == "" {
		missing = append(missing, "provider.api_key")
	}
	if strings.TrimSpace(c.Provider.BaseURL) == "" {
		missing = append(missing, "provider.base_url")
	}
	if len(missing) > 0 {
		return &ConfigurationError{Missing: missing}
	}
	return nil
}
