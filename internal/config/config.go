package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config 全局配置结构，由进程入口加载后逐层传入，不做包级缓存
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	MySQL    MySQLConfig    `mapstructure:"mysql"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Treasury TreasuryConfig `mapstructure:"treasury"`
	Jobs     JobsConfig     `mapstructure:"jobs"`
}

type ServerConfig struct {
	Port     int   `mapstructure:"port"`
	WorkerID int64 `mapstructure:"worker_id"`
}

type MySQLConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	LogLevel     string `mapstructure:"log_level"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Brokers       []string         `mapstructure:"brokers"`
	ConsumerGroup string           `mapstructure:"consumer_group"`
	Topic         KafkaTopicConfig `mapstructure:"topic"`
}

type KafkaTopicConfig struct {
	LedgerEvents    string `mapstructure:"ledger_events"`
	ProcessorEvents string `mapstructure:"processor_events"`
}

// TreasuryConfig 资金业务规则
type TreasuryConfig struct {
	DefaultAnnualRate     string        `mapstructure:"default_annual_rate"`
	MinStakeDays          int           `mapstructure:"min_stake_days"`
	MaxStakeDays          int           `mapstructure:"max_stake_days"`
	MaxLockDays           int           `mapstructure:"max_lock_days"`
	WithdrawalSingleLimit string        `mapstructure:"withdrawal_single_limit"`
	WithdrawalDailyLimit  string        `mapstructure:"withdrawal_daily_limit"`
	DefaultApprovalFlow   string        `mapstructure:"default_approval_workflow"`
	DefaultThreshold      string        `mapstructure:"default_approval_threshold"`
	ApprovalExpiryHours   int           `mapstructure:"approval_expiry_hours"`
	AutoReleaseStakes     bool          `mapstructure:"auto_release_stakes"`
	SettingsCacheTTL      time.Duration `mapstructure:"settings_cache_ttl"`
	LockRetryInterval     time.Duration `mapstructure:"lock_retry_interval"`
	LockMaxRetries        int           `mapstructure:"lock_max_retries"`
	EarningStrategy       string        `mapstructure:"earning_strategy"`
}

// JobsConfig 后台任务调度参数
type JobsConfig struct {
	EarningsInterval       time.Duration `mapstructure:"earnings_interval"`
	LockReleaseInterval    time.Duration `mapstructure:"lock_release_interval"`
	ApprovalExpiryInterval time.Duration `mapstructure:"approval_expiry_interval"`
	OutboxInterval         time.Duration `mapstructure:"outbox_interval"`
	BatchSize              int           `mapstructure:"batch_size"`
	ItemTimeout            time.Duration `mapstructure:"item_timeout"`
	MaxRetryCount          int           `mapstructure:"max_retry_count"`
}

// Default 返回可直接运行的默认配置，配置文件中的值会覆盖它
func Default() *Config {
	return &Config{
		Server: ServerConfig{Port: 8080, WorkerID: 1},
		MySQL: MySQLConfig{
			Host:         "127.0.0.1",
			Port:         3306,
			User:         "root",
			Database:     "treasury",
			MaxOpenConns: 50,
			MaxIdleConns: 10,
			LogLevel:     "warn",
		},
		Redis: RedisConfig{Host: "127.0.0.1", Port: 6379},
		Kafka: KafkaConfig{
			Brokers:       []string{"127.0.0.1:9092"},
			ConsumerGroup: "treasury-ledger",
			Topic: KafkaTopicConfig{
				LedgerEvents:    "treasury.ledger.events",
				ProcessorEvents: "treasury.processor.events",
			},
		},
		Treasury: TreasuryConfig{
			DefaultAnnualRate:     "0.04",
			MinStakeDays:          1,
			MaxStakeDays:          365,
			MaxLockDays:           365,
			WithdrawalSingleLimit: "5000",
			WithdrawalDailyLimit:  "10000",
			DefaultApprovalFlow:   "single",
			DefaultThreshold:      "10000",
			ApprovalExpiryHours:   72,
			AutoReleaseStakes:     true,
			SettingsCacheTTL:      5 * time.Minute,
			LockRetryInterval:     100 * time.Millisecond,
			LockMaxRetries:        30,
			EarningStrategy:       "us_treasury",
		},
		Jobs: JobsConfig{
			EarningsInterval:       24 * time.Hour,
			LockReleaseInterval:    time.Hour,
			ApprovalExpiryInterval: 10 * time.Minute,
			OutboxInterval:         200 * time.Millisecond,
			BatchSize:              100,
			ItemTimeout:            10 * time.Second,
			MaxRetryCount:          5,
		},
	}
}

// LoadConfig 加载配置文件，TREASURY_ 前缀的环境变量可覆盖同名配置项
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("TREASURY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 校验金额类配置能被正确解析
func (c *Config) Validate() error {
	for name, raw := range map[string]string{
		"treasury.default_annual_rate":        c.Treasury.DefaultAnnualRate,
		"treasury.withdrawal_single_limit":    c.Treasury.WithdrawalSingleLimit,
		"treasury.withdrawal_daily_limit":     c.Treasury.WithdrawalDailyLimit,
		"treasury.default_approval_threshold": c.Treasury.DefaultThreshold,
	} {
		if _, err := decimal.NewFromString(raw); err != nil {
			return fmt.Errorf("配置项 %s 不是合法数值: %q", name, raw)
		}
	}
	if c.Treasury.MinStakeDays < 1 || c.Treasury.MaxStakeDays < c.Treasury.MinStakeDays {
		return fmt.Errorf("质押期限配置不合法: [%d, %d]", c.Treasury.MinStakeDays, c.Treasury.MaxStakeDays)
	}
	if c.Jobs.BatchSize <= 0 {
		return fmt.Errorf("jobs.batch_size 必须大于0")
	}
	return nil
}

// Decimal 解析已校验过的金额配置
func Decimal(raw string) decimal.Decimal {
	return decimal.RequireFromString(raw)
}
