package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 配置
type Config struct {
	Service      ServiceConfig      `yaml:"service" json:"service"`
	Storage      StorageConfig      `yaml:"storage" json:"storage"`
	Postgres     PostgresConfig     `yaml:"postgres" json:"postgres"`
	Redis        RedisConfig        `yaml:"redis" json:"redis"`
	Kafka        KafkaConfig        `yaml:"kafka" json:"kafka"`
	Blockchain   BlockchainConfig   `yaml:"blockchain" json:"blockchain"`
	Bundler      BundlerConfig      `yaml:"bundler" json:"bundler"`
	Confirmation ConfirmationConfig `yaml:"confirmation" json:"confirmation"`
	Log          LogConfig          `yaml:"log" json:"log"`
}

// ServiceConfig 服务配置
type ServiceConfig struct {
	Name        string `yaml:"name" json:"name"`
	GRPCPort    int    `yaml:"grpc_port" json:"grpc_port"`
	MetricsPort int    `yaml:"metrics_port" json:"metrics_port"`
	Env         string `yaml:"env" json:"env"`
}

// 存储驱动
const (
	StorageDriverRedis    = "redis"
	StorageDriverPostgres = "postgres"
)

// StorageConfig 设备本地存储配置
type StorageConfig struct {
	Driver   string `yaml:"driver" json:"driver"` // redis, postgres
	DeviceID string `yaml:"device_id" json:"device_id"`
	// TTLHours 凭证键的过期时间，仅 redis 驱动生效，0 表示不过期。交易账本不受影响
	TTLHours int `yaml:"ttl_hours" json:"ttl_hours"`
}

// PostgresConfig PostgreSQL 配置
type PostgresConfig struct {
	Host            string `yaml:"host" json:"host"`
	Port            int    `yaml:"port" json:"port"`
	Database        string `yaml:"database" json:"database"`
	User            string `yaml:"user" json:"user"`
	Password        string `yaml:"password" json:"password"`
	MaxConnections  int    `yaml:"max_connections" json:"max_connections"`
	MaxIdleConns    int    `yaml:"max_idle_conns" json:"max_idle_conns"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Addresses []string `yaml:"addresses" json:"addresses"`
	Password  string   `yaml:"password" json:"password"`
	DB        int      `yaml:"db" json:"db"`
	PoolSize  int      `yaml:"pool_size" json:"pool_size"`
}

// KafkaConfig Kafka 配置，brokers 为空时不发布事件
type KafkaConfig struct {
	Brokers    []string `yaml:"brokers" json:"brokers"`
	ClientID   string   `yaml:"client_id" json:"client_id"`
	MaxRetries int      `yaml:"max_retries" json:"max_retries"`
}

// BlockchainConfig 区块链配置
type BlockchainConfig struct {
	RPCURLs         []string `yaml:"rpc_urls" json:"rpc_urls"`
	ChainID         int64    `yaml:"chain_id" json:"chain_id"`
	PrivateKey      string   `yaml:"private_key" json:"-"`
	PollIntervalMs  int      `yaml:"poll_interval_ms" json:"poll_interval_ms"`
	MaxGasPriceGwei int64    `yaml:"max_gas_price_gwei" json:"max_gas_price_gwei"`
}

// BundlerConfig ERC-4337 bundler 配置，url 为空时不启用智能账户
type BundlerConfig struct {
	URL        string `yaml:"url" json:"url"`
	EntryPoint string `yaml:"entry_point" json:"entry_point"`
}

// ConfirmationConfig 确认重试与巡检配置
type ConfirmationConfig struct {
	MaxAttempts      int    `yaml:"max_attempts" json:"max_attempts"`
	AttemptTimeoutMs int    `yaml:"attempt_timeout_ms" json:"attempt_timeout_ms"`
	BackoffMs        int    `yaml:"backoff_ms" json:"backoff_ms"`
	Concurrency      int    `yaml:"concurrency" json:"concurrency"`
	SweepCron        string `yaml:"sweep_cron" json:"sweep_cron"`
}

// AttemptTimeout 单次尝试超时
func (c ConfirmationConfig) AttemptTimeout() time.Duration {
	return time.Duration(c.AttemptTimeoutMs) * time.Millisecond
}

// Backoff 两次尝试之间的等待
func (c ConfirmationConfig) Backoff() time.Duration {
	return time.Duration(c.BackoffMs) * time.Millisecond
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// Load 加载配置
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	// 环境变量替换
	content := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(content), &cfg); err != nil {
		return nil, err
	}

	setDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 校验必填项
func (c *Config) Validate() error {
	if len(c.Blockchain.RPCURLs) == 0 {
		return fmt.Errorf("blockchain.rpc_urls is required")
	}
	switch c.Storage.Driver {
	case StorageDriverRedis:
		if len(c.Redis.Addresses) == 0 {
			return fmt.Errorf("redis.addresses is required for storage driver %q", c.Storage.Driver)
		}
	case StorageDriverPostgres:
		if c.Postgres.Host == "" {
			return fmt.Errorf("postgres.host is required for storage driver %q", c.Storage.Driver)
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	if c.Bundler.URL != "" && c.Bundler.EntryPoint == "" {
		return fmt.Errorf("bundler.entry_point is required when bundler.url is set")
	}
	return nil
}

// expandEnvVars 展开环境变量 ${VAR:default}
func expandEnvVars(s string) string {
	result := s
	for {
		start := strings.Index(result, "${")
		if start == -1 {
			break
		}
		end := strings.Index(result[start:], "}")
		if end == -1 {
			break
		}
		end += start

		expr := result[start+2 : end]
		parts := strings.SplitN(expr, ":", 2)
		value := os.Getenv(parts[0])
		if value == "" && len(parts) > 1 {
			value = parts[1]
		}

		result = result[:start] + value + result[end+1:]
	}
	return result
}

// setDefaults 设置默认值
func setDefaults(cfg *Config) {
	if cfg.Service.Name == "" {
		cfg.Service.Name = "eidos-wallet"
	}
	if cfg.Service.GRPCPort == 0 {
		cfg.Service.GRPCPort = 50060
	}
	if cfg.Service.MetricsPort == 0 {
		cfg.Service.MetricsPort = 9160
	}
	if cfg.Service.Env == "" {
		cfg.Service.Env = "dev"
	}

	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = StorageDriverRedis
	}
	if cfg.Storage.DeviceID == "" {
		cfg.Storage.DeviceID = "default"
	}

	if cfg.Postgres.Port == 0 {
		cfg.Postgres.Port = 5432
	}
	if cfg.Postgres.MaxConnections == 0 {
		cfg.Postgres.MaxConnections = 10
	}
	if cfg.Postgres.MaxIdleConns == 0 {
		cfg.Postgres.MaxIdleConns = 2
	}
	if cfg.Postgres.ConnMaxLifetime == 0 {
		cfg.Postgres.ConnMaxLifetime = 3600
	}

	if cfg.Redis.PoolSize == 0 {
		cfg.Redis.PoolSize = 10
	}

	if cfg.Kafka.ClientID == "" {
		cfg.Kafka.ClientID = cfg.Service.Name
	}
	if cfg.Kafka.MaxRetries == 0 {
		cfg.Kafka.MaxRetries = 3
	}

	if cfg.Blockchain.ChainID == 0 {
		cfg.Blockchain.ChainID = 31337 // 本地开发
	}
	if cfg.Blockchain.PollIntervalMs == 0 {
		cfg.Blockchain.PollIntervalMs = 2000
	}
	if cfg.Blockchain.MaxGasPriceGwei == 0 {
		cfg.Blockchain.MaxGasPriceGwei = 500
	}

	if cfg.Confirmation.MaxAttempts == 0 {
		cfg.Confirmation.MaxAttempts = 3
	}
	if cfg.Confirmation.AttemptTimeoutMs == 0 {
		cfg.Confirmation.AttemptTimeoutMs = 60000
	}
	if cfg.Confirmation.BackoffMs == 0 {
		cfg.Confirmation.BackoffMs = 2000
	}
	if cfg.Confirmation.Concurrency == 0 {
		cfg.Confirmation.Concurrency = 4
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
}

// GetEnvInt 获取环境变量整数值
func GetEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

// GetEnvString 获取环境变量字符串值
func GetEnvString(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
