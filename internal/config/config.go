package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "PROXYPAY"

// Config 全局配置结构
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	Routing    RoutingConfig    `mapstructure:"routing"`
	Settlement SettlementConfig `mapstructure:"settlement"`
	Gateway    GatewayConfig    `mapstructure:"gateway"`
	Jobs       JobsConfig       `mapstructure:"jobs"`
	Log        LogConfig        `mapstructure:"log"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
}

type ServerConfig struct {
	Port   int    `mapstructure:"port"`
	Mode   string `mapstructure:"mode"` // gin 模式: debug / release / test
	NodeID int64  `mapstructure:"node_id"`
}

const (
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"`
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	SSLMode      string `mapstructure:"ssl_mode"` // 仅 postgres
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	LogLevel     string `mapstructure:"log_level"`
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
	OrderResult string `mapstructure:"order_result"`
}

type RoutingConfig struct {
	ReservationTTL time.Duration `mapstructure:"reservation_ttl"`
	ConfigCacheTTL time.Duration `mapstructure:"config_cache_ttl"`
}

type SettlementConfig struct {
	GatewayTimeout time.Duration `mapstructure:"gateway_timeout"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	DebitRetries   int           `mapstructure:"debit_retries"`
	LockTTL        time.Duration `mapstructure:"lock_ttl"`
}

type GatewayConfig struct {
	Latency         time.Duration `mapstructure:"latency"`
	DeclineRatio    float64       `mapstructure:"decline_ratio"`
	LoginFailRatio  float64       `mapstructure:"login_fail_ratio"`
	ReportedBalance string        `mapstructure:"reported_balance"`
	Breaker         BreakerConfig `mapstructure:"breaker"`
}

type BreakerConfig struct {
	ConsecutiveFailures uint32        `mapstructure:"consecutive_failures"`
	OpenTimeout         time.Duration `mapstructure:"open_timeout"`
	HalfOpenRequests    uint32        `mapstructure:"half_open_requests"`
}

type JobsConfig struct {
	OutboxInterval     time.Duration `mapstructure:"outbox_interval"`
	OutboxBatchSize    int           `mapstructure:"outbox_batch_size"`
	OutboxMaxRetry     int           `mapstructure:"outbox_max_retry"`
	OrderTimeout       time.Duration `mapstructure:"order_timeout"`
	OrderCheckInterval time.Duration `mapstructure:"order_check_interval"`
	CompensateAfter    time.Duration `mapstructure:"compensate_after"`
	HealthInterval     time.Duration `mapstructure:"health_interval"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json / console
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.node_id", 1)

	v.SetDefault("database.driver", DriverMySQL)
	v.SetDefault("database.host", "127.0.0.1")
	v.SetDefault("database.port", 3306)
	v.SetDefault("database.user", "root")
	v.SetDefault("database.database", "proxypay")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 50)
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.log_level", "warn")

	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.host", "127.0.0.1")
	v.SetDefault("redis.port", 6379)

	v.SetDefault("kafka.enabled", true)
	v.SetDefault("kafka.brokers", []string{"127.0.0.1:9092"})
	v.SetDefault("kafka.topic.order_result", "proxypay.order.result")

	v.SetDefault("routing.reservation_ttl", "2m")
	v.SetDefault("routing.config_cache_ttl", "30s")

	v.SetDefault("settlement.gateway_timeout", "10s")
	v.SetDefault("settlement.max_attempts", 3)
	v.SetDefault("settlement.debit_retries", 5)
	v.SetDefault("settlement.lock_ttl", "1m")

	v.SetDefault("gateway.latency", "50ms")
	v.SetDefault("gateway.decline_ratio", 0.0)
	v.SetDefault("gateway.login_fail_ratio", 0.0)
	v.SetDefault("gateway.reported_balance", "10000")
	v.SetDefault("gateway.breaker.consecutive_failures", 5)
	v.SetDefault("gateway.breaker.open_timeout", "30s")
	v.SetDefault("gateway.breaker.half_open_requests", 1)

	v.SetDefault("jobs.outbox_interval", "5s")
	v.SetDefault("jobs.outbox_batch_size", 100)
	v.SetDefault("jobs.outbox_max_retry", 5)
	v.SetDefault("jobs.order_timeout", "15m")
	v.SetDefault("jobs.order_check_interval", "1m")
	v.SetDefault("jobs.compensate_after", "5m")
	v.SetDefault("jobs.health_interval", "10m")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}

// Load 加载配置文件，path 为空时只使用默认值和环境变量
// 环境变量示例: PROXYPAY_DATABASE_DRIVER=postgres
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
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

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverMySQL, DriverPostgres, DriverMemory:
	default:
		return fmt.Errorf("不支持的数据库驱动: %s", c.Database.Driver)
	}
	if c.Settlement.MaxAttempts < 1 {
		return errors.New("settlement.max_attempts 必须大于0")
	}
	if c.Gateway.DeclineRatio < 0 || c.Gateway.DeclineRatio > 1 {
		return errors.New("gateway.decline_ratio 必须在 0 到 1 之间")
	}
	if c.Server.NodeID < 0 || c.Server.NodeID > 1023 {
		return errors.New("server.node_id 必须在 0 到 1023 之间")
	}
	return nil
}
