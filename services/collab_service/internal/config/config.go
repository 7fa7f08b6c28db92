package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	httpin "github.com/EthanQC/hrportal/services/collab_service/internal/adapters/in/http"
	"github.com/EthanQC/hrportal/services/collab_service/internal/adapters/out/broadcast"
	"github.com/EthanQC/hrportal/services/collab_service/internal/application/screenshare"
)

const envPrefix = "COLLAB"

// Config collab_service 配置，对应 config.<env>.yaml
type Config struct {
	Env         string                   `mapstructure:"-"`
	Server      ServerConfig             `mapstructure:"server"`
	MySQL       MySQLConfig              `mapstructure:"mysql"`
	Redis       RedisConfig              `mapstructure:"redis"`
	Kafka       KafkaConfig              `mapstructure:"kafka"`
	JWT         JWTConfig                `mapstructure:"jwt"`
	ScreenShare ScreenShareConfig        `mapstructure:"screen_share"`
	Presence    PresenceConfig           `mapstructure:"presence"`
	Broadcast   BroadcastConfig          `mapstructure:"broadcast"`
	RateLimit   httpin.RateLimiterConfig `mapstructure:"rate_limit"`
}

type ServerConfig struct {
	HTTPPort        int           `mapstructure:"http_port"`
	GRPCPort        int           `mapstructure:"grpc_port"` // gRPC 健康检查
	HealthInterval  time.Duration `mapstructure:"health_interval"`
	NodeID          string        `mapstructure:"node_id"` // 为空时使用主机名
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type MySQLConfig struct {
	DSN          string `mapstructure:"dsn"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

type RedisConfig struct {
	Addr         string `mapstructure:"addr"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"pool_size"`
	RelayChannel string `mapstructure:"relay_channel"`
}

type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type JWTConfig struct {
	Secret string `mapstructure:"secret"`
}

type ScreenShareConfig struct {
	StoreTimeout   time.Duration `mapstructure:"store_timeout"`
	StaleAfter     time.Duration `mapstructure:"stale_after"`
	HistoryLimit   int           `mapstructure:"history_limit"`
	ReaperInterval time.Duration `mapstructure:"reaper_interval"`
	ReaperTimeout  time.Duration `mapstructure:"reaper_timeout"`
}

type PresenceConfig struct {
	CleanupAge time.Duration `mapstructure:"cleanup_age"`
}

type BroadcastConfig struct {
	Shards         int           `mapstructure:"shards"`
	QueueSize      int           `mapstructure:"queue_size"`
	DeliverTimeout time.Duration `mapstructure:"deliver_timeout"`
}

// Load 按 APP_ENV 加载 config.<env>.yaml，COLLAB_ 前缀的环境变量可以覆盖
// 例如 COLLAB_MYSQL_DSN、COLLAB_JWT_SECRET
func Load(v *viper.Viper, paths ...string) (*Config, error) {
	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "dev"
	}
	if len(paths) == 0 {
		paths = []string{"./configs", "../configs", "../../configs"}
	}

	v.SetConfigName(fmt.Sprintf("config.%s", env))
	v.SetConfigType("yaml")
	for _, p := range paths {
		v.AddConfigPath(p)
	}
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("读取配置文件失败：%w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败：%w", err)
	}
	cfg.Env = env
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.http_port", 8090)
	v.SetDefault("server.grpc_port", 9090)
	v.SetDefault("server.health_interval", 10*time.Second)
	v.SetDefault("server.node_id", "")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("mysql.dsn", "root:root@tcp(127.0.0.1:3306)/hrportal?charset=utf8mb4&parseTime=true&loc=UTC")
	v.SetDefault("mysql.max_idle_conns", 10)
	v.SetDefault("mysql.max_open_conns", 50)

	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 20)
	v.SetDefault("redis.relay_channel", "hr:collab:events")

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "hr.collab.events")

	// 没有默认值的 key 不会被环境变量覆盖
	v.SetDefault("jwt.secret", "")

	ss := screenshare.DefaultConfig()
	reaper := screenshare.DefaultReaperConfig()
	v.SetDefault("screen_share.store_timeout", ss.StoreTimeout)
	v.SetDefault("screen_share.stale_after", ss.StaleAfter)
	v.SetDefault("screen_share.history_limit", ss.HistoryLimit)
	v.SetDefault("screen_share.reaper_interval", reaper.Interval)
	v.SetDefault("screen_share.reaper_timeout", reaper.Timeout)

	v.SetDefault("presence.cleanup_age", 24*time.Hour)

	async := broadcast.DefaultAsyncConfig()
	v.SetDefault("broadcast.shards", async.Shards)
	v.SetDefault("broadcast.queue_size", async.QueueSize)
	v.SetDefault("broadcast.deliver_timeout", async.DeliverTimeout)

	rl := httpin.DefaultRateLimiterConfig()
	v.SetDefault("rate_limit.global_qps", rl.GlobalQPS)
	v.SetDefault("rate_limit.ip_qps", rl.IPQPSLimit)
	v.SetDefault("rate_limit.user_qps", rl.UserQPSLimit)
	v.SetDefault("rate_limit.burst", rl.BurstSize)
}

// Validate 启动前校验
func (c *Config) Validate() error {
	if c.JWT.Secret == "" {
		return fmt.Errorf("配置错误：jwt.secret 不能为空")
	}
	if c.MySQL.DSN == "" {
		return fmt.Errorf("配置错误：mysql.dsn 不能为空")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("配置错误：kafka.enabled 为 true 时 kafka.brokers 不能为空")
	}
	if c.ScreenShare.ReaperInterval <= 0 {
		return fmt.Errorf("配置错误：screen_share.reaper_interval 必须大于 0")
	}
	if c.Broadcast.Shards <= 0 || c.Broadcast.QueueSize <= 0 {
		return fmt.Errorf("配置错误：broadcast.shards 和 broadcast.queue_size 必须大于 0")
	}
	return nil
}

// NodeID 跨节点中继用的节点标识
func (c *Config) NodeID() string {
	if c.Server.NodeID != "" {
		return c.Server.NodeID
	}
	hostname, err := os.Hostname()
	if err != nil {
		return "localhost"
	}
	return fmt.Sprintf("%s:%d", hostname, c.Server.HTTPPort)
}

func (c ScreenShareConfig) Coordinator() screenshare.Config {
	return screenshare.Config{
		StoreTimeout: c.StoreTimeout,
		StaleAfter:   c.StaleAfter,
		HistoryLimit: c.HistoryLimit,
	}
}

func (c ScreenShareConfig) Reaper() screenshare.ReaperConfig {
	return screenshare.ReaperConfig{Interval: c.ReaperInterval, Timeout: c.ReaperTimeout}
}

func (c BroadcastConfig) Async() broadcast.AsyncConfig {
	return broadcast.AsyncConfig{
		Shards:         c.Shards,
		QueueSize:      c.QueueSize,
		DeliverTimeout: c.DeliverTimeout,
	}
}
