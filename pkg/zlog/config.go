package zlog

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// FileConfig 本地轮转文件策略
type FileConfig struct {
	Path       string `mapstructure:"path"`        // 日志文件路径，为空则不落盘
	MaxSizeMB  int    `mapstructure:"max_size"`    // 单个文件最大容量（MB）
	MaxBackups int    `mapstructure:"max_backups"` // 保留旧文件数量
	MaxAgeDay  int    `mapstructure:"max_age"`     // 最长保存天数
	Compress   bool   `mapstructure:"compress"`    // 是否 gzip 压缩旧文件
}

// Config 日志配置，对应服务配置文件中的 log 段
type Config struct {
	Service      string     `mapstructure:"service"`
	Level        string     `mapstructure:"level"`    // debug|info|warn|error
	Encoding     string     `mapstructure:"encoding"` // json|console
	Stdout       bool       `mapstructure:"stdout"`
	File         FileConfig `mapstructure:"file"`
	EnableMetric bool       `mapstructure:"enable_metric"`
}

// DefaultConfig 没有 log 段时使用的配置
func DefaultConfig(service string) Config {
	return Config{
		Service:      service,
		Level:        "info",
		Encoding:     "json",
		Stdout:       true,
		EnableMetric: true,
	}
}

// LoadConfig 从单独的日志配置文件加载
func LoadConfig(filePath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(filePath)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取日志配置文件失败：%w", err)
	}
	return FromViper(v, "log")
}

// FromViper 从已加载的 viper 实例中取出 key 对应的日志配置
// 环境变量 ZLOG_LEVEL 等可以覆盖文件中的值
func FromViper(root *viper.Viper, key string) (*Config, error) {
	v := root.Sub(key)
	if v == nil {
		v = viper.New()
	}
	v.SetEnvPrefix("ZLOG")
	v.AutomaticEnv()

	v.SetDefault("service", "unknown")
	v.SetDefault("level", "info")
	v.SetDefault("encoding", "json")
	v.SetDefault("stdout", true)
	v.SetDefault("file.max_size", 100)
	v.SetDefault("file.max_backups", 60)
	v.SetDefault("file.max_age", 7)
	v.SetDefault("enable_metric", true)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("加载日志配置失败：%w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 严格校验
func (cfg *Config) Validate() error {
	if cfg.Service == "" {
		return fmt.Errorf("配置错误：service 不能为空")
	}

	if !validLevel(cfg.Level) {
		return fmt.Errorf("配置错误：level 只能是 debug/info/warn/error")
	}

	switch cfg.Encoding {
	case "json", "console":
	default:
		return fmt.Errorf("配置错误：encoding 只能是 json/console")
	}

	if !cfg.Stdout && cfg.File.Path == "" {
		return fmt.Errorf("配置错误：stdout 为 false 时，file.path 不能为空")
	}

	if cfg.File.Path != "" {
		if cfg.File.MaxSizeMB <= 0 {
			cfg.File.MaxSizeMB = 100
		}
		if cfg.File.MaxBackups < 0 {
			cfg.File.MaxBackups = 60
		}
		if cfg.File.MaxAgeDay < 0 {
			cfg.File.MaxAgeDay = 7
		}
	}
	return nil
}

// LogFilenameWithDate 按日期拼接文件名
func LogFilenameWithDate(base string) string {
	return base + "." + time.Now().Format("2006-01-02")
}
