package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/logger"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Cfg 是一个全局变量，用于存储所有应用程序的配置
var Cfg *Config

// Config 结构体定义了应用程序的所有配置项
// 它与 config.yaml 文件的结构完全对应
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Realtime RealtimeConfig `mapstructure:"realtime"`
	Lottery  LotteryConfig  `mapstructure:"lottery"`
	Scan     ScanConfig     `mapstructure:"scan"`
	Security SecurityConfig `mapstructure:"security"`
}

// ServerConfig 定义了服务器相关的配置
type ServerConfig struct {
	Mode        string     `mapstructure:"mode"`
	Address     string     `mapstructure:"address"`
	FrontendURL string     `mapstructure:"frontendURL"`
	Cors        CorsConfig `mapstructure:"cors"`
}

// CorsConfig 定义了CORS相关的配置
type CorsConfig struct {
	AllowedOrigins []string `mapstructure:"allowedOrigins"`
}

// DatabaseConfig 定义了数据库和缓存相关的配置
type DatabaseConfig struct {
	Driver       string      `mapstructure:"driver"`
	DSN          string      `mapstructure:"dsn"`
	MaxOpenConns int         `mapstructure:"maxOpenConns"`
	Redis        RedisConfig `mapstructure:"redis"`
}

// RedisConfig 定义了Redis的配置
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// RealtimeConfig 决定计数推送走进程内还是Redis
type RealtimeConfig struct {
	Backend          string `mapstructure:"backend"`
	SubscriberBuffer int    `mapstructure:"subscriberBuffer"`
}

type LotteryConfig struct {
	WinProbability float64 `mapstructure:"winProbability"`
}

type ScanConfig struct {
	RateLimit RateLimitConfig `mapstructure:"rateLimit"`
}

// RateLimitConfig 按客户端IP的滑动窗口限流
type RateLimitConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	MaxPerWindow int64         `mapstructure:"maxPerWindow"`
	Window       time.Duration `mapstructure:"window"`
}

type SecurityConfig struct {
	AdminKeySecret string            `mapstructure:"adminKeySecret"`
	Organizers     []OrganizerConfig `mapstructure:"organizers"`
}

// OrganizerConfig 是一个主办方身份及其API密钥。密钥由运维在配置中下发。
type OrganizerConfig struct {
	ID      string `mapstructure:"id"`
	Name    string `mapstructure:"name"`
	LogoURL string `mapstructure:"logoURL"`
	APIKey  string `mapstructure:"apiKey"`
}

const (
	DriverPostgres = "postgres"
	DriverSqlite   = "sqlite"

	RealtimeMemory = "memory"
	RealtimeRedis  = "redis"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.address", ":5000")
	v.SetDefault("server.frontendURL", "http://localhost:3000")
	v.SetDefault("server.cors.allowedOrigins", []string{"http://localhost:3000"})

	v.SetDefault("database.driver", DriverSqlite)
	v.SetDefault("database.dsn", "ingather.db")
	v.SetDefault("database.maxOpenConns", 20)
	v.SetDefault("database.redis.enabled", false)
	v.SetDefault("database.redis.address", "localhost:6379")
	v.SetDefault("database.redis.password", "")
	v.SetDefault("database.redis.db", 0)

	v.SetDefault("realtime.backend", RealtimeMemory)
	v.SetDefault("realtime.subscriberBuffer", 16)

	v.SetDefault("lottery.winProbability", 0.5)

	v.SetDefault("scan.rateLimit.enabled", true)
	v.SetDefault("scan.rateLimit.maxPerWindow", 30)
	v.SetDefault("scan.rateLimit.window", time.Minute)

	v.SetDefault("security.adminKeySecret", "")
	v.SetDefault("security.organizers", []OrganizerConfig{})
}

// LoadConfig 函数负责查找、加载和解析配置文件
// config.yaml 不存在时只使用默认值和环境变量
func LoadConfig() (*Config, error) {
	// .env 只是便利，缺失不算错误
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warningf("读取 .env 失败: %v", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(".")

	// 允许通过环境变量覆盖配置，例如 DATABASE_DSN=...
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
		logger.Info("未找到 config.yaml，使用默认配置和环境变量")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	Cfg = &cfg
	return Cfg, nil
}

// Validate 检查无法在运行时兜底的配置项
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverPostgres, DriverSqlite:
	default:
		return fmt.Errorf("不支持的数据库驱动: %q", c.Database.Driver)
	}
	switch c.Realtime.Backend {
	case RealtimeMemory:
	case RealtimeRedis:
		if !c.Database.Redis.Enabled {
			return errors.New("realtime.backend=redis 需要启用 database.redis")
		}
	default:
		return fmt.Errorf("不支持的实时推送后端: %q", c.Realtime.Backend)
	}
	if p := c.Lottery.WinProbability; p < 0 || p > 1 {
		return fmt.Errorf("lottery.winProbability 必须在 [0, 1] 之间, 当前为 %v", p)
	}
	if c.Scan.RateLimit.Enabled && (c.Scan.RateLimit.MaxPerWindow <= 0 || c.Scan.RateLimit.Window <= 0) {
		return errors.New("scan.rateLimit 启用时 maxPerWindow 和 window 必须为正数")
	}
	return c.Security.validateOrganizers()
}

func (s *SecurityConfig) validateOrganizers() error {
	ids := make(map[string]bool, len(s.Organizers))
	keys := make(map[string]bool, len(s.Organizers))
	for i, o := range s.Organizers {
		if strings.TrimSpace(o.ID) == "" || o.APIKey == "" {
			return fmt.Errorf("security.organizers[%d] 缺少 id 或 apiKey", i)
		}
		if ids[o.ID] {
			return fmt.Errorf("security.organizers 中的 id %q 重复", o.ID)
		}
		if keys[o.APIKey] {
			return fmt.Errorf("security.organizers[%d] 的 apiKey 与其他主办方重复", i)
		}
		ids[o.ID], keys[o.APIKey] = true, true
	}
	return nil
}
