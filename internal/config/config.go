// Package config 负责加载和管理应用程序的配置。
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// 全局配置变量，存储从配置文件加载的所有设置。
var Conf Config

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Store    StoreConfig    `mapstructure:"store"`
	Database DatabaseConfig `mapstructure:"database"`
	JWT      JWTConfig      `mapstructure:"jwt"`
	Log      LogConfig      `mapstructure:"log"`
	Relay    RelayConfig    `mapstructure:"relay"`
	Callback CallbackConfig `mapstructure:"callback"`
	Chat     ChatConfig     `mapstructure:"chat"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	MinIO    MinIOConfig    `mapstructure:"minio"`
}

// ServerConfig 存储服务器相关的配置。
type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// StoreConfig 选择会话存储的实现：mysql、redis 或 memory。
type StoreConfig struct {
	Driver string `mapstructure:"driver"`
}

// DatabaseConfig 存储所有数据库连接的配置。
type DatabaseConfig struct {
	MySQL MySQLConfig `mapstructure:"mysql"`
	Redis RedisConfig `mapstructure:"redis"`
}

// MySQLConfig 存储 MySQL 数据库的配置。
type MySQLConfig struct {
	DSN          string `mapstructure:"dsn"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

// RedisConfig 存储 Redis 的配置。
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// JWTConfig 存储 JWT 相关的配置。令牌由外部身份服务签发，这里只做校验。
type JWTConfig struct {
	Secret                 string `mapstructure:"secret"`
	AccessTokenExpireHours int    `mapstructure:"access_token_expire_hours"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// RelayConfig 存储自动化引擎出站调用的配置。
type RelayConfig struct {
	Transport string        `mapstructure:"transport"` // "http" 或 "kafka"
	URL       string        `mapstructure:"url"`
	Secret    string        `mapstructure:"secret"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// CallbackConfig 存储入站回调的共享密钥。
type CallbackConfig struct {
	Secret string `mapstructure:"secret"`
}

// ChatConfig 存储返回给用户的确认文案。
type ChatConfig struct {
	AckText      string `mapstructure:"ack_text"`
	FallbackText string `mapstructure:"fallback_text"`
}

// KafkaConfig 存储 Kafka 相关的配置。
type KafkaConfig struct {
	Brokers       string `mapstructure:"brokers"`
	RelayTopic    string `mapstructure:"relay_topic"`
	CallbackTopic string `mapstructure:"callback_topic"`
	GroupID       string `mapstructure:"group_id"`
}

// MinIOConfig 存储 MinIO 对象存储的配置，用于归档原始回调负载。
type MinIOConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	BucketName      string `mapstructure:"bucket_name"`
}

const (
	DefaultAckText      = "I'm processing your request. You'll receive a response shortly."
	DefaultFallbackText = "I'm sorry, but I'm having trouble connecting to my brain right now. Please try again later."
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "release")
	v.SetDefault("store.driver", "mysql")
	v.SetDefault("database.mysql.max_idle_conns", 10)
	v.SetDefault("database.mysql.max_open_conns", 100)
	v.SetDefault("database.redis.addr", "localhost:6379")
	v.SetDefault("jwt.access_token_expire_hours", 24)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("relay.transport", "http")
	v.SetDefault("relay.url", "http://localhost:5678/webhook/chatbot")
	v.SetDefault("relay.timeout", 5*time.Second)
	v.SetDefault("chat.ack_text", DefaultAckText)
	v.SetDefault("chat.fallback_text", DefaultFallbackText)
	v.SetDefault("kafka.relay_topic", "chat.relay")
	v.SetDefault("kafka.group_id", "estate-assist-callbacks")
	v.SetDefault("minio.bucket_name", "chat-callbacks")

	// 没有默认值的键也要注册，否则 AutomaticEnv 在 Unmarshal 时看不到它们
	for _, key := range []string{
		"relay.secret", "callback.secret", "jwt.secret",
		"database.mysql.dsn", "database.redis.password",
		"kafka.brokers", "kafka.callback_topic",
		"minio.enabled", "minio.endpoint", "minio.access_key_id", "minio.secret_access_key", "minio.use_ssl",
		"log.output_path",
	} {
		if !v.IsSet(key) {
			v.SetDefault(key, "")
		}
	}
}

// Load 读取 YAML 配置文件，环境变量（如 RELAY_SECRET、CALLBACK_SECRET）优先级更高。
// configPath 为空时只使用默认值和环境变量。
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("无法将配置解析到结构体中: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Store.Driver {
	case "mysql", "redis", "memory":
	default:
		return fmt.Errorf("未知的 store.driver: %q", c.Store.Driver)
	}
	switch c.Relay.Transport {
	case "http", "kafka":
	default:
		return fmt.Errorf("未知的 relay.transport: %q", c.Relay.Transport)
	}
	if c.Relay.Timeout <= 0 {
		return fmt.Errorf("relay.timeout 必须大于 0")
	}
	return nil
}

// Init 初始化配置加载，从指定的路径读取 YAML 文件并解析到 Conf 变量中。
func Init(configPath string) {
	cfg, err := Load(configPath)
	if err != nil {
		panic(err)
	}
	Conf = *cfg
}
