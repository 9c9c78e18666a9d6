// Package config 负责加载和管理应用程序的配置。
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

// 全局配置变量，由 Init 填充，供 main 使用。
var Conf Config

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Log           LogConfig           `mapstructure:"log"`
	Line          LineConfig          `mapstructure:"line"`
	LLM           LLMConfig           `mapstructure:"llm"`
	Store         StoreConfig         `mapstructure:"store"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	MinIO         MinIOConfig         `mapstructure:"minio"`
	Admin         AdminConfig         `mapstructure:"admin"`
}

// ServerConfig 存储服务器相关的配置。
type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// LineConfig 存储 LINE Messaging API 的凭据。
type LineConfig struct {
	ChannelAccessToken string `mapstructure:"channel_access_token"`
	ChannelSecret      string `mapstructure:"channel_secret"`
}

// LLMConfig 存储大语言模型相关的配置。
type LLMConfig struct {
	APIKey     string              `mapstructure:"api_key"`
	BaseURL    string              `mapstructure:"base_url"`
	Model      string              `mapstructure:"model"`
	Timeout    time.Duration       `mapstructure:"timeout"`
	Generation LLMGenerationConfig `mapstructure:"generation"`
}

// LLMGenerationConfig 配置生成相关参数（可选，零值表示不下发）。
type LLMGenerationConfig struct {
	Temperature float64 `mapstructure:"temperature"`
	TopP        float64 `mapstructure:"top_p"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

// StoreConfig 决定对话历史持久化到哪里。
type StoreConfig struct {
	Driver   string `mapstructure:"driver"` // file | redis | mysql
	Path     string `mapstructure:"path"`
	RedisKey string `mapstructure:"redis_key"`
}

// DatabaseConfig 存储所有数据库连接的配置。
type DatabaseConfig struct {
	MySQL MySQLConfig `mapstructure:"mysql"`
	Redis RedisConfig `mapstructure:"redis"`
}

// MySQLConfig 存储 MySQL 数据库的配置。
type MySQLConfig struct {
	DSN string `mapstructure:"dsn"`
}

// RedisConfig 存储 Redis 的配置。
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// KafkaConfig 存储 Kafka 相关的配置。
type KafkaConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Brokers string `mapstructure:"brokers"`
	Topic   string `mapstructure:"topic"`
	GroupID string `mapstructure:"group_id"`
}

// ElasticsearchConfig 存储 Elasticsearch 相关的配置。
type ElasticsearchConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Addresses string `mapstructure:"addresses"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	IndexName string `mapstructure:"index_name"`
}

// MinIOConfig 存储 MinIO 对象存储的配置。
type MinIOConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	BucketName      string `mapstructure:"bucket_name"`
}

// AdminConfig 存储 REST 管理接口的认证配置。PasswordHash 为空时接口不做认证。
type AdminConfig struct {
	PasswordHash     string `mapstructure:"password_hash"`
	JWTSecret        string `mapstructure:"jwt_secret"`
	TokenExpireHours int    `mapstructure:"token_expire_hours"`
}

// AuthEnabled 报告是否需要对管理接口进行认证。
func (a AdminConfig) AuthEnabled() bool {
	return a.PasswordHash != ""
}

// 兼容旧部署使用的环境变量名。
var legacyEnv = map[string]string{
	"line.channel_access_token": "LINE_CHANNEL_ACCESS_TOKEN",
	"line.channel_secret":       "LINE_CHANNEL_SECRET",
	"llm.api_key":               "GEMINI_API_KEY",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "3000")
	v.SetDefault("server.mode", "release")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output_path", "")
	v.SetDefault("llm.base_url", "https://generativelanguage.googleapis.com/v1beta/openai")
	v.SetDefault("llm.model", "gemini-1.5-flash")
	v.SetDefault("llm.timeout", 60*time.Second)
	v.SetDefault("llm.generation.temperature", 0)
	v.SetDefault("llm.generation.top_p", 0)
	v.SetDefault("llm.generation.max_tokens", 0)
	v.SetDefault("store.driver", "file")
	v.SetDefault("store.path", "history.json")
	v.SetDefault("store.redis_key", "conversations:history")
	v.SetDefault("database.mysql.dsn", "")
	v.SetDefault("database.redis.addr", "localhost:6379")
	v.SetDefault("database.redis.password", "")
	v.SetDefault("database.redis.db", 0)
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", "localhost:9092")
	v.SetDefault("kafka.topic", "conversation-events")
	v.SetDefault("kafka.group_id", "line-gemini-relay-indexer")
	v.SetDefault("elasticsearch.enabled", false)
	v.SetDefault("elasticsearch.addresses", "http://localhost:9200")
	v.SetDefault("elasticsearch.username", "")
	v.SetDefault("elasticsearch.password", "")
	v.SetDefault("elasticsearch.index_name", "conversations")
	v.SetDefault("minio.enabled", false)
	v.SetDefault("minio.endpoint", "localhost:9000")
	v.SetDefault("minio.access_key_id", "")
	v.SetDefault("minio.secret_access_key", "")
	v.SetDefault("minio.use_ssl", false)
	v.SetDefault("minio.bucket_name", "conversation-archive")
	v.SetDefault("admin.password_hash", "")
	v.SetDefault("admin.jwt_secret", "")
	v.SetDefault("admin.token_expire_hours", 24)
}

// Load 读取 .env、可选的 YAML 配置文件以及环境变量，并校验必填项。
// configPath 为空或文件不存在时只使用默认值与环境变量。
func Load(configPath string) (*Config, error) {
	// .env 不存在时忽略，已有的环境变量不会被覆盖
	_ = gotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range legacyEnv {
		if err := v.BindEnv(key, strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return nil, fmt.Errorf("绑定环境变量 %s 失败: %w", env, err)
		}
	}

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			v.SetConfigFile(configPath)
			v.SetConfigType("yaml")
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("读取配置文件失败: %w", err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("检查配置文件失败: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("无法将配置解析到结构体中: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 检查启动所需的必填项，缺失时快速失败。
func (c *Config) Validate() error {
	if c.Line.ChannelAccessToken == "" {
		return errors.New("line.channel_access_token (LINE_CHANNEL_ACCESS_TOKEN) 不能为空")
	}
	if c.Line.ChannelSecret == "" {
		return errors.New("line.channel_secret (LINE_CHANNEL_SECRET) 不能为空")
	}
	if c.LLM.APIKey == "" {
		return errors.New("llm.api_key (GEMINI_API_KEY) 不能为空")
	}

	switch c.Store.Driver {
	case "file":
		if c.Store.Path == "" {
			return errors.New("store.path 不能为空")
		}
	case "redis":
		if c.Database.Redis.Addr == "" {
			return errors.New("store.driver=redis 时 database.redis.addr 不能为空")
		}
	case "mysql":
		if c.Database.MySQL.DSN == "" {
			return errors.New("store.driver=mysql 时 database.mysql.dsn 不能为空")
		}
	default:
		return fmt.Errorf("store.driver 不支持: %q", c.Store.Driver)
	}

	if c.Kafka.Enabled && (c.Kafka.Brokers == "" || c.Kafka.Topic == "") {
		return errors.New("kafka.enabled 时 kafka.brokers 和 kafka.topic 不能为空")
	}
	if c.Admin.AuthEnabled() && c.Admin.JWTSecret == "" {
		return errors.New("设置 admin.password_hash 时 admin.jwt_secret 不能为空")
	}
	return nil
}

// Init 加载配置到 Conf，失败时直接 panic。
func Init(configPath string) {
	cfg, err := Load(configPath)
	if err != nil {
		panic(fmt.Errorf("加载配置失败: %w", err))
	}
	Conf = *cfg
}
