// Package config 负责加载和管理应用程序的配置。
package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// 全局配置变量，存储从配置文件加载的所有设置。
var Conf Config

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Log           LogConfig           `mapstructure:"log"`
	Ollama        OllamaConfig        `mapstructure:"ollama"`
	Monitor       MonitorConfig       `mapstructure:"monitor"`
	Chat          ChatConfig          `mapstructure:"chat"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
}

// ServerConfig 存储 HTTP 服务器相关的配置。
type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
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

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// OllamaConfig 存储与 Ollama 推理服务器交互的配置。
type OllamaConfig struct {
	// ProbeTimeoutSeconds 是单次健康探测（模型清单请求）的超时时间。
	ProbeTimeoutSeconds int `mapstructure:"probe_timeout_seconds"`
	// StallGraceSeconds 是流式生成允许无任何新分块的最长时间，
	// 超过后视为停滞并中断上游调用。
	StallGraceSeconds int `mapstructure:"stall_grace_seconds"`
	// TitleModel 是生成对话标题所使用的模型（可被全局设置覆盖）。
	TitleModel string `mapstructure:"title_model"`
	// TitlePrompt 是标题生成的系统提示词。
	TitlePrompt string `mapstructure:"title_prompt"`
	// EnableAutoTitle 控制首轮回复后是否自动生成标题。
	EnableAutoTitle bool `mapstructure:"enable_auto_title"`
}

// MonitorConfig 存储后台健康监控循环的配置。
type MonitorConfig struct {
	IntervalSeconds int `mapstructure:"interval_seconds"`
}

// ChatConfig 存储聊天生成的兜底默认值。
type ChatConfig struct {
	DefaultModel       string  `mapstructure:"default_model"`
	DefaultTemperature float64 `mapstructure:"default_temperature"`
	DefaultMaxTokens   int     `mapstructure:"default_max_tokens"`
}

// ElasticsearchConfig 存储 Elasticsearch 相关的配置。
type ElasticsearchConfig struct {
	Addresses string `mapstructure:"addresses"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	IndexName string `mapstructure:"index_name"`
}

// KafkaConfig 存储 Kafka 相关的配置。Brokers 为空时禁用事件上报。
type KafkaConfig struct {
	Brokers string `mapstructure:"brokers"`
	Topic   string `mapstructure:"topic"`
}

// Init 初始化配置加载，从指定的路径读取 YAML 文件并解析到 Conf 变量中。
func Init(configPath string) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		panic(fmt.Errorf("读取配置文件失败: %w", err))
	}

	if err := viper.Unmarshal(&Conf); err != nil {
		panic(fmt.Errorf("无法将配置解析到结构体中: %w", err))
	}

	applyDefaults()
}

// applyDefaults 为未配置的关键项填充安全默认值。
func applyDefaults() {
	if Conf.Ollama.ProbeTimeoutSeconds <= 0 {
		Conf.Ollama.ProbeTimeoutSeconds = 5
	}
	if Conf.Ollama.StallGraceSeconds <= 0 {
		Conf.Ollama.StallGraceSeconds = 120
	}
	if Conf.Monitor.IntervalSeconds <= 0 {
		Conf.Monitor.IntervalSeconds = 60
	}
	if Conf.Chat.DefaultTemperature == 0 {
		Conf.Chat.DefaultTemperature = 0.7
	}
	if Conf.Chat.DefaultMaxTokens == 0 {
		Conf.Chat.DefaultMaxTokens = 2048
	}
}
