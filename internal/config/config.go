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
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	JWT      JWTConfig      `mapstructure:"jwt"`
	Log      LogConfig      `mapstructure:"log"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	LLM      LLMConfig      `mapstructure:"llm"`
}

// ServerConfig 存储服务器相关的配置。
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

// JWTConfig 存储 JWT 相关的配置。
type JWTConfig struct {
	Secret                 string `mapstructure:"secret"`
	AccessTokenExpireHours int    `mapstructure:"access_token_expire_hours"`
	RefreshTokenExpireDays int    `mapstructure:"refresh_token_expire_days"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// KafkaConfig 存储 Kafka 相关的配置。
type KafkaConfig struct {
	Brokers string `mapstructure:"brokers"`
	Topic   string `mapstructure:"topic"`
}

// LLMConfig 存储大模型提供方的配置。
// Provider 选择激活的后端: "openai" / "gemini" / "lm_studio"。
type LLMConfig struct {
	Provider string         `mapstructure:"provider"`
	OpenAI   OpenAIConfig   `mapstructure:"openai"`
	LMStudio LMStudioConfig `mapstructure:"lm_studio"`
	Gemini   GeminiConfig   `mapstructure:"gemini"`
}

// OpenAIConfig 存储 OpenAI 兼容后端的配置。
type OpenAIConfig struct {
	APIKey         string `mapstructure:"api_key"`
	BaseURL        string `mapstructure:"base_url"`
	ChatModel      string `mapstructure:"chat_model"`
	EmbeddingModel string `mapstructure:"embedding_model"`
}

// LMStudioConfig 存储本地 LM Studio 后端的配置。
type LMStudioConfig struct {
	BaseURL   string `mapstructure:"base_url"`
	ChatModel string `mapstructure:"chat_model"`
}

// GeminiConfig 存储 Gemini 后端的配置。
// Models 是按新到旧排列的降级模型链，遇到 "model not found" 时依次重试。
type GeminiConfig struct {
	APIKey         string   `mapstructure:"api_key"`
	BaseURL        string   `mapstructure:"base_url"`
	Models         []string `mapstructure:"models"`
	EmbeddingModel string   `mapstructure:"embedding_model"`
}

// ActiveChatModel 返回当前激活后端所使用的聊天模型名，用于消息元数据。
func (c LLMConfig) ActiveChatModel() string {
	switch c.Provider {
	case "gemini":
		if len(c.Gemini.Models) > 0 {
			return c.Gemini.Models[0]
		}
		return "gemini-2.0-flash"
	case "lm_studio":
		return c.LMStudio.ChatModel
	default:
		return c.OpenAI.ChatModel
	}
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
}
