package config

import (
	"log"

	"github.com/spf13/viper"
)

// Config 全局配置结构
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	MySQL    MySQLConfig    `mapstructure:"mysql"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Vault    VaultConfig    `mapstructure:"vault"`
	Upload   UploadConfig   `mapstructure:"upload"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Auth     AuthConfig     `mapstructure:"auth"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type MySQLConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Brokers []string         `mapstructure:"brokers"`
	Topic   KafkaTopicConfig `mapstructure:"topic"`
}

type KafkaTopicConfig struct {
	InvoiceEvent string `mapstructure:"invoice_event"`
}

// VaultConfig 凭据加密配置
// Secret 是运营方提供的主密钥种子，进程启动时派生一次对称密钥，
// 绝不打日志、绝不随密文落库
type VaultConfig struct {
	Secret string `mapstructure:"secret"`
}

type UploadConfig struct {
	Dir        string `mapstructure:"dir"`
	MaxSizeKB  int    `mapstructure:"max_size_kb"`
}

type TelegramConfig struct {
	Token       string  `mapstructure:"token"`
	AdminChatID int64   `mapstructure:"admin_chat_id"`
	OperatorIDs []int64 `mapstructure:"operator_ids"` // 允许通过机器人审核的 Telegram 用户ID白名单
}

// AuthConfig 静态令牌表（演示用身份提供方）
// 正式环境替换为外部身份服务，核心代码只消费校验结果
type AuthConfig struct {
	Tokens []AuthToken `mapstructure:"tokens"`
}

type AuthToken struct {
	Token  string `mapstructure:"token"`
	UserID int64  `mapstructure:"user_id"`
	Email  string `mapstructure:"email"`
	Role   string `mapstructure:"role"`
	Name   string `mapstructure:"name"`
}

var GlobalConfig *Config

// LoadConfig 加载配置文件
func LoadConfig(configPath string) *Config {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		log.Fatalf("读取配置文件失败: %v", err)
	}

	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		log.Fatalf("解析配置文件失败: %v", err)
	}

	GlobalConfig = config
	return config
}
