package config

import (
	"log"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	App    AppConfig    `mapstructure:"app"`
	DB     DBConfig     `mapstructure:"db"`
	Redis  RedisConfig  `mapstructure:"redis"`
	Kafka  KafkaConfig  `mapstructure:"kafka"`
	Wallet WalletConfig `mapstructure:"wallet"`
}

type AppConfig struct {
	Env      string `mapstructure:"env"`
	HttpPort string `mapstructure:"http_port"`
}

type DBConfig struct {
	// Driver: "sqlite" (默认, 本地单用户) 或 "postgres"
	Driver   string `mapstructure:"driver"`
	Path     string `mapstructure:"path"` // sqlite 文件路径
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	MQType   string `mapstructure:"mq_type"` // "redis", "kafka" or "none"
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
}

// TokenConfig 描述一个可用于打赏/订阅的 ERC-20 代币
type TokenConfig struct {
	Symbol   string `mapstructure:"symbol"`
	Contract string `mapstructure:"contract"`
	Decimals int32  `mapstructure:"decimals"`
}

type WalletConfig struct {
	RpcUrl     string `mapstructure:"rpc_url"`
	WalletPath string `mapstructure:"wallet_path"` // walletData 加密记录的文件路径

	// TrustedOrigins: 允许触发资金操作的 Web Origin 白名单
	TrustedOrigins []string `mapstructure:"trusted_origins"`

	// 会话镜像: "memory" 或 "redis"。镜像允许进程重启后恢复已解锁会话。
	MirrorBackend     string `mapstructure:"mirror_backend"`
	MirrorTTLMinutes  int    `mapstructure:"mirror_ttl_minutes"`
	UnlockTimeoutMins int    `mapstructure:"unlock_timeout_minutes"` // 0 = 不自动锁定

	GasLimitNative uint64 `mapstructure:"gas_limit_native"`
	GasLimitToken  uint64 `mapstructure:"gas_limit_token"`

	// PromotionContract: 推广活动合约地址 (作为不透明账本对待)
	PromotionContract string        `mapstructure:"promotion_contract"`
	Tokens            []TokenConfig `mapstructure:"tokens"`
}

var Global Config

func Init() {
	viper.SetConfigName("config") // name of config file (without extension)
	viper.SetConfigType("yaml")   // REQUIRED if the config file does not have the extension in the name
	viper.AddConfigPath(".")      // optionally look for config in the working directory
	viper.AddConfigPath("./config")

	// 环境变量设置
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// 设置默认值
	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Printf("Warning: Config file not found, using defaults and environment variables")
		} else {
			log.Fatalf("Fatal error config file: %s \n", err)
		}
	}

	if err := viper.Unmarshal(&Global); err != nil {
		log.Fatalf("Unable to decode into struct, %v", err)
	}

	log.Printf("Configuration loaded successfully. Env: %s", Global.App.Env)
}

func setDefaults() {
	viper.SetDefault("app.env", "development")
	viper.SetDefault("app.http_port", "8080")

	viper.SetDefault("db.driver", "sqlite")
	viper.SetDefault("db.path", "wallet_ext.db")
	viper.SetDefault("db.host", "localhost")
	viper.SetDefault("db.port", "5432")
	viper.SetDefault("db.user", "wallet_user")
	viper.SetDefault("db.password", "wallet_password")
	viper.SetDefault("db.name", "wallet_db")

	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.mq_type", "none")

	viper.SetDefault("kafka.brokers", []string{"localhost:9092"})

	viper.SetDefault("wallet.rpc_url", "http://localhost:8545")
	viper.SetDefault("wallet.wallet_path", "walletData.json")
	viper.SetDefault("wallet.trusted_origins", []string{})
	viper.SetDefault("wallet.mirror_backend", "memory")
	viper.SetDefault("wallet.mirror_ttl_minutes", 30)
	viper.SetDefault("wallet.unlock_timeout_minutes", 0)
	viper.SetDefault("wallet.gas_limit_native", 21000)
	viper.SetDefault("wallet.gas_limit_token", 100000)
}

// FindToken 在配置的代币表中按符号查找 (大小写不敏感)
func (w WalletConfig) FindToken(symbol string) (TokenConfig, bool) {
	for _, t := range w.Tokens {
		if strings.EqualFold(t.Symbol, symbol) {
			return t, true
		}
	}
	return TokenConfig{}, false
}
