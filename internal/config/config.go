package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var (
	ServiceName    = "broker-gateway"
	ServiceVersion = "dev"
)

var (
	Env *EnvConfig
)

type EnvConfig struct {
	Env                     string                    `mapstructure:"env"`
	Log                     LogConfig                 `mapstructure:"log"`
	GracefulShutdownTimeout time.Duration             `mapstructure:"graceful_shutdown_timeout"`
	APIKeys                 []APIKeyConfig            `mapstructure:"api_keys"`
	Port                    map[string]string         `mapstructure:"port"`
	Upstream                UpstreamConfig            `mapstructure:"upstream"`
	OrderFlow               OrderFlowConfig           `mapstructure:"order_flow"`
	Snapshot                SnapshotConfig            `mapstructure:"snapshot"`
	Database                map[string]DatabaseConfig `mapstructure:"database"`
	Redis                   map[string]RedisConfig    `mapstructure:"redis"`
	NatsJetstream           NatsJetstreamConfig       `mapstructure:"nats_jetstream"`
}

type LogConfig struct {
	ShowCaller bool   `mapstructure:"show_caller"`
	LogLevel   string `mapstructure:"log_level"`
}

type APIKeyConfig struct {
	Name      string `mapstructure:"name"`
	Key       string `mapstructure:"key"`
	Active    bool   `mapstructure:"active"`
	ExpiredAt any    `mapstructure:"expired_at"`
}

type UpstreamConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	QuoteBaseURL   string        `mapstructure:"quote_base_url"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	TOTPSecret     string        `mapstructure:"totp_secret"`
	IntAccount     int64         `mapstructure:"int_account"`
	UserToken      string        `mapstructure:"user_token"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	QuoteChunkSize int           `mapstructure:"quote_chunk_size"`
	QuoteWorkers   int           `mapstructure:"quote_workers"`
	SearchLimit    int           `mapstructure:"search_limit"`
	LeveragedLimit int           `mapstructure:"leveraged_limit"`
}

type OrderFlowConfig struct {
	TokenTTL      time.Duration `mapstructure:"token_ttl"`
	TokenStore    string        `mapstructure:"token_store"` // memory|redis
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

type SnapshotConfig struct {
	Workers         int           `mapstructure:"workers"`
	StreamInterval  time.Duration `mapstructure:"stream_interval"`
	MetadataTimeout time.Duration `mapstructure:"metadata_timeout"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // postgres|sqlite3
	DSN             string        `mapstructure:"dsn"`
	PingInterval    time.Duration `mapstructure:"ping_interval"`
	ReconnectFactor float64       `mapstructure:"reconnect_factor"`
	MinJitter       time.Duration `mapstructure:"min_jitter"`
	MaxJitter       time.Duration `mapstructure:"max_jitter"`
	MaxRetry        int           `mapstructure:"max_retry"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxActiveConns  int           `mapstructure:"max_active_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

type RedisConfig struct {
	CacheDSN string `mapstructure:"cache_dsn"`
}

type NatsJetstreamConfig struct {
	URL             string        `mapstructure:"url"`
	MaxRetries      int           `mapstructure:"max_retries"`
	ReconnectFactor float64       `mapstructure:"reconnect_factor"`
	MinJitter       time.Duration `mapstructure:"min_jitter"`
	MaxJitter       time.Duration `mapstructure:"max_jitter"`
}

func LoadConfig(configPath string) error {
	viper.Reset()

	configPath = strings.TrimSpace(configPath)
	if configPath == "" {
		viper.SetConfigName("config")
		viper.SetConfigType("yml")
		viper.AddConfigPath(".")
	} else {
		ext := strings.ToLower(filepath.Ext(configPath))
		if ext == ".yml" || ext == ".yaml" {
			viper.SetConfigFile(configPath)
		} else {
			viper.SetConfigName(filepath.Base(configPath))
			viper.SetConfigType("yml")
			configDir := filepath.Dir(configPath)
			if configDir == "." || configDir == "" {
				viper.AddConfigPath(".")
			} else {
				viper.AddConfigPath(configDir)
			}
		}
	}

	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)

	err := viper.ReadInConfig()
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	err = viper.Unmarshal(&Env)
	if err != nil {
		return fmt.Errorf("failed to unmarshal config file: %w", err)
	}

	return nil
}
