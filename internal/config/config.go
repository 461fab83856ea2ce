package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

type Config struct {
	APIOrigin  string `json:"api_origin" yaml:"api_origin" mapstructure:"api_origin"`
	UserID     string `json:"user_id" yaml:"user_id" mapstructure:"user_id"`
	APIToken   string `json:"api_token" yaml:"api_token" mapstructure:"api_token"`
	Listen     string `json:"listen" yaml:"listen" mapstructure:"listen"`
	LocalToken string `json:"local_token" yaml:"local_token" mapstructure:"local_token"`
	Shards     int    `json:"shards" yaml:"shards" mapstructure:"shards"`

	Store  StoreConfig  `json:"store" yaml:"store" mapstructure:"store"`
	Global GlobalConfig `json:"global" yaml:"global" mapstructure:"global"`
	Cache  CacheConfig  `json:"cache" yaml:"cache" mapstructure:"cache"`
	AMQP   AMQPConfig   `json:"amqp" yaml:"amqp" mapstructure:"amqp"`
	OTel   OTelConfig   `json:"otel" yaml:"otel" mapstructure:"otel"`
	Log    LogConfig    `json:"log" yaml:"log" mapstructure:"log"`
}

type StoreConfig struct {
	Driver    string `json:"driver" yaml:"driver" mapstructure:"driver"`
	DSN       string `json:"dsn" yaml:"dsn" mapstructure:"dsn"`
	RedisAddr string `json:"redis_addr" yaml:"redis_addr" mapstructure:"redis_addr"`
}

type GlobalConfig struct {
	// AllShards makes the global surface aggregate every shard instead of
	// only the user's own.
	AllShards bool `json:"all_shards" yaml:"all_shards" mapstructure:"all_shards"`
}

type CacheConfig struct {
	TTL time.Duration `json:"ttl" yaml:"ttl" mapstructure:"ttl"`
}

type AMQPConfig struct {
	URL      string `json:"url" yaml:"url" mapstructure:"url"`
	Exchange string `json:"exchange" yaml:"exchange" mapstructure:"exchange"`
}

type OTelConfig struct {
	Endpoint string `json:"endpoint" yaml:"endpoint" mapstructure:"endpoint"`
}

type LogConfig struct {
	Development bool `json:"development" yaml:"development" mapstructure:"development"`
}

var (
	ErrMissingOrigin = errors.New("config: api_origin is required")
	ErrMissingUser   = errors.New("config: user_id is required")
	ErrBadShards     = errors.New("config: shards must be positive")
)

func defaults(v *viper.Viper) {
	v.SetDefault("api_origin", "")
	v.SetDefault("user_id", "")
	v.SetDefault("api_token", "")
	v.SetDefault("listen", "127.0.0.1:8089")
	v.SetDefault("local_token", "")
	v.SetDefault("shards", 20)
	v.SetDefault("store.driver", "sqlite3")
	v.SetDefault("store.dsn", "chat-sync.db")
	v.SetDefault("store.redis_addr", "127.0.0.1:6379")
	v.SetDefault("global.all_shards", false)
	v.SetDefault("cache.ttl", 60*time.Second)
	v.SetDefault("amqp.url", "")
	v.SetDefault("amqp.exchange", "chat_sync.events")
	v.SetDefault("otel.endpoint", "")
	v.SetDefault("log.development", false)
}

// Load reads config.yaml from the given directories (the working directory
// and $HOME/.config/chat-sync when none are given) and overlays CHATSYNC_*
// environment variables. A missing file is not an error.
func Load(paths ...string) (Config, error) {
	v := viper.New()
	defaults(v)
	v.SetConfigType("yaml")
	v.SetConfigName("config")
	if len(paths) == 0 {
		paths = []string{"./"}
		if home, err := os.UserHomeDir(); err == nil {
			paths = append(paths, filepath.Join(home, ".config", "chat-sync"))
		}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}
	v.SetEnvPrefix("CHATSYNC")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, err
		}
		zap.S().With("method", "config.Load").Debug("no config file, using defaults and environment")
	} else {
		zap.S().With("method", "config.Load").Infow("config loaded", "file", v.ConfigFileUsed())
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.APIOrigin == "" {
		return ErrMissingOrigin
	}
	if c.UserID == "" {
		return ErrMissingUser
	}
	if c.Shards <= 0 {
		return ErrBadShards
	}
	return nil
}
