package config

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Server     ServerConfig     `mapstructure:"server"`
	Log        LogConfig        `mapstructure:"log"`
	DB         DBConfig         `mapstructure:"db"`
	Discord    DiscordConfig    `mapstructure:"discord"`
	Classifier ClassifierConfig `mapstructure:"classifier"`
	Gate       GateConfig       `mapstructure:"gate"`
	Checker    CheckerConfig    `mapstructure:"checker"`
	Cron       CronConfig       `mapstructure:"cron"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Events     EventsConfig     `mapstructure:"events"`
}

type AppConfig struct {
	Env string `mapstructure:"env"`
}

type ServerConfig struct {
	HTTPAddr    string   `mapstructure:"http_addr"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

type LogConfig struct {
	Level             string `mapstructure:"level"`
	Encoding          string `mapstructure:"encoding"`
	Development       bool   `mapstructure:"development"`
	Sampling          bool   `mapstructure:"sampling"`
	DisableCaller     bool   `mapstructure:"disable_caller"`
	DisableStacktrace bool   `mapstructure:"disable_stacktrace"`
}

type DBConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	Timezone        string        `mapstructure:"timezone"`
}

// DiscordConfig selects the monitored channels. An empty ChannelIDs list
// monitors every channel the bot can read.
type DiscordConfig struct {
	Token      string   `mapstructure:"token"`
	GuildID    string   `mapstructure:"guild_id"`
	ChannelIDs []string `mapstructure:"channel_ids"`
}

type ClassifierConfig struct {
	APIKey             string        `mapstructure:"api_key"`
	BaseURL            string        `mapstructure:"base_url"`
	Model              string        `mapstructure:"model"`
	Timeout            time.Duration `mapstructure:"timeout"`
	MaxTokens          int           `mapstructure:"max_tokens"`
	RateLimitPerMinute int           `mapstructure:"rate_limit_per_minute"`
	Concurrency        int           `mapstructure:"concurrency"`
}

type GateConfig struct {
	Threshold int `mapstructure:"threshold"`
}

type CheckerConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Interval       time.Duration `mapstructure:"interval"`
	BatchLimit     int           `mapstructure:"batch_limit"`
	RecentWindow   time.Duration `mapstructure:"recent_window"`
	RecentInterval time.Duration `mapstructure:"recent_interval"`
	StaleInterval  time.Duration `mapstructure:"stale_interval"`
	FetchTimeout   time.Duration `mapstructure:"fetch_timeout"`
}

type CronConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Heartbeat string `mapstructure:"heartbeat"`
}

type CacheConfig struct {
	Driver        string        `mapstructure:"driver"`
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	StatsTTL      time.Duration `mapstructure:"stats_ttl"`
}

type EventsConfig struct {
	NATSURL       string `mapstructure:"nats_url"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

func Load(path string, envOnly bool) (Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("SC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetDefault("app.env", "dev")
	v.SetDefault("server.http_addr", ":8080")
	v.SetDefault("server.cors_origins", []string{"http://localhost:5173", "http://127.0.0.1:5173"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "console")
	v.SetDefault("log.development", true)
	v.SetDefault("log.sampling", false)
	v.SetDefault("log.disable_caller", false)
	v.SetDefault("log.disable_stacktrace", false)
	v.SetDefault("db.driver", "sqlite")
	v.SetDefault("db.dsn", "data/signals.db")
	v.SetDefault("db.max_open_conns", 20)
	v.SetDefault("db.max_idle_conns", 5)
	v.SetDefault("db.conn_max_lifetime", "30m")
	v.SetDefault("db.conn_max_idle_time", "5m")
	v.SetDefault("db.timezone", "UTC")
	v.SetDefault("discord.token", "")
	v.SetDefault("discord.guild_id", "")
	v.SetDefault("discord.channel_ids", []string{})
	v.SetDefault("classifier.api_key", "")
	v.SetDefault("classifier.base_url", "")
	v.SetDefault("classifier.model", "gpt-4o-mini")
	v.SetDefault("classifier.timeout", "30s")
	v.SetDefault("classifier.max_tokens", 400)
	v.SetDefault("classifier.rate_limit_per_minute", 30)
	v.SetDefault("classifier.concurrency", 2)
	v.SetDefault("gate.threshold", 2)
	v.SetDefault("checker.enabled", true)
	v.SetDefault("checker.interval", "30m")
	v.SetDefault("checker.batch_limit", 2000)
	v.SetDefault("checker.recent_window", "168h")
	v.SetDefault("checker.recent_interval", "1h")
	v.SetDefault("checker.stale_interval", "72h")
	v.SetDefault("checker.fetch_timeout", "15s")
	v.SetDefault("cron.enabled", true)
	v.SetDefault("cron.heartbeat", "@every 10m")
	v.SetDefault("cache.driver", "memory")
	v.SetDefault("cache.redis_addr", "localhost:6379")
	v.SetDefault("cache.redis_password", "")
	v.SetDefault("cache.redis_db", 0)
	v.SetDefault("cache.stats_ttl", "1m")
	v.SetDefault("events.nats_url", "")
	v.SetDefault("events.subject_prefix", "signals")

	if !envOnly {
		if err := v.ReadInConfig(); err != nil {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}
