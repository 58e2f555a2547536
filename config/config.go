package config

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type App struct {
	Env  string `mapstructure:"env"`
	Port int    `mapstructure:"port"`
}

type Mongo struct {
	// URI empty means run on the in-memory store (local dev, tests).
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
}

type Redis struct {
	// Addr empty means in-memory presence tracking.
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

type Kafka struct {
	Brokers          []string `mapstructure:"brokers"`
	TopicMessageSent string   `mapstructure:"topic_message_sent"`
}

type NATS struct {
	URL string `mapstructure:"url"`
}

type JWT struct {
	Secret string `mapstructure:"secret"`
}

type Sync struct {
	PrimePageSize  int           `mapstructure:"prime_page_size"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	MaxAutoRetries int           `mapstructure:"max_auto_retries"`
	BackoffBase    time.Duration `mapstructure:"backoff_base"`
	BackoffMax     time.Duration `mapstructure:"backoff_max"`
}

type Config struct {
	App   App   `mapstructure:"app"`
	Mongo Mongo `mapstructure:"mongo"`
	Redis Redis `mapstructure:"redis"`
	Kafka Kafka `mapstructure:"kafka"`
	NATS  NATS  `mapstructure:"nats"`
	JWT   JWT   `mapstructure:"jwt"`
	Sync  Sync  `mapstructure:"sync"`
}

func Load() (*Config, error) {
	// .env is optional; real deployments set env vars directly
	_ = godotenv.Load()

	v := viper.New()
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", 8084)
	v.SetDefault("mongo.uri", "")
	v.SetDefault("mongo.database", "syncdb")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "sync")
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic_message_sent", "messages.sent")
	v.SetDefault("nats.url", "")
	v.SetDefault("jwt.secret", "")
	v.SetDefault("sync.prime_page_size", 100)
	v.SetDefault("sync.write_timeout", 10*time.Second)
	v.SetDefault("sync.max_auto_retries", 2)
	v.SetDefault("sync.backoff_base", 200*time.Millisecond)
	v.SetDefault("sync.backoff_max", 5*time.Second)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
