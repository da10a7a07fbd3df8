package config

import (
	"errors"
	"log"

	"github.com/spf13/viper"
)

type Config struct {
	ServerPort   string `mapstructure:"SERVER_PORT"`
	DatabaseURL  string `mapstructure:"DATABASE_URL"`
	ClientOrigin string `mapstructure:"CLIENT_ORIGIN"`

	// Live feed. Empty RedisAddr falls back to the in-process feed.
	RedisAddr string `mapstructure:"REDIS_ADDR"`
	RedisDB   int    `mapstructure:"REDIS_DB"`

	// Position ingestion. Disabled when KafkaBrokers is empty.
	KafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	KafkaTopic   string `mapstructure:"KAFKA_TOPIC"`
	KafkaGroupID string `mapstructure:"KAFKA_GROUP_ID"`

	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogFormat string `mapstructure:"LOG_FORMAT"`

	MinWaypointSpacingMeters float64 `mapstructure:"MIN_WAYPOINT_SPACING_METERS"`
	MinTrackMoveMeters       float64 `mapstructure:"MIN_TRACK_MOVE_METERS"`
}

func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName(".env") // Name of config file (without extension)
	v.SetConfigType("env")

	// Defaults also register the keys so AutomaticEnv picks them up on Unmarshal.
	v.SetDefault("SERVER_PORT", "8080")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("CLIENT_ORIGIN", "*")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("KAFKA_TOPIC", "route-positions")
	v.SetDefault("KAFKA_GROUP_ID", "route-tracking")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("MIN_WAYPOINT_SPACING_METERS", 10.0)
	v.SetDefault("MIN_TRACK_MOVE_METERS", 30.0)

	v.AutomaticEnv()

	err := v.ReadInConfig()
	if err != nil {
		// A missing .env is fine, the environment alone is enough.
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			log.Println("No .env file found.")
		} else {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}

	return &cfg, nil
}
