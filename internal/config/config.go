package config

import (
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	Redis     RedisConfig
	Analyzer  AnalyzerConfig
	RateLimit RateLimitConfig
}

type ServerConfig struct {
	Port     string
	Env      string
	SpoolDir string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type AnalyzerConfig struct {
	BaseURL        string
	TimeoutSeconds int
}

type RateLimitConfig struct {
	UploadPerHour  int
	AnalyzePerHour int
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// Environment variables
	viper.AutomaticEnv()

	// Defaults
	viper.SetDefault("server.port", "8000")
	viper.SetDefault("server.env", "development")
	viper.SetDefault("server.spool_dir", "./data/uploads")
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("analyzer.base_url", "")
	viper.SetDefault("analyzer.timeout_seconds", 120)
	viper.SetDefault("ratelimit.upload_per_hour", 30)
	viper.SetDefault("ratelimit.analyze_per_hour", 30)

	// Try to read config file (optional)
	_ = viper.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port:     viper.GetString("server.port"),
			Env:      viper.GetString("server.env"),
			SpoolDir: viper.GetString("server.spool_dir"),
		},
		Redis: RedisConfig{
			Addr:     viper.GetString("redis.addr"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		Analyzer: AnalyzerConfig{
			BaseURL:        viper.GetString("analyzer.base_url"),
			TimeoutSeconds: viper.GetInt("analyzer.timeout_seconds"),
		},
		RateLimit: RateLimitConfig{
			UploadPerHour:  viper.GetInt("ratelimit.upload_per_hour"),
			AnalyzePerHour: viper.GetInt("ratelimit.analyze_per_hour"),
		},
	}

	return cfg, nil
}
