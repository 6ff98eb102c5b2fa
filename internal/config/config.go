package config

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	Backend   BackendConfig
	Redis     RedisConfig
	Cache     CacheConfig
	Devserver DevserverConfig
	Simulator SimulatorConfig
}

type ServerConfig struct {
	Port      string
	Env       string
	JWTSecret string
}

type BackendConfig struct {
	BaseURL           string
	WSPath            string
	Token             string
	UserID            string
	ReconnectAttempts int
	ReconnectDelay    time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type CacheConfig struct {
	KeyPrefix        string
	TTL              time.Duration
	StalenessHorizon time.Duration
}

type DevserverConfig struct {
	Port string
}

type SimulatorConfig struct {
	StepDelay     time.Duration
	Queue         string
	SubmitPerHour int
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// Environment variables
	viper.AutomaticEnv()

	// Defaults
	viper.SetDefault("server.port", "4500")
	viper.SetDefault("server.env", "development")
	viper.SetDefault("server.jwt_secret", "change-me-in-production")
	viper.SetDefault("backend.base_url", "http://localhost:4600")
	viper.SetDefault("backend.ws_path", "/ws/users")
	viper.SetDefault("backend.token", "")
	viper.SetDefault("backend.user_id", "")
	viper.SetDefault("backend.reconnect_attempts", 5)
	viper.SetDefault("backend.reconnect_delay", "3s")
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("cache.key_prefix", "statussync:jobs")
	viper.SetDefault("cache.ttl", "24h")
	viper.SetDefault("cache.staleness_horizon", "20m")
	viper.SetDefault("devserver.port", "4600")
	viper.SetDefault("simulator.step_delay", "2s")
	viper.SetDefault("simulator.queue", "videos")
	viper.SetDefault("simulator.submit_per_hour", 30)

	// Try to read config file (optional)
	_ = viper.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port:      viper.GetString("server.port"),
			Env:       viper.GetString("server.env"),
			JWTSecret: viper.GetString("server.jwt_secret"),
		},
		Backend: BackendConfig{
			BaseURL:           viper.GetString("backend.base_url"),
			WSPath:            viper.GetString("backend.ws_path"),
			Token:             viper.GetString("backend.token"),
			UserID:            viper.GetString("backend.user_id"),
			ReconnectAttempts: viper.GetInt("backend.reconnect_attempts"),
			ReconnectDelay:    viper.GetDuration("backend.reconnect_delay"),
		},
		Redis: RedisConfig{
			Addr:     viper.GetString("redis.addr"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		Cache: CacheConfig{
			KeyPrefix:        viper.GetString("cache.key_prefix"),
			TTL:              viper.GetDuration("cache.ttl"),
			StalenessHorizon: viper.GetDuration("cache.staleness_horizon"),
		},
		Devserver: DevserverConfig{
			Port: viper.GetString("devserver.port"),
		},
		Simulator: SimulatorConfig{
			StepDelay:     viper.GetDuration("simulator.step_delay"),
			Queue:         viper.GetString("simulator.queue"),
			SubmitPerHour: viper.GetInt("simulator.submit_per_hour"),
		},
	}

	return cfg, nil
}
