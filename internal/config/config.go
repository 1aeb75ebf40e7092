package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Mode string `mapstructure:"mode"`
	Port int    `mapstructure:"port"`

	BrokerURL string `mapstructure:"broker_url"`
	APIURL    string `mapstructure:"api_url"`
	Token     string `mapstructure:"token"`

	UserID   string `mapstructure:"user_id"`
	Username string `mapstructure:"username"`

	StunServers  []string      `mapstructure:"stun_servers"`
	SetupTimeout time.Duration `mapstructure:"setup_timeout"`
	RingVolume   float64       `mapstructure:"ring_volume"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("broker_url", "ws://localhost:9000/ws")
	v.SetDefault("api_url", "http://localhost:9000/api")
	v.SetDefault("username", "anonymous")
	v.SetDefault("stun_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("setup_timeout", "30s")
	v.SetDefault("ring_volume", 0.8)

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("⚠️ Config file not found (%s), using defaults\n", fileName)
	} else {
		fmt.Printf("✅ Loaded config: %s\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	fmt.Printf("🧩 Mode: %s | Port: %d | Broker: %s\n", cfg.Mode, cfg.Port, cfg.BrokerURL)
	return &cfg, nil
}
