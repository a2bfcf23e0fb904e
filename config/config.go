package config

import (
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

type Config struct {
	ListenAddr    string        `env:"LISTEN_ADDR" envDefault:":3000"`
	StorageType   string        `env:"STORAGE_TYPE" envDefault:"filesystem"`
	UploadDir     string        `env:"UPLOAD_DIR" envDefault:"./uploads"`
	PublicDir     string        `env:"PUBLIC_DIR" envDefault:"./public"`
	SweepInterval time.Duration `env:"SWEEP_INTERVAL" envDefault:"60s"`
	DefaultExpiry time.Duration `env:"DEFAULT_EXPIRY" envDefault:"30m"`
}

// Load reads configuration from the environment, with an optional .env file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logrus.Info("No .env file found")
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
