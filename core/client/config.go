package client

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Master struct {
		Addr string `envconfig:"MASTER_ADDR" default:"127.0.0.1:50052"`
	}
	Chunks struct {
		SizeBytes int `envconfig:"CHUNK_SIZE_BYTES" default:"65536"`
	}
	Cache struct {
		TTL  time.Duration `envconfig:"CACHE_TTL" default:"60s"`
		Size int           `envconfig:"CACHE_SIZE" default:"1024"`
	}
}

func GetConfig() (*Config, error) {
	var cfg Config
	err := envconfig.Process("gfs", &cfg)
	if err != nil {
		return nil, err
	}

	return &cfg, nil
}
