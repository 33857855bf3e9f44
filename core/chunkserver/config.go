package chunkserver

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Server struct {
		Host string `envconfig:"SERVER_HOST" default:"127.0.0.1"`
		Port int    `envconfig:"SERVER_PORT" default:"0"`
	}
	Master struct {
		Addr string `envconfig:"MASTER_ADDR" default:"127.0.0.1:50052"`
	}
	Chunks struct {
		Path           string `envconfig:"CHUNK_PATH" default:"chunks"`
		SizeBytes      int    `envconfig:"CHUNK_SIZE_BYTES" default:"65536"`
		BlockSizeBytes int    `envconfig:"BLOCK_SIZE_BYTES" default:"4096"`
	}
	Metadata struct {
		Path string `envconfig:"METADATA_STORE" default:"chunkserver_metadata"`
	}
	Heartbeat struct {
		Interval time.Duration `envconfig:"HEARTBEAT_INTERVAL" default:"10s"`
	}
	Txn struct {
		Timeout time.Duration `envconfig:"TRANSACTION_TIMEOUT" default:"60s"`
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
