package master

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Server struct {
		Addr string `envconfig:"MASTER_ADDR" default:"127.0.0.1:50052"`
	}
	Chunks struct {
		ReplicationFactor int `envconfig:"REPLICATION_FACTOR" default:"3"`
	}
	Lease struct {
		Duration time.Duration `envconfig:"LEASE_DURATION" default:"60s"`
	}
	Heartbeat struct {
		Interval time.Duration `envconfig:"HEARTBEAT_INTERVAL" default:"10s"`
	}
	GC struct {
		Interval time.Duration `envconfig:"GC_INTERVAL" default:"60s"`
	}
	Storage struct {
		MetadataPath string `envconfig:"METADATA_STORE" default:"gfs_metadata"`
		OpLogPath    string `envconfig:"OPERATION_LOG" default:"gfs_op.log"`
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
