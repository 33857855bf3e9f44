package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/pyropy/gfs/core/chunkserver"
	"github.com/pyropy/gfs/lib/logger"
	"github.com/pyropy/gfs/lib/transport"
	chunkServerRPC "github.com/pyropy/gfs/rpc/chunkserver"
)

var log, _ = logger.New("chunk-server")

func main() {
	if err := run(); err != nil {
		log.Fatalw("startup", "error", err)
	}
}

func run() error {
	cfg, err := chunkserver.GetConfig()
	if err != nil {
		log.Errorw("startup", "error", "config error")
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := chunkserver.NewMetadataStore(cfg.Metadata.Path)
	if err != nil {
		log.Errorw("startup", "error", "failed to open metadata store", "path", cfg.Metadata.Path)
		return err
	}

	chunkServer, err := chunkserver.NewChunkServer(ctx, chunkserver.OptionsFromConfig(cfg), store)
	if err != nil {
		return err
	}

	defer chunkServer.Close()
	chunkServer.Start(ctx)

	srv := transport.NewServer()
	if err := srv.RegisterName(chunkServerRPC.ServiceName, chunkserver.NewAPI(chunkServer)); err != nil {
		return err
	}

	l, err := net.Listen("tcp", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port))
	if err != nil {
		log.Errorw("startup", "error", "net listen failed")
		return err
	}

	listenAddr := l.Addr().String()
	log.Infow("startup", "status", "chunkserver rpc server started", "address", listenAddr)
	defer log.Infow("shutdown", "status", "chunkserver rpc server stopped", "address", listenAddr)

	go srv.Serve(ctx, l)

	heartbeat := chunkserver.NewHeartbeatService(chunkServer, cfg.Master.Addr, listenAddr, cfg.Heartbeat.Interval)
	if err := heartbeat.Register(ctx); err != nil {
		log.Errorw("startup", "error", "failed to register with master", "master", cfg.Master.Addr)
		return err
	}

	go heartbeat.Start(ctx)

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	<-shutdown
	log.Infow("shutdown", "status", "chunkserver rpc server stopping", "address", listenAddr)

	return nil
}
