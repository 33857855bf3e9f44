package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"syscall"

	masterCore "github.com/pyropy/gfs/core/master"
	"github.com/pyropy/gfs/lib/logger"
	"github.com/pyropy/gfs/lib/transport"
	masterRPC "github.com/pyropy/gfs/rpc/master"
)

var log, _ = logger.New("master")

func main() {
	if err := run(); err != nil {
		log.Fatalw("startup", "error", err)
	}
}

func run() error {
	cfg, err := masterCore.GetConfig()
	if err != nil {
		log.Errorw("startup", "error", "config error")
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := masterCore.NewMetadataStore(cfg.Storage.MetadataPath)
	if err != nil {
		log.Errorw("startup", "error", "failed to open metadata store", "path", cfg.Storage.MetadataPath)
		return err
	}

	oplog, err := masterCore.NewOpLog(cfg.Storage.OpLogPath)
	if err != nil {
		log.Errorw("startup", "error", "failed to open operation log", "path", cfg.Storage.OpLogPath)
		return err
	}

	opts := masterCore.OptionsFromConfig(cfg)
	opts.Store = store
	opts.OpLog = oplog

	master, err := masterCore.NewMaster(ctx, opts)
	if err != nil {
		return err
	}

	defer master.Close()

	srv := transport.NewServer()
	if err := srv.RegisterName(masterRPC.ServiceName, masterCore.NewAPI(master)); err != nil {
		return err
	}

	l, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		log.Errorw("startup", "error", "net listen failed")
		return err
	}

	addr := l.Addr().String()
	log.Infow("startup", "status", "master rpc server started", "address", addr)
	defer log.Infow("shutdown", "status", "master rpc server stopped", "address", addr)

	go srv.Serve(ctx, l)

	log.Infow("startup", "status", "starting failure detector", "interval", cfg.Heartbeat.Interval)
	go master.StartFailureDetector(ctx)

	log.Infow("startup", "status", "starting gc", "interval", cfg.GC.Interval)
	go master.StartGC(ctx, cfg.GC.Interval)

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	<-shutdown
	log.Infow("shutdown", "status", "master rpc server stopping", "address", addr)

	return nil
}
