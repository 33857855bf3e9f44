package main

import (
	"os"

	"github.com/pyropy/gfs/core/client"
	"github.com/pyropy/gfs/lib/logger"
	"github.com/urfave/cli/v2"
)

var log, _ = logger.New("client")

func main() {
	cfg, err := client.GetConfig()
	if err != nil {
		log.Fatalw("startup", "error", err)
	}

	app := &cli.App{
		Name:  "gfs",
		Usage: "talk to a gfs cluster",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "master-addr",
				Value: cfg.Master.Addr,
				Usage: "Address of the master rpc server",
			},
			&cli.IntFlag{
				Name:  "chunk-size",
				Value: cfg.Chunks.SizeBytes,
				Usage: "Chunk size in bytes, must match the cluster",
			},
		},
		Before: func(ctx *cli.Context) error {
			opts := client.OptionsFromConfig(cfg)
			opts.MasterAddr = ctx.String("master-addr")
			opts.ChunkSizeBytes = ctx.Int("chunk-size")
			ctx.App.Metadata["client"] = client.NewClient(opts)
			return nil
		},
		Commands: []*cli.Command{
			createCmd,
			writeCmd,
			appendCmd,
			readCmd,
			infoCmd,
			listCmd,
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalw("command failed", "error", err)
	}
}
