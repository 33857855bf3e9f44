package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/pyropy/gfs/core/client"
	"github.com/urfave/cli/v2"
)

func getClient(ctx *cli.Context) *client.Client {
	return ctx.App.Metadata["client"].(*client.Client)
}

// payload returns the --data flag, or the content of --file-path when set.
func payload(ctx *cli.Context) ([]byte, error) {
	if filePath := ctx.String("file-path"); filePath != "" {
		return os.ReadFile(filePath)
	}

	if !ctx.IsSet("data") {
		return nil, fmt.Errorf("one of --data or --file-path is required")
	}

	return []byte(ctx.String("data")), nil
}

var payloadFlags = []cli.Flag{
	&cli.StringFlag{
		Name:  "data",
		Usage: "Bytes to send",
	},
	&cli.StringFlag{
		Name:  "file-path",
		Usage: "Local file whose content is sent",
	},
}

var pathFlag = &cli.StringFlag{
	Name:     "path",
	Required: true,
	Usage:    "Path of the file on gfs",
}

var createCmd = &cli.Command{
	Name:  "create",
	Usage: "Create an empty file",
	Flags: []cli.Flag{pathFlag},
	Action: func(ctx *cli.Context) error {
		path := ctx.String("path")
		if err := getClient(ctx).Create(ctx.Context, path); err != nil {
			return err
		}

		log.Infow("create", "status", "file created", "path", path)
		return nil
	},
}

var writeCmd = &cli.Command{
	Name:  "write",
	Usage: "Write bytes at an offset",
	Flags: append([]cli.Flag{
		pathFlag,
		&cli.IntFlag{
			Name:  "offset",
			Usage: "File offset to write at",
		},
	}, payloadFlags...),
	Action: func(ctx *cli.Context) error {
		data, err := payload(ctx)
		if err != nil {
			return err
		}

		path, offset := ctx.String("path"), ctx.Int("offset")
		bw, err := getClient(ctx).Write(ctx.Context, path, data, offset)
		if err != nil {
			return err
		}

		log.Infow("write", "status", "bytes written", "path", path, "bytes", bw, "offset", offset)
		return nil
	},
}

var appendCmd = &cli.Command{
	Name:  "append",
	Usage: "Append bytes at the end of a file",
	Flags: append([]cli.Flag{
		pathFlag,
		&cli.BoolFlag{
			Name:  "coordinated",
			Usage: "Append with a two phase commit across replicas",
		},
	}, payloadFlags...),
	Action: func(ctx *cli.Context) error {
		data, err := payload(ctx)
		if err != nil {
			return err
		}

		c, path := getClient(ctx), ctx.String("path")

		var offset int
		if ctx.Bool("coordinated") {
			offset, err = c.AppendCoordinated(ctx.Context, path, data)
		} else {
			offset, err = c.Append(ctx.Context, path, data)
		}
		if err != nil {
			return err
		}

		log.Infow("append", "status", "bytes appended", "path", path, "bytes", len(data), "offset", offset)
		return nil
	},
}

var readCmd = &cli.Command{
	Name:  "read",
	Usage: "Read bytes of a file to stdout",
	Flags: []cli.Flag{
		pathFlag,
		&cli.IntFlag{
			Name:  "offset",
			Usage: "File offset to read from",
		},
		&cli.IntFlag{
			Name:  "length",
			Value: -1,
			Usage: "Number of bytes to read, -1 reads to the end of the chunk",
		},
	},
	Action: func(ctx *cli.Context) error {
		data, err := getClient(ctx).Read(ctx.Context, ctx.String("path"), ctx.Int("offset"), ctx.Int("length"))
		if err != nil {
			return err
		}

		_, err = os.Stdout.Write(data)
		return err
	},
}

var infoCmd = &cli.Command{
	Name:  "info",
	Usage: "Show length and chunk count of a file",
	Flags: []cli.Flag{pathFlag},
	Action: func(ctx *cli.Context) error {
		info, err := getClient(ctx).GetFileInfo(ctx.Context, ctx.String("path"))
		if err != nil {
			return err
		}

		fmt.Printf("path: %s\nlength: %d\nchunks: %d\n", info.Path, info.Length, info.NumChunks)
		return nil
	},
}

var listCmd = &cli.Command{
	Name:  "ls",
	Usage: "List files",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "prefix",
			Usage: "Only list paths starting with prefix",
		},
	},
	Action: func(ctx *cli.Context) error {
		c := getClient(ctx)

		paths, err := c.List(ctx.Context, ctx.String("prefix"))
		if err != nil {
			return err
		}

		table := tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"Path", "Length", "Chunks"})
		for _, path := range paths {
			info, err := c.GetFileInfo(ctx.Context, path)
			if err != nil {
				return err
			}

			table.Append([]string{path, strconv.Itoa(info.Length), strconv.Itoa(info.NumChunks)})
		}

		table.Render()
		return nil
	},
}
