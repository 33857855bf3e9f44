package master

import (
	"context"
	"errors"
	"time"

	"github.com/pyropy/gfs/core/model"
	"github.com/pyropy/gfs/lib/transport"
	chunkServerRPC "github.com/pyropy/gfs/rpc/chunkserver"
)

var errUnknownAddress = errors.New("chunk server address unknown")

const chunkServerCallTimeout = 10 * time.Second

func createNewChunk(ctx context.Context, addr string, handle model.ChunkHandle, version int) error {
	args := chunkServerRPC.CreateChunkArgs{
		Handle:  handle,
		Version: version,
	}

	reply := chunkServerRPC.CreateChunkReply{}
	return callChunkServerRPC(ctx, addr, chunkServerRPC.ServiceName+".CreateChunk", &args, &reply)
}

func callChunkServerRPC(ctx context.Context, addr string, method string, args any, reply any) error {
	if addr == "" {
		return errUnknownAddress
	}

	ctx, cancel := context.WithTimeout(ctx, chunkServerCallTimeout)
	defer cancel()

	err := transport.Call(ctx, addr, method, args, reply)
	if err != nil {
		log.Infow("error", "address", addr, "method", method, "error", err)
		return err
	}

	return nil
}
