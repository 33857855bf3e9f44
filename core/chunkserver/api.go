package chunkserver

import (
	"context"
	"time"

	chunkServerRPC "github.com/pyropy/gfs/rpc/chunkserver"
)

const apiCallTimeout = 30 * time.Second

// API exposes a ChunkServer over rpc under chunkServerRPC.ServiceName.
type API struct {
	chunkServer *ChunkServer
}

var _ chunkServerRPC.IChunkServer = (*API)(nil)

func NewAPI(chunkServer *ChunkServer) *API {
	return &API{chunkServer: chunkServer}
}

// CreateChunk ...
func (a *API) CreateChunk(args *chunkServerRPC.CreateChunkArgs, reply *chunkServerRPC.CreateChunkReply) error {
	log.Infow("rpc", "event", "ChunkServerAPI.CreateChunk", "args", args)

	ctx, cancel := context.WithTimeout(context.Background(), apiCallTimeout)
	defer cancel()

	version, err := a.chunkServer.CreateChunk(ctx, args.Handle, args.Version)
	if err != nil {
		return err
	}

	reply.Version = version
	return nil
}

func (a *API) Write(args *chunkServerRPC.WriteArgs, reply *chunkServerRPC.WriteReply) error {
	log.Infow("rpc", "event", "ChunkServerAPI.Write", "handle", args.Handle, "offset", args.Offset, "length", len(args.Data), "version", args.Version, "truncate", args.Truncate)

	ctx, cancel := context.WithTimeout(context.Background(), apiCallTimeout)
	defer cancel()

	write := a.chunkServer.Write
	if args.Truncate {
		write = a.chunkServer.WriteAndTruncate
	}

	res, err := write(ctx, args.Handle, args.Data, args.CheckSum, args.Offset, args.Version)
	if err != nil {
		return err
	}

	reply.BytesWritten = res.BytesWritten
	reply.Version = res.Version
	reply.Length = res.Length
	return nil
}

func (a *API) Append(args *chunkServerRPC.AppendArgs, reply *chunkServerRPC.AppendReply) error {
	log.Infow("rpc", "event", "ChunkServerAPI.Append", "requestID", args.RequestID, "handle", args.Handle, "length", len(args.Data))

	ctx, cancel := context.WithTimeout(context.Background(), apiCallTimeout)
	defer cancel()

	res, err := a.chunkServer.Append(ctx, args.RequestID, args.Handle, args.Data, args.CheckSum, args.Version)
	if err != nil {
		return err
	}

	reply.Offset = res.Offset
	reply.BytesWritten = res.BytesWritten
	reply.Version = res.Version
	reply.Duplicate = res.Duplicate
	return nil
}

func (a *API) Read(args *chunkServerRPC.ReadArgs, reply *chunkServerRPC.ReadReply) error {
	log.Infow("rpc", "event", "ChunkServerAPI.Read", "args", args)

	data, version, found, err := a.chunkServer.Read(args.Handle)
	if err != nil {
		return err
	}

	reply.Data = data
	reply.Version = version
	reply.Found = found
	return nil
}

func (a *API) PrepareAppend(args *chunkServerRPC.PrepareAppendArgs, reply *chunkServerRPC.PrepareAppendReply) error {
	log.Infow("rpc", "event", "ChunkServerAPI.PrepareAppend", "txnID", args.TxnID, "handle", args.Handle, "length", len(args.Data))

	reply.Status, reply.Reason, reply.Offset = a.chunkServer.PrepareAppend(args.TxnID, args.Handle, args.Data, args.CheckSum, args.CreatedAt)
	return nil
}

func (a *API) CommitAppend(args *chunkServerRPC.CommitAppendArgs, reply *chunkServerRPC.CommitAppendReply) error {
	log.Infow("rpc", "event", "ChunkServerAPI.CommitAppend", "args", args)

	ctx, cancel := context.WithTimeout(context.Background(), apiCallTimeout)
	defer cancel()

	res, err := a.chunkServer.CommitAppend(ctx, args.TxnID)
	if err != nil {
		return err
	}

	reply.Status = res.Status
	reply.Reason = res.Reason
	reply.Offset = res.Offset
	reply.Length = res.Length
	return nil
}

func (a *API) AbortAppend(args *chunkServerRPC.AbortAppendArgs, reply *chunkServerRPC.AbortAppendReply) error {
	log.Infow("rpc", "event", "ChunkServerAPI.AbortAppend", "args", args)

	reply.Status = a.chunkServer.AbortAppend(args.TxnID)
	return nil
}
