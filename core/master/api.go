package master

import (
	"context"
	"time"

	"github.com/pyropy/gfs/core/model"
	masterRPC "github.com/pyropy/gfs/rpc/master"
)

const apiCallTimeout = 30 * time.Second

// API exposes a Master over rpc under masterRPC.ServiceName.
type API struct {
	master *Master
}

var _ masterRPC.Master = (*API)(nil)

func NewAPI(m *Master) *API {
	return &API{master: m}
}

func (a *API) RegisterChunkServer(args *masterRPC.RegisterArgs, reply *masterRPC.RegisterReply) error {
	log.Infow("rpc", "event", "MasterAPI.RegisterChunkServer", "args", args)

	reply.ID = a.master.RegisterChunkServer(args.Address, args.PreviousID)
	return nil
}

func (a *API) Heartbeat(args *masterRPC.HeartbeatArgs, reply *masterRPC.HeartbeatReply) error {
	log.Debugw("rpc", "event", "MasterAPI.Heartbeat", "chunkServerID", args.ChunkServerID, "chunks", len(args.Chunks))

	ctx, cancel := context.WithTimeout(context.Background(), apiCallTimeout)
	defer cancel()

	chunks := make([]model.Chunk, 0, len(args.Chunks))
	for _, c := range args.Chunks {
		chunks = append(chunks, model.Chunk{Handle: c.Handle, Version: c.Version, Length: c.Length})
	}

	known, err := a.master.Heartbeat(ctx, args.ChunkServerID, args.Address, chunks, args.DiskFree)
	reply.ReRegister = !known
	return err
}

func (a *API) CreateFile(args *masterRPC.CreateFileArgs, reply *masterRPC.CreateFileReply) error {
	log.Infow("rpc", "event", "MasterAPI.CreateFile", "args", args)

	ctx, cancel := context.WithTimeout(context.Background(), apiCallTimeout)
	defer cancel()

	return a.master.CreateFile(ctx, args.Path)
}

func (a *API) AllocateChunk(args *masterRPC.AllocateChunkArgs, reply *masterRPC.AllocateChunkReply) error {
	log.Infow("rpc", "event", "MasterAPI.AllocateChunk", "args", args)

	ctx, cancel := context.WithTimeout(context.Background(), apiCallTimeout)
	defer cancel()

	locations, err := a.master.AllocateChunk(ctx, args.Path, args.Index)
	if err != nil {
		return err
	}

	reply.Locations = locations
	return nil
}

func (a *API) GetChunkLocations(args *masterRPC.GetChunkLocationsArgs, reply *masterRPC.GetChunkLocationsReply) error {
	log.Infow("rpc", "event", "MasterAPI.GetChunkLocations", "args", args)

	ctx, cancel := context.WithTimeout(context.Background(), apiCallTimeout)
	defer cancel()

	locations, err := a.master.GetChunkLocations(ctx, args.Path, args.Index, args.AllocateIfMissing)
	if err != nil {
		return err
	}

	reply.Locations = locations
	return nil
}

func (a *API) GetLastChunk(args *masterRPC.GetLastChunkArgs, reply *masterRPC.GetLastChunkReply) error {
	log.Infow("rpc", "event", "MasterAPI.GetLastChunk", "args", args)

	ctx, cancel := context.WithTimeout(context.Background(), apiCallTimeout)
	defer cancel()

	locations, err := a.master.GetLastChunk(ctx, args.Path)
	if err != nil {
		return err
	}

	reply.Locations = locations
	return nil
}

func (a *API) GetFileInfo(args *masterRPC.GetFileInfoArgs, reply *masterRPC.GetFileInfoReply) error {
	log.Infow("rpc", "event", "MasterAPI.GetFileInfo", "args", args)

	info, err := a.master.GetFileInfo(args.Path)
	if err != nil {
		return err
	}

	reply.Length = info.Length
	reply.NumChunks = len(info.Chunks)
	return nil
}

func (a *API) UpdateFileLength(args *masterRPC.UpdateFileLengthArgs, reply *masterRPC.UpdateFileLengthReply) error {
	log.Infow("rpc", "event", "MasterAPI.UpdateFileLength", "args", args)

	ctx, cancel := context.WithTimeout(context.Background(), apiCallTimeout)
	defer cancel()

	length, err := a.master.UpdateFileLength(ctx, args.Path, args.Length)
	if err != nil {
		return err
	}

	reply.Length = length
	return nil
}

func (a *API) List(args *masterRPC.ListArgs, reply *masterRPC.ListReply) error {
	log.Infow("rpc", "event", "MasterAPI.List", "args", args)

	reply.Paths = a.master.List(args.Prefix)
	return nil
}
