package chunkserver

import (
	"context"
	"time"

	"github.com/pyropy/gfs/core/constants"
	"github.com/pyropy/gfs/lib/transport"
	"github.com/pyropy/gfs/rpc/master"
	"github.com/shirou/gopsutil/v3/disk"
)

const masterCallTimeout = 5 * time.Second

// HeartbeatService registers the chunk server with the master and reports its
// chunk inventory every interval.
type HeartbeatService struct {
	masterAddr  string
	addr        string
	interval    time.Duration
	chunkServer *ChunkServer
}

func NewHeartbeatService(chunkServer *ChunkServer, masterAddr, addr string, interval time.Duration) *HeartbeatService {
	if interval <= 0 {
		interval = constants.HEARTBEAT_INTERVAL
	}

	return &HeartbeatService{
		masterAddr:  masterAddr,
		addr:        addr,
		interval:    interval,
		chunkServer: chunkServer,
	}
}

// Register asks the master for an id, presenting the previously assigned one if any.
func (h *HeartbeatService) Register(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, masterCallTimeout)
	defer cancel()

	args := &master.RegisterArgs{
		Address:    h.addr,
		PreviousID: h.chunkServer.ID(),
	}

	var reply master.RegisterReply
	err := transport.Call(ctx, h.masterAddr, master.ServiceName+".RegisterChunkServer", args, &reply)
	if err != nil {
		return err
	}

	log.Infow("register", "status", "registered with master", "chunkServerID", reply.ID, "previousID", args.PreviousID)
	return h.chunkServer.setID(ctx, reply.ID)
}

// Start reports to the master every interval until ctx is done. Failed
// reports are logged and retried on the next tick.
func (h *HeartbeatService) Start(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := h.Report(ctx); err != nil {
				log.Warnw("heartbeat", "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (h *HeartbeatService) Report(ctx context.Context) error {
	chunks := h.chunkServer.GetAllChunks()
	chunkReport := make([]master.Chunk, 0, len(chunks))
	for _, chunk := range chunks {
		chunkReport = append(chunkReport, master.Chunk{
			Handle:  chunk.Handle,
			Version: chunk.Version,
			Length:  chunk.Length,
		})
	}

	args := &master.HeartbeatArgs{
		ChunkServerID: h.chunkServer.ID(),
		Address:       h.addr,
		Chunks:        chunkReport,
		DiskFree:      h.diskFree(),
	}

	callCtx, cancel := context.WithTimeout(ctx, masterCallTimeout)
	defer cancel()

	var reply master.HeartbeatReply
	err := transport.Call(callCtx, h.masterAddr, master.ServiceName+".Heartbeat", args, &reply)
	if err != nil {
		return err
	}

	if reply.ReRegister {
		log.Infow("heartbeat", "status", "master asked to register again", "chunkServerID", args.ChunkServerID)
		return h.Register(ctx)
	}

	return nil
}

func (h *HeartbeatService) diskFree() uint64 {
	usage, err := disk.Usage(h.chunkServer.root)
	if err != nil {
		log.Debugw("heartbeat", "error", err)
		return 0
	}

	return usage.Free
}
