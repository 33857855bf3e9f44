package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pyropy/gfs/core/constants"
	"github.com/pyropy/gfs/core/model"
	"github.com/pyropy/gfs/lib/checksum"
	"github.com/pyropy/gfs/lib/logger"
	"github.com/pyropy/gfs/lib/transport"
	"github.com/pyropy/gfs/rpc/chunkserver"
	"github.com/pyropy/gfs/rpc/master"
)

var log, _ = logger.New("client")

var (
	ErrSpansChunks        = errors.New("write spans more than one chunk")
	ErrNoReplicaAccepted  = errors.New("no replica accepted the write")
	ErrNoReplicaReachable = errors.New("no replica could serve the read")
	ErrUnknownAddress     = errors.New("chunk server address unknown")
)

const callTimeout = 30 * time.Second

type Options struct {
	MasterAddr     string
	ChunkSizeBytes int
	CacheSize      int
	CacheTTL       time.Duration
}

func OptionsFromConfig(cfg *Config) Options {
	return Options{
		MasterAddr:     cfg.Master.Addr,
		ChunkSizeBytes: cfg.Chunks.SizeBytes,
		CacheSize:      cfg.Cache.Size,
		CacheTTL:       cfg.Cache.TTL,
	}
}

type Client struct {
	masterAddr string
	chunkSize  int
	locations  *LocationCache
	now        func() time.Time
}

type FileInfo struct {
	Path      string
	Length    int
	NumChunks int
}

func NewClient(opts Options) *Client {
	if opts.ChunkSizeBytes <= 0 {
		opts.ChunkSizeBytes = constants.CHUNK_SIZE_BYTES
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = 1024
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = constants.CACHE_TTL
	}

	return &Client{
		masterAddr: opts.MasterAddr,
		chunkSize:  opts.ChunkSizeBytes,
		locations:  NewLocationCache(opts.CacheSize, opts.CacheTTL),
		now:        time.Now,
	}
}

func (c *Client) callMaster(ctx context.Context, method string, args any, reply any) error {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	err := transport.Call(ctx, c.masterAddr, master.ServiceName+"."+method, args, reply)
	return model.FromRPC(err)
}

func callChunkServer(ctx context.Context, addr string, method string, args any, reply any) error {
	if addr == "" {
		return ErrUnknownAddress
	}

	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	return transport.Call(ctx, addr, chunkserver.ServiceName+"."+method, args, reply)
}

func (c *Client) Create(ctx context.Context, path string) error {
	return c.callMaster(ctx, "CreateFile", &master.CreateFileArgs{Path: path}, &master.CreateFileReply{})
}

func (c *Client) GetFileInfo(ctx context.Context, path string) (FileInfo, error) {
	var reply master.GetFileInfoReply
	if err := c.callMaster(ctx, "GetFileInfo", &master.GetFileInfoArgs{Path: path}, &reply); err != nil {
		return FileInfo{}, err
	}

	return FileInfo{Path: path, Length: reply.Length, NumChunks: reply.NumChunks}, nil
}

func (c *Client) List(ctx context.Context, prefix string) ([]string, error) {
	var reply master.ListReply
	if err := c.callMaster(ctx, "List", &master.ListArgs{Prefix: prefix}, &reply); err != nil {
		return nil, err
	}

	return reply.Paths, nil
}

func (c *Client) updateFileLength(ctx context.Context, path string, length int) error {
	args := &master.UpdateFileLengthArgs{Path: path, Length: length}
	return c.callMaster(ctx, "UpdateFileLength", args, &master.UpdateFileLengthReply{})
}

// locate resolves the chunk at index of path, from the cache when possible.
func (c *Client) locate(ctx context.Context, path string, index int, allocate bool) (master.ChunkLocations, error) {
	if locations, cached := c.locations.Get(path, index); cached {
		return locations, nil
	}

	args := &master.GetChunkLocationsArgs{Path: path, Index: index, AllocateIfMissing: allocate}
	var reply master.GetChunkLocationsReply
	if err := c.callMaster(ctx, "GetChunkLocations", args, &reply); err != nil {
		return master.ChunkLocations{}, err
	}

	c.locations.Put(path, reply.Locations)
	return reply.Locations, nil
}

// Write stores data at offset of path. The range must fall inside one chunk.
// Data is pushed to every replica, the write succeeds when at least one
// replica accepted it.
func (c *Client) Write(ctx context.Context, path string, data []byte, offset int) (int, error) {
	return c.write(ctx, path, data, offset, false)
}

func (c *Client) write(ctx context.Context, path string, data []byte, offset int, truncate bool) (int, error) {
	if offset < 0 {
		return 0, fmt.Errorf("write %s at %d: invalid offset", path, offset)
	}

	index := offset / c.chunkSize
	chunkOffset := offset % c.chunkSize
	if chunkOffset+len(data) > c.chunkSize {
		return 0, fmt.Errorf("write %d bytes at %d: %w", len(data), offset, ErrSpansChunks)
	}

	locations, err := c.locate(ctx, path, index, true)
	if err != nil {
		return 0, err
	}

	args := &chunkserver.WriteArgs{
		Handle:   locations.Handle,
		Data:     data,
		CheckSum: checksum.CalculateCheckSum(data),
		Offset:   chunkOffset,
		Version:  locations.Version,
		Truncate: truncate,
	}

	log.Infow("write", "path", path, "handle", locations.Handle, "offset", offset, "length", len(data), "replicas", len(locations.Replicas))

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
	)

	for _, replica := range locations.Replicas {
		wg.Add(1)
		go func(replica master.Replica) {
			defer wg.Done()

			var reply chunkserver.WriteReply
			if err := callChunkServer(ctx, replica.Address, "Write", args, &reply); err != nil {
				log.Warnw("write", "status", "replica failed", "chunkServerID", replica.ID, "address", replica.Address, "error", err)
				return
			}

			mu.Lock()
			accepted++
			mu.Unlock()
		}(replica)
	}

	wg.Wait()

	if accepted == 0 {
		return 0, fmt.Errorf("write %s chunk %s: %w", path, locations.Handle, ErrNoReplicaAccepted)
	}

	if err := c.updateFileLength(ctx, path, offset+len(data)); err != nil {
		return len(data), err
	}

	return len(data), nil
}

// Append writes data at the current end of path and returns the offset it was
// written at. The write cuts the chunk at its own end.
//
// Concurrent appenders may read the same length. Each replica then keeps
// whichever of the racing appends reached it last, whole, and the others are
// lost. Replicas may disagree on which append survived and the file length
// at the master may cover the lost bytes. AppendCoordinated does not have
// that race.
func (c *Client) Append(ctx context.Context, path string, data []byte) (int, error) {
	info, err := c.GetFileInfo(ctx, path)
	if err != nil {
		return 0, err
	}

	if _, err := c.write(ctx, path, data, info.Length, true); err != nil {
		return 0, err
	}

	return info.Length, nil
}

// Read returns up to length bytes of path starting at offset, never crossing
// the end of the chunk holding offset. A negative length reads to the end of
// that chunk. Replicas are tried in order, the first answer wins.
func (c *Client) Read(ctx context.Context, path string, offset, length int) ([]byte, error) {
	if offset < 0 {
		return nil, fmt.Errorf("read %s at %d: invalid offset", path, offset)
	}

	index := offset / c.chunkSize
	chunkOffset := offset % c.chunkSize

	locations, err := c.locate(ctx, path, index, false)
	if err != nil {
		return nil, err
	}

	args := &chunkserver.ReadArgs{Handle: locations.Handle}
	answered := false
	for _, replica := range locations.Replicas {
		var reply chunkserver.ReadReply
		if err := callChunkServer(ctx, replica.Address, "Read", args, &reply); err != nil {
			log.Warnw("read", "status", "replica failed", "chunkServerID", replica.ID, "address", replica.Address, "error", err)
			continue
		}

		answered = true
		if !reply.Found {
			continue
		}

		return sliceChunk(reply.Data, chunkOffset, length), nil
	}

	if !answered {
		return nil, fmt.Errorf("read %s chunk %s: %w", path, locations.Handle, ErrNoReplicaReachable)
	}

	return []byte{}, nil
}

func sliceChunk(data []byte, offset, length int) []byte {
	if offset >= len(data) {
		return []byte{}
	}

	end := len(data)
	if length >= 0 && offset+length < end {
		end = offset + length
	}

	return data[offset:end]
}
