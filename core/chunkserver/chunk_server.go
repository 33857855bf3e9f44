package chunkserver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pyropy/gfs/core/constants"
	"github.com/pyropy/gfs/core/model"
	"github.com/pyropy/gfs/lib/cache"
	"github.com/pyropy/gfs/lib/checksum"
	"github.com/pyropy/gfs/lib/logger"
)

var log, _ = logger.New("chunk-server")

var (
	ErrChunkDoesNotExist   = errors.New("chunk does not exist")
	ErrChunkOverflow       = errors.New("write exceeds chunk size")
	ErrInvalidOffset       = errors.New("invalid offset")
	ErrChecksumNotMatching = errors.New("given checksum does not match calculated checksum")
)

const mutationQueueSize = 128

type WriteResult struct {
	BytesWritten int
	Version      int
	Length       int
}

type AppendResult struct {
	Offset       int
	BytesWritten int
	Version      int
	Duplicate    bool
}

type ChunkServer struct {
	*ChunkService

	store *MetadataStore
	queue *MutationQueue
	txns  *TxnStore

	// processed is only touched by the mutation worker
	processed *cache.LRU[uuid.UUID, AppendResult]

	chunkSize int
	blockSize int
	now       func() time.Time

	mu sync.RWMutex
	id uuid.UUID
}

type Options struct {
	Root           string
	ChunkSizeBytes int
	BlockSizeBytes int
	TxnTimeout     time.Duration
	Now            func() time.Time
}

func OptionsFromConfig(cfg *Config) Options {
	return Options{
		Root:           cfg.Chunks.Path,
		ChunkSizeBytes: cfg.Chunks.SizeBytes,
		BlockSizeBytes: cfg.Chunks.BlockSizeBytes,
		TxnTimeout:     cfg.Txn.Timeout,
	}
}

// NewChunkServer restores local chunks from store. Mutations are not applied
// until Start runs.
func NewChunkServer(ctx context.Context, opts Options, store *MetadataStore) (*ChunkServer, error) {
	chunkService, err := NewChunkService(opts.Root)
	if err != nil {
		return nil, err
	}

	if opts.ChunkSizeBytes <= 0 {
		opts.ChunkSizeBytes = constants.CHUNK_SIZE_BYTES
	}
	if opts.BlockSizeBytes <= 0 || opts.BlockSizeBytes > opts.ChunkSizeBytes {
		opts.BlockSizeBytes = opts.ChunkSizeBytes
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	txnTimeout := opts.TxnTimeout
	if txnTimeout <= 0 {
		txnTimeout = constants.TRANSACTION_TIMEOUT
	}

	processed := cache.NewLRU[uuid.UUID, AppendResult](constants.PROCESSED_REQUESTS_WINDOW, 2*txnTimeout)
	processed.SetClock(opts.Now)

	c := &ChunkServer{
		ChunkService: chunkService,
		store:        store,
		queue:        NewMutationQueue(mutationQueueSize),
		txns:         NewTxnStore(txnTimeout, opts.Now),
		processed:    processed,
		chunkSize:    opts.ChunkSizeBytes,
		blockSize:    opts.BlockSizeBytes,
		now:          opts.Now,
	}

	chunks, err := store.LoadChunks(ctx)
	if err != nil {
		return nil, fmt.Errorf("load chunk metadata: %w", err)
	}

	for _, chunk := range chunks {
		c.AddChunk(chunk)
	}

	id, err := store.LoadServerID(ctx)
	if err != nil {
		return nil, fmt.Errorf("load server id: %w", err)
	}
	c.id = id

	log.Infow("startup", "status", "chunk metadata loaded", "chunks", len(chunks), "chunkServerID", id)
	return c, nil
}

// Start runs the mutation worker in the background until ctx is done.
func (c *ChunkServer) Start(ctx context.Context) {
	go c.queue.Start(ctx)
}

func (c *ChunkServer) ID() uuid.UUID {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.id
}

func (c *ChunkServer) setID(ctx context.Context, id uuid.UUID) error {
	c.mu.Lock()
	c.id = id
	c.mu.Unlock()

	return c.store.SaveServerID(ctx, id)
}

// nextVersion is the version a chunk takes after a write. A fresh chunk takes
// the given version, at least 1.
func nextVersion(chunk model.Chunk, exists bool, given int) int {
	if !exists {
		return max(given, constants.INITIAL_CHUNK_VERSION)
	}

	return max(chunk.Version+1, given)
}

// CreateChunk creates an empty chunk. Creating an existing chunk is a no-op
// that returns the local version.
func (c *ChunkServer) CreateChunk(ctx context.Context, handle model.ChunkHandle, version int) (int, error) {
	return submit(ctx, c.queue, func() (int, error) {
		if chunk, exists := c.GetChunk(handle); exists {
			return chunk.Version, nil
		}

		if err := c.CreateChunkFile(handle); err != nil {
			return 0, err
		}

		chunk := model.Chunk{
			Handle:  handle,
			Version: max(version, constants.INITIAL_CHUNK_VERSION),
		}

		if err := c.store.SaveChunk(ctx, chunk); err != nil {
			return 0, err
		}

		c.AddChunk(chunk)
		return chunk.Version, nil
	})
}

// Write stores data at offset, creating the chunk if it does not exist.
func (c *ChunkServer) Write(ctx context.Context, handle model.ChunkHandle, data []byte, sum int, offset int, version int) (WriteResult, error) {
	return c.write(ctx, handle, data, sum, offset, version, false)
}

// WriteAndTruncate stores data at offset and cuts the chunk at the end of data.
func (c *ChunkServer) WriteAndTruncate(ctx context.Context, handle model.ChunkHandle, data []byte, sum int, offset int, version int) (WriteResult, error) {
	return c.write(ctx, handle, data, sum, offset, version, true)
}

func (c *ChunkServer) write(ctx context.Context, handle model.ChunkHandle, data []byte, sum int, offset int, version int, truncate bool) (WriteResult, error) {
	if !checksum.Verify(data, sum) {
		return WriteResult{}, ErrChecksumNotMatching
	}

	if offset < 0 {
		return WriteResult{}, ErrInvalidOffset
	}

	if offset+len(data) > c.chunkSize {
		return WriteResult{}, fmt.Errorf("write %d bytes at %d: %w", len(data), offset, ErrChunkOverflow)
	}

	return submit(ctx, c.queue, func() (WriteResult, error) {
		chunk, exists := c.GetChunk(handle)

		bytesWritten, err := c.WriteChunkBytes(handle, data, offset)
		if err != nil {
			return WriteResult{}, err
		}

		length := max(chunk.Length, offset+bytesWritten)
		if truncate {
			length = offset + bytesWritten
			if err := c.TruncateChunk(handle, length); err != nil {
				return WriteResult{}, err
			}
		}

		chunk = model.Chunk{
			Handle:  handle,
			Version: nextVersion(chunk, exists, version),
			Length:  length,
		}

		if err := c.store.SaveChunk(ctx, chunk); err != nil {
			return WriteResult{}, err
		}

		c.AddChunk(chunk)
		return WriteResult{BytesWritten: bytesWritten, Version: chunk.Version, Length: chunk.Length}, nil
	})
}

// Append adds data at the end of the chunk. A repeated requestID returns the
// result of the first append and changes nothing.
func (c *ChunkServer) Append(ctx context.Context, requestID uuid.UUID, handle model.ChunkHandle, data []byte, sum int, version int) (AppendResult, error) {
	if !checksum.Verify(data, sum) {
		return AppendResult{}, ErrChecksumNotMatching
	}

	return submit(ctx, c.queue, func() (AppendResult, error) {
		if prior, seen := c.processed.Get(requestID); seen {
			prior.Duplicate = true
			return prior, nil
		}

		chunk, exists := c.GetChunk(handle)
		offset := chunk.Length
		if offset+len(data) > c.chunkSize {
			return AppendResult{}, fmt.Errorf("append %d bytes at %d: %w", len(data), offset, ErrChunkOverflow)
		}

		bytesWritten, err := c.WriteChunkBytes(handle, data, offset)
		if err != nil {
			return AppendResult{}, err
		}

		chunk = model.Chunk{
			Handle:  handle,
			Version: nextVersion(chunk, exists, version),
			Length:  offset + bytesWritten,
		}

		if err := c.store.SaveChunk(ctx, chunk); err != nil {
			return AppendResult{}, err
		}

		c.AddChunk(chunk)

		result := AppendResult{Offset: offset, BytesWritten: bytesWritten, Version: chunk.Version}
		c.processed.Put(requestID, result)
		return result, nil
	})
}

// Read returns the logical content of a chunk. It does not wait for queued
// mutations and may observe one that is being applied.
func (c *ChunkServer) Read(handle model.ChunkHandle) ([]byte, int, bool, error) {
	chunk, exists := c.GetChunk(handle)
	if !exists {
		return []byte{}, 0, false, nil
	}

	data, err := c.ReadChunk(handle)
	if err != nil {
		return nil, 0, true, err
	}

	return data, chunk.Version, true, nil
}

// Close releases the local metadata store.
func (c *ChunkServer) Close() error {
	return c.store.Close()
}
