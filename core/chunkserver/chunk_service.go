package chunkserver

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	fp "path/filepath"
	"sort"
	"sync"

	"github.com/pyropy/gfs/core/model"
)

// PaddingByte fills the physical chunk file past the logical length.
const PaddingByte = byte(0)

// ChunkService keeps chunk metadata in memory and chunk bytes in one file per handle.
// Only the mutation worker changes chunks, readers may run concurrently.
type ChunkService struct {
	mu     sync.RWMutex
	root   string
	Chunks map[model.ChunkHandle]model.Chunk
}

func NewChunkService(root string) (*ChunkService, error) {
	if err := os.MkdirAll(root, 0750); err != nil {
		return nil, err
	}

	return &ChunkService{
		root:   root,
		Chunks: map[model.ChunkHandle]model.Chunk{},
	}, nil
}

func GetChunkFilename(handle model.ChunkHandle) string {
	return fmt.Sprintf("%d.chunk", handle)
}

func (cs *ChunkService) GetChunkPath(handle model.ChunkHandle) string {
	return fp.Join(cs.root, GetChunkFilename(handle))
}

func (cs *ChunkService) AddChunk(chunk model.Chunk) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	cs.Chunks[chunk.Handle] = chunk
}

func (cs *ChunkService) GetChunk(handle model.ChunkHandle) (model.Chunk, bool) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()

	chunk, exists := cs.Chunks[handle]
	return chunk, exists
}

// GetAllChunks returns every local chunk ordered by handle.
func (cs *ChunkService) GetAllChunks() []model.Chunk {
	cs.mu.RLock()
	defer cs.mu.RUnlock()

	chunks := make([]model.Chunk, 0, len(cs.Chunks))
	for _, chunk := range cs.Chunks {
		chunks = append(chunks, chunk)
	}

	sort.Slice(chunks, func(i, j int) bool { return chunks[i].Handle < chunks[j].Handle })
	return chunks
}

// CreateChunkFile creates an empty file for handle if none exists.
func (cs *ChunkService) CreateChunkFile(handle model.ChunkHandle) error {
	f, err := os.OpenFile(cs.GetChunkPath(handle), os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return err
	}

	return f.Close()
}

func (cs *ChunkService) WriteChunkBytes(handle model.ChunkHandle, data []byte, offset int) (int, error) {
	f, err := os.OpenFile(cs.GetChunkPath(handle), os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return 0, err
	}

	defer f.Close()

	bytesWritten, err := f.WriteAt(data, int64(offset))
	if err != nil {
		return bytesWritten, err
	}

	return bytesWritten, f.Sync()
}

// PadChunk fills [from, to) of the chunk file with PaddingByte.
func (cs *ChunkService) PadChunk(handle model.ChunkHandle, from, to int) error {
	if to <= from {
		return nil
	}

	_, err := cs.WriteChunkBytes(handle, bytes.Repeat([]byte{PaddingByte}, to-from), from)
	return err
}

// TruncateChunk cuts the chunk file to size bytes.
func (cs *ChunkService) TruncateChunk(handle model.ChunkHandle, size int) error {
	f, err := os.OpenFile(cs.GetChunkPath(handle), os.O_RDWR, 0644)
	if err != nil {
		return err
	}

	defer f.Close()

	if err := f.Truncate(int64(size)); err != nil {
		return err
	}

	return f.Sync()
}

// ReadChunk returns the logical bytes of the chunk, padding excluded.
func (cs *ChunkService) ReadChunk(handle model.ChunkHandle) ([]byte, error) {
	chunk, exists := cs.GetChunk(handle)
	if !exists || chunk.Length == 0 {
		return []byte{}, nil
	}

	f, err := os.Open(cs.GetChunkPath(handle))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []byte{}, nil
		}
		return nil, err
	}

	defer f.Close()

	data := make([]byte, chunk.Length)
	n, err := io.ReadFull(f, data)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, err
	}

	return data[:n], nil
}
