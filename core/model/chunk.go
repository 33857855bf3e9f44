package model

import (
	"strconv"

	"github.com/google/uuid"
)

// ChunkHandle names a chunk for its entire lifetime. Handles are never reused.
type ChunkHandle uint64

func (h ChunkHandle) String() string {
	return strconv.FormatUint(uint64(h), 10)
}

// Chunk is the chunk server side view of a chunk.
type Chunk struct {
	Handle  ChunkHandle
	Version int
	Length  int // logical length, bytes past it are padding
}

// ChunkMetadata is the master side view of a chunk.
type ChunkMetadata struct {
	Handle   ChunkHandle
	FilePath string
	Index    int
	Version  int
	Replicas []uuid.UUID
}

// Primary returns the first replica of the chunk.
func (c ChunkMetadata) Primary() (uuid.UUID, bool) {
	if len(c.Replicas) == 0 {
		return uuid.Nil, false
	}

	return c.Replicas[0], true
}
