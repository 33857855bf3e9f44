package master

import (
	"github.com/pyropy/gfs/core/model"
)

// ChunkMetadataStore holds the chunk index. It is not synchronized, callers hold Master.mu.
type ChunkMetadataStore struct {
	Chunks map[model.ChunkHandle]model.ChunkMetadata
}

func NewChunkMetadataStore() *ChunkMetadataStore {
	return &ChunkMetadataStore{
		Chunks: map[model.ChunkHandle]model.ChunkMetadata{},
	}
}

func (cs *ChunkMetadataStore) AddNewChunkMetadata(chunk model.ChunkMetadata) {
	cs.Chunks[chunk.Handle] = chunk
}

func (cs *ChunkMetadataStore) GetChunk(handle model.ChunkHandle) (model.ChunkMetadata, bool) {
	chunk, exists := cs.Chunks[handle]
	return chunk, exists
}

// UpdateChunkVersion raises the recorded version of a chunk to version.
// It reports whether the recorded version changed.
func (cs *ChunkMetadataStore) UpdateChunkVersion(handle model.ChunkHandle, version int) bool {
	chunk, exists := cs.Chunks[handle]
	if !exists || version <= chunk.Version {
		return false
	}

	chunk.Version = version
	cs.Chunks[handle] = chunk
	return true
}
