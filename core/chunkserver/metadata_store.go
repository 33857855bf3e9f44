package chunkserver

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	ds "github.com/ipfs/go-datastore"
	"github.com/ipfs/go-datastore/query"
	dslvl "github.com/ipfs/go-ds-leveldb"
	"github.com/pyropy/gfs/core/model"
)

var (
	chunksPrefix = ds.NewKey("/chunks")
	serverIDKey  = ds.NewKey("/server/id")
)

// MetadataStore persists local chunk metadata and the id assigned by the master.
type MetadataStore struct {
	store *dslvl.Datastore
}

// NewMetadataStore opens the datastore at path, an empty path keeps it in memory.
func NewMetadataStore(path string) (*MetadataStore, error) {
	store, err := dslvl.NewDatastore(path, nil)
	if err != nil {
		return nil, err
	}

	return &MetadataStore{store: store}, nil
}

func chunkKey(handle model.ChunkHandle) ds.Key {
	return chunksPrefix.ChildString(handle.String())
}

func (s *MetadataStore) SaveChunk(ctx context.Context, chunk model.Chunk) error {
	b, err := json.Marshal(chunk)
	if err != nil {
		return err
	}

	return s.store.Put(ctx, chunkKey(chunk.Handle), b)
}

func (s *MetadataStore) LoadChunks(ctx context.Context) ([]model.Chunk, error) {
	results, err := s.store.Query(ctx, query.Query{Prefix: chunksPrefix.String()})
	if err != nil {
		return nil, err
	}

	entries, err := results.Rest()
	if err != nil {
		return nil, err
	}

	chunks := make([]model.Chunk, 0, len(entries))
	for _, entry := range entries {
		var chunk model.Chunk
		if err := json.Unmarshal(entry.Value, &chunk); err != nil {
			return nil, err
		}
		chunks = append(chunks, chunk)
	}

	return chunks, nil
}

func (s *MetadataStore) SaveServerID(ctx context.Context, id uuid.UUID) error {
	return s.store.Put(ctx, serverIDKey, []byte(id.String()))
}

// LoadServerID returns uuid.Nil when no id was saved yet.
func (s *MetadataStore) LoadServerID(ctx context.Context) (uuid.UUID, error) {
	b, err := s.store.Get(ctx, serverIDKey)
	if errors.Is(err, ds.ErrNotFound) {
		return uuid.Nil, nil
	}
	if err != nil {
		return uuid.Nil, err
	}

	return uuid.ParseBytes(b)
}

func (s *MetadataStore) Close() error {
	return s.store.Close()
}
