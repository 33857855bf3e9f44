package master

import (
	"context"
	"encoding/json"
	"errors"

	ds "github.com/ipfs/go-datastore"
	dslvl "github.com/ipfs/go-ds-leveldb"
	"github.com/pyropy/gfs/core/model"
)

var snapshotKey = ds.NewKey("/master/snapshot")

// Snapshot is the durable part of the master state.
type Snapshot struct {
	Files      map[model.FilePath]model.FileMetadata
	Chunks     map[model.ChunkHandle]model.ChunkMetadata
	NextHandle model.ChunkHandle
}

// MetadataStore persists master snapshots in a leveldb datastore. Each save
// replaces the previous snapshot with a single synchronous put.
type MetadataStore struct {
	store *dslvl.Datastore
}

// NewMetadataStore opens the datastore at path, an empty path keeps it in memory.
func NewMetadataStore(path string) (*MetadataStore, error) {
	store, err := dslvl.NewDatastore(path, nil)
	if err != nil {
		return nil, err
	}

	return &MetadataStore{
		store: store,
	}, nil
}

func (s *MetadataStore) Save(ctx context.Context, snapshot Snapshot) error {
	b, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}

	return s.store.Put(ctx, snapshotKey, b)
}

// Load returns the last saved snapshot or nil when nothing was saved yet.
func (s *MetadataStore) Load(ctx context.Context) (*Snapshot, error) {
	b, err := s.store.Get(ctx, snapshotKey)
	if errors.Is(err, ds.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var snapshot Snapshot
	if err := json.Unmarshal(b, &snapshot); err != nil {
		return nil, err
	}

	return &snapshot, nil
}

func (s *MetadataStore) Close() error {
	return s.store.Close()
}
