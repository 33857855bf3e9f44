package master

import (
	"math/rand"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/pyropy/gfs/core/model"
	"github.com/pyropy/gfs/lib/utils"
)

type ChunkServerMetadata struct {
	ID            uuid.UUID
	Address       string
	LastHeartbeat time.Time
	Chunks        []model.Chunk
	DiskFree      uint64
}

// ChunkServerMetadataStore is the registry of live chunk servers. It is not
// synchronized, callers hold Master.mu.
type ChunkServerMetadataStore struct {
	ChunkServers map[uuid.UUID]*ChunkServerMetadata

	// addresses outlives eviction so placements of evicted replicas keep an address
	addresses map[uuid.UUID]string
}

func NewChunkServerMetadataStore() *ChunkServerMetadataStore {
	return &ChunkServerMetadataStore{
		ChunkServers: map[uuid.UUID]*ChunkServerMetadata{},
		addresses:    map[uuid.UUID]string{},
	}
}

func (m *ChunkServerMetadataStore) RegisterChunkServer(id uuid.UUID, addr string, now time.Time) *ChunkServerMetadata {
	chunkServerMetadata := &ChunkServerMetadata{
		ID:            id,
		Address:       addr,
		LastHeartbeat: now,
		Chunks:        []model.Chunk{},
	}

	m.ChunkServers[id] = chunkServerMetadata
	m.addresses[id] = addr
	return chunkServerMetadata
}

func (m *ChunkServerMetadataStore) GetChunkServerMetadata(id uuid.UUID) (*ChunkServerMetadata, bool) {
	cs, exists := m.ChunkServers[id]
	return cs, exists
}

func (m *ChunkServerMetadataStore) IsLive(id uuid.UUID) bool {
	_, exists := m.ChunkServers[id]
	return exists
}

// Address returns the last known address of a chunk server, live or not.
func (m *ChunkServerMetadataStore) Address(id uuid.UUID) string {
	return m.addresses[id]
}

func (m *ChunkServerMetadataStore) Remove(id uuid.UUID) {
	delete(m.ChunkServers, id)
}

// GetAllActiveChunkServers returns the live chunk servers ordered by id.
func (m *ChunkServerMetadataStore) GetAllActiveChunkServers() []ChunkServerMetadata {
	chunkServerList := make([]ChunkServerMetadata, 0, len(m.ChunkServers))
	for _, cs := range m.ChunkServers {
		chunkServerList = append(chunkServerList, *cs)
	}

	sort.Slice(chunkServerList, func(i, j int) bool {
		return chunkServerList[i].ID.String() < chunkServerList[j].ID.String()
	})

	return chunkServerList
}

// SelectChunkServers picks num distinct live chunk servers uniformly at random.
// It returns fewer than num servers when not enough are live.
func (m *ChunkServerMetadataStore) SelectChunkServers(num int, excludedChunkServers []uuid.UUID) []ChunkServerMetadata {
	candidates := utils.Filter(m.GetAllActiveChunkServers(), func(cs ChunkServerMetadata) bool {
		return !utils.Contains(excludedChunkServers, cs.ID)
	})

	rand.Shuffle(len(candidates), func(i, j int) {
		candidates[i], candidates[j] = candidates[j], candidates[i]
	})

	if len(candidates) > num {
		return candidates[:num]
	}

	return candidates
}

// FindStale returns the chunk servers whose last heartbeat is before cutoff.
func (m *ChunkServerMetadataStore) FindStale(cutoff time.Time) []uuid.UUID {
	stale := make([]uuid.UUID, 0)
	for id, cs := range m.ChunkServers {
		if cs.LastHeartbeat.Before(cutoff) {
			stale = append(stale, id)
		}
	}

	return stale
}
