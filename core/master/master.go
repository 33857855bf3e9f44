package master

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pyropy/gfs/core/constants"
	"github.com/pyropy/gfs/core/model"
	"github.com/pyropy/gfs/lib/logger"
	masterRPC "github.com/pyropy/gfs/rpc/master"
	"go.uber.org/zap"
)

var log, _ = logger.New("master")

// ChunkCreator asks the chunk server at addr to create an empty chunk.
type ChunkCreator func(ctx context.Context, addr string, handle model.ChunkHandle, version int) error

// Master owns the namespace, the chunk index, the chunk server registry and
// leases. Every operation runs under mu, the master is a single coordination domain.
type Master struct {
	mu sync.Mutex

	files   *FileMetadataStore
	chunks  *ChunkMetadataStore
	servers *ChunkServerMetadataStore
	leases  *LeaseStore

	nextHandle model.ChunkHandle

	replicationFactor int
	leaseDuration     time.Duration
	heartbeatInterval time.Duration

	store *MetadataStore
	oplog *OpLog

	now         func() time.Time
	createChunk ChunkCreator
}

type Options struct {
	ReplicationFactor int
	LeaseDuration     time.Duration
	HeartbeatInterval time.Duration

	// Store and OpLog are optional, a master without a store keeps metadata in memory only.
	Store *MetadataStore
	OpLog *OpLog

	Now         func() time.Time
	CreateChunk ChunkCreator
}

func OptionsFromConfig(cfg *Config) Options {
	return Options{
		ReplicationFactor: cfg.Chunks.ReplicationFactor,
		LeaseDuration:     cfg.Lease.Duration,
		HeartbeatInterval: cfg.Heartbeat.Interval,
	}
}

// NewMaster builds a master and restores the last snapshot from opts.Store.
func NewMaster(ctx context.Context, opts Options) (*Master, error) {
	m := &Master{
		files:             NewFileMetadataStore(),
		chunks:            NewChunkMetadataStore(),
		servers:           NewChunkServerMetadataStore(),
		leases:            NewLeaseStore(),
		nextHandle:        constants.FIRST_CHUNK_HANDLE,
		replicationFactor: opts.ReplicationFactor,
		leaseDuration:     opts.LeaseDuration,
		heartbeatInterval: opts.HeartbeatInterval,
		store:             opts.Store,
		oplog:             opts.OpLog,
		now:               opts.Now,
		createChunk:       opts.CreateChunk,
	}

	if m.replicationFactor <= 0 {
		m.replicationFactor = constants.REPLICATION_FACTOR
	}
	if m.leaseDuration <= 0 {
		m.leaseDuration = constants.LEASE_DURATION
	}
	if m.heartbeatInterval <= 0 {
		m.heartbeatInterval = constants.HEARTBEAT_INTERVAL
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.createChunk == nil {
		m.createChunk = createNewChunk
	}

	if m.store == nil {
		return m, nil
	}

	snapshot, err := m.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load metadata: %w", err)
	}

	if snapshot != nil {
		m.restore(snapshot)
		log.Infow("metadata restored", "files", len(m.files.Files), "chunks", len(m.chunks.Chunks), "nextHandle", m.nextHandle)
	}

	return m, nil
}

func (m *Master) restore(snapshot *Snapshot) {
	for _, file := range snapshot.Files {
		if file.Chunks == nil {
			file.Chunks = map[int]model.ChunkHandle{}
		}
		m.files.AddNewFileMetadata(file)
	}

	for _, chunk := range snapshot.Chunks {
		m.chunks.AddNewChunkMetadata(chunk)
	}

	if snapshot.NextHandle > m.nextHandle {
		m.nextHandle = snapshot.NextHandle
	}
}

// persist writes the full snapshot. Callers hold mu.
func (m *Master) persist(ctx context.Context) error {
	if m.store == nil {
		return nil
	}

	snapshot := Snapshot{
		Files:      make(map[model.FilePath]model.FileMetadata, len(m.files.Files)),
		Chunks:     make(map[model.ChunkHandle]model.ChunkMetadata, len(m.chunks.Chunks)),
		NextHandle: m.nextHandle,
	}

	for path, file := range m.files.Files {
		snapshot.Files[path] = *file
	}

	for handle, chunk := range m.chunks.Chunks {
		snapshot.Chunks[handle] = chunk
	}

	if err := m.store.Save(ctx, snapshot); err != nil {
		log.Errorw("persist metadata", "error", err)
		return fmt.Errorf("persist metadata: %w", err)
	}

	return nil
}

// RegisterChunkServer admits a chunk server into the live pool. A server that
// presents a previous id gets it back unless another live server holds it.
func (m *Master) RegisterChunkServer(addr string, previousID uuid.UUID) uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := previousID
	if id == uuid.Nil {
		id = uuid.New()
	} else if cs, live := m.servers.GetChunkServerMetadata(id); live && cs.Address != addr {
		id = uuid.New()
	}

	m.servers.RegisterChunkServer(id, addr, m.now())
	m.oplog.Record("register", zap.String("chunkServerID", id.String()), zap.String("address", addr))
	log.Infow("chunk server registered", "chunkServerID", id, "address", addr)

	return id
}

// Heartbeat refreshes the liveness and inventory of a chunk server. It reports
// false when the server is unknown and must register again.
func (m *Master) Heartbeat(ctx context.Context, id uuid.UUID, addr string, chunks []model.Chunk, diskFree uint64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cs, exists := m.servers.GetChunkServerMetadata(id)
	if !exists {
		return false, nil
	}

	cs.LastHeartbeat = m.now()
	cs.Chunks = chunks
	cs.DiskFree = diskFree
	if addr != "" && addr != cs.Address {
		cs.Address = addr
		m.servers.addresses[id] = addr
	}

	changed := false
	for _, chunk := range chunks {
		if m.chunks.UpdateChunkVersion(chunk.Handle, chunk.Version) {
			changed = true
		}
	}

	if changed {
		return true, m.persist(ctx)
	}

	return true, nil
}

func (m *Master) CreateFile(ctx context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.files.CheckFileExists(path) {
		return fmt.Errorf("create %s: %w", path, model.ErrFileExists)
	}

	m.files.AddNewFileMetadata(model.NewFileMetadata(path, m.now()))
	m.oplog.Record("create", zap.String("path", path))

	return m.persist(ctx)
}

// AllocateChunk maps a new chunk at index of path onto replicationFactor distinct
// live servers and leases it to the first one. Allocating an index that is
// already mapped returns the existing chunk.
func (m *Master) AllocateChunk(ctx context.Context, path string, index int) (masterRPC.ChunkLocations, error) {
	m.mu.Lock()

	file, exists := m.files.Get(path)
	if !exists {
		m.mu.Unlock()
		return masterRPC.ChunkLocations{}, fmt.Errorf("allocate %s: %w", path, model.ErrFileNotFound)
	}

	if handle, mapped := file.Chunks[index]; mapped {
		defer m.mu.Unlock()
		return m.locationsLocked(handle)
	}

	selected := m.servers.SelectChunkServers(m.replicationFactor, nil)
	if len(selected) < m.replicationFactor {
		m.mu.Unlock()
		return masterRPC.ChunkLocations{}, fmt.Errorf("allocate %s[%d]: %w", path, index, model.ErrInsufficientReplicas)
	}

	replicas := make([]uuid.UUID, 0, len(selected))
	for _, cs := range selected {
		replicas = append(replicas, cs.ID)
	}

	handle := m.nextHandle
	m.nextHandle++

	chunk := model.ChunkMetadata{
		Handle:   handle,
		FilePath: path,
		Index:    index,
		Version:  constants.INITIAL_CHUNK_VERSION,
		Replicas: replicas,
	}

	m.chunks.AddNewChunkMetadata(chunk)
	file.Chunks[index] = handle
	lease := m.leases.GrantLease(handle, replicas[0], m.now(), m.leaseDuration)

	m.oplog.Record("allocate",
		zap.String("path", path),
		zap.Int("index", index),
		zap.Stringer("handle", handle),
		zap.Strings("replicas", replicaIDs(replicas)),
	)

	if err := m.persist(ctx); err != nil {
		m.mu.Unlock()
		return masterRPC.ChunkLocations{}, err
	}

	locations := m.toLocations(chunk, lease)
	m.mu.Unlock()

	for _, replica := range locations.Replicas {
		if err := m.createChunk(ctx, replica.Address, handle, chunk.Version); err != nil {
			log.Warnw("create chunk on replica", "handle", handle, "chunkServerID", replica.ID, "error", err)
		}
	}

	return locations, nil
}

// GetChunkLocations returns the replicas and primary of the chunk at index of path.
func (m *Master) GetChunkLocations(ctx context.Context, path string, index int, allocateIfMissing bool) (masterRPC.ChunkLocations, error) {
	m.mu.Lock()

	file, exists := m.files.Get(path)
	if !exists {
		m.mu.Unlock()
		return masterRPC.ChunkLocations{}, fmt.Errorf("locate %s: %w", path, model.ErrFileNotFound)
	}

	handle, mapped := file.Chunks[index]
	if !mapped {
		m.mu.Unlock()
		if allocateIfMissing {
			return m.AllocateChunk(ctx, path, index)
		}

		return masterRPC.ChunkLocations{}, fmt.Errorf("locate %s[%d]: %w", path, index, model.ErrChunkNotFound)
	}

	defer m.mu.Unlock()
	return m.locationsLocked(handle)
}

// GetLastChunk returns the highest indexed chunk of path, allocating index 0
// when the file has no chunks yet.
func (m *Master) GetLastChunk(ctx context.Context, path string) (masterRPC.ChunkLocations, error) {
	m.mu.Lock()
	file, exists := m.files.Get(path)
	if !exists {
		m.mu.Unlock()
		return masterRPC.ChunkLocations{}, fmt.Errorf("last chunk %s: %w", path, model.ErrFileNotFound)
	}

	index, found := file.LastChunkIndex()
	if found {
		defer m.mu.Unlock()
		return m.locationsLocked(file.Chunks[index])
	}
	m.mu.Unlock()

	return m.AllocateChunk(ctx, path, 0)
}

// locationsLocked resolves a chunk to its locations and reassigns the lease when
// it expired. Callers hold mu.
func (m *Master) locationsLocked(handle model.ChunkHandle) (masterRPC.ChunkLocations, error) {
	chunk, exists := m.chunks.GetChunk(handle)
	if !exists {
		return masterRPC.ChunkLocations{}, fmt.Errorf("chunk %s: %w", handle, model.ErrChunkNotFound)
	}

	now := m.now()
	lease, hasLease := m.leases.GetHolder(handle)
	if !m.leases.HaveLease(handle, now) {
		reassigned := false
		for _, replica := range chunk.Replicas {
			if m.servers.IsLive(replica) {
				lease = m.leases.GrantLease(handle, replica, now, m.leaseDuration)
				reassigned = true
				break
			}
		}

		if reassigned {
			m.oplog.Record("lease", zap.Stringer("handle", handle), zap.String("primary", lease.Primary.String()))
		} else {
			log.Warnw("no live replica for lease", "handle", handle, "primary", lease.Primary)
			if !hasLease {
				primary, _ := chunk.Primary()
				lease = model.Lease{Handle: handle, Primary: primary}
			}
		}
	}

	return m.toLocations(chunk, lease), nil
}

func replicaIDs(ids []uuid.UUID) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.String())
	}

	return out
}

func (m *Master) toLocations(chunk model.ChunkMetadata, lease model.Lease) masterRPC.ChunkLocations {
	replicas := make([]masterRPC.Replica, 0, len(chunk.Replicas))
	for _, id := range chunk.Replicas {
		replicas = append(replicas, masterRPC.Replica{
			ID:      id,
			Address: m.servers.Address(id),
		})
	}

	return masterRPC.ChunkLocations{
		Handle:      chunk.Handle,
		Index:       chunk.Index,
		Version:     chunk.Version,
		Primary:     lease.Primary,
		Replicas:    replicas,
		LeaseExpiry: lease.ValidUntil,
	}
}

func (m *Master) GetFileInfo(path string) (model.FileMetadata, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	file, exists := m.files.Get(path)
	if !exists {
		return model.FileMetadata{}, fmt.Errorf("file info %s: %w", path, model.ErrFileNotFound)
	}

	info := *file
	info.Chunks = make(map[int]model.ChunkHandle, len(file.Chunks))
	for index, handle := range file.Chunks {
		info.Chunks[index] = handle
	}

	return info, nil
}

// UpdateFileLength raises the recorded length of path to length. The length
// never decreases, the resulting length is returned.
func (m *Master) UpdateFileLength(ctx context.Context, path string, length int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	file, exists := m.files.Get(path)
	if !exists {
		return 0, fmt.Errorf("update length %s: %w", path, model.ErrFileNotFound)
	}

	if length <= file.Length {
		return file.Length, nil
	}

	file.Length = length
	m.oplog.Record("length", zap.String("path", path), zap.Int("length", length))

	return file.Length, m.persist(ctx)
}

func (m *Master) List(prefix string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.files.List(prefix)
}

// LiveChunkServers returns the ids of the chunk servers in the live pool.
func (m *Master) LiveChunkServers() []uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()

	live := m.servers.GetAllActiveChunkServers()
	ids := make([]uuid.UUID, 0, len(live))
	for _, cs := range live {
		ids = append(ids, cs.ID)
	}

	return ids
}

func (m *Master) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.oplog.Close(); err != nil {
		log.Warnw("close oplog", "error", err)
	}

	if m.store == nil {
		return nil
	}

	return m.store.Close()
}
