package master

import (
	"time"

	"github.com/google/uuid"
	"github.com/pyropy/gfs/core/model"
)

// ServiceName is the name the master api is registered under.
const ServiceName = "MasterAPI"

type Master interface {
	// RegisterChunkServer ...
	RegisterChunkServer(args *RegisterArgs, reply *RegisterReply) error
	// Heartbeat ...
	Heartbeat(args *HeartbeatArgs, reply *HeartbeatReply) error
	// CreateFile ...
	CreateFile(args *CreateFileArgs, reply *CreateFileReply) error
	// AllocateChunk ...
	AllocateChunk(args *AllocateChunkArgs, reply *AllocateChunkReply) error
	// GetChunkLocations ...
	GetChunkLocations(args *GetChunkLocationsArgs, reply *GetChunkLocationsReply) error
	// GetLastChunk ...
	GetLastChunk(args *GetLastChunkArgs, reply *GetLastChunkReply) error
	// GetFileInfo ...
	GetFileInfo(args *GetFileInfoArgs, reply *GetFileInfoReply) error
	// UpdateFileLength ...
	UpdateFileLength(args *UpdateFileLengthArgs, reply *UpdateFileLengthReply) error
	// List ...
	List(args *ListArgs, reply *ListReply) error
}

type Replica struct {
	ID      uuid.UUID
	Address string // empty when the master never learned the address
}

type ChunkLocations struct {
	Handle      model.ChunkHandle
	Index       int
	Version     int
	Primary     uuid.UUID
	Replicas    []Replica
	LeaseExpiry time.Time
}

// PrimaryAddress returns the address of the primary replica, if known.
func (l ChunkLocations) PrimaryAddress() string {
	for _, r := range l.Replicas {
		if r.ID == l.Primary {
			return r.Address
		}
	}

	return ""
}

type RegisterArgs struct {
	Address    string
	PreviousID uuid.UUID // id held before a master restart or eviction
}

type RegisterReply struct {
	ID uuid.UUID
}

type Chunk struct {
	Handle  model.ChunkHandle
	Version int
	Length  int
}

type HeartbeatArgs struct {
	ChunkServerID uuid.UUID
	Address       string
	Chunks        []Chunk
	DiskFree      uint64
}

type HeartbeatReply struct {
	ReRegister bool
}

type CreateFileArgs struct {
	Path string
}

type CreateFileReply struct {
}

type AllocateChunkArgs struct {
	Path  string
	Index int
}

type AllocateChunkReply struct {
	Locations ChunkLocations
}

type GetChunkLocationsArgs struct {
	Path              string
	Index             int
	AllocateIfMissing bool
}

type GetChunkLocationsReply struct {
	Locations ChunkLocations
}

type GetLastChunkArgs struct {
	Path string
}

type GetLastChunkReply struct {
	Locations ChunkLocations
}

type GetFileInfoArgs struct {
	Path string
}

type GetFileInfoReply struct {
	Length    int
	NumChunks int
}

type UpdateFileLengthArgs struct {
	Path   string
	Length int
}

type UpdateFileLengthReply struct {
	Length int
}

type ListArgs struct {
	Prefix string
}

type ListReply struct {
	Paths []string
}
