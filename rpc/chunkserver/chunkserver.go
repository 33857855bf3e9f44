package chunkserver

import (
	"time"

	"github.com/google/uuid"
	"github.com/pyropy/gfs/core/model"
)

// ServiceName is the name the chunk server api is registered under.
const ServiceName = "ChunkServerAPI"

// Status is the outcome of an append transaction call.
type Status string

const (
	StatusReady     Status = "READY"
	StatusCommitted Status = "COMMITTED"
	StatusAborted   Status = "ABORTED"
	StatusAbort     Status = "ABORT"
)

// Reason explains an ABORT status.
type Reason string

const (
	ReasonAlreadyCommitted   Reason = "ALREADY_COMMITTED"
	ReasonTimeout            Reason = "TIMEOUT"
	ReasonInvalidChunk       Reason = "INVALID_CHUNK"
	ReasonInvalidTransaction Reason = "INVALID_TRANSACTION"
	ReasonChunkFull          Reason = "CHUNK_FULL"
	ReasonChecksumMismatch   Reason = "CHECKSUM_MISMATCH"
	// ReasonOffsetPending means an earlier reservation on the chunk has not
	// committed yet. The commit may be retried.
	ReasonOffsetPending  Reason = "OFFSET_PENDING"
	ReasonOffsetMismatch Reason = "OFFSET_MISMATCH"
)

type CreateChunkArgs struct {
	Handle  model.ChunkHandle
	Version int
}

type CreateChunkReply struct {
	Version int
}

type WriteArgs struct {
	Handle   model.ChunkHandle
	Data     []byte
	CheckSum int
	Offset   int
	Version  int
	// Truncate cuts the chunk at the end of this write.
	Truncate bool
}

type WriteReply struct {
	BytesWritten int
	Version      int
	Length       int
}

type AppendArgs struct {
	RequestID uuid.UUID
	Handle    model.ChunkHandle
	Data      []byte
	CheckSum  int
	Version   int
}

type AppendReply struct {
	Offset       int
	BytesWritten int
	Version      int
	Duplicate    bool
}

type ReadArgs struct {
	Handle model.ChunkHandle
}

type ReadReply struct {
	Data    []byte
	Version int
	Found   bool
}

type PrepareAppendArgs struct {
	TxnID     uuid.UUID
	Handle    model.ChunkHandle
	Data      []byte
	CheckSum  int
	CreatedAt time.Time
}

type PrepareAppendReply struct {
	Status Status
	Reason Reason
	Offset int // offset reserved for the payload when READY
}

type CommitAppendArgs struct {
	TxnID uuid.UUID
}

type CommitAppendReply struct {
	Status Status
	Reason Reason
	Offset int // offset the staged payload was applied at
	Length int // chunk length after the commit
}

type AbortAppendArgs struct {
	TxnID uuid.UUID
}

type AbortAppendReply struct {
	Status Status
}

type IChunkServer interface {
	CreateChunk(args *CreateChunkArgs, reply *CreateChunkReply) error
	Write(args *WriteArgs, reply *WriteReply) error
	Append(args *AppendArgs, reply *AppendReply) error
	Read(args *ReadArgs, reply *ReadReply) error
	PrepareAppend(args *PrepareAppendArgs, reply *PrepareAppendReply) error
	CommitAppend(args *CommitAppendArgs, reply *CommitAppendReply) error
	AbortAppend(args *AbortAppendArgs, reply *AbortAppendReply) error
}
