package chunkserver

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pyropy/gfs/core/constants"
	"github.com/pyropy/gfs/core/model"
	"github.com/pyropy/gfs/lib/cache"
	"github.com/pyropy/gfs/lib/checksum"
	chunkServerRPC "github.com/pyropy/gfs/rpc/chunkserver"
)

type stagedAppend struct {
	handle    model.ChunkHandle
	data      []byte
	offset    int
	createdAt time.Time
}

// CommittedAppend is where a committed transaction landed in its chunk.
type CommittedAppend struct {
	Offset int
	Length int
}

// TxnStore holds staged append payloads and remembers committed transaction ids
// for at least the transaction timeout.
type TxnStore struct {
	mu        sync.Mutex
	staged    map[uuid.UUID]stagedAppend
	committed *cache.LRU[uuid.UUID, CommittedAppend]
	timeout   time.Duration
	now       func() time.Time
}

func NewTxnStore(timeout time.Duration, now func() time.Time) *TxnStore {
	if timeout <= 0 {
		timeout = constants.TRANSACTION_TIMEOUT
	}

	committed := cache.NewLRU[uuid.UUID, CommittedAppend](constants.PROCESSED_REQUESTS_WINDOW, 2*timeout)
	committed.SetClock(now)

	return &TxnStore{
		staged:    map[uuid.UUID]stagedAppend{},
		committed: committed,
		timeout:   timeout,
		now:       now,
	}
}

func (ts *TxnStore) expired(createdAt time.Time) bool {
	return ts.now().Sub(createdAt) > ts.timeout
}

// Staged reports whether payload for txnID is waiting for commit.
func (ts *TxnStore) Staged(txnID uuid.UUID) bool {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	_, exists := ts.staged[txnID]
	return exists
}

// reservedEnd is the end of the last live reservation on handle, or length when
// there is none. Expired reservations are dropped.
func (ts *TxnStore) reservedEnd(handle model.ChunkHandle, length int, except uuid.UUID) int {
	end := length
	for id, staged := range ts.staged {
		if staged.handle != handle || id == except {
			continue
		}
		if ts.expired(staged.createdAt) {
			delete(ts.staged, id)
			continue
		}
		end = max(end, staged.offset+len(staged.data))
	}

	return end
}

// pendingBefore reports whether a live reservation on handle starts before
// offset and has not committed yet.
func (ts *TxnStore) pendingBefore(handle model.ChunkHandle, offset int, except uuid.UUID) bool {
	for id, staged := range ts.staged {
		if staged.handle != handle || id == except || ts.expired(staged.createdAt) {
			continue
		}
		if staged.offset < offset {
			return true
		}
	}

	return false
}

// Discard drops any staged payload for txnID.
func (ts *TxnStore) Discard(txnID uuid.UUID) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	delete(ts.staged, txnID)
}

// PrepareAppend validates and stages data for txnID and reserves the chunk
// offset it will be committed at. Reservations on a chunk follow each other
// from its logical end. Staging the same id again replaces its reservation.
func (c *ChunkServer) PrepareAppend(txnID uuid.UUID, handle model.ChunkHandle, data []byte, sum int, createdAt time.Time) (chunkServerRPC.Status, chunkServerRPC.Reason, int) {
	ts := c.txns
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if _, committed := ts.committed.Peek(txnID); committed {
		return chunkServerRPC.StatusAbort, chunkServerRPC.ReasonAlreadyCommitted, 0
	}

	if ts.expired(createdAt) {
		return chunkServerRPC.StatusAbort, chunkServerRPC.ReasonTimeout, 0
	}

	chunk, exists := c.GetChunk(handle)
	if !exists {
		return chunkServerRPC.StatusAbort, chunkServerRPC.ReasonInvalidChunk, 0
	}

	if !checksum.Verify(data, sum) {
		return chunkServerRPC.StatusAbort, chunkServerRPC.ReasonChecksumMismatch, 0
	}

	offset := ts.reservedEnd(handle, chunk.Length, txnID)
	if offset+len(data) > c.chunkSize {
		return chunkServerRPC.StatusAbort, chunkServerRPC.ReasonChunkFull, 0
	}

	ts.staged[txnID] = stagedAppend{
		handle:    handle,
		data:      data,
		offset:    offset,
		createdAt: createdAt,
	}

	log.Debugw("append txn", "status", "prepared", "txnID", txnID, "handle", handle, "offset", offset, "length", len(data))
	return chunkServerRPC.StatusReady, "", offset
}

type CommitResult struct {
	Status chunkServerRPC.Status
	Reason chunkServerRPC.Reason
	CommittedAppend
}

func abortCommit(reason chunkServerRPC.Reason) CommitResult {
	return CommitResult{Status: chunkServerRPC.StatusAbort, Reason: reason}
}

// CommitAppend applies the payload staged for txnID at its reserved offset and
// pads the chunk file to the next block boundary. The reserved offset must be
// the logical end of the chunk. While an earlier reservation is still staged
// the commit answers OFFSET_PENDING and stays staged, any other gap aborts it.
func (c *ChunkServer) CommitAppend(ctx context.Context, txnID uuid.UUID) (CommitResult, error) {
	return submit(ctx, c.queue, func() (CommitResult, error) {
		ts := c.txns
		ts.mu.Lock()
		defer ts.mu.Unlock()

		if prior, committed := ts.committed.Get(txnID); committed {
			res := abortCommit(chunkServerRPC.ReasonAlreadyCommitted)
			res.CommittedAppend = prior
			return res, nil
		}

		staged, exists := ts.staged[txnID]
		if !exists {
			return abortCommit(chunkServerRPC.ReasonInvalidTransaction), nil
		}

		if ts.expired(staged.createdAt) {
			delete(ts.staged, txnID)
			return abortCommit(chunkServerRPC.ReasonTimeout), nil
		}

		chunk, exists := c.GetChunk(staged.handle)
		if !exists {
			delete(ts.staged, txnID)
			return abortCommit(chunkServerRPC.ReasonInvalidChunk), nil
		}

		offset := staged.offset
		if offset != chunk.Length {
			if offset > chunk.Length && ts.pendingBefore(staged.handle, offset, txnID) {
				return abortCommit(chunkServerRPC.ReasonOffsetPending), nil
			}

			delete(ts.staged, txnID)
			log.Warnw("append txn", "status", "reservation lost", "txnID", txnID, "handle", staged.handle, "offset", offset, "length", chunk.Length)
			return abortCommit(chunkServerRPC.ReasonOffsetMismatch), nil
		}

		end := offset + len(staged.data)
		if end > c.chunkSize {
			delete(ts.staged, txnID)
			return abortCommit(chunkServerRPC.ReasonChunkFull), nil
		}

		if _, err := c.WriteChunkBytes(staged.handle, staged.data, offset); err != nil {
			return CommitResult{}, err
		}

		if err := c.PadChunk(staged.handle, end, c.paddedLength(end)); err != nil {
			return CommitResult{}, err
		}

		chunk.Length = end
		chunk.Version++
		if err := c.store.SaveChunk(ctx, chunk); err != nil {
			return CommitResult{}, err
		}

		c.AddChunk(chunk)
		delete(ts.staged, txnID)

		applied := CommittedAppend{Offset: offset, Length: end}
		ts.committed.Put(txnID, applied)

		log.Debugw("append txn", "status", "committed", "txnID", txnID, "handle", staged.handle, "offset", offset)
		return CommitResult{Status: chunkServerRPC.StatusCommitted, CommittedAppend: applied}, nil
	})
}

// paddedLength rounds length up to the block size without passing the chunk size.
func (c *ChunkServer) paddedLength(length int) int {
	padded := (length + c.blockSize - 1) / c.blockSize * c.blockSize
	return min(padded, c.chunkSize)
}

// AbortAppend discards any payload staged for txnID.
func (c *ChunkServer) AbortAppend(txnID uuid.UUID) chunkServerRPC.Status {
	c.txns.Discard(txnID)
	log.Debugw("append txn", "status", "aborted", "txnID", txnID)

	return chunkServerRPC.StatusAborted
}
