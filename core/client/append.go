package client

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/pyropy/gfs/core/model"
	"github.com/pyropy/gfs/lib/checksum"
	"github.com/pyropy/gfs/rpc/chunkserver"
	"github.com/pyropy/gfs/rpc/master"
)

var (
	ErrAppendAborted = errors.New("append aborted")
	ErrPartialCommit = errors.New("append committed on some replicas only")

	errChunkFull      = errors.New("chunk full")
	errOffsetConflict = errors.New("replicas reserved different offsets")
)

const (
	appendAttempts      = 5
	commitRetryInterval = 5 * time.Millisecond
)

// PartialCommitError carries the transaction of an append that committed on
// some replicas and failed on others. Committed replicas are not rolled back.
type PartialCommitError struct {
	Txn *model.AppendTransaction
}

func (e *PartialCommitError) Error() string {
	return fmt.Sprintf("txn %s: %d of %d replicas committed: %s", e.Txn.ID, len(e.Txn.Committed), len(e.Txn.Prepared), ErrPartialCommit)
}

func (e *PartialCommitError) Unwrap() error {
	return ErrPartialCommit
}

// AppendCoordinated appends data to the last chunk of path with a two phase
// commit across its replicas and returns the file offset it landed at. When
// the chunk has no room the append moves to the next chunk once. A transaction
// that loses its offset to a concurrent append is retried with a new one.
func (c *Client) AppendCoordinated(ctx context.Context, path string, data []byte) (int, error) {
	var last master.GetLastChunkReply
	if err := c.callMaster(ctx, "GetLastChunk", &master.GetLastChunkArgs{Path: path}, &last); err != nil {
		return 0, err
	}

	locations := last.Locations
	movedOn := false
	for attempt := 1; ; attempt++ {
		offset, err := c.appendToChunk(ctx, locations, data)
		switch {
		case err == nil:
			fileOffset := locations.Index*c.chunkSize + offset
			if err := c.updateFileLength(ctx, path, fileOffset+len(data)); err != nil {
				return fileOffset, err
			}
			return fileOffset, nil

		case errors.Is(err, errChunkFull) && !movedOn:
			log.Infow("append", "status", "chunk full, moving to next chunk", "path", path, "index", locations.Index)

			var next master.AllocateChunkReply
			args := &master.AllocateChunkArgs{Path: path, Index: locations.Index + 1}
			if err := c.callMaster(ctx, "AllocateChunk", args, &next); err != nil {
				return 0, err
			}

			movedOn = true
			locations = next.Locations
			c.locations.Put(path, locations)

		case errors.Is(err, errChunkFull):
			return 0, fmt.Errorf("append %s: %w: %s", path, ErrAppendAborted, err)

		case errors.Is(err, errOffsetConflict) && attempt < appendAttempts:
			log.Infow("append", "status", "offset conflict, retrying", "path", path, "attempt", attempt)
			backoff := time.Duration(rand.Intn(10*attempt)+1) * time.Millisecond
			if err := sleep(ctx, backoff); err != nil {
				return 0, err
			}

		default:
			return 0, err
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// appendToChunk runs one transaction against the replicas of a chunk and
// returns the chunk offset of the appended data.
func (c *Client) appendToChunk(ctx context.Context, locations master.ChunkLocations, data []byte) (int, error) {
	txn := model.NewAppendTransaction(locations.Handle, data, c.now())
	replicas := make([]uuid.UUID, 0, len(locations.Replicas))
	for _, r := range locations.Replicas {
		replicas = append(replicas, r.ID)
	}

	prepareArgs := &chunkserver.PrepareAppendArgs{
		TxnID:     txn.ID,
		Handle:    locations.Handle,
		Data:      data,
		CheckSum:  checksum.CalculateCheckSum(data),
		CreatedAt: txn.CreatedAt,
	}

	chunkFull := false
	reserved := -1
	conflict := false
	var reasons []string
	for _, replica := range locations.Replicas {
		var reply chunkserver.PrepareAppendReply
		if err := callChunkServer(ctx, replica.Address, "PrepareAppend", prepareArgs, &reply); err != nil {
			log.Warnw("append", "status", "prepare failed", "txnID", txn.ID, "chunkServerID", replica.ID, "error", err)
			reasons = append(reasons, err.Error())
			continue
		}

		if reply.Status != chunkserver.StatusReady {
			log.Infow("append", "status", "replica not ready", "txnID", txn.ID, "chunkServerID", replica.ID, "reason", reply.Reason)
			reasons = append(reasons, string(reply.Reason))
			chunkFull = chunkFull || reply.Reason == chunkserver.ReasonChunkFull
			continue
		}

		if reserved >= 0 && reply.Offset != reserved {
			log.Infow("append", "status", "reserved offsets differ", "txnID", txn.ID, "chunkServerID", replica.ID, "offset", reply.Offset, "expected", reserved)
			conflict = true
			continue
		}

		reserved = reply.Offset
		txn.RecordPrepared(replica.ID)
	}

	if conflict {
		c.abortAll(ctx, txn, locations)
		return 0, fmt.Errorf("txn %s: %w: %w", txn.ID, ErrAppendAborted, errOffsetConflict)
	}

	if err := txn.MarkPrepared(replicas); err != nil {
		c.abortAll(ctx, txn, locations)
		if chunkFull {
			return 0, errChunkFull
		}

		return 0, fmt.Errorf("txn %s: %w: %v", txn.ID, ErrAppendAborted, reasons)
	}

	lost := 0
	commitArgs := &chunkserver.CommitAppendArgs{TxnID: txn.ID}
	for _, replica := range locations.Replicas {
		reply, err := commitReplica(ctx, replica, commitArgs)
		if err != nil {
			log.Errorw("append", "status", "commit failed", "txnID", txn.ID, "chunkServerID", replica.ID, "error", err)
			continue
		}

		applied := reply.Status == chunkserver.StatusCommitted ||
			(reply.Status == chunkserver.StatusAbort && reply.Reason == chunkserver.ReasonAlreadyCommitted)
		if !applied {
			log.Errorw("append", "status", "commit rejected", "txnID", txn.ID, "chunkServerID", replica.ID, "reason", reply.Reason)
			if reply.Reason == chunkserver.ReasonOffsetMismatch {
				lost++
			}
			continue
		}

		if reply.Offset != reserved {
			log.Errorw("append", "status", "committed away from reservation", "txnID", txn.ID, "chunkServerID", replica.ID, "offset", reply.Offset, "expected", reserved)
			continue
		}

		txn.RecordCommitted(replica.ID)
	}

	switch {
	case txn.Status == model.TxnCommitted:
		return reserved, nil
	case len(txn.Committed) == 0 && lost == len(locations.Replicas):
		c.abortAll(ctx, txn, locations)
		return 0, fmt.Errorf("txn %s: %w: %w", txn.ID, ErrAppendAborted, errOffsetConflict)
	case len(txn.Committed) == 0:
		c.abortAll(ctx, txn, locations)
		return 0, fmt.Errorf("txn %s: %w: no replica committed", txn.ID, ErrAppendAborted)
	default:
		return 0, &PartialCommitError{Txn: txn}
	}
}

// commitReplica commits on one replica, waiting while earlier reservations on
// the chunk are still staged there.
func commitReplica(ctx context.Context, replica master.Replica, args *chunkserver.CommitAppendArgs) (chunkserver.CommitAppendReply, error) {
	for {
		var reply chunkserver.CommitAppendReply
		if err := callChunkServer(ctx, replica.Address, "CommitAppend", args, &reply); err != nil {
			return reply, err
		}

		if reply.Status != chunkserver.StatusAbort || reply.Reason != chunkserver.ReasonOffsetPending {
			return reply, nil
		}

		if err := sleep(ctx, commitRetryInterval); err != nil {
			return reply, err
		}
	}
}

func (c *Client) abortAll(ctx context.Context, txn *model.AppendTransaction, locations master.ChunkLocations) {
	args := &chunkserver.AbortAppendArgs{TxnID: txn.ID}
	for _, replica := range locations.Replicas {
		var reply chunkserver.AbortAppendReply
		if err := callChunkServer(ctx, replica.Address, "AbortAppend", args, &reply); err != nil {
			log.Warnw("append", "status", "abort failed", "txnID", txn.ID, "chunkServerID", replica.ID, "error", err)
		}
	}

	if err := txn.Abort(); err != nil {
		log.Warnw("append", "status", "abort", "txnID", txn.ID, "error", err)
	}
}
