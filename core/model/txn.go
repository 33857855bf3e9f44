package model

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

type TxnStatus int

const (
	TxnInit TxnStatus = iota
	TxnPrepared
	TxnCommitted
	TxnAborted
)

func (s TxnStatus) String() string {
	switch s {
	case TxnInit:
		return "INIT"
	case TxnPrepared:
		return "PREPARED"
	case TxnCommitted:
		return "COMMITTED"
	case TxnAborted:
		return "ABORTED"
	default:
		return "UNKNOWN"
	}
}

var (
	ErrInvalidTransition = errors.New("invalid transaction status transition")
	ErrNotFullyPrepared  = errors.New("transaction is not prepared on every replica")
)

// AppendTransaction tracks an exactly once append across the replicas of a chunk.
// Status only moves forward: INIT -> PREPARED -> COMMITTED, or INIT/PREPARED -> ABORTED.
type AppendTransaction struct {
	ID        uuid.UUID
	Handle    ChunkHandle
	Data      []byte
	Status    TxnStatus
	Prepared  map[uuid.UUID]struct{}
	Committed map[uuid.UUID]struct{}
	CreatedAt time.Time
}

func NewAppendTransaction(handle ChunkHandle, data []byte, createdAt time.Time) *AppendTransaction {
	return &AppendTransaction{
		ID:        uuid.New(),
		Handle:    handle,
		Data:      data,
		Status:    TxnInit,
		Prepared:  map[uuid.UUID]struct{}{},
		Committed: map[uuid.UUID]struct{}{},
		CreatedAt: createdAt,
	}
}

// Expired reports whether the transaction outlived timeout.
func (t *AppendTransaction) Expired(now time.Time, timeout time.Duration) bool {
	return now.Sub(t.CreatedAt) > timeout
}

// RecordPrepared records a READY vote from server.
func (t *AppendTransaction) RecordPrepared(server uuid.UUID) error {
	if t.Status != TxnInit {
		return ErrInvalidTransition
	}

	t.Prepared[server] = struct{}{}
	return nil
}

// MarkPrepared moves the transaction to PREPARED once every replica voted READY.
func (t *AppendTransaction) MarkPrepared(replicas []uuid.UUID) error {
	if t.Status != TxnInit {
		return ErrInvalidTransition
	}

	for _, r := range replicas {
		if _, ok := t.Prepared[r]; !ok {
			return ErrNotFullyPrepared
		}
	}

	t.Status = TxnPrepared
	return nil
}

// RecordCommitted records a successful commit on server. The transaction becomes
// COMMITTED once every prepared server committed.
func (t *AppendTransaction) RecordCommitted(server uuid.UUID) error {
	if t.Status != TxnPrepared {
		return ErrInvalidTransition
	}

	if _, ok := t.Prepared[server]; !ok {
		return ErrInvalidTransition
	}

	t.Committed[server] = struct{}{}
	if len(t.Committed) == len(t.Prepared) {
		t.Status = TxnCommitted
	}

	return nil
}

// PartiallyCommitted reports whether some but not all prepared servers committed.
func (t *AppendTransaction) PartiallyCommitted() bool {
	return t.Status == TxnPrepared && len(t.Committed) > 0 && len(t.Committed) < len(t.Prepared)
}

// Abort moves the transaction to ABORTED. A transaction with committed replicas
// cannot be aborted.
func (t *AppendTransaction) Abort() error {
	if t.Status == TxnAborted {
		return nil
	}

	if t.Status == TxnCommitted || len(t.Committed) > 0 {
		return ErrInvalidTransition
	}

	t.Status = TxnAborted
	return nil
}
