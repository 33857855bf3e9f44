package model

import (
	"time"

	"github.com/google/uuid"
)

// Lease grants primary authority over a chunk until ValidUntil.
// Leases carry no fencing token, a primary may keep accepting writes
// after its lease nominally expired.
type Lease struct {
	Handle     ChunkHandle
	Primary    uuid.UUID
	ValidUntil time.Time
}

func (l *Lease) IsExpired(now time.Time) bool {
	return !l.ValidUntil.After(now)
}
