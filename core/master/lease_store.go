package master

import (
	"time"

	"github.com/google/uuid"
	"github.com/pyropy/gfs/core/model"
)

// LeaseStore manages leases. It is not synchronized, callers hold Master.mu.
type LeaseStore struct {
	Leases map[model.ChunkHandle]model.Lease
}

func NewLeaseStore() *LeaseStore {
	return &LeaseStore{
		Leases: map[model.ChunkHandle]model.Lease{},
	}
}

// GetHolder returns lease holder for chunk handle if any
func (ls *LeaseStore) GetHolder(handle model.ChunkHandle) (model.Lease, bool) {
	lease, exists := ls.Leases[handle]
	return lease, exists
}

// HaveLease checks if there is an unexpired lease over the chunk
func (ls *LeaseStore) HaveLease(handle model.ChunkHandle, now time.Time) bool {
	lease, leaseExists := ls.Leases[handle]
	if !leaseExists {
		return false
	}

	return !lease.IsExpired(now)
}

// GrantLease grants lease over chunk for period of time
func (ls *LeaseStore) GrantLease(handle model.ChunkHandle, primary uuid.UUID, now time.Time, validFor time.Duration) model.Lease {
	lease := model.Lease{
		Handle:     handle,
		Primary:    primary,
		ValidUntil: now.Add(validFor),
	}

	ls.Leases[handle] = lease
	return lease
}
